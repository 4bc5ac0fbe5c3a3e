package htnode_test

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/histree/pkg/htnode"
	"github.com/Sumatoshi-tech/histree/pkg/interval"
)

// threeIntervalBlock fits exactly three one-letter string intervals per leaf.
const threeIntervalBlock = 130

func testConfig() htnode.Config {
	return htnode.Config{BlockSize: threeIntervalBlock, MaxChildren: 3}
}

func letter(attr interval.Quark, start, end int64, s string) interval.Interval {
	return interval.Interval{Attribute: attr, Start: start, End: end, Value: interval.String(s)}
}

func collect(seq func(func(interval.Interval) bool)) []interval.Interval {
	var out []interval.Interval

	for iv := range seq {
		out = append(out, iv)
	}

	return out
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, testConfig().Validate())

	err := htnode.Config{BlockSize: 64, MaxChildren: 3}.Validate()
	require.ErrorIs(t, err, htnode.ErrBlockTooSmall)

	err = htnode.Config{BlockSize: 4096, MaxChildren: 1}.Validate()
	require.ErrorIs(t, err, htnode.ErrInvalidMaxChildren)
}

func TestTryAddInterval_OverflowLeavesNodeUntouched(t *testing.T) {
	t.Parallel()

	leaf := htnode.NewLeaf(testConfig(), 0, htnode.NoParent, 0)

	require.True(t, leaf.TryAddInterval(letter(1, 0, 9, "A")))
	require.True(t, leaf.TryAddInterval(letter(1, 10, 19, "B")))
	require.True(t, leaf.TryAddInterval(letter(1, 20, 29, "C")))

	used := leaf.UsedBytes()

	assert.False(t, leaf.TryAddInterval(letter(1, 30, 39, "D")))
	assert.Equal(t, 3, leaf.IntervalCount())
	assert.Equal(t, used, leaf.UsedBytes())
	assert.Equal(t, int64(29), leaf.End())
	assert.LessOrEqual(t, leaf.UsedBytes(), threeIntervalBlock)
}

func TestSealedNode_RejectsMutation(t *testing.T) {
	t.Parallel()

	leaf := htnode.NewLeaf(testConfig(), 0, htnode.NoParent, 0)
	leaf.Seal(5)

	assert.True(t, leaf.IsSealed())
	assert.Panics(t, func() { leaf.TryAddInterval(letter(1, 6, 7, "x")) })
	assert.Panics(t, func() { leaf.Seal(9) })

	core := htnode.NewCore(testConfig(), 1, htnode.NoParent, 0)
	core.Seal(5)

	assert.Panics(t, func() { core.AddChild(htnode.Child{Sequence: 2}) })
}

func TestSeal_OrdersByEndAndKeepsLatestEnd(t *testing.T) {
	t.Parallel()

	leaf := htnode.NewLeaf(htnode.Config{BlockSize: 4096, MaxChildren: 3}, 0, htnode.NoParent, 0)
	leaf.TryAddInterval(letter(1, 0, 50, "a"))
	leaf.TryAddInterval(letter(2, 0, 10, "b"))
	leaf.TryAddInterval(letter(3, 0, 30, "c"))

	leaf.Seal(20)

	assert.Equal(t, int64(50), leaf.End(), "seal never cuts stored intervals")

	ends := make([]int64, 0, leaf.IntervalCount())
	for _, iv := range leaf.Intervals() {
		ends = append(ends, iv.End)
	}

	assert.True(t, slices.IsSorted(ends))
}

func TestIntervalsAt(t *testing.T) {
	t.Parallel()

	for _, sealed := range []bool{false, true} {
		leaf := htnode.NewLeaf(htnode.Config{BlockSize: 4096, MaxChildren: 3}, 0, htnode.NoParent, 0)
		leaf.TryAddInterval(letter(1, 0, 9, "A"))
		leaf.TryAddInterval(letter(2, 0, 20, "X"))
		leaf.TryAddInterval(letter(1, 10, 19, "B"))

		if sealed {
			leaf.Seal(20)
		}

		got := collect(leaf.IntervalsAt(10))
		require.Len(t, got, 2, "sealed=%v", sealed)

		got = collect(leaf.IntervalsIn(0, 5))
		require.Len(t, got, 2, "sealed=%v", sealed)

		assert.Empty(t, collect(leaf.IntervalsAt(21)))
	}
}

func TestAddChild_Full(t *testing.T) {
	t.Parallel()

	core := htnode.NewCore(testConfig(), 0, htnode.NoParent, 0)

	for i := range 3 {
		require.True(t, core.AddChild(htnode.Child{Sequence: int32(i + 1), Start: int64(i * 10), End: htnode.OpenEnd}))
	}

	assert.True(t, core.IsFull())
	assert.False(t, core.AddChild(htnode.Child{Sequence: 9, Start: 40, End: htnode.OpenEnd}))
	assert.Equal(t, 3, core.ChildCount())
}

func TestAddChild_OnLeafPanics(t *testing.T) {
	t.Parallel()

	leaf := htnode.NewLeaf(testConfig(), 0, htnode.NoParent, 0)

	assert.Panics(t, func() { leaf.AddChild(htnode.Child{Sequence: 1}) })
}

func TestChildrenAt(t *testing.T) {
	t.Parallel()

	core := htnode.NewCore(testConfig(), 0, htnode.NoParent, 0)
	core.AddChild(htnode.Child{Sequence: 1, Start: 0, End: htnode.OpenEnd})
	core.SetChildEnd(1, 29)
	core.AddChild(htnode.Child{Sequence: 2, Start: 30, End: htnode.OpenEnd})
	core.SetChildEnd(2, 40)
	core.AddChild(htnode.Child{Sequence: 3, Start: 40, End: htnode.OpenEnd})

	seqs := func(children []htnode.Child) []int32 {
		out := make([]int32, 0, len(children))
		for _, c := range children {
			out = append(out, c.Sequence)
		}

		return out
	}

	assert.Equal(t, []int32{1}, seqs(core.ChildrenAt(25)))
	assert.Equal(t, []int32{2}, seqs(core.ChildrenAt(35)))
	assert.Equal(t, []int32{2, 3}, seqs(core.ChildrenAt(40)), "touching siblings are both candidates")
	assert.Equal(t, []int32{3}, seqs(core.ChildrenAt(1000)), "last child is open ended")
	assert.Empty(t, core.ChildrenAt(-1))
	assert.Equal(t, []int32{1, 2}, seqs(core.ChildrenIn(5, 31)))
	assert.Equal(t, []int32{1, 2, 3}, seqs(core.ChildrenIn(0, 100)))
}

func TestSnapshot_IsolatedFromAppends(t *testing.T) {
	t.Parallel()

	leaf := htnode.NewLeaf(htnode.Config{BlockSize: 4096, MaxChildren: 3}, 0, htnode.NoParent, 0)
	leaf.TryAddInterval(letter(1, 0, 9, "A"))

	snap := leaf.Snapshot()
	leaf.TryAddInterval(letter(1, 10, 19, "B"))

	assert.Equal(t, 1, snap.IntervalCount())
	assert.Equal(t, 2, leaf.IntervalCount())

	leaf.Seal(19)
	assert.Same(t, leaf, leaf.Snapshot())
}

func TestAddChild_RaisesEnd(t *testing.T) {
	t.Parallel()

	core := htnode.NewCore(testConfig(), 5, htnode.NoParent, 0)
	core.AddChild(htnode.Child{Sequence: 1, Start: 0, End: 29})
	assert.Equal(t, int64(29), core.End())

	core.AddChild(htnode.Child{Sequence: 2, Start: 35, End: htnode.OpenEnd})
	assert.Equal(t, int64(35), core.End(), "open child contributes only its start")
}

func TestSetParent(t *testing.T) {
	t.Parallel()

	leaf := htnode.NewLeaf(testConfig(), 0, htnode.NoParent, 0)
	leaf.SetParent(4)
	assert.Equal(t, int32(4), leaf.Parent())

	leaf.Seal(0)
	assert.Panics(t, func() { leaf.SetParent(5) })
}
