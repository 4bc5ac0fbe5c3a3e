package htree

import (
	"errors"
	"fmt"
	"math"

	"github.com/Sumatoshi-tech/histree/pkg/htnode"
	"github.com/Sumatoshi-tech/histree/pkg/interval"
	"github.com/Sumatoshi-tech/histree/pkg/safeconv"
)

// Insert appends iv to the active leaf, splitting it when full. Every check
// runs before the first mutation, so a rejected interval leaves the tree
// unchanged. The tree keeps its own copy of the payload.
func (t *Tree) Insert(iv interval.Interval) error {
	err := iv.Validate()
	if err != nil {
		if errors.Is(err, interval.ErrPayloadTooLarge) {
			return fmt.Errorf("%w: %w", ErrOverflow, err)
		}

		return err
	}

	iv.Value = interval.Clone(iv.Value)

	if !t.cfg.Fits(htnode.KindLeaf, iv) {
		return fmt.Errorf("%w: interval needs %d bytes, leaf holds %d",
			ErrOverflow, iv.EncodedSize(), t.cfg.IntervalCapacity(htnode.KindLeaf))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	err = t.checkWritable()
	if err != nil {
		return err
	}

	if iv.Start < t.header.TreeEnd {
		return fmt.Errorf("%w: start %d, tree end %d", ErrOrdering, iv.Start, t.header.TreeEnd)
	}

	leaf := t.spine[len(t.spine)-1]

	if !leaf.TryAddInterval(iv) {
		leaf, err = t.split(iv)
		if err != nil {
			return err
		}

		if !leaf.TryAddInterval(iv) {
			panic(fmt.Sprintf("htree: fresh leaf %d rejected %s", leaf.Sequence(), iv))
		}
	}

	t.header.TreeEnd = max(t.header.TreeEnd, iv.End)

	return nil
}

// split seals the active leaf and every full core node above it, grows a
// new root when the whole spine is full, and links a fresh chain of open
// nodes down to leaf depth. It returns the new active leaf.
func (t *Tree) split(iv interval.Interval) (*htnode.Node, error) {
	depth := len(t.spine)

	// keep is the deepest core node with a free child slot, -1 if none.
	keep := -1

	for i := depth - 2; i >= 0; i-- {
		if !t.spine[i].IsFull() {
			keep = i

			break
		}
	}

	newRoot := keep < 0
	levels := depth - 1 - keep

	start := t.policy(BranchContext{
		Interval:  iv,
		TreeEnd:   t.header.TreeEnd,
		SealedEnd: t.spine[depth-1].End(),
		Levels:    levels,
		NewRoot:   newRoot,
	})
	if start < t.header.TreeEnd || start > iv.Start {
		return nil, fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidBranchStart, start, t.header.TreeEnd, iv.Start)
	}

	if int64(t.header.NodeCount)+int64(levels)+1 > math.MaxInt32 {
		return nil, fmt.Errorf("%w: node sequence space exhausted", ErrOverflow)
	}

	var root *htnode.Node

	if newRoot {
		old := t.spine[0]
		root = htnode.NewCore(t.cfg, t.nextSequence(), htnode.NoParent, old.Start())
		old.SetParent(root.Sequence())
		root.AddChild(htnode.Child{Sequence: old.Sequence(), Start: old.Start(), End: htnode.OpenEnd})
		t.cache.Pin(root)
	}

	for i := depth - 1; i > keep; i-- {
		node := t.spine[i]
		node.Seal(node.End())

		err := t.cache.PutSealed(node)
		if err != nil {
			t.broken = err

			return nil, err
		}

		parent := root
		if i > 0 {
			parent = t.spine[i-1]
		}

		parent.SetChildEnd(node.Sequence(), node.End())
	}

	spine := make([]*htnode.Node, 0, depth+1)
	if newRoot {
		spine = append(spine, root)
	} else {
		spine = append(spine, t.spine[:keep+1]...)
	}

	for i := range levels {
		parent := spine[len(spine)-1]
		seq := t.nextSequence()

		var node *htnode.Node
		if i == levels-1 {
			node = htnode.NewLeaf(t.cfg, seq, parent.Sequence(), start)
		} else {
			node = htnode.NewCore(t.cfg, seq, parent.Sequence(), start)
		}

		if !parent.AddChild(htnode.Child{Sequence: seq, Start: start, End: htnode.OpenEnd}) {
			panic(fmt.Sprintf("htree: node %d has no room for child %d", parent.Sequence(), seq))
		}

		t.cache.Pin(node)
		spine = append(spine, node)
	}

	t.spine = spine

	if newRoot {
		t.header.RootSequence = root.Sequence()
		t.logger.Info("history tree branch created",
			"root", root.Sequence(), "height", len(spine), "branch_start", start)
	}

	if t.onSplit != nil {
		t.onSplit(SplitEvent{BranchStart: start, NewNodes: levels, Height: len(spine), NewRoot: newRoot})
	}

	return spine[len(spine)-1], nil
}

// nextSequence hands out the next block index.
func (t *Tree) nextSequence() int32 {
	seq := safeconv.MustIntToInt32(t.header.NodeCount)
	t.header.NodeCount++

	return seq
}
