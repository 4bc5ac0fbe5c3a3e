package htree

import (
	"cmp"
	"iter"
	"slices"

	"github.com/Sumatoshi-tech/histree/pkg/htnode"
	"github.com/Sumatoshi-tech/histree/pkg/interval"
)

// AnyAttribute matches every attribute in QueryRange.
const AnyAttribute interval.Quark = -1

// view is a consistent read position: the open spine as snapshots plus the
// bounds at the moment it was taken. Nodes outside the spine were sealed
// before the view existed and are immutable.
type view struct {
	open  map[int32]*htnode.Node
	root  int32
	start int64
	end   int64
}

func (t *Tree) snapshot() view {
	t.mu.RLock()
	defer t.mu.RUnlock()

	v := view{root: t.header.RootSequence, start: t.header.TreeStart, end: t.header.TreeEnd}

	if len(t.spine) > 0 {
		v.open = make(map[int32]*htnode.Node, len(t.spine))

		for _, node := range t.spine {
			v.open[node.Sequence()] = node.Snapshot()
		}
	}

	return v
}

func (t *Tree) node(v view, seq int32) (*htnode.Node, error) {
	if node, ok := v.open[seq]; ok {
		return node, nil
	}

	return t.cache.Get(seq)
}

// Query returns the interval of attr containing ts. When two intervals
// touch at ts the one with the later start wins. Returned payloads are
// copies, as are those yielded by QueryRange.
func (t *Tree) Query(attr interval.Quark, ts int64) (interval.Interval, bool, error) {
	v := t.snapshot()

	if ts < v.start || ts > v.end {
		return interval.Interval{}, false, nil
	}

	var (
		best  interval.Interval
		found bool
	)

	stack := []int32{v.root}

	for len(stack) > 0 {
		seq := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		node, err := t.node(v, seq)
		if err != nil {
			return interval.Interval{}, false, err
		}

		for iv := range node.IntervalsAt(ts) {
			if iv.Attribute == attr && (!found || iv.Start > best.Start) {
				best, found = iv, true
			}
		}

		for _, child := range node.ChildrenAt(ts) {
			stack = append(stack, child.Sequence)
		}
	}

	best.Value = interval.Clone(best.Value)

	return best, found, nil
}

// QueryRange lazily yields the intervals of attr, or of every attribute for
// AnyAttribute, that intersect [t0, t1]. Each iteration starts from a fresh
// view, so ranging again restarts the query. A read error is yielded once
// and ends the sequence.
func (t *Tree) QueryRange(attr interval.Quark, t0, t1 int64) iter.Seq2[interval.Interval, error] {
	return func(yield func(interval.Interval, error) bool) {
		if t0 > t1 {
			return
		}

		v := t.snapshot()

		if t1 < v.start || t0 > v.end {
			return
		}

		stack := []int32{v.root}

		for len(stack) > 0 {
			seq := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			node, err := t.node(v, seq)
			if err != nil {
				yield(interval.Interval{}, err)

				return
			}

			for iv := range node.IntervalsIn(t0, t1) {
				if attr != AnyAttribute && iv.Attribute != attr {
					continue
				}

				iv.Value = interval.Clone(iv.Value)

				if !yield(iv, nil) {
					return
				}
			}

			children := node.ChildrenIn(t0, t1)

			// Push in reverse so earlier children are visited first.
			for i := len(children) - 1; i >= 0; i-- {
				stack = append(stack, children[i].Sequence)
			}
		}
	}
}

// QueryAll returns the state of every attribute at ts, ordered by attribute.
func (t *Tree) QueryAll(ts int64) ([]interval.Interval, error) {
	latest := make(map[interval.Quark]interval.Interval)

	for iv, err := range t.QueryRange(AnyAttribute, ts, ts) {
		if err != nil {
			return nil, err
		}

		if cur, ok := latest[iv.Attribute]; !ok || iv.Start > cur.Start {
			latest[iv.Attribute] = iv
		}
	}

	out := make([]interval.Interval, 0, len(latest))
	for _, iv := range latest {
		out = append(out, iv)
	}

	slices.SortFunc(out, func(a, b interval.Interval) int {
		return cmp.Compare(a.Attribute, b.Attribute)
	})

	return out, nil
}
