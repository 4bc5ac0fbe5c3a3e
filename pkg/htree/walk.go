package htree

import (
	"github.com/Sumatoshi-tech/histree/pkg/htnode"
)

// NodeInfo describes one node visited by Walk.
type NodeInfo struct {
	Kind      htnode.Kind
	Sequence  int32
	Parent    int32
	Start     int64
	End       int64
	Depth     int
	Intervals int
	Children  int
	UsedBytes int
	Sealed    bool
}

// Walk visits every node reachable from the root depth first, children in
// time order. It stops at the first error returned by fn.
func (t *Tree) Walk(fn func(NodeInfo) error) error {
	v := t.snapshot()

	type frame struct {
		seq   int32
		depth int
	}

	stack := []frame{{seq: v.root}}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		node, err := t.node(v, top.seq)
		if err != nil {
			return err
		}

		err = fn(NodeInfo{
			Kind:      node.Kind(),
			Sequence:  node.Sequence(),
			Parent:    node.Parent(),
			Start:     node.Start(),
			End:       node.End(),
			Depth:     top.depth,
			Intervals: node.IntervalCount(),
			Children:  node.ChildCount(),
			UsedBytes: node.UsedBytes(),
			Sealed:    node.IsSealed(),
		})
		if err != nil {
			return err
		}

		children := node.Children()
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, frame{seq: children[i].Sequence, depth: top.depth + 1})
		}
	}

	return nil
}

// Height returns the number of levels from the root to the leaves.
func (t *Tree) Height() (int, error) {
	v := t.snapshot()
	height := 1
	seq := v.root

	for {
		node, err := t.node(v, seq)
		if err != nil {
			return 0, err
		}

		children := node.Children()
		if node.Kind() == htnode.KindLeaf || len(children) == 0 {
			return height, nil
		}

		height++
		seq = children[0].Sequence
	}
}
