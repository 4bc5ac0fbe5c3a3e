// Package htnode implements the fixed-size blocks of the history tree.
//
// A Node is either a leaf, holding intervals only, or a core node, holding
// intervals plus an ordered list of children that partition its time range.
// A node is born open and appendable; Seal makes it permanently immutable.
// Every node serializes to exactly Config.BlockSize bytes.
package htnode

import (
	"cmp"
	"errors"
	"fmt"
	"iter"
	"math"
	"slices"
	"sort"

	"github.com/Sumatoshi-tech/histree/pkg/interval"
)

// Kind discriminates leaf and core nodes. The values are part of the on-disk format.
type Kind uint8

// Node kinds.
const (
	KindLeaf Kind = 1
	KindCore Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "leaf"
	case KindCore:
		return "core"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// NoParent is the parent sequence number of a root node.
const NoParent int32 = -1

// OpenEnd is the end time recorded for a child that is not sealed yet.
const OpenEnd int64 = math.MaxInt64

// Sentinel errors.
var (
	ErrBlockTooSmall      = errors.New("block size too small for node headers")
	ErrInvalidMaxChildren = errors.New("max children must be at least 2")
)

// Config holds the geometry shared by every node of a tree.
type Config struct {
	BlockSize   int
	MaxChildren int
}

// Validate checks that a core node header plus one minimal interval fits a block.
func (c Config) Validate() error {
	if c.MaxChildren < 2 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxChildren, c.MaxChildren)
	}

	need := c.HeaderSize(KindCore) + interval.FixedSize
	if c.BlockSize < need {
		return fmt.Errorf("%w: %d bytes, need at least %d for %d children", ErrBlockTooSmall, c.BlockSize, need, c.MaxChildren)
	}

	return nil
}

// HeaderSize returns the number of block bytes a node of the given kind
// reserves before its interval section.
func (c Config) HeaderSize(kind Kind) int {
	if kind == KindCore {
		return commonHeaderSize + childCountSize + c.MaxChildren*childEntrySize
	}

	return commonHeaderSize
}

// IntervalCapacity returns the bytes available for intervals in a node of the given kind.
func (c Config) IntervalCapacity(kind Kind) int {
	return c.BlockSize - c.HeaderSize(kind)
}

// Child is one entry of a core node's child list.
type Child struct {
	Sequence int32
	Start    int64
	// End is the sealed child's end time, or OpenEnd while it is open.
	End int64
}

// Node is a leaf or core block of the history tree.
type Node struct {
	cfg           Config
	intervals     []interval.Interval
	children      []Child
	start         int64
	end           int64
	intervalBytes int
	sequence      int32
	parent        int32
	kind          Kind
	sealed        bool
}

// NewLeaf creates an open, empty leaf.
func NewLeaf(cfg Config, sequence, parent int32, start int64) *Node {
	return &Node{cfg: cfg, kind: KindLeaf, sequence: sequence, parent: parent, start: start, end: start}
}

// NewCore creates an open, empty core node.
func NewCore(cfg Config, sequence, parent int32, start int64) *Node {
	return &Node{
		cfg:      cfg,
		kind:     KindCore,
		sequence: sequence,
		parent:   parent,
		start:    start,
		end:      start,
		children: make([]Child, 0, cfg.MaxChildren),
	}
}

// Kind returns the node kind.
func (n *Node) Kind() Kind { return n.kind }

// Sequence returns the node's sequence number, which is also its block index.
func (n *Node) Sequence() int32 { return n.sequence }

// Parent returns the parent sequence number, or NoParent for a root.
func (n *Node) Parent() int32 { return n.parent }

// Start returns the earliest time this node may hold data for.
func (n *Node) Start() int64 { return n.start }

// End returns the sealed end time, or the latest interval end while open.
func (n *Node) End() int64 { return n.end }

// IsSealed reports whether the node is immutable.
func (n *Node) IsSealed() bool { return n.sealed }

// IntervalCount returns the number of stored intervals.
func (n *Node) IntervalCount() int { return len(n.intervals) }

// ChildCount returns the number of children; always 0 for leaves.
func (n *Node) ChildCount() int { return len(n.children) }

// IsFull reports whether a core node has reached MaxChildren.
func (n *Node) IsFull() bool {
	return n.kind == KindCore && len(n.children) >= n.cfg.MaxChildren
}

// UsedBytes returns the serialized payload size: header plus interval section.
func (n *Node) UsedBytes() int {
	return n.cfg.HeaderSize(n.kind) + n.intervalBytes
}

// Intervals returns the stored intervals. The slice must not be modified.
func (n *Node) Intervals() []interval.Interval {
	return n.intervals[:len(n.intervals):len(n.intervals)]
}

// Children returns a copy of the child list.
func (n *Node) Children() []Child {
	return slices.Clone(n.children)
}

// Fits reports whether iv would fit in an empty node of the given kind.
func (c Config) Fits(kind Kind, iv interval.Interval) bool {
	return iv.EncodedSize() <= c.IntervalCapacity(kind)
}

// TryAddInterval appends iv if the serialized node stays within the block.
// It returns false, leaving the node untouched, on overflow. Calling it on a
// sealed node is a programming error and panics.
func (n *Node) TryAddInterval(iv interval.Interval) bool {
	if n.sealed {
		panic(fmt.Sprintf("htnode: add interval to sealed node %d", n.sequence))
	}

	size := iv.EncodedSize()
	if n.UsedBytes()+size > n.cfg.BlockSize {
		return false
	}

	n.intervals = append(n.intervals, iv)
	n.intervalBytes += size
	n.end = max(n.end, iv.End)

	return true
}

// AddChild links a new child. It returns false when the core node is full.
// Children must be added in non-decreasing start order.
func (n *Node) AddChild(child Child) bool {
	if n.sealed {
		panic(fmt.Sprintf("htnode: add child to sealed node %d", n.sequence))
	}

	if n.kind != KindCore {
		panic(fmt.Sprintf("htnode: add child to leaf node %d", n.sequence))
	}

	if len(n.children) >= n.cfg.MaxChildren {
		return false
	}

	if last := len(n.children) - 1; last >= 0 && child.Start < n.children[last].Start {
		panic(fmt.Sprintf("htnode: child %d starts at %d before sibling start %d",
			child.Sequence, child.Start, n.children[last].Start))
	}

	n.children = append(n.children, child)
	n.end = max(n.end, child.Start)

	if child.End != OpenEnd {
		n.end = max(n.end, child.End)
	}

	return true
}

// SetParent re-links an open node, used when a new root adopts the old one.
func (n *Node) SetParent(parent int32) {
	if n.sealed {
		panic(fmt.Sprintf("htnode: re-parent sealed node %d", n.sequence))
	}

	n.parent = parent
}

// SetChildEnd records the end time of a child that has just been sealed.
func (n *Node) SetChildEnd(sequence int32, end int64) {
	if n.sealed {
		panic(fmt.Sprintf("htnode: update child of sealed node %d", n.sequence))
	}

	for i := len(n.children) - 1; i >= 0; i-- {
		if n.children[i].Sequence == sequence {
			n.children[i].End = end
			n.end = max(n.end, end)

			return
		}
	}

	panic(fmt.Sprintf("htnode: node %d has no child %d", n.sequence, sequence))
}

// Seal closes the node at endTime (raised to the latest stored interval end
// if needed) and orders its intervals by end time. Sealing twice panics.
func (n *Node) Seal(endTime int64) {
	if n.sealed {
		panic(fmt.Sprintf("htnode: node %d sealed twice", n.sequence))
	}

	n.end = max(endTime, n.end, n.start)
	n.sealed = true

	// Sort a copy: snapshots taken while open may still share the old array.
	sorted := slices.Clone(n.intervals)
	slices.SortStableFunc(sorted, func(a, b interval.Interval) int {
		return cmp.Compare(a.End, b.End)
	})

	n.intervals = sorted
}

// Snapshot returns a view of the node that stays consistent while the
// original keeps receiving appends. Sealed nodes are returned as is.
func (n *Node) Snapshot() *Node {
	if n.sealed {
		return n
	}

	cp := *n
	cp.intervals = n.Intervals()
	cp.children = slices.Clone(n.children)

	return &cp
}

// firstEndingAtOrAfter returns the index of the first interval whose end is
// >= t. Only valid on sealed nodes, whose intervals are ordered by end.
func (n *Node) firstEndingAtOrAfter(t int64) int {
	return sort.Search(len(n.intervals), func(i int) bool {
		return n.intervals[i].End >= t
	})
}

// IntervalsAt yields the stored intervals containing t.
func (n *Node) IntervalsAt(t int64) iter.Seq[interval.Interval] {
	return n.IntervalsIn(t, t)
}

// IntervalsIn yields the stored intervals intersecting [t0, t1].
func (n *Node) IntervalsIn(t0, t1 int64) iter.Seq[interval.Interval] {
	return func(yield func(interval.Interval) bool) {
		from := 0
		if n.sealed {
			from = n.firstEndingAtOrAfter(t0)
		}

		for _, iv := range n.intervals[from:] {
			if iv.Intersects(t0, t1) && !yield(iv) {
				return
			}
		}
	}
}

// ChildrenAt returns the children whose time range can contain t. This is
// the child bracketing t by start times and, at a boundary shared by two
// siblings, also the earlier sibling whose sealed end equals t. Intervals may
// touch at one instant, so both siblings can hold an interval containing t
// and a single-child descent would miss one of them.
func (n *Node) ChildrenAt(t int64) []Child {
	return n.ChildrenIn(t, t)
}

// ChildrenIn returns the children whose time range overlaps [t0, t1]. A child
// covers [Start, next sibling Start) and, when sealed, also up to its End.
func (n *Node) ChildrenIn(t0, t1 int64) []Child {
	var out []Child

	for i, child := range n.children {
		if child.Start > t1 {
			break
		}

		upper := child.End
		if i == len(n.children)-1 {
			upper = OpenEnd
		} else if next := n.children[i+1].Start; next != math.MinInt64 && next-1 > upper {
			upper = next - 1
		}

		if upper >= t0 {
			out = append(out, child)
		}
	}

	return out
}
