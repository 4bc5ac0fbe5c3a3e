package htree

import "github.com/Sumatoshi-tech/histree/pkg/interval"

// BranchContext describes the split that needs a start time for the new
// chain of nodes.
type BranchContext struct {
	// Interval is the interval that did not fit in the active leaf.
	Interval interval.Interval
	// TreeEnd is the tree's logical end before Interval is inserted.
	TreeEnd int64
	// SealedEnd is the end time of the leaf being sealed.
	SealedEnd int64
	// Levels is the number of nodes the new chain will hold, leaf included.
	Levels int
	// NewRoot reports whether the split grows the tree by one level.
	NewRoot bool
}

// BranchPolicy picks the start time of the nodes created by a split. The
// result must lie in [TreeEnd, Interval.Start].
type BranchPolicy func(BranchContext) int64

// BranchAtIntervalStart starts new nodes exactly at the overflowing
// interval's start, leaving no gap before the first stored interval.
func BranchAtIntervalStart(ctx BranchContext) int64 {
	return ctx.Interval.Start
}

// BranchAtTreeEnd starts new nodes at the tree's current end, so siblings
// cover time without gaps.
func BranchAtTreeEnd(ctx BranchContext) int64 {
	return ctx.TreeEnd
}

// PolicyByName resolves a configured policy name.
func PolicyByName(name string) (BranchPolicy, bool) {
	switch name {
	case "", PolicyIntervalStart:
		return BranchAtIntervalStart, true
	case PolicyTreeEnd:
		return BranchAtTreeEnd, true
	default:
		return nil, false
	}
}

// Policy names accepted by PolicyByName.
const (
	PolicyIntervalStart = "interval-start"
	PolicyTreeEnd       = "tree-end"
)
