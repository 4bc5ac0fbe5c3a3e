// Package htree implements the history tree manager: the open spine from
// root to the active leaf, insertion with leaf splits and branch creation,
// root-to-leaf queries and tree finalization.
//
// One goroutine may call Insert, Checkpoint and Close while any number of
// goroutines query. Sealed nodes are immutable and read through the node
// cache without locking; readers snapshot the open spine under a read lock.
package htree

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Sumatoshi-tech/histree/pkg/filestore"
	"github.com/Sumatoshi-tech/histree/pkg/htnode"
	"github.com/Sumatoshi-tech/histree/pkg/nodecache"
)

// Sentinel errors.
var (
	// ErrOrdering is returned when an interval starts before the tree end.
	ErrOrdering = errors.New("interval starts before the tree end")

	// ErrOverflow is returned when a single interval cannot fit in an empty leaf.
	ErrOverflow = errors.New("interval larger than a node block")

	// ErrClosed is returned by Insert, Checkpoint and Close on a closed tree.
	ErrClosed = errors.New("history tree is closed")

	// ErrReadOnly is returned when a tree opened from disk is asked to change.
	ErrReadOnly = errors.New("history tree is read-only")

	// ErrInvalidBranchStart is returned when the branch policy picks a start
	// outside [tree end, interval start].
	ErrInvalidBranchStart = errors.New("branch start outside allowed window")

	// ErrBroken is returned after a split, checkpoint or close failed to
	// write, leaving the file behind the in-memory tree.
	ErrBroken = errors.New("history tree unusable after write failure")
)

// HeaderStore persists the tree header.
type HeaderStore interface {
	WriteHeader(header filestore.Header) error
	Sync() error
}

// SplitEvent describes one leaf overflow.
type SplitEvent struct {
	BranchStart int64
	NewNodes    int
	Height      int
	NewRoot     bool
}

// Option configures a Tree.
type Option func(*Tree)

// WithBranchPolicy sets the branch start policy. The default is BranchAtIntervalStart.
func WithBranchPolicy(policy BranchPolicy) Option {
	return func(t *Tree) {
		if policy != nil {
			t.policy = policy
		}
	}
}

// WithLogger sets the logger for structural events.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tree) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithOnSplit registers a hook run after every leaf split, under the writer lock.
func WithOnSplit(fn func(SplitEvent)) Option {
	return func(t *Tree) {
		t.onSplit = fn
	}
}

// Tree is a history tree over one file.
type Tree struct {
	cache   *nodecache.Cache
	store   HeaderStore
	policy  BranchPolicy
	logger  *slog.Logger
	onSplit func(SplitEvent)
	broken  error

	// spine holds the open nodes, root first, active leaf last. Empty once closed.
	spine  []*htnode.Node
	header filestore.Header
	cfg    htnode.Config

	mu       sync.RWMutex
	writable bool
}

func newTree(cache *nodecache.Cache, store HeaderStore, header filestore.Header, opts []Option) *Tree {
	t := &Tree{
		cache:  cache,
		store:  store,
		header: header,
		cfg:    header.NodeConfig(),
		policy: BranchAtIntervalStart,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Create starts a new tree whose root is an empty leaf at header.TreeStart.
// The root block and the header are written immediately so an interrupted
// build still leaves a readable file.
func Create(cache *nodecache.Cache, store HeaderStore, header filestore.Header, opts ...Option) (*Tree, error) {
	header.TreeEnd = header.TreeStart
	header.NodeCount = 1
	header.RootSequence = 0
	header.Closed = false

	t := newTree(cache, store, header, opts)
	t.writable = true

	root := htnode.NewLeaf(t.cfg, 0, htnode.NoParent, header.TreeStart)
	t.cache.Pin(root)
	t.spine = []*htnode.Node{root}

	err := t.persistSpine()
	if err != nil {
		return nil, err
	}

	return t, nil
}

// Open wraps a tree already on disk. It accepts queries only.
func Open(cache *nodecache.Cache, header filestore.Header, opts ...Option) *Tree {
	return newTree(cache, nil, header, opts)
}

// Header returns the current header values.
func (t *Tree) Header() filestore.Header {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.header
}

// TreeEnd returns the current logical end time.
func (t *Tree) TreeEnd() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.header.TreeEnd
}

// Building reports whether the tree still accepts inserts.
func (t *Tree) Building() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.writable && !t.header.Closed
}

// checkWritable returns the error for a mutation attempt in the current state.
func (t *Tree) checkWritable() error {
	switch {
	case !t.writable:
		return ErrReadOnly
	case t.header.Closed:
		return ErrClosed
	case t.broken != nil:
		return fmt.Errorf("%w: %w", ErrBroken, t.broken)
	default:
		return nil
	}
}

// persistSpine writes every open node in place and the header with the
// closed flag cleared.
func (t *Tree) persistSpine() error {
	for _, node := range t.spine {
		err := t.cache.Flush(node)
		if err != nil {
			return err
		}
	}

	err := t.store.WriteHeader(t.header)
	if err != nil {
		return err
	}

	return t.store.Sync()
}
