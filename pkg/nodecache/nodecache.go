// Package nodecache presents history tree nodes by sequence number.
//
// Open nodes are pinned: they are mutable, have no stable serialized form and
// are never evicted. Sealed nodes are written through to the file store when
// they are sealed and then kept in a bounded LRU; evicting one is a plain drop.
// Concurrent misses for the same block are served by a single disk read.
package nodecache

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/Sumatoshi-tech/histree/pkg/alg/lru"
	"github.com/Sumatoshi-tech/histree/pkg/filestore"
	"github.com/Sumatoshi-tech/histree/pkg/htnode"
)

// DefaultMaxNodes is the sealed node capacity used when no limit is given.
const DefaultMaxNodes = 1024

// ErrNodeMismatch is returned when a block decodes to a different sequence
// number than the one it was read for.
var ErrNodeMismatch = errors.New("node block holds a different sequence number")

// BlockStore is the subset of the file store the cache needs.
type BlockStore interface {
	ReadNode(seq int32) ([]byte, error)
	WriteNode(seq int32, block []byte) error
}

// Options bounds the sealed node LRU. Zero values select DefaultMaxNodes.
type Options struct {
	// MaxNodes caps the number of cached sealed nodes.
	MaxNodes int
	// MaxBytes caps the cached sealed nodes by their block size.
	MaxBytes int64
}

// Cache maps sequence numbers to decoded nodes.
type Cache struct {
	store  BlockStore
	sealed *lru.Cache[int32, *htnode.Node]
	group  singleflight.Group
	pinned map[int32]*htnode.Node
	cfg    htnode.Config

	mu sync.RWMutex

	reads  atomic.Int64
	writes atomic.Int64
}

// New creates a cache over store for nodes of geometry cfg.
func New(store BlockStore, cfg htnode.Config, opts Options) *Cache {
	var lruOpts []lru.Option[int32, *htnode.Node]

	if opts.MaxBytes > 0 {
		blockSize := int64(cfg.BlockSize)
		lruOpts = append(lruOpts, lru.WithMaxBytes[int32](opts.MaxBytes, func(*htnode.Node) int64 { return blockSize }))
	}

	if opts.MaxNodes > 0 || opts.MaxBytes <= 0 {
		maxNodes := opts.MaxNodes
		if maxNodes <= 0 {
			maxNodes = DefaultMaxNodes
		}

		lruOpts = append(lruOpts, lru.WithMaxEntries[int32, *htnode.Node](maxNodes))
	}

	return &Cache{
		store:  store,
		cfg:    cfg,
		sealed: lru.New(lruOpts...),
		pinned: make(map[int32]*htnode.Node),
	}
}

// Get returns node seq. A pinned node is returned as the live, mutable
// instance; callers reading it concurrently with the writer must hold the
// tree lock and take a Snapshot. Misses read and decode the block from disk.
func (c *Cache) Get(seq int32) (*htnode.Node, error) {
	c.mu.RLock()
	node, ok := c.pinned[seq]
	c.mu.RUnlock()

	if ok {
		return node, nil
	}

	if node, ok = c.sealed.Get(seq); ok {
		return node, nil
	}

	v, err, _ := c.group.Do(strconv.FormatInt(int64(seq), 10), func() (any, error) {
		return c.load(seq)
	})
	if err != nil {
		return nil, err
	}

	node, _ = v.(*htnode.Node)

	return node, nil
}

func (c *Cache) load(seq int32) (*htnode.Node, error) {
	block, err := c.store.ReadNode(seq)
	if err != nil {
		return nil, err
	}

	c.reads.Add(1)

	node, err := htnode.Deserialize(c.cfg, block)
	if err != nil {
		return nil, fmt.Errorf("%w: node %d: %w", filestore.ErrCorrupt, seq, err)
	}

	if node.Sequence() != seq {
		return nil, fmt.Errorf("%w: read %d, decoded %d", ErrNodeMismatch, seq, node.Sequence())
	}

	c.sealed.Put(seq, node)

	return node, nil
}

// Pin registers an open node. It stays resident until PutSealed.
func (c *Cache) Pin(node *htnode.Node) {
	if node.IsSealed() {
		panic(fmt.Sprintf("nodecache: pin sealed node %d", node.Sequence()))
	}

	c.mu.Lock()
	c.pinned[node.Sequence()] = node
	c.mu.Unlock()
}

// PutSealed writes a freshly sealed node to the store, makes it evictable
// and unpins it. On a write error the node stays pinned.
func (c *Cache) PutSealed(node *htnode.Node) error {
	if !node.IsSealed() {
		panic(fmt.Sprintf("nodecache: node %d is not sealed", node.Sequence()))
	}

	err := c.write(node)
	if err != nil {
		return err
	}

	c.sealed.Put(node.Sequence(), node)

	c.mu.Lock()
	delete(c.pinned, node.Sequence())
	c.mu.Unlock()

	return nil
}

// Flush writes a pinned open node in place without unpinning it.
func (c *Cache) Flush(node *htnode.Node) error {
	return c.write(node)
}

func (c *Cache) write(node *htnode.Node) error {
	err := c.store.WriteNode(node.Sequence(), node.Serialize())
	if err != nil {
		return err
	}

	c.writes.Add(1)

	return nil
}

// Pinned returns the number of open nodes held.
func (c *Cache) Pinned() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.pinned)
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	lru.Stats

	Pinned     int
	DiskReads  int64
	DiskWrites int64
}

// Stats returns current statistics.
func (c *Cache) Stats() Stats {
	return Stats{
		Stats:      c.sealed.Stats(),
		Pinned:     c.Pinned(),
		DiskReads:  c.reads.Load(),
		DiskWrites: c.writes.Load(),
	}
}

// CacheHits returns the sealed node hit count.
func (c *Cache) CacheHits() int64 { return c.sealed.CacheHits() }

// CacheMisses returns the sealed node miss count.
func (c *Cache) CacheMisses() int64 { return c.sealed.CacheMisses() }

// DiskReads returns the number of blocks read from the store.
func (c *Cache) DiskReads() int64 { return c.reads.Load() }

// DiskWrites returns the number of blocks written to the store.
func (c *Cache) DiskWrites() int64 { return c.writes.Load() }

// Clear drops every sealed node. Pinned nodes are kept.
func (c *Cache) Clear() {
	c.sealed.Clear()
}
