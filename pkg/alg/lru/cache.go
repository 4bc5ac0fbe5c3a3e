// Package lru implements a generic, mutex-guarded least recently used cache.
// Entries live in a slot arena linked by index, so a full cache recycles
// slots instead of allocating, and eviction can be bounded by entry count,
// by total weight, or both.
package lru

import (
	"sync"
	"sync/atomic"
)

// noSlot terminates the recency list.
const noSlot int32 = -1

// maxPrealloc caps the slots reserved up front for a count-bounded cache.
const maxPrealloc = 4096

type slot[K comparable, V any] struct {
	key    K
	value  V
	weight int64
	newer  int32
	older  int32
}

// Cache is a least recently used cache safe for concurrent use.
type Cache[K comparable, V any] struct {
	index map[K]int32
	weigh func(V) int64
	// onEvict runs with the cache locked and must not call back into it.
	onEvict func(K, V)

	slots []slot[K, V]
	free  []int32

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	mu sync.Mutex

	maxEntries int
	maxWeight  int64
	weight     int64

	newest int32
	oldest int32
}

// Option configures a Cache.
type Option[K comparable, V any] func(*Cache[K, V])

// WithMaxEntries bounds the number of entries.
func WithMaxEntries[K comparable, V any](n int) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.maxEntries = n
	}
}

// WithMaxBytes bounds the summed weight of the entries; weigh returns the
// weight of one value, usually its size in bytes.
func WithMaxBytes[K comparable, V any](maxBytes int64, weigh func(V) int64) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.maxWeight = maxBytes
		c.weigh = weigh
	}
}

// WithOnEvict registers fn for entries dropped to make room. Remove and
// Clear do not call it.
func WithOnEvict[K comparable, V any](fn func(K, V)) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.onEvict = fn
	}
}

// New returns an empty cache. It panics unless WithMaxEntries or
// WithMaxBytes sets a positive bound.
func New[K comparable, V any](opts ...Option[K, V]) *Cache[K, V] {
	c := &Cache[K, V]{
		index:  make(map[K]int32),
		newest: noSlot,
		oldest: noSlot,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.maxEntries <= 0 && c.maxWeight <= 0 {
		panic("lru: no capacity bound configured")
	}

	if c.maxEntries > 0 {
		c.slots = make([]slot[K, V], 0, min(c.maxEntries, maxPrealloc))
	}

	return c
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.index)
}
