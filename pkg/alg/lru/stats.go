package lru

// Stats is a point-in-time view of a cache.
type Stats struct {
	Hits        int64
	Misses      int64
	Evictions   int64
	CurrentSize int64
	MaxSize     int64
	Entries     int
	MaxEntries  int
}

// HitRate returns hits over lookups, or 0 before the first lookup.
func (s Stats) HitRate() float64 {
	lookups := s.Hits + s.Misses
	if lookups == 0 {
		return 0
	}

	return float64(s.Hits) / float64(lookups)
}

// Stats returns the current counters and occupancy.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Evictions:   c.evictions.Load(),
		CurrentSize: c.weight,
		MaxSize:     c.maxWeight,
		Entries:     len(c.index),
		MaxEntries:  c.maxEntries,
	}
}

// CacheHits returns the hit count without locking.
func (c *Cache[K, V]) CacheHits() int64 { return c.hits.Load() }

// CacheMisses returns the miss count without locking.
func (c *Cache[K, V]) CacheMisses() int64 { return c.misses.Load() }
