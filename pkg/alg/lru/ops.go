package lru

import "github.com/Sumatoshi-tech/histree/pkg/safeconv"

// Get returns the value of key and makes it the most recently used entry.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	at, ok := c.index[key]
	if !ok {
		c.misses.Add(1)

		var zero V

		return zero, false
	}

	c.hits.Add(1)
	c.touch(at)

	return c.slots[at].value, true
}

// Contains reports whether key is cached. Recency and hit counts are unchanged.
func (c *Cache[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.index[key]

	return ok
}

// Put stores value under key as the most recently used entry. A value
// heavier than the whole weight bound is not cached.
func (c *Cache[K, V]) Put(key K, value V) {
	weight := int64(1)
	if c.weigh != nil {
		weight = c.weigh(value)
	}

	if c.maxWeight > 0 && weight > c.maxWeight {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if at, ok := c.index[key]; ok {
		s := &c.slots[at]
		c.weight += weight - s.weight
		s.value, s.weight = value, weight
		c.touch(at)
		c.shrink(0, at)

		return
	}

	c.shrink(weight, noSlot)

	at := c.alloc()
	c.slots[at] = slot[K, V]{key: key, value: value, weight: weight, newer: noSlot, older: noSlot}
	c.index[key] = at
	c.weight += weight
	c.pushNewest(at)
}

// Remove drops key and reports whether it was cached.
func (c *Cache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	at, ok := c.index[key]
	if !ok {
		return false
	}

	c.release(at)

	return true
}

// Clear drops every entry. Counters are kept.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.index)
	clear(c.slots)
	c.slots = c.slots[:0]
	c.free = c.free[:0]
	c.weight = 0
	c.newest, c.oldest = noSlot, noSlot
}

// shrink evicts the oldest entries until one more entry of weight extra
// fits. keep is never evicted.
func (c *Cache[K, V]) shrink(extra int64, keep int32) {
	adding := 0
	if keep == noSlot {
		adding = 1
	}

	for c.oldest != noSlot && c.oldest != keep {
		overCount := c.maxEntries > 0 && len(c.index)+adding > c.maxEntries
		overWeight := c.maxWeight > 0 && c.weight+extra > c.maxWeight

		if !overCount && !overWeight {
			return
		}

		victim := c.slots[c.oldest]

		c.release(c.oldest)
		c.evictions.Add(1)

		if c.onEvict != nil {
			c.onEvict(victim.key, victim.value)
		}
	}
}

func (c *Cache[K, V]) alloc() int32 {
	if n := len(c.free); n > 0 {
		at := c.free[n-1]
		c.free = c.free[:n-1]

		return at
	}

	c.slots = append(c.slots, slot[K, V]{})

	return safeconv.MustIntToInt32(len(c.slots) - 1)
}

// release unlinks slot at, forgets its key and recycles it.
func (c *Cache[K, V]) release(at int32) {
	c.unlink(at)
	delete(c.index, c.slots[at].key)
	c.weight -= c.slots[at].weight
	c.slots[at] = slot[K, V]{}
	c.free = append(c.free, at)
}

func (c *Cache[K, V]) touch(at int32) {
	if c.newest == at {
		return
	}

	c.unlink(at)
	c.pushNewest(at)
}

func (c *Cache[K, V]) pushNewest(at int32) {
	s := &c.slots[at]
	s.newer, s.older = noSlot, c.newest

	if c.newest != noSlot {
		c.slots[c.newest].newer = at
	}

	c.newest = at

	if c.oldest == noSlot {
		c.oldest = at
	}
}

func (c *Cache[K, V]) unlink(at int32) {
	s := &c.slots[at]

	if s.newer == noSlot {
		c.newest = s.older
	} else {
		c.slots[s.newer].older = s.older
	}

	if s.older == noSlot {
		c.oldest = s.newer
	} else {
		c.slots[s.older].newer = s.newer
	}

	s.newer, s.older = noSlot, noSlot
}
