package correlation

import "time"

// NewCacheWithClock lets tests drive the retention sweep deterministically
func NewCacheWithClock(now func() time.Time) *Cache {
	return newCache(now)
}

// ResolvedLen reports how many terminal outcomes are currently remembered
func (c *Cache) ResolvedLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.resolved)
}
