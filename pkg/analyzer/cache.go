package analyzer

import (
	"sync"
	"time"
)

// resultCache is a small TTL cache for analysis results, keyed by comment ID.
// Re-scans of the same comment section within the TTL reuse the verdict
// instead of spending another model call.
type resultCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

type cacheEntry struct {
	analysis  *Analysis
	expiresAt time.Time
}

func newResultCache(ttl time.Duration, maxSize int) *resultCache {
	return &resultCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

func (c *resultCache) get(key string) (*Analysis, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.analysis, true
}

func (c *resultCache) put(key string, a *Analysis) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		c.evictLocked()
	}
	c.entries[key] = cacheEntry{analysis: a, expiresAt: c.now().Add(c.ttl)}
}

// evictLocked drops expired entries, then arbitrary ones if still full.
func (c *resultCache) evictLocked() {
	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	for k := range c.entries {
		if len(c.entries) < c.maxSize {
			break
		}
		delete(c.entries, k)
	}
}
