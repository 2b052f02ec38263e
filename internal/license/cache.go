package license

import (
	"sync"
	"time"
)

type cacheEntry struct {
	valid     bool
	expiresAt time.Time
}

// Cache holds license check answers keyed by request URL. Entries past their TTL are
// treated as absent and removed by Purge.
type Cache struct {
	ttl     time.Duration
	now     func() time.Time
	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewCache creates a cache. A non-positive ttl defaults to 24 hours.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns the cached answer for key if present and unexpired.
func (c *Cache) Get(key string) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expiresAt) {
		return false, false
	}
	return e.valid, true
}

// Put stores an answer for the cache TTL, replacing any previous one.
func (c *Cache) Put(key string, valid bool) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{valid: valid, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Purge removes expired entries and returns how many were removed.
func (c *Cache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
