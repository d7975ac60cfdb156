package search

import (
	"sync"
	"time"
)

// Cache is a TTL cache of finished query results. Entries are replaced
// wholesale on write; expired entries are dropped lazily on read and swept
// on write.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	results []Result
	expires time.Time
}

// NewCache creates a Cache with the given TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Get returns the cached results for key, if present and fresh.
func (c *Cache) Get(key string) ([]Result, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().After(e.expires) {
		c.mu.Lock()
		// Re-check under the write lock; another writer may have refreshed it.
		if e2, ok := c.entries[key]; ok && c.now().After(e2.expires) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.results, true
}

// Put stores results for key and sweeps any expired entries.
func (c *Cache) Put(key string, results []Result) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = cacheEntry{results: results, expires: now.Add(c.ttl)}
}

// Len reports the number of live entries; used by tests.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
