// internal/locators/cache.go
package locators

import (
	"sync"

	"github.com/xkilldash9x/cartpilot/api/schemas"
)

// Cache memoizes resolved selectors per (source, key). Within a run an entry
// is written once and then only read; Invalidate and Reset exist for callers
// that reuse a cache across runs.
type Cache struct {
	mu      sync.RWMutex
	entries map[schemas.LocatorKey]string
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[schemas.LocatorKey]string)}
}

// Get returns the cached selector for key.
func (c *Cache) Get(key schemas.LocatorKey) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sel, ok := c.entries[key]
	return sel, ok
}

// PutIfAbsent stores sel unless key already has a value, and returns the
// value that is now cached. The first writer wins so a key never changes
// within a run.
func (c *Cache) PutIfAbsent(key schemas.LocatorKey, sel string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[key]; ok {
		return existing
	}
	c.entries[key] = sel
	return sel
}

// Invalidate drops one entry.
func (c *Cache) Invalidate(key schemas.LocatorKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Reset drops every entry.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[schemas.LocatorKey]string)
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
