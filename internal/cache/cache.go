// Package cache provides a small in-memory TTL cache used to memoize
// rendered reports between HTTP requests.
package cache

import (
	"sync"
	"time"
)

type entry struct {
	payload   []byte
	expiresAt time.Time
}

// TTLCache stores byte payloads with per-entry expiry.
type TTLCache struct {
	mu   sync.RWMutex
	data map[string]entry
}

// NewTTLCache creates an empty cache.
func NewTTLCache() *TTLCache {
	return &TTLCache{data: make(map[string]entry)}
}

// Get retrieves a cached payload if present and not expired.
func (c *TTLCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	it, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !it.expiresAt.IsZero() && time.Now().After(it.expiresAt) {
		c.mu.Lock()
		delete(c.data, key)
		c.mu.Unlock()
		return nil, false
	}
	return it.payload, true
}

// Set stores a payload with an optional TTL. A non-positive TTL means the
// entry never expires.
func (c *TTLCache) Set(key string, payload []byte, ttl time.Duration) {
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.data[key] = entry{payload: payload, expiresAt: expires}
	c.mu.Unlock()
}

// Delete removes an entry.
func (c *TTLCache) Delete(key string) {
	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()
}
