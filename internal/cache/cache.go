// Package cache provides a small in-memory TTL cache with bounded size.
// It is constructed explicitly and injected where needed; there is no
// package-level instance.
package cache

import (
	"sync"
	"time"
)

// Config holds cache settings.
type Config struct {
	// TTL is how long entries stay valid.
	TTL time.Duration

	// MaxSize bounds the number of entries. When exceeded, the
	// oldest-inserted entries are evicted first (insertion order, not
	// recency of use).
	MaxSize int
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		TTL:     2 * time.Minute,
		MaxSize: 200,
	}
}

type entry[V any] struct {
	value    V
	expireAt time.Time
}

// Cache is a TTL cache with oldest-inserted eviction. Safe for concurrent
// use.
type Cache[V any] struct {
	mu      sync.Mutex
	config  Config
	entries map[string]entry[V]
	order   []string

	hits   int64
	misses int64

	// now is replaceable for tests.
	now func() time.Time
}

// New creates a cache with the given configuration.
func New[V any](config Config) *Cache[V] {
	if config.TTL <= 0 {
		config.TTL = DefaultConfig().TTL
	}
	if config.MaxSize <= 0 {
		config.MaxSize = DefaultConfig().MaxSize
	}
	return &Cache[V]{
		config:  config,
		entries: make(map[string]entry[V]),
		now:     time.Now,
	}
}

// Get returns the cached value for key, if present and unexpired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return zero, false
	}
	if !e.expireAt.After(c.now()) {
		c.deleteLocked(key)
		c.misses++
		return zero, false
	}

	c.hits++
	return e.value, true
}

// Set stores a value for key.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = entry[V]{value: value, expireAt: c.now().Add(c.config.TTL)}

	c.pruneLocked()
}

// GetOrCompute returns the cached value for key, computing and storing it
// on a miss. A compute error is returned without caching.
func (c *Cache[V]) GetOrCompute(key string, compute func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err := compute()
	if err != nil {
		return v, err
	}

	c.Set(key, v)
	return v, nil
}

// Len returns the number of live entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cumulative hit and miss counts.
func (c *Cache[V]) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// pruneLocked drops expired entries, then evicts oldest-inserted entries
// until the cache fits MaxSize. Callers must hold mu.
func (c *Cache[V]) pruneLocked() {
	now := c.now()

	kept := c.order[:0]
	for _, key := range c.order {
		e, ok := c.entries[key]
		if !ok {
			continue
		}
		if !e.expireAt.After(now) {
			delete(c.entries, key)
			continue
		}
		kept = append(kept, key)
	}
	c.order = kept

	for len(c.entries) > c.config.MaxSize && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

func (c *Cache[V]) deleteLocked(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
