package alerts

import (
	"sync"
	"time"
)

// Cache is an in-memory TTL cache, optionally bounded in size, keyed by
// (operation, arguments) as a single pre-joined string key. Descended from
// the nextrip package's plain TTL cache, extended with oldest-insertion
// eviction since §4.10 sizes two of the five caches (512, 2048) and no
// pack dependency offers a bounded+TTL cache combined.
type Cache struct {
	mu       sync.RWMutex
	entries  map[string]cacheEntry
	order    []string // insertion order, for oldest-eviction once maxSize is hit
	ttl      time.Duration
	maxSize  int // 0 = unbounded
}

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// NewCache creates a cache with the given TTL and an optional max size (0 =
// unbounded). A background goroutine sweeps expired entries every 5 minutes,
// the teacher's cadence.
func NewCache(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		maxSize: maxSize,
	}
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			c.cleanup()
		}
	}()
	return c
}

// Get retrieves a cached value if present and not expired. The caller is
// responsible for deep-copying before mutating anything reference-typed
// the cache returns — cached values are shared, not copied on read.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.value, true
}

// Set stores a value, evicting the oldest entry first if at capacity.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		if c.maxSize > 0 && len(c.entries) >= c.maxSize {
			c.evictOldestLocked()
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = cacheEntry{
		value:     value,
		expiresAt: time.Now().Add(c.ttl),
	}
}

func (c *Cache) evictOldestLocked() {
	for len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		if _, ok := c.entries[oldest]; ok {
			delete(c.entries, oldest)
			return
		}
	}
}

func (c *Cache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for k, v := range c.entries {
		if now.After(v.expiresAt) {
			delete(c.entries, k)
		}
	}
	live := c.order[:0]
	for _, k := range c.order {
		if _, ok := c.entries[k]; ok {
			live = append(live, k)
		}
	}
	c.order = live
}

// Len reports the number of live entries, for tests.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
