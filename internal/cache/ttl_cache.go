package cache

import (
	"sync"
	"time"
)

const defaultMaxEntries = 10000

// Cache is a concurrency-safe key/value store with per-entry expiry.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V, ttl time.Duration)
	Delete(key K)
	Len() int
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

type ttlCache[K comparable, V any] struct {
	mu         sync.Mutex
	entries    map[K]entry[V]
	maxEntries int
	now        func() time.Time
}

// NewTTLCache returns an in-memory cache. Expired entries are dropped lazily
// on read and swept when the cache reaches its size bound.
func NewTTLCache[K comparable, V any]() Cache[K, V] {
	return newTTLCache[K, V](defaultMaxEntries, time.Now)
}

func newTTLCache[K comparable, V any](maxEntries int, now func() time.Time) *ttlCache[K, V] {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &ttlCache[K, V]{
		entries:    make(map[K]entry[V]),
		maxEntries: maxEntries,
		now:        now,
	}
}

func (c *ttlCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return zero, false
	}
	return e.value, true
}

func (c *ttlCache[K, V]) Set(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.sweepLocked()
		if len(c.entries) >= c.maxEntries {
			// Still full of live entries: evict an arbitrary one.
			for k := range c.entries {
				delete(c.entries, k)
				break
			}
		}
	}
	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(ttl)}
}

func (c *ttlCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *ttlCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ttlCache[K, V]) sweepLocked() {
	now := c.now()
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}
