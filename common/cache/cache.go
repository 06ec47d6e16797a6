package cache

import (
	"context"
	"sync"
	"time"
)

type entry[V any] struct {
	data      V
	fetchedAt time.Time
}

// Cache is a read-through cache with a hard TTL cutoff. Entries older than
// the TTL are never served: cached values gate access-control decisions
// downstream, so staleness is treated as absence, not as a hint.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[K]entry[V]
	now     func() time.Time
}

func New[K comparable, V any](ttl time.Duration) *Cache[K, V] {
	return &Cache[K, V]{
		ttl:     ttl,
		entries: make(map[K]entry[V]),
		now:     time.Now,
	}
}

// Get returns the cached value for key if its age is under the TTL, otherwise
// calls fetch, stores the result with a fresh timestamp and returns it. A
// failed fetch stores nothing.
func (c *Cache[K, V]) Get(ctx context.Context, key K, fetch func(ctx context.Context) (V, error)) (V, error) {
	c.mu.Lock()
	if e, found := c.entries[key]; found && c.now().Sub(e.fetchedAt) < c.ttl {
		c.mu.Unlock()
		return e.data, nil
	}
	c.mu.Unlock()

	data, err := fetch(ctx)
	if err != nil {
		var zero V
		return zero, err
	}

	c.mu.Lock()
	c.entries[key] = entry[V]{data: data, fetchedAt: c.now()}
	c.mu.Unlock()
	return data, nil
}

// Invalidate removes one entry, used after writes that change the underlying
// data.
func (c *Cache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidateAll clears the cache wholesale, used on sign-out or identity
// change so loosely session-keyed data cannot leak across identities.
func (c *Cache[K, V]) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[K]entry[V])
	c.mu.Unlock()
}

func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
