package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Cache defines the interface for rendered heatmap caching implementations.
// Get returns cached bytes if present and not expired, Set stores bytes with TTL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// InMemoryCache implements Cache using a mutex-guarded map with TTL-based expiration.
// Expired entries are removed on access.
type InMemoryCache struct {
	mu    sync.Mutex
	clock clockwork.Clock
	data  map[string]cacheEntry
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewInMemoryCache creates an in-memory cache on the real clock.
func NewInMemoryCache() *InMemoryCache {
	return NewInMemoryCacheWithClock(clockwork.NewRealClock())
}

// NewInMemoryCacheWithClock creates an in-memory cache that measures TTLs against clock.
func NewInMemoryCacheWithClock(clock clockwork.Clock) *InMemoryCache {
	return &InMemoryCache{
		clock: clock,
		data:  make(map[string]cacheEntry),
	}
}

// Get returns (value, true, nil) on hit and (nil, false, nil) on miss or expiry.
// The returned slice is shared; callers must not modify it.
func (c *InMemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return nil, false, nil
	}
	if !c.clock.Now().Before(entry.expiresAt) {
		delete(c.data, key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Set stores value under key until ttl elapses.
func (c *InMemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: c.clock.Now().Add(ttl),
	}
	c.mu.Unlock()
	return nil
}

// Len reports the number of stored entries, expired ones included.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
