package cache

import (
	"context"
	"time"

	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/circuitbreaker"
)

// BreakerCache guards a remote Cache with a circuit breaker. While the circuit is open,
// Get and Set return circuitbreaker.ErrOpen at once instead of waiting on a dead backend.
// A miss counts as success; a caller's canceled or expired context counts as neither.
type BreakerCache struct {
	next Cache
	cb   *circuitbreaker.CircuitBreaker
}

// NewBreakerCache wraps next with cb.
func NewBreakerCache(next Cache, cb *circuitbreaker.CircuitBreaker) *BreakerCache {
	return &BreakerCache{next: next, cb: cb}
}

func (c *BreakerCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		val []byte
		ok  bool
	)
	err := c.cb.Call(func() error {
		var err error
		val, ok, err = c.next.Get(ctx, key)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return val, ok, nil
}

func (c *BreakerCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.cb.Call(func() error {
		return c.next.Set(ctx, key, value, ttl)
	})
}
