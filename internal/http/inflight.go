package http

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// InFlightTracker counts requests currently being served so shutdown can drain them.
type InFlightTracker struct {
	count atomic.Int64
}

// Begin marks one request in flight. The returned func ends it; extra calls are no-ops.
func (t *InFlightTracker) Begin() func() {
	t.count.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { t.count.Add(-1) })
	}
}

// Count returns the current in-flight count.
func (t *InFlightTracker) Count() int64 { return t.count.Load() }

// WaitForZero polls every interval (default 50ms) until nothing is in flight or ctx ends.
func (t *InFlightTracker) WaitForZero(ctx context.Context, interval time.Duration) error {
	if t.Count() <= 0 {
		return nil
	}
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if t.Count() <= 0 {
				return nil
			}
		}
	}
}

// requests is maintained by MetricsMiddleware.
var requests = &InFlightTracker{}

// InFlightCount returns the number of requests MetricsMiddleware is currently serving.
func InFlightCount() int64 {
	return requests.Count()
}

// WaitForInFlight drains the requests seen by MetricsMiddleware; see WaitForZero.
func WaitForInFlight(ctx context.Context, interval time.Duration) error {
	return requests.WaitForZero(ctx, interval)
}
