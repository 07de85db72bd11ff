package service

import (
	"context"
	"sync"
	"time"
)

// call is one execution of fn shared by every caller that asked for the same key.
// result and err are written before done is closed.
type call[T any] struct {
	done    chan struct{}
	result  T
	err     error
	waiters int // guarded by requestCoalescer.mu
}

// requestCoalescer collapses concurrent calls for the same key into one execution of fn.
// fn runs in its own goroutine, so a waiter that gives up does not cancel it.
type requestCoalescer[T any] struct {
	mu      sync.Mutex
	calls   map[string]*call[T]
	timeout time.Duration
}

// newRequestCoalescer creates a requestCoalescer whose callers wait at most timeout.
func newRequestCoalescer[T any](timeout time.Duration) *requestCoalescer[T] {
	return &requestCoalescer[T]{
		calls:   make(map[string]*call[T]),
		timeout: timeout,
	}
}

// GetOrDo joins the in-flight call for key if there is one, otherwise starts fn.
// shared reports whether the caller joined an existing call.
// Returns ctx's error if ctx ends or the coalescer timeout elapses first.
func (rc *requestCoalescer[T]) GetOrDo(ctx context.Context, key string, fn func() (T, error)) (result T, shared bool, err error) {
	rc.mu.Lock()
	c, shared := rc.calls[key]
	if !shared {
		c = &call[T]{done: make(chan struct{})}
		rc.calls[key] = c
		go rc.run(key, c, fn)
	}
	c.waiters++
	rc.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()
	select {
	case <-c.done:
		return c.result, shared, c.err
	case <-waitCtx.Done():
		var zero T
		return zero, shared, waitCtx.Err()
	}
}

// run executes fn and forgets key before publishing, so later callers start a fresh call.
func (rc *requestCoalescer[T]) run(key string, c *call[T], fn func() (T, error)) {
	c.result, c.err = fn()

	rc.mu.Lock()
	delete(rc.calls, key)
	rc.mu.Unlock()
	close(c.done)
}

// waiting returns how many callers have joined the in-flight call for key.
func (rc *requestCoalescer[T]) waiting(key string) int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if c, ok := rc.calls[key]; ok {
		return c.waiters
	}
	return 0
}

// inFlightCount returns the number of keys with work in progress.
func (rc *requestCoalescer[T]) inFlightCount() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.calls)
}
