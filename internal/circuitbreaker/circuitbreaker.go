// Package circuitbreaker stops calling a failing dependency for a cool-down period.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrOpen is returned by Call while the circuit is open.
var ErrOpen = errors.New("circuit breaker open")

// State is the circuit breaker state (Closed, Open, HalfOpen).
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker parameters. Zero values take defaults.
type Config struct {
	FailureThreshold int           // consecutive failures that open the circuit (default 5)
	SuccessThreshold int           // half-open successes that close it (default 2)
	Timeout          time.Duration // how long the circuit stays open (default 30s)
	Component        string
	OnStateChange    func(component string, from, to State)
	Clock            clockwork.Clock
}

// CircuitBreaker opens after FailureThreshold consecutive failures, rejects calls with
// ErrOpen for Timeout, then lets probe calls through half-open until SuccessThreshold
// of them succeed. Any half-open failure reopens it.
type CircuitBreaker struct {
	cfg Config

	mu           sync.Mutex
	state        State
	failureCount int
	successCount int
	openedAt     time.Time
}

// New creates a CircuitBreaker in the closed state.
func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// Call runs fn when the circuit allows it and records the outcome.
// A context error means the caller gave up, so it counts as neither success nor failure.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if err := cb.allow(); err != nil {
		return err
	}
	err := fn()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateOpen {
		return nil
	}
	if cb.cfg.Clock.Since(cb.openedAt) < cb.cfg.Timeout {
		return ErrOpen
	}
	cb.successCount = 0
	cb.transitionLocked(StateHalfOpen)
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.successCount = 0
		cb.failureCount++
		if cb.state == StateHalfOpen || cb.failureCount >= cb.cfg.FailureThreshold {
			cb.failureCount = 0
			cb.openedAt = cb.cfg.Clock.Now()
			cb.transitionLocked(StateOpen)
		}
		return
	}
	cb.failureCount = 0
	if cb.state == StateHalfOpen {
		cb.successCount++
		if cb.successCount >= cb.cfg.SuccessThreshold {
			cb.successCount = 0
			cb.transitionLocked(StateClosed)
		}
	}
}

// transitionLocked must be called with mu held. The callback runs under the lock
// and must not call back into the breaker.
func (cb *CircuitBreaker) transitionLocked(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Component, from, to)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
