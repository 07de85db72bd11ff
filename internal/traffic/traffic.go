// Package traffic keeps sliding windows of request outcomes on the data routes.
// Health uses them to report overload (rate-limit denials) and degradation (error rate).
package traffic

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// defaultRetention is how long outcomes are kept when no longer window is requested.
const defaultRetention = 5 * time.Minute

type outcome uint8

const (
	served outcome = iota
	failed
	denied
	numOutcomes
)

type event struct {
	at   time.Time
	kind outcome
}

// Tracker records request outcomes in arrival order and answers windowed counts.
// Windowed counts are exact for any window up to its retention.
type Tracker struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	retention time.Duration
	events    []event
}

// NewTracker returns a Tracker on the real clock. It keeps outcomes for the longest
// of windows, and for at least 5 minutes.
func NewTracker(windows ...time.Duration) *Tracker {
	return NewTrackerWithClock(clockwork.NewRealClock(), windows...)
}

// NewTrackerWithClock is NewTracker measuring windows against clock.
func NewTrackerWithClock(clock clockwork.Clock, windows ...time.Duration) *Tracker {
	retention := defaultRetention
	for _, w := range windows {
		if w > retention {
			retention = w
		}
	}
	return &Tracker{clock: clock, retention: retention}
}

// Retention returns how far back outcomes are kept.
func (t *Tracker) Retention() time.Duration { return t.retention }

// RecordSuccess records a data request that was answered.
func (t *Tracker) RecordSuccess() { t.record(served) }

// RecordError records a server-side failure (load failure, timeout, render error).
// Client errors such as a bad index are not recorded.
func (t *Tracker) RecordError() { t.record(failed) }

// RecordDenied records a rate-limit denial (429).
func (t *Tracker) RecordDenied() { t.record(denied) }

func (t *Tracker) record(kind outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	t.events = append(t.events, event{at: now, kind: kind})

	cutoff := now.Add(-t.retention)
	i := 0
	for i < len(t.events) && t.events[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		t.events = append(t.events[:0], t.events[i:]...)
	}
}

// counts tallies outcomes newer than now-window, walking back from the newest event.
func (t *Tracker) counts(window time.Duration) [numOutcomes]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	var n [numOutcomes]int
	cutoff := t.clock.Now().Add(-window)
	for i := len(t.events) - 1; i >= 0 && t.events[i].at.After(cutoff); i-- {
		n[t.events[i].kind]++
	}
	return n
}

// RequestCount returns every outcome, denials included, within the window.
func (t *Tracker) RequestCount(window time.Duration) int {
	n := t.counts(window)
	return n[served] + n[failed] + n[denied]
}

// DenialCount returns the number of rate-limit denials within the window.
func (t *Tracker) DenialCount(window time.Duration) int {
	return t.counts(window)[denied]
}

// ErrorRate returns (errors, total) within the window. Denials are not part of total.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	n := t.counts(window)
	return n[failed], n[failed] + n[served]
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = nil
}
