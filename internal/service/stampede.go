package service

import (
	"sync"
)

// missTracker counts heatmap cache misses still being rendered, per key.
// More than one pending miss on a key means a stampede on that day and format.
type missTracker struct {
	mu      sync.Mutex
	pending map[string]int
}

func newMissTracker() *missTracker {
	return &missTracker{pending: make(map[string]int)}
}

// begin registers a miss on key. It returns how many misses are pending for key,
// this one included, and a release func that may be called more than once.
func (m *missTracker) begin(key string) (int, func()) {
	m.mu.Lock()
	m.pending[key]++
	n := m.pending[key]
	m.mu.Unlock()

	var once sync.Once
	return n, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.pending[key] <= 1 {
				delete(m.pending, key)
				return
			}
			m.pending[key]--
		})
	}
}

// keys returns the number of keys with a render in progress.
func (m *missTracker) keys() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
