// Package lifecycle holds process-wide run state read by the health handler.
package lifecycle

import (
	"sync/atomic"
	"time"
)

var (
	shuttingDown atomic.Bool
	startedAt    atomic.Int64 // unix nanoseconds
)

func init() {
	startedAt.Store(time.Now().UnixNano())
}

// SetShuttingDown sets the drain flag. Call when SIGTERM/SIGINT is received.
// Health returns 503 with status shutting-down while true.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

// IsShuttingDown returns true if the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}

// MarkStarted records t as the moment the server began accepting requests.
func MarkStarted(t time.Time) {
	startedAt.Store(t.UnixNano())
}

// Uptime returns the time elapsed since MarkStarted (or process start) as of now.
func Uptime(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, startedAt.Load()))
}
