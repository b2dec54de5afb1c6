package engine

import (
	"sync"
	"time"
)

const (
	// DefaultMaxRequests is the number of completion calls allowed per
	// window when no explicit limit is configured.
	DefaultMaxRequests = 20

	defaultWindow = time.Minute
)

// rateWindow is a fixed-window admission gate: over-limit requests are
// dropped outright, never queued. A consumed token is not returned when the
// downstream call fails, so a flaky upstream cannot be retry-stormed for
// free. Safe for concurrent use.
type rateWindow struct {
	mu          sync.Mutex
	windowStart time.Time
	count       int
	window      time.Duration
	max         int
}

// newRateWindow returns a gate allowing at most max requests per window.
// Non-positive arguments fall back to the defaults.
func newRateWindow(max int, window time.Duration) *rateWindow {
	if max <= 0 {
		max = DefaultMaxRequests
	}
	if window <= 0 {
		window = defaultWindow
	}
	return &rateWindow{
		windowStart: time.Now(),
		window:      window,
		max:         max,
	}
}

// allow reports whether another request may proceed and, if so, consumes a
// token from the current window.
func (r *rateWindow) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if now.Sub(r.windowStart) > r.window {
		r.windowStart = now
		r.count = 0
	}
	if r.count >= r.max {
		return false
	}
	r.count++
	return true
}
