// Package guard implements per-address admission control shared by every
// connection: a fixed-window rate limiter, a temporary blacklist and the
// shared-secret check.
package guard

import (
	"sync"
	"time"
)

const (
	DefaultRateWindow = 5 * time.Second
	DefaultRateMax    = 30
)

// RateLimiter counts messages per source address in fixed windows.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	window  time.Duration
	max     int
	now     func() time.Time
}

type window struct {
	count   int
	resetAt time.Time
}

// NewRateLimiter creates a RateLimiter allowing max messages per window.
func NewRateLimiter(max int, win time.Duration) *RateLimiter {
	return NewRateLimiterWithClock(max, win, time.Now)
}

// NewRateLimiterWithClock creates a RateLimiter with a custom clock.
func NewRateLimiterWithClock(max int, win time.Duration, now func() time.Time) *RateLimiter {
	if now == nil {
		panic("guard: nil clock")
	}
	if max <= 0 {
		max = DefaultRateMax
	}
	if win <= 0 {
		win = DefaultRateWindow
	}
	return &RateLimiter{
		windows: make(map[string]*window),
		window:  win,
		max:     max,
		now:     now,
	}
}

// Allow records one message from addr and reports whether it is within the
// limit. The first message after resetAt opens a fresh window.
func (l *RateLimiter) Allow(addr string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[addr]
	if !ok || now.After(w.resetAt) {
		l.windows[addr] = &window{count: 1, resetAt: now.Add(l.window)}
		return true
	}
	w.count++
	return w.count <= l.max
}

// Count returns the message count of the current window for addr.
func (l *RateLimiter) Count(addr string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok := l.windows[addr]; ok {
		return w.count
	}
	return 0
}

// Cleanup drops windows that have already ended.
func (l *RateLimiter) Cleanup() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for addr, w := range l.windows {
		if now.After(w.resetAt) {
			delete(l.windows, addr)
			removed++
		}
	}
	return removed
}
