package guard

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeRequest struct {
	secret string
	err    error
}

func (r fakeRequest) Secret() string  { return r.secret }
func (r fakeRequest) Validate() error { return r.err }

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 2, 10, 18, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestGuard(clock *testClock, secret string) *Guard {
	return New(secret,
		NewRateLimiterWithClock(DefaultRateMax, DefaultRateWindow, clock.Now),
		NewBlacklistWithClock(DefaultBlacklistTTL, clock.Now),
	)
}

func TestRateLimiterWindow(t *testing.T) {
	clock := newTestClock()
	limiter := NewRateLimiterWithClock(3, 5*time.Second, clock.Now)

	for i := 0; i < 3; i++ {
		if !limiter.Allow("198.51.100.7") {
			t.Fatalf("message %d should be allowed", i+1)
		}
	}
	if limiter.Allow("198.51.100.7") {
		t.Fatal("fourth message should exceed the limit")
	}
	if !limiter.Allow("198.51.100.8") {
		t.Fatal("other addresses must have their own window")
	}

	// resetAt itself still belongs to the old window
	clock.Advance(5 * time.Second)
	if limiter.Allow("198.51.100.7") {
		t.Fatal("window should not reset at exactly resetAt")
	}

	clock.Advance(time.Millisecond)
	if !limiter.Allow("198.51.100.7") {
		t.Fatal("expected a fresh window after resetAt")
	}
	if got := limiter.Count("198.51.100.7"); got != 1 {
		t.Fatalf("expected count 1 after reset, got %d", got)
	}
}

func TestRateLimiterDefaults(t *testing.T) {
	clock := newTestClock()
	limiter := NewRateLimiterWithClock(0, 0, clock.Now)

	for i := 0; i < DefaultRateMax; i++ {
		if !limiter.Allow("a") {
			t.Fatalf("message %d should be allowed", i+1)
		}
	}
	if limiter.Allow("a") {
		t.Fatalf("expected the default limit of %d", DefaultRateMax)
	}

	clock.Advance(DefaultRateWindow)
	if limiter.Allow("a") {
		t.Fatal("default window should still be open at resetAt")
	}
	clock.Advance(time.Millisecond)
	if !limiter.Allow("a") {
		t.Fatal("expected a fresh default window")
	}

	if NewRateLimiter(-1, -time.Second).max != DefaultRateMax {
		t.Fatal("negative max should fall back to the default")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	clock := newTestClock()
	limiter := NewRateLimiterWithClock(3, time.Second, clock.Now)
	limiter.Allow("a")
	limiter.Allow("b")

	clock.Advance(2 * time.Second)
	limiter.Allow("c")

	if removed := limiter.Cleanup(); removed != 2 {
		t.Fatalf("expected 2 removed windows, got %d", removed)
	}
	if limiter.Count("c") != 1 {
		t.Fatal("active window should survive cleanup")
	}
}

func TestBlacklistLazyExpiry(t *testing.T) {
	clock := newTestClock()
	bl := NewBlacklistWithClock(time.Minute, clock.Now)

	if bl.Blocked("203.0.113.5") {
		t.Fatal("unknown address should not be blocked")
	}

	bl.Block("203.0.113.5")
	clock.Advance(59 * time.Second)
	if !bl.Blocked("203.0.113.5") {
		t.Fatal("expected address blocked before expiry")
	}

	clock.Advance(time.Second)
	if bl.Blocked("203.0.113.5") {
		t.Fatal("expected entry to expire at expiresAt")
	}
	if bl.Len() != 0 {
		t.Fatalf("expired entry should be evicted on read, have %d", bl.Len())
	}
}

func TestGuardSweep(t *testing.T) {
	clock := newTestClock()
	g := newTestGuard(clock, "s3cret")

	g.Admit("198.51.100.1", fakeRequest{secret: "s3cret"})
	g.Admit("198.51.100.2", fakeRequest{secret: "wrong"})

	if windows, entries := g.Sweep(); windows != 0 || entries != 0 {
		t.Fatalf("nothing should expire yet, swept %d windows %d entries", windows, entries)
	}

	clock.Advance(DefaultBlacklistTTL)
	if windows, entries := g.Sweep(); windows != 2 || entries != 1 {
		t.Fatalf("expected 2 windows and 1 entry swept, got %d and %d", windows, entries)
	}
	if g.Blocked("198.51.100.2") {
		t.Fatal("expired entry should be gone")
	}
}

func TestBlacklistRefresh(t *testing.T) {
	clock := newTestClock()
	bl := NewBlacklistWithClock(time.Minute, clock.Now)

	bl.Block("203.0.113.5")
	clock.Advance(50 * time.Second)
	bl.Block("203.0.113.5")
	clock.Advance(50 * time.Second)

	if !bl.Blocked("203.0.113.5") {
		t.Fatal("re-blocking should refresh the expiry")
	}
}

func TestGuardAdmit(t *testing.T) {
	const addr = "192.0.2.10"

	tests := []struct {
		name       string
		secret     string
		req        fakeRequest
		want       Decision
		wantReason Reason
	}{
		{"correct secret", "s3cret", fakeRequest{secret: "s3cret"}, Allow, ReasonNone},
		{"wrong secret", "s3cret", fakeRequest{secret: "guess"}, DenyNotify, ReasonBadSecret},
		{"missing secret", "s3cret", fakeRequest{}, DenyNotify, ReasonBadSecret},
		{"prefix of secret", "s3cret", fakeRequest{secret: "s3c"}, DenyNotify, ReasonBadSecret},
		{"unset secret fails closed", "", fakeRequest{secret: ""}, DenyNotify, ReasonBadSecret},
		{"malformed message", "s3cret", fakeRequest{secret: "s3cret", err: errors.New("bad")}, DenyNotify, ReasonMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newTestClock()
			g := newTestGuard(clock, tt.secret)

			got, reason := g.Admit(addr, tt.req)
			if got != tt.want {
				t.Fatalf("expected decision %d, got %d", tt.want, got)
			}
			if reason != tt.wantReason {
				t.Fatalf("expected reason %q, got %q", tt.wantReason, reason)
			}
			if tt.want == DenyNotify && !g.Blocked(addr) {
				t.Fatal("denied address should be blacklisted")
			}
			if tt.want == Allow && g.Blocked(addr) {
				t.Fatal("admitted address should not be blacklisted")
			}
		})
	}
}

func TestGuardRateLimitEscalates(t *testing.T) {
	const addr = "192.0.2.20"
	clock := newTestClock()
	g := newTestGuard(clock, "s3cret")
	req := fakeRequest{secret: "s3cret"}

	for i := 0; i < DefaultRateMax; i++ {
		if d, _ := g.Admit(addr, req); d != Allow {
			t.Fatalf("message %d should be admitted, got %d", i+1, d)
		}
	}

	d, reason := g.Admit(addr, req)
	if d != DenyNotify || reason != ReasonRateLimited {
		t.Fatalf("message %d should be rate limited, got %d %q", DefaultRateMax+1, d, reason)
	}

	// Further messages are refused silently while blacklisted.
	clock.Advance(10 * time.Second)
	if d, reason := g.Admit(addr, req); d != DenySilent || reason != ReasonBlacklisted {
		t.Fatalf("expected silent deny while blacklisted, got %d %q", d, reason)
	}

	clock.Advance(DefaultBlacklistTTL)
	if d, _ := g.Admit(addr, req); d != Allow {
		t.Fatalf("expected admission after blacklist expiry, got %d", d)
	}
}

func TestGuardBlacklistCheckedBeforeRateLimit(t *testing.T) {
	const addr = "192.0.2.30"
	clock := newTestClock()
	limiter := NewRateLimiterWithClock(DefaultRateMax, DefaultRateWindow, clock.Now)
	g := New("s3cret", limiter, NewBlacklistWithClock(DefaultBlacklistTTL, clock.Now))

	g.Reject(addr)
	for i := 0; i < 5; i++ {
		g.Admit(addr, fakeRequest{secret: "s3cret"})
	}
	if got := limiter.Count(addr); got != 0 {
		t.Fatalf("blacklisted messages must not touch the rate limiter, count=%d", got)
	}
}

func TestGuardConcurrentAdmit(t *testing.T) {
	const addr = "192.0.2.40"
	clock := newTestClock()
	g := newTestGuard(clock, "s3cret")
	req := fakeRequest{secret: "s3cret"}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d, _ := g.Admit(addr, req); d == Allow {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != DefaultRateMax {
		t.Fatalf("expected exactly %d admissions under contention, got %d", DefaultRateMax, allowed)
	}
	if !g.Blocked(addr) {
		t.Fatal("expected address blacklisted after contention")
	}
}
