package guard

import (
	"sync"
	"time"
)

const DefaultBlacklistTTL = 5 * time.Minute

// Blacklist is a temporary deny-list keyed by source address.
// Expired entries are evicted lazily on read.
type Blacklist struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

// NewBlacklist creates a Blacklist whose entries live for ttl.
func NewBlacklist(ttl time.Duration) *Blacklist {
	return NewBlacklistWithClock(ttl, time.Now)
}

// NewBlacklistWithClock creates a Blacklist with a custom clock (for testing).
func NewBlacklistWithClock(ttl time.Duration, now func() time.Time) *Blacklist {
	if now == nil {
		panic("guard: nil clock")
	}
	if ttl <= 0 {
		ttl = DefaultBlacklistTTL
	}
	return &Blacklist{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		now:     now,
	}
}

// Blocked reports whether addr is currently denied. An entry whose expiry
// has been reached is removed and treated as absent.
func (b *Blacklist) Blocked(addr string) bool {
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	expiresAt, ok := b.entries[addr]
	if !ok {
		return false
	}
	if !now.Before(expiresAt) {
		delete(b.entries, addr)
		return false
	}
	return true
}

// Block adds addr or refreshes its expiry to now+ttl.
func (b *Blacklist) Block(addr string) time.Time {
	expiresAt := b.now().Add(b.ttl)

	b.mu.Lock()
	b.entries[addr] = expiresAt
	b.mu.Unlock()

	return expiresAt
}

// Len returns the number of stored entries, expired ones included.
func (b *Blacklist) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Cleanup removes expired entries.
func (b *Blacklist) Cleanup() int {
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for addr, expiresAt := range b.entries {
		if !now.Before(expiresAt) {
			delete(b.entries, addr)
			removed++
		}
	}
	return removed
}
