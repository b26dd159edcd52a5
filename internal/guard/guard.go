package guard

import (
	"crypto/subtle"

	"golang.org/x/crypto/blake2b"
)

// Decision is the outcome of an admission check.
type Decision int

const (
	// Allow lets the message through to its handler.
	Allow Decision = iota
	// DenySilent closes the connection without any response.
	DenySilent
	// DenyNotify sends the generic failure notice, then closes the connection.
	DenyNotify
)

// Reason describes why a message was denied. It is only ever logged locally.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonBlacklisted Reason = "blacklisted"
	ReasonRateLimited Reason = "rate_limited"
	ReasonMalformed   Reason = "malformed"
	ReasonBadSecret   Reason = "bad_secret"
	ReasonIdentity    Reason = "identity_mismatch"
)

// Request is what the guard needs from an inbound message.
type Request interface {
	Secret() string
	Validate() error
}

// Guard composes the rate limiter, the blacklist and the shared secret into
// a single admission decision. It is safe for concurrent use.
type Guard struct {
	limiter   *RateLimiter
	blacklist *Blacklist
	secret    [blake2b.Size256]byte
	hasSecret bool
}

// New creates a Guard. An empty secret makes every secret check fail.
func New(secret string, limiter *RateLimiter, blacklist *Blacklist) *Guard {
	if limiter == nil {
		panic("guard: nil RateLimiter")
	}
	if blacklist == nil {
		panic("guard: nil Blacklist")
	}
	g := &Guard{
		limiter:   limiter,
		blacklist: blacklist,
	}
	if secret != "" {
		g.secret = blake2b.Sum256([]byte(secret))
		g.hasSecret = true
	}
	return g
}

// Admit checks one inbound message from addr. Order matters: blacklist,
// rate limit, schema, secret. Any failure after the blacklist check blocks
// addr, so rate abuse and secret guessing look identical to the caller.
func (g *Guard) Admit(addr string, req Request) (Decision, Reason) {
	if g.blacklist.Blocked(addr) {
		return DenySilent, ReasonBlacklisted
	}
	if !g.limiter.Allow(addr) {
		g.blacklist.Block(addr)
		return DenyNotify, ReasonRateLimited
	}
	if err := req.Validate(); err != nil {
		g.blacklist.Block(addr)
		return DenyNotify, ReasonMalformed
	}
	if !g.secretMatches(req.Secret()) {
		g.blacklist.Block(addr)
		return DenyNotify, ReasonBadSecret
	}
	return Allow, ReasonNone
}

// Reject blocks addr after a failure detected past admission, such as a
// verification attempt for the wrong identity.
func (g *Guard) Reject(addr string) {
	g.blacklist.Block(addr)
}

// Blocked reports whether addr is currently blacklisted.
func (g *Guard) Blocked(addr string) bool {
	return g.blacklist.Blocked(addr)
}

// Sweep drops ended rate windows and expired blacklist entries so that the
// shared maps do not grow with every address ever seen.
func (g *Guard) Sweep() (windows, entries int) {
	return g.limiter.Cleanup(), g.blacklist.Cleanup()
}

func (g *Guard) secretMatches(candidate string) bool {
	if !g.hasSecret || candidate == "" {
		return false
	}
	sum := blake2b.Sum256([]byte(candidate))
	return subtle.ConstantTimeCompare(sum[:], g.secret[:]) == 1
}
