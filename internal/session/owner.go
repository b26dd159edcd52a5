// Package session tracks whether a connection has proven it belongs to the
// owner.
package session

import (
	"sync/atomic"
)

// State is the verification state of a connection.
type State string

const (
	Unverified State = "unverified"
	Verified   State = "verified"
)

// Owner is the per-connection verification state machine. It starts
// Unverified and moves to Verified at most once; it never moves back.
type Owner struct {
	identity string
	verified atomic.Bool
}

// NewOwner creates an unverified session for the configured owner identity.
func NewOwner(identity string) *Owner {
	return &Owner{identity: identity}
}

// Verify compares the claimed identity with the owner identity and marks the
// session verified on an exact match. An empty owner identity never matches.
// A mismatch leaves the state unchanged; the caller decides what it means.
func (o *Owner) Verify(userID string) bool {
	if o.identity == "" || userID != o.identity {
		return false
	}
	o.verified.Store(true)
	return true
}

// Verified reports whether the owner has been verified on this connection.
func (o *Owner) Verified() bool {
	return o.verified.Load()
}

// State returns the current state.
func (o *Owner) State() State {
	if o.Verified() {
		return Verified
	}
	return Unverified
}
