// Package lease defines the lease model and the in-process registry of
// currently granted leases.
package lease

import (
	"time"
)

// Status represents the lifecycle state of a lease.
type Status string

const (
	StatusActive        Status = "active"
	StatusReleased      Status = "released"
	StatusExpired       Status = "expired"
	StatusForceReleased Status = "force_released"
)

// Terminal reports whether the status is a final state. A lease in a
// terminal state is evicted from the registry and never transitions again.
func (s Status) Terminal() bool {
	switch s {
	case StatusReleased, StatusExpired, StatusForceReleased:
		return true
	}
	return false
}

// Lease represents one grant of exclusive custody over a resource key,
// bound to a single credential for its entire lifetime.
type Lease struct {
	// LeaseID is an opaque unique identifier generated at acquisition.
	LeaseID string `json:"leaseId"`

	// ResourceKey is the logical resource the lease protects. All leases
	// for the same key contend with each other across every instance.
	ResourceKey string `json:"resourceKey"`

	// Requester is the name of the calling service. Attribution only,
	// never used for authorization.
	Requester string `json:"requester"`

	// BoundCredential is the identifier of the credential assigned at
	// grant time. It never changes for the lease's lifetime.
	BoundCredential string `json:"boundCredential"`

	// RequestID is the caller-supplied correlation identifier.
	RequestID string `json:"requestId,omitempty"`

	GrantedAt time.Time `json:"grantedAt"`
	ExpiresAt time.Time `json:"expiresAt"`

	// FencingToken is a monotonically increasing counter assigned at
	// grant. Release and renewal calls presenting an older token are
	// rejected as stale.
	FencingToken int64 `json:"fencingToken"`

	Status Status `json:"status"`
}

// ExpiredAt reports whether the lease has passed its expiry at the given time.
func (l *Lease) ExpiredAt(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// Remaining returns the validity left at the given time, or zero if expired.
func (l *Lease) Remaining(now time.Time) time.Duration {
	if l.ExpiredAt(now) {
		return 0
	}
	return l.ExpiresAt.Sub(now)
}
