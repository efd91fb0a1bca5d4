package lease

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when a lease id is not present in the registry.
var ErrNotFound = errors.New("lease not found")

// Registry is the in-process authoritative index of granted leases, used for
// introspection, forced release, and expiry reaping. Every mutation happens
// only as a direct consequence of a successful coordinator or reaper
// operation, so the registry stays consistent with the quorum-agreed store
// state by construction. Leases reaching a terminal status are evicted.
type Registry struct {
	mu     sync.RWMutex
	leases map[string]*Lease
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		leases: make(map[string]*Lease),
	}
}

// Put records a newly granted lease.
func (r *Registry) Put(l *Lease) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *l
	r.leases[l.LeaseID] = &cp
}

// Get returns a copy of the lease with the given id.
func (r *Registry) Get(leaseID string) (*Lease, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.leases[leaseID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *l
	return &cp, nil
}

// ListActive returns copies of all active leases, ordered by grant time.
func (r *Registry) ListActive() []*Lease {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Lease, 0, len(r.leases))
	for _, l := range r.leases {
		if l.Status == StatusActive {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].GrantedAt.Before(out[j].GrantedAt)
	})
	return out
}

// ActiveCount returns the number of active leases.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, l := range r.leases {
		if l.Status == StatusActive {
			n++
		}
	}
	return n
}

// ExpiredBefore returns copies of active leases whose expiry has passed at
// the given time. Used by the reaper to find reclamation candidates.
func (r *Registry) ExpiredBefore(now time.Time) []*Lease {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Lease
	for _, l := range r.leases {
		if l.Status == StatusActive && l.ExpiredAt(now) {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out
}

// MarkReleased transitions the lease to Released and evicts it, returning
// the final state. Returns ErrNotFound if the lease is already gone, which
// callers treat as an idempotent no-op.
func (r *Registry) MarkReleased(leaseID string) (*Lease, error) {
	return r.finalize(leaseID, StatusReleased)
}

// MarkExpired transitions the lease to Expired and evicts it. Invoked only
// by the reaper.
func (r *Registry) MarkExpired(leaseID string) (*Lease, error) {
	return r.finalize(leaseID, StatusExpired)
}

// MarkForceReleased transitions the lease to ForceReleased and evicts it.
func (r *Registry) MarkForceReleased(leaseID string) (*Lease, error) {
	return r.finalize(leaseID, StatusForceReleased)
}

// UpdateExpiry moves the lease's expiry forward after a successful renewal.
func (r *Registry) UpdateExpiry(leaseID string, expiresAt time.Time) (*Lease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.leases[leaseID]
	if !ok {
		return nil, ErrNotFound
	}
	l.ExpiresAt = expiresAt
	cp := *l
	return &cp, nil
}

func (r *Registry) finalize(leaseID string, status Status) (*Lease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.leases[leaseID]
	if !ok {
		return nil, ErrNotFound
	}
	l.Status = status
	delete(r.leases, leaseID)
	cp := *l
	return &cp, nil
}
