// Package reaper evicts leases whose validity window has passed without a
// release, returning their credentials to the pool.
package reaper

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/kneutral-org/credential-broker/internal/credential"
	"github.com/kneutral-org/credential-broker/internal/lease"
	"github.com/kneutral-org/credential-broker/internal/lock"
	"github.com/kneutral-org/credential-broker/internal/metrics"
)

const sweepTimeout = 30 * time.Second

// Reaper periodically sweeps the lease registry for expired leases. Each
// expired lease is marked terminal, its credential returned to the pool,
// and the stale store record cleaned up best-effort. The store nodes' own
// TTL expiry guarantees mutual exclusion even if a sweep is late, so the
// reaper only reconciles registry and pool state.
type Reaper struct {
	coordinator *lock.Coordinator
	registry    *lease.Registry
	pool        *credential.Pool
	interval    time.Duration
	logger      zerolog.Logger

	// isLeader gates sweeping so that only one instance of a deployment
	// reaps. A nil gate means always sweep.
	isLeader func() bool

	clock  func() time.Time
	stopCh chan struct{}
	doneCh chan struct{}
}

// Option configures a Reaper.
type Option func(*Reaper)

// WithLeaderGate restricts sweeping to the instance for which the gate
// returns true.
func WithLeaderGate(isLeader func() bool) Option {
	return func(r *Reaper) {
		r.isLeader = isLeader
	}
}

// WithClock overrides the reaper's time source. For tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Reaper) {
		r.clock = clock
	}
}

// New creates a reaper that sweeps at the specified interval.
func New(coordinator *lock.Coordinator, registry *lease.Registry, pool *credential.Pool, interval time.Duration, logger zerolog.Logger, opts ...Option) *Reaper {
	r := &Reaper{
		coordinator: coordinator,
		registry:    registry,
		pool:        pool,
		interval:    interval,
		logger:      logger.With().Str("component", "lease-reaper").Logger(),
		clock:       time.Now,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins sweeping in a background goroutine.
func (r *Reaper) Start() {
	go r.run()
}

// Stop signals the reaper to stop and waits for it to finish.
func (r *Reaper) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *Reaper) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.logger.Info().Msg("lease reaper stopped")
			return
		case <-ticker.C:
			if r.isLeader != nil && !r.isLeader() {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
			r.Sweep(ctx)
			cancel()
		}
	}
}

// Sweep evicts every lease whose expiry has passed and returns how many
// were reaped. Exported so the maintenance endpoint can trigger a sweep
// on demand.
func (r *Reaper) Sweep(ctx context.Context) int {
	now := r.clock()
	reaped := 0

	for _, l := range r.registry.ExpiredBefore(now) {
		final, err := r.registry.MarkExpired(l.LeaseID)
		if err != nil {
			// A release beat us to it.
			continue
		}
		r.pool.Release(final.BoundCredential)
		r.coordinator.CleanupRecord(ctx, final.ResourceKey, final.LeaseID)

		metrics.RecordLeaseReaped()
		reaped++

		r.logger.Info().
			Str("leaseId", final.LeaseID).
			Str("resourceKey", final.ResourceKey).
			Str("requester", final.Requester).
			Str("credentialId", final.BoundCredential).
			Time("expiredAt", final.ExpiresAt).
			Msg("expired lease reaped")
	}

	if reaped > 0 {
		metrics.SetActiveLeases(float64(r.registry.ActiveCount()))
	}
	return reaped
}
