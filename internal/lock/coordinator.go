// Package lock implements the quorum-based distributed locking protocol and
// the coordinator that binds granted locks to pool credentials.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kneutral-org/credential-broker/internal/credential"
	"github.com/kneutral-org/credential-broker/internal/lease"
	"github.com/kneutral-org/credential-broker/internal/leasestore"
	"github.com/kneutral-org/credential-broker/internal/logging"
	"github.com/kneutral-org/credential-broker/internal/metrics"
)

// DefaultResourceKey is the single contention key used when a request does
// not partition the pool further.
const DefaultResourceKey = "credential-pool"

// CoordinatorConfig holds the tunable parameters of the locking protocol.
// Zero values fall back to the defaults below.
type CoordinatorConfig struct {
	// MinLeaseDuration and MaxLeaseDuration bound the requested duration.
	// Out-of-range requests are clamped, not rejected.
	MinLeaseDuration time.Duration
	MaxLeaseDuration time.Duration

	// DefaultLeaseDuration applies when a request omits the duration.
	DefaultLeaseDuration time.Duration

	// DriftFactor and DriftConstant form the clock-drift safety margin
	// deducted from the requested duration: margin = duration*factor + constant.
	DriftFactor   float64
	DriftConstant time.Duration

	// Retry governs internal retries of transient store failures. Logical
	// contention is never retried internally.
	Retry RetryPolicy
}

const (
	defaultMinLeaseDuration     = 5 * time.Second
	defaultMaxLeaseDuration     = 30 * time.Minute
	defaultDefaultLeaseDuration = 5 * time.Minute
	defaultDriftFactor          = 0.01
	defaultDriftConstant        = 100 * time.Millisecond
)

func (c CoordinatorConfig) withDefaults() CoordinatorConfig {
	if c.MinLeaseDuration <= 0 {
		c.MinLeaseDuration = defaultMinLeaseDuration
	}
	if c.MaxLeaseDuration <= 0 {
		c.MaxLeaseDuration = defaultMaxLeaseDuration
	}
	if c.DefaultLeaseDuration <= 0 {
		c.DefaultLeaseDuration = defaultDefaultLeaseDuration
	}
	if c.DriftFactor <= 0 {
		c.DriftFactor = defaultDriftFactor
	}
	if c.DriftConstant <= 0 {
		c.DriftConstant = defaultDriftConstant
	}
	c.Retry = c.Retry.withDefaults()
	return c
}

// Grant is the result of a successful acquisition: the recorded lease plus
// the bound credential's material for the holder.
type Grant struct {
	Lease      *lease.Lease
	Credential credential.Credential

	// CredentialDegraded flags that the credential came from the degraded
	// fallback tier.
	CredentialDegraded bool
}

// Coordinator implements the quorum acquisition, release, and renewal
// protocol over N lease store nodes, and keeps the credential pool and
// lease registry consistent with the quorum-agreed state. The true source
// of truth for mutual exclusion is the node quorum, not this process's
// memory, so independent coordinator instances can serve the same pool.
type Coordinator struct {
	nodes    []leasestore.Node
	pool     *credential.Pool
	registry *lease.Registry
	cfg      CoordinatorConfig
	logger   zerolog.Logger
	clock    func() time.Time
}

// NewCoordinator creates a coordinator over the given store nodes.
func NewCoordinator(nodes []leasestore.Node, pool *credential.Pool, registry *lease.Registry, cfg CoordinatorConfig, logger zerolog.Logger) (*Coordinator, error) {
	if len(nodes) == 0 {
		return nil, errors.New("coordinator requires at least one lease store node")
	}
	return &Coordinator{
		nodes:    nodes,
		pool:     pool,
		registry: registry,
		cfg:      cfg.withDefaults(),
		logger:   logger.With().Str("component", "lock-coordinator").Logger(),
		clock:    time.Now,
	}, nil
}

// SetClock overrides the coordinator's time source. For tests.
func (c *Coordinator) SetClock(clock func() time.Time) {
	c.clock = clock
}

// quorum is the strict majority of configured nodes.
func (c *Coordinator) quorum() int {
	return len(c.nodes)/2 + 1
}

func (c *Coordinator) clampDuration(requested time.Duration) time.Duration {
	if requested <= 0 {
		requested = c.cfg.DefaultLeaseDuration
	}
	if requested < c.cfg.MinLeaseDuration {
		return c.cfg.MinLeaseDuration
	}
	if requested > c.cfg.MaxLeaseDuration {
		return c.cfg.MaxLeaseDuration
	}
	return requested
}

func (c *Coordinator) driftMargin(duration time.Duration) time.Duration {
	return time.Duration(float64(duration)*c.cfg.DriftFactor) + c.cfg.DriftConstant
}

// Acquire attempts to grant exclusive custody of a credential under the
// given resource key. Exactly one concurrent caller per key wins; losers
// receive ErrAcquisitionFailed immediately. Transient store failures are
// retried internally a bounded number of times with backoff.
func (c *Coordinator) Acquire(ctx context.Context, resourceKey, requester, requestID string, requested time.Duration) (*Grant, error) {
	if resourceKey == "" {
		resourceKey = DefaultResourceKey
	}

	start := c.clock()
	duration := c.clampDuration(requested)
	leaseID := uuid.New().String()

	var out acquireOutcome
	for attempt := 1; ; attempt++ {
		out = tryAcquireQuorum(ctx, c.nodes, resourceKey, leaseID, duration, c.logger)
		if len(out.acquired) >= c.quorum() {
			break
		}
		rollbackAcquired(ctx, out.acquired, resourceKey, leaseID, c.logger)

		if out.busy > 0 {
			// Logical contention: surface immediately, the caller owns
			// its backoff policy.
			metrics.RecordLockAcquisition(resourceKey, "contended")
			return nil, fmt.Errorf("%w: resource %q is held", ErrAcquisitionFailed, resourceKey)
		}
		if attempt >= c.cfg.Retry.MaxAttempts {
			metrics.RecordLockAcquisition(resourceKey, "store_unavailable")
			return nil, fmt.Errorf("%w: %d of %d nodes failed", ErrStoreUnavailable, out.failed, len(c.nodes))
		}
		if err := c.cfg.Retry.Wait(ctx, attempt); err != nil {
			metrics.RecordLockAcquisition(resourceKey, "cancelled")
			return nil, fmt.Errorf("%w: %v", ErrAcquisitionFailed, err)
		}
	}

	token, responded := fencingTokenQuorum(ctx, c.nodes, resourceKey, c.logger)
	if responded < c.quorum() {
		rollbackAcquired(ctx, out.acquired, resourceKey, leaseID, c.logger)
		metrics.RecordLockAcquisition(resourceKey, "store_unavailable")
		return nil, fmt.Errorf("%w: fencing counter quorum lost", ErrStoreUnavailable)
	}

	// The lease is only trusted for the requested duration minus the
	// drift margin and the time acquisition itself took.
	elapsed := c.clock().Sub(start)
	validity := duration - c.driftMargin(duration) - elapsed
	if validity <= 0 {
		rollbackAcquired(ctx, out.acquired, resourceKey, leaseID, c.logger)
		metrics.RecordLockAcquisition(resourceKey, "validity_exhausted")
		return nil, fmt.Errorf("%w: validity window exhausted during acquisition", ErrAcquisitionFailed)
	}

	sel, err := c.pool.Select()
	if err != nil {
		rollbackAcquired(ctx, out.acquired, resourceKey, leaseID, c.logger)
		metrics.RecordLockAcquisition(resourceKey, "pool_exhausted")
		return nil, err
	}

	now := c.clock()
	l := &lease.Lease{
		LeaseID:         leaseID,
		ResourceKey:     resourceKey,
		Requester:       requester,
		BoundCredential: sel.Credential.ID,
		RequestID:       requestID,
		GrantedAt:       now,
		ExpiresAt:       now.Add(validity),
		FencingToken:    token,
		Status:          lease.StatusActive,
	}
	c.registry.Put(l)

	metrics.RecordLockAcquisition(resourceKey, "granted")
	metrics.RecordLockAcquisitionDuration(resourceKey, elapsed.Seconds())
	metrics.SetActiveLeases(float64(c.registry.ActiveCount()))

	lg := logging.LeaseLogger(c.logger, leaseID, resourceKey)
	lg.Info().
		Str("requester", requester).
		Str("credentialId", sel.Credential.ID).
		Int64("fencingToken", token).
		Time("expiresAt", l.ExpiresAt).
		Bool("credentialDegraded", sel.Degraded).
		Msg("lease granted")

	return &Grant{Lease: l, Credential: sel.Credential, CredentialDegraded: sel.Degraded}, nil
}

// Release frees the lease and its bound credential. The presented fencing
// token must match the recorded one; a mismatch returns ErrStaleLease.
// Releasing an unknown (already released or reaped) lease is an idempotent
// no-op and returns a nil lease. The returned lease, when non-nil, carries
// the final Released state for usage reporting.
func (c *Coordinator) Release(ctx context.Context, leaseID string, fencingToken int64) (*lease.Lease, error) {
	l, err := c.registry.Get(leaseID)
	if err != nil {
		// Already gone: at-least-once release safety.
		return nil, nil
	}
	if l.FencingToken != fencingToken {
		return nil, fmt.Errorf("%w: presented token %d, recorded %d", ErrStaleLease, fencingToken, l.FencingToken)
	}

	responded, _ := releaseQuorum(ctx, c.nodes, l.ResourceKey, leaseID, c.logger)
	if responded < c.quorum() {
		return nil, fmt.Errorf("%w: release acknowledged by %d of %d nodes", ErrStoreUnavailable, responded, len(c.nodes))
	}

	final, err := c.registry.MarkReleased(leaseID)
	if err != nil {
		// Lost the race with the reaper; it already freed the credential.
		return nil, nil
	}
	c.pool.Release(final.BoundCredential)

	metrics.RecordLockRelease("released")
	metrics.SetActiveLeases(float64(c.registry.ActiveCount()))

	lg := logging.LeaseLogger(c.logger, leaseID, final.ResourceKey)
	lg.Info().
		Str("credentialId", final.BoundCredential).
		Msg("lease released")

	return final, nil
}

// Renew extends the lease's validity window if the fencing token still
// matches and a quorum of nodes still records this lease as the holder.
func (c *Coordinator) Renew(ctx context.Context, leaseID string, fencingToken int64, requested time.Duration) (*lease.Lease, error) {
	l, err := c.registry.Get(leaseID)
	if err != nil {
		return nil, fmt.Errorf("%w: lease no longer active", ErrStaleLease)
	}
	if l.FencingToken != fencingToken {
		return nil, fmt.Errorf("%w: presented token %d, recorded %d", ErrStaleLease, fencingToken, l.FencingToken)
	}

	duration := c.clampDuration(requested)
	responded, extended := extendQuorum(ctx, c.nodes, l.ResourceKey, leaseID, duration, c.logger)
	if extended < c.quorum() {
		if responded >= c.quorum() {
			// The quorum answered but no longer records this holder.
			return nil, fmt.Errorf("%w: store no longer records this lease", ErrStaleLease)
		}
		return nil, fmt.Errorf("%w: extend acknowledged by %d of %d nodes", ErrStoreUnavailable, responded, len(c.nodes))
	}

	validity := duration - c.driftMargin(duration)
	updated, err := c.registry.UpdateExpiry(leaseID, c.clock().Add(validity))
	if err != nil {
		return nil, fmt.Errorf("%w: lease no longer active", ErrStaleLease)
	}

	lg := logging.LeaseLogger(c.logger, leaseID, updated.ResourceKey)
	lg.Info().
		Time("expiresAt", updated.ExpiresAt).
		Msg("lease renewed")

	return updated, nil
}

// ForceRelease is the administrative bypass: it ignores fencing-token
// matching, unconditionally deletes the record from every node, and frees
// the bound credential. Idempotent on already-gone leases.
func (c *Coordinator) ForceRelease(ctx context.Context, leaseID string) (*lease.Lease, error) {
	l, err := c.registry.Get(leaseID)
	if err != nil {
		return nil, nil
	}

	forceReleaseQuorum(ctx, c.nodes, l.ResourceKey, c.logger)

	final, err := c.registry.MarkForceReleased(leaseID)
	if err != nil {
		return nil, nil
	}
	c.pool.Release(final.BoundCredential)

	metrics.RecordLockRelease("force_released")
	metrics.SetActiveLeases(float64(c.registry.ActiveCount()))

	lg := logging.LeaseLogger(c.logger, leaseID, final.ResourceKey)
	lg.Warn().
		Str("credentialId", final.BoundCredential).
		Msg("lease force released")

	return final, nil
}

// CleanupRecord issues a best-effort compare-and-delete of a stale store
// record. Used by the reaper after marking a lease expired; the nodes' own
// TTL expiry is the correctness backstop, so failures are ignored.
func (c *Coordinator) CleanupRecord(ctx context.Context, resourceKey, leaseID string) {
	releaseQuorum(ctx, c.nodes, resourceKey, leaseID, c.logger)
}

// StoreHealth pings every node and returns how many are reachable along
// with the total node count.
func (c *Coordinator) StoreHealth(ctx context.Context) (reachable, total int) {
	for _, node := range c.nodes {
		if err := node.Ping(ctx); err == nil {
			reachable++
		}
	}
	return reachable, len(c.nodes)
}

// QuorumReachable reports whether a strict majority of nodes responds.
func (c *Coordinator) QuorumReachable(ctx context.Context) bool {
	reachable, _ := c.StoreHealth(ctx)
	return reachable >= c.quorum()
}
