package reaper

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kneutral-org/credential-broker/internal/credential"
	"github.com/kneutral-org/credential-broker/internal/lease"
	"github.com/kneutral-org/credential-broker/internal/leasestore"
	"github.com/kneutral-org/credential-broker/internal/lock"
)

type fixture struct {
	reaper      *Reaper
	coordinator *lock.Coordinator
	registry    *lease.Registry
	pool        *credential.Pool
	nodes       []*leasestore.MemoryNode
	now         time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	memNodes := make([]*leasestore.MemoryNode, 3)
	nodes := make([]leasestore.Node, 3)
	for i := range memNodes {
		memNodes[i] = leasestore.NewMemoryNode(fmt.Sprintf("node-%d", i))
		nodes[i] = memNodes[i]
	}

	pool, err := credential.NewPool([]credential.Credential{
		{ID: "cred-1", Secret: "sk-test-secret-material-1"},
		{ID: "cred-2", Secret: "sk-test-secret-material-2"},
	}, credential.Thresholds{}, zerolog.Nop())
	require.NoError(t, err)

	registry := lease.NewRegistry()
	coordinator, err := lock.NewCoordinator(nodes, pool, registry, lock.CoordinatorConfig{}, zerolog.Nop())
	require.NoError(t, err)

	f := &fixture{
		coordinator: coordinator,
		registry:    registry,
		pool:        pool,
		nodes:       memNodes,
		now:         time.Now(),
	}
	opts = append(opts, WithClock(func() time.Time { return f.now }))
	f.reaper = New(coordinator, registry, pool, time.Minute, zerolog.Nop(), opts...)
	return f
}

func TestReaper_SweepEvictsExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	grant, err := f.coordinator.Acquire(ctx, "credential-pool", "svc", "req-1", time.Minute)
	require.NoError(t, err)

	// Nothing to reap while the lease is live.
	assert.Equal(t, 0, f.reaper.Sweep(ctx))
	assert.Equal(t, 1, f.registry.ActiveCount())

	// Step past the expiry and sweep.
	f.now = grant.Lease.ExpiresAt.Add(time.Second)
	assert.Equal(t, 1, f.reaper.Sweep(ctx))
	assert.Equal(t, 0, f.registry.ActiveCount())

	_, err = f.registry.Get(grant.Lease.LeaseID)
	assert.ErrorIs(t, err, lease.ErrNotFound)

	// The credential went back to the pool.
	assert.Equal(t, 2, f.pool.Size())
	sel, err := f.pool.Select()
	require.NoError(t, err)
	f.pool.Release(sel.Credential.ID)
}

func TestReaper_SweepCleansStoreRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	grant, err := f.coordinator.Acquire(ctx, "credential-pool", "svc", "req-1", time.Minute)
	require.NoError(t, err)

	f.now = grant.Lease.ExpiresAt.Add(time.Second)
	f.reaper.Sweep(ctx)

	for _, n := range f.nodes {
		assert.Empty(t, n.Holder("credential-pool"))
	}
}

func TestReaper_SweepSkipsLiveLeases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	expired, err := f.coordinator.Acquire(ctx, "pool-alpha", "svc-a", "req-1", time.Minute)
	require.NoError(t, err)
	live, err := f.coordinator.Acquire(ctx, "pool-beta", "svc-b", "req-2", 30*time.Minute)
	require.NoError(t, err)

	f.now = expired.Lease.ExpiresAt.Add(time.Second)
	assert.Equal(t, 1, f.reaper.Sweep(ctx))

	_, err = f.registry.Get(live.Lease.LeaseID)
	assert.NoError(t, err)
}

func TestReaper_LeaderGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	grant, err := f.coordinator.Acquire(ctx, "credential-pool", "svc", "req-1", time.Minute)
	require.NoError(t, err)
	expiry := grant.Lease.ExpiresAt.Add(time.Second)

	// The gate guards the background loop; exercise it through Start/Stop
	// with a short interval.
	var leader atomic.Bool
	r := New(f.coordinator, f.registry, f.pool, 10*time.Millisecond, zerolog.Nop(),
		WithLeaderGate(leader.Load),
		WithClock(func() time.Time { return expiry }),
	)
	r.Start()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, f.registry.ActiveCount(), "non-leader must not reap")

	leader.Store(true)
	time.Sleep(50 * time.Millisecond)
	r.Stop()
	assert.Equal(t, 0, f.registry.ActiveCount(), "leader reaps on the next tick")
}

func TestReaper_StartStop(t *testing.T) {
	f := newFixture(t)

	r := New(f.coordinator, f.registry, f.pool, 10*time.Millisecond, zerolog.Nop())
	r.Start()
	time.Sleep(30 * time.Millisecond)
	r.Stop()
}
