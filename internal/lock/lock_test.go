package lock

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kneutral-org/credential-broker/internal/leasestore"
)

func newQuorumNodes(count int) ([]*leasestore.MemoryNode, []leasestore.Node) {
	mems := make([]*leasestore.MemoryNode, count)
	nodes := make([]leasestore.Node, count)
	for i := range mems {
		mems[i] = leasestore.NewMemoryNode(fmt.Sprintf("node-%d", i))
		nodes[i] = mems[i]
	}
	return mems, nodes
}

func TestQuorumLock_AcquireRelease(t *testing.T) {
	mems, nodes := newQuorumNodes(3)
	lk := NewQuorumLock(nodes, "reaper-leader", 30*time.Second, zerolog.Nop(), WithHolderID("instance-a"))
	ctx := context.Background()

	acquired, err := lk.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.True(t, lk.IsHeld())

	for _, n := range mems {
		assert.Equal(t, "instance-a", n.Holder("reaper-leader"))
	}

	require.NoError(t, lk.Release(ctx))
	assert.False(t, lk.IsHeld())
	for _, n := range mems {
		assert.Empty(t, n.Holder("reaper-leader"))
	}
}

func TestQuorumLock_MutualExclusion(t *testing.T) {
	_, nodes := newQuorumNodes(3)
	a := NewQuorumLock(nodes, "reaper-leader", 30*time.Second, zerolog.Nop(), WithHolderID("instance-a"))
	b := NewQuorumLock(nodes, "reaper-leader", 30*time.Second, zerolog.Nop(), WithHolderID("instance-b"))
	ctx := context.Background()

	acquired, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, acquired)

	acquired, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, acquired)
	assert.False(t, b.IsHeld())

	// Once released, the other instance can take over.
	require.NoError(t, a.Release(ctx))
	acquired, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestQuorumLock_Extend(t *testing.T) {
	mems, nodes := newQuorumNodes(3)
	lk := NewQuorumLock(nodes, "reaper-leader", 30*time.Second, zerolog.Nop(), WithHolderID("instance-a"))
	ctx := context.Background()

	acquired, err := lk.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, acquired)

	require.NoError(t, lk.Extend(ctx))

	// Losing the record on every node makes Extend report loss of the lock.
	for _, n := range mems {
		require.NoError(t, n.ForceRelease(ctx, "reaper-leader"))
	}
	err = lk.Extend(ctx)
	assert.ErrorIs(t, err, ErrLockNotHeld)
	assert.False(t, lk.IsHeld())
}

func TestQuorumLock_ExtendDuringStoreOutage(t *testing.T) {
	flaky := make([]*flakyNode, 3)
	nodes := make([]leasestore.Node, 3)
	for i := range flaky {
		flaky[i] = &flakyNode{MemoryNode: leasestore.NewMemoryNode(fmt.Sprintf("node-%d", i))}
		nodes[i] = flaky[i]
	}
	lk := NewQuorumLock(nodes, "reaper-leader", 30*time.Second, zerolog.Nop(), WithHolderID("instance-a"))
	ctx := context.Background()

	acquired, err := lk.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, acquired)

	for _, n := range flaky {
		n.down.Store(true)
	}

	// A total outage is reported as such, not as losing the lock to a rival.
	err = lk.Extend(ctx)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.False(t, lk.IsHeld())
}

func TestQuorumLock_ExtendWithoutAcquire(t *testing.T) {
	_, nodes := newQuorumNodes(3)
	lk := NewQuorumLock(nodes, "reaper-leader", 30*time.Second, zerolog.Nop())

	err := lk.Extend(context.Background())
	assert.ErrorIs(t, err, ErrLockNotHeld)
}

func TestQuorumLock_ReleaseWhenNotHeld(t *testing.T) {
	_, nodes := newQuorumNodes(3)
	lk := NewQuorumLock(nodes, "reaper-leader", 30*time.Second, zerolog.Nop())

	assert.NoError(t, lk.Release(context.Background()))
}

func TestQuorumLock_AllNodesDown(t *testing.T) {
	nodes := []leasestore.Node{&downNode{"node-0"}, &downNode{"node-1"}, &downNode{"node-2"}}
	lk := NewQuorumLock(nodes, "reaper-leader", 30*time.Second, zerolog.Nop())

	_, err := lk.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestQuorumLock_Accessors(t *testing.T) {
	_, nodes := newQuorumNodes(3)
	lk := NewQuorumLock(nodes, "reaper-leader", 45*time.Second, zerolog.Nop())

	assert.Equal(t, "reaper-leader", lk.Key())
	assert.Equal(t, 45*time.Second, lk.TTL())
}
