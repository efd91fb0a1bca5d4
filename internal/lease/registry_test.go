package lease

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLease(id string, expiresAt time.Time) *Lease {
	return &Lease{
		LeaseID:         id,
		ResourceKey:     "credential-pool",
		Requester:       "labeling-service",
		BoundCredential: "cred-1",
		GrantedAt:       time.Now(),
		ExpiresAt:       expiresAt,
		FencingToken:    1,
		Status:          StatusActive,
	}
}

func TestRegistry_PutAndGet(t *testing.T) {
	r := NewRegistry()
	l := newTestLease("lease-1", time.Now().Add(time.Minute))

	r.Put(l)

	got, err := r.Get("lease-1")
	require.NoError(t, err)
	assert.Equal(t, "lease-1", got.LeaseID)
	assert.Equal(t, StatusActive, got.Status)

	// Mutating the returned copy must not affect the registry.
	got.Status = StatusReleased
	again, err := r.Get("lease-1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, again.Status)
}

func TestRegistry_Get_NotFound(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get("nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_ListActive_OrderedByGrantTime(t *testing.T) {
	r := NewRegistry()

	older := newTestLease("lease-old", time.Now().Add(time.Minute))
	older.GrantedAt = time.Now().Add(-time.Hour)
	newer := newTestLease("lease-new", time.Now().Add(time.Minute))

	r.Put(newer)
	r.Put(older)

	active := r.ListActive()
	require.Len(t, active, 2)
	assert.Equal(t, "lease-old", active[0].LeaseID)
	assert.Equal(t, "lease-new", active[1].LeaseID)
}

func TestRegistry_MarkReleased_Evicts(t *testing.T) {
	r := NewRegistry()
	r.Put(newTestLease("lease-1", time.Now().Add(time.Minute)))

	final, err := r.MarkReleased("lease-1")
	require.NoError(t, err)
	assert.Equal(t, StatusReleased, final.Status)
	assert.Equal(t, "cred-1", final.BoundCredential)

	_, err = r.Get("lease-1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Second mark is a no-op signalled via ErrNotFound.
	_, err = r.MarkReleased("lease-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_ExpiredBefore(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	r.Put(newTestLease("lease-expired", now.Add(-time.Second)))
	r.Put(newTestLease("lease-live", now.Add(time.Minute)))

	expired := r.ExpiredBefore(now)
	require.Len(t, expired, 1)
	assert.Equal(t, "lease-expired", expired[0].LeaseID)
}

func TestRegistry_UpdateExpiry(t *testing.T) {
	r := NewRegistry()
	r.Put(newTestLease("lease-1", time.Now().Add(time.Minute)))

	renewed := time.Now().Add(10 * time.Minute)
	l, err := r.UpdateExpiry("lease-1", renewed)
	require.NoError(t, err)
	assert.WithinDuration(t, renewed, l.ExpiresAt, time.Millisecond)

	_, err = r.UpdateExpiry("nonexistent", renewed)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusActive.Terminal())
	assert.True(t, StatusReleased.Terminal())
	assert.True(t, StatusExpired.Terminal())
	assert.True(t, StatusForceReleased.Terminal())
}
