package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_RecordAndSummarize(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	records := []Record{
		{LeaseID: "l-1", Requester: "labeling", CredentialID: "cred-1", Success: true, Duration: 2 * time.Second, Units: 100, RecordedAt: base},
		{LeaseID: "l-2", Requester: "labeling", CredentialID: "cred-2", Success: false, ErrorDetail: "rate limited", Duration: time.Second, Units: 0, RecordedAt: base.Add(time.Minute)},
		{LeaseID: "l-3", Requester: "search", CredentialID: "cred-1", Success: true, Duration: 3 * time.Second, Units: 50, RecordedAt: base.Add(2 * time.Minute)},
	}
	for _, rec := range records {
		require.NoError(t, store.Record(ctx, rec))
	}

	summary, err := store.Summarize(ctx, base.Add(-time.Hour))
	require.NoError(t, err)

	assert.Equal(t, int64(3), summary.TotalRequests)
	assert.Equal(t, int64(150), summary.TotalUnits)
	require.Len(t, summary.Requesters, 2)

	// Sorted by request count descending.
	labeling := summary.Requesters[0]
	assert.Equal(t, "labeling", labeling.Requester)
	assert.Equal(t, int64(2), labeling.Requests)
	assert.Equal(t, int64(1), labeling.Successes)
	assert.Equal(t, int64(1), labeling.Failures)
	assert.Equal(t, int64(100), labeling.UnitsConsumed)
	assert.Equal(t, 3*time.Second, labeling.TotalDuration)
	assert.Equal(t, base.Add(time.Minute), labeling.LastUsed)

	assert.Equal(t, "search", summary.Requesters[1].Requester)
}

func TestMemoryStore_SummarizeHonoursSince(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, store.Record(ctx, Record{LeaseID: "old", Requester: "svc", Units: 10, RecordedAt: base.Add(-2 * time.Hour)}))
	require.NoError(t, store.Record(ctx, Record{LeaseID: "new", Requester: "svc", Units: 20, RecordedAt: base}))

	summary, err := store.Summarize(ctx, base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.TotalRequests)
	assert.Equal(t, int64(20), summary.TotalUnits)
}

func TestMemoryStore_SummarizeEmpty(t *testing.T) {
	store := NewMemoryStore()

	summary, err := store.Summarize(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, summary.TotalRequests)
	assert.Empty(t, summary.Requesters)
}

func TestMemoryStore_RecordDefaultsRecordedAt(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, Record{LeaseID: "l-1", Requester: "svc"}))

	summary, err := store.Summarize(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.TotalRequests)
}

func TestMemoryStore_Cleanup(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, store.Record(ctx, Record{LeaseID: "old-1", Requester: "svc", RecordedAt: base.Add(-48 * time.Hour)}))
	require.NoError(t, store.Record(ctx, Record{LeaseID: "old-2", Requester: "svc", RecordedAt: base.Add(-25 * time.Hour)}))
	require.NoError(t, store.Record(ctx, Record{LeaseID: "fresh", Requester: "svc", RecordedAt: base}))

	removed, err := store.Cleanup(ctx, base.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	summary, err := store.Summarize(ctx, base.Add(-72*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.TotalRequests)
}
