// Package stats archives per-lease usage outcomes so operators can answer
// which services consumed which credentials, at what cost, and how often
// calls failed.
package stats

import (
	"context"
	"time"
)

// Record is one archived usage outcome, written when a holder reports
// usage on release. CredentialID is the pool entry's identifier; secret
// material never reaches the archive.
type Record struct {
	LeaseID      string        `json:"leaseId"`
	Requester    string        `json:"requester"`
	CredentialID string        `json:"credentialId"`
	Success      bool          `json:"success"`
	Duration     time.Duration `json:"duration"`
	Units        int64         `json:"units"`
	ErrorDetail  string        `json:"errorDetail,omitempty"`
	RecordedAt   time.Time     `json:"recordedAt"`
}

// RequesterSummary aggregates archived records for one requesting service.
type RequesterSummary struct {
	Requester     string        `json:"requester"`
	Requests      int64         `json:"requests"`
	Successes     int64         `json:"successes"`
	Failures      int64         `json:"failures"`
	UnitsConsumed int64         `json:"unitsConsumed"`
	TotalDuration time.Duration `json:"totalDuration"`
	LastUsed      time.Time     `json:"lastUsed"`
}

// Summary is the archive aggregation returned by the usage endpoint.
type Summary struct {
	Since         time.Time          `json:"since"`
	TotalRequests int64              `json:"totalRequests"`
	TotalUnits    int64              `json:"totalUnits"`
	Requesters    []RequesterSummary `json:"requesters"`
}

// Store archives usage records. Implementations must be safe for
// concurrent use.
type Store interface {
	// Record archives one usage outcome.
	Record(ctx context.Context, rec Record) error

	// Summarize aggregates records recorded at or after since, grouped by
	// requester and sorted by request count descending.
	Summarize(ctx context.Context, since time.Time) (*Summary, error)

	// Cleanup removes records older than the cutoff and returns how many
	// were removed.
	Cleanup(ctx context.Context, olderThan time.Time) (int64, error)
}
