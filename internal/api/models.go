package api

import (
	"time"

	"github.com/kneutral-org/credential-broker/internal/credential"
)

// AcquireRequest asks for exclusive custody of a pool credential.
// Durations are in seconds to keep the wire format language neutral.
type AcquireRequest struct {
	ServiceName       string `json:"service_name" binding:"required"`
	ResourceKey       string `json:"resource_key"`
	EstimatedDuration int    `json:"estimated_duration"`
	RequestID         string `json:"request_id"`
}

// AcquireResponse returns the granted lease and the bound credential's
// secret material. This is the only place secret material ever leaves the
// broker.
type AcquireResponse struct {
	LeaseID            string    `json:"lease_id"`
	Credential         string    `json:"credential"`
	CredentialID       string    `json:"credential_id"`
	CredentialDegraded bool      `json:"credential_degraded,omitempty"`
	FencingToken       int64     `json:"fencing_token"`
	AcquiredAt         time.Time `json:"acquired_at"`
	ExpiresAt          time.Time `json:"expires_at"`
	RequestID          string    `json:"request_id,omitempty"`
	Status             string    `json:"status"`
}

// UsageReport carries the holder's outcome for the finished lease, folded
// into credential health and the usage archive on release.
type UsageReport struct {
	Success         bool    `json:"success"`
	DurationSeconds float64 `json:"duration_seconds"`
	UnitsConsumed   int64   `json:"units_consumed"`
	ErrorDetail     string  `json:"error_detail,omitempty"`
}

// ReleaseRequest returns a lease to the broker.
type ReleaseRequest struct {
	LeaseID      string       `json:"lease_id" binding:"required"`
	FencingToken int64        `json:"fencing_token"`
	ServiceName  string       `json:"service_name"`
	Usage        *UsageReport `json:"usage,omitempty"`
}

// ReleaseResponse confirms a release.
type ReleaseResponse struct {
	Success       bool      `json:"success"`
	LeaseID       string    `json:"lease_id"`
	UsageRecorded bool      `json:"usage_recorded"`
	Timestamp     time.Time `json:"timestamp"`
}

// RenewRequest extends an active lease's validity window.
type RenewRequest struct {
	LeaseID        string `json:"lease_id" binding:"required"`
	FencingToken   int64  `json:"fencing_token"`
	ExtendDuration int    `json:"extend_duration"`
}

// RenewResponse returns the extended lease.
type RenewResponse struct {
	LeaseID      string    `json:"lease_id"`
	FencingToken int64     `json:"fencing_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	Status       string    `json:"status"`
}

// ActiveLeaseInfo is the admin view of one active lease. The credential
// appears only as its masked ID.
type ActiveLeaseInfo struct {
	LeaseID      string    `json:"lease_id"`
	ResourceKey  string    `json:"resource_key"`
	ServiceName  string    `json:"service_name"`
	CredentialID string    `json:"credential_id"`
	FencingToken int64     `json:"fencing_token"`
	AcquiredAt   time.Time `json:"acquired_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	RequestID    string    `json:"request_id,omitempty"`
	Status       string    `json:"status"`
}

// ActiveLeasesResponse lists all active leases.
type ActiveLeasesResponse struct {
	Count     int               `json:"count"`
	Leases    []ActiveLeaseInfo `json:"leases"`
	Timestamp time.Time         `json:"timestamp"`
}

// CleanupResponse reports a manual expiry sweep.
type CleanupResponse struct {
	Success      bool      `json:"success"`
	ReapedLeases int       `json:"reaped_leases"`
	Timestamp    time.Time `json:"timestamp"`
}

// ForceReleaseResponse reports an administrative force release.
type ForceReleaseResponse struct {
	Success   bool      `json:"success"`
	LeaseID   string    `json:"lease_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse is the monitoring view of the broker.
type HealthResponse struct {
	Status                 string    `json:"status"`
	Version                string    `json:"version"`
	StoreNodesReachable    int       `json:"store_nodes_reachable"`
	StoreNodesTotal        int       `json:"store_nodes_total"`
	QuorumReachable        bool      `json:"quorum_reachable"`
	CredentialsHealthy     int       `json:"credentials_healthy"`
	CredentialsDegraded    int       `json:"credentials_degraded"`
	CredentialsUnavailable int       `json:"credentials_unavailable"`
	ActiveLeases           int       `json:"active_leases"`
	UptimeSeconds          float64   `json:"uptime_seconds"`
	Timestamp              time.Time `json:"timestamp"`
}

// SystemInfoResponse is the masked configuration introspection view.
type SystemInfoResponse struct {
	ServiceName      string    `json:"service_name"`
	Version          string    `json:"version"`
	StoreNodes       int       `json:"store_nodes"`
	CredentialCount  int       `json:"credential_count"`
	MinLeaseDuration string    `json:"min_lease_duration"`
	MaxLeaseDuration string    `json:"max_lease_duration"`
	ReaperInterval   string    `json:"reaper_interval"`
	DevMode          bool      `json:"dev_mode"`
	StartedAt        time.Time `json:"started_at"`
	Timestamp        time.Time `json:"timestamp"`
}

// PoolStatusResponse is the admin view of the credential pool. Secrets are
// masked by the pool snapshot itself.
type PoolStatusResponse struct {
	Size        int               `json:"size"`
	Healthy     int               `json:"healthy"`
	Degraded    int               `json:"degraded"`
	Unavailable int               `json:"unavailable"`
	Credentials []credential.Info `json:"credentials"`
	Timestamp   time.Time         `json:"timestamp"`
}

// ErrorResponse is the uniform error shape. RetryAfter is in seconds and
// set only for retryable conditions.
type ErrorResponse struct {
	Error      string    `json:"error"`
	ErrorCode  string    `json:"error_code"`
	RetryAfter int       `json:"retry_after,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
