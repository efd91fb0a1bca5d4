// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LockAcquisitions tracks lock acquisition attempts by resource key and outcome.
	LockAcquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lock_acquisitions_total",
			Help: "Total lock acquisition attempts by resource key and outcome",
		},
		[]string{"resource_key", "outcome"},
	)

	// LockAcquisitionDuration tracks end-to-end lock acquisition latency.
	LockAcquisitionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lock_acquisition_duration_seconds",
			Help:    "Lock acquisition latency in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"resource_key"},
	)

	// LockReleases tracks lock releases by kind (released, force_released, reaped).
	LockReleases = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lock_releases_total",
			Help: "Total lock releases by kind",
		},
		[]string{"kind"},
	)

	// ActiveLeases tracks the number of currently active leases.
	ActiveLeases = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_leases",
			Help: "Current number of active leases",
		},
	)

	// CredentialsByHealth tracks pool composition by health tier.
	CredentialsByHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "credentials_by_health",
			Help: "Current number of credentials by health tier",
		},
		[]string{"health"},
	)

	// CredentialOutcomes tracks reported usage outcomes per credential.
	CredentialOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credential_outcomes_total",
			Help: "Total reported credential usage outcomes by credential and result",
		},
		[]string{"credential_id", "result"},
	)

	// PoolExhaustions tracks selection attempts that found no usable credential.
	PoolExhaustions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "credential_pool_exhaustions_total",
			Help: "Total credential selections that failed because the pool was exhausted",
		},
	)

	// LeasesReaped tracks leases reclaimed by the expiry reaper.
	LeasesReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leases_reaped_total",
			Help: "Total expired leases reclaimed by the reaper",
		},
	)

	// StoreOperationErrors tracks lease store node failures by node and operation.
	StoreOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lease_store_errors_total",
			Help: "Total lease store node errors by node and operation",
		},
		[]string{"node", "operation"},
	)

	// HTTPRequestsTotal tracks total HTTP requests.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request duration.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// RegisterMetricsEndpoint registers the /metrics endpoint on a Gin router.
func RegisterMetricsEndpoint(router *gin.Engine) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// RecordLockAcquisition records a lock acquisition attempt outcome.
func RecordLockAcquisition(resourceKey, outcome string) {
	LockAcquisitions.WithLabelValues(resourceKey, outcome).Inc()
}

// RecordLockAcquisitionDuration records end-to-end acquisition latency.
func RecordLockAcquisitionDuration(resourceKey string, seconds float64) {
	LockAcquisitionDuration.WithLabelValues(resourceKey).Observe(seconds)
}

// RecordLockRelease records a lock release by kind.
func RecordLockRelease(kind string) {
	LockReleases.WithLabelValues(kind).Inc()
}

// SetActiveLeases sets the active lease gauge.
func SetActiveLeases(count float64) {
	ActiveLeases.Set(count)
}

// SetCredentialsByHealth sets the pool composition gauge for one tier.
func SetCredentialsByHealth(health string, count float64) {
	CredentialsByHealth.WithLabelValues(health).Set(count)
}

// RecordCredentialOutcome records a reported usage outcome.
func RecordCredentialOutcome(credentialID, result string) {
	CredentialOutcomes.WithLabelValues(credentialID, result).Inc()
}

// RecordPoolExhausted records a failed selection due to pool exhaustion.
func RecordPoolExhausted() {
	PoolExhaustions.Inc()
}

// RecordLeaseReaped records a lease reclaimed by the reaper.
func RecordLeaseReaped() {
	LeasesReaped.Inc()
}

// RecordStoreError records a lease store node failure.
func RecordStoreError(node, operation string) {
	StoreOperationErrors.WithLabelValues(node, operation).Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(method, path, status string) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(method, path string, seconds float64) {
	HTTPRequestDuration.WithLabelValues(method, path).Observe(seconds)
}
