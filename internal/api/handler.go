// Package api provides the HTTP surface of the credential broker.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/kneutral-org/credential-broker/internal/config"
	"github.com/kneutral-org/credential-broker/internal/credential"
	"github.com/kneutral-org/credential-broker/internal/lease"
	"github.com/kneutral-org/credential-broker/internal/lock"
	"github.com/kneutral-org/credential-broker/internal/logging"
	"github.com/kneutral-org/credential-broker/internal/reaper"
	"github.com/kneutral-org/credential-broker/internal/stats"
)

// Version is the broker's reported version.
const Version = "1.0.0"

const defaultStatsWindow = 24 * time.Hour

// Handler exposes the lease and admin endpoints.
type Handler struct {
	coordinator *lock.Coordinator
	pool        *credential.Pool
	registry    *lease.Registry
	reaper      *reaper.Reaper
	statsStore  stats.Store
	cfg         *config.Config
	logger      zerolog.Logger
	startedAt   time.Time
}

// NewHandler creates the API handler with its dependencies.
func NewHandler(coordinator *lock.Coordinator, pool *credential.Pool, registry *lease.Registry, rp *reaper.Reaper, statsStore stats.Store, cfg *config.Config, logger zerolog.Logger) *Handler {
	return &Handler{
		coordinator: coordinator,
		pool:        pool,
		registry:    registry,
		reaper:      rp,
		statsStore:  statsStore,
		cfg:         cfg,
		logger:      logger.With().Str("component", "api").Logger(),
		startedAt:   time.Now(),
	}
}

// requestLogger returns the request-scoped logger installed by the request
// logging middleware, falling back to the handler's own logger when the
// middleware is not mounted.
func (h *Handler) requestLogger(c *gin.Context) zerolog.Logger {
	if logger := logging.LoggerFromContext(c.Request.Context()); logger.GetLevel() != zerolog.Disabled {
		return logger
	}
	return h.logger
}

// RegisterRoutes registers the authenticated API routes on the provided
// router group.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/lease/acquire", h.AcquireLease)
	router.POST("/lease/release", h.ReleaseLease)
	router.POST("/lease/renew", h.RenewLease)

	router.GET("/leases/active", h.GetActiveLeases)
	router.GET("/leases/:lease_id", h.GetLease)
	router.DELETE("/leases/:lease_id/force-release", h.ForceReleaseLease)

	router.GET("/pool/status", h.GetPoolStatus)
	router.GET("/stats/usage", h.GetUsageStats)
	router.GET("/system/info", h.GetSystemInfo)
	router.POST("/maintenance/cleanup-expired", h.CleanupExpired)
}

// RegisterHealthRoute registers the unauthenticated health endpoint.
func (h *Handler) RegisterHealthRoute(router gin.IRoutes) {
	router.GET("/health", h.GetHealth)
}

// AcquireLease grants exclusive custody of a pool credential.
func (h *Handler) AcquireLease(c *gin.Context) {
	var req AcquireRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), 0)
		return
	}

	duration := time.Duration(req.EstimatedDuration) * time.Second
	grant, err := h.coordinator.Acquire(c.Request.Context(), req.ResourceKey, req.ServiceName, req.RequestID, duration)
	if err != nil {
		h.respondAcquireError(c, req.ServiceName, err)
		return
	}

	c.JSON(http.StatusOK, AcquireResponse{
		LeaseID:            grant.Lease.LeaseID,
		Credential:         grant.Credential.Secret,
		CredentialID:       grant.Credential.ID,
		CredentialDegraded: grant.CredentialDegraded,
		FencingToken:       grant.Lease.FencingToken,
		AcquiredAt:         grant.Lease.GrantedAt,
		ExpiresAt:          grant.Lease.ExpiresAt,
		RequestID:          grant.Lease.RequestID,
		Status:             string(grant.Lease.Status),
	})
}

func (h *Handler) respondAcquireError(c *gin.Context, serviceName string, err error) {
	logger := h.requestLogger(c)
	logEvent := logger.Warn().Str("serviceName", serviceName).Err(err)

	switch {
	case errors.Is(err, lock.ErrAcquisitionFailed):
		logEvent.Msg("lease acquisition contended")
		respondError(c, http.StatusConflict, "LEASE_CONTENDED", err.Error(), 5)
	case errors.Is(err, lock.ErrPoolExhausted):
		logEvent.Msg("credential pool exhausted")
		respondError(c, http.StatusServiceUnavailable, "POOL_EXHAUSTED", err.Error(), 5)
	case errors.Is(err, lock.ErrStoreUnavailable):
		logEvent.Msg("lease store unavailable")
		respondError(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", err.Error(), 10)
	default:
		logger.Error().Str("serviceName", serviceName).Err(err).Msg("lease acquisition failed")
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", 10)
	}
}

// ReleaseLease frees a lease and, when a usage report is attached, folds
// the outcome into credential health and the usage archive.
func (h *Handler) ReleaseLease(c *gin.Context) {
	var req ReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), 0)
		return
	}

	final, err := h.coordinator.Release(c.Request.Context(), req.LeaseID, req.FencingToken)
	if err != nil {
		switch {
		case errors.Is(err, lock.ErrStaleLease):
			respondError(c, http.StatusConflict, "STALE_LEASE", err.Error(), 0)
		case errors.Is(err, lock.ErrStoreUnavailable):
			respondError(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", err.Error(), 10)
		default:
			lg := h.requestLogger(c)
			lg.Error().Str("leaseId", req.LeaseID).Err(err).Msg("lease release failed")
			respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", 0)
		}
		return
	}

	usageRecorded := false
	if final != nil && req.Usage != nil {
		usageRecorded = h.recordUsage(c, final, req)
	}

	c.JSON(http.StatusOK, ReleaseResponse{
		Success:       final != nil,
		LeaseID:       req.LeaseID,
		UsageRecorded: usageRecorded,
		Timestamp:     time.Now(),
	})
}

func (h *Handler) recordUsage(c *gin.Context, final *lease.Lease, req ReleaseRequest) bool {
	usage := req.Usage
	duration := time.Duration(usage.DurationSeconds * float64(time.Second))

	if err := h.pool.ReportOutcome(final.BoundCredential, usage.Success, duration, usage.UnitsConsumed, usage.ErrorDetail); err != nil {
		lg := h.requestLogger(c)
		lg.Warn().
			Str("leaseId", final.LeaseID).
			Str("credentialId", final.BoundCredential).
			Err(err).
			Msg("failed to report credential outcome")
	}

	requester := req.ServiceName
	if requester == "" {
		requester = final.Requester
	}
	rec := stats.Record{
		LeaseID:      final.LeaseID,
		Requester:    requester,
		CredentialID: final.BoundCredential,
		Success:      usage.Success,
		Duration:     duration,
		Units:        usage.UnitsConsumed,
		ErrorDetail:  usage.ErrorDetail,
		RecordedAt:   time.Now(),
	}
	if err := h.statsStore.Record(c.Request.Context(), rec); err != nil {
		lg := h.requestLogger(c)
		lg.Warn().Str("leaseId", final.LeaseID).Err(err).Msg("failed to archive usage record")
		return false
	}
	return true
}

// RenewLease extends an active lease's validity window.
func (h *Handler) RenewLease(c *gin.Context) {
	var req RenewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), 0)
		return
	}

	duration := time.Duration(req.ExtendDuration) * time.Second
	renewed, err := h.coordinator.Renew(c.Request.Context(), req.LeaseID, req.FencingToken, duration)
	if err != nil {
		switch {
		case errors.Is(err, lock.ErrStaleLease):
			respondError(c, http.StatusGone, "STALE_LEASE", err.Error(), 0)
		case errors.Is(err, lock.ErrStoreUnavailable):
			respondError(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", err.Error(), 10)
		default:
			lg := h.requestLogger(c)
			lg.Error().Str("leaseId", req.LeaseID).Err(err).Msg("lease renewal failed")
			respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", 0)
		}
		return
	}

	c.JSON(http.StatusOK, RenewResponse{
		LeaseID:      renewed.LeaseID,
		FencingToken: renewed.FencingToken,
		ExpiresAt:    renewed.ExpiresAt,
		Status:       string(renewed.Status),
	})
}

// GetActiveLeases lists all active leases (admin endpoint).
func (h *Handler) GetActiveLeases(c *gin.Context) {
	active := h.registry.ListActive()

	infos := make([]ActiveLeaseInfo, 0, len(active))
	for _, l := range active {
		infos = append(infos, leaseInfo(l))
	}

	c.JSON(http.StatusOK, ActiveLeasesResponse{
		Count:     len(infos),
		Leases:    infos,
		Timestamp: time.Now(),
	})
}

// GetLease returns one lease by ID.
func (h *Handler) GetLease(c *gin.Context) {
	l, err := h.registry.Get(c.Param("lease_id"))
	if err != nil {
		respondError(c, http.StatusNotFound, "LEASE_NOT_FOUND", "lease not found or no longer active", 0)
		return
	}
	c.JSON(http.StatusOK, leaseInfo(l))
}

// ForceReleaseLease unconditionally frees a lease (admin endpoint).
func (h *Handler) ForceReleaseLease(c *gin.Context) {
	leaseID := c.Param("lease_id")

	final, err := h.coordinator.ForceRelease(c.Request.Context(), leaseID)
	if err != nil {
		lg := h.requestLogger(c)
		lg.Error().Str("leaseId", leaseID).Err(err).Msg("force release failed")
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", 0)
		return
	}

	resp := ForceReleaseResponse{
		Success:   final != nil,
		LeaseID:   leaseID,
		Timestamp: time.Now(),
	}
	if final != nil {
		resp.Message = "lease force released"
	} else {
		resp.Message = "lease not found or already released"
	}
	c.JSON(http.StatusOK, resp)
}

// CleanupExpired triggers an immediate expiry sweep (admin endpoint).
func (h *Handler) CleanupExpired(c *gin.Context) {
	reaped := h.reaper.Sweep(c.Request.Context())

	c.JSON(http.StatusOK, CleanupResponse{
		Success:      true,
		ReapedLeases: reaped,
		Timestamp:    time.Now(),
	})
}

// GetPoolStatus returns the masked credential pool view (admin endpoint).
func (h *Handler) GetPoolStatus(c *gin.Context) {
	counts := h.pool.CountByHealth()

	c.JSON(http.StatusOK, PoolStatusResponse{
		Size:        h.pool.Size(),
		Healthy:     counts[credential.HealthHealthy],
		Degraded:    counts[credential.HealthDegraded],
		Unavailable: counts[credential.HealthUnavailable],
		Credentials: h.pool.Snapshot(),
		Timestamp:   time.Now(),
	})
}

// GetUsageStats aggregates the usage archive. The window defaults to the
// last 24 hours and is tunable via the since_hours query parameter.
func (h *Handler) GetUsageStats(c *gin.Context) {
	window := defaultStatsWindow
	if raw := c.Query("since_hours"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours <= 0 {
			respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "since_hours must be a positive integer", 0)
			return
		}
		window = time.Duration(hours) * time.Hour
	}

	summary, err := h.statsStore.Summarize(c.Request.Context(), time.Now().Add(-window))
	if err != nil {
		lg := h.requestLogger(c)
		lg.Error().Err(err).Msg("failed to summarize usage archive")
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", 0)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// GetSystemInfo returns masked configuration details (admin endpoint).
func (h *Handler) GetSystemInfo(c *gin.Context) {
	storeNodes := len(h.cfg.LeaseStoreAddrs)
	if storeNodes == 0 && h.cfg.DevMode {
		storeNodes = 1
	}

	c.JSON(http.StatusOK, SystemInfoResponse{
		ServiceName:      "credential-broker",
		Version:          Version,
		StoreNodes:       storeNodes,
		CredentialCount:  h.pool.Size(),
		MinLeaseDuration: h.cfg.MinLeaseDuration.String(),
		MaxLeaseDuration: h.cfg.MaxLeaseDuration.String(),
		ReaperInterval:   h.cfg.ReaperInterval.String(),
		DevMode:          h.cfg.DevMode,
		StartedAt:        h.startedAt,
		Timestamp:        time.Now(),
	})
}

// GetHealth reports broker health for monitoring. Healthy requires a
// reachable store quorum and at least one usable credential.
func (h *Handler) GetHealth(c *gin.Context) {
	reachable, total := h.coordinator.StoreHealth(c.Request.Context())
	quorumOK := reachable >= total/2+1
	counts := h.pool.CountByHealth()
	usable := counts[credential.HealthHealthy] + counts[credential.HealthDegraded]

	status := "healthy"
	httpStatus := http.StatusOK
	switch {
	case quorumOK && usable > 0:
		// healthy
	case quorumOK || usable > 0:
		status = "degraded"
	default:
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:                 status,
		Version:                Version,
		StoreNodesReachable:    reachable,
		StoreNodesTotal:        total,
		QuorumReachable:        quorumOK,
		CredentialsHealthy:     counts[credential.HealthHealthy],
		CredentialsDegraded:    counts[credential.HealthDegraded],
		CredentialsUnavailable: counts[credential.HealthUnavailable],
		ActiveLeases:           h.registry.ActiveCount(),
		UptimeSeconds:          time.Since(h.startedAt).Seconds(),
		Timestamp:              time.Now(),
	})
}

func leaseInfo(l *lease.Lease) ActiveLeaseInfo {
	return ActiveLeaseInfo{
		LeaseID:      l.LeaseID,
		ResourceKey:  l.ResourceKey,
		ServiceName:  l.Requester,
		CredentialID: l.BoundCredential,
		FencingToken: l.FencingToken,
		AcquiredAt:   l.GrantedAt,
		ExpiresAt:    l.ExpiresAt,
		RequestID:    l.RequestID,
		Status:       string(l.Status),
	}
}

func respondError(c *gin.Context, status int, code, message string, retryAfter int) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:      message,
		ErrorCode:  code,
		RetryAfter: retryAfter,
		Timestamp:  time.Now(),
	})
}
