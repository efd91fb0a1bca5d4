// Package main provides the entry point for the credential broker server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kneutral-org/credential-broker/internal/api"
	"github.com/kneutral-org/credential-broker/internal/config"
	"github.com/kneutral-org/credential-broker/internal/credential"
	"github.com/kneutral-org/credential-broker/internal/lease"
	"github.com/kneutral-org/credential-broker/internal/leasestore"
	"github.com/kneutral-org/credential-broker/internal/lock"
	"github.com/kneutral-org/credential-broker/internal/logging"
	"github.com/kneutral-org/credential-broker/internal/metrics"
	"github.com/kneutral-org/credential-broker/internal/middleware"
	"github.com/kneutral-org/credential-broker/internal/reaper"
	"github.com/kneutral-org/credential-broker/internal/stats"
)

const serviceName = "credential-broker"

func main() {
	cfg := config.Load()

	var logger zerolog.Logger
	if cfg.DevMode {
		logger = logging.NewPrettyLogger(serviceName, cfg.LogLevel)
	} else {
		logger = logging.NewLogger(serviceName, cfg.LogLevel)
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Lease store nodes forming the lock quorum.
	nodes := buildStoreNodes(cfg, logger)
	if len(nodes)%2 == 0 {
		logger.Warn().Int("nodes", len(nodes)).Msg("even node count tolerates fewer failures than the next odd count")
	}

	// Credential pool.
	creds := make([]credential.Credential, 0, len(cfg.CredentialList()))
	for i, key := range cfg.CredentialList() {
		creds = append(creds, credential.Credential{
			ID:     fmt.Sprintf("cred-%d", i+1),
			Secret: key,
		})
	}
	pool, err := credential.NewPool(creds, credential.Thresholds{
		DegradedAfter:    cfg.HealthDegradedAfter,
		UnavailableAfter: cfg.HealthUnavailableAfter,
		RecoverAfter:     cfg.HealthRecoverAfter,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build credential pool")
	}

	registry := lease.NewRegistry()
	coordinator, err := lock.NewCoordinator(nodes, pool, registry, lock.CoordinatorConfig{
		MinLeaseDuration:     cfg.MinLeaseDuration,
		MaxLeaseDuration:     cfg.MaxLeaseDuration,
		DefaultLeaseDuration: cfg.DefaultLeaseDuration,
		DriftFactor:          cfg.DriftFactor,
		DriftConstant:        cfg.DriftConstant,
		Retry:                lock.RetryPolicy{MaxAttempts: cfg.AcquireRetryCount},
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build lock coordinator")
	}

	// Usage archive.
	statsStore, statsCleanup := buildStatsStore(cfg, logger)
	defer statsCleanup()

	retention := stats.NewRetentionJob(statsStore, cfg.StatsRetention, time.Hour, logger)
	retention.Start()
	defer retention.Stop()

	// Reaper, gated behind leadership when enabled so only one instance
	// of a deployment sweeps.
	var reaperOpts []reaper.Option
	var elector *lock.SweepLeader
	if cfg.LeaderElectionEnabled {
		// Leadership outlives three missed sweeps before a successor can
		// take over, with a floor so very short sweep intervals don't turn
		// every renewal into an election.
		leaderTTL := 3 * cfg.ReaperInterval
		if leaderTTL < 30*time.Second {
			leaderTTL = 30 * time.Second
		}
		leaderLock := lock.NewQuorumLock(nodes, "credbroker:reaper-leader", leaderTTL, logger,
			lock.WithHolderID(serviceName+"-"+uuid.New().String()))
		elector = lock.NewSweepLeader(leaderLock, leaderTTL, logger,
			lock.OnElected(func() {
				logger.Info().Msg("assumed reaper leadership")
			}),
			lock.OnDeposed(func(err error) {
				logger.Warn().Err(err).Msg("lost reaper leadership")
			}),
		)
		elector.Start()
		reaperOpts = append(reaperOpts, reaper.WithLeaderGate(elector.Leading))
	}

	rp := reaper.New(coordinator, registry, pool, cfg.ReaperInterval, logger, reaperOpts...)
	rp.Start()
	defer rp.Stop()

	// HTTP surface.
	if os.Getenv("GIN_MODE") == "" && !cfg.DevMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.RequestLogger(logger))
	router.Use(middleware.PayloadLimitErrorHandler(logger))
	router.Use(middleware.PayloadLimit(cfg.MaxPayloadSize, logger))

	handler := api.NewHandler(coordinator, pool, registry, rp, statsStore, cfg, logger)
	handler.RegisterHealthRoute(router)
	metrics.RegisterMetricsEndpoint(router)

	apiV1 := router.Group("/api/v1")
	apiV1.Use(middleware.ServiceTokenAuth(cfg.ServiceToken, cfg.DevMode, logger))
	handler.RegisterRoutes(apiV1)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Int("storeNodes", len(nodes)).
			Int("credentials", pool.Size()).
			Bool("devMode", cfg.DevMode).
			Msg("starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	if elector != nil {
		elector.Stop(ctx)
	}

	logger.Info().Msg("server exited properly")
}

// buildStoreNodes connects a Redis client per configured endpoint. Dev mode
// without endpoints falls back to a single in-memory node.
func buildStoreNodes(cfg *config.Config, logger zerolog.Logger) []leasestore.Node {
	if len(cfg.LeaseStoreAddrs) == 0 {
		logger.Warn().Msg("no lease store endpoints configured, using in-memory node (dev mode)")
		return []leasestore.Node{leasestore.NewMemoryNode("memory-0")}
	}

	nodes := make([]leasestore.Node, 0, len(cfg.LeaseStoreAddrs))
	for _, addr := range cfg.LeaseStoreAddrs {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			DB:       cfg.RedisDB,
			Password: cfg.RedisPassword,
		})
		nodes = append(nodes, leasestore.NewRedisNode(client, addr))
	}
	return nodes
}

// buildStatsStore picks the PostgreSQL archive when configured and falls
// back to the in-memory one otherwise. The returned cleanup closes the
// database pool.
func buildStatsStore(cfg *config.Config, logger zerolog.Logger) (stats.Store, func()) {
	if cfg.StatsDatabaseURL == "" {
		logger.Info().Msg("usage archive running in memory")
		return stats.NewMemoryStore(), func() {}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := pgxpool.New(ctx, cfg.StatsDatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect usage archive database")
	}
	if err := db.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("usage archive database unreachable")
	}
	logger.Info().Msg("usage archive backed by PostgreSQL")
	return stats.NewPostgresStore(db), db.Close
}
