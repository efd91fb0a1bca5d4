package stats

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const cleanupTimeout = 30 * time.Second

// RetentionJob periodically removes archived records older than the
// retention period.
type RetentionJob struct {
	store     Store
	retention time.Duration
	interval  time.Duration
	logger    zerolog.Logger
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewRetentionJob creates a retention job that prunes the archive at the
// specified interval.
func NewRetentionJob(store Store, retention, interval time.Duration, logger zerolog.Logger) *RetentionJob {
	return &RetentionJob{
		store:     store,
		retention: retention,
		interval:  interval,
		logger:    logger.With().Str("component", "stats-retention").Logger(),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the retention job in a background goroutine.
func (j *RetentionJob) Start() {
	go j.run()
}

// Stop signals the retention job to stop and waits for it to finish.
func (j *RetentionJob) Stop() {
	close(j.stopCh)
	<-j.doneCh
}

func (j *RetentionJob) run() {
	defer close(j.doneCh)

	// Run an initial prune
	j.prune()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stopCh:
			j.logger.Info().Msg("retention job stopped")
			return
		case <-ticker.C:
			j.prune()
		}
	}
}

func (j *RetentionJob) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	count, err := j.store.Cleanup(ctx, time.Now().Add(-j.retention))
	if err != nil {
		j.logger.Error().Err(err).Msg("failed to prune usage archive")
		return
	}

	if count > 0 {
		j.logger.Info().
			Int64("removedCount", count).
			Msg("pruned aged usage records")
	}
}
