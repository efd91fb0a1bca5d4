package lock

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// electionTimeout bounds each acquire/renew round against the store.
const electionTimeout = 5 * time.Second

// SweepLeader elects a single broker instance to own shared maintenance
// duties, so the expiry reaper never runs on two instances at once.
// Leadership is a DistributedLock on a reserved key, renewed at a third of
// its TTL. A crashed leader is replaced within one lock lifetime with no
// handover protocol: the TTL lapses and the next campaign wins.
type SweepLeader struct {
	lock       DistributedLock
	renewEvery time.Duration
	logger     zerolog.Logger

	leading atomic.Bool

	onElected func()
	onDeposed func(err error)

	stopCh chan struct{}
	doneCh chan struct{}
}

// SweepLeaderOption configures a SweepLeader.
type SweepLeaderOption func(*SweepLeader)

// OnElected registers a callback invoked when this instance wins leadership.
func OnElected(fn func()) SweepLeaderOption {
	return func(l *SweepLeader) {
		l.onElected = fn
	}
}

// OnDeposed registers a callback invoked when leadership is lost. The error
// is ErrStoreUnavailable when the step-down was caused by losing the store
// quorum rather than the lock itself, and nil on a clean shutdown.
func OnDeposed(fn func(err error)) SweepLeaderOption {
	return func(l *SweepLeader) {
		l.onDeposed = fn
	}
}

// NewSweepLeader creates an elector over the given lock. ttl must match the
// lock's TTL; renewal runs at ttl/3 so two renewals can fail transiently
// before the lock lapses.
func NewSweepLeader(lk DistributedLock, ttl time.Duration, logger zerolog.Logger, opts ...SweepLeaderOption) *SweepLeader {
	l := &SweepLeader{
		lock:       lk,
		renewEvery: ttl / 3,
		logger:     logger.With().Str("component", "sweep-leader").Logger(),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.renewEvery <= 0 {
		l.renewEvery = time.Second
	}
	return l
}

// Start launches the election loop. The first campaign runs immediately.
func (l *SweepLeader) Start() {
	go l.run()
}

// Stop terminates the election loop and relinquishes leadership if held.
func (l *SweepLeader) Stop(ctx context.Context) {
	close(l.stopCh)
	<-l.doneCh

	if !l.leading.Load() {
		return
	}
	if err := l.lock.Release(ctx); err != nil {
		l.logger.Error().Err(err).Msg("failed to relinquish leadership on shutdown")
	} else {
		l.logger.Info().Msg("relinquished leadership on shutdown")
	}
	l.depose(nil)
}

// Leading reports whether this instance currently holds leadership.
func (l *SweepLeader) Leading() bool {
	return l.leading.Load()
}

func (l *SweepLeader) run() {
	defer close(l.doneCh)

	ticker := time.NewTicker(l.renewEvery)
	defer ticker.Stop()

	l.tick()
	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.tick()
		}
	}
}

func (l *SweepLeader) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), electionTimeout)
	defer cancel()

	if !l.leading.Load() {
		l.campaign(ctx)
		return
	}

	err := l.lock.Extend(ctx)
	if err == nil {
		return
	}
	if errors.Is(err, ErrStoreUnavailable) {
		// No point campaigning against an unreachable store; the next
		// tick retries once nodes come back.
		l.logger.Warn().Err(err).Msg("lost store quorum, stepping down as leader")
		l.depose(err)
		return
	}
	l.logger.Warn().Err(err).Msg("leadership renewal failed, stepping down")
	l.depose(err)
	l.campaign(ctx)
}

func (l *SweepLeader) campaign(ctx context.Context) {
	won, err := l.lock.Acquire(ctx)
	if err != nil {
		l.logger.Error().Err(err).Msg("leadership bid failed")
		return
	}
	if !won {
		l.logger.Debug().Msg("another instance holds leadership")
		return
	}

	l.logger.Info().Msg("won leadership")
	l.leading.Store(true)
	if l.onElected != nil {
		l.onElected()
	}
}

func (l *SweepLeader) depose(err error) {
	l.leading.Store(false)
	if l.onDeposed != nil {
		l.onDeposed(err)
	}
}
