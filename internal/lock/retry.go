package lock

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy is a bounded-attempt exponential backoff with jitter. The
// coordinator applies it to transient store failures during acquisition;
// callers are expected to apply an equivalent policy around contention
// errors on their side.
type RetryPolicy struct {
	// MaxAttempts bounds the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the delay before the first retry; subsequent delays
	// double up to MaxDelay.
	BaseDelay time.Duration

	// MaxDelay caps the computed delay before jitter.
	MaxDelay time.Duration
}

// DefaultRetryPolicy returns the policy used when the configuration leaves
// retry settings unset.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    2 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	return p
}

// Delay returns the backoff before retry number attempt (1-based): an
// exponentially growing delay, capped, with half-range jitter to avoid
// synchronized retries against a hot key.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.BaseDelay << (attempt - 1)
	if delay > p.MaxDelay || delay <= 0 {
		delay = p.MaxDelay
	}

	half := delay / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

// Wait sleeps for the attempt's backoff delay, aborting early if the
// context is done.
func (p RetryPolicy) Wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(p.Delay(attempt))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
