package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kneutral-org/credential-broker/internal/leasestore"
)

// ErrLockNotHeld is returned when trying to extend a lock that is not held.
var ErrLockNotHeld = errors.New("lock not held by this instance")

// DistributedLock is a single-key mutual-exclusion primitive used for
// instance-level coordination such as reaper leadership.
// Implementations must be safe for concurrent use.
type DistributedLock interface {
	// Acquire attempts to acquire the lock.
	// Returns true if the lock was acquired, false if it's already held.
	// The lock automatically expires after the configured TTL.
	Acquire(ctx context.Context) (bool, error)

	// Release releases the lock if it's held by this instance.
	// It's safe to call Release even if the lock is not held.
	Release(ctx context.Context) error

	// Extend extends the lock's TTL.
	// Returns an error if the lock is not held by this instance.
	Extend(ctx context.Context) error

	// IsHeld returns true if this instance currently holds the lock.
	IsHeld() bool
}

// QuorumLock implements DistributedLock over the same lease store node set
// the coordinator uses, so instance-level locks get the same partition
// tolerance as leases.
type QuorumLock struct {
	nodes  []leasestore.Node
	key    string
	holder string
	ttl    time.Duration
	logger zerolog.Logger

	mu   sync.RWMutex
	held bool
}

// QuorumLockOption configures a QuorumLock.
type QuorumLockOption func(*QuorumLock)

// WithHolderID sets a custom holder identity for the lock. Should be unique
// per instance so one instance can never release another's lock.
func WithHolderID(holder string) QuorumLockOption {
	return func(l *QuorumLock) {
		l.holder = holder
	}
}

// NewQuorumLock creates a distributed lock for the given key over the node
// set. The default holder identity is a random UUID.
func NewQuorumLock(nodes []leasestore.Node, key string, ttl time.Duration, logger zerolog.Logger, opts ...QuorumLockOption) *QuorumLock {
	l := &QuorumLock{
		nodes:  nodes,
		key:    key,
		holder: uuid.New().String(),
		ttl:    ttl,
		logger: logger.With().Str("component", "quorum-lock").Str("lockKey", key).Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *QuorumLock) quorum() int {
	return len(l.nodes)/2 + 1
}

// Acquire attempts a quorum create-if-absent across the node set. A partial
// grab that misses quorum is rolled back before returning false.
func (l *QuorumLock) Acquire(ctx context.Context) (bool, error) {
	out := tryAcquireQuorum(ctx, l.nodes, l.key, l.holder, l.ttl, l.logger)
	if len(out.acquired) >= l.quorum() {
		l.mu.Lock()
		l.held = true
		l.mu.Unlock()
		return true, nil
	}

	rollbackAcquired(ctx, out.acquired, l.key, l.holder, l.logger)
	if out.busy == 0 && out.failed == len(l.nodes) {
		return false, ErrStoreUnavailable
	}
	return false, nil
}

// Release releases the lock if held by this instance. Safe to call when not
// held.
func (l *QuorumLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return nil
	}
	releaseQuorum(ctx, l.nodes, l.key, l.holder, l.logger)
	l.held = false
	return nil
}

// Extend resets the TTL on a quorum of nodes. Losing quorum drops the held
// flag so the caller observes lost ownership. When no node responds at all
// the error is ErrStoreUnavailable rather than ErrLockNotHeld, letting the
// caller tell a store outage apart from losing the lock to another holder.
func (l *QuorumLock) Extend(ctx context.Context) error {
	l.mu.RLock()
	held := l.held
	l.mu.RUnlock()

	if !held {
		return ErrLockNotHeld
	}

	responded, extended := extendQuorum(ctx, l.nodes, l.key, l.holder, l.ttl, l.logger)
	if extended < l.quorum() {
		l.mu.Lock()
		l.held = false
		l.mu.Unlock()
		if responded == 0 {
			return ErrStoreUnavailable
		}
		return ErrLockNotHeld
	}
	return nil
}

// IsHeld returns true if this instance currently holds the lock.
func (l *QuorumLock) IsHeld() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.held
}

// Key returns the lock's key.
func (l *QuorumLock) Key() string {
	return l.key
}

// TTL returns the lock's TTL duration.
func (l *QuorumLock) TTL() time.Duration {
	return l.ttl
}
