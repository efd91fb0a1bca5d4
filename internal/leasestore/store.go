// Package leasestore defines the per-node lease store primitives the lock
// coordinator builds its quorum protocol on. Each node is an independent
// key-value store offering atomic create-if-absent with TTL, compare-and-
// delete, and a monotonic fencing counter.
package leasestore

import (
	"context"
	"time"
)

// Node is one independent lease store node. The coordinator tolerates
// partial node failure as long as a strict majority of nodes responds.
// Implementations must be safe for concurrent use.
type Node interface {
	// TryAcquire atomically creates the lock record for key with the given
	// holder value and TTL, only if no record exists. Returns true if the
	// record was created, false if the key is already held.
	TryAcquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)

	// ReleaseIfHeld deletes the record only if it is still held by the
	// given holder. Returns true if a record was deleted, false if the key
	// was absent or held by someone else.
	ReleaseIfHeld(ctx context.Context, key, holder string) (bool, error)

	// ExtendIfHeld resets the record's TTL only if it is still held by the
	// given holder. Returns false if the key was absent or held by someone
	// else.
	ExtendIfHeld(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)

	// ForceRelease unconditionally deletes the record.
	ForceRelease(ctx context.Context, key string) error

	// NextFencingToken increments and returns the node's fencing counter
	// for the key. Counters only move forward on a given node.
	NextFencingToken(ctx context.Context, key string) (int64, error)

	// Ping reports whether the node is reachable.
	Ping(ctx context.Context) error

	// Name identifies the node in logs and metrics.
	Name() string
}
