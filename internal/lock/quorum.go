package lock

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/kneutral-org/credential-broker/internal/leasestore"
	"github.com/kneutral-org/credential-broker/internal/metrics"
)

// acquireOutcome summarizes one quorum acquisition round.
type acquireOutcome struct {
	// acquired holds the nodes that accepted the record, for rollback.
	acquired []leasestore.Node

	// busy counts nodes that refused because the key is already held.
	busy int

	// failed counts nodes that errored.
	failed int
}

// tryAcquireQuorum attempts the create-if-absent write on every node.
// Node errors are tallied, not escalated; the caller decides based on
// whether a strict majority accepted.
func tryAcquireQuorum(ctx context.Context, nodes []leasestore.Node, key, holder string, ttl time.Duration, logger zerolog.Logger) acquireOutcome {
	var out acquireOutcome
	for _, node := range nodes {
		ok, err := node.TryAcquire(ctx, key, holder, ttl)
		if err != nil {
			out.failed++
			metrics.RecordStoreError(node.Name(), "acquire")
			logger.Warn().
				Str("node", node.Name()).
				Str("resourceKey", key).
				Err(err).
				Msg("lease store node failed during acquire")
			continue
		}
		if ok {
			out.acquired = append(out.acquired, node)
		} else {
			out.busy++
		}
	}
	return out
}

// rollbackAcquired issues best-effort compare-and-deletes to the nodes that
// accepted a failed acquisition. Failures here are logged and dropped:
// rollback is cleanup, the node's own TTL is the safety backstop.
func rollbackAcquired(ctx context.Context, acquired []leasestore.Node, key, holder string, logger zerolog.Logger) {
	for _, node := range acquired {
		if _, err := node.ReleaseIfHeld(ctx, key, holder); err != nil {
			metrics.RecordStoreError(node.Name(), "rollback")
			logger.Warn().
				Str("node", node.Name()).
				Str("resourceKey", key).
				Err(err).
				Msg("rollback of partial quorum write failed, TTL will reclaim")
		}
	}
}

// releaseQuorum issues compare-and-deletes on every node. A node counts as
// responded whether or not it still held the record, keeping release
// idempotent.
func releaseQuorum(ctx context.Context, nodes []leasestore.Node, key, holder string, logger zerolog.Logger) (responded, released int) {
	for _, node := range nodes {
		ok, err := node.ReleaseIfHeld(ctx, key, holder)
		if err != nil {
			metrics.RecordStoreError(node.Name(), "release")
			logger.Warn().
				Str("node", node.Name()).
				Str("resourceKey", key).
				Err(err).
				Msg("lease store node failed during release")
			continue
		}
		responded++
		if ok {
			released++
		}
	}
	return responded, released
}

// extendQuorum issues compare-and-extends on every node.
func extendQuorum(ctx context.Context, nodes []leasestore.Node, key, holder string, ttl time.Duration, logger zerolog.Logger) (responded, extended int) {
	for _, node := range nodes {
		ok, err := node.ExtendIfHeld(ctx, key, holder, ttl)
		if err != nil {
			metrics.RecordStoreError(node.Name(), "extend")
			logger.Warn().
				Str("node", node.Name()).
				Str("resourceKey", key).
				Err(err).
				Msg("lease store node failed during extend")
			continue
		}
		responded++
		if ok {
			extended++
		}
	}
	return responded, extended
}

// forceReleaseQuorum unconditionally deletes the record on every node.
func forceReleaseQuorum(ctx context.Context, nodes []leasestore.Node, key string, logger zerolog.Logger) {
	for _, node := range nodes {
		if err := node.ForceRelease(ctx, key); err != nil {
			metrics.RecordStoreError(node.Name(), "force_release")
			logger.Warn().
				Str("node", node.Name()).
				Str("resourceKey", key).
				Err(err).
				Msg("lease store node failed during force release")
		}
	}
}

// fencingTokenQuorum advances the fencing counter on every node and returns
// the maximum over the responders. Taking the max over a strict majority
// keeps tokens strictly increasing across grants as long as any two quorums
// intersect.
func fencingTokenQuorum(ctx context.Context, nodes []leasestore.Node, key string, logger zerolog.Logger) (token int64, responded int) {
	for _, node := range nodes {
		t, err := node.NextFencingToken(ctx, key)
		if err != nil {
			metrics.RecordStoreError(node.Name(), "fence")
			logger.Warn().
				Str("node", node.Name()).
				Str("resourceKey", key).
				Err(err).
				Msg("lease store node failed during fencing token fetch")
			continue
		}
		responded++
		if t > token {
			token = t
		}
	}
	return token, responded
}
