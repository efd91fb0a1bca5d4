package leasestore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	lockKeyPrefix  = "credbroker:lock:"
	fenceKeyPrefix = "credbroker:fence:"
)

// releaseScript atomically deletes the lock key only when the stored value
// matches, so a stale holder can never delete a newer grant.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// extendScript atomically resets the TTL only when the stored value matches.
var extendScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	end
	return 0
`)

// RedisNode implements Node on a single Redis instance using SET NX with
// expiration for atomic create-if-absent, Lua check-and-delete for safe
// release, and INCR for the fencing counter.
type RedisNode struct {
	client *redis.Client
	name   string
}

// NewRedisNode creates a lease store node backed by the given Redis client.
func NewRedisNode(client *redis.Client, name string) *RedisNode {
	return &RedisNode{client: client, name: name}
}

// TryAcquire implements Node.TryAcquire using SET NX PX.
func (n *RedisNode) TryAcquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	return n.client.SetNX(ctx, lockKeyPrefix+key, holder, ttl).Result()
}

// ReleaseIfHeld implements Node.ReleaseIfHeld with an atomic
// check-and-delete script.
func (n *RedisNode) ReleaseIfHeld(ctx context.Context, key, holder string) (bool, error) {
	deleted, err := releaseScript.Run(ctx, n.client, []string{lockKeyPrefix + key}, holder).Int64()
	if err != nil {
		return false, err
	}
	return deleted == 1, nil
}

// ExtendIfHeld implements Node.ExtendIfHeld with an atomic
// check-and-extend script.
func (n *RedisNode) ExtendIfHeld(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	extended, err := extendScript.Run(ctx, n.client, []string{lockKeyPrefix + key}, holder, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return extended == 1, nil
}

// ForceRelease implements Node.ForceRelease.
func (n *RedisNode) ForceRelease(ctx context.Context, key string) error {
	return n.client.Del(ctx, lockKeyPrefix+key).Err()
}

// NextFencingToken implements Node.NextFencingToken using INCR. The counter
// key carries no TTL so tokens keep increasing across grants.
func (n *RedisNode) NextFencingToken(ctx context.Context, key string) (int64, error) {
	return n.client.Incr(ctx, fenceKeyPrefix+key).Result()
}

// Ping implements Node.Ping.
func (n *RedisNode) Ping(ctx context.Context) error {
	return n.client.Ping(ctx).Err()
}

// Name implements Node.Name.
func (n *RedisNode) Name() string {
	return n.name
}
