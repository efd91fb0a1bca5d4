package leasestore

import (
	"context"
	"sync"
	"time"
)

// MemoryNode is an in-memory implementation of Node for testing and
// single-node development mode. Expired records are dropped lazily on
// access, mirroring the TTL behavior of the Redis node.
type MemoryNode struct {
	name string

	mu      sync.Mutex
	records map[string]memoryRecord
	fences  map[string]int64
	clock   func() time.Time
}

type memoryRecord struct {
	holder    string
	expiresAt time.Time
}

// NewMemoryNode creates an empty in-memory node.
func NewMemoryNode(name string) *MemoryNode {
	return &MemoryNode{
		name:    name,
		records: make(map[string]memoryRecord),
		fences:  make(map[string]int64),
		clock:   time.Now,
	}
}

// SetClock overrides the node's time source. For tests.
func (n *MemoryNode) SetClock(clock func() time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.clock = clock
}

// TryAcquire implements Node.TryAcquire.
func (n *MemoryNode) TryAcquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.clock()
	if rec, ok := n.records[key]; ok && rec.expiresAt.After(now) {
		return false, nil
	}
	n.records[key] = memoryRecord{holder: holder, expiresAt: now.Add(ttl)}
	return true, nil
}

// ReleaseIfHeld implements Node.ReleaseIfHeld.
func (n *MemoryNode) ReleaseIfHeld(ctx context.Context, key, holder string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	rec, ok := n.records[key]
	if !ok || !rec.expiresAt.After(n.clock()) || rec.holder != holder {
		return false, nil
	}
	delete(n.records, key)
	return true, nil
}

// ExtendIfHeld implements Node.ExtendIfHeld.
func (n *MemoryNode) ExtendIfHeld(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.clock()
	rec, ok := n.records[key]
	if !ok || !rec.expiresAt.After(now) || rec.holder != holder {
		return false, nil
	}
	rec.expiresAt = now.Add(ttl)
	n.records[key] = rec
	return true, nil
}

// ForceRelease implements Node.ForceRelease.
func (n *MemoryNode) ForceRelease(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	delete(n.records, key)
	return nil
}

// NextFencingToken implements Node.NextFencingToken.
func (n *MemoryNode) NextFencingToken(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.fences[key]++
	return n.fences[key], nil
}

// Ping implements Node.Ping.
func (n *MemoryNode) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Name implements Node.Name.
func (n *MemoryNode) Name() string {
	return n.name
}

// Holder returns the current holder of a key, or "" if the key is free.
// For tests.
func (n *MemoryNode) Holder(key string) string {
	n.mu.Lock()
	defer n.mu.Unlock()

	rec, ok := n.records[key]
	if !ok || !rec.expiresAt.After(n.clock()) {
		return ""
	}
	return rec.holder
}
