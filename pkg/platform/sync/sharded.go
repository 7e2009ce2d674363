package sync

import (
	"context"
	"hash/fnv"
)

const defaultShards = 32

// ShardedMutex serializes work per key without a global lock. Keys hash onto
// a fixed set of shards, so unrelated keys may occasionally share a shard.
// Each shard is a one-slot semaphore so waiters can give up when their
// context ends.
type ShardedMutex struct {
	shards []chan struct{}
}

// NewShardedMutex creates a ShardedMutex with n shards (32 when n <= 0).
func NewShardedMutex(n int) *ShardedMutex {
	if n <= 0 {
		n = defaultShards
	}
	shards := make([]chan struct{}, n)
	for i := range shards {
		shards[i] = make(chan struct{}, 1)
	}
	return &ShardedMutex{shards: shards}
}

// Lock blocks until the key's shard is free and returns the matching unlock func.
func (m *ShardedMutex) Lock(key string) func() {
	shard := m.shards[m.shardFor(key)]
	shard <- struct{}{}
	return func() { <-shard }
}

// LockContext is Lock bounded by ctx. It returns ctx.Err() if the shard does
// not free up in time.
func (m *ShardedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	shard := m.shards[m.shardFor(key)]
	select {
	case shard <- struct{}{}:
		return func() { <-shard }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// shardFor returns the shard index for key. Empty keys use shard 0.
func (m *ShardedMutex) shardFor(key string) int {
	if key == "" {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(m.shards)))
}
