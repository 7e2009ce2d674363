package sync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShardedMutex_SameKeySerializes(t *testing.T) {
	m := NewShardedMutex(0)
	counter := 0
	var wg sync.WaitGroup

	for range 200 {
		wg.Go(func() {
			unlock := m.Lock("subject-1")
			defer unlock()
			counter++
		})
	}
	wg.Wait()

	assert.Equal(t, 200, counter)
}

func TestShardedMutex_EmptyKeyUsesShardZero(t *testing.T) {
	m := NewShardedMutex(8)
	assert.Equal(t, 0, m.shardFor(""))

	unlock := m.Lock("")
	unlock()
}

func TestShardedMutex_Distribution(t *testing.T) {
	m := NewShardedMutex(32)
	seen := make(map[int]bool)
	for i := range 256 {
		seen[m.shardFor(string(rune('a'+i%26))+string(rune('A'+i/26)))] = true
	}
	assert.Greater(t, len(seen), 8, "keys should spread over many shards")
}

func TestShardedMutex_LockContext(t *testing.T) {
	t.Run("acquires free shard", func(t *testing.T) {
		m := NewShardedMutex(4)
		unlock, err := m.LockContext(context.Background(), "k")
		require.NoError(t, err)
		unlock()
	})

	t.Run("gives up when context ends", func(t *testing.T) {
		m := NewShardedMutex(4)
		unlock := m.Lock("k")
		defer unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := m.LockContext(ctx, "k")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("unlock frees the shard for the next waiter", func(t *testing.T) {
		m := NewShardedMutex(4)
		unlock := m.Lock("k")

		acquired := make(chan struct{})
		go func() {
			u, err := m.LockContext(context.Background(), "k")
			if err == nil {
				u()
			}
			close(acquired)
		}()

		unlock()
		select {
		case <-acquired:
		case <-time.After(time.Second):
			t.Fatal("waiter never acquired the shard")
		}
	})
}
