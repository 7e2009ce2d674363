package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"qcgate/pkg/platform/sentinel"
)

const (
	defaultLockTTL   = 10 * time.Second
	defaultLockRetry = 25 * time.Millisecond
)

// releaseScript deletes the lock only if it still holds our token, so an
// expired lock re-taken by another holder is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker takes per-key locks with SET NX PX and a random token.
type Locker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

type LockOption func(*Locker)

// WithLockTTL sets how long a lock survives a crashed holder.
func WithLockTTL(ttl time.Duration) LockOption {
	return func(l *Locker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithLockRetry sets the polling interval while a lock is held elsewhere.
func WithLockRetry(interval time.Duration) LockOption {
	return func(l *Locker) {
		if interval > 0 {
			l.retry = interval
		}
	}
}

func NewLocker(client redis.UniversalClient, opts ...LockOption) *Locker {
	if client == nil {
		panic("redis.NewLocker: client is required")
	}
	l := &Locker{client: client, prefix: "qcgate:lock:", ttl: defaultLockTTL, retry: defaultLockRetry}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TryAcquire takes the lock once. It returns sentinel.ErrLockHeld when
// another holder has it.
func (l *Locker) TryAcquire(ctx context.Context, key string) (func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.prefix+key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, sentinel.ErrLockHeld
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{l.prefix + key}, token).Err(); err != nil {
			return fmt.Errorf("release lock %s: %w", key, err)
		}
		return nil
	}, nil
}

// Acquire polls TryAcquire until it succeeds or ctx ends.
func (l *Locker) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		release, err := l.TryAcquire(ctx, key)
		if err == nil {
			return release, nil
		}
		if !errors.Is(err, sentinel.ErrLockHeld) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}
}
