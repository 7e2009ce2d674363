package service

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"qcgate/internal/subject"
	dErrors "qcgate/pkg/domain-errors"
	platformsync "qcgate/pkg/platform/sync"
)

var (
	txDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "qcgate_approval_tx_duration_seconds",
		Help:    "Duration of subject-scoped approval transactions, by backend and outcome",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"backend", "outcome"})
	lockWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "qcgate_approval_lock_wait_seconds",
		Help:    "Time spent waiting for a subject lock",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})
)

// DefaultTxTimeout bounds a transaction whose context has no deadline.
const DefaultTxTimeout = 5 * time.Second

// Stores are the stores a transaction body reads and writes through.
type Stores struct {
	Requests Store
	Subjects subject.Store
	// Audit is optional.
	Audit AuditLog
}

// TxRunner runs fn so that no other transaction with the same key interleaves
// with it. Implementations either commit everything fn wrote or, where the
// backend allows, nothing.
type TxRunner interface {
	RunInTx(ctx context.Context, key string, fn func(ctx context.Context, stores Stores) error) error
}

// ObserveTx records one transaction in qcgate_approval_tx_duration_seconds.
func ObserveTx(backend string, started time.Time, err error) {
	outcome := "commit"
	if err != nil {
		outcome = "rollback"
	}
	txDuration.WithLabelValues(backend, outcome).Observe(time.Since(started).Seconds())
}

// WithTxDeadline rejects a finished ctx and applies timeout when ctx has no
// deadline. The returned cancel func is never nil.
func WithTxDeadline(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc, error) {
	if err := ctx.Err(); err != nil {
		return ctx, func() {}, dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if timeout <= 0 {
		timeout = DefaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, cancel, nil
}

// ShardedTx serializes in-memory transactions per key with a sharded mutex.
// Writes are applied directly to the stores, so a failing body must undo its
// own partial writes.
type ShardedTx struct {
	mu      *platformsync.ShardedMutex
	stores  Stores
	timeout time.Duration
}

func NewShardedTx(stores Stores, timeout time.Duration) *ShardedTx {
	return &ShardedTx{
		mu:      platformsync.NewShardedMutex(0),
		stores:  stores,
		timeout: timeout,
	}
}

func (t *ShardedTx) RunInTx(ctx context.Context, key string, fn func(ctx context.Context, stores Stores) error) (err error) {
	started := time.Now()
	defer func() { ObserveTx("memory", started, err) }()

	ctx, cancel, err := WithTxDeadline(ctx, t.timeout)
	defer cancel()
	if err != nil {
		return err
	}

	lockStart := time.Now()
	unlock, err := t.mu.LockContext(ctx, key)
	lockWaitDuration.Observe(time.Since(lockStart).Seconds())
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: lock wait timed out")
	}
	defer unlock()

	return fn(ctx, t.stores)
}

// Locker takes a lock shared with other processes.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(context.Context) error, err error)
}

// LockedTx holds a distributed lock on key around an inner TxRunner, so
// replicas sharing one database serialize per subject as well.
type LockedTx struct {
	locker Locker
	inner  TxRunner
}

func NewLockedTx(locker Locker, inner TxRunner) *LockedTx {
	if locker == nil || inner == nil {
		panic("service.NewLockedTx: locker and inner runner are required")
	}
	return &LockedTx{locker: locker, inner: inner}
}

func (t *LockedTx) RunInTx(ctx context.Context, key string, fn func(ctx context.Context, stores Stores) error) error {
	release, err := t.locker.Acquire(ctx, key)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "could not acquire subject lock")
	}
	defer func() {
		// The lock expires on its own if release fails.
		_ = release(context.WithoutCancel(ctx))
	}()
	return t.inner.RunInTx(ctx, key, fn)
}
