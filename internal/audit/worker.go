package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	outboxPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qcgate_audit_outbox_pending",
		Help: "Audit outbox entries not yet published",
	})
	outboxPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qcgate_audit_outbox_published_total",
		Help: "Audit outbox entries published",
	})
	outboxFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qcgate_audit_outbox_failures_total",
		Help: "Audit outbox failures, by stage",
	}, []string{"stage"})
	outboxBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "qcgate_audit_outbox_batch_size",
		Help:    "Entries handled per poll",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
	})
)

const (
	defaultBatchSize    = 100
	defaultPollInterval = 500 * time.Millisecond
	drainTimeout        = 10 * time.Second
)

// Worker polls a Store and publishes pending entries to a Sink. Delivery is
// at least once: an entry published but not marked is published again.
type Worker struct {
	store        Store
	sink         Sink
	batchSize    int
	pollInterval time.Duration
	retention    time.Duration
	now          func() time.Time
	logger       *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type WorkerOption func(*Worker)

func WithBatchSize(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithRetention deletes published entries older than d after each poll.
// Zero keeps them.
func WithRetention(d time.Duration) WorkerOption {
	return func(w *Worker) { w.retention = d }
}

func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) { w.logger = logger }
}

func WithWorkerClock(now func() time.Time) WorkerOption {
	return func(w *Worker) { w.now = now }
}

func NewWorker(store Store, sink Sink, opts ...WorkerOption) *Worker {
	if store == nil || sink == nil {
		panic("audit.NewWorker: store and sink are required")
	}
	w := &Worker{
		store:        store,
		sink:         sink,
		batchSize:    defaultBatchSize,
		pollInterval: defaultPollInterval,
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start runs the polling loop until Stop.
func (w *Worker) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop ends the loop after one final drain, or when ctx expires.
func (w *Worker) Stop(ctx context.Context) error {
	if w.cancel == nil {
		return nil
	}
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			w.Drain(drainCtx)
			cancel()
			return
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}

// Poll publishes one batch and returns how many entries were marked.
func (w *Worker) Poll(ctx context.Context) int {
	entries, err := w.store.FetchUnprocessed(ctx, w.batchSize)
	if err != nil {
		w.logger.ErrorContext(ctx, "failed to fetch audit outbox", "error", err)
		outboxFailures.WithLabelValues("fetch").Inc()
		return 0
	}
	if len(entries) > 0 {
		outboxBatchSize.Observe(float64(len(entries)))
	}

	marked := 0
	for _, entry := range entries {
		if err := w.sink.Publish(ctx, entry); err != nil {
			w.logger.ErrorContext(ctx, "failed to publish audit entry",
				"entry_id", entry.ID.String(),
				"event_type", string(entry.EventType),
				"error", err,
			)
			outboxFailures.WithLabelValues("publish").Inc()
			continue
		}
		if err := w.store.MarkProcessed(ctx, entry.ID, w.now()); err != nil {
			w.logger.ErrorContext(ctx, "failed to mark audit entry processed",
				"entry_id", entry.ID.String(),
				"error", err,
			)
			outboxFailures.WithLabelValues("mark").Inc()
			continue
		}
		outboxPublished.Inc()
		marked++
	}

	if w.retention > 0 {
		if _, err := w.store.DeleteProcessedBefore(ctx, w.now().Add(-w.retention)); err != nil {
			w.logger.WarnContext(ctx, "failed to prune audit outbox", "error", err)
			outboxFailures.WithLabelValues("prune").Inc()
		}
	}
	if n, err := w.store.CountPending(ctx); err == nil {
		outboxPending.Set(float64(n))
	}
	return marked
}

// Drain polls until nothing is left to mark or ctx expires.
func (w *Worker) Drain(ctx context.Context) {
	for ctx.Err() == nil {
		if w.Poll(ctx) == 0 {
			return
		}
	}
}
