package notification

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	id "qcgate/pkg/domain"
)

var (
	notificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qcgate_notifications_sent_total",
		Help: "Notifications delivered to a sink, by event type",
	}, []string{"type"})
	notificationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qcgate_notifications_failed_total",
		Help: "Notifications that were not delivered, by event type and reason",
	}, []string{"type", "reason"})
)

const (
	defaultConcurrency    = 4
	defaultPublishTimeout = 5 * time.Second
)

type delivery struct {
	userID id.UserID
	event  Event
}

// Dispatcher hands events to a Publisher without ever failing the caller.
// With a buffer, deliveries are queued and drained by a background worker;
// a full queue drops the delivery. Without one, Dispatch publishes inline.
type Dispatcher struct {
	publisher   Publisher
	logger      *slog.Logger
	concurrency int
	timeout     time.Duration
	buffer      int

	mu     sync.RWMutex
	queue  chan delivery
	closed bool
	done   chan struct{}
}

type DispatcherOption func(*Dispatcher)

func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithBuffer enables asynchronous delivery through a queue of size n.
// n <= 0 keeps delivery synchronous.
func WithBuffer(n int) DispatcherOption {
	return func(d *Dispatcher) { d.buffer = n }
}

// WithConcurrency caps parallel publishes for one synchronous Dispatch.
func WithConcurrency(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// WithPublishTimeout bounds a single publish.
func WithPublishTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

func NewDispatcher(publisher Publisher, opts ...DispatcherOption) *Dispatcher {
	if publisher == nil {
		panic("notification.NewDispatcher: publisher is required")
	}
	d := &Dispatcher{
		publisher:   publisher,
		logger:      slog.Default(),
		concurrency: defaultConcurrency,
		timeout:     defaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.buffer > 0 {
		d.queue = make(chan delivery, d.buffer)
		d.done = make(chan struct{})
		go d.drain()
	}
	return d
}

// Dispatch delivers ev to every recipient. Errors are logged and counted.
func (d *Dispatcher) Dispatch(ctx context.Context, recipients []id.UserID, ev Event) {
	if len(recipients) == 0 {
		return
	}
	if d.queue == nil {
		d.publishAll(ctx, recipients, ev)
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, userID := range recipients {
		if d.closed {
			d.fail(ctx, userID, ev, "closed", nil)
			continue
		}
		select {
		case d.queue <- delivery{userID: userID, event: ev}:
		default:
			d.fail(ctx, userID, ev, "dropped", nil)
		}
	}
}

// Close stops accepting deliveries and waits for queued ones to be published.
func (d *Dispatcher) Close() {
	if d.queue == nil {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) drain() {
	defer close(d.done)
	for item := range d.queue {
		d.publish(context.Background(), item.userID, item.event)
	}
}

func (d *Dispatcher) publishAll(ctx context.Context, recipients []id.UserID, ev Event) {
	// Notifications outlive the request that caused them.
	ctx = context.WithoutCancel(ctx)
	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for _, userID := range recipients {
		g.Go(func() error {
			d.publish(ctx, userID, ev)
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Dispatcher) publish(ctx context.Context, userID id.UserID, ev Event) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.publisher.Publish(ctx, userID, ev); err != nil {
		d.fail(ctx, userID, ev, "publish", err)
		return
	}
	notificationsSent.WithLabelValues(string(ev.Type)).Inc()
}

func (d *Dispatcher) fail(ctx context.Context, userID id.UserID, ev Event, reason string, err error) {
	notificationsFailed.WithLabelValues(string(ev.Type), reason).Inc()
	attrs := []any{
		"user_id", userID.String(),
		"event_type", string(ev.Type),
		"related_id", ev.RelatedEntity.ID,
		"reason", reason,
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	d.logger.WarnContext(ctx, "notification not delivered", attrs...)
}
