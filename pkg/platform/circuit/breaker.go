// Package circuit tracks consecutive failures of a dependency and decides when
// callers should switch to a fallback.
package circuit

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var openGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "qcgate_circuit_open",
	Help: "1 while the named circuit is open",
}, []string{"name"})

type State int

const (
	StateClosed State = iota
	StateOpen
)

func (s State) String() string {
	if s == StateOpen {
		return "open"
	}
	return "closed"
}

// Transition reports a state change caused by the last recorded outcome.
type Transition struct {
	Opened bool
	Closed bool
}

// Breaker is a two-state breaker. It opens after FailureThreshold consecutive
// failures and closes after SuccessThreshold consecutive successes while open.
// The primary path is always attempted; the breaker only tells the caller
// whether the fallback should be used for this call.
type Breaker struct {
	name             string
	failureThreshold int
	successThreshold int

	mu        sync.Mutex
	state     State
	failures  int
	successes int
}

type Option func(*Breaker)

func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

func WithSuccessThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.successThreshold = n
		}
	}
}

func New(name string, opts ...Option) *Breaker {
	b := &Breaker{name: name, failureThreshold: 5, successThreshold: 3}
	for _, opt := range opts {
		opt(b)
	}
	openGauge.WithLabelValues(name).Set(0)
	return b
}

func (b *Breaker) Name() string { return b.name }

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failure records a failed primary call and reports whether the fallback
// should serve it.
func (b *Breaker) Failure() (useFallback bool, t Transition) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.successes = 0
	if b.state == StateOpen {
		return true, t
	}
	if b.failures < b.failureThreshold {
		return false, t
	}
	b.state = StateOpen
	openGauge.WithLabelValues(b.name).Set(1)
	return true, Transition{Opened: true}
}

// Success records a successful primary call and reports whether the breaker
// is closed after it.
func (b *Breaker) Success() (closed bool, t Transition) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.state == StateClosed {
		return true, t
	}
	b.successes++
	if b.successes < b.successThreshold {
		return false, t
	}
	b.state = StateClosed
	b.successes = 0
	openGauge.WithLabelValues(b.name).Set(0)
	return true, Transition{Closed: true}
}

func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
	openGauge.WithLabelValues(b.name).Set(0)
}
