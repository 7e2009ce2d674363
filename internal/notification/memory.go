package notification

import (
	"context"
	"sync"

	id "qcgate/pkg/domain"
)

// Delivery is one recorded publication.
type Delivery struct {
	UserID id.UserID
	Event  Event
}

// MemoryPublisher records deliveries. Setting Fail makes every Publish
// return that error after recording nothing.
type MemoryPublisher struct {
	mu         sync.Mutex
	deliveries []Delivery
	fail       error
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// FailWith makes subsequent publishes fail with err; nil restores delivery.
func (m *MemoryPublisher) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

func (m *MemoryPublisher) Publish(_ context.Context, userID id.UserID, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.deliveries = append(m.deliveries, Delivery{UserID: userID, Event: ev})
	return nil
}

// Deliveries returns a copy of everything published so far.
func (m *MemoryPublisher) Deliveries() []Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Delivery, len(m.deliveries))
	copy(out, m.deliveries)
	return out
}

// For returns the deliveries addressed to userID.
func (m *MemoryPublisher) For(userID id.UserID) []Delivery {
	var out []Delivery
	for _, d := range m.Deliveries() {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	return out
}
