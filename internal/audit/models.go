// Package audit records approval lifecycle events through a transactional
// outbox. Events are appended inside the same transaction as the change they
// describe and published later by a Worker.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "qcgate/pkg/domain"
)

// EventType names a lifecycle transition.
type EventType string

const (
	EventRequested   EventType = "approval_requested"
	EventUpdated     EventType = "approval_updated"
	EventResubmitted EventType = "approval_resubmitted"
	EventApproved    EventType = "approval_approved"
	EventRejected    EventType = "approval_rejected"
	EventCancelled   EventType = "approval_cancelled"
	EventWithdrawn   EventType = "approval_withdrawn"
	EventActivated   EventType = "subject_activated"
)

// Event is one audited transition. It carries ids and outcome only, never the
// proposed payload.
type Event struct {
	Type       EventType    `json:"type"`
	ApprovalID id.RequestID `json:"approval_id"`
	SubjectID  id.SubjectID `json:"subject_id"`
	Action     string       `json:"action"`
	Status     string       `json:"status"`
	ActorID    id.UserID    `json:"actor_id"`
	Reason     string       `json:"reason,omitempty"`
	Approvers  []id.UserID  `json:"approvers,omitempty"`
	RequestID  string       `json:"request_id,omitempty"`
	Timestamp  time.Time    `json:"timestamp"`
}

// Entry is an outbox row. ProcessedAt stays nil until a Worker has published
// the payload.
type Entry struct {
	ID          uuid.UUID
	SubjectID   id.SubjectID
	EventType   EventType
	Payload     []byte
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

func (e *Entry) IsPending() bool {
	return e.ProcessedAt == nil
}

// NewEntry encodes ev into a pending outbox entry.
func NewEntry(ev Event) (*Entry, error) {
	if ev.Type == "" {
		return nil, fmt.Errorf("audit event type is required")
	}
	if ev.Timestamp.IsZero() {
		return nil, fmt.Errorf("audit event timestamp is required")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode audit event: %w", err)
	}
	return &Entry{
		ID:        uuid.New(),
		SubjectID: ev.SubjectID,
		EventType: ev.Type,
		Payload:   payload,
		CreatedAt: ev.Timestamp,
	}, nil
}

// Decode returns the event an entry was built from.
func (e *Entry) Decode() (Event, error) {
	var ev Event
	if err := json.Unmarshal(e.Payload, &ev); err != nil {
		return Event{}, fmt.Errorf("decode audit event %s: %w", e.ID, err)
	}
	return ev, nil
}
