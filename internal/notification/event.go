// Package notification delivers best-effort, at-most-once messages to users.
// Publishing never fails the operation that triggered it.
package notification

import (
	"context"
	"time"

	id "qcgate/pkg/domain"
)

// Type names what happened.
type Type string

const (
	TypeApprovalRequested Type = "approval.requested"
	TypeApprovalApproved  Type = "approval.approved"
	TypeApprovalRejected  Type = "approval.rejected"
	TypeSubjectActivated  Type = "subject.activated"
)

// RelatedEntity points the recipient at the record the event concerns.
type RelatedEntity struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// Event is the notification payload.
type Event struct {
	Type          Type          `json:"type"`
	Title         string        `json:"title"`
	Message       string        `json:"message"`
	RelatedEntity RelatedEntity `json:"related_entity"`
	OccurredAt    time.Time     `json:"occurred_at"`
}

// Publisher delivers one event to one user.
type Publisher interface {
	Publish(ctx context.Context, userID id.UserID, ev Event) error
}

// Envelope is the wire form sinks write: the event plus its recipient.
type Envelope struct {
	UserID string `json:"user_id"`
	Event
}

func envelope(userID id.UserID, ev Event) Envelope {
	return Envelope{UserID: userID.String(), Event: ev}
}
