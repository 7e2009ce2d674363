package models

import (
	"qcgate/internal/policy"
	id "qcgate/pkg/domain"
)

// CreateCommand asks for approval of action on a subject.
type CreateCommand struct {
	SubjectID       id.SubjectID
	Action          policy.Action
	ProposedChanges Payload
	OriginalData    *Payload
	Notes           string
	EvalContext     policy.EvalContext
	// NotifyApprovers sends approval.requested to every resolved approver.
	NotifyApprovers bool
}

// DecideCommand records an approver's verdict.
type DecideCommand struct {
	Approved        bool
	Notes           string
	RejectionReason string
}

// UpdateCommand edits a request still open to its requester. Nil fields are
// left unchanged.
type UpdateCommand struct {
	ProposedChanges  *Payload
	Notes            *string
	ApproverOverride []id.UserID
}
