package models

import (
	"maps"
	"slices"
	"time"

	"qcgate/internal/policy"
	"qcgate/internal/subject"
	id "qcgate/pkg/domain"
	dErrors "qcgate/pkg/domain-errors"
)

// Status is the lifecycle state of an approval request.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// SubjectKind names the workflow a request belongs to.
type SubjectKind string

const (
	KindMachineApproval SubjectKind = "machine_approval"
	KindQCApproval      SubjectKind = "qc_approval"
)

func (k SubjectKind) IsValid() bool {
	return k == KindMachineApproval || k == KindQCApproval
}

// Payload is an opaque, schema-versioned document. Only the requesting
// domain interprets Data.
type Payload struct {
	SchemaVersion int            `json:"schema_version"`
	Data          map[string]any `json:"data,omitempty"`
}

func (p Payload) IsEmpty() bool {
	return len(p.Data) == 0
}

func (p Payload) clone() Payload {
	return Payload{SchemaVersion: p.SchemaVersion, Data: maps.Clone(p.Data)}
}

// Request is a human approval gating a change to a subject.
//
// Status only moves through Approve, Reject, Cancel and Reopen, which check
// the source state. Decision fields are set only by Approve and Reject.
type Request struct {
	ID              id.RequestID
	SubjectID       id.SubjectID
	SubjectKind     SubjectKind
	Action          policy.Action
	Status          Status
	RequestedBy     id.UserID
	Approvers       []id.UserID
	OriginalData    *Payload
	ProposedChanges Payload
	Notes           string
	DecisionNotes   string
	DecidedBy       *id.UserID
	DecisionAt      *time.Time
	RejectionReason string
	// PriorSubjectStatus is the subject's approval status before this
	// request marked it pending. Cancel and withdraw put it back.
	PriorSubjectStatus subject.ApprovalStatus
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewRequest builds a PENDING request with invariant checks.
func NewRequest(requestID id.RequestID, subjectID id.SubjectID, kind SubjectKind, action policy.Action,
	requestedBy id.UserID, approvers []id.UserID, proposed Payload, original *Payload, notes string, now time.Time,
) (*Request, error) {
	if requestID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "request ID required")
	}
	if subjectID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "subject ID required")
	}
	if !kind.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid subject kind")
	}
	if action == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "action required")
	}
	if requestedBy.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "requester required")
	}
	if len(approvers) == 0 {
		return nil, dErrors.New(dErrors.CodeNoApproversAvailable, "no approvers available for this action")
	}
	if now.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "creation time required")
	}
	r := &Request{
		ID:              requestID,
		SubjectID:       subjectID,
		SubjectKind:     kind,
		Action:          action,
		Status:          StatusPending,
		RequestedBy:     requestedBy,
		Approvers:       slices.Clone(approvers),
		ProposedChanges: proposed.clone(),
		Notes:           notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if original != nil {
		o := original.clone()
		r.OriginalData = &o
	}
	return r, nil
}

// IsApprover reports whether user may decide the request.
func (r *Request) IsApprover(user id.UserID) bool {
	return slices.Contains(r.Approvers, user)
}

func (r *Request) IsPending() bool { return r.Status == StatusPending }

// Approve moves a PENDING request to APPROVED.
func (r *Request) Approve(by id.UserID, notes string, now time.Time) error {
	if err := r.requirePending("approve"); err != nil {
		return err
	}
	r.Status = StatusApproved
	r.stampDecision(by, notes, now)
	r.RejectionReason = ""
	return nil
}

// Reject moves a PENDING request to REJECTED. reason must not be blank.
func (r *Request) Reject(by id.UserID, reason, notes string, now time.Time) error {
	if err := r.requirePending("reject"); err != nil {
		return err
	}
	if reason == "" {
		return dErrors.New(dErrors.CodeValidation, "rejection reason is required")
	}
	r.Status = StatusRejected
	r.stampDecision(by, notes, now)
	r.RejectionReason = reason
	return nil
}

// Cancel moves a PENDING request to CANCELLED.
func (r *Request) Cancel(now time.Time) error {
	if err := r.requirePending("cancel"); err != nil {
		return err
	}
	r.Status = StatusCancelled
	r.UpdatedAt = now
	return nil
}

// Reopen turns a REJECTED request back into a PENDING one and clears its
// decision fields.
func (r *Request) Reopen(now time.Time) error {
	if r.Status != StatusRejected {
		return dErrors.New(dErrors.CodeConflict, "only rejected requests can be reopened")
	}
	r.Status = StatusPending
	r.DecidedBy = nil
	r.DecisionAt = nil
	r.DecisionNotes = ""
	r.RejectionReason = ""
	r.UpdatedAt = now
	return nil
}

// Editable reports whether the requester may still change the request.
func (r *Request) Editable() bool {
	return r.Status == StatusPending || r.Status == StatusRejected
}

func (r *Request) requirePending(op string) error {
	if r.Status != StatusPending {
		return dErrors.New(dErrors.CodeConflict, "cannot "+op+" a request that is "+string(r.Status))
	}
	return nil
}

func (r *Request) stampDecision(by id.UserID, notes string, now time.Time) {
	decidedBy := by
	decidedAt := now
	r.DecidedBy = &decidedBy
	r.DecisionAt = &decidedAt
	r.DecisionNotes = notes
	r.UpdatedAt = now
}

// Clone returns a deep copy.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	out := *r
	out.Approvers = slices.Clone(r.Approvers)
	out.ProposedChanges = r.ProposedChanges.clone()
	if r.OriginalData != nil {
		o := r.OriginalData.clone()
		out.OriginalData = &o
	}
	if r.DecidedBy != nil {
		u := *r.DecidedBy
		out.DecidedBy = &u
	}
	if r.DecisionAt != nil {
		t := *r.DecisionAt
		out.DecisionAt = &t
	}
	return &out
}
