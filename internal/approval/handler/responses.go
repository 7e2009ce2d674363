package handler

import (
	"time"

	"qcgate/internal/approval/models"
	"qcgate/internal/subject"
	id "qcgate/pkg/domain"
)

type ApprovalResponse struct {
	ID              id.RequestID    `json:"id"`
	SubjectID       id.SubjectID    `json:"subject_id"`
	SubjectKind     string          `json:"subject_kind"`
	Action          string          `json:"action"`
	Status          string          `json:"status"`
	RequestedBy     id.UserID       `json:"requested_by"`
	Approvers       []id.UserID     `json:"approvers"`
	OriginalData    *models.Payload `json:"original_data,omitempty"`
	ProposedChanges models.Payload  `json:"proposed_changes"`
	Notes           string          `json:"notes,omitempty"`
	DecisionNotes   string          `json:"decision_notes,omitempty"`
	DecidedBy       *id.UserID      `json:"decided_by,omitempty"`
	DecisionAt      *time.Time      `json:"decision_at,omitempty"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type ListResponse struct {
	Approvals []ApprovalResponse `json:"approvals"`
	Limit     int                `json:"limit"`
	Offset    int                `json:"offset"`
}

type SubjectResponse struct {
	ID              id.SubjectID  `json:"id"`
	Kind            string        `json:"kind"`
	ParentID        *id.SubjectID `json:"parent_id,omitempty"`
	Name            string        `json:"name"`
	Approved        bool          `json:"approved"`
	ApprovalStatus  string        `json:"approval_status"`
	Active          bool          `json:"active"`
	Activated       bool          `json:"activated"`
	ActivatedAt     *time.Time    `json:"activated_at,omitempty"`
	ActivatedBy     *id.UserID    `json:"activated_by,omitempty"`
	RejectionReason string        `json:"rejection_reason,omitempty"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

func toResponse(r *models.Request) ApprovalResponse {
	return ApprovalResponse{
		ID:              r.ID,
		SubjectID:       r.SubjectID,
		SubjectKind:     string(r.SubjectKind),
		Action:          string(r.Action),
		Status:          string(r.Status),
		RequestedBy:     r.RequestedBy,
		Approvers:       r.Approvers,
		OriginalData:    r.OriginalData,
		ProposedChanges: r.ProposedChanges,
		Notes:           r.Notes,
		DecisionNotes:   r.DecisionNotes,
		DecidedBy:       r.DecidedBy,
		DecisionAt:      r.DecisionAt,
		RejectionReason: r.RejectionReason,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func toListResponse(reqs []*models.Request, page models.Page) ListResponse {
	out := ListResponse{Approvals: make([]ApprovalResponse, 0, len(reqs)), Limit: page.Limit, Offset: page.Offset}
	for _, r := range reqs {
		out.Approvals = append(out.Approvals, toResponse(r))
	}
	return out
}

func toSubjectResponse(e *subject.Entity) SubjectResponse {
	return SubjectResponse{
		ID:              e.ID,
		Kind:            string(e.Kind),
		ParentID:        e.ParentID,
		Name:            e.Name,
		Approved:        e.Approved,
		ApprovalStatus:  string(e.ApprovalStatus),
		Active:          e.Active,
		Activated:       e.Activated,
		ActivatedAt:     e.ActivatedAt,
		ActivatedBy:     e.ActivatedBy,
		RejectionReason: e.RejectionReason,
		UpdatedAt:       e.UpdatedAt,
	}
}
