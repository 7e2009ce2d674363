package models

import (
	"strings"

	"qcgate/internal/policy"
	id "qcgate/pkg/domain"
	dErrors "qcgate/pkg/domain-errors"
	strs "qcgate/pkg/platform/strings"
	"qcgate/pkg/platform/validation"
)

// EvalContextRequest is the JSON form of policy.EvalContext.
type EvalContextRequest struct {
	DepartmentID string   `json:"department_id,omitempty" validate:"omitempty,uuid"`
	CategoryID   string   `json:"category_id,omitempty"`
	Value        *float64 `json:"value,omitempty"`
}

func (r *EvalContextRequest) Normalize() {
	r.DepartmentID = strings.TrimSpace(r.DepartmentID)
	r.CategoryID = strings.TrimSpace(r.CategoryID)
}

// ToEvalContext converts an already validated request.
func (r EvalContextRequest) ToEvalContext() (policy.EvalContext, error) {
	var ec policy.EvalContext
	if r.DepartmentID != "" {
		dept, err := id.ParseDepartmentID(r.DepartmentID)
		if err != nil {
			return ec, err
		}
		ec.DepartmentID = &dept
	}
	if r.CategoryID != "" {
		cat := id.CategoryID(r.CategoryID)
		ec.CategoryID = &cat
	}
	if r.Value != nil {
		v := *r.Value
		ec.Value = &v
	}
	return ec, nil
}

// CreateApprovalRequest is the body of POST /approvals.
type CreateApprovalRequest struct {
	SubjectID       string             `json:"subject_id" validate:"required,uuid"`
	Action          string             `json:"action" validate:"required,notblank,max=64"`
	ProposedChanges Payload            `json:"proposed_changes"`
	OriginalData    *Payload           `json:"original_data,omitempty"`
	Notes           string             `json:"notes,omitempty" validate:"max=2000"`
	Context         EvalContextRequest `json:"context"`
	NotifyApprovers bool               `json:"notify_approvers,omitempty"`
}

func (r *CreateApprovalRequest) Normalize() {
	if r == nil {
		return
	}
	r.SubjectID = strings.TrimSpace(r.SubjectID)
	r.Action = strings.ToUpper(strings.TrimSpace(r.Action))
	r.Notes = strings.TrimSpace(r.Notes)
	r.Context.Normalize()
}

func (r *CreateApprovalRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	return validation.Struct(r)
}

// ToCommand converts a validated request.
func (r *CreateApprovalRequest) ToCommand() (CreateCommand, error) {
	subjectID, err := id.ParseSubjectID(r.SubjectID)
	if err != nil {
		return CreateCommand{}, err
	}
	action, err := policy.ParseAction(r.Action)
	if err != nil {
		return CreateCommand{}, err
	}
	ec, err := r.Context.ToEvalContext()
	if err != nil {
		return CreateCommand{}, err
	}
	return CreateCommand{
		SubjectID:       subjectID,
		Action:          action,
		ProposedChanges: r.ProposedChanges,
		OriginalData:    r.OriginalData,
		Notes:           r.Notes,
		EvalContext:     ec,
		NotifyApprovers: r.NotifyApprovers,
	}, nil
}

// DecisionRequest is the body of POST /approvals/{id}/decision.
type DecisionRequest struct {
	Approved        *bool  `json:"approved" validate:"required"`
	Notes           string `json:"notes,omitempty" validate:"max=2000"`
	RejectionReason string `json:"rejection_reason,omitempty" validate:"max=2000"`
}

func (r *DecisionRequest) Normalize() {
	if r == nil {
		return
	}
	r.Notes = strings.TrimSpace(r.Notes)
	r.RejectionReason = strings.TrimSpace(r.RejectionReason)
}

func (r *DecisionRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if err := validation.Struct(r); err != nil {
		return err
	}
	if !*r.Approved && r.RejectionReason == "" {
		return dErrors.New(dErrors.CodeValidation, "rejection_reason is required when rejecting")
	}
	return nil
}

func (r *DecisionRequest) ToCommand() DecideCommand {
	return DecideCommand{Approved: *r.Approved, Notes: r.Notes, RejectionReason: r.RejectionReason}
}

// UpdateApprovalRequest is the body of PATCH /approvals/{id}.
type UpdateApprovalRequest struct {
	ProposedChanges  *Payload `json:"proposed_changes,omitempty"`
	Notes            *string  `json:"notes,omitempty" validate:"omitempty,max=2000"`
	ApproverOverride []string `json:"approver_override,omitempty" validate:"omitempty,min=1,dive,uuid"`
}

func (r *UpdateApprovalRequest) Normalize() {
	if r == nil {
		return
	}
	r.Notes = strs.TrimSpacePtr(r.Notes)
	r.ApproverOverride = strs.DedupeAndTrim(r.ApproverOverride)
}

func (r *UpdateApprovalRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if r.ProposedChanges == nil && r.Notes == nil && r.ApproverOverride == nil {
		return dErrors.New(dErrors.CodeValidation, "nothing to update")
	}
	if r.ApproverOverride != nil && len(r.ApproverOverride) == 0 {
		return dErrors.New(dErrors.CodeValidation, "approver_override must not be empty")
	}
	return validation.Struct(r)
}

func (r *UpdateApprovalRequest) ToCommand() (UpdateCommand, error) {
	cmd := UpdateCommand{ProposedChanges: r.ProposedChanges, Notes: r.Notes}
	for _, raw := range r.ApproverOverride {
		u, err := id.ParseUserID(raw)
		if err != nil {
			return UpdateCommand{}, err
		}
		cmd.ApproverOverride = append(cmd.ApproverOverride, u)
	}
	return cmd, nil
}

// EvaluateRequest is the body of POST /policy/evaluate and /policy/approvers.
type EvaluateRequest struct {
	Action  string             `json:"action" validate:"required,notblank,max=64"`
	Context EvalContextRequest `json:"context"`
}

func (r *EvaluateRequest) Normalize() {
	if r == nil {
		return
	}
	r.Action = strings.ToUpper(strings.TrimSpace(r.Action))
	r.Context.Normalize()
}

func (r *EvaluateRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	return validation.Struct(r)
}
