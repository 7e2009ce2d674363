// Package cascade turns approval outcomes into subject changes and
// notifications.
package cascade

import (
	"time"

	"qcgate/internal/approval/models"
	"qcgate/internal/subject"
	id "qcgate/pkg/domain"
)

// Step names one entity effect.
type Step string

const (
	StepMarkPending          Step = "mark_pending"
	StepApproveSubject       Step = "approve_subject"
	StepApplyProposedChanges Step = "apply_proposed_changes"
	StepRejectSubject        Step = "reject_subject"
	StepRecordRejection      Step = "record_rejection"
	StepRestoreStatus        Step = "restore_status"
	StepActivateSubject      Step = "activate_subject"
)

// Outcome is the request state a plan brings the subject in line with.
type Outcome string

const (
	OutcomePending  Outcome = "pending"
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
)

// Plan is the ordered steps and the single patch they compose to.
type Plan struct {
	Steps []Step
	Patch subject.Patch
}

// StepNames returns the steps as strings for logs and error context.
func (p Plan) StepNames() []string {
	out := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = string(s)
	}
	return out
}

func (p Plan) add(step Step, patch subject.Patch) Plan {
	p.Steps = append(p.Steps, step)
	p.Patch = p.Patch.Merge(patch)
	return p
}

// Compose builds the plan for req reaching outcome. It does not touch storage.
//
// Only creation requests move the subject's approval status. An approved
// edit applies its proposed changes and a rejected one records the reason,
// leaving an approved subject approved.
func Compose(req *models.Request, outcome Outcome) Plan {
	var plan Plan
	qc := req.SubjectKind == models.KindQCApproval
	creation := req.Action.IsCreate()

	switch outcome {
	case OutcomePending:
		if creation {
			plan = plan.add(StepMarkPending, subject.Patch{ApprovalStatus: ptr(subject.ApprovalPending)})
		}

	case OutcomeApproved:
		if creation {
			patch := subject.Patch{
				Approved:        ptr(true),
				ApprovalStatus:  ptr(subject.ApprovalApproved),
				RejectionReason: ptr(""),
			}
			if qc {
				patch.Active = ptr(true)
			}
			plan = plan.add(StepApproveSubject, patch)
		}
		if req.Action.IsEdit() && !req.ProposedChanges.IsEmpty() {
			plan = plan.add(StepApplyProposedChanges, subject.Patch{Attributes: req.ProposedChanges.Data})
		}

	case OutcomeRejected:
		if !creation {
			plan = plan.add(StepRecordRejection, subject.Patch{RejectionReason: ptr(req.RejectionReason)})
			break
		}
		patch := subject.Patch{
			Approved:        ptr(false),
			ApprovalStatus:  ptr(subject.ApprovalRejected),
			RejectionReason: ptr(req.RejectionReason),
		}
		if qc {
			patch.Active = ptr(false)
		}
		plan = plan.add(StepRejectSubject, patch)
	}
	return plan
}

// Restore builds the plan that hands the subject back the approval status it
// held before req marked it pending. Requests that never marked the subject
// restore nothing.
func Restore(req *models.Request) Plan {
	if !req.Action.IsCreate() {
		return Plan{}
	}
	prior := req.PriorSubjectStatus
	if prior == "" {
		prior = subject.ApprovalNone
	}
	return Plan{}.add(StepRestoreStatus, subject.Patch{ApprovalStatus: &prior})
}

// Activation builds the plan that marks a subject activated by user at t.
func Activation(by id.UserID, at time.Time) Plan {
	return Plan{}.add(StepActivateSubject, subject.Patch{
		Activated:   ptr(true),
		ActivatedAt: &at,
		ActivatedBy: &by,
	})
}

func ptr[T any](v T) *T { return &v }
