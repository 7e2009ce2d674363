package service

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"qcgate/internal/approval/models"
	"qcgate/internal/audit"
	"qcgate/internal/cascade"
	"qcgate/internal/policy"
	"qcgate/internal/subject"
	id "qcgate/pkg/domain"
	dErrors "qcgate/pkg/domain-errors"
	"qcgate/pkg/platform/sentinel"
	"qcgate/pkg/requestcontext"
)

// Activate puts an approved subject into service. The subject must be
// approved and its latest non-cancelled creation request must be APPROVED.
func (s *Service) Activate(ctx context.Context, p id.Principal, subjectID id.SubjectID) (out *subject.Entity, err error) {
	ctx, span := s.tracer.Start(ctx, "approval.activate", attribute.String("subject_id", subjectID.String()))
	defer func() { span.End(err) }()

	if err := requirePrincipal(p); err != nil {
		return nil, err
	}
	decision, err := s.evaluator.Evaluate(ctx, policy.ActionActivateMachine, p, policy.EvalContext{})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "policy evaluation failed")
	}
	if !decision.Allowed() {
		return nil, dErrors.New(dErrors.CodeForbidden, "not allowed to activate subjects")
	}

	var approval *models.Request
	err = s.tx.RunInTx(ctx, subjectKey(subjectID), func(ctx context.Context, st Stores) error {
		entity, err := st.Subjects.Get(ctx, subjectID)
		if err != nil {
			return subjectNotFound(err, "failed to load subject")
		}
		latest, err := st.Requests.LatestForSubject(ctx, subjectID, creationAction(entity.Kind),
			models.StatusPending, models.StatusApproved, models.StatusRejected)
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodePreconditionFailed, "subject has no approved approval request")
		}
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load latest approval request")
		}
		if latest.Status != models.StatusApproved {
			return dErrors.New(dErrors.CodePreconditionFailed, "latest approval request is "+string(latest.Status))
		}
		if !entity.Approved {
			return dErrors.New(dErrors.CodePreconditionFailed, "subject is not approved")
		}
		if entity.Activated {
			return dErrors.New(dErrors.CodeConflict, "already activated")
		}

		plan := cascade.Activation(p.UserID, requestcontext.Now(ctx))
		_, updated, err := s.effects.Apply(ctx, st.Subjects, subjectID, plan)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to activate subject")
		}
		approval, out = latest, updated
		return record(ctx, st, auditEvent(ctx, audit.EventActivated, latest, p.UserID))
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "subject activated",
		"subject_id", subjectID.String(),
		"approval_id", approval.ID.String(),
		"activated_by", p.UserID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	s.effects.NotifyActivated(ctx, approval, out)
	return out, nil
}
