package service

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"qcgate/internal/approval/models"
	"qcgate/internal/audit"
	"qcgate/internal/cascade"
	"qcgate/internal/policy"
	id "qcgate/pkg/domain"
	dErrors "qcgate/pkg/domain-errors"
	"qcgate/pkg/requestcontext"
)

// Decide records an approver's verdict on a PENDING request. The decider must
// be allowed the kind's APPROVE action and be an assigned approver. The
// subject is mutated first and the transition persisted second; if the
// transition cannot be saved the mutation is reverted.
func (s *Service) Decide(ctx context.Context, p id.Principal, requestID id.RequestID, cmd models.DecideCommand) (out *models.Request, err error) {
	ctx, span := s.tracer.Start(ctx, "approval.decide",
		attribute.String("approval_id", requestID.String()),
		attribute.Bool("approved", cmd.Approved),
	)
	defer func() { span.End(err) }()

	if err := requirePrincipal(p); err != nil {
		return nil, err
	}
	current, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return nil, requestNotFound(err, "failed to load approval request")
	}
	decision, err := s.evaluator.Evaluate(ctx, approveAction(current.SubjectKind), p, policy.EvalContext{})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "policy evaluation failed")
	}
	if !decision.Allowed() {
		return nil, dErrors.New(dErrors.CodeForbidden, "not allowed to decide "+string(current.SubjectKind)+" requests")
	}

	err = s.tx.RunInTx(ctx, subjectKey(current.SubjectID), func(ctx context.Context, st Stores) error {
		req, err := st.Requests.FindByIDForUpdate(ctx, requestID)
		if err != nil {
			return requestNotFound(err, "failed to load approval request")
		}
		if !req.IsApprover(p.UserID) {
			return dErrors.New(dErrors.CodeForbidden, "only an assigned approver can decide this request")
		}

		next := req.Clone()
		now := requestcontext.Now(ctx)
		outcome := cascade.OutcomeApproved
		if cmd.Approved {
			err = next.Approve(p.UserID, cmd.Notes, now)
		} else {
			outcome = cascade.OutcomeRejected
			err = next.Reject(p.UserID, strings.TrimSpace(cmd.RejectionReason), cmd.Notes, now)
		}
		if err != nil {
			return err
		}

		plan := cascade.Compose(next, outcome)
		prior, _, err := s.effects.Apply(ctx, st.Subjects, next.SubjectID, plan)
		if err != nil {
			s.logger.ErrorContext(ctx, "decision cascade failed",
				"approval_id", next.ID.String(),
				"steps", plan.StepNames(),
				"fields", plan.Patch.Fields(),
				"error", err,
			)
			return dErrors.Force(err, dErrors.CodeInternal, fmt.Sprintf(
				"approval %s: cascade %v failed on fields %v; request left pending",
				next.ID, plan.StepNames(), plan.Patch.Fields()))
		}

		if err := st.Requests.Update(ctx, next); err != nil {
			if revertErr := s.effects.Revert(ctx, st.Subjects, prior); revertErr != nil {
				s.logger.ErrorContext(ctx, "decision needs reconciliation",
					"approval_id", next.ID.String(),
					"subject_id", next.SubjectID.String(),
					"steps", plan.StepNames(),
					"fields", plan.Patch.Fields(),
					"error", err,
					"revert_error", revertErr,
				)
				return dErrors.Force(fmt.Errorf("%w; revert: %w", err, revertErr), dErrors.CodeReconciliationRequired,
					fmt.Sprintf("approval %s: subject changed by %v but decision was not saved and could not be reverted",
						next.ID, plan.StepNames()))
			}
			return requestNotFound(err, "failed to save decision")
		}
		event := audit.EventApproved
		if !cmd.Approved {
			event = audit.EventRejected
		}
		if err := record(ctx, st, auditEvent(ctx, event, next, p.UserID)); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "approval request decided",
		"approval_id", out.ID.String(),
		"subject_id", out.SubjectID.String(),
		"status", string(out.Status),
		"decided_by", p.UserID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	s.effects.NotifyDecision(ctx, out)
	return out, nil
}
