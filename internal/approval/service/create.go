package service

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"qcgate/internal/approval/models"
	"qcgate/internal/audit"
	"qcgate/internal/cascade"
	id "qcgate/pkg/domain"
	dErrors "qcgate/pkg/domain-errors"
	"qcgate/pkg/platform/sentinel"
	"qcgate/pkg/requestcontext"
)

// Create opens a PENDING request for cmd.Action on cmd.SubjectID. The action
// must require approval for p; at most one PENDING request may exist per
// (subject, action).
func (s *Service) Create(ctx context.Context, p id.Principal, cmd models.CreateCommand) (req *models.Request, err error) {
	ctx, span := s.tracer.Start(ctx, "approval.create",
		attribute.String("action", string(cmd.Action)),
		attribute.String("subject_id", cmd.SubjectID.String()),
	)
	defer func() { span.End(err) }()

	if err := requirePrincipal(p); err != nil {
		return nil, err
	}
	if cmd.SubjectID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "subject_id is required")
	}
	if cmd.Action == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "action is required")
	}

	decision, err := s.evaluator.Evaluate(ctx, cmd.Action, p, cmd.EvalContext)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "policy evaluation failed")
	}
	switch {
	case decision.Denied():
		return nil, dErrors.New(dErrors.CodeForbidden, "action not permitted")
	case decision.Allowed():
		return nil, dErrors.New(dErrors.CodePreconditionFailed, "action does not require approval")
	}

	entity, err := s.subjects.Get(ctx, cmd.SubjectID)
	if err != nil {
		return nil, subjectNotFound(err, "failed to load subject")
	}
	if err := s.preconditions.run(ctx, Stores{Requests: s.requests, Subjects: s.subjects}, entity); err != nil {
		return nil, err
	}

	approvers, err := s.resolver.Resolve(ctx, decision)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "approver resolution failed")
	}

	req, err = models.NewRequest(id.NewRequestID(), cmd.SubjectID, kindFor(entity.Kind), cmd.Action,
		p.UserID, approvers, cmd.ProposedChanges, cmd.OriginalData, cmd.Notes, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}

	err = s.tx.RunInTx(ctx, subjectKey(cmd.SubjectID), func(ctx context.Context, st Stores) error {
		_, err := st.Requests.FindPending(ctx, cmd.SubjectID, cmd.Action)
		switch {
		case err == nil:
			return dErrors.New(dErrors.CodeConflict, "an approval request is already pending for this subject and action")
		case !errors.Is(err, sentinel.ErrNotFound):
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check pending requests")
		}
		if err := holdSubject(ctx, st, req); err != nil {
			return err
		}

		if err := st.Requests.Insert(ctx, req); err != nil {
			return translate(err, "approval request not found", "failed to save approval request")
		}
		plan := cascade.Compose(req, cascade.OutcomePending)
		if _, _, err := s.effects.Apply(ctx, st.Subjects, req.SubjectID, plan); err != nil {
			// Memory stores do not roll back, so drop the insert by hand.
			_ = st.Requests.Delete(ctx, req.ID)
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to mark subject pending")
		}
		return record(ctx, st, auditEvent(ctx, audit.EventRequested, req, p.UserID))
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "approval request created",
		"approval_id", req.ID.String(),
		"subject_id", req.SubjectID.String(),
		"action", string(req.Action),
		"requested_by", p.UserID.String(),
		"approvers", len(req.Approvers),
		"request_id", requestcontext.RequestID(ctx),
	)
	if cmd.NotifyApprovers {
		s.effects.NotifyCreated(ctx, req)
	}
	return req, nil
}
