package service

import (
	"context"
	"maps"
	"slices"

	"go.opentelemetry.io/otel/attribute"

	"qcgate/internal/approval/models"
	"qcgate/internal/audit"
	"qcgate/internal/cascade"
	id "qcgate/pkg/domain"
	dErrors "qcgate/pkg/domain-errors"
	strs "qcgate/pkg/platform/strings"
	"qcgate/pkg/requestcontext"
)

// Update edits a PENDING or REJECTED request. Only the requester may edit.
// Editing a REJECTED request resubmits it as PENDING.
func (s *Service) Update(ctx context.Context, p id.Principal, requestID id.RequestID, cmd models.UpdateCommand) (out *models.Request, err error) {
	ctx, span := s.tracer.Start(ctx, "approval.update", attribute.String("approval_id", requestID.String()))
	defer func() { span.End(err) }()

	if err := requirePrincipal(p); err != nil {
		return nil, err
	}
	if cmd.ProposedChanges == nil && cmd.Notes == nil && cmd.ApproverOverride == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "nothing to update")
	}
	if cmd.ApproverOverride != nil && len(cmd.ApproverOverride) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "approver override cannot be empty")
	}

	current, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return nil, requestNotFound(err, "failed to load approval request")
	}

	reopened := false
	err = s.tx.RunInTx(ctx, subjectKey(current.SubjectID), func(ctx context.Context, st Stores) error {
		req, err := st.Requests.FindByIDForUpdate(ctx, requestID)
		if err != nil {
			return requestNotFound(err, "failed to load approval request")
		}
		if req.RequestedBy != p.UserID {
			return dErrors.New(dErrors.CodeForbidden, "only the requester can edit this request")
		}
		if !req.Editable() {
			return dErrors.New(dErrors.CodeConflict, "cannot edit a request that is "+string(req.Status))
		}

		next := req.Clone()
		now := requestcontext.Now(ctx)
		if cmd.ApproverOverride != nil {
			approvers, err := narrowApprovers(req.Approvers, cmd.ApproverOverride)
			if err != nil {
				return err
			}
			next.Approvers = approvers
		}
		if cmd.ProposedChanges != nil {
			next.ProposedChanges = models.Payload{
				SchemaVersion: cmd.ProposedChanges.SchemaVersion,
				Data:          maps.Clone(cmd.ProposedChanges.Data),
			}
		}
		if cmd.Notes != nil {
			next.Notes = *cmd.Notes
		}
		next.UpdatedAt = now

		if next.Status == models.StatusRejected {
			if err := next.Reopen(now); err != nil {
				return err
			}
			if err := holdSubject(ctx, st, next); err != nil {
				return err
			}
			reopened = true
		}

		if err := st.Requests.Update(ctx, next); err != nil {
			return translate(err, "approval request not found", "failed to save approval request")
		}
		if reopened {
			plan := cascade.Compose(next, cascade.OutcomePending)
			if _, _, err := s.effects.Apply(ctx, st.Subjects, next.SubjectID, plan); err != nil {
				_ = st.Requests.Update(ctx, req)
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to mark subject pending")
			}
		}
		event := audit.EventUpdated
		if reopened {
			event = audit.EventResubmitted
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

	s.logger.InfoContext(ctx, "approval request updated",
		"approval_id", out.ID.String(),
		"reopened", reopened,
		"request_id", requestcontext.RequestID(ctx),
	)
	if reopened {
		s.effects.NotifyCreated(ctx, out)
	}
	return out, nil
}

// narrowApprovers returns override deduplicated in order, provided every
// entry is already an eligible approver.
func narrowApprovers(eligible, override []id.UserID) ([]id.UserID, error) {
	for _, u := range override {
		if !slices.Contains(eligible, u) {
			return nil, dErrors.New(dErrors.CodeValidation, "approver override includes a user who is not an eligible approver")
		}
	}
	return strs.Dedupe(override), nil
}

// Cancel closes a PENDING request at the requester's request. The record is
// kept for history and the subject gets back the status it held before the
// request.
func (s *Service) Cancel(ctx context.Context, p id.Principal, requestID id.RequestID) (out *models.Request, err error) {
	ctx, span := s.tracer.Start(ctx, "approval.cancel", attribute.String("approval_id", requestID.String()))
	defer func() { span.End(err) }()

	err = s.ownPending(ctx, p, requestID, "cancel", func(ctx context.Context, st Stores, req *models.Request) error {
		next := req.Clone()
		if err := next.Cancel(requestcontext.Now(ctx)); err != nil {
			return err
		}
		if err := st.Requests.Update(ctx, next); err != nil {
			return requestNotFound(err, "failed to cancel approval request")
		}
		if err := s.restoreSubject(ctx, st, next); err != nil {
			_ = st.Requests.Update(ctx, req)
			return err
		}
		out = next
		return record(ctx, st, auditEvent(ctx, audit.EventCancelled, next, p.UserID))
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "approval request cancelled", "approval_id", requestID.String())
	return out, nil
}

// Withdraw deletes a PENDING request at the requester's request and hands
// the subject back the status it held before the request.
func (s *Service) Withdraw(ctx context.Context, p id.Principal, requestID id.RequestID) (err error) {
	ctx, span := s.tracer.Start(ctx, "approval.withdraw", attribute.String("approval_id", requestID.String()))
	defer func() { span.End(err) }()

	err = s.ownPending(ctx, p, requestID, "withdraw", func(ctx context.Context, st Stores, req *models.Request) error {
		if err := st.Requests.Delete(ctx, req.ID); err != nil {
			return requestNotFound(err, "failed to withdraw approval request")
		}
		if err := s.restoreSubject(ctx, st, req); err != nil {
			_ = st.Requests.Insert(ctx, req)
			return err
		}
		ev := auditEvent(ctx, audit.EventWithdrawn, req, p.UserID)
		ev.Status = "WITHDRAWN"
		return record(ctx, st, ev)
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "approval request withdrawn", "approval_id", requestID.String())
	return nil
}

func (s *Service) restoreSubject(ctx context.Context, st Stores, req *models.Request) error {
	plan := cascade.Restore(req)
	if len(plan.Steps) == 0 {
		return nil
	}
	if _, _, err := s.effects.Apply(ctx, st.Subjects, req.SubjectID, plan); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to restore subject status")
	}
	return nil
}

// ownPending loads the request inside its subject's transaction and runs fn
// once p is confirmed as the requester and the request is still PENDING.
func (s *Service) ownPending(ctx context.Context, p id.Principal, requestID id.RequestID, op string,
	fn func(ctx context.Context, st Stores, req *models.Request) error,
) error {
	if err := requirePrincipal(p); err != nil {
		return err
	}
	current, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return requestNotFound(err, "failed to load approval request")
	}
	return s.tx.RunInTx(ctx, subjectKey(current.SubjectID), func(ctx context.Context, st Stores) error {
		req, err := st.Requests.FindByIDForUpdate(ctx, requestID)
		if err != nil {
			return requestNotFound(err, "failed to load approval request")
		}
		if req.RequestedBy != p.UserID {
			return dErrors.New(dErrors.CodeForbidden, "only the requester can "+op+" this request")
		}
		if !req.IsPending() {
			return dErrors.New(dErrors.CodeConflict, "cannot "+op+" a request that is "+string(req.Status))
		}
		return fn(ctx, st, req)
	})
}
