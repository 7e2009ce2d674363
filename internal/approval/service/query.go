package service

import (
	"context"

	"qcgate/internal/approval/models"
	"qcgate/internal/policy"
	id "qcgate/pkg/domain"
	dErrors "qcgate/pkg/domain-errors"
)

// Get returns a request to its requester, its approvers, or anyone policy
// allows to view machines.
func (s *Service) Get(ctx context.Context, p id.Principal, requestID id.RequestID) (*models.Request, error) {
	if err := requirePrincipal(p); err != nil {
		return nil, err
	}
	req, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return nil, requestNotFound(err, "failed to load approval request")
	}
	if req.RequestedBy == p.UserID || req.IsApprover(p.UserID) {
		return req, nil
	}
	decision, err := s.evaluator.Evaluate(ctx, policy.ActionViewMachine, p, policy.EvalContext{})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "policy evaluation failed")
	}
	if !decision.Allowed() {
		return nil, dErrors.New(dErrors.CodeForbidden, "not allowed to view this request")
	}
	return req, nil
}

// ListPending lists PENDING requests narrowed by filter. The status in
// filter is ignored.
func (s *Service) ListPending(ctx context.Context, filter models.Filter, page models.Page) ([]*models.Request, error) {
	status := models.StatusPending
	filter.Status = &status
	return s.list(ctx, filter, page)
}

// ListBySubject lists every request for a subject, newest first.
func (s *Service) ListBySubject(ctx context.Context, subjectID id.SubjectID, page models.Page) ([]*models.Request, error) {
	return s.list(ctx, models.Filter{SubjectID: &subjectID}, page)
}

// ListByRequester lists the requests userID opened.
func (s *Service) ListByRequester(ctx context.Context, userID id.UserID, page models.Page) ([]*models.Request, error) {
	return s.list(ctx, models.Filter{RequestedBy: &userID}, page)
}

// ListAssigned lists the PENDING requests approverID may decide.
func (s *Service) ListAssigned(ctx context.Context, approverID id.UserID, page models.Page) ([]*models.Request, error) {
	filter := models.PendingOnly()
	filter.Approver = &approverID
	return s.list(ctx, filter, page)
}

func (s *Service) list(ctx context.Context, filter models.Filter, page models.Page) ([]*models.Request, error) {
	out, err := s.requests.List(ctx, filter, page.Normalize())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list approval requests")
	}
	return out, nil
}
