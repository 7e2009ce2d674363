// Package service runs the approval request lifecycle: creation gated by
// policy, decisions that cascade into the subject, requester edits and
// withdrawal, and subject activation.
package service

import (
	"context"
	"log/slog"

	"qcgate/internal/approval/models"
	"qcgate/internal/cascade"
	"qcgate/internal/platform/tracer"
	"qcgate/internal/policy"
	"qcgate/internal/subject"
	id "qcgate/pkg/domain"
	dErrors "qcgate/pkg/domain-errors"
)

// Store persists approval requests.
//
// Error contract:
//   - FindByID, FindByIDForUpdate, FindPending, LatestForSubject, Update and
//     Delete return sentinel.ErrNotFound when nothing matches
//   - Insert and Update return sentinel.ErrConflict when the write would leave
//     two PENDING requests for one (subject, action) pair
type Store interface {
	Insert(ctx context.Context, r *models.Request) error
	FindByID(ctx context.Context, requestID id.RequestID) (*models.Request, error)
	FindByIDForUpdate(ctx context.Context, requestID id.RequestID) (*models.Request, error)
	FindPending(ctx context.Context, subjectID id.SubjectID, action policy.Action) (*models.Request, error)
	LatestForSubject(ctx context.Context, subjectID id.SubjectID, action policy.Action, statuses ...models.Status) (*models.Request, error)
	Update(ctx context.Context, r *models.Request) error
	Delete(ctx context.Context, requestID id.RequestID) error
	List(ctx context.Context, filter models.Filter, page models.Page) ([]*models.Request, error)
}

// PolicyEvaluator decides whether a principal may perform an action.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, action policy.Action, p id.Principal, ec policy.EvalContext) (policy.Decision, error)
}

// ApproverResolver turns a REQUIRES_APPROVAL decision into user ids.
type ApproverResolver interface {
	Resolve(ctx context.Context, d policy.Decision) ([]id.UserID, error)
}

// Effects applies cascade plans and sends lifecycle notifications.
type Effects interface {
	Apply(ctx context.Context, entities subject.Store, subjectID id.SubjectID, plan cascade.Plan) (*subject.Entity, *subject.Entity, error)
	Revert(ctx context.Context, entities subject.Store, prior *subject.Entity) error
	NotifyCreated(ctx context.Context, req *models.Request)
	NotifyDecision(ctx context.Context, req *models.Request)
	NotifyActivated(ctx context.Context, req *models.Request, entity *subject.Entity)
}

// Service coordinates requests, subjects and policy. Every write runs inside
// a transaction scoped to the subject it touches.
type Service struct {
	requests      Store
	subjects      subject.Store
	tx            TxRunner
	evaluator     PolicyEvaluator
	resolver      ApproverResolver
	effects       Effects
	preconditions *Preconditions
	logger        *slog.Logger
	tracer        tracer.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithTracer(t tracer.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithPreconditions replaces the default precondition registry.
func WithPreconditions(p *Preconditions) Option {
	return func(s *Service) { s.preconditions = p }
}

func New(requests Store, subjects subject.Store, tx TxRunner, evaluator PolicyEvaluator,
	resolver ApproverResolver, effects Effects, opts ...Option,
) *Service {
	switch {
	case requests == nil:
		panic("service.New: request store is required")
	case subjects == nil:
		panic("service.New: subject store is required")
	case tx == nil:
		panic("service.New: tx runner is required")
	case evaluator == nil:
		panic("service.New: policy evaluator is required")
	case resolver == nil:
		panic("service.New: approver resolver is required")
	case effects == nil:
		panic("service.New: effects are required")
	}
	s := &Service{
		requests:      requests,
		subjects:      subjects,
		tx:            tx,
		evaluator:     evaluator,
		resolver:      resolver,
		effects:       effects,
		preconditions: DefaultPreconditions(),
		logger:        slog.Default(),
		tracer:        tracer.Noop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func subjectKey(subjectID id.SubjectID) string {
	return "subject:" + subjectID.String()
}

// creationAction is the action whose requests drive a subject's approval status.
func creationAction(k subject.Kind) policy.Action {
	if k == subject.KindQCEntry {
		return policy.ActionCreateQC
	}
	return policy.ActionCreateMachine
}

func approveAction(k models.SubjectKind) policy.Action {
	if k == models.KindQCApproval {
		return policy.ActionApproveQC
	}
	return policy.ActionApproveMachine
}

// holdSubject records the subject's current approval status on a creation
// request about to mark it pending. A subject already approved cannot be
// put back up for creation approval.
func holdSubject(ctx context.Context, st Stores, req *models.Request) error {
	if !req.Action.IsCreate() {
		return nil
	}
	entity, err := st.Subjects.Get(ctx, req.SubjectID)
	if err != nil {
		return subjectNotFound(err, "failed to load subject")
	}
	if entity.Approved {
		return dErrors.New(dErrors.CodeConflict, "subject is already approved")
	}
	req.PriorSubjectStatus = entity.ApprovalStatus
	return nil
}

func kindFor(k subject.Kind) models.SubjectKind {
	if k == subject.KindQCEntry {
		return models.KindQCApproval
	}
	return models.KindMachineApproval
}
