package cascade

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"qcgate/internal/approval/models"
	"qcgate/internal/notification"
	"qcgate/internal/subject"
	id "qcgate/pkg/domain"
)

// Notifier delivers an event to recipients and never fails the caller.
type Notifier interface {
	Dispatch(ctx context.Context, recipients []id.UserID, ev notification.Event)
}

// Cascade applies plans to the subject store and announces outcomes.
type Cascade struct {
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Cascade)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cascade) { c.logger = logger }
}

// WithClock replaces time.Now for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Cascade) { c.now = now }
}

func New(notifier Notifier, opts ...Option) *Cascade {
	if notifier == nil {
		panic("cascade.New: notifier is required")
	}
	c := &Cascade{notifier: notifier, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Apply runs plan against subjectID in one Update and returns the entity
// before and after the change. The prior entity is what Revert restores.
func (c *Cascade) Apply(ctx context.Context, entities subject.Store, subjectID id.SubjectID, plan Plan) (*subject.Entity, *subject.Entity, error) {
	prior, err := entities.Get(ctx, subjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("load subject for %v: %w", plan.StepNames(), err)
	}
	if plan.Patch.IsEmpty() {
		return prior, prior.Clone(), nil
	}
	updated, err := entities.Update(ctx, subjectID, plan.Patch)
	if err != nil {
		return prior, nil, fmt.Errorf("apply %v to subject: %w", plan.StepNames(), err)
	}
	c.logger.DebugContext(ctx, "cascade applied",
		"subject_id", subjectID.String(),
		"steps", plan.StepNames(),
		"fields", plan.Patch.Fields(),
	)
	return prior, updated, nil
}

// Revert restores prior wholesale.
func (c *Cascade) Revert(ctx context.Context, entities subject.Store, prior *subject.Entity) error {
	if prior == nil {
		return nil
	}
	if err := entities.Save(ctx, prior); err != nil {
		return fmt.Errorf("revert subject %s: %w", prior.ID, err)
	}
	return nil
}

// NotifyCreated tells each approver a request awaits them.
func (c *Cascade) NotifyCreated(ctx context.Context, req *models.Request) {
	c.notifier.Dispatch(ctx, req.Approvers, notification.Event{
		Type:          notification.TypeApprovalRequested,
		Title:         "Approval requested",
		Message:       fmt.Sprintf("%s on %s awaits your decision", req.Action, req.SubjectID),
		RelatedEntity: requestEntity(req),
		OccurredAt:    c.now(),
	})
}

// NotifyDecision tells the requester how their request was decided.
func (c *Cascade) NotifyDecision(ctx context.Context, req *models.Request) {
	ev := notification.Event{
		RelatedEntity: requestEntity(req),
		OccurredAt:    c.now(),
	}
	switch req.Status {
	case models.StatusApproved:
		ev.Type = notification.TypeApprovalApproved
		ev.Title = "Approval granted"
		ev.Message = fmt.Sprintf("%s on %s was approved", req.Action, req.SubjectID)
	case models.StatusRejected:
		ev.Type = notification.TypeApprovalRejected
		ev.Title = "Approval rejected"
		ev.Message = fmt.Sprintf("%s on %s was rejected: %s", req.Action, req.SubjectID, req.RejectionReason)
	default:
		return
	}
	c.notifier.Dispatch(ctx, []id.UserID{req.RequestedBy}, ev)
}

// NotifyActivated tells the requester of the approving request that the
// subject is now active.
func (c *Cascade) NotifyActivated(ctx context.Context, req *models.Request, entity *subject.Entity) {
	c.notifier.Dispatch(ctx, []id.UserID{req.RequestedBy}, notification.Event{
		Type:          notification.TypeSubjectActivated,
		Title:         "Subject activated",
		Message:       fmt.Sprintf("%s %s is now active", entity.Kind, displayName(entity)),
		RelatedEntity: notification.RelatedEntity{Kind: string(entity.Kind), ID: entity.ID.String()},
		OccurredAt:    c.now(),
	})
}

func requestEntity(req *models.Request) notification.RelatedEntity {
	return notification.RelatedEntity{Kind: string(req.SubjectKind), ID: req.ID.String()}
}

func displayName(e *subject.Entity) string {
	if e.Name != "" {
		return e.Name
	}
	return e.ID.String()
}
