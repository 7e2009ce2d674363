package service

import (
	"context"

	"qcgate/internal/approval/models"
	"qcgate/internal/audit"
	id "qcgate/pkg/domain"
	dErrors "qcgate/pkg/domain-errors"
	"qcgate/pkg/requestcontext"
)

// AuditLog appends lifecycle events inside a transaction. The in-memory log
// never fails, so memory transactions need no undo for it.
type AuditLog interface {
	Append(ctx context.Context, entry *audit.Entry) error
}

func auditEvent(ctx context.Context, t audit.EventType, req *models.Request, actor id.UserID) audit.Event {
	ev := audit.Event{
		Type:       t,
		ApprovalID: req.ID,
		SubjectID:  req.SubjectID,
		Action:     string(req.Action),
		Status:     string(req.Status),
		ActorID:    actor,
		Reason:     req.RejectionReason,
		RequestID:  requestcontext.RequestID(ctx),
		Timestamp:  requestcontext.Now(ctx),
	}
	switch t {
	case audit.EventRequested, audit.EventUpdated, audit.EventResubmitted:
		ev.Approvers = req.Approvers
	}
	return ev
}

// record appends ev when the transaction carries an audit log.
func record(ctx context.Context, st Stores, ev audit.Event) error {
	if st.Audit == nil {
		return nil
	}
	entry, err := audit.NewEntry(ev)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode audit event")
	}
	if err := st.Audit.Append(ctx, entry); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record audit event")
	}
	return nil
}
