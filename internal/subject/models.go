// Package subject holds the entities approval requests govern: machines and
// the QC entries recorded against them.
package subject

import (
	"maps"
	"time"

	id "qcgate/pkg/domain"
)

// Kind distinguishes machines from QC entries.
type Kind string

const (
	KindMachine Kind = "machine"
	KindQCEntry Kind = "qc_entry"
)

func (k Kind) IsValid() bool {
	return k == KindMachine || k == KindQCEntry
}

// ApprovalStatus mirrors the state of the subject's latest creation request.
type ApprovalStatus string

const (
	ApprovalNone     ApprovalStatus = "none"
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Entity is a machine or QC entry. A QC entry points at its machine through
// ParentID.
type Entity struct {
	ID              id.SubjectID
	Kind            Kind
	ParentID        *id.SubjectID
	Name            string
	Approved        bool
	ApprovalStatus  ApprovalStatus
	Active          bool
	Activated       bool
	ActivatedAt     *time.Time
	ActivatedBy     *id.UserID
	RejectionReason string
	Attributes      map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Clone copies e so callers never share the stored attribute map.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	out := *e
	out.Attributes = maps.Clone(e.Attributes)
	if e.ParentID != nil {
		p := *e.ParentID
		out.ParentID = &p
	}
	if e.ActivatedAt != nil {
		t := *e.ActivatedAt
		out.ActivatedAt = &t
	}
	if e.ActivatedBy != nil {
		u := *e.ActivatedBy
		out.ActivatedBy = &u
	}
	return &out
}

// Patch is a partial update. Nil fields are left untouched; Attributes keys
// are merged into the existing attributes.
type Patch struct {
	Approved        *bool
	ApprovalStatus  *ApprovalStatus
	Active          *bool
	Activated       *bool
	ActivatedAt     *time.Time
	ActivatedBy     *id.UserID
	RejectionReason *string
	Attributes      map[string]any
}

// IsEmpty reports whether applying p would change nothing.
func (p Patch) IsEmpty() bool {
	return p.Approved == nil && p.ApprovalStatus == nil && p.Active == nil && p.Activated == nil &&
		p.ActivatedAt == nil && p.ActivatedBy == nil && p.RejectionReason == nil && len(p.Attributes) == 0
}

// Merge layers next over p; fields set in next win.
func (p Patch) Merge(next Patch) Patch {
	if next.Approved != nil {
		p.Approved = next.Approved
	}
	if next.ApprovalStatus != nil {
		p.ApprovalStatus = next.ApprovalStatus
	}
	if next.Active != nil {
		p.Active = next.Active
	}
	if next.Activated != nil {
		p.Activated = next.Activated
	}
	if next.ActivatedAt != nil {
		p.ActivatedAt = next.ActivatedAt
	}
	if next.ActivatedBy != nil {
		p.ActivatedBy = next.ActivatedBy
	}
	if next.RejectionReason != nil {
		p.RejectionReason = next.RejectionReason
	}
	if len(next.Attributes) > 0 {
		merged := maps.Clone(p.Attributes)
		if merged == nil {
			merged = make(map[string]any, len(next.Attributes))
		}
		maps.Copy(merged, next.Attributes)
		p.Attributes = merged
	}
	return p
}

// ApplyTo mutates e in place and stamps UpdatedAt.
func (p Patch) ApplyTo(e *Entity, now time.Time) {
	if p.Approved != nil {
		e.Approved = *p.Approved
	}
	if p.ApprovalStatus != nil {
		e.ApprovalStatus = *p.ApprovalStatus
	}
	if p.Active != nil {
		e.Active = *p.Active
	}
	if p.Activated != nil {
		e.Activated = *p.Activated
	}
	if p.ActivatedAt != nil {
		t := *p.ActivatedAt
		e.ActivatedAt = &t
	}
	if p.ActivatedBy != nil {
		u := *p.ActivatedBy
		e.ActivatedBy = &u
	}
	if p.RejectionReason != nil {
		e.RejectionReason = *p.RejectionReason
	}
	if len(p.Attributes) > 0 {
		if e.Attributes == nil {
			e.Attributes = make(map[string]any, len(p.Attributes))
		}
		maps.Copy(e.Attributes, p.Attributes)
	}
	e.UpdatedAt = now
}

// Fields lists the names of the fields p sets, for logs and error context.
func (p Patch) Fields() []string {
	var fields []string
	if p.Approved != nil {
		fields = append(fields, "approved")
	}
	if p.ApprovalStatus != nil {
		fields = append(fields, "approval_status")
	}
	if p.Active != nil {
		fields = append(fields, "active")
	}
	if p.Activated != nil {
		fields = append(fields, "activated")
	}
	if p.ActivatedAt != nil {
		fields = append(fields, "activated_at")
	}
	if p.ActivatedBy != nil {
		fields = append(fields, "activated_by")
	}
	if p.RejectionReason != nil {
		fields = append(fields, "rejection_reason")
	}
	if len(p.Attributes) > 0 {
		fields = append(fields, "attributes")
	}
	return fields
}
