package models

import (
	"qcgate/internal/policy"
	id "qcgate/pkg/domain"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Filter narrows list queries. Nil fields match anything.
type Filter struct {
	Status      *Status
	Kind        *SubjectKind
	Action      *policy.Action
	SubjectID   *id.SubjectID
	RequestedBy *id.UserID
	Approver    *id.UserID
}

// Matches reports whether r passes every set field of f.
func (f Filter) Matches(r *Request) bool {
	if f.Status != nil && r.Status != *f.Status {
		return false
	}
	if f.Kind != nil && r.SubjectKind != *f.Kind {
		return false
	}
	if f.Action != nil && r.Action != *f.Action {
		return false
	}
	if f.SubjectID != nil && r.SubjectID != *f.SubjectID {
		return false
	}
	if f.RequestedBy != nil && r.RequestedBy != *f.RequestedBy {
		return false
	}
	if f.Approver != nil && !r.IsApprover(*f.Approver) {
		return false
	}
	return true
}

// Page bounds a list query.
type Page struct {
	Limit  int
	Offset int
}

// Normalize clamps the page into range: default limit when unset, at most
// MaxPageLimit, no negative offset.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// PendingOnly is the filter for requests awaiting a decision.
func PendingOnly() Filter {
	s := StatusPending
	return Filter{Status: &s}
}

// NewestFirst orders requests by creation time descending, then by ID so
// pages are stable.
func NewestFirst(a, b *Request) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return compareIDs(a.ID, b.ID)
}

// MostRecent orders requests by last change descending. A reopened request
// sorts ahead of requests decided after it was first filed.
func MostRecent(a, b *Request) int {
	if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
		return c
	}
	return NewestFirst(a, b)
}

func compareIDs(a, b id.RequestID) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
