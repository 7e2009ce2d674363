package policy

import (
	"slices"

	id "qcgate/pkg/domain"
)

// selectOverride returns the winning override for action and principal, or nil.
// Highest priority wins; on equal priority the most recently created wins,
// and on equal creation time the later-declared one wins.
func selectOverride(overrides []Override, action Action, p id.Principal) *Override {
	var best *Override
	for i := range overrides {
		o := &overrides[i]
		if o.Action != action || o.User != p.UserID {
			continue
		}
		if o.Department != nil && *o.Department != p.DepartmentID {
			continue
		}
		if best == nil || o.Priority > best.Priority ||
			(o.Priority == best.Priority && !o.CreatedAt.Before(best.CreatedAt)) {
			best = o
		}
	}
	if best == nil {
		return nil
	}
	winner := *best
	return &winner
}

// effectiveDepartment is the department a rule's department scope is tested
// against: the target's department when given, otherwise the principal's.
func effectiveDepartment(p id.Principal, ec EvalContext) id.DepartmentID {
	if ec.DepartmentID != nil {
		return *ec.DepartmentID
	}
	return p.DepartmentID
}

// scopeMatches checks the declarative scoping fields of r. Conditions are
// checked separately because they can fail to run.
func scopeMatches(r *Rule, p id.Principal, ec EvalContext) bool {
	if len(r.Roles) > 0 && !p.HasAnyRole(r.Roles) {
		return false
	}
	if len(r.Users) > 0 && !slices.Contains(r.Users, p.UserID) {
		return false
	}
	if len(r.Departments) > 0 && !slices.Contains(r.Departments, effectiveDepartment(p, ec)) {
		return false
	}
	if len(r.Categories) > 0 && (ec.CategoryID == nil || !slices.Contains(r.Categories, *ec.CategoryID)) {
		return false
	}
	if r.MaxValue != nil && (ec.Value == nil || *ec.Value > *r.MaxValue) {
		return false
	}
	return true
}

// better reports whether candidate outranks current. Only a strictly higher
// priority displaces an earlier rule, so the first declared wins ties.
func better(candidate, current *Rule) bool {
	return current == nil || candidate.Priority > current.Priority
}
