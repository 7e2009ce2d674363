package policy

import (
	"context"
	"fmt"
	"slices"

	id "qcgate/pkg/domain"
)

// Store supplies policy data to the engine. Rules and overrides are returned
// in declaration order; the engine relies on that order to break ties.
type Store interface {
	LoadRules(ctx context.Context) ([]Rule, error)
	LoadOverrides(ctx context.Context) ([]Override, error)
	DefaultApproverRoles(ctx context.Context) ([]id.RoleID, error)
	DepartmentApproverRoles(ctx context.Context, dept id.DepartmentID) ([]id.RoleID, error)
}

// RuleSet is a complete, immutable policy document.
type RuleSet struct {
	Rules               []Rule
	Overrides           []Override
	DefaultApprovers    []id.RoleID
	DepartmentApprovers map[id.DepartmentID][]id.RoleID
}

// Validate checks the rule set is internally consistent and that every rule
// condition compiles.
func (rs RuleSet) Validate() error {
	names := make(map[string]struct{}, len(rs.Rules))
	for i, r := range rs.Rules {
		if r.Name == "" {
			return fmt.Errorf("rule %d: name is required", i)
		}
		if _, dup := names[r.Name]; dup {
			return fmt.Errorf("rule %q: duplicate name", r.Name)
		}
		names[r.Name] = struct{}{}
		if r.Action == "" {
			return fmt.Errorf("rule %q: action is required", r.Name)
		}
		if !r.Permission.IsValid() {
			return fmt.Errorf("rule %q: unknown permission %q", r.Name, r.Permission)
		}
		if r.Condition != "" {
			if _, err := compileCondition(r.Condition); err != nil {
				return fmt.Errorf("rule %q: %w", r.Name, err)
			}
		}
	}
	for i, o := range rs.Overrides {
		if o.Type != OverrideUserAllow && o.Type != OverrideUserDeny {
			return fmt.Errorf("override %d: unknown type %q", i, o.Type)
		}
		if o.Action == "" {
			return fmt.Errorf("override %d: action is required", i)
		}
		if o.User.IsNil() {
			return fmt.Errorf("override %d: user is required", i)
		}
	}
	return nil
}

// Clone returns a deep copy so callers can never alias a stored rule set.
func (rs RuleSet) Clone() RuleSet {
	out := RuleSet{
		Rules:               make([]Rule, len(rs.Rules)),
		Overrides:           slices.Clone(rs.Overrides),
		DefaultApprovers:    slices.Clone(rs.DefaultApprovers),
		DepartmentApprovers: make(map[id.DepartmentID][]id.RoleID, len(rs.DepartmentApprovers)),
	}
	for i, r := range rs.Rules {
		out.Rules[i] = r.clone()
	}
	for dept, roles := range rs.DepartmentApprovers {
		out.DepartmentApprovers[dept] = slices.Clone(roles)
	}
	return out
}

func (r Rule) clone() Rule {
	r.Roles = slices.Clone(r.Roles)
	r.Users = slices.Clone(r.Users)
	r.Departments = slices.Clone(r.Departments)
	r.Categories = slices.Clone(r.Categories)
	r.ApproverRoles = slices.Clone(r.ApproverRoles)
	if r.MaxValue != nil {
		v := *r.MaxValue
		r.MaxValue = &v
	}
	return r
}
