package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qcgate/internal/policy"
	id "qcgate/pkg/domain"
)

func TestMemoryReplaceAndVersion(t *testing.T) {
	ctx := context.Background()
	m, err := NewMemory(policy.DefaultRuleSet())
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.Version())

	next := policy.RuleSet{Rules: []policy.Rule{
		{Name: "only", Action: policy.ActionViewMachine, Permission: policy.PermissionAllowed, Active: true},
	}}
	require.NoError(t, m.Replace(next))
	assert.Equal(t, int64(2), m.Version())

	rules, err := m.LoadRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "only", rules[0].Name)

	bad := policy.RuleSet{Rules: []policy.Rule{{Name: "broken", Action: policy.ActionViewMachine, Permission: "MAYBE"}}}
	require.Error(t, m.Replace(bad))
	assert.Equal(t, int64(2), m.Version(), "failed replace keeps the previous set")
	rules, err = m.LoadRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, "only", rules[0].Name)
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	dept := id.DepartmentID{1}
	rs := policy.RuleSet{
		DefaultApprovers:    []id.RoleID{"admin"},
		DepartmentApprovers: map[id.DepartmentID][]id.RoleID{dept: {"lead"}},
		Rules: []policy.Rule{{Name: "r", Action: policy.ActionCreateMachine, Permission: policy.PermissionRequiresApproval,
			Roles: []id.RoleID{"manager"}, Active: true}},
	}
	m, err := NewMemory(rs)
	require.NoError(t, err)

	// Mutating the input after construction must not leak into the store.
	rs.Rules[0].Roles[0] = "mutated"
	rs.DefaultApprovers[0] = "mutated"

	rules, err := m.LoadRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, id.RoleID("manager"), rules[0].Roles[0])
	rules[0].Roles[0] = "mutated"

	again, err := m.LoadRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, id.RoleID("manager"), again[0].Roles[0])

	defaults, err := m.DefaultApproverRoles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []id.RoleID{"admin"}, defaults)

	deptRoles, err := m.DepartmentApproverRoles(ctx, dept)
	require.NoError(t, err)
	assert.Equal(t, []id.RoleID{"lead"}, deptRoles)

	none, err := m.DepartmentApproverRoles(ctx, id.DepartmentID{2})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestNewMemoryRejectsInvalidRuleSet(t *testing.T) {
	_, err := NewMemory(policy.RuleSet{Rules: []policy.Rule{
		{Name: "dup", Action: policy.ActionViewMachine, Permission: policy.PermissionAllowed},
		{Name: "dup", Action: policy.ActionViewMachine, Permission: policy.PermissionDenied},
	}})
	require.Error(t, err)

	_, err = NewMemory(policy.RuleSet{Rules: []policy.Rule{
		{Name: "cond", Action: policy.ActionViewMachine, Permission: policy.PermissionAllowed, Condition: "context.value +"},
	}})
	require.Error(t, err)
}

func policyPrincipal(roles ...id.RoleID) id.Principal {
	return id.Principal{UserID: id.UserID{9}, DepartmentID: id.DepartmentID{9}, Roles: roles}
}
