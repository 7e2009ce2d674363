package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qcgate/internal/policy"
	id "qcgate/pkg/domain"
)

const samplePolicy = `
default_approvers: [admin]
department_approvers:
  d0000000-0000-0000-0000-000000000001: [dispatch_lead, admin]
rules:
  - name: machine-create-manager
    action: CREATE_MACHINE
    permission: REQUIRES_APPROVAL
    roles: [manager]
    approver_roles: [admin]
    priority: 65
  - name: machine-create-small
    action: CREATE_MACHINE
    permission: ALLOWED
    max_value: 500
    categories: [light]
    priority: 70
    condition: context.has_value
  - name: machine-create-off
    action: CREATE_MACHINE
    permission: ALLOWED
    priority: 99
    active: false
  - name: machine-create-deny
    action: CREATE_MACHINE
    permission: DENIED
    priority: 1
overrides:
  - id: 0b6f7c1e-6a3a-4bb7-9f5e-1c1e4e1a2b3c
    type: user_deny
    action: CREATE_MACHINE
    user: 11111111-1111-1111-1111-111111111111
    department: d0000000-0000-0000-0000-000000000001
    priority: 100
    created_at: 2026-01-15T10:00:00Z
  - type: user_allow
    action: DELETE_MACHINE
    user: 22222222-2222-2222-2222-222222222222
`

func TestParseYAML(t *testing.T) {
	rs, err := ParseYAML([]byte(samplePolicy))
	require.NoError(t, err)

	assert.Equal(t, []id.RoleID{"admin"}, rs.DefaultApprovers)
	dept, _ := id.ParseDepartmentID("d0000000-0000-0000-0000-000000000001")
	assert.Equal(t, []id.RoleID{"dispatch_lead", "admin"}, rs.DepartmentApprovers[dept])

	require.Len(t, rs.Rules, 4)
	assert.Equal(t, "machine-create-manager", rs.Rules[0].Name, "declaration order is preserved")
	assert.True(t, rs.Rules[0].Active, "active defaults to true")
	assert.False(t, rs.Rules[2].Active)
	require.NotNil(t, rs.Rules[1].MaxValue)
	assert.InDelta(t, 500.0, *rs.Rules[1].MaxValue, 0)
	assert.Equal(t, []id.CategoryID{"light"}, rs.Rules[1].Categories)
	assert.Equal(t, "context.has_value", rs.Rules[1].Condition)

	require.Len(t, rs.Overrides, 2)
	assert.Equal(t, policy.OverrideUserDeny, rs.Overrides[0].Type)
	assert.Equal(t, "0b6f7c1e-6a3a-4bb7-9f5e-1c1e4e1a2b3c", rs.Overrides[0].ID.String())
	require.NotNil(t, rs.Overrides[0].Department)
	assert.Equal(t, dept, *rs.Overrides[0].Department)
	assert.Equal(t, 2026, rs.Overrides[0].CreatedAt.Year())
	assert.NotEqual(t, [16]byte{}, [16]byte(rs.Overrides[1].ID), "missing ids are generated")
	assert.Nil(t, rs.Overrides[1].Department)
}

func TestParseYAMLRejectsInvalidDocuments(t *testing.T) {
	cases := map[string]string{
		"malformed yaml":        "rules: [",
		"unknown permission":    "rules:\n  - {name: a, action: X, permission: SOMETIMES}\n",
		"bad user id":           "rules:\n  - {name: a, action: X, permission: ALLOWED, users: [nope]}\n",
		"blank role":            "default_approvers: ['  ']\n",
		"bad override type":     "overrides:\n  - {type: maybe, action: X, user: 11111111-1111-1111-1111-111111111111}\n",
		"override without user": "overrides:\n  - {type: user_allow, action: X}\n",
		"bad condition":         "rules:\n  - {name: a, action: X, permission: ALLOWED, condition: 'context.value >'}\n",
		"non boolean condition": "rules:\n  - {name: a, action: X, permission: ALLOWED, condition: 'context.value'}\n",
		"bad department key":    "department_approvers:\n  nope: [admin]\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseYAML([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(samplePolicy), 0o600))

	rs, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, rs.Rules, 4)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
