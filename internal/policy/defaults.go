package policy

import id "qcgate/pkg/domain"

// Built-in roles referenced by the default rule set.
const (
	RoleOperator    id.RoleID = "operator"
	RoleManager     id.RoleID = "manager"
	RoleQCInspector id.RoleID = "qc_inspector"
	RoleQCManager   id.RoleID = "qc_manager"
	RoleAdmin       id.RoleID = "admin"
	RoleSystemAdmin id.RoleID = "system_admin"
)

// DefaultRuleSet is the policy used when no policy file or database policy is
// configured. Every action ends in a priority-1 deny so intent is explicit.
func DefaultRuleSet() RuleSet {
	return RuleSet{
		DefaultApprovers: []id.RoleID{RoleAdmin},
		Rules: []Rule{
			{Name: "machine-view", Action: ActionViewMachine, Permission: PermissionAllowed, Priority: 10, Active: true},

			{Name: "machine-create-admin", Action: ActionCreateMachine, Permission: PermissionAllowed,
				Roles: []id.RoleID{RoleAdmin, RoleSystemAdmin}, Priority: 90, Active: true},
			{Name: "machine-create-manager", Action: ActionCreateMachine, Permission: PermissionRequiresApproval,
				Roles: []id.RoleID{RoleManager}, ApproverRoles: []id.RoleID{RoleAdmin}, Priority: 65, Active: true},
			{Name: "machine-create-deny", Action: ActionCreateMachine, Permission: PermissionDenied, Priority: 1, Active: true},

			{Name: "machine-edit-admin", Action: ActionEditMachine, Permission: PermissionAllowed,
				Roles: []id.RoleID{RoleAdmin, RoleSystemAdmin}, Priority: 90, Active: true},
			{Name: "machine-edit-manager", Action: ActionEditMachine, Permission: PermissionRequiresApproval,
				Roles: []id.RoleID{RoleManager, RoleOperator}, UseDepartmentApprovers: true,
				ApproverRoles: []id.RoleID{RoleAdmin}, Priority: 60, Active: true},
			{Name: "machine-edit-deny", Action: ActionEditMachine, Permission: PermissionDenied, Priority: 1, Active: true},

			{Name: "machine-delete-admin", Action: ActionDeleteMachine, Permission: PermissionRequiresApproval,
				Roles: []id.RoleID{RoleAdmin}, ApproverRoles: []id.RoleID{RoleSystemAdmin}, Priority: 80, Active: true},
			{Name: "machine-delete-deny", Action: ActionDeleteMachine, Permission: PermissionDenied, Priority: 1, Active: true},

			{Name: "machine-approve-admin", Action: ActionApproveMachine, Permission: PermissionAllowed,
				Roles: []id.RoleID{RoleAdmin, RoleSystemAdmin}, Priority: 80, Active: true},
			{Name: "machine-approve-deny", Action: ActionApproveMachine, Permission: PermissionDenied, Priority: 1, Active: true},

			{Name: "machine-activate", Action: ActionActivateMachine, Permission: PermissionAllowed,
				Roles: []id.RoleID{RoleAdmin, RoleSystemAdmin, RoleManager}, Priority: 80, Active: true},
			{Name: "machine-activate-deny", Action: ActionActivateMachine, Permission: PermissionDenied, Priority: 1, Active: true},

			{Name: "qc-create-high-value", Action: ActionCreateQC, Permission: PermissionRequiresApproval,
				Roles: []id.RoleID{RoleQCInspector}, ApproverRoles: []id.RoleID{RoleAdmin},
				Condition: "context.has_value && context.value > 10000", Priority: 70, Active: true},
			{Name: "qc-create-inspector", Action: ActionCreateQC, Permission: PermissionRequiresApproval,
				Roles: []id.RoleID{RoleQCInspector}, ApproverRoles: []id.RoleID{RoleQCManager}, Priority: 60, Active: true},
			{Name: "qc-create-deny", Action: ActionCreateQC, Permission: PermissionDenied, Priority: 1, Active: true},

			{Name: "qc-edit-inspector", Action: ActionEditQC, Permission: PermissionRequiresApproval,
				Roles: []id.RoleID{RoleQCInspector}, UseDepartmentApprovers: true,
				ApproverRoles: []id.RoleID{RoleQCManager}, Priority: 60, Active: true},
			{Name: "qc-edit-deny", Action: ActionEditQC, Permission: PermissionDenied, Priority: 1, Active: true},

			{Name: "qc-approve-manager", Action: ActionApproveQC, Permission: PermissionAllowed,
				Roles: []id.RoleID{RoleQCManager, RoleAdmin, RoleSystemAdmin}, Priority: 80, Active: true},
			{Name: "qc-approve-deny", Action: ActionApproveQC, Permission: PermissionDenied, Priority: 1, Active: true},
		},
	}
}
