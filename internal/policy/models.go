package policy

import (
	"strings"
	"time"

	"github.com/google/uuid"

	id "qcgate/pkg/domain"
	dErrors "qcgate/pkg/domain-errors"
)

// Permission is the outcome of a policy evaluation.
type Permission string

const (
	PermissionAllowed          Permission = "ALLOWED"
	PermissionRequiresApproval Permission = "REQUIRES_APPROVAL"
	PermissionDenied           Permission = "DENIED"
)

// IsValid reports whether p is one of the three known outcomes.
func (p Permission) IsValid() bool {
	switch p {
	case PermissionAllowed, PermissionRequiresApproval, PermissionDenied:
		return true
	}
	return false
}

// Action names a guarded operation. Any non-blank value is valid so new
// actions can be introduced through policy data alone.
type Action string

const (
	ActionCreateMachine   Action = "CREATE_MACHINE"
	ActionEditMachine     Action = "EDIT_MACHINE"
	ActionDeleteMachine   Action = "DELETE_MACHINE"
	ActionApproveMachine  Action = "APPROVE_MACHINE"
	ActionActivateMachine Action = "ACTIVATE_MACHINE"
	ActionViewMachine     Action = "VIEW_MACHINE"
	ActionCreateQC        Action = "CREATE_QC"
	ActionEditQC          Action = "EDIT_QC"
	ActionApproveQC       Action = "APPROVE_QC"
)

func ParseAction(s string) (Action, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "action cannot be empty")
	}
	return Action(strings.ToUpper(s)), nil
}

// IsCreate reports whether the action brings a new subject into being. Only
// creation requests drive a subject's approval status.
func (a Action) IsCreate() bool {
	return strings.HasPrefix(string(a), "CREATE_")
}

// IsEdit reports whether the action changes an existing subject's data.
func (a Action) IsEdit() bool {
	return strings.HasPrefix(string(a), "EDIT_")
}

// Rule maps an action plus scope to a permission. Empty scoping slices match anything.
type Rule struct {
	Name                   string
	Action                 Action
	Permission             Permission
	Roles                  []id.RoleID
	Users                  []id.UserID
	Departments            []id.DepartmentID
	Categories             []id.CategoryID
	MaxValue               *float64
	UseDepartmentApprovers bool
	ApproverRoles          []id.RoleID
	Priority               int
	Active                 bool
	// Condition is an optional expr-lang boolean expression evaluated against
	// {principal, context}. Blank means no extra condition.
	Condition string
}

// OverrideType selects the permission an override grants.
type OverrideType string

const (
	OverrideUserAllow OverrideType = "user_allow"
	OverrideUserDeny  OverrideType = "user_deny"
)

// Override is a per-user exception that outranks every rule.
type Override struct {
	ID         uuid.UUID
	Type       OverrideType
	Action     Action
	User       id.UserID
	Department *id.DepartmentID
	Priority   int
	CreatedAt  time.Time
}

// Permission returns the outcome the override yields.
func (o Override) Permission() Permission {
	if o.Type == OverrideUserAllow {
		return PermissionAllowed
	}
	return PermissionDenied
}

// EvalContext carries the attributes of the target of an action.
type EvalContext struct {
	DepartmentID *id.DepartmentID
	CategoryID   *id.CategoryID
	Value        *float64
}

// Decision is the engine's answer for one evaluation. Exactly one of
// MatchedRule and MatchedOverride is set unless no rule matched.
type Decision struct {
	Action          Action
	Permission      Permission
	MatchedRule     *Rule
	MatchedOverride *Override
	ApproverRoles   []id.RoleID
}

func (d Decision) Allowed() bool          { return d.Permission == PermissionAllowed }
func (d Decision) RequiresApproval() bool { return d.Permission == PermissionRequiresApproval }
func (d Decision) Denied() bool           { return d.Permission == PermissionDenied }

// Source names what produced the decision, for logs and API responses.
func (d Decision) Source() string {
	switch {
	case d.MatchedOverride != nil:
		return "override:" + d.MatchedOverride.ID.String()
	case d.MatchedRule != nil:
		return "rule:" + d.MatchedRule.Name
	default:
		return "default_deny"
	}
}
