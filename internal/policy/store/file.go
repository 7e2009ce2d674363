package store

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"qcgate/internal/policy"
	id "qcgate/pkg/domain"
)

// policyDocument is the YAML shape of a policy file:
//
//	default_approvers: [admin]
//	department_approvers:
//	  d0000000-0000-0000-0000-000000000001: [dispatch_lead]
//	rules:
//	  - name: machine-create-manager
//	    action: CREATE_MACHINE
//	    permission: REQUIRES_APPROVAL
//	    roles: [manager]
//	    approver_roles: [admin]
//	    priority: 65
//	overrides:
//	  - type: user_deny
//	    action: CREATE_MACHINE
//	    user: 11111111-1111-1111-1111-111111111111
//	    priority: 100
type policyDocument struct {
	DefaultApprovers    []string            `yaml:"default_approvers"`
	DepartmentApprovers map[string][]string `yaml:"department_approvers"`
	Rules               []ruleDocument      `yaml:"rules"`
	Overrides           []overrideDocument  `yaml:"overrides"`
}

type ruleDocument struct {
	Name                   string   `yaml:"name"`
	Action                 string   `yaml:"action"`
	Permission             string   `yaml:"permission"`
	Roles                  []string `yaml:"roles"`
	Users                  []string `yaml:"users"`
	Departments            []string `yaml:"departments"`
	Categories             []string `yaml:"categories"`
	MaxValue               *float64 `yaml:"max_value"`
	UseDepartmentApprovers bool     `yaml:"use_department_approvers"`
	ApproverRoles          []string `yaml:"approver_roles"`
	Priority               int      `yaml:"priority"`
	Active                 *bool    `yaml:"active"`
	Condition              string   `yaml:"condition"`
}

type overrideDocument struct {
	ID         string    `yaml:"id"`
	Type       string    `yaml:"type"`
	Action     string    `yaml:"action"`
	User       string    `yaml:"user"`
	Department string    `yaml:"department"`
	Priority   int       `yaml:"priority"`
	CreatedAt  time.Time `yaml:"created_at"`
}

// LoadFile reads and validates a YAML policy file.
func LoadFile(path string) (policy.RuleSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return policy.RuleSet{}, fmt.Errorf("read policy file: %w", err)
	}
	return ParseYAML(raw)
}

// ParseYAML decodes a policy document. Rules default to active when the
// active key is omitted.
func ParseYAML(raw []byte) (policy.RuleSet, error) {
	var doc policyDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return policy.RuleSet{}, fmt.Errorf("decode policy yaml: %w", err)
	}

	rs := policy.RuleSet{
		DepartmentApprovers: make(map[id.DepartmentID][]id.RoleID, len(doc.DepartmentApprovers)),
	}
	var err error
	if rs.DefaultApprovers, err = parseRoles(doc.DefaultApprovers); err != nil {
		return policy.RuleSet{}, fmt.Errorf("default_approvers: %w", err)
	}
	for rawDept, rawRoles := range doc.DepartmentApprovers {
		dept, err := id.ParseDepartmentID(rawDept)
		if err != nil {
			return policy.RuleSet{}, fmt.Errorf("department_approvers: %w", err)
		}
		roles, err := parseRoles(rawRoles)
		if err != nil {
			return policy.RuleSet{}, fmt.Errorf("department_approvers[%s]: %w", rawDept, err)
		}
		rs.DepartmentApprovers[dept] = roles
	}

	for i, rd := range doc.Rules {
		rule, err := rd.toRule()
		if err != nil {
			return policy.RuleSet{}, fmt.Errorf("rules[%d]: %w", i, err)
		}
		rs.Rules = append(rs.Rules, rule)
	}
	for i, od := range doc.Overrides {
		o, err := od.toOverride()
		if err != nil {
			return policy.RuleSet{}, fmt.Errorf("overrides[%d]: %w", i, err)
		}
		rs.Overrides = append(rs.Overrides, o)
	}

	if err := rs.Validate(); err != nil {
		return policy.RuleSet{}, err
	}
	return rs, nil
}

func (rd ruleDocument) toRule() (policy.Rule, error) {
	r := policy.Rule{
		Name:                   rd.Name,
		Action:                 policy.Action(rd.Action),
		Permission:             policy.Permission(rd.Permission),
		MaxValue:               rd.MaxValue,
		UseDepartmentApprovers: rd.UseDepartmentApprovers,
		Priority:               rd.Priority,
		Active:                 rd.Active == nil || *rd.Active,
		Condition:              rd.Condition,
	}
	var err error
	if r.Roles, err = parseRoles(rd.Roles); err != nil {
		return r, err
	}
	if r.ApproverRoles, err = parseRoles(rd.ApproverRoles); err != nil {
		return r, err
	}
	for _, u := range rd.Users {
		uid, err := id.ParseUserID(u)
		if err != nil {
			return r, err
		}
		r.Users = append(r.Users, uid)
	}
	for _, d := range rd.Departments {
		dept, err := id.ParseDepartmentID(d)
		if err != nil {
			return r, err
		}
		r.Departments = append(r.Departments, dept)
	}
	for _, c := range rd.Categories {
		cat, err := id.ParseCategoryID(c)
		if err != nil {
			return r, err
		}
		r.Categories = append(r.Categories, cat)
	}
	return r, nil
}

func (od overrideDocument) toOverride() (policy.Override, error) {
	o := policy.Override{
		Type:      policy.OverrideType(od.Type),
		Action:    policy.Action(od.Action),
		Priority:  od.Priority,
		CreatedAt: od.CreatedAt,
	}
	if od.ID != "" {
		parsed, err := uuid.Parse(od.ID)
		if err != nil {
			return o, fmt.Errorf("invalid override id: %w", err)
		}
		o.ID = parsed
	} else {
		o.ID = uuid.New()
	}
	user, err := id.ParseUserID(od.User)
	if err != nil {
		return o, err
	}
	o.User = user
	if od.Department != "" {
		dept, err := id.ParseDepartmentID(od.Department)
		if err != nil {
			return o, err
		}
		o.Department = &dept
	}
	return o, nil
}

func parseRoles(raw []string) ([]id.RoleID, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]id.RoleID, 0, len(raw))
	for _, r := range raw {
		role, err := id.ParseRoleID(r)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, nil
}
