package policy_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"qcgate/internal/policy"
	"qcgate/internal/policy/store"
	id "qcgate/pkg/domain"
	dErrors "qcgate/pkg/domain-errors"
	"qcgate/pkg/testutil"
)

const actionCreate policy.Action = "CREATE"

// EngineSuite exercises evaluation against an in-memory store.
type EngineSuite struct {
	suite.Suite
	ctx     context.Context
	manager id.Principal
	other   id.Principal
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.ctx = context.Background()
	s.manager = testutil.Principal(testutil.ManagerID, testutil.DispatchDept, policy.RoleManager)
	s.other = testutil.Principal(testutil.OperatorID, testutil.QualityDept, policy.RoleOperator)
}

func (s *EngineSuite) engine(rs policy.RuleSet) *policy.Engine {
	st, err := store.NewMemory(rs)
	s.Require().NoError(err)
	return policy.NewEngine(st)
}

func (s *EngineSuite) exampleRules() policy.RuleSet {
	return policy.RuleSet{Rules: []policy.Rule{
		{Name: "manager-create", Action: actionCreate, Permission: policy.PermissionRequiresApproval,
			Roles: []id.RoleID{policy.RoleManager}, ApproverRoles: []id.RoleID{policy.RoleAdmin}, Priority: 65, Active: true},
		{Name: "deny-create", Action: actionCreate, Permission: policy.PermissionDenied, Priority: 1, Active: true},
	}}
}

func (s *EngineSuite) TestExampleScenario() {
	e := s.engine(s.exampleRules())

	d, err := e.Evaluate(s.ctx, actionCreate, s.manager, policy.EvalContext{})
	s.Require().NoError(err)
	s.Equal(policy.PermissionRequiresApproval, d.Permission)
	s.Equal([]id.RoleID{policy.RoleAdmin}, d.ApproverRoles)
	s.Require().NotNil(d.MatchedRule)
	s.Equal("manager-create", d.MatchedRule.Name)

	d, err = e.Evaluate(s.ctx, actionCreate, s.other, policy.EvalContext{})
	s.Require().NoError(err)
	s.True(d.Denied())
	s.Equal("deny-create", d.MatchedRule.Name)
}

func (s *EngineSuite) TestFailClosed() {
	s.Run("action without any rule is denied", func() {
		e := s.engine(s.exampleRules())
		d, err := e.Evaluate(s.ctx, "ARCHIVE", s.manager, policy.EvalContext{})
		s.Require().NoError(err)
		s.True(d.Denied())
		s.Nil(d.MatchedRule)
		s.Nil(d.MatchedOverride)
		s.Equal("default_deny", d.Source())
	})

	s.Run("no rule in scope is denied", func() {
		e := s.engine(policy.RuleSet{Rules: []policy.Rule{
			{Name: "admins", Action: actionCreate, Permission: policy.PermissionAllowed,
				Roles: []id.RoleID{policy.RoleAdmin}, Priority: 10, Active: true},
		}})
		d, err := e.Evaluate(s.ctx, actionCreate, s.manager, policy.EvalContext{})
		s.Require().NoError(err)
		s.True(d.Denied())
	})

	s.Run("inactive rules never match", func() {
		e := s.engine(policy.RuleSet{Rules: []policy.Rule{
			{Name: "off", Action: actionCreate, Permission: policy.PermissionAllowed, Priority: 10, Active: false},
		}})
		d, err := e.Evaluate(s.ctx, actionCreate, s.manager, policy.EvalContext{})
		s.Require().NoError(err)
		s.True(d.Denied())
	})
}

func (s *EngineSuite) TestOverridePrecedence() {
	rs := s.exampleRules()
	rs.Rules = append(rs.Rules, policy.Rule{Name: "allow-all", Action: actionCreate,
		Permission: policy.PermissionAllowed, Priority: 1000, Active: true})

	s.Run("user deny beats a higher priority rule", func() {
		rs := rs
		rs.Overrides = []policy.Override{{ID: uuid.New(), Type: policy.OverrideUserDeny, Action: actionCreate,
			User: s.manager.UserID, Priority: 1}}
		d, err := s.engine(rs).Evaluate(s.ctx, actionCreate, s.manager, policy.EvalContext{})
		s.Require().NoError(err)
		s.True(d.Denied())
		s.NotNil(d.MatchedOverride)
		s.Nil(d.MatchedRule)
		s.Empty(d.ApproverRoles)
	})

	s.Run("user allow beats the catch-all deny", func() {
		rs := s.exampleRules()
		rs.Overrides = []policy.Override{{ID: uuid.New(), Type: policy.OverrideUserAllow, Action: actionCreate,
			User: s.other.UserID}}
		d, err := s.engine(rs).Evaluate(s.ctx, actionCreate, s.other, policy.EvalContext{})
		s.Require().NoError(err)
		s.True(d.Allowed())
	})

	s.Run("override for another action is ignored", func() {
		rs := s.exampleRules()
		rs.Overrides = []policy.Override{{ID: uuid.New(), Type: policy.OverrideUserAllow, Action: "DELETE",
			User: s.other.UserID}}
		d, err := s.engine(rs).Evaluate(s.ctx, actionCreate, s.other, policy.EvalContext{})
		s.Require().NoError(err)
		s.True(d.Denied())
		s.Nil(d.MatchedOverride)
	})

	s.Run("department scoped override requires the principal's department", func() {
		rs := s.exampleRules()
		quality := testutil.QualityDept
		rs.Overrides = []policy.Override{{ID: uuid.New(), Type: policy.OverrideUserDeny, Action: actionCreate,
			User: s.manager.UserID, Department: &quality}}
		e := s.engine(rs)

		d, err := e.Evaluate(s.ctx, actionCreate, s.manager, policy.EvalContext{})
		s.Require().NoError(err)
		s.True(d.RequiresApproval(), "manager sits in dispatch, override targets quality")

		moved := s.manager
		moved.DepartmentID = testutil.QualityDept
		d, err = e.Evaluate(s.ctx, actionCreate, moved, policy.EvalContext{})
		s.Require().NoError(err)
		s.True(d.Denied())
	})
}

func (s *EngineSuite) TestOverrideTieBreaks() {
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	allowID, denyID := uuid.New(), uuid.New()

	s.Run("highest priority wins", func() {
		rs := s.exampleRules()
		rs.Overrides = []policy.Override{
			{ID: allowID, Type: policy.OverrideUserAllow, Action: actionCreate, User: s.manager.UserID, Priority: 9, CreatedAt: t0.Add(time.Hour)},
			{ID: denyID, Type: policy.OverrideUserDeny, Action: actionCreate, User: s.manager.UserID, Priority: 10, CreatedAt: t0},
		}
		d, err := s.engine(rs).Evaluate(s.ctx, actionCreate, s.manager, policy.EvalContext{})
		s.Require().NoError(err)
		s.Equal(denyID, d.MatchedOverride.ID)
	})

	s.Run("equal priority prefers most recently created", func() {
		rs := s.exampleRules()
		rs.Overrides = []policy.Override{
			{ID: allowID, Type: policy.OverrideUserAllow, Action: actionCreate, User: s.manager.UserID, Priority: 5, CreatedAt: t0.Add(time.Hour)},
			{ID: denyID, Type: policy.OverrideUserDeny, Action: actionCreate, User: s.manager.UserID, Priority: 5, CreatedAt: t0},
		}
		d, err := s.engine(rs).Evaluate(s.ctx, actionCreate, s.manager, policy.EvalContext{})
		s.Require().NoError(err)
		s.Equal(allowID, d.MatchedOverride.ID)
		s.True(d.Allowed())
	})

	s.Run("equal priority and time prefers later declared", func() {
		rs := s.exampleRules()
		rs.Overrides = []policy.Override{
			{ID: allowID, Type: policy.OverrideUserAllow, Action: actionCreate, User: s.manager.UserID, Priority: 5, CreatedAt: t0},
			{ID: denyID, Type: policy.OverrideUserDeny, Action: actionCreate, User: s.manager.UserID, Priority: 5, CreatedAt: t0},
		}
		d, err := s.engine(rs).Evaluate(s.ctx, actionCreate, s.manager, policy.EvalContext{})
		s.Require().NoError(err)
		s.Equal(denyID, d.MatchedOverride.ID)
	})
}

func (s *EngineSuite) TestRulePriority() {
	s.Run("higher priority wins regardless of order", func() {
		e := s.engine(policy.RuleSet{Rules: []policy.Rule{
			{Name: "low", Action: actionCreate, Permission: policy.PermissionAllowed, Priority: 5, Active: true},
			{Name: "high", Action: actionCreate, Permission: policy.PermissionDenied, Priority: 50, Active: true},
		}})
		d, err := e.Evaluate(s.ctx, actionCreate, s.manager, policy.EvalContext{})
		s.Require().NoError(err)
		s.Equal("high", d.MatchedRule.Name)
	})

	s.Run("first declared wins a tie", func() {
		e := s.engine(policy.RuleSet{Rules: []policy.Rule{
			{Name: "first", Action: actionCreate, Permission: policy.PermissionAllowed, Priority: 10, Active: true},
			{Name: "second", Action: actionCreate, Permission: policy.PermissionDenied, Priority: 10, Active: true},
		}})
		for range 5 {
			d, err := e.Evaluate(s.ctx, actionCreate, s.manager, policy.EvalContext{})
			s.Require().NoError(err)
			s.Equal("first", d.MatchedRule.Name)
		}
	})
}

func (s *EngineSuite) TestScoping() {
	dispatch := testutil.DispatchDept
	quality := testutil.QualityDept
	heavy := id.CategoryID("heavy")
	light := id.CategoryID("light")

	s.Run("users scope", func() {
		e := s.engine(policy.RuleSet{Rules: []policy.Rule{
			{Name: "only-manager", Action: actionCreate, Permission: policy.PermissionAllowed,
				Users: []id.UserID{s.manager.UserID}, Priority: 10, Active: true},
		}})
		d, _ := e.Evaluate(s.ctx, actionCreate, s.manager, policy.EvalContext{})
		s.True(d.Allowed())
		d, _ = e.Evaluate(s.ctx, actionCreate, s.other, policy.EvalContext{})
		s.True(d.Denied())
	})

	s.Run("department scope uses context department before principal department", func() {
		e := s.engine(policy.RuleSet{Rules: []policy.Rule{
			{Name: "quality-only", Action: actionCreate, Permission: policy.PermissionAllowed,
				Departments: []id.DepartmentID{quality}, Priority: 10, Active: true},
		}})
		d, _ := e.Evaluate(s.ctx, actionCreate, s.manager, policy.EvalContext{})
		s.True(d.Denied(), "manager is in dispatch")
		d, _ = e.Evaluate(s.ctx, actionCreate, s.manager, policy.EvalContext{DepartmentID: &quality})
		s.True(d.Allowed())
		d, _ = e.Evaluate(s.ctx, actionCreate, s.other, policy.EvalContext{DepartmentID: &dispatch})
		s.True(d.Denied(), "context department overrides principal department")
	})

	s.Run("category scope needs a category in context", func() {
		e := s.engine(policy.RuleSet{Rules: []policy.Rule{
			{Name: "heavy", Action: actionCreate, Permission: policy.PermissionAllowed,
				Categories: []id.CategoryID{heavy}, Priority: 10, Active: true},
		}})
		d, _ := e.Evaluate(s.ctx, actionCreate, s.manager, policy.EvalContext{})
		s.True(d.Denied())
		d, _ = e.Evaluate(s.ctx, actionCreate, s.manager, policy.EvalContext{CategoryID: &light})
		s.True(d.Denied())
		d, _ = e.Evaluate(s.ctx, actionCreate, s.manager, policy.EvalContext{CategoryID: &heavy})
		s.True(d.Allowed())
	})

	s.Run("max value", func() {
		e := s.engine(policy.RuleSet{Rules: []policy.Rule{
			{Name: "small", Action: actionCreate, Permission: policy.PermissionAllowed,
				MaxValue: testutil.Float(100), Priority: 10, Active: true},
			{Name: "fallback", Action: actionCreate, Permission: policy.PermissionRequiresApproval, Priority: 5, Active: true},
		}})
		d, _ := e.Evaluate(s.ctx, actionCreate, s.manager, policy.EvalContext{Value: testutil.Float(100)})
		s.Equal("small", d.MatchedRule.Name, "boundary is inclusive")
		d, _ = e.Evaluate(s.ctx, actionCreate, s.manager, policy.EvalContext{Value: testutil.Float(100.01)})
		s.Equal("fallback", d.MatchedRule.Name)
		d, _ = e.Evaluate(s.ctx, actionCreate, s.manager, policy.EvalContext{})
		s.Equal("fallback", d.MatchedRule.Name, "missing value only matches rules without max value")
	})

	s.Run("condition expression", func() {
		e := s.engine(policy.RuleSet{Rules: []policy.Rule{
			{Name: "big-ticket", Action: actionCreate, Permission: policy.PermissionDenied,
				Condition: `context.has_value && context.value > 5000 && !("admin" in principal.roles)`, Priority: 20, Active: true},
			{Name: "normal", Action: actionCreate, Permission: policy.PermissionAllowed, Priority: 10, Active: true},
		}})
		d, _ := e.Evaluate(s.ctx, actionCreate, s.manager, policy.EvalContext{Value: testutil.Float(6000)})
		s.Equal("big-ticket", d.MatchedRule.Name)
		d, _ = e.Evaluate(s.ctx, actionCreate, s.manager, policy.EvalContext{Value: testutil.Float(10)})
		s.Equal("normal", d.MatchedRule.Name)
		admin := testutil.Principal(testutil.AdminID, dispatch, policy.RoleAdmin)
		d, _ = e.Evaluate(s.ctx, actionCreate, admin, policy.EvalContext{Value: testutil.Float(6000)})
		s.Equal("normal", d.MatchedRule.Name)
	})
}

func (s *EngineSuite) TestApproverRoles() {
	deptHead := id.RoleID("dispatch_lead")

	s.Run("department approvers keyed by principal department", func() {
		e := s.engine(policy.RuleSet{
			DefaultApprovers: []id.RoleID{policy.RoleSystemAdmin},
			DepartmentApprovers: map[id.DepartmentID][]id.RoleID{
				testutil.DispatchDept: {deptHead},
			},
			Rules: []policy.Rule{{Name: "edit", Action: actionCreate, Permission: policy.PermissionRequiresApproval,
				UseDepartmentApprovers: true, ApproverRoles: []id.RoleID{policy.RoleAdmin}, Priority: 10, Active: true}},
		})
		d, err := e.Evaluate(s.ctx, actionCreate, s.manager, policy.EvalContext{})
		s.Require().NoError(err)
		s.Equal([]id.RoleID{deptHead}, d.ApproverRoles)

		d, err = e.Evaluate(s.ctx, actionCreate, s.other, policy.EvalContext{})
		s.Require().NoError(err)
		s.Equal([]id.RoleID{policy.RoleAdmin}, d.ApproverRoles, "no department entry falls back to rule roles")
	})

	s.Run("falls back to default approver roles", func() {
		e := s.engine(policy.RuleSet{
			DefaultApprovers: []id.RoleID{policy.RoleSystemAdmin},
			Rules: []policy.Rule{{Name: "bare", Action: actionCreate, Permission: policy.PermissionRequiresApproval,
				Priority: 10, Active: true}},
		})
		d, err := e.Evaluate(s.ctx, actionCreate, s.manager, policy.EvalContext{})
		s.Require().NoError(err)
		s.Equal([]id.RoleID{policy.RoleSystemAdmin}, d.ApproverRoles)
	})

	s.Run("empty approver roles still yield a decision", func() {
		e := s.engine(policy.RuleSet{Rules: []policy.Rule{{Name: "bare", Action: actionCreate,
			Permission: policy.PermissionRequiresApproval, Priority: 10, Active: true}}})
		d, err := e.Evaluate(s.ctx, actionCreate, s.manager, policy.EvalContext{})
		s.Require().NoError(err)
		s.True(d.RequiresApproval())
		s.Empty(d.ApproverRoles)
	})
}

func (s *EngineSuite) TestDeterminism() {
	st, err := store.NewMemory(policy.DefaultRuleSet())
	s.Require().NoError(err)
	e := policy.NewEngine(st)
	inspector := testutil.Principal(testutil.OperatorID, testutil.QualityDept, policy.RoleQCInspector)

	first, err := e.Evaluate(s.ctx, policy.ActionCreateQC, inspector, policy.EvalContext{Value: testutil.Float(20000)})
	s.Require().NoError(err)
	for range 10 {
		again, err := e.Evaluate(s.ctx, policy.ActionCreateQC, inspector, policy.EvalContext{Value: testutil.Float(20000)})
		s.Require().NoError(err)
		s.Equal(first, again)
	}
	s.Equal("qc-create-high-value", first.MatchedRule.Name)
}

func (s *EngineSuite) TestDecisionDoesNotAliasStore() {
	st, err := store.NewMemory(s.exampleRules())
	s.Require().NoError(err)
	e := policy.NewEngine(st)

	d, err := e.Evaluate(s.ctx, actionCreate, s.manager, policy.EvalContext{})
	s.Require().NoError(err)
	d.ApproverRoles[0] = "tampered"
	d.MatchedRule.Roles[0] = "tampered"

	again, err := e.Evaluate(s.ctx, actionCreate, s.manager, policy.EvalContext{})
	s.Require().NoError(err)
	s.Equal([]id.RoleID{policy.RoleAdmin}, again.ApproverRoles)
}

type failingStore struct{ policy.Store }

func (failingStore) LoadOverrides(context.Context) ([]policy.Override, error) {
	return nil, errors.New("connection refused")
}

func (s *EngineSuite) TestStoreFailureIsInternal() {
	e := policy.NewEngine(failingStore{})
	_, err := e.Evaluate(s.ctx, actionCreate, s.manager, policy.EvalContext{})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *EngineSuite) TestNewEnginePanicsWithoutStore() {
	s.Panics(func() { policy.NewEngine(nil) })
}
