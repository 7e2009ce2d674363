//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"qcgate/internal/policy"
	"qcgate/internal/policy/store"
	id "qcgate/pkg/domain"
	"qcgate/pkg/testutil"
	"qcgate/pkg/testutil/containers"
)

type PostgresPolicySuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.Postgres
}

func TestPostgresPolicySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresPolicySuite))
}

func (s *PostgresPolicySuite) SetupSuite() {
	s.postgres = containers.SharedPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresPolicySuite) SetupTest() {
	s.Require().NoError(s.postgres.Reset(context.Background()))
}

func (s *PostgresPolicySuite) TestSaveAndLoadRoundTrip() {
	ctx := context.Background()
	dept := testutil.DispatchDept
	rs := policy.DefaultRuleSet()
	rs.DepartmentApprovers = map[id.DepartmentID][]id.RoleID{dept: {"dispatch_lead", policy.RoleAdmin}}
	rs.Overrides = []policy.Override{{
		ID: uuid.New(), Type: policy.OverrideUserDeny, Action: policy.ActionCreateMachine,
		User: testutil.ManagerID, Department: &dept, Priority: 100,
		CreatedAt: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC),
	}}
	s.Require().NoError(s.store.Save(ctx, rs))

	loaded, err := s.store.LoadRuleSet(ctx)
	s.Require().NoError(err)
	s.Require().Len(loaded.Rules, len(rs.Rules))
	for i := range rs.Rules {
		s.Equal(rs.Rules[i].Name, loaded.Rules[i].Name, "declaration order at %d", i)
		s.Equal(rs.Rules[i].Priority, loaded.Rules[i].Priority)
		s.Equal(rs.Rules[i].Roles, loaded.Rules[i].Roles)
		s.Equal(rs.Rules[i].Condition, loaded.Rules[i].Condition)
	}
	s.Equal([]id.RoleID{"dispatch_lead", policy.RoleAdmin}, loaded.DepartmentApprovers[dept])
	s.Equal([]id.RoleID{policy.RoleAdmin}, loaded.DefaultApprovers)
	s.Require().Len(loaded.Overrides, 1)
	s.Equal(rs.Overrides[0].ID, loaded.Overrides[0].ID)
	s.Equal(dept, *loaded.Overrides[0].Department)
	s.True(rs.Overrides[0].CreatedAt.Equal(loaded.Overrides[0].CreatedAt))

	roles, err := s.store.DepartmentApproverRoles(ctx, dept)
	s.Require().NoError(err)
	s.Equal([]id.RoleID{"dispatch_lead", policy.RoleAdmin}, roles)
}

func (s *PostgresPolicySuite) TestEngineOverPostgres() {
	ctx := context.Background()
	s.Require().NoError(s.store.Save(ctx, policy.DefaultRuleSet()))

	e := policy.NewEngine(store.NewCached(s.store, time.Minute))
	manager := testutil.Principal(testutil.ManagerID, testutil.DispatchDept, policy.RoleManager)
	d, err := e.Evaluate(ctx, policy.ActionCreateMachine, manager, policy.EvalContext{})
	s.Require().NoError(err)
	s.True(d.RequiresApproval())
	s.Equal([]id.RoleID{policy.RoleAdmin}, d.ApproverRoles)
}

func (s *PostgresPolicySuite) TestSaveRejectsInvalidRuleSet() {
	err := s.store.Save(context.Background(), policy.RuleSet{Rules: []policy.Rule{{Name: "x", Action: "X", Permission: "NOPE"}}})
	s.Require().Error(err)
}
