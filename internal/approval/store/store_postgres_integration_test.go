//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"qcgate/internal/approval/models"
	approvalstore "qcgate/internal/approval/store"
	"qcgate/internal/policy"
	"qcgate/internal/subject"
	id "qcgate/pkg/domain"
	"qcgate/pkg/platform/sentinel"
	"qcgate/pkg/requestcontext"
	"qcgate/pkg/testutil"
	"qcgate/pkg/testutil/containers"
)

type PostgresApprovalSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *approvalstore.PostgresStore
	subjects *subject.PostgresStore
	now      time.Time
	ctx      context.Context
}

func TestPostgresApprovalSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresApprovalSuite))
}

func (s *PostgresApprovalSuite) SetupSuite() {
	s.postgres = containers.SharedPostgres(s.T())
	s.store = approvalstore.NewPostgres(s.postgres.DB)
	s.subjects = subject.NewPostgres(s.postgres.DB)
	s.now = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func (s *PostgresApprovalSuite) SetupTest() {
	s.Require().NoError(s.postgres.Reset(context.Background()))
}

func (s *PostgresApprovalSuite) machine() id.SubjectID {
	e := &subject.Entity{ID: id.SubjectID(uuid.New()), Kind: subject.KindMachine, Name: "press-7"}
	s.Require().NoError(s.subjects.Save(s.ctx, e))
	return e.ID
}

func (s *PostgresApprovalSuite) pending(subjectID id.SubjectID, action policy.Action, at time.Time) *models.Request {
	r, err := models.NewRequest(id.RequestID(uuid.New()), subjectID, models.KindMachineApproval, action,
		testutil.OperatorID, []id.UserID{testutil.ManagerID, testutil.AdminID},
		models.Payload{SchemaVersion: 1, Data: map[string]any{"line": "3"}}, nil, "please", at)
	s.Require().NoError(err)
	return r
}

func (s *PostgresApprovalSuite) TestInsertAndFind() {
	r := s.pending(s.machine(), policy.ActionApproveMachine, s.now)
	r.PriorSubjectStatus = subject.ApprovalNone
	s.Require().NoError(s.store.Insert(s.ctx, r))

	got, err := s.store.FindByID(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusPending, got.Status)
	s.Equal(r.Approvers, got.Approvers)
	s.Equal("3", got.ProposedChanges.Data["line"])
	s.Nil(got.OriginalData)
	s.True(s.now.Equal(got.CreatedAt))
	s.Equal(subject.ApprovalNone, got.PriorSubjectStatus)

	pending, err := s.store.FindPending(s.ctx, r.SubjectID, policy.ActionApproveMachine)
	s.Require().NoError(err)
	s.Equal(r.ID, pending.ID)

	_, err = s.store.FindByID(s.ctx, id.RequestID(uuid.New()))
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresApprovalSuite) TestSecondPendingConflicts() {
	subjectID := s.machine()
	first := s.pending(subjectID, policy.ActionApproveMachine, s.now)
	s.Require().NoError(s.store.Insert(s.ctx, first))

	s.Run("insert", func() {
		err := s.store.Insert(s.ctx, s.pending(subjectID, policy.ActionApproveMachine, s.now))
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("other action is allowed", func() {
		s.NoError(s.store.Insert(s.ctx, s.pending(subjectID, policy.ActionEditMachine, s.now)))
	})

	s.Run("after a decision", func() {
		s.Require().NoError(first.Approve(testutil.ManagerID, "ok", s.now.Add(time.Minute)))
		s.Require().NoError(s.store.Update(s.ctx, first))
		s.NoError(s.store.Insert(s.ctx, s.pending(subjectID, policy.ActionApproveMachine, s.now.Add(time.Hour))))
	})
}

func (s *PostgresApprovalSuite) TestLatestAndList() {
	subjectID := s.machine()
	older := s.pending(subjectID, policy.ActionApproveMachine, s.now)
	s.Require().NoError(older.Reject(testutil.ManagerID, "missing data", "", s.now.Add(time.Minute)))
	s.Require().NoError(s.store.Insert(s.ctx, older))
	newer := s.pending(subjectID, policy.ActionApproveMachine, s.now.Add(time.Hour))
	s.Require().NoError(s.store.Insert(s.ctx, newer))

	latest, err := s.store.LatestForSubject(s.ctx, subjectID, policy.ActionApproveMachine)
	s.Require().NoError(err)
	s.Equal(newer.ID, latest.ID)

	decided, err := s.store.LatestForSubject(s.ctx, subjectID, policy.ActionApproveMachine, models.StatusApproved, models.StatusRejected)
	s.Require().NoError(err)
	s.Equal(older.ID, decided.ID)
	s.Equal("missing data", decided.RejectionReason)

	approver := testutil.AdminID
	assigned, err := s.store.List(s.ctx, models.Filter{Approver: &approver}, models.Page{})
	s.Require().NoError(err)
	s.Len(assigned, 2)
	s.Equal(newer.ID, assigned[0].ID)

	pending, err := s.store.List(s.ctx, models.PendingOnly(), models.Page{Limit: 1})
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(newer.ID, pending[0].ID)
}

func (s *PostgresApprovalSuite) TestLatestFollowsReopen() {
	subjectID := s.machine()
	older := s.pending(subjectID, policy.ActionCreateMachine, s.now)
	older.PriorSubjectStatus = subject.ApprovalNone
	s.Require().NoError(older.Reject(testutil.ManagerID, "missing serial", "", s.now.Add(time.Minute)))
	s.Require().NoError(s.store.Insert(s.ctx, older))
	newer := s.pending(subjectID, policy.ActionCreateMachine, s.now.Add(10*time.Minute))
	s.Require().NoError(newer.Reject(testutil.ManagerID, "wrong line", "", s.now.Add(20*time.Minute)))
	s.Require().NoError(s.store.Insert(s.ctx, newer))

	s.Require().NoError(older.Reopen(s.now.Add(30 * time.Minute)))
	older.PriorSubjectStatus = subject.ApprovalRejected
	s.Require().NoError(s.store.Update(s.ctx, older))

	latest, err := s.store.LatestForSubject(s.ctx, subjectID, policy.ActionCreateMachine)
	s.Require().NoError(err)
	s.Equal(older.ID, latest.ID)
	s.Equal(models.StatusPending, latest.Status)
	s.Equal(subject.ApprovalRejected, latest.PriorSubjectStatus)

	_, err = s.store.LatestForSubject(s.ctx, subjectID, policy.ActionEditMachine)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresApprovalSuite) TestDelete() {
	r := s.pending(s.machine(), policy.ActionApproveMachine, s.now)
	s.Require().NoError(s.store.Insert(s.ctx, r))

	s.Require().NoError(s.store.Delete(s.ctx, r.ID))
	_, err := s.store.FindByID(s.ctx, r.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.ErrorIs(s.store.Delete(s.ctx, r.ID), sentinel.ErrNotFound)
}
