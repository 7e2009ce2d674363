//go:build integration

package subject_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"qcgate/internal/subject"
	id "qcgate/pkg/domain"
	"qcgate/pkg/platform/sentinel"
	"qcgate/pkg/requestcontext"
	"qcgate/pkg/testutil"
	"qcgate/pkg/testutil/containers"
)

type PostgresSubjectSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *subject.PostgresStore
}

func TestPostgresSubjectSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresSubjectSuite))
}

func (s *PostgresSubjectSuite) SetupSuite() {
	s.postgres = containers.SharedPostgres(s.T())
	s.store = subject.NewPostgres(s.postgres.DB)
}

func (s *PostgresSubjectSuite) SetupTest() {
	s.Require().NoError(s.postgres.Reset(context.Background()))
}

func (s *PostgresSubjectSuite) TestSaveGetUpdate() {
	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)

	machine := &subject.Entity{ID: id.SubjectID(uuid.New()), Kind: subject.KindMachine, Name: "press-7"}
	s.Require().NoError(s.store.Save(ctx, machine))
	entry := &subject.Entity{ID: id.SubjectID(uuid.New()), Kind: subject.KindQCEntry, ParentID: &machine.ID,
		Attributes: map[string]any{"reading": 4.2}}
	s.Require().NoError(s.store.Save(ctx, entry))

	got, err := s.store.Get(ctx, entry.ID)
	s.Require().NoError(err)
	s.Equal(subject.KindQCEntry, got.Kind)
	s.Require().NotNil(got.ParentID)
	s.Equal(machine.ID, *got.ParentID)
	s.Equal(subject.ApprovalNone, got.ApprovalStatus)
	s.InDelta(4.2, got.Attributes["reading"], 0.0001)

	activated := true
	by := testutil.AdminID
	updated, err := s.store.Update(ctx, machine.ID, subject.Patch{Activated: &activated, ActivatedAt: &now, ActivatedBy: &by})
	s.Require().NoError(err)
	s.True(updated.Activated)
	s.Require().NotNil(updated.ActivatedBy)
	s.Equal(by, *updated.ActivatedBy)
	s.True(now.Equal(*updated.ActivatedAt))

	_, err = s.store.Update(ctx, id.SubjectID(uuid.New()), subject.Patch{Activated: &activated})
	s.ErrorIs(err, sentinel.ErrNotFound)

	exists, err := s.store.Exists(ctx, machine.ID)
	s.Require().NoError(err)
	s.True(exists)
}
