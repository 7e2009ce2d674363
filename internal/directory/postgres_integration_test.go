//go:build integration

package directory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"qcgate/internal/directory"
	id "qcgate/pkg/domain"
	"qcgate/pkg/platform/sentinel"
	"qcgate/pkg/testutil"
	"qcgate/pkg/testutil/containers"
)

type PostgresDirectorySuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	dir      *directory.Postgres
}

func TestPostgresDirectorySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresDirectorySuite))
}

func (s *PostgresDirectorySuite) SetupSuite() {
	s.postgres = containers.SharedPostgres(s.T())
	s.dir = directory.NewPostgres(s.postgres.DB)
}

func (s *PostgresDirectorySuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.postgres.Reset(ctx))
	s.Require().NoError(s.dir.AddRole(ctx, "admin", "admin"))
	s.Require().NoError(s.dir.AddRole(ctx, "sysadmin", "system_admin"))
}

func (s *PostgresDirectorySuite) TestFindUsersByRole() {
	ctx := context.Background()
	s.Require().NoError(s.dir.Assign(ctx, testutil.SecondAdmin, "admin"))
	s.Require().NoError(s.dir.Assign(ctx, testutil.AdminID, "admin", "sysadmin"))
	s.Require().NoError(s.dir.Assign(ctx, testutil.AdminID, "admin"), "re-assign is a no-op")

	users, err := s.dir.FindUsersByRole(ctx, "admin")
	s.Require().NoError(err)
	s.Equal([]id.UserID{testutil.AdminID, testutil.SecondAdmin}, users)
}

func (s *PostgresDirectorySuite) TestFindRoleByName() {
	ctx := context.Background()
	role, err := s.dir.FindRoleByName(ctx, "system_admin")
	s.Require().NoError(err)
	s.Equal(id.RoleID("sysadmin"), role)

	_, err = s.dir.FindRoleByName(ctx, "ghost")
	s.ErrorIs(err, sentinel.ErrNotFound)
}
