package token

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/suite"

	id "qcgate/pkg/domain"
	dErrors "qcgate/pkg/domain-errors"
	"qcgate/pkg/requestcontext"
	"qcgate/pkg/testutil"
)

type TokenSuite struct {
	suite.Suite
	svc *Service
	ctx context.Context
}

func TestTokenSuite(t *testing.T) {
	suite.Run(t, new(TokenSuite))
}

func (s *TokenSuite) SetupTest() {
	s.svc = NewService("test-signing-key", "qcgate", time.Hour)
	s.ctx = context.Background()
}

func (s *TokenSuite) TestRoundTrip() {
	p := testutil.Principal(testutil.ManagerID, testutil.DispatchDept, "manager", "operator")
	signed, err := s.svc.Issue(s.ctx, p)
	s.Require().NoError(err)

	got, err := s.svc.Validate(signed)
	s.Require().NoError(err)
	s.Equal(p, got)
}

func (s *TokenSuite) TestWithoutDepartment() {
	signed, err := s.svc.Issue(s.ctx, id.Principal{UserID: testutil.AdminID, Roles: []id.RoleID{"admin"}})
	s.Require().NoError(err)
	got, err := s.svc.Validate(signed)
	s.Require().NoError(err)
	s.True(got.DepartmentID.IsNil())
}

func (s *TokenSuite) TestRejects() {
	p := testutil.Principal(testutil.ManagerID, testutil.DispatchDept, "manager")

	s.Run("expired", func() {
		past := requestcontext.WithTime(s.ctx, time.Now().Add(-2*time.Hour))
		signed, err := s.svc.Issue(past, p)
		s.Require().NoError(err)
		_, err = s.svc.Validate(signed)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
		s.Contains(err.Error(), "expired")
	})

	s.Run("wrong key", func() {
		signed, err := NewService("another-key", "qcgate", time.Hour).Issue(s.ctx, p)
		s.Require().NoError(err)
		_, err = s.svc.Validate(signed)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("wrong issuer", func() {
		signed, err := NewService("test-signing-key", "elsewhere", time.Hour).Issue(s.ctx, p)
		s.Require().NoError(err)
		_, err = s.svc.Validate(signed)
		s.Error(err)
	})

	s.Run("unsigned", func() {
		raw, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
			UserID:           testutil.ManagerID.String(),
			RegisteredClaims: jwt.RegisteredClaims{Issuer: "qcgate", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		s.Require().NoError(err)
		_, err = s.svc.Validate(raw)
		s.Error(err)
	})

	s.Run("malformed user id", func() {
		raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
			UserID:           "not-a-uuid",
			RegisteredClaims: jwt.RegisteredClaims{Issuer: "qcgate", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		}).SignedString([]byte("test-signing-key"))
		s.Require().NoError(err)
		_, err = s.svc.Validate(raw)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("empty", func() {
		_, err := s.svc.Validate("")
		s.Error(err)
	})
}
