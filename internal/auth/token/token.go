// Package token issues and validates the HS256 bearer tokens that carry a
// caller's principal.
package token

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "qcgate/pkg/domain"
	dErrors "qcgate/pkg/domain-errors"
	"qcgate/pkg/requestcontext"
)

// Claims are the JWT claims qcgate reads.
type Claims struct {
	UserID       string   `json:"user_id"`
	Roles        []string `json:"roles"`
	DepartmentID string   `json:"department_id,omitempty"`
	jwt.RegisteredClaims
}

// Service signs and verifies tokens with a shared key.
type Service struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
}

func NewService(signingKey, issuer string, ttl time.Duration) *Service {
	if signingKey == "" {
		panic("token.NewService: signing key is required")
	}
	return &Service{signingKey: []byte(signingKey), issuer: issuer, ttl: ttl}
}

// Issue signs a token for p. The auth middleware only validates tokens; Issue
// serves local tooling and tests.
func (s *Service) Issue(ctx context.Context, p id.Principal) (string, error) {
	if p.UserID.IsNil() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "user ID is required")
	}
	roles := make([]string, len(p.Roles))
	for i, r := range p.Roles {
		roles[i] = r.String()
	}
	claims := Claims{
		UserID: p.UserID.String(),
		Roles:  roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(requestcontext.Now(ctx)),
			ExpiresAt: jwt.NewNumericDate(requestcontext.Now(ctx).Add(s.ttl)),
			ID:        uuid.NewString(),
		},
	}
	if !p.DepartmentID.IsNil() {
		claims.DepartmentID = p.DepartmentID.String()
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign token")
	}
	return signed, nil
}

// Validate verifies signature, algorithm, expiry and issuer, and returns the
// principal the token carries.
func (s *Service) Validate(tokenString string) (id.Principal, error) {
	if tokenString == "" {
		return id.Principal{}, dErrors.New(dErrors.CodeUnauthorized, "empty token")
	}
	claims := new(Claims)
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return s.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return id.Principal{}, dErrors.New(dErrors.CodeUnauthorized, "token expired")
		}
		return id.Principal{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	return claims.Principal()
}

// Principal converts the claims into a trusted principal.
func (c *Claims) Principal() (id.Principal, error) {
	userID, err := id.ParseUserID(c.UserID)
	if err != nil {
		return id.Principal{}, dErrors.New(dErrors.CodeUnauthorized, "invalid user_id claim")
	}
	p := id.Principal{UserID: userID}
	if c.DepartmentID != "" {
		dept, err := id.ParseDepartmentID(c.DepartmentID)
		if err != nil {
			return id.Principal{}, dErrors.New(dErrors.CodeUnauthorized, "invalid department_id claim")
		}
		p.DepartmentID = dept
	}
	for _, raw := range c.Roles {
		role, err := id.ParseRoleID(raw)
		if err != nil {
			return id.Principal{}, dErrors.New(dErrors.CodeUnauthorized, "invalid roles claim")
		}
		p.Roles = append(p.Roles, role)
	}
	return p, nil
}
