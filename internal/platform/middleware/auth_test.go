package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	id "qcgate/pkg/domain"
	"qcgate/pkg/requestcontext"
	"qcgate/pkg/testutil"
)

type MockPrincipalValidator struct {
	mock.Mock
}

func (m *MockPrincipalValidator) Validate(token string) (id.Principal, error) {
	args := m.Called(token)
	return args.Get(0).(id.Principal), args.Error(1)
}

type captureHandler struct {
	called bool
	ctx    context.Context
}

func (h *captureHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.called = true
	h.ctx = r.Context()
	w.WriteHeader(http.StatusOK)
}

type AuthMiddlewareSuite struct {
	suite.Suite
	validator *MockPrincipalValidator
	logger    *slog.Logger
	next      *captureHandler
}

func TestAuthMiddlewareSuite(t *testing.T) {
	suite.Run(t, new(AuthMiddlewareSuite))
}

func (s *AuthMiddlewareSuite) SetupTest() {
	s.validator = new(MockPrincipalValidator)
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.next = &captureHandler{}
}

func (s *AuthMiddlewareSuite) TearDownTest() {
	s.validator.AssertExpectations(s.T())
}

func (s *AuthMiddlewareSuite) serve(h http.Handler, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/approvals/pending", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func (s *AuthMiddlewareSuite) TestValidToken() {
	p := testutil.Principal(testutil.ManagerID, testutil.DispatchDept, "manager")
	s.validator.On("Validate", "good").Return(p, nil)

	w := s.serve(RequireAuth(s.validator, s.logger)(s.next), "Bearer good")

	s.Require().True(s.next.called)
	s.Equal(http.StatusOK, w.Code)
	got, ok := requestcontext.GetPrincipal(s.next.ctx)
	s.True(ok)
	s.Equal(p, got)
}

func (s *AuthMiddlewareSuite) TestInvalidToken() {
	s.validator.On("Validate", "bad").Return(id.Principal{}, errors.New("token expired"))

	w := s.serve(RequireAuth(s.validator, s.logger)(s.next), "Bearer bad")

	s.False(s.next.called)
	s.Equal(http.StatusUnauthorized, w.Code)
	s.Equal("application/json", w.Header().Get("Content-Type"))
	s.JSONEq(`{"error":"unauthorized","error_description":"Invalid or expired token"}`, w.Body.String())
}

func (s *AuthMiddlewareSuite) TestMalformedHeaders() {
	for _, header := range []string{"", "token-without-bearer", "Basic dXNlcjpwYXNz", "bearer token", "Bearertoken"} {
		s.Run(header, func() {
			next := &captureHandler{}
			w := s.serve(RequireAuth(s.validator, s.logger)(next), header)

			s.False(next.called)
			s.Equal(http.StatusUnauthorized, w.Code)
			s.JSONEq(`{"error":"unauthorized","error_description":"Missing or invalid Authorization header"}`, w.Body.String())
		})
	}
}

func (s *AuthMiddlewareSuite) TestRequireRole() {
	guard := RequireRole(s.logger, "system_admin")

	s.Run("missing principal", func() {
		next := &captureHandler{}
		w := s.serve(guard(next), "")
		s.False(next.called)
		s.Equal(http.StatusUnauthorized, w.Code)
	})

	s.Run("role absent", func() {
		next := &captureHandler{}
		s.validator.On("Validate", "op").Return(testutil.Principal(testutil.OperatorID, testutil.DispatchDept, "operator"), nil).Once()
		w := s.serve(RequireAuth(s.validator, s.logger)(guard(next)), "Bearer op")
		s.False(next.called)
		s.Equal(http.StatusForbidden, w.Code)
	})

	s.Run("role present", func() {
		next := &captureHandler{}
		s.validator.On("Validate", "sa").Return(testutil.Principal(testutil.SysAdminID, testutil.QualityDept, "system_admin"), nil).Once()
		w := s.serve(RequireAuth(s.validator, s.logger)(guard(next)), "Bearer sa")
		s.True(next.called)
		s.Equal(http.StatusOK, w.Code)
	})
}

type MiddlewareSuite struct {
	suite.Suite
	logger *slog.Logger
	buf    *bytes.Buffer
}

func TestMiddlewareSuite(t *testing.T) {
	suite.Run(t, new(MiddlewareSuite))
}

func (s *MiddlewareSuite) SetupTest() {
	s.buf = &bytes.Buffer{}
	s.logger = slog.New(slog.NewJSONHandler(s.buf, nil))
}

func (s *MiddlewareSuite) TestRequestID() {
	s.Run("propagates caller id", func() {
		var seen string
		h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = requestcontext.RequestID(r.Context())
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "req-42")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		s.Equal("req-42", seen)
		s.Equal("req-42", w.Header().Get("X-Request-ID"))
	})

	s.Run("replaces unsafe ids", func() {
		var seen string
		h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = requestcontext.RequestID(r.Context())
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "bad id;drop")
		h.ServeHTTP(httptest.NewRecorder(), req)

		s.NotEqual("bad id;drop", seen)
		s.NotEmpty(seen)
	})

	s.Run("generates one", func() {
		var seen string
		h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = requestcontext.RequestID(r.Context())
		}))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		s.NotEmpty(seen)
		s.Equal(seen, w.Header().Get("X-Request-ID"))
	})
}

func (s *MiddlewareSuite) TestRequestTime() {
	var first, second time.Time
	h := RequestTime(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		first = requestcontext.Now(r.Context())
		time.Sleep(2 * time.Millisecond)
		second = requestcontext.Now(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	s.False(first.IsZero())
	s.Equal(first, second)
}

func (s *MiddlewareSuite) TestBodyLimit() {
	var readErr error
	h := BodyLimit(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"notes":"far too long"}`)))

	var maxErr *http.MaxBytesError
	s.ErrorAs(readErr, &maxErr)
}

func (s *MiddlewareSuite) TestRecovery() {
	h := Recovery(s.logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	s.Equal(http.StatusInternalServerError, w.Code)
	s.JSONEq(`{"error":"internal_error","error_description":"unexpected server error"}`, w.Body.String())
	s.Contains(s.buf.String(), "panic recovered")
}

func (s *MiddlewareSuite) TestLogger() {
	h := Logger(s.logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/approvals", nil))

	s.Contains(s.buf.String(), `"status":418`)
	s.Contains(s.buf.String(), `"path":"/approvals"`)
}

func (s *MiddlewareSuite) TestContentTypeJSON() {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := ContentTypeJSON(ok)

	cases := []struct {
		name   string
		method string
		ct     string
		status int
	}{
		{"json post", http.MethodPost, "application/json", http.StatusNoContent},
		{"no content type", http.MethodPatch, "", http.StatusNoContent},
		{"form post", http.MethodPost, "application/x-www-form-urlencoded", http.StatusUnsupportedMediaType},
		{"get ignores header", http.MethodGet, "text/plain", http.StatusNoContent},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			req := httptest.NewRequest(tc.method, "/approvals", nil)
			if tc.ct != "" {
				req.Header.Set("Content-Type", tc.ct)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			s.Equal(tc.status, w.Code)
		})
	}
}
