package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
)

type HealthSuite struct {
	suite.Suite
	handler *Handler
	router  chi.Router
}

func TestHealthSuite(t *testing.T) {
	suite.Run(t, new(HealthSuite))
}

func (s *HealthSuite) SetupTest() {
	s.handler = New("test")
	s.router = chi.NewRouter()
	s.handler.Register(s.router)
}

type namedCheck struct {
	name string
	err  error
}

func (c namedCheck) Name() string                  { return c.name }
func (c namedCheck) Check(_ context.Context) error { return c.err }

func (s *HealthSuite) get(path string) (*httptest.ResponseRecorder, ReadinessResponse) {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body ReadinessResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec, body
}

func (s *HealthSuite) TestReadiness() {
	s.Run("ready with no checks", func() {
		rec, body := s.get("/health/ready")
		s.Equal(http.StatusOK, rec.Code)
		s.Equal("ready", body.Status)
	})

	s.Run("all checks up", func() {
		s.handler.RegisterCheck("postgres", func(context.Context) error { return nil })
		s.handler.RegisterChecker(namedCheck{name: "kafka"})
		rec, body := s.get("/health/ready")
		s.Equal(http.StatusOK, rec.Code)
		s.Equal(map[string]string{"postgres": "up", "kafka": "up"}, body.Checks)
	})

	s.Run("one check down", func() {
		s.handler.RegisterChecker(namedCheck{name: "redis", err: errors.New("connection refused")})
		rec, body := s.get("/health/ready")
		s.Equal(http.StatusServiceUnavailable, rec.Code)
		s.Equal("not_ready", body.Status)
		s.Equal("down: connection refused", body.Checks["redis"])
		s.Equal("up", body.Checks["postgres"])
	})
}

func (s *HealthSuite) TestLivenessAndStatus() {
	rec, _ := s.get("/health/live")
	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"status":"alive"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	s.Equal(http.StatusOK, rec.Code)
	var status StatusResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &status))
	s.Equal("test", status.Environment)
	s.Equal("healthy", status.Status)
}
