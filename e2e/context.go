//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"qcgate/internal/auth/token"
	id "qcgate/pkg/domain"
)

// devSigningKey matches the server default when JWT_SIGNING_KEY is unset.
const devSigningKey = "dev-secret-key-change-in-production"

// actors mirrors the users in testdata/seed.yaml.
var actors = map[string]id.Principal{
	"manager":  {UserID: mustUser("11111111-1111-1111-1111-111111111111"), Roles: []id.RoleID{"manager"}},
	"admin":    {UserID: mustUser("22222222-2222-2222-2222-222222222222"), Roles: []id.RoleID{"admin"}},
	"operator": {UserID: mustUser("44444444-4444-4444-4444-444444444444"), Roles: []id.RoleID{"operator"}},
	"sysadmin": {UserID: mustUser("55555555-5555-5555-5555-555555555555"), Roles: []id.RoleID{"system_admin"}},
}

// subjects mirrors the subjects in testdata/seed.yaml.
var subjects = map[string]string{
	"press-1": "a0000000-0000-0000-0000-000000000001",
	"press-2": "a0000000-0000-0000-0000-000000000002",
	"press-3": "a0000000-0000-0000-0000-000000000003",
	"press-4": "a0000000-0000-0000-0000-000000000004",
}

func mustUser(raw string) id.UserID {
	return id.UserID(uuid.MustParse(raw))
}

// TestContext holds state between the steps of one scenario.
type TestContext struct {
	BaseURL          string
	HTTPClient       *http.Client
	Tokens           *token.Service
	Actor            string
	ApprovalID       string
	LastResponse     *http.Response
	LastResponseBody []byte
}

func NewTestContext() *TestContext {
	baseURL := os.Getenv("BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	key := os.Getenv("JWT_SIGNING_KEY")
	if key == "" {
		key = devSigningKey
	}
	issuer := os.Getenv("JWT_ISSUER")
	if issuer == "" {
		issuer = "qcgate"
	}
	return &TestContext{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Tokens:     token.NewService(key, issuer, time.Hour),
	}
}

// Do sends a JSON request as the current actor. An empty actor sends no
// Authorization header.
func (tc *TestContext) Do(method, path string, body any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, tc.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tc.Actor != "" {
		p, ok := actors[tc.Actor]
		if !ok {
			return fmt.Errorf("unknown actor %q", tc.Actor)
		}
		signed, err := tc.Tokens.Issue(context.Background(), p)
		if err != nil {
			return fmt.Errorf("failed to issue token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+signed)
	}

	resp, err := tc.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	tc.LastResponse = resp
	tc.LastResponseBody, err = io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	return nil
}

// ResponseField returns a top-level field of the last JSON response.
func (tc *TestContext) ResponseField(field string) (any, error) {
	var data map[string]any
	if err := json.Unmarshal(tc.LastResponseBody, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	value, ok := data[field]
	if !ok {
		return nil, fmt.Errorf("field %s not found in response: %s", field, tc.LastResponseBody)
	}
	return value, nil
}

func (tc *TestContext) Status() int {
	if tc.LastResponse == nil {
		return 0
	}
	return tc.LastResponse.StatusCode
}
