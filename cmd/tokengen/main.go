// Package main issues bearer tokens for local testing of the qcgate API.
// Tokens are signed with the development key unless -key is given.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"qcgate/internal/auth/token"
	id "qcgate/pkg/domain"
)

// devSigningKey matches the config default when JWT_SIGNING_KEY is unset.
const devSigningKey = "dev-secret-key-change-in-production"

type tokenOutput struct {
	Token        string   `json:"token"`
	UserID       string   `json:"user_id"`
	Roles        []string `json:"roles"`
	DepartmentID string   `json:"department_id,omitempty"`
	ExpiresIn    string   `json:"expires_in"`
}

func main() {
	userID := flag.String("user-id", "", "User ID (UUID). Generated if empty.")
	dept := flag.String("department-id", "", "Department ID (UUID, optional)")
	roles := flag.String("roles", "operator", "Comma-separated role IDs")
	ttl := flag.Duration("ttl", time.Hour, "Token time-to-live")
	key := flag.String("key", devSigningKey, "HMAC signing key")
	issuer := flag.String("issuer", "qcgate", "Token issuer")
	asJSON := flag.Bool("json", false, "Output as JSON")
	flag.Parse()

	p, err := principal(*userID, *dept, *roles)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	signed, err := token.NewService(*key, *issuer, *ttl).Issue(context.Background(), p)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	if !*asJSON {
		fmt.Println(signed)
		return
	}
	out := tokenOutput{
		Token:     signed,
		UserID:    p.UserID.String(),
		ExpiresIn: ttl.String(),
	}
	for _, r := range p.Roles {
		out.Roles = append(out.Roles, string(r))
	}
	if !p.DepartmentID.IsNil() {
		out.DepartmentID = p.DepartmentID.String()
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func principal(rawUser, rawDept, rawRoles string) (id.Principal, error) {
	var p id.Principal
	if rawUser == "" {
		p.UserID = id.UserID(uuid.New())
	} else {
		u, err := id.ParseUserID(rawUser)
		if err != nil {
			return p, fmt.Errorf("user-id: %w", err)
		}
		p.UserID = u
	}
	if rawDept != "" {
		d, err := id.ParseDepartmentID(rawDept)
		if err != nil {
			return p, fmt.Errorf("department-id: %w", err)
		}
		p.DepartmentID = d
	}
	for _, r := range strings.Split(rawRoles, ",") {
		if r = strings.TrimSpace(r); r == "" {
			continue
		}
		role, err := id.ParseRoleID(r)
		if err != nil {
			return p, fmt.Errorf("roles: %w", err)
		}
		p.Roles = append(p.Roles, role)
	}
	return p, nil
}
