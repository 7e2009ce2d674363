// Package domain provides type-safe identifiers to prevent mixing up IDs at compile time.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "qcgate/pkg/domain-errors"
)

// Distinct ID types - compiler prevents passing a UserID where a SubjectID is expected.
type (
	UserID       uuid.UUID
	DepartmentID uuid.UUID
	SubjectID    uuid.UUID
	RequestID    uuid.UUID
)

// RoleID and CategoryID are slugs (e.g. "manager", "dispatch") rather than UUIDs;
// they come from configuration as often as from storage.
type (
	RoleID     string
	CategoryID string
)

// Parse functions - use at trust boundaries (handlers, token claims, config).

func ParseUserID(s string) (UserID, error) {
	id, err := parseUUID(s, "user ID")
	return UserID(id), err
}

func ParseDepartmentID(s string) (DepartmentID, error) {
	id, err := parseUUID(s, "department ID")
	return DepartmentID(id), err
}

func ParseSubjectID(s string) (SubjectID, error) {
	id, err := parseUUID(s, "subject ID")
	return SubjectID(id), err
}

func ParseRequestID(s string) (RequestID, error) {
	id, err := parseUUID(s, "approval request ID")
	return RequestID(id), err
}

func ParseRoleID(s string) (RoleID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "role ID cannot be empty")
	}
	return RoleID(s), nil
}

func ParseCategoryID(s string) (CategoryID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "category ID cannot be empty")
	}
	return CategoryID(s), nil
}

// NewRequestID generates a fresh approval request identifier.
func NewRequestID() RequestID { return RequestID(uuid.New()) }

// String methods - for logging and debugging.

func (id UserID) String() string       { return uuid.UUID(id).String() }
func (id DepartmentID) String() string { return uuid.UUID(id).String() }
func (id SubjectID) String() string    { return uuid.UUID(id).String() }
func (id RequestID) String() string    { return uuid.UUID(id).String() }
func (id RoleID) String() string       { return string(id) }
func (id CategoryID) String() string   { return string(id) }

// IsNil checks - used for service-layer validation.

func (id UserID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id DepartmentID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id SubjectID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id RequestID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// Text marshaling keeps JSON payloads in canonical UUID form.

func (id UserID) MarshalText() ([]byte, error)       { return uuid.UUID(id).MarshalText() }
func (id DepartmentID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id SubjectID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }
func (id RequestID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }

func (id *UserID) UnmarshalText(b []byte) error       { return unmarshalUUID(b, (*uuid.UUID)(id)) }
func (id *DepartmentID) UnmarshalText(b []byte) error { return unmarshalUUID(b, (*uuid.UUID)(id)) }
func (id *SubjectID) UnmarshalText(b []byte) error    { return unmarshalUUID(b, (*uuid.UUID)(id)) }
func (id *RequestID) UnmarshalText(b []byte) error    { return unmarshalUUID(b, (*uuid.UUID)(id)) }

// parseUUID is the shared validation logic.
// Nil UUIDs parse successfully; use IsNil() at the service layer so store
// lookups can still answer "not found".
func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label+" format")
	}
	return id, nil
}

func unmarshalUUID(b []byte, dst *uuid.UUID) error {
	id, err := uuid.ParseBytes(b)
	if err != nil {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid id format")
	}
	*dst = id
	return nil
}
