package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	id "qcgate/pkg/domain"
	"qcgate/pkg/platform/sentinel"
)

// Postgres reads roles and assignments from the roles and user_roles tables.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) FindUsersByRole(ctx context.Context, role id.RoleID) ([]id.UserID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM user_roles
		WHERE role_id = $1
		ORDER BY user_id
	`, string(role))
	if err != nil {
		return nil, fmt.Errorf("query role holders: %w", err)
	}
	defer rows.Close()

	var users []id.UserID
	for rows.Next() {
		var u uuid.UUID
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan role holder: %w", err)
		}
		users = append(users, id.UserID(u))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate role holders: %w", err)
	}
	return users, nil
}

func (s *Postgres) FindRoleByName(ctx context.Context, name string) (id.RoleID, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM roles WHERE name = $1`, name).Scan(&role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", sentinel.ErrNotFound
		}
		return "", fmt.Errorf("find role by name: %w", err)
	}
	return id.RoleID(role), nil
}

// AddRole upserts a role.
func (s *Postgres) AddRole(ctx context.Context, role id.RoleID, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO roles (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
	`, string(role), name)
	if err != nil {
		return fmt.Errorf("add role: %w", err)
	}
	return nil
}

// Assign grants roles to user. Roles must already exist.
func (s *Postgres) Assign(ctx context.Context, user id.UserID, roles ...id.RoleID) error {
	for _, role := range roles {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, uuid.UUID(user), string(role))
		if err != nil {
			return fmt.Errorf("assign role %s: %w", role, err)
		}
	}
	return nil
}
