package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"qcgate/internal/policy"
	id "qcgate/pkg/domain"
)

// Postgres reads policy from the policy_* tables. Declaration order is the
// position column.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// LoadRuleSet reads the whole policy in one read-only transaction so rules,
// overrides and approver maps come from the same snapshot.
func (s *Postgres) LoadRuleSet(ctx context.Context) (policy.RuleSet, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return policy.RuleSet{}, fmt.Errorf("begin policy read: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rs := policy.RuleSet{DepartmentApprovers: map[id.DepartmentID][]id.RoleID{}}
	if rs.Rules, err = loadRules(ctx, tx); err != nil {
		return policy.RuleSet{}, err
	}
	if rs.Overrides, err = loadOverrides(ctx, tx); err != nil {
		return policy.RuleSet{}, err
	}
	if rs.DefaultApprovers, err = loadDefaultApprovers(ctx, tx); err != nil {
		return policy.RuleSet{}, err
	}
	if err := loadDepartmentApprovers(ctx, tx, rs.DepartmentApprovers); err != nil {
		return policy.RuleSet{}, err
	}
	if err := tx.Commit(); err != nil {
		return policy.RuleSet{}, fmt.Errorf("commit policy read: %w", err)
	}
	return rs, nil
}

func (s *Postgres) LoadRules(ctx context.Context) ([]policy.Rule, error) {
	return loadRules(ctx, s.db)
}

func (s *Postgres) LoadOverrides(ctx context.Context) ([]policy.Override, error) {
	return loadOverrides(ctx, s.db)
}

func (s *Postgres) DefaultApproverRoles(ctx context.Context) ([]id.RoleID, error) {
	return loadDefaultApprovers(ctx, s.db)
}

func (s *Postgres) DepartmentApproverRoles(ctx context.Context, dept id.DepartmentID) ([]id.RoleID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role_id FROM policy_department_approvers
		WHERE department_id = $1
		ORDER BY position
	`, uuid.UUID(dept))
	if err != nil {
		return nil, fmt.Errorf("query department approvers: %w", err)
	}
	defer rows.Close()
	var roles []id.RoleID
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("scan department approver: %w", err)
		}
		roles = append(roles, id.RoleID(role))
	}
	return roles, rows.Err()
}

// Save replaces the stored policy with rs in one transaction.
func (s *Postgres) Save(ctx context.Context, rs policy.RuleSet) error {
	if err := rs.Validate(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin policy save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"policy_rules", "policy_overrides", "policy_default_approvers", "policy_department_approvers"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for pos, r := range rs.Rules {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO policy_rules (position, name, action, permission, roles, users, departments,
				categories, max_value, use_department_approvers, approver_roles, priority, is_active, condition)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`, pos, r.Name, string(r.Action), string(r.Permission),
			mustJSON(r.Roles), mustJSON(r.Users), mustJSON(r.Departments), mustJSON(r.Categories),
			r.MaxValue, r.UseDepartmentApprovers, mustJSON(r.ApproverRoles), r.Priority, r.Active, r.Condition)
		if err != nil {
			return fmt.Errorf("insert rule %q: %w", r.Name, err)
		}
	}
	for pos, o := range rs.Overrides {
		var dept *uuid.UUID
		if o.Department != nil {
			d := uuid.UUID(*o.Department)
			dept = &d
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO policy_overrides (id, position, type, action, user_id, department_id, priority, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, o.ID, pos, string(o.Type), string(o.Action), uuid.UUID(o.User), dept, o.Priority, o.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert override %s: %w", o.ID, err)
		}
	}
	for pos, role := range rs.DefaultApprovers {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO policy_default_approvers (role_id, position) VALUES ($1, $2)`, string(role), pos); err != nil {
			return fmt.Errorf("insert default approver: %w", err)
		}
	}
	for dept, roles := range rs.DepartmentApprovers {
		for pos, role := range roles {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO policy_department_approvers (department_id, role_id, position) VALUES ($1, $2, $3)
			`, uuid.UUID(dept), string(role), pos); err != nil {
				return fmt.Errorf("insert department approver: %w", err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit policy save: %w", err)
	}
	return nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadRules(ctx context.Context, q querier) ([]policy.Rule, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT name, action, permission, roles, users, departments, categories, max_value,
			use_department_approvers, approver_roles, priority, is_active, condition
		FROM policy_rules
		ORDER BY position
	`)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var rules []policy.Rule
	for rows.Next() {
		var r policy.Rule
		var action, permission string
		var roles, users, departments, categories, approver []byte
		var maxValue sql.NullFloat64
		if err := rows.Scan(&r.Name, &action, &permission, &roles, &users, &departments, &categories,
			&maxValue, &r.UseDepartmentApprovers, &approver, &r.Priority, &r.Active, &r.Condition); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		r.Action = policy.Action(action)
		r.Permission = policy.Permission(permission)
		if maxValue.Valid {
			v := maxValue.Float64
			r.MaxValue = &v
		}
		if err := decodeAll(
			decodeInto(roles, &r.Roles),
			decodeInto(users, &r.Users),
			decodeInto(departments, &r.Departments),
			decodeInto(categories, &r.Categories),
			decodeInto(approver, &r.ApproverRoles),
		); err != nil {
			return nil, fmt.Errorf("decode rule %q: %w", r.Name, err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return rules, nil
}

func loadOverrides(ctx context.Context, q querier) ([]policy.Override, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, type, action, user_id, department_id, priority, created_at
		FROM policy_overrides
		ORDER BY position
	`)
	if err != nil {
		return nil, fmt.Errorf("query overrides: %w", err)
	}
	defer rows.Close()

	var overrides []policy.Override
	for rows.Next() {
		var o policy.Override
		var typ, action string
		var user uuid.UUID
		var dept uuid.NullUUID
		if err := rows.Scan(&o.ID, &typ, &action, &user, &dept, &o.Priority, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		o.Type = policy.OverrideType(typ)
		o.Action = policy.Action(action)
		o.User = id.UserID(user)
		if dept.Valid {
			d := id.DepartmentID(dept.UUID)
			o.Department = &d
		}
		overrides = append(overrides, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate overrides: %w", err)
	}
	return overrides, nil
}

func loadDefaultApprovers(ctx context.Context, q querier) ([]id.RoleID, error) {
	rows, err := q.QueryContext(ctx, `SELECT role_id FROM policy_default_approvers ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query default approvers: %w", err)
	}
	defer rows.Close()
	var roles []id.RoleID
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("scan default approver: %w", err)
		}
		roles = append(roles, id.RoleID(role))
	}
	return roles, rows.Err()
}

func loadDepartmentApprovers(ctx context.Context, q querier, into map[id.DepartmentID][]id.RoleID) error {
	rows, err := q.QueryContext(ctx, `
		SELECT department_id, role_id FROM policy_department_approvers
		ORDER BY department_id, position
	`)
	if err != nil {
		return fmt.Errorf("query department approvers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			dept uuid.UUID
			role string
		)
		if err := rows.Scan(&dept, &role); err != nil {
			return fmt.Errorf("scan department approver: %w", err)
		}
		key := id.DepartmentID(dept)
		into[key] = append(into[key], id.RoleID(role))
	}
	return rows.Err()
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Only slices of IDs are encoded here; they always marshal.
		panic(fmt.Sprintf("policy store: marshal %T: %v", v, err))
	}
	return b
}

func decodeInto[T any](raw []byte, dst *[]T) error {
	if len(raw) == 0 {
		return nil
	}
	var out []T
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	if len(out) > 0 {
		*dst = out
	}
	return nil
}

func decodeAll(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
