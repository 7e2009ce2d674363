package subject

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "qcgate/pkg/domain"
	"qcgate/pkg/platform/sentinel"
	"qcgate/pkg/requestcontext"
)

// PostgresStore persists subjects in the subjects table.
type PostgresStore struct {
	db *sql.DB
	tx *sql.Tx
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// NewPostgresTx binds the store to tx so subject writes commit with the
// approval transition.
func NewPostgresTx(tx *sql.Tx) *PostgresStore {
	return &PostgresStore{tx: tx}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer() dbExecutor {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

const subjectColumns = `id, kind, parent_id, name, approved, approval_status, active, activated,
	activated_at, activated_by, rejection_reason, attributes, created_at, updated_at`

func (s *PostgresStore) Get(ctx context.Context, subjectID id.SubjectID) (*Entity, error) {
	return s.get(ctx, subjectID, false)
}

func (s *PostgresStore) get(ctx context.Context, subjectID id.SubjectID, forUpdate bool) (*Entity, error) {
	query := `SELECT ` + subjectColumns + ` FROM subjects WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	e, err := scanSubject(s.execer().QueryRowContext(ctx, query, uuid.UUID(subjectID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find subject: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) Exists(ctx context.Context, subjectID id.SubjectID) (bool, error) {
	var exists bool
	err := s.execer().QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM subjects WHERE id = $1)`, uuid.UUID(subjectID)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check subject: %w", err)
	}
	return exists, nil
}

// Update applies patch under a row lock. Outside a transaction it opens its
// own so the read-modify-write is atomic.
func (s *PostgresStore) Update(ctx context.Context, subjectID id.SubjectID, patch Patch) (*Entity, error) {
	if s.tx != nil {
		return s.update(ctx, subjectID, patch)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin subject update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	e, err := NewPostgresTx(tx).update(ctx, subjectID, patch)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit subject update: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) update(ctx context.Context, subjectID id.SubjectID, patch Patch) (*Entity, error) {
	e, err := s.get(ctx, subjectID, true)
	if err != nil {
		return nil, err
	}
	patch.ApplyTo(e, requestcontext.Now(ctx))
	if err := s.write(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *PostgresStore) Save(ctx context.Context, e *Entity) error {
	if e == nil {
		return fmt.Errorf("subject is required")
	}
	stored := e.Clone()
	now := requestcontext.Now(ctx)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}
	if stored.ApprovalStatus == "" {
		stored.ApprovalStatus = ApprovalNone
	}
	return s.write(ctx, stored)
}

func (s *PostgresStore) write(ctx context.Context, e *Entity) error {
	attrs, err := json.Marshal(nonNilAttributes(e.Attributes))
	if err != nil {
		return fmt.Errorf("encode subject attributes: %w", err)
	}
	_, err = s.execer().ExecContext(ctx, `
		INSERT INTO subjects (`+subjectColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind,
			parent_id = EXCLUDED.parent_id,
			name = EXCLUDED.name,
			approved = EXCLUDED.approved,
			approval_status = EXCLUDED.approval_status,
			active = EXCLUDED.active,
			activated = EXCLUDED.activated,
			activated_at = EXCLUDED.activated_at,
			activated_by = EXCLUDED.activated_by,
			rejection_reason = EXCLUDED.rejection_reason,
			attributes = EXCLUDED.attributes,
			updated_at = EXCLUDED.updated_at
	`,
		uuid.UUID(e.ID),
		string(e.Kind),
		nullableSubject(e.ParentID),
		e.Name,
		e.Approved,
		string(e.ApprovalStatus),
		e.Active,
		e.Activated,
		timeOrNil(e.ActivatedAt),
		nullableUser(e.ActivatedBy),
		e.RejectionReason,
		attrs,
		e.CreatedAt,
		e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save subject: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubject(row rowScanner) (*Entity, error) {
	var (
		e           Entity
		subjectID   uuid.UUID
		kind        string
		parentID    uuid.NullUUID
		status      string
		activatedAt sql.NullTime
		activatedBy uuid.NullUUID
		attrs       []byte
	)
	if err := row.Scan(&subjectID, &kind, &parentID, &e.Name, &e.Approved, &status, &e.Active, &e.Activated,
		&activatedAt, &activatedBy, &e.RejectionReason, &attrs, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.ID = id.SubjectID(subjectID)
	e.Kind = Kind(kind)
	e.ApprovalStatus = ApprovalStatus(status)
	if parentID.Valid {
		p := id.SubjectID(parentID.UUID)
		e.ParentID = &p
	}
	if activatedAt.Valid {
		t := activatedAt.Time.UTC()
		e.ActivatedAt = &t
	}
	if activatedBy.Valid {
		u := id.UserID(activatedBy.UUID)
		e.ActivatedBy = &u
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &e.Attributes); err != nil {
			return nil, fmt.Errorf("decode subject attributes: %w", err)
		}
	}
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return &e, nil
}

func nonNilAttributes(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func nullableSubject(v *id.SubjectID) any {
	if v == nil {
		return nil
	}
	return uuid.UUID(*v)
}

func nullableUser(v *id.UserID) any {
	if v == nil {
		return nil
	}
	return uuid.UUID(*v)
}

// timeOrNil keeps zero timestamps out of nullable columns.
func timeOrNil(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return *t
}

var _ Store = (*PostgresStore)(nil)
