package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"qcgate/internal/approval/models"
	"qcgate/internal/policy"
	"qcgate/internal/subject"
	id "qcgate/pkg/domain"
	"qcgate/pkg/platform/sentinel"
)

// uniqueViolation is the SQLSTATE PostgreSQL reports when the partial
// pending index rejects a second PENDING request.
const uniqueViolation = "23505"

// PostgresStore persists approval requests in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
	tx *sql.Tx
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// NewPostgresTx binds the store to a transaction.
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

const requestColumns = `id, subject_id, subject_kind, action, status, requested_by, approvers,
	original_data, proposed_changes, notes, decision_notes, decided_by, decision_at,
	rejection_reason, created_at, updated_at, prior_subject_status`

func (s *PostgresStore) Insert(ctx context.Context, r *models.Request) error {
	if r == nil {
		return fmt.Errorf("approval request is required")
	}
	args, err := requestArgs(r)
	if err != nil {
		return err
	}
	_, err = s.execer().ExecContext(ctx, `
		INSERT INTO approval_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert approval request: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, requestID id.RequestID) (*models.Request, error) {
	return s.findByID(ctx, requestID, "")
}

// FindByIDForUpdate locks the row until the surrounding transaction ends.
func (s *PostgresStore) FindByIDForUpdate(ctx context.Context, requestID id.RequestID) (*models.Request, error) {
	return s.findByID(ctx, requestID, " FOR UPDATE")
}

func (s *PostgresStore) findByID(ctx context.Context, requestID id.RequestID, suffix string) (*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM approval_requests WHERE id = $1` + suffix
	r, err := scanRequest(s.execer().QueryRowContext(ctx, query, uuid.UUID(requestID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find approval request: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) FindPending(ctx context.Context, subjectID id.SubjectID, action policy.Action) (*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM approval_requests
		WHERE subject_id = $1 AND action = $2 AND status = 'PENDING'
		FOR UPDATE`
	r, err := scanRequest(s.execer().QueryRowContext(ctx, query, uuid.UUID(subjectID), string(action)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find pending approval request: %w", err)
	}
	return r, nil
}

// LatestForSubject orders by updated_at so a reopened request counts as
// newer than one decided after it was first filed.
func (s *PostgresStore) LatestForSubject(ctx context.Context, subjectID id.SubjectID, action policy.Action, statuses ...models.Status) (*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM approval_requests WHERE subject_id = $1 AND action = $2`
	args := []any{uuid.UUID(subjectID), string(action)}
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			args = append(args, string(st))
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		query += ` AND status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY updated_at DESC, created_at DESC, id ASC LIMIT 1`

	r, err := scanRequest(s.execer().QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find latest approval request: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) Update(ctx context.Context, r *models.Request) error {
	if r == nil {
		return fmt.Errorf("approval request is required")
	}
	args, err := requestArgs(r)
	if err != nil {
		return err
	}
	res, err := s.execer().ExecContext(ctx, `
		UPDATE approval_requests SET
			subject_id = $2, subject_kind = $3, action = $4, status = $5, requested_by = $6,
			approvers = $7, original_data = $8, proposed_changes = $9, notes = $10,
			decision_notes = $11, decided_by = $12, decision_at = $13, rejection_reason = $14,
			created_at = $15, updated_at = $16, prior_subject_status = $17
		WHERE id = $1
	`, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("update approval request: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update approval request: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, requestID id.RequestID) error {
	res, err := s.execer().ExecContext(ctx, `DELETE FROM approval_requests WHERE id = $1`, uuid.UUID(requestID))
	if err != nil {
		return fmt.Errorf("delete approval request: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete approval request: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, filter models.Filter, page models.Page) ([]*models.Request, error) {
	page = page.Normalize()
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Status != nil {
		add("status = $%d", string(*filter.Status))
	}
	if filter.Kind != nil {
		add("subject_kind = $%d", string(*filter.Kind))
	}
	if filter.Action != nil {
		add("action = $%d", string(*filter.Action))
	}
	if filter.SubjectID != nil {
		add("subject_id = $%d", uuid.UUID(*filter.SubjectID))
	}
	if filter.RequestedBy != nil {
		add("requested_by = $%d", uuid.UUID(*filter.RequestedBy))
	}
	if filter.Approver != nil {
		needle, err := json.Marshal([]id.UserID{*filter.Approver})
		if err != nil {
			return nil, fmt.Errorf("encode approver filter: %w", err)
		}
		add("approvers @> $%d::jsonb", string(needle))
	}

	query := `SELECT ` + requestColumns + ` FROM approval_requests`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, page.Limit, page.Offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id ASC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.execer().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list approval requests: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Request, 0, page.Limit)
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval request: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate approval requests: %w", err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func requestArgs(r *models.Request) ([]any, error) {
	approvers, err := json.Marshal(nonNilUsers(r.Approvers))
	if err != nil {
		return nil, fmt.Errorf("encode approvers: %w", err)
	}
	proposed, err := json.Marshal(r.ProposedChanges)
	if err != nil {
		return nil, fmt.Errorf("encode proposed changes: %w", err)
	}
	var original any
	if r.OriginalData != nil {
		raw, err := json.Marshal(r.OriginalData)
		if err != nil {
			return nil, fmt.Errorf("encode original data: %w", err)
		}
		original = raw
	}
	var decidedBy any
	if r.DecidedBy != nil {
		decidedBy = uuid.UUID(*r.DecidedBy)
	}
	var decisionAt any
	if r.DecisionAt != nil {
		decisionAt = *r.DecisionAt
	}
	return []any{
		uuid.UUID(r.ID),
		uuid.UUID(r.SubjectID),
		string(r.SubjectKind),
		string(r.Action),
		string(r.Status),
		uuid.UUID(r.RequestedBy),
		approvers,
		original,
		proposed,
		r.Notes,
		r.DecisionNotes,
		decidedBy,
		decisionAt,
		r.RejectionReason,
		r.CreatedAt,
		r.UpdatedAt,
		string(r.PriorSubjectStatus),
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.Request, error) {
	var (
		r                           models.Request
		requestID, subjectID, reqBy uuid.UUID
		kind, action, status        string
		approvers, original, prop   []byte
		decidedBy                   uuid.NullUUID
		decisionAt                  sql.NullTime
		priorStatus                 string
	)
	if err := row.Scan(&requestID, &subjectID, &kind, &action, &status, &reqBy, &approvers,
		&original, &prop, &r.Notes, &r.DecisionNotes, &decidedBy, &decisionAt,
		&r.RejectionReason, &r.CreatedAt, &r.UpdatedAt, &priorStatus); err != nil {
		return nil, err
	}
	r.ID = id.RequestID(requestID)
	r.SubjectID = id.SubjectID(subjectID)
	r.SubjectKind = models.SubjectKind(kind)
	r.Action = policy.Action(action)
	r.Status = models.Status(status)
	r.RequestedBy = id.UserID(reqBy)
	r.PriorSubjectStatus = subject.ApprovalStatus(priorStatus)
	if err := json.Unmarshal(approvers, &r.Approvers); err != nil {
		return nil, fmt.Errorf("decode approvers: %w", err)
	}
	if len(prop) > 0 {
		if err := json.Unmarshal(prop, &r.ProposedChanges); err != nil {
			return nil, fmt.Errorf("decode proposed changes: %w", err)
		}
	}
	if len(original) > 0 {
		var o models.Payload
		if err := json.Unmarshal(original, &o); err != nil {
			return nil, fmt.Errorf("decode original data: %w", err)
		}
		r.OriginalData = &o
	}
	if decidedBy.Valid {
		u := id.UserID(decidedBy.UUID)
		r.DecidedBy = &u
	}
	if decisionAt.Valid {
		t := decisionAt.Time.UTC()
		r.DecisionAt = &t
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

func nonNilUsers(users []id.UserID) []id.UserID {
	if users == nil {
		return []id.UserID{}
	}
	return users
}
