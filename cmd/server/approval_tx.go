package main

import (
	"context"
	"database/sql"
	"time"

	"qcgate/internal/approval/service"
	approvalstore "qcgate/internal/approval/store"
	"qcgate/internal/audit"
	"qcgate/internal/subject"
)

// approvalPostgresTx runs each approval transaction in one database
// transaction, serialized per subject with a transaction-scoped advisory lock.
// Audit entries are written to the outbox in the same transaction.
type approvalPostgresTx struct {
	db      *sql.DB
	timeout time.Duration
}

func newApprovalPostgresTx(db *sql.DB, timeout time.Duration) *approvalPostgresTx {
	return &approvalPostgresTx{db: db, timeout: timeout}
}

func (t *approvalPostgresTx) RunInTx(ctx context.Context, key string, fn func(ctx context.Context, stores service.Stores) error) (err error) {
	started := time.Now()
	defer func() { service.ObserveTx("postgres", started, err) }()

	ctx, cancel, err := service.WithTxDeadline(ctx, t.timeout)
	defer cancel()
	if err != nil {
		return err
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // rollback after commit is no-op; error already captured
	}()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return err
	}

	stores := service.Stores{
		Requests: approvalstore.NewPostgresTx(tx),
		Subjects: subject.NewPostgresTx(tx),
		Audit:    audit.NewPostgresTx(tx),
	}
	if err = fn(ctx, stores); err != nil {
		return err
	}
	return tx.Commit()
}
