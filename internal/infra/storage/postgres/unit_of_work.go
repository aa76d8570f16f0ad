package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/collector/internal/core/domain"
	"github.com/vietddude/collector/internal/infra/storage"
)

const (
	insertProcessedEventQuery = `INSERT INTO processed_events (transaction_id, event_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`

	upsertExceptionQuery = `INSERT INTO interface_exceptions (
		transaction_id, interface_type, category, severity, status, retryable,
		exception_reason, operation, external_id, customer_id, location_code,
		correlation_id, event_id, original_payload, classification_fallback,
		timestamp, processed_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	ON CONFLICT (transaction_id) DO UPDATE SET
		exception_reason = EXCLUDED.exception_reason,
		processed_at = EXCLUDED.processed_at,
		updated_at = EXCLUDED.updated_at
	RETURNING id, (xmax = 0) AS inserted`

	applyStatusQuery = `UPDATE interface_exceptions SET
		status = $3,
		updated_at = $4,
		retry_timestamp = COALESCE($5, retry_timestamp),
		acknowledged_at = COALESCE($6, acknowledged_at),
		acknowledged_by = COALESCE(NULLIF($7, ''), acknowledged_by),
		resolved_at = COALESCE($8, resolved_at),
		resolved_by = COALESCE(NULLIF($9, ''), resolved_by),
		resolution_method = COALESCE(NULLIF($10, ''), resolution_method),
		notes = COALESCE(NULLIF($11, ''), notes)
	WHERE transaction_id = $1 AND status = $2`

	selectStatusQuery = `SELECT status FROM interface_exceptions WHERE transaction_id = $1`

	insertAttemptQuery = `INSERT INTO retry_attempts (
		id, exception_id, attempt_number, status, initiated_by, reason, started_at
	) SELECT $2, id, $3, $4, $5, $6, $7 FROM interface_exceptions WHERE transaction_id = $1`

	settleAttemptQuery = `UPDATE retry_attempts SET status = $2, error_message = $3, completed_at = $4
	WHERE id = $1 AND status = 'PENDING'`
)

// UnitOfWork bundles persistence operations into a single database transaction,
// ensuring atomicity (all succeed or all fail).
type UnitOfWork struct {
	tx *sqlx.Tx
}

// NewUnitOfWork creates a new unit of work with an active transaction.
func (db *DB) NewUnitOfWork(ctx context.Context) (*UnitOfWork, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &UnitOfWork{tx: tx}, nil
}

// Commit commits the transaction.
func (u *UnitOfWork) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("transaction already completed")
	}
	err := u.tx.Commit()
	u.tx = nil
	return err
}

// Rollback rolls back the transaction. Safe to call multiple times.
func (u *UnitOfWork) Rollback() error {
	if u.tx == nil {
		return nil // Already committed or rolled back
	}
	err := u.tx.Rollback()
	u.tx = nil
	return err
}

// RecordEvent marks (transaction id, event id) as processed. It reports false
// when the pair was already recorded.
func (u *UnitOfWork) RecordEvent(ctx context.Context, transactionID, eventID string) (bool, error) {
	res, err := u.tx.ExecContext(ctx, insertProcessedEventQuery, transactionID, eventID)
	if err != nil {
		return false, fmt.Errorf("failed to record event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpsertException inserts the record or refreshes an existing one. It returns
// the row id and whether a new row was created.
func (u *UnitOfWork) UpsertException(ctx context.Context, ex *domain.InterfaceException) (int64, bool, error) {
	var dest struct {
		ID       int64 `db:"id"`
		Inserted bool  `db:"inserted"`
	}
	err := u.tx.QueryRowxContext(
		ctx,
		upsertExceptionQuery,
		ex.TransactionID,
		string(ex.InterfaceType),
		string(ex.Category),
		string(ex.Severity),
		string(ex.Status),
		ex.Retryable,
		ex.Reason,
		ex.Operation,
		ex.ExternalID,
		ex.CustomerID,
		ex.LocationCode,
		ex.CorrelationID,
		ex.EventID,
		ex.OriginalPayload,
		ex.ClassificationFallback,
		ex.Timestamp,
		ex.ProcessedAt,
		ex.UpdatedAt,
	).StructScan(&dest)
	if err != nil {
		return 0, false, fmt.Errorf("failed to upsert exception: %w", err)
	}
	return dest.ID, dest.Inserted, nil
}

// ApplyStatus performs the check-and-set status update inside the transaction.
func (u *UnitOfWork) ApplyStatus(ctx context.Context, su storage.StatusUpdate) error {
	return applyStatus(ctx, u.tx, su)
}

// InsertAttempt stores a new pending attempt.
func (u *UnitOfWork) InsertAttempt(ctx context.Context, transactionID string, a domain.RetryAttempt) error {
	_, err := u.tx.ExecContext(
		ctx,
		insertAttemptQuery,
		transactionID,
		a.ID,
		a.Number,
		string(a.Status),
		a.InitiatedBy,
		a.Reason,
		a.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert attempt: %w", err)
	}
	return nil
}

// SettleAttempt settles a pending attempt. It returns storage.ErrAttemptSettled
// when the attempt is no longer pending.
func (u *UnitOfWork) SettleAttempt(ctx context.Context, o storage.AttemptOutcome) error {
	res, err := u.tx.ExecContext(ctx, settleAttemptQuery, o.AttemptID, string(o.Status), o.Error, o.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to settle attempt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrAttemptSettled
	}
	return nil
}

// statusColumns derives the per-target columns written alongside a status change.
type statusColumns struct {
	retryTimestamp   sql.NullTime
	acknowledgedAt   sql.NullTime
	acknowledgedBy   string
	resolvedAt       sql.NullTime
	resolvedBy       string
	resolutionMethod string
	notes            string
}

func columnsFor(su storage.StatusUpdate) statusColumns {
	var c statusColumns
	at := sql.NullTime{Time: su.At, Valid: true}
	switch su.To {
	case domain.StatusAcknowledged:
		c.acknowledgedAt = at
		c.acknowledgedBy = su.Actor
		c.notes = su.Notes
	case domain.StatusRetryInProgress:
		c.retryTimestamp = at
	case domain.StatusResolved:
		c.resolvedAt = at
		c.resolvedBy = su.Actor
		c.resolutionMethod = string(su.Resolution)
		c.notes = su.Notes
	case domain.StatusEscalated:
		c.notes = su.Notes
	}
	return c
}

type execQueryer interface {
	sqlx.ExecerContext
	sqlx.QueryerContext
}

func applyStatus(ctx context.Context, q execQueryer, su storage.StatusUpdate) error {
	c := columnsFor(su)
	res, err := q.ExecContext(
		ctx,
		applyStatusQuery,
		su.TransactionID,
		string(su.From),
		string(su.To),
		su.At,
		c.retryTimestamp,
		c.acknowledgedAt,
		c.acknowledgedBy,
		c.resolvedAt,
		c.resolvedBy,
		c.resolutionMethod,
		c.notes,
	)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	return explainMiss(ctx, q, su)
}

// explainMiss tells a missing record apart from a lost status race.
func explainMiss(ctx context.Context, q sqlx.QueryerContext, su storage.StatusUpdate) error {
	var current string
	err := sqlx.GetContext(ctx, q, &current, selectStatusQuery, su.TransactionID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, su.TransactionID)
	}
	if err != nil {
		return fmt.Errorf("failed to read status: %w", err)
	}
	return fmt.Errorf("%w: %s is %s, not %s", storage.ErrStatusConflict, su.TransactionID, current, su.From)
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
