package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/collector/internal/core/domain"
	"github.com/vietddude/collector/internal/infra/storage"
)

const exceptionColumns = `id, transaction_id, interface_type, category, severity, status, retryable,
	exception_reason, operation, external_id, customer_id, location_code, correlation_id,
	event_id, original_payload, classification_fallback, timestamp, processed_at, updated_at,
	retry_timestamp, acknowledged_at, acknowledged_by, resolved_at, resolved_by,
	resolution_method, notes`

const (
	getExceptionQuery = `SELECT ` + exceptionColumns + ` FROM interface_exceptions WHERE transaction_id = $1`

	getAttemptsQuery = `SELECT id, exception_id, attempt_number, status, initiated_by, reason,
	started_at, completed_at, error_message
	FROM retry_attempts WHERE exception_id = $1 ORDER BY attempt_number`

	getAttemptsForQuery = `SELECT id, exception_id, attempt_number, status, initiated_by, reason,
	started_at, completed_at, error_message
	FROM retry_attempts WHERE exception_id IN (?) ORDER BY exception_id, attempt_number`

	listByStatusQuery = `SELECT ` + exceptionColumns + ` FROM interface_exceptions
	WHERE status = $1 AND updated_at < $2 ORDER BY updated_at ASC LIMIT $3`

	summarizeQuery = `SELECT interface_type, severity, status, COUNT(*) AS total
	FROM interface_exceptions WHERE timestamp >= $1
	GROUP BY interface_type, severity, status`
)

// ExceptionRepo implements storage.ExceptionRepository using PostgreSQL.
type ExceptionRepo struct {
	db *DB
}

// NewExceptionRepo creates a new PostgreSQL exception repository.
func NewExceptionRepo(db *DB) *ExceptionRepo {
	return &ExceptionRepo{db: db}
}

type exceptionRow struct {
	ID                     int64          `db:"id"`
	TransactionID          string         `db:"transaction_id"`
	InterfaceType          string         `db:"interface_type"`
	Category               string         `db:"category"`
	Severity               string         `db:"severity"`
	Status                 string         `db:"status"`
	Retryable              bool           `db:"retryable"`
	Reason                 string         `db:"exception_reason"`
	Operation              string         `db:"operation"`
	ExternalID             string         `db:"external_id"`
	CustomerID             string         `db:"customer_id"`
	LocationCode           string         `db:"location_code"`
	CorrelationID          string         `db:"correlation_id"`
	EventID                string         `db:"event_id"`
	OriginalPayload        []byte         `db:"original_payload"`
	ClassificationFallback bool           `db:"classification_fallback"`
	Timestamp              time.Time      `db:"timestamp"`
	ProcessedAt            time.Time      `db:"processed_at"`
	UpdatedAt              time.Time      `db:"updated_at"`
	RetryTimestamp         sql.NullTime   `db:"retry_timestamp"`
	AcknowledgedAt         sql.NullTime   `db:"acknowledged_at"`
	AcknowledgedBy         string         `db:"acknowledged_by"`
	ResolvedAt             sql.NullTime   `db:"resolved_at"`
	ResolvedBy             string         `db:"resolved_by"`
	ResolutionMethod       string         `db:"resolution_method"`
	Notes                  sql.NullString `db:"notes"`
}

func (r exceptionRow) toDomain() *domain.InterfaceException {
	return &domain.InterfaceException{
		ID:                     r.ID,
		TransactionID:          r.TransactionID,
		InterfaceType:          domain.InterfaceType(r.InterfaceType),
		Category:               domain.ExceptionCategory(r.Category),
		Severity:               domain.ExceptionSeverity(r.Severity),
		Status:                 domain.ExceptionStatus(r.Status).Canonical(),
		Retryable:              r.Retryable,
		Reason:                 r.Reason,
		Operation:              r.Operation,
		ExternalID:             r.ExternalID,
		CustomerID:             r.CustomerID,
		LocationCode:           r.LocationCode,
		CorrelationID:          r.CorrelationID,
		EventID:                r.EventID,
		OriginalPayload:        r.OriginalPayload,
		ClassificationFallback: r.ClassificationFallback,
		Timestamp:              r.Timestamp,
		ProcessedAt:            r.ProcessedAt,
		UpdatedAt:              r.UpdatedAt,
		RetryTimestamp:         nullTime(r.RetryTimestamp),
		AcknowledgedAt:         nullTime(r.AcknowledgedAt),
		AcknowledgedBy:         r.AcknowledgedBy,
		ResolvedAt:             nullTime(r.ResolvedAt),
		ResolvedBy:             r.ResolvedBy,
		ResolutionMethod:       domain.ResolutionMethod(r.ResolutionMethod),
		Notes:                  r.Notes.String,
	}
}

type attemptRow struct {
	ID          string       `db:"id"`
	ExceptionID int64        `db:"exception_id"`
	Number      int          `db:"attempt_number"`
	Status      string       `db:"status"`
	InitiatedBy string       `db:"initiated_by"`
	Reason      string       `db:"reason"`
	StartedAt   time.Time    `db:"started_at"`
	CompletedAt sql.NullTime `db:"completed_at"`
	Error       string       `db:"error_message"`
}

func (r attemptRow) toDomain() domain.RetryAttempt {
	return domain.RetryAttempt{
		ID:          r.ID,
		Number:      r.Number,
		Status:      domain.AttemptStatus(r.Status),
		InitiatedBy: r.InitiatedBy,
		Reason:      r.Reason,
		StartedAt:   r.StartedAt,
		CompletedAt: nullTime(r.CompletedAt),
		Error:       r.Error,
	}
}

// Capture stores the record idempotently on (transaction id, event id).
func (r *ExceptionRepo) Capture(ctx context.Context, ex *domain.InterfaceException) (storage.CaptureResult, error) {
	defer observe("capture", time.Now())

	uow, err := r.db.NewUnitOfWork(ctx)
	if err != nil {
		return "", err
	}
	defer uow.Rollback()

	fresh, err := uow.RecordEvent(ctx, ex.TransactionID, ex.EventID)
	if err != nil {
		return "", err
	}
	if !fresh {
		return storage.CaptureDuplicate, nil
	}

	id, inserted, err := uow.UpsertException(ctx, ex)
	if err != nil {
		return "", err
	}
	if err := uow.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit capture: %w", err)
	}

	ex.ID = id
	if inserted {
		return storage.CaptureCreated, nil
	}
	return storage.CaptureUpdated, nil
}

// GetByTransactionID retrieves a record with its attempts.
func (r *ExceptionRepo) GetByTransactionID(ctx context.Context, transactionID string) (*domain.InterfaceException, error) {
	defer observe("get", time.Now())

	var row exceptionRow
	err := r.db.GetContext(ctx, &row, getExceptionQuery, transactionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, transactionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get exception: %w", err)
	}

	var attempts []attemptRow
	if err := r.db.SelectContext(ctx, &attempts, getAttemptsQuery, row.ID); err != nil {
		return nil, fmt.Errorf("failed to get attempts: %w", err)
	}

	ex := row.toDomain()
	for _, a := range attempts {
		ex.RetryAttempts = append(ex.RetryAttempts, a.toDomain())
	}
	return ex, nil
}

// Transition applies a check-and-set status change.
func (r *ExceptionRepo) Transition(ctx context.Context, u storage.StatusUpdate) error {
	defer observe("transition", time.Now())
	return applyStatus(ctx, r.db, u)
}

// StartRetry moves the record into RETRY_IN_PROGRESS and stores the attempt in one transaction.
func (r *ExceptionRepo) StartRetry(ctx context.Context, u storage.StatusUpdate, attempt domain.RetryAttempt) error {
	defer observe("start_retry", time.Now())

	uow, err := r.db.NewUnitOfWork(ctx)
	if err != nil {
		return err
	}
	defer uow.Rollback()

	if err := uow.ApplyStatus(ctx, u); err != nil {
		return err
	}
	if err := uow.InsertAttempt(ctx, u.TransactionID, attempt); err != nil {
		return err
	}
	return uow.Commit()
}

// FinishAttempt settles the attempt and applies the status change in one transaction.
func (r *ExceptionRepo) FinishAttempt(ctx context.Context, u storage.StatusUpdate, outcome storage.AttemptOutcome) error {
	defer observe("finish_attempt", time.Now())

	uow, err := r.db.NewUnitOfWork(ctx)
	if err != nil {
		return err
	}
	defer uow.Rollback()

	if err := uow.SettleAttempt(ctx, outcome); err != nil {
		return err
	}
	if err := uow.ApplyStatus(ctx, u); err != nil {
		return err
	}
	return uow.Commit()
}

// List returns one offset page and the total match count.
func (r *ExceptionRepo) List(ctx context.Context, f storage.Filter, offset, limit int) ([]*domain.InterfaceException, int, error) {
	defer observe("list", time.Now())

	total, err := r.Count(ctx, f)
	if err != nil {
		return nil, 0, err
	}

	where, args := buildWhere(f)
	query := fmt.Sprintf(
		`SELECT %s FROM interface_exceptions%s ORDER BY timestamp DESC, id DESC LIMIT $%d OFFSET $%d`,
		exceptionColumns, where, len(args)+1, len(args)+2,
	)
	args = append(args, limit, offset)

	out, err := r.selectWithAttempts(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// ListAfter returns records strictly after pos in (timestamp DESC, id DESC) order.
func (r *ExceptionRepo) ListAfter(ctx context.Context, f storage.Filter, pos *storage.Position, limit int) ([]*domain.InterfaceException, error) {
	defer observe("list_after", time.Now())

	where, args := buildWhere(f)
	if pos != nil {
		cond := fmt.Sprintf("(timestamp, id) < ($%d, $%d)", len(args)+1, len(args)+2)
		args = append(args, pos.Timestamp, pos.ID)
		if where == "" {
			where = " WHERE " + cond
		} else {
			where += " AND " + cond
		}
	}
	query := fmt.Sprintf(
		`SELECT %s FROM interface_exceptions%s ORDER BY timestamp DESC, id DESC LIMIT $%d`,
		exceptionColumns, where, len(args)+1,
	)
	args = append(args, limit)

	return r.selectWithAttempts(ctx, query, args...)
}

// Count returns the number of records matching f.
func (r *ExceptionRepo) Count(ctx context.Context, f storage.Filter) (int, error) {
	where, args := buildWhere(f)
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM interface_exceptions`+where, args...); err != nil {
		return 0, fmt.Errorf("failed to count exceptions: %w", err)
	}
	return n, nil
}

// ListByStatus returns up to limit records in status last updated before threshold.
func (r *ExceptionRepo) ListByStatus(ctx context.Context, status domain.ExceptionStatus, threshold time.Time, limit int) ([]*domain.InterfaceException, error) {
	defer observe("list_by_status", time.Now())

	return r.selectWithAttempts(ctx, listByStatusQuery, string(status), threshold, limit)
}

// Summarize aggregates records captured since the given time.
func (r *ExceptionRepo) Summarize(ctx context.Context, since time.Time) (*storage.Summary, error) {
	defer observe("summarize", time.Now())

	var rows []struct {
		InterfaceType string `db:"interface_type"`
		Severity      string `db:"severity"`
		Status        string `db:"status"`
		Total         int    `db:"total"`
	}
	if err := r.db.SelectContext(ctx, &rows, summarizeQuery, since); err != nil {
		return nil, fmt.Errorf("failed to summarize exceptions: %w", err)
	}

	sum := &storage.Summary{
		ByInterfaceType: make(map[domain.InterfaceType]int),
		BySeverity:      make(map[domain.ExceptionSeverity]int),
		ByStatus:        make(map[domain.ExceptionStatus]int),
	}
	for _, row := range rows {
		sum.Total += row.Total
		sum.ByInterfaceType[domain.InterfaceType(row.InterfaceType)] += row.Total
		sum.BySeverity[domain.ExceptionSeverity(row.Severity)] += row.Total
		sum.ByStatus[domain.ExceptionStatus(row.Status).Canonical()] += row.Total
	}
	return sum, nil
}

func (r *ExceptionRepo) selectWithAttempts(ctx context.Context, query string, args ...any) ([]*domain.InterfaceException, error) {
	var rows []exceptionRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list exceptions: %w", err)
	}
	out := make([]*domain.InterfaceException, 0, len(rows))
	if len(rows) == 0 {
		return out, nil
	}

	byID := make(map[int64]*domain.InterfaceException, len(rows))
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ex := row.toDomain()
		out = append(out, ex)
		byID[ex.ID] = ex
		ids = append(ids, ex.ID)
	}

	q, inArgs, err := sqlx.In(getAttemptsForQuery, ids)
	if err != nil {
		return nil, err
	}
	var attempts []attemptRow
	if err := r.db.SelectContext(ctx, &attempts, r.db.Rebind(q), inArgs...); err != nil {
		return nil, fmt.Errorf("failed to get attempts: %w", err)
	}
	for _, a := range attempts {
		if ex, ok := byID[a.ExceptionID]; ok {
			ex.RetryAttempts = append(ex.RetryAttempts, a.toDomain())
		}
	}
	return out, nil
}

// buildWhere renders the filter as a WHERE clause with positional args.
func buildWhere(f storage.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.InterfaceType != "" {
		add("interface_type = $%d", string(f.InterfaceType))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status.Canonical()))
	}
	if f.Severity != "" {
		add("severity = $%d", string(f.Severity))
	}
	if f.CustomerID != "" {
		add("customer_id = $%d", f.CustomerID)
	}
	if f.From != nil {
		add("timestamp >= $%d", *f.From)
	}
	if f.To != nil {
		add("timestamp <= $%d", *f.To)
	}
	if f.Query != "" {
		args = append(args, "%"+f.Query+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf(
			"(exception_reason ILIKE $%d OR transaction_id ILIKE $%d OR external_id ILIKE $%d)", n, n, n,
		))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
