package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/collector/internal/core/domain"
	"github.com/vietddude/collector/internal/infra/storage"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return Wrap(sqlx.NewDb(mockDB, "postgres")), mock
}

var exceptionColumnNames = []string{
	"id", "transaction_id", "interface_type", "category", "severity", "status", "retryable",
	"exception_reason", "operation", "external_id", "customer_id", "location_code", "correlation_id",
	"event_id", "original_payload", "classification_fallback", "timestamp", "processed_at", "updated_at",
	"retry_timestamp", "acknowledged_at", "acknowledged_by", "resolved_at", "resolved_by",
	"resolution_method", "notes",
}

var attemptColumnNames = []string{
	"id", "exception_id", "attempt_number", "status", "initiated_by", "reason",
	"started_at", "completed_at", "error_message",
}

func sampleException() *domain.InterfaceException {
	now := time.Now().UTC()
	return &domain.InterfaceException{
		TransactionID: "TX-1",
		EventID:       "evt-1",
		InterfaceType: domain.InterfaceTypeOrder,
		Category:      domain.CategoryBusinessRule,
		Severity:      domain.SeverityHigh,
		Status:        domain.StatusNew,
		Retryable:     true,
		Reason:        "Order already exists",
		Timestamp:     now,
		ProcessedAt:   now,
		UpdatedAt:     now,
	}
}

func TestExceptionRepo_CaptureCreated(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewExceptionRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertProcessedEventQuery)).
		WithArgs("TX-1", "evt-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(upsertExceptionQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "inserted"}).AddRow(int64(7), true))
	mock.ExpectCommit()

	ex := sampleException()
	result, err := repo.Capture(context.Background(), ex)
	require.NoError(t, err)
	assert.Equal(t, storage.CaptureCreated, result)
	assert.Equal(t, int64(7), ex.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExceptionRepo_CaptureUpdated(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewExceptionRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertProcessedEventQuery)).
		WithArgs("TX-1", "evt-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(upsertExceptionQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "inserted"}).AddRow(int64(7), false))
	mock.ExpectCommit()

	result, err := repo.Capture(context.Background(), sampleException())
	require.NoError(t, err)
	assert.Equal(t, storage.CaptureUpdated, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExceptionRepo_CaptureDuplicate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewExceptionRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertProcessedEventQuery)).
		WithArgs("TX-1", "evt-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	result, err := repo.Capture(context.Background(), sampleException())
	require.NoError(t, err)
	assert.Equal(t, storage.CaptureDuplicate, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExceptionRepo_GetByTransactionID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewExceptionRepo(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(getExceptionQuery)).
		WithArgs("TX-1").
		WillReturnRows(sqlmock.NewRows(exceptionColumnNames).AddRow(
			int64(7), "TX-1", "ORDER", "BUSINESS_RULE", "HIGH", "RETRY_FAILED", true,
			"Order already exists", "CREATE_ORDER", "EXT-1", "CUST-1", "LOC-1", "corr-1",
			"evt-1", []byte(`{"a":1}`), false, now, now, now,
			now, nil, "", nil, "", "", "",
		))
	mock.ExpectQuery(regexp.QuoteMeta(getAttemptsQuery)).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(attemptColumnNames).
			AddRow("a-1", int64(7), 1, "FAILED", "ops", "manual", now, now, "HTTP 500"))

	ex, err := repo.GetByTransactionID(context.Background(), "TX-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRetriedFailed, ex.Status, "alias spellings are canonicalised on read")
	assert.Equal(t, "CUST-1", ex.CustomerID)
	require.NotNil(t, ex.RetryTimestamp)
	assert.Nil(t, ex.AcknowledgedAt)
	require.Len(t, ex.RetryAttempts, 1)
	assert.Equal(t, domain.AttemptFailed, ex.RetryAttempts[0].Status)
	assert.Equal(t, 1, ex.FailedAttempts())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExceptionRepo_GetNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewExceptionRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(getExceptionQuery)).
		WithArgs("TX-404").
		WillReturnRows(sqlmock.NewRows(exceptionColumnNames))

	_, err := repo.GetByTransactionID(context.Background(), "TX-404")
	assert.ErrorIs(t, err, domain.ErrExceptionNotFound)
}

func TestExceptionRepo_TransitionConflict(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewExceptionRepo(db)

	mock.ExpectExec(regexp.QuoteMeta(applyStatusQuery)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(selectStatusQuery)).
		WithArgs("TX-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("ACKNOWLEDGED"))

	err := repo.Transition(context.Background(), storage.StatusUpdate{
		TransactionID: "TX-1",
		From:          domain.StatusNew,
		To:            domain.StatusAcknowledged,
		At:            time.Now(),
	})
	assert.ErrorIs(t, err, storage.ErrStatusConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExceptionRepo_TransitionMissing(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewExceptionRepo(db)

	mock.ExpectExec(regexp.QuoteMeta(applyStatusQuery)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(selectStatusQuery)).
		WithArgs("TX-404").
		WillReturnRows(sqlmock.NewRows([]string{"status"}))

	err := repo.Transition(context.Background(), storage.StatusUpdate{
		TransactionID: "TX-404",
		From:          domain.StatusNew,
		To:            domain.StatusAcknowledged,
		At:            time.Now(),
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestExceptionRepo_StartRetry(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewExceptionRepo(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(applyStatusQuery)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertAttemptQuery)).
		WithArgs("TX-1", "a-2", 2, "PENDING", "ops", "manual", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.StartRetry(context.Background(), storage.StatusUpdate{
		TransactionID: "TX-1",
		From:          domain.StatusRetriedFailed,
		To:            domain.StatusRetryInProgress,
		At:            now,
	}, domain.RetryAttempt{
		ID:          "a-2",
		Number:      2,
		Status:      domain.AttemptPending,
		InitiatedBy: "ops",
		Reason:      "manual",
		StartedAt:   now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExceptionRepo_ListByStatusLoadsAttempts(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewExceptionRepo(db)
	now := time.Now().UTC()
	retried := now.Add(-time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta(listByStatusQuery)).
		WithArgs("RETRIED_FAILED", now, 50).
		WillReturnRows(sqlmock.NewRows(exceptionColumnNames).AddRow(
			int64(7), "TX-1", "ORDER", "NETWORK_ERROR", "HIGH", "RETRIED_FAILED", true,
			"Connection timeout", "", "", "", "", "", "evt-1", []byte(`{}`), false,
			now, now, retried, retried, nil, "", nil, "", "", nil,
		))
	mock.ExpectQuery(`FROM retry_attempts WHERE exception_id IN \(\$1\)`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(attemptColumnNames).
			AddRow("a-1", int64(7), 1, "FAILED", "ops", "manual", retried, retried, "timeout").
			AddRow("a-2", int64(7), 2, "CANCELLED", "ops", "manual", retried, retried, "cancelled"))

	out, err := repo.ListByStatus(context.Background(), domain.StatusRetriedFailed, now, 50)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, out[0].RetryAttempts, 2)
	assert.Equal(t, 1, out[0].FailedAttempts())
	assert.Equal(t, 1, out[0].CountedAttempts())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExceptionRepo_FinishAttemptAlreadySettled(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewExceptionRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(settleAttemptQuery)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.FinishAttempt(context.Background(), storage.StatusUpdate{
		TransactionID: "TX-1",
		From:          domain.StatusRetryInProgress,
		To:            domain.StatusRetriedSuccess,
		At:            time.Now(),
	}, storage.AttemptOutcome{AttemptID: "a-1", Status: domain.AttemptSuccess, CompletedAt: time.Now()})
	assert.ErrorIs(t, err, storage.ErrAttemptSettled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExceptionRepo_Summarize(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewExceptionRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(summarizeQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"interface_type", "severity", "status", "total"}).
			AddRow("ORDER", "HIGH", "NEW", 3).
			AddRow("ORDER", "LOW", "RESOLVED", 2).
			AddRow("COLLECTION", "HIGH", "FAILED", 1))

	sum, err := repo.Summarize(context.Background(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 6, sum.Total)
	assert.Equal(t, 5, sum.ByInterfaceType[domain.InterfaceTypeOrder])
	assert.Equal(t, 4, sum.BySeverity[domain.SeverityHigh])
	assert.Equal(t, 1, sum.ByStatus[domain.StatusRetriedFailed])
}

func TestBuildWhere(t *testing.T) {
	where, args := buildWhere(storage.Filter{})
	assert.Empty(t, where)
	assert.Empty(t, args)

	where, args = buildWhere(storage.Filter{
		InterfaceType: domain.InterfaceTypeOrder,
		Status:        domain.StatusOpen,
		Query:         "exists",
	})
	assert.Equal(t,
		" WHERE interface_type = $1 AND status = $2 AND (exception_reason ILIKE $3 OR transaction_id ILIKE $3 OR external_id ILIKE $3)",
		where,
	)
	assert.Equal(t, []any{"ORDER", "NEW", "%exists%"}, args)
}

func TestAlertLedger_MarkRaised(t *testing.T) {
	db, mock := newMockDB(t)
	ledger := NewAlertLedger(db)

	mock.ExpectExec(regexp.QuoteMeta(markAlertQuery)).
		WithArgs("TX-1", "CRITICAL_SEVERITY").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(markAlertQuery)).
		WithArgs("TX-1", "CRITICAL_SEVERITY").
		WillReturnResult(sqlmock.NewResult(0, 0))

	fresh, err := ledger.MarkRaised(context.Background(), "TX-1", domain.AlertCriticalSeverity)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = ledger.MarkRaised(context.Background(), "TX-1", domain.AlertCriticalSeverity)
	require.NoError(t, err)
	assert.False(t, fresh)
}
