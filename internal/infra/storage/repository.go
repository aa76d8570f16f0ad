package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/collector/internal/core/domain"
)

var (
	// ErrNotFound is returned when a record doesn't exist.
	ErrNotFound = domain.ErrExceptionNotFound

	// ErrStatusConflict is returned when the stored status no longer matches
	// the status the caller read.
	ErrStatusConflict = errors.New("status changed concurrently")

	// ErrAttemptSettled is returned when settling an attempt that is no longer pending.
	ErrAttemptSettled = errors.New("retry attempt already settled")
)

// CaptureResult describes what an idempotent capture did.
type CaptureResult string

const (
	// CaptureCreated means a new record was stored.
	CaptureCreated CaptureResult = "created"
	// CaptureUpdated means the transaction was known and a new event refreshed it.
	CaptureUpdated CaptureResult = "updated"
	// CaptureDuplicate means the (transaction id, event id) pair was already seen.
	CaptureDuplicate CaptureResult = "duplicate"
)

// StatusUpdate is a check-and-set status change plus the fields that travel with it.
type StatusUpdate struct {
	TransactionID string
	From          domain.ExceptionStatus
	To            domain.ExceptionStatus
	At            time.Time
	Actor         string
	Notes         string
	Resolution    domain.ResolutionMethod
}

// AttemptOutcome settles a pending attempt.
type AttemptOutcome struct {
	AttemptID   string
	Status      domain.AttemptStatus
	Error       string
	CompletedAt time.Time
}

// Filter narrows exception listings. Zero values mean "any".
type Filter struct {
	InterfaceType domain.InterfaceType
	Status        domain.ExceptionStatus
	Severity      domain.ExceptionSeverity
	CustomerID    string
	Query         string
	From          *time.Time
	To            *time.Time
}

// Position is a keyset position in (timestamp DESC, id DESC) order.
type Position struct {
	Timestamp time.Time
	ID        int64
}

// Summary aggregates record counts.
type Summary struct {
	Total           int
	ByInterfaceType map[domain.InterfaceType]int
	BySeverity      map[domain.ExceptionSeverity]int
	ByStatus        map[domain.ExceptionStatus]int
}

// ExceptionRepository handles exception record storage
type ExceptionRepository interface {
	// Capture stores a record keyed by (transaction id, event id), idempotently
	Capture(ctx context.Context, ex *domain.InterfaceException) (CaptureResult, error)

	// GetByTransactionID retrieves a record with its attempts
	GetByTransactionID(ctx context.Context, transactionID string) (*domain.InterfaceException, error)

	// Transition applies a status change if the stored status equals u.From
	Transition(ctx context.Context, u StatusUpdate) error

	// StartRetry moves the record into RETRY_IN_PROGRESS and stores the pending attempt atomically
	StartRetry(ctx context.Context, u StatusUpdate, attempt domain.RetryAttempt) error

	// FinishAttempt settles a pending attempt and applies the status change atomically
	FinishAttempt(ctx context.Context, u StatusUpdate, outcome AttemptOutcome) error

	// List returns one offset page and the total match count
	List(ctx context.Context, f Filter, offset, limit int) ([]*domain.InterfaceException, int, error)

	// ListAfter returns records strictly after pos in (timestamp DESC, id DESC) order
	ListAfter(ctx context.Context, f Filter, pos *Position, limit int) ([]*domain.InterfaceException, error)

	// Count returns the number of records matching f
	Count(ctx context.Context, f Filter) (int, error)

	// ListByStatus returns up to limit records in status whose last update is before the threshold
	ListByStatus(ctx context.Context, status domain.ExceptionStatus, before time.Time, limit int) ([]*domain.InterfaceException, error)

	// Summarize aggregates records captured since the given time
	Summarize(ctx context.Context, since time.Time) (*Summary, error)
}

// AlertLedger remembers which (transaction id, reason) alerts were raised
type AlertLedger interface {
	// MarkRaised records the alert and reports whether it was new
	MarkRaised(ctx context.Context, transactionID string, reason domain.AlertReason) (bool, error)
}
