package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vietddude/collector/internal/core/domain"
	"github.com/vietddude/collector/internal/infra/storage"
)

// Options carries the metadata of an operator or system transition.
type Options struct {
	Actor      string
	Notes      string
	Reason     string
	Resolution domain.ResolutionMethod

	// Expected, when set, requires the record to currently be in this status.
	Expected State
}

// Manager handles status changes with state machine enforcement.
type Manager interface {
	// Capture stores a newly classified record in the entry state.
	Capture(ctx context.Context, ex *domain.InterfaceException) (storage.CaptureResult, error)

	// Get retrieves a record by transaction id.
	Get(ctx context.Context, transactionID string) (*domain.InterfaceException, error)

	// Transition moves a record to a new status (validates transition).
	Transition(ctx context.Context, transactionID string, to State, opts Options) (*domain.InterfaceException, error)

	// BeginRetry moves a record into RETRY_IN_PROGRESS and records the pending attempt.
	BeginRetry(ctx context.Context, ex *domain.InterfaceException, attempt domain.RetryAttempt) (*domain.InterfaceException, error)

	// SettleAttempt settles the pending attempt and moves the record out of RETRY_IN_PROGRESS.
	SettleAttempt(ctx context.Context, transactionID string, to State, outcome storage.AttemptOutcome, reason string) (*domain.InterfaceException, error)

	// RecentTransitions returns the latest transitions, oldest first.
	RecentTransitions() []Transition

	// SetTransitionCallback registers callback for status changes.
	SetTransitionCallback(fn func(ex *domain.InterfaceException, t Transition))
}

// DefaultManager implements Manager with state machine enforcement.
type DefaultManager struct {
	repo     storage.ExceptionRepository
	mu       sync.RWMutex
	callback func(*domain.InterfaceException, Transition)
	history  *History
}

// Capture stores a record in the NEW status. Only a first capture produces a transition.
func (m *DefaultManager) Capture(
	ctx context.Context,
	ex *domain.InterfaceException,
) (storage.CaptureResult, error) {
	now := time.Now().UTC()
	ex.Status = domain.StatusNew
	if ex.Timestamp.IsZero() {
		ex.Timestamp = now
	}
	if ex.ProcessedAt.IsZero() {
		ex.ProcessedAt = now
	}
	ex.UpdatedAt = now

	result, err := m.repo.Capture(ctx, ex)
	if err != nil {
		return "", fmt.Errorf("failed to capture exception: %w", err)
	}

	if result == storage.CaptureCreated {
		t := NewTransition(ex.TransactionID, "", domain.StatusNew, "captured")
		m.record(ex.Clone(), t)
	}
	return result, nil
}

// Get retrieves a record by transaction id.
func (m *DefaultManager) Get(ctx context.Context, transactionID string) (*domain.InterfaceException, error) {
	return m.repo.GetByTransactionID(ctx, transactionID)
}

// Transition moves a record to a new status.
func (m *DefaultManager) Transition(
	ctx context.Context,
	transactionID string,
	to State,
	opts Options,
) (*domain.InterfaceException, error) {
	ex, err := m.repo.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get exception: %w", err)
	}

	from := ex.Status.Canonical()
	if opts.Expected != "" && from != opts.Expected.Canonical() {
		return nil, fmt.Errorf(
			"%w: expected %s, found %s",
			storage.ErrStatusConflict,
			opts.Expected,
			from,
		)
	}

	// Validate transition
	if !CanTransition(from, to) {
		return nil, fmt.Errorf(
			"%w: cannot transition %s from %s to %s",
			ErrInvalidTransition,
			transactionID,
			from,
			to,
		)
	}

	update := storage.StatusUpdate{
		TransactionID: transactionID,
		From:          ex.Status,
		To:            to.Canonical(),
		At:            time.Now().UTC(),
		Actor:         opts.Actor,
		Notes:         opts.Notes,
		Resolution:    opts.Resolution,
	}
	if err := m.repo.Transition(ctx, update); err != nil {
		return nil, fmt.Errorf("failed to update status: %w", err)
	}

	t := NewTransition(transactionID, from, update.To, opts.Reason)
	t.Actor = opts.Actor
	return m.reloadAndRecord(ctx, transactionID, t)
}

// BeginRetry moves a record into RETRY_IN_PROGRESS and stores the pending attempt.
func (m *DefaultManager) BeginRetry(
	ctx context.Context,
	ex *domain.InterfaceException,
	attempt domain.RetryAttempt,
) (*domain.InterfaceException, error) {
	from := ex.Status.Canonical()
	if !CanTransition(from, domain.StatusRetryInProgress) {
		return nil, fmt.Errorf(
			"%w: cannot retry %s from %s",
			ErrInvalidTransition,
			ex.TransactionID,
			from,
		)
	}

	update := storage.StatusUpdate{
		TransactionID: ex.TransactionID,
		From:          ex.Status,
		To:            domain.StatusRetryInProgress,
		At:            attempt.StartedAt,
		Actor:         attempt.InitiatedBy,
	}
	if err := m.repo.StartRetry(ctx, update, attempt); err != nil {
		return nil, fmt.Errorf("failed to start retry: %w", err)
	}

	t := NewTransition(ex.TransactionID, from, domain.StatusRetryInProgress, attempt.Reason)
	t.Actor = attempt.InitiatedBy
	return m.reloadAndRecord(ctx, ex.TransactionID, t)
}

// SettleAttempt settles the pending attempt and moves the record out of RETRY_IN_PROGRESS.
func (m *DefaultManager) SettleAttempt(
	ctx context.Context,
	transactionID string,
	to State,
	outcome storage.AttemptOutcome,
	reason string,
) (*domain.InterfaceException, error) {
	if !CanTransition(domain.StatusRetryInProgress, to) {
		return nil, fmt.Errorf(
			"%w: cannot settle retry of %s into %s",
			ErrInvalidTransition,
			transactionID,
			to,
		)
	}

	update := storage.StatusUpdate{
		TransactionID: transactionID,
		From:          domain.StatusRetryInProgress,
		To:            to.Canonical(),
		At:            outcome.CompletedAt,
	}
	if err := m.repo.FinishAttempt(ctx, update, outcome); err != nil {
		return nil, fmt.Errorf("failed to settle attempt: %w", err)
	}

	t := NewTransition(transactionID, domain.StatusRetryInProgress, update.To, reason)
	return m.reloadAndRecord(ctx, transactionID, t)
}

// RecentTransitions returns the latest transitions, oldest first.
func (m *DefaultManager) RecentTransitions() []Transition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.history.Snapshot()
}

// SetTransitionCallback registers callback for status changes.
func (m *DefaultManager) SetTransitionCallback(fn func(*domain.InterfaceException, Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callback = fn
}

func (m *DefaultManager) reloadAndRecord(
	ctx context.Context,
	transactionID string,
	t Transition,
) (*domain.InterfaceException, error) {
	ex, err := m.repo.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload exception: %w", err)
	}
	m.record(ex.Clone(), t)
	return ex, nil
}

func (m *DefaultManager) record(ex *domain.InterfaceException, t Transition) {
	m.mu.Lock()
	m.history.Record(t)
	callback := m.callback
	m.mu.Unlock()

	if callback != nil {
		callback(ex, t)
	}
}
