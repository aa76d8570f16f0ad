// Package lifecycle is the single authority for changing an exception's status.
//
// # Purpose
//
// Every status change on an InterfaceException goes through a Manager:
//   - Capture: stores a new record in its entry state (NEW)
//   - Transition: operator and system moves (acknowledge, escalate, resolve, close)
//   - BeginRetry / SettleAttempt: the retry bookkeeping, applied atomically with the status
//
// # Key Features
//
// State Machine - Only allows valid transitions:
//
//	NEW → ACKNOWLEDGED → RETRY_IN_PROGRESS → RETRIED_FAILED → ESCALATED → RESOLVED → CLOSED (valid)
//	RESOLVED → RETRY_IN_PROGRESS (invalid - resolved records are history)
//
// Check-and-set - Each write carries the status the caller read. The store
// rejects the write with storage.ErrStatusConflict if another writer got there
// first, so two retries can never both enter RETRY_IN_PROGRESS.
//
// Alias spellings - OPEN, RETRY_FAILED and FAILED from older producers are
// read as NEW and RETRIED_FAILED.
//
// # Quick Start
//
//	manager := lifecycle.NewManager(repo)
//
//	manager.SetTransitionCallback(func(ex *domain.InterfaceException, t lifecycle.Transition) {
//	    slog.Info("Status changed", "transaction_id", ex.TransactionID, "from", t.From, "to", t.To)
//	})
//
//	ex, err := manager.Transition(ctx, "TX-1", lifecycle.StateAcknowledged, lifecycle.Options{Actor: "ops"})
//
// # Package Structure
//
//   - state.go   - State machine definitions and valid transitions
//   - manager.go - Manager implementation over storage.ExceptionRepository
//   - history.go - Ring buffer of recent transitions for health reporting
package lifecycle

import (
	"github.com/vietddude/collector/internal/core/domain"
	"github.com/vietddude/collector/internal/infra/storage"
)

// State constants re-exported for convenience.
const (
	StateNew             = domain.StatusNew
	StateAcknowledged    = domain.StatusAcknowledged
	StateRetryInProgress = domain.StatusRetryInProgress
	StateRetriedSuccess  = domain.StatusRetriedSuccess
	StateRetriedFailed   = domain.StatusRetriedFailed
	StateEscalated       = domain.StatusEscalated
	StateResolved        = domain.StatusResolved
	StateClosed          = domain.StatusClosed
)

// NewManager creates a new lifecycle manager with the given repository.
func NewManager(repo storage.ExceptionRepository) *DefaultManager {
	return &DefaultManager{
		repo:    repo,
		history: NewHistory(50),
	}
}
