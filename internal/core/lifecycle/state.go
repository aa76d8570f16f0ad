package lifecycle

import (
	"errors"
	"time"

	"github.com/vietddude/collector/internal/core/domain"
)

// State is an alias for domain.ExceptionStatus for internal use.
type State = domain.ExceptionStatus

// ErrInvalidTransition is returned when an invalid status transition is attempted.
var ErrInvalidTransition = errors.New("invalid status transition")

// ValidTransitions defines allowed status transitions.
// Key is the current status, value is the list of valid next statuses.
// RESOLVED only moves to CLOSED, which the retention worker does.
var ValidTransitions = map[State][]State{
	domain.StatusNew: {
		domain.StatusAcknowledged,
		domain.StatusRetryInProgress,
		domain.StatusEscalated,
		domain.StatusResolved,
	},
	domain.StatusAcknowledged: {
		domain.StatusRetryInProgress,
		domain.StatusEscalated,
		domain.StatusResolved,
	},
	domain.StatusRetryInProgress: {domain.StatusRetriedSuccess, domain.StatusRetriedFailed},
	domain.StatusRetriedFailed: {
		domain.StatusRetryInProgress,
		domain.StatusEscalated,
		domain.StatusResolved,
	},
	domain.StatusRetriedSuccess: {domain.StatusResolved, domain.StatusClosed},
	domain.StatusEscalated:      {domain.StatusResolved, domain.StatusClosed},
	domain.StatusResolved:       {domain.StatusClosed},
	domain.StatusClosed:         {},
}

// CanTransition checks if a transition from one status to another is valid.
// Alias spellings are canonicalised first.
func CanTransition(from, to State) bool {
	validTargets, ok := ValidTransitions[from.Canonical()]
	if !ok {
		return false
	}

	to = to.Canonical()
	for _, target := range validTargets {
		if target == to {
			return true
		}
	}
	return false
}

// Transition represents a status change with metadata.
type Transition struct {
	TransactionID string
	From          State
	To            State
	Reason        string
	Actor         string
	Timestamp     time.Time
}

// NewTransition creates a new transition record.
func NewTransition(transactionID string, from, to State, reason string) Transition {
	return Transition{
		TransactionID: transactionID,
		From:          from,
		To:            to,
		Reason:        reason,
		Timestamp:     time.Now(),
	}
}

// IsCapture reports whether this is the entry transition of a new record.
func (t Transition) IsCapture() bool {
	return t.From == "" && t.To.Canonical() == domain.StatusNew
}

// IsValid returns true if this transition is allowed by the state machine.
func (t Transition) IsValid() bool {
	return t.IsCapture() || CanTransition(t.From, t.To)
}

// StateDescription returns a human-readable description of a status.
func StateDescription(s State) string {
	switch s.Canonical() {
	case domain.StatusNew:
		return "New - captured, awaiting triage"
	case domain.StatusAcknowledged:
		return "Acknowledged - an operator has taken ownership"
	case domain.StatusRetryInProgress:
		return "Retrying - a replay of the original transaction is in flight"
	case domain.StatusRetriedSuccess:
		return "Retried successfully - awaiting resolution"
	case domain.StatusRetriedFailed:
		return "Retry failed - may be retried again while budget remains"
	case domain.StatusEscalated:
		return "Escalated - needs attention beyond automatic handling"
	case domain.StatusResolved:
		return "Resolved - kept as history"
	case domain.StatusClosed:
		return "Closed - archived"
	default:
		return "Unknown status"
	}
}
