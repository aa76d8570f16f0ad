package emitter

import (
	"time"

	"github.com/vietddude/collector/internal/core/domain"
)

// CapturedPayload is the payload of ExceptionCaptured.
type CapturedPayload struct {
	ExceptionID     int64                    `json:"exceptionId"`
	TransactionID   string                   `json:"transactionId"`
	InterfaceType   domain.InterfaceType     `json:"interfaceType"`
	Category        domain.ExceptionCategory `json:"category"`
	Severity        domain.ExceptionSeverity `json:"severity"`
	ExceptionReason string                   `json:"exceptionReason"`
	CustomerID      string                   `json:"customerId,omitempty"`
	Retryable       bool                     `json:"retryable"`
}

// RetryResult is the outcome block of ExceptionRetryCompleted.
type RetryResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// RetryCompletedPayload is the payload of ExceptionRetryCompleted.
type RetryCompletedPayload struct {
	ExceptionID   int64                  `json:"exceptionId"`
	TransactionID string                 `json:"transactionId"`
	AttemptNumber int                    `json:"attemptNumber"`
	RetryStatus   domain.AttemptStatus   `json:"retryStatus"`
	RetryResult   RetryResult            `json:"retryResult"`
	InitiatedBy   string                 `json:"initiatedBy,omitempty"`
	CompletedAt   *time.Time             `json:"completedAt,omitempty"`
	Status        domain.ExceptionStatus `json:"status"`
}

// ResolvedPayload is the payload of ExceptionResolved.
type ResolvedPayload struct {
	ExceptionID        int64                   `json:"exceptionId"`
	TransactionID      string                  `json:"transactionId"`
	ResolutionMethod   domain.ResolutionMethod `json:"resolutionMethod"`
	ResolvedBy         string                  `json:"resolvedBy,omitempty"`
	ResolvedAt         *time.Time              `json:"resolvedAt,omitempty"`
	TotalRetryAttempts int                     `json:"totalRetryAttempts"`
	ResolutionNotes    string                  `json:"resolutionNotes,omitempty"`
}

// AlertPayload is the payload of CriticalExceptionAlert.
type AlertPayload struct {
	ExceptionID             int64                    `json:"exceptionId"`
	TransactionID           string                   `json:"transactionId"`
	AlertLevel              domain.AlertLevel        `json:"alertLevel"`
	AlertReason             domain.AlertReason       `json:"alertReason"`
	InterfaceType           domain.InterfaceType     `json:"interfaceType"`
	Category                domain.ExceptionCategory `json:"category"`
	Severity                domain.ExceptionSeverity `json:"severity"`
	ExceptionReason         string                   `json:"exceptionReason"`
	CustomerID              string                   `json:"customerId,omitempty"`
	EscalationTeam          string                   `json:"escalationTeam"`
	RequiresImmediateAction bool                     `json:"requiresImmediateAction"`
	CustomersAffected       int                      `json:"customersAffected"`
	EstimatedImpact         string                   `json:"estimatedImpact"`
	RetryAttempts           int                      `json:"retryAttempts"`
}

func capturedPayload(ex *domain.InterfaceException) CapturedPayload {
	return CapturedPayload{
		ExceptionID:     ex.ID,
		TransactionID:   ex.TransactionID,
		InterfaceType:   ex.InterfaceType,
		Category:        ex.Category,
		Severity:        ex.Severity,
		ExceptionReason: ex.Reason,
		CustomerID:      ex.CustomerID,
		Retryable:       ex.Retryable,
	}
}

func retryCompletedPayload(ex *domain.InterfaceException, a domain.RetryAttempt) RetryCompletedPayload {
	msg := "Retry completed successfully"
	if a.Status != domain.AttemptSuccess {
		msg = a.Error
	}
	return RetryCompletedPayload{
		ExceptionID:   ex.ID,
		TransactionID: ex.TransactionID,
		AttemptNumber: a.Number,
		RetryStatus:   a.Status,
		RetryResult:   RetryResult{Success: a.Status == domain.AttemptSuccess, Message: msg},
		InitiatedBy:   a.InitiatedBy,
		CompletedAt:   a.CompletedAt,
		Status:        ex.Status,
	}
}

func resolvedPayload(ex *domain.InterfaceException) ResolvedPayload {
	return ResolvedPayload{
		ExceptionID:        ex.ID,
		TransactionID:      ex.TransactionID,
		ResolutionMethod:   ex.ResolutionMethod,
		ResolvedBy:         ex.ResolvedBy,
		ResolvedAt:         ex.ResolvedAt,
		TotalRetryAttempts: ex.CountedAttempts(),
		ResolutionNotes:    ex.Notes,
	}
}

func alertPayload(a *domain.Alert) AlertPayload {
	return AlertPayload{
		ExceptionID:             a.ExceptionID,
		TransactionID:           a.TransactionID,
		AlertLevel:              a.Level,
		AlertReason:             a.Reason,
		InterfaceType:           a.InterfaceType,
		Category:                a.Category,
		Severity:                a.Severity,
		ExceptionReason:         a.ExceptionReason,
		CustomerID:              a.CustomerID,
		EscalationTeam:          a.EscalationTeam,
		RequiresImmediateAction: a.RequiresImmediateAction,
		CustomersAffected:       a.CustomersAffected,
		EstimatedImpact:         a.EstimatedImpact,
		RetryAttempts:           a.RetryAttempts,
	}
}
