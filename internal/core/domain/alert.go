package domain

import "time"

type AlertReason string

const (
	AlertCriticalSeverity      AlertReason = "CRITICAL_SEVERITY"
	AlertMultipleRetriesFailed AlertReason = "MULTIPLE_RETRIES_FAILED"
	AlertSystemError           AlertReason = "SYSTEM_ERROR"
	AlertCustomerImpact        AlertReason = "CUSTOMER_IMPACT"
)

type AlertLevel string

const (
	AlertLevelWarning   AlertLevel = "WARNING"
	AlertLevelCritical  AlertLevel = "CRITICAL"
	AlertLevelEmergency AlertLevel = "EMERGENCY"
)

// Alert is a critical-exception notification raised for one record.
type Alert struct {
	ExceptionID             int64
	TransactionID           string
	Reason                  AlertReason
	Level                   AlertLevel
	InterfaceType           InterfaceType
	Category                ExceptionCategory
	Severity                ExceptionSeverity
	ExceptionReason         string
	CustomerID              string
	EscalationTeam          string
	RequiresImmediateAction bool
	EstimatedImpact         string
	CustomersAffected       int
	RetryAttempts           int
	CorrelationID           string
	CausationID             string
	RaisedAt                time.Time
}
