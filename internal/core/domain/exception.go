package domain

import (
	"strings"
	"time"
)

// InterfaceType identifies the originating interface of a failure.
type InterfaceType string

const (
	InterfaceTypeOrder        InterfaceType = "ORDER"
	InterfaceTypeCollection   InterfaceType = "COLLECTION"
	InterfaceTypeDistribution InterfaceType = "DISTRIBUTION"
	InterfaceTypeRecruitment  InterfaceType = "RECRUITMENT"
	InterfaceTypePartnerOrder InterfaceType = "PARTNER_ORDER"
	InterfaceTypeMockRSocket  InterfaceType = "MOCK_RSOCKET"
)

// InterfaceTypes lists every known interface type.
var InterfaceTypes = []InterfaceType{
	InterfaceTypeOrder,
	InterfaceTypeCollection,
	InterfaceTypeDistribution,
	InterfaceTypeRecruitment,
	InterfaceTypePartnerOrder,
	InterfaceTypeMockRSocket,
}

// ParseInterfaceType parses a case-insensitive interface type name.
func ParseInterfaceType(s string) (InterfaceType, bool) {
	t := InterfaceType(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range InterfaceTypes {
		if t == known {
			return t, true
		}
	}
	return "", false
}

type ExceptionCategory string

const (
	CategoryBusinessRule    ExceptionCategory = "BUSINESS_RULE"
	CategoryValidation      ExceptionCategory = "VALIDATION"
	CategorySystemError     ExceptionCategory = "SYSTEM_ERROR"
	CategoryNetworkError    ExceptionCategory = "NETWORK_ERROR"
	CategoryTimeout         ExceptionCategory = "TIMEOUT"
	CategoryAuthentication  ExceptionCategory = "AUTHENTICATION"
	CategoryAuthorization   ExceptionCategory = "AUTHORIZATION"
	CategoryDataIntegrity   ExceptionCategory = "DATA_INTEGRITY"
	CategoryExternalService ExceptionCategory = "EXTERNAL_SERVICE"
)

var categories = []ExceptionCategory{
	CategoryBusinessRule,
	CategoryValidation,
	CategorySystemError,
	CategoryNetworkError,
	CategoryTimeout,
	CategoryAuthentication,
	CategoryAuthorization,
	CategoryDataIntegrity,
	CategoryExternalService,
}

// ParseCategory parses a case-insensitive category name.
func ParseCategory(s string) (ExceptionCategory, bool) {
	c := ExceptionCategory(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range categories {
		if c == known {
			return c, true
		}
	}
	return "", false
}

type ExceptionSeverity string

const (
	SeverityLow      ExceptionSeverity = "LOW"
	SeverityMedium   ExceptionSeverity = "MEDIUM"
	SeverityHigh     ExceptionSeverity = "HIGH"
	SeverityCritical ExceptionSeverity = "CRITICAL"
)

// Rank orders severities from LOW (1) to CRITICAL (4). Unknown values rank 0.
func (s ExceptionSeverity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// ParseSeverity parses a case-insensitive severity name.
func ParseSeverity(s string) (ExceptionSeverity, bool) {
	sev := ExceptionSeverity(strings.ToUpper(strings.TrimSpace(s)))
	if sev.Rank() == 0 {
		return "", false
	}
	return sev, true
}

type ExceptionStatus string

const (
	StatusNew             ExceptionStatus = "NEW"
	StatusAcknowledged    ExceptionStatus = "ACKNOWLEDGED"
	StatusRetryInProgress ExceptionStatus = "RETRY_IN_PROGRESS"
	StatusRetriedSuccess  ExceptionStatus = "RETRIED_SUCCESS"
	StatusRetriedFailed   ExceptionStatus = "RETRIED_FAILED"
	StatusEscalated       ExceptionStatus = "ESCALATED"
	StatusResolved        ExceptionStatus = "RESOLVED"
	StatusClosed          ExceptionStatus = "CLOSED"

	// Producer spellings kept for backward compatibility. They are
	// normalised by Canonical and never written.
	StatusOpen        ExceptionStatus = "OPEN"
	StatusRetryFailed ExceptionStatus = "RETRY_FAILED"
	StatusFailed      ExceptionStatus = "FAILED"
)

// Canonical maps alias spellings onto the status the collector writes.
func (s ExceptionStatus) Canonical() ExceptionStatus {
	switch s {
	case StatusOpen:
		return StatusNew
	case StatusRetryFailed, StatusFailed:
		return StatusRetriedFailed
	default:
		return s
	}
}

// IsTerminal reports whether the record accepts no further operator or retry transitions.
func (s ExceptionStatus) IsTerminal() bool {
	c := s.Canonical()
	return c == StatusResolved || c == StatusClosed
}

// ParseStatus parses a status name, accepting alias spellings.
func ParseStatus(s string) (ExceptionStatus, bool) {
	st := ExceptionStatus(strings.ToUpper(strings.TrimSpace(s))).Canonical()
	switch st {
	case StatusNew, StatusAcknowledged, StatusRetryInProgress, StatusRetriedSuccess,
		StatusRetriedFailed, StatusEscalated, StatusResolved, StatusClosed:
		return st, true
	}
	return "", false
}

// InterfaceException is the durable record of one failed business transaction.
type InterfaceException struct {
	ID              int64
	TransactionID   string
	InterfaceType   InterfaceType
	Category        ExceptionCategory
	Severity        ExceptionSeverity
	Status          ExceptionStatus
	Retryable       bool
	Reason          string
	Operation       string
	ExternalID      string
	CustomerID      string
	LocationCode    string
	CorrelationID   string
	EventID         string
	OriginalPayload []byte

	// ClassificationFallback is set when the record was produced by the
	// fail-closed path rather than regular classification.
	ClassificationFallback bool

	Timestamp      time.Time
	ProcessedAt    time.Time
	UpdatedAt      time.Time
	RetryTimestamp *time.Time

	AcknowledgedAt   *time.Time
	AcknowledgedBy   string
	ResolvedAt       *time.Time
	ResolvedBy       string
	ResolutionMethod ResolutionMethod
	Notes            string

	RetryAttempts []RetryAttempt
}

// Clone returns a deep copy safe to hand to other goroutines.
func (e *InterfaceException) Clone() *InterfaceException {
	if e == nil {
		return nil
	}
	c := *e
	if e.OriginalPayload != nil {
		c.OriginalPayload = append([]byte(nil), e.OriginalPayload...)
	}
	c.RetryTimestamp = cloneTime(e.RetryTimestamp)
	c.AcknowledgedAt = cloneTime(e.AcknowledgedAt)
	c.ResolvedAt = cloneTime(e.ResolvedAt)
	if e.RetryAttempts != nil {
		c.RetryAttempts = make([]RetryAttempt, len(e.RetryAttempts))
		for i, a := range e.RetryAttempts {
			a.CompletedAt = cloneTime(a.CompletedAt)
			c.RetryAttempts[i] = a
		}
	}
	return &c
}

// CountedAttempts returns the attempts that consume retry budget.
func (e *InterfaceException) CountedAttempts() int {
	n := 0
	for _, a := range e.RetryAttempts {
		if a.Status != AttemptCancelled {
			n++
		}
	}
	return n
}

// FailedAttempts returns the number of attempts that settled as FAILED.
func (e *InterfaceException) FailedAttempts() int {
	n := 0
	for _, a := range e.RetryAttempts {
		if a.Status == AttemptFailed {
			n++
		}
	}
	return n
}

// PendingAttempt returns the in-flight attempt, if any.
func (e *InterfaceException) PendingAttempt() (RetryAttempt, bool) {
	for i := len(e.RetryAttempts) - 1; i >= 0; i-- {
		if e.RetryAttempts[i].Status == AttemptPending {
			return e.RetryAttempts[i], true
		}
	}
	return RetryAttempt{}, false
}

// NextAttemptNumber returns the number of a new attempt. Attempts are
// append-only, so cancelled attempts keep their number.
func (e *InterfaceException) NextAttemptNumber() int {
	n := 0
	for _, a := range e.RetryAttempts {
		n = max(n, a.Number)
	}
	return n + 1
}

type AttemptStatus string

const (
	AttemptPending   AttemptStatus = "PENDING"
	AttemptSuccess   AttemptStatus = "SUCCESS"
	AttemptFailed    AttemptStatus = "FAILED"
	AttemptCancelled AttemptStatus = "CANCELLED"
)

// RetryAttempt is one replay of the originating transaction.
type RetryAttempt struct {
	ID          string
	Number      int
	Status      AttemptStatus
	InitiatedBy string
	Reason      string
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
}

type ResolutionMethod string

const (
	ResolutionRetrySuccess     ResolutionMethod = "RETRY_SUCCESS"
	ResolutionManual           ResolutionMethod = "MANUAL_RESOLUTION"
	ResolutionCustomerResolved ResolutionMethod = "CUSTOMER_RESOLVED"
	ResolutionAutomated        ResolutionMethod = "AUTOMATED"
)

// ParseResolutionMethod parses a resolution method, defaulting empty input to manual.
func ParseResolutionMethod(s string) (ResolutionMethod, bool) {
	m := ResolutionMethod(strings.ToUpper(strings.TrimSpace(s)))
	switch m {
	case "":
		return ResolutionManual, true
	case ResolutionRetrySuccess, ResolutionManual, ResolutionCustomerResolved, ResolutionAutomated:
		return m, true
	}
	return "", false
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
