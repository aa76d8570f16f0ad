package domain

import "errors"

var (
	// ErrExceptionNotFound is returned when no record exists for a transaction id.
	ErrExceptionNotFound = errors.New("exception not found")

	// ErrRetryNotAllowed is returned when a record is not retryable, terminal,
	// already retrying, or out of retry budget.
	ErrRetryNotAllowed = errors.New("retry not allowed")

	// ErrExceptionProcessing is returned for ingestion and classification faults.
	ErrExceptionProcessing = errors.New("exception processing failed")

	// ErrInvalidRequest is returned when caller input fails validation.
	ErrInvalidRequest = errors.New("invalid request")
)
