package domain

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

const (
	MaxReasonLength = 500
	MaxNotesLength  = 1000
)

var transactionIDPattern = regexp.MustCompile(`^[A-Za-z0-9\-_]{1,50}$`)

// ValidateTransactionID checks the format of a caller-supplied transaction id.
func ValidateTransactionID(id string) error {
	if !transactionIDPattern.MatchString(id) {
		return fmt.Errorf("%w: transaction id must be 1-50 letters, digits, '-' or '_'", ErrInvalidRequest)
	}
	return nil
}

// ValidateReason checks the length of a retry or cancel reason.
func ValidateReason(reason string) error {
	if utf8.RuneCountInString(reason) > MaxReasonLength {
		return fmt.Errorf("%w: reason exceeds %d characters", ErrInvalidRequest, MaxReasonLength)
	}
	return nil
}

// ValidateNotes checks the length of operator notes.
func ValidateNotes(notes string) error {
	if utf8.RuneCountInString(notes) > MaxNotesLength {
		return fmt.Errorf("%w: notes exceed %d characters", ErrInvalidRequest, MaxNotesLength)
	}
	return nil
}
