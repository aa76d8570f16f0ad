// Package classifier maps inbound failure payloads to interface type,
// category, severity and retryability. Classification is a pure function of
// the payload.
package classifier

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vietddude/collector/internal/core/domain"
)

// ErrUnknownInterface is returned when a payload names no known interface type.
var ErrUnknownInterface = errors.New("unknown interface type")

// Classification is the outcome of classifying one payload.
type Classification struct {
	InterfaceType domain.InterfaceType
	Category      domain.ExceptionCategory
	Severity      domain.ExceptionSeverity
	Retryable     bool

	// Fallback is set when a producer hint was present but invalid and the
	// fail-closed defaults were applied.
	Fallback bool
}

// Facts are the descriptive fields extracted from a payload.
type Facts struct {
	InterfaceType domain.InterfaceType
	Reason        string
	Operation     string
	ExternalID    string
	CustomerID    string
	LocationCode  string
}

// Failsafe is the fail-closed classification for unknown-risk input.
func Failsafe(t domain.InterfaceType) Classification {
	return Classification{
		InterfaceType: t,
		Category:      domain.CategorySystemError,
		Severity:      domain.SeverityHigh,
		Retryable:     false,
		Fallback:      true,
	}
}

// Extract reads the descriptive fields of an inbound event.
func Extract(ev domain.InboundEvent) (Facts, error) {
	switch e := ev.(type) {
	case *domain.OrderRejected:
		return Facts{
			InterfaceType: domain.InterfaceTypeOrder,
			Reason:        e.RejectedReason,
			Operation:     e.Operation,
			ExternalID:    e.ExternalID,
			CustomerID:    e.CustomerID,
			LocationCode:  e.LocationCode,
		}, nil
	case *domain.OrderCancelled:
		return Facts{
			InterfaceType: domain.InterfaceTypeOrder,
			Reason:        e.CancelReason,
			Operation:     "CANCEL_ORDER",
			ExternalID:    e.ExternalID,
			CustomerID:    e.CustomerID,
		}, nil
	case *domain.CollectionRejected:
		return Facts{
			InterfaceType: domain.InterfaceTypeCollection,
			Reason:        e.RejectedReason,
			Operation:     e.Operation,
			ExternalID:    e.CollectionID,
			LocationCode:  e.LocationCode,
		}, nil
	case *domain.DistributionFailed:
		return Facts{
			InterfaceType: domain.InterfaceTypeDistribution,
			Reason:        e.FailureReason,
			Operation:     e.Operation,
			ExternalID:    e.DistributionID,
			CustomerID:    e.CustomerID,
			LocationCode:  e.DestinationLocation,
		}, nil
	case *domain.ValidationError:
		t, ok := domain.ParseInterfaceType(e.InterfaceType)
		if !ok {
			return Facts{}, fmt.Errorf("%w: %q", ErrUnknownInterface, e.InterfaceType)
		}
		parts := make([]string, 0, len(e.ValidationErrors))
		for _, fe := range e.ValidationErrors {
			parts = append(parts, fmt.Sprintf("Field '%s': %s", fe.Field, fe.ErrorMessage))
		}
		return Facts{
			InterfaceType: t,
			Reason:        strings.Join(parts, "; "),
			Operation:     "VALIDATION",
		}, nil
	default:
		return Facts{}, fmt.Errorf("unsupported event %T", ev)
	}
}

// Classify derives the classification of an inbound event. Valid producer
// hints override the keyword rules; invalid hints fail closed.
func Classify(ev domain.InboundEvent) (Classification, error) {
	facts, err := Extract(ev)
	if err != nil {
		return Classification{}, err
	}

	hints := ev.Hints()
	var (
		hintCategory domain.ExceptionCategory
		hintSeverity domain.ExceptionSeverity
	)
	if hints.Category != "" {
		c, ok := domain.ParseCategory(hints.Category)
		if !ok {
			return Failsafe(facts.InterfaceType), nil
		}
		hintCategory = c
	}
	if hints.Severity != "" {
		s, ok := domain.ParseSeverity(hints.Severity)
		if !ok {
			return Failsafe(facts.InterfaceType), nil
		}
		hintSeverity = s
	}

	if _, ok := ev.(*domain.ValidationError); ok {
		c := Classification{
			InterfaceType: facts.InterfaceType,
			Category:      domain.CategoryValidation,
			Severity:      domain.SeverityMedium,
			Retryable:     true,
		}
		if hintCategory != "" {
			c.Category = hintCategory
		}
		if hintSeverity != "" {
			c.Severity = hintSeverity
		}
		return c, nil
	}

	reason := strings.ToLower(facts.Reason)
	c := Classification{
		InterfaceType: facts.InterfaceType,
		Category:      categorize(facts.InterfaceType, reason),
		Severity:      severity(facts.InterfaceType, reason),
		Retryable:     retryable(reason),
	}
	if hintCategory != "" {
		c.Category = hintCategory
	}
	if hintSeverity != "" {
		c.Severity = hintSeverity
	}
	return c, nil
}

type rule struct {
	keywords []string
	category domain.ExceptionCategory
}

var orderRules = []rule{
	{[]string{"already exists", "duplicate"}, domain.CategoryBusinessRule},
	{[]string{"validation", "invalid", "required"}, domain.CategoryValidation},
	{[]string{"timeout", "connection"}, domain.CategoryNetworkError},
	{[]string{"unauthorized", "forbidden"}, domain.CategoryAuthorization},
	{[]string{"authentication", "credentials"}, domain.CategoryAuthentication},
	{[]string{"system", "internal"}, domain.CategorySystemError},
}

var collectionRules = []rule{
	{[]string{"donor", "collection", "sample"}, domain.CategoryBusinessRule},
	{[]string{"validation", "invalid", "required"}, domain.CategoryValidation},
	{[]string{"timeout", "connection"}, domain.CategoryNetworkError},
	{[]string{"system", "internal"}, domain.CategorySystemError},
}

var distributionRules = []rule{
	{[]string{"destination", "location", "inventory"}, domain.CategoryBusinessRule},
	{[]string{"external", "service"}, domain.CategoryExternalService},
	{[]string{"validation", "invalid", "required"}, domain.CategoryValidation},
	{[]string{"timeout", "connection"}, domain.CategoryNetworkError},
	{[]string{"system", "internal"}, domain.CategorySystemError},
}

func categorize(t domain.InterfaceType, reason string) domain.ExceptionCategory {
	var rules []rule
	switch t {
	case domain.InterfaceTypeCollection:
		rules = collectionRules
	case domain.InterfaceTypeDistribution:
		rules = distributionRules
	default:
		rules = orderRules
	}
	for _, r := range rules {
		if containsAny(reason, r.keywords...) {
			return r.category
		}
	}
	return domain.CategoryBusinessRule
}

func severity(t domain.InterfaceType, reason string) domain.ExceptionSeverity {
	if containsAny(reason, "system error", "internal error", "database", "critical") {
		return domain.SeverityCritical
	}
	if containsAny(reason, "timeout", "connection failed", "service unavailable", "authentication failed") {
		return domain.SeverityHigh
	}
	switch t {
	case domain.InterfaceTypeOrder:
		if containsAny(reason, "customer") {
			return domain.SeverityHigh
		}
	case domain.InterfaceTypeCollection:
		if containsAny(reason, "donor", "sample") {
			return domain.SeverityHigh
		}
	case domain.InterfaceTypeDistribution:
		if containsAny(reason, "destination", "delivery") {
			return domain.SeverityHigh
		}
	}
	if containsAny(reason, "validation", "invalid", "already exists", "not found") {
		return domain.SeverityMedium
	}
	if containsAny(reason, "warning", "info") {
		return domain.SeverityLow
	}
	return domain.SeverityMedium
}

func retryable(reason string) bool {
	return !containsAny(reason,
		"already exists",
		"duplicate",
		"invalid format",
		"malformed",
		"authentication failed",
		"unauthorized",
	)
}

func containsAny(s string, keywords ...string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
