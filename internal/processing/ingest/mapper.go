package ingest

import (
	"fmt"

	"github.com/vietddude/collector/internal/core/domain"
	"github.com/vietddude/collector/internal/processing/classifier"
)

// MapEvent classifies ev and builds the record it describes.
func MapEvent(env *domain.Envelope, ev domain.InboundEvent, raw []byte) (*domain.InterfaceException, error) {
	facts, err := classifier.Extract(ev)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExceptionProcessing, err)
	}
	c, err := classifier.Classify(ev)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExceptionProcessing, err)
	}

	return &domain.InterfaceException{
		TransactionID:          ev.TxID(),
		EventID:                env.EventID,
		CorrelationID:          env.CorrelationID,
		InterfaceType:          c.InterfaceType,
		Category:               c.Category,
		Severity:               c.Severity,
		Retryable:              c.Retryable,
		ClassificationFallback: c.Fallback,
		Reason:                 facts.Reason,
		Operation:              facts.Operation,
		ExternalID:             facts.ExternalID,
		CustomerID:             facts.CustomerID,
		LocationCode:           facts.LocationCode,
		OriginalPayload:        append([]byte(nil), raw...),
	}, nil
}

// NominalInterface is the interface type a topic normally carries.
func NominalInterface(topic domain.EventType) domain.InterfaceType {
	switch topic {
	case domain.EventCollectionRejected:
		return domain.InterfaceTypeCollection
	case domain.EventDistributionFailed:
		return domain.InterfaceTypeDistribution
	default:
		return domain.InterfaceTypeOrder
	}
}
