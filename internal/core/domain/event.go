package domain

import (
	"encoding/json"
	"time"
)

// EventType names both the event and the topic it travels on.
type EventType string

const (
	EventOrderRejected      EventType = "OrderRejected"
	EventOrderCancelled     EventType = "OrderCancelled"
	EventCollectionRejected EventType = "CollectionRejected"
	EventDistributionFailed EventType = "DistributionFailed"
	EventValidationError    EventType = "ValidationError"

	EventExceptionCaptured       EventType = "ExceptionCaptured"
	EventExceptionRetryCompleted EventType = "ExceptionRetryCompleted"
	EventExceptionResolved       EventType = "ExceptionResolved"
	EventCriticalExceptionAlert  EventType = "CriticalExceptionAlert"
)

// InboundEventTypes lists the failure events the collector consumes.
var InboundEventTypes = []EventType{
	EventOrderRejected,
	EventOrderCancelled,
	EventCollectionRejected,
	EventDistributionFailed,
	EventValidationError,
}

// Envelope is the wrapper shared by every topic.
type Envelope struct {
	EventID       string          `json:"eventId"`
	EventType     EventType       `json:"eventType"`
	EventVersion  string          `json:"eventVersion"`
	OccurredOn    time.Time       `json:"occurredOn"`
	Source        string          `json:"source"`
	CorrelationID string          `json:"correlationId"`
	CausationID   string          `json:"causationId,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// InboundEvent is one decoded failure payload. The concrete type is the tag.
type InboundEvent interface {
	EventType() EventType
	TxID() string
	Hints() ClassificationHints
}

// ClassificationHints carries optional producer-supplied classification.
type ClassificationHints struct {
	Category string `json:"category,omitempty"`
	Severity string `json:"severity,omitempty"`
}

func (h ClassificationHints) Hints() ClassificationHints { return h }

type OrderRejected struct {
	TransactionID  string `json:"transactionId"`
	ExternalID     string `json:"externalId"`
	Operation      string `json:"operation"`
	RejectedReason string `json:"rejectedReason"`
	CustomerID     string `json:"customerId,omitempty"`
	LocationCode   string `json:"locationCode,omitempty"`
	ClassificationHints
}

func (e *OrderRejected) EventType() EventType { return EventOrderRejected }
func (e *OrderRejected) TxID() string         { return e.TransactionID }

type OrderCancelled struct {
	TransactionID string     `json:"transactionId"`
	ExternalID    string     `json:"externalId"`
	CancelReason  string     `json:"cancelReason"`
	CancelledBy   string     `json:"cancelledBy,omitempty"`
	CustomerID    string     `json:"customerId,omitempty"`
	CancelledAt   *time.Time `json:"cancelledAt,omitempty"`
	ClassificationHints
}

func (e *OrderCancelled) EventType() EventType { return EventOrderCancelled }
func (e *OrderCancelled) TxID() string         { return e.TransactionID }

type CollectionRejected struct {
	TransactionID  string `json:"transactionId"`
	CollectionID   string `json:"collectionId"`
	Operation      string `json:"operation"`
	RejectedReason string `json:"rejectedReason"`
	DonorID        string `json:"donorId,omitempty"`
	LocationCode   string `json:"locationCode,omitempty"`
	ClassificationHints
}

func (e *CollectionRejected) EventType() EventType { return EventCollectionRejected }
func (e *CollectionRejected) TxID() string         { return e.TransactionID }

type DistributionFailed struct {
	TransactionID       string `json:"transactionId"`
	DistributionID      string `json:"distributionId"`
	Operation           string `json:"operation"`
	FailureReason       string `json:"failureReason"`
	CustomerID          string `json:"customerId,omitempty"`
	DestinationLocation string `json:"destinationLocation,omitempty"`
	ClassificationHints
}

func (e *DistributionFailed) EventType() EventType { return EventDistributionFailed }
func (e *DistributionFailed) TxID() string         { return e.TransactionID }

type ValidationError struct {
	TransactionID    string       `json:"transactionId"`
	InterfaceType    string       `json:"interfaceType"`
	ValidationErrors []FieldError `json:"validationErrors"`
	ClassificationHints
}

// FieldError is a single rejected field reported by a producer.
type FieldError struct {
	Field         string `json:"field"`
	RejectedValue any    `json:"rejectedValue,omitempty"`
	ErrorMessage  string `json:"errorMessage"`
}

func (e *ValidationError) EventType() EventType { return EventValidationError }
func (e *ValidationError) TxID() string         { return e.TransactionID }
