package emitter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/collector/internal/core/domain"
	"github.com/vietddude/collector/internal/processing/envelope"
	"github.com/vietddude/collector/internal/processing/metrics"
)

// EventEmitter wraps outcome payloads in envelopes and hands them to a
// Publisher. The transaction id is the message key.
type EventEmitter struct {
	codec *envelope.Codec
	pub   Publisher
	log   *slog.Logger
}

// NewEventEmitter creates an emitter over pub.
func NewEventEmitter(codec *envelope.Codec, pub Publisher) *EventEmitter {
	return &EventEmitter{
		codec: codec,
		pub:   pub,
		log:   slog.Default().With("component", "emitter"),
	}
}

func (e *EventEmitter) EmitCaptured(ctx context.Context, ex *domain.InterfaceException) error {
	return e.emit(ctx, domain.EventExceptionCaptured, ex.TransactionID, ex.CorrelationID, ex.EventID, capturedPayload(ex))
}

func (e *EventEmitter) EmitRetryCompleted(ctx context.Context, ex *domain.InterfaceException, attempt domain.RetryAttempt) error {
	return e.emit(ctx, domain.EventExceptionRetryCompleted, ex.TransactionID, ex.CorrelationID, ex.EventID, retryCompletedPayload(ex, attempt))
}

func (e *EventEmitter) EmitResolved(ctx context.Context, ex *domain.InterfaceException) error {
	return e.emit(ctx, domain.EventExceptionResolved, ex.TransactionID, ex.CorrelationID, ex.EventID, resolvedPayload(ex))
}

func (e *EventEmitter) EmitAlert(ctx context.Context, alert *domain.Alert) error {
	return e.emit(ctx, domain.EventCriticalExceptionAlert, alert.TransactionID, alert.CorrelationID, alert.CausationID, alertPayload(alert))
}

func (e *EventEmitter) Close() error {
	return e.pub.Close()
}

func (e *EventEmitter) emit(
	ctx context.Context,
	eventType domain.EventType,
	key, correlationID, causationID string,
	payload any,
) error {
	body, err := e.codec.Encode(eventType, payload, correlationID, causationID)
	if err != nil {
		metrics.OutboundPublishErrors.WithLabelValues(string(eventType)).Inc()
		return fmt.Errorf("failed to encode %s: %w", eventType, err)
	}
	if err := e.pub.Publish(ctx, string(eventType), key, body); err != nil {
		metrics.OutboundPublishErrors.WithLabelValues(string(eventType)).Inc()
		return fmt.Errorf("failed to publish %s: %w", eventType, err)
	}
	e.log.Debug("Event published", "event_type", eventType, "transaction_id", key)
	return nil
}

// LogPublisher logs events instead of sending them. It is used when no
// brokers are configured.
type LogPublisher struct {
	log *slog.Logger
}

// NewLogPublisher creates a publisher that only logs.
func NewLogPublisher() *LogPublisher {
	return &LogPublisher{log: slog.Default().With("component", "log-publisher")}
}

func (p *LogPublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	p.log.Info("Outbound event", "topic", topic, "key", key, "bytes", len(value))
	return nil
}

func (p *LogPublisher) Close() error { return nil }
