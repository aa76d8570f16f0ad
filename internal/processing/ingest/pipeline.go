// Package ingest turns inbound failure events into exception records.
//
// Each inbound topic gets a Pipeline value composed from four stages:
//
//	decode  -> raw bytes to envelope and payload variant
//	mapper  -> payload to a classified InterfaceException
//	capture -> idempotent store write plus ExceptionCaptured
//	dead    -> parking of messages that could not be decoded or mapped
//
// A message that fails to decode or map is never redelivered. It is parked
// and replaced by a synthetic SYSTEM_ERROR record so the failure stays
// visible. Only store failures are returned to the consumer for redelivery.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vietddude/collector/internal/core/domain"
	"github.com/vietddude/collector/internal/infra/storage"
	"github.com/vietddude/collector/internal/processing/metrics"
)

// DecodeFunc decodes raw message bytes.
type DecodeFunc func(raw []byte) (*domain.Envelope, domain.InboundEvent, error)

// MapFunc builds a record from a decoded event.
type MapFunc func(env *domain.Envelope, ev domain.InboundEvent, raw []byte) (*domain.InterfaceException, error)

// CaptureFunc stores a record idempotently.
type CaptureFunc func(ctx context.Context, ex *domain.InterfaceException) (storage.CaptureResult, error)

// DeadLetterHandler parks a message that could not be processed.
type DeadLetterHandler interface {
	Handle(ctx context.Context, dl *domain.DeadLetter) error
}

// Stages are the injected steps of one topic pipeline.
type Stages struct {
	Decode     DecodeFunc
	Map        MapFunc
	Capture    CaptureFunc
	DeadLetter DeadLetterHandler
}

// Pipeline processes the messages of one inbound topic.
type Pipeline struct {
	topic  string
	iface  domain.InterfaceType
	stages Stages
	tracer trace.Tracer
	log    *slog.Logger
	now    func() time.Time
}

// NewPipeline creates a pipeline for topic. iface is the interface type
// stamped on synthetic records when the payload cannot tell.
func NewPipeline(topic string, iface domain.InterfaceType, stages Stages) *Pipeline {
	return &Pipeline{
		topic:  topic,
		iface:  iface,
		stages: stages,
		tracer: otel.Tracer("github.com/vietddude/collector/ingest"),
		log:    slog.Default().With("component", "ingest", "topic", topic),
		now:    time.Now,
	}
}

// Topic returns the topic the pipeline consumes.
func (p *Pipeline) Topic() string {
	return p.topic
}

// Handle processes one message. A returned error asks the consumer to
// redeliver; everything else is acknowledged.
func (p *Pipeline) Handle(ctx context.Context, msg kafka.Message) error {
	ctx, span := p.tracer.Start(ctx, "ingest.handle", trace.WithAttributes(
		attribute.String("topic", p.topic),
		attribute.Int("partition", msg.Partition),
		attribute.Int64("offset", msg.Offset),
	))
	defer span.End()

	env, ev, err := p.stages.Decode(msg.Value)
	if err != nil {
		return p.reject(ctx, span, msg, "decode", err)
	}

	ex, err := p.stages.Map(env, ev, msg.Value)
	if err != nil {
		return p.reject(ctx, span, msg, "map", err)
	}
	span.SetAttributes(attribute.String("transaction_id", ex.TransactionID))

	result, err := p.stages.Capture(ctx, ex)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.EventsConsumed.WithLabelValues(p.topic, "error").Inc()
		return fmt.Errorf("failed to capture %s: %w", ex.TransactionID, err)
	}

	metrics.EventsConsumed.WithLabelValues(p.topic, string(result)).Inc()
	p.log.Debug("Event processed",
		"transaction_id", ex.TransactionID,
		"event_id", ex.EventID,
		"result", result,
	)
	return nil
}

// reject parks msg and stores a synthetic record describing the failure.
func (p *Pipeline) reject(ctx context.Context, span trace.Span, msg kafka.Message, stage string, cause error) error {
	span.RecordError(cause)
	metrics.DeadLetters.WithLabelValues(p.topic, stage).Inc()
	p.log.Error("Failed to process event",
		"stage", stage,
		"partition", msg.Partition,
		"offset", msg.Offset,
		"error", cause,
		"envelope", string(msg.Value),
	)

	now := p.now().UTC()
	id := deadLetterID(p.topic, msg.Partition, msg.Offset)
	if p.stages.DeadLetter != nil {
		dl := &domain.DeadLetter{
			ID:         id,
			Topic:      p.topic,
			Partition:  msg.Partition,
			Offset:     msg.Offset,
			Key:        msg.Key,
			Value:      msg.Value,
			Stage:      stage,
			Error:      cause.Error(),
			ReceivedAt: now,
		}
		if err := p.stages.DeadLetter.Handle(ctx, dl); err != nil {
			p.log.Warn("Failed to park dead letter", "id", id, "error", err)
		}
	}

	ex := &domain.InterfaceException{
		TransactionID:          id,
		EventID:                id,
		InterfaceType:          p.iface,
		Category:               domain.CategorySystemError,
		Severity:               domain.SeverityCritical,
		Retryable:              false,
		ClassificationFallback: true,
		Reason:                 fmt.Sprintf("Failed to %s %s event: %v", stage, p.topic, cause),
		Operation:              "INGEST",
		OriginalPayload:        msg.Value,
	}
	if _, err := p.stages.Capture(ctx, ex); err != nil {
		metrics.EventsConsumed.WithLabelValues(p.topic, "error").Inc()
		return fmt.Errorf("failed to capture ingestion failure %s: %w", id, err)
	}
	metrics.EventsConsumed.WithLabelValues(p.topic, "dead_letter").Inc()
	return nil
}

func deadLetterID(topic string, partition int, offset int64) string {
	return fmt.Sprintf("DLT-%s-%d-%d", topic, partition, offset)
}
