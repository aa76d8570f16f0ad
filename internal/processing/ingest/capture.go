package ingest

import (
	"context"
	"log/slog"

	"github.com/vietddude/collector/internal/core/domain"
	"github.com/vietddude/collector/internal/core/lifecycle"
	"github.com/vietddude/collector/internal/infra/storage"
	"github.com/vietddude/collector/internal/processing/emitter"
	"github.com/vietddude/collector/internal/processing/metrics"
)

// Capturer is the capture use case: store once, announce once.
type Capturer struct {
	manager lifecycle.Manager
	emitter emitter.Emitter
	log     *slog.Logger
}

// NewCapturer creates the capture use case.
func NewCapturer(manager lifecycle.Manager, em emitter.Emitter) *Capturer {
	return &Capturer{
		manager: manager,
		emitter: em,
		log:     slog.Default().With("component", "capture"),
	}
}

// Capture stores ex and publishes ExceptionCaptured for first sightings only.
func (c *Capturer) Capture(ctx context.Context, ex *domain.InterfaceException) (storage.CaptureResult, error) {
	result, err := c.manager.Capture(ctx, ex)
	if err != nil {
		return "", err
	}

	switch result {
	case storage.CaptureCreated:
		metrics.ExceptionsCaptured.WithLabelValues(string(ex.InterfaceType), string(ex.Severity)).Inc()
		c.log.Info("Exception captured",
			"transaction_id", ex.TransactionID,
			"interface_type", ex.InterfaceType,
			"category", ex.Category,
			"severity", ex.Severity,
			"retryable", ex.Retryable,
		)
		if err := c.emitter.EmitCaptured(ctx, ex); err != nil {
			c.log.Error("Failed to publish ExceptionCaptured", "transaction_id", ex.TransactionID, "error", err)
		}
	case storage.CaptureUpdated:
		c.log.Info("Known transaction re-reported", "transaction_id", ex.TransactionID, "event_id", ex.EventID)
	case storage.CaptureDuplicate:
		c.log.Debug("Duplicate event dropped", "transaction_id", ex.TransactionID, "event_id", ex.EventID)
	}
	return result, nil
}
