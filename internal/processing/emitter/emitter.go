package emitter

import (
	"context"

	"github.com/vietddude/collector/internal/core/domain"
)

// Emitter defines the interface for publishing outcome events
type Emitter interface {
	// EmitCaptured announces a newly stored record
	EmitCaptured(ctx context.Context, ex *domain.InterfaceException) error

	// EmitRetryCompleted announces a settled retry attempt
	EmitRetryCompleted(ctx context.Context, ex *domain.InterfaceException, attempt domain.RetryAttempt) error

	// EmitResolved announces an operator resolution
	EmitResolved(ctx context.Context, ex *domain.InterfaceException) error

	// EmitAlert sends a critical exception alert
	EmitAlert(ctx context.Context, alert *domain.Alert) error

	// Close closes the emitter connection
	Close() error
}

// Publisher writes one keyed message to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
	Close() error
}
