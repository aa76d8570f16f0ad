package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/vietddude/collector/internal/core/domain"
)

// DefaultDeadLetterSuffix is appended to a topic to name its dead-letter topic.
const DefaultDeadLetterSuffix = ".DLT"

// Publisher forwards raw bytes to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Parker keeps dead letters for later inspection.
type Parker interface {
	Park(ctx context.Context, dl *domain.DeadLetter) error
}

// DeadLetterSink forwards to the dead-letter topic and parks the message.
// Either destination may be nil.
type DeadLetterSink struct {
	publisher Publisher
	parker    Parker
	suffix    string
}

// NewDeadLetterSink creates a sink. An empty suffix uses DefaultDeadLetterSuffix.
func NewDeadLetterSink(publisher Publisher, parker Parker, suffix string) *DeadLetterSink {
	if suffix == "" {
		suffix = DefaultDeadLetterSuffix
	}
	return &DeadLetterSink{publisher: publisher, parker: parker, suffix: suffix}
}

func (s *DeadLetterSink) Handle(ctx context.Context, dl *domain.DeadLetter) error {
	var errs []error
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, dl.Topic+s.suffix, string(dl.Key), dl.Value); err != nil {
			errs = append(errs, fmt.Errorf("failed to publish dead letter: %w", err))
		}
	}
	if s.parker != nil {
		if err := s.parker.Park(ctx, dl); err != nil {
			errs = append(errs, fmt.Errorf("failed to park dead letter: %w", err))
		}
	}
	return errors.Join(errs...)
}
