package retry

import (
	"math"
	"time"

	"github.com/vietddude/collector/internal/core/domain"
)

// Backoff spaces consecutive attempts on one record.
type Backoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultBackoff returns 1s, 2s, 4s, ... capped at 60s.
func DefaultBackoff() *Backoff {
	return &Backoff{
		InitialDelay: 1 * time.Second,
		MaxDelay:     60 * time.Second,
	}
}

// GetDelay calculates delay: InitialDelay * 2^attempt
func (b *Backoff) GetDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(b.InitialDelay) * math.Pow(2, float64(attempt))
	if delay > float64(b.MaxDelay) {
		return b.MaxDelay
	}
	return time.Duration(delay)
}

// DelayBefore returns the wait before the next attempt on ex. The first
// attempt runs immediately.
func (b *Backoff) DelayBefore(ex *domain.InterfaceException) time.Duration {
	failed := ex.FailedAttempts()
	if failed == 0 {
		return 0
	}
	return b.GetDelay(failed - 1)
}

// ReadyAt returns when ex may be retried again.
func (b *Backoff) ReadyAt(ex *domain.InterfaceException) time.Time {
	if ex.RetryTimestamp == nil {
		return ex.UpdatedAt
	}
	return ex.RetryTimestamp.Add(b.DelayBefore(ex))
}
