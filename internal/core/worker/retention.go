package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vietddude/collector/internal/core/domain"
	"github.com/vietddude/collector/internal/core/lifecycle"
	"github.com/vietddude/collector/internal/infra/storage"
	"github.com/vietddude/collector/internal/processing/metrics"
)

const (
	// SystemActor is recorded on transitions made by the retention worker.
	SystemActor = "retention"

	batchSize = 100
)

// StatusLister finds records that have sat in one status since before a threshold.
type StatusLister interface {
	ListByStatus(ctx context.Context, status domain.ExceptionStatus, before time.Time, limit int) ([]*domain.InterfaceException, error)
}

// Retention closes RESOLVED records once they are older than the retention period.
type Retention struct {
	ttl     time.Duration
	repo    StatusLister
	manager lifecycle.Manager
	log     *slog.Logger
	now     func() time.Time
}

// NewRetention creates a new retention worker. A non-positive ttl disables it.
func NewRetention(ttl time.Duration, repo StatusLister, manager lifecycle.Manager) *Retention {
	return &Retention{
		ttl:     ttl,
		repo:    repo,
		manager: manager,
		log:     slog.Default().With("component", "retention"),
		now:     time.Now,
	}
}

// Start runs the retention loop.
func (r *Retention) Start(ctx context.Context) {
	if r.ttl <= 0 {
		return
	}

	// Check every 10% of the retention period, between one minute and one hour.
	interval := min(r.ttl/10, time.Hour)
	interval = max(interval, time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep closes expired records and returns how many it closed.
func (r *Retention) Sweep(ctx context.Context) int {
	threshold := r.now().Add(-r.ttl)
	closed := 0

	for ctx.Err() == nil {
		batch, err := r.repo.ListByStatus(ctx, domain.StatusResolved, threshold, batchSize)
		if err != nil {
			r.log.Error("Failed to list resolved records", "error", err)
			return closed
		}

		progressed := 0
		for _, ex := range batch {
			_, err := r.manager.Transition(ctx, ex.TransactionID, domain.StatusClosed, lifecycle.Options{
				Actor:    SystemActor,
				Reason:   "retention period elapsed",
				Expected: domain.StatusResolved,
			})
			if err != nil {
				if !errors.Is(err, storage.ErrStatusConflict) {
					r.log.Warn("Failed to close record", "transaction_id", ex.TransactionID, "error", err)
				}
				continue
			}
			progressed++
			metrics.RecordsClosed.Inc()
		}
		closed += progressed

		if len(batch) < batchSize || progressed == 0 {
			break
		}
	}

	if closed > 0 {
		r.log.Info("Closed resolved records", "count", closed, "older_than", threshold)
	}
	return closed
}
