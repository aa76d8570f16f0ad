package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vietddude/collector/internal/core/domain"
	"github.com/vietddude/collector/internal/infra/storage"
)

// StatusLister lists records waiting in a status.
type StatusLister interface {
	ListByStatus(ctx context.Context, status domain.ExceptionStatus, before time.Time, limit int) ([]*domain.InterfaceException, error)
}

// AutoRetrier periodically retries RETRIED_FAILED records whose backoff
// window has elapsed.
type AutoRetrier struct {
	repo      StatusLister
	orch      *Orchestrator
	backoff   *Backoff
	interval  time.Duration
	batchSize int
	now       func() time.Time
	log       *slog.Logger
}

// NewAutoRetrier creates the automatic retry loop.
func NewAutoRetrier(repo StatusLister, orch *Orchestrator, backoff *Backoff, interval time.Duration) *AutoRetrier {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if backoff == nil {
		backoff = DefaultBackoff()
	}
	return &AutoRetrier{
		repo:      repo,
		orch:      orch,
		backoff:   backoff,
		interval:  interval,
		batchSize: 50,
		now:       time.Now,
		log:       slog.Default().With("component", "auto-retry"),
	}
}

// Start runs the retry loop until ctx is cancelled.
func (a *AutoRetrier) Start(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.Sweep(ctx); n > 0 {
				a.log.Info("Automatic retries initiated", "count", n)
			}
		}
	}
}

// Sweep initiates retries for every due record and returns how many were accepted.
func (a *AutoRetrier) Sweep(ctx context.Context) int {
	now := a.now()
	candidates, err := a.repo.ListByStatus(ctx, domain.StatusRetriedFailed, now, a.batchSize)
	if err != nil {
		a.log.Error("Failed to list retry candidates", "error", err)
		return 0
	}

	started := 0
	for _, ex := range candidates {
		if !a.due(ex, now) {
			continue
		}
		resp, err := a.orch.Retry(ctx, Request{
			TransactionID: ex.TransactionID,
			Reason:        "Automatic retry",
			InitiatedBy:   SystemActor,
		})
		switch {
		case errors.Is(err, domain.ErrRetryNotAllowed), errors.Is(err, storage.ErrStatusConflict):
			a.log.Debug("Automatic retry skipped", "transaction_id", ex.TransactionID, "reason", err)
		case err != nil:
			a.log.Warn("Automatic retry failed", "transaction_id", ex.TransactionID, "error", err)
		case resp.Success:
			started++
		}
	}
	return started
}

func (a *AutoRetrier) due(ex *domain.InterfaceException, now time.Time) bool {
	if !ex.Retryable {
		return false
	}
	if ex.CountedAttempts() >= a.orch.MaxAttempts(ex.InterfaceType) {
		return false
	}
	return !now.Before(a.backoff.ReadyAt(ex))
}
