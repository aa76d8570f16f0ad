// Package retry validates, schedules and executes replays of failed
// transactions against their originating interface.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vietddude/collector/internal/core/domain"
	"github.com/vietddude/collector/internal/core/lifecycle"
	"github.com/vietddude/collector/internal/infra/storage"
	"github.com/vietddude/collector/internal/processing/emitter"
	"github.com/vietddude/collector/internal/processing/metrics"
)

const (
	// SystemActor initiates automatic retries and escalations.
	SystemActor = "system"

	settleTimeout = 10 * time.Second
)

// Replayer performs the uniform replay call against the originating interface.
type Replayer interface {
	Replay(ctx context.Context, ex *domain.InterfaceException) error
}

// Config tunes the orchestrator.
type Config struct {
	// MaxAttempts returns the retry budget for an interface type.
	MaxAttempts func(domain.InterfaceType) int
	Timeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts == nil {
		c.MaxAttempts = func(domain.InterfaceType) int { return 5 }
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// Request asks for one retry.
type Request struct {
	TransactionID string
	Reason        string
	InitiatedBy   string
}

// RetryResponse reports whether a retry was accepted.
type RetryResponse struct {
	TransactionID string
	Success       bool
	Message       string
	AttemptNumber int
}

// CancelResponse reports a cancelled retry.
type CancelResponse struct {
	TransactionID string
	Success       bool
	Message       string
	AttemptNumber int
	CancelledAt   time.Time
}

// Orchestrator drives records through RETRY_IN_PROGRESS.
type Orchestrator struct {
	cfg      Config
	manager  lifecycle.Manager
	replayer Replayer
	emitter  emitter.Emitter
	locker   Locker
	pool     *Pool
	tracer   trace.Tracer
	log      *slog.Logger
}

// NewOrchestrator creates a retry orchestrator.
func NewOrchestrator(
	cfg Config,
	manager lifecycle.Manager,
	replayer Replayer,
	em emitter.Emitter,
	locker Locker,
	pool *Pool,
) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg.withDefaults(),
		manager:  manager,
		replayer: replayer,
		emitter:  em,
		locker:   locker,
		pool:     pool,
		tracer:   otel.Tracer("github.com/vietddude/collector/retry"),
		log:      slog.Default().With("component", "retry"),
	}
}

// MaxAttempts returns the retry budget for t.
func (o *Orchestrator) MaxAttempts(t domain.InterfaceType) int {
	return o.cfg.MaxAttempts(t)
}

func notAllowed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrRetryNotAllowed, fmt.Sprintf(format, args...))
}

// Retry checks eligibility, records a PENDING attempt and queues the replay.
// The outcome is reported through the record status and ExceptionRetryCompleted.
func (o *Orchestrator) Retry(ctx context.Context, req Request) (*RetryResponse, error) {
	if err := domain.ValidateTransactionID(req.TransactionID); err != nil {
		return nil, err
	}
	if err := domain.ValidateReason(req.Reason); err != nil {
		return nil, err
	}
	if req.InitiatedBy == "" {
		req.InitiatedBy = SystemActor
	}

	ex, err := o.manager.Get(ctx, req.TransactionID)
	if err != nil {
		return nil, err
	}
	if err := o.checkEligible(ex); err != nil {
		return nil, err
	}

	// The attempt id doubles as the lock owner token.
	attempt := domain.RetryAttempt{
		ID:          uuid.NewString(),
		Number:      ex.NextAttemptNumber(),
		Status:      domain.AttemptPending,
		InitiatedBy: req.InitiatedBy,
		Reason:      req.Reason,
		StartedAt:   time.Now().UTC(),
	}
	locked, err := o.locker.TryLock(ctx, ex.TransactionID, attempt.ID, o.cfg.Timeout+settleTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire retry lock: %w", err)
	}
	if !locked {
		return nil, notAllowed("A retry is already pending")
	}

	started, err := o.manager.BeginRetry(ctx, ex, attempt)
	if err != nil {
		o.unlock(ex.TransactionID, attempt.ID)
		if errors.Is(err, storage.ErrStatusConflict) {
			return nil, notAllowed("A retry is already pending")
		}
		return nil, err
	}

	job := func(ctx context.Context) { o.execute(ctx, started, attempt) }
	if !o.pool.Submit(job) {
		o.log.Warn("Retry queue full", "transaction_id", ex.TransactionID, "attempt", attempt.Number)
		o.settle(started, attempt, domain.AttemptCancelled, "Retry queue full")
		o.unlock(ex.TransactionID, attempt.ID)
		return &RetryResponse{
			TransactionID: ex.TransactionID,
			Success:       false,
			Message:       "Retry queue is full, try again later",
			AttemptNumber: attempt.Number,
		}, nil
	}

	o.log.Info("Retry initiated",
		"transaction_id", ex.TransactionID,
		"attempt", attempt.Number,
		"initiated_by", attempt.InitiatedBy,
	)
	return &RetryResponse{
		TransactionID: ex.TransactionID,
		Success:       true,
		Message:       "Retry initiated",
		AttemptNumber: attempt.Number,
	}, nil
}

// checkEligible applies the retry preconditions in order.
func (o *Orchestrator) checkEligible(ex *domain.InterfaceException) error {
	status := ex.Status.Canonical()
	if !ex.Retryable {
		return notAllowed("Exception %s is not retryable", ex.TransactionID)
	}
	if status.IsTerminal() {
		return notAllowed("Exception %s is %s", ex.TransactionID, status)
	}
	if _, pending := ex.PendingAttempt(); pending || status == domain.StatusRetryInProgress {
		return notAllowed("A retry is already pending")
	}
	if max := o.cfg.MaxAttempts(ex.InterfaceType); ex.CountedAttempts() >= max {
		return notAllowed("Maximum retry count (%d) exceeded", max)
	}
	if !lifecycle.CanTransition(status, domain.StatusRetryInProgress) {
		return notAllowed("Exception %s cannot be retried from %s", ex.TransactionID, status)
	}
	return nil
}

// CancelRetry settles the in-flight attempt as CANCELLED. The external call,
// if already running, completes on its own and its result is discarded.
func (o *Orchestrator) CancelRetry(ctx context.Context, transactionID, reason string) (*CancelResponse, error) {
	if err := domain.ValidateTransactionID(transactionID); err != nil {
		return nil, err
	}
	if err := domain.ValidateReason(reason); err != nil {
		return nil, err
	}

	ex, err := o.manager.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	attempt, pending := ex.PendingAttempt()
	if ex.Status.Canonical() != domain.StatusRetryInProgress || !pending {
		return nil, notAllowed("No retry in progress for %s", transactionID)
	}

	now := time.Now().UTC()
	msg := "Retry cancelled by user"
	if reason != "" {
		msg = msg + ": " + reason
	}
	outcome := storage.AttemptOutcome{
		AttemptID:   attempt.ID,
		Status:      domain.AttemptCancelled,
		Error:       msg,
		CompletedAt: now,
	}
	if _, err := o.manager.SettleAttempt(ctx, transactionID, domain.StatusRetriedFailed, outcome, msg); err != nil {
		if errors.Is(err, storage.ErrAttemptSettled) || errors.Is(err, storage.ErrStatusConflict) {
			return nil, notAllowed("Retry for %s already completed", transactionID)
		}
		return nil, err
	}
	metrics.RetryAttempts.WithLabelValues(string(ex.InterfaceType), string(domain.AttemptCancelled)).Inc()
	o.unlock(transactionID, attempt.ID)

	o.log.Info("Retry cancelled", "transaction_id", transactionID, "attempt", attempt.Number)
	return &CancelResponse{
		TransactionID: transactionID,
		Success:       true,
		Message:       "Retry cancelled successfully",
		AttemptNumber: attempt.Number,
		CancelledAt:   now,
	}, nil
}

// execute runs on the pool. Spacing between attempts is the auto-retrier's
// job, so the replay starts as soon as a worker is free.
func (o *Orchestrator) execute(ctx context.Context, ex *domain.InterfaceException, attempt domain.RetryAttempt) {
	defer o.unlock(ex.TransactionID, attempt.ID)

	ctx, span := o.tracer.Start(ctx, "retry.execute", trace.WithAttributes(
		attribute.String("transaction_id", ex.TransactionID),
		attribute.String("interface_type", string(ex.InterfaceType)),
		attribute.Int("attempt", attempt.Number),
	))
	defer span.End()

	if ctx.Err() != nil {
		o.settle(ex, attempt, domain.AttemptCancelled, "Retry interrupted by shutdown")
		return
	}

	current, err := o.manager.Get(ctx, ex.TransactionID)
	if err == nil {
		if p, ok := current.PendingAttempt(); !ok || p.ID != attempt.ID {
			o.log.Info("Attempt no longer pending, skipping replay", "transaction_id", ex.TransactionID, "attempt", attempt.Number)
			return
		}
		ex = current
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	start := time.Now()
	err = o.replayer.Replay(callCtx, ex)
	cancel()
	metrics.RetryLatency.WithLabelValues(string(ex.InterfaceType)).Observe(time.Since(start).Seconds())

	status := domain.AttemptSuccess
	msg := ""
	if err != nil {
		status = domain.AttemptFailed
		msg = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		o.log.Warn("Replay failed", "transaction_id", ex.TransactionID, "attempt", attempt.Number, "error", err)
	}
	o.settle(ex, attempt, status, msg)
}

// settle records the attempt outcome, publishes it and escalates when
// the budget is spent.
func (o *Orchestrator) settle(ex *domain.InterfaceException, attempt domain.RetryAttempt, status domain.AttemptStatus, msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()

	to := domain.StatusRetriedFailed
	if status == domain.AttemptSuccess {
		to = domain.StatusRetriedSuccess
	}
	outcome := storage.AttemptOutcome{
		AttemptID:   attempt.ID,
		Status:      status,
		Error:       msg,
		CompletedAt: time.Now().UTC(),
	}
	settled, err := o.manager.SettleAttempt(ctx, ex.TransactionID, to, outcome, fmt.Sprintf("attempt %d %s", attempt.Number, status))
	if errors.Is(err, storage.ErrAttemptSettled) {
		o.log.Info("Retry result discarded, attempt was cancelled", "transaction_id", ex.TransactionID, "attempt", attempt.Number)
		return
	}
	if err != nil {
		o.log.Error("Failed to settle retry attempt", "transaction_id", ex.TransactionID, "attempt", attempt.Number, "error", err)
		return
	}
	metrics.RetryAttempts.WithLabelValues(string(ex.InterfaceType), string(status)).Inc()

	for _, a := range settled.RetryAttempts {
		if a.ID == attempt.ID {
			attempt = a
			break
		}
	}
	if status != domain.AttemptCancelled {
		if err := o.emitter.EmitRetryCompleted(ctx, settled, attempt); err != nil {
			o.log.Error("Failed to publish retry result", "transaction_id", ex.TransactionID, "error", err)
		}
	}

	if to == domain.StatusRetriedFailed && settled.FailedAttempts() >= o.cfg.MaxAttempts(settled.InterfaceType) {
		_, err := o.manager.Transition(ctx, ex.TransactionID, domain.StatusEscalated, lifecycle.Options{
			Actor:    SystemActor,
			Reason:   "retry budget exhausted",
			Notes:    fmt.Sprintf("Escalated after %d failed retries", settled.FailedAttempts()),
			Expected: domain.StatusRetriedFailed,
		})
		if err != nil {
			o.log.Error("Failed to escalate exhausted record", "transaction_id", ex.TransactionID, "error", err)
			return
		}
		o.log.Warn("Retry budget exhausted, record escalated", "transaction_id", ex.TransactionID, "attempts", settled.FailedAttempts())
	}
}

func (o *Orchestrator) unlock(transactionID, owner string) {
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()
	if err := o.locker.Unlock(ctx, transactionID, owner); err != nil {
		o.log.Warn("Failed to release retry lock", "transaction_id", transactionID, "error", err)
	}
}
