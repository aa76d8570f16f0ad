// Package alerting raises critical exception alerts after status transitions.
package alerting

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/collector/internal/core/domain"
	"github.com/vietddude/collector/internal/core/lifecycle"
	"github.com/vietddude/collector/internal/infra/storage"
	"github.com/vietddude/collector/internal/processing/emitter"
	"github.com/vietddude/collector/internal/processing/metrics"
)

const publishTimeout = 10 * time.Second

// Engine evaluates the rule table and publishes alerts without blocking
// the transition that triggered them.
type Engine struct {
	rules   Rules
	ledger  storage.AlertLedger
	emitter emitter.Emitter
	log     *slog.Logger
	wg      sync.WaitGroup
}

// NewEngine creates an alerting engine.
func NewEngine(rules Rules, ledger storage.AlertLedger, em emitter.Emitter) *Engine {
	return &Engine{
		rules:   rules,
		ledger:  ledger,
		emitter: em,
		log:     slog.Default().With("component", "alerting"),
	}
}

// OnTransition is installed as the lifecycle transition callback.
func (e *Engine) OnTransition(ex *domain.InterfaceException, t lifecycle.Transition) {
	alerts := e.rules.Evaluate(ex, t)
	if len(alerts) == 0 {
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		for _, a := range alerts {
			e.raise(ctx, a)
		}
	}()
}

// Wait blocks until in-flight alerts are published.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) raise(ctx context.Context, a *domain.Alert) {
	fresh, err := e.ledger.MarkRaised(ctx, a.TransactionID, a.Reason)
	if err != nil {
		e.log.Error("Failed to check alert ledger", "transaction_id", a.TransactionID, "reason", a.Reason, "error", err)
		return
	}
	if !fresh {
		e.log.Debug("Alert already raised", "transaction_id", a.TransactionID, "reason", a.Reason)
		return
	}

	a.RaisedAt = time.Now().UTC()
	if err := e.emitter.EmitAlert(ctx, a); err != nil {
		e.log.Error("Failed to publish alert", "transaction_id", a.TransactionID, "reason", a.Reason, "error", err)
		return
	}
	metrics.AlertsRaised.WithLabelValues(string(a.Reason), string(a.Level)).Inc()
	e.log.Warn("Critical exception alert raised",
		"transaction_id", a.TransactionID,
		"reason", a.Reason,
		"level", a.Level,
		"team", a.EscalationTeam,
	)
}
