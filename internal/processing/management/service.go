// Package management serves record queries and operator actions.
package management

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/vietddude/collector/internal/core/domain"
	"github.com/vietddude/collector/internal/core/lifecycle"
	"github.com/vietddude/collector/internal/infra/storage"
	"github.com/vietddude/collector/internal/processing/emitter"
	"github.com/vietddude/collector/internal/processing/pagination"
)

// Reader is the query side of the exception store.
type Reader interface {
	List(ctx context.Context, f storage.Filter, offset, limit int) ([]*domain.InterfaceException, int, error)
	ListAfter(ctx context.Context, f storage.Filter, pos *storage.Position, limit int) ([]*domain.InterfaceException, error)
	Count(ctx context.Context, f storage.Filter) (int, error)
	Summarize(ctx context.Context, since time.Time) (*storage.Summary, error)
}

// Page is one offset page of records.
type Page struct {
	Items      []*domain.InterfaceException
	Page       int
	Size       int
	Total      int
	TotalPages int
}

// ActionRequest carries an operator action on one record.
type ActionRequest struct {
	TransactionID string
	Actor         string
	Notes         string
	Reason        string
}

// ResolveRequest carries a resolution.
type ResolveRequest struct {
	ActionRequest
	Method string
}

// BudgetFunc returns the retry budget for an interface type.
type BudgetFunc func(domain.InterfaceType) int

// Service answers queries and applies operator actions through the lifecycle manager.
type Service struct {
	manager lifecycle.Manager
	reader  Reader
	emitter emitter.Emitter
	budget  BudgetFunc
	log     *slog.Logger
	now     func() time.Time
}

// NewService creates a management service. budget decides when a record has
// used up its retries and may be escalated.
func NewService(manager lifecycle.Manager, reader Reader, em emitter.Emitter, budget BudgetFunc) *Service {
	return &Service{
		manager: manager,
		reader:  reader,
		emitter: em,
		budget:  budget,
		log:     slog.Default().With("component", "management"),
		now:     time.Now,
	}
}

// Get returns the full record, including its original payload and attempts.
func (s *Service) Get(ctx context.Context, transactionID string) (*domain.InterfaceException, error) {
	return s.manager.Get(ctx, transactionID)
}

// List returns one page (zero-based) in newest-first order.
func (s *Service) List(ctx context.Context, f storage.Filter, page, size int) (*Page, error) {
	if page < 0 {
		return nil, fmt.Errorf("%w: page must not be negative", domain.ErrInvalidRequest)
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return nil, fmt.Errorf("%w: fromDate is after toDate", domain.ErrInvalidRequest)
	}
	size = pagination.ClampSize(size)
	if page > math.MaxInt32/size {
		return nil, fmt.Errorf("%w: page %d is out of range", domain.ErrInvalidRequest, page)
	}

	items, total, err := s.reader.List(ctx, f, page*size, size)
	if err != nil {
		return nil, fmt.Errorf("failed to list exceptions: %w", err)
	}
	return &Page{
		Items:      items,
		Page:       page,
		Size:       size,
		Total:      total,
		TotalPages: (total + size - 1) / size,
	}, nil
}

// Search matches query against reason, transaction id and external id.
func (s *Service) Search(ctx context.Context, query string, page, size int) (*Page, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", domain.ErrInvalidRequest)
	}
	return s.List(ctx, storage.Filter{Query: query}, page, size)
}

// Connection returns a cursor page.
func (s *Service) Connection(ctx context.Context, f storage.Filter, first int, after string) (*pagination.Connection, error) {
	return pagination.Fetch(ctx, s.reader, f, first, after)
}

// Summary aggregates records captured within timeRange.
func (s *Service) Summary(ctx context.Context, timeRange string) (*storage.Summary, error) {
	window := ParseTimeRange(timeRange)
	sum, err := s.reader.Summarize(ctx, s.now().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("failed to summarize exceptions: %w", err)
	}
	return sum, nil
}

// Acknowledge records that an operator has seen the record.
func (s *Service) Acknowledge(ctx context.Context, req ActionRequest) (*domain.InterfaceException, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	ex, err := s.manager.Transition(ctx, req.TransactionID, domain.StatusAcknowledged, lifecycle.Options{
		Actor:  req.Actor,
		Notes:  req.Notes,
		Reason: "acknowledged",
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("Exception acknowledged", "transaction_id", ex.TransactionID, "actor", req.Actor)
	return ex, nil
}

// Resolve closes out the record and publishes ExceptionResolved.
func (s *Service) Resolve(ctx context.Context, req ResolveRequest) (*domain.InterfaceException, error) {
	if err := validate(req.ActionRequest); err != nil {
		return nil, err
	}
	method, ok := domain.ParseResolutionMethod(req.Method)
	if !ok {
		return nil, fmt.Errorf("%w: unknown resolution method %q", domain.ErrInvalidRequest, req.Method)
	}

	current, err := s.manager.Get(ctx, req.TransactionID)
	if err != nil {
		return nil, err
	}
	from := current.Status.Canonical()
	if from == domain.StatusRetriedSuccess && strings.TrimSpace(req.Method) == "" {
		method = domain.ResolutionRetrySuccess
	}
	if err := checkResolution(from, method); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", lifecycle.ErrInvalidTransition, req.TransactionID, err)
	}

	ex, err := s.manager.Transition(ctx, req.TransactionID, domain.StatusResolved, lifecycle.Options{
		Actor:      req.Actor,
		Notes:      req.Notes,
		Reason:     "resolved",
		Resolution: method,
		Expected:   from,
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("Exception resolved",
		"transaction_id", ex.TransactionID,
		"actor", req.Actor,
		"method", method,
	)
	if err := s.emitter.EmitResolved(ctx, ex); err != nil {
		s.log.Error("Failed to publish ExceptionResolved", "transaction_id", ex.TransactionID, "error", err)
	}
	return ex, nil
}

// Escalate hands the record to a higher support tier.
func (s *Service) Escalate(ctx context.Context, req ActionRequest) (*domain.InterfaceException, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	if err := domain.ValidateReason(req.Reason); err != nil {
		return nil, err
	}
	reason := req.Reason
	if reason == "" {
		reason = "escalated by operator"
	}

	current, err := s.manager.Get(ctx, req.TransactionID)
	if err != nil {
		return nil, err
	}
	if !s.escalatable(current) {
		return nil, fmt.Errorf(
			"%w: %s is %s severity with %d failed attempts and retry budget left",
			lifecycle.ErrInvalidTransition,
			req.TransactionID,
			current.Severity,
			current.FailedAttempts(),
		)
	}
	ex, err := s.manager.Transition(ctx, req.TransactionID, domain.StatusEscalated, lifecycle.Options{
		Actor:    req.Actor,
		Notes:    req.Notes,
		Reason:   reason,
		Expected: current.Status.Canonical(),
	})
	if err != nil {
		return nil, err
	}
	s.log.Warn("Exception escalated", "transaction_id", ex.TransactionID, "actor", req.Actor, "reason", reason)
	return ex, nil
}

// escalatable reports whether the record is critical or has exhausted its retries.
func (s *Service) escalatable(ex *domain.InterfaceException) bool {
	if ex.Severity == domain.SeverityCritical {
		return true
	}
	if s.budget == nil {
		return false
	}
	return ex.FailedAttempts() >= s.budget(ex.InterfaceType)
}

// checkResolution enforces which methods may close a record from its current status.
func checkResolution(from domain.ExceptionStatus, method domain.ResolutionMethod) error {
	switch {
	case from == domain.StatusRetriedSuccess && method != domain.ResolutionRetrySuccess:
		return fmt.Errorf("a successful retry must be resolved with %s, not %s", domain.ResolutionRetrySuccess, method)
	case method == domain.ResolutionRetrySuccess && from != domain.StatusRetriedSuccess:
		return fmt.Errorf("%s requires a successful retry, record is %s", method, from)
	case method == domain.ResolutionCustomerResolved &&
		from != domain.StatusAcknowledged && from != domain.StatusEscalated:
		return fmt.Errorf("%s requires an acknowledged or escalated record, record is %s", method, from)
	}
	return nil
}

func validate(req ActionRequest) error {
	if err := domain.ValidateTransactionID(req.TransactionID); err != nil {
		return err
	}
	if strings.TrimSpace(req.Actor) == "" {
		return fmt.Errorf("%w: actor is required", domain.ErrInvalidRequest)
	}
	return domain.ValidateNotes(req.Notes)
}

// ParseTimeRange maps a summary window name to its duration. Unknown names
// fall back to one week.
func ParseTimeRange(s string) time.Duration {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "24h", "today":
		return 24 * time.Hour
	case "30d", "month":
		return 30 * 24 * time.Hour
	case "90d", "quarter":
		return 90 * 24 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}
