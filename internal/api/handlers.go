// Package api is the REST surface of the collector. Handlers only translate
// between HTTP and the management and retry components.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vietddude/collector/internal/core/domain"
	"github.com/vietddude/collector/internal/infra/storage"
	"github.com/vietddude/collector/internal/processing/management"
	"github.com/vietddude/collector/internal/processing/pagination"
	"github.com/vietddude/collector/internal/processing/retry"
)

// DefaultInitiator is recorded on retries whose caller gives no name.
const DefaultInitiator = "api"

// Management is the query and operator-action side of the collector.
type Management interface {
	Get(ctx context.Context, transactionID string) (*domain.InterfaceException, error)
	List(ctx context.Context, f storage.Filter, page, size int) (*management.Page, error)
	Search(ctx context.Context, query string, page, size int) (*management.Page, error)
	Connection(ctx context.Context, f storage.Filter, first int, after string) (*pagination.Connection, error)
	Summary(ctx context.Context, timeRange string) (*storage.Summary, error)
	Acknowledge(ctx context.Context, req management.ActionRequest) (*domain.InterfaceException, error)
	Resolve(ctx context.Context, req management.ResolveRequest) (*domain.InterfaceException, error)
	Escalate(ctx context.Context, req management.ActionRequest) (*domain.InterfaceException, error)
}

// Retrier starts and cancels retries.
type Retrier interface {
	Retry(ctx context.Context, req retry.Request) (*retry.RetryResponse, error)
	CancelRetry(ctx context.Context, transactionID, reason string) (*retry.CancelResponse, error)
	MaxAttempts(t domain.InterfaceType) int
}

// Handler serves /api/v1/exceptions.
type Handler struct {
	mgmt    Management
	retrier Retrier
	limiter *RateLimiter
}

// NewHandler creates the API handler. limiter guards mutation routes and may be nil.
func NewHandler(mgmt Management, retrier Retrier, limiter *RateLimiter) *Handler {
	return &Handler{mgmt: mgmt, retrier: retrier, limiter: limiter}
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1/exceptions", func(r chi.Router) {
		r.Get("/", h.list)
		r.Get("/summary", h.summary)
		r.Get("/search", h.search)
		r.Get("/connection", h.connection)
		r.Get("/{transactionId}", h.get)

		r.Group(func(r chi.Router) {
			if h.limiter != nil {
				r.Use(h.limiter.Middleware)
			}
			r.Post("/{transactionId}/retry", h.retry)
			r.Post("/{transactionId}/cancel-retry", h.cancelRetry)
			r.Post("/{transactionId}/acknowledge", h.acknowledge)
			r.Post("/{transactionId}/resolve", h.resolve)
			r.Post("/{transactionId}/escalate", h.escalate)
		})
	})
	return r
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, size, err := parsePaging(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.mgmt.List(r.Context(), f, page, size)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPage(p))
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	page, size, err := parsePaging(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.mgmt.Search(r.Context(), r.URL.Query().Get("query"), page, size)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPage(p))
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	timeRange := r.URL.Query().Get("timeRange")
	if timeRange == "" {
		timeRange = "7d"
	}
	s, err := h.mgmt.Summary(r.Context(), timeRange)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummary(timeRange, s))
}

func (h *Handler) connection(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	first, err := intParam(r, "first", pagination.DefaultPageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.mgmt.Connection(r.Context(), f, first, r.URL.Query().Get("after"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toConnection(c))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	ex, err := h.mgmt.Get(r.Context(), chi.URLParam(r, "transactionId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDetail(ex, h.retrier.MaxAttempts(ex.InterfaceType)))
}

func (h *Handler) retry(w http.ResponseWriter, r *http.Request) {
	var body RetryRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if body.InitiatedBy == "" {
		body.InitiatedBy = DefaultInitiator
	}

	resp, err := h.retrier.Retry(r.Context(), retry.Request{
		TransactionID: chi.URLParam(r, "transactionId"),
		Reason:        body.Reason,
		InitiatedBy:   body.InitiatedBy,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusAccepted
	if !resp.Success {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, RetryResponse{
		TransactionID: resp.TransactionID,
		Success:       resp.Success,
		Message:       resp.Message,
		AttemptNumber: resp.AttemptNumber,
	})
}

func (h *Handler) cancelRetry(w http.ResponseWriter, r *http.Request) {
	var body CancelRetryRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := h.retrier.CancelRetry(r.Context(), chi.URLParam(r, "transactionId"), body.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CancelRetryResponse{
		TransactionID: resp.TransactionID,
		Success:       resp.Success,
		Message:       resp.Message,
		AttemptNumber: resp.AttemptNumber,
		CancelledAt:   resp.CancelledAt,
	})
}

func (h *Handler) acknowledge(w http.ResponseWriter, r *http.Request) {
	var body AcknowledgeRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	ex, err := h.mgmt.Acknowledge(r.Context(), management.ActionRequest{
		TransactionID: chi.URLParam(r, "transactionId"),
		Actor:         body.AcknowledgedBy,
		Notes:         body.Notes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ActionResponse{
		TransactionID: ex.TransactionID,
		Success:       true,
		Status:        string(ex.Status),
		Actor:         ex.AcknowledgedBy,
		At:            ex.AcknowledgedAt,
		Notes:         ex.Notes,
	})
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	var body ResolveRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	ex, err := h.mgmt.Resolve(r.Context(), management.ResolveRequest{
		ActionRequest: management.ActionRequest{
			TransactionID: chi.URLParam(r, "transactionId"),
			Actor:         body.ResolvedBy,
			Notes:         body.Notes,
		},
		Method: body.ResolutionMethod,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ActionResponse{
		TransactionID: ex.TransactionID,
		Success:       true,
		Status:        string(ex.Status),
		Actor:         ex.ResolvedBy,
		At:            ex.ResolvedAt,
		Notes:         ex.Notes,
		Method:        string(ex.ResolutionMethod),
	})
}

func (h *Handler) escalate(w http.ResponseWriter, r *http.Request) {
	var body EscalateRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	ex, err := h.mgmt.Escalate(r.Context(), management.ActionRequest{
		TransactionID: chi.URLParam(r, "transactionId"),
		Actor:         body.EscalatedBy,
		Notes:         body.Notes,
		Reason:        body.Reason,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	at := ex.UpdatedAt
	writeJSON(w, http.StatusOK, ActionResponse{
		TransactionID: ex.TransactionID,
		Success:       true,
		Status:        string(ex.Status),
		Actor:         body.EscalatedBy,
		At:            &at,
		Notes:         ex.Notes,
	})
}

// decodeBody reads an optional JSON body.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: malformed request body: %v", domain.ErrInvalidRequest, err)
	}
	return nil
}

func parseFilter(r *http.Request) (storage.Filter, error) {
	q := r.URL.Query()
	var f storage.Filter

	if v := q.Get("interfaceType"); v != "" {
		t, ok := domain.ParseInterfaceType(v)
		if !ok {
			return f, fmt.Errorf("%w: unknown interfaceType %q", domain.ErrInvalidRequest, v)
		}
		f.InterfaceType = t
	}
	if v := q.Get("status"); v != "" {
		s, ok := domain.ParseStatus(v)
		if !ok {
			return f, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidRequest, v)
		}
		f.Status = s
	}
	if v := q.Get("severity"); v != "" {
		s, ok := domain.ParseSeverity(v)
		if !ok {
			return f, fmt.Errorf("%w: unknown severity %q", domain.ErrInvalidRequest, v)
		}
		f.Severity = s
	}
	f.CustomerID = q.Get("customerId")

	var err error
	if f.From, err = timeParam(r, "fromDate"); err != nil {
		return f, err
	}
	if f.To, err = timeParam(r, "toDate"); err != nil {
		return f, err
	}
	return f, nil
}

func parsePaging(r *http.Request) (page, size int, err error) {
	if page, err = intParam(r, "page", 0); err != nil {
		return 0, 0, err
	}
	if size, err = intParam(r, "size", pagination.DefaultPageSize); err != nil {
		return 0, 0, err
	}
	return page, size, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", domain.ErrInvalidRequest, name)
	}
	return n, nil
}

func timeParam(r *http.Request, name string) (*time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be an ISO-8601 timestamp", domain.ErrInvalidRequest, name)
	}
	return &t, nil
}
