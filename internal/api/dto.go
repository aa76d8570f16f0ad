package api

import (
	"encoding/json"
	"time"

	"github.com/vietddude/collector/internal/core/domain"
	"github.com/vietddude/collector/internal/core/lifecycle"
	"github.com/vietddude/collector/internal/infra/storage"
	"github.com/vietddude/collector/internal/processing/management"
	"github.com/vietddude/collector/internal/processing/pagination"
)

// ExceptionListItem is a record as shown in listings.
type ExceptionListItem struct {
	ID                 int64      `json:"id"`
	TransactionID      string     `json:"transactionId"`
	InterfaceType      string     `json:"interfaceType"`
	ExceptionReason    string     `json:"exceptionReason"`
	Operation          string     `json:"operation,omitempty"`
	ExternalID         string     `json:"externalId,omitempty"`
	Status             string     `json:"status"`
	Severity           string     `json:"severity"`
	Category           string     `json:"category"`
	Retryable          bool       `json:"retryable"`
	CustomerID         string     `json:"customerId,omitempty"`
	LocationCode       string     `json:"locationCode,omitempty"`
	Timestamp          time.Time  `json:"timestamp"`
	ProcessedAt        time.Time  `json:"processedAt"`
	AcknowledgedAt     *time.Time `json:"acknowledgedAt,omitempty"`
	AcknowledgedBy     string     `json:"acknowledgedBy,omitempty"`
	ResolvedAt         *time.Time `json:"resolvedAt,omitempty"`
	ResolvedBy         string     `json:"resolvedBy,omitempty"`
	RetryCount         int        `json:"retryCount"`
	LastRetryAt        *time.Time `json:"lastRetryAt,omitempty"`
	FallbackClassified bool       `json:"classificationFallback,omitempty"`
}

// RetryAttemptView is one attempt in a record's history.
type RetryAttemptView struct {
	AttemptNumber int        `json:"attemptNumber"`
	Status        string     `json:"status"`
	InitiatedBy   string     `json:"initiatedBy"`
	Reason        string     `json:"reason,omitempty"`
	InitiatedAt   time.Time  `json:"initiatedAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	ErrorMessage  string     `json:"errorMessage,omitempty"`
}

// ExceptionDetail is the full record.
type ExceptionDetail struct {
	ExceptionListItem
	StatusDescription string             `json:"statusDescription"`
	CorrelationID     string             `json:"correlationId,omitempty"`
	EventID           string             `json:"eventId"`
	ResolutionMethod  string             `json:"resolutionMethod,omitempty"`
	Notes             string             `json:"notes,omitempty"`
	OriginalPayload   json.RawMessage    `json:"originalPayload,omitempty"`
	RetryHistory      []RetryAttemptView `json:"retryHistory"`
	MaxRetries        int                `json:"maxRetries"`
}

// PageResponse is an offset page.
type PageResponse struct {
	Content       []ExceptionListItem `json:"content"`
	Page          int                 `json:"page"`
	Size          int                 `json:"size"`
	TotalElements int                 `json:"totalElements"`
	TotalPages    int                 `json:"totalPages"`
	First         bool                `json:"first"`
	Last          bool                `json:"last"`
}

// EdgeResponse is one edge of a connection.
type EdgeResponse struct {
	Cursor string            `json:"cursor"`
	Node   ExceptionListItem `json:"node"`
}

// PageInfoResponse mirrors pagination.PageInfo.
type PageInfoResponse struct {
	HasNextPage     bool   `json:"hasNextPage"`
	HasPreviousPage bool   `json:"hasPreviousPage"`
	StartCursor     string `json:"startCursor,omitempty"`
	EndCursor       string `json:"endCursor,omitempty"`
}

// ConnectionResponse is a cursor page.
type ConnectionResponse struct {
	Edges      []EdgeResponse   `json:"edges"`
	PageInfo   PageInfoResponse `json:"pageInfo"`
	TotalCount int              `json:"totalCount"`
}

// SummaryResponse is the aggregate count view.
type SummaryResponse struct {
	TimeRange       string         `json:"timeRange"`
	TotalExceptions int            `json:"totalExceptions"`
	ByInterfaceType map[string]int `json:"byInterfaceType"`
	BySeverity      map[string]int `json:"bySeverity"`
	ByStatus        map[string]int `json:"byStatus"`
}

// RetryRequest is the body of a retry call.
type RetryRequest struct {
	Reason      string `json:"reason"`
	InitiatedBy string `json:"initiatedBy"`
}

// CancelRetryRequest is the body of a cancel call.
type CancelRetryRequest struct {
	Reason string `json:"reason"`
}

// RetryResponse reports a retry request.
type RetryResponse struct {
	TransactionID string `json:"transactionId"`
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	AttemptNumber int    `json:"attemptNumber,omitempty"`
}

// CancelRetryResponse reports a cancelled retry.
type CancelRetryResponse struct {
	TransactionID string    `json:"transactionId"`
	Success       bool      `json:"success"`
	Message       string    `json:"message"`
	AttemptNumber int       `json:"attemptNumber"`
	CancelledAt   time.Time `json:"cancelledAt"`
}

// AcknowledgeRequest is the body of an acknowledge call.
type AcknowledgeRequest struct {
	AcknowledgedBy string `json:"acknowledgedBy"`
	Notes          string `json:"notes"`
}

// ResolveRequest is the body of a resolve call.
type ResolveRequest struct {
	ResolvedBy       string `json:"resolvedBy"`
	ResolutionMethod string `json:"resolutionMethod"`
	Notes            string `json:"notes"`
}

// EscalateRequest is the body of an escalate call.
type EscalateRequest struct {
	EscalatedBy string `json:"escalatedBy"`
	Reason      string `json:"reason"`
	Notes       string `json:"notes"`
}

// ActionResponse reports an operator action.
type ActionResponse struct {
	TransactionID string     `json:"transactionId"`
	Success       bool       `json:"success"`
	Status        string     `json:"status"`
	Actor         string     `json:"actor"`
	At            *time.Time `json:"at,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	Method        string     `json:"resolutionMethod,omitempty"`
}

func toListItem(ex *domain.InterfaceException) ExceptionListItem {
	item := ExceptionListItem{
		ID:                 ex.ID,
		TransactionID:      ex.TransactionID,
		InterfaceType:      string(ex.InterfaceType),
		ExceptionReason:    ex.Reason,
		Operation:          ex.Operation,
		ExternalID:         ex.ExternalID,
		Status:             string(ex.Status.Canonical()),
		Severity:           string(ex.Severity),
		Category:           string(ex.Category),
		Retryable:          ex.Retryable,
		CustomerID:         ex.CustomerID,
		LocationCode:       ex.LocationCode,
		Timestamp:          ex.Timestamp,
		ProcessedAt:        ex.ProcessedAt,
		AcknowledgedAt:     ex.AcknowledgedAt,
		AcknowledgedBy:     ex.AcknowledgedBy,
		ResolvedAt:         ex.ResolvedAt,
		ResolvedBy:         ex.ResolvedBy,
		RetryCount:         ex.CountedAttempts(),
		LastRetryAt:        ex.RetryTimestamp,
		FallbackClassified: ex.ClassificationFallback,
	}
	return item
}

func toDetail(ex *domain.InterfaceException, maxRetries int) ExceptionDetail {
	d := ExceptionDetail{
		ExceptionListItem: toListItem(ex),
		StatusDescription: lifecycle.StateDescription(ex.Status),
		CorrelationID:     ex.CorrelationID,
		EventID:           ex.EventID,
		ResolutionMethod:  string(ex.ResolutionMethod),
		Notes:             ex.Notes,
		OriginalPayload:   payloadJSON(ex.OriginalPayload),
		RetryHistory:      make([]RetryAttemptView, 0, len(ex.RetryAttempts)),
		MaxRetries:        maxRetries,
	}
	for _, a := range ex.RetryAttempts {
		d.RetryHistory = append(d.RetryHistory, RetryAttemptView{
			AttemptNumber: a.Number,
			Status:        string(a.Status),
			InitiatedBy:   a.InitiatedBy,
			Reason:        a.Reason,
			InitiatedAt:   a.StartedAt,
			CompletedAt:   a.CompletedAt,
			ErrorMessage:  a.Error,
		})
	}
	return d
}

// payloadJSON embeds a JSON payload as-is and quotes anything else.
func payloadJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	if json.Valid(raw) {
		return json.RawMessage(raw)
	}
	quoted, _ := json.Marshal(string(raw))
	return quoted
}

func toPage(p *management.Page) PageResponse {
	out := PageResponse{
		Content:       make([]ExceptionListItem, 0, len(p.Items)),
		Page:          p.Page,
		Size:          p.Size,
		TotalElements: p.Total,
		TotalPages:    p.TotalPages,
		First:         p.Page == 0,
		Last:          p.Page+1 >= p.TotalPages,
	}
	for _, ex := range p.Items {
		out.Content = append(out.Content, toListItem(ex))
	}
	return out
}

func toConnection(c *pagination.Connection) ConnectionResponse {
	out := ConnectionResponse{
		Edges: make([]EdgeResponse, 0, len(c.Edges)),
		PageInfo: PageInfoResponse{
			HasNextPage:     c.PageInfo.HasNextPage,
			HasPreviousPage: c.PageInfo.HasPreviousPage,
			StartCursor:     c.PageInfo.StartCursor,
			EndCursor:       c.PageInfo.EndCursor,
		},
		TotalCount: c.TotalCount,
	}
	for _, e := range c.Edges {
		out.Edges = append(out.Edges, EdgeResponse{Cursor: e.Cursor, Node: toListItem(e.Node)})
	}
	return out
}

func toSummary(timeRange string, s *storage.Summary) SummaryResponse {
	out := SummaryResponse{
		TimeRange:       timeRange,
		TotalExceptions: s.Total,
		ByInterfaceType: make(map[string]int, len(s.ByInterfaceType)),
		BySeverity:      make(map[string]int, len(s.BySeverity)),
		ByStatus:        make(map[string]int, len(s.ByStatus)),
	}
	for k, v := range s.ByInterfaceType {
		out.ByInterfaceType[string(k)] = v
	}
	for k, v := range s.BySeverity {
		out.BySeverity[string(k)] = v
	}
	for k, v := range s.ByStatus {
		out.ByStatus[string(k.Canonical())] += v
	}
	return out
}
