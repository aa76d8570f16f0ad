// Package replay calls the originating interface to re-run a failed transaction.
package replay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/vietddude/collector/internal/core/domain"
)

// ErrNoEndpoint is returned when no base URL is configured for an interface type.
var ErrNoEndpoint = errors.New("no replay endpoint configured")

// Config holds replay endpoint configuration.
type Config struct {
	// Endpoints maps interface type (ORDER, COLLECTION, ...) to a base URL.
	Endpoints  map[string]string `yaml:"endpoints"`
	Path       string            `yaml:"path"`
	Timeout    time.Duration     `yaml:"timeout"`
	RetryCount int               `yaml:"retry_count"`
}

// Request is the body sent to the originating interface.
type Request struct {
	TransactionID string `json:"transactionId"`
	Operation     string `json:"operation,omitempty"`
	ExternalID    string `json:"externalId,omitempty"`
	Payload       []byte `json:"payload,omitempty"`
}

// Client replays transactions over HTTP.
type Client struct {
	http      *resty.Client
	endpoints map[domain.InterfaceType]string
	path      string
}

// NewClient creates a replay client.
func NewClient(cfg Config) *Client {
	if cfg.Path == "" {
		cfg.Path = "/api/v1/replay"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	endpoints := make(map[domain.InterfaceType]string, len(cfg.Endpoints))
	for k, v := range cfg.Endpoints {
		if t, ok := domain.ParseInterfaceType(k); ok {
			endpoints[t] = strings.TrimRight(v, "/")
		}
	}

	httpClient := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(5*time.Second).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:      httpClient,
		endpoints: endpoints,
		path:      cfg.Path,
	}
}

// Replay POSTs the original transaction to its interface. Any 2xx is success.
func (c *Client) Replay(ctx context.Context, ex *domain.InterfaceException) error {
	base, ok := c.endpoints[ex.InterfaceType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoEndpoint, ex.InterfaceType)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(Request{
			TransactionID: ex.TransactionID,
			Operation:     ex.Operation,
			ExternalID:    ex.ExternalID,
			Payload:       ex.OriginalPayload,
		}).
		Post(base + c.path)
	if err != nil {
		return fmt.Errorf("replay request failed: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode(), string(resp.Body()))
	}
	return nil
}
