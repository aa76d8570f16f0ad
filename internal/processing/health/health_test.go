package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/vietddude/collector/internal/core/domain"
	"github.com/vietddude/collector/internal/core/lifecycle"
)

// =============================================================================
// Helpers
// =============================================================================

func ok(ctx context.Context) error { return nil }

func failing(ctx context.Context) error { return errors.New("connection refused") }

func depth(queued, capacity int) QueueDepth {
	return func() (int, int) { return queued, capacity }
}

// =============================================================================
// Tests
// =============================================================================

func TestMonitor_Status(t *testing.T) {
	tests := []struct {
		name       string
		components []Component
		queue      QueueDepth
		want       SystemStatus
	}{
		{
			"healthy",
			[]Component{{Name: "postgres", Critical: true, Check: ok}, {Name: "redis", Check: ok}},
			depth(1, 100),
			StatusHealthy,
		},
		{
			"optional dependency down",
			[]Component{{Name: "postgres", Critical: true, Check: ok}, {Name: "redis", Check: failing}},
			nil,
			StatusDegraded,
		},
		{
			"retry queue nearly full",
			[]Component{{Name: "postgres", Critical: true, Check: ok}},
			depth(90, 100),
			StatusDegraded,
		},
		{
			"store down",
			[]Component{{Name: "postgres", Critical: true, Check: failing}, {Name: "redis", Check: failing}},
			nil,
			StatusCritical,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := NewMonitor(tt.components, tt.queue, nil).CheckHealth(context.Background())
			if report.SystemStatus != tt.want {
				t.Errorf("expected %s, got %s", tt.want, report.SystemStatus)
			}
		})
	}
}

func TestMonitor_CachesReport(t *testing.T) {
	calls := 0
	check := func(ctx context.Context) error {
		calls++
		return nil
	}
	m := NewMonitor([]Component{{Name: "postgres", Check: check}}, nil, nil)
	now := time.Date(2025, 8, 4, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	m.CheckHealth(context.Background())
	m.CheckHealth(context.Background())
	if calls != 1 {
		t.Errorf("expected 1 check within the cache window, got %d", calls)
	}

	now = now.Add(11 * time.Second)
	m.CheckHealth(context.Background())
	if calls != 2 {
		t.Errorf("expected a new check after the cache window, got %d", calls)
	}
}

func TestServer_Endpoints(t *testing.T) {
	transitions := func() []lifecycle.Transition {
		return []lifecycle.Transition{lifecycle.NewTransition("TX-1", "", domain.StatusNew, "captured")}
	}
	m := NewMonitor([]Component{{Name: "postgres", Critical: true, Check: failing}}, nil, transitions)
	api := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	h := NewServer(m, 0, api).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"critical"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/detailed", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var report HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "connection refused", report.Components["postgres"].Error)
	require.Len(t, report.RecentTransitions, 1)
	assert.Equal(t, "TX-1", report.RecentTransitions[0].TransactionID)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/exceptions", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestGRPCServer_Sync(t *testing.T) {
	healthy := NewGRPCServer(NewMonitor([]Component{{Name: "postgres", Critical: true, Check: ok}}, nil, nil), 0)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, healthy.Sync(context.Background()))

	down := NewGRPCServer(NewMonitor([]Component{{Name: "postgres", Critical: true, Check: failing}}, nil, nil), 0)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, down.Sync(context.Background()))

	resp, err := down.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)
}
