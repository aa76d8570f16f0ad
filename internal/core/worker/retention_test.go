package worker

import (
	"context"
	"testing"
	"time"

	"github.com/vietddude/collector/internal/core/domain"
	"github.com/vietddude/collector/internal/core/lifecycle"
	"github.com/vietddude/collector/internal/infra/storage/memory"
)

func TestRetention_ClosesExpiredResolved(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewExceptionRepo(memory.NewMemoryStorage())
	manager := lifecycle.NewManager(repo)

	for _, id := range []string{"TX-1", "TX-2", "TX-3"} {
		_, err := manager.Capture(ctx, &domain.InterfaceException{
			TransactionID: id,
			EventID:       "evt-" + id,
			InterfaceType: domain.InterfaceTypeOrder,
			Category:      domain.CategoryBusinessRule,
			Severity:      domain.SeverityLow,
		})
		if err != nil {
			t.Fatalf("Capture failed: %v", err)
		}
	}
	for _, id := range []string{"TX-1", "TX-2"} {
		_, err := manager.Transition(ctx, id, domain.StatusResolved, lifecycle.Options{Actor: "ops"})
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
	}

	r := NewRetention(24*time.Hour, repo, manager)

	if n := r.Sweep(ctx); n != 0 {
		t.Fatalf("expected nothing closed inside the retention period, got %d", n)
	}

	r.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	if n := r.Sweep(ctx); n != 2 {
		t.Fatalf("expected 2 closed, got %d", n)
	}

	for id, want := range map[string]domain.ExceptionStatus{
		"TX-1": domain.StatusClosed,
		"TX-2": domain.StatusClosed,
		"TX-3": domain.StatusNew,
	} {
		ex, err := manager.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get %s failed: %v", id, err)
		}
		if ex.Status != want {
			t.Errorf("%s: expected %s, got %s", id, want, ex.Status)
		}
	}

	if n := r.Sweep(ctx); n != 0 {
		t.Errorf("expected second sweep to be a no-op, got %d", n)
	}
}

func TestRetention_Disabled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Returns immediately with a zero ttl.
	NewRetention(0, nil, nil).Start(ctx)
}
