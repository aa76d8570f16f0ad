package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/vietddude/collector/internal/core/domain"
	"github.com/vietddude/collector/internal/core/lifecycle"
	"github.com/vietddude/collector/internal/infra/storage/memory"
	"github.com/vietddude/collector/internal/processing/alerting"
)

// =============================================================================
// Mocks
// =============================================================================

type replayFunc func(ctx context.Context, ex *domain.InterfaceException) error

func (f replayFunc) Replay(ctx context.Context, ex *domain.InterfaceException) error {
	return f(ctx, ex)
}

type mockEmitter struct {
	mu      sync.Mutex
	results []domain.RetryAttempt
	alerts  []*domain.Alert
}

func (m *mockEmitter) EmitCaptured(ctx context.Context, ex *domain.InterfaceException) error {
	return nil
}

func (m *mockEmitter) EmitRetryCompleted(ctx context.Context, ex *domain.InterfaceException, a domain.RetryAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, a)
	return nil
}

func (m *mockEmitter) EmitResolved(ctx context.Context, ex *domain.InterfaceException) error {
	return nil
}

func (m *mockEmitter) EmitAlert(ctx context.Context, a *domain.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, a)
	return nil
}

func (m *mockEmitter) Close() error { return nil }

func (m *mockEmitter) resultCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.results)
}

// =============================================================================
// Harness
// =============================================================================

type harness struct {
	orch    *Orchestrator
	manager *lifecycle.DefaultManager
	repo    *memory.ExceptionRepo
	locker  *LocalLocker
	pool    *Pool
	emitter *mockEmitter
	alerts  *alerting.Engine
}

func newHarness(t *testing.T, maxAttempts int, replay replayFunc) *harness {
	t.Helper()
	store := memory.NewMemoryStorage()
	repo := memory.NewExceptionRepo(store)
	manager := lifecycle.NewManager(repo)
	em := &mockEmitter{}
	budget := func(domain.InterfaceType) int { return maxAttempts }

	engine := alerting.NewEngine(alerting.NewRules(nil, budget), memory.NewAlertLedger(store), em)
	manager.SetTransitionCallback(engine.OnTransition)

	pool := NewPool(2, 4)
	t.Cleanup(func() { _ = pool.Stop(context.Background()) })

	cfg := Config{
		MaxAttempts: budget,
		Timeout:     time.Second,
	}
	locker := NewLocalLocker()
	return &harness{
		orch:    NewOrchestrator(cfg, manager, replay, em, locker, pool),
		manager: manager,
		repo:    repo,
		locker:  locker,
		pool:    pool,
		emitter: em,
		alerts:  engine,
	}
}

func (h *harness) capture(t *testing.T, txID string, retryable bool) {
	t.Helper()
	_, err := h.manager.Capture(context.Background(), &domain.InterfaceException{
		TransactionID: txID,
		EventID:       "evt-" + txID,
		InterfaceType: domain.InterfaceTypeCollection,
		Category:      domain.CategoryNetworkError,
		Severity:      domain.SeverityLow,
		Retryable:     retryable,
		Reason:        "Upstream timeout",
	})
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
}

func (h *harness) get(t *testing.T, txID string) *domain.InterfaceException {
	t.Helper()
	ex, err := h.manager.Get(context.Background(), txID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	return ex
}

func succeed(ctx context.Context, ex *domain.InterfaceException) error { return nil }

func fail(ctx context.Context, ex *domain.InterfaceException) error {
	return errors.New("HTTP 500: boom")
}

// =============================================================================
// Strategy Tests
// =============================================================================

func TestBackoff_Delay(t *testing.T) {
	b := &Backoff{InitialDelay: 1 * time.Second, MaxDelay: 10 * time.Second}

	if d := b.GetDelay(0); d != 1*time.Second {
		t.Errorf("expected 1s, got %v", d)
	}
	if d := b.GetDelay(1); d != 2*time.Second {
		t.Errorf("expected 2s, got %v", d)
	}
	if d := b.GetDelay(2); d != 4*time.Second {
		t.Errorf("expected 4s, got %v", d)
	}
	if d := b.GetDelay(10); d != 10*time.Second {
		t.Errorf("expected 10s, got %v", d)
	}
}

func TestBackoff_ReadyAt(t *testing.T) {
	b := &Backoff{InitialDelay: 1 * time.Second, MaxDelay: 10 * time.Second}
	last := time.Date(2025, 8, 4, 10, 0, 0, 0, time.UTC)

	ex := &domain.InterfaceException{UpdatedAt: last}
	if b.DelayBefore(ex) != 0 || !b.ReadyAt(ex).Equal(last) {
		t.Error("first attempt should not wait")
	}

	ex.RetryTimestamp = &last
	ex.RetryAttempts = []domain.RetryAttempt{{Status: domain.AttemptFailed}, {Status: domain.AttemptFailed}}
	if got := b.ReadyAt(ex); !got.Equal(last.Add(2 * time.Second)) {
		t.Errorf("expected ready 2s after last attempt, got %v", got)
	}
}

func TestLocalLocker(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	ok, _ := l.TryLock(ctx, "TX-1", "a-1", time.Minute)
	if !ok {
		t.Fatal("expected first lock to succeed")
	}
	ok, _ = l.TryLock(ctx, "TX-1", "a-2", time.Minute)
	if ok {
		t.Error("expected second lock to fail")
	}

	_ = l.Unlock(ctx, "TX-1", "a-2")
	ok, _ = l.TryLock(ctx, "TX-1", "a-2", time.Minute)
	if ok {
		t.Error("a non-owner must not release the lock")
	}

	_ = l.Unlock(ctx, "TX-1", "a-1")
	ok, _ = l.TryLock(ctx, "TX-1", "a-2", time.Minute)
	if !ok {
		t.Error("expected lock after unlock")
	}

	l.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	ok, _ = l.TryLock(ctx, "TX-1", "a-3", time.Minute)
	if !ok {
		t.Error("expected expired lock to be taken over")
	}
}

// =============================================================================
// Pool Tests
// =============================================================================

func TestPool_RunsJobs(t *testing.T) {
	p := NewPool(3, 10)
	defer p.Stop(context.Background())

	var mu sync.Mutex
	ran := 0
	for i := 0; i < 10; i++ {
		if !p.Submit(func(ctx context.Context) {
			mu.Lock()
			ran++
			mu.Unlock()
		}) {
			t.Fatalf("submit %d rejected", i)
		}
	}
	p.Wait()
	if ran != 10 {
		t.Errorf("expected 10 jobs, got %d", ran)
	}
}

func TestPool_FullAndStopped(t *testing.T) {
	p := NewPool(1, 1)
	block := make(chan struct{})
	entered := make(chan struct{})

	p.Submit(func(ctx context.Context) {
		close(entered)
		<-block
	})
	<-entered
	if !p.Submit(func(ctx context.Context) {}) {
		t.Fatal("expected queued job to be accepted")
	}
	if p.Submit(func(ctx context.Context) {}) {
		t.Error("expected full queue to reject")
	}

	close(block)
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if p.Submit(func(ctx context.Context) {}) {
		t.Error("expected stopped pool to reject")
	}
}

func TestPool_RecoversPanic(t *testing.T) {
	p := NewPool(1, 2)
	defer p.Stop(context.Background())

	p.Submit(func(ctx context.Context) { panic("boom") })
	done := false
	p.Submit(func(ctx context.Context) { done = true })
	p.Wait()
	if !done {
		t.Error("expected worker to survive a panicking job")
	}
}

// =============================================================================
// Orchestrator Tests
// =============================================================================

func TestRetry_Preconditions(t *testing.T) {
	h := newHarness(t, 3, succeed)
	ctx := context.Background()
	h.capture(t, "TX-NR", false)

	_, err := h.orch.Retry(ctx, Request{TransactionID: "bad id!"})
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}

	_, err = h.orch.Retry(ctx, Request{TransactionID: "TX-404"})
	if !errors.Is(err, domain.ErrExceptionNotFound) {
		t.Errorf("expected not found, got %v", err)
	}

	_, err = h.orch.Retry(ctx, Request{TransactionID: "TX-NR"})
	if !errors.Is(err, domain.ErrRetryNotAllowed) {
		t.Errorf("expected ErrRetryNotAllowed, got %v", err)
	}
	if n := len(h.get(t, "TX-NR").RetryAttempts); n != 0 {
		t.Errorf("non-retryable record gained %d attempts", n)
	}
}

func TestRetry_Success(t *testing.T) {
	h := newHarness(t, 3, succeed)
	h.capture(t, "TX-1", true)

	resp, err := h.orch.Retry(context.Background(), Request{TransactionID: "TX-1", Reason: "fixed upstream", InitiatedBy: "ops"})
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if !resp.Success || resp.AttemptNumber != 1 || resp.Message != "Retry initiated" {
		t.Errorf("unexpected response %+v", resp)
	}
	h.pool.Wait()

	ex := h.get(t, "TX-1")
	if ex.Status != domain.StatusRetriedSuccess {
		t.Errorf("expected RETRIED_SUCCESS, got %s", ex.Status)
	}
	a := ex.RetryAttempts[0]
	if a.Status != domain.AttemptSuccess || a.InitiatedBy != "ops" || a.Reason != "fixed upstream" || a.CompletedAt == nil {
		t.Errorf("unexpected attempt %+v", a)
	}
	if h.emitter.resultCount() != 1 {
		t.Errorf("expected 1 retry result event, got %d", h.emitter.resultCount())
	}

	_, err = h.orch.Retry(context.Background(), Request{TransactionID: "TX-1"})
	if !errors.Is(err, domain.ErrRetryNotAllowed) {
		t.Errorf("expected retry after success to be rejected, got %v", err)
	}
}

func TestRetry_ExhaustsBudgetAndEscalates(t *testing.T) {
	h := newHarness(t, 3, fail)
	ctx := context.Background()
	h.capture(t, "TX-1", true)

	for i := 1; i <= 3; i++ {
		resp, err := h.orch.Retry(ctx, Request{TransactionID: "TX-1"})
		if err != nil {
			t.Fatalf("retry %d failed: %v", i, err)
		}
		if resp.AttemptNumber != i {
			t.Errorf("expected attempt %d, got %d", i, resp.AttemptNumber)
		}
		h.pool.Wait()
	}
	h.alerts.Wait()

	ex := h.get(t, "TX-1")
	if ex.Status != domain.StatusEscalated {
		t.Errorf("expected ESCALATED, got %s", ex.Status)
	}
	if ex.FailedAttempts() != 3 {
		t.Errorf("expected 3 failed attempts, got %d", ex.FailedAttempts())
	}

	_, err := h.orch.Retry(ctx, Request{TransactionID: "TX-1"})
	if !errors.Is(err, domain.ErrRetryNotAllowed) {
		t.Fatalf("expected 4th retry to be rejected, got %v", err)
	}

	count := 0
	for _, a := range h.emitter.alerts {
		if a.Reason == domain.AlertMultipleRetriesFailed {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected exactly one MULTIPLE_RETRIES_FAILED alert, got %d", count)
	}
}

func TestRetry_RejectsTerminal(t *testing.T) {
	h := newHarness(t, 3, succeed)
	ctx := context.Background()
	h.capture(t, "TX-1", true)

	if _, err := h.manager.Transition(ctx, "TX-1", domain.StatusResolved, lifecycle.Options{Actor: "ops"}); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	_, err := h.orch.Retry(ctx, Request{TransactionID: "TX-1"})
	if !errors.Is(err, domain.ErrRetryNotAllowed) {
		t.Errorf("expected ErrRetryNotAllowed, got %v", err)
	}
}

func TestRetry_ConcurrentCallsAdmitOne(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, 3, func(ctx context.Context, ex *domain.InterfaceException) error {
		<-release
		return nil
	})
	h.capture(t, "TX-1", true)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		other     []error
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := h.orch.Retry(context.Background(), Request{TransactionID: "TX-1"})
			mu.Lock()
			defer mu.Unlock()
			if err == nil && resp.Success {
				successes++
			} else if !errors.Is(err, domain.ErrRetryNotAllowed) {
				other = append(other, err)
			}
		}()
	}
	wg.Wait()
	close(release)
	h.pool.Wait()

	if successes != 1 {
		t.Errorf("expected exactly one retry to start, got %d", successes)
	}
	if len(other) != 0 {
		t.Errorf("unexpected errors: %v", other)
	}
	if n := len(h.get(t, "TX-1").RetryAttempts); n != 1 {
		t.Errorf("expected a single attempt, got %d", n)
	}
}

func TestCancelRetry(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	h := newHarness(t, 3, func(ctx context.Context, ex *domain.InterfaceException) error {
		entered <- struct{}{}
		<-release
		return nil
	})
	ctx := context.Background()
	h.capture(t, "TX-1", true)

	_, err := h.orch.CancelRetry(ctx, "TX-1", "")
	if !errors.Is(err, domain.ErrRetryNotAllowed) {
		t.Errorf("expected cancel without retry to be rejected, got %v", err)
	}

	if _, err := h.orch.Retry(ctx, Request{TransactionID: "TX-1"}); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	<-entered

	resp, err := h.orch.CancelRetry(ctx, "TX-1", "operator fixed it")
	if err != nil {
		t.Fatalf("CancelRetry failed: %v", err)
	}
	if !resp.Success || resp.AttemptNumber != 1 {
		t.Errorf("unexpected response %+v", resp)
	}

	close(release)
	h.pool.Wait()

	ex := h.get(t, "TX-1")
	if ex.Status != domain.StatusRetriedFailed {
		t.Errorf("expected RETRIED_FAILED, got %s", ex.Status)
	}
	if ex.RetryAttempts[0].Status != domain.AttemptCancelled {
		t.Errorf("expected CANCELLED attempt, got %s", ex.RetryAttempts[0].Status)
	}
	if ex.CountedAttempts() != 0 {
		t.Errorf("cancelled attempt must not count, got %d", ex.CountedAttempts())
	}
	if h.emitter.resultCount() != 0 {
		t.Errorf("late result should be discarded, got %d events", h.emitter.resultCount())
	}

	next, err := h.orch.Retry(ctx, Request{TransactionID: "TX-1"})
	if err != nil {
		t.Fatalf("Retry after cancel failed: %v", err)
	}
	if next.AttemptNumber != 2 {
		t.Errorf("expected a new attempt number 2, got %d", next.AttemptNumber)
	}
	<-entered
	h.pool.Wait()

	ex = h.get(t, "TX-1")
	if len(ex.RetryAttempts) != 2 {
		t.Fatalf("expected cancelled attempt to stay in history, got %+v", ex.RetryAttempts)
	}
	if ex.RetryAttempts[0].Status != domain.AttemptCancelled || ex.RetryAttempts[0].Error != "Retry cancelled by user: operator fixed it" {
		t.Errorf("cancelled attempt was rewritten: %+v", ex.RetryAttempts[0])
	}
	if ex.RetryAttempts[1].Status != domain.AttemptSuccess || ex.CountedAttempts() != 1 {
		t.Errorf("unexpected second attempt %+v", ex.RetryAttempts[1])
	}
}

func TestCancelRetry_StaleJobKeepsNextLock(t *testing.T) {
	entered := make(chan struct{}, 2)
	releases := []chan struct{}{make(chan struct{}), make(chan struct{})}
	var (
		mu    sync.Mutex
		calls int
	)
	h := newHarness(t, 3, func(ctx context.Context, ex *domain.InterfaceException) error {
		mu.Lock()
		release := releases[calls]
		calls++
		mu.Unlock()
		entered <- struct{}{}
		<-release
		return nil
	})
	h.pool = NewPool(1, 4)
	h.orch.pool = h.pool
	defer h.pool.Stop(context.Background())
	ctx := context.Background()
	h.capture(t, "TX-1", true)

	if _, err := h.orch.Retry(ctx, Request{TransactionID: "TX-1"}); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	<-entered
	if _, err := h.orch.CancelRetry(ctx, "TX-1", ""); err != nil {
		t.Fatalf("CancelRetry failed: %v", err)
	}
	if _, err := h.orch.Retry(ctx, Request{TransactionID: "TX-1"}); err != nil {
		t.Fatalf("Retry after cancel failed: %v", err)
	}

	// The single worker finishes the cancelled job, including its deferred
	// unlock, before it picks up the second replay.
	close(releases[0])
	<-entered

	if ok, _ := h.locker.TryLock(ctx, "TX-1", "intruder", time.Minute); ok {
		t.Error("cancelled job released the lock held by the next attempt")
	}

	close(releases[1])
	h.pool.Wait()
	if ex := h.get(t, "TX-1"); ex.Status != domain.StatusRetriedSuccess {
		t.Errorf("expected RETRIED_SUCCESS, got %s", ex.Status)
	}
}

func TestRetry_ManualRetryRunsImmediately(t *testing.T) {
	started := make(chan time.Time, 2)
	h := newHarness(t, 3, func(ctx context.Context, ex *domain.InterfaceException) error {
		started <- time.Now()
		return errors.New("still down")
	})
	ctx := context.Background()
	h.capture(t, "TX-1", true)

	if _, err := h.orch.Retry(ctx, Request{TransactionID: "TX-1"}); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	<-started
	h.pool.Wait()

	called := time.Now()
	if _, err := h.orch.Retry(ctx, Request{TransactionID: "TX-1", InitiatedBy: "ops"}); err != nil {
		t.Fatalf("second Retry failed: %v", err)
	}
	select {
	case at := <-started:
		if d := at.Sub(called); d > 200*time.Millisecond {
			t.Errorf("second manual replay waited %v", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second replay never started")
	}
	h.pool.Wait()
}

func TestRetry_TimeoutIsFailure(t *testing.T) {
	h := newHarness(t, 3, func(ctx context.Context, ex *domain.InterfaceException) error {
		<-ctx.Done()
		return ctx.Err()
	})
	h.orch.cfg.Timeout = 20 * time.Millisecond
	h.capture(t, "TX-1", true)

	if _, err := h.orch.Retry(context.Background(), Request{TransactionID: "TX-1"}); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	h.pool.Wait()

	ex := h.get(t, "TX-1")
	if ex.Status != domain.StatusRetriedFailed || ex.RetryAttempts[0].Status != domain.AttemptFailed {
		t.Errorf("expected failed attempt, got %s/%s", ex.Status, ex.RetryAttempts[0].Status)
	}

	// The lock was released, so another retry is accepted.
	if _, err := h.orch.Retry(context.Background(), Request{TransactionID: "TX-1"}); err != nil {
		t.Errorf("expected lock to be released, got %v", err)
	}
	h.pool.Wait()
}

func TestRetry_QueueFull(t *testing.T) {
	entered := make(chan struct{}, 4)
	release := make(chan struct{})
	h := newHarness(t, 3, func(ctx context.Context, ex *domain.InterfaceException) error {
		entered <- struct{}{}
		<-release
		return nil
	})
	h.pool = NewPool(1, 1)
	h.orch.pool = h.pool
	defer h.pool.Stop(context.Background())
	ctx := context.Background()

	for _, id := range []string{"TX-1", "TX-2", "TX-3"} {
		h.capture(t, id, true)
	}

	if _, err := h.orch.Retry(ctx, Request{TransactionID: "TX-1"}); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	<-entered
	if resp, _ := h.orch.Retry(ctx, Request{TransactionID: "TX-2"}); !resp.Success {
		t.Fatal("expected TX-2 to be queued")
	}
	resp, err := h.orch.Retry(ctx, Request{TransactionID: "TX-3"})
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if resp.Success {
		t.Error("expected full queue to refuse TX-3")
	}

	ex := h.get(t, "TX-3")
	if ex.Status != domain.StatusRetriedFailed || ex.CountedAttempts() != 0 {
		t.Errorf("expected refused attempt to be cancelled, got %s/%d", ex.Status, ex.CountedAttempts())
	}

	close(release)
	h.pool.Wait()
}

// =============================================================================
// Invariants
// =============================================================================

// Property: retryable=false => no attempts; counted attempts <= maxAttempts.
func TestRetryInvariants(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 40
	properties := gopter.NewProperties(parameters)

	properties.Property("attempt history stays within budget", prop.ForAll(
		func(retryable bool, outcomes []bool) bool {
			var (
				mu   sync.Mutex
				next int
			)
			h := newHarness(t, 3, func(ctx context.Context, ex *domain.InterfaceException) error {
				mu.Lock()
				defer mu.Unlock()
				ok := outcomes[next%len(outcomes)]
				next++
				if ok {
					return nil
				}
				return errors.New("failed")
			})
			h.capture(t, "TX-P", retryable)

			for range outcomes {
				_, _ = h.orch.Retry(context.Background(), Request{TransactionID: "TX-P"})
				h.pool.Wait()
			}

			ex := h.get(t, "TX-P")
			if !retryable && len(ex.RetryAttempts) != 0 {
				return false
			}
			for i, a := range ex.RetryAttempts {
				if a.Number != i+1 {
					return false
				}
			}
			return ex.CountedAttempts() <= 3
		},
		gen.Bool(),
		gen.SliceOfN(6, gen.Bool()),
	))

	properties.TestingRun(t)
}

// =============================================================================
// Auto Retrier Tests
// =============================================================================

func TestAutoRetrier_Sweep(t *testing.T) {
	calls := 0
	var mu sync.Mutex
	h := newHarness(t, 3, func(ctx context.Context, ex *domain.InterfaceException) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return fmt.Errorf("still down")
	})
	ctx := context.Background()
	h.capture(t, "TX-1", true)
	h.capture(t, "TX-2", true)

	if _, err := h.orch.Retry(ctx, Request{TransactionID: "TX-1"}); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	h.pool.Wait()

	auto := NewAutoRetrier(h.repo, h.orch, &Backoff{InitialDelay: time.Hour, MaxDelay: time.Hour}, time.Minute)

	if n := auto.Sweep(ctx); n != 0 {
		t.Errorf("expected backoff to hold the retry, got %d", n)
	}

	auto.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if n := auto.Sweep(ctx); n != 1 {
		t.Fatalf("expected one automatic retry, got %d", n)
	}
	h.pool.Wait()

	ex := h.get(t, "TX-1")
	if len(ex.RetryAttempts) != 2 || ex.RetryAttempts[1].InitiatedBy != SystemActor {
		t.Errorf("expected a system-initiated second attempt, got %+v", ex.RetryAttempts)
	}
}
