package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/collector/internal/core/domain"
	"github.com/vietddude/collector/internal/infra/storage"
)

type MemoryStorage struct {
	exceptions map[string]*domain.InterfaceException // by transaction id
	events     map[string]struct{}                   // transaction id + "/" + event id
	alerts     map[string]time.Time                  // transaction id + "/" + reason
	nextID     int64
	mu         sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		exceptions: make(map[string]*domain.InterfaceException),
		events:     make(map[string]struct{}),
		alerts:     make(map[string]time.Time),
	}
}

// Health always succeeds for the in-process store.
func (s *MemoryStorage) Health(ctx context.Context) error { return nil }

// -----------------------------------------------------------------------------
// Exception Repository
// -----------------------------------------------------------------------------

type ExceptionRepo struct {
	store *MemoryStorage
}

func NewExceptionRepo(store *MemoryStorage) *ExceptionRepo {
	return &ExceptionRepo{store: store}
}

func (r *ExceptionRepo) Capture(ctx context.Context, ex *domain.InterfaceException) (storage.CaptureResult, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	eventKey := ex.TransactionID + "/" + ex.EventID
	if _, seen := r.store.events[eventKey]; seen {
		return storage.CaptureDuplicate, nil
	}
	r.store.events[eventKey] = struct{}{}

	if existing, ok := r.store.exceptions[ex.TransactionID]; ok {
		existing.Reason = ex.Reason
		existing.ProcessedAt = ex.ProcessedAt
		existing.UpdatedAt = ex.UpdatedAt
		ex.ID = existing.ID
		return storage.CaptureUpdated, nil
	}

	r.store.nextID++
	ex.ID = r.store.nextID
	stored := ex.Clone()
	stored.RetryAttempts = nil
	r.store.exceptions[ex.TransactionID] = stored
	return storage.CaptureCreated, nil
}

func (r *ExceptionRepo) GetByTransactionID(ctx context.Context, transactionID string) (*domain.InterfaceException, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	ex, ok := r.store.exceptions[transactionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, transactionID)
	}
	return ex.Clone(), nil
}

func (r *ExceptionRepo) Transition(ctx context.Context, u storage.StatusUpdate) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	ex, err := r.checkStatus(u)
	if err != nil {
		return err
	}
	applyUpdate(ex, u)
	return nil
}

func (r *ExceptionRepo) StartRetry(ctx context.Context, u storage.StatusUpdate, attempt domain.RetryAttempt) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	ex, err := r.checkStatus(u)
	if err != nil {
		return err
	}

	for _, a := range ex.RetryAttempts {
		if a.Number == attempt.Number || a.ID == attempt.ID {
			return fmt.Errorf("attempt %d of %s already exists", attempt.Number, u.TransactionID)
		}
	}
	ex.RetryAttempts = append(ex.RetryAttempts, attempt)
	applyUpdate(ex, u)
	return nil
}

func (r *ExceptionRepo) FinishAttempt(ctx context.Context, u storage.StatusUpdate, outcome storage.AttemptOutcome) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	ex, ok := r.store.exceptions[u.TransactionID]
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, u.TransactionID)
	}

	idx := -1
	for i, a := range ex.RetryAttempts {
		if a.ID == outcome.AttemptID {
			idx = i
			break
		}
	}
	if idx < 0 || ex.RetryAttempts[idx].Status != domain.AttemptPending {
		return storage.ErrAttemptSettled
	}
	if _, err := r.checkStatus(u); err != nil {
		return err
	}

	completed := outcome.CompletedAt
	ex.RetryAttempts[idx].Status = outcome.Status
	ex.RetryAttempts[idx].Error = outcome.Error
	ex.RetryAttempts[idx].CompletedAt = &completed
	applyUpdate(ex, u)
	return nil
}

func (r *ExceptionRepo) List(ctx context.Context, f storage.Filter, offset, limit int) ([]*domain.InterfaceException, int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	matches := r.sorted(f)
	total := len(matches)
	if offset < 0 || offset >= total {
		return []*domain.InterfaceException{}, total, nil
	}
	end := total
	if limit >= 0 && limit < total-offset {
		end = offset + limit
	}
	return matches[offset:end], total, nil
}

func (r *ExceptionRepo) ListAfter(ctx context.Context, f storage.Filter, pos *storage.Position, limit int) ([]*domain.InterfaceException, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*domain.InterfaceException, 0, limit)
	for _, ex := range r.sorted(f) {
		if pos != nil && !before(ex, *pos) {
			continue
		}
		out = append(out, ex)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *ExceptionRepo) Count(ctx context.Context, f storage.Filter) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return len(r.sorted(f)), nil
}

func (r *ExceptionRepo) ListByStatus(ctx context.Context, status domain.ExceptionStatus, threshold time.Time, limit int) ([]*domain.InterfaceException, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.InterfaceException
	for _, ex := range r.store.exceptions {
		if ex.Status == status && ex.UpdatedAt.Before(threshold) {
			out = append(out, ex.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *ExceptionRepo) Summarize(ctx context.Context, since time.Time) (*storage.Summary, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	sum := &storage.Summary{
		ByInterfaceType: make(map[domain.InterfaceType]int),
		BySeverity:      make(map[domain.ExceptionSeverity]int),
		ByStatus:        make(map[domain.ExceptionStatus]int),
	}
	for _, ex := range r.store.exceptions {
		if ex.Timestamp.Before(since) {
			continue
		}
		sum.Total++
		sum.ByInterfaceType[ex.InterfaceType]++
		sum.BySeverity[ex.Severity]++
		sum.ByStatus[ex.Status]++
	}
	return sum, nil
}

// checkStatus must be called with the write lock held.
func (r *ExceptionRepo) checkStatus(u storage.StatusUpdate) (*domain.InterfaceException, error) {
	ex, ok := r.store.exceptions[u.TransactionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, u.TransactionID)
	}
	if ex.Status != u.From {
		return nil, fmt.Errorf("%w: %s is %s, not %s", storage.ErrStatusConflict, u.TransactionID, ex.Status, u.From)
	}
	return ex, nil
}

// sorted returns clones of matching records in (timestamp DESC, id DESC) order.
func (r *ExceptionRepo) sorted(f storage.Filter) []*domain.InterfaceException {
	var out []*domain.InterfaceException
	for _, ex := range r.store.exceptions {
		if matches(ex, f) {
			out = append(out, ex.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func matches(ex *domain.InterfaceException, f storage.Filter) bool {
	if f.InterfaceType != "" && ex.InterfaceType != f.InterfaceType {
		return false
	}
	if f.Status != "" && ex.Status != f.Status.Canonical() {
		return false
	}
	if f.Severity != "" && ex.Severity != f.Severity {
		return false
	}
	if f.CustomerID != "" && ex.CustomerID != f.CustomerID {
		return false
	}
	if f.From != nil && ex.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && ex.Timestamp.After(*f.To) {
		return false
	}
	if f.Query != "" {
		q := strings.ToLower(f.Query)
		if !strings.Contains(strings.ToLower(ex.Reason), q) &&
			!strings.Contains(strings.ToLower(ex.TransactionID), q) &&
			!strings.Contains(strings.ToLower(ex.ExternalID), q) {
			return false
		}
	}
	return true
}

// before reports whether ex sorts strictly after pos in descending order.
func before(ex *domain.InterfaceException, pos storage.Position) bool {
	if ex.Timestamp.Equal(pos.Timestamp) {
		return ex.ID < pos.ID
	}
	return ex.Timestamp.Before(pos.Timestamp)
}

func applyUpdate(ex *domain.InterfaceException, u storage.StatusUpdate) {
	at := u.At
	ex.Status = u.To
	ex.UpdatedAt = at
	switch u.To {
	case domain.StatusAcknowledged:
		ex.AcknowledgedAt = &at
		ex.AcknowledgedBy = u.Actor
		if u.Notes != "" {
			ex.Notes = u.Notes
		}
	case domain.StatusRetryInProgress:
		ex.RetryTimestamp = &at
	case domain.StatusResolved:
		ex.ResolvedAt = &at
		ex.ResolvedBy = u.Actor
		ex.ResolutionMethod = u.Resolution
		if u.Notes != "" {
			ex.Notes = u.Notes
		}
	case domain.StatusEscalated:
		if u.Notes != "" {
			ex.Notes = u.Notes
		}
	}
}

// -----------------------------------------------------------------------------
// Alert Ledger
// -----------------------------------------------------------------------------

type AlertLedger struct {
	store *MemoryStorage
}

func NewAlertLedger(store *MemoryStorage) *AlertLedger {
	return &AlertLedger{store: store}
}

func (l *AlertLedger) MarkRaised(ctx context.Context, transactionID string, reason domain.AlertReason) (bool, error) {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	key := transactionID + "/" + string(reason)
	if _, ok := l.store.alerts[key]; ok {
		return false, nil
	}
	l.store.alerts[key] = time.Now()
	return true, nil
}
