package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vietddude/collector/internal/core/lifecycle"
)

const (
	cacheTTL     = 10 * time.Second
	checkTimeout = 3 * time.Second
)

// Component is one dependency the monitor checks. A failing critical
// component makes the system critical; any other failure degrades it.
type Component struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) error
}

// QueueDepth reports the retry queue fill level.
type QueueDepth func() (queued, capacity int)

// Monitor aggregates health status from the collector's dependencies.
type Monitor struct {
	components  []Component
	queue       QueueDepth
	transitions func() []lifecycle.Transition
	lastCheck   time.Time
	lastReport  *HealthReport
	now         func() time.Time
	mu          sync.Mutex
}

// NewMonitor creates a new health monitor. queue and transitions may be nil.
func NewMonitor(components []Component, queue QueueDepth, transitions func() []lifecycle.Transition) *Monitor {
	return &Monitor{
		components:  components,
		queue:       queue,
		transitions: transitions,
		now:         time.Now,
	}
}

// CheckHealth checks every component, at most once per cache window.
func (m *Monitor) CheckHealth(ctx context.Context) *HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.lastReport != nil && now.Sub(m.lastCheck) < cacheTTL {
		return m.lastReport
	}

	report := &HealthReport{
		SystemStatus: StatusHealthy,
		CheckedAt:    now.UTC(),
		Components:   make(map[string]ComponentHealth, len(m.components)+1),
	}

	for _, c := range m.components {
		h := ComponentHealth{Name: c.Name, Status: StatusHealthy}
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.Check(checkCtx)
		cancel()
		if err != nil {
			h.Error = err.Error()
			h.Status = StatusDegraded
			if c.Critical {
				h.Status = StatusCritical
			}
		}
		report.add(h)
	}

	if m.queue != nil {
		queued, capacity := m.queue()
		h := ComponentHealth{
			Name:    "retry_queue",
			Status:  StatusHealthy,
			Details: fmt.Sprintf("%d/%d queued", queued, capacity),
		}
		// Above 80% full new retries start to be refused.
		if capacity > 0 && queued*5 >= capacity*4 {
			h.Status = StatusDegraded
		}
		report.add(h)
	}

	m.lastCheck = now
	m.lastReport = report
	return report
}

// Detailed returns the health report plus the latest status transitions.
func (m *Monitor) Detailed(ctx context.Context) *HealthReport {
	base := m.CheckHealth(ctx)
	out := *base
	if m.transitions != nil {
		for _, t := range m.transitions() {
			out.RecentTransitions = append(out.RecentTransitions, TransitionView{
				TransactionID: t.TransactionID,
				From:          string(t.From),
				To:            string(t.To),
				Reason:        t.Reason,
				Actor:         t.Actor,
				Timestamp:     t.Timestamp,
			})
		}
	}
	return &out
}

func (r *HealthReport) add(h ComponentHealth) {
	r.Components[h.Name] = h
	if h.Status.rank() > r.SystemStatus.rank() {
		r.SystemStatus = h.Status
	}
}
