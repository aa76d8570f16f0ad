// Package health provides system health monitoring and status reporting.
package health

import "time"

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// rank orders statuses so the worst one wins.
func (s SystemStatus) rank() int {
	switch s {
	case StatusCritical:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

// ComponentHealth is the state of one dependency.
type ComponentHealth struct {
	Name    string       `json:"name"`
	Status  SystemStatus `json:"status"`
	Error   string       `json:"error,omitempty"`
	Details string       `json:"details,omitempty"`
}

// TransitionView is a status change as shown on the detailed endpoint.
type TransitionView struct {
	TransactionID string    `json:"transaction_id"`
	From          string    `json:"from,omitempty"`
	To            string    `json:"to"`
	Reason        string    `json:"reason,omitempty"`
	Actor         string    `json:"actor,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus      SystemStatus               `json:"system_status"`
	CheckedAt         time.Time                  `json:"checked_at"`
	Components        map[string]ComponentHealth `json:"components"`
	RecentTransitions []TransitionView           `json:"recent_transitions,omitempty"`
}
