package alerting

import (
	"github.com/vietddude/collector/internal/core/domain"
	"github.com/vietddude/collector/internal/core/lifecycle"
)

// Rules decides which alerts a transition raises. It holds no state.
type Rules struct {
	customerFacing map[domain.InterfaceType]bool
	maxAttempts    func(domain.InterfaceType) int
}

// NewRules creates the rule table.
func NewRules(customerFacing []domain.InterfaceType, maxAttempts func(domain.InterfaceType) int) Rules {
	cf := make(map[domain.InterfaceType]bool, len(customerFacing))
	for _, t := range customerFacing {
		cf[t] = true
	}
	return Rules{customerFacing: cf, maxAttempts: maxAttempts}
}

// Evaluate returns the alerts triggered by t on ex. Rules that depend only
// on capture-time fields run at capture and on escalation; the ledger
// keeps them from firing twice.
func (r Rules) Evaluate(ex *domain.InterfaceException, t lifecycle.Transition) []*domain.Alert {
	var alerts []*domain.Alert

	if t.IsCapture() || t.To == domain.StatusEscalated {
		switch {
		case ex.ClassificationFallback:
			alerts = append(alerts, newAlert(ex, domain.AlertSystemError, domain.AlertLevelEmergency))
		case ex.Severity == domain.SeverityCritical:
			alerts = append(alerts, newAlert(ex, domain.AlertCriticalSeverity, domain.AlertLevelCritical))
		}
		if r.customerImpact(ex) {
			alerts = append(alerts, newAlert(ex, domain.AlertCustomerImpact, domain.AlertLevelCritical))
		}
	}

	if t.To == domain.StatusRetriedFailed && r.maxAttempts != nil &&
		ex.FailedAttempts() >= r.maxAttempts(ex.InterfaceType) {
		alerts = append(alerts, newAlert(ex, domain.AlertMultipleRetriesFailed, domain.AlertLevelCritical))
	}
	return alerts
}

func (r Rules) customerImpact(ex *domain.InterfaceException) bool {
	return r.customerFacing[ex.InterfaceType] &&
		ex.Category == domain.CategoryBusinessRule &&
		ex.Severity.Rank() >= domain.SeverityHigh.Rank()
}

func newAlert(ex *domain.InterfaceException, reason domain.AlertReason, level domain.AlertLevel) *domain.Alert {
	a := &domain.Alert{
		ExceptionID:     ex.ID,
		TransactionID:   ex.TransactionID,
		Reason:          reason,
		Level:           level,
		InterfaceType:   ex.InterfaceType,
		Category:        ex.Category,
		Severity:        ex.Severity,
		ExceptionReason: ex.Reason,
		CustomerID:      ex.CustomerID,
		RetryAttempts:   ex.CountedAttempts(),
		CorrelationID:   ex.CorrelationID,
		CausationID:     ex.EventID,
	}
	a.EscalationTeam = escalationTeam(reason, level)
	a.EstimatedImpact = estimatedImpact(ex)
	a.RequiresImmediateAction = level == domain.AlertLevelCritical || level == domain.AlertLevelEmergency
	if ex.CustomerID != "" {
		a.CustomersAffected = 1
	}
	return a
}

func escalationTeam(reason domain.AlertReason, level domain.AlertLevel) string {
	switch {
	case level == domain.AlertLevelEmergency:
		return "MANAGEMENT"
	case reason == domain.AlertSystemError:
		return "ENGINEERING"
	case reason == domain.AlertCustomerImpact:
		return "CUSTOMER_SUCCESS"
	default:
		return "OPERATIONS"
	}
}

func estimatedImpact(ex *domain.InterfaceException) string {
	if ex.Severity == domain.SeverityCritical {
		switch ex.InterfaceType {
		case domain.InterfaceTypeOrder, domain.InterfaceTypeDistribution:
			return "HIGH"
		case domain.InterfaceTypeCollection:
			return "SEVERE"
		}
	}
	if ex.Category == domain.CategorySystemError {
		return "SEVERE"
	}
	return "MEDIUM"
}
