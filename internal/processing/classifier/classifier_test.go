package classifier

import (
	"errors"
	"testing"

	"github.com/vietddude/collector/internal/core/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		ev        domain.InboundEvent
		category  domain.ExceptionCategory
		severity  domain.ExceptionSeverity
		retryable bool
		fallback  bool
	}{
		{
			"order duplicate",
			&domain.OrderRejected{RejectedReason: "Order already exists for external id"},
			domain.CategoryBusinessRule, domain.SeverityMedium, false, false,
		},
		{
			"order timeout",
			&domain.OrderRejected{RejectedReason: "Upstream timeout"},
			domain.CategoryNetworkError, domain.SeverityHigh, true, false,
		},
		{
			"order customer",
			&domain.OrderRejected{RejectedReason: "Customer credit hold"},
			domain.CategoryBusinessRule, domain.SeverityHigh, true, false,
		},
		{
			"order database",
			&domain.OrderRejected{RejectedReason: "Internal database failure"},
			domain.CategorySystemError, domain.SeverityCritical, true, false,
		},
		{
			"order unauthorized",
			&domain.OrderRejected{RejectedReason: "Unauthorized partner"},
			domain.CategoryAuthorization, domain.SeverityMedium, false, false,
		},
		{
			"cancel uses reason",
			&domain.OrderCancelled{CancelReason: "warning: customer changed mind"},
			domain.CategoryBusinessRule, domain.SeverityHigh, true, false,
		},
		{
			"collection donor",
			&domain.CollectionRejected{RejectedReason: "Donor deferred"},
			domain.CategoryBusinessRule, domain.SeverityHigh, true, false,
		},
		{
			"distribution external",
			&domain.DistributionFailed{FailureReason: "External carrier service down"},
			domain.CategoryExternalService, domain.SeverityMedium, true, false,
		},
		{
			"distribution delivery",
			&domain.DistributionFailed{FailureReason: "Delivery window missed at destination"},
			domain.CategoryBusinessRule, domain.SeverityHigh, true, false,
		},
		{
			"low severity",
			&domain.OrderRejected{RejectedReason: "Info only"},
			domain.CategoryBusinessRule, domain.SeverityLow, true, false,
		},
		{
			"valid hints override rules",
			&domain.OrderRejected{
				RejectedReason:      "Order already exists",
				ClassificationHints: domain.ClassificationHints{Category: "timeout", Severity: "critical"},
			},
			domain.CategoryTimeout, domain.SeverityCritical, false, false,
		},
		{
			"invalid category hint fails closed",
			&domain.CollectionRejected{
				RejectedReason:      "Donor deferred",
				ClassificationHints: domain.ClassificationHints{Category: "WEIRD"},
			},
			domain.CategorySystemError, domain.SeverityHigh, false, true,
		},
		{
			"invalid severity hint fails closed",
			&domain.OrderRejected{
				RejectedReason:      "Upstream timeout",
				ClassificationHints: domain.ClassificationHints{Severity: "URGENT"},
			},
			domain.CategorySystemError, domain.SeverityHigh, false, true,
		},
		{
			"validation error",
			&domain.ValidationError{InterfaceType: "COLLECTION"},
			domain.CategoryValidation, domain.SeverityMedium, true, false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Classify(tt.ev)
			if err != nil {
				t.Fatalf("Classify failed: %v", err)
			}
			if c.Category != tt.category {
				t.Errorf("category = %s, want %s", c.Category, tt.category)
			}
			if c.Severity != tt.severity {
				t.Errorf("severity = %s, want %s", c.Severity, tt.severity)
			}
			if c.Retryable != tt.retryable {
				t.Errorf("retryable = %v, want %v", c.Retryable, tt.retryable)
			}
			if c.Fallback != tt.fallback {
				t.Errorf("fallback = %v, want %v", c.Fallback, tt.fallback)
			}
		})
	}
}

func TestClassify_IsDeterministic(t *testing.T) {
	ev := &domain.DistributionFailed{FailureReason: "Inventory mismatch at location"}
	first, _ := Classify(ev)
	for i := 0; i < 10; i++ {
		again, _ := Classify(ev)
		if again != first {
			t.Fatalf("classification changed between calls: %+v vs %+v", first, again)
		}
	}
}

func TestExtract(t *testing.T) {
	facts, err := Extract(&domain.ValidationError{
		TransactionID: "TX-1",
		InterfaceType: "order",
		ValidationErrors: []domain.FieldError{
			{Field: "quantity", ErrorMessage: "must be positive"},
			{Field: "sku", ErrorMessage: "required"},
		},
	})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if facts.InterfaceType != domain.InterfaceTypeOrder {
		t.Errorf("expected ORDER, got %s", facts.InterfaceType)
	}
	want := "Field 'quantity': must be positive; Field 'sku': required"
	if facts.Reason != want {
		t.Errorf("reason = %q, want %q", facts.Reason, want)
	}

	cancelled, _ := Extract(&domain.OrderCancelled{CancelReason: "x"})
	if cancelled.Operation != "CANCEL_ORDER" {
		t.Errorf("expected CANCEL_ORDER, got %s", cancelled.Operation)
	}

	_, err = Extract(&domain.ValidationError{InterfaceType: "BILLING"})
	if !errors.Is(err, ErrUnknownInterface) {
		t.Errorf("expected ErrUnknownInterface, got %v", err)
	}
}
