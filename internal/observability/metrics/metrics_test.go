package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("outcome", "APPLIED"),
		attribute.String("member_id", "456"),
		attribute.String("method", "CARD"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != "outcome" && attrs[1].Key != "outcome" {
		t.Fatalf("expected outcome to be retained")
	}
	if attrs[0].Key != "method" && attrs[1].Key != "method" {
		t.Fatalf("expected method to be retained")
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordEnrollment(ctx, "success")
	m.RecordCouponRedemption(ctx, "PERCENTAGE", "success")
	m.RecordPayment(ctx, "interactive", "CASH")
	m.RecordRefund(ctx, "CASH")
	m.RecordWebhookDelivery(ctx, "APPLIED")
	m.RecordLedgerEntry(ctx, "payment")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.RecordEnrollment(context.Background(), "success")
}
