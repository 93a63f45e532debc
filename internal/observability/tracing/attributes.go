package tracing

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/gymdesk/pkg/tenantctx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var allowedSpanKeys = map[attribute.Key]struct{}{
	"http.method":             {},
	"http.route":              {},
	"http.status_code":        {},
	"http.server_duration_ms": {},
	"request_id":              {},
	"tenant_id":               {},
	"branch_id":               {},
	"invoice_id":              {},
	"plan_id":                 {},
	"outcome":                 {},
}

// ExtractContext pulls remote trace context from carrier headers.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// SafeAttributes drops attributes that could carry member PII.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedSpanKeys[attr.Key]; ok {
			out = append(out, attr)
		}
	}
	return out
}

// SafeError reduces an error to its first line so SQL text and payloads stay out of spans.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.TrimSpace(err.Error())
	if idx := strings.IndexAny(msg, "\n:"); idx > 0 {
		msg = msg[:idx]
	}
	if msg == "" {
		return nil
	}
	return errors.New(msg)
}

// ScopeAttributes returns the tenant and branch of the caller scope in ctx.
// Tenant-wide callers carry no branch_id.
func ScopeAttributes(ctx context.Context) []attribute.KeyValue {
	scope, ok := tenantctx.FromContext(ctx)
	if !ok {
		return nil
	}
	attrs := []attribute.KeyValue{attribute.String("tenant_id", scope.TenantID.String())}
	if scope.HasBranch() {
		attrs = append(attrs, attribute.String("branch_id", scope.BranchID.String()))
	}
	return attrs
}

// StartSpan opens an internal span on the service tracer, stamped with the caller scope.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(SafeAttributes(attrs...), ScopeAttributes(ctx)...)
	return otel.Tracer("gymdesk/service").Start(ctx, name, trace.WithAttributes(attrs...))
}
