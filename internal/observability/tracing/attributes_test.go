package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/smallbiznis/gymdesk/pkg/tenantctx"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsMemberFields(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("tenant_id", "1"),
		attribute.String("member_email", "a@example.com"),
		attribute.String("outcome", "APPLIED"),
	)
	assert.Len(t, attrs, 2)
}

func TestSafeError(t *testing.T) {
	assert.Nil(t, SafeError(nil))
	err := SafeError(errors.New("insert failed: duplicate key value violates unique constraint"))
	assert.EqualError(t, err, "insert failed")
}

func TestScopeAttributes(t *testing.T) {
	assert.Nil(t, ScopeAttributes(context.Background()))

	ctx := tenantctx.WithScope(context.Background(), tenantctx.Scope{TenantID: 42})
	assert.Equal(t, []attribute.KeyValue{attribute.String("tenant_id", "42")}, ScopeAttributes(ctx))
}
