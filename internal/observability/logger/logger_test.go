package logger

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	obscontext "github.com/smallbiznis/gymdesk/internal/observability/context"
	"github.com/smallbiznis/gymdesk/pkg/tenantctx"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContextAddsTenantFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	base := zap.New(core)

	branch := snowflake.ID(9)
	ctx := tenantctx.WithScope(context.Background(), tenantctx.Scope{TenantID: 3, BranchID: &branch, UserID: "u-1"})
	ctx = obscontext.WithRequestID(ctx, "req-7")

	WithContext(ctx, base).Info("hello")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "req-7", fields["request_id"])
		assert.Equal(t, "3", fields["tenant_id"])
		assert.Equal(t, "9", fields["branch_id"])
		assert.Equal(t, "u-1", fields["user_id"])
	}
}

func TestStatementTarget(t *testing.T) {
	cases := []struct {
		sql, op, table string
	}{
		{`SELECT * FROM "invoices" WHERE id = 1 FOR UPDATE`, "SELECT", "invoices"},
		{`INSERT INTO "payments" ("id") VALUES (1)`, "INSERT", "payments"},
		{`UPDATE coupons SET current_usage_count = current_usage_count + 1`, "UPDATE", "coupons"},
		{`DELETE FROM audit_logs`, "DELETE", "audit_logs"},
		{``, "UNKNOWN", ""},
	}
	for _, tc := range cases {
		op, table := statementTarget(tc.sql)
		assert.Equal(t, tc.op, op, tc.sql)
		assert.Equal(t, tc.table, table, tc.sql)
	}
}
