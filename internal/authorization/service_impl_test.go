package authorization

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gymdesk/internal/config"
	"github.com/smallbiznis/gymdesk/pkg/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newService(t *testing.T, holder *config.BillingConfigHolder) Service {
	t.Helper()
	enforcer, err := NewEnforcer()
	require.NoError(t, err)
	svc, err := NewService(Params{Log: zap.NewNop(), Enforcer: enforcer, Billing: holder})
	require.NoError(t, err)
	return svc
}

func scopedContext() context.Context {
	return tenantctx.WithScope(context.Background(), tenantctx.Scope{TenantID: snowflake.ID(42), UserID: "u-1"})
}

func TestDefaultRolePolicy(t *testing.T) {
	svc := newService(t, nil)
	ctx := scopedContext()

	assert.NoError(t, svc.Authorize(ctx, "owner", PermissionInvoicesRefund))
	assert.NoError(t, svc.Authorize(ctx, "Manager", PermissionInvoicesRefund))
	assert.NoError(t, svc.Authorize(ctx, "front_desk", PermissionMembersCreate))
	assert.NoError(t, svc.Authorize(ctx, "front_desk", PermissionInvoicesPayment))

	assert.ErrorIs(t, svc.Authorize(ctx, "front_desk", PermissionInvoicesRefund), ErrForbidden)
	assert.ErrorIs(t, svc.Authorize(ctx, "front_desk", PermissionCouponsCreate), ErrForbidden)
	assert.ErrorIs(t, svc.Authorize(ctx, "guest", PermissionInvoicesView), ErrForbidden)
}

func TestAuthorizeValidatesInput(t *testing.T) {
	svc := newService(t, nil)

	assert.ErrorIs(t, svc.Authorize(context.Background(), "owner", PermissionInvoicesView), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(scopedContext(), " ", PermissionInvoicesView), ErrInvalidRole)
	assert.ErrorIs(t, svc.Authorize(scopedContext(), "owner", "invoices"), ErrInvalidPermission)
}

func TestPolicyFollowsConfiguredRoles(t *testing.T) {
	holder := config.NewStaticBillingConfigHolder(config.BillingConfig{
		Roles: []config.RolePolicy{
			{Role: "auditor", Permissions: []string{"invoices.view", "audit_logs.view"}},
			{Role: "billing", Permissions: []string{"invoices.*"}},
		},
	})
	svc := newService(t, holder)
	ctx := scopedContext()

	assert.NoError(t, svc.Authorize(ctx, "auditor", PermissionInvoicesView))
	assert.ErrorIs(t, svc.Authorize(ctx, "auditor", PermissionInvoicesRefund), ErrForbidden)
	assert.NoError(t, svc.Authorize(ctx, "billing", PermissionInvoicesRefund))
	assert.ErrorIs(t, svc.Authorize(ctx, "billing", PermissionMembersCreate), ErrForbidden)
	assert.ErrorIs(t, svc.Authorize(ctx, "owner", PermissionInvoicesView), ErrForbidden)
}

func TestSplitPermission(t *testing.T) {
	object, action, ok := splitPermission(" Invoices.Refund ")
	assert.True(t, ok)
	assert.Equal(t, "invoices", object)
	assert.Equal(t, "refund", action)

	_, _, ok = splitPermission(".view")
	assert.False(t, ok)

	object, action, ok = splitPermission("*")
	assert.True(t, ok)
	assert.Equal(t, "*", object)
	assert.Equal(t, "*", action)
}
