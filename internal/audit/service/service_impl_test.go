package service

import (
	"context"
	"testing"
	"time"

	auditdomain "github.com/smallbiznis/gymdesk/internal/audit/domain"
	"github.com/smallbiznis/gymdesk/internal/audit/repository"
	"github.com/smallbiznis/gymdesk/internal/clock"
	obscontext "github.com/smallbiznis/gymdesk/internal/observability/context"
	"github.com/smallbiznis/gymdesk/internal/testutil"
	"github.com/smallbiznis/gymdesk/pkg/db/pagination"
	"github.com/smallbiznis/gymdesk/pkg/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newAuditService(t *testing.T) (auditdomain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	db := testutil.OpenDB(t)
	c := clock.NewFakeClock(time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC))
	return NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: testutil.Node(t),
		Repo:  repository.Provide(),
		Clock: c,
	}), db, c
}

func TestRecordTxMasksContactDetails(t *testing.T) {
	svc, db, _ := newAuditService(t)
	scope := tenantctx.Scope{TenantID: 42, UserID: "desk-1"}
	ctx := tenantctx.WithScope(context.Background(), scope)
	ctx = obscontext.WithRequestID(ctx, "req-1")

	require.NoError(t, svc.RecordTx(ctx, db, auditdomain.Entry{
		Action:     "member.enrolled",
		ResourceID: "123",
		After:      map[string]any{"email": "rina@example.com", "phone": "+628123456789", "first_name": "Rina"},
	}))

	var stored auditdomain.AuditLog
	require.NoError(t, db.First(&stored).Error)
	assert.Equal(t, auditdomain.ActorTypeUser, stored.ActorType)
	require.NotNil(t, stored.ActorID)
	assert.Equal(t, "desk-1", *stored.ActorID)
	assert.Equal(t, "unknown", stored.ResourceType)
	require.NotNil(t, stored.RequestID)
	assert.Equal(t, "req-1", *stored.RequestID)
	assert.Equal(t, "r****@example.com", stored.After["email"])
	assert.Equal(t, "****6789", stored.After["phone"])
	assert.Equal(t, "Rina", stored.After["first_name"])
}

func TestRecordTxValidation(t *testing.T) {
	svc, db, _ := newAuditService(t)

	err := svc.RecordTx(context.Background(), db, auditdomain.Entry{Action: "invoice.paid"})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidTenant)

	ctx := tenantctx.WithScope(context.Background(), tenantctx.Scope{TenantID: 1})
	err = svc.RecordTx(ctx, db, auditdomain.Entry{Action: " "})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)

	require.NoError(t, svc.RecordTx(ctx, db, auditdomain.Entry{Action: "invoice.paid", ResourceType: "invoice"}))
	var stored auditdomain.AuditLog
	require.NoError(t, db.First(&stored).Error)
	assert.Equal(t, auditdomain.ActorTypeSystem, stored.ActorType)
	assert.Nil(t, stored.ActorID)
}

func TestListFiltersAndPages(t *testing.T) {
	svc, db, c := newAuditService(t)
	ctx := tenantctx.WithScope(context.Background(), tenantctx.Scope{TenantID: 7})
	other := tenantctx.WithScope(context.Background(), tenantctx.Scope{TenantID: 8})

	for _, action := range []string{"invoice.paid", "invoice.paid", "invoice.paid", "invoice.refunded"} {
		require.NoError(t, svc.RecordTx(ctx, db, auditdomain.Entry{Action: action, ResourceType: "invoice"}))
		c.Advance(time.Minute)
	}
	require.NoError(t, svc.RecordTx(other, db, auditdomain.Entry{Action: "invoice.paid", ResourceType: "invoice"}))

	resp, err := svc.List(ctx, auditdomain.ListAuditLogRequest{Action: "invoice.paid", Pagination: pagination.Pagination{PageSize: 2}})
	require.NoError(t, err)
	assert.Len(t, resp.AuditLogs, 2)
	assert.True(t, resp.HasMore)
	assert.NotEmpty(t, resp.NextPageToken)
	assert.True(t, resp.AuditLogs[0].CreatedAt.After(resp.AuditLogs[1].CreatedAt), "newest first")

	resp, err = svc.List(ctx, auditdomain.ListAuditLogRequest{Action: "invoice.refunded"})
	require.NoError(t, err)
	assert.Len(t, resp.AuditLogs, 1)
	assert.False(t, resp.HasMore)

	start := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)
	_, err = svc.List(ctx, auditdomain.ListAuditLogRequest{StartAt: &start, EndAt: &end})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidTimeRange)

	_, err = svc.List(ctx, auditdomain.ListAuditLogRequest{Pagination: pagination.Pagination{PageToken: "%%%"}})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)

	_, err = svc.List(context.Background(), auditdomain.ListAuditLogRequest{})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidTenant)
}
