package service

import (
	"context"
	"testing"
	"time"

	benefitdomain "github.com/smallbiznis/gymdesk/internal/benefit/domain"
	"github.com/smallbiznis/gymdesk/internal/benefit/repository"
	"github.com/smallbiznis/gymdesk/internal/clock"
	memberdomain "github.com/smallbiznis/gymdesk/internal/member/domain"
	plandomain "github.com/smallbiznis/gymdesk/internal/plan/domain"
	"github.com/smallbiznis/gymdesk/internal/testutil"
	"github.com/smallbiznis/gymdesk/pkg/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitializeTxPersistsAndLists(t *testing.T) {
	db := testutil.OpenDB(t)
	node := testutil.Node(t)
	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
		Clock: clock.NewFakeClock(time.Date(2026, 1, 31, 9, 0, 0, 0, time.UTC)),
	})

	branch := node.Generate()
	member := &memberdomain.Member{ID: node.Generate(), TenantID: node.Generate(), BranchID: &branch}
	start := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	definitions := []plandomain.BenefitDefinition{
		{ID: node.Generate(), BenefitType: "PT_SESSION", AccrualQuantity: 4, AccrualType: plandomain.AccrualTypeMonthly},
		{ID: node.Generate(), BenefitType: "TOWEL", AccrualQuantity: 1, AccrualType: plandomain.AccrualTypeOneTime},
	}

	balances, err := svc.InitializeTx(context.Background(), db, member, start, definitions)
	require.NoError(t, err)
	require.Len(t, balances, 2)
	for _, b := range balances {
		assert.NotZero(t, b.ID)
		assert.Equal(t, b.CurrentBalance, b.TotalAccrued-b.TotalConsumed)
	}

	ctx := tenantctx.WithScope(context.Background(), tenantctx.Scope{TenantID: member.TenantID, BranchID: &branch})
	stored, err := svc.ListForMember(ctx, member.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	require.NotNil(t, stored[0].NextAccrualDate)
	assert.Equal(t, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC), stored[0].NextAccrualDate.UTC())
	assert.Nil(t, stored[1].NextAccrualDate)

	otherBranch := node.Generate()
	elsewhere := tenantctx.WithScope(context.Background(), tenantctx.Scope{TenantID: member.TenantID, BranchID: &otherBranch})
	stored, err = svc.ListForMember(elsewhere, member.ID)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestInitializeTxEdgeCases(t *testing.T) {
	db := testutil.OpenDB(t)
	node := testutil.Node(t)
	svc := NewService(Params{DB: db, Log: zap.NewNop(), GenID: node, Repo: repository.Provide()})

	_, err := svc.InitializeTx(context.Background(), db, nil, time.Now(), nil)
	assert.ErrorIs(t, err, benefitdomain.ErrInvalidMember)

	balances, err := svc.InitializeTx(context.Background(), db, &memberdomain.Member{ID: node.Generate(), TenantID: 1}, time.Now(), nil)
	require.NoError(t, err)
	assert.Empty(t, balances)

	_, err = svc.ListForMember(context.Background(), 1)
	assert.ErrorIs(t, err, benefitdomain.ErrInvalidTenant)
}
