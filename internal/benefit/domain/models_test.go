package domain

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	memberdomain "github.com/smallbiznis/gymdesk/internal/member/domain"
	plandomain "github.com/smallbiznis/gymdesk/internal/plan/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 30, 0, 0, time.UTC)
}

func TestAddCalendarMonthsClampsToMonthEnd(t *testing.T) {
	cases := []struct {
		name   string
		from   time.Time
		months int
		want   time.Time
	}{
		{"jan31 plus one in leap year", date(2024, time.January, 31), 1, date(2024, time.February, 29)},
		{"jan31 plus one", date(2023, time.January, 31), 1, date(2023, time.February, 28)},
		{"nov30 plus quarter", date(2023, time.November, 30), 3, date(2024, time.February, 29)},
		{"mid month", date(2024, time.March, 15), 1, date(2024, time.April, 15)},
		{"feb29 plus year", date(2024, time.February, 29), 12, date(2025, time.February, 28)},
		{"dec crosses year", date(2024, time.December, 31), 1, date(2025, time.January, 31)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, AddCalendarMonths(tc.from, tc.months))
		})
	}
}

func TestNextAccrualDate(t *testing.T) {
	start := date(2024, time.January, 31)

	assert.Nil(t, NextAccrualDate(start, plandomain.AccrualTypeOneTime))
	assert.Nil(t, NextAccrualDate(start, ""))

	next := NextAccrualDate(start, plandomain.AccrualTypeMonthly)
	require.NotNil(t, next)
	assert.Equal(t, date(2024, time.February, 29), *next)

	next = NextAccrualDate(start, plandomain.AccrualTypePerBillingCycle)
	require.NotNil(t, next)
	assert.Equal(t, date(2024, time.February, 29), *next)

	next = NextAccrualDate(start, plandomain.AccrualTypeQuarterly)
	require.NotNil(t, next)
	assert.Equal(t, date(2024, time.April, 30), *next)

	next = NextAccrualDate(start, plandomain.AccrualTypeYearly)
	require.NotNil(t, next)
	assert.Equal(t, date(2025, time.January, 31), *next)
}

func TestInitializeBalances(t *testing.T) {
	branch := snowflake.ID(3)
	member := &memberdomain.Member{ID: 10, TenantID: 1, BranchID: &branch}
	start := date(2024, time.January, 1)
	maxBalance := 5
	expiry := 30

	defs := []plandomain.BenefitDefinition{
		{ID: 100, BenefitType: "PT_SESSION", AccrualQuantity: 8, AccrualType: plandomain.AccrualTypeMonthly, MaxBalance: &maxBalance},
		{ID: 101, BenefitType: "GUEST_PASS", AccrualQuantity: 2, AccrualType: plandomain.AccrualTypeOneTime, ExpiryDays: &expiry},
	}

	balances := InitializeBalances(member, start, defs)
	require.Len(t, balances, 2)

	pt := balances[0]
	assert.Equal(t, snowflake.ID(100), pt.BenefitDefinitionID)
	assert.Equal(t, 5, pt.CurrentBalance, "opening balance is capped at max balance")
	assert.Equal(t, pt.TotalAccrued-pt.TotalConsumed, pt.CurrentBalance)
	require.NotNil(t, pt.NextAccrualDate)
	assert.Equal(t, date(2024, time.February, 1), *pt.NextAccrualDate)
	assert.Nil(t, pt.ExpiryDate)
	assert.Equal(t, &branch, pt.BranchID)

	guest := balances[1]
	assert.Equal(t, 2, guest.CurrentBalance)
	assert.Equal(t, 2, guest.TotalAccrued)
	assert.Zero(t, guest.TotalConsumed)
	assert.Nil(t, guest.NextAccrualDate)
	require.NotNil(t, guest.ExpiryDate)
	assert.Equal(t, date(2024, time.January, 31), *guest.ExpiryDate)
	assert.Equal(t, start, guest.LastAccrualDate)

	assert.Nil(t, InitializeBalances(member, start, nil))
	assert.Nil(t, InitializeBalances(nil, start, defs))
}
