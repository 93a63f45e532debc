package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	memberdomain "github.com/smallbiznis/gymdesk/internal/member/domain"
	plandomain "github.com/smallbiznis/gymdesk/internal/plan/domain"
)

// MemberBenefitBalance tracks one entitlement for one member.
// CurrentBalance always equals TotalAccrued - TotalConsumed.
type MemberBenefitBalance struct {
	ID                  snowflake.ID  `gorm:"primaryKey" json:"id"`
	TenantID            snowflake.ID  `gorm:"not null;index" json:"tenant_id"`
	BranchID            *snowflake.ID `gorm:"index" json:"branch_id,omitempty"`
	MemberID            snowflake.ID  `gorm:"not null;uniqueIndex:ux_member_benefit,priority:1" json:"member_id"`
	BenefitDefinitionID snowflake.ID  `gorm:"not null;uniqueIndex:ux_member_benefit,priority:2" json:"benefit_definition_id"`
	BenefitType         string        `gorm:"type:text;not null" json:"benefit_type"`
	CurrentBalance      int           `gorm:"not null" json:"current_balance"`
	TotalAccrued        int           `gorm:"not null" json:"total_accrued"`
	TotalConsumed       int           `gorm:"not null" json:"total_consumed"`
	LastAccrualDate     time.Time     `gorm:"not null" json:"last_accrual_date"`
	NextAccrualDate     *time.Time    `json:"next_accrual_date,omitempty"`
	ExpiryDate          *time.Time    `json:"expiry_date,omitempty"`
	CreatedAt           time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time     `gorm:"not null" json:"updated_at"`
}

func (MemberBenefitBalance) TableName() string { return "member_benefit_balances" }

// InitializeBalances derives the opening balance of every benefit a plan grants.
// IDs and timestamps are assigned when the rows are persisted.
func InitializeBalances(member *memberdomain.Member, startDate time.Time, definitions []plandomain.BenefitDefinition) []MemberBenefitBalance {
	if member == nil || len(definitions) == 0 {
		return nil
	}

	balances := make([]MemberBenefitBalance, 0, len(definitions))
	for _, def := range definitions {
		opening := def.AccrualQuantity
		if opening < 0 {
			opening = 0
		}
		if def.MaxBalance != nil && opening > *def.MaxBalance {
			opening = *def.MaxBalance
		}

		var expiry *time.Time
		if def.ExpiryDays != nil {
			t := startDate.AddDate(0, 0, *def.ExpiryDays)
			expiry = &t
		}

		balances = append(balances, MemberBenefitBalance{
			TenantID:            member.TenantID,
			BranchID:            member.BranchID,
			MemberID:            member.ID,
			BenefitDefinitionID: def.ID,
			BenefitType:         def.BenefitType,
			CurrentBalance:      opening,
			TotalAccrued:        opening,
			TotalConsumed:       0,
			LastAccrualDate:     startDate,
			NextAccrualDate:     NextAccrualDate(startDate, def.AccrualType),
			ExpiryDate:          expiry,
		})
	}
	return balances
}

// NextAccrualDate returns nil for one-time or absent cadences.
func NextAccrualDate(from time.Time, accrual plandomain.AccrualType) *time.Time {
	var months int
	switch accrual {
	case plandomain.AccrualTypeMonthly, plandomain.AccrualTypePerBillingCycle:
		months = 1
	case plandomain.AccrualTypeQuarterly:
		months = 3
	case plandomain.AccrualTypeYearly:
		months = 12
	default:
		return nil
	}
	next := AddCalendarMonths(from, months)
	return &next
}

// AddCalendarMonths moves t by months, clamping the day to the target month's
// last day (Jan 31 + 1 month is Feb 28, or Feb 29 in leap years).
func AddCalendarMonths(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	firstOfTarget := time.Date(year, month+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	lastDay := firstOfTarget.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	hour, minute, sec := t.Clock()
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), day, hour, minute, sec, t.Nanosecond(), t.Location())
}
