package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type AccrualType string

const (
	AccrualTypeOneTime         AccrualType = "ONE_TIME"
	AccrualTypeMonthly         AccrualType = "MONTHLY"
	AccrualTypePerBillingCycle AccrualType = "PER_BILLING_CYCLE"
	AccrualTypeQuarterly       AccrualType = "QUARTERLY"
	AccrualTypeYearly          AccrualType = "YEARLY"
)

// Valid reports whether a is a known cadence. Empty means no accrual.
func (a AccrualType) Valid() bool {
	switch a {
	case "", AccrualTypeOneTime, AccrualTypeMonthly, AccrualTypePerBillingCycle, AccrualTypeQuarterly, AccrualTypeYearly:
		return true
	default:
		return false
	}
}

// MembershipPlan is a catalog entry. A nil BranchID makes it tenant-wide.
type MembershipPlan struct {
	ID           snowflake.ID        `gorm:"primaryKey" json:"id"`
	TenantID     snowflake.ID        `gorm:"not null;index" json:"tenant_id"`
	BranchID     *snowflake.ID       `gorm:"index" json:"branch_id,omitempty"`
	Name         string              `gorm:"type:text;not null" json:"name"`
	Description  string              `gorm:"type:text" json:"description,omitempty"`
	Price        decimal.Decimal     `gorm:"type:numeric(20,2);not null" json:"price"`
	SetupFee     decimal.Decimal     `gorm:"type:numeric(20,2);not null" json:"setup_fee"`
	DurationDays int                 `gorm:"not null" json:"duration_days"`
	Features     datatypes.JSON      `json:"features,omitempty"`
	IsActive     bool                `gorm:"not null" json:"is_active"`
	Benefits     []BenefitDefinition `gorm:"foreignKey:PlanID" json:"benefits,omitempty"`
	CreatedAt    time.Time           `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time           `gorm:"not null" json:"updated_at"`
}

func (MembershipPlan) TableName() string { return "membership_plans" }

// BenefitDefinition is one entitlement granted by a plan.
type BenefitDefinition struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID        snowflake.ID `gorm:"not null;index" json:"tenant_id"`
	PlanID          snowflake.ID `gorm:"not null;index" json:"plan_id"`
	BenefitType     string       `gorm:"type:text;not null" json:"benefit_type"`
	Name            string       `gorm:"type:text;not null" json:"name"`
	AccrualQuantity int          `gorm:"not null" json:"accrual_quantity"`
	AccrualType     AccrualType  `gorm:"type:text" json:"accrual_type,omitempty"`
	MaxBalance      *int         `json:"max_balance,omitempty"`
	Rollover        bool         `gorm:"not null" json:"rollover"`
	ExpiryDays      *int         `json:"expiry_days,omitempty"`
	CreatedAt       time.Time    `gorm:"not null" json:"created_at"`
}

func (BenefitDefinition) TableName() string { return "benefit_definitions" }
