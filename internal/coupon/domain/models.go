package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	ledgerdomain "github.com/smallbiznis/gymdesk/internal/ledger/domain"
	"gorm.io/datatypes"
)

type DiscountType string

const (
	DiscountTypePercentage DiscountType = "PERCENTAGE"
	DiscountTypeFlatAmount DiscountType = "FLAT_AMOUNT"
)

// Coupon is a promotional code. A nil MaxUsageCount means unlimited redemptions.
type Coupon struct {
	ID                snowflake.ID        `gorm:"primaryKey" json:"id"`
	TenantID          snowflake.ID        `gorm:"not null;uniqueIndex:ux_coupons_tenant_code,priority:1" json:"tenant_id"`
	BranchID          *snowflake.ID       `gorm:"index" json:"branch_id,omitempty"`
	Code              string              `gorm:"type:text;not null;uniqueIndex:ux_coupons_tenant_code,priority:2" json:"code"`
	Description       string              `gorm:"type:text" json:"description,omitempty"`
	DiscountType      DiscountType        `gorm:"type:text;not null" json:"discount_type"`
	DiscountValue     decimal.Decimal     `gorm:"type:numeric(20,2);not null" json:"discount_value"`
	ValidFrom         time.Time           `gorm:"not null" json:"valid_from"`
	ValidUntil        time.Time           `gorm:"not null" json:"valid_until"`
	MaxUsageCount     *int                `json:"max_usage_count,omitempty"`
	CurrentUsageCount int                 `gorm:"not null;default:0" json:"current_usage_count"`
	ApplicablePlanIDs datatypes.JSON      `json:"applicable_plan_ids,omitempty"`
	MinPurchaseAmount decimal.NullDecimal `gorm:"type:numeric(20,2)" json:"min_purchase_amount,omitempty"`
	IsActive          bool                `gorm:"not null" json:"is_active"`
	CreatedAt         time.Time           `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time           `gorm:"not null" json:"updated_at"`
}

func (Coupon) TableName() string { return "coupons" }

// PlanIDs decodes the applicability list. An empty list applies to every plan.
func (c Coupon) PlanIDs() ([]snowflake.ID, error) {
	if len(c.ApplicablePlanIDs) == 0 {
		return nil, nil
	}
	var raw []string
	if err := json.Unmarshal(c.ApplicablePlanIDs, &raw); err != nil {
		return nil, err
	}
	ids := make([]snowflake.ID, 0, len(raw))
	for _, value := range raw {
		id, err := snowflake.ParseString(strings.TrimSpace(value))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// EncodePlanIDs serializes ids as a JSON array of strings.
func EncodePlanIDs(ids []snowflake.ID) (datatypes.JSON, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw := make([]string, 0, len(ids))
	for _, id := range ids {
		raw = append(raw, id.String())
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

// CouponUsage is written once per successful redemption and never updated.
type CouponUsage struct {
	ID             snowflake.ID    `gorm:"primaryKey" json:"id"`
	TenantID       snowflake.ID    `gorm:"not null;index" json:"tenant_id"`
	CouponID       snowflake.ID    `gorm:"not null;index" json:"coupon_id"`
	MemberID       snowflake.ID    `gorm:"not null;index" json:"member_id"`
	InvoiceID      snowflake.ID    `gorm:"not null;index" json:"invoice_id"`
	DiscountAmount decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"discount_amount"`
	UsedAt         time.Time       `gorm:"not null" json:"used_at"`
}

func (CouponUsage) TableName() string { return "coupon_usages" }

// NormalizeCode makes lookups case-insensitive.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Evaluate runs the usage, applicability and minimum purchase rules in that order
// and returns the discount for purchaseAmount.
func Evaluate(coupon *Coupon, planID snowflake.ID, purchaseAmount decimal.Decimal) (decimal.Decimal, error) {
	if coupon == nil {
		return decimal.Zero, ErrCouponNotFound
	}
	if coupon.MaxUsageCount != nil && coupon.CurrentUsageCount >= *coupon.MaxUsageCount {
		return decimal.Zero, ErrUsageLimitExceeded
	}

	planIDs, err := coupon.PlanIDs()
	if err != nil {
		return decimal.Zero, ErrInvalidApplicablePlans
	}
	if len(planIDs) > 0 {
		applicable := false
		for _, id := range planIDs {
			if id == planID {
				applicable = true
				break
			}
		}
		if !applicable {
			return decimal.Zero, ErrPlanNotApplicable
		}
	}

	if coupon.MinPurchaseAmount.Valid && purchaseAmount.LessThan(coupon.MinPurchaseAmount.Decimal) {
		return decimal.Zero, ErrBelowMinimumPurchase
	}

	return ComputeDiscount(coupon.DiscountType, coupon.DiscountValue, purchaseAmount), nil
}

// ComputeDiscount never returns more than purchaseAmount.
func ComputeDiscount(discountType DiscountType, value, purchaseAmount decimal.Decimal) decimal.Decimal {
	var discount decimal.Decimal
	switch discountType {
	case DiscountTypePercentage:
		discount = ledgerdomain.Percentage(purchaseAmount, value)
	case DiscountTypeFlatAmount:
		discount = ledgerdomain.RoundMoney(value)
	default:
		return decimal.Zero
	}
	if discount.GreaterThan(purchaseAmount) {
		discount = purchaseAmount
	}
	return ledgerdomain.ClampNonNegative(discount)
}
