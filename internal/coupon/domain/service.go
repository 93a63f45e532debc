package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/gymdesk/pkg/failure"
	"github.com/smallbiznis/gymdesk/pkg/tenantctx"
	"gorm.io/gorm"
)

// Redemption is an accepted pre-check. The usage slot is not held until Claim.
type Redemption struct {
	Coupon   *Coupon         `json:"coupon"`
	Discount decimal.Decimal `json:"discount"`
}

type ValidateRequest struct {
	Code           string          `json:"code"`
	PlanID         snowflake.ID    `json:"plan_id"`
	PurchaseAmount decimal.Decimal `json:"purchase_amount"`
}

type CreateCouponRequest struct {
	Code              string           `json:"code"`
	Description       string           `json:"description"`
	BranchID          *snowflake.ID    `json:"branch_id,omitempty"`
	DiscountType      DiscountType     `json:"discount_type"`
	DiscountValue     decimal.Decimal  `json:"discount_value"`
	ValidFrom         time.Time        `json:"valid_from"`
	ValidUntil        time.Time        `json:"valid_until"`
	MaxUsageCount     *int             `json:"max_usage_count,omitempty"`
	ApplicablePlanIDs []snowflake.ID   `json:"applicable_plan_ids,omitempty"`
	MinPurchaseAmount *decimal.Decimal `json:"min_purchase_amount,omitempty"`
}

// UsageRecord links a claimed slot to the enrollment that consumed it.
type UsageRecord struct {
	CouponID       snowflake.ID
	MemberID       snowflake.ID
	InvoiceID      snowflake.ID
	DiscountAmount decimal.Decimal
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, coupon *Coupon) error
	FindRedeemable(ctx context.Context, db *gorm.DB, scope tenantctx.Scope, code string, at time.Time) (*Coupon, error)
	Claim(ctx context.Context, db *gorm.DB, tenantID, couponID snowflake.ID, at time.Time) (bool, error)
	InsertUsage(ctx context.Context, db *gorm.DB, usage *CouponUsage) error
	CountUsages(ctx context.Context, db *gorm.DB, tenantID, couponID snowflake.ID) (int64, error)
}

// Service guards coupon redemption. Methods taking a tx join the caller's
// transaction; the claim is only durable if that transaction commits.
type Service interface {
	TryRedeem(ctx context.Context, tx *gorm.DB, scope tenantctx.Scope, code string, planID snowflake.ID, purchaseAmount decimal.Decimal) (*Redemption, error)
	Claim(ctx context.Context, tx *gorm.DB, scope tenantctx.Scope, coupon *Coupon) error
	RecordUsage(ctx context.Context, tx *gorm.DB, scope tenantctx.Scope, usage UsageRecord) (*CouponUsage, error)
	Validate(ctx context.Context, req ValidateRequest) (*Redemption, error)
	Create(ctx context.Context, req CreateCouponRequest) (*Coupon, error)
}

var (
	ErrCouponNotFound         = failure.New(failure.KindNotFound, "coupon_not_found")
	ErrUsageLimitExceeded     = failure.New(failure.KindUsageLimitExceeded, "coupon_usage_limit_exceeded")
	ErrPlanNotApplicable      = failure.New(failure.KindPlanNotApplicable, "coupon_plan_not_applicable")
	ErrBelowMinimumPurchase   = failure.New(failure.KindBelowMinimumPurchase, "coupon_below_minimum_purchase")
	ErrInvalidApplicablePlans = failure.New(failure.KindInvalidState, "coupon_invalid_applicable_plans")
	ErrInvalidTenant          = failure.New(failure.KindInvalidRequest, "invalid_tenant")
	ErrInvalidCode            = failure.New(failure.KindInvalidRequest, "invalid_coupon_code")
	ErrInvalidDiscountType    = failure.New(failure.KindInvalidRequest, "invalid_discount_type")
	ErrInvalidDiscountValue   = failure.New(failure.KindInvalidRequest, "invalid_discount_value")
	ErrInvalidValidity        = failure.New(failure.KindInvalidRequest, "invalid_validity_window")
	ErrInvalidUsageLimit      = failure.New(failure.KindInvalidRequest, "invalid_usage_limit")
	ErrInvalidPurchaseAmount  = failure.New(failure.KindInvalidRequest, "invalid_purchase_amount")
	ErrCouponCodeExists       = failure.New(failure.KindInvalidState, "coupon_code_exists")
)
