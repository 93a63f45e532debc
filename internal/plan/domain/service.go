package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/gymdesk/pkg/failure"
	"github.com/smallbiznis/gymdesk/pkg/tenantctx"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, plan *MembershipPlan) error
	FindActive(ctx context.Context, db *gorm.DB, scope tenantctx.Scope, id snowflake.ID) (*MembershipPlan, error)
}

type BenefitInput struct {
	BenefitType     string      `json:"benefit_type"`
	Name            string      `json:"name"`
	AccrualQuantity int         `json:"accrual_quantity"`
	AccrualType     AccrualType `json:"accrual_type"`
	MaxBalance      *int        `json:"max_balance"`
	Rollover        bool        `json:"rollover"`
	ExpiryDays      *int        `json:"expiry_days"`
}

type CreatePlanRequest struct {
	BranchID     *snowflake.ID   `json:"branch_id"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Price        decimal.Decimal `json:"price"`
	SetupFee     decimal.Decimal `json:"setup_fee"`
	DurationDays int             `json:"duration_days"`
	Features     map[string]bool `json:"features"`
	Benefits     []BenefitInput  `json:"benefits"`
}

type Service interface {
	Create(ctx context.Context, req CreatePlanRequest) (*MembershipPlan, error)
	Get(ctx context.Context, id snowflake.ID) (*MembershipPlan, error)
}

var (
	ErrPlanNotFound       = failure.New(failure.KindNotFound, "plan_not_found")
	ErrInvalidTenant      = failure.New(failure.KindInvalidRequest, "invalid_tenant")
	ErrInvalidName        = failure.New(failure.KindInvalidRequest, "invalid_plan_name")
	ErrInvalidPrice       = failure.New(failure.KindInvalidRequest, "invalid_plan_price")
	ErrInvalidDuration    = failure.New(failure.KindInvalidRequest, "invalid_plan_duration")
	ErrInvalidBenefit     = failure.New(failure.KindInvalidRequest, "invalid_benefit_definition")
	ErrInvalidAccrualType = failure.New(failure.KindInvalidRequest, "invalid_accrual_type")
)
