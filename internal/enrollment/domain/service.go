package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	benefitdomain "github.com/smallbiznis/gymdesk/internal/benefit/domain"
	coupondomain "github.com/smallbiznis/gymdesk/internal/coupon/domain"
	invoicedomain "github.com/smallbiznis/gymdesk/internal/invoice/domain"
	memberdomain "github.com/smallbiznis/gymdesk/internal/member/domain"
	"github.com/smallbiznis/gymdesk/pkg/failure"
)

// EnrollRequest signs a new member up to a plan and charges it in full.
// DurationDays falls back to the plan's duration and StartDate to today.
type EnrollRequest struct {
	Member        memberdomain.MemberDetails `json:"member"`
	PlanID        snowflake.ID               `json:"plan_id"`
	StartDate     time.Time                  `json:"start_date"`
	DurationDays  int                        `json:"duration_days"`
	CouponCode    string                     `json:"coupon_code,omitempty"`
	PaymentMethod string                     `json:"payment_method,omitempty"`
	BranchID      *snowflake.ID              `json:"branch_id,omitempty"`
}

type EnrollResult struct {
	Member     memberdomain.Member                  `json:"member"`
	Membership memberdomain.MemberMembership        `json:"membership"`
	Invoice    invoicedomain.Invoice                `json:"invoice"`
	Usage      *coupondomain.CouponUsage            `json:"coupon_usage,omitempty"`
	Benefits   []benefitdomain.MemberBenefitBalance `json:"benefits"`
}

type Service interface {
	Enroll(ctx context.Context, req EnrollRequest) (*EnrollResult, error)
}

var (
	ErrInvalidTenant   = failure.New(failure.KindInvalidRequest, "invalid_tenant")
	ErrInvalidPlan     = failure.New(failure.KindInvalidRequest, "invalid_plan")
	ErrInvalidDuration = failure.New(failure.KindInvalidRequest, "invalid_duration")
	ErrInvalidBranch   = failure.New(failure.KindInvalidRequest, "invalid_branch")
)
