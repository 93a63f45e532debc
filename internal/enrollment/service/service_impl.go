package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/gymdesk/internal/audit/domain"
	benefitdomain "github.com/smallbiznis/gymdesk/internal/benefit/domain"
	"github.com/smallbiznis/gymdesk/internal/cache"
	"github.com/smallbiznis/gymdesk/internal/clock"
	coupondomain "github.com/smallbiznis/gymdesk/internal/coupon/domain"
	enrollmentdomain "github.com/smallbiznis/gymdesk/internal/enrollment/domain"
	invoicedomain "github.com/smallbiznis/gymdesk/internal/invoice/domain"
	memberdomain "github.com/smallbiznis/gymdesk/internal/member/domain"
	"github.com/smallbiznis/gymdesk/internal/notification"
	obsmetrics "github.com/smallbiznis/gymdesk/internal/observability/metrics"
	obstracing "github.com/smallbiznis/gymdesk/internal/observability/tracing"
	plandomain "github.com/smallbiznis/gymdesk/internal/plan/domain"
	sequencedomain "github.com/smallbiznis/gymdesk/internal/sequence/domain"
	"github.com/smallbiznis/gymdesk/pkg/failure"
	"github.com/smallbiznis/gymdesk/pkg/rls"
	"github.com/smallbiznis/gymdesk/pkg/tenantctx"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const referralCodeAttempts = 5

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	PlanRepo    plandomain.Repository
	MemberRepo  memberdomain.Repository
	CouponSvc   coupondomain.Service
	BenefitSvc  benefitdomain.Service
	InvoiceSvc  invoicedomain.Service
	SequenceSvc sequencedomain.Service
	AuditSvc    auditdomain.Service
	Clock       clock.Clock                  `optional:"true"`
	Notifier    notification.Dispatcher      `optional:"true"`
	Generations *cache.Generations           `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics          `optional:"true"`
	TxMetrics   *obsmetrics.ReconcileMetrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	planRepo    plandomain.Repository
	memberRepo  memberdomain.Repository
	couponSvc   coupondomain.Service
	benefitSvc  benefitdomain.Service
	invoiceSvc  invoicedomain.Service
	sequenceSvc sequencedomain.Service
	auditSvc    auditdomain.Service
	clock       clock.Clock
	notifier    notification.Dispatcher
	gens        *cache.Generations
	obsMetrics  *obsmetrics.Metrics
	txMetrics   *obsmetrics.ReconcileMetrics
}

func NewService(p Params) enrollmentdomain.Service {
	c := p.Clock
	if c == nil {
		c = clock.NewSystemClock()
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("enrollment.service"),
		genID:       p.GenID,
		planRepo:    p.PlanRepo,
		memberRepo:  p.MemberRepo,
		couponSvc:   p.CouponSvc,
		benefitSvc:  p.BenefitSvc,
		invoiceSvc:  p.InvoiceSvc,
		sequenceSvc: p.SequenceSvc,
		auditSvc:    p.AuditSvc,
		clock:       c,
		notifier:    p.Notifier,
		gens:        p.Generations,
		obsMetrics:  p.ObsMetrics,
		txMetrics:   p.TxMetrics,
	}
}

// Enroll creates the member, membership, paid invoice, coupon usage, benefit
// balances and audit record in one transaction. Any failure leaves no rows behind.
func (s *Service) Enroll(ctx context.Context, req enrollmentdomain.EnrollRequest) (*enrollmentdomain.EnrollResult, error) {
	scope, ok := tenantctx.FromContext(ctx)
	if !ok {
		return nil, enrollmentdomain.ErrInvalidTenant
	}
	if req.PlanID == 0 {
		return nil, enrollmentdomain.ErrInvalidPlan
	}
	if strings.TrimSpace(req.Member.FirstName) == "" {
		return nil, memberdomain.ErrInvalidFirstName
	}
	if req.DurationDays < 0 {
		return nil, enrollmentdomain.ErrInvalidDuration
	}
	branchID, err := resolveBranch(scope, req.BranchID)
	if err != nil {
		return nil, err
	}

	ctx, span := obstracing.StartSpan(ctx, "enrollment.enroll", attribute.String("plan_id", req.PlanID.String()))
	defer span.End()

	start := time.Now()
	var result *enrollmentdomain.EnrollResult
	var plan *plandomain.MembershipPlan
	var redemption *coupondomain.Redemption
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithTenant(tx, scope); err != nil {
			return failure.Aborted(err)
		}
		now := s.clock.Now()

		var err error
		plan, err = s.planRepo.FindActive(ctx, tx, scope, req.PlanID)
		if err != nil {
			return failure.Aborted(err)
		}
		if plan == nil {
			return plandomain.ErrPlanNotFound
		}

		if code := strings.TrimSpace(req.CouponCode); code != "" {
			redemption, err = s.couponSvc.TryRedeem(ctx, tx, scope, code, plan.ID, plan.Price)
			if err != nil {
				return err
			}
		}
		discount := decimal.Zero
		if redemption != nil {
			discount = redemption.Discount
		}

		member, err := s.createMember(ctx, tx, scope, branchID, req.Member, now)
		if err != nil {
			return err
		}

		membership, err := s.createMembership(ctx, tx, member, plan, req, now)
		if err != nil {
			return err
		}

		var couponID *snowflake.ID
		if redemption != nil {
			couponID = &redemption.Coupon.ID
		}
		invoice, err := s.invoiceSvc.IssuePaidTx(ctx, tx, scope, invoicedomain.IssuePaidInput{
			MemberID:      member.ID,
			MembershipID:  &membership.ID,
			CouponID:      couponID,
			Items:         planItems(plan),
			Discount:      discount,
			PaymentMethod: req.PaymentMethod,
			IssuedAt:      now,
		})
		if err != nil {
			return err
		}

		var usage *coupondomain.CouponUsage
		if redemption != nil {
			if err := s.couponSvc.Claim(ctx, tx, scope, redemption.Coupon); err != nil {
				return err
			}
			usage, err = s.couponSvc.RecordUsage(ctx, tx, scope, coupondomain.UsageRecord{
				CouponID:       redemption.Coupon.ID,
				MemberID:       member.ID,
				InvoiceID:      invoice.ID,
				DiscountAmount: invoice.DiscountAmount,
			})
			if err != nil {
				return err
			}
		}

		benefits, err := s.benefitSvc.InitializeTx(ctx, tx, member, membership.StartDate, plan.Benefits)
		if err != nil {
			return failure.Aborted(err)
		}

		metadata := map[string]any{
			"member_id":      member.ID.String(),
			"plan_id":        plan.ID.String(),
			"plan_name":      plan.Name,
			"invoice_number": invoice.InvoiceNumber,
			"total_amount":   invoice.TotalAmount.StringFixed(2),
		}
		if redemption != nil {
			metadata["coupon_code"] = redemption.Coupon.Code
			metadata["discount_amount"] = invoice.DiscountAmount.StringFixed(2)
		}
		if err := s.auditSvc.RecordTx(ctx, tx, auditdomain.Entry{
			Action:       "member.enrolled",
			ResourceType: "member",
			ResourceID:   member.ID.String(),
			After: map[string]any{
				"membership_number": member.MembershipNumber,
				"status":            string(member.Status),
			},
			Metadata: metadata,
		}); err != nil {
			return failure.Aborted(err)
		}

		result = &enrollmentdomain.EnrollResult{
			Member:     *member,
			Membership: *membership,
			Invoice:    *invoice,
			Usage:      usage,
			Benefits:   benefits,
		}
		return nil
	})
	s.txMetrics.ObserveTx(obsmetrics.OperationEnroll, time.Since(start), err)
	if err != nil {
		s.obsMetrics.RecordEnrollment(ctx, failure.CodeOf(err))
		span.SetAttributes(attribute.String("outcome", failure.CodeOf(err)))
		if failure.IsBusiness(err) {
			s.log.Info("enrollment rejected",
				zap.String("tenant_id", scope.TenantID.String()),
				zap.String("plan_id", req.PlanID.String()),
				zap.String("reason", failure.CodeOf(err)),
			)
		} else {
			s.log.Error("enrollment failed",
				zap.String("tenant_id", scope.TenantID.String()),
				zap.String("plan_id", req.PlanID.String()),
				zap.Error(err),
			)
		}
		return nil, err
	}

	s.afterCommit(ctx, scope, plan, redemption, result)
	return result, nil
}

func (s *Service) createMember(ctx context.Context, tx *gorm.DB, scope tenantctx.Scope, branchID *snowflake.ID, details memberdomain.MemberDetails, now time.Time) (*memberdomain.Member, error) {
	if details.ReferredBy != nil {
		referrer, err := s.memberRepo.FindByID(ctx, tx, tenantctx.Scope{TenantID: scope.TenantID}, *details.ReferredBy)
		if err != nil {
			return nil, failure.Aborted(err)
		}
		if referrer == nil {
			return nil, memberdomain.ErrReferrerNotFound
		}
	}

	number, err := s.sequenceSvc.NextMembershipNumber(ctx, tx, scope.TenantID)
	if err != nil {
		return nil, failure.Aborted(err)
	}
	referral, err := s.referralCode(ctx, tx, scope.TenantID, details.FirstName)
	if err != nil {
		return nil, err
	}

	member := &memberdomain.Member{
		ID:               s.genID.Generate(),
		TenantID:         scope.TenantID,
		BranchID:         branchID,
		MembershipNumber: number,
		FirstName:        strings.TrimSpace(details.FirstName),
		LastName:         strings.TrimSpace(details.LastName),
		Email:            strings.ToLower(strings.TrimSpace(details.Email)),
		Phone:            strings.TrimSpace(details.Phone),
		DateOfBirth:      details.DateOfBirth,
		Gender:           details.Gender,
		ReferralCode:     referral,
		ReferredBy:       details.ReferredBy,
		Status:           memberdomain.MemberStatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.memberRepo.Insert(ctx, tx, member); err != nil {
		return nil, failure.Aborted(err)
	}
	return member, nil
}

// referralCode retries on collision. Losing a concurrent race on the unique
// index still aborts the transaction as retryable.
func (s *Service) referralCode(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, firstName string) (string, error) {
	for attempt := 0; attempt < referralCodeAttempts; attempt++ {
		code, err := memberdomain.NewReferralCode(firstName)
		if err != nil {
			return "", failure.Aborted(err)
		}
		exists, err := s.memberRepo.ReferralCodeExists(ctx, tx, tenantID, code)
		if err != nil {
			return "", failure.Aborted(err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", memberdomain.ErrReferralCodeExists
}

func (s *Service) createMembership(ctx context.Context, tx *gorm.DB, member *memberdomain.Member, plan *plandomain.MembershipPlan, req enrollmentdomain.EnrollRequest, now time.Time) (*memberdomain.MemberMembership, error) {
	startDate := req.StartDate
	if startDate.IsZero() {
		startDate = now
	}
	startDate = startDate.UTC().Truncate(24 * time.Hour)

	days := req.DurationDays
	if days == 0 {
		days = plan.DurationDays
	}
	if days <= 0 {
		return nil, enrollmentdomain.ErrInvalidDuration
	}

	membership := &memberdomain.MemberMembership{
		ID:        s.genID.Generate(),
		TenantID:  member.TenantID,
		BranchID:  member.BranchID,
		MemberID:  member.ID,
		PlanID:    plan.ID,
		StartDate: startDate,
		EndDate:   startDate.AddDate(0, 0, days),
		Status:    memberdomain.MembershipStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.memberRepo.InsertMembership(ctx, tx, membership); err != nil {
		return nil, failure.Aborted(err)
	}
	return membership, nil
}

func (s *Service) afterCommit(ctx context.Context, scope tenantctx.Scope, plan *plandomain.MembershipPlan, redemption *coupondomain.Redemption, result *enrollmentdomain.EnrollResult) {
	s.obsMetrics.RecordEnrollment(ctx, "success")
	if redemption != nil {
		s.obsMetrics.RecordCouponRedemption(ctx, string(redemption.Coupon.DiscountType), "redeemed")
	}

	if s.gens != nil {
		for _, resource := range []string{cache.ResourceMembers, cache.ResourceInvoices} {
			if err := s.gens.Bump(ctx, scope.TenantID, resource); err != nil {
				s.log.Warn("invalidate listings", zap.String("resource", resource), zap.Error(err))
			}
		}
	}

	if s.notifier == nil {
		return
	}
	validUntil := result.Membership.EndDate
	if err := s.notifier.Dispatch(ctx, notification.Payload{
		Kind:          notification.KindEnrollment,
		TenantID:      scope.TenantID,
		MemberID:      result.Member.ID,
		InvoiceNumber: result.Invoice.InvoiceNumber,
		Amount:        result.Invoice.TotalAmount,
		PlanName:      plan.Name,
		ValidUntil:    &validUntil,
	}); err != nil {
		s.log.Warn("enrollment notification failed",
			zap.String("member_id", result.Member.ID.String()),
			zap.Error(err),
		)
	}
}

func planItems(plan *plandomain.MembershipPlan) []invoicedomain.LineInput {
	one := decimal.NewFromInt(1)
	items := []invoicedomain.LineInput{{
		Description: plan.Name + " membership",
		Quantity:    one,
		UnitPrice:   plan.Price,
	}}
	if plan.SetupFee.IsPositive() {
		items = append(items, invoicedomain.LineInput{
			Description: "Setup fee",
			Quantity:    one,
			UnitPrice:   plan.SetupFee,
		})
	}
	return items
}

// resolveBranch pins the member to the caller's branch. Tenant-wide callers may
// name a branch explicitly.
func resolveBranch(scope tenantctx.Scope, requested *snowflake.ID) (*snowflake.ID, error) {
	if scope.HasBranch() {
		if requested != nil && *requested != *scope.BranchID {
			return nil, enrollmentdomain.ErrInvalidBranch
		}
		return scope.BranchID, nil
	}
	if requested != nil && *requested == 0 {
		return nil, nil
	}
	return requested, nil
}
