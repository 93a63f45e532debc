package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/gymdesk/internal/clock"
	coupondomain "github.com/smallbiznis/gymdesk/internal/coupon/domain"
	obsmetrics "github.com/smallbiznis/gymdesk/internal/observability/metrics"
	"github.com/smallbiznis/gymdesk/pkg/db"
	"github.com/smallbiznis/gymdesk/pkg/failure"
	"github.com/smallbiznis/gymdesk/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Repo      coupondomain.Repository
	Clock     clock.Clock                  `optional:"true"`
	Metrics   *obsmetrics.Metrics          `optional:"true"`
	TxMetrics *obsmetrics.ReconcileMetrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	repo      coupondomain.Repository
	clock     clock.Clock
	metrics   *obsmetrics.Metrics
	txMetrics *obsmetrics.ReconcileMetrics
}

func NewService(p Params) coupondomain.Service {
	c := p.Clock
	if c == nil {
		c = clock.NewSystemClock()
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("coupon.service"),
		genID:     p.GenID,
		repo:      p.Repo,
		clock:     c,
		metrics:   p.Metrics,
		txMetrics: p.TxMetrics,
	}
}

// TryRedeem resolves code and checks it against the plan and purchase amount.
// It does not consume a usage slot.
func (s *Service) TryRedeem(ctx context.Context, tx *gorm.DB, scope tenantctx.Scope, code string, planID snowflake.ID, purchaseAmount decimal.Decimal) (*coupondomain.Redemption, error) {
	code = coupondomain.NormalizeCode(code)
	if code == "" {
		return nil, coupondomain.ErrCouponNotFound
	}

	coupon, err := s.repo.FindRedeemable(ctx, tx, scope, code, s.clock.Now())
	if err != nil {
		return nil, failure.Aborted(err)
	}
	if coupon == nil {
		s.metrics.RecordCouponRedemption(ctx, "", failure.CodeOf(coupondomain.ErrCouponNotFound))
		return nil, coupondomain.ErrCouponNotFound
	}

	discount, err := coupondomain.Evaluate(coupon, planID, purchaseAmount)
	if err != nil {
		s.metrics.RecordCouponRedemption(ctx, string(coupon.DiscountType), failure.CodeOf(err))
		s.log.Info("coupon rejected",
			zap.String("tenant_id", scope.TenantID.String()),
			zap.String("coupon_id", coupon.ID.String()),
			zap.String("reason", failure.CodeOf(err)),
		)
		return nil, err
	}
	return &coupondomain.Redemption{Coupon: coupon, Discount: discount}, nil
}

// Claim must run in the same transaction that records the usage.
func (s *Service) Claim(ctx context.Context, tx *gorm.DB, scope tenantctx.Scope, coupon *coupondomain.Coupon) error {
	if coupon == nil {
		return coupondomain.ErrCouponNotFound
	}
	claimed, err := s.repo.Claim(ctx, tx, scope.TenantID, coupon.ID, s.clock.Now())
	if err != nil {
		return failure.Aborted(err)
	}
	if !claimed {
		s.txMetrics.IncClaimConflict()
		s.log.Warn("coupon claim lost race",
			zap.String("tenant_id", scope.TenantID.String()),
			zap.String("coupon_id", coupon.ID.String()),
		)
		return coupondomain.ErrUsageLimitExceeded
	}
	coupon.CurrentUsageCount++
	return nil
}

func (s *Service) RecordUsage(ctx context.Context, tx *gorm.DB, scope tenantctx.Scope, usage coupondomain.UsageRecord) (*coupondomain.CouponUsage, error) {
	row := &coupondomain.CouponUsage{
		ID:             s.genID.Generate(),
		TenantID:       scope.TenantID,
		CouponID:       usage.CouponID,
		MemberID:       usage.MemberID,
		InvoiceID:      usage.InvoiceID,
		DiscountAmount: usage.DiscountAmount,
		UsedAt:         s.clock.Now(),
	}
	if err := s.repo.InsertUsage(ctx, tx, row); err != nil {
		return nil, failure.Aborted(err)
	}
	return row, nil
}

func (s *Service) Validate(ctx context.Context, req coupondomain.ValidateRequest) (*coupondomain.Redemption, error) {
	scope, ok := tenantctx.FromContext(ctx)
	if !ok {
		return nil, coupondomain.ErrInvalidTenant
	}
	if req.PurchaseAmount.IsNegative() {
		return nil, coupondomain.ErrInvalidPurchaseAmount
	}
	return s.TryRedeem(ctx, s.db, scope, req.Code, req.PlanID, req.PurchaseAmount)
}

func (s *Service) Create(ctx context.Context, req coupondomain.CreateCouponRequest) (*coupondomain.Coupon, error) {
	scope, ok := tenantctx.FromContext(ctx)
	if !ok {
		return nil, coupondomain.ErrInvalidTenant
	}

	code := coupondomain.NormalizeCode(req.Code)
	if code == "" {
		return nil, coupondomain.ErrInvalidCode
	}
	switch req.DiscountType {
	case coupondomain.DiscountTypePercentage:
		if req.DiscountValue.GreaterThan(decimal.NewFromInt(100)) {
			return nil, coupondomain.ErrInvalidDiscountValue
		}
	case coupondomain.DiscountTypeFlatAmount:
	default:
		return nil, coupondomain.ErrInvalidDiscountType
	}
	if !req.DiscountValue.IsPositive() {
		return nil, coupondomain.ErrInvalidDiscountValue
	}
	if req.ValidFrom.IsZero() || req.ValidUntil.IsZero() || req.ValidUntil.Before(req.ValidFrom) {
		return nil, coupondomain.ErrInvalidValidity
	}
	if req.MaxUsageCount != nil && *req.MaxUsageCount <= 0 {
		return nil, coupondomain.ErrInvalidUsageLimit
	}

	planIDs, err := coupondomain.EncodePlanIDs(req.ApplicablePlanIDs)
	if err != nil {
		return nil, err
	}

	var minPurchase decimal.NullDecimal
	if req.MinPurchaseAmount != nil {
		if req.MinPurchaseAmount.IsNegative() {
			return nil, coupondomain.ErrInvalidPurchaseAmount
		}
		minPurchase = decimal.NewNullDecimal(req.MinPurchaseAmount.Round(2))
	}

	branchID := req.BranchID
	if branchID == nil && scope.HasBranch() {
		branchID = scope.BranchID
	}

	now := s.clock.Now()
	coupon := &coupondomain.Coupon{
		ID:                s.genID.Generate(),
		TenantID:          scope.TenantID,
		BranchID:          branchID,
		Code:              code,
		Description:       strings.TrimSpace(req.Description),
		DiscountType:      req.DiscountType,
		DiscountValue:     req.DiscountValue.Round(2),
		ValidFrom:         req.ValidFrom.UTC(),
		ValidUntil:        req.ValidUntil.UTC(),
		MaxUsageCount:     req.MaxUsageCount,
		ApplicablePlanIDs: planIDs,
		MinPurchaseAmount: minPurchase,
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.Insert(ctx, s.db, coupon); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, coupondomain.ErrCouponCodeExists
		}
		return nil, failure.Aborted(err)
	}

	s.log.Info("coupon created",
		zap.String("tenant_id", scope.TenantID.String()),
		zap.String("coupon_id", coupon.ID.String()),
		zap.String("discount_type", string(coupon.DiscountType)),
	)
	return coupon, nil
}
