package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gymdesk/internal/clock"
	plandomain "github.com/smallbiznis/gymdesk/internal/plan/domain"
	"github.com/smallbiznis/gymdesk/pkg/failure"
	"github.com/smallbiznis/gymdesk/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  plandomain.Repository
	Clock clock.Clock `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  plandomain.Repository
	clock clock.Clock
}

func NewService(p Params) plandomain.Service {
	c := p.Clock
	if c == nil {
		c = clock.NewSystemClock()
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("plan.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: c,
	}
}

func (s *Service) Create(ctx context.Context, req plandomain.CreatePlanRequest) (*plandomain.MembershipPlan, error) {
	scope, ok := tenantctx.FromContext(ctx)
	if !ok {
		return nil, plandomain.ErrInvalidTenant
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, plandomain.ErrInvalidName
	}
	if req.Price.IsNegative() || req.SetupFee.IsNegative() {
		return nil, plandomain.ErrInvalidPrice
	}
	if req.DurationDays <= 0 {
		return nil, plandomain.ErrInvalidDuration
	}

	branchID := req.BranchID
	if branchID == nil && scope.HasBranch() {
		branchID = scope.BranchID
	}

	var features datatypes.JSON
	if len(req.Features) > 0 {
		raw, err := json.Marshal(req.Features)
		if err != nil {
			return nil, err
		}
		features = datatypes.JSON(raw)
	}

	now := s.clock.Now()
	plan := &plandomain.MembershipPlan{
		ID:           s.genID.Generate(),
		TenantID:     scope.TenantID,
		BranchID:     branchID,
		Name:         name,
		Description:  strings.TrimSpace(req.Description),
		Price:        req.Price.Round(2),
		SetupFee:     req.SetupFee.Round(2),
		DurationDays: req.DurationDays,
		Features:     features,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	for _, b := range req.Benefits {
		if strings.TrimSpace(b.BenefitType) == "" || b.AccrualQuantity < 0 {
			return nil, plandomain.ErrInvalidBenefit
		}
		if !b.AccrualType.Valid() {
			return nil, plandomain.ErrInvalidAccrualType
		}
		if b.MaxBalance != nil && *b.MaxBalance < 0 {
			return nil, plandomain.ErrInvalidBenefit
		}
		benefitName := strings.TrimSpace(b.Name)
		if benefitName == "" {
			benefitName = strings.TrimSpace(b.BenefitType)
		}
		plan.Benefits = append(plan.Benefits, plandomain.BenefitDefinition{
			ID:              s.genID.Generate(),
			TenantID:        scope.TenantID,
			PlanID:          plan.ID,
			BenefitType:     strings.TrimSpace(b.BenefitType),
			Name:            benefitName,
			AccrualQuantity: b.AccrualQuantity,
			AccrualType:     b.AccrualType,
			MaxBalance:      b.MaxBalance,
			Rollover:        b.Rollover,
			ExpiryDays:      b.ExpiryDays,
			CreatedAt:       now,
		})
	}

	if err := s.repo.Insert(ctx, s.db, plan); err != nil {
		return nil, failure.Aborted(err)
	}

	s.log.Info("plan created",
		zap.String("tenant_id", scope.TenantID.String()),
		zap.String("plan_id", plan.ID.String()),
		zap.Int("benefits", len(plan.Benefits)),
	)
	return plan, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*plandomain.MembershipPlan, error) {
	scope, ok := tenantctx.FromContext(ctx)
	if !ok {
		return nil, plandomain.ErrInvalidTenant
	}
	plan, err := s.repo.FindActive(ctx, s.db, scope, id)
	if err != nil {
		return nil, failure.Aborted(err)
	}
	if plan == nil {
		return nil, plandomain.ErrPlanNotFound
	}
	return plan, nil
}

