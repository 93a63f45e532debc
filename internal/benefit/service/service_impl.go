package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	benefitdomain "github.com/smallbiznis/gymdesk/internal/benefit/domain"
	"github.com/smallbiznis/gymdesk/internal/clock"
	memberdomain "github.com/smallbiznis/gymdesk/internal/member/domain"
	plandomain "github.com/smallbiznis/gymdesk/internal/plan/domain"
	"github.com/smallbiznis/gymdesk/pkg/failure"
	"github.com/smallbiznis/gymdesk/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  benefitdomain.Repository
	Clock clock.Clock `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  benefitdomain.Repository
	clock clock.Clock
}

func NewService(p Params) benefitdomain.Service {
	c := p.Clock
	if c == nil {
		c = clock.NewSystemClock()
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("benefit.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: c,
	}
}

func (s *Service) InitializeTx(ctx context.Context, tx *gorm.DB, member *memberdomain.Member, startDate time.Time, definitions []plandomain.BenefitDefinition) ([]benefitdomain.MemberBenefitBalance, error) {
	if member == nil || member.ID == 0 {
		return nil, benefitdomain.ErrInvalidMember
	}

	balances := benefitdomain.InitializeBalances(member, startDate, definitions)
	if len(balances) == 0 {
		return nil, nil
	}

	now := s.clock.Now()
	for i := range balances {
		balances[i].ID = s.genID.Generate()
		balances[i].CreatedAt = now
		balances[i].UpdatedAt = now
	}
	if err := s.repo.InsertBatch(ctx, tx, balances); err != nil {
		return nil, failure.Aborted(err)
	}
	return balances, nil
}

func (s *Service) ListForMember(ctx context.Context, memberID snowflake.ID) ([]benefitdomain.MemberBenefitBalance, error) {
	scope, ok := tenantctx.FromContext(ctx)
	if !ok {
		return nil, benefitdomain.ErrInvalidTenant
	}
	balances, err := s.repo.ListByMember(ctx, s.db, scope, memberID)
	if err != nil {
		return nil, failure.Aborted(err)
	}
	return balances, nil
}
