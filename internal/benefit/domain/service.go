package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	memberdomain "github.com/smallbiznis/gymdesk/internal/member/domain"
	plandomain "github.com/smallbiznis/gymdesk/internal/plan/domain"
	"github.com/smallbiznis/gymdesk/pkg/tenantctx"
	"gorm.io/gorm"
)

type Repository interface {
	InsertBatch(ctx context.Context, db *gorm.DB, balances []MemberBenefitBalance) error
	ListByMember(ctx context.Context, db *gorm.DB, scope tenantctx.Scope, memberID snowflake.ID) ([]MemberBenefitBalance, error)
}

type Service interface {
	// InitializeTx computes and stores opening balances inside tx.
	InitializeTx(ctx context.Context, tx *gorm.DB, member *memberdomain.Member, startDate time.Time, definitions []plandomain.BenefitDefinition) ([]MemberBenefitBalance, error)
	ListForMember(ctx context.Context, memberID snowflake.ID) ([]MemberBenefitBalance, error)
}

var (
	ErrInvalidTenant = errors.New("invalid_tenant")
	ErrInvalidMember = errors.New("invalid_member")
)
