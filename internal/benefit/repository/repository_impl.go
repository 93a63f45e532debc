package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gymdesk/internal/benefit/domain"
	"github.com/smallbiznis/gymdesk/pkg/rls"
	"github.com/smallbiznis/gymdesk/pkg/tenantctx"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertBatch(ctx context.Context, db *gorm.DB, balances []domain.MemberBenefitBalance) error {
	if len(balances) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&balances).Error
}

func (r *repo) ListByMember(ctx context.Context, db *gorm.DB, scope tenantctx.Scope, memberID snowflake.ID) ([]domain.MemberBenefitBalance, error) {
	var balances []domain.MemberBenefitBalance
	err := db.WithContext(ctx).
		Scopes(rls.Owned(scope, "member_benefit_balances")).
		Where("member_benefit_balances.member_id = ?", memberID).
		Order("member_benefit_balances.id asc").
		Find(&balances).Error
	return balances, err
}
