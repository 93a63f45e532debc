package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gymdesk/internal/member/domain"
	"github.com/smallbiznis/gymdesk/pkg/rls"
	"github.com/smallbiznis/gymdesk/pkg/tenantctx"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, member *domain.Member) error {
	return db.WithContext(ctx).Create(member).Error
}

func (r *repo) InsertMembership(ctx context.Context, db *gorm.DB, membership *domain.MemberMembership) error {
	return db.WithContext(ctx).Create(membership).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, scope tenantctx.Scope, id snowflake.ID) (*domain.Member, error) {
	var member domain.Member
	err := db.WithContext(ctx).
		Scopes(rls.Owned(scope, "members")).
		Where("members.id = ?", id).
		Take(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *repo) ReferralCodeExists(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, code string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.Member{}).
		Where("tenant_id = ? AND referral_code = ?", tenantID, code).
		Count(&count).Error
	return count > 0, err
}

func (r *repo) List(ctx context.Context, db *gorm.DB, scope tenantctx.Scope, status domain.MemberStatus, afterID snowflake.ID, limit int) ([]*domain.Member, error) {
	var members []*domain.Member
	stmt := db.WithContext(ctx).Model(&domain.Member{}).
		Scopes(rls.Owned(scope, "members"))
	if status != "" {
		stmt = stmt.Where("members.status = ?", status)
	}
	if afterID != 0 {
		stmt = stmt.Where("members.id < ?", afterID)
	}
	stmt = stmt.Order("members.id desc")
	if limit > 0 {
		stmt = stmt.Limit(limit + 1)
	}
	if err := stmt.Find(&members).Error; err != nil {
		return nil, err
	}
	return members, nil
}

func (r *repo) ListMemberships(ctx context.Context, db *gorm.DB, scope tenantctx.Scope, memberID snowflake.ID) ([]domain.MemberMembership, error) {
	var memberships []domain.MemberMembership
	err := db.WithContext(ctx).
		Scopes(rls.Owned(scope, "member_memberships")).
		Where("member_memberships.member_id = ?", memberID).
		Order("member_memberships.start_date desc").
		Find(&memberships).Error
	return memberships, err
}
