package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gymdesk/internal/coupon/domain"
	"github.com/smallbiznis/gymdesk/pkg/rls"
	"github.com/smallbiznis/gymdesk/pkg/tenantctx"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, coupon *domain.Coupon) error {
	return db.WithContext(ctx).Create(coupon).Error
}

// FindRedeemable returns an active, in-window coupon visible to scope.
func (r *repo) FindRedeemable(ctx context.Context, db *gorm.DB, scope tenantctx.Scope, code string, at time.Time) (*domain.Coupon, error) {
	var coupon domain.Coupon
	err := db.WithContext(ctx).
		Scopes(rls.Catalog(scope, "coupons")).
		Where("coupons.code = ? AND coupons.is_active = ?", code, true).
		Where("coupons.valid_from <= ? AND coupons.valid_until >= ?", at, at).
		Take(&coupon).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &coupon, nil
}

// Claim takes one usage slot if the cap still allows it at write time.
func (r *repo) Claim(ctx context.Context, db *gorm.DB, tenantID, couponID snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Coupon{}).
		Where("id = ? AND tenant_id = ?", couponID, tenantID).
		Where("max_usage_count IS NULL OR current_usage_count < max_usage_count").
		Updates(map[string]any{
			"current_usage_count": gorm.Expr("current_usage_count + 1"),
			"updated_at":          at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) InsertUsage(ctx context.Context, db *gorm.DB, usage *domain.CouponUsage) error {
	return db.WithContext(ctx).Create(usage).Error
}

func (r *repo) CountUsages(ctx context.Context, db *gorm.DB, tenantID, couponID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.CouponUsage{}).
		Where("tenant_id = ? AND coupon_id = ?", tenantID, couponID).
		Count(&count).Error
	return count, err
}
