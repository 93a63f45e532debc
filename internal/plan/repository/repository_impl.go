package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gymdesk/internal/plan/domain"
	"github.com/smallbiznis/gymdesk/pkg/rls"
	"github.com/smallbiznis/gymdesk/pkg/tenantctx"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, plan *domain.MembershipPlan) error {
	return db.WithContext(ctx).Create(plan).Error
}

// FindActive resolves an active plan visible to scope, tenant-wide plans included.
func (r *repo) FindActive(ctx context.Context, db *gorm.DB, scope tenantctx.Scope, id snowflake.ID) (*domain.MembershipPlan, error) {
	var plan domain.MembershipPlan
	err := db.WithContext(ctx).
		Scopes(rls.Catalog(scope, "membership_plans")).
		Where("membership_plans.id = ? AND membership_plans.is_active = ?", id, true).
		Preload("Benefits", func(tx *gorm.DB) *gorm.DB {
			return tx.Where("tenant_id = ?", scope.TenantID).Order("id asc")
		}).
		Take(&plan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &plan, nil
}
