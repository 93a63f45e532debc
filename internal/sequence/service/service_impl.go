package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gymdesk/internal/config"
	"github.com/smallbiznis/gymdesk/internal/sequence/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	Billing *config.BillingConfigHolder `optional:"true"`
}

type Service struct {
	log     *zap.Logger
	billing *config.BillingConfigHolder
}

func NewService(p Params) domain.Service {
	return &Service{
		log:     p.Log.Named("sequence.service"),
		billing: p.Billing,
	}
}

// Next increments the (tenant, kind, period) counter with a single upsert so
// concurrent transactions serialize on the counter row.
func (s *Service) Next(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, kind domain.Kind, period string) (int64, error) {
	if tenantID == 0 {
		return 0, domain.ErrInvalidTenant
	}
	if strings.TrimSpace(string(kind)) == "" {
		return 0, domain.ErrInvalidKind
	}
	period = strings.TrimSpace(period)
	if period == "" {
		period = domain.PeriodAll
	}

	row := domain.DocumentSequence{
		TenantID:  tenantID,
		Kind:      kind,
		Period:    period,
		LastValue: 1,
		UpdatedAt: time.Now().UTC(),
	}
	err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "tenant_id"}, {Name: "kind"}, {Name: "period"}},
			DoUpdates: clause.Assignments(map[string]any{
				"last_value": gorm.Expr("document_sequences.last_value + 1"),
				"updated_at": row.UpdatedAt,
			}),
		}).
		Create(&row).Error
	if err != nil {
		return 0, err
	}

	var current domain.DocumentSequence
	if err := tx.WithContext(ctx).
		Where("tenant_id = ? AND kind = ? AND period = ?", tenantID, kind, period).
		Take(&current).Error; err != nil {
		return 0, err
	}
	return current.LastValue, nil
}

func (s *Service) NextInvoiceNumber(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, at time.Time) (string, error) {
	numbering := s.billing.Get().Numbering
	period := domain.YearPeriod(at)
	value, err := s.Next(ctx, tx, tenantID, domain.KindInvoice, period)
	if err != nil {
		return "", err
	}
	return domain.Format(numbering.InvoicePrefix, period, value, numbering.Padding), nil
}

func (s *Service) NextCreditNoteNumber(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, at time.Time) (string, error) {
	numbering := s.billing.Get().Numbering
	period := domain.YearPeriod(at)
	value, err := s.Next(ctx, tx, tenantID, domain.KindCreditNote, period)
	if err != nil {
		return "", err
	}
	return domain.Format(numbering.CreditNotePrefix, period, value, numbering.Padding), nil
}

func (s *Service) NextMembershipNumber(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) (string, error) {
	numbering := s.billing.Get().Numbering
	value, err := s.Next(ctx, tx, tenantID, domain.KindMember, domain.PeriodAll)
	if err != nil {
		return "", err
	}
	return domain.Format(numbering.MemberPrefix, domain.PeriodAll, value, numbering.Padding), nil
}
