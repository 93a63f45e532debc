package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	ledgerdomain "github.com/smallbiznis/gymdesk/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/gymdesk/internal/observability/metrics"
	"github.com/smallbiznis/gymdesk/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		obsMetrics: p.ObsMetrics,
	}
}

// PostTx writes one journal per (sourceType, sourceID). A repeat post for the
// same source is a no-op and reports false. Zero-amount lines are dropped.
func (s *Service) PostTx(
	ctx context.Context,
	tx *gorm.DB,
	scope tenantctx.Scope,
	sourceType ledgerdomain.LedgerSourceType,
	sourceID snowflake.ID,
	occurredAt time.Time,
	postings []ledgerdomain.Posting,
) (bool, error) {
	if !scope.Valid() {
		return false, ledgerdomain.ErrInvalidTenant
	}
	if strings.TrimSpace(string(sourceType)) == "" {
		return false, ledgerdomain.ErrInvalidSourceType
	}
	if sourceID == 0 {
		return false, ledgerdomain.ErrInvalidSourceID
	}
	if occurredAt.IsZero() {
		return false, ledgerdomain.ErrInvalidOccurredAt
	}

	normalized := make([]ledgerdomain.Posting, 0, len(postings))
	for _, p := range postings {
		if strings.TrimSpace(string(p.Account)) == "" {
			return false, ledgerdomain.ErrInvalidAccount
		}
		direction, err := normalizeDirection(p.Direction)
		if err != nil {
			return false, err
		}
		if p.Amount.IsNegative() {
			return false, ledgerdomain.ErrInvalidLineAmount
		}
		if p.Amount.IsZero() {
			continue
		}
		normalized = append(normalized, ledgerdomain.Posting{
			Account:   p.Account,
			Direction: direction,
			Amount:    ledgerdomain.RoundMoney(p.Amount),
		})
	}
	if len(normalized) == 0 {
		return false, nil
	}
	if len(normalized) < 2 {
		return false, ledgerdomain.ErrInvalidEntryLines
	}
	if err := ledgerdomain.ValidateBalanced(normalized); err != nil {
		return false, err
	}

	now := time.Now().UTC()
	entry := ledgerdomain.LedgerEntry{
		ID:         s.genID.Generate(),
		TenantID:   scope.TenantID,
		BranchID:   scope.BranchID,
		SourceType: sourceType,
		SourceID:   sourceID,
		OccurredAt: occurredAt.UTC(),
		CreatedAt:  now,
	}
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "source_type"}, {Name: "source_id"}},
			DoNothing: true,
		}).
		Create(&entry)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}

	for _, p := range normalized {
		accountID, err := s.ensureAccount(ctx, tx, scope.TenantID, p.Account, now)
		if err != nil {
			return false, err
		}
		line := ledgerdomain.LedgerEntryLine{
			ID:            s.genID.Generate(),
			LedgerEntryID: entry.ID,
			AccountID:     accountID,
			Direction:     p.Direction,
			Amount:        p.Amount,
			CreatedAt:     now,
		}
		if err := tx.WithContext(ctx).Create(&line).Error; err != nil {
			return false, err
		}
	}

	s.obsMetrics.RecordLedgerEntry(ctx, string(sourceType))
	return true, nil
}

// Balance returns debits minus credits for an account.
func (s *Service) Balance(ctx context.Context, tenantID snowflake.ID, code ledgerdomain.LedgerAccountCode) (decimal.Decimal, error) {
	if tenantID == 0 {
		return decimal.Zero, ledgerdomain.ErrInvalidTenant
	}

	var lines []ledgerdomain.LedgerEntryLine
	err := s.db.WithContext(ctx).
		Table("ledger_entry_lines").
		Select("ledger_entry_lines.*").
		Joins("JOIN ledger_accounts ON ledger_accounts.id = ledger_entry_lines.account_id").
		Where("ledger_accounts.tenant_id = ? AND ledger_accounts.code = ?", tenantID, code).
		Find(&lines).Error
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, line := range lines {
		if line.Direction == ledgerdomain.LedgerEntryDirectionDebit {
			total = total.Add(line.Amount)
		} else {
			total = total.Sub(line.Amount)
		}
	}
	return total, nil
}

func (s *Service) ensureAccount(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, code ledgerdomain.LedgerAccountCode, now time.Time) (snowflake.ID, error) {
	var account ledgerdomain.LedgerAccount
	err := tx.WithContext(ctx).
		Where("tenant_id = ? AND code = ?", tenantID, code).
		Take(&account).Error
	if err == nil {
		return account.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, err
	}

	account = ledgerdomain.LedgerAccount{
		ID:        s.genID.Generate(),
		TenantID:  tenantID,
		Code:      code,
		Name:      ledgerdomain.AccountName(code),
		CreatedAt: now,
	}
	if err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "code"}},
			DoNothing: true,
		}).
		Create(&account).Error; err != nil {
		return 0, err
	}

	var stored ledgerdomain.LedgerAccount
	if err := tx.WithContext(ctx).
		Where("tenant_id = ? AND code = ?", tenantID, code).
		Take(&stored).Error; err != nil {
		return 0, err
	}
	return stored.ID, nil
}

func normalizeDirection(direction ledgerdomain.LedgerEntryDirection) (ledgerdomain.LedgerEntryDirection, error) {
	normalized := strings.ToLower(strings.TrimSpace(string(direction)))
	switch normalized {
	case string(ledgerdomain.LedgerEntryDirectionDebit):
		return ledgerdomain.LedgerEntryDirectionDebit, nil
	case string(ledgerdomain.LedgerEntryDirectionCredit):
		return ledgerdomain.LedgerEntryDirectionCredit, nil
	default:
		return "", ledgerdomain.ErrInvalidLineDirection
	}
}
