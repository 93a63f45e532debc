package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/gymdesk/pkg/tenantctx"
	"gorm.io/gorm"
)

// Service posts balanced double-entry journals. PostTx joins the caller's
// transaction so a journal never outlives a rolled back business write.
type Service interface {
	PostTx(ctx context.Context, tx *gorm.DB, scope tenantctx.Scope, sourceType LedgerSourceType, sourceID snowflake.ID, occurredAt time.Time, postings []Posting) (bool, error)
	Balance(ctx context.Context, tenantID snowflake.ID, code LedgerAccountCode) (decimal.Decimal, error)
}

var (
	ErrInvalidTenant        = errors.New("invalid_tenant")
	ErrInvalidSourceType    = errors.New("invalid_source_type")
	ErrInvalidSourceID      = errors.New("invalid_source_id")
	ErrInvalidOccurredAt    = errors.New("invalid_occurred_at")
	ErrInvalidEntryLines    = errors.New("invalid_entry_lines")
	ErrInvalidAccount       = errors.New("invalid_account")
	ErrInvalidLineDirection = errors.New("invalid_line_direction")
	ErrInvalidLineAmount    = errors.New("invalid_line_amount")
	ErrUnbalancedEntry      = errors.New("unbalanced_entry")
)

// ValidateBalanced checks that debits equal credits exactly.
func ValidateBalanced(postings []Posting) error {
	debits := decimal.Zero
	credits := decimal.Zero
	for _, p := range postings {
		switch p.Direction {
		case LedgerEntryDirectionDebit:
			debits = debits.Add(p.Amount)
		case LedgerEntryDirectionCredit:
			credits = credits.Add(p.Amount)
		default:
			return ErrInvalidLineDirection
		}
	}
	if !debits.Equal(credits) {
		return ErrUnbalancedEntry
	}
	return nil
}
