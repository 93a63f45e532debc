package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// LedgerEntryDirection represents debit or credit postings.
type LedgerEntryDirection string

const (
	LedgerEntryDirectionDebit  LedgerEntryDirection = "debit"
	LedgerEntryDirectionCredit LedgerEntryDirection = "credit"
)

type LedgerSourceType string

const (
	SourceTypeInvoice LedgerSourceType = "invoice" // membership or ad-hoc invoice issued
	SourceTypePayment LedgerSourceType = "payment" // money received against an invoice
	SourceTypeRefund  LedgerSourceType = "refund"  // credit note paid back to the member
)

type LedgerAccountCode string

const (
	// Assets
	AccountCodeAccountsReceivable LedgerAccountCode = "accounts_receivable"
	AccountCodeCash               LedgerAccountCode = "cash"

	// Revenue
	AccountCodeRevenueMembership LedgerAccountCode = "revenue_membership"
	AccountCodeDiscounts         LedgerAccountCode = "discounts_given"

	// Liabilities
	AccountCodeTaxPayable LedgerAccountCode = "tax_payable"
	AccountCodeRefundLiab LedgerAccountCode = "refund_liability"
)

var accountNames = map[LedgerAccountCode]string{
	AccountCodeAccountsReceivable: "Accounts Receivable",
	AccountCodeCash:               "Cash",
	AccountCodeRevenueMembership:  "Membership Revenue",
	AccountCodeDiscounts:          "Discounts Given",
	AccountCodeTaxPayable:         "Tax Payable",
	AccountCodeRefundLiab:         "Refund Liability",
}

// AccountName returns the display name for a chart-of-accounts code.
func AccountName(code LedgerAccountCode) string {
	if name, ok := accountNames[code]; ok {
		return name
	}
	return string(code)
}

// LedgerAccount defines a chart-of-accounts entry.
type LedgerAccount struct {
	ID        snowflake.ID      `gorm:"primaryKey"`
	TenantID  snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_ledger_accounts_tenant_code,priority:1"`
	Code      LedgerAccountCode `gorm:"type:text;not null;uniqueIndex:ux_ledger_accounts_tenant_code,priority:2"`
	Name      string            `gorm:"type:text;not null"`
	CreatedAt time.Time         `gorm:"not null"`
}

// TableName sets the database table name.
func (LedgerAccount) TableName() string { return "ledger_accounts" }

// LedgerEntry captures the immutable header for a financial event.
type LedgerEntry struct {
	ID         snowflake.ID     `gorm:"primaryKey"`
	TenantID   snowflake.ID     `gorm:"not null;index;uniqueIndex:ux_ledger_entries_source,priority:1"`
	BranchID   *snowflake.ID    `gorm:"index"`
	SourceType LedgerSourceType `gorm:"type:text;not null;uniqueIndex:ux_ledger_entries_source,priority:2"`
	SourceID   snowflake.ID     `gorm:"not null;uniqueIndex:ux_ledger_entries_source,priority:3"`
	OccurredAt time.Time        `gorm:"not null"`
	CreatedAt  time.Time        `gorm:"not null"`
}

// TableName sets the database table name.
func (LedgerEntry) TableName() string { return "ledger_entries" }

// LedgerEntryLine is a double-entry posting line.
type LedgerEntryLine struct {
	ID            snowflake.ID         `gorm:"primaryKey"`
	LedgerEntryID snowflake.ID         `gorm:"not null;index"`
	AccountID     snowflake.ID         `gorm:"not null;index"`
	Direction     LedgerEntryDirection `gorm:"type:text;not null"`
	Amount        decimal.Decimal      `gorm:"type:numeric(20,2);not null"`
	CreatedAt     time.Time            `gorm:"not null"`
}

// TableName sets the database table name.
func (LedgerEntryLine) TableName() string { return "ledger_entry_lines" }

// Posting is one requested line before account resolution.
type Posting struct {
	Account   LedgerAccountCode
	Direction LedgerEntryDirection
	Amount    decimal.Decimal
}

func Debit(account LedgerAccountCode, amount decimal.Decimal) Posting {
	return Posting{Account: account, Direction: LedgerEntryDirectionDebit, Amount: amount}
}

func Credit(account LedgerAccountCode, amount decimal.Decimal) Posting {
	return Posting{Account: account, Direction: LedgerEntryDirectionCredit, Amount: amount}
}
