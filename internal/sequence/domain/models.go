package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Kind string

const (
	KindInvoice    Kind = "invoice"
	KindCreditNote Kind = "credit_note"
	KindMember     Kind = "member"
)

// PeriodAll is used by sequences that never reset.
const PeriodAll = "all"

// DocumentSequence is the per-tenant counter behind human readable numbers.
type DocumentSequence struct {
	TenantID  snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	Kind      Kind         `gorm:"primaryKey;type:text"`
	Period    string       `gorm:"primaryKey;type:text"`
	LastValue int64        `gorm:"not null"`
	UpdatedAt time.Time    `gorm:"not null"`
}

func (DocumentSequence) TableName() string { return "document_sequences" }

// Service hands out gap-tolerant, never-repeating numbers inside the caller's transaction.
type Service interface {
	Next(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, kind Kind, period string) (int64, error)
	NextInvoiceNumber(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, at time.Time) (string, error)
	NextCreditNoteNumber(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, at time.Time) (string, error)
	NextMembershipNumber(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) (string, error)
}

var (
	ErrInvalidTenant = errors.New("invalid_tenant")
	ErrInvalidKind   = errors.New("invalid_sequence_kind")
)

// Format renders PREFIX-PERIOD-000123, omitting the period for PeriodAll.
func Format(prefix, period string, value int64, padding int) string {
	if padding <= 0 {
		padding = 6
	}
	number := fmt.Sprintf("%0*d", padding, value)
	prefix = strings.TrimSpace(prefix)
	if period == "" || period == PeriodAll {
		return prefix + "-" + number
	}
	return prefix + "-" + period + "-" + number
}

// YearPeriod returns the UTC calendar year of t.
func YearPeriod(t time.Time) string {
	return fmt.Sprintf("%04d", t.UTC().Year())
}
