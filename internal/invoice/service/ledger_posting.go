package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/gymdesk/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/gymdesk/internal/ledger/domain"
	"github.com/smallbiznis/gymdesk/pkg/tenantctx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// invoicePostings recognizes an issued invoice:
//
//	Debit:  Accounts Receivable (total)
//	Debit:  Discounts Given (discount)
//	Credit: Membership Revenue (subtotal)
//	Credit: Tax Payable (tax)
func invoicePostings(invoice *invoicedomain.Invoice) []ledgerdomain.Posting {
	return []ledgerdomain.Posting{
		ledgerdomain.Debit(ledgerdomain.AccountCodeAccountsReceivable, invoice.TotalAmount),
		ledgerdomain.Debit(ledgerdomain.AccountCodeDiscounts, invoice.DiscountAmount),
		ledgerdomain.Credit(ledgerdomain.AccountCodeRevenueMembership, invoice.Subtotal),
		ledgerdomain.Credit(ledgerdomain.AccountCodeTaxPayable, invoice.TaxAmount),
	}
}

func paymentPostings(amount decimal.Decimal) []ledgerdomain.Posting {
	return []ledgerdomain.Posting{
		ledgerdomain.Debit(ledgerdomain.AccountCodeCash, amount),
		ledgerdomain.Credit(ledgerdomain.AccountCodeAccountsReceivable, amount),
	}
}

func refundPostings(amount decimal.Decimal) []ledgerdomain.Posting {
	return []ledgerdomain.Posting{
		ledgerdomain.Debit(ledgerdomain.AccountCodeRefundLiab, amount),
		ledgerdomain.Credit(ledgerdomain.AccountCodeCash, amount),
	}
}

// postInvoice is idempotent per invoice, so payment paths call it too to make
// sure receivables exist before cash is applied against them.
func (s *Service) postInvoice(ctx context.Context, tx *gorm.DB, scope tenantctx.Scope, invoice *invoicedomain.Invoice, at time.Time) error {
	return s.post(ctx, tx, scope, ledgerdomain.SourceTypeInvoice, invoice.ID, at, invoicePostings(invoice))
}

func (s *Service) postPayment(ctx context.Context, tx *gorm.DB, scope tenantctx.Scope, payment *invoicedomain.Payment) error {
	return s.post(ctx, tx, scope, ledgerdomain.SourceTypePayment, payment.ID, payment.PaidAt, paymentPostings(payment.Amount))
}

func (s *Service) postRefund(ctx context.Context, tx *gorm.DB, scope tenantctx.Scope, refund *invoicedomain.Refund) error {
	return s.post(ctx, tx, scope, ledgerdomain.SourceTypeRefund, refund.ID, refund.CreatedAt, refundPostings(refund.Amount))
}

func (s *Service) post(ctx context.Context, tx *gorm.DB, scope tenantctx.Scope, sourceType ledgerdomain.LedgerSourceType, sourceID snowflake.ID, at time.Time, postings []ledgerdomain.Posting) error {
	if s.ledgerSvc == nil {
		return nil
	}
	posted, err := s.ledgerSvc.PostTx(ctx, tx, scope, sourceType, sourceID, at, postings)
	if err != nil {
		return fmt.Errorf("post %s %s to ledger: %w", sourceType, sourceID, err)
	}
	if posted {
		s.log.Debug("posted to ledger",
			zap.String("source_type", string(sourceType)),
			zap.String("source_id", sourceID.String()),
		)
	}
	return nil
}
