package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gymdesk/internal/invoice/domain"
	"github.com/smallbiznis/gymdesk/pkg/db"
	"github.com/smallbiznis/gymdesk/pkg/rls"
	"github.com/smallbiznis/gymdesk/pkg/tenantctx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertInvoice(ctx context.Context, tx *gorm.DB, invoice *domain.Invoice) error {
	return tx.WithContext(ctx).Create(invoice).Error
}

func (r *repo) FindByID(ctx context.Context, tx *gorm.DB, scope tenantctx.Scope, id snowflake.ID) (*domain.Invoice, error) {
	var invoice domain.Invoice
	err := tx.WithContext(ctx).
		Scopes(rls.Owned(scope, "invoices")).
		Where("invoices.id = ?", id).
		Preload("Items", func(q *gorm.DB) *gorm.DB { return q.Order("id asc") }).
		Take(&invoice).Error
	return found(&invoice, err)
}

// FindForUpdate re-reads the invoice under a row lock so the caller computes
// against the latest committed money state.
func (r *repo) FindForUpdate(ctx context.Context, tx *gorm.DB, scope tenantctx.Scope, id snowflake.ID) (*domain.Invoice, error) {
	var invoice domain.Invoice
	err := db.ForUpdate(tx.WithContext(ctx)).
		Scopes(rls.Owned(scope, "invoices")).
		Where("invoices.id = ?", id).
		Take(&invoice).Error
	return found(&invoice, err)
}

func (r *repo) FindOwner(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	var invoice domain.Invoice
	err := tx.WithContext(ctx).
		Select("id", "tenant_id", "branch_id").
		Where("id = ?", id).
		Take(&invoice).Error
	return found(&invoice, err)
}

func (r *repo) UpdateMoney(ctx context.Context, tx *gorm.DB, invoice *domain.Invoice) error {
	return tx.WithContext(ctx).
		Model(&domain.Invoice{}).
		Where("id = ? AND tenant_id = ?", invoice.ID, invoice.TenantID).
		Updates(map[string]any{
			"paid_amount":    invoice.PaidAmount,
			"balance_amount": invoice.BalanceAmount,
			"status":         invoice.Status,
			"paid_at":        invoice.PaidAt,
			"updated_at":     invoice.UpdatedAt,
		}).Error
}

func (r *repo) UpdateStatus(ctx context.Context, tx *gorm.DB, invoice *domain.Invoice) error {
	return tx.WithContext(ctx).
		Model(&domain.Invoice{}).
		Where("id = ? AND tenant_id = ?", invoice.ID, invoice.TenantID).
		Updates(map[string]any{
			"status":     invoice.Status,
			"sent_at":    invoice.SentAt,
			"updated_at": invoice.UpdatedAt,
		}).Error
}

func (r *repo) List(ctx context.Context, tx *gorm.DB, scope tenantctx.Scope, filter domain.ListFilter) ([]*domain.Invoice, error) {
	var invoices []*domain.Invoice
	stmt := tx.WithContext(ctx).Model(&domain.Invoice{}).
		Scopes(rls.Owned(scope, "invoices"))
	if filter.Status != "" {
		stmt = stmt.Where("invoices.status = ?", filter.Status)
	}
	if filter.MemberID != nil {
		stmt = stmt.Where("invoices.member_id = ?", *filter.MemberID)
	}
	if filter.AfterID != 0 {
		stmt = stmt.Where("invoices.id < ?", filter.AfterID)
	}
	stmt = stmt.Order("invoices.id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}
	if err := stmt.Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repo) InsertPayment(ctx context.Context, tx *gorm.DB, payment *domain.Payment) error {
	return tx.WithContext(ctx).Create(payment).Error
}

func (r *repo) ListPayments(ctx context.Context, tx *gorm.DB, scope tenantctx.Scope, invoiceID snowflake.ID) ([]domain.Payment, error) {
	var payments []domain.Payment
	err := tx.WithContext(ctx).
		Scopes(rls.Owned(scope, "payments")).
		Where("payments.invoice_id = ?", invoiceID).
		Order("payments.paid_at asc, payments.id asc").
		Find(&payments).Error
	return payments, err
}

func (r *repo) InsertRefund(ctx context.Context, tx *gorm.DB, refund *domain.Refund) error {
	return tx.WithContext(ctx).Create(refund).Error
}

func (r *repo) InsertGatewayLog(ctx context.Context, tx *gorm.DB, log *domain.PaymentGatewayLog) (bool, error) {
	res := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "gateway_payment_id"}},
			DoNothing: true,
		}).
		Create(log)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindGatewayLog(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, gatewayPaymentID string) (*domain.PaymentGatewayLog, error) {
	var log domain.PaymentGatewayLog
	err := db.ForUpdate(tx.WithContext(ctx)).
		Where("tenant_id = ? AND gateway_payment_id = ?", tenantID, gatewayPaymentID).
		Take(&log).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}

func (r *repo) UpdateGatewayLog(ctx context.Context, tx *gorm.DB, log *domain.PaymentGatewayLog) error {
	return tx.WithContext(ctx).
		Model(&domain.PaymentGatewayLog{}).
		Where("id = ?", log.ID).
		Updates(map[string]any{
			"status":      log.Status,
			"amount":      log.Amount,
			"method":      log.Method,
			"outcome":     log.Outcome,
			"payment_id":  log.PaymentID,
			"payload":     log.Payload,
			"received_at": log.ReceivedAt,
		}).Error
}

func found(invoice *domain.Invoice, err error) (*domain.Invoice, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return invoice, nil
}
