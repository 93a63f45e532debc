package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	ledgerdomain "github.com/smallbiznis/gymdesk/internal/ledger/domain"
	"github.com/smallbiznis/gymdesk/pkg/db/pagination"
	"github.com/smallbiznis/gymdesk/pkg/failure"
	"github.com/smallbiznis/gymdesk/pkg/tenantctx"
	"gorm.io/gorm"
)

type LineInput struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
}

// IssuePaidInput describes an invoice charged in full at creation.
type IssuePaidInput struct {
	MemberID      snowflake.ID
	MembershipID  *snowflake.ID
	CouponID      *snowflake.ID
	Items         []LineInput
	Discount      decimal.Decimal
	PaymentMethod string
	IssuedAt      time.Time
}

type CreateInvoiceRequest struct {
	MemberID       snowflake.ID    `json:"member_id"`
	Items          []LineInput     `json:"items"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	DueDate        *time.Time      `json:"due_date,omitempty"`
	Notes          string          `json:"notes,omitempty"`
}

type RecordPaymentRequest struct {
	InvoiceID        snowflake.ID    `json:"-"`
	Amount           decimal.Decimal `json:"amount"`
	Method           string          `json:"method"`
	GatewayPaymentID *string         `json:"gateway_payment_id,omitempty"`
	GatewayOrderID   *string         `json:"gateway_order_id,omitempty"`
	Notes            string          `json:"notes,omitempty"`
}

type RecordRefundRequest struct {
	InvoiceID       snowflake.ID    `json:"-"`
	Amount          decimal.Decimal `json:"amount"`
	Method          string          `json:"method"`
	Reason          string          `json:"reason"`
	GatewayRefundID *string         `json:"gateway_refund_id,omitempty"`
}

type PaymentResult struct {
	Payment Payment `json:"payment"`
	Invoice Invoice `json:"invoice"`
}

type RefundResult struct {
	Refund           Refund  `json:"refund"`
	CreditNoteNumber string  `json:"credit_note_number"`
	Invoice          Invoice `json:"invoice"`
}

// WebhookDelivery is one inbound gateway notification.
type WebhookDelivery struct {
	InvoiceID        snowflake.ID
	GatewayPaymentID string
	Status           string
	Amount           decimal.Decimal
	Method           string
	Payload          []byte
}

// WebhookResult reports what a delivery did. Duplicate is set when the
// gateway payment id had already been processed.
type WebhookResult struct {
	Outcome   GatewayOutcome `json:"outcome"`
	Duplicate bool           `json:"duplicate"`
	Invoice   *Invoice       `json:"invoice,omitempty"`
	Payment   *Payment       `json:"payment,omitempty"`
}

type ListInvoiceRequest struct {
	pagination.Pagination
	Status   ledgerdomain.InvoiceStatus `form:"status"`
	MemberID *snowflake.ID              `form:"member_id"`
}

type ListInvoiceResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

type ListFilter struct {
	Status   ledgerdomain.InvoiceStatus
	MemberID *snowflake.ID
	AfterID  snowflake.ID
	Limit    int
}

type Repository interface {
	InsertInvoice(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	FindByID(ctx context.Context, db *gorm.DB, scope tenantctx.Scope, id snowflake.ID) (*Invoice, error)
	FindForUpdate(ctx context.Context, db *gorm.DB, scope tenantctx.Scope, id snowflake.ID) (*Invoice, error)
	// FindOwner resolves tenant and branch for an invoice by its global id.
	FindOwner(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	UpdateMoney(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	UpdateStatus(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	List(ctx context.Context, db *gorm.DB, scope tenantctx.Scope, filter ListFilter) ([]*Invoice, error)

	InsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) error
	ListPayments(ctx context.Context, db *gorm.DB, scope tenantctx.Scope, invoiceID snowflake.ID) ([]Payment, error)
	InsertRefund(ctx context.Context, db *gorm.DB, refund *Refund) error

	// InsertGatewayLog reports false when the gateway payment id was already seen.
	InsertGatewayLog(ctx context.Context, db *gorm.DB, log *PaymentGatewayLog) (bool, error)
	// FindGatewayLog locks the row so a pending delivery is upgraded at most once.
	FindGatewayLog(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, gatewayPaymentID string) (*PaymentGatewayLog, error)
	UpdateGatewayLog(ctx context.Context, db *gorm.DB, log *PaymentGatewayLog) error
}

type Service interface {
	// IssuePaidTx joins the caller's transaction.
	IssuePaidTx(ctx context.Context, tx *gorm.DB, scope tenantctx.Scope, input IssuePaidInput) (*Invoice, error)
	CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*Invoice, error)
	SendInvoice(ctx context.Context, id snowflake.ID) (*Invoice, error)
	GetInvoice(ctx context.Context, id snowflake.ID) (*Invoice, error)
	ListInvoices(ctx context.Context, req ListInvoiceRequest) (ListInvoiceResponse, error)
	ListPayments(ctx context.Context, invoiceID snowflake.ID) ([]Payment, error)

	RecordPayment(ctx context.Context, req RecordPaymentRequest) (*PaymentResult, error)
	RecordRefund(ctx context.Context, req RecordRefundRequest) (*RefundResult, error)
	HandlePaymentWebhook(ctx context.Context, delivery WebhookDelivery) (*WebhookResult, error)
}

var (
	ErrInvoiceNotFound      = failure.New(failure.KindNotFound, "invoice_not_found")
	ErrInvalidAmount        = failure.New(failure.KindInvalidState, "invalid_amount")
	ErrInvoiceNotPayable    = failure.New(failure.KindInvalidState, "invoice_not_payable")
	ErrInvoiceNotRefundable = failure.New(failure.KindInvalidState, "invoice_not_refundable")
	ErrRefundExceedsPaid    = failure.New(failure.KindInvalidState, "refund_exceeds_paid_amount")
	ErrInvoiceNotDraft      = failure.New(failure.KindInvalidState, "invoice_not_draft")
	ErrInvalidTenant        = failure.New(failure.KindInvalidRequest, "invalid_tenant")
	ErrInvalidMember        = failure.New(failure.KindInvalidRequest, "invalid_member")
	ErrInvalidItems         = failure.New(failure.KindInvalidRequest, "invalid_items")
	ErrInvalidMethod        = failure.New(failure.KindInvalidRequest, "invalid_payment_method")
	ErrInvalidDiscount      = failure.New(failure.KindInvalidRequest, "invalid_discount")
	ErrInvalidPageToken     = failure.New(failure.KindInvalidRequest, "invalid_page_token")
	ErrInvalidWebhook       = failure.New(failure.KindInvalidRequest, "invalid_webhook_payload")
)
