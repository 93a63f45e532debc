// Package domain contains persistence models for invoicing and reconciliation.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	ledgerdomain "github.com/smallbiznis/gymdesk/internal/ledger/domain"
	"gorm.io/datatypes"
)

type PaymentSource string

const (
	PaymentSourceInteractive PaymentSource = "INTERACTIVE"
	PaymentSourceWebhook     PaymentSource = "WEBHOOK"
	PaymentSourceEnrollment  PaymentSource = "ENROLLMENT"
)

type GatewayOutcome string

const (
	GatewayOutcomeApplied     GatewayOutcome = "APPLIED"
	GatewayOutcomeAlreadyPaid GatewayOutcome = "ALREADY_PAID"
	GatewayOutcomeIgnored     GatewayOutcome = "IGNORED"
)

// GatewayStatusPaid is the only gateway status that moves money.
const GatewayStatusPaid = "PAID"

// Invoice holds the money state of one bill. BalanceAmount is always
// max(0, TotalAmount - PaidAmount).
type Invoice struct {
	ID             snowflake.ID               `gorm:"primaryKey" json:"id"`
	TenantID       snowflake.ID               `gorm:"not null;uniqueIndex:ux_invoices_tenant_number,priority:1" json:"tenant_id"`
	BranchID       *snowflake.ID              `gorm:"index" json:"branch_id,omitempty"`
	MemberID       snowflake.ID               `gorm:"not null;index" json:"member_id"`
	MembershipID   *snowflake.ID              `gorm:"index" json:"membership_id,omitempty"`
	InvoiceNumber  string                     `gorm:"type:text;not null;uniqueIndex:ux_invoices_tenant_number,priority:2" json:"invoice_number"`
	Subtotal       decimal.Decimal            `gorm:"type:numeric(20,2);not null" json:"subtotal"`
	DiscountAmount decimal.Decimal            `gorm:"type:numeric(20,2);not null" json:"discount_amount"`
	TaxAmount      decimal.Decimal            `gorm:"type:numeric(20,2);not null" json:"tax_amount"`
	TotalAmount    decimal.Decimal            `gorm:"type:numeric(20,2);not null" json:"total_amount"`
	PaidAmount     decimal.Decimal            `gorm:"type:numeric(20,2);not null" json:"paid_amount"`
	BalanceAmount  decimal.Decimal            `gorm:"type:numeric(20,2);not null" json:"balance_amount"`
	Status         ledgerdomain.InvoiceStatus `gorm:"type:text;not null;index" json:"status"`
	DueDate        *time.Time                 `json:"due_date,omitempty"`
	SentAt         *time.Time                 `json:"sent_at,omitempty"`
	PaidAt         *time.Time                 `json:"paid_at,omitempty"`
	CouponID       *snowflake.ID              `json:"coupon_id,omitempty"`
	Notes          string                     `gorm:"type:text" json:"notes,omitempty"`
	CreatedBy      *string                    `gorm:"type:text" json:"created_by,omitempty"`
	Items          []InvoiceItem              `gorm:"foreignKey:InvoiceID" json:"items,omitempty"`
	CreatedAt      time.Time                  `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time                  `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// InvoiceItem is one billed line. Amount includes tax.
type InvoiceItem struct {
	ID          snowflake.ID    `gorm:"primaryKey" json:"id"`
	TenantID    snowflake.ID    `gorm:"not null;index" json:"tenant_id"`
	InvoiceID   snowflake.ID    `gorm:"not null;index" json:"invoice_id"`
	Description string          `gorm:"type:text;not null" json:"description"`
	Quantity    decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"unit_price"`
	TaxRate     decimal.Decimal `gorm:"type:numeric(5,2);not null" json:"tax_rate"`
	Amount      decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"amount"`
	CreatedAt   time.Time       `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (InvoiceItem) TableName() string { return "invoice_items" }

// Payment is an append-only record of money received.
type Payment struct {
	ID               snowflake.ID               `gorm:"primaryKey" json:"id"`
	TenantID         snowflake.ID               `gorm:"not null;index" json:"tenant_id"`
	BranchID         *snowflake.ID              `gorm:"index" json:"branch_id,omitempty"`
	InvoiceID        snowflake.ID               `gorm:"not null;index" json:"invoice_id"`
	Amount           decimal.Decimal            `gorm:"type:numeric(20,2);not null" json:"amount"`
	Method           string                     `gorm:"type:text;not null" json:"method"`
	Status           ledgerdomain.PaymentStatus `gorm:"type:text;not null" json:"status"`
	Source           PaymentSource              `gorm:"type:text;not null" json:"source"`
	GatewayPaymentID *string                    `gorm:"type:text;index" json:"gateway_payment_id,omitempty"`
	GatewayOrderID   *string                    `gorm:"type:text" json:"gateway_order_id,omitempty"`
	ProcessedBy      *string                    `gorm:"type:text" json:"processed_by,omitempty"`
	Notes            string                     `gorm:"type:text" json:"notes,omitempty"`
	PaidAt           time.Time                  `gorm:"not null" json:"paid_at"`
	CreatedAt        time.Time                  `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }

// Refund is an append-only credit note for money returned.
type Refund struct {
	ID               snowflake.ID    `gorm:"primaryKey" json:"id"`
	TenantID         snowflake.ID    `gorm:"not null;uniqueIndex:ux_refunds_tenant_credit_note,priority:1" json:"tenant_id"`
	BranchID         *snowflake.ID   `gorm:"index" json:"branch_id,omitempty"`
	InvoiceID        snowflake.ID    `gorm:"not null;index" json:"invoice_id"`
	CreditNoteNumber string          `gorm:"type:text;not null;uniqueIndex:ux_refunds_tenant_credit_note,priority:2" json:"credit_note_number"`
	Amount           decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"amount"`
	Method           string          `gorm:"type:text;not null" json:"method"`
	Reason           string          `gorm:"type:text" json:"reason,omitempty"`
	GatewayRefundID  *string         `gorm:"type:text" json:"gateway_refund_id,omitempty"`
	ProcessedBy      *string         `gorm:"type:text" json:"processed_by,omitempty"`
	CreatedAt        time.Time       `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (Refund) TableName() string { return "refunds" }

// PaymentGatewayLog records every webhook delivery keyed by the gateway's payment id.
type PaymentGatewayLog struct {
	ID               snowflake.ID    `gorm:"primaryKey" json:"id"`
	TenantID         snowflake.ID    `gorm:"not null;uniqueIndex:ux_gateway_logs_payment,priority:1" json:"tenant_id"`
	InvoiceID        snowflake.ID    `gorm:"not null;index" json:"invoice_id"`
	GatewayPaymentID string          `gorm:"type:text;not null;uniqueIndex:ux_gateway_logs_payment,priority:2" json:"gateway_payment_id"`
	Status           string          `gorm:"type:text;not null" json:"status"`
	Amount           decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"amount"`
	Method           string          `gorm:"type:text" json:"method,omitempty"`
	Outcome          GatewayOutcome  `gorm:"type:text;not null" json:"outcome"`
	PaymentID        *snowflake.ID   `json:"payment_id,omitempty"`
	Payload          datatypes.JSON  `json:"payload,omitempty"`
	ReceivedAt       time.Time       `gorm:"not null" json:"received_at"`
}

// TableName sets the database table name.
func (PaymentGatewayLog) TableName() string { return "payment_gateway_logs" }

// ApplyPayment adds amount to the paid total and recomputes balance and status.
func (inv *Invoice) ApplyPayment(amount decimal.Decimal) {
	inv.PaidAmount = ledgerdomain.RoundMoney(inv.PaidAmount.Add(amount))
	inv.BalanceAmount = ledgerdomain.ComputeInvoiceBalance(inv.TotalAmount, inv.PaidAmount)
	inv.Status = ledgerdomain.DeriveInvoiceStatus(inv.PaidAmount, inv.TotalAmount, inv.Status)
}

// ApplyRefund removes amount from the paid total and marks the invoice refunded.
func (inv *Invoice) ApplyRefund(amount decimal.Decimal) {
	inv.PaidAmount = ledgerdomain.ClampNonNegative(ledgerdomain.RoundMoney(inv.PaidAmount.Sub(amount)))
	inv.BalanceAmount = ledgerdomain.ComputeInvoiceBalance(inv.TotalAmount, inv.PaidAmount)
	inv.Status = ledgerdomain.InvoiceStatusRefunded
}
