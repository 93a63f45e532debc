package domain

import "github.com/shopspring/decimal"

// InvoiceStatus is the invoice lifecycle state.
type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "DRAFT"
	InvoiceStatusSent          InvoiceStatus = "SENT"
	InvoiceStatusPartiallyPaid InvoiceStatus = "PARTIALLY_PAID"
	InvoiceStatusPaid          InvoiceStatus = "PAID"
	InvoiceStatusOverdue       InvoiceStatus = "OVERDUE"
	InvoiceStatusRefunded      InvoiceStatus = "REFUNDED"
)

// PaymentStatus is the state of a recorded payment or refund.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
)

// MoneyScale is the number of fractional digits persisted for amounts.
const MoneyScale = 2

var hundred = decimal.NewFromInt(100)

// ComputeLineTotal returns quantity * unitPrice * (1 + taxRatePercent/100), unrounded.
func ComputeLineTotal(quantity, unitPrice, taxRatePercent decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromInt(1).Add(taxRatePercent.Div(hundred))
	return quantity.Mul(unitPrice).Mul(factor)
}

// ClampNonNegative returns max(0, x).
func ClampNonNegative(x decimal.Decimal) decimal.Decimal {
	if x.IsNegative() {
		return decimal.Zero
	}
	return x
}

// ComputeInvoiceBalance returns max(0, total - paid).
func ComputeInvoiceBalance(total, paid decimal.Decimal) decimal.Decimal {
	return ClampNonNegative(total.Sub(paid))
}

// RoundMoney rounds half away from zero to MoneyScale places.
func RoundMoney(x decimal.Decimal) decimal.Decimal {
	return x.Round(MoneyScale)
}

// Percentage returns amount * percent / 100 rounded to money scale.
func Percentage(amount, percent decimal.Decimal) decimal.Decimal {
	return RoundMoney(amount.Mul(percent).Div(hundred))
}

// DeriveInvoiceStatus is PAID once paid covers total, PARTIALLY_PAID for a
// positive shortfall, and previous otherwise.
func DeriveInvoiceStatus(paid, total decimal.Decimal, previous InvoiceStatus) InvoiceStatus {
	if paid.GreaterThanOrEqual(total) {
		return InvoiceStatusPaid
	}
	if paid.IsPositive() {
		return InvoiceStatusPartiallyPaid
	}
	return previous
}

// CanRefund reports whether an invoice in status may issue a credit note.
func CanRefund(status InvoiceStatus) bool {
	return status == InvoiceStatusPaid || status == InvoiceStatusPartiallyPaid
}

// AcceptsPayment reports whether status may still receive money.
func AcceptsPayment(status InvoiceStatus, balance decimal.Decimal) bool {
	switch status {
	case InvoiceStatusRefunded:
		return false
	case InvoiceStatusPaid:
		return balance.IsPositive()
	default:
		return true
	}
}
