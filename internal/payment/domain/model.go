package domain

import (
	"context"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/gymdesk/internal/invoice/domain"
	"github.com/smallbiznis/gymdesk/pkg/failure"
)

// SignatureHeader carries "t=<unix>,v1=<hex hmac>" when webhook signing is enabled.
const SignatureHeader = "X-Gymdesk-Signature"

// WebhookEvent is the canonical gateway payload:
// {invoiceId, paymentId, status, amount, paymentMethod}.
type WebhookEvent struct {
	InvoiceID     snowflake.ID
	PaymentID     string
	Status        string
	Amount        decimal.Decimal
	PaymentMethod string
	RawPayload    []byte
}

// Delivery converts the event into the reconciler's input.
func (e WebhookEvent) Delivery() invoicedomain.WebhookDelivery {
	return invoicedomain.WebhookDelivery{
		InvoiceID:        e.InvoiceID,
		GatewayPaymentID: e.PaymentID,
		Status:           e.Status,
		Amount:           e.Amount,
		Method:           e.PaymentMethod,
		Payload:          e.RawPayload,
	}
}

type Service interface {
	IngestWebhook(ctx context.Context, payload []byte, headers http.Header) (*invoicedomain.WebhookResult, error)
}

var (
	ErrInvalidPayload   = failure.New(failure.KindInvalidRequest, "invalid_webhook_payload")
	ErrInvalidSignature = failure.New(failure.KindInvalidRequest, "invalid_webhook_signature")
	ErrInvalidEvent     = failure.New(failure.KindInvalidRequest, "invalid_webhook_event")
	ErrDeliveryInFlight = failure.New(failure.KindTransactionAborted, "webhook_delivery_in_flight")
)
