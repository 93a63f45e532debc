package webhook

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/gymdesk/internal/clock"
	"github.com/smallbiznis/gymdesk/internal/config"
	invoicedomain "github.com/smallbiznis/gymdesk/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/gymdesk/internal/payment/domain"
	"github.com/smallbiznis/gymdesk/internal/payment/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockInvoiceSvc struct {
	mock.Mock
	invoicedomain.Service
}

func (m *mockInvoiceSvc) HandlePaymentWebhook(ctx context.Context, delivery invoicedomain.WebhookDelivery) (*invoicedomain.WebhookResult, error) {
	args := m.Called(ctx, delivery)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*invoicedomain.WebhookResult), args.Error(1)
}

func TestParseAcceptsNumbersAndStrings(t *testing.T) {
	event, err := Parse([]byte(`{"invoiceId": 1234567890, "paymentId": "pay_1", "status": "paid", "amount": 1499.50, "paymentMethod": "CARD"}`))
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(1234567890), event.InvoiceID)
	assert.Equal(t, "PAID", event.Status)
	assert.True(t, event.Amount.Equal(decimal.RequireFromString("1499.50")))
	assert.Equal(t, "CARD", event.PaymentMethod)

	event, err = Parse([]byte(`{"invoiceId": "42", "paymentId": "pay_2", "status": "FAILED", "amount": "12"}`))
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(42), event.InvoiceID)
	assert.True(t, event.Amount.Equal(decimal.NewFromInt(12)))
}

func TestParseRejectsIncompleteEvents(t *testing.T) {
	cases := map[string]string{
		"missing invoice": `{"paymentId":"p","status":"PAID","amount":1}`,
		"bad invoice":     `{"invoiceId":"abc","paymentId":"p","status":"PAID"}`,
		"missing payment": `{"invoiceId":"1","status":"PAID"}`,
		"missing status":  `{"invoiceId":"1","paymentId":"p"}`,
		"bad amount":      `{"invoiceId":"1","paymentId":"p","status":"PAID","amount":"ten"}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(payload))
			assert.ErrorIs(t, err, paymentdomain.ErrInvalidEvent)
		})
	}
}

func TestIngestWebhookVerifiesSignature(t *testing.T) {
	now := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	invoices := new(mockInvoiceSvc)
	svc := NewService(Params{
		Log:        zap.NewNop(),
		Cfg:        config.Config{PaymentWebhookSecret: "whsec_gym"},
		InvoiceSvc: invoices,
		Clock:      clock.NewFakeClock(now),
	})

	payload := []byte(`{"invoiceId":"77","paymentId":"pay_9","status":"PAID","amount":"300"}`)
	want := &invoicedomain.WebhookResult{Outcome: invoicedomain.GatewayOutcomeApplied}
	invoices.On("HandlePaymentWebhook", mock.Anything, mock.MatchedBy(func(d invoicedomain.WebhookDelivery) bool {
		return d.InvoiceID == 77 && d.GatewayPaymentID == "pay_9" && d.Amount.Equal(decimal.NewFromInt(300))
	})).Return(want, nil).Once()

	headers := http.Header{}
	headers.Set(paymentdomain.SignatureHeader, signature.Sign("whsec_gym", payload, now))
	got, err := svc.IngestWebhook(context.Background(), payload, headers)
	require.NoError(t, err)
	assert.Same(t, want, got)

	headers.Set(paymentdomain.SignatureHeader, signature.Sign("other", payload, now))
	_, err = svc.IngestWebhook(context.Background(), payload, headers)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)

	_, err = svc.IngestWebhook(context.Background(), []byte(`not json`), headers)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)

	invoices.AssertExpectations(t)
}

func TestIngestWebhookWithoutSecret(t *testing.T) {
	invoices := new(mockInvoiceSvc)
	svc := NewService(Params{Log: zap.NewNop(), InvoiceSvc: invoices})

	invoices.On("HandlePaymentWebhook", mock.Anything, mock.Anything).
		Return(nil, invoicedomain.ErrInvoiceNotFound).Once()

	_, err := svc.IngestWebhook(context.Background(), []byte(`{"invoiceId":"5","paymentId":"p","status":"PAID","amount":1}`), http.Header{})
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceNotFound)
	invoices.AssertExpectations(t)
}
