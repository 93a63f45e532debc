package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/gymdesk/internal/clock"
	"github.com/smallbiznis/gymdesk/internal/config"
	invoicedomain "github.com/smallbiznis/gymdesk/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/gymdesk/internal/payment/domain"
	"github.com/smallbiznis/gymdesk/internal/payment/signature"
	"github.com/smallbiznis/gymdesk/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Cfg        config.Config
	InvoiceSvc invoicedomain.Service
	Limiter    *ratelimit.WebhookLimiter `optional:"true"`
	Clock      clock.Clock               `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	invoiceSvc invoicedomain.Service
	verifier   *signature.Verifier
	limiter    *ratelimit.WebhookLimiter
	clock      clock.Clock
}

func NewService(p Params) paymentdomain.Service {
	c := p.Clock
	if c == nil {
		c = clock.NewSystemClock()
	}
	return &Service{
		log:        p.Log.Named("payment.webhook"),
		invoiceSvc: p.InvoiceSvc,
		verifier:   signature.NewVerifier(p.Cfg.PaymentWebhookSecret, 0),
		limiter:    p.Limiter,
		clock:      c,
	}
}

// IngestWebhook verifies and parses one gateway delivery and hands it to the
// reconciler. Concurrent redeliveries of one gateway payment are rejected as
// retryable while the first is still being applied.
func (s *Service) IngestWebhook(ctx context.Context, payload []byte, headers http.Header) (*invoicedomain.WebhookResult, error) {
	if !json.Valid(payload) {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if err := s.verifier.Verify(payload, headers.Get(paymentdomain.SignatureHeader), s.clock.Now()); err != nil {
		s.log.Warn("payment webhook signature rejected", zap.Error(err))
		return nil, paymentdomain.ErrInvalidSignature
	}

	event, err := Parse(payload)
	if err != nil {
		return nil, err
	}

	release, ok := s.limiter.LockPayment(ctx, event.PaymentID)
	if !ok {
		return nil, paymentdomain.ErrDeliveryInFlight
	}
	defer release()

	return s.invoiceSvc.HandlePaymentWebhook(ctx, event.Delivery())
}

// Parse decodes the canonical payload. Ids and amounts are accepted as JSON
// numbers or strings since gateways differ.
func Parse(payload []byte) (*paymentdomain.WebhookEvent, error) {
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()

	var body map[string]any
	if err := decoder.Decode(&body); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	invoiceRaw := readValue(body, "invoiceId")
	if invoiceRaw == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	invoiceID, err := snowflake.ParseString(invoiceRaw)
	if err != nil || invoiceID == 0 {
		return nil, paymentdomain.ErrInvalidEvent
	}

	paymentID := readValue(body, "paymentId")
	status := strings.ToUpper(readValue(body, "status"))
	if paymentID == "" || status == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	amount := decimal.Zero
	if raw := readValue(body, "amount"); raw != "" {
		amount, err = decimal.NewFromString(raw)
		if err != nil {
			return nil, paymentdomain.ErrInvalidEvent
		}
	}

	return &paymentdomain.WebhookEvent{
		InvoiceID:     invoiceID,
		PaymentID:     paymentID,
		Status:        status,
		Amount:        amount,
		PaymentMethod: readValue(body, "paymentMethod"),
		RawPayload:    payload,
	}, nil
}

func readValue(body map[string]any, key string) string {
	value, ok := body[key]
	if !ok || value == nil {
		return ""
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	case json.Number:
		return cast.String()
	case float64:
		return strconv.FormatFloat(cast, 'f', -1, 64)
	}
	return ""
}
