// Package notification hands committed enrollment and payment events to the
// external email/SMS/WhatsApp senders. Delivery is best effort.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/gymdesk/internal/config"
	obscontext "github.com/smallbiznis/gymdesk/internal/observability/context"
	"go.uber.org/zap"
)

type Kind string

const (
	KindEnrollment Kind = "enrollment"
	KindPayment    Kind = "payment"
	KindRefund     Kind = "refund"
)

// Payload is the message consumed by the senders.
type Payload struct {
	Kind          Kind            `json:"kind"`
	CorrelationID string          `json:"correlationId"`
	TenantID      snowflake.ID    `json:"tenantId"`
	MemberID      snowflake.ID    `json:"memberId"`
	InvoiceNumber string          `json:"invoiceNumber"`
	Amount        decimal.Decimal `json:"amount"`
	PlanName      string          `json:"planName,omitempty"`
	ValidUntil    *time.Time      `json:"validUntil,omitempty"`
}

type Dispatcher interface {
	Dispatch(ctx context.Context, payload Payload) error
}

// NewDispatcher queues to redis when configured and logs otherwise.
func NewDispatcher(cfg config.Config, client *redis.Client, log *zap.Logger) Dispatcher {
	log = log.Named("notification")
	if client == nil {
		return &logDispatcher{log: log}
	}
	queue := strings.TrimSpace(cfg.NotificationQueue)
	if queue == "" {
		queue = "gymdesk:notifications"
	}
	return &redisDispatcher{client: client, queue: queue, log: log}
}

type redisDispatcher struct {
	client *redis.Client
	queue  string
	log    *zap.Logger
}

func (d *redisDispatcher) Dispatch(ctx context.Context, payload Payload) error {
	payload = withCorrelation(ctx, payload)
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := d.client.LPush(ctx, d.queue, body).Err(); err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	d.log.Debug("notification queued",
		zap.String("kind", string(payload.Kind)),
		zap.String("correlation_id", payload.CorrelationID),
		zap.String("queue", d.queue),
	)
	return nil
}

type logDispatcher struct {
	log *zap.Logger
}

func (d *logDispatcher) Dispatch(ctx context.Context, payload Payload) error {
	payload = withCorrelation(ctx, payload)
	d.log.Info("notification",
		zap.String("kind", string(payload.Kind)),
		zap.String("correlation_id", payload.CorrelationID),
		zap.String("tenant_id", payload.TenantID.String()),
		zap.String("member_id", payload.MemberID.String()),
		zap.String("invoice_number", payload.InvoiceNumber),
		zap.String("amount", payload.Amount.StringFixed(2)),
	)
	return nil
}

func withCorrelation(ctx context.Context, payload Payload) Payload {
	if payload.CorrelationID == "" {
		_, payload.CorrelationID = obscontext.EnsureCorrelationID(ctx)
	}
	return payload
}
