package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	enrollments       metric.Int64Counter
	couponRedemptions metric.Int64Counter
	payments          metric.Int64Counter
	refunds           metric.Int64Counter
	webhookDeliveries metric.Int64Counter
	ledgerEntries     metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "gymdesk"
	}
	meter := provider.Meter(name)

	enrollments, err := meter.Int64Counter("gymdesk_enrollments_total")
	if err != nil {
		return nil, err
	}
	couponRedemptions, err := meter.Int64Counter("gymdesk_coupon_redemptions_total")
	if err != nil {
		return nil, err
	}
	payments, err := meter.Int64Counter("gymdesk_payments_total")
	if err != nil {
		return nil, err
	}
	refunds, err := meter.Int64Counter("gymdesk_refunds_total")
	if err != nil {
		return nil, err
	}
	webhookDeliveries, err := meter.Int64Counter("gymdesk_payment_webhook_deliveries_total")
	if err != nil {
		return nil, err
	}
	ledgerEntries, err := meter.Int64Counter("gymdesk_ledger_entries_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		enrollments:       enrollments,
		couponRedemptions: couponRedemptions,
		payments:          payments,
		refunds:           refunds,
		webhookDeliveries: webhookDeliveries,
		ledgerEntries:     ledgerEntries,
	}, nil
}

// RecordEnrollment counts enrollment attempts by outcome kind.
func (m *Metrics) RecordEnrollment(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.enrollments.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCouponRedemption counts coupon checks by discount type and outcome.
func (m *Metrics) RecordCouponRedemption(ctx context.Context, discountType, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("discount_type", strings.TrimSpace(discountType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.couponRedemptions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPayment counts applied payments by source and method.
func (m *Metrics) RecordPayment(ctx context.Context, source, method string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("source", strings.TrimSpace(source)),
		attribute.String("method", strings.TrimSpace(method)),
	)
	m.payments.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRefund counts issued credit notes by method.
func (m *Metrics) RecordRefund(ctx context.Context, method string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("method", strings.TrimSpace(method)))
	m.refunds.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordWebhookDelivery counts gateway deliveries by outcome.
func (m *Metrics) RecordWebhookDelivery(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.webhookDeliveries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordLedgerEntry counts ledger postings by source type.
func (m *Metrics) RecordLedgerEntry(ctx context.Context, sourceType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("source_type", strings.TrimSpace(sourceType)))
	m.ledgerEntries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"endpoint":      {},
	"status_code":   {},
	"outcome":       {},
	"source":        {},
	"method":        {},
	"discount_type": {},
	"source_type":   {},
	"reason":        {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
