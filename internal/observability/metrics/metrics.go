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

// Metrics exposes OTLP instruments for settlement activity.
type Metrics struct {
	transfers      metric.Int64Counter
	transferAmount metric.Int64Counter
	materialized   metric.Int64Counter
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

// New configures the settlement instruments on provider.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "rubhub-payouts"
	}
	meter := provider.Meter(name)

	transfers, err := meter.Int64Counter("rubhub_transfers_total")
	if err != nil {
		return nil, err
	}
	transferAmount, err := meter.Int64Counter("rubhub_transfer_amount_cents_total")
	if err != nil {
		return nil, err
	}
	materialized, err := meter.Int64Counter("rubhub_payments_materialized_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		transfers:      transfers,
		transferAmount: transferAmount,
		materialized:   materialized,
	}, nil
}

// RecordTransfer counts a gateway transfer and, on success, its amount.
// kind is "therapist" or "master".
func (m *Metrics) RecordTransfer(ctx context.Context, provider, kind, outcome, currency string, amount int64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	)
	m.transfers.Add(ctx, 1, metric.WithAttributes(attrs...))
	if outcome == "completed" && amount > 0 {
		m.transferAmount.Add(ctx, amount, metric.WithAttributes(FilterAttributes(
			attribute.String("kind", kind),
			attribute.String("currency", strings.ToUpper(currency)),
		)...))
	}
}

// RecordMaterialized counts payment records created from service requests.
func (m *Metrics) RecordMaterialized(ctx context.Context, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.materialized.Add(ctx, int64(count))
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
	"provider": {},
	"kind":     {},
	"outcome":  {},
	"currency": {},
	"job":      {},
}

// FilterAttributes strips labels outside the allow list to keep metrics low-cardinality.
// Therapist, payment and request identifiers are never allowed.
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
