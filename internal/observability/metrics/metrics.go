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
	generations    metric.Int64Counter
	tokens         metric.Int64Counter
	usageLogged    metric.Int64Counter
	billingReports metric.Int64Counter
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
		name = "tokenrelay"
	}
	meter := provider.Meter(name)

	generations, err := meter.Int64Counter("tokenrelay_generations_total")
	if err != nil {
		return nil, err
	}
	tokens, err := meter.Int64Counter("tokenrelay_tokens_total")
	if err != nil {
		return nil, err
	}
	usageLogged, err := meter.Int64Counter("tokenrelay_usage_logged_total")
	if err != nil {
		return nil, err
	}
	billingReports, err := meter.Int64Counter("tokenrelay_billing_reports_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		generations:    generations,
		tokens:         tokens,
		usageLogged:    usageLogged,
		billingReports: billingReports,
	}, nil
}

// RecordGeneration counts a gateway call by model and status class
// ("ok", "client", "server", "network", "malformed").
func (m *Metrics) RecordGeneration(ctx context.Context, model, statusClass string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("model", strings.TrimSpace(model)),
		attribute.String("status_class", strings.TrimSpace(statusClass)),
	)
	m.generations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordTokens adds consumed tokens for a model.
func (m *Metrics) RecordTokens(ctx context.Context, model string, tokens int) {
	if m == nil || tokens <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("model", strings.TrimSpace(model)))
	m.tokens.Add(ctx, int64(tokens), metric.WithAttributes(attrs...))
}

// RecordUsageLogged increments persisted usage rows.
func (m *Metrics) RecordUsageLogged(ctx context.Context, statusCode int) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.Int("status_code", statusCode))
	m.usageLogged.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordBillingReport increments billing report outcomes.
func (m *Metrics) RecordBillingReport(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.billingReports.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
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
	"model":        {},
	"status_class": {},
	"status_code":  {},
	"outcome":      {},
	"job":          {},
	"route":        {},
	"method":       {},
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
