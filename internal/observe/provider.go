package observe

import (
	"context"

	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures the OTel SDK setup.
type ProviderConfig struct {
	// ServiceName reported in telemetry. Default: "dialcast".
	ServiceName string

	// ServiceVersion reported in telemetry.
	ServiceVersion string
}

// InitProvider wires a [sdkmetric.MeterProvider] with a Prometheus exporter
// and registers it as the global meter provider, so DefaultMetrics records
// into something scrapeable at /metrics.
//
// The returned shutdown function flushes the provider; call it in a defer
// from main.
func InitProvider(_ context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "dialcast"
	}

	res, err := serviceResource(cfg)
	if err != nil {
		return nil, err
	}
	exporter, err := promexporter.New()
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}

func serviceResource(cfg ProviderConfig) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
}
