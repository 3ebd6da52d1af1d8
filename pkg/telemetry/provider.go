package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type Provider struct {
	provider *sdkmetric.MeterProvider
	meter    metric.Meter
}

// Config describes the resource identity and OTLP/HTTP exporter target for a
// Telemetry instance. InstanceID should be stable per-process (e.g. a host
// or process identifier) so dashboards can distinguish replicas. Endpoint is
// both the exporter target and the resource's server.address attribute.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	InstanceID     string
	Endpoint       string
	Insecure       bool
	Headers        map[string]string
}

func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	opts := newOTLPHTTPOptions(cfg.Endpoint, cfg.Insecure, cfg.Headers).metricOptions()
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter,
				sdkmetric.WithInterval(30*time.Second),
			),
		),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(provider)

	return &Provider{
		provider: provider,
		meter:    provider.Meter(cfg.ServiceName),
	}, nil
}

func (p *Provider) Meter() metric.Meter {
	return p.meter
}

func (p *Provider) Shutdown(ctx context.Context) error {
	return p.provider.Shutdown(ctx)
}
