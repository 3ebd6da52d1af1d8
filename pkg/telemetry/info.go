package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Info is a metric recorded with the constant value 1, carrying descriptive
// labels rather than a changing value, e.g. build or configuration metadata.
// It mirrors the Prometheus "info" convention.
type Info struct {
	mu    sync.Mutex
	gauge metric.Float64Gauge
	attrs []attribute.KeyValue
}

type InfoConfig struct {
	Name        string
	Description string
	Labels      map[string]string
}

func NewInfo(meter metric.Meter, cfg InfoConfig) (*Info, error) {
	gauge, err := meter.Float64Gauge(cfg.Name, metric.WithDescription(cfg.Description))
	if err != nil {
		return nil, fmt.Errorf("failed to create info metric %s: %w", cfg.Name, err)
	}

	return &Info{gauge: gauge, attrs: attrsFromLabels(cfg.Labels)}, nil
}

// Record emits the info metric with its current labels.
func (i *Info) Record(ctx context.Context) {
	i.mu.Lock()
	attrs := i.attrs
	i.mu.Unlock()
	i.gauge.Record(ctx, 1.0, metric.WithAttributes(attrs...))
}

// Update replaces the labels used by this and later recordings and records
// the new label set once. A data point already recorded under the old labels
// is not removed from the meter.
func (i *Info) Update(ctx context.Context, labels map[string]string) {
	i.mu.Lock()
	i.attrs = attrsFromLabels(labels)
	attrs := i.attrs
	i.mu.Unlock()
	i.gauge.Record(ctx, 1.0, metric.WithAttributes(attrs...))
}

func attrsFromLabels(labels map[string]string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

// ConstantGauge records a value once at creation and holds it fixed thereafter,
// e.g. a worker pool's configured concurrency limit.
type ConstantGauge struct {
	gauge metric.Int64Gauge
	attrs []attribute.KeyValue
}

type ConstantGaugeConfig struct {
	Name        string
	Description string
	Unit        string
	Value       int64
	Attributes  map[string]string
}

func NewConstantGauge(meter metric.Meter, cfg ConstantGaugeConfig) (*ConstantGauge, error) {
	opts := []metric.Int64GaugeOption{metric.WithDescription(cfg.Description)}
	if cfg.Unit != "" {
		opts = append(opts, metric.WithUnit(cfg.Unit))
	}

	gauge, err := meter.Int64Gauge(cfg.Name, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create constant gauge %s: %w", cfg.Name, err)
	}

	attrs := attrsFromLabels(cfg.Attributes)
	cg := &ConstantGauge{gauge: gauge, attrs: attrs}
	gauge.Record(context.Background(), cfg.Value, metric.WithAttributes(cg.attrs...))
	return cg, nil
}
