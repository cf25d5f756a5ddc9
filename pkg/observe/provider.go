package observe

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures the SDK meter provider.
type ProviderConfig struct {
	// ServiceName is the service name reported in telemetry. Default: "stemsplit".
	ServiceName string

	// ServiceVersion is the service version reported in telemetry.
	ServiceVersion string
}

// Provider is an SDK meter provider read through a manual reader. It suits
// short-lived hosts that report what a run did rather than serve a scrape
// endpoint.
type Provider struct {
	// Metrics records into this provider.
	Metrics *Metrics

	mp     *sdkmetric.MeterProvider
	reader *sdkmetric.ManualReader
}

// InitProvider builds a meter provider with a manual reader, registers it as
// the global OTel meter provider and creates the stemsplit instruments on
// it. Call Shutdown when done.
func InitProvider(cfg ProviderConfig) (*Provider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "stemsplit"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: resource: %w", err)
	}

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	met, err := NewMetrics(mp)
	if err != nil {
		_ = mp.Shutdown(context.Background())
		return nil, fmt.Errorf("observe: instruments: %w", err)
	}
	otel.SetMeterProvider(mp)
	return &Provider{Metrics: met, mp: mp, reader: reader}, nil
}

// Summary totals the stemsplit metrics recorded so far.
type Summary struct {
	Separations int64         `json:"separations" yaml:"separations"`
	Windows     int64         `json:"windows" yaml:"windows"`
	InferErrors int64         `json:"infer_errors" yaml:"infer_errors"`
	InferTime   time.Duration `json:"infer_time" yaml:"infer_time"`
	CacheHits   int64         `json:"cache_hits" yaml:"cache_hits"`
	CacheMisses int64         `json:"cache_misses" yaml:"cache_misses"`
}

// MeanInfer returns the mean forward pass time, or zero before any pass.
func (s Summary) MeanInfer() time.Duration {
	if s.Windows == 0 {
		return 0
	}
	return s.InferTime / time.Duration(s.Windows)
}

// Summary collects the reader and totals every stemsplit instrument across
// models.
func (p *Provider) Summary(ctx context.Context) (Summary, error) {
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return Summary{}, fmt.Errorf("observe: collect: %w", err)
	}

	var s Summary
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch m.Name {
			case NameProcessDuration:
				count, _ := histogram(m.Data)
				s.Separations += int64(count)
			case NameInferDuration:
				_, sum := histogram(m.Data)
				s.InferTime += time.Duration(sum * float64(time.Second)).Round(time.Microsecond)
			case NameWindows:
				s.Windows += counter(m.Data, "")
			case NameInferErrors:
				s.InferErrors += counter(m.Data, "")
			case NameCacheLookups:
				s.CacheHits += counter(m.Data, "hit")
				s.CacheMisses += counter(m.Data, "miss")
			}
		}
	}
	return s, nil
}

// Shutdown flushes and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.mp.Shutdown(ctx)
}

func histogram(data metricdata.Aggregation) (count uint64, sum float64) {
	h, ok := data.(metricdata.Histogram[float64])
	if !ok {
		return 0, 0
	}
	for _, dp := range h.DataPoints {
		count += dp.Count
		sum += dp.Sum
	}
	return count, sum
}

// counter sums an int64 counter, limited to data points whose "result"
// attribute equals result when result is non-empty.
func counter(data metricdata.Aggregation, result string) int64 {
	c, ok := data.(metricdata.Sum[int64])
	if !ok {
		return 0
	}
	var total int64
	for _, dp := range c.DataPoints {
		if result != "" {
			if v, ok := dp.Attributes.Value("result"); !ok || v.AsString() != result {
				continue
			}
		}
		total += dp.Value
	}
	return total
}
