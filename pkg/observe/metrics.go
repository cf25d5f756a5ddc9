// Package observe provides the OpenTelemetry metric instruments recorded by
// the separation engine.
//
// Metrics are recorded through the OpenTelemetry Metrics API. Library hosts
// pass their own [metric.MeterProvider] to [NewMetrics]. Command line hosts
// call [InitProvider], which installs an SDK provider with a manual reader
// and reads a run [Summary] back from it.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all stemsplit
// metrics.
const meterName = "github.com/haivivi/stemsplit"

// Instrument names.
const (
	NameProcessDuration   = "stemsplit.separation.duration"
	NameInferDuration     = "stemsplit.inference.duration"
	NameWindows           = "stemsplit.separation.windows"
	NameInferErrors       = "stemsplit.inference.errors"
	NameCacheLookups      = "stemsplit.cache.lookups"
	NameActiveSeparations = "stemsplit.separation.active"
)

// Metrics holds all OpenTelemetry metric instruments. All fields are safe
// for concurrent use.
type Metrics struct {
	// ProcessDuration tracks one Separator.Process call end to end. Use
	// with attributes model and status.
	ProcessDuration metric.Float64Histogram

	// InferDuration tracks one forward pass over one window. Use with
	// attribute model.
	InferDuration metric.Float64Histogram

	// Windows counts windows run through a model. Use with attribute model.
	Windows metric.Int64Counter

	// InferErrors counts failed forward passes. Use with attribute model.
	InferErrors metric.Int64Counter

	// CacheLookups counts stem cache reads. Use with attributes model and
	// result ("hit", "miss", "error").
	CacheLookups metric.Int64Counter

	// ActiveSeparations tracks Process calls in flight.
	ActiveSeparations metric.Int64UpDownCounter
}

// processBuckets covers whole-track separation, seconds to minutes.
var processBuckets = []float64{
	0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// inferBuckets covers a single window on CPU.
var inferBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ProcessDuration, err = m.Float64Histogram(NameProcessDuration,
		metric.WithDescription("Latency of a full separation call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(processBuckets...),
	); err != nil {
		return nil, err
	}
	if met.InferDuration, err = m.Float64Histogram(NameInferDuration,
		metric.WithDescription("Latency of one model forward pass."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(inferBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Windows, err = m.Int64Counter(NameWindows,
		metric.WithDescription("Total windows run through a model."),
	); err != nil {
		return nil, err
	}
	if met.InferErrors, err = m.Int64Counter(NameInferErrors,
		metric.WithDescription("Total failed forward passes by model."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter(NameCacheLookups,
		metric.WithDescription("Total stem cache lookups by model and result."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSeparations, err = m.Int64UpDownCounter(NameActiveSeparations,
		metric.WithDescription("Number of separation calls in flight."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordProcess records one finished Process call.
func (m *Metrics) RecordProcess(ctx context.Context, model string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ProcessDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("model", model),
			attribute.String("status", status),
		),
	)
}

// RecordInfer records one forward pass and, when err is non-nil, an
// inference error.
func (m *Metrics) RecordInfer(ctx context.Context, model string, d time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("model", model))
	m.InferDuration.Record(ctx, d.Seconds(), attrs)
	m.Windows.Add(ctx, 1, attrs)
	if err != nil {
		m.InferErrors.Add(ctx, 1, attrs)
	}
}

// RecordCacheLookup records a stem cache read with result "hit", "miss" or
// "error".
func (m *Metrics) RecordCacheLookup(ctx context.Context, model, result string) {
	m.CacheLookups.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("model", model),
			attribute.String("result", result),
		),
	)
}

// TrackActive increments ActiveSeparations and returns a func that
// decrements it.
func (m *Metrics) TrackActive(ctx context.Context, model string) func() {
	attrs := metric.WithAttributes(attribute.String("model", model))
	m.ActiveSeparations.Add(ctx, 1, attrs)
	return func() { m.ActiveSeparations.Add(ctx, -1, attrs) }
}
