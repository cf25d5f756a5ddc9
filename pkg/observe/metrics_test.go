package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumWhere(t *testing.T, met *metricdata.Metrics, key, value string) int64 {
	t.Helper()
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", met.Name)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				total += dp.Value
			}
		}
	}
	return total
}

func TestRecordProcess(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProcess(ctx, "htdemucs", 2*time.Second, nil)
	m.RecordProcess(ctx, "htdemucs", time.Second, errors.New("boom"))

	met := findMetric(collect(t, reader), "stemsplit.separation.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	if count != 2 {
		t.Errorf("sample count = %d, want 2", count)
	}
	if len(hist.DataPoints) != 2 {
		t.Errorf("data points = %d, want 2 (ok and error)", len(hist.DataPoints))
	}
}

func TestRecordInfer(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordInfer(ctx, "spleeter", 10*time.Millisecond, nil)
	m.RecordInfer(ctx, "spleeter", 10*time.Millisecond, nil)
	m.RecordInfer(ctx, "spleeter", 10*time.Millisecond, errors.New("boom"))

	rm := collect(t, reader)
	if got := sumWhere(t, findMetric(rm, "stemsplit.separation.windows"), "model", "spleeter"); got != 3 {
		t.Errorf("windows = %d, want 3", got)
	}
	if got := sumWhere(t, findMetric(rm, "stemsplit.inference.errors"), "model", "spleeter"); got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
}

func TestRecordCacheLookup(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCacheLookup(ctx, "htdemucs", "hit")
	m.RecordCacheLookup(ctx, "htdemucs", "miss")
	m.RecordCacheLookup(ctx, "htdemucs", "hit")

	met := findMetric(collect(t, reader), "stemsplit.cache.lookups")
	if met == nil {
		t.Fatal("metric not found")
	}
	if got := sumWhere(t, met, "result", "hit"); got != 2 {
		t.Errorf("hits = %d, want 2", got)
	}
}

func TestTrackActive(t *testing.T) {
	m, reader := newTestMetrics(t)
	done := m.TrackActive(context.Background(), "htdemucs")

	met := findMetric(collect(t, reader), "stemsplit.separation.active")
	if met == nil {
		t.Fatal("metric not found")
	}
	if got := sumWhere(t, met, "model", "htdemucs"); got != 1 {
		t.Errorf("active = %d, want 1", got)
	}

	done()
	met = findMetric(collect(t, reader), "stemsplit.separation.active")
	if got := sumWhere(t, met, "model", "htdemucs"); got != 0 {
		t.Errorf("active after done = %d, want 0", got)
	}
}
