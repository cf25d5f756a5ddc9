package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
)

func TestInitProviderSummary(t *testing.T) {
	p, err := InitProvider(ProviderConfig{ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	if otel.GetMeterProvider() != p.mp {
		t.Error("provider not installed globally")
	}

	ctx := context.Background()
	p.Metrics.RecordInfer(ctx, "htdemucs", 100*time.Millisecond, nil)
	p.Metrics.RecordInfer(ctx, "htdemucs", 300*time.Millisecond, nil)
	p.Metrics.RecordInfer(ctx, "spleeter", 200*time.Millisecond, errors.New("boom"))
	p.Metrics.RecordProcess(ctx, "htdemucs", time.Second, nil)
	p.Metrics.RecordCacheLookup(ctx, "htdemucs", "hit")
	p.Metrics.RecordCacheLookup(ctx, "htdemucs", "miss")
	p.Metrics.RecordCacheLookup(ctx, "spleeter", "miss")
	p.Metrics.RecordCacheLookup(ctx, "spleeter", "error")

	s, err := p.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	want := Summary{Separations: 1, Windows: 3, InferErrors: 1, CacheHits: 1, CacheMisses: 2}
	got := s
	got.InferTime = 0
	if got != want {
		t.Errorf("Summary = %+v, want %+v", got, want)
	}
	if d := s.InferTime - 600*time.Millisecond; d < -time.Millisecond || d > time.Millisecond {
		t.Errorf("InferTime = %v, want 600ms", s.InferTime)
	}
	if d := s.MeanInfer() - 200*time.Millisecond; d < -time.Millisecond || d > time.Millisecond {
		t.Errorf("MeanInfer = %v, want 200ms", s.MeanInfer())
	}
}

func TestSummaryEmpty(t *testing.T) {
	p, err := InitProvider(ProviderConfig{})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	s, err := p.Summary(context.Background())
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if s != (Summary{}) || s.MeanInfer() != 0 {
		t.Errorf("Summary = %+v, want zero", s)
	}
}
