package stemcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/haivivi/stemsplit/pkg/audio/pcm"
	"github.com/haivivi/stemsplit/pkg/observe"
	"github.com/haivivi/stemsplit/pkg/separation"
)

// Separator is a separation.Separator backed by a Cache.
type Separator struct {
	sep     separation.Separator
	cache   *Cache
	model   string
	logger  *slog.Logger
	metrics *observe.Metrics
}

// WrapOption configures Wrap.
type WrapOption func(*Separator)

// WithLogger sets the logger. Default is the cache's logger.
func WithLogger(l *slog.Logger) WrapOption {
	return func(s *Separator) { s.logger = l }
}

// WithMetrics records cache lookups into m.
func WithMetrics(m *observe.Metrics) WrapOption {
	return func(s *Separator) { s.metrics = m }
}

// Wrap returns sep with results cached under model. Close closes sep, not
// the cache.
func Wrap(sep separation.Separator, cache *Cache, model string, opts ...WrapOption) *Separator {
	s := &Separator{sep: sep, cache: cache, model: model, logger: cache.logger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Ready reports whether the wrapped separator is ready.
func (s *Separator) Ready() bool { return s.sep.Ready() }

// SourceNames returns the wrapped separator's stem names.
func (s *Separator) SourceNames() []string { return s.sep.SourceNames() }

// Close closes the wrapped separator.
func (s *Separator) Close() error { return s.sep.Close() }

// Process returns the cached result for in if there is one, and otherwise
// separates in and stores the result. Read failures fall through to
// separation; a failed write is returned.
func (s *Separator) Process(ctx context.Context, in *pcm.Buffer) (separation.StemSet, error) {
	if !s.sep.Ready() {
		return nil, separation.ErrNotReady
	}
	if in == nil {
		return nil, separation.ErrNilInput
	}

	key := Key(s.model, in)
	stems, err := s.cache.Get(ctx, key)
	switch {
	case err == nil && s.valid(stems, in):
		s.record(ctx, "hit")
		s.logger.Debug("stemcache: hit", "model", s.model, "frames", in.Frames())
		return stems, nil
	case err == nil:
		s.record(ctx, "stale")
		s.logger.Warn("stemcache: stale record ignored", "model", s.model)
	case errors.Is(err, ErrMiss):
		s.record(ctx, "miss")
	default:
		s.record(ctx, "error")
		s.logger.Warn("stemcache: read failed", "model", s.model, "error", err)
	}

	stems, err = s.sep.Process(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Put(ctx, key, stems); err != nil {
		return nil, fmt.Errorf("stemcache: store result: %w", err)
	}
	return stems, nil
}

// valid reports whether a cached set matches the separator and input.
func (s *Separator) valid(stems separation.StemSet, in *pcm.Buffer) bool {
	names := slices.Sorted(slices.Values(s.sep.SourceNames()))
	if !slices.Equal(stems.Names(), names) {
		return false
	}
	for _, b := range stems {
		if b.Frames() != in.Frames() || b.Channels() != in.Channels() || b.SampleRate() != in.SampleRate() {
			return false
		}
	}
	return true
}

func (s *Separator) record(ctx context.Context, result string) {
	if s.metrics != nil {
		s.metrics.RecordCacheLookup(ctx, s.model, result)
	}
}

// Ensure Separator implements separation.Separator at compile time.
var _ separation.Separator = (*Separator)(nil)
