package separation

import (
	"log/slog"

	"github.com/haivivi/stemsplit/pkg/observe"
)

// Option configures a ModelSeparator.
type Option func(*ModelSeparator)

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *ModelSeparator) { s.logger = l }
}

// WithMetrics records process and inference metrics into m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *ModelSeparator) { s.metrics = m }
}

// WithParallelism runs up to n windows at once when the model declares
// concurrent Infer support. Windows are still overlap-added in order, so
// results match a sequential run. Default is 1.
func WithParallelism(n int) Option {
	return func(s *ModelSeparator) { s.parallelism = max(1, n) }
}

// WithName labels logs and metrics. Default is the model path.
func WithName(name string) Option {
	return func(s *ModelSeparator) { s.name = name }
}

// WithProgress calls fn after each window is overlap-added, with the number
// of windows done and the total for the current Process call. fn runs on
// the Process goroutine.
func WithProgress(fn func(done, total int)) Option {
	return func(s *ModelSeparator) { s.progress = fn }
}
