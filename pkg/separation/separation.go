// Package separation splits a mixed music signal into named stems by
// running a pretrained separation network over windowed audio.
//
// # Architecture
//
// A [Separator] is the capability the rest of the program sees: it reports
// readiness, the fixed list of source names it produces, and turns one
// [pcm.Buffer] into a [StemSet]. [ModelSeparator] is the model-backed
// implementation:
//
//	mix ──► remix / resample / normalise ──► framing.Framer ──► Model.Infer (per window)
//	                                                               │
//	StemSet ◄── restore rate, length, channels ◄── OverlapAdd per stem
//
// A ModelSeparator loads its model exactly once, in [New]. If loading or
// signature validation fails the separator is permanently not ready and
// [ModelSeparator.Err] reports why; Process then returns [ErrNotReady]
// without touching the model.
//
// Models come from subpackage registry by name, through an
// [inference.Backend] (ONNX Runtime in production, mock in tests).
package separation

import (
	"context"
	"errors"
	"slices"

	"github.com/haivivi/stemsplit/pkg/audio/pcm"
)

var (
	// ErrNotReady is returned by Process on a separator whose model failed
	// to load or that has been closed.
	ErrNotReady = errors.New("separation: separator not ready")

	// ErrNilInput is returned by Process for a nil buffer.
	ErrNilInput = errors.New("separation: nil input buffer")
)

// Separator splits audio into stems.
type Separator interface {
	// Ready reports whether Process can run.
	Ready() bool

	// SourceNames returns the stem names Process produces, fixed for the
	// separator's lifetime.
	SourceNames() []string

	// Process separates in. The result has exactly SourceNames() as keys
	// and every stem has the frame count, sample rate and channel count of
	// in. The input is never modified.
	Process(ctx context.Context, in *pcm.Buffer) (StemSet, error)

	// Close releases the model. The separator is not ready afterwards.
	Close() error
}

// StemSet maps source names to separated audio.
type StemSet map[string]*pcm.Buffer

// Names returns the stem names sorted.
func (s StemSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Mix sums the stems into a new buffer, scaling each by gains[name]. Stems
// missing from gains use a gain of 1; a gain of 0 mutes a stem. Returns nil
// for an empty set.
func (s StemSet) Mix(gains map[string]float32) *pcm.Buffer {
	var out *pcm.Buffer
	for _, name := range s.Names() {
		stem := s[name]
		if out == nil {
			out = pcm.NewBuffer(stem.Channels(), stem.Frames(), stem.SampleRate())
		}
		g := float32(1)
		if v, ok := gains[name]; ok {
			g = v
		}
		if g == 0 {
			continue
		}
		for ch := range min(out.Channels(), stem.Channels()) {
			dst := out.Channel(ch)
			for i, v := range stem.Channel(ch)[:min(len(dst), stem.Frames())] {
				dst[i] += v * g
			}
		}
	}
	return out
}
