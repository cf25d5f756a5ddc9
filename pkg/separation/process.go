package separation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haivivi/stemsplit/pkg/audio/pcm"
	"github.com/haivivi/stemsplit/pkg/audio/resampler"
	"github.com/haivivi/stemsplit/pkg/separation/framing"
	"github.com/haivivi/stemsplit/pkg/separation/inference"
)

// Process separates in into SourceNames() stems.
//
// The context is checked between windows; a forward pass already running
// completes before cancellation is observed. The first failed pass aborts
// the call with an error wrapping its *inference.InferError and no partial
// result.
//
// An input whose sample rate is zero (unknown) is taken to already be at
// the model's rate: it is not resampled and its stems keep a zero rate.
func (s *ModelSeparator) Process(ctx context.Context, in *pcm.Buffer) (stems StemSet, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.model == nil || s.closed {
		return nil, ErrNotReady
	}
	if in == nil {
		return nil, ErrNilInput
	}
	if in.Frames() == 0 {
		stems = make(StemSet, len(s.sources))
		for _, name := range s.sources {
			stems[name] = pcm.NewBuffer(in.Channels(), 0, in.SampleRate())
		}
		return stems, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	if s.metrics != nil {
		done := s.metrics.TrackActive(ctx, s.name)
		defer func() {
			done()
			s.metrics.RecordProcess(ctx, s.name, time.Since(start), err)
		}()
	}

	x, norm, err := s.prepare(in)
	if err != nil {
		return nil, err
	}

	accs := make([]*framing.OverlapAdd, len(s.sources))
	for i := range accs {
		accs[i] = s.framer.NewOverlapAdd(s.layout.Channels, x.Frames())
	}
	s.logger.Info("separation: processing", "model", s.name,
		"frames", in.Frames(), "rate", in.SampleRate(), "channels", in.Channels(),
		"windows", s.framer.Count(x.Frames()))

	if err := s.run(ctx, x, accs); err != nil {
		s.logger.Warn("separation: aborted", "model", s.name, "error", err)
		return nil, err
	}

	stems = make(StemSet, len(s.sources))
	for i, name := range s.sources {
		stem := accs[i].Buffer(x.SampleRate())
		norm.undo(stem)
		if stem, err = restore(stem, in); err != nil {
			return nil, fmt.Errorf("separation: stem %q: %w", name, err)
		}
		stems[name] = stem
	}

	s.logger.Info("separation: done", "model", s.name, "stems", len(stems), "elapsed", time.Since(start))
	return stems, nil
}

// prepare converts in to the model's channel count and sample rate and
// normalises it when the profile asks for it. in is never modified.
func (s *ModelSeparator) prepare(in *pcm.Buffer) (*pcm.Buffer, normalization, error) {
	x := in
	if in.Channels() != s.layout.Channels {
		x = in.Remix(s.layout.Channels)
	}
	switch rate := s.layout.SampleRate; {
	case rate <= 0 || rate == in.SampleRate():
	case in.SampleRate() == 0:
		x = x.WithSampleRate(rate)
	default:
		r, err := resampler.Buffer(x, rate)
		if err != nil {
			return nil, normalization{}, fmt.Errorf("separation: resample to %d Hz: %w", rate, err)
		}
		x = r
	}

	norm := normalization{std: 1}
	if s.profile.Normalize {
		norm = measure(x)
		x = norm.apply(x)
	}
	return x, norm, nil
}

// restore brings a stem back to the rate, length and channel layout of in.
func restore(stem, in *pcm.Buffer) (*pcm.Buffer, error) {
	switch {
	case stem.SampleRate() == in.SampleRate():
	case in.SampleRate() == 0:
		stem = stem.WithSampleRate(0)
	default:
		r, err := resampler.Buffer(stem, in.SampleRate())
		if err != nil {
			return nil, err
		}
		stem = r
	}
	if stem.Frames() != in.Frames() {
		stem = stem.Fit(in.Frames())
	}
	if stem.Channels() != in.Channels() {
		stem = stem.Remix(in.Channels())
	}
	return stem, nil
}

// run feeds every window of x through the model and adds the per-stem
// results into accs in window order.
func (s *ModelSeparator) run(ctx context.Context, x *pcm.Buffer, accs []*framing.OverlapAdd) error {
	par := s.parallelism
	if par > 1 && !inference.IsConcurrent(s.model) {
		par = 1
	}

	count := s.framer.Count(x.Frames())
	if par == 1 {
		for w := range s.framer.Frame(x) {
			if err := ctx.Err(); err != nil {
				return err
			}
			parts, err := s.infer(ctx, w)
			if err != nil {
				return err
			}
			if err := addAll(accs, parts); err != nil {
				return err
			}
			s.report(w.Index+1, count)
		}
		return nil
	}

	for base := 0; base < count; base += par {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch := make([][]framing.Window, min(par, count-base))
		g, gctx := errgroup.WithContext(ctx)
		for j := range batch {
			w := s.framer.At(x, base+j)
			g.Go(func() error {
				parts, err := s.infer(gctx, w)
				if err != nil {
					return err
				}
				batch[j] = parts
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		for j, parts := range batch {
			if err := addAll(accs, parts); err != nil {
				return err
			}
			s.report(base+j+1, count)
		}
	}
	return nil
}

func (s *ModelSeparator) report(done, total int) {
	if s.progress != nil {
		s.progress(done, total)
	}
}

func addAll(accs []*framing.OverlapAdd, parts []framing.Window) error {
	for i, p := range parts {
		if err := accs[i].Add(p); err != nil {
			return fmt.Errorf("separation: %w", err)
		}
	}
	return nil
}

// infer runs one window and splits the outputs into one window per source.
func (s *ModelSeparator) infer(ctx context.Context, w framing.Window) ([]framing.Window, error) {
	shape := inference.Shape{1, int64(w.Channels()), int64(w.Len())}
	start := time.Now()
	outs, err := s.model.Infer(s.layout.Input, w.Flat(), shape, s.layout.Outputs)
	if s.metrics != nil {
		s.metrics.RecordInfer(ctx, s.name, time.Since(start), err)
	}
	if err != nil {
		var ie *inference.InferError
		if !errors.As(err, &ie) {
			err = &inference.InferError{Input: s.layout.Input, Err: err}
		}
		return nil, fmt.Errorf("separation: window %d: %w", w.Index, err)
	}
	s.logger.Debug("separation: window", "model", s.name,
		"index", w.Index, "offset", w.Offset, "valid", w.Valid, "elapsed", time.Since(start))

	parts, err := s.split(w, outs)
	if err != nil {
		return nil, fmt.Errorf("separation: window %d: %w", w.Index, err)
	}
	return parts, nil
}

func (s *ModelSeparator) split(w framing.Window, outs map[string]inference.Tensor) ([]framing.Window, error) {
	channels := w.Channels()
	frame := channels * w.Len()
	parts := make([]framing.Window, len(s.sources))

	mismatch := func(name string, got, want int) error {
		return &inference.InferError{Input: s.layout.Input, Err: fmt.Errorf(
			"%w: output %q has %d values, want %d", inference.ErrShapeMismatch, name, got, want)}
	}

	if s.layout.Stacked {
		name := s.layout.Outputs[0]
		t, ok := outs[name]
		if !ok || len(t.Data) != len(s.sources)*frame {
			return nil, mismatch(name, len(t.Data), len(s.sources)*frame)
		}
		for i := range parts {
			p, err := framing.WindowFromFlat(w, channels, t.Data[i*frame:(i+1)*frame])
			if err != nil {
				return nil, err
			}
			parts[i] = p
		}
		return parts, nil
	}

	for i, name := range s.layout.Outputs {
		t, ok := outs[name]
		if !ok || len(t.Data) != frame {
			return nil, mismatch(name, len(t.Data), frame)
		}
		p, err := framing.WindowFromFlat(w, channels, t.Data)
		if err != nil {
			return nil, err
		}
		parts[i] = p
	}
	return parts, nil
}

// normalization standardises audio by the statistics of its mono downmix.
type normalization struct {
	mean, std float64
}

func measure(b *pcm.Buffer) normalization {
	frames := b.Frames()
	channels := b.Channels()
	if frames == 0 || channels == 0 {
		return normalization{std: 1}
	}
	ref := make([]float64, frames)
	for ch := range channels {
		for i, v := range b.Channel(ch) {
			ref[i] += float64(v)
		}
	}
	var sum float64
	for i := range ref {
		ref[i] /= float64(channels)
		sum += ref[i]
	}
	mean := sum / float64(frames)

	var sq float64
	for _, v := range ref {
		sq += (v - mean) * (v - mean)
	}
	std := 1.0
	if frames > 1 {
		std = math.Sqrt(sq / float64(frames-1))
	}
	if std < 1e-8 {
		std = 1
	}
	return normalization{mean: mean, std: std}
}

func (n normalization) apply(b *pcm.Buffer) *pcm.Buffer {
	out := pcm.NewBuffer(b.Channels(), b.Frames(), b.SampleRate())
	for ch := range b.Channels() {
		dst := out.Channel(ch)
		for i, v := range b.Channel(ch) {
			dst[i] = float32((float64(v) - n.mean) / n.std)
		}
	}
	return out
}

func (n normalization) undo(b *pcm.Buffer) {
	if n.mean == 0 && n.std == 1 {
		return
	}
	for ch := range b.Channels() {
		s := b.Channel(ch)
		for i, v := range s {
			s[i] = float32(float64(v)*n.std + n.mean)
		}
	}
}
