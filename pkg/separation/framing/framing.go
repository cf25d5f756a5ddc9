// Package framing splits audio into fixed-size overlapping windows and
// rebuilds continuous audio from processed windows by weighted
// overlap-add.
//
// Windows are produced lazily as an [iter.Seq]. Every window holds exactly
// the window size in frames; the tail past the end of the input is zero.
// Reconstruction weights each window with a strictly positive taper and
// divides every output frame by the sum of weights that covered it, so a
// window sequence passed through unchanged reconstructs the input exactly
// for any hop in (0, window].
package framing

import (
	"errors"
	"fmt"
	"iter"
	"math"

	"github.com/haivivi/stemsplit/pkg/audio/pcm"
)

var (
	// ErrInvalidSize is returned for a non-positive window or a hop outside
	// (0, window].
	ErrInvalidSize = errors.New("framing: invalid window or hop size")

	// ErrWindowOrder is returned when windows reach an accumulator out of
	// index order.
	ErrWindowOrder = errors.New("framing: window out of order")

	// ErrWindowShape is returned when a window's channel count, length or
	// offset does not match the accumulator.
	ErrWindowShape = errors.New("framing: window shape mismatch")
)

// Taper is the synthesis weighting applied to each window during
// overlap-add.
type Taper int

const (
	// TaperHann is a Hann window sampled at half-sample offsets, so no
	// weight is ever zero.
	TaperHann Taper = iota
	// TaperTriangle ramps linearly up to the centre and back down.
	TaperTriangle
	// TaperRect weights every frame equally.
	TaperRect
)

func (t Taper) String() string {
	switch t {
	case TaperHann:
		return "hann"
	case TaperTriangle:
		return "triangle"
	case TaperRect:
		return "rect"
	default:
		return fmt.Sprintf("taper(%d)", int(t))
	}
}

// ParseTaper parses the names returned by Taper.String.
func ParseTaper(s string) (Taper, error) {
	switch s {
	case "", "hann":
		return TaperHann, nil
	case "triangle":
		return TaperTriangle, nil
	case "rect":
		return TaperRect, nil
	}
	return 0, fmt.Errorf("framing: unknown taper %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t Taper) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Taper) UnmarshalText(b []byte) error {
	v, err := ParseTaper(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Weights returns the n taper weights. All are in (0, 1].
func (t Taper) Weights(n int) []float64 {
	w := make([]float64, n)
	switch t {
	case TaperTriangle:
		half := n / 2
		peak := float64(max(half, n-half))
		for i := range n {
			if i < half {
				w[i] = float64(i+1) / peak
			} else {
				w[i] = float64(n-i) / peak
			}
		}
	case TaperRect:
		for i := range w {
			w[i] = 1
		}
	default:
		for i := range w {
			w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*(float64(i)+0.5)/float64(n))
		}
	}
	return w
}

// Window is one fixed-size slice of audio.
type Window struct {
	// Index is the position of the window in its sequence.
	Index int
	// Offset is the first input frame covered, Index*hop.
	Offset int
	// Valid is the number of frames taken from the input; the rest of
	// the window is zero padding.
	Valid int
	// Data is channel-major, each channel exactly window-size frames.
	Data [][]float32
}

// Channels returns the channel count.
func (w Window) Channels() int {
	return len(w.Data)
}

// Len returns the window length in frames.
func (w Window) Len() int {
	if len(w.Data) == 0 {
		return 0
	}
	return len(w.Data[0])
}

// Flat returns the samples laid out [channel][frame] in one slice, the
// layout of a [1, C, N] tensor.
func (w Window) Flat() []float32 {
	n := w.Len()
	out := make([]float32, 0, len(w.Data)*n)
	for _, ch := range w.Data {
		out = append(out, ch...)
	}
	return out
}

// WindowFromFlat is the inverse of Flat: it splits flat into channels
// windows of len(flat)/channels frames, carrying over the position of
// like. The channel slices alias flat.
func WindowFromFlat(like Window, channels int, flat []float32) (Window, error) {
	if channels <= 0 || len(flat)%channels != 0 {
		return Window{}, fmt.Errorf("%w: %d values for %d channels", ErrWindowShape, len(flat), channels)
	}
	n := len(flat) / channels
	w := Window{Index: like.Index, Offset: like.Offset, Valid: like.Valid, Data: make([][]float32, channels)}
	for ch := range channels {
		w.Data[ch] = flat[ch*n : (ch+1)*n : (ch+1)*n]
	}
	return w, nil
}

// Count returns the number of windows covering frames input frames.
func Count(frames, window, hop int) int {
	switch {
	case frames <= 0 || window <= 0 || hop <= 0:
		return 0
	case frames <= window:
		return 1
	default:
		return 1 + (frames-window+hop-1)/hop
	}
}

// Framer splits buffers into windows and reconstructs them.
type Framer struct {
	window  int
	hop     int
	taper   Taper
	weights []float64
}

// NewFramer validates 0 < hop <= window.
func NewFramer(window, hop int, taper Taper) (*Framer, error) {
	if window <= 0 || hop <= 0 || hop > window {
		return nil, fmt.Errorf("%w: window %d, hop %d", ErrInvalidSize, window, hop)
	}
	return &Framer{window: window, hop: hop, taper: taper, weights: taper.Weights(window)}, nil
}

// WindowSize returns the window length in frames.
func (f *Framer) WindowSize() int { return f.window }

// HopSize returns the hop in frames.
func (f *Framer) HopSize() int { return f.hop }

// Taper returns the synthesis taper.
func (f *Framer) Taper() Taper { return f.taper }

// Count returns the number of windows Frame yields for frames frames.
func (f *Framer) Count(frames int) int {
	return Count(frames, f.window, f.hop)
}

// Frame returns the windows of buf in order. The sequence is finite and
// restartable; each window owns its data. buf must not change while the
// sequence is being ranged over.
func (f *Framer) Frame(buf *pcm.Buffer) iter.Seq[Window] {
	return func(yield func(Window) bool) {
		frames := buf.Frames()
		n := f.Count(frames)
		for i := range n {
			if !yield(f.cut(buf, i, frames)) {
				return
			}
		}
	}
}

// At returns window i of buf without ranging over the earlier ones. i must
// be in [0, Count(buf.Frames())).
func (f *Framer) At(buf *pcm.Buffer, i int) Window {
	return f.cut(buf, i, buf.Frames())
}

func (f *Framer) cut(buf *pcm.Buffer, i, frames int) Window {
	offset := i * f.hop
	valid := min(f.window, frames-offset)
	w := Window{Index: i, Offset: offset, Valid: valid, Data: make([][]float32, buf.Channels())}
	for ch := range w.Data {
		data := make([]float32, f.window)
		copy(data, buf.Channel(ch)[offset:offset+valid])
		w.Data[ch] = data
	}
	return w
}

// Frame splits buf with a Hann framer. Invalid sizes yield no windows.
func Frame(buf *pcm.Buffer, windowSize, hopSize int) iter.Seq[Window] {
	f, err := NewFramer(windowSize, hopSize, TaperHann)
	if err != nil {
		return func(func(Window) bool) {}
	}
	return f.Frame(buf)
}

// NewOverlapAdd returns an accumulator that rebuilds frames frames of
// channels-channel audio.
func (f *Framer) NewOverlapAdd(channels, frames int) *OverlapAdd {
	o := &OverlapAdd{
		framer: f,
		frames: max(frames, 0),
		acc:    make([][]float64, channels),
		wsum:   make([]float64, max(frames, 0)),
	}
	for ch := range o.acc {
		o.acc[ch] = make([]float64, o.frames)
	}
	return o
}

// Reconstruct overlap-adds windows into exactly frames frames using this
// framer's taper. The sample rate of the result is unset.
func (f *Framer) Reconstruct(windows iter.Seq[Window], frames int) (*pcm.Buffer, error) {
	var o *OverlapAdd
	for w := range windows {
		if o == nil {
			if w.Len() != f.window {
				return nil, fmt.Errorf("%w: window %d has %d frames, want %d", ErrWindowShape, w.Index, w.Len(), f.window)
			}
			o = f.NewOverlapAdd(w.Channels(), frames)
		}
		if err := o.Add(w); err != nil {
			return nil, err
		}
	}
	if o == nil {
		return pcm.NewBuffer(0, max(frames, 0), 0), nil
	}
	return o.Buffer(0), nil
}

// Reconstruct overlap-adds windows (with a Hann taper) into exactly
// originalFrameCount frames. Window length and channel count come from the
// first window.
func Reconstruct(windows []Window, originalFrameCount, hopSize int) (*pcm.Buffer, error) {
	if len(windows) == 0 {
		return pcm.NewBuffer(0, max(originalFrameCount, 0), 0), nil
	}
	f, err := NewFramer(windows[0].Len(), hopSize, TaperHann)
	if err != nil {
		return nil, err
	}
	return f.Reconstruct(func(yield func(Window) bool) {
		for _, w := range windows {
			if !yield(w) {
				return
			}
		}
	}, originalFrameCount)
}

// OverlapAdd incrementally accumulates windows in index order.
type OverlapAdd struct {
	framer *Framer
	frames int
	acc    [][]float64
	wsum   []float64
	next   int
}

// Next returns the index of the window Add expects next.
func (o *OverlapAdd) Next() int {
	return o.next
}

// Add weights w by the taper and adds it in. Windows must arrive in index
// order starting at 0 with the accumulator's channel count and the
// framer's window length.
func (o *OverlapAdd) Add(w Window) error {
	if w.Index != o.next {
		return fmt.Errorf("%w: got window %d, want %d", ErrWindowOrder, w.Index, o.next)
	}
	if w.Channels() != len(o.acc) || w.Len() != o.framer.window {
		return fmt.Errorf("%w: window %d is %dx%d, want %dx%d",
			ErrWindowShape, w.Index, w.Channels(), w.Len(), len(o.acc), o.framer.window)
	}
	if w.Offset != w.Index*o.framer.hop {
		return fmt.Errorf("%w: window %d at offset %d, want %d",
			ErrWindowShape, w.Index, w.Offset, w.Index*o.framer.hop)
	}

	n := min(o.framer.window, o.frames-w.Offset)
	weights := o.framer.weights
	for i := 0; i < n; i++ {
		o.wsum[w.Offset+i] += weights[i]
	}
	for ch, data := range w.Data {
		acc := o.acc[ch]
		for i := 0; i < n; i++ {
			acc[w.Offset+i] += float64(data[i]) * weights[i]
		}
	}
	o.next++
	return nil
}

// Buffer normalises the accumulated audio and returns it tagged with
// sampleRate. Frames no window covered are zero.
func (o *OverlapAdd) Buffer(sampleRate int) *pcm.Buffer {
	buf := pcm.NewBuffer(len(o.acc), o.frames, sampleRate)
	for ch, acc := range o.acc {
		dst := buf.Channel(ch)
		for i, v := range acc {
			if o.wsum[i] > 0 {
				dst[i] = float32(v / o.wsum[i])
			}
		}
	}
	return buf
}
