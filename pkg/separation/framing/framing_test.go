package framing

import (
	"errors"
	"math"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/haivivi/stemsplit/pkg/audio/pcm"
)

func noise(channels, frames int) *pcm.Buffer {
	r := rand.New(rand.NewPCG(1, 2))
	b := pcm.NewBuffer(channels, frames, 44100)
	for ch := range channels {
		s := b.Channel(ch)
		for i := range s {
			s[i] = float32(r.Float64()*2 - 1)
		}
	}
	return b
}

func TestCount(t *testing.T) {
	tests := []struct {
		frames, window, hop, want int
	}{
		{0, 4, 2, 0},
		{1, 4, 2, 1},
		{4, 4, 2, 1},
		{5, 4, 2, 2},
		{6, 4, 2, 2},
		{7, 4, 2, 3},
		{10, 4, 4, 3},
		{12, 4, 4, 3},
		{100, 10, 3, 31},
	}
	for _, tt := range tests {
		if got := Count(tt.frames, tt.window, tt.hop); got != tt.want {
			t.Errorf("Count(%d, %d, %d) = %d, want %d", tt.frames, tt.window, tt.hop, got, tt.want)
		}
	}
}

func TestNewFramerValidates(t *testing.T) {
	for _, tt := range []struct{ window, hop int }{{0, 1}, {4, 0}, {4, 5}, {-1, -1}} {
		if _, err := NewFramer(tt.window, tt.hop, TaperHann); !errors.Is(err, ErrInvalidSize) {
			t.Errorf("NewFramer(%d, %d) error = %v, want ErrInvalidSize", tt.window, tt.hop, err)
		}
	}
	if _, err := NewFramer(4, 4, TaperRect); err != nil {
		t.Errorf("hop == window should be valid: %v", err)
	}
}

func TestFrameWindows(t *testing.T) {
	b, _ := pcm.FromChannels(8000, []float32{1, 2, 3, 4, 5, 6, 7}, []float32{-1, -2, -3, -4, -5, -6, -7})
	windows := slices.Collect(Frame(b, 4, 2))
	if len(windows) != 3 {
		t.Fatalf("got %d windows, want 3", len(windows))
	}

	last := windows[2]
	if last.Index != 2 || last.Offset != 4 || last.Valid != 3 {
		t.Errorf("last window = index %d offset %d valid %d, want 2 4 3", last.Index, last.Offset, last.Valid)
	}
	if !slices.Equal(last.Data[0], []float32{5, 6, 7, 0}) {
		t.Errorf("last window ch0 = %v, want [5 6 7 0]", last.Data[0])
	}
	if !slices.Equal(last.Data[1], []float32{-5, -6, -7, 0}) {
		t.Errorf("last window ch1 = %v, want [-5 -6 -7 0]", last.Data[1])
	}
	for _, w := range windows {
		if w.Len() != 4 || w.Channels() != 2 {
			t.Errorf("window %d shape = %dx%d, want 2x4", w.Index, w.Channels(), w.Len())
		}
	}
}

func TestFrameRestartable(t *testing.T) {
	b := noise(1, 1000)
	seq := Frame(b, 256, 100)
	first := slices.Collect(seq)
	second := slices.Collect(seq)
	if len(first) != len(second) || len(first) == 0 {
		t.Fatalf("ranges yielded %d and %d windows", len(first), len(second))
	}
	for i := range first {
		if first[i].Index != second[i].Index || !slices.Equal(first[i].Data[0], second[i].Data[0]) {
			t.Fatalf("window %d differs between ranges", i)
		}
	}
}

func TestFrameEmptyAndInvalid(t *testing.T) {
	if n := len(slices.Collect(Frame(pcm.NewBuffer(2, 0, 8000), 4, 2))); n != 0 {
		t.Errorf("empty input yielded %d windows", n)
	}
	if n := len(slices.Collect(Frame(noise(1, 10), 4, 8))); n != 0 {
		t.Errorf("invalid hop yielded %d windows", n)
	}
}

func TestFrameShortInputPadded(t *testing.T) {
	b, _ := pcm.FromChannels(8000, []float32{1, 2})
	windows := slices.Collect(Frame(b, 8, 4))
	if len(windows) != 1 {
		t.Fatalf("got %d windows, want 1", len(windows))
	}
	if !slices.Equal(windows[0].Data[0], []float32{1, 2, 0, 0, 0, 0, 0, 0}) {
		t.Errorf("window = %v", windows[0].Data[0])
	}
}

func TestIdentityRoundTrip(t *testing.T) {
	tests := []struct {
		name             string
		channels, frames int
		window, hop      int
		taper            Taper
	}{
		{"hann quarter overlap", 2, 10000, 1024, 768, TaperHann},
		{"hann half overlap", 1, 4097, 512, 256, TaperHann},
		{"triangle", 2, 3000, 256, 200, TaperTriangle},
		{"rect no overlap", 1, 1000, 128, 128, TaperRect},
		{"hop one", 1, 50, 8, 1, TaperHann},
		{"shorter than window", 2, 300, 1024, 512, TaperHann},
		{"exact window", 1, 512, 512, 256, TaperHann},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := noise(tt.channels, tt.frames)
			f, err := NewFramer(tt.window, tt.hop, tt.taper)
			if err != nil {
				t.Fatal(err)
			}
			out, err := f.Reconstruct(f.Frame(in), in.Frames())
			if err != nil {
				t.Fatalf("Reconstruct error: %v", err)
			}
			if out.Frames() != in.Frames() || out.Channels() != in.Channels() {
				t.Fatalf("shape = (%d, %d), want (%d, %d)", out.Channels(), out.Frames(), in.Channels(), in.Frames())
			}
			for ch := range in.Channels() {
				for i, v := range out.Channel(ch) {
					if d := math.Abs(float64(v - in.Channel(ch)[i])); d > 1e-6 {
						t.Fatalf("sample[%d][%d] off by %g", ch, i, d)
					}
				}
			}
		})
	}
}

func TestReconstructSlice(t *testing.T) {
	in := noise(2, 5000)
	windows := slices.Collect(Frame(in, 1000, 750))
	out, err := Reconstruct(windows, in.Frames(), 750)
	if err != nil {
		t.Fatalf("Reconstruct error: %v", err)
	}
	for i, v := range out.Channel(1) {
		if d := math.Abs(float64(v - in.Channel(1)[i])); d > 1e-6 {
			t.Fatalf("sample %d off by %g", i, d)
		}
	}
}

func TestReconstructGainApplied(t *testing.T) {
	in := noise(1, 2000)
	f, _ := NewFramer(256, 192, TaperHann)
	o := f.NewOverlapAdd(1, in.Frames())
	for w := range f.Frame(in) {
		for i := range w.Data[0] {
			w.Data[0][i] *= 0.5
		}
		if err := o.Add(w); err != nil {
			t.Fatal(err)
		}
	}
	out := o.Buffer(in.SampleRate())
	if out.SampleRate() != in.SampleRate() {
		t.Errorf("SampleRate() = %d, want %d", out.SampleRate(), in.SampleRate())
	}
	for i, v := range out.Channel(0) {
		if d := math.Abs(float64(v - 0.5*in.Channel(0)[i])); d > 1e-6 {
			t.Fatalf("sample %d off by %g", i, d)
		}
	}
}

func TestOverlapAddOrder(t *testing.T) {
	in := noise(1, 100)
	f, _ := NewFramer(32, 16, TaperHann)
	windows := slices.Collect(f.Frame(in))

	o := f.NewOverlapAdd(1, in.Frames())
	if err := o.Add(windows[1]); !errors.Is(err, ErrWindowOrder) {
		t.Errorf("out-of-order error = %v, want ErrWindowOrder", err)
	}
	if err := o.Add(windows[0]); err != nil {
		t.Fatalf("Add(0) error: %v", err)
	}
	if err := o.Add(windows[0]); !errors.Is(err, ErrWindowOrder) {
		t.Errorf("duplicate error = %v, want ErrWindowOrder", err)
	}
	if o.Next() != 1 {
		t.Errorf("Next() = %d, want 1", o.Next())
	}
}

func TestOverlapAddShape(t *testing.T) {
	f, _ := NewFramer(32, 16, TaperHann)
	o := f.NewOverlapAdd(2, 100)

	mono := slices.Collect(f.Frame(noise(1, 100)))
	if err := o.Add(mono[0]); !errors.Is(err, ErrWindowShape) {
		t.Errorf("channel mismatch error = %v, want ErrWindowShape", err)
	}

	short := Window{Index: 0, Data: [][]float32{make([]float32, 8), make([]float32, 8)}}
	if err := o.Add(short); !errors.Is(err, ErrWindowShape) {
		t.Errorf("length mismatch error = %v, want ErrWindowShape", err)
	}
}

func TestFlatRoundTrip(t *testing.T) {
	in := noise(2, 64)
	w := slices.Collect(Frame(in, 16, 8))[2]
	flat := w.Flat()
	if len(flat) != 32 {
		t.Fatalf("len(Flat()) = %d, want 32", len(flat))
	}
	back, err := WindowFromFlat(w, 2, flat)
	if err != nil {
		t.Fatal(err)
	}
	if back.Index != w.Index || back.Offset != w.Offset || back.Valid != w.Valid {
		t.Errorf("position not carried over: %+v", back)
	}
	for ch := range 2 {
		if !slices.Equal(back.Data[ch], w.Data[ch]) {
			t.Errorf("channel %d differs", ch)
		}
	}
	if _, err := WindowFromFlat(w, 3, flat[:31]); !errors.Is(err, ErrWindowShape) {
		t.Errorf("bad flat error = %v, want ErrWindowShape", err)
	}
}

func TestTaperWeightsPositive(t *testing.T) {
	for _, taper := range []Taper{TaperHann, TaperTriangle, TaperRect} {
		for _, n := range []int{1, 2, 7, 256} {
			for i, w := range taper.Weights(n) {
				if w <= 0 || w > 1 {
					t.Fatalf("%s weights(%d)[%d] = %v, want in (0, 1]", taper, n, i, w)
				}
			}
		}
	}
}

func TestParseTaper(t *testing.T) {
	for _, taper := range []Taper{TaperHann, TaperTriangle, TaperRect} {
		got, err := ParseTaper(taper.String())
		if err != nil || got != taper {
			t.Errorf("ParseTaper(%q) = %v, %v", taper.String(), got, err)
		}
	}
	if _, err := ParseTaper("kaiser"); err == nil {
		t.Error("expected error for unknown taper")
	}
}

func TestTaperText(t *testing.T) {
	for _, taper := range []Taper{TaperHann, TaperTriangle, TaperRect} {
		b, err := taper.MarshalText()
		if err != nil {
			t.Fatal(err)
		}
		var got Taper
		if err := got.UnmarshalText(b); err != nil {
			t.Fatalf("UnmarshalText(%q) error: %v", b, err)
		}
		if got != taper {
			t.Errorf("round trip %v = %v", taper, got)
		}
	}
	var tp Taper
	if err := tp.UnmarshalText([]byte("kaiser")); err == nil {
		t.Error("expected error for unknown taper")
	}
}
