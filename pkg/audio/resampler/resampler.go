package resampler

import (
	"errors"
	"fmt"
	"math"
	"sync"

	resampling "github.com/tphakala/go-audio-resampling"
	"golang.org/x/sync/errgroup"

	"github.com/haivivi/stemsplit/pkg/audio/pcm"
)

// ErrInvalidRate is returned for non-positive sample rates.
var ErrInvalidRate = errors.New("resampler: invalid sample rate")

// Frames returns the frame count produced when converting frames samples
// from inRate to outRate.
func Frames(frames, inRate, outRate int) int {
	if inRate <= 0 || outRate <= 0 {
		return 0
	}
	return int(math.Round(float64(frames) * float64(outRate) / float64(inRate)))
}

// Buffer converts buf to the given sample rate and returns a new buffer with
// exactly Frames(buf.Frames(), buf.SampleRate(), rate) frames. Channel count
// is preserved and every channel is converted on its own. Same-rate input
// is cloned.
func Buffer(buf *pcm.Buffer, rate int) (*pcm.Buffer, error) {
	inRate := buf.SampleRate()
	if inRate <= 0 || rate <= 0 {
		return nil, fmt.Errorf("%w: %d -> %d", ErrInvalidRate, inRate, rate)
	}
	if inRate == rate {
		return buf.Clone(), nil
	}

	channels := buf.Channels()
	frames := buf.Frames()
	want := Frames(frames, inRate, rate)
	if channels == 0 || frames == 0 {
		return pcm.NewBuffer(channels, want, rate), nil
	}

	c := converterFor(inRate, rate)
	offset, err := c.offset()
	if err != nil {
		return nil, err
	}

	out := make([][]float32, channels)
	var g errgroup.Group
	for ch := range channels {
		g.Go(func() error {
			y, err := c.run(buf.Channel(ch))
			if err != nil {
				return fmt.Errorf("resampler: channel %d: %w", ch, err)
			}
			dst := make([]float32, want)
			if offset < len(y) {
				for i, v := range y[offset:min(len(y), offset+want)] {
					dst[i] = float32(v)
				}
			}
			out[ch] = dst
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pcm.FromChannels(rate, out...)
}

// converter resamples mono signals between one pair of rates. Input is
// framed by lead and tail silence so the filter has settled before the
// first sample and drained after the last.
type converter struct {
	in, out int
	pad     int

	once sync.Once
	at   int
	err  error
}

var converters sync.Map // [2]int -> *converter

func converterFor(in, out int) *converter {
	key := [2]int{in, out}
	if c, ok := converters.Load(key); ok {
		return c.(*converter)
	}
	c, _ := converters.LoadOrStore(key, &converter{in: in, out: out, pad: padding(in, out)})
	return c.(*converter)
}

// padding returns the silence, in input frames, placed around a signal. It
// is a whole number of rate periods when that is affordable, so the first
// real input frame lands exactly on an output frame.
func padding(in, out int) int {
	base := in/10 + 4096
	period := in / gcd(in, out)
	if period > base {
		return base
	}
	return (base + period - 1) / period * period
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// run resamples x framed by silence with a fresh single-channel resampler
// and returns the whole output, flush included.
func (c *converter) run(x []float32) ([]float64, error) {
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(c.in),
		OutputRate: float64(c.out),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("create: %w", err)
	}

	input := make([]float64, c.pad+len(x)+c.pad)
	for i, v := range x {
		input[c.pad+i] = float64(v)
	}
	y, err := rs.Process(input)
	if err != nil {
		return nil, fmt.Errorf("process: %w", err)
	}
	tail, err := rs.Flush()
	if err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}
	return append(y, tail...), nil
}

// offset returns the output index of the first real input frame. It is
// measured once per rate pair by locating the peak of a resampled impulse,
// which holds whatever latency the filter pipeline adds or trims.
func (c *converter) offset() (int, error) {
	c.once.Do(func() {
		y, err := c.run([]float32{1})
		if err != nil {
			c.err = fmt.Errorf("resampler: calibrate %d -> %d: %w", c.in, c.out, err)
			return
		}
		peak, best := -1, 0.0
		for i, v := range y {
			if a := math.Abs(v); a > best {
				peak, best = i, a
			}
		}
		if peak < 0 {
			c.err = fmt.Errorf("resampler: calibrate %d -> %d: silent impulse response", c.in, c.out)
			return
		}
		c.at = peak
	})
	return c.at, c.err
}
