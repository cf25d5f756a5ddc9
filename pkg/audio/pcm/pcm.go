package pcm

import (
	"errors"
	"fmt"
	"time"
)

// ErrChannelLength is returned when channels passed to a constructor do not
// share the same frame count.
var ErrChannelLength = errors.New("pcm: channels have different lengths")

// Buffer is planar float32 audio. The zero value is an empty buffer with no
// channels.
type Buffer struct {
	rate int
	data [][]float32
}

// NewBuffer allocates a silent buffer with the given shape.
func NewBuffer(channels, frames, sampleRate int) *Buffer {
	if channels < 0 {
		channels = 0
	}
	if frames < 0 {
		frames = 0
	}
	data := make([][]float32, channels)
	for ch := range data {
		data[ch] = make([]float32, frames)
	}
	return &Buffer{rate: sampleRate, data: data}
}

// FromChannels wraps the given channel slices without copying. All channels
// must have the same length.
func FromChannels(sampleRate int, channels ...[]float32) (*Buffer, error) {
	for i := 1; i < len(channels); i++ {
		if len(channels[i]) != len(channels[0]) {
			return nil, fmt.Errorf("%w: channel %d has %d frames, channel 0 has %d",
				ErrChannelLength, i, len(channels[i]), len(channels[0]))
		}
	}
	return &Buffer{rate: sampleRate, data: channels}, nil
}

// FromInterleaved de-interleaves frame-major samples (L R L R ...) into a new
// Buffer. A trailing partial frame is ignored.
func FromInterleaved(samples []float32, channels, sampleRate int) *Buffer {
	if channels <= 0 {
		return &Buffer{rate: sampleRate}
	}
	frames := len(samples) / channels
	b := NewBuffer(channels, frames, sampleRate)
	for i := range frames {
		for ch := range channels {
			b.data[ch][i] = samples[i*channels+ch]
		}
	}
	return b
}

// Channels returns the channel count.
func (b *Buffer) Channels() int {
	return len(b.data)
}

// Frames returns the number of frames (samples per channel).
func (b *Buffer) Frames() int {
	if len(b.data) == 0 {
		return 0
	}
	return len(b.data[0])
}

// SampleRate returns the sample rate in Hz. Zero means unknown.
func (b *Buffer) SampleRate() int {
	return b.rate
}

// Duration returns the playback duration at the buffer's sample rate.
func (b *Buffer) Duration() time.Duration {
	if b.rate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.rate)
}

// Channel returns the samples of channel ch. The slice aliases the buffer.
func (b *Buffer) Channel(ch int) []float32 {
	return b.data[ch]
}

// Clone returns a deep copy.
func (b *Buffer) Clone() *Buffer {
	out := &Buffer{rate: b.rate, data: make([][]float32, len(b.data))}
	for ch, s := range b.data {
		out.data[ch] = append([]float32(nil), s...)
	}
	return out
}

// WithSampleRate returns a shallow copy tagged with a different sample rate.
// Samples are shared, not resampled.
func (b *Buffer) WithSampleRate(rate int) *Buffer {
	return &Buffer{rate: rate, data: b.data}
}

// Interleaved returns frame-major samples (L R L R ...).
func (b *Buffer) Interleaved() []float32 {
	channels := b.Channels()
	frames := b.Frames()
	out := make([]float32, channels*frames)
	for ch, s := range b.data {
		for i, v := range s {
			out[i*channels+ch] = v
		}
	}
	return out
}

// Fit returns a copy with exactly frames frames: longer buffers are
// truncated, shorter ones padded with silence.
func (b *Buffer) Fit(frames int) *Buffer {
	out := NewBuffer(b.Channels(), frames, b.rate)
	for ch, s := range b.data {
		copy(out.data[ch], s)
	}
	return out
}

// Remix converts the buffer to the given channel count and returns a new
// Buffer. Mono is duplicated into every output channel; converting to mono
// averages all channels. Between two multi-channel layouts, channels are
// kept in order, extra ones dropped and missing ones filled from the mono
// downmix.
func (b *Buffer) Remix(channels int) *Buffer {
	src := b.Channels()
	switch {
	case channels == src:
		return b.Clone()
	case channels <= 0 || src == 0:
		return NewBuffer(channels, b.Frames(), b.rate)
	case src == 1:
		out := &Buffer{rate: b.rate, data: make([][]float32, channels)}
		for ch := range out.data {
			out.data[ch] = append([]float32(nil), b.data[0]...)
		}
		return out
	}

	mono := b.downmix()
	if channels == 1 {
		return &Buffer{rate: b.rate, data: [][]float32{mono}}
	}
	out := &Buffer{rate: b.rate, data: make([][]float32, channels)}
	for ch := range out.data {
		if ch < src {
			out.data[ch] = append([]float32(nil), b.data[ch]...)
		} else {
			out.data[ch] = append([]float32(nil), mono...)
		}
	}
	return out
}

func (b *Buffer) downmix() []float32 {
	frames := b.Frames()
	mono := make([]float32, frames)
	scale := 1 / float32(len(b.data))
	for i := range frames {
		var sum float32
		for _, s := range b.data {
			sum += s[i]
		}
		mono[i] = sum * scale
	}
	return mono
}

// Peak returns the largest absolute sample value.
func (b *Buffer) Peak() float32 {
	var peak float32
	for _, s := range b.data {
		for _, v := range s {
			if v < 0 {
				v = -v
			}
			if v > peak {
				peak = v
			}
		}
	}
	return peak
}
