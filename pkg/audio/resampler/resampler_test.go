package resampler

import (
	"errors"
	"math"
	"testing"

	"github.com/haivivi/stemsplit/pkg/audio/pcm"
)

func sine(freq float64, rate, frames, channels int) *pcm.Buffer {
	b := pcm.NewBuffer(channels, frames, rate)
	for ch := range channels {
		s := b.Channel(ch)
		for i := range s {
			s[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
		}
	}
	return b
}

func rms(s []float32) float64 {
	var sum float64
	for _, v := range s {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(s)))
}

func TestFrames(t *testing.T) {
	tests := []struct {
		frames, in, out, want int
	}{
		{44100, 44100, 48000, 48000},
		{48000, 48000, 16000, 16000},
		{1000, 44100, 48000, 1088},
		{0, 44100, 48000, 0},
		{100, 0, 48000, 0},
	}
	for _, tt := range tests {
		if got := Frames(tt.frames, tt.in, tt.out); got != tt.want {
			t.Errorf("Frames(%d, %d, %d) = %d, want %d", tt.frames, tt.in, tt.out, got, tt.want)
		}
	}
}

func TestBufferSameRateClones(t *testing.T) {
	in := sine(440, 16000, 160, 1)
	out, err := Buffer(in, 16000)
	if err != nil {
		t.Fatalf("Buffer error: %v", err)
	}
	out.Channel(0)[0] = 9
	if in.Channel(0)[0] == 9 {
		t.Error("same-rate conversion must copy")
	}
}

func TestBufferLengthAndRate(t *testing.T) {
	tests := []struct {
		name     string
		in, out  int
		frames   int
		channels int
	}{
		{"down mono", 48000, 16000, 4800, 1},
		{"up stereo", 44100, 48000, 4410, 2},
		{"odd length", 22050, 44100, 1001, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := sine(440, tt.in, tt.frames, tt.channels)
			out, err := Buffer(in, tt.out)
			if err != nil {
				t.Fatalf("Buffer error: %v", err)
			}
			if out.SampleRate() != tt.out {
				t.Errorf("SampleRate() = %d, want %d", out.SampleRate(), tt.out)
			}
			if out.Channels() != tt.channels {
				t.Errorf("Channels() = %d, want %d", out.Channels(), tt.channels)
			}
			if want := Frames(tt.frames, tt.in, tt.out); out.Frames() != want {
				t.Errorf("Frames() = %d, want %d", out.Frames(), want)
			}
		})
	}
}

func TestBufferPreservesLevel(t *testing.T) {
	in := sine(440, 48000, 48000, 1)
	out, err := Buffer(in, 16000)
	if err != nil {
		t.Fatalf("Buffer error: %v", err)
	}
	want := rms(in.Channel(0))
	got := rms(out.Channel(0))
	if math.Abs(got-want) > 0.05 {
		t.Errorf("rms = %.3f, want about %.3f", got, want)
	}
}

func TestBufferEmpty(t *testing.T) {
	out, err := Buffer(pcm.NewBuffer(2, 0, 44100), 48000)
	if err != nil {
		t.Fatalf("Buffer error: %v", err)
	}
	if out.Channels() != 2 || out.Frames() != 0 {
		t.Errorf("shape = (%d, %d), want (2, 0)", out.Channels(), out.Frames())
	}
}

func TestBufferInvalidRate(t *testing.T) {
	_, err := Buffer(pcm.NewBuffer(1, 10, 0), 16000)
	if !errors.Is(err, ErrInvalidRate) {
		t.Errorf("error = %v, want ErrInvalidRate", err)
	}
	_, err = Buffer(pcm.NewBuffer(1, 10, 16000), -1)
	if !errors.Is(err, ErrInvalidRate) {
		t.Errorf("error = %v, want ErrInvalidRate", err)
	}
}

func peakAt(s []float32) int {
	at, best := -1, 0.0
	for i, v := range s {
		if a := math.Abs(float64(v)); a > best {
			at, best = i, a
		}
	}
	return at
}

func TestBufferChannelsStayIndependent(t *testing.T) {
	in := sine(440, 22050, 4410, 2)
	clear(in.Channel(1))
	out, err := Buffer(in, 44100)
	if err != nil {
		t.Fatalf("Buffer error: %v", err)
	}
	if got := rms(out.Channel(1)); got > 1e-6 {
		t.Errorf("silent right channel rms = %g, want 0", got)
	}
	want := rms(in.Channel(0))
	if got := rms(out.Channel(0)); math.Abs(got-want) > 0.02 {
		t.Errorf("left rms = %.4f, want about %.4f", got, want)
	}
}

func TestBufferImpulsePosition(t *testing.T) {
	tests := []struct {
		name       string
		in, out    int
		frames, at int
		want       int
	}{
		{"22050 to 44100", 22050, 44100, 4410, 1000, 2000},
		{"44100 to 48000", 44100, 48000, 4410, 1470, 1600},
		{"48000 to 44100", 48000, 44100, 4800, 1600, 1470},
		{"48000 to 16000", 48000, 16000, 4800, 3000, 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := pcm.NewBuffer(2, tt.frames, tt.in)
			in.Channel(0)[tt.at] = 1
			in.Channel(1)[tt.at/2] = 1
			out, err := Buffer(in, tt.out)
			if err != nil {
				t.Fatalf("Buffer error: %v", err)
			}
			if got := peakAt(out.Channel(0)); got < tt.want-1 || got > tt.want+1 {
				t.Errorf("left impulse at %d, want %d", got, tt.want)
			}
			wantRight := Frames(tt.at/2, tt.in, tt.out)
			if got := peakAt(out.Channel(1)); got < wantRight-1 || got > wantRight+1 {
				t.Errorf("right impulse at %d, want %d", got, wantRight)
			}
		})
	}
}

func TestBufferKeepsTail(t *testing.T) {
	in := sine(440, 22050, 2205, 1)
	out, err := Buffer(in, 44100)
	if err != nil {
		t.Fatalf("Buffer error: %v", err)
	}
	s := out.Channel(0)
	want := rms(in.Channel(0))
	if got := rms(s[len(s)-100:]); got < 0.7*want {
		t.Errorf("tail rms = %.4f, want at least %.4f", got, 0.7*want)
	}
	if got := rms(s[:100]); got < 0.7*want {
		t.Errorf("head rms = %.4f, want at least %.4f", got, 0.7*want)
	}
}
