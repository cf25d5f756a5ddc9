package separation

import (
	"fmt"
	"math"

	"github.com/haivivi/stemsplit/pkg/separation/framing"
)

// Profile is the framing contract of a model family that the graph
// signature alone does not carry.
type Profile struct {
	// SampleRate the model was trained at. Input is resampled to it and
	// stems back to the input rate. Zero runs at the input rate.
	SampleRate int `yaml:"sample_rate"`

	// Channels the model expects when its channel axis is dynamic. Zero
	// defers to the signature.
	Channels int `yaml:"channels"`

	// WindowSize in frames when the model's time axis is dynamic. A static
	// time axis always wins.
	WindowSize int `yaml:"window_size"`

	// Overlap is the fraction of a window shared with the next, in [0, 1).
	Overlap float64 `yaml:"overlap"`

	// InputName selects the graph input. Empty uses the only input.
	InputName string `yaml:"input"`

	// Stems names the sources of a single stacked [1, S, C, T] output, in
	// order. Ignored for models with one output per stem.
	Stems []string `yaml:"stems"`

	// Normalize standardises the input by the mean and deviation of its
	// mono downmix and undoes it on every stem.
	Normalize bool `yaml:"normalize"`

	// Taper weights windows during overlap-add.
	Taper framing.Taper `yaml:"taper,omitempty"`
}

// HopSize returns the hop for a window of n frames: n minus the overlap,
// at least 1.
func (p Profile) HopSize(n int) int {
	hop := n - int(math.Round(float64(n)*p.Overlap))
	return max(1, min(hop, n))
}

// Validate checks ranges.
func (p Profile) Validate() error {
	switch {
	case p.SampleRate < 0:
		return fmt.Errorf("separation: profile sample rate %d", p.SampleRate)
	case p.Channels < 0:
		return fmt.Errorf("separation: profile channels %d", p.Channels)
	case p.WindowSize < 0:
		return fmt.Errorf("separation: profile window size %d", p.WindowSize)
	case p.Overlap < 0 || p.Overlap >= 1 || math.IsNaN(p.Overlap):
		return fmt.Errorf("separation: profile overlap %v not in [0, 1)", p.Overlap)
	}
	return nil
}
