package separation

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/haivivi/stemsplit/pkg/observe"
	"github.com/haivivi/stemsplit/pkg/separation/framing"
	"github.com/haivivi/stemsplit/pkg/separation/inference"
)

// Layout is the resolved I/O contract of a loaded model.
type Layout struct {
	Input      string
	Channels   int
	SampleRate int // zero: input rate
	WindowSize int
	HopSize    int

	// Outputs are the tensor names requested from every Infer call.
	Outputs []string
	// Stacked is true for a single [1, S, C, T] output.
	Stacked bool

	Inputs     []inference.TensorDescriptor
	OutputDesc []inference.TensorDescriptor
}

// ModelSeparator separates audio with one loaded model.
type ModelSeparator struct {
	name        string
	path        string
	profile     Profile
	logger      *slog.Logger
	metrics     *observe.Metrics
	parallelism int
	progress    func(done, total int)

	mu      sync.RWMutex // guards model against Close during Process
	model   inference.Model
	err     error
	closed  bool
	layout  Layout
	sources []string
	framer  *framing.Framer
}

// New loads the model at path through backend and validates its signature
// against profile. The load is attempted exactly once: on failure the
// returned separator is not ready and Err reports a *inference.LoadError.
func New(backend inference.Backend, path string, profile Profile, opts ...Option) *ModelSeparator {
	s := &ModelSeparator{
		name:        path,
		path:        path,
		profile:     profile,
		logger:      slog.Default(),
		parallelism: 1,
	}
	for _, o := range opts {
		o(s)
	}

	if err := profile.Validate(); err != nil {
		s.err = &inference.LoadError{Path: path, Err: err}
		s.logger.Warn("separation: invalid profile", "model", s.name, "error", err)
		return s
	}

	model, err := backend.Load(path)
	if err != nil {
		s.err = asLoadError(path, err)
		s.logger.Warn("separation: model not loaded", "model", s.name, "path", path, "error", err)
		return s
	}

	layout, sources, err := bind(model, profile)
	if err != nil {
		model.Close()
		s.err = &inference.LoadError{Path: path, Err: err}
		s.logger.Warn("separation: incompatible model", "model", s.name, "path", path, "error", err)
		return s
	}

	framer, err := framing.NewFramer(layout.WindowSize, layout.HopSize, profile.Taper)
	if err != nil {
		model.Close()
		s.err = &inference.LoadError{Path: path, Err: fmt.Errorf("%w: %v", inference.ErrIncompatibleSignature, err)}
		return s
	}

	s.model = model
	s.layout = layout
	s.sources = sources
	s.framer = framer
	s.logger.Info("separation: model ready", "model", s.name,
		"sources", sources, "channels", layout.Channels,
		"window", layout.WindowSize, "hop", layout.HopSize,
		"concurrent", inference.IsConcurrent(model))
	return s
}

func asLoadError(path string, err error) *inference.LoadError {
	var le *inference.LoadError
	if errors.As(err, &le) {
		return le
	}
	return &inference.LoadError{Path: path, Err: err}
}

// bind resolves the model's signature into a Layout and source names.
func bind(m inference.Model, p Profile) (Layout, []string, error) {
	incompatible := func(format string, args ...any) (Layout, []string, error) {
		return Layout{}, nil, fmt.Errorf("%w: %s", inference.ErrIncompatibleSignature, fmt.Sprintf(format, args...))
	}

	inputs := m.Inputs()
	outputs := m.Outputs()
	if len(inputs) != 1 {
		return incompatible("want exactly 1 input, model declares %d", len(inputs))
	}
	in := inputs[0]
	if p.InputName != "" && in.Name != p.InputName {
		return incompatible("input %q not declared (model input is %q)", p.InputName, in.Name)
	}
	if len(in.Shape) != 3 {
		return incompatible("input %q has shape %v, want [1 C T]", in.Name, in.Shape)
	}
	if b := in.Shape[0]; b > 1 {
		return incompatible("input %q batch size %d, want 1", in.Name, b)
	}

	channels := int(in.Shape[1])
	switch {
	case channels <= 0 && p.Channels <= 0:
		return incompatible("input %q has dynamic channels and the profile sets none", in.Name)
	case channels <= 0:
		channels = p.Channels
	case p.Channels > 0 && p.Channels != channels:
		return incompatible("input %q has %d channels, profile expects %d", in.Name, channels, p.Channels)
	}

	window := int(in.Shape[2])
	if window <= 0 {
		if p.WindowSize <= 0 {
			return incompatible("input %q has a dynamic time axis and the profile sets no window size", in.Name)
		}
		window = p.WindowSize
	}

	layout := Layout{
		Input:      in.Name,
		Channels:   channels,
		SampleRate: p.SampleRate,
		WindowSize: window,
		HopSize:    p.HopSize(window),
		Inputs:     inputs,
		OutputDesc: outputs,
	}

	if len(outputs) == 0 {
		return incompatible("model declares no outputs")
	}

	// One stacked output.
	if len(outputs) == 1 && len(outputs[0].Shape) == 4 {
		out := outputs[0]
		if b := out.Shape[0]; b > 1 {
			return incompatible("output %q batch size %d, want 1", out.Name, b)
		}
		if len(p.Stems) == 0 {
			return incompatible("output %q is stacked and the profile names no stems", out.Name)
		}
		if s := out.Shape[1]; s > 0 && int(s) != len(p.Stems) {
			return incompatible("output %q stacks %d sources, profile names %d", out.Name, s, len(p.Stems))
		}
		if err := checkFrame(out, 2, channels, window); err != nil {
			return Layout{}, nil, err
		}
		if dup := firstDuplicate(p.Stems); dup != "" {
			return incompatible("profile names stem %q twice", dup)
		}
		layout.Outputs = []string{out.Name}
		layout.Stacked = true
		return layout, slices.Clone(p.Stems), nil
	}

	// One output per stem.
	names := make([]string, 0, len(outputs))
	for _, out := range outputs {
		if len(out.Shape) != 3 {
			return incompatible("output %q has shape %v, want [1 C T] or a single [1 S C T]", out.Name, out.Shape)
		}
		if b := out.Shape[0]; b > 1 {
			return incompatible("output %q batch size %d, want 1", out.Name, b)
		}
		if err := checkFrame(out, 1, channels, window); err != nil {
			return Layout{}, nil, err
		}
		names = append(names, out.Name)
	}
	layout.Outputs = names
	return layout, slices.Clone(names), nil
}

// checkFrame verifies the channel and time axes starting at axis.
func checkFrame(out inference.TensorDescriptor, axis, channels, window int) error {
	if c := out.Shape[axis]; c > 0 && int(c) != channels {
		return fmt.Errorf("%w: output %q has %d channels, input has %d",
			inference.ErrIncompatibleSignature, out.Name, c, channels)
	}
	if t := out.Shape[axis+1]; t > 0 && int(t) != window {
		return fmt.Errorf("%w: output %q has %d frames, window is %d",
			inference.ErrIncompatibleSignature, out.Name, t, window)
	}
	return nil
}

func firstDuplicate(names []string) string {
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			return n
		}
		seen[n] = true
	}
	return ""
}

// Name returns the label used in logs and metrics.
func (s *ModelSeparator) Name() string {
	return s.name
}

// Path returns the model file path.
func (s *ModelSeparator) Path() string {
	return s.path
}

// Profile returns the profile the separator was built with.
func (s *ModelSeparator) Profile() Profile {
	return s.profile
}

// Err returns the load failure, or nil for a ready separator.
func (s *ModelSeparator) Err() error {
	return s.err
}

// Ready reports whether the model loaded, validated, and is not closed.
func (s *ModelSeparator) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model != nil && !s.closed
}

// SourceNames returns the stem names in model order. Empty when the model
// failed to load.
func (s *ModelSeparator) SourceNames() []string {
	return slices.Clone(s.sources)
}

// Layout returns the resolved model I/O contract. Zero when not ready.
func (s *ModelSeparator) Layout() Layout {
	return s.layout
}

// Close releases the model. It waits for in-flight Process calls.
func (s *ModelSeparator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.model == nil {
		return nil
	}
	err := s.model.Close()
	s.model = nil
	return err
}

// Ensure ModelSeparator implements Separator at compile time.
var _ Separator = (*ModelSeparator)(nil)
