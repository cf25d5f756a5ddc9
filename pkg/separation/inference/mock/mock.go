// Package mock provides test doubles for the inference package interfaces.
//
// Model computes every requested output as the input window scaled by a
// per-output gain, so separation results are exactly predictable: with
// gains summing to one the stems add back up to the mix. Backend hands out
// registered Models by path and records every Load.
//
// Example:
//
//	m := mock.PerStem(2, 4096, "drums", "bass", "vocals", "other")
//	b := mock.NewBackend()
//	b.Register("models/htdemucs.onnx", m)
//	sep := separation.New(b, "models/htdemucs.onnx", profile)
package mock

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/haivivi/stemsplit/pkg/separation/inference"
)

// DefaultInput is the input tensor name used by PerStem and Stacked.
const DefaultInput = "mix"

// DefaultStackedOutput is the output tensor name used by Stacked.
const DefaultStackedOutput = "sources"

// InferCall records a single invocation of Model.Infer.
type InferCall struct {
	// Input is the input tensor name.
	Input string
	// Shape is a copy of the concrete input shape.
	Shape inference.Shape
	// Outputs is a copy of the requested output names.
	Outputs []string
}

// Model is a mock implementation of inference.Model.
type Model struct {
	mu sync.Mutex

	// In and Out are the declared signature.
	In  []inference.TensorDescriptor
	Out []inference.TensorDescriptor

	// Gains scales the input into each rank-3 output, keyed by output
	// name. Missing names use a gain of 1.
	Gains map[string]float32

	// StackGains scales the input into each source of a rank-4 stacked
	// output. Missing entries use a gain of 1.
	StackGains []float32

	// InferErr, if non-nil, is returned (as an *inference.InferError) by
	// Infer. FailOnCall limits it to the n-th call (1-based); zero fails
	// every call.
	InferErr   error
	FailOnCall int

	// Concurrent is reported by ConcurrentSafe.
	Concurrent bool

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// InferCalls records every call to Infer in order.
	InferCalls []InferCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// PerStem returns a model with input "mix" of shape [1, channels, window]
// and one [1, channels, window] output per stem. Gains default to
// 1/len(stems). A window of -1 declares a dynamic time axis.
func PerStem(channels, window int64, stems ...string) *Model {
	m := &Model{
		In:    []inference.TensorDescriptor{{Name: DefaultInput, Shape: inference.Shape{1, channels, window}, DType: inference.Float32}},
		Gains: make(map[string]float32, len(stems)),
	}
	for _, s := range stems {
		m.Out = append(m.Out, inference.TensorDescriptor{Name: s, Shape: inference.Shape{1, channels, window}, DType: inference.Float32})
		m.Gains[s] = 1 / float32(len(stems))
	}
	return m
}

// Stacked returns a model with input "mix" of shape [1, channels, window]
// and a single "sources" output of shape [1, sources, channels, window].
// Gains default to 1/sources.
func Stacked(channels, window int64, sources int) *Model {
	m := &Model{
		In:         []inference.TensorDescriptor{{Name: DefaultInput, Shape: inference.Shape{1, channels, window}, DType: inference.Float32}},
		Out:        []inference.TensorDescriptor{{Name: DefaultStackedOutput, Shape: inference.Shape{1, int64(sources), channels, window}, DType: inference.Float32}},
		StackGains: make([]float32, sources),
	}
	for i := range m.StackGains {
		m.StackGains[i] = 1 / float32(sources)
	}
	return m
}

// Inputs returns a copy of In.
func (m *Model) Inputs() []inference.TensorDescriptor {
	return cloneDescs(m.In)
}

// Outputs returns a copy of Out.
func (m *Model) Outputs() []inference.TensorDescriptor {
	return cloneDescs(m.Out)
}

// InputShape returns the declared shape of the named input.
func (m *Model) InputShape(name string) (inference.Shape, error) {
	d, ok := inference.Describe(m.In, name)
	if !ok {
		return nil, fmt.Errorf("%w: input %q", inference.ErrUnknownTensor, name)
	}
	return d.Shape.Clone(), nil
}

// OutputShape returns the declared shape of the named output.
func (m *Model) OutputShape(name string) (inference.Shape, error) {
	d, ok := inference.Describe(m.Out, name)
	if !ok {
		return nil, fmt.Errorf("%w: output %q", inference.ErrUnknownTensor, name)
	}
	return d.Shape.Clone(), nil
}

// Infer records the call, validates it, then scales the input into every
// requested output. Calls are serialised unless Concurrent is set.
func (m *Model) Infer(inputName string, data []float32, shape inference.Shape, outputNames []string) (map[string]inference.Tensor, error) {
	m.mu.Lock()
	m.InferCalls = append(m.InferCalls, InferCall{
		Input:   inputName,
		Shape:   shape.Clone(),
		Outputs: append([]string(nil), outputNames...),
	})
	call := len(m.InferCalls)
	inferErr := m.InferErr
	failOn := m.FailOnCall
	if !m.Concurrent {
		defer m.mu.Unlock()
	} else {
		m.mu.Unlock()
	}

	if err := inference.CheckInfer(m, inputName, data, shape, outputNames); err != nil {
		return nil, err
	}
	if inferErr != nil && (failOn == 0 || failOn == call) {
		return nil, &inference.InferError{Input: inputName, Err: inferErr}
	}

	out := make(map[string]inference.Tensor, len(outputNames))
	for _, name := range outputNames {
		desc, _ := inference.Describe(m.Out, name)
		switch len(desc.Shape) {
		case len(shape):
			g := float32(1)
			if v, ok := m.Gains[name]; ok {
				g = v
			}
			out[name] = inference.Tensor{Shape: shape.Clone(), Data: scale(data, g)}
		case len(shape) + 1:
			sources := int(desc.Shape[1])
			if sources <= 0 {
				sources = len(m.StackGains)
			}
			stacked := make([]float32, 0, sources*len(data))
			for s := range sources {
				g := float32(1)
				if s < len(m.StackGains) {
					g = m.StackGains[s]
				}
				stacked = append(stacked, scale(data, g)...)
			}
			outShape := append(inference.Shape{shape[0], int64(sources)}, shape[1:]...)
			out[name] = inference.Tensor{Shape: outShape, Data: stacked}
		default:
			return nil, &inference.InferError{Input: inputName, Err: fmt.Errorf("%w: mock cannot produce output %q of rank %d", inference.ErrShapeMismatch, name, len(desc.Shape))}
		}
	}
	return out, nil
}

// ConcurrentSafe reports Concurrent.
func (m *Model) ConcurrentSafe() bool {
	return m.Concurrent
}

// Calls returns the number of Infer calls so far. Thread-safe.
func (m *Model) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.InferCalls)
}

// Close records the call and returns CloseErr.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCallCount++
	return m.CloseErr
}

// Reset clears all recorded calls. Thread-safe.
func (m *Model) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InferCalls = nil
	m.CloseCallCount = 0
}

func scale(in []float32, g float32) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = v * g
	}
	return out
}

func cloneDescs(in []inference.TensorDescriptor) []inference.TensorDescriptor {
	out := make([]inference.TensorDescriptor, len(in))
	for i, d := range in {
		out[i] = inference.TensorDescriptor{Name: d.Name, Shape: d.Shape.Clone(), DType: d.DType}
	}
	return out
}

// Ensure Model implements inference.ConcurrentModel at compile time.
var _ inference.ConcurrentModel = (*Model)(nil)

// Backend is a mock implementation of inference.Backend.
type Backend struct {
	mu     sync.Mutex
	models map[string]*Model

	// LoadErr, if non-nil, is returned (as an *inference.LoadError) by every
	// Load of a registered path.
	LoadErr error

	// LoadCalls records every path passed to Load.
	LoadCalls []string
}

// NewBackend returns an empty Backend.
func NewBackend() *Backend {
	return &Backend{models: make(map[string]*Model)}
}

// Register makes m loadable at path.
func (b *Backend) Register(path string, m *Model) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.models[filepath.Clean(path)] = m
}

// Load returns the Model registered at path. Unregistered paths fail with
// a LoadError wrapping fs.ErrNotExist.
func (b *Backend) Load(path string) (inference.Model, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.LoadCalls = append(b.LoadCalls, path)

	m, ok := b.models[filepath.Clean(path)]
	if !ok {
		return nil, &inference.LoadError{Path: path, Err: fs.ErrNotExist}
	}
	if b.LoadErr != nil {
		return nil, &inference.LoadError{Path: path, Err: b.LoadErr}
	}
	return m, nil
}

// Loads returns the number of Load calls so far. Thread-safe.
func (b *Backend) Loads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.LoadCalls)
}

// ErrInjected is a ready-made failure for InferErr and LoadErr.
var ErrInjected = errors.New("mock: injected failure")

// Ensure Backend implements inference.Backend at compile time.
var _ inference.Backend = (*Backend)(nil)
