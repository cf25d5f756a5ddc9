// Package ort implements the inference contract on ONNX Runtime.
package ort

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/haivivi/stemsplit/pkg/onnx"
	"github.com/haivivi/stemsplit/pkg/separation/inference"
)

// Option configures a Backend.
type Option func(*Backend)

// WithIntraOpThreads limits the threads ONNX Runtime uses inside one
// operator. Zero keeps the runtime default.
func WithIntraOpThreads(n int) Option {
	return func(b *Backend) { b.threads = n }
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// Backend loads ONNX models into ONNX Runtime sessions sharing one Env.
type Backend struct {
	env     *onnx.Env
	threads int
	logger  *slog.Logger
}

// New creates a backend and its ONNX Runtime environment.
func New(opts ...Option) (*Backend, error) {
	b := &Backend{logger: slog.Default()}
	for _, o := range opts {
		o(b)
	}
	env, err := onnx.NewEnv("stemsplit")
	if err != nil {
		return nil, fmt.Errorf("ort: create env: %w", err)
	}
	b.env = env
	return b, nil
}

// Load reads the model file at path and opens a session on it.
func (b *Backend) Load(path string) (inference.Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &inference.LoadError{Path: path, Err: err}
	}

	session, err := b.env.NewSession(data, &onnx.SessionOptions{IntraOpThreads: b.threads})
	if err != nil {
		return nil, &inference.LoadError{Path: path, Err: err}
	}

	inputs, err := descriptors(session.Inputs())
	if err != nil {
		session.Close()
		return nil, &inference.LoadError{Path: path, Err: err}
	}
	outputs, err := descriptors(session.Outputs())
	if err != nil {
		session.Close()
		return nil, &inference.LoadError{Path: path, Err: err}
	}

	b.logger.Debug("ort: model loaded", "path", path, "bytes", len(data),
		"inputs", len(inputs), "outputs", len(outputs))
	return &Model{session: session, inputs: inputs, outputs: outputs}, nil
}

// Close releases the environment. Models loaded from it must be closed
// first.
func (b *Backend) Close() error {
	return b.env.Close()
}

func descriptors(infos []onnx.TensorInfo) ([]inference.TensorDescriptor, error) {
	descs := make([]inference.TensorDescriptor, len(infos))
	for i, info := range infos {
		if info.Type != onnx.ElementFloat {
			return nil, fmt.Errorf("%w: tensor %q is %s, want float32",
				inference.ErrIncompatibleSignature, info.Name, info.Type)
		}
		descs[i] = inference.TensorDescriptor{
			Name:  info.Name,
			Shape: inference.Shape(info.Shape),
			DType: inference.Float32,
		}
	}
	return descs, nil
}

// Model is a loaded ONNX Runtime session.
type Model struct {
	mu      sync.RWMutex
	session *onnx.Session
	inputs  []inference.TensorDescriptor
	outputs []inference.TensorDescriptor
}

// Inputs returns the declared graph inputs.
func (m *Model) Inputs() []inference.TensorDescriptor {
	return clone(m.inputs)
}

// Outputs returns the declared graph outputs.
func (m *Model) Outputs() []inference.TensorDescriptor {
	return clone(m.outputs)
}

// InputShape returns the declared shape of input name.
func (m *Model) InputShape(name string) (inference.Shape, error) {
	d, ok := inference.Describe(m.inputs, name)
	if !ok {
		return nil, fmt.Errorf("%w: input %q", inference.ErrUnknownTensor, name)
	}
	return d.Shape.Clone(), nil
}

// OutputShape returns the declared shape of output name.
func (m *Model) OutputShape(name string) (inference.Shape, error) {
	d, ok := inference.Describe(m.outputs, name)
	if !ok {
		return nil, fmt.Errorf("%w: output %q", inference.ErrUnknownTensor, name)
	}
	return d.Shape.Clone(), nil
}

// Infer runs the session once.
func (m *Model) Infer(inputName string, data []float32, shape inference.Shape, outputNames []string) (map[string]inference.Tensor, error) {
	if err := inference.CheckInfer(m, inputName, data, shape, outputNames); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return nil, &inference.InferError{Input: inputName, Err: onnx.ErrClosed}
	}

	input, err := onnx.NewTensor([]int64(shape), data)
	if err != nil {
		return nil, &inference.InferError{Input: inputName, Err: err}
	}
	defer input.Close()

	results, err := m.session.Run([]string{inputName}, []*onnx.Tensor{input}, outputNames)
	if err != nil {
		return nil, &inference.InferError{Input: inputName, Err: err}
	}
	defer func() {
		for _, r := range results {
			r.Close()
		}
	}()

	out := make(map[string]inference.Tensor, len(outputNames))
	for i, name := range outputNames {
		s, err := results[i].Shape()
		if err != nil {
			return nil, &inference.InferError{Input: inputName, Err: fmt.Errorf("output %q: %w", name, err)}
		}
		values, err := results[i].FloatData()
		if err != nil {
			return nil, &inference.InferError{Input: inputName, Err: fmt.Errorf("output %q: %w", name, err)}
		}
		out[name] = inference.Tensor{Shape: inference.Shape(s), Data: values}
	}
	return out, nil
}

// ConcurrentSafe reports true: ONNX Runtime sessions accept concurrent Run.
func (m *Model) ConcurrentSafe() bool {
	return true
}

// Close releases the session. Further Infer calls fail.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	err := m.session.Close()
	m.session = nil
	return err
}

func clone(in []inference.TensorDescriptor) []inference.TensorDescriptor {
	out := make([]inference.TensorDescriptor, len(in))
	for i, d := range in {
		out[i] = inference.TensorDescriptor{Name: d.Name, Shape: d.Shape.Clone(), DType: d.DType}
	}
	return out
}

// Ensure Model implements inference.ConcurrentModel at compile time.
var _ inference.ConcurrentModel = (*Model)(nil)
