// Package inference defines the tensor inference contract the separation
// engine runs models through.
//
// A [Backend] loads model files into [Model] values. A Model exposes its
// declared signature (named float32 tensors with possibly dynamic shapes)
// and runs one forward pass per [Model.Infer] call. Implementations live in
// subpackages: ort (ONNX Runtime) and mock (in-memory test double).
//
// Batch size is always 1. Every declared tensor is float32; a model whose
// signature uses another element type fails to load with a [*LoadError]
// wrapping [ErrIncompatibleSignature].
package inference

import (
	"fmt"
	"strings"
)

// DType is a tensor element type. Only Float32 is supported.
type DType int

const (
	// Float32 is a 32-bit IEEE 754 float tensor.
	Float32 DType = iota + 1
)

func (d DType) String() string {
	if d == Float32 {
		return "float32"
	}
	return fmt.Sprintf("dtype(%d)", int(d))
}

// Shape is a tensor shape. In declared shapes a dimension of -1 (any value
// <= 0) is dynamic; concrete shapes are all positive.
type Shape []int64

// Elements returns the number of elements of a concrete shape, or -1 when
// any dimension is dynamic.
func (s Shape) Elements() int {
	n := 1
	for _, d := range s {
		if d <= 0 {
			return -1
		}
		n *= int(d)
	}
	return n
}

// IsStatic reports whether every dimension is known.
func (s Shape) IsStatic() bool {
	return s.Elements() >= 0
}

// Matches reports whether the concrete shape c satisfies the declared shape
// s: same rank, every c dimension positive and equal to s where s is static.
func (s Shape) Matches(c Shape) bool {
	if len(s) != len(c) {
		return false
	}
	for i, d := range s {
		if c[i] <= 0 {
			return false
		}
		if d > 0 && d != c[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of s.
func (s Shape) Clone() Shape {
	return append(Shape(nil), s...)
}

// String formats the shape as [1 2 ?] with ? for dynamic dimensions.
func (s Shape) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, d := range s {
		if i > 0 {
			b.WriteByte(' ')
		}
		if d <= 0 {
			b.WriteByte('?')
		} else {
			fmt.Fprintf(&b, "%d", d)
		}
	}
	b.WriteByte(']')
	return b.String()
}

// TensorDescriptor names one declared model input or output.
type TensorDescriptor struct {
	Name  string
	Shape Shape
	DType DType
}

// Tensor is flat row-major data with its concrete shape.
type Tensor struct {
	Shape Shape
	Data  []float32
}

// Backend loads model files.
type Backend interface {
	// Load parses the model at path. A returned Model is ready for
	// inference. Failures are *LoadError.
	Load(path string) (Model, error)
}

// Model is a loaded network.
type Model interface {
	// Inputs returns the declared inputs in graph order.
	Inputs() []TensorDescriptor

	// Outputs returns the declared outputs in graph order.
	Outputs() []TensorDescriptor

	// InputShape returns the declared shape of the named input.
	InputShape(name string) (Shape, error)

	// OutputShape returns the declared shape of the named output.
	OutputShape(name string) (Shape, error)

	// Infer runs one forward pass feeding data with the given concrete
	// shape to inputName and returns the requested outputs keyed by name.
	// Failures are *InferError.
	Infer(inputName string, data []float32, shape Shape, outputNames []string) (map[string]Tensor, error)

	// Close releases the model.
	Close() error
}

// ConcurrentModel is implemented by models that may report support for
// concurrent Infer calls.
type ConcurrentModel interface {
	Model

	// ConcurrentSafe reports whether Infer may be called from several
	// goroutines at once.
	ConcurrentSafe() bool
}

// IsConcurrent reports whether m declares concurrent Infer support.
func IsConcurrent(m Model) bool {
	cm, ok := m.(ConcurrentModel)
	return ok && cm.ConcurrentSafe()
}

// Describe finds the descriptor named name in descs.
func Describe(descs []TensorDescriptor, name string) (TensorDescriptor, bool) {
	for _, d := range descs {
		if d.Name == name {
			return d, true
		}
	}
	return TensorDescriptor{}, false
}

// CheckInfer validates the preconditions of Model.Infer against the model's
// declared signature without touching the engine. Adapters call it first
// in Infer.
func CheckInfer(m Model, inputName string, data []float32, shape Shape, outputNames []string) error {
	in, ok := Describe(m.Inputs(), inputName)
	if !ok {
		return &InferError{Input: inputName, Err: fmt.Errorf("%w: input %q", ErrUnknownTensor, inputName)}
	}
	if !in.Shape.Matches(shape) {
		return &InferError{Input: inputName, Err: fmt.Errorf("%w: got %v, declared %v", ErrShapeMismatch, shape, in.Shape)}
	}
	if n := shape.Elements(); n != len(data) {
		return &InferError{Input: inputName, Err: fmt.Errorf("%w: shape %v needs %d values, got %d", ErrShapeMismatch, shape, n, len(data))}
	}
	if len(outputNames) == 0 {
		return &InferError{Input: inputName, Err: fmt.Errorf("%w: no outputs requested", ErrUnknownTensor)}
	}
	outs := m.Outputs()
	for _, name := range outputNames {
		if _, ok := Describe(outs, name); !ok {
			return &InferError{Input: inputName, Err: fmt.Errorf("%w: output %q", ErrUnknownTensor, name)}
		}
	}
	return nil
}
