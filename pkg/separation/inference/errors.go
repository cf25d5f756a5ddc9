package inference

import (
	"errors"
	"fmt"
)

var (
	// ErrShapeMismatch is wrapped by InferError when data length, rank or a
	// static dimension disagrees with the declared tensor.
	ErrShapeMismatch = errors.New("inference: shape mismatch")

	// ErrUnknownTensor is returned for tensor names the model does not
	// declare.
	ErrUnknownTensor = errors.New("inference: unknown tensor")

	// ErrIncompatibleSignature is wrapped by LoadError when a model's
	// inputs or outputs cannot be used for separation.
	ErrIncompatibleSignature = errors.New("inference: incompatible model signature")
)

// LoadError reports a model that could not be loaded.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("inference: load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// InferError reports a failed forward pass.
type InferError struct {
	Input string
	Err   error
}

func (e *InferError) Error() string {
	return fmt.Sprintf("inference: infer %s: %v", e.Input, e.Err)
}

func (e *InferError) Unwrap() error {
	return e.Err
}
