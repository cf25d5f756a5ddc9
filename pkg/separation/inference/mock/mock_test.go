package mock

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/haivivi/stemsplit/pkg/separation/inference"
)

func TestPerStemInfer(t *testing.T) {
	m := PerStem(1, 4, "a", "b")
	m.Gains["b"] = 0.25

	out, err := m.Infer(DefaultInput, []float32{1, 2, 3, 4}, inference.Shape{1, 1, 4}, []string{"a", "b"})
	if err != nil {
		t.Fatalf("Infer error: %v", err)
	}
	if got := out["a"].Data[3]; got != 2 {
		t.Errorf("a[3] = %v, want 2", got)
	}
	if got := out["b"].Data[3]; got != 1 {
		t.Errorf("b[3] = %v, want 1", got)
	}
	if m.Calls() != 1 {
		t.Errorf("Calls() = %d, want 1", m.Calls())
	}
}

func TestStackedInfer(t *testing.T) {
	m := Stacked(2, 2, 3)
	out, err := m.Infer(DefaultInput, []float32{1, 1, 1, 1}, inference.Shape{1, 2, 2}, []string{DefaultStackedOutput})
	if err != nil {
		t.Fatalf("Infer error: %v", err)
	}
	got := out[DefaultStackedOutput]
	want := inference.Shape{1, 3, 2, 2}
	if got.Shape.String() != want.String() {
		t.Fatalf("shape = %v, want %v", got.Shape, want)
	}
	if len(got.Data) != 12 {
		t.Fatalf("len = %d, want 12", len(got.Data))
	}
}

func TestInferErrOnCall(t *testing.T) {
	m := PerStem(1, 2, "a")
	m.InferErr = ErrInjected
	m.FailOnCall = 2

	data := []float32{1, 1}
	shape := inference.Shape{1, 1, 2}
	if _, err := m.Infer(DefaultInput, data, shape, []string{"a"}); err != nil {
		t.Fatalf("first call error: %v", err)
	}
	_, err := m.Infer(DefaultInput, data, shape, []string{"a"})
	var ie *inference.InferError
	if !errors.As(err, &ie) || !errors.Is(err, ErrInjected) {
		t.Fatalf("second call error = %v, want InferError wrapping ErrInjected", err)
	}
}

func TestBackend(t *testing.T) {
	b := NewBackend()
	m := PerStem(2, 8, "x")
	b.Register("models/a.onnx", m)

	got, err := b.Load("models/./a.onnx")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got != inference.Model(m) {
		t.Error("Load returned a different model")
	}

	_, err = b.Load("models/missing.onnx")
	var le *inference.LoadError
	if !errors.As(err, &le) || !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("missing model error = %v, want LoadError wrapping fs.ErrNotExist", err)
	}

	b.LoadErr = ErrInjected
	if _, err := b.Load("models/a.onnx"); !errors.Is(err, ErrInjected) {
		t.Errorf("LoadErr not returned: %v", err)
	}
	if b.Loads() != 3 {
		t.Errorf("Loads() = %d, want 3", b.Loads())
	}
}
