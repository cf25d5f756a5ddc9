package onnx

import (
	"math"
	"os"
	"testing"
)

// testModel returns the bytes of the model named by STEMSPLIT_TEST_ONNX_MODEL
// or skips the test.
func testModel(t *testing.T) []byte {
	t.Helper()
	path := os.Getenv("STEMSPLIT_TEST_ONNX_MODEL")
	if path == "" {
		t.Skip("STEMSPLIT_TEST_ONNX_MODEL not set")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestNewEnv(t *testing.T) {
	env, err := NewEnv("test")
	if err != nil {
		t.Fatal(err)
	}
	defer env.Close()
	t.Log("created ONNX Runtime environment")
}

func TestNewTensor(t *testing.T) {
	data := []float32{1, 2, 3, 4, 5, 6}
	tensor, err := NewTensor([]int64{1, 2, 3}, data)
	if err != nil {
		t.Fatal(err)
	}
	defer tensor.Close()

	shape, err := tensor.Shape()
	if err != nil {
		t.Fatal(err)
	}
	if len(shape) != 3 || shape[0] != 1 || shape[1] != 2 || shape[2] != 3 {
		t.Errorf("shape = %v, want [1 2 3]", shape)
	}

	out, err := tensor.FloatData()
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 6 {
		t.Fatalf("len = %d, want 6", len(out))
	}
	for i, v := range out {
		if v != data[i] {
			t.Errorf("[%d] = %f, want %f", i, v, data[i])
		}
	}
}

func TestTensorInvalid(t *testing.T) {
	tests := []struct {
		name  string
		shape []int64
		data  []float32
	}{
		{"empty data", []int64{0}, nil},
		{"short data", []int64{2, 3}, []float32{1, 2, 3}},
		{"dynamic dim", []int64{1, -1}, []float32{1, 2}},
		{"no shape", nil, []float32{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewTensor(tt.shape, tt.data); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestEnvDoubleClose(t *testing.T) {
	env, err := NewEnv("test")
	if err != nil {
		t.Fatal(err)
	}
	env.Close()
	env.Close()
}

func TestSessionOnClosedEnv(t *testing.T) {
	env, err := NewEnv("test")
	if err != nil {
		t.Fatal(err)
	}
	env.Close()
	if _, err := env.NewSession([]byte{1, 2, 3}, nil); err == nil {
		t.Error("expected error on closed env")
	}
}

func TestSessionGarbageModel(t *testing.T) {
	env, err := NewEnv("test")
	if err != nil {
		t.Fatal(err)
	}
	defer env.Close()

	if _, err := env.NewSession([]byte("not an onnx graph"), nil); err == nil {
		t.Error("expected error for garbage model data")
	}
	if _, err := env.NewSession(nil, nil); err == nil {
		t.Error("expected error for empty model data")
	}
}

func TestSessionSignatureAndRun(t *testing.T) {
	data := testModel(t)

	env, err := NewEnv("test")
	if err != nil {
		t.Fatal(err)
	}
	defer env.Close()

	session, err := env.NewSession(data, &SessionOptions{IntraOpThreads: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer session.Close()

	inputs := session.Inputs()
	outputs := session.Outputs()
	if len(inputs) == 0 || len(outputs) == 0 {
		t.Fatalf("signature: %d inputs, %d outputs", len(inputs), len(outputs))
	}
	for _, info := range append(inputs, outputs...) {
		t.Logf("%s: %s %v", info.Name, info.Type, info.Shape)
	}

	if len(inputs) != 1 {
		t.Skipf("model has %d inputs, run check needs 1", len(inputs))
	}
	in := inputs[0]
	if in.Type != ElementFloat {
		t.Skipf("first input %q is %s, not float32", in.Name, in.Type)
	}
	shape := make([]int64, len(in.Shape))
	total := int64(1)
	for i, d := range in.Shape {
		if d <= 0 {
			d = 1024
		}
		shape[i] = d
		total *= d
	}
	buf := make([]float32, total)
	for i := range buf {
		buf[i] = float32(math.Sin(float64(i) * 0.01))
	}

	tensor, err := NewTensor(shape, buf)
	if err != nil {
		t.Fatal(err)
	}
	defer tensor.Close()

	names := make([]string, len(outputs))
	for i, o := range outputs {
		names[i] = o.Name
	}
	results, err := session.Run([]string{in.Name}, []*Tensor{tensor}, names)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, r := range results {
		values, err := r.FloatData()
		if err != nil {
			t.Fatal(err)
		}
		for j, v := range values {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				t.Fatalf("%s[%d] = %f (NaN/Inf)", names[i], j, v)
			}
		}
		r.Close()
	}
}

func TestElementTypeString(t *testing.T) {
	if ElementFloat.String() != "float32" {
		t.Errorf("ElementFloat = %q", ElementFloat.String())
	}
	if ElementType(42).String() != "type(42)" {
		t.Errorf("ElementType(42) = %q", ElementType(42).String())
	}
}
