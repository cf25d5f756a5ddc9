// Package onnx provides Go bindings for the ONNX Runtime C API.
//
// ONNX Runtime is a cross-platform inference engine for ONNX models.
// This package wraps the small part of the C API stemsplit needs:
// environments, sessions with graph introspection, and float32 tensors.
//
// # Architecture
//
//   - [Env]: process environment, owns ORT logging
//   - [Session]: one loaded model, plus its declared inputs and outputs
//   - [Tensor]: N-dimensional float32 value passed to and from Run
//
// Usage flow:
//
//	env, _ := onnx.NewEnv("stemsplit")
//	defer env.Close()
//
//	session, _ := env.NewSession(modelData, &onnx.SessionOptions{IntraOpThreads: 4})
//	defer session.Close()
//
//	for _, in := range session.Inputs() {
//	    fmt.Println(in.Name, in.Type, in.Shape) // "mix" float32 [1 2 -1]
//	}
//
//	input, _ := onnx.NewTensor([]int64{1, 2, 44100}, data)
//	defer input.Close()
//
//	outputs, _ := session.Run([]string{"mix"}, []*onnx.Tensor{input}, []string{"vocals"})
//	vocals, _ := outputs[0].FloatData()
//
// # Dynamic Linking
//
// ONNX Runtime is dynamically linked (.dylib/.so) via CGo. Point
// CGO_CFLAGS at the directory holding onnxruntime_c_api.h and
// CGO_LDFLAGS at the directory holding libonnxruntime.
//
// # Thread Safety
//
// Env is safe for concurrent use. Session.Run is safe for concurrent use
// (ONNX Runtime serialises internally where needed). Tensors are not.
package onnx

/*
#cgo LDFLAGS: -lonnxruntime
#include <onnxruntime_c_api.h>
#include <stdlib.h>
#include <string.h>

static const OrtApi* ort_api() {
    return OrtGetApiBase()->GetApi(ORT_API_VERSION);
}

static OrtStatus* ort_create_env(const OrtApi* api, const char* name, OrtEnv** out) {
    return api->CreateEnv(ORT_LOGGING_LEVEL_WARNING, name, out);
}

// Session options: thread count of 0 keeps the runtime default.
static OrtStatus* ort_create_session_options(const OrtApi* api, int intra_threads, OrtSessionOptions** out) {
    OrtStatus* status = api->CreateSessionOptions(out);
    if (status) return status;
    status = api->SetSessionGraphOptimizationLevel(*out, ORT_ENABLE_ALL);
    if (status) return status;
    if (intra_threads > 0) {
        status = api->SetIntraOpNumThreads(*out, intra_threads);
    }
    return status;
}

static OrtStatus* ort_create_session_from_memory(const OrtApi* api, OrtEnv* env,
    const void* model_data, size_t model_data_len, OrtSessionOptions* opts, OrtSession** out) {
    return api->CreateSessionFromArray(env, model_data, model_data_len, opts, out);
}

static OrtStatus* ort_session_io_count(const OrtApi* api, OrtSession* s, int output, size_t* out) {
    return output ? api->SessionGetOutputCount(s, out) : api->SessionGetInputCount(s, out);
}

// The returned name is malloc'ed; the caller frees it.
static OrtStatus* ort_session_io_name(const OrtApi* api, OrtSession* s, int output, size_t i, char** out) {
    OrtAllocator* alloc;
    OrtStatus* status = api->GetAllocatorWithDefaultOptions(&alloc);
    if (status) return status;
    char* name;
    status = output ? api->SessionGetOutputName(s, i, alloc, &name)
                    : api->SessionGetInputName(s, i, alloc, &name);
    if (status) return status;
    *out = strdup(name);
    api->AllocatorFree(alloc, name);
    return NULL;
}

// Element type is -1 for non-tensor values (sequences, maps).
static OrtStatus* ort_session_io_type(const OrtApi* api, OrtSession* s, int output, size_t i,
    int* elem, int64_t* dims, size_t max_dims, size_t* ndim) {
    OrtTypeInfo* type_info;
    OrtStatus* status = output ? api->SessionGetOutputTypeInfo(s, i, &type_info)
                               : api->SessionGetInputTypeInfo(s, i, &type_info);
    if (status) return status;

    const OrtTensorTypeAndShapeInfo* info = NULL;
    status = api->CastTypeInfoToTensorInfo(type_info, &info);
    if (!status && info == NULL) {
        *elem = -1;
        *ndim = 0;
    }
    if (!status && info != NULL) {
        ONNXTensorElementDataType t;
        status = api->GetTensorElementType(info, &t);
        if (!status) {
            *elem = (int)t;
            status = api->GetDimensionsCount(info, ndim);
        }
        if (!status && *ndim > 0 && *ndim <= max_dims) {
            status = api->GetDimensions(info, dims, *ndim);
        }
    }
    api->ReleaseTypeInfo(type_info);
    return status;
}

static OrtStatus* ort_create_tensor_float(const OrtApi* api, OrtMemoryInfo* info,
    float* data, size_t data_len, int64_t* shape, size_t shape_len, OrtValue** out) {
    return api->CreateTensorWithDataAsOrtValue(info, data, data_len * sizeof(float),
        shape, shape_len, ONNX_TENSOR_ELEMENT_DATA_TYPE_FLOAT, out);
}

static OrtStatus* ort_create_cpu_memory_info(const OrtApi* api, OrtMemoryInfo** out) {
    return api->CreateCpuMemoryInfo(OrtArenaAllocator, OrtMemTypeDefault, out);
}

static OrtStatus* ort_run(const OrtApi* api, OrtSession* session,
    const char** input_names, const OrtValue* const* inputs, size_t num_inputs,
    const char** output_names, size_t num_outputs, OrtValue** outputs) {
    return api->Run(session, NULL, input_names, inputs, num_inputs,
        output_names, num_outputs, outputs);
}

static OrtStatus* ort_get_tensor_float_data(const OrtApi* api, OrtValue* value, float** out) {
    return api->GetTensorMutableData(value, (void**)out);
}

static OrtStatus* ort_get_tensor_shape(const OrtApi* api, OrtValue* value,
    int64_t* shape, size_t shape_len) {
    OrtTensorTypeAndShapeInfo* info;
    OrtStatus* status = api->GetTensorTypeAndShape(value, &info);
    if (status) return status;
    status = api->GetDimensions(info, shape, shape_len);
    api->ReleaseTensorTypeAndShapeInfo(info);
    return status;
}

static OrtStatus* ort_get_tensor_ndim(const OrtApi* api, OrtValue* value, size_t* ndim) {
    OrtTensorTypeAndShapeInfo* info;
    OrtStatus* status = api->GetTensorTypeAndShape(value, &info);
    if (status) return status;
    status = api->GetDimensionsCount(info, ndim);
    api->ReleaseTensorTypeAndShapeInfo(info);
    return status;
}

static const char* ort_error_message(const OrtApi* api, OrtStatus* status) {
    return api->GetErrorMessage(status);
}

static void ort_release_status(const OrtApi* api, OrtStatus* status) {
    api->ReleaseStatus(status);
}

static void ort_release_env(const OrtApi* api, OrtEnv* env) { api->ReleaseEnv(env); }
static void ort_release_session(const OrtApi* api, OrtSession* s) { api->ReleaseSession(s); }
static void ort_release_session_options(const OrtApi* api, OrtSessionOptions* o) { api->ReleaseSessionOptions(o); }
static void ort_release_memory_info(const OrtApi* api, OrtMemoryInfo* i) { api->ReleaseMemoryInfo(i); }
static void ort_release_value(const OrtApi* api, OrtValue* v) { api->ReleaseValue(v); }
*/
import "C"

import (
	"errors"
	"fmt"
	"runtime"
	"unsafe"
)

// maxDims bounds the rank accepted from model signatures.
const maxDims = 8

// ErrClosed is returned when a closed Env or Session is used.
var ErrClosed = errors.New("onnx: closed")

func api() *C.OrtApi {
	return C.ort_api()
}

// checkStatus converts an OrtStatus to a Go error.
func checkStatus(status *C.OrtStatus) error {
	if status == nil {
		return nil
	}
	msg := C.GoString(C.ort_error_message(api(), status))
	C.ort_release_status(api(), status)
	return fmt.Errorf("onnx: %s", msg)
}

// ElementType is an ONNX tensor element type.
type ElementType int

// Element types, numbered as in onnxruntime_c_api.h.
const (
	ElementNonTensor ElementType = -1
	ElementUndefined ElementType = 0
	ElementFloat     ElementType = 1
	ElementUint8     ElementType = 2
	ElementInt8      ElementType = 3
	ElementInt16     ElementType = 5
	ElementInt32     ElementType = 6
	ElementInt64     ElementType = 7
	ElementBool      ElementType = 9
	ElementFloat16   ElementType = 10
	ElementDouble    ElementType = 11
)

func (t ElementType) String() string {
	switch t {
	case ElementNonTensor:
		return "non-tensor"
	case ElementFloat:
		return "float32"
	case ElementUint8:
		return "uint8"
	case ElementInt8:
		return "int8"
	case ElementInt16:
		return "int16"
	case ElementInt32:
		return "int32"
	case ElementInt64:
		return "int64"
	case ElementBool:
		return "bool"
	case ElementFloat16:
		return "float16"
	case ElementDouble:
		return "float64"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// TensorInfo describes one declared graph input or output. Dynamic
// dimensions are reported as -1.
type TensorInfo struct {
	Name  string
	Type  ElementType
	Shape []int64
}

// --------------------------------------------------------------------------
// Env
// --------------------------------------------------------------------------

// Env is the ONNX Runtime environment.
type Env struct {
	env *C.OrtEnv
}

// NewEnv creates a new ONNX Runtime environment.
func NewEnv(name string) (*Env, error) {
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))

	var env *C.OrtEnv
	if err := checkStatus(C.ort_create_env(api(), cName, &env)); err != nil {
		return nil, err
	}

	e := &Env{env: env}
	runtime.SetFinalizer(e, (*Env).Close)
	return e, nil
}

// SessionOptions tunes a session. The zero value uses runtime defaults.
type SessionOptions struct {
	// IntraOpThreads limits threads used inside a single operator.
	// Zero lets ONNX Runtime decide.
	IntraOpThreads int
}

// NewSession creates a session from in-memory ONNX model data and reads
// its input and output signature. opts may be nil.
func (e *Env) NewSession(modelData []byte, opts *SessionOptions) (*Session, error) {
	if e.env == nil {
		return nil, ErrClosed
	}
	if len(modelData) == 0 {
		return nil, fmt.Errorf("onnx: empty model data")
	}
	if opts == nil {
		opts = &SessionOptions{}
	}

	var cOpts *C.OrtSessionOptions
	status := C.ort_create_session_options(api(), C.int(opts.IntraOpThreads), &cOpts)
	if cOpts != nil {
		defer C.ort_release_session_options(api(), cOpts)
	}
	if err := checkStatus(status); err != nil {
		return nil, err
	}

	var session *C.OrtSession
	if err := checkStatus(C.ort_create_session_from_memory(
		api(), e.env,
		unsafe.Pointer(&modelData[0]), C.size_t(len(modelData)),
		cOpts, &session,
	)); err != nil {
		return nil, err
	}

	s := &Session{session: session, pinned: modelData}
	runtime.SetFinalizer(s, (*Session).Close)

	var err error
	if s.inputs, err = s.describe(false); err != nil {
		s.Close()
		return nil, err
	}
	if s.outputs, err = s.describe(true); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the environment.
func (e *Env) Close() error {
	if e.env != nil {
		C.ort_release_env(api(), e.env)
		e.env = nil
		runtime.SetFinalizer(e, nil)
	}
	return nil
}

// --------------------------------------------------------------------------
// Session
// --------------------------------------------------------------------------

// Session holds a loaded ONNX model.
type Session struct {
	session *C.OrtSession
	pinned  any // prevents GC of model data

	inputs  []TensorInfo
	outputs []TensorInfo
}

func (s *Session) describe(output bool) ([]TensorInfo, error) {
	which := C.int(0)
	kind := "input"
	if output {
		which = 1
		kind = "output"
	}

	var count C.size_t
	if err := checkStatus(C.ort_session_io_count(api(), s.session, which, &count)); err != nil {
		return nil, err
	}

	infos := make([]TensorInfo, int(count))
	for i := range infos {
		var cName *C.char
		if err := checkStatus(C.ort_session_io_name(api(), s.session, which, C.size_t(i), &cName)); err != nil {
			return nil, err
		}
		name := C.GoString(cName)
		C.free(unsafe.Pointer(cName))

		var (
			elem C.int
			ndim C.size_t
			dims [maxDims]C.int64_t
		)
		if err := checkStatus(C.ort_session_io_type(api(), s.session, which, C.size_t(i),
			&elem, &dims[0], maxDims, &ndim)); err != nil {
			return nil, err
		}
		if int(ndim) > maxDims {
			return nil, fmt.Errorf("onnx: %s %q has rank %d, max %d", kind, name, int(ndim), maxDims)
		}

		shape := make([]int64, int(ndim))
		for d := range shape {
			shape[d] = int64(dims[d])
		}
		infos[i] = TensorInfo{Name: name, Type: ElementType(elem), Shape: shape}
	}
	return infos, nil
}

// Inputs returns the declared graph inputs in graph order.
func (s *Session) Inputs() []TensorInfo {
	return cloneInfos(s.inputs)
}

// Outputs returns the declared graph outputs in graph order.
func (s *Session) Outputs() []TensorInfo {
	return cloneInfos(s.outputs)
}

func cloneInfos(in []TensorInfo) []TensorInfo {
	out := make([]TensorInfo, len(in))
	for i, info := range in {
		out[i] = TensorInfo{Name: info.Name, Type: info.Type, Shape: append([]int64(nil), info.Shape...)}
	}
	return out
}

// Run executes inference with the given inputs and output names.
// Returns output tensors. The caller must close each output tensor.
func (s *Session) Run(inputNames []string, inputs []*Tensor, outputNames []string) ([]*Tensor, error) {
	if s.session == nil {
		return nil, ErrClosed
	}
	if len(inputNames) != len(inputs) {
		return nil, fmt.Errorf("onnx: input names/tensors length mismatch: %d vs %d", len(inputNames), len(inputs))
	}
	if len(inputs) == 0 || len(outputNames) == 0 {
		return nil, fmt.Errorf("onnx: run needs at least one input and one output")
	}

	cInputNames := make([]*C.char, len(inputNames))
	for i, name := range inputNames {
		cInputNames[i] = C.CString(name)
		defer C.free(unsafe.Pointer(cInputNames[i]))
	}

	cInputs := make([]*C.OrtValue, len(inputs))
	for i, t := range inputs {
		cInputs[i] = t.value
	}

	cOutputNames := make([]*C.char, len(outputNames))
	for i, name := range outputNames {
		cOutputNames[i] = C.CString(name)
		defer C.free(unsafe.Pointer(cOutputNames[i]))
	}

	cOutputs := make([]*C.OrtValue, len(outputNames))

	status := C.ort_run(api(), s.session,
		&cInputNames[0], &cInputs[0], C.size_t(len(inputs)),
		&cOutputNames[0], C.size_t(len(outputNames)), &cOutputs[0],
	)
	runtime.KeepAlive(inputs)
	if err := checkStatus(status); err != nil {
		return nil, err
	}

	outputs := make([]*Tensor, len(outputNames))
	for i, val := range cOutputs {
		outputs[i] = &Tensor{value: val, owned: true}
		runtime.SetFinalizer(outputs[i], (*Tensor).Close)
	}
	return outputs, nil
}

// Close releases the session.
func (s *Session) Close() error {
	if s.session != nil {
		C.ort_release_session(api(), s.session)
		s.session = nil
		s.pinned = nil
		runtime.SetFinalizer(s, nil)
	}
	return nil
}

// --------------------------------------------------------------------------
// Tensor
// --------------------------------------------------------------------------

// Tensor is an N-dimensional float32 tensor (OrtValue).
type Tensor struct {
	value  *C.OrtValue
	pinned any  // prevents GC of external data
	owned  bool // if true, Close releases the OrtValue
}

// NewTensor creates a float32 tensor with the given shape over data.
// The data slice must remain valid for the lifetime of the Tensor.
func NewTensor(shape []int64, data []float32) (*Tensor, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("onnx: empty tensor data")
	}
	if len(shape) == 0 {
		return nil, fmt.Errorf("onnx: empty tensor shape")
	}

	total := int64(1)
	for _, d := range shape {
		if d <= 0 {
			return nil, fmt.Errorf("onnx: invalid dimension %d in shape %v", d, shape)
		}
		total *= d
	}
	if int64(len(data)) < total {
		return nil, fmt.Errorf("onnx: tensor data too short: got %d, need %d", len(data), total)
	}

	var memInfo *C.OrtMemoryInfo
	if err := checkStatus(C.ort_create_cpu_memory_info(api(), &memInfo)); err != nil {
		return nil, err
	}
	defer C.ort_release_memory_info(api(), memInfo)

	var value *C.OrtValue
	if err := checkStatus(C.ort_create_tensor_float(
		api(), memInfo,
		(*C.float)(unsafe.Pointer(&data[0])),
		C.size_t(total),
		(*C.int64_t)(unsafe.Pointer(&shape[0])),
		C.size_t(len(shape)),
		&value,
	)); err != nil {
		return nil, err
	}

	t := &Tensor{value: value, pinned: data, owned: true}
	runtime.SetFinalizer(t, (*Tensor).Close)
	return t, nil
}

// FloatData copies the tensor data into a new float32 slice.
func (t *Tensor) FloatData() ([]float32, error) {
	shape, err := t.Shape()
	if err != nil {
		return nil, err
	}
	total := 1
	for _, d := range shape {
		total *= int(d)
	}
	if total <= 0 {
		return nil, nil
	}

	var ptr *C.float
	if err := checkStatus(C.ort_get_tensor_float_data(api(), t.value, &ptr)); err != nil {
		return nil, err
	}

	out := make([]float32, total)
	C.memcpy(unsafe.Pointer(&out[0]), unsafe.Pointer(ptr), C.size_t(total*4))
	return out, nil
}

// Shape returns the tensor dimensions.
func (t *Tensor) Shape() ([]int64, error) {
	var ndim C.size_t
	if err := checkStatus(C.ort_get_tensor_ndim(api(), t.value, &ndim)); err != nil {
		return nil, err
	}

	if ndim == 0 {
		return nil, nil
	}

	shape := make([]int64, int(ndim))
	if err := checkStatus(C.ort_get_tensor_shape(api(), t.value, (*C.int64_t)(unsafe.Pointer(&shape[0])), ndim)); err != nil {
		return nil, err
	}
	return shape, nil
}

// Close releases the tensor.
func (t *Tensor) Close() error {
	if t.value != nil && t.owned {
		C.ort_release_value(api(), t.value)
		t.value = nil
		t.pinned = nil
		runtime.SetFinalizer(t, nil)
	}
	return nil
}
