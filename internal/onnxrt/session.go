//go:build onnx

package onnxrt

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/samcharles93/sumi/internal/decode"
)

const runtimeEnabled = true

var (
	initMu   sync.Mutex
	initDone bool
)

// ensureRuntime loads the ONNX Runtime shared library once per
// process. The environment stays alive until exit.
func ensureRuntime(libPath string) error {
	initMu.Lock()
	defer initMu.Unlock()
	if initDone {
		return nil
	}
	if libPath == "" {
		libPath = os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("onnxrt: initialize runtime: %w", err)
		}
	}
	initDone = true
	return nil
}

// Session owns one loaded model. It is safe for sequential decode
// runs; concurrent runs need separate sessions.
type Session struct {
	sess        *ort.DynamicAdvancedSession
	sig         Signature
	inputs      []TensorMeta
	outputs     []TensorMeta
	inputNames  []string
	outputNames []string
	imageShape  []int64
}

// Open loads a model from cfg.ModelData or cfg.ModelPath, detects its
// decode signature and creates an inference session.
func Open(cfg Config) (*Session, error) {
	if err := ensureRuntime(cfg.LibraryPath); err != nil {
		return nil, err
	}

	var (
		ins, outs []ort.InputOutputInfo
		err       error
	)
	if len(cfg.ModelData) > 0 {
		ins, outs, err = ort.GetInputOutputInfoWithONNXData(cfg.ModelData)
	} else {
		ins, outs, err = ort.GetInputOutputInfo(cfg.ModelPath)
	}
	if err != nil {
		return nil, fmt.Errorf("onnxrt: probe model: %w", err)
	}

	inMetas, outMetas := toMetas(ins), toMetas(outs)
	sig, err := DetectSignature(inMetas, outMetas)
	if err != nil {
		return nil, err
	}
	for _, in := range inMetas {
		switch in.Name {
		case sig.ImageInput, sig.IDsInput, sig.StateInput:
		default:
			return nil, fmt.Errorf("onnxrt: model input %s has no role in a decode step", in.Name)
		}
	}

	imageShape, err := resolveImageShape(sig.ImageShape, cfg.ImageShape)
	if err != nil {
		return nil, err
	}

	opts, err := sessionOptions(cfg)
	if err != nil {
		return nil, err
	}

	inputNames := tensorNames(inMetas)
	outputNames := tensorNames(outMetas)
	var sess *ort.DynamicAdvancedSession
	if len(cfg.ModelData) > 0 {
		sess, err = ort.NewDynamicAdvancedSessionWithONNXData(cfg.ModelData, inputNames, outputNames, opts)
	} else {
		sess, err = ort.NewDynamicAdvancedSession(cfg.ModelPath, inputNames, outputNames, opts)
	}
	if opts != nil {
		_ = opts.Destroy()
	}
	if err != nil {
		return nil, fmt.Errorf("onnxrt: create session: %w", err)
	}

	return &Session{
		sess:        sess,
		sig:         sig,
		inputs:      inMetas,
		outputs:     outMetas,
		inputNames:  inputNames,
		outputNames: outputNames,
		imageShape:  imageShape,
	}, nil
}

func (s *Session) Signature() Signature  { return s.sig }
func (s *Session) Inputs() []TensorMeta  { return s.inputs }
func (s *Session) Outputs() []TensorMeta { return s.outputs }

// ImageShape is the concrete image tensor shape steps will feed.
func (s *Session) ImageShape() []int64 { return slices.Clone(s.imageShape) }

func (s *Session) Close() error {
	if s.sess == nil {
		return nil
	}
	err := s.sess.Destroy()
	s.sess = nil
	return err
}

// Run is one decode run over a single image: the image tensor is
// fixed, the token sequence grows, and any recurrent state produced
// by a step feeds the next one unchanged.
type Run struct {
	s          *Session
	image      []float32
	state      []float32
	stateShape []int64
}

// NewRun prepares a decode run for a preprocessed image tensor.
func (s *Session) NewRun(image []float32) (*Run, error) {
	want := int64(1)
	for _, d := range s.imageShape {
		want *= d
	}
	if int64(len(image)) != want {
		return nil, fmt.Errorf("onnxrt: image tensor has %d elements, model wants %d (shape %v)", len(image), want, s.imageShape)
	}

	r := &Run{s: s, image: image}
	if s.sig.HasState() {
		n := int64(1)
		for _, d := range s.sig.StateShape {
			if d <= 0 {
				return nil, fmt.Errorf("onnxrt: recurrent state shape %v has dynamic dimensions", s.sig.StateShape)
			}
			n *= d
		}
		r.state = make([]float32, n)
		r.stateShape = slices.Clone(s.sig.StateShape)
	}
	return r, nil
}

// Step implements decode.Stepper.
func (r *Run) Step(ctx context.Context, seq []int64) (decode.Logits, error) {
	if err := ctx.Err(); err != nil {
		return decode.Logits{}, err
	}
	s := r.s

	imgTensor, err := ort.NewTensor(ort.NewShape(s.imageShape...), r.image)
	if err != nil {
		return decode.Logits{}, fmt.Errorf("onnxrt: image tensor: %w", err)
	}
	defer imgTensor.Destroy()

	idsTensor, err := newIDsTensor(s.sig.IDsDType, seq)
	if err != nil {
		return decode.Logits{}, err
	}
	defer idsTensor.Destroy()

	var stateTensor *ort.Tensor[float32]
	if s.sig.HasState() {
		stateTensor, err = ort.NewTensor(ort.NewShape(r.stateShape...), r.state)
		if err != nil {
			return decode.Logits{}, fmt.Errorf("onnxrt: state tensor: %w", err)
		}
		defer stateTensor.Destroy()
	}

	inVals := make([]ort.Value, len(s.inputNames))
	for i, name := range s.inputNames {
		switch name {
		case s.sig.ImageInput:
			inVals[i] = imgTensor
		case s.sig.IDsInput:
			inVals[i] = idsTensor
		case s.sig.StateInput:
			inVals[i] = stateTensor
		}
	}

	outVals := make([]ort.Value, len(s.outputNames))
	if err := s.sess.Run(inVals, outVals); err != nil {
		return decode.Logits{}, fmt.Errorf("onnxrt: run: %w", err)
	}
	defer func() {
		for _, v := range outVals {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	var logits decode.Logits
	for i, name := range s.outputNames {
		switch name {
		case s.sig.LogitsOutput:
			logits, err = extractLogits(outVals[i])
			if err != nil {
				return decode.Logits{}, err
			}
		case s.sig.StateOutput:
			t, ok := outVals[i].(*ort.Tensor[float32])
			if !ok {
				return decode.Logits{}, fmt.Errorf("onnxrt: state output %s is not a float tensor", name)
			}
			r.state = slices.Clone(t.GetData())
			r.stateShape = slices.Clone(t.GetShape())
		}
	}
	return logits, nil
}

func extractLogits(v ort.Value) (decode.Logits, error) {
	t, ok := v.(*ort.Tensor[float32])
	if !ok {
		return decode.Logits{}, fmt.Errorf("onnxrt: logits output is not a float tensor")
	}
	shape := t.GetShape()
	var rows, cols int64
	switch len(shape) {
	case 3:
		rows, cols = shape[1], shape[2]
	case 2:
		rows, cols = shape[0], shape[1]
	default:
		return decode.Logits{}, fmt.Errorf("onnxrt: logits have rank %d, want 2 or 3", len(shape))
	}
	if rows <= 0 || cols <= 0 {
		return decode.Logits{}, fmt.Errorf("onnxrt: degenerate logits shape %v", shape)
	}
	data := make([]float32, rows*cols)
	copy(data, t.GetData())
	return decode.Logits{Data: data, Rows: int(rows), Cols: int(cols)}, nil
}

func newIDsTensor(dtype string, seq []int64) (ort.Value, error) {
	shape := ort.NewShape(1, int64(len(seq)))
	if dtype == "int32" {
		ids := make([]int32, len(seq))
		for i, v := range seq {
			ids[i] = int32(v)
		}
		t, err := ort.NewTensor(shape, ids)
		if err != nil {
			return nil, fmt.Errorf("onnxrt: ids tensor: %w", err)
		}
		return t, nil
	}
	t, err := ort.NewTensor(shape, slices.Clone(seq))
	if err != nil {
		return nil, fmt.Errorf("onnxrt: ids tensor: %w", err)
	}
	return t, nil
}

// Probe reports a model's declared tensor signature without keeping a
// session open.
func Probe(cfg Config) (inputs, outputs []TensorMeta, err error) {
	if err := ensureRuntime(cfg.LibraryPath); err != nil {
		return nil, nil, err
	}
	var ins, outs []ort.InputOutputInfo
	if len(cfg.ModelData) > 0 {
		ins, outs, err = ort.GetInputOutputInfoWithONNXData(cfg.ModelData)
	} else {
		ins, outs, err = ort.GetInputOutputInfo(cfg.ModelPath)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("onnxrt: probe model: %w", err)
	}
	return toMetas(ins), toMetas(outs), nil
}

func toMetas(infos []ort.InputOutputInfo) []TensorMeta {
	metas := make([]TensorMeta, len(infos))
	for i, info := range infos {
		metas[i] = TensorMeta{
			Name:  info.Name,
			DType: dtypeName(info.DataType),
			Shape: slices.Clone([]int64(info.Dimensions)),
		}
	}
	return metas
}

func dtypeName(t ort.TensorElementDataType) string {
	switch t {
	case ort.TensorElementDataTypeFloat:
		return "float32"
	case ort.TensorElementDataTypeInt64:
		return "int64"
	case ort.TensorElementDataTypeInt32:
		return "int32"
	default:
		return "unknown"
	}
}

func resolveImageShape(declared, override []int64) ([]int64, error) {
	if len(declared) != 3 && len(declared) != 4 {
		return nil, fmt.Errorf("onnxrt: image input has rank %d, want 3 or 4", len(declared))
	}
	shape := slices.Clone(declared)
	switch {
	case len(override) == 0:
	case len(override) == len(shape):
		copy(shape, override)
	case len(override) == 3 && len(shape) == 4:
		shape[0] = 1
		copy(shape[1:], override)
	default:
		return nil, fmt.Errorf("onnxrt: image shape override %v does not fit input rank %d", override, len(shape))
	}
	if len(shape) == 4 && shape[0] < 1 {
		shape[0] = 1
	}
	for _, d := range shape {
		if d <= 0 {
			return nil, fmt.Errorf("onnxrt: image input shape %v has dynamic dimensions, set the image size explicitly", declared)
		}
	}
	return shape, nil
}

func sessionOptions(cfg Config) (*ort.SessionOptions, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if (provider == "" || provider == "cpu") && cfg.IntraOpThreads <= 0 {
		return nil, nil
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnxrt: session options: %w", err)
	}
	fail := func(err error) (*ort.SessionOptions, error) {
		_ = opts.Destroy()
		return nil, err
	}

	_ = opts.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll)
	if cfg.IntraOpThreads > 0 {
		_ = opts.SetIntraOpNumThreads(cfg.IntraOpThreads)
	}

	switch provider {
	case "", "cpu":
	case "cuda":
		cu, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return fail(fmt.Errorf("onnxrt: cuda options: %w", err))
		}
		if cfg.DeviceID > 0 {
			_ = cu.Update(map[string]string{"device_id": strconv.Itoa(cfg.DeviceID)})
		}
		err = opts.AppendExecutionProviderCUDA(cu)
		_ = cu.Destroy()
		if err != nil {
			return fail(fmt.Errorf("onnxrt: enable cuda: %w", err))
		}
	case "tensorrt":
		trt, err := ort.NewTensorRTProviderOptions()
		if err != nil {
			return fail(fmt.Errorf("onnxrt: tensorrt options: %w", err))
		}
		err = opts.AppendExecutionProviderTensorRT(trt)
		_ = trt.Destroy()
		if err != nil {
			return fail(fmt.Errorf("onnxrt: enable tensorrt: %w", err))
		}
	case "coreml":
		if err := opts.AppendExecutionProviderCoreMLV2(map[string]string{}); err != nil {
			return fail(fmt.Errorf("onnxrt: enable coreml: %w", err))
		}
	case "directml", "dml":
		if err := opts.AppendExecutionProviderDirectML(cfg.DeviceID); err != nil {
			return fail(fmt.Errorf("onnxrt: enable directml: %w", err))
		}
	default:
		return fail(fmt.Errorf("onnxrt: unknown execution provider %q", cfg.Provider))
	}
	return opts, nil
}
