package onnxrt

import (
	"fmt"
	"strings"
)

// TensorMeta describes one model input or output. Dynamic dimensions
// are -1.
type TensorMeta struct {
	Name  string
	DType string // "float32", "int64", "int32" or "unknown"
	Shape []int64
}

func (m TensorMeta) rank() int { return len(m.Shape) }

func (m TensorMeta) String() string {
	dims := make([]string, len(m.Shape))
	for i, d := range m.Shape {
		if d < 0 {
			dims[i] = "?"
			continue
		}
		dims[i] = fmt.Sprintf("%d", d)
	}
	return fmt.Sprintf("%s %s[%s]", m.Name, m.DType, strings.Join(dims, ","))
}

// Signature names the tensors a decode step exchanges with the model.
// Exported models come in two shapes: image plus token IDs in, logits
// out; or additionally a recurrent state tensor that is produced each
// step and fed back unchanged on the next one.
type Signature struct {
	ImageInput string
	ImageShape []int64
	IDsInput   string
	IDsDType   string

	StateInput string
	StateShape []int64

	LogitsOutput string
	StateOutput  string
}

func (s Signature) HasState() bool { return s.StateInput != "" }

// ImageDims extracts channels, height and width from the image input
// shape. ok is false when any dimension is dynamic or the layout is
// not a 1- or 3-channel CHW tensor.
func (s Signature) ImageDims() (c, h, w int, ok bool) {
	dims := s.ImageShape
	switch len(dims) {
	case 4:
		dims = dims[1:]
	case 3:
	default:
		return 0, 0, 0, false
	}
	c, h, w = int(dims[0]), int(dims[1]), int(dims[2])
	if c != 1 && c != 3 {
		return 0, 0, 0, false
	}
	if h <= 0 || w <= 0 {
		return 0, 0, 0, false
	}
	return c, h, w, true
}

func isIntDType(d string) bool { return d == "int64" || d == "int32" }

// DetectSignature classifies a model's tensors by name, falling back
// to element type and rank for unnamed conventions.
func DetectSignature(inputs, outputs []TensorMeta) (Signature, error) {
	var sig Signature
	claimed := make(map[string]bool)

	for _, in := range inputs {
		n := strings.ToLower(in.Name)
		switch {
		case sig.IDsInput == "" && (strings.Contains(n, "input_ids") || strings.Contains(n, "decoder") || n == "ids" || n == "tokens"):
			sig.IDsInput = in.Name
			sig.IDsDType = in.DType
			claimed[in.Name] = true
		case sig.ImageInput == "" && (strings.Contains(n, "pixel_values") || strings.Contains(n, "image")):
			sig.ImageInput = in.Name
			sig.ImageShape = in.Shape
			claimed[in.Name] = true
		case sig.StateInput == "" && strings.Contains(n, "state"):
			sig.StateInput = in.Name
			sig.StateShape = in.Shape
			claimed[in.Name] = true
		}
	}

	// Unnamed conventions: token IDs are the integer input, the image
	// is the float input with spatial rank.
	if sig.IDsInput == "" {
		for _, in := range inputs {
			if claimed[in.Name] || !isIntDType(in.DType) {
				continue
			}
			sig.IDsInput = in.Name
			sig.IDsDType = in.DType
			claimed[in.Name] = true
			break
		}
	}
	if sig.ImageInput == "" {
		for _, in := range inputs {
			if claimed[in.Name] || in.DType != "float32" {
				continue
			}
			if in.rank() != 3 && in.rank() != 4 {
				continue
			}
			sig.ImageInput = in.Name
			sig.ImageShape = in.Shape
			claimed[in.Name] = true
			break
		}
	}

	if sig.ImageInput == "" {
		return Signature{}, fmt.Errorf("onnxrt: no image input among %v", tensorNames(inputs))
	}
	if sig.IDsInput == "" {
		return Signature{}, fmt.Errorf("onnxrt: no token ID input among %v", tensorNames(inputs))
	}
	if !isIntDType(sig.IDsDType) {
		return Signature{}, fmt.Errorf("onnxrt: token ID input %s has element type %s", sig.IDsInput, sig.IDsDType)
	}

	for _, out := range outputs {
		n := strings.ToLower(out.Name)
		switch {
		case sig.LogitsOutput == "" && strings.Contains(n, "logits"):
			sig.LogitsOutput = out.Name
		case sig.StateOutput == "" && strings.Contains(n, "state"):
			sig.StateOutput = out.Name
		}
	}
	if sig.LogitsOutput == "" {
		// Converted models sometimes ship generated output names; the
		// logits are then the first float output that is not state.
		for _, out := range outputs {
			if out.DType != "float32" || out.Name == sig.StateOutput {
				continue
			}
			sig.LogitsOutput = out.Name
			break
		}
	}
	if sig.LogitsOutput == "" {
		return Signature{}, fmt.Errorf("onnxrt: no logits output among %v", tensorNames(outputs))
	}
	if sig.HasState() && sig.StateOutput == "" {
		return Signature{}, fmt.Errorf("onnxrt: model consumes state %s but produces no state output", sig.StateInput)
	}

	return sig, nil
}

func tensorNames(metas []TensorMeta) []string {
	names := make([]string, len(metas))
	for i, m := range metas {
		names[i] = m.Name
	}
	return names
}
