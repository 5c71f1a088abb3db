package scf

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
)

// ModelInfoVersion is the section version written for SectionModelInfo.
const ModelInfoVersion uint32 = 1

// ArchVisionEncoderDecoder is the only architecture currently packed.
const ArchVisionEncoderDecoder = "vision-encoder-decoder"

// TensorInfo describes one model input or output as recorded at pack
// time. Dynamic dimensions are stored as -1.
type TensorInfo struct {
	Name  string  `json:"name"`
	DType string  `json:"dtype"`
	Shape []int64 `json:"shape,omitempty"`
}

// ImageInfo is the preprocessing contract the model was exported with:
// spatial size, channel count and the crop/invert behaviour the
// recognizer must reproduce.
type ImageInfo struct {
	Width    int  `json:"width"`
	Height   int  `json:"height"`
	Channels int  `json:"channels"`
	Autocrop bool `json:"autocrop,omitempty"`
	Margin   int  `json:"margin,omitempty"`
	Invert   bool `json:"invert,omitempty"`

	// Filter names the resize kernel ("bilinear" when empty).
	Filter string `json:"filter,omitempty"`
}

// DecodeInfo carries the reserved token IDs and decoding bounds.
//
// ReservedTokens is the number of special IDs preceding the visible
// range: token ID i renders vocabulary line i-ReservedTokens. Models
// whose vocabulary file carries the special rows inline as its first
// lines record 0 here.
type DecodeInfo struct {
	PadToken       int64 `json:"pad_token"`
	UnknownToken   int64 `json:"unknown_token"`
	BeginToken     int64 `json:"begin_token"`
	EndToken       int64 `json:"end_token"`
	ReservedTokens int   `json:"reserved_tokens"`
	MaxSteps       int   `json:"max_steps"`
	VocabSize      int   `json:"vocab_size,omitempty"`
}

// DefaultDecodeInfo matches the usual encoder/decoder OCR export:
// [PAD]=0 [UNK]=1 begin=2 end=3, special rows inline in the
// vocabulary file, 32 decode steps.
func DefaultDecodeInfo() DecodeInfo {
	return DecodeInfo{
		PadToken:       0,
		UnknownToken:   1,
		BeginToken:     2,
		EndToken:       3,
		ReservedTokens: 0,
		MaxSteps:       32,
	}
}

// ModelInfo is the JSON payload of SectionModelInfo.
type ModelInfo struct {
	Name         string            `json:"name"`
	Architecture string            `json:"architecture"`
	SourceModel  string            `json:"source_model,omitempty"`
	Image        ImageInfo         `json:"image"`
	Decode       DecodeInfo        `json:"decode"`
	Inputs       []TensorInfo      `json:"inputs,omitempty"`
	Outputs      []TensorInfo      `json:"outputs,omitempty"`
	Digests      map[string]string `json:"digests,omitempty"`
	Extras       map[string]any    `json:"extras,omitempty"`
}

func (mi *ModelInfo) Validate() error {
	if mi == nil {
		return errors.New("modelinfo: nil ModelInfo")
	}
	if mi.Name == "" {
		return errors.New("modelinfo: name required")
	}
	if mi.Image.Width <= 0 || mi.Image.Height <= 0 {
		return fmt.Errorf("modelinfo: invalid image size %dx%d", mi.Image.Width, mi.Image.Height)
	}
	if mi.Image.Channels != 1 && mi.Image.Channels != 3 {
		return fmt.Errorf("modelinfo: invalid channel count %d", mi.Image.Channels)
	}
	if mi.Image.Margin < 0 {
		return fmt.Errorf("modelinfo: invalid margin %d", mi.Image.Margin)
	}
	d := mi.Decode
	if d.MaxSteps <= 0 {
		return fmt.Errorf("modelinfo: invalid max_steps %d", d.MaxSteps)
	}
	if d.BeginToken < 0 || d.EndToken < 0 || d.PadToken < 0 || d.UnknownToken < 0 {
		return errors.New("modelinfo: negative special token ID")
	}
	if d.BeginToken == d.EndToken {
		return errors.New("modelinfo: begin and end token must differ")
	}
	if d.ReservedTokens < 0 {
		return fmt.Errorf("modelinfo: invalid reserved_tokens %d", d.ReservedTokens)
	}
	return nil
}

func EncodeModelInfo(mi *ModelInfo) ([]byte, error) {
	if err := mi.Validate(); err != nil {
		return nil, err
	}
	out, err := json.Marshal(mi)
	if err != nil {
		return nil, fmt.Errorf("modelinfo: encode: %w", err)
	}
	return out, nil
}

func ParseModelInfo(data []byte) (*ModelInfo, error) {
	var mi ModelInfo
	if err := json.Unmarshal(data, &mi); err != nil {
		return nil, fmt.Errorf("modelinfo: parse: %w", err)
	}
	if err := mi.Validate(); err != nil {
		return nil, err
	}
	return &mi, nil
}
