package ocr

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/samcharles93/sumi/internal/imageprep"
	"github.com/samcharles93/sumi/internal/onnxrt"
	"github.com/samcharles93/sumi/internal/vocab"
	"github.com/samcharles93/sumi/pkg/scf"
)

// Loader opens a model for recognition. SCF containers carry their
// own vocabulary and preprocessing contract; bare .onnx exports fall
// back to the conventions the known exports use.
type Loader struct {
	// VocabPath overrides the container vocabulary. Bare models look
	// for a vocab.txt next to the model file when unset.
	VocabPath string

	// MaxSteps overrides the packed decode cap when positive.
	MaxSteps int

	// VerifyDigests recomputes section digests before loading a
	// container.
	VerifyDigests bool

	// Backend selects the execution provider and runtime library.
	Backend onnxrt.Config
}

func (l Loader) Load(modelPath string) (*EngineImpl, error) {
	if strings.TrimSpace(modelPath) == "" {
		return nil, fmt.Errorf("model path is required")
	}
	container, err := IsContainer(modelPath)
	if err != nil {
		return nil, err
	}
	if container {
		return l.loadContainer(modelPath)
	}
	return l.loadBareModel(modelPath)
}

// IsContainer sniffs the file magic rather than trusting extensions.
func IsContainer(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer func() { _ = f.Close() }()

	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return false, nil
	}
	return string(magic[:]) == scf.Magic, nil
}

func (l Loader) loadContainer(path string) (*EngineImpl, error) {
	file, err := scf.Open(path)
	if err != nil {
		return nil, err
	}
	cleanup := func(err error) (*EngineImpl, error) {
		_ = file.Close()
		return nil, err
	}

	if l.VerifyDigests {
		if err := scf.VerifyDigests(file); err != nil {
			return cleanup(err)
		}
	}

	mi, err := file.ModelInfo()
	if err != nil {
		return cleanup(fmt.Errorf("read model info: %w", err))
	}
	if l.MaxSteps > 0 {
		mi.Decode.MaxSteps = l.MaxSteps
	}

	tab, err := l.containerVocab(file, mi.Decode)
	if err != nil {
		return cleanup(err)
	}

	modelData, err := file.SectionBytes(scf.SectionModelData)
	if err != nil {
		return cleanup(fmt.Errorf("container has no model payload: %w", err))
	}

	beCfg := l.Backend
	beCfg.ModelPath = ""
	beCfg.ModelData = modelData
	beCfg.ImageShape = []int64{1, int64(mi.Image.Channels), int64(mi.Image.Height), int64(mi.Image.Width)}
	sess, err := onnxrt.Open(beCfg)
	if err != nil {
		return cleanup(err)
	}

	return &EngineImpl{
		path:      path,
		container: true,
		file:      file,
		sess:      ortSession{s: sess},
		vocab:     tab,
		info:      *mi,
		prep:      prepConfig(mi.Image),
	}, nil
}

func (l Loader) loadBareModel(path string) (*EngineImpl, error) {
	beCfg := l.Backend
	beCfg.ModelPath = path
	beCfg.ModelData = nil
	sess, err := onnxrt.Open(beCfg)
	if err != nil {
		return nil, err
	}
	cleanup := func(err error) (*EngineImpl, error) {
		_ = sess.Close()
		return nil, err
	}

	mi, err := bareModelInfo(path, sess.ImageShape())
	if err != nil {
		return cleanup(err)
	}
	if l.MaxSteps > 0 {
		mi.Decode.MaxSteps = l.MaxSteps
	}

	vocabPath := l.VocabPath
	if vocabPath == "" {
		vocabPath = filepath.Join(filepath.Dir(path), "vocab.txt")
	}
	tab, err := vocab.Load(vocabPath, vocabConfig(mi.Decode))
	if err != nil {
		return cleanup(fmt.Errorf("load vocabulary: %w", err))
	}

	return &EngineImpl{
		path:  path,
		sess:  ortSession{s: sess},
		vocab: tab,
		info:  mi,
		prep:  prepConfig(mi.Image),
	}, nil
}

func (l Loader) containerVocab(file *scf.File, d scf.DecodeInfo) (*vocab.Table, error) {
	if l.VocabPath != "" {
		return vocab.Load(l.VocabPath, vocabConfig(d))
	}
	data, err := file.SectionBytes(scf.SectionVocab)
	if err != nil {
		return nil, fmt.Errorf("container has no vocabulary, pass one explicitly: %w", err)
	}
	return vocab.Parse(bytes.NewReader(data), vocabConfig(d))
}

func vocabConfig(d scf.DecodeInfo) vocab.Config {
	return vocab.Config{
		Reserved: d.ReservedTokens,
		Specials: []int64{d.PadToken, d.UnknownToken, d.BeginToken, d.EndToken},
	}
}

func prepConfig(ii scf.ImageInfo) imageprep.Config {
	return imageprep.Config{
		Width:    ii.Width,
		Height:   ii.Height,
		Channels: ii.Channels,
		Invert:   ii.Invert,
		Autocrop: ii.Autocrop,
		Margin:   ii.Margin,
		Filter:   imageprep.Filter(ii.Filter),
	}
}

// bareModelInfo fills recognition defaults for a model outside a
// container from its resolved image shape.
func bareModelInfo(path string, imageShape []int64) (scf.ModelInfo, error) {
	var c, h, w int
	switch len(imageShape) {
	case 4:
		c, h, w = int(imageShape[1]), int(imageShape[2]), int(imageShape[3])
	case 3:
		c, h, w = int(imageShape[0]), int(imageShape[1]), int(imageShape[2])
	default:
		return scf.ModelInfo{}, fmt.Errorf("unsupported image tensor rank %d", len(imageShape))
	}
	if c != 1 && c != 3 {
		return scf.ModelInfo{}, fmt.Errorf("unsupported image layout %v", imageShape)
	}
	return scf.ModelInfo{
		Name:         strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Architecture: scf.ArchVisionEncoderDecoder,
		Image:        presetImage(c, h, w),
		Decode:       scf.DefaultDecodeInfo(),
	}, nil
}

// presetImage reproduces the preprocessing the known exports were
// traced with: grayscale models consume inverted, tightly cropped
// text; RGB models keep polarity and a small crop margin.
func presetImage(c, h, w int) scf.ImageInfo {
	ii := scf.ImageInfo{Width: w, Height: h, Channels: c, Autocrop: true}
	if c == 1 {
		ii.Invert = true
		ii.Filter = string(imageprep.FilterCatmullRom)
	} else {
		ii.Margin = 4
	}
	return ii
}
