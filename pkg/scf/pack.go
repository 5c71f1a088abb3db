package scf

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
)

const (
	modelDataVersion       uint32 = 1
	resourceSectionVersion uint32 = 1
)

type PackOptions struct {
	// ModelPath is the exported ONNX graph to embed.
	ModelPath string

	// VocabPath is the vocabulary file, UTF-8, one token per line.
	VocabPath string

	// TokenizerConfigPath optionally bundles the tokenizer config JSON.
	TokenizerConfigPath string

	// OutputPath is the .scf file to create.
	OutputPath string

	// Info seeds the model-info section. Payload digests and the
	// vocabulary size are filled in during packing; a zero MaxSteps
	// falls back to the default.
	Info ModelInfo
}

// Pack assembles a container from an ONNX export and its vocabulary.
func Pack(opts PackOptions) error {
	if opts.ModelPath == "" {
		return errors.New("scf: pack: ModelPath required")
	}
	if opts.VocabPath == "" {
		return errors.New("scf: pack: VocabPath required")
	}
	if opts.OutputPath == "" {
		return errors.New("scf: pack: OutputPath required")
	}

	mi := opts.Info
	if mi.Name == "" {
		base := filepath.Base(opts.ModelPath)
		mi.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if mi.Architecture == "" {
		mi.Architecture = ArchVisionEncoderDecoder
	}
	if mi.Decode.MaxSteps == 0 {
		mi.Decode.MaxSteps = DefaultDecodeInfo().MaxSteps
	}

	vocabBytes, err := os.ReadFile(opts.VocabPath)
	if err != nil {
		return fmt.Errorf("scf: pack: vocab: %w", err)
	}
	if mi.Decode.VocabSize == 0 {
		// Recorded size is the logits width: reserved IDs plus one ID
		// per vocabulary line.
		mi.Decode.VocabSize = mi.Decode.ReservedTokens + countLines(vocabBytes)
	}

	var tokCfgBytes []byte
	if opts.TokenizerConfigPath != "" {
		tokCfgBytes, err = os.ReadFile(opts.TokenizerConfigPath)
		if err != nil {
			return fmt.Errorf("scf: pack: tokenizer config: %w", err)
		}
		if !json.Valid(tokCfgBytes) {
			return fmt.Errorf("scf: pack: tokenizer config %s is not valid JSON", opts.TokenizerConfigPath)
		}
	}

	modelF, err := os.Open(opts.ModelPath)
	if err != nil {
		return fmt.Errorf("scf: pack: model: %w", err)
	}
	defer func() { _ = modelF.Close() }()

	outF, err := os.Create(opts.OutputPath)
	if err != nil {
		return err
	}
	defer func() { _ = outF.Close() }()

	w, err := NewWriter(outF)
	if err != nil {
		return err
	}

	// Model data (streaming, digested on the way through).
	modelHash := sha256.New()
	if _, err := w.WriteSectionFromReader(SectionModelData, modelDataVersion, io.TeeReader(modelF, modelHash)); err != nil {
		return fmt.Errorf("scf: pack: model data: %w", err)
	}

	if err := w.WriteSection(SectionVocab, resourceSectionVersion, vocabBytes); err != nil {
		return fmt.Errorf("scf: pack: vocab section: %w", err)
	}
	if len(tokCfgBytes) > 0 {
		if err := w.WriteSection(SectionTokenizerConfig, resourceSectionVersion, tokCfgBytes); err != nil {
			return fmt.Errorf("scf: pack: tokenizer config section: %w", err)
		}
	}

	if mi.Digests == nil {
		mi.Digests = make(map[string]string, 3)
	}
	mi.Digests[SectionTypeName(SectionModelData)] = hex.EncodeToString(modelHash.Sum(nil))
	mi.Digests[SectionTypeName(SectionVocab)] = sha256Hex(vocabBytes)
	if len(tokCfgBytes) > 0 {
		mi.Digests[SectionTypeName(SectionTokenizerConfig)] = sha256Hex(tokCfgBytes)
	}

	miBytes, err := EncodeModelInfo(&mi)
	if err != nil {
		return err
	}
	if err := w.WriteSection(SectionModelInfo, ModelInfoVersion, miBytes); err != nil {
		return fmt.Errorf("scf: pack: model info section: %w", err)
	}

	return w.Finalise()
}

// VerifyDigests recomputes payload digests and compares them against
// the model-info record. Sections without a recorded digest are
// skipped.
func VerifyDigests(f *File) error {
	mi, err := f.ModelInfo()
	if err != nil {
		return err
	}
	for name, want := range mi.Digests {
		var t SectionType
		switch name {
		case SectionTypeName(SectionModelData):
			t = SectionModelData
		case SectionTypeName(SectionVocab):
			t = SectionVocab
		case SectionTypeName(SectionTokenizerConfig):
			t = SectionTokenizerConfig
		default:
			continue
		}
		data, err := f.SectionBytes(t)
		if err != nil {
			return err
		}
		if got := sha256Hex(data); got != want {
			return fmt.Errorf("%w: %s digest mismatch (want %s, got %s)", ErrCorruptFile, name, want, got)
		}
	}
	return nil
}

func sha256Hex(p []byte) string {
	sum := sha256.Sum256(p)
	return hex.EncodeToString(sum[:])
}

// countLines counts vocabulary lines; a trailing newline does not
// start a new line, interior blank lines do count.
func countLines(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	n := bytes.Count(data, []byte{'\n'})
	if data[len(data)-1] != '\n' {
		n++
	}
	return n
}
