package ocr

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/samcharles93/sumi/internal/imageprep"
	"github.com/samcharles93/sumi/pkg/scf"
)

func TestIsContainer(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	containerPath := filepath.Join(dir, "model.scf")
	f, err := os.Create(containerPath)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	w, err := scf.NewWriter(f)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.WriteSection(scf.SectionModelData, 1, []byte("payload")); err != nil {
		t.Fatalf("WriteSection: %v", err)
	}
	if err := w.Finalise(); err != nil {
		t.Fatalf("Finalise: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	ok, err := IsContainer(containerPath)
	if err != nil {
		t.Fatalf("IsContainer: %v", err)
	}
	if !ok {
		t.Fatal("container not recognized")
	}

	rawPath := filepath.Join(dir, "model.onnx")
	if err := os.WriteFile(rawPath, []byte("not a container"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	ok, err = IsContainer(rawPath)
	if err != nil {
		t.Fatalf("IsContainer: %v", err)
	}
	if ok {
		t.Fatal("raw file misread as container")
	}

	if _, err := IsContainer(filepath.Join(dir, "missing.scf")); err == nil {
		t.Fatal("missing file accepted")
	}
}

func TestBareModelInfo(t *testing.T) {
	t.Parallel()

	mi, err := bareModelInfo("/models/manga-ocr.onnx", []int64{1, 1, 384, 384})
	if err != nil {
		t.Fatalf("bareModelInfo: %v", err)
	}
	if mi.Name != "manga-ocr" {
		t.Fatalf("Name = %q", mi.Name)
	}
	if !mi.Image.Invert || !mi.Image.Autocrop || mi.Image.Margin != 0 {
		t.Fatalf("grayscale preset = %+v", mi.Image)
	}
	if mi.Image.Filter != string(imageprep.FilterCatmullRom) {
		t.Fatalf("grayscale filter = %q", mi.Image.Filter)
	}
	if mi.Decode.BeginToken != 2 || mi.Decode.EndToken != 3 || mi.Decode.MaxSteps != 32 {
		t.Fatalf("decode defaults = %+v", mi.Decode)
	}

	mi, err = bareModelInfo("manga_ocr.onnx", []int64{1, 3, 224, 224})
	if err != nil {
		t.Fatalf("bareModelInfo: %v", err)
	}
	if mi.Image.Invert || mi.Image.Margin != 4 {
		t.Fatalf("RGB preset = %+v", mi.Image)
	}
	if mi.Image.Width != 224 || mi.Image.Height != 224 || mi.Image.Channels != 3 {
		t.Fatalf("RGB dims = %+v", mi.Image)
	}

	if _, err := bareModelInfo("m.onnx", []int64{10, 10}); err == nil {
		t.Fatal("rank-2 image shape accepted")
	}
	if _, err := bareModelInfo("m.onnx", []int64{1, 4, 224, 224}); err == nil {
		t.Fatal("4-channel layout accepted")
	}
}

func TestVocabConfigCarriesSpecials(t *testing.T) {
	t.Parallel()

	d := scf.DecodeInfo{PadToken: 10, UnknownToken: 11, BeginToken: 12, EndToken: 13, ReservedTokens: 14}
	cfg := vocabConfig(d)
	if cfg.Reserved != 14 {
		t.Fatalf("Reserved = %d", cfg.Reserved)
	}
	want := []int64{10, 11, 12, 13}
	if len(cfg.Specials) != len(want) {
		t.Fatalf("Specials = %v", cfg.Specials)
	}
	for i := range want {
		if cfg.Specials[i] != want[i] {
			t.Fatalf("Specials = %v, want %v", cfg.Specials, want)
		}
	}
}
