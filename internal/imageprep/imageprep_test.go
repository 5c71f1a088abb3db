package imageprep

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func fill(img *image.RGBA, c color.Color) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			img.Set(x, y, c)
		}
	}
}

func TestAutocropFindsInkBox(t *testing.T) {
	t.Parallel()

	img := image.NewRGBA(image.Rect(0, 0, 100, 80))
	fill(img, color.White)
	for y := 20; y < 29; y++ {
		for x := 30; x < 41; x++ {
			img.Set(x, y, color.Black)
		}
	}

	got := Autocrop(img, 4)
	b := got.Bounds()
	if b.Dx() != 11+8 || b.Dy() != 9+8 {
		t.Fatalf("cropped to %dx%d, want %dx%d", b.Dx(), b.Dy(), 19, 17)
	}
	// Ink must sit margin pixels inside the crop.
	if luma8(got.At(4, 4)) > inkThreshold {
		t.Fatal("ink not at expected offset after crop")
	}
	if luma8(got.At(0, 0)) <= inkThreshold {
		t.Fatal("margin pixel should be background")
	}
}

func TestAutocropBlankImageUnchanged(t *testing.T) {
	t.Parallel()

	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	fill(img, color.White)

	got := Autocrop(img, 4)
	if got.Bounds() != img.Bounds() {
		t.Fatalf("blank image cropped to %v", got.Bounds())
	}
}

func TestAutocropClampsMarginAtEdges(t *testing.T) {
	t.Parallel()

	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	fill(img, color.White)
	img.Set(0, 0, color.Black)

	got := Autocrop(img, 4)
	b := got.Bounds()
	if b.Dx() != 5 || b.Dy() != 5 {
		t.Fatalf("cropped to %dx%d, want 5x5", b.Dx(), b.Dy())
	}
}

func TestPrepareImageGrayInvert(t *testing.T) {
	t.Parallel()

	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	fill(img, color.White)

	cfg := Config{Width: 4, Height: 4, Channels: 1, Invert: true}
	got, err := PrepareImage(img, cfg)
	if err != nil {
		t.Fatalf("PrepareImage: %v", err)
	}
	if len(got) != cfg.TensorLen() {
		t.Fatalf("len = %d, want %d", len(got), cfg.TensorLen())
	}
	for i, v := range got {
		// White inverts to black, which normalizes to -1.
		if v != -1 {
			t.Fatalf("got[%d] = %v, want -1", i, v)
		}
	}
}

func TestPrepareImageRGBPlaneOrder(t *testing.T) {
	t.Parallel()

	// Left pixel black, right pixel white: each CHW plane must read
	// -1 then +1.
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.Black)
	img.Set(1, 0, color.White)

	got, err := PrepareImage(img, Config{Width: 2, Height: 1, Channels: 3})
	if err != nil {
		t.Fatalf("PrepareImage: %v", err)
	}
	want := []float32{-1, 1, -1, 1, -1, 1}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPrepareImageValidatesConfig(t *testing.T) {
	t.Parallel()

	img := image.NewRGBA(image.Rect(0, 0, 2, 2))

	cases := []Config{
		{Width: 0, Height: 4, Channels: 3},
		{Width: 4, Height: 4, Channels: 2},
		{Width: 4, Height: 4, Channels: 3, Margin: -1},
		{Width: 4, Height: 4, Channels: 3, Filter: "lanczos"},
	}
	for _, cfg := range cases {
		if _, err := PrepareImage(img, cfg); err == nil {
			t.Errorf("config %+v accepted", cfg)
		}
	}
}

func TestOrient(t *testing.T) {
	t.Parallel()

	// 2x1: red then green.
	src := image.NewRGBA(image.Rect(0, 0, 2, 1))
	red := color.RGBA{R: 255, A: 255}
	green := color.RGBA{G: 255, A: 255}
	src.Set(0, 0, red)
	src.Set(1, 0, green)

	at := func(img image.Image, x, y int) color.RGBA {
		r, g, b, a := img.At(x, y).RGBA()
		return color.RGBA{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8), uint8(a >> 8)}
	}

	t.Run("identity", func(t *testing.T) {
		if got := Orient(src, 1); got != image.Image(src) {
			t.Fatal("orientation 1 should return the image unchanged")
		}
	})

	t.Run("mirror", func(t *testing.T) {
		got := Orient(src, 2)
		if at(got, 0, 0) != green || at(got, 1, 0) != red {
			t.Fatal("orientation 2 mismatch")
		}
	})

	t.Run("rotate90cw", func(t *testing.T) {
		got := Orient(src, 6)
		b := got.Bounds()
		if b.Dx() != 1 || b.Dy() != 2 {
			t.Fatalf("dims %dx%d, want 1x2", b.Dx(), b.Dy())
		}
		if at(got, 0, 0) != red || at(got, 0, 1) != green {
			t.Fatal("orientation 6 mismatch")
		}
	})

	t.Run("rotate270cw", func(t *testing.T) {
		got := Orient(src, 8)
		if at(got, 0, 0) != green || at(got, 0, 1) != red {
			t.Fatal("orientation 8 mismatch")
		}
	})
}

func TestPrepareFromFile(t *testing.T) {
	t.Parallel()

	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	fill(img, color.White)
	for y := 6; y < 10; y++ {
		for x := 6; x < 10; x++ {
			img.Set(x, y, color.Black)
		}
	}

	path := filepath.Join(t.TempDir(), "in.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	cfg := Config{Width: 8, Height: 8, Channels: 3, Autocrop: true, Margin: 2}
	got, err := Prepare(path, cfg)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if len(got) != cfg.TensorLen() {
		t.Fatalf("len = %d, want %d", len(got), cfg.TensorLen())
	}
	for i, v := range got {
		if v < -1 || v > 1 {
			t.Fatalf("got[%d] = %v outside [-1, 1]", i, v)
		}
	}

	if _, err := Prepare(filepath.Join(t.TempDir(), "missing.png"), cfg); err == nil {
		t.Fatal("Prepare succeeded on a missing file")
	}
}
