// Package imageprep turns an input image into the normalized float32
// tensor a recognition model consumes.
//
// The pipeline is: decode, apply EXIF orientation, optionally crop to
// the ink bounding box, resize to the model's fixed spatial size,
// optionally invert, then normalize each channel to [-1, 1] in CHW
// order.
package imageprep

import (
	"fmt"
	"image"
	"image/color"
	stddraw "image/draw"

	"golang.org/x/image/draw"
)

// Filter names the resampling kernel used for the fixed-size resize.
type Filter string

const (
	FilterBilinear   Filter = "bilinear"
	FilterCatmullRom Filter = "catmull-rom"
)

// Pixels at or below this luma count as ink when autocropping.
const inkThreshold = 250

type Config struct {
	Width    int
	Height   int
	Channels int // 1 for grayscale, 3 for RGB

	// Invert flips pixel values after the resize, for models trained
	// on white-on-black text.
	Invert bool

	// Autocrop crops to the ink bounding box before resizing, with
	// Margin pixels kept on each side.
	Autocrop bool
	Margin   int

	// Filter defaults to bilinear when empty.
	Filter Filter
}

func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("imageprep: invalid target size %dx%d", c.Width, c.Height)
	}
	if c.Channels != 1 && c.Channels != 3 {
		return fmt.Errorf("imageprep: unsupported channel count %d", c.Channels)
	}
	if c.Margin < 0 {
		return fmt.Errorf("imageprep: negative margin %d", c.Margin)
	}
	switch c.Filter {
	case "", FilterBilinear, FilterCatmullRom:
	default:
		return fmt.Errorf("imageprep: unknown filter %q", c.Filter)
	}
	return nil
}

func (c Config) scaler() draw.Scaler {
	if c.Filter == FilterCatmullRom {
		return draw.CatmullRom
	}
	return draw.BiLinear
}

// TensorLen is the element count of the tensor Prepare produces.
func (c Config) TensorLen() int { return c.Channels * c.Width * c.Height }

// Prepare runs the full pipeline against an image file.
func Prepare(path string, cfg Config) ([]float32, error) {
	img, err := Load(path)
	if err != nil {
		return nil, err
	}
	return PrepareImage(img, cfg)
}

// PrepareImage runs the pipeline on an already-decoded image.
func PrepareImage(img image.Image, cfg Config) ([]float32, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Autocrop {
		img = Autocrop(img, cfg.Margin)
	}
	if cfg.Channels == 1 {
		return renderGray(img, cfg), nil
	}
	return renderRGB(img, cfg), nil
}

// Autocrop returns the image cropped to the bounding box of its ink
// pixels, expanded by margin and clamped to the original bounds. A
// blank image comes back unchanged.
func Autocrop(img image.Image, margin int) image.Image {
	b := img.Bounds()
	minX, minY := b.Max.X, b.Max.Y
	maxX, maxY := b.Min.X - 1, b.Min.Y - 1
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if luma8(img.At(x, y)) > inkThreshold {
				continue
			}
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
		}
	}
	if maxX < minX {
		return img
	}

	r := image.Rect(minX-margin, minY-margin, maxX+1+margin, maxY+1+margin).Intersect(b)
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	stddraw.Draw(out, out.Bounds(), img, r.Min, stddraw.Src)
	return out
}

func renderGray(img image.Image, cfg Config) []float32 {
	dst := image.NewGray(image.Rect(0, 0, cfg.Width, cfg.Height))
	cfg.scaler().Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	out := make([]float32, cfg.Width*cfg.Height)
	i := 0
	for y := 0; y < cfg.Height; y++ {
		row := dst.Pix[y*dst.Stride : y*dst.Stride+cfg.Width]
		for _, v := range row {
			if cfg.Invert {
				v = 255 - v
			}
			out[i] = normalize(v)
			i++
		}
	}
	return out
}

func renderRGB(img image.Image, cfg Config) []float32 {
	dst := image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
	cfg.scaler().Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	hw := cfg.Width * cfg.Height
	out := make([]float32, 3*hw)
	i := 0
	for y := 0; y < cfg.Height; y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < cfg.Width; x++ {
			r, g, b := row[x*4], row[x*4+1], row[x*4+2]
			if cfg.Invert {
				r, g, b = 255-r, 255-g, 255-b
			}
			out[i] = normalize(r)
			out[hw+i] = normalize(g)
			out[2*hw+i] = normalize(b)
			i++
		}
	}
	return out
}

// normalize maps an 8-bit value to [-1, 1].
func normalize(v uint8) float32 {
	return (float32(v)/255 - 0.5) / 0.5
}

func luma8(c color.Color) uint8 {
	r, g, b, _ := c.RGBA()
	// ITU-R 601 luma, same weights the stdlib gray model uses.
	y := (19595*r + 38470*g + 7471*b + 1<<15) >> 24
	return uint8(y)
}
