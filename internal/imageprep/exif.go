package imageprep

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	exiflib "github.com/rwcarlsen/goexif/exif"
)

// Load decodes an image file and applies its EXIF orientation. Files
// without EXIF data, or with unreadable EXIF, decode as-is.
func Load(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("imageprep: decode %s: %w", path, err)
	}
	return Orient(img, exifOrientation(data)), nil
}

// Decode decodes in-memory image bytes, applying any EXIF orientation
// the same way Load does.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("imageprep: decode image: %w", err)
	}
	return Orient(img, exifOrientation(data)), nil
}

// exifOrientation returns the EXIF orientation tag, or 1 when the
// data carries none.
func exifOrientation(data []byte) int {
	x, err := exiflib.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exiflib.Orientation)
	if err != nil {
		return 1
	}
	o, err := tag.Int(0)
	if err != nil || o < 1 || o > 8 {
		return 1
	}
	return o
}

// Orient rewrites the image so that EXIF orientation values 2 through
// 8 display upright. Value 1 (and anything out of range) is returned
// unchanged.
func Orient(img image.Image, orientation int) image.Image {
	if orientation <= 1 || orientation > 8 {
		return img
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	dw, dh := w, h
	if orientation >= 5 {
		dw, dh = h, w
	}
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))

	for dy := 0; dy < dh; dy++ {
		for dx := 0; dx < dw; dx++ {
			var sx, sy int
			switch orientation {
			case 2: // mirrored
				sx, sy = w-1-dx, dy
			case 3: // rotated 180
				sx, sy = w-1-dx, h-1-dy
			case 4: // flipped vertically
				sx, sy = dx, h-1-dy
			case 5: // transposed
				sx, sy = dy, dx
			case 6: // rotated 90 CW
				sx, sy = dy, h-1-dx
			case 7: // transversed
				sx, sy = w-1-dy, h-1-dx
			case 8: // rotated 270 CW
				sx, sy = w-1-dy, dx
			}
			dst.Set(dx, dy, img.At(b.Min.X+sx, b.Min.Y+sy))
		}
	}
	return dst
}
