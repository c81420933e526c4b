// Package imageproc decodes images and turns them into normalized,
// zero-padded model input.
package imageproc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidSize is returned for non-positive or oversized target sizes.
var ErrInvalidSize = errors.New("invalid image size")

// Interpolation selects a resampling kernel.
type Interpolation int

const (
	Nearest Interpolation = iota
	Bilinear
	Bicubic
)

// ParseInterpolation maps a torchvision interpolation name to a kernel.
// Unknown names fall back to bilinear.
func ParseInterpolation(s string) Interpolation {
	switch strings.ToLower(s) {
	case "nearest":
		return Nearest
	case "bicubic":
		return Bicubic
	default:
		return Bilinear
	}
}

func (i Interpolation) String() string {
	switch i {
	case Nearest:
		return "nearest"
	case Bicubic:
		return "bicubic"
	default:
		return "bilinear"
	}
}

func (i Interpolation) scaler() draw.Scaler {
	switch i {
	case Nearest:
		return draw.NearestNeighbor
	case Bicubic:
		return draw.CatmullRom
	default:
		return draw.BiLinear
	}
}

// Decode reads a PNG, JPEG, GIF, WebP, BMP or TIFF image.
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// Load decodes the image file at path.
func Load(path string) (image.Image, error) {
	//nolint:gosec // G304: image paths are user supplied.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	img, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// DecodeAll decodes each buffer concurrently and returns the images in
// input order.
func DecodeAll(ctx context.Context, bufs [][]byte) ([]image.Image, error) {
	out := make([]image.Image, len(bufs))
	g, ctx := errgroup.WithContext(ctx)
	for i, b := range bufs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			img, err := Decode(bytes.NewReader(b))
			if err != nil {
				return fmt.Errorf("image %d: %w", i, err)
			}
			out[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadAll decodes the files at paths concurrently.
func LoadAll(ctx context.Context, paths []string) ([]image.Image, error) {
	out := make([]image.Image, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	for i, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			img, err := Load(p)
			out[i] = img
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Resize scales img to exactly w x h.
func Resize(img image.Image, w, h int, interp Interpolation) (*image.RGBA, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, w, h)
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	interp.scaler().Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst, nil
}

// ResizeShorter scales img so its shorter side is size, keeping the aspect
// ratio. The longer side is truncated as torchvision does.
func ResizeShorter(img image.Image, size int, interp Interpolation) (*image.RGBA, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= h {
		return Resize(img, size, int(float64(size)*float64(h)/float64(w)), interp)
	}
	return Resize(img, int(float64(size)*float64(w)/float64(h)), size, interp)
}

// CenterCrop cuts the central w x h region out of img.
func CenterCrop(img image.Image, w, h int) (*image.RGBA, error) {
	b := img.Bounds()
	if w <= 0 || h <= 0 || w > b.Dx() || h > b.Dy() {
		return nil, fmt.Errorf("%w: crop %dx%d from %dx%d", ErrInvalidSize, w, h, b.Dx(), b.Dy())
	}
	// torchvision rounds the offsets.
	x0 := b.Min.X + int(math.Round(float64(b.Dx()-w)/2))
	y0 := b.Min.Y + int(math.Round(float64(b.Dy()-h)/2))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), img, image.Pt(x0, y0), draw.Src)
	return dst, nil
}

// Letterbox scales img to fit within maxW x maxH, keeping the aspect ratio.
// No border is added; Batch pads the result with zeros.
func Letterbox(img image.Image, maxW, maxH int, interp Interpolation) (*image.RGBA, error) {
	if maxW <= 0 || maxH <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, maxW, maxH)
	}
	b := img.Bounds()
	ratio := min(float64(maxW)/float64(b.Dx()), float64(maxH)/float64(b.Dy()))
	w := max(1, int(float64(b.Dx())*ratio))
	h := max(1, int(float64(b.Dy())*ratio))
	return Resize(img, w, h, interp)
}
