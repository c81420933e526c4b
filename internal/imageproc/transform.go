package imageproc

import (
	"context"
	"image"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/born-ml/perceiver/internal/tensor"
	"github.com/born-ml/perceiver/internal/vit"
)

// Transform is the evaluation preprocessing of a pretrained variant:
// resize the shorter side, center crop and normalize.
type Transform struct {
	ResizeTo int
	CropSize int
	Interp   Interpolation
	Mean     [3]float32
	Std      [3]float32
}

// NewTransform builds the evaluation transform described by cfg. The
// shorter side is resized to floor(size / crop_pct).
func NewTransform(cfg vit.DefaultCfg) Transform {
	size := cfg.InputSize[2]
	crop := cfg.CropPct
	if crop <= 0 {
		crop = 1
	}
	return Transform{
		ResizeTo: int(math.Floor(float64(size) / crop)),
		CropSize: size,
		Interp:   ParseInterpolation(cfg.Interpolation),
		Mean:     cfg.Mean,
		Std:      cfg.Std,
	}
}

// Apply returns img as a normalized [3, CropSize, CropSize] tensor.
func (t Transform) Apply(img image.Image) (*tensor.Tensor, error) {
	resized, err := ResizeShorter(img, t.ResizeTo, t.Interp)
	if err != nil {
		return nil, err
	}
	cropped, err := CenterCrop(resized, t.CropSize, t.CropSize)
	if err != nil {
		return nil, err
	}
	return ToTensor(cropped, t.Mean, t.Std), nil
}

// Letterbox fits img within CropSize x CropSize without cropping and
// returns it normalized at its own size, ready for Batch.
func (t Transform) Letterbox(img image.Image) (*tensor.Tensor, error) {
	fitted, err := Letterbox(img, t.CropSize, t.CropSize, t.Interp)
	if err != nil {
		return nil, err
	}
	return ToTensor(fitted, t.Mean, t.Std), nil
}

// BatchImages preprocesses images concurrently and stacks them into
// [B, 3, CropSize, CropSize]. With letterbox set, images keep their aspect
// ratio and the remainder is zero padding.
func (t Transform) BatchImages(ctx context.Context, images []image.Image, letterbox bool) (*tensor.Tensor, error) {
	out := make([]*tensor.Tensor, len(images))
	g, ctx := errgroup.WithContext(ctx)
	for i, img := range images {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var err error
			if letterbox {
				out[i], err = t.Letterbox(img)
			} else {
				out[i], err = t.Apply(img)
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return Batch(out, t.CropSize, t.CropSize)
}
