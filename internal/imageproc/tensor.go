package imageproc

import (
	"fmt"
	"image"

	"github.com/born-ml/perceiver/internal/tensor"
)

// Normalization presets.
var (
	ImageNetMean = [3]float32{0.485, 0.456, 0.406}
	ImageNetStd  = [3]float32{0.229, 0.224, 0.225}

	InceptionMean = [3]float32{0.5, 0.5, 0.5}
	InceptionStd  = [3]float32{0.5, 0.5, 0.5}
)

// ToTensor converts img to a normalized [3, H, W] tensor:
// (pixel/255 - mean) / std per channel.
func ToTensor(img image.Image, mean, std [3]float32) *tensor.Tensor {
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	plane := h * w
	data := make([]float32, 3*plane)
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			data[i] = (float32(r>>8)/255 - mean[0]) / std[0]
			data[plane+i] = (float32(g>>8)/255 - mean[1]) / std[1]
			data[2*plane+i] = (float32(bl>>8)/255 - mean[2]) / std[2]
			i++
		}
	}
	return tensor.New(tensor.Shape{3, h, w}, data)
}

// Batch stacks [C, H, W] images into a [B, C, maxH, maxW] tensor. Each
// image sits in the top-left corner and the rest is zero, which the model
// reads as padding. Zero maxH or maxW uses the largest image extent.
func Batch(images []*tensor.Tensor, maxH, maxW int) (*tensor.Tensor, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrInvalidSize)
	}
	c := images[0].Dim(0)
	fitH, fitW := maxH == 0, maxW == 0
	for i, img := range images {
		if img.Dims() != 3 || img.Dim(0) != c {
			return nil, fmt.Errorf("%w: image %d has shape %v, want [%d, H, W]", ErrInvalidSize, i, img.Shape(), c)
		}
		if fitH {
			maxH = max(maxH, img.Dim(1))
		}
		if fitW {
			maxW = max(maxW, img.Dim(2))
		}
		if img.Dim(1) > maxH || img.Dim(2) > maxW {
			return nil, fmt.Errorf("%w: image %d is %dx%d, batch is %dx%d", ErrInvalidSize, i, img.Dim(2), img.Dim(1), maxW, maxH)
		}
	}

	out := tensor.Zeros(len(images), c, maxH, maxW)
	dst := out.Data()
	for b, img := range images {
		h, w := img.Dim(1), img.Dim(2)
		src := img.Data()
		for ch := range c {
			for y := range h {
				d := ((b*c+ch)*maxH + y) * maxW
				s := (ch*h + y) * w
				copy(dst[d:d+w], src[s:s+w])
			}
		}
	}
	return out, nil
}

// Unnormalize maps a normalized [..., C, H, W] tensor back to pixel scale
// in place: x*std + mean per channel.
func Unnormalize(t *tensor.Tensor, mean, std [3]float32) *tensor.Tensor {
	if t.Dims() < 3 || t.Dim(-3) > 3 {
		panic(fmt.Sprintf("imageproc.Unnormalize: shape %v has no channel axis of at most 3", t.Shape()))
	}
	c, plane := t.Dim(-3), t.Dim(-2)*t.Dim(-1)
	data := t.Data()
	for i := range data {
		ch := (i / plane) % c
		data[i] = data[i]*std[ch] + mean[ch]
	}
	return t
}
