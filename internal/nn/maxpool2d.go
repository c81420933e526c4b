package nn

import (
	"math"

	"github.com/born-ml/perceiver/internal/tensor"
)

// MaxPool2d applies max pooling over [B, C, H, W].
//
// With Same set, the input is padded TensorFlow-style with -Inf before
// pooling (timm's MaxPool2dSame) and Padding is ignored.
type MaxPool2d struct {
	Kernel  int
	Stride  int
	Padding int
	Same    bool
}

// Forward applies max pooling.
func (p MaxPool2d) Forward(x *tensor.Tensor) *tensor.Tensor {
	if p.Same {
		x = tensor.PadSame(x, p.Kernel, p.Stride, float32(math.Inf(-1)))
		return tensor.MaxPool2D(x, p.Kernel, p.Stride, 0, false)
	}
	return tensor.MaxPool2D(x, p.Kernel, p.Stride, p.Padding, false)
}

// AvgPool2d applies average pooling over [B, C, H, W].
type AvgPool2d struct {
	Kernel          int
	Stride          int
	Padding         int
	CeilMode        bool
	CountIncludePad bool
}

// Forward applies average pooling.
func (p AvgPool2d) Forward(x *tensor.Tensor) *tensor.Tensor {
	return tensor.AvgPool2D(x, p.Kernel, p.Stride, p.Padding, p.CeilMode, p.CountIncludePad)
}
