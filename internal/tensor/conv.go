package tensor

import (
	"fmt"
	"math"

	"github.com/born-ml/perceiver/internal/parallel"
)

// ConvOutputSize returns the output length of a convolution or pooling
// window. ceil selects PyTorch's ceil_mode rule, which drops a last window
// that would start entirely inside the right padding.
func ConvOutputSize(in, kernel, stride, pad int, ceil bool) int {
	span := in + 2*pad - kernel
	if span < 0 {
		return 0
	}
	if !ceil {
		return span/stride + 1
	}
	out := (span+stride-1)/stride + 1
	if (out-1)*stride >= in+pad {
		out--
	}
	return out
}

// SamePadding returns the TensorFlow "SAME" padding (before, after) for one
// spatial axis.
func SamePadding(in, kernel, stride, dilation int) (int, int) {
	out := (in + stride - 1) / stride
	total := max((out-1)*stride+(kernel-1)*dilation+1-in, 0)
	return total / 2, total - total/2
}

// PadSame pads x [B, C, H, W] so a stride-s convolution with kernel k keeps
// ceil(H/s) x ceil(W/s) outputs.
func PadSame(x *Tensor, kernel, stride int, value float32) *Tensor {
	h, w := x.shape[2], x.shape[3]
	top, bottom := SamePadding(h, kernel, stride, 1)
	left, right := SamePadding(w, kernel, stride, 1)
	if top+bottom+left+right == 0 {
		return x
	}
	return Pad2D(x, top, bottom, left, right, value)
}

// Conv2D computes a grouped 2D cross-correlation with im2col and GEMM.
//
// Shapes:
//   - x: [B, C, H, W]
//   - weight: [O, C/groups, KH, KW]
//   - bias: [O] or nil
//
// Returns [B, O, OH, OW] with OH = (H + 2*padding - KH)/stride + 1.
func Conv2D(x, weight, bias *Tensor, stride, padding, groups int) *Tensor {
	if len(x.shape) != 4 || len(weight.shape) != 4 {
		panic(fmt.Sprintf("Conv2D: expected 4D input and weight, got %v and %v", x.shape, weight.shape))
	}
	b, c, h, w := x.shape[0], x.shape[1], x.shape[2], x.shape[3]
	o, cg, kh, kw := weight.shape[0], weight.shape[1], weight.shape[2], weight.shape[3]
	if groups < 1 || c%groups != 0 || o%groups != 0 || c/groups != cg {
		panic(fmt.Sprintf("Conv2D: input %v incompatible with weight %v and %d groups", x.shape, weight.shape, groups))
	}
	oh := ConvOutputSize(h, kh, stride, padding, false)
	ow := ConvOutputSize(w, kw, stride, padding, false)
	if oh <= 0 || ow <= 0 {
		panic(fmt.Sprintf("Conv2D: input %v too small for kernel %dx%d", x.shape, kh, kw))
	}
	og := o / groups
	k := cg * kh * kw
	cols := oh * ow
	out := Zeros(b, o, oh, ow)

	parallel.ForBatch(b, groups, func(bi, g int) {
		col := make([]float32, k*cols)
		im2col(x.data[(bi*c+g*cg)*h*w:], cg, h, w, kh, kw, stride, padding, oh, ow, col)
		wg := weight.data[g*og*k : (g+1)*og*k]
		dst := out.data[(bi*o+g*og)*cols : (bi*o+(g+1)*og)*cols]
		gemm(wg, og, k, col, cols, false, dst)
		if bias != nil {
			for oc := range og {
				bv := bias.data[g*og+oc]
				seg := dst[oc*cols : (oc+1)*cols]
				for i := range seg {
					seg[i] += bv
				}
			}
		}
	}, parallel.DefaultConfig())
	return out
}

// im2col unrolls zero-padded sliding windows of a [C, H, W] image into a
// [C*KH*KW, OH*OW] matrix.
func im2col(img []float32, c, h, w, kh, kw, stride, pad, oh, ow int, col []float32) {
	cols := oh * ow
	for ch := range c {
		plane := img[ch*h*w : (ch+1)*h*w]
		for ky := range kh {
			for kx := range kw {
				row := col[((ch*kh+ky)*kw+kx)*cols:]
				for y := range oh {
					iy := y*stride - pad + ky
					if iy < 0 || iy >= h {
						for x := range ow {
							row[y*ow+x] = 0
						}
						continue
					}
					for x := range ow {
						ix := x*stride - pad + kx
						if ix < 0 || ix >= w {
							row[y*ow+x] = 0
						} else {
							row[y*ow+x] = plane[iy*w+ix]
						}
					}
				}
			}
		}
	}
}

// MaxPool2D applies max pooling over x [B, C, H, W]. Padded positions never
// win the max.
func MaxPool2D(x *Tensor, kernel, stride, padding int, ceil bool) *Tensor {
	b, c, h, w := x.shape[0], x.shape[1], x.shape[2], x.shape[3]
	oh := ConvOutputSize(h, kernel, stride, padding, ceil)
	ow := ConvOutputSize(w, kernel, stride, padding, ceil)
	out := Zeros(b, c, oh, ow)
	parallel.For(b*c, func(p int) {
		src := x.data[p*h*w : (p+1)*h*w]
		dst := out.data[p*oh*ow : (p+1)*oh*ow]
		for y := range oh {
			y0 := y*stride - padding
			for xo := range ow {
				x0 := xo*stride - padding
				m := float32(math.Inf(-1))
				for ky := max(y0, 0); ky < min(y0+kernel, h); ky++ {
					for kx := max(x0, 0); kx < min(x0+kernel, w); kx++ {
						if v := src[ky*w+kx]; v > m {
							m = v
						}
					}
				}
				dst[y*ow+xo] = m
			}
		}
	}, parallel.DefaultConfig())
	return out
}

// AvgPool2D applies average pooling over x [B, C, H, W]. With
// countIncludePad false the divisor counts only input positions.
func AvgPool2D(x *Tensor, kernel, stride, padding int, ceil, countIncludePad bool) *Tensor {
	b, c, h, w := x.shape[0], x.shape[1], x.shape[2], x.shape[3]
	oh := ConvOutputSize(h, kernel, stride, padding, ceil)
	ow := ConvOutputSize(w, kernel, stride, padding, ceil)
	out := Zeros(b, c, oh, ow)
	parallel.For(b*c, func(p int) {
		src := x.data[p*h*w : (p+1)*h*w]
		dst := out.data[p*oh*ow : (p+1)*oh*ow]
		for y := range oh {
			y0 := y*stride - padding
			y1 := min(y0+kernel, h+padding)
			for xo := range ow {
				x0 := xo*stride - padding
				x1 := min(x0+kernel, w+padding)
				var sum float32
				n := 0
				for ky := max(y0, 0); ky < min(y1, h); ky++ {
					for kx := max(x0, 0); kx < min(x1, w); kx++ {
						sum += src[ky*w+kx]
						n++
					}
				}
				if countIncludePad {
					n = (y1 - y0) * (x1 - x0)
				}
				if n > 0 {
					dst[y*ow+xo] = sum / float32(n)
				}
			}
		}
	}, parallel.DefaultConfig())
	return out
}
