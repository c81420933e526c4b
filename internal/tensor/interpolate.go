package tensor

import (
	"fmt"

	"github.com/born-ml/perceiver/internal/parallel"
)

// sourceIndex maps output coordinate dst to a fractional input coordinate,
// following torch.nn.functional.interpolate for mode="bilinear".
func sourceIndex(dst, in, out int, alignCorners bool) float64 {
	if alignCorners {
		if out <= 1 {
			return 0
		}
		return float64(dst) * float64(in-1) / float64(out-1)
	}
	src := (float64(dst)+0.5)*float64(in)/float64(out) - 0.5
	if src < 0 {
		src = 0
	}
	return src
}

type lerp struct {
	i0, i1 int
	w1     float32
}

func lerpTable(in, out int, alignCorners bool) []lerp {
	tab := make([]lerp, out)
	for d := range out {
		src := sourceIndex(d, in, out, alignCorners)
		i0 := min(int(src), in-1)
		i1 := min(i0+1, in-1)
		tab[d] = lerp{i0: i0, i1: i1, w1: float32(src - float64(i0))}
	}
	return tab
}

// Bilinear resizes the last two axes of x [..., H, W] to (outH, outW).
// alignCorners selects the corner-pixel alignment of PyTorch's
// interpolate(mode="bilinear").
func Bilinear(x *Tensor, outH, outW int, alignCorners bool) *Tensor {
	rank := len(x.shape)
	if rank < 2 || outH <= 0 || outW <= 0 {
		panic(fmt.Sprintf("Bilinear: cannot resize %v to %dx%d", x.shape, outH, outW))
	}
	h, w := x.shape[rank-2], x.shape[rank-1]
	outShape := x.shape.Clone()
	outShape[rank-2], outShape[rank-1] = outH, outW
	out := Zeros(outShape...)
	if h == outH && w == outW {
		copy(out.data, x.data)
		return out
	}
	ys := lerpTable(h, outH, alignCorners)
	xs := lerpTable(w, outW, alignCorners)
	planes := x.shape[:rank-2].NumElements()
	parallel.For(planes, func(p int) {
		src := x.data[p*h*w : (p+1)*h*w]
		dst := out.data[p*outH*outW : (p+1)*outH*outW]
		for oy, ly := range ys {
			r0, r1 := src[ly.i0*w:], src[ly.i1*w:]
			for ox, lx := range xs {
				top := r0[lx.i0]*(1-lx.w1) + r0[lx.i1]*lx.w1
				bot := r1[lx.i0]*(1-lx.w1) + r1[lx.i1]*lx.w1
				dst[oy*outW+ox] = top*(1-ly.w1) + bot*ly.w1
			}
		}
	}, parallel.DefaultConfig())
	return out
}

// Nearest resizes the last two axes of x with PyTorch's legacy "nearest"
// rule: src = floor(dst * in / out).
func Nearest(x *Tensor, outH, outW int) *Tensor {
	rank := len(x.shape)
	h, w := x.shape[rank-2], x.shape[rank-1]
	outShape := x.shape.Clone()
	outShape[rank-2], outShape[rank-1] = outH, outW
	out := Zeros(outShape...)
	planes := x.shape[:rank-2].NumElements()
	for p := range planes {
		src := x.data[p*h*w : (p+1)*h*w]
		dst := out.data[p*outH*outW : (p+1)*outH*outW]
		for oy := range outH {
			iy := min(oy*h/outH, h-1)
			for ox := range outW {
				ix := min(ox*w/outW, w-1)
				dst[oy*outW+ox] = src[iy*w+ix]
			}
		}
	}
	return out
}
