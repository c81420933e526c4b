package checkpoint

import (
	"fmt"
	"log/slog"
	"math"

	dense "github.com/pdevine/tensor"
	"github.com/pdevine/tensor/native"

	"github.com/born-ml/perceiver/internal/tensor"
)

// toDense copies data laid out as dims into a dense tensor.
func toDense(data []float32, dims ...int) *dense.Dense {
	return dense.New(dense.WithShape(dims...), dense.WithBacking(append([]float32(nil), data...)))
}

// vector returns the elements of t in row-major order.
func vector(t dense.Tensor) ([]float32, error) {
	t = dense.Materialize(t)
	if err := t.Reshape(t.Shape().TotalSize()); err != nil {
		return nil, err
	}
	d, ok := t.(*dense.Dense)
	if !ok {
		return nil, fmt.Errorf("unexpected tensor type %T", t)
	}
	return native.VectorF32(d)
}

// permute transposes data laid out as dims by axes and returns the
// contiguous result.
func permute(data []float32, dims []int, axes ...int) ([]float32, error) {
	t := toDense(data, dims...)
	if err := t.T(axes...); err != nil {
		return nil, err
	}
	return vector(t)
}

// ResizePosEmbed resamples a position embedding [1, prefix + gs², D] to
// newTokens = prefix + gs'² entries. The prefix rows are kept and the grid
// is bilinearly interpolated (align_corners=false).
func ResizePosEmbed(posemb *tensor.Tensor, newTokens, prefix int) (*tensor.Tensor, error) {
	if posemb.Dims() != 3 || posemb.Dim(0) != 1 {
		return nil, fmt.Errorf("%w: position embedding %v, want [1, N, D]", ErrShapeMismatch, posemb.Shape())
	}
	n, d := posemb.Dim(1), posemb.Dim(2)
	gsOld := int(math.Sqrt(float64(n - prefix)))
	gsNew := int(math.Sqrt(float64(newTokens - prefix)))
	if n <= prefix || gsOld*gsOld != n-prefix {
		return nil, fmt.Errorf("%w: %d grid tokens do not form a square", ErrShapeMismatch, n-prefix)
	}
	if newTokens <= prefix || gsNew*gsNew != newTokens-prefix {
		return nil, fmt.Errorf("%w: cannot resize to %d tokens with %d prefix tokens", ErrShapeMismatch, newTokens, prefix)
	}
	slog.Info("resized position embedding", "from", posemb.Shape(), "to", tensor.Shape{1, newTokens, d}, "grid_from", gsOld, "grid_to", gsNew)

	tok := tensor.Slice(posemb, 1, 0, prefix)
	grid := tensor.Slice(posemb, 1, prefix, n)

	chw, err := permute(grid.Data(), []int{gsOld, gsOld, d}, 2, 0, 1)
	if err != nil {
		return nil, err
	}
	resized := tensor.Bilinear(tensor.New(tensor.Shape{d, gsOld, gsOld}, chw), gsNew, gsNew, false)
	hwc, err := permute(resized.Data(), []int{d, gsNew, gsNew}, 1, 2, 0)
	if err != nil {
		return nil, err
	}
	return tensor.Cat(1, tok, tensor.New(tensor.Shape{1, gsNew * gsNew, d}, hwc)), nil
}

// AdaptInputConv converts a first-layer convolution weight [O, I, kh, kw]
// to inChans input channels. One channel sums the pretrained ones; more
// channels tile them and rescale so activations keep their magnitude.
func AdaptInputConv(w *tensor.Tensor, inChans int) (*tensor.Tensor, error) {
	if w.Dims() != 4 {
		return nil, fmt.Errorf("%w: conv weight %v, want 4 dims", ErrShapeMismatch, w.Shape())
	}
	o, in, kh, kw := w.Dim(0), w.Dim(1), w.Dim(2), w.Dim(3)
	if in == inChans {
		return w, nil
	}
	plane := kh * kw
	src := toDense(w.Data(), o, in, plane)
	var out dense.Tensor
	switch {
	case inChans == 1:
		sum, err := src.Sum(1)
		if err != nil {
			return nil, err
		}
		out = sum
	case in == 3:
		tiled := src
		if reps := (inChans + in - 1) / in; reps > 1 {
			others := make([]*dense.Dense, reps-1)
			for i := range others {
				others[i] = src
			}
			var err error
			if tiled, err = src.Concat(1, others...); err != nil {
				return nil, err
			}
		}
		v, err := tiled.Slice(nil, dense.S(0, inChans), nil)
		if err != nil {
			return nil, err
		}
		scaled, err := dense.Materialize(v).(*dense.Dense).MulScalar(float32(3)/float32(inChans), true)
		if err != nil {
			return nil, err
		}
		out = scaled
	default:
		return nil, fmt.Errorf("%w: cannot adapt %d input channels to %d", ErrShapeMismatch, in, inChans)
	}
	data, err := vector(out)
	if err != nil {
		return nil, err
	}
	return tensor.New(tensor.Shape{o, inChans, kh, kw}, data), nil
}
