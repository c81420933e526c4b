package tensor

import (
	"fmt"
	"math"

	"github.com/born-ml/perceiver/internal/parallel"
)

// Softmax applies a numerically stable softmax over the last axis.
// Entries equal to -Inf get zero weight; a row that is entirely -Inf
// yields all zeros instead of NaN.
func Softmax(t *Tensor) *Tensor {
	out := t.Clone()
	SoftmaxInPlace(out)
	return out
}

// SoftmaxInPlace is Softmax without the copy.
func SoftmaxInPlace(t *Tensor) {
	n := t.shape[len(t.shape)-1]
	rows := len(t.data) / max(n, 1)
	parallel.For(rows, func(r int) {
		row := t.data[r*n : (r+1)*n]
		maxV := float32(math.Inf(-1))
		for _, v := range row {
			if v > maxV {
				maxV = v
			}
		}
		if math.IsInf(float64(maxV), -1) {
			for i := range row {
				row[i] = 0
			}
			return
		}
		var sum float64
		for i, v := range row {
			e := math.Exp(float64(v - maxV))
			row[i] = float32(e)
			sum += e
		}
		inv := float32(1 / sum)
		for i := range row {
			row[i] *= inv
		}
	}, parallel.DefaultConfig())
}

// LayerNorm normalizes over the last axis and applies the affine weight and
// bias (either may be nil).
func LayerNorm(x, weight, bias *Tensor, eps float64) *Tensor {
	d := x.shape[len(x.shape)-1]
	if weight != nil && weight.Len() != d {
		panic(fmt.Sprintf("LayerNorm: weight has %d elements, input ends in %d", weight.Len(), d))
	}
	out := x.Clone()
	rows := len(out.data) / d
	parallel.For(rows, func(r int) {
		row := out.data[r*d : (r+1)*d]
		var mean float64
		for _, v := range row {
			mean += float64(v)
		}
		mean /= float64(d)
		var variance float64
		for _, v := range row {
			dv := float64(v) - mean
			variance += dv * dv
		}
		variance /= float64(d)
		inv := 1 / math.Sqrt(variance+eps)
		for i, v := range row {
			y := float32((float64(v) - mean) * inv)
			if weight != nil {
				y *= weight.data[i]
			}
			if bias != nil {
				y += bias.data[i]
			}
			row[i] = y
		}
	}, parallel.DefaultConfig())
	return out
}

// GroupNorm normalizes x [B, C, ...] over groups of C/groups channels.
func GroupNorm(x *Tensor, groups int, weight, bias *Tensor, eps float64) *Tensor {
	if len(x.shape) < 2 || x.shape[1]%groups != 0 {
		panic(fmt.Sprintf("GroupNorm: %d groups do not divide input %v", groups, x.shape))
	}
	b, c := x.shape[0], x.shape[1]
	spatial := x.shape[2:].NumElements()
	cpg := c / groups
	out := x.Clone()
	parallel.For(b*groups, func(k int) {
		bi, g := k/groups, k%groups
		start := (bi*c + g*cpg) * spatial
		seg := out.data[start : start+cpg*spatial]
		var mean float64
		for _, v := range seg {
			mean += float64(v)
		}
		mean /= float64(len(seg))
		var variance float64
		for _, v := range seg {
			dv := float64(v) - mean
			variance += dv * dv
		}
		variance /= float64(len(seg))
		inv := 1 / math.Sqrt(variance+eps)
		for ci := range cpg {
			ch := g*cpg + ci
			for s := range spatial {
				i := ci*spatial + s
				y := float32((float64(seg[i]) - mean) * inv)
				if weight != nil {
					y *= weight.data[ch]
				}
				if bias != nil {
					y += bias.data[ch]
				}
				seg[i] = y
			}
		}
	}, parallel.DefaultConfig())
	return out
}

// BatchNorm applies inference-mode batch normalization to x [B, C, ...]
// using running statistics.
func BatchNorm(x, runningMean, runningVar, weight, bias *Tensor, eps float64) *Tensor {
	b, c := x.shape[0], x.shape[1]
	spatial := x.shape[2:].NumElements()
	out := x.Clone()
	parallel.ForBatch(b, c, func(bi, ch int) {
		scale := float32(1 / math.Sqrt(float64(runningVar.data[ch])+eps))
		shift := -runningMean.data[ch] * scale
		if weight != nil {
			scale *= weight.data[ch]
			shift *= weight.data[ch]
		}
		if bias != nil {
			shift += bias.data[ch]
		}
		seg := out.data[(bi*c+ch)*spatial : (bi*c+ch+1)*spatial]
		for i, v := range seg {
			seg[i] = v*scale + shift
		}
	}, parallel.DefaultConfig())
	return out
}

// GELUInPlace applies the exact (erf) GELU.
func GELUInPlace(t *Tensor) {
	for i, v := range t.data {
		x := float64(v)
		t.data[i] = float32(0.5 * x * (1 + math.Erf(x/math.Sqrt2)))
	}
}

// ReLUInPlace applies max(0, x).
func ReLUInPlace(t *Tensor) {
	for i, v := range t.data {
		if v < 0 {
			t.data[i] = 0
		}
	}
}

// TanhInPlace applies tanh.
func TanhInPlace(t *Tensor) {
	for i, v := range t.data {
		t.data[i] = float32(math.Tanh(float64(v)))
	}
}

// StandardizeWeight returns w [O, ...] with each output filter shifted to
// zero mean and scaled to unit variance (weight standardization).
func StandardizeWeight(w *Tensor, eps float64) *Tensor {
	o := w.shape[0]
	n := len(w.data) / o
	out := w.Clone()
	for f := range o {
		seg := out.data[f*n : (f+1)*n]
		var mean float64
		for _, v := range seg {
			mean += float64(v)
		}
		mean /= float64(n)
		var variance float64
		for _, v := range seg {
			dv := float64(v) - mean
			variance += dv * dv
		}
		variance /= float64(n)
		inv := 1 / math.Sqrt(variance+eps)
		for i, v := range seg {
			seg[i] = float32((float64(v) - mean) * inv)
		}
	}
	return out
}
