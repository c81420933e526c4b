package tensor

import (
	"fmt"

	"github.com/born-ml/perceiver/internal/parallel"
)

// trailingBroadcast returns how many times b tiles over a when b's shape is
// a suffix of a's shape (leading ones in b are ignored).
func trailingBroadcast(a, b Shape, op string) int {
	bs := b
	for len(bs) > 0 && bs[0] == 1 && !suffixEqual(a, bs) {
		bs = bs[1:]
	}
	if !suffixEqual(a, bs) {
		panic(fmt.Sprintf("%s: shape %v does not broadcast onto %v", op, b, a))
	}
	n := bs.NumElements()
	if n == 0 {
		return 0
	}
	return a.NumElements() / n
}

func suffixEqual(a, suffix Shape) bool {
	if len(suffix) > len(a) {
		return false
	}
	return a[len(a)-len(suffix):].Equal(suffix)
}

// Add returns a + b, where b's shape equals a's or is a suffix of it.
func Add(a, b *Tensor) *Tensor {
	out := a.Clone()
	AddInPlace(out, b)
	return out
}

// AddInPlace computes a += b with trailing-dimension broadcasting.
func AddInPlace(a, b *Tensor) {
	reps := trailingBroadcast(a.shape, b.shape, "AddInPlace")
	n := len(b.data)
	for r := range reps {
		dst := a.data[r*n : (r+1)*n]
		for i, v := range b.data {
			dst[i] += v
		}
	}
}

// MulInPlace computes a *= b with trailing-dimension broadcasting.
func MulInPlace(a, b *Tensor) {
	reps := trailingBroadcast(a.shape, b.shape, "MulInPlace")
	n := len(b.data)
	for r := range reps {
		dst := a.data[r*n : (r+1)*n]
		for i, v := range b.data {
			dst[i] *= v
		}
	}
}

// Scale returns t * s.
func Scale(t *Tensor, s float32) *Tensor {
	out := t.Clone()
	ScaleInPlace(out, s)
	return out
}

// ScaleInPlace computes t *= s.
func ScaleInPlace(t *Tensor, s float32) {
	for i := range t.data {
		t.data[i] *= s
	}
}

// Permute reorders the axes of t. Permute(t, 0, 2, 1) swaps the last two
// axes of a rank-3 tensor.
func Permute(t *Tensor, axes ...int) *Tensor {
	rank := len(t.shape)
	if len(axes) != rank {
		panic(fmt.Sprintf("Permute: got %d axes for rank %d", len(axes), rank))
	}
	seen := make([]bool, rank)
	outShape := make(Shape, rank)
	axes = append([]int(nil), axes...)
	for i, ax := range axes {
		ax = normAxis(ax, rank)
		if seen[ax] {
			panic(fmt.Sprintf("Permute: repeated axis %d", ax))
		}
		seen[ax] = true
		axes[i] = ax
		outShape[i] = t.shape[ax]
	}

	inStrides := t.shape.ComputeStrides()
	out := Zeros(outShape...)
	if len(out.data) == 0 {
		return out
	}
	// Walk the output in order, carrying the matching input offset.
	idx := make([]int, rank)
	src := 0
	for o := range out.data {
		out.data[o] = t.data[src]
		for d := rank - 1; d >= 0; d-- {
			idx[d]++
			src += inStrides[axes[d]]
			if idx[d] < outShape[d] {
				break
			}
			src -= inStrides[axes[d]] * outShape[d]
			idx[d] = 0
		}
	}
	return out
}

// Cat concatenates tensors along axis. All other dimensions must match.
func Cat(axis int, ts ...*Tensor) *Tensor {
	if len(ts) == 0 {
		panic("Cat: no tensors")
	}
	rank := len(ts[0].shape)
	axis = normAxis(axis, rank)
	outShape := ts[0].shape.Clone()
	outShape[axis] = 0
	for _, t := range ts {
		if len(t.shape) != rank {
			panic(fmt.Sprintf("Cat: rank mismatch %v vs %v", ts[0].shape, t.shape))
		}
		for d := range rank {
			if d != axis && t.shape[d] != ts[0].shape[d] {
				panic(fmt.Sprintf("Cat: shape mismatch %v vs %v on axis %d", ts[0].shape, t.shape, d))
			}
		}
		outShape[axis] += t.shape[axis]
	}

	outer := ts[0].shape[:axis].NumElements()
	inner := ts[0].shape[axis+1:].NumElements()
	out := Zeros(outShape...)
	pos := 0
	for o := range outer {
		for _, t := range ts {
			n := t.shape[axis] * inner
			copy(out.data[pos:pos+n], t.data[o*n:(o+1)*n])
			pos += n
		}
	}
	return out
}

// Slice returns the sub-tensor with indices [start, end) along axis.
func Slice(t *Tensor, axis, start, end int) *Tensor {
	axis = normAxis(axis, len(t.shape))
	if start < 0 || end > t.shape[axis] || start > end {
		panic(fmt.Sprintf("Slice: range [%d, %d) out of bounds for axis %d of %v", start, end, axis, t.shape))
	}
	outShape := t.shape.Clone()
	outShape[axis] = end - start
	outer := t.shape[:axis].NumElements()
	inner := t.shape[axis+1:].NumElements()
	out := Zeros(outShape...)
	n := (end - start) * inner
	for o := range outer {
		src := (o*t.shape[axis] + start) * inner
		copy(out.data[o*n:(o+1)*n], t.data[src:src+n])
	}
	return out
}

// Select returns index i of axis 0 as a view.
func (t *Tensor) Select(i int) *Tensor {
	if len(t.shape) == 0 || i < 0 || i >= t.shape[0] {
		panic(fmt.Sprintf("Select: index %d out of range for %v", i, t.shape))
	}
	inner := t.shape[1:].NumElements()
	return &Tensor{shape: t.shape[1:].Clone(), data: t.data[i*inner : (i+1)*inner]}
}

// Stack joins same-shaped tensors along a new leading axis.
func Stack(ts ...*Tensor) *Tensor {
	if len(ts) == 0 {
		panic("Stack: no tensors")
	}
	shape := append(Shape{len(ts)}, ts[0].shape...)
	out := Zeros(shape...)
	n := len(ts[0].data)
	for i, t := range ts {
		if !t.shape.Equal(ts[0].shape) {
			panic(fmt.Sprintf("Stack: shape mismatch %v vs %v", ts[0].shape, t.shape))
		}
		copy(out.data[i*n:(i+1)*n], t.data)
	}
	return out
}

// Pad2D pads the last two axes of t with value. Padding is given as
// (top, bottom, left, right) and may be zero on any side.
func Pad2D(t *Tensor, top, bottom, left, right int, value float32) *Tensor {
	rank := len(t.shape)
	if rank < 2 {
		panic(fmt.Sprintf("Pad2D: need at least 2 dims, got %v", t.shape))
	}
	h, w := t.shape[rank-2], t.shape[rank-1]
	oh, ow := h+top+bottom, w+left+right
	outShape := t.shape.Clone()
	outShape[rank-2], outShape[rank-1] = oh, ow
	out := Full(value, outShape...)
	planes := t.shape[:rank-2].NumElements()
	parallel.For(planes, func(p int) {
		for y := range h {
			src := t.data[p*h*w+y*w : p*h*w+(y+1)*w]
			dst := out.data[p*oh*ow+(y+top)*ow+left:]
			copy(dst[:w], src)
		}
	}, parallel.DefaultConfig())
	return out
}

// RepeatInterleave tiles each slice along axis n times consecutively
// (torch.repeat_interleave with a scalar count).
func RepeatInterleave(t *Tensor, axis, n int) *Tensor {
	axis = normAxis(axis, len(t.shape))
	outShape := t.shape.Clone()
	outShape[axis] *= n
	outer := t.shape[:axis+1].NumElements()
	inner := t.shape[axis+1:].NumElements()
	out := Zeros(outShape...)
	for o := range outer {
		src := t.data[o*inner : (o+1)*inner]
		for r := range n {
			copy(out.data[(o*n+r)*inner:], src)
		}
	}
	return out
}

// GatherRows gathers rows from a [B, N, C] tensor: out[b, i] = t[b, idx[b][i]].
// Every idx[b] must have the same length.
func GatherRows(t *Tensor, idx [][]int) *Tensor {
	if len(t.shape) != 3 {
		panic(fmt.Sprintf("GatherRows: expected [B, N, C], got %v", t.shape))
	}
	b, n, c := t.shape[0], t.shape[1], t.shape[2]
	if len(idx) != b {
		panic(fmt.Sprintf("GatherRows: %d index rows for batch %d", len(idx), b))
	}
	k := 0
	if b > 0 {
		k = len(idx[0])
	}
	out := Zeros(b, k, c)
	for bi, row := range idx {
		if len(row) != k {
			panic("GatherRows: ragged index rows")
		}
		for i, j := range row {
			if j < 0 || j >= n {
				panic(fmt.Sprintf("GatherRows: index %d out of range [0, %d)", j, n))
			}
			copy(out.data[(bi*k+i)*c:(bi*k+i+1)*c], t.data[(bi*n+j)*c:(bi*n+j+1)*c])
		}
	}
	return out
}

// MeanAxis0 averages over the leading axis of t.
func MeanAxis0(t *Tensor) *Tensor {
	n := t.shape[0]
	inner := t.shape[1:].NumElements()
	out := Zeros(t.shape[1:]...)
	for i := range n {
		for j, v := range t.data[i*inner : (i+1)*inner] {
			out.data[j] += v
		}
	}
	ScaleInPlace(out, 1/float32(n))
	return out
}

// Mean returns the mean of all elements.
func (t *Tensor) Mean() float32 {
	if len(t.data) == 0 {
		return 0
	}
	var s float64
	for _, v := range t.data {
		s += float64(v)
	}
	return float32(s / float64(len(t.data)))
}
