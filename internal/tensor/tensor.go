// Package tensor provides a dense row-major float32 tensor and the CPU
// kernels used by the vision transformer: matrix multiplication through
// gonum BLAS, convolution, pooling, normalization and resampling.
package tensor

import (
	"fmt"
	"math"
	"strings"
)

// Tensor is a dense, contiguous, row-major float32 array.
//
// Reshape returns a view that shares storage; every other operation
// allocates a new tensor unless its name ends in InPlace.
type Tensor struct {
	shape Shape
	data  []float32
}

// New wraps data with the given shape. It panics if the sizes disagree.
func New(shape Shape, data []float32) *Tensor {
	if shape.NumElements() != len(data) {
		panic(fmt.Sprintf("tensor.New: shape %v needs %d elements, got %d", shape, shape.NumElements(), len(data)))
	}
	return &Tensor{shape: shape.Clone(), data: data}
}

// FromSlice copies data into a new tensor. One dimension may be -1.
func FromSlice(data []float32, dims ...int) (*Tensor, error) {
	shape, err := Shape(dims).Resolve(len(data))
	if err != nil {
		return nil, err
	}
	buf := make([]float32, len(data))
	copy(buf, data)
	return &Tensor{shape: shape, data: buf}, nil
}

// Zeros creates a zero-filled tensor.
func Zeros(dims ...int) *Tensor {
	shape := Shape(dims).Clone()
	return &Tensor{shape: shape, data: make([]float32, shape.NumElements())}
}

// Full creates a tensor filled with v.
func Full(v float32, dims ...int) *Tensor {
	t := Zeros(dims...)
	for i := range t.data {
		t.data[i] = v
	}
	return t
}

// Ones creates a tensor filled with ones.
func Ones(dims ...int) *Tensor {
	return Full(1, dims...)
}

// Arange returns [0, 1, ..., n-1] as a 1D tensor.
func Arange(n int) *Tensor {
	t := Zeros(n)
	for i := range t.data {
		t.data[i] = float32(i)
	}
	return t
}

// Shape returns a copy of the tensor's shape.
func (t *Tensor) Shape() Shape { return t.shape.Clone() }

// Dims returns the tensor rank.
func (t *Tensor) Dims() int { return len(t.shape) }

// Dim returns the size of axis i. Negative axes count from the end.
func (t *Tensor) Dim(i int) int { return t.shape[normAxis(i, len(t.shape))] }

// Data returns the backing slice. Mutations are visible to every view.
func (t *Tensor) Data() []float32 { return t.data }

// Len returns the number of elements.
func (t *Tensor) Len() int { return len(t.data) }

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	buf := make([]float32, len(t.data))
	copy(buf, t.data)
	return &Tensor{shape: t.shape.Clone(), data: buf}
}

// Reshape returns a view with a new shape. One dimension may be -1.
func (t *Tensor) Reshape(dims ...int) *Tensor {
	shape, err := Shape(dims).Resolve(len(t.data))
	if err != nil {
		panic(fmt.Sprintf("Tensor.Reshape: %v", err))
	}
	return &Tensor{shape: shape, data: t.data}
}

func (t *Tensor) offset(idx []int) int {
	if len(idx) != len(t.shape) {
		panic(fmt.Sprintf("tensor index %v has rank %d, tensor rank is %d", idx, len(idx), len(t.shape)))
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= t.shape[i] {
			panic(fmt.Sprintf("tensor index %v out of range for shape %v", idx, t.shape))
		}
		off = off*t.shape[i] + v
	}
	return off
}

// At returns the element at idx.
func (t *Tensor) At(idx ...int) float32 { return t.data[t.offset(idx)] }

// Set stores v at idx.
func (t *Tensor) Set(v float32, idx ...int) { t.data[t.offset(idx)] = v }

// Fill sets every element to v.
func (t *Tensor) Fill(v float32) {
	for i := range t.data {
		t.data[i] = v
	}
}

// CopyFrom copies src's elements into t. Shapes must have the same size.
func (t *Tensor) CopyFrom(src *Tensor) {
	if len(src.data) != len(t.data) {
		panic(fmt.Sprintf("Tensor.CopyFrom: size mismatch %v vs %v", t.shape, src.shape))
	}
	copy(t.data, src.data)
}

// AllClose reports whether a and b have equal shapes and elementwise
// |a-b| <= atol + rtol*|b|.
func AllClose(a, b *Tensor, rtol, atol float64) bool {
	if !a.shape.Equal(b.shape) {
		return false
	}
	for i := range a.data {
		x, y := float64(a.data[i]), float64(b.data[i])
		if math.IsInf(x, 0) || math.IsInf(y, 0) {
			if x != y {
				return false
			}
			continue
		}
		if math.Abs(x-y) > atol+rtol*math.Abs(y) {
			return false
		}
	}
	return true
}

// String renders small tensors fully and large ones as a summary.
func (t *Tensor) String() string {
	if len(t.data) > 32 {
		return fmt.Sprintf("Tensor(shape=%v)", t.shape)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Tensor(shape=%v, data=%v)", t.shape, t.data)
	return sb.String()
}
