// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"github.com/born-ml/perceiver/internal/tensor"
)

// Tensor is a dense, row-major float32 tensor.
type Tensor = tensor.Tensor

// Shape represents the dimensions of a tensor.
// Example: Shape{2, 3, 4} represents a 3D tensor with dimensions 2×3×4.
type Shape = tensor.Shape

// DataType is the element type a checkpoint stores a tensor in.
type DataType = tensor.DataType

// Data type constants.
const (
	Float32  DataType = tensor.Float32
	Float16  DataType = tensor.Float16
	BFloat16 DataType = tensor.BFloat16
	Float64  DataType = tensor.Float64
	Int64    DataType = tensor.Int64
	Int32    DataType = tensor.Int32
	Uint8    DataType = tensor.Uint8
	Bool     DataType = tensor.Bool
)

// New wraps data in a tensor of the given shape. data is not copied.
func New(shape Shape, data []float32) *Tensor {
	return tensor.New(shape, data)
}

// FromSlice copies data into a tensor, checking it matches dims.
func FromSlice(data []float32, dims ...int) (*Tensor, error) {
	return tensor.FromSlice(data, dims...)
}

// Zeros returns a zero-filled tensor.
func Zeros(dims ...int) *Tensor {
	return tensor.Zeros(dims...)
}

// Ones returns a tensor filled with ones.
func Ones(dims ...int) *Tensor {
	return tensor.Ones(dims...)
}

// Full returns a tensor filled with v.
func Full(v float32, dims ...int) *Tensor {
	return tensor.Full(v, dims...)
}

// Softmax returns the softmax of t over its last dimension.
func Softmax(t *Tensor) *Tensor {
	return tensor.Softmax(t)
}

// AllClose reports whether a and b have the same shape and
// |a-b| <= atol + rtol*|b| elementwise.
func AllClose(a, b *Tensor, rtol, atol float64) bool {
	return tensor.AllClose(a, b, rtol, atol)
}

// ParseDataType parses a safetensors dtype tag such as "F16" or "BF16".
func ParseDataType(s string) (DataType, error) {
	return tensor.ParseDataType(s)
}
