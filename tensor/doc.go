// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the dense float32 tensors used by Perceiver models.
//
// # Overview
//
// Tensors are row-major and always contiguous. Every element is stored as
// float32; DataType only records the storage type of a checkpoint tensor.
//
// # Basic Usage
//
//	import "github.com/born-ml/perceiver/tensor"
//
//	func main() {
//	    x := tensor.Zeros(2, 3, 224, 224)
//	    y := tensor.New(tensor.Shape{2, 3}, []float32{1, 2, 3, 4, 5, 6})
//	    p := tensor.Softmax(y)
//	    fmt.Println(x.Shape(), p.At(0, 2))
//	}
//
// # Shapes
//
// Reshape accepts a single -1 to infer one dimension:
//
//	x := tensor.Zeros(2, 3, 4)
//	y := x.Reshape(2, -1) // (2, 12), shares data with x
package tensor
