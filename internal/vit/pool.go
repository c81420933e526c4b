package vit

import (
	"fmt"

	"github.com/born-ml/perceiver/internal/tensor"
)

// Pooling modes for Pool.
const (
	PoolCLS  = "cls"
	PoolMean = "mean"
	PoolNone = "none"
)

// Pool reduces features [B, N, D] to one vector per example. PoolCLS takes
// the first token; PoolMean averages the tokens whose mask is 1 (all
// tokens when mask is nil). PoolNone returns features unchanged.
func Pool(features, mask *tensor.Tensor, mode string) (*tensor.Tensor, error) {
	if features.Dims() != 3 {
		return nil, fmt.Errorf("%w: features %v, want [B, N, D]", ErrInvalidInput, features.Shape())
	}
	b, n, d := features.Dim(0), features.Dim(1), features.Dim(2)
	switch mode {
	case PoolNone:
		return features, nil
	case PoolCLS, "":
		return tensor.Slice(features, 1, 0, 1).Reshape(b, d), nil
	case PoolMean:
	default:
		return nil, fmt.Errorf("%w: unknown pooling %q", ErrInvalidInput, mode)
	}
	if mask != nil && (mask.Dims() != 2 || mask.Dim(0) != b || mask.Dim(1) != n) {
		return nil, fmt.Errorf("%w: mask %v does not match features %v", ErrInvalidInput, mask.Shape(), features.Shape())
	}

	out := tensor.Zeros(b, d)
	src, dst := features.Data(), out.Data()
	for i := range b {
		var count float32
		row := dst[i*d : (i+1)*d]
		for j := range n {
			if mask != nil && mask.At(i, j) == 0 {
				continue
			}
			count++
			tok := src[(i*n+j)*d : (i*n+j+1)*d]
			for k, v := range tok {
				row[k] += v
			}
		}
		if count > 0 {
			for k := range row {
				row[k] /= count
			}
		}
	}
	return out, nil
}
