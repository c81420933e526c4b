package nn

import (
	"github.com/born-ml/perceiver/internal/tensor"
)

// TruncNormal returns a tensor drawn from N(0, std²) truncated to [-2, 2],
// matching timm's trunc_normal_ defaults.
//
// Parameters:
//   - rng: Random source
//   - std: Standard deviation (0.02 for transformer weights)
//   - dims: Shape of the tensor
func TruncNormal(rng *tensor.RNG, std float64, dims ...int) *tensor.Tensor {
	t := tensor.Zeros(dims...)
	rng.TruncNormalInPlace(t, std, -2, 2)
	return t
}

// KaimingUniform returns PyTorch's default Conv/Linear weight init,
// U(-1/sqrt(fanIn), 1/sqrt(fanIn)).
func KaimingUniform(rng *tensor.RNG, fanIn int, dims ...int) *tensor.Tensor {
	t := tensor.Zeros(dims...)
	bound := tensor.KaimingUniformBound(fanIn)
	rng.UniformInPlace(t, -bound, bound)
	return t
}

// Zeros creates a tensor filled with zeros.
//
// This is commonly used for bias initialization.
func Zeros(dims ...int) *tensor.Tensor {
	return tensor.Zeros(dims...)
}

// Ones creates a tensor filled with ones.
func Ones(dims ...int) *tensor.Tensor {
	return tensor.Ones(dims...)
}
