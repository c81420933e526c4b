package nn

import (
	"fmt"

	"github.com/born-ml/perceiver/internal/tensor"
)

// DefaultLayerNormEps is the epsilon vision transformers use
// (partial(nn.LayerNorm, eps=1e-6)).
const DefaultLayerNormEps = 1e-6

// TorchLayerNormEps is PyTorch's nn.LayerNorm default epsilon.
const TorchLayerNormEps = 1e-5

// LayerNorm implements Layer Normalization over the last axis.
//
// LayerNorm(x) = gamma * (x - mean(x)) / sqrt(var(x) + epsilon) + beta
//
// Gamma (weight) starts at ones and beta (bias) at zeros.
type LayerNorm struct {
	dim     int
	epsilon float64
	weight  *Parameter // gamma [dim]
	bias    *Parameter // beta [dim]
}

// NewLayerNorm creates a LayerNorm over the last axis of size dim.
func NewLayerNorm(dim int, epsilon float64) *LayerNorm {
	return &LayerNorm{
		dim:     dim,
		epsilon: epsilon,
		weight:  NewParameter("weight", Ones(dim)),
		bias:    NewParameter("bias", Zeros(dim)),
	}
}

// Forward normalizes x [..., dim].
func (ln *LayerNorm) Forward(x *tensor.Tensor) *tensor.Tensor {
	if x.Dims() == 0 || x.Dim(-1) != ln.dim {
		panic(fmt.Sprintf("LayerNorm.Forward: expected last dimension %d, got shape %v", ln.dim, x.Shape()))
	}
	return tensor.LayerNorm(x, ln.weight.Tensor(), ln.bias.Tensor(), ln.epsilon)
}

// NamedParameters returns weight and bias.
func (ln *LayerNorm) NamedParameters(prefix string) []Named {
	return collect(prefix, ln.weight, ln.bias)
}

// Epsilon returns the numerical stability constant.
func (ln *LayerNorm) Epsilon() float64 {
	return ln.epsilon
}
