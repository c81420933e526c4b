package nn

import (
	"fmt"

	"github.com/born-ml/perceiver/internal/tensor"
)

// Linear implements a fully connected (dense) layer.
//
// Performs the transformation: y = x @ W.T + b
// where:
//   - x is the input tensor with shape [..., in_features]
//   - W is the weight matrix with shape [out_features, in_features]
//   - b is the bias vector with shape [out_features]
//   - y is the output tensor with shape [..., out_features]
//
// Weights are initialized from a truncated normal with std 0.02 and biases
// to zeros, the initialization vision transformers use for every Linear.
//
// Example:
//
//	layer := nn.NewLinear(768, 2304, true, rng)
//	output := layer.Forward(input) // [B, N, 768] -> [B, N, 2304]
type Linear struct {
	inFeatures  int
	outFeatures int
	weight      *Parameter // [out_features, in_features]
	bias        *Parameter // [out_features], nil when disabled
}

// NewLinear creates a new Linear layer.
//
// Parameters:
//   - inFeatures: Number of input features
//   - outFeatures: Number of output features
//   - bias: Whether to learn an additive bias
//   - rng: Random source for weight initialization
func NewLinear(inFeatures, outFeatures int, bias bool, rng *tensor.RNG) *Linear {
	l := &Linear{
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		weight:      NewParameter("weight", TruncNormal(rng, 0.02, outFeatures, inFeatures)),
	}
	if bias {
		l.bias = NewParameter("bias", Zeros(outFeatures))
	}
	return l
}

// Forward computes the output of the linear layer over the last axis.
func (l *Linear) Forward(input *tensor.Tensor) *tensor.Tensor {
	if input.Dims() == 0 || input.Dim(-1) != l.inFeatures {
		panic(fmt.Sprintf("Linear.Forward: expected input with %d features, got shape %v", l.inFeatures, input.Shape()))
	}
	var b *tensor.Tensor
	if l.bias != nil {
		b = l.bias.Tensor()
	}
	return tensor.Linear(input, l.weight.Tensor(), b)
}

// NamedParameters returns weight and, if present, bias.
func (l *Linear) NamedParameters(prefix string) []Named {
	return collect(prefix, l.weight, l.bias)
}

// Weight returns the weight parameter.
func (l *Linear) Weight() *Parameter {
	return l.weight
}

// Bias returns the bias parameter, or nil.
func (l *Linear) Bias() *Parameter {
	return l.bias
}

// InFeatures returns the number of input features.
func (l *Linear) InFeatures() int {
	return l.inFeatures
}

// OutFeatures returns the number of output features.
func (l *Linear) OutFeatures() int {
	return l.outFeatures
}
