// Package backbone implements the convolutional feature extractors used by
// hybrid vision transformers: a BiT-style ResNetV2 and the ResNet-D family.
package backbone

import (
	"github.com/born-ml/perceiver/internal/nn"
	"github.com/born-ml/perceiver/internal/tensor"
)

// Backbone maps images [B, C, H, W] to a feature map [B, F, H/r, W/r].
type Backbone interface {
	nn.Module
	Forward(x *tensor.Tensor) *tensor.Tensor
	// FeatureDim is F, the number of output channels.
	FeatureDim() int
	// Reduction is r, the total spatial stride.
	Reduction() int
	// FirstConv is the state dict name of the stem convolution.
	FirstConv() string
}

func relu(x *tensor.Tensor) *tensor.Tensor {
	tensor.ReLUInPlace(x)
	return x
}
