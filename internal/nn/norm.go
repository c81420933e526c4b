package nn

import (
	"fmt"

	"github.com/born-ml/perceiver/internal/tensor"
)

// GroupNorm normalizes [B, C, H, W] activations over channel groups.
// Used by the BiT ResNetV2 backbone with 32 groups.
type GroupNorm struct {
	groups   int
	channels int
	epsilon  float64
	weight   *Parameter
	bias     *Parameter
}

// NewGroupNorm creates a GroupNorm with affine weight ones and bias zeros.
func NewGroupNorm(groups, channels int, epsilon float64) *GroupNorm {
	if channels%groups != 0 {
		panic(fmt.Sprintf("NewGroupNorm: %d channels not divisible by %d groups", channels, groups))
	}
	return &GroupNorm{
		groups:   groups,
		channels: channels,
		epsilon:  epsilon,
		weight:   NewParameter("weight", Ones(channels)),
		bias:     NewParameter("bias", Zeros(channels)),
	}
}

// Forward normalizes x [B, C, ...].
func (g *GroupNorm) Forward(x *tensor.Tensor) *tensor.Tensor {
	if x.Dims() < 2 || x.Dim(1) != g.channels {
		panic(fmt.Sprintf("GroupNorm.Forward: expected %d channels, got shape %v", g.channels, x.Shape()))
	}
	return tensor.GroupNorm(x, g.groups, g.weight.Tensor(), g.bias.Tensor(), g.epsilon)
}

// NamedParameters returns weight and bias.
func (g *GroupNorm) NamedParameters(prefix string) []Named {
	return collect(prefix, g.weight, g.bias)
}

// BatchNorm2d applies inference-mode batch normalization with running
// statistics. Checkpoints carry running_mean, running_var and
// num_batches_tracked buffers, which are kept for strict loading.
type BatchNorm2d struct {
	channels    int
	epsilon     float64
	weight      *Parameter
	bias        *Parameter
	runningMean *Parameter
	runningVar  *Parameter
	numBatches  *Parameter
}

// NewBatchNorm2d creates a BatchNorm2d with identity statistics.
func NewBatchNorm2d(channels int, epsilon float64) *BatchNorm2d {
	return &BatchNorm2d{
		channels:    channels,
		epsilon:     epsilon,
		weight:      NewParameter("weight", Ones(channels)),
		bias:        NewParameter("bias", Zeros(channels)),
		runningMean: NewBuffer("running_mean", Zeros(channels)),
		runningVar:  NewBuffer("running_var", Ones(channels)),
		numBatches:  NewBuffer("num_batches_tracked", Zeros()),
	}
}

// Forward normalizes x [B, C, H, W].
func (bn *BatchNorm2d) Forward(x *tensor.Tensor) *tensor.Tensor {
	if x.Dims() < 2 || x.Dim(1) != bn.channels {
		panic(fmt.Sprintf("BatchNorm2d.Forward: expected %d channels, got shape %v", bn.channels, x.Shape()))
	}
	return tensor.BatchNorm(x, bn.runningMean.Tensor(), bn.runningVar.Tensor(), bn.weight.Tensor(), bn.bias.Tensor(), bn.epsilon)
}

// NamedParameters returns the affine parameters and running statistics.
func (bn *BatchNorm2d) NamedParameters(prefix string) []Named {
	return collect(prefix, bn.weight, bn.bias, bn.runningMean, bn.runningVar, bn.numBatches)
}
