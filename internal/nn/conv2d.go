package nn

import (
	"fmt"

	"github.com/born-ml/perceiver/internal/tensor"
)

// Conv2d implements a 2D convolution layer over [B, C, H, W] input.
//
// Output size: (H + 2*padding - kernel) / stride + 1 per spatial axis.
//
// Weights use PyTorch's default kaiming-uniform init.
//
// Example:
//
//	// ViT patch projection: 16x16 patches to 768 channels.
//	proj := nn.NewConv2d(3, 768, 16, 16, 0, true, rng)
//	grid := proj.Forward(images) // [B, 3, 224, 224] -> [B, 768, 14, 14]
type Conv2d struct {
	inChannels  int
	outChannels int
	kernelSize  int
	stride      int
	padding     int
	groups      int

	// StdConv2dSame behaviour.
	same        bool
	standardize bool
	wsEpsilon   float64

	weight *Parameter // [out, in/groups, k, k]
	bias   *Parameter // [out], nil when disabled
}

// NewConv2d creates a square-kernel convolution.
//
// Parameters:
//   - inChannels, outChannels: Channel counts
//   - kernelSize: Side of the square kernel
//   - stride: Step between windows
//   - padding: Symmetric zero padding
//   - bias: Whether to learn an additive bias
//   - rng: Random source for weight initialization
func NewConv2d(inChannels, outChannels, kernelSize, stride, padding int, bias bool, rng *tensor.RNG) *Conv2d {
	fanIn := inChannels * kernelSize * kernelSize
	c := &Conv2d{
		inChannels:  inChannels,
		outChannels: outChannels,
		kernelSize:  kernelSize,
		stride:      stride,
		padding:     padding,
		groups:      1,
		weight:      NewParameter("weight", KaimingUniform(rng, fanIn, outChannels, inChannels, kernelSize, kernelSize)),
	}
	if bias {
		b := tensor.Zeros(outChannels)
		bound := tensor.KaimingUniformBound(fanIn)
		rng.UniformInPlace(b, -bound, bound)
		c.bias = NewParameter("bias", b)
	}
	return c
}

// NewStdConv2dSame creates a weight-standardized convolution with
// TensorFlow "SAME" padding, as used by BiT ResNetV2 models. It has no bias.
func NewStdConv2dSame(inChannels, outChannels, kernelSize, stride int, epsilon float64, rng *tensor.RNG) *Conv2d {
	c := NewConv2d(inChannels, outChannels, kernelSize, stride, 0, false, rng)
	c.same = true
	c.standardize = true
	c.wsEpsilon = epsilon
	return c
}

// Forward applies the convolution.
func (c *Conv2d) Forward(x *tensor.Tensor) *tensor.Tensor {
	if x.Dims() != 4 || x.Dim(1) != c.inChannels {
		panic(fmt.Sprintf("Conv2d.Forward: expected [B, %d, H, W], got %v", c.inChannels, x.Shape()))
	}
	w := c.weight.Tensor()
	if c.standardize {
		w = tensor.StandardizeWeight(w, c.wsEpsilon)
	}
	if c.same {
		x = tensor.PadSame(x, c.kernelSize, c.stride, 0)
	}
	var b *tensor.Tensor
	if c.bias != nil {
		b = c.bias.Tensor()
	}
	return tensor.Conv2D(x, w, b, c.stride, c.padding, c.groups)
}

// NamedParameters returns weight and, if present, bias.
func (c *Conv2d) NamedParameters(prefix string) []Named {
	return collect(prefix, c.weight, c.bias)
}

// Weight returns the weight parameter.
func (c *Conv2d) Weight() *Parameter {
	return c.weight
}

// KernelSize returns the square kernel side.
func (c *Conv2d) KernelSize() int {
	return c.kernelSize
}

// Stride returns the window step.
func (c *Conv2d) Stride() int {
	return c.stride
}

// OutChannels returns the number of output channels.
func (c *Conv2d) OutChannels() int {
	return c.outChannels
}
