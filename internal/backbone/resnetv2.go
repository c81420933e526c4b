package backbone

import (
	"fmt"
	"strconv"

	"github.com/born-ml/perceiver/internal/nn"
	"github.com/born-ml/perceiver/internal/tensor"
)

const (
	groupNormGroups = 32
	groupNormEps    = 1e-5
	stdConvEps      = 1e-8
)

// ResNetV2 is a BiT ResNetV2 without pre-activation: StdConv2dSame
// convolutions, GroupNorm(32) and a TF-"same" stem. With layers (3, 4, 9)
// it is the R50 trunk of the R50+ViT-B/16 hybrid.
type ResNetV2 struct {
	stemConv *nn.Conv2d
	stemNorm *nn.GroupNorm
	stemPool nn.MaxPool2d
	stages   [][]*bottleneckV2
	outChans int
}

type bottleneckV2 struct {
	downConv *nn.Conv2d
	downNorm *nn.GroupNorm
	conv1    *nn.Conv2d
	norm1    *nn.GroupNorm
	conv2    *nn.Conv2d
	norm2    *nn.GroupNorm
	conv3    *nn.Conv2d
	norm3    *nn.GroupNorm
}

// NewResNetV2 builds a ResNetV2 feature extractor with len(layers) stages.
// Stage i has out channels 256*2^i and stride 1 for the first stage, 2 after.
func NewResNetV2(layers []int, inChans int, rng *tensor.RNG) *ResNetV2 {
	if len(layers) == 0 || len(layers) > 4 {
		panic(fmt.Sprintf("NewResNetV2: expected 1 to 4 stages, got %d", len(layers)))
	}
	const stemChans = 64
	r := &ResNetV2{
		stemConv: nn.NewStdConv2dSame(inChans, stemChans, 7, 2, stdConvEps, rng),
		stemNorm: nn.NewGroupNorm(groupNormGroups, stemChans, groupNormEps),
		stemPool: nn.MaxPool2d{Kernel: 3, Stride: 2, Same: true},
	}
	in := stemChans
	for i, depth := range layers {
		out := 256 << i
		stride := 2
		if i == 0 {
			stride = 1
		}
		var blocks []*bottleneckV2
		for j := range depth {
			s := 1
			if j == 0 {
				s = stride
			}
			blocks = append(blocks, newBottleneckV2(in, out, s, rng))
			in = out
		}
		r.stages = append(r.stages, blocks)
	}
	r.outChans = in
	return r
}

func newBottleneckV2(in, out, stride int, rng *tensor.RNG) *bottleneckV2 {
	mid := out / 4
	b := &bottleneckV2{
		conv1: nn.NewStdConv2dSame(in, mid, 1, 1, stdConvEps, rng),
		norm1: nn.NewGroupNorm(groupNormGroups, mid, groupNormEps),
		conv2: nn.NewStdConv2dSame(mid, mid, 3, stride, stdConvEps, rng),
		norm2: nn.NewGroupNorm(groupNormGroups, mid, groupNormEps),
		conv3: nn.NewStdConv2dSame(mid, out, 1, 1, stdConvEps, rng),
		norm3: nn.NewGroupNorm(groupNormGroups, out, groupNormEps),
	}
	if in != out || stride != 1 {
		b.downConv = nn.NewStdConv2dSame(in, out, 1, stride, stdConvEps, rng)
		b.downNorm = nn.NewGroupNorm(groupNormGroups, out, groupNormEps)
	}
	return b
}

func (b *bottleneckV2) forward(x *tensor.Tensor) *tensor.Tensor {
	shortcut := x
	if b.downConv != nil {
		shortcut = b.downNorm.Forward(b.downConv.Forward(x))
	}
	h := relu(b.norm1.Forward(b.conv1.Forward(x)))
	h = relu(b.norm2.Forward(b.conv2.Forward(h)))
	h = b.norm3.Forward(b.conv3.Forward(h))
	tensor.AddInPlace(h, shortcut)
	return relu(h)
}

func (b *bottleneckV2) namedParameters(prefix string) []nn.Named {
	var out []nn.Named
	if b.downConv != nil {
		out = append(out, b.downConv.NamedParameters(nn.Join(prefix, "downsample.conv"))...)
		out = append(out, b.downNorm.NamedParameters(nn.Join(prefix, "downsample.norm"))...)
	}
	out = append(out, b.conv1.NamedParameters(nn.Join(prefix, "conv1"))...)
	out = append(out, b.norm1.NamedParameters(nn.Join(prefix, "norm1"))...)
	out = append(out, b.conv2.NamedParameters(nn.Join(prefix, "conv2"))...)
	out = append(out, b.norm2.NamedParameters(nn.Join(prefix, "norm2"))...)
	out = append(out, b.conv3.NamedParameters(nn.Join(prefix, "conv3"))...)
	out = append(out, b.norm3.NamedParameters(nn.Join(prefix, "norm3"))...)
	return out
}

// Forward returns the final stage's feature map.
func (r *ResNetV2) Forward(x *tensor.Tensor) *tensor.Tensor {
	x = relu(r.stemNorm.Forward(r.stemConv.Forward(x)))
	x = r.stemPool.Forward(x)
	for _, stage := range r.stages {
		for _, blk := range stage {
			x = blk.forward(x)
		}
	}
	return x
}

// NamedParameters uses timm's ResNetV2 names (stem.conv, stages.N.blocks.M...).
func (r *ResNetV2) NamedParameters(prefix string) []nn.Named {
	var out []nn.Named
	out = append(out, r.stemConv.NamedParameters(nn.Join(prefix, "stem.conv"))...)
	out = append(out, r.stemNorm.NamedParameters(nn.Join(prefix, "stem.norm"))...)
	for i, stage := range r.stages {
		for j, blk := range stage {
			out = append(out, blk.namedParameters(nn.Join(prefix, "stages."+strconv.Itoa(i)+".blocks."+strconv.Itoa(j)))...)
		}
	}
	return out
}

// FeatureDim returns the channel count of the last stage.
func (r *ResNetV2) FeatureDim() int { return r.outChans }

// Reduction returns the stem stride (4) times the stage strides.
func (r *ResNetV2) Reduction() int { return 4 << (len(r.stages) - 1) }

// FirstConv names the stem convolution.
func (r *ResNetV2) FirstConv() string { return "stem.conv" }
