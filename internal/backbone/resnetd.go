package backbone

import (
	"fmt"
	"strconv"

	"github.com/born-ml/perceiver/internal/nn"
	"github.com/born-ml/perceiver/internal/tensor"
)

const batchNormEps = 1e-5

// ResNet-D stage depths.
var (
	ResNet26DLayers = []int{2, 2, 2, 2}
	ResNet50DLayers = []int{3, 4, 6, 3}
)

// ResNetD is a ResNet-D feature extractor: a deep 3x3 stem, bottleneck
// blocks with expansion 4 and average-pool downsampling in the shortcut.
// Only the stages up to OutIndex are built, matching timm's
// features_only=True with a single out index.
type ResNetD struct {
	stem     []*nn.Conv2d
	stemBN   []*nn.BatchNorm2d
	bn1      *nn.BatchNorm2d
	maxpool  nn.MaxPool2d
	layers   [][]*bottleneckD
	outIndex int
	outChans int
}

type bottleneckD struct {
	conv1    *nn.Conv2d
	bn1      *nn.BatchNorm2d
	conv2    *nn.Conv2d
	bn2      *nn.BatchNorm2d
	conv3    *nn.Conv2d
	bn3      *nn.BatchNorm2d
	downPool *nn.AvgPool2d
	downConv *nn.Conv2d
	downBN   *nn.BatchNorm2d
}

// NewResNetD builds a ResNet-D truncated after feature level outIndex.
// Level 1 is layer1 (stride 4); level 4 is layer4 (stride 32).
func NewResNetD(layers []int, inChans, outIndex int, rng *tensor.RNG) *ResNetD {
	if len(layers) != 4 {
		panic(fmt.Sprintf("NewResNetD: expected 4 stage depths, got %d", len(layers)))
	}
	if outIndex < 1 || outIndex > 4 {
		panic(fmt.Sprintf("NewResNetD: out index %d out of range [1, 4]", outIndex))
	}
	const stemWidth = 32
	r := &ResNetD{
		stem: []*nn.Conv2d{
			nn.NewConv2d(inChans, stemWidth, 3, 2, 1, false, rng),
			nn.NewConv2d(stemWidth, stemWidth, 3, 1, 1, false, rng),
			nn.NewConv2d(stemWidth, 2*stemWidth, 3, 1, 1, false, rng),
		},
		stemBN: []*nn.BatchNorm2d{
			nn.NewBatchNorm2d(stemWidth, batchNormEps),
			nn.NewBatchNorm2d(stemWidth, batchNormEps),
		},
		bn1:      nn.NewBatchNorm2d(2*stemWidth, batchNormEps),
		maxpool:  nn.MaxPool2d{Kernel: 3, Stride: 2, Padding: 1},
		outIndex: outIndex,
	}
	in := 2 * stemWidth
	for i := range outIndex {
		planes := 64 << i
		stride := 2
		if i == 0 {
			stride = 1
		}
		var blocks []*bottleneckD
		for j := range layers[i] {
			s := 1
			if j == 0 {
				s = stride
			}
			blocks = append(blocks, newBottleneckD(in, planes, s, rng))
			in = planes * 4
		}
		r.layers = append(r.layers, blocks)
	}
	r.outChans = in
	return r
}

func newBottleneckD(in, planes, stride int, rng *tensor.RNG) *bottleneckD {
	out := planes * 4
	b := &bottleneckD{
		conv1: nn.NewConv2d(in, planes, 1, 1, 0, false, rng),
		bn1:   nn.NewBatchNorm2d(planes, batchNormEps),
		conv2: nn.NewConv2d(planes, planes, 3, stride, 1, false, rng),
		bn2:   nn.NewBatchNorm2d(planes, batchNormEps),
		conv3: nn.NewConv2d(planes, out, 1, 1, 0, false, rng),
		bn3:   nn.NewBatchNorm2d(out, batchNormEps),
	}
	if in != out || stride != 1 {
		if stride != 1 {
			b.downPool = &nn.AvgPool2d{Kernel: 2, Stride: stride, CeilMode: true}
		}
		b.downConv = nn.NewConv2d(in, out, 1, 1, 0, false, rng)
		b.downBN = nn.NewBatchNorm2d(out, batchNormEps)
	}
	return b
}

func (b *bottleneckD) forward(x *tensor.Tensor) *tensor.Tensor {
	shortcut := x
	if b.downConv != nil {
		s := x
		if b.downPool != nil {
			s = b.downPool.Forward(s)
		}
		shortcut = b.downBN.Forward(b.downConv.Forward(s))
	}
	h := relu(b.bn1.Forward(b.conv1.Forward(x)))
	h = relu(b.bn2.Forward(b.conv2.Forward(h)))
	h = b.bn3.Forward(b.conv3.Forward(h))
	tensor.AddInPlace(h, shortcut)
	return relu(h)
}

func (b *bottleneckD) namedParameters(prefix string) []nn.Named {
	var out []nn.Named
	out = append(out, b.conv1.NamedParameters(nn.Join(prefix, "conv1"))...)
	out = append(out, b.bn1.NamedParameters(nn.Join(prefix, "bn1"))...)
	out = append(out, b.conv2.NamedParameters(nn.Join(prefix, "conv2"))...)
	out = append(out, b.bn2.NamedParameters(nn.Join(prefix, "bn2"))...)
	out = append(out, b.conv3.NamedParameters(nn.Join(prefix, "conv3"))...)
	out = append(out, b.bn3.NamedParameters(nn.Join(prefix, "bn3"))...)
	if b.downConv != nil {
		// downsample.0 is the (parameter-free) pool.
		out = append(out, b.downConv.NamedParameters(nn.Join(prefix, "downsample.1"))...)
		out = append(out, b.downBN.NamedParameters(nn.Join(prefix, "downsample.2"))...)
	}
	return out
}

// Forward returns the feature map at the configured out index.
func (r *ResNetD) Forward(x *tensor.Tensor) *tensor.Tensor {
	x = relu(r.stemBN[0].Forward(r.stem[0].Forward(x)))
	x = relu(r.stemBN[1].Forward(r.stem[1].Forward(x)))
	x = relu(r.bn1.Forward(r.stem[2].Forward(x)))
	x = r.maxpool.Forward(x)
	for _, layer := range r.layers {
		for _, blk := range layer {
			x = blk.forward(x)
		}
	}
	return x
}

// NamedParameters uses timm's ResNet names (conv1.0, conv1.1, ..., layerN.M...).
func (r *ResNetD) NamedParameters(prefix string) []nn.Named {
	var out []nn.Named
	out = append(out, r.stem[0].NamedParameters(nn.Join(prefix, "conv1.0"))...)
	out = append(out, r.stemBN[0].NamedParameters(nn.Join(prefix, "conv1.1"))...)
	out = append(out, r.stem[1].NamedParameters(nn.Join(prefix, "conv1.3"))...)
	out = append(out, r.stemBN[1].NamedParameters(nn.Join(prefix, "conv1.4"))...)
	out = append(out, r.stem[2].NamedParameters(nn.Join(prefix, "conv1.6"))...)
	out = append(out, r.bn1.NamedParameters(nn.Join(prefix, "bn1"))...)
	for i, layer := range r.layers {
		for j, blk := range layer {
			out = append(out, blk.namedParameters(nn.Join(prefix, "layer"+strconv.Itoa(i+1)+"."+strconv.Itoa(j)))...)
		}
	}
	return out
}

// FeatureDim returns the output channels of the last built layer.
func (r *ResNetD) FeatureDim() int { return r.outChans }

// Reduction returns 2^(outIndex+1): the stem and max pool give 4, each later
// layer halves again.
func (r *ResNetD) Reduction() int { return 2 << r.outIndex }

// FirstConv names the stem convolution.
func (r *ResNetD) FirstConv() string { return "conv1.0" }
