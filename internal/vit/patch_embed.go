package vit

import (
	"fmt"

	"github.com/born-ml/perceiver/internal/backbone"
	"github.com/born-ml/perceiver/internal/nn"
	"github.com/born-ml/perceiver/internal/tensor"
)

// Embedder turns images [B, C, H, W] into a grid of patch features
// [B, D, H/k, W/k].
type Embedder interface {
	nn.Module
	Forward(x *tensor.Tensor) *tensor.Tensor
	// Kernel is the pixel side k of one patch.
	Kernel() int
	// GridSize is the patch grid side at the configured image size.
	GridSize() int
	// FirstConv is the state dict name of the first convolution, relative
	// to the embedder.
	FirstConv() string
}

// PatchEmbed splits an image into non-overlapping patches with a strided
// convolution (kernel = stride = patch size).
type PatchEmbed struct {
	proj      *nn.Conv2d
	patchSize int
	gridSize  int
}

// NewPatchEmbed creates a patch embedding for imgSize x imgSize inputs.
func NewPatchEmbed(imgSize, patchSize, inChans, embedDim int, bias bool, rng *tensor.RNG) *PatchEmbed {
	return &PatchEmbed{
		proj:      nn.NewConv2d(inChans, embedDim, patchSize, patchSize, 0, bias, rng),
		patchSize: patchSize,
		gridSize:  imgSize / patchSize,
	}
}

// Forward projects x [B, C, H, W] to [B, D, H/p, W/p].
func (p *PatchEmbed) Forward(x *tensor.Tensor) *tensor.Tensor {
	return p.proj.Forward(x)
}

// Kernel returns the patch size.
func (p *PatchEmbed) Kernel() int { return p.patchSize }

// GridSize returns imgSize / patchSize.
func (p *PatchEmbed) GridSize() int { return p.gridSize }

// NumPatches returns GridSize squared.
func (p *PatchEmbed) NumPatches() int { return p.gridSize * p.gridSize }

// FirstConv names the projection.
func (p *PatchEmbed) FirstConv() string { return "proj" }

// NamedParameters returns proj.*.
func (p *PatchEmbed) NamedParameters(prefix string) []nn.Named {
	return p.proj.NamedParameters(nn.Join(prefix, "proj"))
}

// HybridEmbed extracts a feature map with a CNN backbone and projects it to
// the embedding width with a 1x1 convolution. Each output cell is one token.
type HybridEmbed struct {
	backbone backbone.Backbone
	proj     *nn.Conv2d
	gridSize int
}

// NewHybridEmbed wraps a backbone for imgSize x imgSize inputs.
func NewHybridEmbed(bb backbone.Backbone, imgSize, embedDim int, rng *tensor.RNG) *HybridEmbed {
	r := bb.Reduction()
	return &HybridEmbed{
		backbone: bb,
		proj:     nn.NewConv2d(bb.FeatureDim(), embedDim, 1, 1, 0, true, rng),
		gridSize: (imgSize + r - 1) / r,
	}
}

// Forward runs the backbone and the projection.
func (h *HybridEmbed) Forward(x *tensor.Tensor) *tensor.Tensor {
	return h.proj.Forward(h.backbone.Forward(x))
}

// Kernel returns the backbone's total stride.
func (h *HybridEmbed) Kernel() int { return h.backbone.Reduction() }

// GridSize returns the feature map side at the configured image size.
func (h *HybridEmbed) GridSize() int { return h.gridSize }

// FirstConv names the backbone stem convolution.
func (h *HybridEmbed) FirstConv() string { return nn.Join("backbone", h.backbone.FirstConv()) }

// NamedParameters returns backbone.* and proj.*.
func (h *HybridEmbed) NamedParameters(prefix string) []nn.Named {
	return append(h.backbone.NamedParameters(nn.Join(prefix, "backbone")), h.proj.NamedParameters(nn.Join(prefix, "proj"))...)
}

func newEmbedder(cfg Config, rng *tensor.RNG) (Embedder, error) {
	var bb backbone.Backbone
	switch cfg.Backbone.Kind {
	case BackboneNone:
		return NewPatchEmbed(cfg.ImgSize, cfg.PatchSize, cfg.InChans, cfg.EmbedDim, !cfg.NoPatchEmbedBias, rng), nil
	case BackboneResNetV2:
		bb = backbone.NewResNetV2(cfg.Backbone.Layers, cfg.InChans, rng)
	case BackboneResNet26D:
		bb = backbone.NewResNetD(backbone.ResNet26DLayers, cfg.InChans, cfg.Backbone.OutIndex, rng)
	case BackboneResNet50D:
		bb = backbone.NewResNetD(backbone.ResNet50DLayers, cfg.InChans, cfg.Backbone.OutIndex, rng)
	default:
		return nil, fmt.Errorf("%w: unknown backbone %q", ErrInvalidConfig, cfg.Backbone.Kind)
	}
	return NewHybridEmbed(bb, cfg.ImgSize, cfg.EmbedDim, rng), nil
}
