package registry

import (
	"math"

	"github.com/born-ml/perceiver/internal/imageproc"
	"github.com/born-ml/perceiver/internal/vit"
)

const (
	timmWeights = "https://github.com/rwightman/pytorch-image-models/releases/download/"
	deitWeights = "https://dl.fbaipublicfiles.com/deit/"
)

type cfgOption func(*vit.DefaultCfg)

func defaultCfg(url string, opts ...cfgOption) vit.DefaultCfg {
	c := vit.DefaultCfg{
		URL:           url,
		NumClasses:    1000,
		InputSize:     [3]int{3, 224, 224},
		CropPct:       0.9,
		Interpolation: "bicubic",
		Mean:          imageproc.ImageNetMean,
		Std:           imageproc.ImageNetStd,
		FirstConv:     "patch_embed.proj",
		Classifier:    []string{"head"},
	}
	for _, o := range opts {
		o(&c)
	}
	return c
}

func inception(c *vit.DefaultCfg) { c.Mean, c.Std = imageproc.InceptionMean, imageproc.InceptionStd }

func in21k(c *vit.DefaultCfg) { c.NumClasses = 21843 }

func at384(c *vit.DefaultCfg) {
	c.InputSize = [3]int{3, 384, 384}
	c.CropPct = 1
}

func firstConv(name string) cfgOption {
	return func(c *vit.DefaultCfg) { c.FirstConv = name }
}

func distilledHeads(c *vit.DefaultCfg) { c.Classifier = []string{"head", "head_dist"} }

// arch describes the transformer shape of a variant.
type arch struct {
	patch, dim, depth, heads int
	mlpRatio                 float64
	representation           int
	distilled                bool
	backbone                 vit.BackboneConfig
}

func (a arch) constructor() Constructor {
	return func(o *Options) vit.Config {
		cfg := vit.DefaultConfig()
		cfg.PatchSize = a.patch
		cfg.EmbedDim = a.dim
		cfg.Depth = a.depth
		cfg.NumHeads = a.heads
		if a.mlpRatio > 0 {
			cfg.MLPRatio = a.mlpRatio
		}
		cfg.RepresentationSize = a.representation
		cfg.Distilled = a.distilled
		cfg.Backbone = a.backbone
		return cfg
	}
}

var (
	resnetV2R50  = vit.BackboneConfig{Kind: vit.BackboneResNetV2, Layers: []int{3, 4, 9}}
	resnet26dS32 = vit.BackboneConfig{Kind: vit.BackboneResNet26D, OutIndex: 4}
	resnet50dS16 = vit.BackboneConfig{Kind: vit.BackboneResNet50D, OutIndex: 3}
	resnet50dS32 = vit.BackboneConfig{Kind: vit.BackboneResNet50D, OutIndex: 4}
)

// vitSmall is a custom small ViT: depth 8, 8 heads, mlp ratio 3, no qkv
// bias and PyTorch's LayerNorm epsilon. Its published weights were trained
// with the ViT-B attention scale.
func vitSmall(o *Options) vit.Config {
	cfg := arch{patch: 16, dim: 768, depth: 8, heads: 8, mlpRatio: 3}.constructor()(o)
	cfg.QKVBias = false
	cfg.NormEps = 1e-5
	if o.Pretrained {
		cfg.QKScale = math.Pow(768, -0.5)
	}
	return cfg
}

func registerVariants(r *Registry) {
	reg := func(name, desc string, a arch, dc vit.DefaultCfg) {
		r.Register(name, Entry{Constructor: a.constructor(), DefaultCfg: dc, Description: desc})
	}

	r.Register("vit_small_patch16_224", Entry{
		Constructor: vitSmall,
		DefaultCfg:  defaultCfg(timmWeights + "v0.1-weights/vit_small_p16_224-15ec54c9.pth"),
		Description: "custom ViT small, depth 8, 8 heads, mlp ratio 3",
	})

	b16 := arch{patch: 16, dim: 768, depth: 12, heads: 12}
	b32 := arch{patch: 32, dim: 768, depth: 12, heads: 12}
	l16 := arch{patch: 16, dim: 1024, depth: 24, heads: 16}
	l32 := arch{patch: 32, dim: 1024, depth: 24, heads: 16}

	reg("vit_base_patch16_224", "ViT-B/16, ImageNet-1k fine-tuned from in21k",
		b16, defaultCfg(timmWeights+"v0.1-vitjx/jx_vit_base_p16_224-80ecf9dd.pth", inception))
	reg("vit_base_patch32_224", "ViT-B/32, no pretrained weights",
		b32, defaultCfg("", inception))
	reg("vit_base_patch16_384", "ViT-B/16 at 384, ImageNet-1k fine-tuned from in21k",
		b16, defaultCfg(timmWeights+"v0.1-vitjx/jx_vit_base_p16_384-83fb41ba.pth", inception, at384))
	reg("vit_base_patch32_384", "ViT-B/32 at 384, ImageNet-1k fine-tuned from in21k",
		b32, defaultCfg(timmWeights+"v0.1-vitjx/jx_vit_base_p32_384-830016f5.pth", inception, at384))
	reg("vit_large_patch16_224", "ViT-L/16, ImageNet-1k fine-tuned from in21k",
		l16, defaultCfg(timmWeights+"v0.1-vitjx/jx_vit_large_p16_224-4ee7a4dc.pth", inception))
	reg("vit_large_patch32_224", "ViT-L/32, no pretrained weights",
		l32, defaultCfg("", inception))
	reg("vit_large_patch16_384", "ViT-L/16 at 384, ImageNet-1k fine-tuned from in21k",
		l16, defaultCfg(timmWeights+"v0.1-vitjx/jx_vit_large_p16_384-b3be5167.pth", inception, at384))
	reg("vit_large_patch32_384", "ViT-L/32 at 384, ImageNet-1k fine-tuned from in21k",
		l32, defaultCfg(timmWeights+"v0.1-vitjx/jx_vit_large_p32_384-9b920ba8.pth", inception, at384))

	withRepr := func(a arch, n int) arch {
		a.representation = n
		return a
	}
	reg("vit_base_patch16_224_in21k", "ViT-B/16, ImageNet-21k",
		withRepr(b16, 768), defaultCfg(timmWeights+"v0.1-vitjx/jx_vit_base_patch16_224_in21k-e5005f0a.pth", inception, in21k))
	reg("vit_base_patch32_224_in21k", "ViT-B/32, ImageNet-21k",
		withRepr(b32, 768), defaultCfg(timmWeights+"v0.1-vitjx/jx_vit_base_patch32_224_in21k-8db57226.pth", inception, in21k))
	reg("vit_large_patch16_224_in21k", "ViT-L/16, ImageNet-21k",
		withRepr(l16, 1024), defaultCfg(timmWeights+"v0.1-vitjx/jx_vit_large_patch16_224_in21k-606da67d.pth", inception, in21k))
	reg("vit_large_patch32_224_in21k", "ViT-L/32, ImageNet-21k",
		withRepr(l32, 1024), defaultCfg(timmWeights+"v0.1-vitjx/jx_vit_large_patch32_224_in21k-9046d2e7.pth", inception, in21k))
	// The converted H/14 weights are larger than a release asset allows.
	reg("vit_huge_patch14_224_in21k", "ViT-H/14, ImageNet-21k, no pretrained weights",
		arch{patch: 14, dim: 1280, depth: 32, heads: 16, representation: 1280}, defaultCfg("", inception, in21k))

	reg("vit_base_resnet50_224_in21k", "R50+ViT-B/16 hybrid, ImageNet-21k",
		arch{dim: 768, depth: 12, heads: 12, representation: 768, backbone: resnetV2R50},
		defaultCfg(timmWeights+"v0.1-vitjx/jx_vit_base_resnet50_224_in21k-6f7c7740.pth",
			inception, in21k, firstConv("patch_embed.backbone.stem.conv")))
	reg("vit_base_resnet50_384", "R50+ViT-B/16 hybrid at 384, ImageNet-1k fine-tuned from in21k",
		arch{dim: 768, depth: 12, heads: 12, backbone: resnetV2R50},
		defaultCfg(timmWeights+"v0.1-vitjx/jx_vit_base_resnet50_384-9fd3c705.pth",
			inception, at384, firstConv("patch_embed.backbone.stem.conv")))
	reg("vit_small_resnet26d_224", "custom ViT small hybrid on ResNet26D stride 32, no pretrained weights",
		arch{dim: 768, depth: 8, heads: 8, mlpRatio: 3, backbone: resnet26dS32},
		defaultCfg("", firstConv("patch_embed.backbone.conv1.0")))
	reg("vit_small_resnet50d_s3_224", "custom ViT small hybrid on 3-stage ResNet50D stride 16, no pretrained weights",
		arch{dim: 768, depth: 8, heads: 8, mlpRatio: 3, backbone: resnet50dS16},
		defaultCfg("", firstConv("patch_embed.backbone.conv1.0")))
	reg("vit_base_resnet26d_224", "custom ViT base hybrid on ResNet26D stride 32, no pretrained weights",
		arch{dim: 768, depth: 12, heads: 12, backbone: resnet26dS32},
		defaultCfg("", firstConv("patch_embed.backbone.conv1.0")))
	reg("vit_base_resnet50d_224", "custom ViT base hybrid on ResNet50D stride 32, no pretrained weights",
		arch{dim: 768, depth: 12, heads: 12, backbone: resnet50dS32},
		defaultCfg("", firstConv("patch_embed.backbone.conv1.0")))

	tiny := arch{patch: 16, dim: 192, depth: 12, heads: 3}
	small := arch{patch: 16, dim: 384, depth: 12, heads: 6}
	reg("vit_deit_tiny_patch16_224", "DeiT-tiny",
		tiny, defaultCfg(deitWeights+"deit_tiny_patch16_224-a1311bcf.pth"))
	reg("vit_deit_small_patch16_224", "DeiT-small",
		small, defaultCfg(deitWeights+"deit_small_patch16_224-cd65a155.pth"))
	reg("vit_deit_base_patch16_224", "DeiT-base",
		b16, defaultCfg(deitWeights+"deit_base_patch16_224-b5f2ef4d.pth"))
	reg("vit_deit_base_patch16_384", "DeiT-base at 384",
		b16, defaultCfg(deitWeights+"deit_base_patch16_384-8de9b5d1.pth", at384))

	distill := func(a arch) arch {
		a.distilled = true
		return a
	}
	reg("vit_deit_tiny_distilled_patch16_224", "DeiT-tiny distilled",
		distill(tiny), defaultCfg(deitWeights+"deit_tiny_distilled_patch16_224-b40b3cf7.pth", distilledHeads))
	reg("vit_deit_small_distilled_patch16_224", "DeiT-small distilled",
		distill(small), defaultCfg(deitWeights+"deit_small_distilled_patch16_224-649709d9.pth", distilledHeads))
	reg("vit_deit_base_distilled_patch16_224", "DeiT-base distilled",
		distill(b16), defaultCfg(deitWeights+"deit_base_distilled_patch16_224-df68dfff.pth", distilledHeads))
	reg("vit_deit_base_distilled_patch16_384", "DeiT-base distilled at 384",
		distill(b16), defaultCfg(deitWeights+"deit_base_distilled_patch16_384-d0272ac0.pth", distilledHeads, at384))
}

func init() {
	registerVariants(DefaultRegistry)
}
