// Package vit implements the Perceiver vision transformer: patch embedding
// of images and video clips, per-example position embedding resampling,
// adaptive token-budget sampling, masked patch labels and the transformer
// encoder stack.
package vit

import (
	"errors"
	"fmt"

	"github.com/born-ml/perceiver/internal/nn"
)

// ErrInvalidConfig is returned for inconsistent model hyperparameters.
var ErrInvalidConfig = errors.New("invalid config")

// ErrInvalidInput is returned when VisualEmbed receives a tensor it cannot embed.
var ErrInvalidInput = errors.New("invalid input")

// MaxTemporalPositions is the number of learned temporal embeddings.
const MaxTemporalPositions = 64

// DefaultMaxImageLen is the default per-image token budget.
const DefaultMaxImageLen = 200

// Backbone kinds for hybrid models.
const (
	BackboneNone      = ""
	BackboneResNetV2  = "resnetv2"
	BackboneResNet26D = "resnet26d"
	BackboneResNet50D = "resnet50d"
)

// BackboneConfig selects the CNN trunk of a hybrid model.
type BackboneConfig struct {
	Kind     string `json:"kind,omitempty"`
	Layers   []int  `json:"layers,omitempty"`    // ResNetV2 stage depths
	OutIndex int    `json:"out_index,omitempty"` // ResNet-D feature level
}

// MaskConfig controls masked patch prediction.
type MaskConfig struct {
	Prob        float64 `json:"prob"`         // Chance that a token is selected
	ReplaceProb float64 `json:"replace_prob"` // Selected tokens replaced by the mask token
	RandomProb  float64 `json:"random_prob"`  // Selected tokens replaced by a random token
}

// DefaultMaskConfig returns BERT's 15% selection with an 80/10/10 split.
func DefaultMaskConfig() MaskConfig {
	return MaskConfig{Prob: 0.15, ReplaceProb: 0.8, RandomProb: 0.1}
}

// Config holds the hyperparameters of a Model.
type Config struct {
	ImgSize            int     `json:"img_size"`
	PatchSize          int     `json:"patch_size,omitempty"`
	InChans            int     `json:"in_chans"`
	NumClasses         int     `json:"num_classes"`
	EmbedDim           int     `json:"embed_dim"`
	Depth              int     `json:"depth"`
	NumHeads           int     `json:"num_heads"`
	MLPRatio           float64 `json:"mlp_ratio"`
	QKVBias            bool    `json:"qkv_bias"`
	QKScale            float64 `json:"qk_scale,omitempty"`
	RepresentationSize int     `json:"representation_size,omitempty"`
	DropRate           float64 `json:"drop_rate"`
	AttnDropRate       float64 `json:"attn_drop_rate"`
	DropPathRate       float64 `json:"drop_path_rate"`
	NormEps            float64 `json:"norm_eps"`

	AddNormBeforeTransformer bool `json:"add_norm_before_transformer"`
	NoPatchEmbedBias         bool `json:"no_patch_embed_bias"`

	UseVideo  bool `json:"use_video"`
	MaxFrames int  `json:"max_frames"`

	Distilled bool           `json:"distilled"`
	Backbone  BackboneConfig `json:"backbone"`
	Mask      MaskConfig     `json:"mask"`

	// Seed drives weight initialization, dropout and token sampling.
	Seed uint64 `json:"seed"`
}

// DefaultConfig returns ViT-B/16 at 224x224 with a 1000-class head.
func DefaultConfig() Config {
	return Config{
		ImgSize:    224,
		PatchSize:  16,
		InChans:    3,
		NumClasses: 1000,
		EmbedDim:   768,
		Depth:      12,
		NumHeads:   12,
		MLPRatio:   4,
		QKVBias:    true,
		NormEps:    nn.DefaultLayerNormEps,
		MaxFrames:  8,
		Mask:       DefaultMaskConfig(),
	}
}

// Hybrid reports whether the model embeds patches with a CNN backbone.
func (c Config) Hybrid() bool { return c.Backbone.Kind != BackboneNone }

// NumPrefixTokens is 1 (class token), or 2 when distilled.
func (c Config) NumPrefixTokens() int {
	if c.Distilled {
		return 2
	}
	return 1
}

// NumFeatures is the width seen by the classifier head.
func (c Config) NumFeatures() int {
	if c.RepresentationSize > 0 {
		return c.RepresentationSize
	}
	return c.EmbedDim
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	switch {
	case c.ImgSize <= 0:
		return fmt.Errorf("%w: img_size must be positive, got %d", ErrInvalidConfig, c.ImgSize)
	case c.InChans <= 0:
		return fmt.Errorf("%w: in_chans must be positive, got %d", ErrInvalidConfig, c.InChans)
	case c.EmbedDim <= 0 || c.Depth <= 0 || c.NumHeads <= 0:
		return fmt.Errorf("%w: embed_dim, depth and num_heads must be positive", ErrInvalidConfig)
	case c.EmbedDim%c.NumHeads != 0:
		return fmt.Errorf("%w: embed_dim %d not divisible by %d heads", ErrInvalidConfig, c.EmbedDim, c.NumHeads)
	case c.MLPRatio <= 0:
		return fmt.Errorf("%w: mlp_ratio must be positive, got %v", ErrInvalidConfig, c.MLPRatio)
	case c.NumClasses < 0 || c.RepresentationSize < 0:
		return fmt.Errorf("%w: num_classes and representation_size must not be negative", ErrInvalidConfig)
	case c.NormEps <= 0:
		return fmt.Errorf("%w: norm_eps must be positive, got %v", ErrInvalidConfig, c.NormEps)
	}
	for _, p := range []struct {
		name string
		v    float64
	}{
		{"drop_rate", c.DropRate},
		{"attn_drop_rate", c.AttnDropRate},
		{"drop_path_rate", c.DropPathRate},
	} {
		if p.v < 0 || p.v >= 1 {
			return fmt.Errorf("%w: %s must be in [0, 1), got %v", ErrInvalidConfig, p.name, p.v)
		}
	}
	if c.UseVideo && (c.MaxFrames < 1 || c.MaxFrames > MaxTemporalPositions) {
		return fmt.Errorf("%w: max_frames must be in [1, %d], got %d", ErrInvalidConfig, MaxTemporalPositions, c.MaxFrames)
	}
	m := c.Mask
	if m.Prob < 0 || m.Prob > 1 || m.ReplaceProb < 0 || m.RandomProb < 0 || m.ReplaceProb+m.RandomProb > 1 {
		return fmt.Errorf("%w: mask probabilities %+v out of range", ErrInvalidConfig, m)
	}

	switch c.Backbone.Kind {
	case BackboneNone:
		if c.PatchSize <= 0 {
			return fmt.Errorf("%w: patch_size must be positive, got %d", ErrInvalidConfig, c.PatchSize)
		}
		if c.ImgSize%c.PatchSize != 0 {
			return fmt.Errorf("%w: img_size %d not divisible by patch_size %d", ErrInvalidConfig, c.ImgSize, c.PatchSize)
		}
	case BackboneResNetV2:
		if len(c.Backbone.Layers) == 0 || len(c.Backbone.Layers) > 4 {
			return fmt.Errorf("%w: resnetv2 needs 1 to 4 stage depths, got %v", ErrInvalidConfig, c.Backbone.Layers)
		}
	case BackboneResNet26D, BackboneResNet50D:
		if c.Backbone.OutIndex < 1 || c.Backbone.OutIndex > 4 {
			return fmt.Errorf("%w: resnet out_index must be in [1, 4], got %d", ErrInvalidConfig, c.Backbone.OutIndex)
		}
	default:
		return fmt.Errorf("%w: unknown backbone %q", ErrInvalidConfig, c.Backbone.Kind)
	}
	return nil
}

// DefaultCfg describes the pretrained weights and preprocessing of a
// registered variant.
type DefaultCfg struct {
	URL           string     `json:"url"`
	NumClasses    int        `json:"num_classes"`
	InputSize     [3]int     `json:"input_size"`
	CropPct       float64    `json:"crop_pct"`
	Interpolation string     `json:"interpolation"`
	Mean          [3]float32 `json:"mean"`
	Std           [3]float32 `json:"std"`
	FirstConv     string     `json:"first_conv"`
	Classifier    []string   `json:"classifier"`
}
