package vit

import (
	"fmt"

	"github.com/born-ml/perceiver/internal/nn"
	"github.com/born-ml/perceiver/internal/tensor"
)

// Model is the Perceiver vision transformer.
//
// A forward pass is split in two: VisualEmbed turns pixels into a fixed
// budget of tokens with a padding mask, and Forward runs the encoder over
// them. Classify applies the optional classification head to the encoder
// output.
type Model struct {
	cfg        Config
	defaultCfg DefaultCfg
	rng        *tensor.RNG

	patchEmbed    Embedder
	clsToken      *nn.Parameter // [1, 1, D]
	distToken     *nn.Parameter // [1, 1, D], distilled only
	posEmbed      *nn.Parameter // [1, prefix + grid², D]
	temporalEmbed *nn.Parameter // [1, 64, D], video only
	maskToken     *nn.Parameter // [1, 1, D]
	posDrop       *nn.Dropout
	preNorm       *nn.LayerNorm
	blocks        []*nn.Block
	norm          *nn.LayerNorm

	preLogits *nn.Linear // representation layer, "pre_logits.fc"
	head      *nn.Linear
	headDist  *nn.Linear
}

// New builds a model with freshly initialized weights.
//
// Weights follow the ViT recipe: truncated normal (std 0.02) for Linear
// weights, position embeddings and special tokens; zero biases; unit
// LayerNorm scales; zero temporal embeddings.
func New(cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rng := tensor.NewRNG(cfg.Seed)
	pe, err := newEmbedder(cfg, rng)
	if err != nil {
		return nil, err
	}
	d := cfg.EmbedDim
	grid := pe.GridSize()
	prefix := cfg.NumPrefixTokens()

	m := &Model{
		cfg:        cfg,
		rng:        rng,
		patchEmbed: pe,
		clsToken:   nn.NewParameter("cls_token", nn.TruncNormal(rng, 0.02, 1, 1, d)),
		posEmbed:   nn.NewParameter("pos_embed", nn.TruncNormal(rng, 0.02, 1, prefix+grid*grid, d)),
		maskToken:  nn.NewParameter("mask_token", nn.TruncNormal(rng, 0.02, 1, 1, d)),
		posDrop:    nn.NewDropout(cfg.DropRate, rng),
		norm:       nn.NewLayerNorm(d, cfg.NormEps),
	}
	if cfg.Distilled {
		m.distToken = nn.NewParameter("dist_token", nn.TruncNormal(rng, 0.02, 1, 1, d))
	}
	if cfg.UseVideo {
		m.temporalEmbed = nn.NewParameter("temporal_embed", nn.Zeros(1, MaxTemporalPositions, d))
	}
	if cfg.AddNormBeforeTransformer {
		m.preNorm = nn.NewLayerNorm(d, cfg.NormEps)
	}

	for i := range cfg.Depth {
		m.blocks = append(m.blocks, nn.NewBlock(nn.BlockConfig{
			Dim:      d,
			NumHeads: cfg.NumHeads,
			MLPRatio: cfg.MLPRatio,
			QKVBias:  cfg.QKVBias,
			QKScale:  cfg.QKScale,
			Drop:     cfg.DropRate,
			AttnDrop: cfg.AttnDropRate,
			DropPath: dropPathRate(cfg.DropPathRate, i, cfg.Depth),
			NormEps:  cfg.NormEps,
		}, rng))
	}

	if cfg.RepresentationSize > 0 {
		m.preLogits = nn.NewLinear(d, cfg.RepresentationSize, true, rng)
	}
	if cfg.NumClasses > 0 {
		m.head = nn.NewLinear(cfg.NumFeatures(), cfg.NumClasses, true, rng)
		if cfg.Distilled {
			m.headDist = nn.NewLinear(d, cfg.NumClasses, true, rng)
		}
	}
	return m, nil
}

// dropPathRate is the i-th of depth evenly spaced rates from 0 to maxRate.
func dropPathRate(maxRate float64, i, depth int) float64 {
	if depth <= 1 {
		return 0
	}
	return maxRate * float64(i) / float64(depth-1)
}

// Config returns the model's hyperparameters.
func (m *Model) Config() Config { return m.cfg }

// DefaultCfg returns the pretrained/preprocessing description recorded by
// the registry.
func (m *Model) DefaultCfg() DefaultCfg { return m.defaultCfg }

// SetDefaultCfg records the pretrained/preprocessing description.
func (m *Model) SetDefaultCfg(c DefaultCfg) { m.defaultCfg = c }

// PatchEmbed returns the patch embedding module.
func (m *Model) PatchEmbed() Embedder { return m.patchEmbed }

// NumPrefixTokens returns the number of tokens prepended to each image.
func (m *Model) NumPrefixTokens() int { return m.cfg.NumPrefixTokens() }

// Depth returns the number of encoder blocks.
func (m *Model) Depth() int { return len(m.blocks) }

// DropPathRates returns the per-block stochastic depth rates.
func (m *Model) DropPathRates() []float64 {
	out := make([]float64, len(m.blocks))
	for i, b := range m.blocks {
		out[i] = b.DropPathRate()
	}
	return out
}

// SetTraining toggles dropout and stochastic depth throughout the model.
func (m *Model) SetTraining(training bool) {
	m.posDrop.SetTraining(training)
	for _, b := range m.blocks {
		b.SetTraining(training)
	}
}

// NoWeightDecay lists parameters that should be excluded from weight decay.
func (m *Model) NoWeightDecay() []string {
	out := []string{"pos_embed", "cls_token", "mask_token"}
	if m.distToken != nil {
		out = append(out, "dist_token")
	}
	if m.temporalEmbed != nil {
		out = append(out, "temporal_embed")
	}
	return out
}

// Forward runs the encoder over tokens x [B, N, D] with key mask [B, N]
// (nil attends everywhere) and applies the final norm.
func (m *Model) Forward(x, mask *tensor.Tensor) *tensor.Tensor {
	for _, blk := range m.blocks {
		x, _ = blk.Forward(x, mask)
	}
	return m.norm.Forward(x)
}

// ForwardWithAttention is Forward that also returns each block's attention
// weights [B, H, N, N].
func (m *Model) ForwardWithAttention(x, mask *tensor.Tensor) (*tensor.Tensor, []*tensor.Tensor) {
	attns := make([]*tensor.Tensor, 0, len(m.blocks))
	for _, blk := range m.blocks {
		var a *tensor.Tensor
		x, a = blk.Forward(x, mask)
		attns = append(attns, a)
	}
	return m.norm.Forward(x), attns
}

// Encode embeds x and runs the encoder. It returns the features together
// with the embedding metadata (mask, patch indices, labels).
func (m *Model) Encode(x *tensor.Tensor, maxImageLen int, maskIt bool) (*tensor.Tensor, *Embedded, error) {
	emb, err := m.VisualEmbed(x, maxImageLen, maskIt)
	if err != nil {
		return nil, nil, err
	}
	return m.Forward(emb.X, emb.Mask), emb, nil
}

// HasHead reports whether the model has a classification head.
func (m *Model) HasHead() bool { return m.head != nil }

// Classify maps encoder features [B, N, D] to logits [B, classes] from the
// class token. Distilled models average the class and distillation heads.
func (m *Model) Classify(features *tensor.Tensor) (*tensor.Tensor, error) {
	if m.head == nil {
		return nil, fmt.Errorf("%w: model has no classification head", ErrInvalidConfig)
	}
	if features.Dims() != 3 || features.Dim(2) != m.cfg.EmbedDim {
		return nil, fmt.Errorf("%w: features %v, want [B, N, %d]", ErrInvalidInput, features.Shape(), m.cfg.EmbedDim)
	}
	cls := tensor.Slice(features, 1, 0, 1).Reshape(features.Dim(0), m.cfg.EmbedDim)
	if m.preLogits != nil {
		cls = m.preLogits.Forward(cls)
		tensor.TanhInPlace(cls)
	}
	logits := m.head.Forward(cls)
	if m.headDist != nil {
		dist := tensor.Slice(features, 1, 1, 2).Reshape(features.Dim(0), m.cfg.EmbedDim)
		tensor.AddInPlace(logits, m.headDist.Forward(dist))
		tensor.ScaleInPlace(logits, 0.5)
	}
	return logits, nil
}

// NamedParameters returns every parameter with timm-compatible names.
func (m *Model) NamedParameters(prefix string) []nn.Named {
	out := []nn.Named{{Name: nn.Join(prefix, "cls_token"), Param: m.clsToken}}
	if m.distToken != nil {
		out = append(out, nn.Named{Name: nn.Join(prefix, "dist_token"), Param: m.distToken})
	}
	out = append(out, nn.Named{Name: nn.Join(prefix, "pos_embed"), Param: m.posEmbed})
	if m.temporalEmbed != nil {
		out = append(out, nn.Named{Name: nn.Join(prefix, "temporal_embed"), Param: m.temporalEmbed})
	}
	out = append(out, nn.Named{Name: nn.Join(prefix, "mask_token"), Param: m.maskToken})
	out = append(out, m.patchEmbed.NamedParameters(nn.Join(prefix, "patch_embed"))...)
	if m.preNorm != nil {
		out = append(out, m.preNorm.NamedParameters(nn.Join(prefix, "pre_norm"))...)
	}
	for i, blk := range m.blocks {
		out = append(out, blk.NamedParameters(nn.Join(prefix, fmt.Sprintf("blocks.%d", i)))...)
	}
	out = append(out, m.norm.NamedParameters(nn.Join(prefix, "norm"))...)
	if m.preLogits != nil {
		out = append(out, m.preLogits.NamedParameters(nn.Join(prefix, "pre_logits.fc"))...)
	}
	if m.head != nil {
		out = append(out, m.head.NamedParameters(nn.Join(prefix, "head"))...)
	}
	if m.headDist != nil {
		out = append(out, m.headDist.NamedParameters(nn.Join(prefix, "head_dist"))...)
	}
	return out
}

// StateDict returns the model's tensors keyed by timm names. The tensors
// are shared with the model.
func (m *Model) StateDict() map[string]*tensor.Tensor { return nn.StateDict(m) }

// LoadStateDict copies weights from src. See nn.LoadStateDict.
func (m *Model) LoadStateDict(src nn.Source, strict bool) (missing, unexpected []string, err error) {
	return nn.LoadStateDict(m, src, strict)
}
