package nn

import (
	"github.com/born-ml/perceiver/internal/tensor"
)

// BlockConfig configures a pre-norm transformer block.
type BlockConfig struct {
	Dim      int
	NumHeads int
	MLPRatio float64
	QKVBias  bool
	QKScale  float64
	Drop     float64 // Projection and MLP dropout
	AttnDrop float64
	DropPath float64 // Stochastic depth rate of this block
	NormEps  float64
}

// Block is a pre-norm transformer encoder block:
//
//	x = x + drop_path(attn(norm1(x), mask))
//	x = x + drop_path(mlp(norm2(x)))
type Block struct {
	norm1    *LayerNorm
	attn     *Attention
	dropPath *DropPath
	norm2    *LayerNorm
	mlp      *Mlp
}

// NewBlock creates a transformer block.
func NewBlock(cfg BlockConfig, rng *tensor.RNG) *Block {
	eps := cfg.NormEps
	if eps == 0 {
		eps = DefaultLayerNormEps
	}
	return &Block{
		norm1: NewLayerNorm(cfg.Dim, eps),
		attn: NewAttention(AttentionConfig{
			Dim:      cfg.Dim,
			NumHeads: cfg.NumHeads,
			QKVBias:  cfg.QKVBias,
			QKScale:  cfg.QKScale,
			AttnDrop: cfg.AttnDrop,
			ProjDrop: cfg.Drop,
		}, rng),
		dropPath: NewDropPath(cfg.DropPath, rng),
		norm2:    NewLayerNorm(cfg.Dim, eps),
		mlp:      NewMlp(cfg.Dim, int(float64(cfg.Dim)*cfg.MLPRatio), cfg.Dim, cfg.Drop, rng),
	}
}

// Forward applies the block to x [B, N, C] with an optional key mask
// [B, N]. Returns the updated tokens and the attention weights.
func (b *Block) Forward(x, mask *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor) {
	h, attn := b.attn.Forward(b.norm1.Forward(x), mask)
	x = tensor.Add(x, b.dropPath.Forward(h))
	tensor.AddInPlace(x, b.dropPath.Forward(b.mlp.Forward(b.norm2.Forward(x))))
	return x, attn
}

// SetTraining toggles dropout and stochastic depth.
func (b *Block) SetTraining(training bool) {
	b.attn.SetTraining(training)
	b.mlp.SetTraining(training)
	b.dropPath.SetTraining(training)
}

// DropPathRate returns the block's stochastic depth rate.
func (b *Block) DropPathRate() float64 { return b.dropPath.Rate() }

// NamedParameters returns norm1.*, attn.*, norm2.* and mlp.*.
func (b *Block) NamedParameters(prefix string) []Named {
	var out []Named
	out = append(out, b.norm1.NamedParameters(Join(prefix, "norm1"))...)
	out = append(out, b.attn.NamedParameters(Join(prefix, "attn"))...)
	out = append(out, b.norm2.NamedParameters(Join(prefix, "norm2"))...)
	out = append(out, b.mlp.NamedParameters(Join(prefix, "mlp"))...)
	return out
}
