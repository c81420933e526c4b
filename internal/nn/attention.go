package nn

import (
	"fmt"
	"math"

	"github.com/born-ml/perceiver/internal/tensor"
)

// AttentionConfig configures multi-head self-attention.
type AttentionConfig struct {
	Dim      int     // Model dimension (must be divisible by NumHeads)
	NumHeads int     // Number of attention heads
	QKVBias  bool    // Learn a bias on the fused qkv projection
	QKScale  float64 // Logit scale; 0 selects head_dim^-0.5
	AttnDrop float64 // Dropout on attention weights
	ProjDrop float64 // Dropout after the output projection
}

// Attention implements multi-head self-attention with a key-padding mask.
//
// Architecture:
//
//	qkv = Linear(x)                      // [B, N, 3*C]
//	q, k, v split into heads             // [B, H, N, C/H] each
//	attn = softmax(q @ k.T * scale)      // masked keys get -Inf
//	out = proj(attn @ v merged by head)  // [B, N, C]
//
// Example:
//
//	attn := nn.NewAttention(nn.AttentionConfig{Dim: 768, NumHeads: 12, QKVBias: true}, rng)
//	out, weights := attn.Forward(x, mask) // mask [B, N], 1 = attend
type Attention struct {
	numHeads int
	headDim  int
	scale    float32

	qkv      *Linear
	proj     *Linear
	attnDrop *Dropout
	projDrop *Dropout
}

// NewAttention creates a self-attention layer.
func NewAttention(cfg AttentionConfig, rng *tensor.RNG) *Attention {
	if cfg.NumHeads <= 0 || cfg.Dim%cfg.NumHeads != 0 {
		panic(fmt.Sprintf("NewAttention: dim %d not divisible by %d heads", cfg.Dim, cfg.NumHeads))
	}
	headDim := cfg.Dim / cfg.NumHeads
	scale := cfg.QKScale
	if scale == 0 {
		scale = 1 / math.Sqrt(float64(headDim))
	}
	return &Attention{
		numHeads: cfg.NumHeads,
		headDim:  headDim,
		scale:    float32(scale),
		qkv:      NewLinear(cfg.Dim, 3*cfg.Dim, cfg.QKVBias, rng),
		proj:     NewLinear(cfg.Dim, cfg.Dim, true, rng),
		attnDrop: NewDropout(cfg.AttnDrop, rng),
		projDrop: NewDropout(cfg.ProjDrop, rng),
	}
}

// Forward attends over x [B, N, C].
//
// mask is optional [B, N]; keys whose mask entry is 0 receive no attention.
// Returns the output [B, N, C] and the attention weights [B, H, N, N].
func (a *Attention) Forward(x, mask *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor) {
	if x.Dims() != 3 {
		panic(fmt.Sprintf("Attention.Forward: expected [B, N, C], got %v", x.Shape()))
	}
	b, n, c := x.Dim(0), x.Dim(1), x.Dim(2)
	if mask != nil && (mask.Dims() != 2 || mask.Dim(0) != b || mask.Dim(1) != n) {
		panic(fmt.Sprintf("Attention.Forward: mask %v does not match input %v", mask.Shape(), x.Shape()))
	}

	qkv := a.qkv.Forward(x).Reshape(b, n, 3, a.numHeads, a.headDim)
	qkv = tensor.Permute(qkv, 2, 0, 3, 1, 4) // [3, B, H, N, hd]
	q, k, v := qkv.Select(0), qkv.Select(1), qkv.Select(2)

	attn := tensor.BatchMatMul(q, k, true) // [B, H, N, N]
	tensor.ScaleInPlace(attn, a.scale)
	if mask != nil {
		applyKeyMask(attn, mask, a.numHeads)
	}
	tensor.SoftmaxInPlace(attn)
	attn = a.attnDrop.Forward(attn)

	out := tensor.BatchMatMul(attn, v, false) // [B, H, N, hd]
	out = tensor.Permute(out, 0, 2, 1, 3).Reshape(b, n, c)
	out = a.proj.Forward(out)
	return a.projDrop.Forward(out), attn
}

// applyKeyMask sets logits of masked keys to -Inf.
func applyKeyMask(attn, mask *tensor.Tensor, heads int) {
	b, n := mask.Dim(0), mask.Dim(1)
	neg := float32(math.Inf(-1))
	data, m := attn.Data(), mask.Data()
	for bi := range b {
		keys := m[bi*n : (bi+1)*n]
		for h := range heads {
			for q := range n {
				row := data[((bi*heads+h)*n+q)*n:]
				for j, keep := range keys {
					if keep == 0 {
						row[j] = neg
					}
				}
			}
		}
	}
}

// SetTraining toggles dropout.
func (a *Attention) SetTraining(training bool) {
	a.attnDrop.SetTraining(training)
	a.projDrop.SetTraining(training)
}

// NamedParameters returns qkv.* and proj.*.
func (a *Attention) NamedParameters(prefix string) []Named {
	return append(a.qkv.NamedParameters(Join(prefix, "qkv")), a.proj.NamedParameters(Join(prefix, "proj"))...)
}

// NumHeads returns the number of heads.
func (a *Attention) NumHeads() int { return a.numHeads }

// Scale returns the logit scale.
func (a *Attention) Scale() float32 { return a.scale }
