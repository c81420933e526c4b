package vit

import (
	"github.com/born-ml/perceiver/internal/tensor"
)

// IgnoreIndex marks label rows that take no part in the masked patch loss.
const IgnoreIndex = -100

// Labels holds masked patch prediction targets [Batch, Tokens, Channels]:
// the mean 8-bit color of each masked patch, or IgnoreIndex.
type Labels struct {
	Batch    int
	Tokens   int
	Channels int
	Data     []int64
}

func newLabels(batch, tokens, channels int) *Labels {
	return &Labels{Batch: batch, Tokens: tokens, Channels: channels, Data: make([]int64, batch*tokens*channels)}
}

// Row returns the labels of token i in example b.
func (l *Labels) Row(b, i int) []int64 {
	off := (b*l.Tokens + i) * l.Channels
	return l.Data[off : off+l.Channels]
}

// Ignored reports whether token i of example b is excluded from the loss.
func (l *Labels) Ignored(b, i int) bool { return l.Row(b, i)[0] == IgnoreIndex }

// NumMasked counts tokens that carry a target.
func (l *Labels) NumMasked() int {
	n := 0
	for b := range l.Batch {
		for i := range l.Tokens {
			if !l.Ignored(b, i) {
				n++
			}
		}
	}
	return n
}

func (l *Labels) ignore(b, i int) {
	row := l.Row(b, i)
	for c := range row {
		row[c] = IgnoreIndex
	}
}

// patchColors averages the unnormalized image over each patch of a gh x gw
// grid, scaled to [0, 255]. The result is [N, gh*gw, C].
func patchColors(img *tensor.Tensor, kernel, gh, gw int) *tensor.Tensor {
	u := tensor.Scale(img, 0.5)
	data := u.Data()
	for i := range data {
		data[i] += 0.5
	}
	pooled := tensor.AvgPool2D(u, kernel, kernel, 0, true, false)
	if ph := pooled.Dim(2); ph > gh {
		pooled = tensor.Slice(pooled, 2, 0, gh)
	} else if ph < gh {
		pooled = tensor.Pad2D(pooled, 0, gh-ph, 0, 0, 0)
	}
	if pw := pooled.Dim(3); pw > gw {
		pooled = tensor.Slice(pooled, 3, 0, gw)
	} else if pw < gw {
		pooled = tensor.Pad2D(pooled, 0, 0, 0, gw-pw, 0)
	}
	n, c := pooled.Dim(0), pooled.Dim(1)
	return tensor.Permute(pooled.Reshape(n, c, gh*gw), 0, 2, 1)
}

// maskTokens selects tokens of feats [N, L, D] for masked patch prediction
// and corrupts them in place: most are replaced by the mask token, some by
// the features of a random token from the batch, and the rest are kept.
// It returns labels for every token; unselected tokens are ignored.
func (m *Model) maskTokens(img, feats *tensor.Tensor, gh, gw int) *Labels {
	mc := m.cfg.Mask
	n, l, d := feats.Dim(0), feats.Dim(1), feats.Dim(2)
	colors := patchColors(img, m.patchEmbed.Kernel(), gh, gw)
	c := colors.Dim(2)

	labels := newLabels(n, l, c)
	for i, v := range colors.Data() {
		labels.Data[i] = int64(v * 255)
	}

	var snapshot []float32
	if mc.RandomProb > 0 {
		snapshot = feats.Clone().Data()
	}
	data := feats.Data()
	mask := m.maskToken.Tensor().Data()
	for b := range n {
		for i := range l {
			if !m.rng.Bernoulli(mc.Prob) {
				labels.ignore(b, i)
				continue
			}
			row := data[(b*l+i)*d : (b*l+i+1)*d]
			switch u := m.rng.Float64(); {
			case u < mc.ReplaceProb:
				copy(row, mask)
			case u < mc.ReplaceProb+mc.RandomProb:
				j := m.rng.IntN(n * l)
				copy(row, snapshot[j*d:(j+1)*d])
			}
		}
	}
	return labels
}

// gather keeps the labels of the selected tokens, ignores those at padding
// positions and prepends prefix ignored rows.
func (l *Labels) gather(sel [][]int, valid [][]bool, prefix int) *Labels {
	k := 0
	if len(sel) > 0 {
		k = len(sel[0])
	}
	out := newLabels(l.Batch, prefix+k, l.Channels)
	for b, idx := range sel {
		for p := range prefix {
			out.ignore(b, p)
		}
		for i, j := range idx {
			if !valid[b][j] {
				out.ignore(b, prefix+i)
				continue
			}
			copy(out.Row(b, prefix+i), l.Row(b, j))
		}
	}
	return out
}
