package vit

import (
	"github.com/born-ml/perceiver/internal/tensor"
)

// spatialPosEmbed returns the grid part of pos_embed as [D, gs, gs].
func (m *Model) spatialPosEmbed() *tensor.Tensor {
	pe := m.posEmbed.Tensor()
	prefix := m.NumPrefixTokens()
	gs := m.patchEmbed.GridSize()
	grid := tensor.Slice(pe.Reshape(pe.Dim(1), pe.Dim(2)), 0, prefix, prefix+gs*gs)
	return tensor.Permute(grid, 1, 0).Reshape(m.cfg.EmbedDim, gs, gs)
}

// prefixPosEmbed returns the embeddings of the class (and distillation)
// tokens as [1, prefix, D].
func (m *Model) prefixPosEmbed() *tensor.Tensor {
	pe := m.posEmbed.Tensor()
	return tensor.Slice(pe, 1, 0, m.NumPrefixTokens())
}

// resamplePositions builds a position embedding per example [N, H*W, D].
// The learned grid is stretched (align_corners=true) over the example's
// valid h x w region and zero-filled to the right and bottom of it.
func (m *Model) resamplePositions(xh, xw []int, gh, gw int) *tensor.Tensor {
	grid := m.spatialPosEmbed()
	d := m.cfg.EmbedDim
	type size struct{ h, w int }
	cache := make(map[size]*tensor.Tensor)

	out := tensor.Zeros(len(xh), gh*gw, d)
	for i := range xh {
		key := size{xh[i], xw[i]}
		pos, ok := cache[key]
		if !ok {
			p := tensor.Bilinear(grid, key.h, key.w, true)
			p = tensor.Pad2D(p, 0, gh-key.h, 0, gw-key.w, 0)
			pos = tensor.Permute(p.Reshape(d, gh*gw), 1, 0)
			cache[key] = pos
		}
		out.Select(i).CopyFrom(pos)
	}
	return out
}

// addTemporal adds temporal_embed[:frames], repeated over each frame's
// tokens, to x [B, frames*perFrame, D].
func (m *Model) addTemporal(x *tensor.Tensor, frames, perFrame int) {
	te := tensor.Slice(m.temporalEmbed.Tensor(), 1, 0, frames)
	tensor.AddInPlace(x, tensor.RepeatInterleave(te, 1, perFrame))
}
