package vit

import (
	"fmt"

	"github.com/born-ml/perceiver/internal/tensor"
)

// Embedded is the output of VisualEmbed.
type Embedded struct {
	// X holds the tokens [B, N, D]. N is prefix + budget per image, times
	// the frame count for video.
	X *tensor.Tensor
	// Mask is 1 for tokens the encoder may attend to and 0 for padding [B, N].
	Mask *tensor.Tensor
	// PatchIndex holds the (row, col) grid cell of each selected patch per
	// image (per frame for video).
	PatchIndex [][][2]int
	// GridH and GridW give the patch grid of the input.
	GridH, GridW int
	// Labels is set when masking was requested.
	Labels *Labels
	// Frames is the clip length for video input, 0 for images.
	Frames int
}

// NumTokens returns N.
func (e *Embedded) NumTokens() int { return e.X.Dim(1) }

// VisualEmbed turns images [B, C, H, W] or clips [B, T, C, H, W] into a
// fixed number of tokens per example.
//
// Patches covering zero padding are detected per example. Each example
// gets the learned position grid stretched over its valid region. When
// the valid region exceeds the budget a random subset of valid patches is
// kept; otherwise all of them are kept and the sequence is filled up with
// padding patches that the mask hides. maxImageLen < 0 removes the cap.
func (m *Model) VisualEmbed(x *tensor.Tensor, maxImageLen int, maskIt bool) (*Embedded, error) {
	var (
		batch, frames int
		padFrames     []bool
	)
	switch x.Dims() {
	case 4:
		batch = x.Dim(0)
	case 5:
		if !m.cfg.UseVideo {
			return nil, fmt.Errorf("%w: video input %v for an image model", ErrInvalidInput, x.Shape())
		}
		batch, frames = x.Dim(0), x.Dim(1)
		if frames < 1 || frames > m.cfg.MaxFrames {
			return nil, fmt.Errorf("%w: %d frames, want 1 to %d", ErrInvalidInput, frames, m.cfg.MaxFrames)
		}
		padFrames = paddingFrames(x)
		x = x.Reshape(batch*frames, x.Dim(2), x.Dim(3), x.Dim(4))
	default:
		return nil, fmt.Errorf("%w: expected [B, C, H, W] or [B, T, C, H, W], got %v", ErrInvalidInput, x.Shape())
	}
	if batch == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrInvalidInput)
	}
	if x.Dim(1) != m.cfg.InChans {
		return nil, fmt.Errorf("%w: %d channels, model expects %d", ErrInvalidInput, x.Dim(1), m.cfg.InChans)
	}
	if k := m.patchEmbed.Kernel(); x.Dim(2) < k || x.Dim(3) < k {
		return nil, fmt.Errorf("%w: image %dx%d smaller than patch %d", ErrInvalidInput, x.Dim(2), x.Dim(3), k)
	}

	feats := m.patchEmbed.Forward(x)
	n, d, gh, gw := feats.Dim(0), feats.Dim(1), feats.Dim(2), feats.Dim(3)
	valid, xh, xw := patchValidity(x, gh, gw)
	pos := m.resamplePositions(xh, xw, gh, gw)
	tokens := tensor.Permute(feats.Reshape(n, d, gh*gw), 0, 2, 1)

	var labels *Labels
	if maskIt {
		labels = m.maskTokens(x, tokens, gh, gw)
	}

	maxLen := tokenBudget(xh, xw, padFrames, maxImageLen)
	sel, err := selectPatches(m.rng, valid, maxLen)
	if err != nil {
		return nil, err
	}

	prefix := m.NumPrefixTokens()
	perImage := prefix + maxLen

	special := m.clsToken.Tensor()
	if m.distToken != nil {
		special = tensor.Cat(1, special, m.distToken.Tensor())
	}
	out := tensor.Cat(1, tensor.RepeatInterleave(special, 0, n), tensor.GatherRows(tokens, sel))
	tensor.AddInPlace(out, tensor.Cat(1,
		tensor.RepeatInterleave(m.prefixPosEmbed(), 0, n),
		tensor.GatherRows(pos, sel)))

	mask := tensor.Zeros(n, perImage)
	patchIndex := make([][][2]int, n)
	for b, idx := range sel {
		for p := range prefix {
			mask.Set(1, b, p)
		}
		cells := make([][2]int, len(idx))
		for i, j := range idx {
			if valid[b][j] {
				mask.Set(1, b, prefix+i)
			}
			cells[i] = [2]int{j / gw, j % gw}
		}
		patchIndex[b] = cells
	}
	if labels != nil {
		labels = labels.gather(sel, valid, prefix)
	}

	if frames > 0 {
		for f, pad := range padFrames {
			if !pad {
				continue
			}
			mask.Select(f).Fill(0)
			if labels != nil {
				for i := range perImage {
					labels.ignore(f, i)
				}
			}
		}
		out = out.Reshape(batch, frames*perImage, d)
		mask = mask.Reshape(batch, frames*perImage)
		if labels != nil {
			labels.Batch, labels.Tokens = batch, frames*perImage
		}
		m.addTemporal(out, frames, perImage)
	}

	out = m.posDrop.Forward(out)
	if m.preNorm != nil {
		out = m.preNorm.Forward(out)
	}
	return &Embedded{
		X:          out,
		Mask:       mask,
		PatchIndex: patchIndex,
		GridH:      gh,
		GridW:      gw,
		Labels:     labels,
		Frames:     frames,
	}, nil
}

// paddingFrames flags frames of x [B, T, ...] whose mean is exactly zero,
// in B*T order.
func paddingFrames(x *tensor.Tensor) []bool {
	b, t := x.Dim(0), x.Dim(1)
	flat := x.Reshape(b*t, -1)
	pad := make([]bool, b*t)
	for i := range pad {
		pad[i] = flat.Select(i).Mean() == 0
	}
	return pad
}
