package vit

import (
	"fmt"

	"github.com/born-ml/perceiver/internal/tensor"
)

// patchValidity marks which patches of a grid gh x gw cover real pixels.
// A pixel is real when its channel sum is non-zero; the per-pixel mask is
// reduced to the grid with nearest interpolation. It returns the flattened
// per-example validity and the valid extent (rows in column 0, columns in
// row 0) of each example.
//
// An example with no valid patch is treated as fully valid, and an extent
// of zero falls back to the full grid.
func patchValidity(x *tensor.Tensor, gh, gw int) (valid [][]bool, xh, xw []int) {
	n, c, h, w := x.Dim(0), x.Dim(1), x.Dim(2), x.Dim(3)
	pix := tensor.Zeros(n, 1, h, w)
	src, dst := x.Data(), pix.Data()
	for b := range n {
		for i := range h * w {
			var s float32
			for ch := range c {
				s += src[(b*c+ch)*h*w+i]
			}
			if s != 0 {
				dst[b*h*w+i] = 1
			}
		}
	}
	grid := tensor.Nearest(pix, gh, gw).Data()

	valid = make([][]bool, n)
	xh, xw = make([]int, n), make([]int, n)
	for b := range n {
		row := make([]bool, gh*gw)
		found := false
		for i := range row {
			row[i] = grid[b*gh*gw+i] != 0
			found = found || row[i]
		}
		if !found {
			for i := range row {
				row[i] = true
			}
		}
		for r := range gh {
			if row[r*gw] {
				xh[b]++
			}
		}
		for col := range gw {
			if row[col] {
				xw[b]++
			}
		}
		if xh[b] == 0 || xw[b] == 0 {
			xh[b], xw[b] = gh, gw
		}
		valid[b] = row
	}
	return valid, xh, xw
}

// tokenBudget returns the number of patch tokens kept per example: the
// largest valid extent, capped by maxImageLen unless it is negative.
// Examples flagged in skip (padding frames) do not count unless every
// example is flagged.
func tokenBudget(xh, xw []int, skip []bool, maxImageLen int) int {
	eff := 0
	for i := range xh {
		if i < len(skip) && skip[i] {
			continue
		}
		eff = max(eff, xh[i]*xw[i])
	}
	if eff == 0 {
		for i := range xh {
			eff = max(eff, xh[i]*xw[i])
		}
	}
	if maxImageLen < 0 {
		return eff
	}
	return min(eff, maxImageLen)
}

// selectPatches picks maxLen patch indices per example. Examples with at
// least maxLen valid patches get a random subset of them, in random order.
// Others keep all valid patches in raster order, topped up with padding
// patches drawn with replacement.
func selectPatches(rng *tensor.RNG, valid [][]bool, maxLen int) ([][]int, error) {
	sel := make([][]int, len(valid))
	for b, row := range valid {
		var on, off []int
		for i, v := range row {
			if v {
				on = append(on, i)
			} else {
				off = append(off, i)
			}
		}
		if len(on) >= maxLen {
			pick := rng.Choice(len(on), maxLen, false)
			idx := make([]int, maxLen)
			for i, p := range pick {
				idx[i] = on[p]
			}
			sel[b] = idx
			continue
		}
		short := maxLen - len(on)
		if len(off) == 0 {
			return nil, fmt.Errorf("%w: example %d has %d patches, need %d", ErrInvalidInput, b, len(on), maxLen)
		}
		idx := append(make([]int, 0, maxLen), on...)
		for _, p := range rng.Choice(len(off), short, true) {
			idx = append(idx, off[p])
		}
		sel[b] = idx
	}
	return sel, nil
}
