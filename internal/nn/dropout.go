package nn

import (
	"fmt"

	"github.com/born-ml/perceiver/internal/tensor"
)

// Dropout zeroes elements with probability p during training and scales
// the survivors by 1/(1-p). In evaluation mode it is the identity.
type Dropout struct {
	p        float64
	training bool
	rng      *tensor.RNG
}

// NewDropout creates a Dropout layer in evaluation mode.
func NewDropout(p float64, rng *tensor.RNG) *Dropout {
	if p < 0 || p >= 1 {
		panic(fmt.Sprintf("NewDropout: probability must be in [0, 1), got %v", p))
	}
	return &Dropout{p: p, rng: rng}
}

// SetTraining toggles training mode.
func (d *Dropout) SetTraining(training bool) { d.training = training }

// Forward applies dropout in place and returns x.
func (d *Dropout) Forward(x *tensor.Tensor) *tensor.Tensor {
	if !d.training || d.p == 0 {
		return x
	}
	scale := float32(1 / (1 - d.p))
	data := x.Data()
	for i := range data {
		if d.rng.Bernoulli(d.p) {
			data[i] = 0
		} else {
			data[i] *= scale
		}
	}
	return x
}

// DropPath implements stochastic depth: during training each sample's
// residual branch is dropped with probability p and kept samples are
// scaled by 1/(1-p).
type DropPath struct {
	p        float64
	training bool
	rng      *tensor.RNG
}

// NewDropPath creates a DropPath layer in evaluation mode.
func NewDropPath(p float64, rng *tensor.RNG) *DropPath {
	if p < 0 || p >= 1 {
		panic(fmt.Sprintf("NewDropPath: probability must be in [0, 1), got %v", p))
	}
	return &DropPath{p: p, rng: rng}
}

// SetTraining toggles training mode.
func (d *DropPath) SetTraining(training bool) { d.training = training }

// Rate returns the drop probability.
func (d *DropPath) Rate() float64 { return d.p }

// Forward applies stochastic depth over the leading (batch) axis in place.
func (d *DropPath) Forward(x *tensor.Tensor) *tensor.Tensor {
	if !d.training || d.p == 0 {
		return x
	}
	b := x.Dim(0)
	inner := x.Len() / b
	scale := float32(1 / (1 - d.p))
	data := x.Data()
	for i := range b {
		seg := data[i*inner : (i+1)*inner]
		if d.rng.Bernoulli(d.p) {
			for j := range seg {
				seg[j] = 0
			}
			continue
		}
		for j := range seg {
			seg[j] *= scale
		}
	}
	return x
}
