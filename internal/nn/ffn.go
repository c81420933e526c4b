package nn

import (
	"github.com/born-ml/perceiver/internal/tensor"
)

// Mlp is the transformer feed-forward network:
//
//	fc1 -> GELU -> dropout -> fc2 -> dropout
type Mlp struct {
	fc1  *Linear
	fc2  *Linear
	drop *Dropout
}

// NewMlp creates an Mlp with the given hidden width.
func NewMlp(in, hidden, out int, drop float64, rng *tensor.RNG) *Mlp {
	return &Mlp{
		fc1:  NewLinear(in, hidden, true, rng),
		fc2:  NewLinear(hidden, out, true, rng),
		drop: NewDropout(drop, rng),
	}
}

// Forward applies the network to x [..., in].
func (m *Mlp) Forward(x *tensor.Tensor) *tensor.Tensor {
	h := m.fc1.Forward(x)
	tensor.GELUInPlace(h)
	h = m.drop.Forward(h)
	h = m.fc2.Forward(h)
	return m.drop.Forward(h)
}

// SetTraining toggles dropout.
func (m *Mlp) SetTraining(training bool) { m.drop.SetTraining(training) }

// NamedParameters returns fc1.* and fc2.*.
func (m *Mlp) NamedParameters(prefix string) []Named {
	return append(m.fc1.NamedParameters(Join(prefix, "fc1")), m.fc2.NamedParameters(Join(prefix, "fc2"))...)
}
