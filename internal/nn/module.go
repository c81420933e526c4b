// Package nn implements the inference-time layers of the vision
// transformer and its convolutional backbones.
//
// This package provides:
//   - Module interface: named parameter traversal for state dicts
//   - Parameter: weights and buffers with timm-compatible names
//   - Linear, Conv2d, StdConv2dSame: affine and convolutional layers
//   - LayerNorm, GroupNorm, BatchNorm2d: normalization
//   - Dropout, DropPath: stochastic regularization, active only in training mode
//   - Mlp, Attention, Block: the transformer building blocks
//
// Layer state follows PyTorch naming, so a model's StateDict keys match the
// checkpoints it was trained with.
package nn

// Module is the base interface for all network components.
//
// NamedParameters returns every parameter and buffer of the module and its
// children, qualified with prefix. Modules can be composed by passing
// Join(prefix, "child") to their children.
type Module interface {
	NamedParameters(prefix string) []Named
}

// Trainable is implemented by modules whose forward pass differs between
// training and evaluation (dropout, stochastic depth).
type Trainable interface {
	SetTraining(training bool)
}

// NumParameters counts the learned scalar parameters of m, excluding buffers.
func NumParameters(m Module) int {
	n := 0
	for _, p := range m.NamedParameters("") {
		if !p.Param.IsBuffer() {
			n += p.Param.Tensor().Len()
		}
	}
	return n
}
