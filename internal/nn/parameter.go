package nn

import (
	"github.com/born-ml/perceiver/internal/tensor"
)

// Parameter is a named tensor owned by a module.
//
// Parameters hold learned weights as well as non-learned buffers such as
// BatchNorm running statistics; both appear in state dicts.
//
// Example:
//
//	weight := nn.NewParameter("weight", tensor.Zeros(128, 64))
//	w := weight.Tensor()
type Parameter struct {
	name   string         // Local name (e.g., "weight", "running_mean")
	tensor *tensor.Tensor // The parameter tensor
	buffer bool           // True for non-learned state
}

// NewParameter creates a learned parameter.
func NewParameter(name string, t *tensor.Tensor) *Parameter {
	return &Parameter{name: name, tensor: t}
}

// NewBuffer creates a non-learned state tensor.
func NewBuffer(name string, t *tensor.Tensor) *Parameter {
	return &Parameter{name: name, tensor: t, buffer: true}
}

// Name returns the parameter's local name.
func (p *Parameter) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter) Tensor() *tensor.Tensor {
	return p.tensor
}

// IsBuffer reports whether the parameter is non-learned state.
func (p *Parameter) IsBuffer() bool {
	return p.buffer
}

// Named pairs a parameter with its fully qualified dotted path, for example
// "blocks.3.attn.qkv.weight".
type Named struct {
	Name  string
	Param *Parameter
}

// Join builds a dotted path, skipping empty components.
func Join(prefix, name string) string {
	switch {
	case prefix == "":
		return name
	case name == "":
		return prefix
	default:
		return prefix + "." + name
	}
}

// collect qualifies the non-nil parameters with prefix.
func collect(prefix string, params ...*Parameter) []Named {
	out := make([]Named, 0, len(params))
	for _, p := range params {
		if p != nil {
			out = append(out, Named{Name: Join(prefix, p.name), Param: p})
		}
	}
	return out
}
