package nn

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/born-ml/perceiver/internal/tensor"
)

// State dict errors.
var (
	ErrMissingKey    = errors.New("missing key")
	ErrUnexpectedKey = errors.New("unexpected key")
	ErrShapeMismatch = errors.New("shape mismatch")
)

// KeyError reports state dict keys that did not line up with a module.
type KeyError struct {
	Missing    []string
	Unexpected []string
}

func (e *KeyError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing keys: %s", strings.Join(e.Missing, ", ")))
	}
	if len(e.Unexpected) > 0 {
		parts = append(parts, fmt.Sprintf("unexpected keys: %s", strings.Join(e.Unexpected, ", ")))
	}
	return "error loading state dict: " + strings.Join(parts, "; ")
}

// Unwrap lets errors.Is match ErrMissingKey and ErrUnexpectedKey.
func (e *KeyError) Unwrap() []error {
	var errs []error
	if len(e.Missing) > 0 {
		errs = append(errs, ErrMissingKey)
	}
	if len(e.Unexpected) > 0 {
		errs = append(errs, ErrUnexpectedKey)
	}
	return errs
}

// Source is a read-only view over named tensors, such as a checkpoint.
type Source interface {
	Get(name string) (*tensor.Tensor, bool)
	Keys() []string
}

// StateDict returns m's tensors keyed by dotted name. The tensors are shared
// with the module, not copied.
func StateDict(m Module) map[string]*tensor.Tensor {
	params := m.NamedParameters("")
	sd := make(map[string]*tensor.Tensor, len(params))
	for _, p := range params {
		sd[p.Name] = p.Param.Tensor()
	}
	return sd
}

// LoadStateDict copies tensors from src into m's parameters.
//
// Shapes must match exactly; a mismatch is returned as ErrShapeMismatch.
// With strict set, any parameter absent from src or any key of src that m
// does not own fails the load with a *KeyError. Without strict, absent
// parameters keep their current values and extra keys are ignored.
//
// Returns the missing and unexpected keys in both modes.
func LoadStateDict(m Module, src Source, strict bool) (missing, unexpected []string, err error) {
	params := m.NamedParameters("")
	own := make(map[string]struct{}, len(params))
	for _, p := range params {
		own[p.Name] = struct{}{}
		t, ok := src.Get(p.Name)
		if !ok {
			missing = append(missing, p.Name)
			continue
		}
		dst := p.Param.Tensor()
		if !t.Shape().Equal(dst.Shape()) {
			return nil, nil, fmt.Errorf("%w for %s: expected %v, got %v", ErrShapeMismatch, p.Name, dst.Shape(), t.Shape())
		}
		dst.CopyFrom(t)
	}
	for _, k := range src.Keys() {
		if _, ok := own[k]; !ok {
			unexpected = append(unexpected, k)
		}
	}
	slices.Sort(missing)
	slices.Sort(unexpected)
	if strict && (len(missing) > 0 || len(unexpected) > 0) {
		return missing, unexpected, &KeyError{Missing: missing, Unexpected: unexpected}
	}
	return missing, unexpected, nil
}

// MapSource adapts a plain map to Source.
type MapSource map[string]*tensor.Tensor

// Get returns the tensor stored under name.
func (m MapSource) Get(name string) (*tensor.Tensor, bool) {
	t, ok := m[name]
	return t, ok
}

// Keys returns the map's keys in sorted order.
func (m MapSource) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
