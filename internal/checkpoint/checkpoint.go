// Package checkpoint reads, converts and adapts pretrained weights.
//
// Checkpoints are PyTorch pickles (.pth, zip or legacy format) or
// safetensors files. Every tensor is decoded to float32 and kept in an
// insertion-ordered StateDict that can be loaded into a model directly.
package checkpoint

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/born-ml/perceiver/internal/nn"
	"github.com/born-ml/perceiver/internal/tensor"
)

var (
	// ErrUnsupportedFormat is returned for files that are neither a PyTorch
	// pickle nor safetensors.
	ErrUnsupportedFormat = errors.New("unsupported checkpoint format")
	// ErrUnsupportedDType is returned for tensor element types that cannot
	// be converted to float32.
	ErrUnsupportedDType = errors.New("unsupported dtype")
	// ErrHashMismatch is returned when a download does not match the hash
	// prefix in its file name.
	ErrHashMismatch = errors.New("hash mismatch")
	// ErrShapeMismatch is nn.ErrShapeMismatch, for tensors that cannot be
	// fitted to the model.
	ErrShapeMismatch = nn.ErrShapeMismatch
)

// StateDict is an ordered collection of named tensors. It implements
// nn.Source.
type StateDict struct {
	om *orderedmap.OrderedMap[string, *tensor.Tensor]
}

// NewStateDict returns an empty StateDict.
func NewStateDict() *StateDict {
	return &StateDict{om: orderedmap.New[string, *tensor.Tensor]()}
}

// FromModule captures m's tensors in parameter order. The tensors are shared
// with the module.
func FromModule(m nn.Module) *StateDict {
	sd := NewStateDict()
	for _, p := range m.NamedParameters("") {
		sd.Set(p.Name, p.Param.Tensor())
	}
	return sd
}

// Get returns the tensor stored under name.
func (s *StateDict) Get(name string) (*tensor.Tensor, bool) {
	return s.om.Get(name)
}

// Set stores t under name. An existing entry keeps its position.
func (s *StateDict) Set(name string, t *tensor.Tensor) {
	s.om.Set(name, t)
}

// Delete removes name and reports whether it was present.
func (s *StateDict) Delete(name string) bool {
	_, ok := s.om.Delete(name)
	return ok
}

// Len returns the number of tensors.
func (s *StateDict) Len() int { return s.om.Len() }

// Keys returns the names in insertion order.
func (s *StateDict) Keys() []string {
	keys := make([]string, 0, s.om.Len())
	for pair := s.om.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// All iterates over the entries in insertion order.
func (s *StateDict) All() iter.Seq2[string, *tensor.Tensor] {
	return func(yield func(string, *tensor.Tensor) bool) {
		for pair := s.om.Oldest(); pair != nil; pair = pair.Next() {
			if !yield(pair.Key, pair.Value) {
				return
			}
		}
	}
}

// NumElements returns the total number of values across all tensors.
func (s *StateDict) NumElements() int {
	n := 0
	for _, t := range s.All() {
		n += t.Len()
	}
	return n
}

// Read loads a checkpoint, choosing the reader from the file's contents:
// zip archives and pickles go to ReadTorch, everything with a .safetensors
// extension to ReadSafetensors.
func Read(path string) (*StateDict, error) {
	if strings.EqualFold(filepath.Ext(path), ".safetensors") {
		sd, _, err := ReadSafetensors(path)
		return sd, err
	}

	//nolint:gosec // G304: checkpoint paths are user supplied.
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	magic, err := bufio.NewReader(f).Peek(4)
	_ = f.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnsupportedFormat, path, err)
	}

	switch {
	case bytes.HasPrefix(magic, []byte("PK\x03\x04")), magic[0] == 0x80:
		return ReadTorch(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}
