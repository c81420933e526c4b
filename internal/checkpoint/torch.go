package checkpoint

import (
	"fmt"
	"log/slog"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"

	"github.com/born-ml/perceiver/internal/logutil"
	"github.com/born-ml/perceiver/internal/tensor"
)

// wrapperKeys are the entries training scripts commonly nest a state dict
// under.
var wrapperKeys = []string{"model", "state_dict", "model_ema"}

// ReadTorch reads a PyTorch checkpoint written by torch.save. The top level
// may be the state dict itself or a dict holding it under "model",
// "state_dict" or "model_ema". Non-tensor entries are skipped.
func ReadTorch(path string) (*StateDict, error) {
	obj, err := pytorch.Load(path)
	if err != nil {
		return nil, fmt.Errorf("error unpickling %s: %w", path, err)
	}

	entries, err := dictEntries(obj)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for _, key := range wrapperKeys {
		for _, e := range entries {
			if e.key != key {
				continue
			}
			if inner, err := dictEntries(e.value); err == nil {
				slog.Debug("unwrapping checkpoint", "key", key)
				entries = inner
			}
			break
		}
	}

	sd := NewStateDict()
	for _, e := range entries {
		pt, ok := e.value.(*pytorch.Tensor)
		if !ok {
			logutil.Trace("skipping non-tensor entry", "name", e.key, "type", fmt.Sprintf("%T", e.value))
			continue
		}
		t, err := fromTorch(pt)
		if err != nil {
			return nil, fmt.Errorf("tensor %s: %w", e.key, err)
		}
		sd.Set(e.key, t)
	}
	if sd.Len() == 0 {
		return nil, fmt.Errorf("%w: %s holds no tensors", ErrUnsupportedFormat, path)
	}
	return sd, nil
}

type entry struct {
	key   string
	value any
}

// dictEntries lists the string-keyed entries of a pickled dict or
// OrderedDict in order.
func dictEntries(obj any) ([]entry, error) {
	var out []entry
	switch d := obj.(type) {
	case *types.Dict:
		for _, k := range d.Keys() {
			if s, ok := k.(string); ok {
				out = append(out, entry{s, d.MustGet(k)})
			}
		}
	case *types.OrderedDict:
		for el := d.List.Front(); el != nil; el = el.Next() {
			e := el.Value.(*types.OrderedDictEntry)
			if s, ok := e.Key.(string); ok {
				out = append(out, entry{s, e.Value})
			}
		}
	default:
		return nil, fmt.Errorf("%w: top level is %T, not a dict", ErrUnsupportedFormat, obj)
	}
	return out, nil
}

// fromTorch copies a possibly strided torch tensor into a contiguous
// float32 tensor.
func fromTorch(pt *pytorch.Tensor) (*tensor.Tensor, error) {
	var at func(i int) float32
	switch s := pt.Source.(type) {
	case *pytorch.FloatStorage:
		at = func(i int) float32 { return s.Data[i] }
	case *pytorch.HalfStorage:
		at = func(i int) float32 { return s.Data[i] }
	case *pytorch.BFloat16Storage:
		at = func(i int) float32 { return s.Data[i] }
	case *pytorch.DoubleStorage:
		at = func(i int) float32 { return float32(s.Data[i]) }
	case *pytorch.LongStorage:
		at = func(i int) float32 { return float32(s.Data[i]) }
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedDType, s)
	}

	shape := tensor.Shape(append([]int(nil), pt.Size...))
	out := tensor.Zeros(shape...)
	data := out.Data()
	if len(data) == 0 {
		return out, nil
	}
	strides := pt.Stride
	if len(strides) != len(shape) {
		strides = shape.ComputeStrides()
	}
	idx := make([]int, len(shape))
	for i := range data {
		off := pt.StorageOffset
		for d, v := range idx {
			off += v * strides[d]
		}
		data[i] = at(off)
		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out, nil
}
