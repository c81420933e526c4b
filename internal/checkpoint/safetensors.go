package checkpoint

import (
	"bufio"
	"cmp"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"slices"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"

	"github.com/born-ml/perceiver/internal/tensor"
)

// SafeTensors format:
// [8 bytes: header_size (uint64 LE)]
// [header_size bytes: JSON header]
// [tensor data: raw bytes]

const maxHeaderSize = 100 * 1024 * 1024

// TensorInfo describes one tensor in a safetensors header.
type TensorInfo struct {
	DType       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"` // [start, end) relative to the data section
}

// header is the JSON header of a safetensors file.
type header struct {
	Metadata map[string]string
	Tensors  map[string]TensorInfo
}

// UnmarshalJSON splits __metadata__ from the tensor entries.
func (h *header) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if m, ok := raw["__metadata__"]; ok {
		if err := json.Unmarshal(m, &h.Metadata); err != nil {
			return fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		delete(raw, "__metadata__")
	}
	h.Tensors = make(map[string]TensorInfo, len(raw))
	for name, v := range raw {
		var info TensorInfo
		if err := json.Unmarshal(v, &info); err != nil {
			return fmt.Errorf("failed to unmarshal tensor %s: %w", name, err)
		}
		h.Tensors[name] = info
	}
	return nil
}

// ReadSafetensors reads every tensor of a safetensors file, converting
// F32, F16, BF16, F64, I64 and I32 data to float32. Tensors are ordered
// by their position in the file.
func ReadSafetensors(path string) (*StateDict, map[string]string, error) {
	//nolint:gosec // G304: checkpoint paths are user supplied.
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	var size uint64
	if err := binary.Read(f, binary.LittleEndian, &size); err != nil {
		return nil, nil, fmt.Errorf("failed to read header size: %w", err)
	}
	if size > maxHeaderSize {
		return nil, nil, fmt.Errorf("invalid header size: %d (too large)", size)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}
	var h header
	if err := json.Unmarshal(buf, &h); err != nil {
		return nil, nil, fmt.Errorf("failed to parse header JSON: %w", err)
	}

	names := make([]string, 0, len(h.Tensors))
	for name := range h.Tensors {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int {
		return cmp.Compare(h.Tensors[a].DataOffsets[0], h.Tensors[b].DataOffsets[0])
	})

	dataStart := int64(8 + size) //nolint:gosec // G115: header size is bounded above.
	sd := NewStateDict()
	for _, name := range names {
		info := h.Tensors[name]
		t, err := readTensor(f, dataStart, info)
		if err != nil {
			return nil, nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		sd.Set(name, t)
	}
	return sd, h.Metadata, nil
}

func readTensor(r io.ReadSeeker, dataStart int64, info TensorInfo) (*tensor.Tensor, error) {
	dt, err := tensor.ParseDataType(info.DType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedDType, err)
	}
	shape := tensor.Shape(info.Shape)
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	n := shape.NumElements()
	nbytes := info.DataOffsets[1] - info.DataOffsets[0]
	if nbytes != int64(n*dt.Size()) {
		return nil, fmt.Errorf("%d bytes for %v %s", nbytes, shape, dt)
	}
	if _, err := r.Seek(dataStart+info.DataOffsets[0], io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to tensor data: %w", err)
	}
	raw := make([]byte, nbytes)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("failed to read tensor data: %w", err)
	}

	data := make([]float32, n)
	le := binary.LittleEndian
	switch dt {
	case tensor.Float32:
		for i := range data {
			data[i] = math.Float32frombits(le.Uint32(raw[4*i:]))
		}
	case tensor.Float16:
		for i := range data {
			data[i] = float16.Frombits(le.Uint16(raw[2*i:])).Float32()
		}
	case tensor.BFloat16:
		data = bfloat16.DecodeFloat32(raw)
	case tensor.Float64:
		for i := range data {
			data[i] = float32(math.Float64frombits(le.Uint64(raw[8*i:])))
		}
	case tensor.Int64:
		for i := range data {
			data[i] = float32(int64(le.Uint64(raw[8*i:]))) //nolint:gosec // G115: two's complement reinterpretation.
		}
	case tensor.Int32:
		for i := range data {
			data[i] = float32(int32(le.Uint32(raw[4*i:]))) //nolint:gosec // G115: two's complement reinterpretation.
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDType, dt)
	}
	return tensor.New(shape, data), nil
}

// WriteSafetensors writes sd to path in insertion order. dtype selects
// Float32 or Float16 storage.
func WriteSafetensors(path string, sd *StateDict, metadata map[string]string, dtype tensor.DataType) error {
	if dtype != tensor.Float32 && dtype != tensor.Float16 {
		return fmt.Errorf("%w: cannot write %s tensors", ErrUnsupportedDType, dtype)
	}

	hdr := make(map[string]any, sd.Len()+1)
	if len(metadata) > 0 {
		hdr["__metadata__"] = metadata
	}
	var offset int64
	for name, t := range sd.All() {
		n := int64(t.Len() * dtype.Size())
		hdr[name] = TensorInfo{DType: dtype.Tag(), Shape: t.Shape(), DataOffsets: [2]int64{offset, offset + n}}
		offset += n
	}
	js, err := json.Marshal(hdr)
	if err != nil {
		return err
	}
	// Pad the header with spaces to an 8-byte boundary.
	for len(js)%8 != 0 {
		js = append(js, ' ')
	}

	//nolint:gosec // G304: output path is user supplied.
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := writeSafetensors(w, js, sd, dtype); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func writeSafetensors(w *bufio.Writer, hdr []byte, sd *StateDict, dtype tensor.DataType) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(len(hdr))); err != nil {
		return err
	}
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	for _, t := range sd.All() {
		switch dtype {
		case tensor.Float16:
			f16s := make([]uint16, t.Len())
			for i, v := range t.Data() {
				f16s[i] = float16.Fromfloat32(v).Bits()
			}
			if err := binary.Write(w, binary.LittleEndian, f16s); err != nil {
				return err
			}
		default:
			if err := binary.Write(w, binary.LittleEndian, t.Data()); err != nil {
				return err
			}
		}
	}
	return w.Flush()
}
