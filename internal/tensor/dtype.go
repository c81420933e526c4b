package tensor

import "fmt"

// DataType describes the storage type of a tensor on disk. In memory every
// tensor is float32; DataType records what a checkpoint held.
type DataType int

// Supported data types.
const (
	Float32 DataType = iota
	Float16
	BFloat16
	Float64
	Int64
	Int32
	Uint8
	Bool
)

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32, Int32:
		return 4
	case Float16, BFloat16:
		return 2
	case Float64, Int64:
		return 8
	case Uint8, Bool:
		return 1
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	case BFloat16:
		return "bfloat16"
	case Float64:
		return "float64"
	case Int64:
		return "int64"
	case Int32:
		return "int32"
	case Uint8:
		return "uint8"
	case Bool:
		return "bool"
	default:
		return "unknown"
	}
}

// ParseDataType maps a safetensors dtype tag (F32, F16, BF16, ...) to a DataType.
func ParseDataType(s string) (DataType, error) {
	switch s {
	case "F32":
		return Float32, nil
	case "F16":
		return Float16, nil
	case "BF16":
		return BFloat16, nil
	case "F64":
		return Float64, nil
	case "I64":
		return Int64, nil
	case "I32":
		return Int32, nil
	case "U8":
		return Uint8, nil
	case "BOOL":
		return Bool, nil
	default:
		return 0, fmt.Errorf("unsupported dtype %q", s)
	}
}

// Tag returns the safetensors dtype tag for the data type.
func (dt DataType) Tag() string {
	switch dt {
	case Float32:
		return "F32"
	case Float16:
		return "F16"
	case BFloat16:
		return "BF16"
	case Float64:
		return "F64"
	case Int64:
		return "I64"
	case Int32:
		return "I32"
	case Uint8:
		return "U8"
	case Bool:
		return "BOOL"
	default:
		return "unknown"
	}
}
