package marshal

import (
	"fmt"
	"strings"
)

// DType is a fixed-width numeric element type.
type DType uint8

const (
	Invalid DType = iota
	Float64
	Float32
	Uint32
	Int32
	Int64
	Uint64
	Int16
)

// Element is the set of Go element types a View may carry.
type Element interface {
	float64 | float32 | uint32 | int32 | int64 | uint64 | int16
}

func (d DType) String() string {
	switch d {
	case Float64:
		return "f64"
	case Float32:
		return "f32"
	case Uint32:
		return "u32"
	case Int32:
		return "i32"
	case Int64:
		return "i64"
	case Uint64:
		return "u64"
	case Int16:
		return "i16"
	default:
		return "invalid"
	}
}

// Size returns the element width in bytes.
func (d DType) Size() int {
	switch d {
	case Float64, Int64, Uint64:
		return 8
	case Float32, Uint32, Int32:
		return 4
	case Int16:
		return 2
	default:
		return 0
	}
}

// ParseDType accepts the short names used on the wire ("f64", "u32", ...) and
// the numpy spellings ("float64", "uint32", ...).
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "f64", "float64", "double":
		return Float64, nil
	case "f32", "float32", "float":
		return Float32, nil
	case "u32", "uint32":
		return Uint32, nil
	case "i32", "int32":
		return Int32, nil
	case "i64", "int64":
		return Int64, nil
	case "u64", "uint64":
		return Uint64, nil
	case "i16", "int16":
		return Int16, nil
	default:
		return Invalid, fmt.Errorf("unknown dtype %q", s)
	}
}

// DTypeOf returns the DType of T.
func DTypeOf[T Element]() DType {
	var zero T
	switch any(zero).(type) {
	case float64:
		return Float64
	case float32:
		return Float32
	case uint32:
		return Uint32
	case int32:
		return Int32
	case int64:
		return Int64
	case uint64:
		return Uint64
	case int16:
		return Int16
	}
	return Invalid
}

// sliceInfo returns the element count and dtype of a supported slice.
func sliceInfo(data any) (int, DType, bool) {
	switch s := data.(type) {
	case []float64:
		return len(s), Float64, true
	case []float32:
		return len(s), Float32, true
	case []uint32:
		return len(s), Uint32, true
	case []int32:
		return len(s), Int32, true
	case []int64:
		return len(s), Int64, true
	case []uint64:
		return len(s), Uint64, true
	case []int16:
		return len(s), Int16, true
	case nil:
		return 0, Invalid, true
	}
	return 0, Invalid, false
}
