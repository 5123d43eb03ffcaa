package marshal

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"unsafe"
)

var littleEndianHost = func() bool {
	x := uint16(1)
	return *(*byte)(unsafe.Pointer(&x)) == 1
}()

// FromBytes interprets b as little-endian elements of dtype laid out
// row-major with the given shape. On little-endian hosts an aligned buffer is
// reinterpreted in place; otherwise it is decoded into a fresh slice.
func FromBytes(dtype DType, shape []int, b []byte) (View, error) {
	size := dtype.Size()
	if size == 0 {
		return View{}, newError(KindInvalidData, "", "unsupported dtype %s", dtype)
	}
	for i, d := range shape {
		if d < 0 {
			return View{}, newError(KindShapeMismatch, "", "negative dimension %d at axis %d", d, i)
		}
	}
	n, ok := numElems(shape)
	if !ok {
		return View{}, newError(KindShapeMismatch, "", "shape %v overflows the addressable element count", shape)
	}
	want, ok := mulInt(n, size)
	if !ok {
		return View{}, newError(KindShapeMismatch, "", "shape %v overflows the addressable byte count", shape)
	}
	if len(b) != want {
		return View{}, newError(KindShapeMismatch, "", "shape %v needs %d bytes, got %d", shape, want, len(b))
	}
	v := View{DType: dtype, Shape: append([]int(nil), shape...)}
	if n == 0 {
		v.Data = emptySlice(dtype)
		return v, nil
	}
	inPlace := littleEndianHost && uintptr(unsafe.Pointer(&b[0]))%uintptr(size) == 0
	switch dtype {
	case Float64:
		v.Data = decode(b, n, inPlace, func(p []byte) float64 { return math.Float64frombits(binary.LittleEndian.Uint64(p)) })
	case Float32:
		v.Data = decode(b, n, inPlace, func(p []byte) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(p)) })
	case Uint32:
		v.Data = decode(b, n, inPlace, func(p []byte) uint32 { return binary.LittleEndian.Uint32(p) })
	case Int32:
		v.Data = decode(b, n, inPlace, func(p []byte) int32 { return int32(binary.LittleEndian.Uint32(p)) })
	case Int64:
		v.Data = decode(b, n, inPlace, func(p []byte) int64 { return int64(binary.LittleEndian.Uint64(p)) })
	case Uint64:
		v.Data = decode(b, n, inPlace, func(p []byte) uint64 { return binary.LittleEndian.Uint64(p) })
	case Int16:
		v.Data = decode(b, n, inPlace, func(p []byte) int16 { return int16(binary.LittleEndian.Uint16(p)) })
	}
	return v, nil
}

func decode[T Element](b []byte, n int, inPlace bool, get func([]byte) T) []T {
	if inPlace {
		return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), n)
	}
	var zero T
	size := int(unsafe.Sizeof(zero))
	out := make([]T, n)
	for i := range out {
		out[i] = get(b[i*size : (i+1)*size])
	}
	return out
}

// Bytes encodes the view's elements as little-endian bytes in row-major
// order. Strided views are gathered first.
func (v View) Bytes() []byte {
	data := v.Data
	if !v.Contiguous() {
		data = gatherAny(v.Data, v.Shape, v.Strides)
	}
	n, dt, _ := sliceInfo(data)
	size := dt.Size()
	out := make([]byte, n*size)
	switch s := data.(type) {
	case []float64:
		for i, x := range s {
			binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(x))
		}
	case []float32:
		for i, x := range s {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(x))
		}
	case []uint32:
		for i, x := range s {
			binary.LittleEndian.PutUint32(out[i*4:], x)
		}
	case []int32:
		for i, x := range s {
			binary.LittleEndian.PutUint32(out[i*4:], uint32(x))
		}
	case []int64:
		for i, x := range s {
			binary.LittleEndian.PutUint64(out[i*8:], uint64(x))
		}
	case []uint64:
		for i, x := range s {
			binary.LittleEndian.PutUint64(out[i*8:], x)
		}
	case []int16:
		for i, x := range s {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(x))
		}
	}
	return out
}

// DecodeJSON decodes a JSON number array into a slice of dtype. Values that
// do not fit the element type are rejected by encoding/json.
func DecodeJSON(dtype DType, raw json.RawMessage) (any, error) {
	var (
		out any
		err error
	)
	switch dtype {
	case Float64:
		var s []float64
		err = json.Unmarshal(raw, &s)
		out = s
	case Float32:
		var s []float32
		err = json.Unmarshal(raw, &s)
		out = s
	case Uint32:
		var s []uint32
		err = json.Unmarshal(raw, &s)
		out = s
	case Int32:
		var s []int32
		err = json.Unmarshal(raw, &s)
		out = s
	case Int64:
		var s []int64
		err = json.Unmarshal(raw, &s)
		out = s
	case Uint64:
		var s []uint64
		err = json.Unmarshal(raw, &s)
		out = s
	case Int16:
		var s []int16
		err = json.Unmarshal(raw, &s)
		out = s
	default:
		return nil, newError(KindInvalidData, "", "unsupported dtype %s", dtype)
	}
	if err != nil {
		return nil, newError(KindInvalidData, "", "decode %s array: %v", dtype, err)
	}
	return out, nil
}

func emptySlice(dtype DType) any {
	switch dtype {
	case Float64:
		return []float64{}
	case Float32:
		return []float32{}
	case Uint32:
		return []uint32{}
	case Int32:
		return []int32{}
	case Int64:
		return []int64{}
	case Uint64:
		return []uint64{}
	case Int16:
		return []int16{}
	}
	return nil
}
