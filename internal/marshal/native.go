package marshal

// Buffer is a validated, engine-ready array. Its data is either the host's
// own slice (zero-copy, capacity clipped so the engine cannot append into host
// memory) or one deep copy when the host layout was strided.
type Buffer struct {
	DType  DType
	Shape  []int
	Data   any
	Copied bool
}

// Rows is the leading dimension.
func (b Buffer) Rows() int {
	if len(b.Shape) == 0 {
		return 0
	}
	return b.Shape[0]
}

// Cols is the trailing dimension of a rank-2 buffer, 1 for rank 1.
func (b Buffer) Cols() int {
	if len(b.Shape) < 2 {
		return 1
	}
	return b.Shape[1]
}

// Slice returns the buffer data as []T, or nil when T does not match.
func Slice[T Element](b Buffer) []T {
	s, _ := b.Data.([]T)
	return s
}

// Expect states what an entry point accepts for one argument.
type Expect struct {
	Arg   string
	Rank  int
	DType DType
	// Cols, when > 0, fixes the trailing dimension of a rank-2 array.
	Cols int
	// Rows, when >= 0 and Match is set, fixes the leading dimension.
	Rows  int
	Match bool
}

// ToNative validates v against an exact rank and dtype and returns an
// engine-ready buffer. No widening or narrowing is ever applied.
func ToNative(v View, rank int, dtype DType) (Buffer, error) {
	return Convert(v, Expect{Rank: rank, DType: dtype})
}

// Convert is ToNative with argument naming and optional fixed dimensions.
func Convert(v View, e Expect) (Buffer, error) {
	n, actual, ok := sliceInfo(v.Data)
	if !ok {
		return Buffer{}, newError(KindInvalidData, e.Arg, "unsupported element container %T", v.Data)
	}
	if v.DType != e.DType {
		return Buffer{}, newError(KindTypeMismatch, e.Arg, "expected %s, got %s", e.DType, v.DType)
	}
	if v.Data != nil && actual != v.DType {
		return Buffer{}, newError(KindInvalidData, e.Arg, "view declares %s but holds %s data", v.DType, actual)
	}
	if len(v.Shape) != e.Rank {
		return Buffer{}, newError(KindRankMismatch, e.Arg, "expected rank %d, got %d", e.Rank, len(v.Shape))
	}
	for i, d := range v.Shape {
		if d < 0 {
			return Buffer{}, newError(KindShapeMismatch, e.Arg, "negative dimension %d at axis %d", d, i)
		}
	}
	if e.Rank == 2 && e.Cols > 0 && v.Shape[1] != e.Cols {
		return Buffer{}, newError(KindShapeMismatch, e.Arg, "invalid dimension 1: expected %d, got %d", e.Cols, v.Shape[1])
	}
	if e.Match && e.Rank >= 1 && v.Shape[0] != e.Rows {
		return Buffer{}, newError(KindShapeMismatch, e.Arg, "invalid dimension 0: expected %d, got %d", e.Rows, v.Shape[0])
	}

	total, ok := numElems(v.Shape)
	if !ok {
		return Buffer{}, newError(KindShapeMismatch, e.Arg, "shape %v overflows the addressable element count", v.Shape)
	}
	if _, ok := mulInt(total, e.DType.Size()); !ok {
		return Buffer{}, newError(KindShapeMismatch, e.Arg, "shape %v overflows the addressable byte count", v.Shape)
	}
	shape := append([]int(nil), v.Shape...)
	if v.Contiguous() {
		if n != total {
			return Buffer{}, newError(KindShapeMismatch, e.Arg, "shape %v needs %d elements, buffer has %d", v.Shape, total, n)
		}
		return Buffer{DType: e.DType, Shape: shape, Data: clip(v.Data, total)}, nil
	}

	if len(v.Strides) != len(v.Shape) {
		return Buffer{}, newError(KindShapeMismatch, e.Arg, "strides %v do not match rank %d", v.Strides, len(v.Shape))
	}
	if total > 0 {
		last := 0
		for i, s := range v.Strides {
			if s < 0 {
				return Buffer{}, newError(KindShapeMismatch, e.Arg, "negative stride %d at axis %d", s, i)
			}
			reach, ok := mulInt(v.Shape[i]-1, s)
			if ok {
				last, ok = addInt(last, reach)
			}
			if !ok {
				return Buffer{}, newError(KindShapeMismatch, e.Arg, "strides %v overflow the addressable element range", v.Strides)
			}
		}
		if last >= n {
			return Buffer{}, newError(KindOutOfBounds, e.Arg, "strided layout reaches element %d, buffer has %d", last, n)
		}
	}
	return Buffer{DType: e.DType, Shape: shape, Data: gatherAny(v.Data, v.Shape, v.Strides), Copied: true}, nil
}

// FromNative wraps an engine-produced slice as a row-major host view. With
// cols == 0 the view is rank 1. Ownership of data passes to the host.
func FromNative[T Element](data []T, cols int) View {
	if cols <= 0 {
		return NewView(data)
	}
	return NewView(data, len(data)/cols, cols)
}

func clip(data any, n int) any {
	switch s := data.(type) {
	case []float64:
		return s[:n:n]
	case []float32:
		return s[:n:n]
	case []uint32:
		return s[:n:n]
	case []int32:
		return s[:n:n]
	case []int64:
		return s[:n:n]
	case []uint64:
		return s[:n:n]
	case []int16:
		return s[:n:n]
	}
	return data
}

func gatherAny(data any, shape, strides []int) any {
	switch s := data.(type) {
	case []float64:
		return gather(s, shape, strides)
	case []float32:
		return gather(s, shape, strides)
	case []uint32:
		return gather(s, shape, strides)
	case []int32:
		return gather(s, shape, strides)
	case []int64:
		return gather(s, shape, strides)
	case []uint64:
		return gather(s, shape, strides)
	case []int16:
		return gather(s, shape, strides)
	}
	return nil
}

// gather copies a strided layout into a fresh row-major slice.
func gather[T Element](src []T, shape, strides []int) []T {
	total, _ := numElems(shape)
	out := make([]T, total)
	if total == 0 {
		return out
	}
	idx := make([]int, len(shape))
	off := 0
	for k := 0; k < total; k++ {
		out[k] = src[off]
		// Advance the multi-index, last axis fastest.
		for ax := len(shape) - 1; ax >= 0; ax-- {
			idx[ax]++
			off += strides[ax]
			if idx[ax] < shape[ax] {
				break
			}
			off -= idx[ax] * strides[ax]
			idx[ax] = 0
		}
	}
	return out
}
