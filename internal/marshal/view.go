package marshal

import (
	"math"
	"math/bits"
)

// View describes a host-owned numerical buffer. The binding borrows it for
// the duration of a single conversion and never keeps a reference.
type View struct {
	DType DType
	Shape []int
	// Strides are per-dimension element strides. Nil means row-major
	// contiguous.
	Strides []int
	// Data is one of the slice types in Element.
	Data any
}

// NewView wraps data as a row-major view with the given shape. With no shape
// the view is rank 1 over the whole slice.
func NewView[T Element](data []T, shape ...int) View {
	if len(shape) == 0 {
		shape = []int{len(data)}
	}
	return View{DType: DTypeOf[T](), Shape: append([]int(nil), shape...), Data: data}
}

// Rank is the number of dimensions.
func (v View) Rank() int { return len(v.Shape) }

// Len is the number of elements described by the shape, or -1 when the
// product does not fit in an int.
func (v View) Len() int {
	n, ok := numElems(v.Shape)
	if !ok {
		return -1
	}
	return n
}

// Contiguous reports whether the layout is row-major without gaps.
func (v View) Contiguous() bool {
	if v.Strides == nil {
		return true
	}
	if len(v.Strides) != len(v.Shape) {
		return false
	}
	want := 1
	for i := len(v.Shape) - 1; i >= 0; i-- {
		// A dimension of size 1 may carry any stride.
		if v.Shape[i] != 1 && v.Strides[i] != want {
			return false
		}
		want *= v.Shape[i]
	}
	return true
}

// Values returns the view's slice as []T, or nil when T does not match.
func Values[T Element](v View) []T {
	s, _ := v.Data.([]T)
	return s
}

// numElems is the shape product. It reports false for a negative dimension
// or when the product overflows int.
func numElems(shape []int) (int, bool) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, false
		}
		var ok bool
		if n, ok = mulInt(n, d); !ok {
			return 0, false
		}
	}
	return n, true
}

// mulInt multiplies two non-negative ints, reporting false on overflow.
func mulInt(a, b int) (int, bool) {
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi != 0 || lo > math.MaxInt {
		return 0, false
	}
	return int(lo), true
}

// addInt adds two non-negative ints, reporting false on overflow.
func addInt(a, b int) (int, bool) {
	if a > math.MaxInt-b {
		return 0, false
	}
	return a + b, true
}
