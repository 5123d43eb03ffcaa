package marshal

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToNative_ZeroCopyContiguous(t *testing.T) {
	host := []float64{0, 1, 2, 3, 4, 5}
	buf, err := ToNative(NewView(host, 2, 3), 2, Float64)
	require.NoError(t, err)
	assert.False(t, buf.Copied)
	got := Slice[float64](buf)
	require.Len(t, got, 6)
	assert.Same(t, &host[0], &got[0], "contiguous input must not be copied")
	assert.Equal(t, 6, cap(got))
	assert.Equal(t, 2, buf.Rows())
	assert.Equal(t, 3, buf.Cols())
}

func TestToNative_CapacityIsClipped(t *testing.T) {
	host := make([]uint32, 4, 16)
	buf, err := ToNative(NewView(host, 2, 2), 2, Uint32)
	require.NoError(t, err)
	s := Slice[uint32](buf)
	s = append(s, 99)
	assert.Equal(t, uint32(0), host[:5][4], "append on the native side must not write into host memory")
	assert.Len(t, s, 5)
}

func TestToNative_StridedCopies(t *testing.T) {
	// A (3, 2) view over the first two columns of a (3, 3) row-major array.
	host := []float64{
		0, 1, 2,
		3, 4, 5,
		6, 7, 8,
	}
	v := View{DType: Float64, Shape: []int{3, 2}, Strides: []int{3, 1}, Data: host}
	require.False(t, v.Contiguous())

	buf, err := ToNative(v, 2, Float64)
	require.NoError(t, err)
	assert.True(t, buf.Copied)
	assert.Equal(t, []float64{0, 1, 3, 4, 6, 7}, Slice[float64](buf))
	assert.Equal(t, []float64{0, 1, 2, 3, 4, 5, 6, 7, 8}, host, "host buffer must not change")
}

func TestToNative_TransposedView(t *testing.T) {
	host := []int16{1, 2, 3, 4, 5, 6} // (2, 3) row-major
	v := View{DType: Int16, Shape: []int{3, 2}, Strides: []int{1, 3}, Data: host}
	buf, err := ToNative(v, 2, Int16)
	require.NoError(t, err)
	assert.Equal(t, []int16{1, 4, 2, 5, 3, 6}, Slice[int16](buf))
}

func TestToNative_Rejects(t *testing.T) {
	cases := map[string]struct {
		view  View
		rank  int
		dtype DType
		kind  Kind
	}{
		"dtype": {
			view: NewView([]int64{1, 2}, 2), rank: 1, dtype: Uint32, kind: KindTypeMismatch,
		},
		"no widening f32->f64": {
			view: NewView([]float32{1}, 1, 1), rank: 2, dtype: Float64, kind: KindTypeMismatch,
		},
		"rank": {
			view: NewView([]float64{1, 2, 3}, 3), rank: 2, dtype: Float64, kind: KindRankMismatch,
		},
		"negative dim": {
			view: View{DType: Float64, Shape: []int{-1, 3}, Data: []float64{}}, rank: 2, dtype: Float64, kind: KindShapeMismatch,
		},
		"length": {
			view: View{DType: Float64, Shape: []int{2, 3}, Data: []float64{1, 2, 3}}, rank: 2, dtype: Float64, kind: KindShapeMismatch,
		},
		"declared dtype lies": {
			view: View{DType: Float64, Shape: []int{1}, Data: []float32{1}}, rank: 1, dtype: Float64, kind: KindInvalidData,
		},
		"unsupported container": {
			view: View{DType: Float64, Shape: []int{1}, Data: []int{1}}, rank: 1, dtype: Float64, kind: KindInvalidData,
		},
		"strides past end": {
			view: View{DType: Float64, Shape: []int{2, 2}, Strides: []int{4, 1}, Data: []float64{1, 2, 3, 4}}, rank: 2, dtype: Float64, kind: KindOutOfBounds,
		},
		"element count overflows": {
			view: View{DType: Float64, Shape: []int{4, 1 << 62}, Data: []float64{}}, rank: 2, dtype: Float64, kind: KindShapeMismatch,
		},
		"byte count overflows": {
			view: View{DType: Float64, Shape: []int{1, 1 << 62}, Data: []float64{}}, rank: 2, dtype: Float64, kind: KindShapeMismatch,
		},
		"stride reach overflows": {
			view: View{DType: Float64, Shape: []int{5}, Strides: []int{1 << 62}, Data: []float64{1}}, rank: 1, dtype: Float64, kind: KindShapeMismatch,
		},
		"stride reach sums past int": {
			view: View{DType: Float64, Shape: []int{2, 2}, Strides: []int{math.MaxInt, 1}, Data: []float64{1}}, rank: 2, dtype: Float64, kind: KindShapeMismatch,
		},
		"strides wrong rank": {
			view: View{DType: Float64, Shape: []int{2, 2}, Strides: []int{1}, Data: []float64{1, 2, 3, 4}}, rank: 2, dtype: Float64, kind: KindShapeMismatch,
		},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ToNative(c.view, c.rank, c.dtype)
			require.Error(t, err)
			assert.True(t, IsValidation(err))
			assert.Equal(t, c.kind, KindOf(err))
		})
	}
}

func TestConvert_HugeStrideDoesNotPanic(t *testing.T) {
	v := View{DType: Uint32, Shape: []int{5}, Strides: []int{1 << 62}, Data: []uint32{1}}
	require.NotPanics(t, func() {
		_, err := Convert(v, Expect{Arg: "tags", Rank: 1, DType: Uint32})
		require.Error(t, err)
		assert.True(t, IsValidation(err))
	})
}

func TestView_LenOverflow(t *testing.T) {
	assert.Equal(t, -1, View{Shape: []int{4, 1 << 62}}.Len())
	assert.Equal(t, 12, View{Shape: []int{3, 4}}.Len())
}

func TestConvert_FixedDims(t *testing.T) {
	v := NewView([]float64{1, 2, 3, 4}, 2, 2)
	_, err := Convert(v, Expect{Arg: "m", Rank: 2, DType: Float64, Cols: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at m")
	assert.Contains(t, err.Error(), "invalid dimension 1")

	_, err = Convert(v, Expect{Arg: "m", Rank: 2, DType: Float64, Rows: 5, Match: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid dimension 0")

	_, err = Convert(v, Expect{Arg: "m", Rank: 2, DType: Float64, Cols: 2, Rows: 2, Match: true})
	require.NoError(t, err)
}

func TestRoundTrip(t *testing.T) {
	coords := []float64{0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0, 1}
	buf, err := ToNative(NewView(coords, 4, 3), 2, Float64)
	require.NoError(t, err)

	identity := func(in []float64) []float64 { return append([]float64(nil), in...) }
	out := FromNative(identity(Slice[float64](buf)), buf.Cols())

	assert.Equal(t, []int{4, 3}, out.Shape)
	assert.Equal(t, Float64, out.DType)
	assert.Equal(t, coords, Values[float64](out))
}

func TestRoundTrip_StridedIsNormalized(t *testing.T) {
	host := []uint32{0, 9, 1, 9, 2, 9}
	v := View{DType: Uint32, Shape: []int{3}, Strides: []int{2}, Data: host}
	buf, err := ToNative(v, 1, Uint32)
	require.NoError(t, err)
	out := FromNative(Slice[uint32](buf), 0)
	assert.Equal(t, []int{3}, out.Shape)
	assert.Equal(t, []uint32{0, 1, 2}, Values[uint32](out))
	assert.True(t, out.Contiguous())
}

func TestEmptyArrays(t *testing.T) {
	buf, err := ToNative(NewView([]uint32{}, 0, 2), 2, Uint32)
	require.NoError(t, err)
	assert.Equal(t, 0, buf.Rows())

	buf, err = ToNative(View{DType: Int16, Shape: []int{0}}, 1, Int16)
	require.NoError(t, err)
	assert.Nil(t, Slice[int16](buf))
}

func TestParseDType(t *testing.T) {
	for in, want := range map[string]DType{"f64": Float64, "float32": Float32, "u32": Uint32, " INT16 ": Int16} {
		got, err := ParseDType(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, got, mustParse(t, got.String()))
	}
	_, err := ParseDType("complex128")
	assert.Error(t, err)
}

func mustParse(t *testing.T, s string) DType {
	t.Helper()
	d, err := ParseDType(s)
	require.NoError(t, err)
	return d
}
