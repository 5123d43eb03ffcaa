package engine

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Metric rows are either one size h (the metric h^-2 I) or the upper
// triangle of an SPD matrix: (m00, m11, m01) in 2D and
// (m00, m11, m22, m01, m12, m02) in 3D.

// idealVol is the volume of the unit equilateral element of each dimension.
var idealVol = map[int]float64{2: math.Sqrt(3) / 4, 3: math.Sqrt2 / 12}

func symFromRow(row []float64, dim int) *mat.SymDense {
	s := mat.NewSymDense(dim, nil)
	if len(row) == 1 {
		v := 1 / (row[0] * row[0])
		for i := 0; i < dim; i++ {
			s.SetSym(i, i, v)
		}
		return s
	}
	if dim == 2 {
		s.SetSym(0, 0, row[0])
		s.SetSym(1, 1, row[1])
		s.SetSym(0, 1, row[2])
		return s
	}
	s.SetSym(0, 0, row[0])
	s.SetSym(1, 1, row[1])
	s.SetSym(2, 2, row[2])
	s.SetSym(0, 1, row[3])
	s.SetSym(1, 2, row[4])
	s.SetSym(0, 2, row[5])
	return s
}

func rowFromSym(s mat.Symmetric, dst []float64) {
	if s.SymmetricDim() == 2 {
		dst[0], dst[1], dst[2] = s.At(0, 0), s.At(1, 1), s.At(0, 1)
		return
	}
	dst[0], dst[1], dst[2] = s.At(0, 0), s.At(1, 1), s.At(2, 2)
	dst[3], dst[4], dst[5] = s.At(0, 1), s.At(1, 2), s.At(0, 2)
}

// mapEigen returns V diag(fn(l)) V^T for the eigendecomposition V diag(l) V^T
// of s.
func mapEigen(s mat.Symmetric, fn func(float64) float64) (*mat.SymDense, []float64, error) {
	var es mat.EigenSym
	if !es.Factorize(s, true) {
		return nil, nil, errors.New("eigendecomposition did not converge")
	}
	vals := es.Values(nil)
	var vecs mat.Dense
	es.VectorsTo(&vecs)
	n := len(vals)
	out := mat.NewSymDense(n, nil)
	for i, l := range vals {
		out.SymRankOne(out, fn(l), vecs.ColView(i))
	}
	return out, vals, nil
}

// eigenvalues of one metric row.
func metricEigen(row []float64, dim int) ([]float64, error) {
	if len(row) == 1 {
		if !(row[0] > 0) {
			return nil, fmt.Errorf("size %g is not positive", row[0])
		}
		v := 1 / (row[0] * row[0])
		out := make([]float64, dim)
		for i := range out {
			out[i] = v
		}
		return out, nil
	}
	var es mat.EigenSym
	if !es.Factorize(symFromRow(row, dim), false) {
		return nil, errors.New("eigendecomposition did not converge")
	}
	vals := es.Values(nil)
	for _, l := range vals {
		if !(l > 0) {
			return nil, fmt.Errorf("eigenvalue %g is not positive", l)
		}
	}
	return vals, nil
}

func (m *refMesh) checkMetric(f Field, rows int, what string) error {
	iso, aniso := m.kind.MetricCols()
	if f.Cols != iso && f.Cols != aniso {
		return fmt.Errorf("%s: %d columns, want %d or %d", what, f.Cols, iso, aniso)
	}
	if len(f.Data) != rows*f.Cols {
		return fmt.Errorf("%s: %d values, want %d x %d", what, len(f.Data), rows, f.Cols)
	}
	return nil
}

// ImpliedMetric is the metric in which every element is the unit
// equilateral simplex, averaged at the vertices in log-Euclidean space.
func (m *refMesh) ImpliedMetric() (Field, error) {
	if !m.kind.Remeshable() {
		return Field{}, fmt.Errorf("implied metric: %s is not a volume mesh", m.kind)
	}
	dim, ev := m.kind.Dim(), m.kind.ElemVerts()
	_, n := m.kind.MetricCols()
	out := make([]float64, m.NElems()*n)
	errs := make([]error, m.NElems())
	m.fan.ParallelFor(m.NElems(), func(lo, hi int) {
		a := mat.NewDense(n, n, nil)
		b := mat.NewVecDense(n, nil)
		var x mat.VecDense
		for i := lo; i < hi; i++ {
			e := m.elem(i)
			r := 0
			for p := 0; p < ev; p++ {
				for q := p + 1; q < ev; q++ {
					d := make([]float64, dim)
					for c := range d {
						d[c] = m.d.Coords[int(e[q])*dim+c] - m.d.Coords[int(e[p])*dim+c]
					}
					if dim == 2 {
						a.SetRow(r, []float64{d[0] * d[0], d[1] * d[1], 2 * d[0] * d[1]})
					} else {
						a.SetRow(r, []float64{d[0] * d[0], d[1] * d[1], d[2] * d[2],
							2 * d[0] * d[1], 2 * d[1] * d[2], 2 * d[0] * d[2]})
					}
					b.SetVec(r, 1)
					r++
				}
			}
			if err := x.SolveVec(a, b); err != nil {
				errs[i] = fmt.Errorf("implied metric: element %d is degenerate: %w", i, err)
				continue
			}
			for c := 0; c < n; c++ {
				out[i*n+c] = x.AtVec(c)
			}
		}
	})
	if err := errors.Join(errs...); err != nil {
		return Field{}, err
	}
	return m.ElemDataToVertexDataMetric(Field{Data: out, Cols: n})
}

// ElemDataToVertexDataMetric averages an element metric at the vertices
// with the volume weights of ElemDataToVertexData, in log-Euclidean space.
// Vertices outside every element get the identity.
func (m *refMesh) ElemDataToVertexDataMetric(f Field) (Field, error) {
	if err := m.checkMetric(f, m.NElems(), "element metric"); err != nil {
		return Field{}, err
	}
	logs, err := m.mapMetric(f, math.Log)
	if err != nil {
		return Field{}, err
	}
	avg, err := m.ElemDataToVertexData(logs)
	if err != nil {
		return Field{}, err
	}
	return m.mapMetric(avg, math.Exp)
}

// mapMetric applies fn to every metric row. Iso rows map the size h, which
// keeps log and exp consistent with the matrix form since log(h^-2) = -2 log h.
func (m *refMesh) mapMetric(f Field, fn func(float64) float64) (Field, error) {
	dim, c := m.kind.Dim(), f.Cols
	out := make([]float64, len(f.Data))
	errs := make([]error, f.Rows())
	m.fan.ParallelFor(f.Rows(), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			row := f.Data[i*c : (i+1)*c]
			if c == 1 {
				out[i] = fn(row[0])
				continue
			}
			s, _, err := mapEigen(symFromRow(row, dim), fn)
			if err != nil {
				errs[i] = fmt.Errorf("metric row %d: %w", i, err)
				continue
			}
			rowFromSym(s, out[i*c:(i+1)*c])
		}
	})
	if err := errors.Join(errs...); err != nil {
		return Field{}, err
	}
	for i, x := range out {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return Field{}, fmt.Errorf("metric row %d is not positive definite", i/c)
		}
	}
	return Field{Data: out, Cols: c}, nil
}

// hessianFloor is the smallest eigenvalue kept, relative to the largest one
// at the same vertex.
const hessianFloor = 1e-12

// HessianToMetric turns a vertex Hessian into a metric by taking absolute
// eigenvalues. When norm > 0 the result is the optimal metric for the
// interpolation error in the L^norm norm, det(|H|)^(-1/(2 norm + dim)) |H|.
func (m *refMesh) HessianToMetric(h Field, norm int) (Field, error) {
	dim := m.kind.Dim()
	_, n := m.kind.MetricCols()
	if h.Cols != n || len(h.Data) != m.NVerts()*n {
		return Field{}, fmt.Errorf("hessian: expected (%d, %d) values, got %d with m=%d", m.NVerts(), n, len(h.Data), h.Cols)
	}
	exp := 0.0
	if norm > 0 {
		exp = -1 / float64(2*norm+dim)
	}
	out := make([]float64, len(h.Data))
	errs := make([]error, m.NVerts())
	m.fan.ParallelFor(m.NVerts(), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			s := symFromRow(h.Data[i*n:(i+1)*n], dim)
			var es mat.EigenSym
			if !es.Factorize(s, false) {
				errs[i] = fmt.Errorf("hessian row %d: eigendecomposition did not converge", i)
				continue
			}
			top := 0.0
			for _, l := range es.Values(nil) {
				top = math.Max(top, math.Abs(l))
			}
			if top == 0 {
				errs[i] = fmt.Errorf("hessian row %d is zero", i)
				continue
			}
			floor := hessianFloor * top
			det := 1.0
			abs := func(l float64) float64 {
				v := math.Max(math.Abs(l), floor)
				det *= v
				return v
			}
			r, _, err := mapEigen(s, abs)
			if err != nil {
				errs[i] = fmt.Errorf("hessian row %d: %w", i, err)
				continue
			}
			if exp != 0 {
				r.ScaleSym(math.Pow(det, exp), r)
			}
			rowFromSym(r, out[i*n:(i+1)*n])
		}
	})
	if err := errors.Join(errs...); err != nil {
		return Field{}, err
	}
	return Field{Data: out, Cols: n}, nil
}

// MetricInfo reports the extreme sizes and anisotropy of a vertex metric
// and its complexity, the integral of sqrt(det M) over the mesh divided by
// the volume of the unit element.
func (m *refMesh) MetricInfo(f Field) (MetricInfo, error) {
	if !m.kind.Remeshable() {
		return MetricInfo{}, fmt.Errorf("metric info: %s is not a volume mesh", m.kind)
	}
	if err := m.checkMetric(f, m.NVerts(), "metric"); err != nil {
		return MetricInfo{}, err
	}
	dim, c := m.kind.Dim(), f.Cols
	info := MetricInfo{HMin: math.Inf(1), HMax: 0, Anisotropy: 1}
	density := make([]float64, m.NVerts())
	for i := range density {
		vals, err := metricEigen(f.Data[i*c:(i+1)*c], dim)
		if err != nil {
			return MetricInfo{}, fmt.Errorf("metric row %d: %w", i, err)
		}
		lo, hi, det := math.Inf(1), 0.0, 1.0
		for _, l := range vals {
			lo, hi = math.Min(lo, l), math.Max(hi, l)
			det *= l
		}
		info.HMin = math.Min(info.HMin, 1/math.Sqrt(hi))
		info.HMax = math.Max(info.HMax, 1/math.Sqrt(lo))
		info.Anisotropy = math.Max(info.Anisotropy, math.Sqrt(hi/lo))
		density[i] = math.Sqrt(det)
	}
	if len(density) == 0 {
		info.HMin = 0
	}
	ev := float64(m.kind.ElemVerts())
	for i, v := range m.Vols() {
		d := 0.0
		for _, p := range m.elem(i) {
			d += density[p]
		}
		info.Complexity += math.Abs(v) * d / ev
	}
	info.Complexity /= idealVol[dim]
	return info, nil
}

// The iterative metric operators need the native engine.

func (m *refMesh) ScaleMetric(Field, ScaleParams) (Field, error) { return Field{}, ErrNotBuilt }
func (m *refMesh) SmoothMetric(Field) (Field, error)             { return Field{}, ErrNotBuilt }

func (m *refMesh) ApplyMetricGradation(Field, float64, int) (Field, error) {
	return Field{}, ErrNotBuilt
}
