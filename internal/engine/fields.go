package engine

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ElemDataToVertexData converts a P0 field to P1 with a volume-weighted
// average over the elements around each vertex. Vertices that belong to no
// element get zeros.
func (m *refMesh) ElemDataToVertexData(f Field) (Field, error) {
	if f.Cols <= 0 || f.Rows() != m.NElems() || len(f.Data) != f.Rows()*f.Cols {
		return Field{}, fmt.Errorf("element data: expected (%d, m) values, got %d with m=%d", m.NElems(), len(f.Data), f.Cols)
	}
	nv, ev, c := m.NVerts(), m.kind.ElemVerts(), f.Cols
	vols := m.Vols()
	out := make([]float64, nv*c)
	weight := make([]float64, nv)
	for i := 0; i < m.NElems(); i++ {
		w := math.Abs(vols[i]) / float64(ev)
		row := f.Data[i*c : (i+1)*c]
		for _, v := range m.elem(i) {
			floats.AddScaled(out[int(v)*c:(int(v)+1)*c], w, row)
			weight[v] += w
		}
	}
	m.fan.ParallelFor(nv, func(lo, hi int) {
		for v := lo; v < hi; v++ {
			if weight[v] > 0 {
				floats.Scale(1/weight[v], out[v*c:(v+1)*c])
			}
		}
	})
	return Field{Data: out, Cols: c}, nil
}

// VertexDataToElemData converts a P1 field to P0 by averaging the values at
// each element's vertices.
func (m *refMesh) VertexDataToElemData(f Field) (Field, error) {
	if f.Cols <= 0 || f.Rows() != m.NVerts() || len(f.Data) != f.Rows()*f.Cols {
		return Field{}, fmt.Errorf("vertex data: expected (%d, m) values, got %d with m=%d", m.NVerts(), len(f.Data), f.Cols)
	}
	ne, ev, c := m.NElems(), m.kind.ElemVerts(), f.Cols
	out := make([]float64, ne*c)
	m.fan.ParallelFor(ne, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			row := out[i*c : (i+1)*c]
			for _, v := range m.elem(i) {
				floats.Add(row, f.Data[int(v)*c:(int(v)+1)*c])
			}
			floats.Scale(1/float64(ev), row)
		}
	})
	return Field{Data: out, Cols: c}, nil
}
