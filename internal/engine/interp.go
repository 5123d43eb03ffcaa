package engine

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// vertPoint is a mesh vertex in a kd-tree.
type vertPoint struct {
	x  []float64
	id int
}

func (p vertPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return p.x[d] - c.(vertPoint).x[d]
}

func (p vertPoint) Dims() int { return len(p.x) }

func (p vertPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(vertPoint)
	s := 0.0
	for i, x := range p.x {
		d := x - q.x[i]
		s += d * d
	}
	return s
}

type vertPoints []vertPoint

func (p vertPoints) Index(i int) kdtree.Comparable { return p[i] }
func (p vertPoints) Len() int                      { return len(p) }
func (p vertPoints) Slice(start, end int) kdtree.Interface {
	return p[start:end]
}

func (p vertPoints) Pivot(d kdtree.Dim) int {
	pl := vertPlane{Dim: d, pts: p}
	return kdtree.Partition(pl, kdtree.MedianOfRandoms(pl, 100))
}

// vertPlane sorts points along one axis for partitioning.
type vertPlane struct {
	kdtree.Dim
	pts vertPoints
}

func (p vertPlane) Less(i, j int) bool { return p.pts[i].x[p.Dim] < p.pts[j].x[p.Dim] }
func (p vertPlane) Len() int           { return len(p.pts) }
func (p vertPlane) Swap(i, j int)      { p.pts[i], p.pts[j] = p.pts[j], p.pts[i] }
func (p vertPlane) Slice(start, end int) kdtree.SortSlicer {
	p.pts = p.pts[start:end]
	return p
}

// vertTree indexes the vertices of the mesh.
func (m *refMesh) vertTree() *kdtree.Tree {
	dim := m.kind.Dim()
	pts := make(vertPoints, m.NVerts())
	for i := range pts {
		pts[i] = vertPoint{x: m.d.Coords[i*dim : (i+1)*dim], id: i}
	}
	return kdtree.New(pts, false)
}

// InterpolateNearest gives every vertex of dst the value of f at the
// nearest vertex of this mesh.
func (m *refMesh) InterpolateNearest(dst Mesh, f Field) (Field, error) {
	if f.Cols <= 0 || f.Rows() != m.NVerts() || len(f.Data) != f.Rows()*f.Cols {
		return Field{}, fmt.Errorf("vertex data: expected (%d, m) values, got %d with m=%d", m.NVerts(), len(f.Data), f.Cols)
	}
	if dst.Kind().Dim() != m.kind.Dim() {
		return Field{}, fmt.Errorf("interpolate: %s and %s differ in dimension", m.kind, dst.Kind())
	}
	if m.NVerts() == 0 {
		return Field{}, fmt.Errorf("interpolate: %s has no vertices", m.kind)
	}
	tree := m.vertTree()
	dim, c := m.kind.Dim(), f.Cols
	coords := dst.Data().Coords
	n := len(coords) / dim
	out := make([]float64, n*c)
	m.fan.ParallelFor(n, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			got, _ := tree.Nearest(vertPoint{x: coords[i*dim : (i+1)*dim]})
			src := got.(vertPoint).id
			copy(out[i*c:(i+1)*c], f.Data[src*c:(src+1)*c])
		}
	})
	logf(LevelDebug, "meshd::engine", "nearest interpolation %s -> %s: %d verts", m.kind, dst.Kind(), n)
	return Field{Data: out, Cols: c}, nil
}

// The least-squares operators, linear interpolation and tag transfer need
// the native engine.

func (m *refMesh) ComputeGradient(Field, int) (Field, error)             { return Field{}, ErrNotBuilt }
func (m *refMesh) ComputeHessian(Field, HessianParams) (Field, error)    { return Field{}, ErrNotBuilt }
func (m *refMesh) SmoothField(Field, int) (Field, error)                 { return Field{}, ErrNotBuilt }
func (m *refMesh) InterpolateLinear(Mesh, Field, float64) (Field, error) { return Field{}, ErrNotBuilt }
func (m *refMesh) TransferTags(Mesh) error                               { return ErrNotBuilt }
