package engine

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// vec returns vertex v as a 3D vector; 2D points get z = 0.
func (m *refMesh) vec(v uint32) r3.Vec {
	if m.kind.Dim() == 3 {
		return point3(m.d.Coords, v)
	}
	p := point2(m.d.Coords, v)
	return r3.Vec{X: p.X, Y: p.Y}
}

// ElemGammas is the inscribed to circumscribed radius ratio of every
// element, scaled so that the equilateral simplex gives 1. Edges give 1 and
// degenerate elements 0.
func (m *refMesh) ElemGammas() []float64 {
	out := make([]float64, m.NElems())
	m.fan.ParallelFor(len(out), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			e := m.elem(i)
			switch len(e) {
			case 2:
				out[i] = 1
			case 3:
				out[i] = triGamma(m.vec(e[0]), m.vec(e[1]), m.vec(e[2]))
			case 4:
				out[i] = tetGamma(m.vec(e[0]), m.vec(e[1]), m.vec(e[2]), m.vec(e[3]))
			}
		}
	})
	return out
}

func triGamma(a, b, c r3.Vec) float64 {
	la, lb, lc := r3.Norm(r3.Sub(b, c)), r3.Norm(r3.Sub(c, a)), r3.Norm(r3.Sub(a, b))
	area := 0.5 * r3.Norm(r3.Cross(r3.Sub(b, a), r3.Sub(c, a)))
	if area == 0 {
		return 0
	}
	r := 2 * area / (la + lb + lc)
	big := la * lb * lc / (4 * area)
	return 2 * r / big
}

func tetGamma(a, b, c, d r3.Vec) float64 {
	u, v, w := r3.Sub(b, a), r3.Sub(c, a), r3.Sub(d, a)
	det := r3.Dot(u, r3.Cross(v, w))
	if det == 0 {
		return 0
	}
	vol := math.Abs(det) / 6
	faces := 0.5 * (r3.Norm(r3.Cross(r3.Sub(c, b), r3.Sub(d, b))) +
		r3.Norm(r3.Cross(v, w)) + r3.Norm(r3.Cross(u, w)) + r3.Norm(r3.Cross(u, v)))
	r := 3 * vol / faces
	center := r3.Scale(1/(2*det), r3.Add(r3.Add(
		r3.Scale(r3.Dot(u, u), r3.Cross(v, w)),
		r3.Scale(r3.Dot(v, v), r3.Cross(w, u))),
		r3.Scale(r3.Dot(w, w), r3.Cross(u, v))))
	return 3 * r / r3.Norm(center)
}

// EdgeLengthRatios is the longest over the shortest edge of every element.
func (m *refMesh) EdgeLengthRatios() []float64 {
	out := make([]float64, m.NElems())
	m.fan.ParallelFor(len(out), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			e := m.elem(i)
			shortest, longest := math.Inf(1), 0.0
			for p := 0; p < len(e); p++ {
				for q := p + 1; q < len(e); q++ {
					l := r3.Norm(r3.Sub(m.vec(e[q]), m.vec(e[p])))
					shortest, longest = math.Min(shortest, l), math.Max(longest, l)
				}
			}
			out[i] = longest / shortest
		}
	})
	return out
}

// FaceSkewnesses reports, for every facet shared by exactly two elements,
// how far the facet center lies from the segment joining the two element
// centroids, relative to the length of that segment.
func (m *refMesh) FaceSkewnesses() (FaceSkewness, error) {
	if m.kind.ElemVerts() < 3 {
		return FaceSkewness{}, fmt.Errorf("face skewness: %s has no facets between elements", m.kind)
	}
	dim := m.kind.Dim()
	faces, order := m.elemFacesUnoriented()
	var out FaceSkewness
	off, dir := make([]float64, dim), make([]float64, dim)
	for _, k := range order {
		adj := faces[k]
		if len(adj) != 2 {
			continue
		}
		c0, c1 := m.centroid(m.elem(adj[0]), dim), m.centroid(m.elem(adj[1]), dim)
		nv := 0
		for nv < len(k) && k[nv] != math.MaxUint32 {
			nv++
		}
		fc := m.centroid(k[:nv], dim)
		floats.SubTo(dir, c1, c0)
		floats.SubTo(off, fc, c0)
		l2 := floats.Dot(dir, dir)
		if l2 == 0 {
			return FaceSkewness{}, fmt.Errorf("face skewness: elements %d and %d share a centroid", adj[0], adj[1])
		}
		floats.AddScaled(off, -floats.Dot(off, dir)/l2, dir)
		out.Pairs = append(out.Pairs, uint32(adj[0]), uint32(adj[1]))
		out.Values = append(out.Values, floats.Norm(off, 2)/math.Sqrt(l2))
	}
	return out, nil
}

// Qualities is the mean-ratio shape quality of every element measured in
// the vertex metric, with the element metric taken as the arithmetic mean
// of its vertex metrics.
func (m *refMesh) Qualities(metric Field) ([]float64, error) {
	if !m.kind.Remeshable() {
		return nil, fmt.Errorf("qualities: %s is not a volume mesh", m.kind)
	}
	if err := m.checkMetric(metric, m.NVerts(), "metric"); err != nil {
		return nil, err
	}
	dim, ev, c := m.kind.Dim(), m.kind.ElemVerts(), metric.Cols
	vols := m.Vols()
	out := make([]float64, m.NElems())
	m.fan.ParallelFor(len(out), func(lo, hi int) {
		avg := mat.NewSymDense(dim, nil)
		edge := mat.NewVecDense(dim, nil)
		for i := lo; i < hi; i++ {
			e := m.elem(i)
			avg.Zero()
			for _, v := range e {
				avg.AddSym(avg, symFromRow(metric.Data[int(v)*c:(int(v)+1)*c], dim))
			}
			avg.ScaleSym(1/float64(ev), avg)
			sum := 0.0
			for p := 0; p < ev; p++ {
				for q := p + 1; q < ev; q++ {
					for k := 0; k < dim; k++ {
						edge.SetVec(k, m.d.Coords[int(e[q])*dim+k]-m.d.Coords[int(e[p])*dim+k])
					}
					sum += mat.Inner(edge, avg, edge)
				}
			}
			det := mat.Det(avg)
			if sum == 0 || det <= 0 {
				continue
			}
			volM := math.Abs(vols[i]) * math.Sqrt(det)
			if dim == 2 {
				out[i] = 4 * math.Sqrt(3) * volM / sum
			} else {
				out[i] = 12 * math.Pow(3*volM, 2.0/3) / sum
			}
		}
	})
	return out, nil
}
