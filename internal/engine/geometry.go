package engine

import (
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// localFaces lists, per element size, the faces of a positively oriented
// element with their vertices ordered so that normals point outwards.
var localFaces = map[int][][]int{
	4: {{1, 2, 3}, {0, 3, 2}, {0, 1, 3}, {0, 2, 1}},
	3: {{0, 1}, {1, 2}, {2, 0}},
	2: {{0}, {1}},
}

func point3(coords []float64, i uint32) r3.Vec {
	o := int(i) * 3
	return r3.Vec{X: coords[o], Y: coords[o+1], Z: coords[o+2]}
}

func point2(coords []float64, i uint32) r2.Vec {
	o := int(i) * 2
	return r2.Vec{X: coords[o], Y: coords[o+1]}
}

// elemVol is the measure of one element: signed volume for tetrahedra,
// signed area for planar triangles, area for surface triangles and length
// for edges.
func elemVol(k Kind, coords []float64, e []uint32) float64 {
	switch k {
	case Mesh33:
		a := point3(coords, e[0])
		return r3.Dot(r3.Sub(point3(coords, e[1]), a),
			r3.Cross(r3.Sub(point3(coords, e[2]), a), r3.Sub(point3(coords, e[3]), a))) / 6
	case Mesh32:
		a := point3(coords, e[0])
		return 0.5 * r3.Norm(r3.Cross(r3.Sub(point3(coords, e[1]), a), r3.Sub(point3(coords, e[2]), a)))
	case Mesh31:
		return r3.Norm(r3.Sub(point3(coords, e[1]), point3(coords, e[0])))
	case Mesh22:
		a := point2(coords, e[0])
		return 0.5 * r2.Cross(r2.Sub(point2(coords, e[1]), a), r2.Sub(point2(coords, e[2]), a))
	case Mesh21:
		return r2.Norm(r2.Sub(point2(coords, e[1]), point2(coords, e[0])))
	}
	return 0
}

// oriented reports whether the measure of k carries an orientation sign.
func oriented(k Kind) bool { return k == Mesh33 || k == Mesh22 }
