package engine

import (
	"fmt"
	"strings"
)

// Kind identifies a simplex mesh type by ambient dimension and element type.
type Kind int

const (
	KindInvalid Kind = iota
	// Mesh33 is tetrahedra in 3D.
	Mesh33
	// Mesh32 is triangles in 3D (surface meshes).
	Mesh32
	// Mesh31 is edges in 3D.
	Mesh31
	// Mesh22 is triangles in 2D.
	Mesh22
	// Mesh21 is edges in 2D.
	Mesh21
)

// Kinds lists every valid kind.
var Kinds = []Kind{Mesh33, Mesh32, Mesh31, Mesh22, Mesh21}

type kindInfo struct {
	name      string
	dim       int
	elemVerts int
	boundary  Kind
}

var kindTable = map[Kind]kindInfo{
	Mesh33: {"Mesh33", 3, 4, Mesh32},
	Mesh32: {"Mesh32", 3, 3, Mesh31},
	Mesh31: {"Mesh31", 3, 2, KindInvalid},
	Mesh22: {"Mesh22", 2, 3, Mesh21},
	Mesh21: {"Mesh21", 2, 2, KindInvalid},
}

func (k Kind) String() string {
	if ki, ok := kindTable[k]; ok {
		return ki.name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Valid reports whether k is one of Kinds.
func (k Kind) Valid() bool {
	_, ok := kindTable[k]
	return ok
}

// Dim is the number of coordinates per vertex.
func (k Kind) Dim() int { return kindTable[k].dim }

// ElemVerts is the number of vertices per element.
func (k Kind) ElemVerts() int { return kindTable[k].elemVerts }

// FaceVerts is the number of vertices per boundary face. Faces of edge meshes
// are single vertices.
func (k Kind) FaceVerts() int { return kindTable[k].elemVerts - 1 }

// Boundary is the kind of the mesh made of k's faces. Edge meshes have no
// mesh-valued boundary.
func (k Kind) Boundary() (Kind, bool) {
	b := kindTable[k].boundary
	return b, b != KindInvalid
}

// Remeshable reports whether the native remesher accepts k.
func (k Kind) Remeshable() bool { return k == Mesh22 || k == Mesh33 }

// MetricCols returns the accepted metric widths for k: 1 for isotropic and
// dim*(dim+1)/2 for anisotropic metrics.
func (k Kind) MetricCols() (iso, aniso int) {
	d := k.Dim()
	return 1, d * (d + 1) / 2
}

// ParseKind accepts "Mesh33", "mesh33" or "33".
func ParseKind(s string) (Kind, error) {
	t := strings.ToLower(strings.TrimSpace(s))
	t = strings.TrimPrefix(t, "mesh")
	for k, ki := range kindTable {
		if strings.TrimPrefix(strings.ToLower(ki.name), "mesh") == t {
			return k, nil
		}
	}
	return KindInvalid, fmt.Errorf("unknown mesh kind %q", s)
}
