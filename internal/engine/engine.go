// Package engine defines the boundary to the mesh-adaptation engine.
//
// Two implementations exist. The reference engine (always built) is pure Go
// and covers the geometric utilities: volumes, boundary extraction, uniform
// splitting, face repair, validity checks, P0/P1 field transfer, VTK and STL
// I/O, Hilbert renumbering, quality reports and the closed-form part of the
// metric pipeline. The native engine (build tag "tucanos", requires cgo)
// links libtucanos for remeshing, partitioned remeshing, .meshb/.solb I/O,
// least-squares field operators and the iterative metric operators, and
// reuses the reference code for everything else.
//
// Engine calls are synchronous and not safe for concurrent use on the same
// Mesh. Internal fan-out goes through a Fanout, normally the process pool.
package engine

import (
	"encoding/json"
	"errors"
)

// ErrNotBuilt is returned by operations whose native backend is not linked
// into this binary.
var ErrNotBuilt = errors.New("engine: operation not built into this binary")

// MeshData is the flat, row-major content of a mesh.
type MeshData struct {
	Coords []float64 // n_verts * dim
	Elems  []uint32  // n_elems * elem_verts
	Etags  []int16   // n_elems
	Faces  []uint32  // n_faces * face_verts
	Ftags  []int16   // n_faces
}

// Clone returns a deep copy.
func (d MeshData) Clone() MeshData {
	return MeshData{
		Coords: append([]float64(nil), d.Coords...),
		Elems:  append([]uint32(nil), d.Elems...),
		Etags:  append([]int16(nil), d.Etags...),
		Faces:  append([]uint32(nil), d.Faces...),
		Ftags:  append([]int16(nil), d.Ftags...),
	}
}

// Field is a row-major (rows, Cols) array of float64.
type Field struct {
	Data []float64
	Cols int
}

// Rows is len(Data)/Cols.
func (f Field) Rows() int {
	if f.Cols <= 0 {
		return 0
	}
	return len(f.Data) / f.Cols
}

// FaceRepair reports what AddBoundaryFaces created. Boundary maps each new
// boundary face tag to the element tag it was created for. Interfaces maps
// each new interface face tag to the element tags on both sides.
type FaceRepair struct {
	Added      int               `json:"added"`
	Boundary   map[int16]int16   `json:"boundary"`
	Interfaces map[int16][]int16 `json:"interfaces"`
}

// Stats is the JSON report produced by a remeshing run.
type Stats = json.RawMessage

// Renumbering maps every old vertex, element and face index to its new one.
type Renumbering struct {
	Verts []uint32
	Elems []uint32
	Faces []uint32
}

// Subset gives, for every vertex, element and face of an extracted mesh, its
// index in the parent mesh.
type Subset struct {
	Verts []uint32
	Elems []uint32
	Faces []uint32
}

// FaceSkewness lists the skewness of every face shared by two elements.
// Pairs holds the two element ids of face i at 2i and 2i+1.
type FaceSkewness struct {
	Pairs  []uint32
	Values []float64
}

// MetricInfo summarizes a vertex metric field. Sizes are edge lengths the
// metric asks for. Complexity estimates the element count of a mesh
// adapted to the metric.
type MetricInfo struct {
	HMin       float64 `json:"h_min"`
	HMax       float64 `json:"h_max"`
	Anisotropy float64 `json:"anisotropy"`
	Complexity float64 `json:"complexity"`
}

// Engine creates meshes.
type Engine interface {
	Name() string
	NewMesh(kind Kind, data MeshData) (Mesh, error)
	ReadMeshb(kind Kind, path string) (Mesh, error)
	ReadSolb(path string) (Field, error)
	// ReadSTL reads an ASCII or binary .stl file as a Mesh32 with every
	// element tagged 1 and no faces.
	ReadSTL(path string) (Mesh, error)
}

// Mesh is an engine-owned mesh. Data returns copies; callers never share
// memory with the engine.
type Mesh interface {
	Kind() Kind
	NVerts() int
	NElems() int
	NFaces() int
	Data() MeshData

	Vols() []float64
	// Boundary extracts the boundary faces as a mesh of kind Kind().Boundary()
	// and returns, for each of its vertices, the vertex id in this mesh.
	Boundary() (Mesh, []uint32, error)
	// Split refines every element and face uniformly. Vertex and element
	// data attached to the mesh are not carried over.
	Split() (Mesh, error)
	// AddBoundaryFaces adds missing boundary and interface faces in place
	// and orients boundary faces outwards.
	AddBoundaryFaces() (FaceRepair, error)
	// Check validates the mesh: positive element volumes, tagged boundary
	// faces, tagged faces between element tags, no other tagged faces.
	Check() error

	ElemDataToVertexData(f Field) (Field, error)
	VertexDataToElemData(f Field) (Field, error)

	WriteVTK(path string, vertData, elemData map[string]Field) error
	WriteMeshb(path string) error
	WriteSolb(path string, f Field) error

	// WriteBoundaryVTK writes the boundary mesh without fields.
	WriteBoundaryVTK(path string) error

	Remesh(metric Field, p RemeshParams) (Mesh, Stats, error)
	ParallelRemesh(part Partition, nParts int, metric Field, p RemeshParams, dd DDParams) (Mesh, Stats, error)

	// ReorderHilbert renumbers vertices, elements and faces in place along
	// a Hilbert curve.
	ReorderHilbert() (Renumbering, error)
	// ExtractTags returns the elements whose tag is in tags, with the faces
	// whose vertices all belong to them.
	ExtractTags(tags []int16) (Mesh, Subset, error)
	// Autotag splits element tags into patches separated by a dihedral
	// angle above angleDeg. It returns the new tags of each old tag.
	Autotag(angleDeg float64) (map[int16][]int16, error)
	// TransferTags resets tags of dst from this mesh: the face tags of dst
	// when this mesh is its boundary kind, else its element tags.
	TransferTags(dst Mesh) error

	ElemGammas() []float64
	EdgeLengthRatios() []float64
	FaceSkewnesses() (FaceSkewness, error)
	// Qualities is the metric-space shape quality of every element, 1 for
	// a unit simplex.
	Qualities(metric Field) ([]float64, error)

	ImpliedMetric() (Field, error)
	ElemDataToVertexDataMetric(m Field) (Field, error)
	HessianToMetric(h Field, norm int) (Field, error)
	MetricInfo(m Field) (MetricInfo, error)
	ScaleMetric(m Field, p ScaleParams) (Field, error)
	SmoothMetric(m Field) (Field, error)
	ApplyMetricGradation(m Field, beta float64, nIter int) (Field, error)

	ComputeGradient(f Field, weightExp int) (Field, error)
	ComputeHessian(f Field, p HessianParams) (Field, error)
	SmoothField(f Field, weightExp int) (Field, error)
	InterpolateLinear(dst Mesh, f Field, tol float64) (Field, error)
	InterpolateNearest(dst Mesh, f Field) (Field, error)

	Close()
}

// Fanout runs fn over disjoint chunks of [0, n).
type Fanout interface {
	ParallelFor(n int, fn func(lo, hi int))
}

// Sequential is a Fanout that runs everything on the caller.
type Sequential struct{}

func (Sequential) ParallelFor(n int, fn func(lo, hi int)) {
	if n > 0 {
		fn(0, n)
	}
}

// Default returns the native engine when it is built, the reference engine
// otherwise.
func Default(fan Fanout) Engine { return newDefault(fan) }
