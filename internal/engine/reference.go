package engine

import (
	"fmt"
)

// Reference is the pure-Go engine. It never needs cgo.
type Reference struct {
	fan Fanout
}

// NewReference returns a reference engine that fans out on fan. A nil fan
// runs everything on the caller.
func NewReference(fan Fanout) *Reference {
	if fan == nil {
		fan = Sequential{}
	}
	return &Reference{fan: fan}
}

func (r *Reference) Name() string { return "reference" }

// NewMesh copies data into a new mesh after checking that the arrays are
// consistent with kind.
func (r *Reference) NewMesh(kind Kind, data MeshData) (Mesh, error) {
	m, err := newRefMesh(kind, data.Clone(), r.fan)
	if err != nil {
		return nil, err
	}
	m.lift = func(x *refMesh) Mesh { return x }
	logf(LevelDebug, "meshd::engine", "new %s: %d verts, %d elems, %d faces", kind, m.NVerts(), m.NElems(), m.NFaces())
	return m, nil
}

func (r *Reference) ReadMeshb(Kind, string) (Mesh, error) { return nil, ErrNotBuilt }

func (r *Reference) ReadSolb(string) (Field, error) { return Field{}, ErrNotBuilt }

// refMesh holds the mesh data in Go memory.
type refMesh struct {
	kind Kind
	d    MeshData
	fan  Fanout
	// lift wraps meshes derived from this one (boundary, split) so that they
	// keep the concrete type of the engine that created the parent.
	lift func(*refMesh) Mesh
}

func newRefMesh(kind Kind, d MeshData, fan Fanout) (*refMesh, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid mesh kind %d", int(kind))
	}
	dim, ev, fv := kind.Dim(), kind.ElemVerts(), kind.FaceVerts()
	switch {
	case len(d.Coords)%dim != 0:
		return nil, fmt.Errorf("%s: %d coordinates is not a multiple of %d", kind, len(d.Coords), dim)
	case len(d.Elems)%ev != 0 || len(d.Elems)/ev != len(d.Etags):
		return nil, fmt.Errorf("%s: %d element indices do not match %d element tags", kind, len(d.Elems), len(d.Etags))
	case len(d.Faces)%fv != 0 || len(d.Faces)/fv != len(d.Ftags):
		return nil, fmt.Errorf("%s: %d face indices do not match %d face tags", kind, len(d.Faces), len(d.Ftags))
	}
	n := uint32(len(d.Coords) / dim)
	for _, idx := range [][]uint32{d.Elems, d.Faces} {
		for _, v := range idx {
			if v >= n {
				return nil, fmt.Errorf("%s: vertex index %d out of range (%d vertices)", kind, v, n)
			}
		}
	}
	return &refMesh{kind: kind, d: d, fan: fan}, nil
}

func (m *refMesh) derive(kind Kind, d MeshData) Mesh {
	return m.lift(&refMesh{kind: kind, d: d, fan: m.fan, lift: m.lift})
}

func (m *refMesh) Kind() Kind     { return m.kind }
func (m *refMesh) NVerts() int    { return len(m.d.Coords) / m.kind.Dim() }
func (m *refMesh) NElems() int    { return len(m.d.Etags) }
func (m *refMesh) NFaces() int    { return len(m.d.Ftags) }
func (m *refMesh) Data() MeshData { return m.d.Clone() }
func (m *refMesh) Close()         {}

func (m *refMesh) elem(i int) []uint32 {
	ev := m.kind.ElemVerts()
	return m.d.Elems[i*ev : (i+1)*ev]
}

func (m *refMesh) face(i int) []uint32 {
	fv := m.kind.FaceVerts()
	return m.d.Faces[i*fv : (i+1)*fv]
}

func (m *refMesh) Vols() []float64 {
	out := make([]float64, m.NElems())
	m.fan.ParallelFor(len(out), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			out[i] = elemVol(m.kind, m.d.Coords, m.elem(i))
		}
	})
	return out
}

func (m *refMesh) Boundary() (Mesh, []uint32, error) {
	bk, ok := m.kind.Boundary()
	if !ok {
		return nil, nil, fmt.Errorf("%s has no mesh-valued boundary", m.kind)
	}
	dim := m.kind.Dim()
	used := make([]bool, m.NVerts())
	for _, v := range m.d.Faces {
		used[v] = true
	}
	renum := make([]uint32, m.NVerts())
	var parent []uint32
	var coords []float64
	for v, u := range used {
		if !u {
			continue
		}
		renum[v] = uint32(len(parent))
		parent = append(parent, uint32(v))
		coords = append(coords, m.d.Coords[v*dim:(v+1)*dim]...)
	}
	elems := make([]uint32, len(m.d.Faces))
	for i, v := range m.d.Faces {
		elems[i] = renum[v]
	}
	bdy := MeshData{
		Coords: coords,
		Elems:  elems,
		Etags:  append([]int16(nil), m.d.Ftags...),
	}
	logf(LevelDebug, "meshd::engine", "boundary of %s: %d faces, %d verts", m.kind, len(bdy.Etags), len(parent))
	return m.derive(bk, bdy), parent, nil
}

// WriteMeshb, WriteSolb and the remeshers need the native engine.

func (m *refMesh) WriteMeshb(string) error       { return ErrNotBuilt }
func (m *refMesh) WriteSolb(string, Field) error { return ErrNotBuilt }

func (m *refMesh) Remesh(Field, RemeshParams) (Mesh, Stats, error) {
	return nil, nil, ErrNotBuilt
}

func (m *refMesh) ParallelRemesh(Partition, int, Field, RemeshParams, DDParams) (Mesh, Stats, error) {
	return nil, nil, ErrNotBuilt
}
