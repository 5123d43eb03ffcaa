package engine

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// faceKey identifies a face regardless of vertex order. Unused slots hold
// math.MaxUint32.
type faceKey [3]uint32

func keyOf(vs []uint32) faceKey {
	k := faceKey{math.MaxUint32, math.MaxUint32, math.MaxUint32}
	copy(k[:], vs)
	s := k[:len(vs)]
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	return k
}

// elemFace is one face of one element, ordered outwards.
type elemFace struct {
	elem  int
	verts []uint32
}

// elemFaces maps every distinct element face to the elements that share it.
func (m *refMesh) elemFaces() (map[faceKey][]elemFace, []faceKey) {
	ev := m.kind.ElemVerts()
	local := localFaces[ev]
	sign := m.orientations()
	faces := make(map[faceKey][]elemFace, m.NElems()*len(local)/2+1)
	var order []faceKey
	for i := 0; i < m.NElems(); i++ {
		e := m.elem(i)
		for _, lf := range local {
			vs := make([]uint32, len(lf))
			for j, l := range lf {
				vs[j] = e[l]
			}
			if sign[i] < 0 && len(vs) > 1 {
				vs[0], vs[1] = vs[1], vs[0]
			}
			k := keyOf(vs)
			if _, seen := faces[k]; !seen {
				order = append(order, k)
			}
			faces[k] = append(faces[k], elemFace{elem: i, verts: vs})
		}
	}
	return faces, order
}

// orientations returns +1 or -1 per element. Unoriented kinds are all +1.
func (m *refMesh) orientations() []float64 {
	out := make([]float64, m.NElems())
	if !oriented(m.kind) {
		for i := range out {
			out[i] = 1
		}
		return out
	}
	for i, v := range m.Vols() {
		out[i] = math.Copysign(1, v)
	}
	return out
}

// Split refines uniformly: edges into 2, triangles into 4, tetrahedra into 8.
// New vertices are edge midpoints, numbered after the existing vertices in
// order of first use.
func (m *refMesh) Split() (Mesh, error) {
	dim := m.kind.Dim()
	coords := append([]float64(nil), m.d.Coords...)
	mids := make(map[[2]uint32]uint32)
	mid := func(a, b uint32) uint32 {
		if a > b {
			a, b = b, a
		}
		k := [2]uint32{a, b}
		if id, ok := mids[k]; ok {
			return id
		}
		id := uint32(len(coords) / dim)
		for c := 0; c < dim; c++ {
			coords = append(coords, 0.5*(m.d.Coords[int(a)*dim+c]+m.d.Coords[int(b)*dim+c]))
		}
		mids[k] = id
		return id
	}

	var out MeshData
	out.Elems, out.Etags = splitSimplices(m.d.Elems, m.d.Etags, m.kind.ElemVerts(), mid)
	out.Faces, out.Ftags = splitSimplices(m.d.Faces, m.d.Ftags, m.kind.FaceVerts(), mid)
	out.Coords = coords

	if oriented(m.kind) {
		fixOrientation(m.kind, out.Coords, out.Elems, m.d.Elems, m.kind.ElemVerts())
	}
	logf(LevelDebug, "meshd::engine", "split %s: %d -> %d elements", m.kind, m.NElems(), len(out.Etags))
	return m.derive(m.kind, out), nil
}

// splitSimplices refines each simplex of n vertices and repeats its tag for
// every child.
func splitSimplices(conn []uint32, tags []int16, n int, mid func(a, b uint32) uint32) ([]uint32, []int16) {
	var children int
	switch n {
	case 1:
		children = 1
	case 2:
		children = 2
	case 3:
		children = 4
	case 4:
		children = 8
	}
	outConn := make([]uint32, 0, len(conn)*children)
	outTags := make([]int16, 0, len(tags)*children)
	for i, t := range tags {
		v := conn[i*n : (i+1)*n]
		switch n {
		case 1:
			outConn = append(outConn, v[0])
		case 2:
			m01 := mid(v[0], v[1])
			outConn = append(outConn, v[0], m01, m01, v[1])
		case 3:
			m01, m12, m02 := mid(v[0], v[1]), mid(v[1], v[2]), mid(v[0], v[2])
			outConn = append(outConn,
				v[0], m01, m02,
				m01, v[1], m12,
				m02, m12, v[2],
				m01, m12, m02)
		case 4:
			m01, m02, m03 := mid(v[0], v[1]), mid(v[0], v[2]), mid(v[0], v[3])
			m12, m13, m23 := mid(v[1], v[2]), mid(v[1], v[3]), mid(v[2], v[3])
			outConn = append(outConn,
				v[0], m01, m02, m03,
				m01, v[1], m12, m13,
				m02, m12, v[2], m23,
				m03, m13, m23, v[3],
				// The inner octahedron, cut along m02-m13.
				m02, m13, m01, m12,
				m02, m13, m12, m23,
				m02, m13, m23, m03,
				m02, m13, m03, m01)
		}
		for c := 0; c < children; c++ {
			outTags = append(outTags, t)
		}
	}
	return outConn, outTags
}

// fixOrientation gives every child the orientation sign of its parent.
func fixOrientation(k Kind, coords []float64, children, parents []uint32, n int) {
	per := 4
	if n == 4 {
		per = 8
	}
	for c := 0; c < len(children)/n; c++ {
		p := parents[(c/per)*n : (c/per+1)*n]
		e := children[c*n : (c+1)*n]
		if (elemVol(k, coords, e) < 0) != (elemVol(k, coords, p) < 0) {
			e[0], e[1] = e[1], e[0]
		}
	}
}

// AddBoundaryFaces adds a face for every element face that lies on the
// boundary or between two element tags and is not present yet. New boundary
// faces get one new tag per element tag, new interface faces one new tag per
// pair of element tags. Existing boundary faces are reoriented outwards.
func (m *refMesh) AddBoundaryFaces() (FaceRepair, error) {
	rep := FaceRepair{Boundary: map[int16]int16{}, Interfaces: map[int16][]int16{}}
	faces, order := m.elemFaces()

	existing := make(map[faceKey]int, m.NFaces())
	next := int16(1)
	for i, t := range m.d.Ftags {
		existing[keyOf(m.face(i))] = i
		if t >= next {
			next = t + 1
		}
	}
	newTag := func() (int16, error) {
		if next == math.MaxInt16 {
			return 0, errors.New("add boundary faces: face tag space exhausted")
		}
		t := next
		next++
		return t, nil
	}

	bdyTags := map[int16]int16{}
	ifcTags := map[[2]int16]int16{}
	for _, k := range order {
		adj := faces[k]
		switch {
		case len(adj) == 1:
			ef := adj[0]
			if fi, ok := existing[k]; ok {
				copy(m.face(fi), ef.verts)
				continue
			}
			et := m.d.Etags[ef.elem]
			tag, ok := bdyTags[et]
			if !ok {
				var err error
				if tag, err = newTag(); err != nil {
					return rep, err
				}
				bdyTags[et] = tag
				rep.Boundary[tag] = et
			}
			m.appendFace(ef.verts, tag)
			rep.Added++
		case len(adj) == 2:
			t0, t1 := m.d.Etags[adj[0].elem], m.d.Etags[adj[1].elem]
			if t0 == t1 {
				continue
			}
			if _, ok := existing[k]; ok {
				continue
			}
			pair := [2]int16{min(t0, t1), max(t0, t1)}
			tag, ok := ifcTags[pair]
			if !ok {
				var err error
				if tag, err = newTag(); err != nil {
					return rep, err
				}
				ifcTags[pair] = tag
				rep.Interfaces[tag] = []int16{pair[0], pair[1]}
			}
			m.appendFace(adj[0].verts, tag)
			rep.Added++
		}
	}
	logf(LevelInfo, "meshd::engine", "added %d boundary/interface faces to %s", rep.Added, m.kind)
	return rep, nil
}

func (m *refMesh) appendFace(vs []uint32, tag int16) {
	m.d.Faces = append(m.d.Faces, vs...)
	m.d.Ftags = append(m.d.Ftags, tag)
}

// CheckError describes why a mesh is invalid.
type CheckError struct {
	Reason string
}

func (e *CheckError) Error() string { return "invalid mesh: " + e.Reason }

func (m *refMesh) Check() error {
	for i, v := range m.Vols() {
		if !(v > 0) {
			return &CheckError{Reason: fmt.Sprintf("element %d has non-positive volume %g", i, v)}
		}
	}
	faces, order := m.elemFaces()
	tagged := make(map[faceKey]bool, m.NFaces())
	for i := 0; i < m.NFaces(); i++ {
		k := keyOf(m.face(i))
		adj, ok := faces[k]
		if !ok {
			return &CheckError{Reason: fmt.Sprintf("face %d %v is not a face of any element", i, m.face(i))}
		}
		if len(adj) == 2 && m.d.Etags[adj[0].elem] == m.d.Etags[adj[1].elem] {
			return &CheckError{Reason: fmt.Sprintf("face %d %v is an internal face but is tagged", i, m.face(i))}
		}
		tagged[k] = true
	}
	for _, k := range order {
		adj := faces[k]
		if len(adj) > 2 {
			return &CheckError{Reason: fmt.Sprintf("face %v is shared by %d elements", adj[0].verts, len(adj))}
		}
		if tagged[k] {
			continue
		}
		if len(adj) == 1 {
			return &CheckError{Reason: fmt.Sprintf("boundary face %v is not tagged", adj[0].verts)}
		}
		if m.d.Etags[adj[0].elem] != m.d.Etags[adj[1].elem] {
			return &CheckError{Reason: fmt.Sprintf("face %v between element tags %d and %d is not tagged",
				adj[0].verts, m.d.Etags[adj[0].elem], m.d.Etags[adj[1].elem])}
		}
	}
	return nil
}
