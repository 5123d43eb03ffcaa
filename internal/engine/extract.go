package engine

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// ExtractTags keeps the elements tagged with one of tags. Kept vertices are
// numbered in the order of their parent ids.
func (m *refMesh) ExtractTags(tags []int16) (Mesh, Subset, error) {
	dim, ev := m.kind.Dim(), m.kind.ElemVerts()
	var sub Subset
	used := make([]bool, m.NVerts())
	for i, t := range m.d.Etags {
		if !slices.Contains(tags, t) {
			continue
		}
		sub.Elems = append(sub.Elems, uint32(i))
		for _, v := range m.elem(i) {
			used[v] = true
		}
	}
	renum := make([]uint32, m.NVerts())
	var d MeshData
	for v, u := range used {
		if !u {
			continue
		}
		renum[v] = uint32(len(sub.Verts))
		sub.Verts = append(sub.Verts, uint32(v))
		d.Coords = append(d.Coords, m.d.Coords[v*dim:(v+1)*dim]...)
	}
	d.Elems = make([]uint32, 0, len(sub.Elems)*ev)
	for _, i := range sub.Elems {
		for _, v := range m.elem(int(i)) {
			d.Elems = append(d.Elems, renum[v])
		}
		d.Etags = append(d.Etags, m.d.Etags[i])
	}
	for i := 0; i < m.NFaces(); i++ {
		f := m.face(i)
		if !allUsed(f, used) {
			continue
		}
		sub.Faces = append(sub.Faces, uint32(i))
		for _, v := range f {
			d.Faces = append(d.Faces, renum[v])
		}
		d.Ftags = append(d.Ftags, m.d.Ftags[i])
	}
	logf(LevelDebug, "meshd::engine", "extracted tags %v of %s: %d elems", tags, m.kind, len(sub.Elems))
	return m.derive(m.kind, d), sub, nil
}

func allUsed(vs []uint32, used []bool) bool {
	for _, v := range vs {
		if !used[v] {
			return false
		}
	}
	return true
}

// WriteBoundaryVTK writes the boundary faces with their tags.
func (m *refMesh) WriteBoundaryVTK(path string) error {
	b, _, err := m.Boundary()
	if err != nil {
		return err
	}
	return b.WriteVTK(path, nil, nil)
}

// Autotag retags surface triangles and planar edges. Two elements sharing a
// facet land in the same patch when they had the same tag, nothing else
// shares the facet, and their normals differ by at most angleDeg degrees.
// Patches get consecutive tags from 1 in order of their first element.
func (m *refMesh) Autotag(angleDeg float64) (map[int16][]int16, error) {
	if m.kind != Mesh32 && m.kind != Mesh21 {
		return nil, fmt.Errorf("autotag: %s is not a surface or curve mesh", m.kind)
	}
	normals := m.normals()
	cosMax := math.Cos(angleDeg * math.Pi / 180)

	parent := make([]int, m.NElems())
	for i := range parent {
		parent[i] = i
	}
	find := func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}

	faces, order := m.elemFacesUnoriented()
	for _, k := range order {
		adj := faces[k]
		if len(adj) != 2 {
			continue
		}
		a, b := adj[0], adj[1]
		if m.d.Etags[a] != m.d.Etags[b] {
			continue
		}
		if r3.Dot(normals[a], normals[b]) < cosMax {
			continue
		}
		if ra, rb := find(a), find(b); ra != rb {
			parent[max(ra, rb)] = min(ra, rb)
		}
	}

	patch := map[int]int16{}
	next := 1
	out := map[int16][]int16{}
	tags := make([]int16, m.NElems())
	for i := range tags {
		r := find(i)
		t, ok := patch[r]
		if !ok {
			if next > math.MaxInt16 {
				return nil, errors.New("autotag: element tag space exhausted")
			}
			t = int16(next)
			next++
			patch[r] = t
			old := m.d.Etags[i]
			out[old] = append(out[old], t)
		}
		tags[i] = t
	}
	m.d.Etags = tags
	logf(LevelInfo, "meshd::engine", "autotag %s: %d patches", m.kind, len(patch))
	return out, nil
}

// normals returns a unit normal per element of a Mesh32 or Mesh21. Edge
// normals lie in the z=0 plane.
func (m *refMesh) normals() []r3.Vec {
	out := make([]r3.Vec, m.NElems())
	m.fan.ParallelFor(len(out), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			e := m.elem(i)
			var n r3.Vec
			if m.kind == Mesh32 {
				a := point3(m.d.Coords, e[0])
				n = r3.Cross(r3.Sub(point3(m.d.Coords, e[1]), a), r3.Sub(point3(m.d.Coords, e[2]), a))
			} else {
				t := r2.Sub(point2(m.d.Coords, e[1]), point2(m.d.Coords, e[0]))
				n = r3.Vec{X: t.Y, Y: -t.X}
			}
			if l := r3.Norm(n); l > 0 {
				n = r3.Scale(1/l, n)
			}
			out[i] = n
		}
	})
	return out
}

// elemFacesUnoriented maps every facet to the ids of the elements that use
// it, in first-seen order.
func (m *refMesh) elemFacesUnoriented() (map[faceKey][]int, []faceKey) {
	local := localFaces[m.kind.ElemVerts()]
	out := make(map[faceKey][]int, m.NElems()*len(local)/2+1)
	var order []faceKey
	vs := make([]uint32, len(local[0]))
	for i := 0; i < m.NElems(); i++ {
		e := m.elem(i)
		for _, lf := range local {
			for j, l := range lf {
				vs[j] = e[l]
			}
			k := keyOf(vs)
			if _, seen := out[k]; !seen {
				order = append(order, k)
			}
			out[k] = append(out[k], i)
		}
	}
	return out, order
}
