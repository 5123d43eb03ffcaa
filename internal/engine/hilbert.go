package engine

import (
	"math"
	"slices"
)

// hilbertBits is the per-axis resolution of the curve so that a key fits in
// 63 bits.
func hilbertBits(dim int) uint {
	if dim == 2 {
		return 31
	}
	return 21
}

// hilbertIndex returns the distance along a Hilbert curve of the grid point
// x, whose coordinates are all below 1<<bits. This is Skilling's transpose
// algorithm (AIP Conf. Proc. 707, 2004) followed by bit interleaving.
func hilbertIndex(x []uint32, bits uint) uint64 {
	n := len(x)
	t := make([]uint32, n)
	copy(t, x)
	top := uint32(1) << (bits - 1)
	for q := top; q > 1; q >>= 1 {
		p := q - 1
		for i := 0; i < n; i++ {
			if t[i]&q != 0 {
				t[0] ^= p
			} else {
				s := (t[0] ^ t[i]) & p
				t[0] ^= s
				t[i] ^= s
			}
		}
	}
	for i := 1; i < n; i++ {
		t[i] ^= t[i-1]
	}
	var g uint32
	for q := top; q > 1; q >>= 1 {
		if t[n-1]&q != 0 {
			g ^= q - 1
		}
	}
	for i := range t {
		t[i] ^= g
	}
	var h uint64
	for b := int(bits) - 1; b >= 0; b-- {
		for i := 0; i < n; i++ {
			h = h<<1 | uint64(t[i]>>uint(b)&1)
		}
	}
	return h
}

// hilbertGrid quantizes points onto the Hilbert grid spanning their
// bounding box.
type hilbertGrid struct {
	lo, scale []float64
	bits      uint
}

func newHilbertGrid(coords []float64, dim int) hilbertGrid {
	g := hilbertGrid{lo: make([]float64, dim), scale: make([]float64, dim), bits: hilbertBits(dim)}
	hi := make([]float64, dim)
	for c := 0; c < dim; c++ {
		g.lo[c], hi[c] = math.Inf(1), math.Inf(-1)
	}
	for i := 0; i+dim <= len(coords); i += dim {
		for c := 0; c < dim; c++ {
			g.lo[c] = math.Min(g.lo[c], coords[i+c])
			hi[c] = math.Max(hi[c], coords[i+c])
		}
	}
	cells := float64(uint32(1)<<g.bits - 1)
	for c := 0; c < dim; c++ {
		if hi[c] > g.lo[c] {
			g.scale[c] = cells / (hi[c] - g.lo[c])
		}
	}
	return g
}

func (g hilbertGrid) key(p []float64) uint64 {
	q := make([]uint32, len(p))
	limit := float64(uint32(1)<<g.bits - 1)
	for c, x := range p {
		q[c] = uint32(math.Min(math.Max((x-g.lo[c])*g.scale[c], 0), limit))
	}
	return hilbertIndex(q, g.bits)
}

// hilbertOrder returns the permutation new -> old sorting keys ascending.
// Ties keep their original order.
func hilbertOrder(keys []uint64) []int {
	order := make([]int, len(keys))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		switch {
		case keys[a] < keys[b]:
			return -1
		case keys[a] > keys[b]:
			return 1
		}
		return 0
	})
	return order
}

func inverse(order []int) []uint32 {
	out := make([]uint32, len(order))
	for newIdx, old := range order {
		out[old] = uint32(newIdx)
	}
	return out
}

func (m *refMesh) centroid(conn []uint32, dim int) []float64 {
	c := make([]float64, dim)
	for _, v := range conn {
		for k := 0; k < dim; k++ {
			c[k] += m.d.Coords[int(v)*dim+k]
		}
	}
	for k := range c {
		c[k] /= float64(len(conn))
	}
	return c
}

// ReorderHilbert sorts vertices by the Hilbert key of their position and
// elements and faces by the key of their centroid. Element vertex order is
// kept, so orientations do not change.
func (m *refMesh) ReorderHilbert() (Renumbering, error) {
	dim, ev, fv := m.kind.Dim(), m.kind.ElemVerts(), m.kind.FaceVerts()
	g := newHilbertGrid(m.d.Coords, dim)

	vkeys := make([]uint64, m.NVerts())
	m.fan.ParallelFor(len(vkeys), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			vkeys[i] = g.key(m.d.Coords[i*dim : (i+1)*dim])
		}
	})
	ekeys := make([]uint64, m.NElems())
	m.fan.ParallelFor(len(ekeys), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			ekeys[i] = g.key(m.centroid(m.elem(i), dim))
		}
	})
	fkeys := make([]uint64, m.NFaces())
	m.fan.ParallelFor(len(fkeys), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			fkeys[i] = g.key(m.centroid(m.face(i), dim))
		}
	})

	vorder, eorder, forder := hilbertOrder(vkeys), hilbertOrder(ekeys), hilbertOrder(fkeys)
	ren := Renumbering{Verts: inverse(vorder), Elems: inverse(eorder), Faces: inverse(forder)}

	d := MeshData{
		Coords: make([]float64, len(m.d.Coords)),
		Elems:  make([]uint32, len(m.d.Elems)),
		Etags:  make([]int16, len(m.d.Etags)),
		Faces:  make([]uint32, len(m.d.Faces)),
		Ftags:  make([]int16, len(m.d.Ftags)),
	}
	for n, old := range vorder {
		copy(d.Coords[n*dim:(n+1)*dim], m.d.Coords[old*dim:(old+1)*dim])
	}
	permute(d.Elems, d.Etags, m.d.Elems, m.d.Etags, eorder, ev, ren.Verts)
	permute(d.Faces, d.Ftags, m.d.Faces, m.d.Ftags, forder, fv, ren.Verts)
	m.d = d
	logf(LevelDebug, "meshd::engine", "hilbert renumbering of %s: %d verts, %d elems, %d faces",
		m.kind, len(vorder), len(eorder), len(forder))
	return ren, nil
}

func permute(dstConn []uint32, dstTags []int16, conn []uint32, tags []int16, order []int, n int, vmap []uint32) {
	for i, old := range order {
		for j := 0; j < n; j++ {
			dstConn[i*n+j] = vmap[conn[old*n+j]]
		}
		dstTags[i] = tags[old]
	}
}
