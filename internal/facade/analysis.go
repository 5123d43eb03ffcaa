package facade

import (
	"meshd/internal/engine"
	"meshd/internal/marshal"
)

// IDMap holds one u32 id per vertex, element and face.
type IDMap struct {
	Verts marshal.View
	Elems marshal.View
	Faces marshal.View
}

func idMap(verts, elems, faces []uint32) IDMap {
	return IDMap{
		Verts: marshal.FromNative(verts, 0),
		Elems: marshal.FromNative(elems, 0),
		Faces: marshal.FromNative(faces, 0),
	}
}

// ReadSTL reads an ASCII or binary .stl surface as a Mesh32 whose elements
// are all tagged 1.
func (f *Facade) ReadSTL(path string) (*Mesh, error) {
	const op = "read_stl"
	if path == "" {
		return nil, f.finish(op, marshal.Errorf(marshal.KindInvalidData, "path", "empty path"))
	}
	var h *Mesh
	err := f.invoke(op, nil, nil, func() error {
		m, err := f.eng.ReadSTL(path)
		if err != nil {
			return err
		}
		h = f.wrap(m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// ReorderHilbert renumbers the mesh in place along a Hilbert curve and
// returns the new index of every old vertex, element and face.
func (h *Mesh) ReorderHilbert() (IDMap, error) {
	var ren engine.Renumbering
	err := h.f.invoke("reorder_hilbert", h, nil, func() (err error) {
		ren, err = h.m.ReorderHilbert()
		return err
	})
	if err != nil {
		return IDMap{}, err
	}
	return idMap(ren.Verts, ren.Elems, ren.Faces), nil
}

// ExtractTags returns the part of the mesh tagged with one of tags, and the
// id in this mesh of each of its vertices, elements and faces.
func (h *Mesh) ExtractTags(tags marshal.View) (*Mesh, IDMap, error) {
	const op = "extract_tags"
	if err := h.usable(); err != nil {
		return nil, IDMap{}, h.f.finish(op, err)
	}
	b, err := marshal.Convert(tags, marshal.Expect{Arg: "tags", Rank: 1, DType: marshal.Int16})
	if err != nil {
		return nil, IDMap{}, h.f.finish(op, err)
	}
	want := marshal.Slice[int16](b)
	var (
		out *Mesh
		sub engine.Subset
	)
	err = h.f.invoke(op, h, nil, func() error {
		m, s, err := h.m.ExtractTags(want)
		if err != nil {
			return err
		}
		out, sub = h.f.wrap(m), s
		return nil
	})
	if err != nil {
		return nil, IDMap{}, err
	}
	return out, idMap(sub.Verts, sub.Elems, sub.Faces), nil
}

// Autotag retags a Mesh32 or Mesh21 into patches separated by dihedral
// angles above angleDeg and returns the new tags of every old tag.
func (h *Mesh) Autotag(angleDeg float64) (map[int16][]int16, error) {
	const op = "autotag"
	if err := h.usable(); err != nil {
		return nil, h.f.finish(op, err)
	}
	if h.kind != engine.Mesh32 && h.kind != engine.Mesh21 {
		return nil, h.f.finish(op, marshal.Errorf(marshal.KindInvalidData, "mesh", "%s is not a surface or curve mesh", h.kind))
	}
	if !(angleDeg >= 0 && angleDeg <= 180) {
		return nil, h.f.finish(op, marshal.Errorf(marshal.KindInvalidData, "angle_deg", "must be in [0, 180], got %g", angleDeg))
	}
	var out map[int16][]int16
	err := h.f.invoke(op, h, nil, func() (err error) {
		out, err = h.m.Autotag(angleDeg)
		return err
	})
	return out, err
}

// TransferFaceTags resets the face tags of dst from this mesh, which must be
// of dst's boundary kind.
func (h *Mesh) TransferFaceTags(dst *Mesh) error {
	return h.transferTags("transfer_tags_face", dst, func(k engine.Kind) bool {
		b, ok := k.Boundary()
		return ok && b == h.kind
	})
}

// TransferElemTags resets the element tags of dst, a mesh of the same kind,
// from this Mesh32 or Mesh21.
func (h *Mesh) TransferElemTags(dst *Mesh) error {
	return h.transferTags("transfer_tags_elem", dst, func(k engine.Kind) bool {
		return k == h.kind && (k == engine.Mesh32 || k == engine.Mesh21)
	})
}

// transferTags runs on dst's handle since dst is the mesh it changes.
func (h *Mesh) transferTags(op string, dst *Mesh, accept func(engine.Kind) bool) error {
	if err := h.usable(); err != nil {
		return h.f.finish(op, err)
	}
	if dst == nil {
		return h.f.finish(op, marshal.Errorf(marshal.KindInvalidData, "other", "missing target mesh"))
	}
	if !accept(dst.kind) {
		return h.f.finish(op, marshal.Errorf(marshal.KindInvalidData, "other", "cannot take tags from %s into %s", h.kind, dst.kind))
	}
	return h.f.invoke(op, dst, needTucanos, func() error {
		return h.m.TransferTags(dst.m)
	})
}

// WriteBoundaryVTK writes the boundary faces and their tags as a VTK file.
func (h *Mesh) WriteBoundaryVTK(path string) error {
	const op = "write_boundary_vtk"
	if err := h.usable(); err != nil {
		return h.f.finish(op, err)
	}
	if _, ok := h.kind.Boundary(); !ok {
		return h.f.finish(op, marshal.Errorf(marshal.KindInvalidData, "mesh", "%s has no boundary mesh", h.kind))
	}
	if path == "" {
		return h.f.finish(op, marshal.Errorf(marshal.KindInvalidData, "path", "empty path"))
	}
	return h.f.invoke(op, h, nil, func() error {
		return h.m.WriteBoundaryVTK(path)
	})
}

func (h *Mesh) elemValues(op string, fn func() []float64) (marshal.View, error) {
	var v []float64
	err := h.f.invoke(op, h, nil, func() error {
		v = fn()
		return nil
	})
	if err != nil {
		return marshal.View{}, err
	}
	return marshal.FromNative(v, 0), nil
}

// ElemGammas returns the normalized inscribed over circumscribed radius of
// every element: 1 for the equilateral simplex, 0 for a flat one.
func (h *Mesh) ElemGammas() (marshal.View, error) {
	return h.elemValues("elem_gammas", h.m.ElemGammas)
}

// EdgeLengthRatios returns the longest over the shortest edge of every
// element.
func (h *Mesh) EdgeLengthRatios() (marshal.View, error) {
	return h.elemValues("edge_length_ratios", h.m.EdgeLengthRatios)
}

// FaceSkewnesses returns the (n, 2) element pairs sharing an internal facet
// and the skewness of each facet.
func (h *Mesh) FaceSkewnesses() (pairs, values marshal.View, err error) {
	const op = "face_skewnesses"
	if err := h.usable(); err != nil {
		return marshal.View{}, marshal.View{}, h.f.finish(op, err)
	}
	if h.kind.ElemVerts() < 3 {
		return marshal.View{}, marshal.View{}, h.f.finish(op, marshal.Errorf(marshal.KindInvalidData, "mesh", "%s has no facets between elements", h.kind))
	}
	var sk engine.FaceSkewness
	err = h.f.invoke(op, h, nil, func() (err error) {
		sk, err = h.m.FaceSkewnesses()
		return err
	})
	if err != nil {
		return marshal.View{}, marshal.View{}, err
	}
	return marshal.FromNative(sk.Pairs, 2), marshal.FromNative(sk.Values, 0), nil
}

// Qualities returns the shape quality of every element in a vertex metric,
// 1 for an element that is unit equilateral in that metric.
func (h *Mesh) Qualities(metric marshal.View) (marshal.View, error) {
	const op = "qualities"
	if err := h.volumeMesh(); err != nil {
		return marshal.View{}, h.f.finish(op, err)
	}
	mf, err := h.metricArg("metric", metric, h.nVerts)
	if err != nil {
		return marshal.View{}, h.f.finish(op, err)
	}
	var q []float64
	err = h.f.invoke(op, h, nil, func() (err error) {
		q, err = h.m.Qualities(mf)
		return err
	})
	if err != nil {
		return marshal.View{}, err
	}
	return marshal.FromNative(q, 0), nil
}
