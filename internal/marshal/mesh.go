package marshal

// Layout fixes the array shapes of one mesh kind.
type Layout struct {
	Dim       int
	ElemVerts int
	FaceVerts int
}

// MeshBuffers holds the five validated arrays that describe a mesh.
type MeshBuffers struct {
	Coords Buffer
	Elems  Buffer
	Etags  Buffer
	Faces  Buffer
	Ftags  Buffer
}

// MeshArrays converts the five host views of a mesh and runs the cross-array
// checks: column counts per kind, tag lengths matching element and face
// counts, and every connectivity index inside the coordinate array.
func MeshArrays(l Layout, coords, elems, etags, faces, ftags View) (MeshBuffers, error) {
	var mb MeshBuffers
	var err error
	if mb.Coords, err = Convert(coords, Expect{Arg: "coords", Rank: 2, DType: Float64, Cols: l.Dim}); err != nil {
		return mb, err
	}
	if mb.Elems, err = Convert(elems, Expect{Arg: "elems", Rank: 2, DType: Uint32, Cols: l.ElemVerts}); err != nil {
		return mb, err
	}
	if mb.Etags, err = Convert(etags, Expect{Arg: "etags", Rank: 1, DType: Int16, Rows: mb.Elems.Rows(), Match: true}); err != nil {
		return mb, err
	}
	if mb.Faces, err = Convert(faces, Expect{Arg: "faces", Rank: 2, DType: Uint32, Cols: l.FaceVerts}); err != nil {
		return mb, err
	}
	if mb.Ftags, err = Convert(ftags, Expect{Arg: "ftags", Rank: 1, DType: Int16, Rows: mb.Faces.Rows(), Match: true}); err != nil {
		return mb, err
	}
	nVerts := mb.Coords.Rows()
	if err := CheckIndices("elems", Slice[uint32](mb.Elems), nVerts); err != nil {
		return mb, err
	}
	if err := CheckIndices("faces", Slice[uint32](mb.Faces), nVerts); err != nil {
		return mb, err
	}
	return mb, nil
}

// CheckIndices rejects any connectivity index that does not address one of
// the n vertices.
func CheckIndices(arg string, idx []uint32, n int) error {
	for i, v := range idx {
		if int64(v) >= int64(n) {
			return newError(KindOutOfBounds, arg, "index %d at position %d >= n_verts %d", v, i, n)
		}
	}
	return nil
}

// Field converts a per-entity field of shape (rows, m). With cols > 0 the
// number of components is fixed as well.
func Field(arg string, v View, rows, cols int) (Buffer, error) {
	return Convert(v, Expect{Arg: arg, Rank: 2, DType: Float64, Cols: cols, Rows: rows, Match: true})
}
