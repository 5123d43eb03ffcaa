package engine

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func nearTol(a, b, tol float64) bool { return math.Abs(a-b) < tol }

func TestHilbertIndex(t *testing.T) {
	order := [][]uint32{{0, 0}, {0, 1}, {1, 1}, {1, 0}}
	for want, p := range order {
		if got := hilbertIndex(p, 1); got != uint64(want) {
			t.Errorf("hilbertIndex(%v, 1) = %d, want %d", p, got, want)
		}
	}

	// Every cell of a 4x4 and a 4x4x4 grid is visited once, one step at a time.
	for _, dim := range []int{2, 3} {
		n := 1
		for i := 0; i < dim; i++ {
			n *= 4
		}
		byKey := make([][]uint32, n)
		for c := 0; c < n; c++ {
			p := make([]uint32, dim)
			for i, r := 0, c; i < dim; i, r = i+1, r/4 {
				p[i] = uint32(r % 4)
			}
			k := hilbertIndex(p, 2)
			if k >= uint64(n) || byKey[k] != nil {
				t.Fatalf("%dD: key %d of %v is out of range or repeated", dim, k, p)
			}
			byKey[k] = p
		}
		for k := 1; k < n; k++ {
			step := 0
			for i := range byKey[k] {
				step += int(math.Abs(float64(byKey[k][i]) - float64(byKey[k-1][i])))
			}
			if step != 1 {
				t.Fatalf("%dD: keys %d and %d are %d cells apart", dim, k-1, k, step)
			}
		}
	}
}

func TestReorderHilbert(t *testing.T) {
	m := mustMesh(t, Mesh22, unitSquare())
	for i := 0; i < 2; i++ {
		var err error
		if m, err = m.Split(); err != nil {
			t.Fatal(err)
		}
	}
	before := m.Data()
	vols := m.Vols()

	ren, err := m.ReorderHilbert()
	if err != nil {
		t.Fatal(err)
	}
	after := m.Data()
	for _, perm := range [][]uint32{ren.Verts, ren.Elems, ren.Faces} {
		seen := make([]bool, len(perm))
		for _, p := range perm {
			if int(p) >= len(perm) || seen[p] {
				t.Fatalf("renumbering %v is not a permutation", perm)
			}
			seen[p] = true
		}
	}
	for old, n := range ren.Verts {
		if after.Coords[2*n] != before.Coords[2*old] || after.Coords[2*n+1] != before.Coords[2*old+1] {
			t.Fatalf("vertex %d moved to %d with different coordinates", old, n)
		}
	}
	newVols := m.Vols()
	for old, n := range ren.Elems {
		if !near(newVols[n], vols[old]) || after.Etags[n] != before.Etags[old] {
			t.Fatalf("element %d -> %d changed: vol %v -> %v", old, n, vols[old], newVols[n])
		}
	}
	if len(ren.Faces) != m.NFaces() {
		t.Fatalf("%d face ids for %d faces", len(ren.Faces), m.NFaces())
	}
	if err := m.Check(); err != nil {
		t.Fatalf("renumbered mesh is invalid: %v", err)
	}
}

func TestExtractTags(t *testing.T) {
	d := unitSquare()
	d.Etags = []int16{1, 2}
	m := mustMesh(t, Mesh22, d)

	sub, ids, err := m.ExtractTags([]int16{2})
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(ids.Verts, []uint32{0, 2, 3}) || !slices.Equal(ids.Elems, []uint32{1}) || !slices.Equal(ids.Faces, []uint32{2, 3}) {
		t.Fatalf("parent ids = %+v", ids)
	}
	got := sub.Data()
	if !slices.Equal(got.Elems, []uint32{0, 1, 2}) || !slices.Equal(got.Faces, []uint32{1, 2, 2, 0}) || !slices.Equal(got.Ftags, []int16{3, 4}) {
		t.Fatalf("extracted mesh = %+v", got)
	}
	if !slices.Equal(got.Coords, []float64{0, 0, 1, 1, 0, 1}) {
		t.Fatalf("extracted coords = %v", got.Coords)
	}

	none, ids, err := m.ExtractTags([]int16{7})
	if err != nil {
		t.Fatal(err)
	}
	if none.NVerts() != 0 || none.NElems() != 0 || len(ids.Faces) != 0 {
		t.Fatalf("extracting a missing tag kept %d verts", none.NVerts())
	}
}

func tetSurface(tags []int16) MeshData {
	tet := unitTet()
	return MeshData{Coords: tet.Coords, Elems: tet.Faces, Etags: tags}
}

func TestAutotag(t *testing.T) {
	m := mustMesh(t, Mesh32, tetSurface([]int16{1, 1, 1, 1}))
	got, err := m.Autotag(30)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got[1], []int16{1, 2, 3, 4}) {
		t.Fatalf("sharp tet corners: %v", got)
	}
	if !slices.Equal(m.Data().Etags, []int16{1, 2, 3, 4}) {
		t.Fatalf("etags = %v", m.Data().Etags)
	}

	m = mustMesh(t, Mesh32, tetSurface([]int16{1, 1, 1, 1}))
	if got, err = m.Autotag(130); err != nil || !slices.Equal(got[1], []int16{1}) {
		t.Fatalf("every dihedral angle is below 130 degrees: %v, %v", got, err)
	}

	m = mustMesh(t, Mesh32, tetSurface([]int16{5, 5, 9, 9}))
	if got, err = m.Autotag(130); err != nil || len(got) != 2 || len(got[5]) != 1 || len(got[9]) != 1 {
		t.Fatalf("patches never cross existing tags: %v, %v", got, err)
	}

	if _, err := mustMesh(t, Mesh33, unitTet()).Autotag(30); err == nil {
		t.Fatal("expected an error for a volume mesh")
	}
}

func TestElemGammas(t *testing.T) {
	if g := mustMesh(t, Mesh33, unitTet()).ElemGammas(); !near(g[0], math.Sqrt(3)-1) {
		t.Fatalf("unit tet gamma = %v", g)
	}
	eq := MeshData{
		Coords: []float64{0, 0, 1, 0, 0.5, math.Sqrt(3) / 2},
		Elems:  []uint32{0, 1, 2},
		Etags:  []int16{1},
	}
	if g := mustMesh(t, Mesh22, eq).ElemGammas(); !near(g[0], 1) {
		t.Fatalf("equilateral gamma = %v", g)
	}
	for _, g := range mustMesh(t, Mesh22, unitSquare()).ElemGammas() {
		if !near(g, 2*(math.Sqrt2-1)) {
			t.Fatalf("right triangle gamma = %v", g)
		}
	}
	flat := MeshData{Coords: []float64{0, 0, 1, 0, 2, 0}, Elems: []uint32{0, 1, 2}, Etags: []int16{1}}
	if g := mustMesh(t, Mesh22, flat).ElemGammas(); g[0] != 0 {
		t.Fatalf("degenerate gamma = %v", g)
	}
}

func TestEdgeLengthRatios(t *testing.T) {
	if r := mustMesh(t, Mesh33, unitTet()).EdgeLengthRatios(); !near(r[0], math.Sqrt2) {
		t.Fatalf("unit tet ratio = %v", r)
	}
	edge := MeshData{Coords: []float64{0, 0, 3, 4}, Elems: []uint32{0, 1}, Etags: []int16{1}}
	if r := mustMesh(t, Mesh21, edge).EdgeLengthRatios(); !near(r[0], 1) {
		t.Fatalf("edge ratio = %v", r)
	}
}

func TestFaceSkewnesses(t *testing.T) {
	sk, err := mustMesh(t, Mesh22, unitSquare()).FaceSkewnesses()
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(sk.Pairs, []uint32{0, 1}) || len(sk.Values) != 1 || !near(sk.Values[0], 0) {
		t.Fatalf("square diagonal: %+v", sk)
	}

	d := unitSquare()
	d.Coords[4], d.Coords[5] = 2, 1
	sk, err = mustMesh(t, Mesh22, d).FaceSkewnesses()
	if err != nil {
		t.Fatal(err)
	}
	if len(sk.Values) != 1 || !(sk.Values[0] > 0) {
		t.Fatalf("skewed quad: %+v", sk)
	}

	edge := MeshData{Coords: []float64{0, 0, 1, 0}, Elems: []uint32{0, 1}, Etags: []int16{1}}
	if _, err := mustMesh(t, Mesh21, edge).FaceSkewnesses(); err == nil {
		t.Fatal("expected an error for an edge mesh")
	}
}

func TestImpliedMetricGivesUnitQuality(t *testing.T) {
	sq := mustMesh(t, Mesh22, unitSquare())
	im, err := sq.ImpliedMetric()
	if err != nil {
		t.Fatal(err)
	}
	if im.Cols != 3 || im.Rows() != 4 {
		t.Fatalf("implied metric shape %dx%d", im.Rows(), im.Cols)
	}
	for v := 0; v < 4; v++ {
		row := im.Data[3*v : 3*v+3]
		if !nearTol(row[0], 1, 1e-9) || !nearTol(row[1], 1, 1e-9) || !nearTol(row[2], -0.5, 1e-9) {
			t.Fatalf("vertex %d metric = %v", v, row)
		}
	}
	q, err := sq.Qualities(im)
	if err != nil {
		t.Fatal(err)
	}
	for _, x := range q {
		if !nearTol(x, 1, 1e-9) {
			t.Fatalf("qualities in the implied metric = %v", q)
		}
	}

	tet := mustMesh(t, Mesh33, unitTet())
	im, err = tet.ImpliedMetric()
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{1, 1, 1, 0.5, 0.5, 0.5}
	for i, w := range want {
		if !nearTol(im.Data[i], w, 1e-9) {
			t.Fatalf("tet implied metric = %v", im.Data[:6])
		}
	}
	q, err = tet.Qualities(im)
	if err != nil || !nearTol(q[0], 1, 1e-9) {
		t.Fatalf("tet quality in its implied metric = %v, %v", q, err)
	}

	iso := Field{Data: []float64{1, 1, 1, 1}, Cols: 1}
	q, err = tet.Qualities(iso)
	if err != nil || !(q[0] > 0 && q[0] < 1) {
		t.Fatalf("unit tet quality = %v, %v", q, err)
	}
	if _, err := tet.Qualities(Field{Data: []float64{1, 1}, Cols: 2}); err == nil {
		t.Fatal("expected a metric width error")
	}
}

func TestElemDataToVertexDataMetric(t *testing.T) {
	m := mustMesh(t, Mesh22, unitSquare())
	aniso := Field{Data: []float64{2, 3, 0.5, 2, 3, 0.5}, Cols: 3}
	got, err := m.ElemDataToVertexDataMetric(aniso)
	if err != nil {
		t.Fatal(err)
	}
	for v := 0; v < 4; v++ {
		for c, w := range []float64{2, 3, 0.5} {
			if !nearTol(got.Data[3*v+c], w, 1e-9) {
				t.Fatalf("constant metric not preserved: %v", got.Data)
			}
		}
	}

	iso, err := m.ElemDataToVertexDataMetric(Field{Data: []float64{0.1, 0.4}, Cols: 1})
	if err != nil {
		t.Fatal(err)
	}
	// Vertex 1 only touches element 0 and vertex 3 only element 1.
	if !nearTol(iso.Data[1], 0.1, 1e-12) || !nearTol(iso.Data[3], 0.4, 1e-12) || !nearTol(iso.Data[0], 0.2, 1e-12) {
		t.Fatalf("log-averaged sizes = %v", iso.Data)
	}

	if _, err := m.ElemDataToVertexDataMetric(Field{Data: []float64{1, 1, 2, 1, 1, 2}, Cols: 3}); err == nil {
		t.Fatal("expected an error for an indefinite metric")
	}
}

func TestHessianToMetric(t *testing.T) {
	m := mustMesh(t, Mesh22, unitSquare())
	h := Field{Data: []float64{4, -1, 0, 4, -1, 0, 4, -1, 0, 4, -1, 0}, Cols: 3}

	raw, err := m.HessianToMetric(h, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !nearTol(raw.Data[0], 4, 1e-12) || !nearTol(raw.Data[1], 1, 1e-12) || !nearTol(raw.Data[2], 0, 1e-12) {
		t.Fatalf("|H| = %v", raw.Data[:3])
	}

	l1, err := m.HessianToMetric(h, 1)
	if err != nil {
		t.Fatal(err)
	}
	s := math.Pow(4, -0.25)
	if !nearTol(l1.Data[0], 4*s, 1e-12) || !nearTol(l1.Data[1], s, 1e-12) {
		t.Fatalf("L1 metric = %v", l1.Data[:3])
	}

	zero := Field{Data: make([]float64, 12), Cols: 3}
	if _, err := m.HessianToMetric(zero, 2); err == nil {
		t.Fatal("expected an error for a zero Hessian")
	}
	if _, err := m.HessianToMetric(Field{Data: []float64{1, 1, 1, 1}, Cols: 1}, 2); err == nil {
		t.Fatal("expected a width error for an isotropic Hessian")
	}
}

func TestMetricInfo(t *testing.T) {
	m := mustMesh(t, Mesh22, unitSquare())
	info, err := m.MetricInfo(Field{Data: []float64{0.5, 0.5, 0.5, 0.5}, Cols: 1})
	if err != nil {
		t.Fatal(err)
	}
	if !near(info.HMin, 0.5) || !near(info.HMax, 0.5) || !near(info.Anisotropy, 1) || !nearTol(info.Complexity, 16/math.Sqrt(3), 1e-9) {
		t.Fatalf("iso info = %+v", info)
	}

	info, err = m.MetricInfo(Field{Data: []float64{4, 1, 0, 4, 1, 0, 4, 1, 0, 4, 1, 0}, Cols: 3})
	if err != nil {
		t.Fatal(err)
	}
	if !nearTol(info.HMin, 0.5, 1e-12) || !nearTol(info.HMax, 1, 1e-12) || !nearTol(info.Anisotropy, 2, 1e-12) || !nearTol(info.Complexity, 8/math.Sqrt(3), 1e-9) {
		t.Fatalf("aniso info = %+v", info)
	}

	if _, err := m.MetricInfo(Field{Data: []float64{0.5, -1, 0.5, 0.5}, Cols: 1}); err == nil {
		t.Fatal("expected an error for a negative size")
	}
}

func TestInterpolateNearest(t *testing.T) {
	src := mustMesh(t, Mesh22, unitSquare())
	d := unitSquare()
	d.Coords = []float64{0.1, 0.1, 0.9, 0.05, 0.8, 0.9, 0.1, 0.7}
	dst := mustMesh(t, Mesh22, d)

	f := Field{Data: []float64{0, 10, 1, 11, 2, 12, 3, 13}, Cols: 2}
	got, err := src.InterpolateNearest(dst, f)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got.Data, f.Data) {
		t.Fatalf("nearest values = %v", got.Data)
	}

	if _, err := src.InterpolateNearest(mustMesh(t, Mesh33, unitTet()), f); err == nil {
		t.Fatal("expected a dimension error")
	}
}

const twoFacetSTL = `solid square
  facet normal 0 0 1
    outer loop
      vertex 0 0 0
      vertex 1 0 0
      vertex 1 1 0
    endloop
  endfacet
  facet normal 0 0 1
    outer loop
      vertex 0 0 0
      vertex 1 1 0
      vertex 0 1 0
    endloop
  endfacet
endsolid square
`

func binarySTL(tris [][9]float32) []byte {
	b := make([]byte, stlHeader, stlHeader+stlFacet*len(tris))
	copy(b, "solid but actually binary")
	binary.LittleEndian.PutUint32(b[80:], uint32(len(tris)))
	for _, tri := range tris {
		rec := make([]byte, stlFacet)
		for k, x := range tri {
			binary.LittleEndian.PutUint32(rec[12+4*k:], math.Float32bits(x))
		}
		b = append(b, rec...)
	}
	return b
}

func TestReadSTL(t *testing.T) {
	dir := t.TempDir()
	ascii := filepath.Join(dir, "square.stl")
	if err := os.WriteFile(ascii, []byte(twoFacetSTL), 0o644); err != nil {
		t.Fatal(err)
	}
	bin := filepath.Join(dir, "square_bin.stl")
	raw := binarySTL([][9]float32{{0, 0, 0, 1, 0, 0, 1, 1, 0}, {0, 0, 0, 1, 1, 0, 0, 1, 0}})
	if err := os.WriteFile(bin, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{ascii, bin} {
		m, err := NewReference(nil).ReadSTL(path)
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		d := m.Data()
		if m.Kind() != Mesh32 || m.NVerts() != 4 || m.NElems() != 2 || m.NFaces() != 0 {
			t.Fatalf("%s: %s with %d verts, %d elems", path, m.Kind(), m.NVerts(), m.NElems())
		}
		if !slices.Equal(d.Elems, []uint32{0, 1, 2, 0, 2, 3}) || !slices.Equal(d.Etags, []int16{1, 1}) {
			t.Fatalf("%s: elems %v tags %v", path, d.Elems, d.Etags)
		}
		if !near(sum(m.Vols()), 1) {
			t.Fatalf("%s: area %v", path, sum(m.Vols()))
		}
	}

	bad := filepath.Join(dir, "bad.stl")
	if err := os.WriteFile(bad, []byte(strings.Replace(twoFacetSTL, "vertex 0 1 0", "vertex 0 1", 1)), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewReference(nil).ReadSTL(bad); err == nil {
		t.Fatal("expected a parse error")
	}
	if _, err := NewReference(nil).ReadSTL(filepath.Join(dir, "missing.stl")); err == nil {
		t.Fatal("expected a missing file error")
	}
}

func TestWriteBoundaryVTK(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bdy.vtk")
	if err := mustMesh(t, Mesh33, unitTet()).WriteBoundaryVTK(path); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Mesh32", "CELLS 4 16", "CELL_TYPES 4\n5\n"} {
		if !strings.Contains(string(b), want) {
			t.Errorf("boundary vtk missing %q", want)
		}
	}
	edge := MeshData{Coords: []float64{0, 0, 1, 0}, Elems: []uint32{0, 1}, Etags: []int16{1}}
	if err := mustMesh(t, Mesh21, edge).WriteBoundaryVTK(path); err == nil {
		t.Fatal("expected an error for an edge mesh")
	}
}
