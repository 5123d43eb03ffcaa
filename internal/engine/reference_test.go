package engine

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func unitTet() MeshData {
	return MeshData{
		Coords: []float64{0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0, 1},
		Elems:  []uint32{0, 1, 2, 3},
		Etags:  []int16{1},
		Faces:  []uint32{1, 2, 3, 0, 3, 2, 0, 1, 3, 0, 2, 1},
		Ftags:  []int16{1, 2, 3, 4},
	}
}

func unitSquare() MeshData {
	return MeshData{
		Coords: []float64{0, 0, 1, 0, 1, 1, 0, 1},
		Elems:  []uint32{0, 1, 2, 0, 2, 3},
		Etags:  []int16{1, 1},
		Faces:  []uint32{0, 1, 1, 2, 2, 3, 3, 0},
		Ftags:  []int16{1, 2, 3, 4},
	}
}

func mustMesh(t *testing.T, k Kind, d MeshData) Mesh {
	t.Helper()
	m, err := NewReference(nil).NewMesh(k, d)
	if err != nil {
		t.Fatalf("NewMesh(%s): %v", k, err)
	}
	return m
}

func sum(xs []float64) float64 {
	s := 0.0
	for _, x := range xs {
		s += x
	}
	return s
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-12 }

func TestKindTable(t *testing.T) {
	cases := []struct {
		k             Kind
		dim, ev, fv   int
		bdy           Kind
		hasBdy, remsh bool
	}{
		{Mesh33, 3, 4, 3, Mesh32, true, true},
		{Mesh32, 3, 3, 2, Mesh31, true, false},
		{Mesh31, 3, 2, 1, KindInvalid, false, false},
		{Mesh22, 2, 3, 2, Mesh21, true, true},
		{Mesh21, 2, 2, 1, KindInvalid, false, false},
	}
	for _, c := range cases {
		if c.k.Dim() != c.dim || c.k.ElemVerts() != c.ev || c.k.FaceVerts() != c.fv {
			t.Errorf("%s: got dim=%d ev=%d fv=%d", c.k, c.k.Dim(), c.k.ElemVerts(), c.k.FaceVerts())
		}
		b, ok := c.k.Boundary()
		if b != c.bdy || ok != c.hasBdy {
			t.Errorf("%s: boundary = %s,%v", c.k, b, ok)
		}
		if c.k.Remeshable() != c.remsh {
			t.Errorf("%s: remeshable = %v", c.k, c.k.Remeshable())
		}
		got, err := ParseKind(strings.ToLower(c.k.String()))
		if err != nil || got != c.k {
			t.Errorf("ParseKind(%s) = %s, %v", c.k, got, err)
		}
	}
	if _, err := ParseKind("mesh44"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestNewMeshCopiesInput(t *testing.T) {
	d := unitTet()
	m := mustMesh(t, Mesh33, d)
	d.Coords[3] = 42
	if got := m.Data().Coords[3]; got != 1 {
		t.Fatalf("mesh shares memory with its input: coords[3]=%v", got)
	}
	out := m.Data()
	out.Elems[0] = 3
	if m.Data().Elems[0] != 0 {
		t.Fatal("Data must return a copy")
	}
}

func TestNewMeshRejectsInconsistentArrays(t *testing.T) {
	d := unitTet()
	d.Elems[3] = 9
	if _, err := NewReference(nil).NewMesh(Mesh33, d); err == nil {
		t.Fatal("expected out-of-range index error")
	}
	d = unitTet()
	d.Etags = nil
	if _, err := NewReference(nil).NewMesh(Mesh33, d); err == nil {
		t.Fatal("expected tag length error")
	}
	if _, err := NewReference(nil).NewMesh(KindInvalid, unitTet()); err == nil {
		t.Fatal("expected invalid kind error")
	}
}

func TestVols(t *testing.T) {
	m := mustMesh(t, Mesh33, unitTet())
	if v := m.Vols(); len(v) != 1 || !near(v[0], 1.0/6) {
		t.Fatalf("tet vols = %v", v)
	}
	sq := mustMesh(t, Mesh22, unitSquare())
	if v := sum(sq.Vols()); !near(v, 1) {
		t.Fatalf("square area = %v", v)
	}
}

func TestSplitTet(t *testing.T) {
	m := mustMesh(t, Mesh33, unitTet())
	s, err := m.Split()
	if err != nil {
		t.Fatal(err)
	}
	if s.NElems() != 8 || s.NVerts() != 10 || s.NFaces() != 16 {
		t.Fatalf("split counts: elems=%d verts=%d faces=%d", s.NElems(), s.NVerts(), s.NFaces())
	}
	vols := s.Vols()
	for i, v := range vols {
		if !(v > 0) {
			t.Fatalf("child %d has volume %v", i, v)
		}
	}
	if !near(sum(vols), 1.0/6) {
		t.Fatalf("split changed the volume: %v", sum(vols))
	}
	if err := s.Check(); err != nil {
		t.Fatalf("split mesh invalid: %v", err)
	}
	for _, tag := range s.Data().Etags {
		if tag != 1 {
			t.Fatalf("child tag %d, want 1", tag)
		}
	}
}

func TestSplitKeepsNegativeOrientation(t *testing.T) {
	d := unitTet()
	d.Elems = []uint32{1, 0, 2, 3}
	m := mustMesh(t, Mesh33, d)
	s, _ := m.Split()
	for i, v := range s.Vols() {
		if !(v < 0) {
			t.Fatalf("child %d of an inverted tet has volume %v", i, v)
		}
	}
}

func TestSplitTriangles(t *testing.T) {
	m := mustMesh(t, Mesh22, unitSquare())
	s, err := m.Split()
	if err != nil {
		t.Fatal(err)
	}
	// 4 corners, 5 edge midpoints (the diagonal is shared).
	if s.NElems() != 8 || s.NVerts() != 9 || s.NFaces() != 8 {
		t.Fatalf("split counts: elems=%d verts=%d faces=%d", s.NElems(), s.NVerts(), s.NFaces())
	}
	if !near(sum(s.Vols()), 1) {
		t.Fatalf("area = %v", sum(s.Vols()))
	}
	if err := s.Check(); err != nil {
		t.Fatal(err)
	}
}

func TestBoundary(t *testing.T) {
	m := mustMesh(t, Mesh33, unitTet())
	b, parent, err := m.Boundary()
	if err != nil {
		t.Fatal(err)
	}
	if b.Kind() != Mesh32 || b.NElems() != 4 || b.NVerts() != 4 {
		t.Fatalf("boundary: kind=%s elems=%d verts=%d", b.Kind(), b.NElems(), b.NVerts())
	}
	for i, p := range parent {
		if p != uint32(i) {
			t.Fatalf("parent ids = %v", parent)
		}
	}
	// Surface area of the unit tet: three right triangles and one equilateral.
	want := 1.5 + math.Sqrt(3)/2
	if !near(sum(b.Vols()), want) {
		t.Fatalf("boundary area = %v, want %v", sum(b.Vols()), want)
	}

	edges := mustMesh(t, Mesh21, MeshData{Coords: []float64{0, 0, 1, 0}, Elems: []uint32{0, 1}, Etags: []int16{1}})
	if _, _, err := edges.Boundary(); err == nil {
		t.Fatal("edge meshes have no mesh boundary")
	}
}

func TestBoundaryRenumbersVertices(t *testing.T) {
	sq := unitSquare()
	// Only the bottom edge is a face; vertices 2 and 3 are unused by faces.
	sq.Faces = []uint32{1, 0}
	sq.Ftags = []int16{7}
	m := mustMesh(t, Mesh22, sq)
	b, parent, err := m.Boundary()
	if err != nil {
		t.Fatal(err)
	}
	if b.NVerts() != 2 || len(parent) != 2 || parent[0] != 0 || parent[1] != 1 {
		t.Fatalf("parent = %v", parent)
	}
	d := b.Data()
	if d.Elems[0] != 1 || d.Elems[1] != 0 || d.Etags[0] != 7 {
		t.Fatalf("boundary data = %+v", d)
	}
}

func TestCheck(t *testing.T) {
	if err := mustMesh(t, Mesh33, unitTet()).Check(); err != nil {
		t.Fatalf("unit tet should be valid: %v", err)
	}

	d := unitTet()
	d.Faces, d.Ftags = nil, nil
	var ce *CheckError
	if err := mustMesh(t, Mesh33, d).Check(); !errors.As(err, &ce) || !strings.Contains(err.Error(), "not tagged") {
		t.Fatalf("untagged boundary: %v", err)
	}

	d = unitTet()
	d.Elems = []uint32{1, 0, 2, 3}
	if err := mustMesh(t, Mesh33, d).Check(); err == nil || !strings.Contains(err.Error(), "non-positive") {
		t.Fatalf("inverted tet: %v", err)
	}

	sq := unitSquare()
	sq.Faces = append(sq.Faces, 0, 2)
	sq.Ftags = append(sq.Ftags, 5)
	if err := mustMesh(t, Mesh22, sq).Check(); err == nil || !strings.Contains(err.Error(), "internal face") {
		t.Fatalf("tagged internal face: %v", err)
	}
}

func TestAddBoundaryFaces(t *testing.T) {
	d := unitTet()
	d.Faces, d.Ftags = nil, nil
	m := mustMesh(t, Mesh33, d)
	rep, err := m.AddBoundaryFaces()
	if err != nil {
		t.Fatal(err)
	}
	if rep.Added != 4 || m.NFaces() != 4 {
		t.Fatalf("added %d faces, mesh has %d", rep.Added, m.NFaces())
	}
	if len(rep.Boundary) != 1 || rep.Boundary[1] != 1 {
		t.Fatalf("boundary tags = %v", rep.Boundary)
	}
	if err := m.Check(); err != nil {
		t.Fatalf("repaired mesh invalid: %v", err)
	}
	again, _ := m.AddBoundaryFaces()
	if again.Added != 0 {
		t.Fatalf("second repair added %d faces", again.Added)
	}
}

func TestAddBoundaryFacesInterfaces(t *testing.T) {
	sq := unitSquare()
	sq.Etags = []int16{1, 2}
	m := mustMesh(t, Mesh22, sq)
	rep, err := m.AddBoundaryFaces()
	if err != nil {
		t.Fatal(err)
	}
	if rep.Added != 1 {
		t.Fatalf("added %d faces, want the diagonal only", rep.Added)
	}
	if got := rep.Interfaces[5]; len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("interfaces = %v", rep.Interfaces)
	}
	if err := m.Check(); err != nil {
		t.Fatal(err)
	}
}

func TestFieldTransfer(t *testing.T) {
	m := mustMesh(t, Mesh22, unitSquare())

	p0 := Field{Data: []float64{2, -1, 2, -1}, Cols: 2}
	p1, err := m.ElemDataToVertexData(p0)
	if err != nil {
		t.Fatal(err)
	}
	if p1.Cols != 2 || p1.Rows() != 4 {
		t.Fatalf("p1 shape %dx%d", p1.Rows(), p1.Cols)
	}
	for i := 0; i < 4; i++ {
		if !near(p1.Data[2*i], 2) || !near(p1.Data[2*i+1], -1) {
			t.Fatalf("constant field not preserved: %v", p1.Data)
		}
	}

	x := Field{Data: []float64{0, 3, 6, 3}, Cols: 1}
	e, err := m.VertexDataToElemData(x)
	if err != nil {
		t.Fatal(err)
	}
	if !near(e.Data[0], 3) || !near(e.Data[1], 3) {
		t.Fatalf("elem averages = %v", e.Data)
	}

	if _, err := m.ElemDataToVertexData(Field{Data: []float64{1}, Cols: 1}); err == nil {
		t.Fatal("expected row count error")
	}
}

type countingFan struct {
	mu    sync.Mutex
	calls int
}

func (c *countingFan) ParallelFor(n int, fn func(lo, hi int)) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	Sequential{}.ParallelFor(n, fn)
}

func TestFanoutIsUsed(t *testing.T) {
	fan := &countingFan{}
	m, err := NewReference(fan).NewMesh(Mesh33, unitTet())
	if err != nil {
		t.Fatal(err)
	}
	m.Vols()
	if fan.calls == 0 {
		t.Fatal("Vols did not fan out")
	}
}

func TestWriteVTK(t *testing.T) {
	m := mustMesh(t, Mesh33, unitTet())
	path := filepath.Join(t.TempDir(), "tet.vtk")
	err := m.WriteVTK(path,
		map[string]Field{"u": {Data: []float64{0, 1, 2, 3}, Cols: 1}},
		map[string]Field{"q": {Data: []float64{0.5}, Cols: 1}})
	if err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	for _, want := range []string{"DATASET UNSTRUCTURED_GRID", "POINTS 4 double", "CELLS 1 5", "4 0 1 2 3", "CELL_TYPES 1\n10\n", "POINT_DATA 4", "u 1 4 double", "q 1 1 double"} {
		if !strings.Contains(s, want) {
			t.Errorf("vtk output missing %q", want)
		}
	}

	err = m.WriteVTK(filepath.Join(t.TempDir(), "bad.vtk"), map[string]Field{"u": {Data: []float64{1}, Cols: 1}}, nil)
	if err == nil {
		t.Fatal("expected field size error")
	}
}

func TestNativeOnlyOperations(t *testing.T) {
	m := mustMesh(t, Mesh33, unitTet())
	if _, _, err := m.Remesh(Field{}, DefaultRemeshParams()); !errors.Is(err, ErrNotBuilt) {
		t.Fatalf("Remesh: %v", err)
	}
	if err := m.WriteMeshb("x.meshb"); !errors.Is(err, ErrNotBuilt) {
		t.Fatalf("WriteMeshb: %v", err)
	}
	if _, err := NewReference(nil).ReadSolb("x.solb"); !errors.Is(err, ErrNotBuilt) {
		t.Fatalf("ReadSolb: %v", err)
	}

	metric := Field{Data: []float64{1, 1, 1, 1}, Cols: 1}
	native := map[string]func() error{
		"ScaleMetric": func() error {
			_, err := m.ScaleMetric(metric, DefaultScaleParams())
			return err
		},
		"SmoothMetric": func() error {
			_, err := m.SmoothMetric(metric)
			return err
		},
		"ApplyMetricGradation": func() error {
			_, err := m.ApplyMetricGradation(metric, 1.5, 10)
			return err
		},
		"ComputeGradient": func() error {
			_, err := m.ComputeGradient(metric, DefaultWeightExp)
			return err
		},
		"ComputeHessian": func() error {
			_, err := m.ComputeHessian(metric, DefaultHessianParams())
			return err
		},
		"SmoothField": func() error {
			_, err := m.SmoothField(metric, DefaultWeightExp)
			return err
		},
		"InterpolateLinear": func() error {
			_, err := m.InterpolateLinear(m, metric, 0)
			return err
		},
		"TransferTags": func() error { return m.TransferTags(m) },
	}
	for name, call := range native {
		if err := call(); !errors.Is(err, ErrNotBuilt) {
			t.Errorf("%s: %v", name, err)
		}
	}
}

func TestLogSink(t *testing.T) {
	var mu sync.Mutex
	var recs []Record
	SetLogSink(func(r Record) {
		mu.Lock()
		recs = append(recs, r)
		mu.Unlock()
	})
	defer SetLogSink(nil)

	m := mustMesh(t, Mesh22, unitSquare())
	if _, err := m.Split(); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	found := false
	for _, r := range recs {
		if r.Level == LevelDebug && strings.HasPrefix(r.Message, "split Mesh22") {
			found = true
		}
	}
	if !found {
		t.Fatalf("no split record in %v", recs)
	}
}
