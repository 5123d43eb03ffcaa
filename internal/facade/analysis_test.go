package facade

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"meshd/internal/capability"
	"meshd/internal/engine"
	"meshd/internal/marshal"
)

// nativeOnly calls every entry point the reference engine leaves to the
// native build, with valid arguments on the unit tet.
func nativeOnly(t *testing.T, fx *fixture) map[string]func() error {
	t.Helper()
	m := fx.newTet(t, unitTet())
	other := fx.newTet(t, unitTet())
	bdy, _, err := m.Boundary()
	if err != nil {
		t.Fatal(err)
	}
	metric := marshal.NewView([]float64{1, 1, 1, 1}, 4, 1)
	scalar := marshal.NewView([]float64{0, 1, 2, 3}, 4, 1)
	sp := engine.DefaultScaleParams()
	sp.HMin, sp.HMax, sp.NElems = 0.1, 1, 100
	return map[string]func() error{
		"scale_metric":  func() error { _, err := m.ScaleMetric(metric, nil, sp); return err },
		"smooth_metric": func() error { _, err := m.SmoothMetric(metric); return err },
		"apply_metric_gradation": func() error {
			_, err := m.ApplyMetricGradation(metric, 1.5, 10)
			return err
		},
		"compute_gradient": func() error { _, err := m.ComputeGradient(scalar, engine.DefaultWeightExp); return err },
		"compute_hessian": func() error {
			_, err := m.ComputeHessian(scalar, engine.DefaultHessianParams())
			return err
		},
		"smooth":             func() error { _, err := m.Smooth(scalar, engine.DefaultWeightExp); return err },
		"interpolate_linear": func() error { _, err := m.InterpolateLinear(other, scalar, 0); return err },
		"transfer_tags_face": func() error { return bdy.TransferFaceTags(other) },
	}
}

func TestNativeOnlyOperationsNeedTucanos(t *testing.T) {
	fx := newFixture(t, nil)
	ops := nativeOnly(t, fx)
	before := fx.eng.calls.Load()
	for name, call := range ops {
		var me capability.MissingError
		if err := call(); !errors.As(err, &me) || me.Backend != capability.Tucanos {
			t.Errorf("%s err = %v, want missing tucanos", name, err)
		}
	}
	if n := fx.eng.calls.Load(); n != before {
		t.Fatalf("engine called %d times after missing capability", n-before)
	}
}

func TestNativeOnlyOperationsOnReferenceEngine(t *testing.T) {
	fx := newFixture(t, map[capability.Backend]bool{capability.Tucanos: true})
	for name, call := range nativeOnly(t, fx) {
		err := call()
		if !IsNativeFailure(err) || !errors.Is(err, engine.ErrNotBuilt) {
			t.Errorf("%s err = %v, want native failure wrapping ErrNotBuilt", name, err)
		}
	}
}

func TestMetricPipelineArgumentValidation(t *testing.T) {
	fx := newFixture(t, map[capability.Backend]bool{capability.Tucanos: true})
	m := fx.newTet(t, unitTet())
	bdy, _, err := m.Boundary()
	if err != nil {
		t.Fatal(err)
	}
	metric := marshal.NewView([]float64{1, 1, 1, 1}, 4, 1)
	scalar := marshal.NewView([]float64{0, 1, 2, 3}, 4, 1)
	sp := engine.DefaultScaleParams()
	sp.HMin, sp.HMax, sp.NElems = 0.1, 1, 100
	before := fx.eng.calls.Load()

	cases := []struct {
		name string
		call func() error
		kind marshal.Kind
	}{
		{"metric width", func() error {
			_, err := m.Qualities(marshal.NewView(make([]float64, 8), 4, 2))
			return err
		}, marshal.KindShapeMismatch},
		{"metric rows", func() error {
			_, err := m.MetricInfo(marshal.NewView([]float64{1, 1, 1}, 3, 1))
			return err
		}, marshal.KindShapeMismatch},
		{"elem metric rows", func() error {
			_, err := m.ElemDataToVertexDataMetric(metric)
			return err
		}, marshal.KindShapeMismatch},
		{"hessian width", func() error {
			_, err := m.HessianToMetric(metric, 2)
			return err
		}, marshal.KindShapeMismatch},
		{"negative norm", func() error {
			_, err := m.HessianToMetric(marshal.NewView(make([]float64, 24), 4, 6), -1)
			return err
		}, marshal.KindInvalidData},
		{"h_min zero", func() error {
			p := sp
			p.HMin = 0
			_, err := m.ScaleMetric(metric, nil, p)
			return err
		}, marshal.KindInvalidData},
		{"h_max below h_min", func() error {
			p := sp
			p.HMax = 0.01
			_, err := m.ScaleMetric(metric, nil, p)
			return err
		}, marshal.KindInvalidData},
		{"no target elements", func() error {
			p := sp
			p.NElems = 0
			_, err := m.ScaleMetric(metric, nil, p)
			return err
		}, marshal.KindInvalidData},
		{"fixed metric width", func() error {
			fixed := marshal.NewView(make([]float64, 24), 4, 6)
			_, err := m.ScaleMetric(metric, &fixed, sp)
			return err
		}, marshal.KindShapeMismatch},
		{"beta below one", func() error {
			_, err := m.ApplyMetricGradation(metric, 0.5, 10)
			return err
		}, marshal.KindInvalidData},
		{"infinite beta", func() error {
			_, err := m.ApplyMetricGradation(metric, math.Inf(1), 10)
			return err
		}, marshal.KindInvalidData},
		{"negative n_iter", func() error {
			_, err := m.ApplyMetricGradation(metric, 1.5, -1)
			return err
		}, marshal.KindInvalidData},
		{"negative tol", func() error {
			other := fx.newTet(t, unitTet())
			_, err := m.InterpolateLinear(other, scalar, -1)
			return err
		}, marshal.KindInvalidData},
		{"interpolate into another kind", func() error {
			_, err := m.InterpolateNearest(bdy, scalar)
			return err
		}, marshal.KindInvalidData},
		{"missing target", func() error {
			_, err := m.InterpolateNearest(nil, scalar)
			return err
		}, marshal.KindInvalidData},
		{"scalar field width", func() error {
			_, err := m.ComputeGradient(marshal.NewView(make([]float64, 8), 4, 2), 2)
			return err
		}, marshal.KindShapeMismatch},
		{"metric of a surface", func() error {
			_, err := bdy.ImpliedMetric()
			return err
		}, marshal.KindInvalidData},
		{"face tags from a volume", func() error { return m.TransferFaceTags(bdy) }, marshal.KindInvalidData},
		{"elem tags between kinds", func() error { return bdy.TransferElemTags(m) }, marshal.KindInvalidData},
		{"autotag a volume", func() error {
			_, err := m.Autotag(30)
			return err
		}, marshal.KindInvalidData},
		{"autotag angle", func() error {
			_, err := bdy.Autotag(200)
			return err
		}, marshal.KindInvalidData},
		{"extract tags dtype", func() error {
			_, _, err := m.ExtractTags(marshal.NewView([]uint32{1}))
			return err
		}, marshal.KindTypeMismatch},
		{"skewness of edges", func() error {
			edges, _, err := bdy.Boundary()
			if err != nil {
				t.Fatal(err)
			}
			_, _, err = edges.FaceSkewnesses()
			return err
		}, marshal.KindInvalidData},
	}
	for _, c := range cases {
		err := c.call()
		if !marshal.IsValidation(err) || marshal.KindOf(err) != c.kind {
			t.Errorf("%s: err = %v, want %v", c.name, err, c.kind)
		}
	}
	// Fixtures built inside the cases go through NewMesh; nothing else may.
	if n := fx.eng.calls.Load() - before; n != 1 {
		t.Fatalf("engine called %d times, want only the one NewMesh", n)
	}
}

func TestImpliedMetricAndQualities(t *testing.T) {
	fx := newFixture(t, nil)
	m := fx.newTet(t, unitTet())

	metric, err := m.ImpliedMetric()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(metric.Shape, []int{4, 6}) {
		t.Fatalf("shape = %v", metric.Shape)
	}
	want := []float64{1, 1, 1, 0.5, 0.5, 0.5}
	for i, x := range marshal.Values[float64](metric) {
		if math.Abs(x-want[i%6]) > 1e-9 {
			t.Fatalf("metric[%d] = %g, want %g", i, x, want[i%6])
		}
	}

	q, err := m.Qualities(metric)
	if err != nil {
		t.Fatal(err)
	}
	if got := marshal.Values[float64](q); len(got) != 1 || math.Abs(got[0]-1) > 1e-9 {
		t.Fatalf("qualities = %v, want [1]", got)
	}

	info, err := m.MetricInfo(marshal.NewView([]float64{1, 1, 1, 1}, 4, 1))
	if err != nil {
		t.Fatal(err)
	}
	if info.HMin != 1 || info.HMax != 1 || info.Anisotropy != 1 || math.Abs(info.Complexity-math.Sqrt2) > 1e-12 {
		t.Fatalf("info = %+v", info)
	}

	elem, err := m.ElemDataToVertexDataMetric(marshal.NewView([]float64{0.5}, 1, 1))
	if err != nil {
		t.Fatal(err)
	}
	for _, x := range marshal.Values[float64](elem) {
		if math.Abs(x-0.5) > 1e-12 {
			t.Fatalf("vertex sizes = %v", marshal.Values[float64](elem))
		}
	}
}

func TestHessianToMetricThroughFacade(t *testing.T) {
	fx := newFixture(t, nil)
	m := fx.newTet(t, unitTet())
	row := []float64{-4, 9, 1, 0, 0, 0}
	var rows []float64
	for range 4 {
		rows = append(rows, row...)
	}
	out, err := m.HessianToMetric(marshal.NewView(rows, 4, 6), 0)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{4, 9, 1, 0, 0, 0}
	for i, x := range marshal.Values[float64](out) {
		if math.Abs(x-want[i%6]) > 1e-9 {
			t.Fatalf("metric[%d] = %g, want %g", i, x, want[i%6])
		}
	}

	// A zero Hessian has no metric.
	if _, err := m.HessianToMetric(marshal.NewView(make([]float64, 24), 4, 6), 2); !IsNativeFailure(err) {
		t.Fatalf("zero hessian: %v", err)
	}
}

func TestShapeMeasures(t *testing.T) {
	fx := newFixture(t, nil)
	m := fx.newTet(t, unitTet())

	g, err := m.ElemGammas()
	if err != nil {
		t.Fatal(err)
	}
	if got := marshal.Values[float64](g); len(got) != 1 || math.Abs(got[0]-(math.Sqrt(3)-1)) > 1e-9 {
		t.Fatalf("gammas = %v", got)
	}
	r, err := m.EdgeLengthRatios()
	if err != nil {
		t.Fatal(err)
	}
	if got := marshal.Values[float64](r); len(got) != 1 || math.Abs(got[0]-math.Sqrt2) > 1e-12 {
		t.Fatalf("edge ratios = %v", got)
	}

	// A single tet has no internal facet.
	pairs, values, err := m.FaceSkewnesses()
	if err != nil {
		t.Fatal(err)
	}
	if pairs.Shape[0] != 0 || values.Shape[0] != 0 {
		t.Fatalf("skewness shapes = %v, %v", pairs.Shape, values.Shape)
	}
}

func TestReorderAndExtract(t *testing.T) {
	fx := newFixture(t, nil)
	m := fx.newTet(t, unitTet())

	ids, err := m.ReorderHilbert()
	if err != nil {
		t.Fatal(err)
	}
	seen := map[uint32]bool{}
	for _, v := range marshal.Values[uint32](ids.Verts) {
		seen[v] = true
	}
	if len(seen) != 4 || ids.Elems.Shape[0] != 1 || ids.Faces.Shape[0] != 4 {
		t.Fatalf("renumbering = %v %v %v", ids.Verts.Data, ids.Elems.Data, ids.Faces.Data)
	}
	if v, err := m.Vol(); err != nil || math.Abs(v-1.0/6) > 1e-12 {
		t.Fatalf("Vol after reorder = %g, %v", v, err)
	}

	sub, parent, err := m.ExtractTags(marshal.NewView([]int16{1}))
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := sub.NElems(); n != 1 {
		t.Fatalf("extracted elems = %d", n)
	}
	if !reflect.DeepEqual(marshal.Values[uint32](parent.Verts), []uint32{0, 1, 2, 3}) {
		t.Fatalf("parent verts = %v", parent.Verts.Data)
	}

	none, _, err := m.ExtractTags(marshal.NewView([]int16{7}))
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := none.NElems(); n != 0 {
		t.Fatalf("elems tagged 7 = %d", n)
	}
}

func TestAutotagBoundary(t *testing.T) {
	fx := newFixture(t, nil)
	m := fx.newTet(t, unitTet())
	bdy, _, err := m.Boundary()
	if err != nil {
		t.Fatal(err)
	}
	// Every face of the tet has its own tag, so no patches merge.
	out, err := bdy.Autotag(30)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 4 {
		t.Fatalf("autotag = %v", out)
	}
	for old, tags := range out {
		if len(tags) != 1 {
			t.Fatalf("tag %d split into %v", old, tags)
		}
	}
}

func TestInterpolateNearestThroughFacade(t *testing.T) {
	fx := newFixture(t, nil)
	m := fx.newTet(t, unitTet())
	fine, err := m.Split()
	if err != nil {
		t.Fatal(err)
	}
	out, err := m.InterpolateNearest(fine, marshal.NewView([]float64{0, 1, 2, 3}, 4, 1))
	if err != nil {
		t.Fatal(err)
	}
	n, _ := fine.NVerts()
	got := marshal.Values[float64](out)
	if len(got) != n {
		t.Fatalf("%d values for %d vertices", len(got), n)
	}
	// Split keeps the parent vertices first.
	if !reflect.DeepEqual(got[:4], []float64{0, 1, 2, 3}) {
		t.Fatalf("values at parent vertices = %v", got[:4])
	}
}

func TestSTLAndBoundaryVTKFiles(t *testing.T) {
	fx := newFixture(t, nil)
	dir := t.TempDir()

	if _, err := fx.f.ReadSTL(""); !marshal.IsValidation(err) {
		t.Fatalf("empty path: %v", err)
	}

	path := filepath.Join(dir, "tri.stl")
	stl := `solid tri
  facet normal 0 0 1
    outer loop
      vertex 0 0 0
      vertex 1 0 0
      vertex 0 1 0
    endloop
  endfacet
endsolid tri
`
	if err := os.WriteFile(path, []byte(stl), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := fx.f.ReadSTL(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.Kind() != engine.Mesh32 {
		t.Fatalf("kind = %s", s.Kind())
	}
	if n, _ := s.NVerts(); n != 3 {
		t.Fatalf("verts = %d", n)
	}

	if _, err := fx.f.ReadSTL(filepath.Join(dir, "missing.stl")); !IsNativeFailure(err) {
		t.Fatalf("missing file: %v", err)
	}

	m := fx.newTet(t, unitTet())
	out := filepath.Join(dir, "bdy.vtk")
	if err := m.WriteBoundaryVTK(out); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(out)
	if err != nil || !strings.Contains(string(b), "POINTS 4 double") {
		t.Fatalf("boundary vtk: %v", err)
	}
	if err := m.WriteBoundaryVTK(""); !marshal.IsValidation(err) {
		t.Fatalf("empty path: %v", err)
	}
}
