package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("MeshVersionFormatted 2\n"), 0o644); err != nil {
			t.Fatalf("write %s: %v", n, err)
		}
	}
}

func TestScanner_ScanFiltersMeshFiles(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "wing.meshb", "box.MESH", "wing.solb", "metric.sol", "notes.txt", "wing.vtk", "hull.stl")
	if err := os.Mkdir(filepath.Join(dir, "sub.mesh"), 0o755); err != nil {
		t.Fatal(err)
	}

	files, err := NewScanner().Scan(dir)
	if err != nil {
		t.Fatalf("scan error: %v", err)
	}
	want := []struct {
		id, format string
		binary     bool
	}{
		{"box.MESH", "mesh", false},
		{"hull.stl", "stl", false},
		{"metric.sol", "sol", false},
		{"wing.meshb", "meshb", true},
		{"wing.solb", "solb", true},
	}
	if len(files) != len(want) {
		t.Fatalf("got %d files: %+v", len(files), files)
	}
	for i, w := range want {
		f := files[i]
		if f.ID != w.id || f.Format != w.format || f.Binary != w.binary {
			t.Fatalf("file %d = %+v, want %+v", i, f, w)
		}
		if !filepath.IsAbs(f.Path) || f.Size == 0 {
			t.Fatalf("file %d path/size = %q/%d", i, f.Path, f.Size)
		}
	}
}

func TestScanner_Formats(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.meshb", "a.solb", "b.mesh")
	files, err := (&Scanner{Formats: []string{"MESHB", "mesh"}}).Scan(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 || files[0].ID != "a.meshb" || files[1].ID != "b.mesh" {
		t.Fatalf("unexpected: %+v", files)
	}
}

func TestScanner_ExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir on this platform: %v", err)
	}
	hTmp, err := os.MkdirTemp(home, "meshd-registry-*")
	if err != nil {
		t.Skipf("cannot create temp under home: %v", err)
	}
	defer os.RemoveAll(hTmp)
	touch(t, hTmp, "x.meshb")

	files, err := LoadDir("~/" + filepath.Base(hTmp))
	if err != nil {
		t.Fatalf("scan error: %v", err)
	}
	if len(files) != 1 || files[0].ID != "x.meshb" {
		t.Fatalf("unexpected files: %+v", files)
	}
}

func TestScanMissingDir(t *testing.T) {
	if _, err := LoadDir(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error for missing dir")
	}
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "wing.meshb", "notes.txt")

	p, err := Resolve(dir, "wing.meshb")
	if err != nil {
		t.Fatal(err)
	}
	if p != filepath.Join(dir, "wing.meshb") {
		t.Fatalf("path = %s", p)
	}
	for _, id := range []string{"", "..", "../wing.meshb", "sub/wing.meshb", "notes.txt"} {
		if _, err := Resolve(dir, id); err == nil {
			t.Fatalf("Resolve(%q) should fail", id)
		}
	}
	if _, err := Resolve(dir, "gone.mesh"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing file: %v", err)
	}
}
