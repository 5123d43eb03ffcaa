package engine

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

var vtkCellType = map[int]int{2: 3, 3: 5, 4: 10} // line, triangle, tetra

// WriteVTK writes the mesh as a legacy ASCII VTK unstructured grid with
// optional vertex and element fields. Element tags are always written as
// the cell field "tag".
func (m *refMesh) WriteVTK(path string, vertData, elemData map[string]Field) error {
	for name, f := range vertData {
		if f.Cols <= 0 || len(f.Data) != m.NVerts()*f.Cols {
			return fmt.Errorf("vtk: vertex field %q has %d values, want %d x m", name, len(f.Data), m.NVerts())
		}
	}
	for name, f := range elemData {
		if f.Cols <= 0 || len(f.Data) != m.NElems()*f.Cols {
			return fmt.Errorf("vtk: element field %q has %d values, want %d x m", name, len(f.Data), m.NElems())
		}
	}
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(fh)
	if err := m.encodeVTK(w, vertData, elemData); err != nil {
		_ = fh.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = fh.Close()
		return err
	}
	logf(LevelDebug, "meshd::engine", "wrote %s", path)
	return fh.Close()
}

func (m *refMesh) encodeVTK(w *bufio.Writer, vertData, elemData map[string]Field) error {
	dim, ev := m.kind.Dim(), m.kind.ElemVerts()
	nv, ne := m.NVerts(), m.NElems()

	fmt.Fprintf(w, "# vtk DataFile Version 3.0\n%s\nASCII\nDATASET UNSTRUCTURED_GRID\n", m.kind)
	fmt.Fprintf(w, "POINTS %d double\n", nv)
	for i := 0; i < nv; i++ {
		p := m.d.Coords[i*dim : (i+1)*dim]
		z := 0.0
		if dim == 3 {
			z = p[2]
		}
		writeFloats(w, p[0], p[1], z)
	}

	fmt.Fprintf(w, "CELLS %d %d\n", ne, ne*(ev+1))
	for i := 0; i < ne; i++ {
		w.WriteString(strconv.Itoa(ev))
		for _, v := range m.elem(i) {
			w.WriteByte(' ')
			w.WriteString(strconv.FormatUint(uint64(v), 10))
		}
		w.WriteByte('\n')
	}
	fmt.Fprintf(w, "CELL_TYPES %d\n", ne)
	for i := 0; i < ne; i++ {
		fmt.Fprintf(w, "%d\n", vtkCellType[ev])
	}

	fmt.Fprintf(w, "CELL_DATA %d\nSCALARS tag int 1\nLOOKUP_TABLE default\n", ne)
	for _, t := range m.d.Etags {
		fmt.Fprintf(w, "%d\n", t)
	}
	writeVTKFields(w, elemData)

	if len(vertData) > 0 {
		fmt.Fprintf(w, "POINT_DATA %d\n", nv)
		writeVTKFields(w, vertData)
	}
	return nil
}

func writeVTKFields(w *bufio.Writer, fields map[string]Field) {
	if len(fields) == 0 {
		return
	}
	names := make([]string, 0, len(fields))
	for n := range fields {
		names = append(names, n)
	}
	sort.Strings(names)
	fmt.Fprintf(w, "FIELD FieldData %d\n", len(names))
	for _, n := range names {
		f := fields[n]
		// Legacy VTK names cannot contain whitespace.
		fmt.Fprintf(w, "%s %d %d double\n", strings.Join(strings.Fields(n), "_"), f.Cols, f.Rows())
		for r := 0; r < f.Rows(); r++ {
			writeFloats(w, f.Data[r*f.Cols:(r+1)*f.Cols]...)
		}
	}
}

func writeFloats(w io.StringWriter, xs ...float64) {
	for i, x := range xs {
		if i > 0 {
			w.WriteString(" ")
		}
		w.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
	}
	w.WriteString("\n")
}
