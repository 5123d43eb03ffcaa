package facade

import (
	"math"
	"sort"
	"sync/atomic"

	"gonum.org/v1/gonum/floats"

	"meshd/internal/capability"
	"meshd/internal/engine"
	"meshd/internal/marshal"
)

const (
	handleLive int32 = iota
	handlePoisoned
	handleClosed
)

// Mesh is a host handle to an engine mesh. It is not safe for concurrent
// use.
type Mesh struct {
	f     *Facade
	m     engine.Mesh
	kind  engine.Kind
	state atomic.Int32

	nVerts, nElems, nFaces int
}

func (h *Mesh) usable() error {
	switch h.state.Load() {
	case handlePoisoned:
		return errPoisoned
	case handleClosed:
		return errClosed
	}
	return nil
}

func (h *Mesh) poison() { h.state.CompareAndSwap(handleLive, handlePoisoned) }

func (h *Mesh) counts() {
	h.nVerts, h.nElems, h.nFaces = h.m.NVerts(), h.m.NElems(), h.m.NFaces()
}

// Kind is the mesh kind.
func (h *Mesh) Kind() engine.Kind { return h.kind }

// Valid reports whether the handle can still be used.
func (h *Mesh) Valid() bool { return h.state.Load() == handleLive }

// NVerts is the vertex count.
func (h *Mesh) NVerts() (int, error) {
	if err := h.usable(); err != nil {
		return 0, err
	}
	return h.nVerts, nil
}

// NElems is the element count.
func (h *Mesh) NElems() (int, error) {
	if err := h.usable(); err != nil {
		return 0, err
	}
	return h.nElems, nil
}

// NFaces is the face count.
func (h *Mesh) NFaces() (int, error) {
	if err := h.usable(); err != nil {
		return 0, err
	}
	return h.nFaces, nil
}

func (h *Mesh) data(op string) (engine.MeshData, error) {
	var d engine.MeshData
	err := h.f.invoke(op, h, nil, func() error {
		d = h.m.Data()
		return nil
	})
	return d, err
}

// Coords returns a copy of the vertex coordinates, shape (n_verts, dim).
func (h *Mesh) Coords() (marshal.View, error) {
	d, err := h.data("coords")
	if err != nil {
		return marshal.View{}, err
	}
	return marshal.FromNative(d.Coords, h.kind.Dim()), nil
}

// Elems returns a copy of the element connectivity.
func (h *Mesh) Elems() (marshal.View, error) {
	d, err := h.data("elems")
	if err != nil {
		return marshal.View{}, err
	}
	return marshal.FromNative(d.Elems, h.kind.ElemVerts()), nil
}

// Etags returns a copy of the element tags.
func (h *Mesh) Etags() (marshal.View, error) {
	d, err := h.data("etags")
	if err != nil {
		return marshal.View{}, err
	}
	return marshal.FromNative(d.Etags, 0), nil
}

// Faces returns a copy of the face connectivity.
func (h *Mesh) Faces() (marshal.View, error) {
	d, err := h.data("faces")
	if err != nil {
		return marshal.View{}, err
	}
	return marshal.FromNative(d.Faces, h.kind.FaceVerts()), nil
}

// Ftags returns a copy of the face tags.
func (h *Mesh) Ftags() (marshal.View, error) {
	d, err := h.data("ftags")
	if err != nil {
		return marshal.View{}, err
	}
	return marshal.FromNative(d.Ftags, 0), nil
}

// Vols returns the element volumes.
func (h *Mesh) Vols() (marshal.View, error) {
	var v []float64
	err := h.f.invoke("vols", h, nil, func() error {
		v = h.m.Vols()
		return nil
	})
	if err != nil {
		return marshal.View{}, err
	}
	return marshal.FromNative(v, 0), nil
}

// Vol is the total mesh volume.
func (h *Mesh) Vol() (float64, error) {
	var total float64
	err := h.f.invoke("vol", h, nil, func() error {
		total = floats.Sum(h.m.Vols())
		return nil
	})
	return total, err
}

// Boundary returns the boundary faces as a mesh together with the id, in
// this mesh, of every boundary vertex.
func (h *Mesh) Boundary() (*Mesh, marshal.View, error) {
	const op = "boundary"
	if err := h.usable(); err != nil {
		return nil, marshal.View{}, h.f.finish(op, err)
	}
	if _, ok := h.kind.Boundary(); !ok {
		return nil, marshal.View{}, h.f.finish(op, marshal.Errorf(marshal.KindInvalidData, "mesh", "%s has no boundary mesh", h.kind))
	}
	var (
		bdy *Mesh
		ids []uint32
	)
	err := h.f.invoke(op, h, nil, func() error {
		m, vids, err := h.m.Boundary()
		if err != nil {
			return err
		}
		bdy, ids = h.f.wrap(m), vids
		return nil
	})
	if err != nil {
		return nil, marshal.View{}, err
	}
	return bdy, marshal.FromNative(ids, 0), nil
}

// Split refines the mesh uniformly.
func (h *Mesh) Split() (*Mesh, error) {
	var out *Mesh
	err := h.f.invoke("split", h, nil, func() error {
		m, err := h.m.Split()
		if err != nil {
			return err
		}
		out = h.f.wrap(m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AddBoundaryFaces adds the missing boundary and interface faces in place.
func (h *Mesh) AddBoundaryFaces() (engine.FaceRepair, error) {
	var rep engine.FaceRepair
	err := h.f.invoke("add_boundary_faces", h, nil, func() (err error) {
		rep, err = h.m.AddBoundaryFaces()
		h.counts()
		return err
	})
	return rep, err
}

// Check validates the mesh. A failed check is a native failure carrying the
// engine diagnostic.
func (h *Mesh) Check() error {
	return h.f.invoke("check", h, nil, h.m.Check)
}

// ElemDataToVertexData interpolates (n_elems, m) element data to the
// vertices.
func (h *Mesh) ElemDataToVertexData(v marshal.View) (marshal.View, error) {
	return h.transfer("elem_to_vertex", v, h.nElems, h.m.ElemDataToVertexData)
}

// VertexDataToElemData averages (n_verts, m) vertex data over the elements.
func (h *Mesh) VertexDataToElemData(v marshal.View) (marshal.View, error) {
	return h.transfer("vertex_to_elem", v, h.nVerts, h.m.VertexDataToElemData)
}

func (h *Mesh) transfer(op string, v marshal.View, rows int, fn func(engine.Field) (engine.Field, error)) (marshal.View, error) {
	if err := h.usable(); err != nil {
		return marshal.View{}, h.f.finish(op, err)
	}
	in, err := field("data", v, rows, 0)
	if err != nil {
		return marshal.View{}, h.f.finish(op, err)
	}
	var out engine.Field
	err = h.f.invoke(op, h, nil, func() (err error) {
		out, err = fn(in)
		return err
	})
	if err != nil {
		return marshal.View{}, err
	}
	return marshal.FromNative(out.Data, out.Cols), nil
}

// WriteVTK writes the mesh with optional per-vertex and per-element fields.
func (h *Mesh) WriteVTK(path string, vertData, elemData map[string]marshal.View) error {
	const op = "write_vtk"
	if err := h.usable(); err != nil {
		return h.f.finish(op, err)
	}
	if path == "" {
		return h.f.finish(op, marshal.Errorf(marshal.KindInvalidData, "path", "empty path"))
	}
	vf, err := fields(vertData, h.nVerts)
	if err != nil {
		return h.f.finish(op, err)
	}
	ef, err := fields(elemData, h.nElems)
	if err != nil {
		return h.f.finish(op, err)
	}
	return h.f.invoke(op, h, nil, func() error {
		return h.m.WriteVTK(path, vf, ef)
	})
}

// WriteMeshb writes a .mesh or .meshb file.
func (h *Mesh) WriteMeshb(path string) error {
	const op = "write_meshb"
	if path == "" {
		return h.f.finish(op, marshal.Errorf(marshal.KindInvalidData, "path", "empty path"))
	}
	return h.f.invoke(op, h, []capability.Backend{capability.Tucanos, capability.Meshb}, func() error {
		return h.m.WriteMeshb(path)
	})
}

// WriteSolb writes an (n_verts, m) vertex field to a .sol or .solb file.
func (h *Mesh) WriteSolb(path string, v marshal.View) error {
	const op = "write_solb"
	if err := h.usable(); err != nil {
		return h.f.finish(op, err)
	}
	if path == "" {
		return h.f.finish(op, marshal.Errorf(marshal.KindInvalidData, "path", "empty path"))
	}
	fld, err := field("data", v, h.nVerts, 0)
	if err != nil {
		return h.f.finish(op, err)
	}
	return h.f.invoke(op, h, []capability.Backend{capability.Tucanos, capability.Meshb}, func() error {
		return h.m.WriteSolb(path, fld)
	})
}

// Remesh adapts the mesh to a per-vertex metric, isotropic (n_verts, 1) or
// anisotropic (n_verts, dim*(dim+1)/2). The source mesh is left unchanged.
func (h *Mesh) Remesh(metric marshal.View, p engine.RemeshParams) (*Mesh, engine.Stats, error) {
	const op = "remesh"
	mf, need, err := h.remeshArgs(metric, &p)
	if err != nil {
		return nil, nil, h.f.finish(op, err)
	}
	var (
		out   *Mesh
		stats engine.Stats
	)
	err = h.f.invoke(op, h, need, func() error {
		m, st, err := h.m.Remesh(mf, p)
		if err != nil {
			return err
		}
		out, stats = h.f.wrap(m), st
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return out, stats, nil
}

// ParallelRemesh remeshes nParts partitions concurrently and stitches the
// result.
func (h *Mesh) ParallelRemesh(part engine.Partition, nParts int, metric marshal.View, p engine.RemeshParams, dd engine.DDParams) (*Mesh, engine.Stats, error) {
	const op = "parallel_remesh"
	mf, need, err := h.remeshArgs(metric, &p)
	if err != nil {
		return nil, nil, h.f.finish(op, err)
	}
	if nParts < 1 || int64(nParts) > math.MaxUint32 {
		return nil, nil, h.f.finish(op, marshal.Errorf(marshal.KindInvalidData, "n_parts", "must be in [1, %d], got %d", uint32(math.MaxUint32), nParts))
	}
	if err := checkU32("dd_params",
		u32Arg{"n_layers", dd.NLayers},
		u32Arg{"n_levels", dd.NLevels},
		u32Arg{"min_verts", dd.MinVerts},
	); err != nil {
		return nil, nil, h.f.finish(op, err)
	}
	switch part {
	case engine.PartitionScotch:
		need = append(need, capability.Scotch)
	case engine.PartitionMetisKWay, engine.PartitionMetisRecursive:
		need = append(need, capability.Metis)
	case engine.PartitionHilbert:
	default:
		return nil, nil, h.f.finish(op, marshal.Errorf(marshal.KindInvalidData, "partition", "unknown partition %q", string(part)))
	}
	var (
		out   *Mesh
		stats engine.Stats
	)
	err = h.f.invoke(op, h, need, func() error {
		m, st, err := h.m.ParallelRemesh(part, nParts, mf, p, dd)
		if err != nil {
			return err
		}
		out, stats = h.f.wrap(m), st
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return out, stats, nil
}

// remeshArgs validates the metric and parameters shared by both remeshers
// and returns the capabilities they need.
func (h *Mesh) remeshArgs(metric marshal.View, p *engine.RemeshParams) (engine.Field, []capability.Backend, error) {
	if err := h.usable(); err != nil {
		return engine.Field{}, nil, err
	}
	if !h.kind.Remeshable() {
		return engine.Field{}, nil, marshal.Errorf(marshal.KindInvalidData, "mesh", "%s cannot be remeshed", h.kind)
	}
	mf, err := h.metricArg("metric", metric, h.nVerts)
	if err != nil {
		return engine.Field{}, nil, err
	}
	if err := checkU32("params",
		u32Arg{"num_iter", p.NumIter},
		u32Arg{"split_max_iter", p.SplitMaxIter},
		u32Arg{"collapse_max_iter", p.CollapseMaxIter},
		u32Arg{"swap_max_iter", p.SwapMaxIter},
		u32Arg{"smooth_iter", p.SmoothIter},
	); err != nil {
		return engine.Field{}, nil, err
	}
	st, err := engine.ParseSmoothing(string(p.SmoothType))
	if err != nil {
		return engine.Field{}, nil, marshal.Errorf(marshal.KindInvalidData, "smooth_type", "%v", err)
	}
	p.SmoothType = st
	need := []capability.Backend{capability.Tucanos}
	if st == engine.SmoothNLopt {
		need = append(need, capability.NLopt)
	}
	return mf, need, nil
}

// Close releases the engine mesh. Closing a poisoned handle only marks it
// closed; the engine state behind it is not touched again.
func (h *Mesh) Close() error {
	if h.state.CompareAndSwap(handleLive, handleClosed) {
		h.m.Close()
		return nil
	}
	h.state.CompareAndSwap(handlePoisoned, handleClosed)
	return nil
}

type u32Arg struct {
	name string
	v    int
}

// checkU32 rejects any value the engine cannot take as an unsigned 32-bit
// count. Arguments are named group.name, or name alone for an empty group.
func checkU32(group string, args ...u32Arg) error {
	for _, a := range args {
		if a.v < 0 || int64(a.v) > math.MaxUint32 {
			arg := a.name
			if group != "" {
				arg = group + "." + a.name
			}
			return marshal.Errorf(marshal.KindInvalidData, arg, "must be in [0, %d], got %d", uint32(math.MaxUint32), a.v)
		}
	}
	return nil
}

func field(arg string, v marshal.View, rows, cols int) (engine.Field, error) {
	b, err := marshal.Field(arg, v, rows, cols)
	if err != nil {
		return engine.Field{}, err
	}
	if b.Cols() == 0 {
		return engine.Field{}, marshal.Errorf(marshal.KindShapeMismatch, arg, "invalid dimension 1: expected at least 1 component")
	}
	return engine.Field{Data: marshal.Slice[float64](b), Cols: b.Cols()}, nil
}

// fields converts named fields in name order so the first bad one is
// reported deterministically.
func fields(in map[string]marshal.View, rows int) (map[string]engine.Field, error) {
	if len(in) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(in))
	for name := range in {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make(map[string]engine.Field, len(in))
	for _, name := range names {
		f, err := field(name, in[name], rows, 0)
		if err != nil {
			return nil, err
		}
		out[name] = f
	}
	return out, nil
}
