//go:build tucanos && cgo

package engine

// cgo link directives for the native engine.
// - libtucanos is expected next to the binary ($ORIGIN rpath) or in the
//   repository's bin/ directory at link time.
// - meshb, metis, scotch and nlopt are features of libtucanos itself; their
//   build tags only advertise what the library was compiled with.

/*
#cgo LDFLAGS: -Wl,-rpath,'$ORIGIN' -L${SRCDIR}/../../bin -ltucanos
#include <stdint.h>
#include <stdlib.h>

typedef struct tucanos_mesh tucanos_mesh_t;

typedef struct {
	uint32_t num_iter;
	int two_steps;
	uint32_t split_max_iter;
	double split_min_l_rel, split_min_l_abs, split_min_q_rel, split_min_q_abs;
	uint32_t collapse_max_iter;
	double collapse_max_l_rel, collapse_max_l_abs, collapse_min_q_rel, collapse_min_q_abs;
	uint32_t swap_max_iter;
	double swap_max_l_rel, swap_max_l_abs, swap_min_l_rel, swap_min_l_abs;
	uint32_t smooth_iter;
	int smooth_type;
	const double* smooth_relax;
	uint32_t n_smooth_relax;
	int smooth_keep_local_minima;
	double max_angle;
	int debug;
} tucanos_remesh_params_t;

typedef struct {
	uint32_t n_layers;
	uint32_t n_levels;
	uint32_t min_verts;
} tucanos_dd_params_t;

typedef void (*tucanos_log_cb)(int level, char* target, char* msg);

void tucanos_set_log_callback(tucanos_log_cb cb);

tucanos_mesh_t* tucanos_mesh_new(int kind,
	const double* coords, uint32_t n_verts,
	const uint32_t* elems, const int16_t* etags, uint32_t n_elems,
	const uint32_t* faces, const int16_t* ftags, uint32_t n_faces);
void tucanos_mesh_delete(tucanos_mesh_t* m);
uint32_t tucanos_mesh_n_verts(const tucanos_mesh_t* m);
uint32_t tucanos_mesh_n_elems(const tucanos_mesh_t* m);
uint32_t tucanos_mesh_n_faces(const tucanos_mesh_t* m);
void tucanos_mesh_get_verts(const tucanos_mesh_t* m, double* out);
void tucanos_mesh_get_elems(const tucanos_mesh_t* m, uint32_t* out);
void tucanos_mesh_get_etags(const tucanos_mesh_t* m, int16_t* out);
void tucanos_mesh_get_faces(const tucanos_mesh_t* m, uint32_t* out);
void tucanos_mesh_get_ftags(const tucanos_mesh_t* m, int16_t* out);

tucanos_mesh_t* tucanos_mesh_read_meshb(int kind, const char* path, char** err);
int tucanos_mesh_write_meshb(const tucanos_mesh_t* m, const char* path, char** err);
int tucanos_mesh_write_solb(const tucanos_mesh_t* m, const char* path, const double* data, uint32_t cols, char** err);
double* tucanos_read_solb(const char* path, uint32_t* rows, uint32_t* cols, char** err);

tucanos_mesh_t* tucanos_remesh(const tucanos_mesh_t* m, const double* metric, uint32_t cols,
	const tucanos_remesh_params_t* p, char** stats, char** err);
tucanos_mesh_t* tucanos_parallel_remesh(const tucanos_mesh_t* m, int partition, uint32_t n_parts,
	const double* metric, uint32_t cols, const tucanos_remesh_params_t* p,
	const tucanos_dd_params_t* dd, char** stats, char** err);

double* tucanos_scale_metric(const tucanos_mesh_t* m, const double* metric, uint32_t cols,
	const double* fixed, uint32_t fixed_cols, double h_min, double h_max,
	uint32_t n_elems, uint32_t max_iter, char** err);
double* tucanos_smooth_metric(const tucanos_mesh_t* m, const double* metric, uint32_t cols, char** err);
double* tucanos_apply_metric_gradation(const tucanos_mesh_t* m, const double* metric, uint32_t cols,
	double beta, uint32_t n_iter, char** err);

double* tucanos_compute_gradient(const tucanos_mesh_t* m, const double* f, int weight_exp, char** err);
double* tucanos_compute_hessian(const tucanos_mesh_t* m, const double* f, int weight_exp, int has_weight_exp,
	int second_order_neighbors, char** err);
double* tucanos_smooth(const tucanos_mesh_t* m, const double* f, int weight_exp, char** err);
double* tucanos_interpolate_linear(const tucanos_mesh_t* src, const tucanos_mesh_t* dst,
	const double* f, uint32_t cols, double tol, char** err);
int tucanos_transfer_tags(const tucanos_mesh_t* src, tucanos_mesh_t* dst, char** err);

void tucanos_free_string(char* s);
void tucanos_free_doubles(double* p);

extern void meshdEngineLog(int level, char* target, char* msg);
*/
import "C"

import (
	"encoding/json"
	"errors"
	"unsafe"
)

// NativeBuilt reports whether libtucanos is linked into this binary.
const NativeBuilt = true

func init() {
	C.tucanos_set_log_callback(C.tucanos_log_cb(C.meshdEngineLog))
}

//export meshdEngineLog
func meshdEngineLog(level C.int, target, msg *C.char) {
	Emit(Level(level), C.GoString(target), C.GoString(msg))
}

func newDefault(fan Fanout) Engine { return NewNative(fan) }

// Native is the libtucanos-backed engine.
type Native struct {
	fan Fanout
}

// NewNative returns the native engine. Utilities run in Go; remeshing and
// .meshb/.solb I/O go through libtucanos.
func NewNative(fan Fanout) *Native {
	if fan == nil {
		fan = Sequential{}
	}
	return &Native{fan: fan}
}

func (e *Native) Name() string { return "tucanos" }

func (e *Native) NewMesh(kind Kind, data MeshData) (Mesh, error) {
	m, err := newRefMesh(kind, data.Clone(), e.fan)
	if err != nil {
		return nil, err
	}
	m.lift = liftNative
	return &nativeMesh{m}, nil
}

func (e *Native) ReadMeshb(kind Kind, path string) (Mesh, error) {
	if !kind.Valid() {
		return nil, errors.New("invalid mesh kind")
	}
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))
	var cerr *C.char
	h := C.tucanos_mesh_read_meshb(C.int(kind), cpath, &cerr)
	if h == nil {
		return nil, takeError(cerr, "read meshb")
	}
	defer C.tucanos_mesh_delete(h)
	m, err := newRefMesh(kind, readHandle(kind, h), e.fan)
	if err != nil {
		return nil, err
	}
	m.lift = liftNative
	return &nativeMesh{m}, nil
}

func (e *Native) ReadSolb(path string) (Field, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))
	var rows, cols C.uint32_t
	var cerr *C.char
	p := C.tucanos_read_solb(cpath, &rows, &cols, &cerr)
	if p == nil {
		return Field{}, takeError(cerr, "read solb")
	}
	defer C.tucanos_free_doubles(p)
	n := int(rows) * int(cols)
	out := make([]float64, n)
	copy(out, unsafe.Slice((*float64)(unsafe.Pointer(p)), n))
	return Field{Data: out, Cols: int(cols)}, nil
}

func (e *Native) ReadSTL(path string) (Mesh, error) {
	d, err := readSTL(path)
	if err != nil {
		return nil, err
	}
	return e.NewMesh(Mesh32, d)
}

type nativeMesh struct {
	*refMesh
}

func liftNative(r *refMesh) Mesh { return &nativeMesh{r} }

// handle builds a short-lived native copy of the mesh. The caller deletes it.
func (m *nativeMesh) handle() (*C.tucanos_mesh_t, error) {
	d := &m.d
	h := C.tucanos_mesh_new(C.int(m.kind),
		f64Ptr(d.Coords), C.uint32_t(m.NVerts()),
		u32Ptr(d.Elems), i16Ptr(d.Etags), C.uint32_t(m.NElems()),
		u32Ptr(d.Faces), i16Ptr(d.Ftags), C.uint32_t(m.NFaces()))
	if h == nil {
		return nil, errors.New("tucanos: mesh construction failed")
	}
	return h, nil
}

func (m *nativeMesh) WriteMeshb(path string) error {
	h, err := m.handle()
	if err != nil {
		return err
	}
	defer C.tucanos_mesh_delete(h)
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))
	var cerr *C.char
	if C.tucanos_mesh_write_meshb(h, cpath, &cerr) != 0 {
		return takeError(cerr, "write meshb")
	}
	return nil
}

func (m *nativeMesh) WriteSolb(path string, f Field) error {
	h, err := m.handle()
	if err != nil {
		return err
	}
	defer C.tucanos_mesh_delete(h)
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))
	var cerr *C.char
	if C.tucanos_mesh_write_solb(h, cpath, f64Ptr(f.Data), C.uint32_t(f.Cols), &cerr) != 0 {
		return takeError(cerr, "write solb")
	}
	return nil
}

func (m *nativeMesh) Remesh(metric Field, p RemeshParams) (Mesh, Stats, error) {
	h, err := m.handle()
	if err != nil {
		return nil, nil, err
	}
	defer C.tucanos_mesh_delete(h)
	cp, free := remeshParams(p)
	defer free()
	var stats, cerr *C.char
	out := C.tucanos_remesh(h, f64Ptr(metric.Data), C.uint32_t(metric.Cols), cp, &stats, &cerr)
	if out == nil {
		return nil, nil, takeError(cerr, "remesh")
	}
	return m.finishRemesh(out, stats)
}

func (m *nativeMesh) ParallelRemesh(part Partition, nParts int, metric Field, p RemeshParams, dd DDParams) (Mesh, Stats, error) {
	h, err := m.handle()
	if err != nil {
		return nil, nil, err
	}
	defer C.tucanos_mesh_delete(h)
	cp, free := remeshParams(p)
	defer free()
	cdd := (*C.tucanos_dd_params_t)(C.malloc(C.size_t(unsafe.Sizeof(C.tucanos_dd_params_t{}))))
	defer C.free(unsafe.Pointer(cdd))
	cdd.n_layers = C.uint32_t(dd.NLayers)
	cdd.n_levels = C.uint32_t(dd.NLevels)
	cdd.min_verts = C.uint32_t(dd.MinVerts)

	var stats, cerr *C.char
	out := C.tucanos_parallel_remesh(h, C.int(partitionCode[part]), C.uint32_t(nParts),
		f64Ptr(metric.Data), C.uint32_t(metric.Cols), cp, cdd, &stats, &cerr)
	if out == nil {
		return nil, nil, takeError(cerr, "parallel remesh")
	}
	return m.finishRemesh(out, stats)
}

func (m *nativeMesh) finishRemesh(out *C.tucanos_mesh_t, stats *C.char) (Mesh, Stats, error) {
	defer C.tucanos_mesh_delete(out)
	var raw Stats
	if stats != nil {
		raw = json.RawMessage(C.GoString(stats))
		C.tucanos_free_string(stats)
	}
	r, err := newRefMesh(m.kind, readHandle(m.kind, out), m.fan)
	if err != nil {
		return nil, nil, err
	}
	r.lift = liftNative
	return &nativeMesh{r}, raw, nil
}

func (m *nativeMesh) ScaleMetric(metric Field, p ScaleParams) (Field, error) {
	return m.fieldOp("scale metric", m.NVerts(), metric.Cols, func(h *C.tucanos_mesh_t, cerr **C.char) *C.double {
		return C.tucanos_scale_metric(h, f64Ptr(metric.Data), C.uint32_t(metric.Cols),
			f64Ptr(p.Fixed.Data), C.uint32_t(p.Fixed.Cols), C.double(p.HMin), C.double(p.HMax),
			C.uint32_t(p.NElems), C.uint32_t(p.MaxIter), cerr)
	})
}

func (m *nativeMesh) SmoothMetric(metric Field) (Field, error) {
	return m.fieldOp("smooth metric", m.NVerts(), metric.Cols, func(h *C.tucanos_mesh_t, cerr **C.char) *C.double {
		return C.tucanos_smooth_metric(h, f64Ptr(metric.Data), C.uint32_t(metric.Cols), cerr)
	})
}

func (m *nativeMesh) ApplyMetricGradation(metric Field, beta float64, nIter int) (Field, error) {
	return m.fieldOp("metric gradation", m.NVerts(), metric.Cols, func(h *C.tucanos_mesh_t, cerr **C.char) *C.double {
		return C.tucanos_apply_metric_gradation(h, f64Ptr(metric.Data), C.uint32_t(metric.Cols),
			C.double(beta), C.uint32_t(nIter), cerr)
	})
}

func (m *nativeMesh) ComputeGradient(f Field, weightExp int) (Field, error) {
	return m.fieldOp("gradient", m.NVerts(), m.kind.Dim(), func(h *C.tucanos_mesh_t, cerr **C.char) *C.double {
		return C.tucanos_compute_gradient(h, f64Ptr(f.Data), C.int(weightExp), cerr)
	})
}

func (m *nativeMesh) ComputeHessian(f Field, p HessianParams) (Field, error) {
	_, n := m.kind.MetricCols()
	exp, has := 0, p.WeightExp != nil
	if has {
		exp = *p.WeightExp
	}
	return m.fieldOp("hessian", m.NVerts(), n, func(h *C.tucanos_mesh_t, cerr **C.char) *C.double {
		return C.tucanos_compute_hessian(h, f64Ptr(f.Data), C.int(exp), cBool(has), cBool(p.SecondOrderNeighbors), cerr)
	})
}

func (m *nativeMesh) SmoothField(f Field, weightExp int) (Field, error) {
	return m.fieldOp("smooth", m.NVerts(), 1, func(h *C.tucanos_mesh_t, cerr **C.char) *C.double {
		return C.tucanos_smooth(h, f64Ptr(f.Data), C.int(weightExp), cerr)
	})
}

func (m *nativeMesh) InterpolateLinear(dst Mesh, f Field, tol float64) (Field, error) {
	dm, ok := dst.(*nativeMesh)
	if !ok {
		return Field{}, errors.New("tucanos: interpolation target is not a native mesh")
	}
	dh, err := dm.handle()
	if err != nil {
		return Field{}, err
	}
	defer C.tucanos_mesh_delete(dh)
	return m.fieldOp("interpolate", dm.NVerts(), f.Cols, func(h *C.tucanos_mesh_t, cerr **C.char) *C.double {
		return C.tucanos_interpolate_linear(h, dh, f64Ptr(f.Data), C.uint32_t(f.Cols), C.double(tol), cerr)
	})
}

// TransferTags writes the tags computed by libtucanos back into dst.
func (m *nativeMesh) TransferTags(dst Mesh) error {
	dm, ok := dst.(*nativeMesh)
	if !ok {
		return errors.New("tucanos: tag transfer target is not a native mesh")
	}
	h, err := m.handle()
	if err != nil {
		return err
	}
	defer C.tucanos_mesh_delete(h)
	dh, err := dm.handle()
	if err != nil {
		return err
	}
	defer C.tucanos_mesh_delete(dh)
	var cerr *C.char
	if C.tucanos_transfer_tags(h, dh, &cerr) != 0 {
		return takeError(cerr, "transfer tags")
	}
	if dm.NElems() > 0 {
		C.tucanos_mesh_get_etags(dh, i16Ptr(dm.d.Etags))
	}
	if dm.NFaces() > 0 {
		C.tucanos_mesh_get_ftags(dh, i16Ptr(dm.d.Ftags))
	}
	return nil
}

// fieldOp runs call on a native copy of the mesh and copies out a
// (rows, cols) field.
func (m *nativeMesh) fieldOp(op string, rows, cols int, call func(*C.tucanos_mesh_t, **C.char) *C.double) (Field, error) {
	h, err := m.handle()
	if err != nil {
		return Field{}, err
	}
	defer C.tucanos_mesh_delete(h)
	var cerr *C.char
	p := call(h, &cerr)
	if p == nil {
		return Field{}, takeError(cerr, op)
	}
	defer C.tucanos_free_doubles(p)
	n := rows * cols
	out := make([]float64, n)
	copy(out, unsafe.Slice((*float64)(unsafe.Pointer(p)), n))
	return Field{Data: out, Cols: cols}, nil
}

var partitionCode = map[Partition]int{
	PartitionScotch:         0,
	PartitionMetisKWay:      1,
	PartitionMetisRecursive: 2,
	PartitionHilbert:        3,
}

var smoothingCode = map[Smoothing]int{
	SmoothLaplacian:  0,
	SmoothLaplacian2: 1,
	SmoothAvro:       2,
	SmoothNLopt:      3,
}

// remeshParams copies p into C memory; nothing it points to is Go memory.
func remeshParams(p RemeshParams) (*C.tucanos_remesh_params_t, func()) {
	cp := (*C.tucanos_remesh_params_t)(C.calloc(1, C.size_t(unsafe.Sizeof(C.tucanos_remesh_params_t{}))))
	cp.num_iter = C.uint32_t(p.NumIter)
	cp.two_steps = cBool(p.TwoSteps)
	cp.split_max_iter = C.uint32_t(p.SplitMaxIter)
	cp.split_min_l_rel = C.double(p.SplitMinLRel)
	cp.split_min_l_abs = C.double(p.SplitMinLAbs)
	cp.split_min_q_rel = C.double(p.SplitMinQRel)
	cp.split_min_q_abs = C.double(p.SplitMinQAbs)
	cp.collapse_max_iter = C.uint32_t(p.CollapseMaxIter)
	cp.collapse_max_l_rel = C.double(p.CollapseMaxLRel)
	cp.collapse_max_l_abs = C.double(p.CollapseMaxLAbs)
	cp.collapse_min_q_rel = C.double(p.CollapseMinQRel)
	cp.collapse_min_q_abs = C.double(p.CollapseMinQAbs)
	cp.swap_max_iter = C.uint32_t(p.SwapMaxIter)
	cp.swap_max_l_rel = C.double(p.SwapMaxLRel)
	cp.swap_max_l_abs = C.double(p.SwapMaxLAbs)
	cp.swap_min_l_rel = C.double(p.SwapMinLRel)
	cp.swap_min_l_abs = C.double(p.SwapMinLAbs)
	cp.smooth_iter = C.uint32_t(p.SmoothIter)
	cp.smooth_type = C.int(smoothingCode[p.SmoothType])
	cp.smooth_keep_local_minima = cBool(p.SmoothKeepLocalMinima)
	cp.max_angle = C.double(p.MaxAngle)
	cp.debug = cBool(p.Debug)

	var relax *C.double
	if n := len(p.SmoothRelax); n > 0 {
		relax = (*C.double)(C.malloc(C.size_t(n) * C.size_t(unsafe.Sizeof(C.double(0)))))
		copy(unsafe.Slice((*float64)(unsafe.Pointer(relax)), n), p.SmoothRelax)
		cp.smooth_relax = relax
		cp.n_smooth_relax = C.uint32_t(n)
	}
	return cp, func() {
		if relax != nil {
			C.free(unsafe.Pointer(relax))
		}
		C.free(unsafe.Pointer(cp))
	}
}

func readHandle(kind Kind, h *C.tucanos_mesh_t) MeshData {
	nv := int(C.tucanos_mesh_n_verts(h))
	ne := int(C.tucanos_mesh_n_elems(h))
	nf := int(C.tucanos_mesh_n_faces(h))
	d := MeshData{
		Coords: make([]float64, nv*kind.Dim()),
		Elems:  make([]uint32, ne*kind.ElemVerts()),
		Etags:  make([]int16, ne),
		Faces:  make([]uint32, nf*kind.FaceVerts()),
		Ftags:  make([]int16, nf),
	}
	if len(d.Coords) > 0 {
		C.tucanos_mesh_get_verts(h, f64Ptr(d.Coords))
	}
	if ne > 0 {
		C.tucanos_mesh_get_elems(h, u32Ptr(d.Elems))
		C.tucanos_mesh_get_etags(h, i16Ptr(d.Etags))
	}
	if nf > 0 {
		C.tucanos_mesh_get_faces(h, u32Ptr(d.Faces))
		C.tucanos_mesh_get_ftags(h, i16Ptr(d.Ftags))
	}
	return d
}

func takeError(cerr *C.char, op string) error {
	if cerr == nil {
		return errors.New("tucanos: " + op + " failed")
	}
	defer C.tucanos_free_string(cerr)
	return errors.New("tucanos: " + op + ": " + C.GoString(cerr))
}

func cBool(b bool) C.int {
	if b {
		return 1
	}
	return 0
}

func f64Ptr(s []float64) *C.double {
	if len(s) == 0 {
		return nil
	}
	return (*C.double)(unsafe.Pointer(&s[0]))
}

func u32Ptr(s []uint32) *C.uint32_t {
	if len(s) == 0 {
		return nil
	}
	return (*C.uint32_t)(unsafe.Pointer(&s[0]))
}

func i16Ptr(s []int16) *C.int16_t {
	if len(s) == 0 {
		return nil
	}
	return (*C.int16_t)(unsafe.Pointer(&s[0]))
}
