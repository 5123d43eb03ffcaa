package types

import "encoding/json"

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: [validate] out_of_bounds at elems: index 4 at position 3 >= n_verts 4
	Error string `json:"error"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
	// Error class: validation, missing_capability, native_error, fatal_fault,
	// handle_invalid, config, busy, not_found.
	// example: validation
	Class string `json:"class,omitempty" example:"validation"`
}

// CapabilitiesResponse is returned by GET /capabilities.
type CapabilitiesResponse struct {
	// Engine implementation in use.
	// example: reference
	Engine string `json:"engine" example:"reference"`
	// Backend name to availability.
	Capabilities map[string]bool `json:"capabilities"`
}

// PoolConfigRequest configures the worker pool once per process.
type PoolConfigRequest struct {
	// Worker threads; 0 means every available core.
	// example: 4
	Threads int `json:"threads" example:"4"`
	// Optional thread index to core id.
	Affinity map[int]int `json:"affinity,omitempty"`
}

// PoolStatusResponse reports the worker pool.
type PoolStatusResponse struct {
	Configured bool        `json:"configured"`
	Threads    int         `json:"threads"`
	Affinity   map[int]int `json:"affinity,omitempty"`
	// Cores that workers were pinned to.
	Pinned []int `json:"pinned,omitempty"`
	// One entry per thread that could not be pinned.
	PinErrors []string `json:"pin_errors,omitempty"`
	// Native calls executed on the pool.
	Executed int64 `json:"executed"`
}

// FilesResponse wraps GET /files.
type FilesResponse struct {
	Files []File `json:"files"`
}

// NewMeshRequest creates a mesh from arrays.
type NewMeshRequest struct {
	// Mesh kind: Mesh33, Mesh32, Mesh31, Mesh22 or Mesh21.
	// example: Mesh33
	Kind   string `json:"kind" example:"Mesh33"`
	Coords Array  `json:"coords"`
	Elems  Array  `json:"elems"`
	Etags  Array  `json:"etags"`
	Faces  Array  `json:"faces"`
	Ftags  Array  `json:"ftags"`
}

// ReadMeshRequest reads a .mesh/.meshb file, either by path or by the id of
// a file listed by GET /files.
type ReadMeshRequest struct {
	// example: Mesh33
	Kind string `json:"kind" example:"Mesh33"`
	Path string `json:"path,omitempty"`
	// example: wing.meshb
	File string `json:"file,omitempty" example:"wing.meshb"`
}

// MeshResponse wraps a single handle.
type MeshResponse struct {
	Mesh MeshInfo `json:"mesh"`
}

// ArrayResponse wraps a single array.
type ArrayResponse struct {
	Array Array `json:"array"`
}

// BoundaryResponse is the boundary mesh plus the parent vertex ids.
type BoundaryResponse struct {
	Mesh      MeshInfo `json:"mesh"`
	ParentIDs Array    `json:"parent_ids"`
}

// CheckResponse is returned when the mesh passes validation.
type CheckResponse struct {
	Valid bool `json:"valid" example:"true"`
}

// FaceRepairResponse reports the faces added by add-boundary-faces.
type FaceRepairResponse struct {
	Added      int               `json:"added" example:"4"`
	Boundary   map[int16]int16   `json:"boundary"`
	Interfaces map[int16][]int16 `json:"interfaces"`
	Mesh       MeshInfo          `json:"mesh"`
}

// FieldRequest carries one per-entity field.
type FieldRequest struct {
	Data Array `json:"data"`
}

// WriteVTKRequest writes the mesh and optional fields to a .vtk file.
type WriteVTKRequest struct {
	Path       string           `json:"path"`
	VertexData map[string]Array `json:"vertex_data,omitempty"`
	ElemData   map[string]Array `json:"elem_data,omitempty"`
}

// WriteMeshbRequest writes a .mesh/.meshb file.
type WriteMeshbRequest struct {
	Path string `json:"path"`
}

// WriteSolbRequest writes a vertex field to a .sol/.solb file.
type WriteSolbRequest struct {
	Path string `json:"path"`
	Data Array  `json:"data"`
}

// RemeshRequest adapts a mesh to a metric. Params fields that are omitted
// keep the engine defaults.
type RemeshRequest struct {
	Metric Array           `json:"metric"`
	Params json.RawMessage `json:"params,omitempty" swaggertype:"object"`
}

// ParallelRemeshRequest remeshes a partitioned mesh.
type ParallelRemeshRequest struct {
	// scotch, metis_kway, metis_recursive or hilbert.
	// example: hilbert
	Partition string          `json:"partition" example:"hilbert"`
	NParts    int             `json:"n_parts" example:"2"`
	Metric    Array           `json:"metric"`
	Params    json.RawMessage `json:"params,omitempty" swaggertype:"object"`
	DDParams  json.RawMessage `json:"dd_params,omitempty" swaggertype:"object"`
}

// RemeshResponse is the new mesh and the engine statistics.
type RemeshResponse struct {
	Mesh  MeshInfo        `json:"mesh"`
	Stats json.RawMessage `json:"stats,omitempty" swaggertype:"object"`
}

// MeshListResponse wraps GET /meshes.
type MeshListResponse struct {
	Meshes []MeshInfo `json:"meshes"`
}

// ReadSTLRequest reads an ASCII or binary .stl surface, by path or by file id.
type ReadSTLRequest struct {
	Path string `json:"path,omitempty"`
	// example: hull.stl
	File string `json:"file,omitempty" example:"hull.stl"`
}

// IDMap holds one u32 id per vertex, element and face.
type IDMap struct {
	Verts Array `json:"verts"`
	Elems Array `json:"elems"`
	Faces Array `json:"faces"`
}

// ReorderResponse is the renumbered mesh and the new index of every old
// entity.
type ReorderResponse struct {
	Mesh   MeshInfo `json:"mesh"`
	NewIDs IDMap    `json:"new_ids"`
}

// ExtractTagsRequest selects elements by tag.
type ExtractTagsRequest struct {
	// i16 array of element tags.
	Tags Array `json:"tags"`
}

// ExtractTagsResponse is the extracted mesh and the parent id of each of
// its entities.
type ExtractTagsResponse struct {
	Mesh      MeshInfo `json:"mesh"`
	ParentIDs IDMap    `json:"parent_ids"`
}

// PathRequest names an output file.
type PathRequest struct {
	Path string `json:"path"`
}

// SkewnessResponse pairs every internal facet's two elements with its
// skewness.
type SkewnessResponse struct {
	Pairs  Array `json:"pairs"`
	Values Array `json:"values"`
}

// MetricRequest carries an isotropic or anisotropic metric.
type MetricRequest struct {
	Metric Array `json:"metric"`
}

// MetricInfoResponse summarizes a vertex metric.
type MetricInfoResponse struct {
	HMin       float64 `json:"h_min"`
	HMax       float64 `json:"h_max"`
	Anisotropy float64 `json:"anisotropy"`
	// Integral of sqrt(det M) over the unit element volume.
	Complexity float64 `json:"complexity"`
}

// HessianToMetricRequest converts a vertex Hessian into a metric.
type HessianToMetricRequest struct {
	Hessian Array `json:"hessian"`
	// L^p norm the metric is optimal for; 0 keeps |H|.
	// example: 2
	Norm int `json:"norm" example:"2"`
}

// AutotagRequest retags a surface by dihedral angle.
type AutotagRequest struct {
	// example: 30
	AngleDeg float64 `json:"angle_deg" example:"30"`
}

// AutotagResponse maps every old element tag to the tags it was split into.
type AutotagResponse struct {
	Tags map[int16][]int16 `json:"tags"`
	Mesh MeshInfo          `json:"mesh"`
}

// ScaleMetricRequest scales a metric towards a target element count. Params
// fields that are omitted keep the engine defaults.
type ScaleMetricRequest struct {
	Metric      Array           `json:"metric"`
	FixedMetric *Array          `json:"fixed_metric,omitempty"`
	Params      json.RawMessage `json:"params,omitempty" swaggertype:"object"`
}

// GradationRequest bounds metric growth between neighbors.
type GradationRequest struct {
	Metric Array `json:"metric"`
	// example: 1.5
	Beta float64 `json:"beta" example:"1.5"`
	// Defaults to 10.
	NIter int `json:"n_iter" example:"10"`
}

// ScalarFieldRequest carries an (n_verts, 1) field.
type ScalarFieldRequest struct {
	Data Array `json:"data"`
	// Least-squares weight exponent; defaults to 2.
	WeightExp int `json:"weight_exp" example:"2"`
}

// HessianRequest recovers the Hessian of a scalar field.
type HessianRequest struct {
	Data   Array           `json:"data"`
	Params json.RawMessage `json:"params,omitempty" swaggertype:"object"`
}

// InterpolateRequest transfers a vertex field to another mesh of the same
// kind.
type InterpolateRequest struct {
	// Target mesh id.
	Other string `json:"other"`
	Data  Array  `json:"data"`
	// linear (default) or nearest.
	// example: linear
	Method string `json:"method,omitempty" example:"linear"`
	// Distance past which a target vertex is outside the mesh.
	Tol float64 `json:"tol,omitempty"`
}

// TransferTagsRequest copies tags into another mesh.
type TransferTagsRequest struct {
	// Target mesh id.
	Other string `json:"other"`
	// faces (from a boundary mesh) or elems (between surfaces).
	// example: faces
	What string `json:"what" example:"faces"`
}
