// Package httpapi exposes the engine facade over HTTP for scripting clients.
//
// Meshes live in a server-side handle store. Calls on one handle are
// serialized: each handle admits one call at a time with a bounded queue of
// waiters, and callers beyond it get 429.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"meshd/internal/engine"
	"meshd/internal/facade"
	"meshd/internal/marshal"
	"meshd/internal/parallel"
	"meshd/internal/registry"
	"meshd/pkg/types"
)

// Server holds the facade, the handle store and the mesh directory.
type Server struct {
	f       *facade.Facade
	meshes  *store
	meshDir string
}

// NewServer returns a Server. meshDir may be empty, in which case /files is
// empty and reads by file id fail.
func NewServer(f *facade.Facade, meshDir string) *Server {
	return &Server{f: f, meshes: newStore(), meshDir: meshDir}
}

// NewMux builds the router for a new Server.
func NewMux(f *facade.Facade, meshDir string) http.Handler {
	return NewServer(f, meshDir).Routes()
}

// Close releases every mesh handle.
func (s *Server) Close() {
	for _, e := range s.meshes.list() {
		_ = e.mesh.Close()
		s.meshes.remove(e.id)
	}
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(inflight)

		r.Get("/capabilities", s.capabilities)
		r.Get("/pool", s.poolStatus)
		r.Post("/pool", s.configurePool)
		r.Get("/files", s.files)

		r.Get("/meshes", s.listMeshes)
		r.Post("/meshes", s.newMesh)
		r.Post("/meshes/read", s.readMesh)
		r.Post("/meshes/read-stl", s.readSTL)
		r.Post("/solutions/read", s.readSolution)
		r.Get("/meshes/{id}", s.meshInfo)
		r.Delete("/meshes/{id}", s.closeMesh)
		r.Get("/meshes/{id}/arrays/{name}", s.meshArray)
		r.Post("/meshes/{id}/{op}", s.meshOp)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if s.f.PoolStatus().Configured {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("starting"))
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)
	return r
}

// capabilities godoc
// @Summary      Capability flags
// @Description  Optional native backends compiled into this binary.
// @Tags         engine
// @Produce      json
// @Success      200  {object}  types.CapabilitiesResponse
// @Router       /capabilities [get]
func (s *Server) capabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.CapabilitiesResponse{Engine: s.f.Engine(), Capabilities: s.f.Capabilities()})
}

func poolResponse(st parallel.Status) types.PoolStatusResponse {
	return types.PoolStatusResponse{
		Configured: st.Configured,
		Threads:    st.Threads,
		Affinity:   st.Affinity,
		Pinned:     st.Pinned,
		PinErrors:  st.PinErrors,
		Executed:   st.Executed,
	}
}

func (s *Server) poolStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, poolResponse(s.f.PoolStatus()))
}

// configurePool godoc
// @Summary      Configure the worker pool
// @Description  Write-once. An identical request succeeds; a different one returns 409.
// @Tags         engine
// @Accept       json
// @Produce      json
// @Param        body  body      types.PoolConfigRequest  true  "pool configuration"
// @Success      200   {object}  types.PoolStatusResponse
// @Failure      400   {object}  types.ErrorResponse
// @Failure      409   {object}  types.ErrorResponse
// @Router       /pool [post]
func (s *Server) configurePool(w http.ResponseWriter, r *http.Request) {
	var req types.PoolConfigRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rep, err := s.f.ConfigurePool(req.Threads, req.Affinity)
	if err != nil {
		writeError(w, err)
		return
	}
	if rep.Err != nil {
		logger().Warn().Err(rep.Err).Msg("worker pool configured with pin failures")
	}
	writeJSON(w, http.StatusOK, poolResponse(s.f.PoolStatus()))
}

func (s *Server) files(w http.ResponseWriter, r *http.Request) {
	if s.meshDir == "" {
		writeJSON(w, http.StatusOK, types.FilesResponse{Files: []types.File{}})
		return
	}
	files, err := registry.LoadDir(s.meshDir)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if files == nil {
		files = []types.File{}
	}
	writeJSON(w, http.StatusOK, types.FilesResponse{Files: files})
}

func (s *Server) listMeshes(w http.ResponseWriter, r *http.Request) {
	out := []types.MeshInfo{}
	for _, e := range s.meshes.list() {
		info, err := e.info()
		if err != nil {
			info = types.MeshInfo{ID: e.id, Kind: e.mesh.Kind().String()}
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, types.MeshListResponse{Meshes: out})
}

func parseKind(s string) (engine.Kind, error) {
	k, err := engine.ParseKind(s)
	if err != nil {
		return k, marshal.Errorf(marshal.KindInvalidData, "kind", "%v", err)
	}
	return k, nil
}

// newMesh godoc
// @Summary      Create a mesh from arrays
// @Tags         meshes
// @Accept       json
// @Produce      json
// @Param        body  body      types.NewMeshRequest  true  "mesh arrays"
// @Success      201   {object}  types.MeshResponse
// @Failure      400   {object}  types.ErrorResponse
// @Router       /meshes [post]
func (s *Server) newMesh(w http.ResponseWriter, r *http.Request) {
	var req types.NewMeshRequest
	if !decodeBody(w, r, &req) {
		return
	}
	kind, err := parseKind(req.Kind)
	if err != nil {
		writeError(w, err)
		return
	}
	var views [5]marshal.View
	for i, a := range []struct {
		name string
		arr  types.Array
	}{{"coords", req.Coords}, {"elems", req.Elems}, {"etags", req.Etags}, {"faces", req.Faces}, {"ftags", req.Ftags}} {
		if views[i], err = decodeArray(a.name, a.arr); err != nil {
			writeError(w, err)
			return
		}
	}
	m, err := s.f.NewMesh(kind, views[0], views[1], views[2], views[3], views[4])
	if err != nil {
		writeError(w, err)
		return
	}
	s.created(w, m)
}

func (s *Server) created(w http.ResponseWriter, m *facade.Mesh) {
	e := s.meshes.put(m)
	info, err := e.info()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, types.MeshResponse{Mesh: info})
}

// resolve returns the path named by a read request.
func (s *Server) resolve(path, file string) (string, error) {
	switch {
	case path != "" && file != "":
		return "", marshal.Errorf(marshal.KindInvalidData, "path", "set either path or file, not both")
	case path != "":
		return path, nil
	case file == "":
		return "", marshal.Errorf(marshal.KindInvalidData, "path", "path or file is required")
	case s.meshDir == "":
		return "", fileNotFoundError{err: errors.New("no mesh directory configured")}
	}
	p, err := registry.Resolve(s.meshDir, file)
	if errors.Is(err, os.ErrNotExist) {
		return "", fileNotFoundError{err: err}
	}
	if err != nil {
		return "", marshal.Errorf(marshal.KindInvalidData, "file", "%v", err)
	}
	return p, nil
}

func (s *Server) readMesh(w http.ResponseWriter, r *http.Request) {
	var req types.ReadMeshRequest
	if !decodeBody(w, r, &req) {
		return
	}
	kind, err := parseKind(req.Kind)
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := s.resolve(req.Path, req.File)
	if err != nil {
		writeError(w, err)
		return
	}
	m, err := s.f.ReadMeshb(kind, p)
	if err != nil {
		writeError(w, err)
		return
	}
	s.created(w, m)
}

func (s *Server) readSolution(w http.ResponseWriter, r *http.Request) {
	var req types.ReadMeshRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := s.resolve(req.Path, req.File)
	if err != nil {
		writeError(w, err)
		return
	}
	v, err := s.f.ReadSolb(p)
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeArray(w, r, v)
}

func (s *Server) writeArray(w http.ResponseWriter, r *http.Request, v marshal.View) {
	a, err := encodeArray(v, wantRaw(r))
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, types.ArrayResponse{Array: a})
}

// withMesh runs fn while holding the handle's admission slot.
func (s *Server) withMesh(w http.ResponseWriter, r *http.Request, fn func(e *entry)) {
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	e, release, err := s.meshes.acquire(ctx, chi.URLParam(r, "id"))
	defer release()
	if err != nil {
		writeError(w, err)
		return
	}
	fn(e)
}

func (s *Server) meshInfo(w http.ResponseWriter, r *http.Request) {
	s.withMesh(w, r, func(e *entry) {
		info, err := e.info()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, types.MeshResponse{Mesh: info})
	})
}

func (s *Server) closeMesh(w http.ResponseWriter, r *http.Request) {
	s.withMesh(w, r, func(e *entry) {
		_ = e.mesh.Close()
		s.meshes.remove(e.id)
		w.WriteHeader(http.StatusNoContent)
	})
}

// meshArray godoc
// @Summary      Read one mesh array
// @Description  name is coords, elems, etags, faces, ftags or vols. ?encoding=b64 returns raw little-endian bytes.
// @Tags         meshes
// @Produce      json
// @Param        id        path   string  true   "mesh id"
// @Param        name      path   string  true   "array name"
// @Param        encoding  query  string  false  "json (default) or b64"
// @Success      200  {object}  types.ArrayResponse
// @Failure      404  {object}  types.ErrorResponse
// @Failure      410  {object}  types.ErrorResponse
// @Router       /meshes/{id}/arrays/{name} [get]
func (s *Server) meshArray(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var get func(*facade.Mesh) (marshal.View, error)
	switch name {
	case "coords":
		get = (*facade.Mesh).Coords
	case "elems":
		get = (*facade.Mesh).Elems
	case "etags":
		get = (*facade.Mesh).Etags
	case "faces":
		get = (*facade.Mesh).Faces
	case "ftags":
		get = (*facade.Mesh).Ftags
	case "vols":
		get = (*facade.Mesh).Vols
	default:
		writeJSONError(w, http.StatusNotFound, "unknown array "+name)
		return
	}
	s.withMesh(w, r, func(e *entry) {
		v, err := get(e.mesh)
		if err != nil {
			writeError(w, err)
			return
		}
		s.writeArray(w, r, v)
	})
}

// meshOp dispatches POST /meshes/{id}/{op}.
func (s *Server) meshOp(w http.ResponseWriter, r *http.Request) {
	op := chi.URLParam(r, "op")
	h, ok := meshOps[op]
	if !ok {
		writeJSONError(w, http.StatusNotFound, "unknown operation "+op)
		return
	}
	// Bodies are decoded before taking the handle so a slow upload does not
	// hold it.
	var body json.RawMessage
	if r.ContentLength != 0 {
		if !decodeBody(w, r, &body) {
			return
		}
	}
	s.withMesh(w, r, func(e *entry) {
		res, err := h(s, e, body, wantRaw(r))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, res.status, res.body)
	})
}

type opResult struct {
	status int
	body   any
}

type opFunc func(s *Server, e *entry, body json.RawMessage, raw bool) (opResult, error)

var meshOps map[string]opFunc

func init() {
	meshOps = map[string]opFunc{
		"check":              opCheck,
		"split":              opSplit,
		"boundary":           opBoundary,
		"add-boundary-faces": opAddBoundaryFaces,
		"elem-to-vertex":     opElemToVertex,
		"vertex-to-elem":     opVertexToElem,
		"write-vtk":          opWriteVTK,
		"write-meshb":        opWriteMeshb,
		"write-solb":         opWriteSolb,
		"remesh":             opRemesh,
		"parallel-remesh":    opParallelRemesh,
		"vol":                opVol,
	}
	for name, op := range analysisOps {
		meshOps[name] = op
	}
}

// unmarshalOp decodes an operation body. An empty body leaves v untouched.
func unmarshalOp(body json.RawMessage, v any) error {
	if len(body) == 0 || string(body) == "null" {
		return nil
	}
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return marshal.Errorf(marshal.KindInvalidData, "body", "%v", err)
	}
	return nil
}

func opCheck(_ *Server, e *entry, _ json.RawMessage, _ bool) (opResult, error) {
	if err := e.mesh.Check(); err != nil {
		return opResult{}, err
	}
	return opResult{http.StatusOK, types.CheckResponse{Valid: true}}, nil
}

func opVol(_ *Server, e *entry, _ json.RawMessage, _ bool) (opResult, error) {
	v, err := e.mesh.Vol()
	if err != nil {
		return opResult{}, err
	}
	return opResult{http.StatusOK, map[string]float64{"vol": v}}, nil
}

func (s *Server) derived(m *facade.Mesh) (types.MeshInfo, error) {
	return s.meshes.put(m).info()
}

func opSplit(s *Server, e *entry, _ json.RawMessage, _ bool) (opResult, error) {
	m, err := e.mesh.Split()
	if err != nil {
		return opResult{}, err
	}
	info, err := s.derived(m)
	if err != nil {
		return opResult{}, err
	}
	return opResult{http.StatusCreated, types.MeshResponse{Mesh: info}}, nil
}

func opBoundary(s *Server, e *entry, _ json.RawMessage, raw bool) (opResult, error) {
	m, ids, err := e.mesh.Boundary()
	if err != nil {
		return opResult{}, err
	}
	info, err := s.derived(m)
	if err != nil {
		return opResult{}, err
	}
	a, err := encodeArray(ids, raw)
	if err != nil {
		return opResult{}, err
	}
	return opResult{http.StatusCreated, types.BoundaryResponse{Mesh: info, ParentIDs: a}}, nil
}

func opAddBoundaryFaces(_ *Server, e *entry, _ json.RawMessage, _ bool) (opResult, error) {
	rep, err := e.mesh.AddBoundaryFaces()
	if err != nil {
		return opResult{}, err
	}
	info, err := e.info()
	if err != nil {
		return opResult{}, err
	}
	return opResult{http.StatusOK, types.FaceRepairResponse{
		Added:      rep.Added,
		Boundary:   rep.Boundary,
		Interfaces: rep.Interfaces,
		Mesh:       info,
	}}, nil
}

func transferOp(fn func(*facade.Mesh, marshal.View) (marshal.View, error)) opFunc {
	return func(_ *Server, e *entry, body json.RawMessage, raw bool) (opResult, error) {
		var req types.FieldRequest
		if err := unmarshalOp(body, &req); err != nil {
			return opResult{}, err
		}
		in, err := decodeArray("data", req.Data)
		if err != nil {
			return opResult{}, err
		}
		out, err := fn(e.mesh, in)
		if err != nil {
			return opResult{}, err
		}
		a, err := encodeArray(out, raw)
		if err != nil {
			return opResult{}, err
		}
		return opResult{http.StatusOK, types.ArrayResponse{Array: a}}, nil
	}
}

var (
	opElemToVertex = transferOp((*facade.Mesh).ElemDataToVertexData)
	opVertexToElem = transferOp((*facade.Mesh).VertexDataToElemData)
)

func opWriteVTK(_ *Server, e *entry, body json.RawMessage, _ bool) (opResult, error) {
	var req types.WriteVTKRequest
	if err := unmarshalOp(body, &req); err != nil {
		return opResult{}, err
	}
	vd, err := decodeArrays(req.VertexData)
	if err != nil {
		return opResult{}, err
	}
	ed, err := decodeArrays(req.ElemData)
	if err != nil {
		return opResult{}, err
	}
	if err := e.mesh.WriteVTK(req.Path, vd, ed); err != nil {
		return opResult{}, err
	}
	return opResult{http.StatusOK, map[string]string{"path": req.Path}}, nil
}

func opWriteMeshb(_ *Server, e *entry, body json.RawMessage, _ bool) (opResult, error) {
	var req types.WriteMeshbRequest
	if err := unmarshalOp(body, &req); err != nil {
		return opResult{}, err
	}
	if err := e.mesh.WriteMeshb(req.Path); err != nil {
		return opResult{}, err
	}
	return opResult{http.StatusOK, map[string]string{"path": req.Path}}, nil
}

func opWriteSolb(_ *Server, e *entry, body json.RawMessage, _ bool) (opResult, error) {
	var req types.WriteSolbRequest
	if err := unmarshalOp(body, &req); err != nil {
		return opResult{}, err
	}
	v, err := decodeArray("data", req.Data)
	if err != nil {
		return opResult{}, err
	}
	if err := e.mesh.WriteSolb(req.Path, v); err != nil {
		return opResult{}, err
	}
	return opResult{http.StatusOK, map[string]string{"path": req.Path}}, nil
}

// remeshParams overlays the request params on the engine defaults.
func remeshParams(raw json.RawMessage) (engine.RemeshParams, error) {
	p := engine.DefaultRemeshParams()
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &p); err != nil {
			return p, marshal.Errorf(marshal.KindInvalidData, "params", "%v", err)
		}
	}
	return p, nil
}

func opRemesh(s *Server, e *entry, body json.RawMessage, _ bool) (opResult, error) {
	var req types.RemeshRequest
	if err := unmarshalOp(body, &req); err != nil {
		return opResult{}, err
	}
	metric, err := decodeArray("metric", req.Metric)
	if err != nil {
		return opResult{}, err
	}
	p, err := remeshParams(req.Params)
	if err != nil {
		return opResult{}, err
	}
	m, stats, err := e.mesh.Remesh(metric, p)
	if err != nil {
		return opResult{}, err
	}
	info, err := s.derived(m)
	if err != nil {
		return opResult{}, err
	}
	return opResult{http.StatusCreated, types.RemeshResponse{Mesh: info, Stats: stats}}, nil
}

func opParallelRemesh(s *Server, e *entry, body json.RawMessage, _ bool) (opResult, error) {
	var req types.ParallelRemeshRequest
	if err := unmarshalOp(body, &req); err != nil {
		return opResult{}, err
	}
	part, err := engine.ParsePartition(req.Partition)
	if err != nil {
		return opResult{}, marshal.Errorf(marshal.KindInvalidData, "partition", "%v", err)
	}
	metric, err := decodeArray("metric", req.Metric)
	if err != nil {
		return opResult{}, err
	}
	p, err := remeshParams(req.Params)
	if err != nil {
		return opResult{}, err
	}
	dd := engine.DefaultDDParams()
	if len(req.DDParams) > 0 && string(req.DDParams) != "null" {
		if err := json.Unmarshal(req.DDParams, &dd); err != nil {
			return opResult{}, marshal.Errorf(marshal.KindInvalidData, "dd_params", "%v", err)
		}
	}
	m, stats, err := e.mesh.ParallelRemesh(part, req.NParts, metric, p, dd)
	if err != nil {
		return opResult{}, err
	}
	info, err := s.derived(m)
	if err != nil {
		return opResult{}, err
	}
	return opResult{http.StatusCreated, types.RemeshResponse{Mesh: info, Stats: stats}}, nil
}
