package httpapi

import (
	"encoding/json"
	"net/http"

	"meshd/internal/engine"
	"meshd/internal/facade"
	"meshd/internal/marshal"
	"meshd/pkg/types"
)

// analysisOps are merged into meshOps.
var analysisOps = map[string]opFunc{
	"reorder-hilbert":       opReorderHilbert,
	"extract-tags":          opExtractTags,
	"write-boundary-vtk":    opWriteBoundaryVTK,
	"autotag":               opAutotag,
	"gammas":                arrayOp((*facade.Mesh).ElemGammas),
	"edge-ratios":           arrayOp((*facade.Mesh).EdgeLengthRatios),
	"skewness":              opSkewness,
	"implied-metric":        arrayOp((*facade.Mesh).ImpliedMetric),
	"qualities":             metricOp((*facade.Mesh).Qualities),
	"elem-to-vertex-metric": metricOp((*facade.Mesh).ElemDataToVertexDataMetric),
	"smooth-metric":         metricOp((*facade.Mesh).SmoothMetric),
	"metric-info":           opMetricInfo,
	"hessian-to-metric":     opHessianToMetric,
	"scale-metric":          opScaleMetric,
	"metric-gradation":      opMetricGradation,
	"gradient":              scalarOp((*facade.Mesh).ComputeGradient),
	"smooth":                scalarOp((*facade.Mesh).Smooth),
	"hessian":               opHessian,
	"interpolate":           opInterpolate,
	"transfer-tags":         opTransferTags,
}

// readSTL godoc
// @Summary      Read an STL surface
// @Description  ASCII or binary .stl, by path or by the id of a file listed by GET /files. The result is a Mesh32 tagged 1.
// @Tags         meshes
// @Accept       json
// @Produce      json
// @Param        body  body      types.ReadSTLRequest  true  "file"
// @Success      201   {object}  types.MeshResponse
// @Failure      400   {object}  types.ErrorResponse
// @Router       /meshes/read-stl [post]
func (s *Server) readSTL(w http.ResponseWriter, r *http.Request) {
	var req types.ReadSTLRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := s.resolve(req.Path, req.File)
	if err != nil {
		writeError(w, err)
		return
	}
	m, err := s.f.ReadSTL(p)
	if err != nil {
		writeError(w, err)
		return
	}
	s.created(w, m)
}

// other admits the target of a two-mesh operation. The wait is bounded by
// maxWait, so two requests crossing the same pair of handles end in 429.
func (s *Server) other(e *entry, id string) (*entry, func(), error) {
	if id == "" {
		return nil, func() {}, marshal.Errorf(marshal.KindInvalidData, "other", "target mesh id is required")
	}
	if id == e.id {
		return e, func() {}, nil
	}
	return s.meshes.acquire(serverBaseCtx, id)
}

func encodeIDMap(m facade.IDMap, raw bool) (types.IDMap, error) {
	var out types.IDMap
	var err error
	if out.Verts, err = encodeArray(m.Verts, raw); err != nil {
		return out, err
	}
	if out.Elems, err = encodeArray(m.Elems, raw); err != nil {
		return out, err
	}
	out.Faces, err = encodeArray(m.Faces, raw)
	return out, err
}

func arrayResult(v marshal.View, raw bool) (opResult, error) {
	a, err := encodeArray(v, raw)
	if err != nil {
		return opResult{}, err
	}
	return opResult{http.StatusOK, types.ArrayResponse{Array: a}}, nil
}

func opReorderHilbert(_ *Server, e *entry, _ json.RawMessage, raw bool) (opResult, error) {
	ids, err := e.mesh.ReorderHilbert()
	if err != nil {
		return opResult{}, err
	}
	info, err := e.info()
	if err != nil {
		return opResult{}, err
	}
	m, err := encodeIDMap(ids, raw)
	if err != nil {
		return opResult{}, err
	}
	return opResult{http.StatusOK, types.ReorderResponse{Mesh: info, NewIDs: m}}, nil
}

func opExtractTags(s *Server, e *entry, body json.RawMessage, raw bool) (opResult, error) {
	var req types.ExtractTagsRequest
	if err := unmarshalOp(body, &req); err != nil {
		return opResult{}, err
	}
	tags, err := decodeArray("tags", req.Tags)
	if err != nil {
		return opResult{}, err
	}
	m, ids, err := e.mesh.ExtractTags(tags)
	if err != nil {
		return opResult{}, err
	}
	info, err := s.derived(m)
	if err != nil {
		return opResult{}, err
	}
	parents, err := encodeIDMap(ids, raw)
	if err != nil {
		return opResult{}, err
	}
	return opResult{http.StatusCreated, types.ExtractTagsResponse{Mesh: info, ParentIDs: parents}}, nil
}

func opWriteBoundaryVTK(_ *Server, e *entry, body json.RawMessage, _ bool) (opResult, error) {
	var req types.PathRequest
	if err := unmarshalOp(body, &req); err != nil {
		return opResult{}, err
	}
	if err := e.mesh.WriteBoundaryVTK(req.Path); err != nil {
		return opResult{}, err
	}
	return opResult{http.StatusOK, map[string]string{"path": req.Path}}, nil
}

func opAutotag(_ *Server, e *entry, body json.RawMessage, _ bool) (opResult, error) {
	var req types.AutotagRequest
	if err := unmarshalOp(body, &req); err != nil {
		return opResult{}, err
	}
	tags, err := e.mesh.Autotag(req.AngleDeg)
	if err != nil {
		return opResult{}, err
	}
	info, err := e.info()
	if err != nil {
		return opResult{}, err
	}
	return opResult{http.StatusOK, types.AutotagResponse{Tags: tags, Mesh: info}}, nil
}

// arrayOp serves a bodiless operation returning one array.
func arrayOp(fn func(*facade.Mesh) (marshal.View, error)) opFunc {
	return func(_ *Server, e *entry, _ json.RawMessage, raw bool) (opResult, error) {
		v, err := fn(e.mesh)
		if err != nil {
			return opResult{}, err
		}
		return arrayResult(v, raw)
	}
}

func opSkewness(_ *Server, e *entry, _ json.RawMessage, raw bool) (opResult, error) {
	pairs, values, err := e.mesh.FaceSkewnesses()
	if err != nil {
		return opResult{}, err
	}
	p, err := encodeArray(pairs, raw)
	if err != nil {
		return opResult{}, err
	}
	v, err := encodeArray(values, raw)
	if err != nil {
		return opResult{}, err
	}
	return opResult{http.StatusOK, types.SkewnessResponse{Pairs: p, Values: v}}, nil
}

func decodeMetric(body json.RawMessage) (marshal.View, error) {
	var req types.MetricRequest
	if err := unmarshalOp(body, &req); err != nil {
		return marshal.View{}, err
	}
	return decodeArray("metric", req.Metric)
}

// metricOp serves an operation mapping a metric to one array.
func metricOp(fn func(*facade.Mesh, marshal.View) (marshal.View, error)) opFunc {
	return func(_ *Server, e *entry, body json.RawMessage, raw bool) (opResult, error) {
		in, err := decodeMetric(body)
		if err != nil {
			return opResult{}, err
		}
		out, err := fn(e.mesh, in)
		if err != nil {
			return opResult{}, err
		}
		return arrayResult(out, raw)
	}
}

func opMetricInfo(_ *Server, e *entry, body json.RawMessage, _ bool) (opResult, error) {
	in, err := decodeMetric(body)
	if err != nil {
		return opResult{}, err
	}
	info, err := e.mesh.MetricInfo(in)
	if err != nil {
		return opResult{}, err
	}
	return opResult{http.StatusOK, types.MetricInfoResponse{
		HMin:       info.HMin,
		HMax:       info.HMax,
		Anisotropy: info.Anisotropy,
		Complexity: info.Complexity,
	}}, nil
}

func opHessianToMetric(_ *Server, e *entry, body json.RawMessage, raw bool) (opResult, error) {
	var req types.HessianToMetricRequest
	if err := unmarshalOp(body, &req); err != nil {
		return opResult{}, err
	}
	in, err := decodeArray("hessian", req.Hessian)
	if err != nil {
		return opResult{}, err
	}
	out, err := e.mesh.HessianToMetric(in, req.Norm)
	if err != nil {
		return opResult{}, err
	}
	return arrayResult(out, raw)
}

func opScaleMetric(_ *Server, e *entry, body json.RawMessage, raw bool) (opResult, error) {
	var req types.ScaleMetricRequest
	if err := unmarshalOp(body, &req); err != nil {
		return opResult{}, err
	}
	in, err := decodeArray("metric", req.Metric)
	if err != nil {
		return opResult{}, err
	}
	var fixed *marshal.View
	if req.FixedMetric != nil {
		v, err := decodeArray("fixed_metric", *req.FixedMetric)
		if err != nil {
			return opResult{}, err
		}
		fixed = &v
	}
	p := engine.DefaultScaleParams()
	if len(req.Params) > 0 && string(req.Params) != "null" {
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return opResult{}, marshal.Errorf(marshal.KindInvalidData, "params", "%v", err)
		}
	}
	out, err := e.mesh.ScaleMetric(in, fixed, p)
	if err != nil {
		return opResult{}, err
	}
	return arrayResult(out, raw)
}

func opMetricGradation(_ *Server, e *entry, body json.RawMessage, raw bool) (opResult, error) {
	req := types.GradationRequest{NIter: 10}
	if err := unmarshalOp(body, &req); err != nil {
		return opResult{}, err
	}
	in, err := decodeArray("metric", req.Metric)
	if err != nil {
		return opResult{}, err
	}
	out, err := e.mesh.ApplyMetricGradation(in, req.Beta, req.NIter)
	if err != nil {
		return opResult{}, err
	}
	return arrayResult(out, raw)
}

// scalarOp serves a weighted least-squares operation on a scalar field.
func scalarOp(fn func(*facade.Mesh, marshal.View, int) (marshal.View, error)) opFunc {
	return func(_ *Server, e *entry, body json.RawMessage, raw bool) (opResult, error) {
		req := types.ScalarFieldRequest{WeightExp: engine.DefaultWeightExp}
		if err := unmarshalOp(body, &req); err != nil {
			return opResult{}, err
		}
		in, err := decodeArray("data", req.Data)
		if err != nil {
			return opResult{}, err
		}
		out, err := fn(e.mesh, in, req.WeightExp)
		if err != nil {
			return opResult{}, err
		}
		return arrayResult(out, raw)
	}
}

func opHessian(_ *Server, e *entry, body json.RawMessage, raw bool) (opResult, error) {
	var req types.HessianRequest
	if err := unmarshalOp(body, &req); err != nil {
		return opResult{}, err
	}
	in, err := decodeArray("data", req.Data)
	if err != nil {
		return opResult{}, err
	}
	p := engine.DefaultHessianParams()
	if len(req.Params) > 0 && string(req.Params) != "null" {
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return opResult{}, marshal.Errorf(marshal.KindInvalidData, "params", "%v", err)
		}
	}
	out, err := e.mesh.ComputeHessian(in, p)
	if err != nil {
		return opResult{}, err
	}
	return arrayResult(out, raw)
}

func opInterpolate(s *Server, e *entry, body json.RawMessage, raw bool) (opResult, error) {
	var req types.InterpolateRequest
	if err := unmarshalOp(body, &req); err != nil {
		return opResult{}, err
	}
	in, err := decodeArray("data", req.Data)
	if err != nil {
		return opResult{}, err
	}
	var interp func(*facade.Mesh) (marshal.View, error)
	switch req.Method {
	case "", "linear":
		interp = func(dst *facade.Mesh) (marshal.View, error) { return e.mesh.InterpolateLinear(dst, in, req.Tol) }
	case "nearest":
		interp = func(dst *facade.Mesh) (marshal.View, error) { return e.mesh.InterpolateNearest(dst, in) }
	default:
		return opResult{}, marshal.Errorf(marshal.KindInvalidData, "method", "expected linear or nearest, got %q", req.Method)
	}
	dst, release, err := s.other(e, req.Other)
	defer release()
	if err != nil {
		return opResult{}, err
	}
	out, err := interp(dst.mesh)
	if err != nil {
		return opResult{}, err
	}
	return arrayResult(out, raw)
}

func opTransferTags(s *Server, e *entry, body json.RawMessage, _ bool) (opResult, error) {
	var req types.TransferTagsRequest
	if err := unmarshalOp(body, &req); err != nil {
		return opResult{}, err
	}
	var transfer func(*facade.Mesh, *facade.Mesh) error
	switch req.What {
	case "faces":
		transfer = (*facade.Mesh).TransferFaceTags
	case "elems":
		transfer = (*facade.Mesh).TransferElemTags
	default:
		return opResult{}, marshal.Errorf(marshal.KindInvalidData, "what", "expected faces or elems, got %q", req.What)
	}
	dst, release, err := s.other(e, req.Other)
	defer release()
	if err != nil {
		return opResult{}, err
	}
	if err := transfer(e.mesh, dst.mesh); err != nil {
		return opResult{}, err
	}
	info, err := dst.info()
	if err != nil {
		return opResult{}, err
	}
	return opResult{http.StatusOK, types.MeshResponse{Mesh: info}}, nil
}
