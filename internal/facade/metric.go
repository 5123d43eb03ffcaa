package facade

import (
	"math"

	"meshd/internal/capability"
	"meshd/internal/engine"
	"meshd/internal/marshal"
)

var needTucanos = []capability.Backend{capability.Tucanos}

// volumeMesh rejects kinds the metric pipeline does not cover.
func (h *Mesh) volumeMesh() error {
	if err := h.usable(); err != nil {
		return err
	}
	if !h.kind.Remeshable() {
		return marshal.Errorf(marshal.KindInvalidData, "mesh", "%s is not a volume mesh", h.kind)
	}
	return nil
}

// metricArg converts an isotropic (rows, 1) or anisotropic
// (rows, dim*(dim+1)/2) metric.
func (h *Mesh) metricArg(arg string, v marshal.View, rows int) (engine.Field, error) {
	mf, err := field(arg, v, rows, 0)
	if err != nil {
		return engine.Field{}, err
	}
	iso, aniso := h.kind.MetricCols()
	if mf.Cols != iso && mf.Cols != aniso {
		return engine.Field{}, marshal.Errorf(marshal.KindShapeMismatch, arg,
			"invalid dimension 1: expected %d or %d, got %d", iso, aniso, mf.Cols)
	}
	return mf, nil
}

// fieldOp runs one engine call that maps validated input to a field.
func (h *Mesh) fieldOp(op string, need []capability.Backend, fn func() (engine.Field, error)) (marshal.View, error) {
	var out engine.Field
	err := h.f.invoke(op, h, need, func() (err error) {
		out, err = fn()
		return err
	})
	if err != nil {
		return marshal.View{}, err
	}
	return marshal.FromNative(out.Data, out.Cols), nil
}

// ImpliedMetric returns the (n_verts, dim*(dim+1)/2) metric in which every
// element is the unit equilateral simplex.
func (h *Mesh) ImpliedMetric() (marshal.View, error) {
	const op = "implied_metric"
	if err := h.volumeMesh(); err != nil {
		return marshal.View{}, h.f.finish(op, err)
	}
	return h.fieldOp(op, nil, h.m.ImpliedMetric)
}

// ElemDataToVertexDataMetric interpolates an (n_elems, k) element metric to
// the vertices in log-Euclidean space.
func (h *Mesh) ElemDataToVertexDataMetric(metric marshal.View) (marshal.View, error) {
	const op = "elem_to_vertex_metric"
	if err := h.volumeMesh(); err != nil {
		return marshal.View{}, h.f.finish(op, err)
	}
	mf, err := h.metricArg("metric", metric, h.nElems)
	if err != nil {
		return marshal.View{}, h.f.finish(op, err)
	}
	return h.fieldOp(op, nil, func() (engine.Field, error) { return h.m.ElemDataToVertexDataMetric(mf) })
}

// HessianToMetric turns an (n_verts, dim*(dim+1)/2) Hessian into a metric.
// norm > 0 normalizes it for the L^norm interpolation error; 0 keeps |H|.
func (h *Mesh) HessianToMetric(hessian marshal.View, norm int) (marshal.View, error) {
	const op = "hessian_to_metric"
	if err := h.volumeMesh(); err != nil {
		return marshal.View{}, h.f.finish(op, err)
	}
	_, aniso := h.kind.MetricCols()
	hf, err := field("hessian", hessian, h.nVerts, aniso)
	if err != nil {
		return marshal.View{}, h.f.finish(op, err)
	}
	if err := checkU32("", u32Arg{"norm", norm}); err != nil {
		return marshal.View{}, h.f.finish(op, err)
	}
	return h.fieldOp(op, nil, func() (engine.Field, error) { return h.m.HessianToMetric(hf, norm) })
}

// MetricInfo reports the size range, anisotropy and complexity of a vertex
// metric.
func (h *Mesh) MetricInfo(metric marshal.View) (engine.MetricInfo, error) {
	const op = "metric_info"
	if err := h.volumeMesh(); err != nil {
		return engine.MetricInfo{}, h.f.finish(op, err)
	}
	mf, err := h.metricArg("metric", metric, h.nVerts)
	if err != nil {
		return engine.MetricInfo{}, h.f.finish(op, err)
	}
	var info engine.MetricInfo
	err = h.f.invoke(op, h, nil, func() (err error) {
		info, err = h.m.MetricInfo(mf)
		return err
	})
	return info, err
}

// ScaleMetric scales a vertex metric towards p.NElems elements with sizes
// bounded by p.HMin and p.HMax. fixed, when not nil, is a metric of the same
// width the result is intersected with.
func (h *Mesh) ScaleMetric(metric marshal.View, fixed *marshal.View, p engine.ScaleParams) (marshal.View, error) {
	const op = "scale_metric"
	if err := h.volumeMesh(); err != nil {
		return marshal.View{}, h.f.finish(op, err)
	}
	mf, err := h.metricArg("metric", metric, h.nVerts)
	if err != nil {
		return marshal.View{}, h.f.finish(op, err)
	}
	if fixed != nil {
		if p.Fixed, err = h.metricArg("fixed_metric", *fixed, h.nVerts); err != nil {
			return marshal.View{}, h.f.finish(op, err)
		}
		if p.Fixed.Cols != mf.Cols {
			return marshal.View{}, h.f.finish(op, marshal.Errorf(marshal.KindShapeMismatch, "fixed_metric",
				"invalid dimension 1: expected %d like metric, got %d", mf.Cols, p.Fixed.Cols))
		}
	}
	if !(p.HMin > 0) || math.IsInf(p.HMax, 0) || !(p.HMax >= p.HMin) {
		return marshal.View{}, h.f.finish(op, marshal.Errorf(marshal.KindInvalidData, "params.h_max",
			"need 0 < h_min <= h_max < inf, got h_min=%g h_max=%g", p.HMin, p.HMax))
	}
	if p.NElems < 1 {
		return marshal.View{}, h.f.finish(op, marshal.Errorf(marshal.KindInvalidData, "params.n_elems", "must be positive, got %d", p.NElems))
	}
	if err := checkU32("params", u32Arg{"n_elems", p.NElems}, u32Arg{"max_iter", p.MaxIter}); err != nil {
		return marshal.View{}, h.f.finish(op, err)
	}
	return h.fieldOp(op, needTucanos, func() (engine.Field, error) { return h.m.ScaleMetric(mf, p) })
}

// SmoothMetric smooths a vertex metric.
func (h *Mesh) SmoothMetric(metric marshal.View) (marshal.View, error) {
	const op = "smooth_metric"
	if err := h.volumeMesh(); err != nil {
		return marshal.View{}, h.f.finish(op, err)
	}
	mf, err := h.metricArg("metric", metric, h.nVerts)
	if err != nil {
		return marshal.View{}, h.f.finish(op, err)
	}
	return h.fieldOp(op, needTucanos, func() (engine.Field, error) { return h.m.SmoothMetric(mf) })
}

// ApplyMetricGradation bounds the size growth of a vertex metric between
// neighbors by beta, in at most nIter passes.
func (h *Mesh) ApplyMetricGradation(metric marshal.View, beta float64, nIter int) (marshal.View, error) {
	const op = "apply_metric_gradation"
	if err := h.volumeMesh(); err != nil {
		return marshal.View{}, h.f.finish(op, err)
	}
	mf, err := h.metricArg("metric", metric, h.nVerts)
	if err != nil {
		return marshal.View{}, h.f.finish(op, err)
	}
	if !(beta >= 1) || math.IsInf(beta, 1) {
		return marshal.View{}, h.f.finish(op, marshal.Errorf(marshal.KindInvalidData, "beta", "must be finite and >= 1, got %g", beta))
	}
	if err := checkU32("", u32Arg{"n_iter", nIter}); err != nil {
		return marshal.View{}, h.f.finish(op, err)
	}
	return h.fieldOp(op, needTucanos, func() (engine.Field, error) { return h.m.ApplyMetricGradation(mf, beta, nIter) })
}

// scalarArg converts an (n_verts, 1) vertex field.
func (h *Mesh) scalarArg(v marshal.View) (engine.Field, error) {
	if err := h.usable(); err != nil {
		return engine.Field{}, err
	}
	return field("data", v, h.nVerts, 1)
}

// ComputeGradient recovers the (n_verts, dim) gradient of a scalar vertex
// field by weighted least squares.
func (h *Mesh) ComputeGradient(v marshal.View, weightExp int) (marshal.View, error) {
	const op = "compute_gradient"
	in, err := h.scalarArg(v)
	if err != nil {
		return marshal.View{}, h.f.finish(op, err)
	}
	return h.fieldOp(op, needTucanos, func() (engine.Field, error) { return h.m.ComputeGradient(in, weightExp) })
}

// ComputeHessian recovers the (n_verts, dim*(dim+1)/2) Hessian of a scalar
// vertex field by weighted least squares.
func (h *Mesh) ComputeHessian(v marshal.View, p engine.HessianParams) (marshal.View, error) {
	const op = "compute_hessian"
	in, err := h.scalarArg(v)
	if err != nil {
		return marshal.View{}, h.f.finish(op, err)
	}
	return h.fieldOp(op, needTucanos, func() (engine.Field, error) { return h.m.ComputeHessian(in, p) })
}

// Smooth smooths a scalar vertex field.
func (h *Mesh) Smooth(v marshal.View, weightExp int) (marshal.View, error) {
	const op = "smooth"
	in, err := h.scalarArg(v)
	if err != nil {
		return marshal.View{}, h.f.finish(op, err)
	}
	return h.fieldOp(op, needTucanos, func() (engine.Field, error) { return h.m.SmoothField(in, weightExp) })
}

// interpArgs checks a transfer of an (n_verts, m) field from h to dst.
func (h *Mesh) interpArgs(dst *Mesh, v marshal.View) (engine.Field, error) {
	if err := h.usable(); err != nil {
		return engine.Field{}, err
	}
	if dst == nil {
		return engine.Field{}, marshal.Errorf(marshal.KindInvalidData, "other", "missing target mesh")
	}
	if err := dst.usable(); err != nil {
		return engine.Field{}, err
	}
	if dst.kind != h.kind {
		return engine.Field{}, marshal.Errorf(marshal.KindInvalidData, "other", "expected a %s, got %s", h.kind, dst.kind)
	}
	return field("data", v, h.nVerts, 0)
}

// InterpolateLinear evaluates a vertex field at the vertices of dst with the
// P1 interpolation of the element containing each of them. Vertices outside
// this mesh by more than tol are an error.
func (h *Mesh) InterpolateLinear(dst *Mesh, v marshal.View, tol float64) (marshal.View, error) {
	const op = "interpolate_linear"
	in, err := h.interpArgs(dst, v)
	if err != nil {
		return marshal.View{}, h.f.finish(op, err)
	}
	if !(tol >= 0) || math.IsInf(tol, 1) {
		return marshal.View{}, h.f.finish(op, marshal.Errorf(marshal.KindInvalidData, "tol", "must be finite and >= 0, got %g", tol))
	}
	return h.fieldOp(op, needTucanos, func() (engine.Field, error) { return h.m.InterpolateLinear(dst.m, in, tol) })
}

// InterpolateNearest gives every vertex of dst the value at the nearest
// vertex of this mesh.
func (h *Mesh) InterpolateNearest(dst *Mesh, v marshal.View) (marshal.View, error) {
	const op = "interpolate_nearest"
	in, err := h.interpArgs(dst, v)
	if err != nil {
		return marshal.View{}, h.f.finish(op, err)
	}
	return h.fieldOp(op, nil, func() (engine.Field, error) { return h.m.InterpolateNearest(dst.m, in) })
}
