package engine

import (
	"fmt"
	"math"
	"strings"
)

// Smoothing selects the vertex smoother used during remeshing.
type Smoothing string

const (
	SmoothLaplacian  Smoothing = "laplacian"
	SmoothLaplacian2 Smoothing = "laplacian2"
	SmoothAvro       Smoothing = "avro"
	// SmoothNLopt needs the nlopt backend.
	SmoothNLopt Smoothing = "nlopt"
)

// ParseSmoothing maps a name to a Smoothing. The empty string is laplacian.
func ParseSmoothing(s string) (Smoothing, error) {
	switch Smoothing(strings.ToLower(strings.TrimSpace(s))) {
	case "", SmoothLaplacian:
		return SmoothLaplacian, nil
	case SmoothLaplacian2:
		return SmoothLaplacian2, nil
	case SmoothAvro:
		return SmoothAvro, nil
	case SmoothNLopt:
		return SmoothNLopt, nil
	}
	return "", fmt.Errorf("unknown smoothing type %q (want laplacian, laplacian2, avro or nlopt)", s)
}

// RemeshParams mirrors the native remesher parameters.
type RemeshParams struct {
	NumIter  int  `json:"num_iter"`
	TwoSteps bool `json:"two_steps"`

	SplitMaxIter int     `json:"split_max_iter"`
	SplitMinLRel float64 `json:"split_min_l_rel"`
	SplitMinLAbs float64 `json:"split_min_l_abs"`
	SplitMinQRel float64 `json:"split_min_q_rel"`
	SplitMinQAbs float64 `json:"split_min_q_abs"`

	CollapseMaxIter int     `json:"collapse_max_iter"`
	CollapseMaxLRel float64 `json:"collapse_max_l_rel"`
	CollapseMaxLAbs float64 `json:"collapse_max_l_abs"`
	CollapseMinQRel float64 `json:"collapse_min_q_rel"`
	CollapseMinQAbs float64 `json:"collapse_min_q_abs"`

	SwapMaxIter int     `json:"swap_max_iter"`
	SwapMaxLRel float64 `json:"swap_max_l_rel"`
	SwapMaxLAbs float64 `json:"swap_max_l_abs"`
	SwapMinLRel float64 `json:"swap_min_l_rel"`
	SwapMinLAbs float64 `json:"swap_min_l_abs"`

	SmoothIter            int       `json:"smooth_iter"`
	SmoothType            Smoothing `json:"smooth_type"`
	SmoothRelax           []float64 `json:"smooth_relax"`
	SmoothKeepLocalMinima bool      `json:"smooth_keep_local_minima"`
	MaxAngle              float64   `json:"max_angle"`
	Debug                 bool      `json:"debug"`
}

// DefaultRemeshParams returns the engine defaults.
func DefaultRemeshParams() RemeshParams {
	return RemeshParams{
		NumIter: 2,

		SplitMaxIter: 1,
		SplitMinLRel: 1.0,
		SplitMinLAbs: 0.75 / math.Sqrt2,
		SplitMinQRel: 0.5,
		SplitMinQAbs: 0.1,

		CollapseMaxIter: 1,
		CollapseMaxLRel: 1.0,
		CollapseMaxLAbs: 1.5 * math.Sqrt2,
		CollapseMinQRel: 0.5,
		CollapseMinQAbs: 0.1,

		SwapMaxIter: 2,
		SwapMaxLRel: 1.5,
		SwapMaxLAbs: 1.5 * math.Sqrt2,
		SwapMinLRel: 0.75,
		SwapMinLAbs: 0.75 / math.Sqrt2,

		SmoothIter:  2,
		SmoothType:  SmoothLaplacian,
		SmoothRelax: []float64{0.5, 0.25, 0.125},
		MaxAngle:    20,
	}
}

// Partition selects how ParallelRemesh splits the mesh.
type Partition string

const (
	PartitionScotch         Partition = "scotch"
	PartitionMetisKWay      Partition = "metis_kway"
	PartitionMetisRecursive Partition = "metis_recursive"
	PartitionHilbert        Partition = "hilbert"
)

// ParsePartition maps a name to a Partition.
func ParsePartition(s string) (Partition, error) {
	switch p := Partition(strings.ToLower(strings.TrimSpace(s))); p {
	case PartitionScotch, PartitionMetisKWay, PartitionMetisRecursive, PartitionHilbert:
		return p, nil
	}
	return "", fmt.Errorf("invalid partition type %q: allowed values are scotch, metis_kway, metis_recursive, hilbert", s)
}

// DDParams controls the domain decomposition of ParallelRemesh.
type DDParams struct {
	NLayers  int `json:"n_layers"`
	NLevels  int `json:"n_levels"`
	MinVerts int `json:"min_verts"`
}

// DefaultDDParams returns the engine defaults.
func DefaultDDParams() DDParams { return DDParams{NLayers: 2, NLevels: 1} }

// ScaleParams bounds a metric scaling towards a target element count.
type ScaleParams struct {
	HMin    float64 `json:"h_min"`
	HMax    float64 `json:"h_max"`
	NElems  int     `json:"n_elems"`
	MaxIter int     `json:"max_iter"`
	// Fixed, when it has columns, is a metric the result is intersected
	// with and never scaled.
	Fixed Field `json:"-"`
}

// DefaultScaleParams returns the engine defaults for everything but the
// bounds and target.
func DefaultScaleParams() ScaleParams { return ScaleParams{MaxIter: 10} }

// HessianParams controls the least-squares Hessian recovery.
type HessianParams struct {
	// WeightExp weights neighbors by distance^-WeightExp. Nil gives the
	// vertex weight 10, first neighbors 1 and second neighbors 0.1.
	WeightExp            *int `json:"weight_exp,omitempty"`
	SecondOrderNeighbors bool `json:"second_order_neighbors"`
}

// DefaultHessianParams uses second-order neighbors with the fixed weights.
func DefaultHessianParams() HessianParams { return HessianParams{SecondOrderNeighbors: true} }

// DefaultWeightExp is the distance weight exponent of the gradient and
// smoothing operators.
const DefaultWeightExp = 2
