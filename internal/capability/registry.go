// Package capability records which optional native backends were compiled
// into this binary.
//
// Every backend is selected by a Go build tag of the same name (for example
// `go build -tags "tucanos meshb metis"`). meshb, metis, scotch and nlopt are
// features of libtucanos, so their flags also need the tucanos tag and cgo.
// The flags are constants, so the
// registry observed at run time always equals the build-time selection and can
// never toggle within a process.
package capability

import (
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Backend names one optional native library.
type Backend string

const (
	// Tucanos is the native remeshing engine itself.
	Tucanos Backend = "tucanos"
	// Meshb is libMeshb, used for .mesh(b)/.sol(b) file I/O.
	Meshb Backend = "meshb"
	// Metis is the METIS graph partitioner.
	Metis Backend = "metis"
	// Scotch is the Scotch graph partitioner.
	Scotch Backend = "scotch"
	// NLopt is the nonlinear optimizer used by the nlopt smoother.
	NLopt Backend = "nlopt"
)

// All lists every backend the binding knows about, in a stable order.
var All = []Backend{Tucanos, Meshb, Metis, Scotch, NLopt}

// Registry is an immutable set of capability flags.
type Registry struct {
	flags map[Backend]bool
}

// New builds a registry from explicit flags. Backends missing from the map
// are reported as unavailable. Tests use it to force a flag off without
// touching the build.
func New(flags map[Backend]bool) *Registry {
	r := &Registry{flags: make(map[Backend]bool, len(All))}
	for _, b := range All {
		r.flags[b] = flags[b]
	}
	return r
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry

	capabilityGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "meshd",
			Subsystem: "capability",
			Name:      "available",
			Help:      "1 if the optional native backend was compiled in",
		},
		[]string{"backend"},
	)
)

func init() {
	prometheus.MustRegister(capabilityGauge)
}

// Default returns the registry for this build. It is built on first use and
// frozen afterwards.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultReg = New(compiled())
		for _, b := range All {
			v := 0.0
			if defaultReg.flags[b] {
				v = 1
			}
			capabilityGauge.WithLabelValues(string(b)).Set(v)
		}
	})
	return defaultReg
}

// compiled returns the build-tag constants.
func compiled() map[Backend]bool {
	return map[Backend]bool{
		Tucanos: haveTucanos,
		Meshb:   haveMeshb,
		Metis:   haveMetis,
		Scotch:  haveScotch,
		NLopt:   haveNLopt,
	}
}

// Has reports whether backend b is available. Unknown names are false.
func (r *Registry) Has(b Backend) bool {
	if r == nil {
		return false
	}
	return r.flags[b]
}

// Flags returns a copy of all flags keyed by backend name.
func (r *Registry) Flags() map[string]bool {
	out := make(map[string]bool, len(All))
	for _, b := range All {
		out[string(b)] = r.Has(b)
	}
	return out
}

// Available returns the names of the compiled-in backends, sorted.
func (r *Registry) Available() []string {
	var out []string
	for _, b := range All {
		if r.Has(b) {
			out = append(out, string(b))
		}
	}
	sort.Strings(out)
	return out
}

// Require fails with a MissingError naming the first absent backend.
func (r *Registry) Require(bs ...Backend) error {
	for _, b := range bs {
		if !r.Has(b) {
			return MissingError{Backend: b}
		}
	}
	return nil
}

// Has reports whether backend name is available in the default registry.
func Has(name string) bool {
	return Default().Has(Backend(strings.ToLower(strings.TrimSpace(name))))
}

// Flags returns the default registry's flags.
func Flags() map[string]bool { return Default().Flags() }
