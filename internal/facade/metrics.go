package facade

import (
	"github.com/prometheus/client_golang/prometheus"

	"meshd/internal/capability"
	"meshd/internal/marshal"
	"meshd/internal/parallel"
)

var (
	callsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meshd",
			Subsystem: "facade",
			Name:      "calls_total",
			Help:      "Entry point calls by outcome",
		},
		[]string{"op", "outcome"},
	)

	nativeSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "meshd",
			Subsystem: "facade",
			Name:      "native_seconds",
			Help:      "Time spent in native calls with the host lock released",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(callsTotal, nativeSeconds)
}

// Outcome classifies err for metrics and events.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case marshal.IsValidation(err):
		return "validation"
	case capability.IsMissing(err):
		return "missing_capability"
	case IsHandleInvalid(err):
		return "handle_invalid"
	case IsFatalFault(err):
		return "fatal_fault"
	case IsNativeFailure(err):
		return "native_error"
	case parallel.IsConfigError(err):
		return "config"
	}
	return "error"
}
