package httpapi

import "time"

// maxBodyBytes controls the maximum allowed request body size for JSON endpoints.
// Mesh arrays are large, so the default is 256 MiB.
var maxBodyBytes int64 = 256 << 20

// SetMaxBodyBytes allows configuring the maximum request body size.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 256 << 20
		return
	}
	maxBodyBytes = n
}

// Per-handle admission. Calls on one mesh run one at a time; at most
// maxQueueDepth callers wait, each for at most maxWait.
var (
	maxQueueDepth = 8
	maxWait       = 30 * time.Second
)

// SetAdmission configures per-handle queueing. Non-positive values restore
// the defaults. Only meshes created afterwards pick up a new queue depth.
func SetAdmission(queueDepth int, wait time.Duration) {
	if queueDepth <= 0 {
		queueDepth = 8
	}
	if wait <= 0 {
		wait = 30 * time.Second
	}
	maxQueueDepth = queueDepth
	maxWait = wait
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}
