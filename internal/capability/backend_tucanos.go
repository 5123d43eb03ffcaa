//go:build tucanos && cgo

package capability

// haveTucanos marks binaries linked against libtucanos. The native engine
// needs cgo, so the tag alone is not enough.
const haveTucanos = true
