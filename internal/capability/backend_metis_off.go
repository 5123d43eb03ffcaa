//go:build !(metis && tucanos && cgo)

package capability

const haveMetis = false
