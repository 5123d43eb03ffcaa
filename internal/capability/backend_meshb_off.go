//go:build !(meshb && tucanos && cgo)

package capability

const haveMeshb = false
