//go:build !(nlopt && tucanos && cgo)

package capability

const haveNLopt = false
