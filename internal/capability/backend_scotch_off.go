//go:build !(scotch && tucanos && cgo)

package capability

const haveScotch = false
