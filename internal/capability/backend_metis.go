//go:build metis && tucanos && cgo

package capability

// haveMetis marks a libtucanos built with metis: -tags=metis,tucanos with cgo.
const haveMetis = true
