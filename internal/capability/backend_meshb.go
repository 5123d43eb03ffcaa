//go:build meshb && tucanos && cgo

package capability

// haveMeshb marks a libtucanos built with meshb: -tags=meshb,tucanos with cgo.
const haveMeshb = true
