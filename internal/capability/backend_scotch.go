//go:build scotch && tucanos && cgo

package capability

// haveScotch marks a libtucanos built with scotch: -tags=scotch,tucanos with cgo.
const haveScotch = true
