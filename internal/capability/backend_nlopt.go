//go:build nlopt && tucanos && cgo

package capability

// haveNLopt marks a libtucanos built with nlopt: -tags=nlopt,tucanos with cgo.
const haveNLopt = true
