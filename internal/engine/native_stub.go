//go:build !tucanos || !cgo

package engine

// NativeBuilt reports whether libtucanos is linked into this binary. Without
// the 'tucanos' build tag (and cgo) the reference engine is the default and
// remeshing entry points fail with ErrNotBuilt.
const NativeBuilt = false

func newDefault(fan Fanout) Engine { return NewReference(fan) }
