//go:build !tucanos || !cgo

package capability

const haveTucanos = false
