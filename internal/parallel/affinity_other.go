//go:build !linux

package parallel

import "runtime"

func pinThread(core int) error { return ErrPinUnsupported }

func availableCPUs() int { return runtime.NumCPU() }
