//go:build linux

package parallel

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// pinThread restricts the calling OS thread to core. The caller must hold
// runtime.LockOSThread.
func pinThread(core int) error {
	if core < 0 {
		return unix.EINVAL
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	if set.Count() == 0 {
		// Beyond the CPUSet capacity.
		return unix.EINVAL
	}
	return unix.SchedSetaffinity(0, &set)
}

// availableCPUs is the number of cores this process may run on.
func availableCPUs() int {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err == nil {
		if n := set.Count(); n > 0 {
			return n
		}
	}
	return runtime.NumCPU()
}
