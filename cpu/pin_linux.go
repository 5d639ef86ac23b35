// pin_linux.go - Linux core pinning via sched_setaffinity(2)

//go:build linux && !tinygo

package cpu

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// Pin locks the calling goroutine to its OS thread and binds that thread to
// one host CPU chosen from the currently allowed set: the (hostCPU mod
// allowed)-th allowed CPU. Simulated cores outnumbering host CPUs therefore
// share hosts round-robin.
func Pin(hostCPU int) error {
	runtime.LockOSThread()

	var allowed unix.CPUSet
	if err := unix.SchedGetaffinity(0, &allowed); err != nil {
		return err
	}
	n := allowed.Count()
	if n == 0 || hostCPU < 0 {
		return nil
	}

	want := hostCPU % n
	for cpu := 0; cpu < len(allowed)*64; cpu++ {
		if !allowed.IsSet(cpu) {
			continue
		}
		if want == 0 {
			var set unix.CPUSet
			set.Set(cpu)
			return unix.SchedSetaffinity(0, &set)
		}
		want--
	}
	return nil
}

// Unpin releases the OS thread lock taken by Pin.
func Unpin() {
	runtime.UnlockOSThread()
}
