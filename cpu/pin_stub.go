// pin_stub.go - core pinning where sched_setaffinity(2) is unavailable

//go:build !linux || tinygo

package cpu

import "runtime"

// Pin only locks the goroutine to its OS thread; affinity is left to the host.
func Pin(hostCPU int) error {
	runtime.LockOSThread()
	return nil
}

// Unpin releases the OS thread lock taken by Pin.
func Unpin() {
	runtime.UnlockOSThread()
}
