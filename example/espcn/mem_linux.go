//go:build linux

package main

import "syscall"

// usedRAM returns the system memory in use in MiB. libtorch allocations
// are invisible to the Go runtime, so leaks of undropped tensors show here.
func usedRAM() float64 {
	si := &syscall.Sysinfo_t{}
	if err := syscall.Sysinfo(si); err != nil {
		return 0
	}
	unit := uint64(si.Unit)
	return float64((uint64(si.Totalram)-uint64(si.Freeram))*unit) / (1 << 20)
}
