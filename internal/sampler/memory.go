package sampler

import "runtime"

// runtimeMemory is the memory obtained from the OS by the Go runtime
func runtimeMemory() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.Sys
}
