package monitor

import "runtime"

// runtimeSampler degrades to Go runtime memory statistics when /proc is not
// available. CPU reads as zero; memory covers the runtime's own footprint
// rather than full process RSS.
type runtimeSampler struct{}

func (runtimeSampler) snapshot() (float64, uint64, uint64, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return 0, ms.Sys, 0, nil
}
