// Package memstats produces a diagnostic process and system memory snapshot.
package memstats

import (
	"runtime"

	"github.com/prometheus/procfs"

	"llmbridge/pkg/types"
)

// LowMemoryRatio is the fraction of total memory below which available
// memory is reported as low.
const LowMemoryRatio = 0.10

// Collector reads memory figures from procfs when available and from the Go
// runtime always. Fields the platform cannot report stay zero.
type Collector struct {
	fs     *procfs.FS
	loaded func() int
}

// New returns a Collector. loaded reports the number of loaded models and
// may be nil.
func New(loaded func() int) *Collector {
	c := &Collector{loaded: loaded}
	if fs, err := procfs.NewDefaultFS(); err == nil {
		c.fs = &fs
	}
	return c
}

// Snapshot collects a MemoryStats value. It never fails.
func (c *Collector) Snapshot() types.MemoryStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	out := types.MemoryStats{
		HeapAllocBytes:  ms.HeapAlloc,
		RuntimeSysBytes: ms.Sys,
	}
	if c.loaded != nil {
		out.LoadedModels = c.loaded()
	}
	if c.fs == nil {
		return out
	}
	if p, err := c.fs.Self(); err == nil {
		if st, err := p.Stat(); err == nil {
			out.ProcessResidentBytes = uint64(st.ResidentMemory())
			out.ProcessVirtualBytes = uint64(st.VirtualMemory())
		}
	}
	if mi, err := c.fs.Meminfo(); err == nil {
		out.SystemTotalBytes = kb(mi.MemTotal)
		out.SystemFreeBytes = kb(mi.MemFree)
		out.SystemAvailableBytes = kb(mi.MemAvailable)
		out.LowMemory = IsLow(out.SystemAvailableBytes, out.SystemTotalBytes)
	}
	return out
}

// IsLow reports whether available is below LowMemoryRatio of total.
func IsLow(available, total uint64) bool {
	if total == 0 {
		return false
	}
	return float64(available) < float64(total)*LowMemoryRatio
}

func kb(v *uint64) uint64 {
	if v == nil {
		return 0
	}
	return *v * 1024
}
