// Package hostinfo reports the process's host capacity (CPU count,
// memory, load average) for the status endpoint.
package hostinfo

import (
	"runtime"

	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot is the capacity view surfaced by GET /api/status.
type Snapshot struct {
	CPUs       int     `json:"cpus"`
	TotalMemMB uint64  `json:"totalMemMb"`
	UsedMemMB  uint64  `json:"usedMemMb"`
	Load1      float64 `json:"load1"`
}

// Capture samples current host capacity. Errors from either gopsutil
// call are non-fatal: the field is left at its zero value and the
// caller still gets CPU count and whatever else succeeded.
func Capture() Snapshot {
	snap := Snapshot{CPUs: runtime.NumCPU()}

	if v, err := mem.VirtualMemory(); err == nil {
		snap.TotalMemMB = v.Total / 1024 / 1024
		snap.UsedMemMB = v.Used / 1024 / 1024
	}
	if l, err := load.Avg(); err == nil {
		snap.Load1 = l.Load1
	}
	return snap
}
