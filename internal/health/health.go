// Package health reports this process's own resource usage for the /health
// endpoint. The teacher's monitor package hand-rolls /proc parsing
// (monitor.DiscoverProcessActivity) to inspect *other* agent processes; here
// there is exactly one process to report on -- the hub itself -- so this
// package leans on gopsutil instead of re-deriving the same /proc/<pid>/stat
// and /proc/<pid>/statm parsing the teacher wrote for a different purpose.
package health

import (
	"os"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

// Snapshot is a point-in-time read of the hub process's own resource usage.
type Snapshot struct {
	PID        int32   `json:"pid"`
	CPUPercent float64 `json:"cpuPercent"`
	MemoryRSS  uint64  `json:"memoryRssBytes"`
	NumThreads int32   `json:"numThreads"`
	NumCPU     int     `json:"numCpu"`
}

// Sampler caches a gopsutil process handle across calls, since
// process.NewProcess re-reads /proc/<pid>/stat on construction and
// CPUPercent needs a held handle to compute a delta between samples.
type Sampler struct {
	proc *process.Process
}

func NewSampler() (*Sampler, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &Sampler{proc: p}, nil
}

// Sample takes a best-effort reading. Individual gopsutil calls can fail on
// constrained platforms (e.g. missing /proc); failures degrade to zero
// values rather than propagating, since /health should stay responsive.
func (s *Sampler) Sample() Snapshot {
	snap := Snapshot{PID: int32(os.Getpid()), NumCPU: numCPU()}
	if s == nil || s.proc == nil {
		return snap
	}
	if pct, err := s.proc.CPUPercent(); err == nil {
		snap.CPUPercent = pct
	}
	if mem, err := s.proc.MemoryInfo(); err == nil && mem != nil {
		snap.MemoryRSS = mem.RSS
	}
	if threads, err := s.proc.NumThreads(); err == nil {
		snap.NumThreads = threads
	}
	return snap
}

func numCPU() int {
	n, err := cpu.Counts(true)
	if err != nil || n == 0 {
		return 1
	}
	return n
}
