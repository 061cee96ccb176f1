//go:build linux

package monitor

import (
	"github.com/prometheus/procfs"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// procSampler reads process CPU time from getrusage and resident memory from
// /proc. CPU accounting is process-scoped on purpose: system-wide numbers are
// contaminated by unrelated load on shared test hosts.
type procSampler struct {
	proc       procfs.Proc
	totalBytes uint64
}

func newSampler(logger *zap.Logger) sampler {
	proc, err := procfs.Self()
	if err != nil {
		logger.Debug("procfs unavailable, falling back to runtime sampler", zap.Error(err))
		return runtimeSampler{}
	}

	var total uint64
	if fs, err := procfs.NewDefaultFS(); err == nil {
		if mi, err := fs.Meminfo(); err == nil && mi.MemTotal != nil {
			total = *mi.MemTotal * 1024
		}
	}

	return &procSampler{proc: proc, totalBytes: total}
}

func (s *procSampler) snapshot() (float64, uint64, uint64, error) {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0, 0, 0, err
	}
	cpu := float64(ru.Utime.Sec+ru.Stime.Sec) +
		float64(ru.Utime.Usec+ru.Stime.Usec)/1e6

	stat, err := s.proc.Stat()
	if err != nil {
		return 0, 0, 0, err
	}

	return cpu, uint64(stat.ResidentMemory()), s.totalBytes, nil
}
