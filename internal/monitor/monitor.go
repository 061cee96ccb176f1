// Package monitor samples process-scoped CPU and memory usage on a background
// goroutine, independent of request traffic. One Monitor owns its sample
// sequence; consumers only ever see the terminal Summary.
package monitor

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval is the sampling cadence used when none is configured.
const DefaultInterval = 2 * time.Second

// Sample is one point-in-time resource reading.
type Sample struct {
	Timestamp  time.Time
	CPUPercent float64
	MemoryMB   float64
	MemoryPct  float64
}

// Summary aggregates all samples collected between Start and Stop.
// A monitor that collected nothing reports all zeros.
type Summary struct {
	AvgCPU        float64 `json:"avg_cpu"`
	PeakCPU       float64 `json:"peak_cpu"`
	AvgMemoryMB   float64 `json:"avg_memory_mb"`
	PeakMemoryMB  float64 `json:"peak_memory_mb"`
	AvgMemoryPct  float64 `json:"avg_memory_pct"`
	PeakMemoryPct float64 `json:"peak_memory_pct"`
	Samples       int     `json:"samples"`
}

// sampler reads cumulative process CPU seconds and current memory usage.
// Platform files provide the implementation.
type sampler interface {
	snapshot() (cpuSeconds float64, rssBytes, totalBytes uint64, err error)
}

// Monitor collects resource samples at a fixed interval. Failures inside the
// sampling loop are logged and swallowed; a monitoring glitch never aborts
// the run it observes.
type Monitor struct {
	interval time.Duration
	sampler  sampler
	logger   *zap.Logger

	mu      sync.Mutex
	samples []Sample
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// New creates a monitor sampling at the given interval. A non-positive
// interval falls back to DefaultInterval; a nil logger disables logging.
func New(interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		interval: interval,
		sampler:  newSampler(logger),
		logger:   logger,
	}
}

// Start begins sampling in the background. Starting a running monitor is a
// no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.samples = m.samples[:0]
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.run(m.stop, m.done)
}

// Stop halts sampling, waits for any in-flight sample to complete, and
// returns the summary over everything collected. Stopping an idle monitor
// just summarizes whatever is already there.
func (m *Monitor) Stop() Summary {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return m.Summary()
	}
	m.running = false
	stop, done := m.stop, m.done
	m.mu.Unlock()

	close(stop)
	<-done
	return m.Summary()
}

// Summary computes the aggregate view of the samples collected so far.
func (m *Monitor) Summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s Summary
	if len(m.samples) == 0 {
		return s
	}

	var cpuTotal, memTotal, pctTotal float64
	for _, sample := range m.samples {
		cpuTotal += sample.CPUPercent
		memTotal += sample.MemoryMB
		pctTotal += sample.MemoryPct
		if sample.CPUPercent > s.PeakCPU {
			s.PeakCPU = sample.CPUPercent
		}
		if sample.MemoryMB > s.PeakMemoryMB {
			s.PeakMemoryMB = sample.MemoryMB
		}
		if sample.MemoryPct > s.PeakMemoryPct {
			s.PeakMemoryPct = sample.MemoryPct
		}
	}

	n := float64(len(m.samples))
	s.AvgCPU = cpuTotal / n
	s.AvgMemoryMB = memTotal / n
	s.AvgMemoryPct = pctTotal / n
	s.Samples = len(m.samples)
	return s
}

// Samples returns a copy of the collected samples.
func (m *Monitor) Samples() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sample, len(m.samples))
	copy(out, m.samples)
	return out
}

func (m *Monitor) run(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// First reading primes the CPU baseline and produces no sample.
	prevCPU, _, _, err := m.sampler.snapshot()
	prevTime := time.Now()
	if err != nil {
		m.logger.Debug("priming resource sample failed", zap.Error(err))
		prevCPU = 0
	}

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.takeSample(&prevCPU, &prevTime)
		}
	}
}

func (m *Monitor) takeSample(prevCPU *float64, prevTime *time.Time) {
	cpu, rss, total, err := m.sampler.snapshot()
	now := time.Now()
	if err != nil {
		m.logger.Debug("resource sample failed", zap.Error(err))
		return
	}

	wall := now.Sub(*prevTime).Seconds()
	var cpuPct float64
	if wall > 0 {
		cpuPct = (cpu - *prevCPU) / wall * 100
		if cpuPct < 0 {
			cpuPct = 0
		}
	}
	*prevCPU = cpu
	*prevTime = now

	sample := Sample{
		Timestamp:  now,
		CPUPercent: cpuPct,
		MemoryMB:   float64(rss) / (1 << 20),
	}
	if total > 0 {
		sample.MemoryPct = float64(rss) / float64(total) * 100
	}

	m.mu.Lock()
	m.samples = append(m.samples, sample)
	m.mu.Unlock()
}
