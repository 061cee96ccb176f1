package bench

import (
	"time"

	"go.uber.org/zap"
)

// Progress reporting stays off the dispatch path: the collector calls into
// the tracker, which only fires the callback every progressEvery completions
// or progressInterval of wall time, whichever comes first.
const (
	progressEvery    = 1000
	progressInterval = 2 * time.Second
)

// Progress is a bounded-cadence view of a running load test.
type Progress struct {
	Batch     int
	Batches   int
	Completed int
	Total     int
	Rate      float64
	Elapsed   time.Duration
	ETA       time.Duration
}

// ProgressFunc receives progress updates. It runs on the collector
// goroutine, so it must not block.
type ProgressFunc func(Progress)

// DefaultProgress logs progress through the given logger.
func DefaultProgress(logger *zap.Logger) ProgressFunc {
	return func(p Progress) {
		logger.Info("progress",
			zap.Int("batch", p.Batch+1),
			zap.Int("of", p.Batches),
			zap.Int("completed", p.Completed),
			zap.Int("total", p.Total),
			zap.Float64("rate", p.Rate),
			zap.Duration("eta", p.ETA))
	}
}

// progressTracker is owned by the driver; batches run sequentially, so the
// collector goroutines never touch it concurrently.
type progressTracker struct {
	fn         ProgressFunc
	total      int
	completed  int
	lastCount  int
	lastReport time.Time
	started    time.Time
}

func newProgressTracker(total int, fn ProgressFunc) *progressTracker {
	now := time.Now()
	return &progressTracker{
		fn:         fn,
		total:      total,
		lastReport: now,
		started:    now,
	}
}

func (t *progressTracker) complete(batch, batches int) {
	t.completed++
	if t.fn == nil {
		return
	}
	now := time.Now()
	if t.completed-t.lastCount < progressEvery && now.Sub(t.lastReport) < progressInterval && t.completed != t.total {
		return
	}
	t.lastCount = t.completed
	t.lastReport = now

	elapsed := now.Sub(t.started)
	p := Progress{
		Batch:     batch,
		Batches:   batches,
		Completed: t.completed,
		Total:     t.total,
		Elapsed:   elapsed,
	}
	if elapsed > 0 {
		p.Rate = float64(t.completed) / elapsed.Seconds()
	}
	if p.Rate > 0 && t.completed < t.total {
		p.ETA = time.Duration(float64(t.total-t.completed) / p.Rate * float64(time.Second))
	}
	t.fn(p)
}
