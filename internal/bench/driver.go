// Package bench drives concurrent HTTP load in sequential batches and
// aggregates the outcomes. The driver owns the batch lifecycle: a fresh
// scoped client per wave, resource sampling around it, cooldown and memory
// reclamation between waves, and the cross-batch degradation analysis at
// the end. Individual request failures are data here, never errors.
package bench

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/perflab/crucible/internal/analysis"
	"github.com/perflab/crucible/internal/conns"
	"github.com/perflab/crucible/internal/monitor"
	"github.com/perflab/crucible/internal/stats"
	"go.uber.org/zap"
)

// Config defines one load run. NewClient and NewRequest are the only
// required fields; everything else has a workable default.
type Config struct {
	Target       string // label for reports, not dialed from here
	Requests     int
	Concurrency  int
	BatchSize    int
	Cooldown     time.Duration
	SettleDelay  time.Duration
	BatchTimeout time.Duration
	RateLimit    float64
	Warmup       bool

	NewClient  func(concurrency int) *http.Client
	NewRequest RequestFactory

	Monitor   *monitor.Monitor
	Inspector conns.Inspector
	Analyzer  *analysis.Analyzer

	OnProgress ProgressFunc
	OnOutcome  func(Outcome)
	OnBatch    func(BatchResult)

	Logger *zap.Logger
}

// DefaultConfig returns the defaults of the reference benchmark: 100k
// requests in waves of 5000 at concurrency 64, three-second cooldowns.
func DefaultConfig() *Config {
	return &Config{
		Requests:    100000,
		Concurrency: 64,
		BatchSize:   5000,
		Cooldown:    3 * time.Second,
		SettleDelay: 2 * time.Second,
		Warmup:      true,
	}
}

// BatchResult captures one completed wave. Immutable once appended to the
// run sequence.
type BatchResult struct {
	Index       int
	Requested   int
	Stats       stats.BatchStats
	Latencies   []time.Duration
	Statuses    map[int]int
	Errors      map[ErrorKind]int
	Resources   monitor.Summary
	ConnsBefore *conns.Snapshot
	ConnsAfter  *conns.Snapshot
	Err         string
	StartedAt   time.Time
	CompletedAt time.Time
}

// RunSummary is the complete result of one run. A run always produces one,
// even when every request failed.
type RunSummary struct {
	ID             string
	Target         string
	Concurrency    int
	BatchSize      int
	Requested      int
	WarmupRequests int
	Batches        []BatchResult
	Overall        stats.BatchStats
	DegradationPct float64
	Analysis       *analysis.Report
	StartedAt      time.Time
	CompletedAt    time.Time
}

// Driver runs batches strictly in sequence.
type Driver struct {
	cfg      Config
	mon      *monitor.Monitor
	analyzer *analysis.Analyzer
	ctrl     *Controller
	logger   *zap.Logger
}

// New validates the configuration and builds a driver. A nil config takes
// the defaults, which still need the two factories filled in.
func New(cfg *Config) (*Driver, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.NewClient == nil {
		return nil, fmt.Errorf("bench: NewClient factory is required")
	}
	if cfg.NewRequest == nil {
		return nil, fmt.Errorf("bench: NewRequest factory is required")
	}
	if cfg.Requests <= 0 {
		return nil, fmt.Errorf("bench: requests must be positive, got %d", cfg.Requests)
	}
	if cfg.Concurrency <= 0 {
		return nil, fmt.Errorf("bench: concurrency must be positive, got %d", cfg.Concurrency)
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("bench: batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if cfg.RateLimit < 0 {
		cfg.RateLimit = 0
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	mon := cfg.Monitor
	if mon == nil {
		mon = monitor.New(0, logger)
	}
	analyzer := cfg.Analyzer
	if analyzer == nil {
		analyzer = analysis.New(nil)
	}

	return &Driver{
		cfg:      *cfg,
		mon:      mon,
		analyzer: analyzer,
		ctrl:     NewController(cfg.Concurrency, cfg.RateLimit),
		logger:   logger,
	}, nil
}

// Inflight reports how many requests hold a concurrency slot right now.
func (d *Driver) Inflight() int64 { return d.ctrl.Inflight() }

// Run executes the full load run: ceil(Requests/BatchSize) batches in
// sequence, cooldown and a memory reclamation hint between them. Cancelling
// ctx drains the remaining work as failed outcomes; the summary still covers
// every requested attempt.
func (d *Driver) Run(ctx context.Context) (*RunSummary, error) {
	numBatches := (d.cfg.Requests + d.cfg.BatchSize - 1) / d.cfg.BatchSize

	run := &RunSummary{
		ID:          uuid.New().String(),
		Target:      d.cfg.Target,
		Concurrency: d.cfg.Concurrency,
		BatchSize:   d.cfg.BatchSize,
		Requested:   d.cfg.Requests,
		StartedAt:   time.Now(),
	}

	d.logger.Info("run starting",
		zap.String("run_id", run.ID),
		zap.Int("requests", d.cfg.Requests),
		zap.Int("concurrency", d.cfg.Concurrency),
		zap.Int("batches", numBatches))

	if d.cfg.Warmup {
		run.WarmupRequests = d.warmup(ctx)
	}

	tracker := newProgressTracker(d.cfg.Requests, d.cfg.OnProgress)

	remaining := d.cfg.Requests
	for b := 0; b < numBatches; b++ {
		size := d.cfg.BatchSize
		if size > remaining {
			size = remaining
		}
		remaining -= size

		br := d.runBatch(ctx, b, numBatches, size, tracker)
		run.Batches = append(run.Batches, br)
		if d.cfg.OnBatch != nil {
			d.cfg.OnBatch(br)
		}

		d.logger.Info("batch complete",
			zap.Int("batch", b+1),
			zap.Int("of", numBatches),
			zap.Float64("throughput", br.Stats.Throughput),
			zap.Duration("p99", br.Stats.Latency.P99),
			zap.Float64("success_rate", br.Stats.SuccessRate))

		if b < numBatches-1 {
			sleepCtx(ctx, d.cfg.Cooldown)
			// Return freed batch memory to the OS before the next wave is
			// measured.
			debug.FreeOSMemory()
		}
	}

	run.CompletedAt = time.Now()
	d.finish(run)
	return run, nil
}

// runBatch executes one wave and never returns an error: batch-level
// failures are recorded in the result marker and the run moves on.
func (d *Driver) runBatch(ctx context.Context, index, total, size int, tracker *progressTracker) BatchResult {
	br := BatchResult{
		Index:     index,
		Requested: size,
		Statuses:  make(map[int]int),
		Errors:    make(map[ErrorKind]int),
		StartedAt: time.Now(),
	}

	client := d.cfg.NewClient(d.cfg.Concurrency)
	if client == nil {
		br.Err = "client construction failed"
		br.Stats = stats.Aggregate(nil, 0, size, 0)
		br.Errors[ErrorOther] = size
		br.CompletedAt = time.Now()
		return br
	}
	defer client.CloseIdleConnections()

	if d.cfg.Inspector != nil {
		if snap, err := d.cfg.Inspector.Snapshot(ctx); err == nil {
			br.ConnsBefore = &snap
		} else {
			d.logger.Debug("connection snapshot failed", zap.Error(err))
		}
	}

	d.mon.Start()

	batchCtx := ctx
	if d.cfg.BatchTimeout > 0 {
		var cancel context.CancelFunc
		batchCtx, cancel = context.WithTimeout(ctx, d.cfg.BatchTimeout)
		defer cancel()
	}

	latencies := make([]time.Duration, 0, size)
	successes, failures := 0, 0
	collect := func(out Outcome) {
		latencies = append(latencies, out.Latency)
		if out.Success {
			successes++
			br.Statuses[out.Status]++
		} else {
			failures++
			br.Errors[out.Kind]++
			if out.Status != 0 {
				br.Statuses[out.Status]++
			}
		}
		if d.cfg.OnOutcome != nil {
			d.cfg.OnOutcome(out)
		}
		tracker.complete(index, total)
	}

	task := func(taskCtx context.Context) Outcome {
		return Execute(taskCtx, client, d.cfg.NewRequest)
	}

	start := time.Now()
	err := d.ctrl.Run(batchCtx, size, task, collect)
	duration := time.Since(start)

	br.Resources = d.mon.Stop()

	if err != nil {
		br.Err = err.Error()
		// The schedule never ran; keep the count contract intact.
		for len(latencies) < size {
			latencies = append(latencies, 0)
			failures++
			br.Errors[ErrorOther]++
		}
	}

	// Let closing connections reach their terminal state before looking.
	if d.cfg.Inspector != nil {
		sleepCtx(ctx, d.cfg.SettleDelay)
		if snap, err := d.cfg.Inspector.Snapshot(ctx); err == nil {
			br.ConnsAfter = &snap
		} else {
			d.logger.Debug("connection snapshot failed", zap.Error(err))
		}
	}

	br.Stats = stats.Aggregate(latencies, successes, failures, duration)
	br.Latencies = latencies
	br.CompletedAt = time.Now()
	return br
}

// warmup issues unrecorded requests so pools, JITs and caches on both sides
// are hot before measurement starts. Returns how many were sent.
func (d *Driver) warmup(ctx context.Context) int {
	c := d.cfg.Concurrency
	if c > 100 {
		c = 100
	}
	n := 2 * c

	client := d.cfg.NewClient(d.cfg.Concurrency)
	if client == nil {
		return 0
	}
	defer client.CloseIdleConnections()

	d.logger.Info("warmup", zap.Int("requests", n))
	task := func(taskCtx context.Context) Outcome {
		return Execute(taskCtx, client, d.cfg.NewRequest)
	}
	if err := d.ctrl.Run(ctx, n, task, nil); err != nil {
		return 0
	}
	return n
}

// finish computes the overall view and runs the degradation analysis.
func (d *Driver) finish(run *RunSummary) {
	batchStats := make([]stats.BatchStats, 0, len(run.Batches))
	var all []time.Duration
	metrics := make([]analysis.BatchMetrics, 0, len(run.Batches))

	for _, br := range run.Batches {
		batchStats = append(batchStats, br.Stats)
		all = append(all, br.Latencies...)

		m := analysis.BatchMetrics{
			Index:      br.Index,
			Throughput: br.Stats.Throughput,
			P99:        br.Stats.Latency.P99,
			MemoryMB:   br.Resources.PeakMemoryMB,
		}
		if br.ConnsAfter != nil {
			m.ConnTotal = br.ConnsAfter.Total
			m.TimeWait = br.ConnsAfter.TimeWait
		}
		metrics = append(metrics, m)
	}

	run.Overall = stats.Merge(batchStats, all)
	run.Analysis = d.analyzer.Analyze(metrics)
	run.DegradationPct = run.Analysis.DegradationPct

	d.logger.Info("run complete",
		zap.String("run_id", run.ID),
		zap.Float64("throughput", run.Overall.Throughput),
		zap.Float64("success_rate", run.Overall.SuccessRate),
		zap.Duration("p99", run.Overall.Latency.P99),
		zap.Float64("degradation_pct", run.DegradationPct))
}

// sleepCtx sleeps for d unless ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
