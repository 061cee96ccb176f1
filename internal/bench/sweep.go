package bench

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Point is one sweep configuration. The engine varies Concurrency; Threads
// and MaxTasks describe how the target service is tuned for the test and
// ride along as labels into the results.
type Point struct {
	Threads     int
	MaxTasks    int
	Concurrency int
}

func (p Point) String() string {
	return fmt.Sprintf("threads=%d tasks=%d concurrency=%d", p.Threads, p.MaxTasks, p.Concurrency)
}

// BuildPoints expands a VM shape into its test matrix. The known shapes
// carry hand-tuned matrices; anything else gets the cross product of thread
// counts, task limits and concurrency levels.
func BuildPoints(shape string, threads, tasks, levels []int) []Point {
	switch shape {
	case "2-core":
		return []Point{{2, 8, 32}, {2, 16, 64}, {4, 8, 32}}
	case "4-core":
		return []Point{{4, 16, 64}, {4, 32, 128}, {8, 16, 64}}
	case "8-core":
		return []Point{{4, 32, 128}, {8, 32, 256}, {8, 64, 256}, {16, 32, 128}}
	case "16-core":
		return []Point{{8, 64, 256}, {16, 64, 512}, {16, 128, 512}, {32, 64, 256}}
	}

	if len(levels) == 0 {
		levels = []int{64, 128, 256}
	}
	if len(threads) == 0 {
		threads = []int{0}
	}
	if len(tasks) == 0 {
		tasks = []int{0}
	}

	points := make([]Point, 0, len(threads)*len(tasks)*len(levels))
	for _, th := range threads {
		for _, ta := range tasks {
			for _, c := range levels {
				points = append(points, Point{Threads: th, MaxTasks: ta, Concurrency: c})
			}
		}
	}
	return points
}

// SweepConfig drives a configuration sweep. Base supplies everything except
// the concurrency, which each point overrides.
type SweepConfig struct {
	Base     Config
	Points   []Point
	Settle   time.Duration // pause before each configuration, default 2s
	Cooldown time.Duration // pause between configurations, default 15s
}

// SweepResult pairs a point with its completed run.
type SweepResult struct {
	Point   Point
	Summary *RunSummary
}

// RunSweep measures every point in sequence. A degraded or failing target is
// still a result; only unusable configuration aborts the sweep.
func RunSweep(ctx context.Context, sc SweepConfig, logger *zap.Logger) ([]SweepResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(sc.Points) == 0 {
		return nil, fmt.Errorf("bench: sweep needs at least one point")
	}
	settle := sc.Settle
	if settle == 0 {
		settle = 2 * time.Second
	}
	cooldown := sc.Cooldown
	if cooldown == 0 {
		cooldown = 15 * time.Second
	}

	results := make([]SweepResult, 0, len(sc.Points))
	for i, point := range sc.Points {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		logger.Info("sweep point",
			zap.Int("test", i+1),
			zap.Int("of", len(sc.Points)),
			zap.Int("threads", point.Threads),
			zap.Int("max_tasks", point.MaxTasks),
			zap.Int("concurrency", point.Concurrency))

		cfg := sc.Base
		cfg.Concurrency = point.Concurrency
		if cfg.Logger == nil {
			cfg.Logger = logger
		}
		driver, err := New(&cfg)
		if err != nil {
			return results, fmt.Errorf("bench: sweep point %d: %w", i+1, err)
		}

		sleepCtx(ctx, settle)
		summary, err := driver.Run(ctx)
		if err != nil {
			return results, fmt.Errorf("bench: sweep point %d: %w", i+1, err)
		}
		results = append(results, SweepResult{Point: point, Summary: summary})

		if i < len(sc.Points)-1 {
			sleepCtx(ctx, cooldown)
		}
	}
	return results, nil
}

// BestByThroughput picks the result with the highest overall throughput.
func BestByThroughput(results []SweepResult) (SweepResult, bool) {
	if len(results) == 0 {
		return SweepResult{}, false
	}
	best := results[0]
	for _, r := range results[1:] {
		if r.Summary.Overall.Throughput > best.Summary.Overall.Throughput {
			best = r
		}
	}
	return best, true
}

// BestByP99 picks the result with the lowest overall p99 latency.
func BestByP99(results []SweepResult) (SweepResult, bool) {
	if len(results) == 0 {
		return SweepResult{}, false
	}
	best := results[0]
	for _, r := range results[1:] {
		if r.Summary.Overall.Latency.P99 < best.Summary.Overall.Latency.P99 {
			best = r
		}
	}
	return best, true
}
