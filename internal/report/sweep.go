package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/perflab/crucible/internal/bench"
)

// SweepPointRecord is the wire form of one sweep measurement.
type SweepPointRecord struct {
	Threads     int     `json:"threads"`
	MaxTasks    int     `json:"max_tasks"`
	Concurrency int     `json:"concurrent"`
	Throughput  float64 `json:"throughput"`
	P99MS       float64 `json:"p99_latency"`
	SuccessRate float64 `json:"success_rate"`
	AvgCPU      float64 `json:"avg_cpu"`
	RunID       string  `json:"run_id"`
}

// SweepRecord is the saved form of one configuration sweep.
type SweepRecord struct {
	Shape     string             `json:"vm_size,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
	Results   []SweepPointRecord `json:"results"`
}

// BuildSweep converts sweep results into their wire record.
func BuildSweep(shape string, results []bench.SweepResult) *SweepRecord {
	rec := &SweepRecord{
		Shape:     shape,
		Timestamp: time.Now(),
		Results:   make([]SweepPointRecord, 0, len(results)),
	}
	for _, r := range results {
		point := SweepPointRecord{
			Threads:     r.Point.Threads,
			MaxTasks:    r.Point.MaxTasks,
			Concurrency: r.Point.Concurrency,
			Throughput:  r.Summary.Overall.Throughput,
			P99MS:       toMS(r.Summary.Overall.Latency.P99),
			SuccessRate: r.Summary.Overall.SuccessRate,
			RunID:       r.Summary.ID,
		}
		// Average the per-batch averages; the sweep view does not need more
		// precision than that.
		var cpu float64
		for _, br := range r.Summary.Batches {
			cpu += br.Resources.AvgCPU
		}
		if len(r.Summary.Batches) > 0 {
			point.AvgCPU = cpu / float64(len(r.Summary.Batches))
		}
		rec.Results = append(rec.Results, point)
	}
	return rec
}

// SaveSweep writes the sweep record under dir and returns the path.
func SaveSweep(dir string, rec *SweepRecord) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("report: create output dir: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("report: encode sweep: %w", err)
	}
	name := fmt.Sprintf("crucible_sweep_%s.json", rec.Timestamp.Format("20060102_150405"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("report: write %s: %w", path, err)
	}
	return path, nil
}
