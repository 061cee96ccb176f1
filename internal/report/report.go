// Package report converts completed runs into their external forms: the
// saved JSON record, CSV exports, and the console summary. Durations cross
// the wire as millisecond floats; core packages never deal in those.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/perflab/crucible/internal/analysis"
	"github.com/perflab/crucible/internal/bench"
	"github.com/perflab/crucible/internal/conns"
	"github.com/perflab/crucible/internal/monitor"
	"github.com/perflab/crucible/internal/stats"
)

// LatencyRecord is the wire form of a latency distribution.
type LatencyRecord struct {
	MinMS float64 `json:"min_ms"`
	AvgMS float64 `json:"avg_ms"`
	MaxMS float64 `json:"max_ms"`
	P50MS float64 `json:"p50_ms"`
	P95MS float64 `json:"p95_ms"`
	P99MS float64 `json:"p99_ms"`
}

// ConnRecord pairs the connection table views around one batch.
type ConnRecord struct {
	Before *conns.Snapshot `json:"before,omitempty"`
	After  *conns.Snapshot `json:"after,omitempty"`
}

// BatchRecord is the wire form of one batch. Batch numbers are 1-based in
// every external surface.
type BatchRecord struct {
	Batch       int             `json:"batch"`
	Requests    int             `json:"requests"`
	Successful  int             `json:"successful"`
	Failed      int             `json:"failed"`
	SuccessRate float64         `json:"success_rate"`
	Throughput  float64         `json:"throughput"`
	DurationSec float64         `json:"duration_seconds"`
	Latency     LatencyRecord   `json:"latency"`
	StatusCodes map[int]int     `json:"status_codes,omitempty"`
	Errors      map[string]int  `json:"errors,omitempty"`
	Resources   monitor.Summary `json:"resources"`
	Connections *ConnRecord     `json:"connections,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// ConfigRecord echoes the run parameters into the record.
type ConfigRecord struct {
	Target         string `json:"target"`
	TotalRequests  int    `json:"total_requests"`
	Concurrency    int    `json:"concurrent_requests"`
	BatchSize      int    `json:"batch_size"`
	WarmupRequests int    `json:"warmup_requests,omitempty"`
}

// PerfRecord is the overall performance block.
type PerfRecord struct {
	TotalTimeSec float64 `json:"total_time_seconds"`
	Throughput   float64 `json:"throughput"`
	SuccessRate  float64 `json:"success_rate"`
	Requests     int     `json:"total_requests"`
	Successful   int     `json:"successful"`
	Failed       int     `json:"failed"`
}

// RunRecord is the saved form of one complete run.
type RunRecord struct {
	ID             string           `json:"id"`
	Timestamp      time.Time        `json:"timestamp"`
	Config         ConfigRecord     `json:"config"`
	Performance    PerfRecord       `json:"performance"`
	Latency        LatencyRecord    `json:"latency"`
	DegradationPct float64          `json:"degradation_pct"`
	Batches        []BatchRecord    `json:"batches"`
	Analysis       *analysis.Report `json:"analysis,omitempty"`
}

func toMS(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func latencyMS(l stats.LatencyStats) LatencyRecord {
	return LatencyRecord{
		MinMS: toMS(l.Min),
		AvgMS: toMS(l.Avg),
		MaxMS: toMS(l.Max),
		P50MS: toMS(l.P50),
		P95MS: toMS(l.P95),
		P99MS: toMS(l.P99),
	}
}

// Build converts a completed run into its wire record.
func Build(run *bench.RunSummary) *RunRecord {
	rec := &RunRecord{
		ID:        run.ID,
		Timestamp: run.CompletedAt,
		Config: ConfigRecord{
			Target:         run.Target,
			TotalRequests:  run.Requested,
			Concurrency:    run.Concurrency,
			BatchSize:      run.BatchSize,
			WarmupRequests: run.WarmupRequests,
		},
		Performance: PerfRecord{
			TotalTimeSec: run.Overall.Duration.Seconds(),
			Throughput:   run.Overall.Throughput,
			SuccessRate:  run.Overall.SuccessRate,
			Requests:     run.Overall.Requested,
			Successful:   run.Overall.Successes,
			Failed:       run.Overall.Failures,
		},
		Latency:        latencyMS(run.Overall.Latency),
		DegradationPct: run.DegradationPct,
		Analysis:       run.Analysis,
	}

	for _, br := range run.Batches {
		b := BatchRecord{
			Batch:       br.Index + 1,
			Requests:    br.Requested,
			Successful:  br.Stats.Successes,
			Failed:      br.Stats.Failures,
			SuccessRate: br.Stats.SuccessRate,
			Throughput:  br.Stats.Throughput,
			DurationSec: br.Stats.Duration.Seconds(),
			Latency:     latencyMS(br.Stats.Latency),
			Resources:   br.Resources,
			Error:       br.Err,
		}
		if len(br.Statuses) > 0 {
			b.StatusCodes = br.Statuses
		}
		if len(br.Errors) > 0 {
			b.Errors = make(map[string]int, len(br.Errors))
			for kind, n := range br.Errors {
				b.Errors[string(kind)] = n
			}
		}
		if br.ConnsBefore != nil || br.ConnsAfter != nil {
			b.Connections = &ConnRecord{Before: br.ConnsBefore, After: br.ConnsAfter}
		}
		rec.Batches = append(rec.Batches, b)
	}
	return rec
}

// BatchMetrics rebuilds the analyzer input from a saved record, so stored
// runs can be re-analyzed with different thresholds.
func (r *RunRecord) BatchMetrics() []analysis.BatchMetrics {
	metrics := make([]analysis.BatchMetrics, 0, len(r.Batches))
	for _, b := range r.Batches {
		m := analysis.BatchMetrics{
			Index:      b.Batch - 1,
			Throughput: b.Throughput,
			P99:        time.Duration(b.Latency.P99MS * float64(time.Millisecond)),
			MemoryMB:   b.Resources.PeakMemoryMB,
		}
		if b.Connections != nil && b.Connections.After != nil {
			m.ConnTotal = b.Connections.After.Total
			m.TimeWait = b.Connections.After.TimeWait
		}
		metrics = append(metrics, m)
	}
	return metrics
}

// Save writes the record as indented JSON under dir and returns the path.
func Save(dir string, rec *RunRecord) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("report: create output dir: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("report: encode run %s: %w", rec.ID, err)
	}
	path := filepath.Join(dir, fmt.Sprintf("crucible_run_%s.json", rec.ID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("report: write %s: %w", path, err)
	}
	return path, nil
}

// Load reads a saved run record.
func Load(path string) (*RunRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("report: read %s: %w", path, err)
	}
	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("report: decode %s: %w", path, err)
	}
	return &rec, nil
}
