package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

var csvHeader = []string{
	"batch", "requests", "successful", "failed", "success_rate",
	"throughput_rps", "duration_seconds",
	"p50_ms", "p95_ms", "p99_ms",
	"peak_cpu_percent", "peak_memory_mb",
	"conns_total", "conns_time_wait", "error",
}

// WriteCSV streams the per-batch rows of a run record.
func WriteCSV(w io.Writer, rec *RunRecord) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, b := range rec.Batches {
		var connTotal, timeWait string
		if b.Connections != nil && b.Connections.After != nil {
			connTotal = strconv.Itoa(b.Connections.After.Total)
			timeWait = strconv.Itoa(b.Connections.After.TimeWait)
		}
		_ = cw.Write([]string{
			strconv.Itoa(b.Batch),
			strconv.Itoa(b.Requests),
			strconv.Itoa(b.Successful),
			strconv.Itoa(b.Failed),
			fmt.Sprintf("%.2f", b.SuccessRate),
			fmt.Sprintf("%.2f", b.Throughput),
			fmt.Sprintf("%.3f", b.DurationSec),
			fmt.Sprintf("%.2f", b.Latency.P50MS),
			fmt.Sprintf("%.2f", b.Latency.P95MS),
			fmt.Sprintf("%.2f", b.Latency.P99MS),
			fmt.Sprintf("%.1f", b.Resources.PeakCPU),
			fmt.Sprintf("%.1f", b.Resources.PeakMemoryMB),
			connTotal,
			timeWait,
			b.Error,
		})
	}

	cw.Flush()
	return cw.Error()
}

// SaveCSV writes the per-batch CSV under dir and returns the path.
func SaveCSV(dir string, rec *RunRecord) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("report: create output dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("crucible_run_%s.csv", rec.ID))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("report: create %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if err := WriteCSV(f, rec); err != nil {
		return "", fmt.Errorf("report: write %s: %w", path, err)
	}
	return path, nil
}
