package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/perflab/crucible/internal/analysis"
)

const rule = "============================================================"

// Render formats a run record as the fixed-width console report.
func Render(rec *RunRecord) string {
	var b strings.Builder

	b.WriteString(rule + "\n")
	b.WriteString("RUN RESULTS\n")
	b.WriteString(rule + "\n\n")

	b.WriteString("Configuration:\n")
	fmt.Fprintf(&b, "  Target:           %s\n", rec.Config.Target)
	fmt.Fprintf(&b, "  Total Requests:   %d\n", rec.Config.TotalRequests)
	fmt.Fprintf(&b, "  Concurrency:      %d\n", rec.Config.Concurrency)
	fmt.Fprintf(&b, "  Batch Size:       %d\n", rec.Config.BatchSize)
	if rec.Config.WarmupRequests > 0 {
		fmt.Fprintf(&b, "  Warmup Requests:  %d\n", rec.Config.WarmupRequests)
	}
	b.WriteString("\n")

	b.WriteString("Overall:\n")
	fmt.Fprintf(&b, "  Total Time:       %.2fs\n", rec.Performance.TotalTimeSec)
	fmt.Fprintf(&b, "  Successful:       %d (%.1f%%)\n", rec.Performance.Successful, rec.Performance.SuccessRate)
	fmt.Fprintf(&b, "  Failed:           %d\n", rec.Performance.Failed)
	fmt.Fprintf(&b, "  Throughput:       %.1f req/s\n", rec.Performance.Throughput)
	b.WriteString("\n")

	b.WriteString("Latency:\n")
	fmt.Fprintf(&b, "  Min:    %.1f ms\n", rec.Latency.MinMS)
	fmt.Fprintf(&b, "  Avg:    %.1f ms\n", rec.Latency.AvgMS)
	fmt.Fprintf(&b, "  P50:    %.1f ms\n", rec.Latency.P50MS)
	fmt.Fprintf(&b, "  P95:    %.1f ms\n", rec.Latency.P95MS)
	fmt.Fprintf(&b, "  P99:    %.1f ms\n", rec.Latency.P99MS)
	fmt.Fprintf(&b, "  Max:    %.1f ms\n", rec.Latency.MaxMS)
	b.WriteString("\n")

	if len(rec.Batches) > 0 {
		b.WriteString("Batches:\n")
		fmt.Fprintf(&b, "  %-6s %-10s %-12s %-14s %-12s %s\n",
			"Batch", "Requests", "Success", "Throughput", "P99 (ms)", "Peak Mem (MB)")
		for _, batch := range rec.Batches {
			fmt.Fprintf(&b, "  %-6d %-10d %-12s %-14.1f %-12.1f %.1f\n",
				batch.Batch,
				batch.Requests,
				fmt.Sprintf("%.1f%%", batch.SuccessRate),
				batch.Throughput,
				batch.Latency.P99MS,
				batch.Resources.PeakMemoryMB)
		}
		b.WriteString("\n")
	}

	statuses := mergeStatusCodes(rec.Batches)
	if len(statuses) > 0 {
		b.WriteString("Status Codes:\n")
		codes := make([]int, 0, len(statuses))
		for code := range statuses {
			codes = append(codes, code)
		}
		sort.Ints(codes)
		for _, code := range codes {
			fmt.Fprintf(&b, "  %d: %d\n", code, statuses[code])
		}
		b.WriteString("\n")
	}

	errors := mergeErrors(rec.Batches)
	if len(errors) > 0 {
		b.WriteString("Errors:\n")
		kinds := make([]string, 0, len(errors))
		for kind := range errors {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)
		for _, kind := range kinds {
			fmt.Fprintf(&b, "  %s: %d\n", kind, errors[kind])
		}
		b.WriteString("\n")
	}

	if rec.Analysis != nil {
		b.WriteString(renderAnalysis(rec.DegradationPct, rec.Analysis))
	}

	return b.String()
}

func renderAnalysis(degradation float64, rep *analysis.Report) string {
	var b strings.Builder
	b.WriteString("Degradation Check:\n")
	fmt.Fprintf(&b, "  First batch:  %.1f req/s\n", rep.FirstThroughput)
	fmt.Fprintf(&b, "  Last batch:   %.1f req/s\n", rep.LastThroughput)
	fmt.Fprintf(&b, "  Degradation:  %.1f%%\n\n", degradation)

	for _, f := range rep.Findings {
		fmt.Fprintf(&b, "  [%s] %s\n", strings.ToUpper(string(f.Severity)), f.Summary)
		for _, e := range f.Evidence {
			fmt.Fprintf(&b, "      %s\n", e)
		}
		if f.Suggestion != "" {
			fmt.Fprintf(&b, "      suggestion: %s\n", f.Suggestion)
		}
	}
	return b.String()
}

func mergeStatusCodes(batches []BatchRecord) map[int]int {
	merged := make(map[int]int)
	for _, b := range batches {
		for code, n := range b.StatusCodes {
			merged[code] += n
		}
	}
	return merged
}

func mergeErrors(batches []BatchRecord) map[string]int {
	merged := make(map[string]int)
	for _, b := range batches {
		for kind, n := range b.Errors {
			merged[kind] += n
		}
	}
	return merged
}

// RenderSweep formats the sweep ranking table.
func RenderSweep(rec *SweepRecord) string {
	var b strings.Builder

	b.WriteString(rule + "\n")
	b.WriteString("SWEEP RESULTS SUMMARY\n")
	b.WriteString(rule + "\n\n")

	if len(rec.Results) == 0 {
		b.WriteString("No results.\n")
		return b.String()
	}

	ranked := make([]SweepPointRecord, len(rec.Results))
	copy(ranked, rec.Results)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Throughput > ranked[j].Throughput })

	b.WriteString("Configurations by Throughput:\n")
	fmt.Fprintf(&b, "  %-5s %-8s %-10s %-12s %-15s %-12s %s\n",
		"Rank", "Threads", "MaxTasks", "Concurrent", "Throughput", "P99 (ms)", "CPU %")
	for i, r := range ranked {
		fmt.Fprintf(&b, "  %-5d %-8d %-10d %-12d %-15.1f %-12.1f %.1f\n",
			i+1, r.Threads, r.MaxTasks, r.Concurrency, r.Throughput, r.P99MS, r.AvgCPU)
	}
	b.WriteString("\n")

	bestLatency := ranked[0]
	for _, r := range ranked[1:] {
		if r.P99MS < bestLatency.P99MS {
			bestLatency = r
		}
	}
	fmt.Fprintf(&b, "Best P99 Latency: %.1f ms\n", bestLatency.P99MS)
	fmt.Fprintf(&b, "  Configuration: threads=%d max_tasks=%d concurrency=%d\n\n",
		bestLatency.Threads, bestLatency.MaxTasks, bestLatency.Concurrency)

	optimal := ranked[0]
	b.WriteString("Recommended Configuration:\n")
	fmt.Fprintf(&b, "  threads=%d max_tasks=%d concurrency=%d (%.1f req/s)\n",
		optimal.Threads, optimal.MaxTasks, optimal.Concurrency, optimal.Throughput)

	return b.String()
}
