// Package stats aggregates request outcomes into batch-level statistics:
// latency percentiles, throughput, and success rate.
package stats

import (
	"sort"
	"time"
)

// LatencyStats describes the latency distribution of one batch.
type LatencyStats struct {
	Min time.Duration
	Avg time.Duration
	Max time.Duration
	P50 time.Duration
	P95 time.Duration
	P99 time.Duration
}

// BatchStats aggregates a completed batch.
type BatchStats struct {
	Requested   int
	Successes   int
	Failures    int
	SuccessRate float64 // percent of requested, 0 when Requested == 0
	Throughput  float64 // successful requests per second, 0 when Duration <= 0
	Duration    time.Duration
	Latency     LatencyStats
}

// Percentile returns the nearest-rank percentile of a sorted latency slice:
// the value at index len*p/100, clamped to len-1. No interpolation.
// Returns 0 for an empty slice.
func Percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Aggregate computes batch statistics from the collected latencies and
// success/failure counts. Latencies cover every attempt, failed requests
// included; the input slice is not modified. All rate computations guard
// against zero counts and zero durations so results are always finite.
func Aggregate(latencies []time.Duration, successes, failures int, duration time.Duration) BatchStats {
	s := BatchStats{
		Requested: successes + failures,
		Successes: successes,
		Failures:  failures,
		Duration:  duration,
	}

	if s.Requested > 0 {
		s.SuccessRate = float64(successes) / float64(s.Requested) * 100
	}
	if duration > 0 {
		s.Throughput = float64(successes) / duration.Seconds()
	}

	if len(latencies) == 0 {
		return s
	}

	// Sort a frozen copy; percentiles must never observe dispatch order.
	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, l := range sorted {
		total += l
	}

	s.Latency = LatencyStats{
		Min: sorted[0],
		Avg: total / time.Duration(len(sorted)),
		Max: sorted[len(sorted)-1],
		P50: Percentile(sorted, 50),
		P95: Percentile(sorted, 95),
		P99: Percentile(sorted, 99),
	}
	return s
}

// Merge combines per-batch statistics into run-level totals. Throughput is
// recomputed from the summed successes and durations, and the latency
// distribution from the concatenation of all batches' latencies, so the
// result is exact rather than an average of averages.
func Merge(batches []BatchStats, allLatencies []time.Duration) BatchStats {
	var successes, failures int
	var duration time.Duration
	for _, b := range batches {
		successes += b.Successes
		failures += b.Failures
		duration += b.Duration
	}
	return Aggregate(allLatencies, successes, failures, duration)
}
