// Package analysis detects performance degradation across the batches of a
// completed run and classifies its likely cause.
package analysis

import (
	"fmt"
	"time"
)

// Tag identifies a degradation finding. Tags are stable strings that
// downstream reporting and tests assert on.
type Tag string

const (
	TagSignificantDegradation Tag = "significant degradation"
	TagMemoryLeak             Tag = "memory leak suspected"
	TagConnectionLeak         Tag = "connection leak suspected"
	TagPortExhaustion         Tag = "port exhaustion risk"
	TagGradualDegradation     Tag = "gradual degradation"
	TagSuddenDegradation      Tag = "sudden degradation"
	TagNoDegradation          Tag = "no significant degradation"
)

// Severity indicates how critical a finding is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Finding is one classified degradation signal.
type Finding struct {
	Tag        Tag                `json:"tag"`
	Severity   Severity           `json:"severity"`
	Summary    string             `json:"summary"`
	Evidence   []string           `json:"evidence,omitempty"`
	Suggestion string             `json:"suggestion,omitempty"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
}

// BatchMetrics is the per-batch input to the analyzer: the aggregated view of
// one batch, read only at batch boundaries.
type BatchMetrics struct {
	Index      int           `json:"index"`
	Throughput float64       `json:"throughput"`
	P99        time.Duration `json:"p99"`
	MemoryMB   float64       `json:"memory_mb"`
	ConnTotal  int           `json:"conn_total"`
	TimeWait   int           `json:"time_wait"`
}

// Report is the analyzer output for one run.
type Report struct {
	DegradationPct  float64       `json:"degradation_pct"`
	FirstThroughput float64       `json:"first_throughput"`
	LastThroughput  float64       `json:"last_throughput"`
	LatencyDelta    time.Duration `json:"latency_delta"`
	MemoryDeltaMB   float64       `json:"memory_delta_mb"`
	ConnDelta       int           `json:"conn_delta"`
	ThroughputSlope float64       `json:"throughput_slope"`
	Findings        []Finding     `json:"findings"`
}

// Has reports whether a finding with the given tag is present.
func (r *Report) Has(tag Tag) bool {
	for _, f := range r.Findings {
		if f.Tag == tag {
			return true
		}
	}
	return false
}

// Tags returns the finding tags in detection order.
func (r *Report) Tags() []Tag {
	tags := make([]Tag, 0, len(r.Findings))
	for _, f := range r.Findings {
		tags = append(tags, f.Tag)
	}
	return tags
}

// Config holds the classification thresholds.
type Config struct {
	DegradationPct   float64 // throughput drop percent treated as significant
	MemoryLeakMB     float64 // absolute memory growth treated as a leak
	ConnLeakCount    int     // absolute connection growth treated as a leak
	TimeWaitLimit    int     // TIME_WAIT count treated as exhaustion risk
	MidRunDropFactor float64 // mid-run drop fraction separating gradual from sudden
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() *Config {
	return &Config{
		DegradationPct:   20,
		MemoryLeakMB:     100,
		ConnLeakCount:    100,
		TimeWaitLimit:    1000,
		MidRunDropFactor: 0.10,
	}
}

// Analyzer classifies cross-batch degradation. It is a heuristic diagnostic,
// not a proof: findings point at likely causes for a human to confirm.
type Analyzer struct {
	config *Config
}

// New creates an analyzer with the given thresholds.
func New(config *Config) *Analyzer {
	if config == nil {
		config = DefaultConfig()
	}
	return &Analyzer{config: config}
}

// Analyze compares the ordered batch metrics of one run and returns the
// classified report. Fewer than two batches yields an empty report; a run
// whose first batch had zero throughput reports zero degradation.
func (a *Analyzer) Analyze(batches []BatchMetrics) *Report {
	report := &Report{Findings: make([]Finding, 0, 4)}
	if len(batches) < 2 {
		return report
	}

	first := batches[0]
	last := batches[len(batches)-1]

	report.FirstThroughput = first.Throughput
	report.LastThroughput = last.Throughput
	report.LatencyDelta = last.P99 - first.P99
	report.MemoryDeltaMB = last.MemoryMB - first.MemoryMB
	report.ConnDelta = last.ConnTotal - first.ConnTotal
	report.ThroughputSlope = throughputSlope(batches)

	if first.Throughput > 0 {
		report.DegradationPct = (first.Throughput - last.Throughput) / first.Throughput * 100
	}

	if report.DegradationPct <= a.config.DegradationPct {
		report.Findings = append(report.Findings, Finding{
			Tag:      TagNoDegradation,
			Severity: SeverityInfo,
			Summary:  fmt.Sprintf("throughput held within %.0f%% of the first batch", a.config.DegradationPct),
			Metrics: map[string]float64{
				"degradation_pct": report.DegradationPct,
				"slope":           report.ThroughputSlope,
			},
		})
		return report
	}

	report.Findings = append(report.Findings, Finding{
		Tag:      TagSignificantDegradation,
		Severity: a.escalate(report.DegradationPct, a.config.DegradationPct),
		Summary:  "throughput dropped significantly between the first and last batch",
		Evidence: []string{
			fmt.Sprintf("throughput: %.1f -> %.1f req/s (%.1f%% decrease)",
				first.Throughput, last.Throughput, report.DegradationPct),
			fmt.Sprintf("p99 latency: %v -> %v", first.P99, last.P99),
		},
		Suggestion: "inspect the sub-classified findings below for the likely cause",
		Metrics: map[string]float64{
			"degradation_pct": report.DegradationPct,
			"slope":           report.ThroughputSlope,
		},
	})

	if report.MemoryDeltaMB > a.config.MemoryLeakMB {
		report.Findings = append(report.Findings, Finding{
			Tag:      TagMemoryLeak,
			Severity: a.escalate(report.MemoryDeltaMB, a.config.MemoryLeakMB),
			Summary:  "memory usage grew across batches",
			Evidence: []string{
				fmt.Sprintf("memory: %.1f -> %.1f MB (+%.1f MB)",
					first.MemoryMB, last.MemoryMB, report.MemoryDeltaMB),
			},
			Suggestion: "check for unclosed resources in the transformation path and monitor server memory; restart the service between runs if growth persists",
			Metrics:    map[string]float64{"memory_delta_mb": report.MemoryDeltaMB},
		})
	}

	if report.ConnDelta > a.config.ConnLeakCount {
		report.Findings = append(report.Findings, Finding{
			Tag:      TagConnectionLeak,
			Severity: a.escalate(float64(report.ConnDelta), float64(a.config.ConnLeakCount)),
			Summary:  "connections accumulated instead of being closed",
			Evidence: []string{
				fmt.Sprintf("connections: %d -> %d (+%d)",
					first.ConnTotal, last.ConnTotal, report.ConnDelta),
			},
			Suggestion: "enable ForceClose on the batch client so sockets are not reused, and verify the server closes its side",
			Metrics:    map[string]float64{"conn_delta": float64(report.ConnDelta)},
		})
	}

	if last.TimeWait > a.config.TimeWaitLimit {
		report.Findings = append(report.Findings, Finding{
			Tag:      TagPortExhaustion,
			Severity: a.escalate(float64(last.TimeWait), float64(a.config.TimeWaitLimit)),
			Summary:  "TIME_WAIT sockets are accumulating toward port exhaustion",
			Evidence: []string{
				fmt.Sprintf("TIME_WAIT after last batch: %d", last.TimeWait),
			},
			Suggestion: "reduce TIME_WAIT hold with net.ipv4.tcp_fin_timeout=10 and enable net.ipv4.tcp_tw_reuse=1",
			Metrics:    map[string]float64{"time_wait": float64(last.TimeWait)},
		})
	}

	// Shape of the decline: a drop already visible at the midpoint means the
	// degradation accumulated wave by wave; otherwise a limit was hit late.
	mid := batches[len(batches)/2]
	midDrop := 0.0
	if first.Throughput > 0 {
		midDrop = (first.Throughput - mid.Throughput) / first.Throughput
	}
	if midDrop > a.config.MidRunDropFactor {
		report.Findings = append(report.Findings, Finding{
			Tag:      TagGradualDegradation,
			Severity: SeverityMedium,
			Summary:  "throughput declined progressively across batches",
			Evidence: []string{
				fmt.Sprintf("mid-run throughput: %.1f req/s (%.1f%% below first batch)",
					mid.Throughput, midDrop*100),
				fmt.Sprintf("throughput slope: %.2f req/s per batch", report.ThroughputSlope),
			},
			Suggestion: "points at accumulating resource pressure; shorten batches or add cleanup between them",
			Metrics:    map[string]float64{"mid_drop_pct": midDrop * 100, "slope": report.ThroughputSlope},
		})
	} else {
		report.Findings = append(report.Findings, Finding{
			Tag:      TagSuddenDegradation,
			Severity: SeverityMedium,
			Summary:  "throughput held steady and then fell late in the run",
			Evidence: []string{
				fmt.Sprintf("mid-run throughput: %.1f req/s (within %.0f%% of first batch)",
					mid.Throughput, a.config.MidRunDropFactor*100),
			},
			Suggestion: "points at a hard limit; check server thread pools, connection caps, and file descriptor limits",
			Metrics:    map[string]float64{"mid_drop_pct": midDrop * 100, "slope": report.ThroughputSlope},
		})
	}

	return report
}

// escalate maps how far a value exceeds its threshold onto a severity, using
// the same multiples ladder as the rest of the analysis tooling.
func (a *Analyzer) escalate(value, threshold float64) Severity {
	if threshold <= 0 {
		return SeverityMedium
	}
	switch {
	case value > threshold*5:
		return SeverityCritical
	case value > threshold*2:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

// throughputSlope fits a least-squares line through (index, throughput) and
// returns its slope. Supporting evidence only: classification stays on the
// first/mid/last contract.
func throughputSlope(batches []BatchMetrics) float64 {
	n := float64(len(batches))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, b := range batches {
		x := float64(i)
		sumX += x
		sumY += b.Throughput
		sumXY += x * b.Throughput
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}
