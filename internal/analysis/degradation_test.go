package analysis

import (
	"testing"
	"time"
)

func metrics(idx int, throughput float64) BatchMetrics {
	return BatchMetrics{
		Index:      idx,
		Throughput: throughput,
		P99:        50 * time.Millisecond,
		MemoryMB:   200,
	}
}

func TestAnalyzeNotEnoughBatches(t *testing.T) {
	a := New(nil)

	report := a.Analyze([]BatchMetrics{metrics(1, 1000)})
	if len(report.Findings) != 0 {
		t.Errorf("expected no findings for a single batch, got %v", report.Tags())
	}
}

func TestAnalyzeNoDegradation(t *testing.T) {
	a := New(nil)
	batches := []BatchMetrics{
		metrics(1, 1000),
		metrics(2, 980),
		metrics(3, 990),
		metrics(4, 950),
	}

	report := a.Analyze(batches)

	if report.DegradationPct != 5 {
		t.Errorf("degradation pct = %v, want 5", report.DegradationPct)
	}
	if !report.Has(TagNoDegradation) {
		t.Errorf("expected no-degradation finding, got %v", report.Tags())
	}
	if len(report.Findings) != 1 {
		t.Errorf("expected exactly one finding, got %v", report.Tags())
	}
}

func TestAnalyzeMemoryLeakExample(t *testing.T) {
	a := New(nil)

	// Batch 1 at 1000 req/s, batch 5 at 700 req/s, memory +150MB,
	// connections +50. Must flag the memory leak but not a connection leak.
	batches := []BatchMetrics{
		{Index: 1, Throughput: 1000, MemoryMB: 200, ConnTotal: 120, P99: 40 * time.Millisecond},
		{Index: 2, Throughput: 950, MemoryMB: 240, ConnTotal: 130, P99: 45 * time.Millisecond},
		{Index: 3, Throughput: 850, MemoryMB: 280, ConnTotal: 140, P99: 55 * time.Millisecond},
		{Index: 4, Throughput: 780, MemoryMB: 320, ConnTotal: 155, P99: 70 * time.Millisecond},
		{Index: 5, Throughput: 700, MemoryMB: 350, ConnTotal: 170, P99: 90 * time.Millisecond},
	}

	report := a.Analyze(batches)

	if report.DegradationPct != 30 {
		t.Errorf("degradation pct = %v, want 30", report.DegradationPct)
	}
	if !report.Has(TagSignificantDegradation) {
		t.Errorf("expected significant degradation, got %v", report.Tags())
	}
	if !report.Has(TagMemoryLeak) {
		t.Errorf("expected memory leak finding, got %v", report.Tags())
	}
	if report.Has(TagConnectionLeak) {
		t.Errorf("connection delta of 50 must not flag a leak, got %v", report.Tags())
	}
	if report.MemoryDeltaMB != 150 {
		t.Errorf("memory delta = %v, want 150", report.MemoryDeltaMB)
	}

	// Mid batch (index 2 of 5) sits at 850, a 15% drop: gradual.
	if !report.Has(TagGradualDegradation) {
		t.Errorf("expected gradual degradation, got %v", report.Tags())
	}
	if report.Has(TagSuddenDegradation) {
		t.Errorf("gradual and sudden must not both fire, got %v", report.Tags())
	}
}

func TestAnalyzeSuddenDegradation(t *testing.T) {
	a := New(nil)

	// Steady until a late collapse; the midpoint holds within 10% of first.
	batches := []BatchMetrics{
		metrics(1, 1000),
		metrics(2, 990),
		metrics(3, 980),
		metrics(4, 970),
		metrics(5, 500),
	}

	report := a.Analyze(batches)

	if !report.Has(TagSignificantDegradation) {
		t.Fatalf("expected significant degradation, got %v", report.Tags())
	}
	if !report.Has(TagSuddenDegradation) {
		t.Errorf("expected sudden degradation, got %v", report.Tags())
	}
	if report.Has(TagGradualDegradation) {
		t.Errorf("did not expect gradual degradation, got %v", report.Tags())
	}
}

func TestAnalyzeConnectionLeakAndPortExhaustion(t *testing.T) {
	a := New(nil)
	batches := []BatchMetrics{
		{Index: 1, Throughput: 800, ConnTotal: 100, TimeWait: 50},
		{Index: 2, Throughput: 600, ConnTotal: 400, TimeWait: 600},
		{Index: 3, Throughput: 400, ConnTotal: 900, TimeWait: 1500},
	}

	report := a.Analyze(batches)

	if !report.Has(TagConnectionLeak) {
		t.Errorf("expected connection leak, got %v", report.Tags())
	}
	if !report.Has(TagPortExhaustion) {
		t.Errorf("expected port exhaustion risk, got %v", report.Tags())
	}
	if report.ConnDelta != 800 {
		t.Errorf("conn delta = %d, want 800", report.ConnDelta)
	}
}

func TestAnalyzeZeroFirstThroughput(t *testing.T) {
	a := New(nil)
	batches := []BatchMetrics{
		metrics(1, 0),
		metrics(2, 0),
	}

	report := a.Analyze(batches)

	if report.DegradationPct != 0 {
		t.Errorf("degradation pct with zero baseline = %v, want 0", report.DegradationPct)
	}
	if !report.Has(TagNoDegradation) {
		t.Errorf("zero baseline should classify as no degradation, got %v", report.Tags())
	}
}

func TestSeverityEscalation(t *testing.T) {
	a := New(nil)

	if got := a.escalate(25, 20); got != SeverityMedium {
		t.Errorf("25/20 = %v, want medium", got)
	}
	if got := a.escalate(50, 20); got != SeverityHigh {
		t.Errorf("50/20 = %v, want high", got)
	}
	if got := a.escalate(150, 20); got != SeverityCritical {
		t.Errorf("150/20 = %v, want critical", got)
	}
}

func TestThroughputSlope(t *testing.T) {
	batches := []BatchMetrics{
		metrics(1, 1000),
		metrics(2, 900),
		metrics(3, 800),
		metrics(4, 700),
	}

	report := New(nil).Analyze(batches)

	if report.ThroughputSlope > -99 || report.ThroughputSlope < -101 {
		t.Errorf("slope = %v, want about -100 per batch", report.ThroughputSlope)
	}
}
