package stats

import (
	"math"
	"math/rand"
	"testing"
	"time"
)

func msSlice(ms ...int) []time.Duration {
	out := make([]time.Duration, len(ms))
	for i, m := range ms {
		out[i] = time.Duration(m) * time.Millisecond
	}
	return out
}

func TestPercentileNearestRank(t *testing.T) {
	sorted := msSlice(10, 20, 30, 40, 50, 60, 70, 80, 90, 100)

	tests := []struct {
		p    int
		want time.Duration
	}{
		{0, 10 * time.Millisecond},    // index 0 == min
		{50, 60 * time.Millisecond},   // index 10*50/100 = 5
		{95, 100 * time.Millisecond},  // index 9
		{99, 100 * time.Millisecond},  // index 9
		{100, 100 * time.Millisecond}, // index 10 clamps to 9 == max
	}

	for _, tt := range tests {
		if got := Percentile(sorted, tt.p); got != tt.want {
			t.Errorf("Percentile(%d) = %v, want %v", tt.p, got, tt.want)
		}
	}
}

func TestPercentileEmpty(t *testing.T) {
	if got := Percentile(nil, 99); got != 0 {
		t.Errorf("expected 0 for empty input, got %v", got)
	}
}

func TestAggregateCounts(t *testing.T) {
	latencies := msSlice(10, 20, 30, 40, 50)
	s := Aggregate(latencies, 3, 2, time.Second)

	if s.Requested != 5 {
		t.Errorf("requested = %d, want 5", s.Requested)
	}
	if s.Successes+s.Failures != s.Requested {
		t.Errorf("successes(%d) + failures(%d) != requested(%d)", s.Successes, s.Failures, s.Requested)
	}
	if s.SuccessRate != 60 {
		t.Errorf("success rate = %v, want 60", s.SuccessRate)
	}
	if s.Throughput != 3 {
		t.Errorf("throughput = %v, want 3 req/s", s.Throughput)
	}
}

func TestAggregateZeroInputs(t *testing.T) {
	s := Aggregate(nil, 0, 0, 0)

	if s.SuccessRate != 0 || s.Throughput != 0 {
		t.Errorf("expected zero rates for empty batch, got rate=%v throughput=%v", s.SuccessRate, s.Throughput)
	}
	if math.IsNaN(s.SuccessRate) || math.IsInf(s.SuccessRate, 0) {
		t.Error("success rate must be finite")
	}
	if math.IsNaN(s.Throughput) || math.IsInf(s.Throughput, 0) {
		t.Error("throughput must be finite")
	}
	if s.Latency.P99 != 0 || s.Latency.Min != 0 {
		t.Errorf("expected zero latency stats, got %+v", s.Latency)
	}
}

func TestAggregateZeroDuration(t *testing.T) {
	s := Aggregate(msSlice(10, 20), 2, 0, 0)
	if s.Throughput != 0 {
		t.Errorf("throughput with zero duration = %v, want 0", s.Throughput)
	}
	if s.SuccessRate != 100 {
		t.Errorf("success rate = %v, want 100", s.SuccessRate)
	}
}

func TestAggregateOrderIndependent(t *testing.T) {
	base := msSlice(15, 3, 88, 42, 7, 63, 29, 51, 90, 12, 34, 76)
	want := Aggregate(base, len(base), 0, time.Second)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 10; i++ {
		shuffled := make([]time.Duration, len(base))
		copy(shuffled, base)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})

		got := Aggregate(shuffled, len(shuffled), 0, time.Second)
		if got.Latency != want.Latency {
			t.Fatalf("shuffle %d changed latency stats: got %+v, want %+v", i, got.Latency, want.Latency)
		}
	}
}

func TestAggregateDoesNotMutateInput(t *testing.T) {
	latencies := msSlice(50, 10, 30)
	Aggregate(latencies, 3, 0, time.Second)

	if latencies[0] != 50*time.Millisecond || latencies[1] != 10*time.Millisecond {
		t.Errorf("input slice was mutated: %v", latencies)
	}
}

func TestAggregateMinMaxMatchPercentileBounds(t *testing.T) {
	latencies := msSlice(9, 1, 7, 3, 5)
	s := Aggregate(latencies, 5, 0, time.Second)

	if s.Latency.Min != time.Millisecond {
		t.Errorf("min = %v, want 1ms", s.Latency.Min)
	}
	if s.Latency.Max != 9*time.Millisecond {
		t.Errorf("max = %v, want 9ms", s.Latency.Max)
	}

	sorted := msSlice(1, 3, 5, 7, 9)
	if Percentile(sorted, 0) != s.Latency.Min {
		t.Error("percentile(0) must equal min")
	}
	if Percentile(sorted, 100) != s.Latency.Max {
		t.Error("clamped top percentile must equal max")
	}
}

func TestAggregateUniformLatencies(t *testing.T) {
	latencies := make([]time.Duration, 10)
	for i := range latencies {
		latencies[i] = 10 * time.Millisecond
	}
	s := Aggregate(latencies, 10, 0, 50*time.Millisecond)

	if s.SuccessRate != 100 {
		t.Errorf("success rate = %v, want 100", s.SuccessRate)
	}
	if s.Latency.P50 != 10*time.Millisecond || s.Latency.P99 != 10*time.Millisecond {
		t.Errorf("expected p50 and p99 of 10ms, got p50=%v p99=%v", s.Latency.P50, s.Latency.P99)
	}
	if s.Throughput != 200 {
		t.Errorf("throughput = %v, want 200 req/s", s.Throughput)
	}
}

func TestMerge(t *testing.T) {
	b1 := Aggregate(msSlice(10, 20), 2, 0, time.Second)
	b2 := Aggregate(msSlice(30, 40), 1, 1, time.Second)

	all := msSlice(10, 20, 30, 40)
	m := Merge([]BatchStats{b1, b2}, all)

	if m.Requested != 4 || m.Successes != 3 || m.Failures != 1 {
		t.Errorf("merged counts wrong: %+v", m)
	}
	if m.Throughput != 1.5 {
		t.Errorf("merged throughput = %v, want 1.5", m.Throughput)
	}
	if m.Latency.Min != 10*time.Millisecond || m.Latency.Max != 40*time.Millisecond {
		t.Errorf("merged latency bounds wrong: %+v", m.Latency)
	}
}
