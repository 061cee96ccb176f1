// Package metrics exposes the live state of a run to Prometheus scrapers.
// Instruments register on a private registry so repeated runs in one process
// (and tests) never collide with the default global registry.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus instruments for a run.
type Metrics struct {
	RequestCounter   *prometheus.CounterVec
	LatencyHistogram *prometheus.HistogramVec
	Inflight         prometheus.Gauge
	BatchCounter     prometheus.Counter
	BatchThroughput  prometheus.Gauge
	BatchSuccessRate prometheus.Gauge
	PeakCPU          prometheus.Gauge
	PeakMemoryMB     prometheus.Gauge

	registry *prometheus.Registry
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// New creates and registers all instruments. Singleton so duplicate
// registration cannot happen when callers construct it more than once.
func New() *Metrics {
	metricsOnce.Do(func() {
		registry := prometheus.NewRegistry()

		m := &Metrics{
			RequestCounter: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "crucible_requests_total",
					Help: "Total requests issued, by outcome kind",
				},
				[]string{"kind"},
			),
			LatencyHistogram: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "crucible_request_duration_seconds",
					Help:    "Request latency in seconds, full body drain included",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"kind"},
			),
			Inflight: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "crucible_inflight_requests",
				Help: "Requests currently holding a concurrency slot",
			}),
			BatchCounter: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "crucible_batches_total",
				Help: "Completed batches",
			}),
			BatchThroughput: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "crucible_batch_throughput_rps",
				Help: "Successful requests per second of the last completed batch",
			}),
			BatchSuccessRate: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "crucible_batch_success_rate_percent",
				Help: "Success rate of the last completed batch",
			}),
			PeakCPU: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "crucible_batch_peak_cpu_percent",
				Help: "Peak generator CPU during the last completed batch",
			}),
			PeakMemoryMB: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "crucible_batch_peak_memory_mb",
				Help: "Peak generator memory during the last completed batch",
			}),
			registry: registry,
		}

		registry.MustRegister(m.RequestCounter)
		registry.MustRegister(m.LatencyHistogram)
		registry.MustRegister(m.Inflight)
		registry.MustRegister(m.BatchCounter)
		registry.MustRegister(m.BatchThroughput)
		registry.MustRegister(m.BatchSuccessRate)
		registry.MustRegister(m.PeakCPU)
		registry.MustRegister(m.PeakMemoryMB)

		metricsInstance = m
	})

	return metricsInstance
}

// KindSuccess labels successful outcomes; failures use their error kind.
const KindSuccess = "success"

// RecordOutcome counts one finished request and observes its latency.
func (m *Metrics) RecordOutcome(kind string, seconds float64) {
	m.RequestCounter.WithLabelValues(kind).Inc()
	m.LatencyHistogram.WithLabelValues(kind).Observe(seconds)
}

// RecordBatch publishes the last completed batch's aggregates.
func (m *Metrics) RecordBatch(throughput, successRate, peakCPU, peakMemoryMB float64) {
	m.BatchCounter.Inc()
	m.BatchThroughput.Set(throughput)
	m.BatchSuccessRate.Set(successRate)
	m.PeakCPU.Set(peakCPU)
	m.PeakMemoryMB.Set(peakMemoryMB)
}

// SetInflight publishes the current number of in-flight requests.
func (m *Metrics) SetInflight(n int64) {
	m.Inflight.Set(float64(n))
}

// Handler returns the scrape handler for the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ResetForTesting resets the singleton for testing.
func ResetForTesting() {
	metricsInstance = nil
	metricsOnce = sync.Once{}
}
