// Package metrics exposes Prometheus collectors for the follow-graph crawler.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels shared by the probe, sink and run collectors.
const (
	StatusOK       = "ok"
	StatusFailed   = "failed"
	StatusMissing  = "missing"
	StatusDropped  = "dropped"
	StatusCanceled = "canceled"
)

var (
	crawlerProbesTotal           *prometheus.CounterVec
	crawlerProbeDurationSeconds  *prometheus.HistogramVec
	crawlerAccountsDiscovered    prometheus.Counter
	crawlerSinkWritesTotal       *prometheus.CounterVec
	crawlerWorkerFaultsTotal     prometheus.Counter
	crawlerActiveWorkers         prometheus.Gauge
	crawlerQueuePending          prometheus.Gauge
	crawlerRateLimitDelaySeconds prometheus.Histogram
	crawlerRunsTotal             *prometheus.CounterVec
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerProbesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_probes_total",
				Help: "Total number of probe calls, labeled by operation and outcome.",
			},
			[]string{"op", "status"},
		)

		crawlerProbeDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_probe_duration_seconds",
				Help:    "Histogram of probe call latencies, labeled by operation.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"op"},
		)

		crawlerAccountsDiscovered = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_accounts_discovered_total",
				Help: "Total number of distinct accounts discovered, seeds included.",
			},
		)

		crawlerSinkWritesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_sink_writes_total",
				Help: "Total number of discovery records handled by the output sink, labeled by status.",
			},
			[]string{"status"},
		)

		crawlerWorkerFaultsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_worker_faults_total",
				Help: "Total number of recovered panics while processing an account.",
			},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently processing an account.",
			},
		)

		crawlerQueuePending = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_queue_pending",
				Help: "Accounts enqueued but not yet fully processed.",
			},
		)

		crawlerRateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of probe rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		crawlerRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_runs_total",
				Help: "Total number of crawl runs, labeled by final status.",
			},
			[]string{"status"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveProbe records one probe call.
func ObserveProbe(op, status string, duration time.Duration) {
	Init()
	crawlerProbesTotal.WithLabelValues(op, status).Inc()
	crawlerProbeDurationSeconds.WithLabelValues(op).Observe(duration.Seconds())
}

// ObserveDiscovered increments the discovered-accounts counter.
func ObserveDiscovered() {
	Init()
	crawlerAccountsDiscovered.Inc()
}

// ObserveSinkWrite records the outcome of one sink write.
func ObserveSinkWrite(status string) {
	Init()
	crawlerSinkWritesTotal.WithLabelValues(status).Inc()
}

// ObserveWorkerFault increments the recovered-panic counter.
func ObserveWorkerFault() {
	Init()
	crawlerWorkerFaultsTotal.Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	crawlerActiveWorkers.Dec()
}

// SetQueuePending reports the current pending count of the work queue.
func SetQueuePending(n int) {
	Init()
	crawlerQueuePending.Set(float64(n))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(duration time.Duration) {
	Init()
	crawlerRateLimitDelaySeconds.Observe(duration.Seconds())
}

// ObserveRun increments the run counter for the given status.
func ObserveRun(status string) {
	Init()
	crawlerRunsTotal.WithLabelValues(status).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
