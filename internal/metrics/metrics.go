// Package metrics holds the Prometheus collectors shared by the API server
// and the worker. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dataprep"

// Outcome labels
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
	OutcomeHit     = "hit"
	OutcomeMiss    = "miss"
	OutcomeError   = "error"
)

// Cache tier labels
const (
	TierFast = "fast"
	TierFile = "file"
)

// Metrics groups the pipeline's collectors.
type Metrics struct {
	jobsProcessed  *prometheus.CounterVec
	engineDuration *prometheus.HistogramVec
	cacheLookups   *prometheus.CounterVec
	enqueues       *prometheus.CounterVec
	jobsInFlight   prometheus.Gauge
	sweptJobs      *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		jobsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Processing jobs handled by workers, by outcome.",
		}, []string{"outcome"}),
		engineDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_call_duration_seconds",
			Help:      "Duration of preprocessing engine calls.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~7min
		}, []string{"outcome"}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Result cache lookups by tier and outcome.",
		}, []string{"tier", "outcome"}),
		enqueues: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enqueues_total",
			Help:      "Job messages published, by outcome.",
		}, []string{"outcome"}),
		jobsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Jobs currently being processed by this process.",
		}),
		sweptJobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_jobs_total",
			Help:      "Jobs touched by the recovery sweep, by action.",
		}, []string{"action"}),
	}
}

// ObserveJob counts one handled job.
func (m *Metrics) ObserveJob(outcome string) {
	if m == nil {
		return
	}
	m.jobsProcessed.WithLabelValues(outcome).Inc()
}

// ObserveEngineCall records one engine call.
func (m *Metrics) ObserveEngineCall(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.engineDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveCacheLookup counts one lookup on a cache tier.
func (m *Metrics) ObserveCacheLookup(tier, outcome string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(tier, outcome).Inc()
}

// ObserveEnqueue counts one publish attempt.
func (m *Metrics) ObserveEnqueue(outcome string) {
	if m == nil {
		return
	}
	m.enqueues.WithLabelValues(outcome).Inc()
}

// JobStarted increments the in-flight gauge and returns its decrement.
func (m *Metrics) JobStarted() func() {
	if m == nil {
		return func() {}
	}
	m.jobsInFlight.Inc()
	return m.jobsInFlight.Dec
}

// ObserveSweep counts jobs acted on by the recovery sweep.
func (m *Metrics) ObserveSweep(action string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.sweptJobs.WithLabelValues(action).Add(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
