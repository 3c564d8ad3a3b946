package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "envfusion"

// Metrics holds the Prometheus collectors for provider chains, the result cache and the scheduler.
type Metrics struct {
	// Provider attempts. labels: need, provider, outcome={success,network,rate_limited,circuit_open,malformed,timeout,canceled,error}
	ProviderAttempts *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec // labels: need, provider

	// Chain outcomes. labels: need, outcome={resolved,degraded,exhausted,canceled}
	ChainResolutions *prometheus.CounterVec

	// Cache lookups. labels: cache, result={hit,miss,shared}
	CacheLookups *prometheus.CounterVec

	// Scheduler jobs. labels: job, outcome={success,error}
	JobRuns *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.ProviderAttempts,
		m.ProviderDuration,
		m.ChainResolutions,
		m.CacheLookups,
		m.JobRuns,
	)
	return m
}

// NewMetricsForTesting creates unregistered metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		ProviderAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_attempts_total",
			Help:      "Upstream provider attempts by need, provider and outcome.",
		}, []string{"need", "provider", "outcome"}),
		ProviderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_attempt_duration_seconds",
			Help:      "Duration of a single upstream provider attempt.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"need", "provider"}),
		ChainResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_resolutions_total",
			Help:      "Fallback chain resolutions by need and outcome.",
		}, []string{"need", "outcome"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Result cache lookups by cache and result.",
		}, []string{"cache", "result"}),
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_job_runs_total",
			Help:      "Scheduled polling job runs by job and outcome.",
		}, []string{"job", "outcome"}),
	}
}
