// Package jobs runs the engine's scheduled work (relevance refresh, fairness
// audits, key cleanup) on cron schedules and exports per-job metrics.
package jobs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	MetricJobRunsTotal   = "job_runs_total"
	MetricJobDuration    = "job_duration_seconds"
	MetricJobErrorsTotal = "job_errors_total"
	MetricJobLastSuccess = "job_last_success_timestamp_seconds"
	MetricJobsInFlight   = "jobs_in_flight"
)

// Names of the jobs wired by cmd/api. They double as metric label values.
const (
	JobTypeRelevanceRefresh = "relevance_refresh"
	JobTypeFairnessAudit    = "fairness_audit"
)

// Run outcomes.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusSkipped = "skipped"
)

// Metrics tracks job runs. A stale last-success gauge is the signal that a
// refresh or audit has stopped completing.
type Metrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	errors      *prometheus.CounterVec
	lastSuccess *prometheus.GaugeVec
	inFlight    *prometheus.GaugeVec
}

// NewMetrics creates unregistered job collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricJobRunsTotal,
			Help: "Job runs by job and outcome",
		}, []string{"job", "status"}),
		// Refresh cycles over a large catalog run for minutes.
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricJobDuration,
			Help:    "Job run duration in seconds",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"job"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricJobErrorsTotal,
			Help: "Job errors by job and error type",
		}, []string{"job", "error_type"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: MetricJobLastSuccess,
			Help: "Unix time of the last successful run",
		}, []string{"job"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: MetricJobsInFlight,
			Help: "Runs currently executing",
		}, []string{"job"}),
	}
}

// Register registers all collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns every collector owned by m.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.runs, m.duration, m.errors, m.lastSuccess, m.inFlight}
}

func (m *Metrics) IncJobsTotal(job, status string) {
	m.runs.WithLabelValues(job, status).Inc()
}

func (m *Metrics) ObserveJobDuration(job string, seconds float64) {
	m.duration.WithLabelValues(job).Observe(seconds)
}

// IncJobErrors counts a failure inside a job. Jobs report partial failures
// here too, e.g. a refresh batch that was skipped while the cycle succeeded.
func (m *Metrics) IncJobErrors(job, errorType string) {
	m.errors.WithLabelValues(job, errorType).Inc()
}

func (m *Metrics) SetLastSuccess(job string, at time.Time) {
	m.lastSuccess.WithLabelValues(job).Set(float64(at.Unix()))
}

func (m *Metrics) trackInFlight(job string) func() {
	g := m.inFlight.WithLabelValues(job)
	g.Inc()
	return g.Dec
}
