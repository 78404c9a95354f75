package refresh

import "github.com/prometheus/client_golang/prometheus"

// Metric names.
const (
	MetricCycles           = "refresh_cycles_total"
	MetricCycleDuration    = "refresh_cycle_duration_seconds"
	MetricCreatorsComputed = "refresh_creators_computed_total"
	MetricCreatorsFailed   = "refresh_creators_failed_total"
	MetricBatchFailures    = "refresh_batch_failures_total"
	MetricBudget           = "refresh_cycle_budget"
	MetricDeferred         = "refresh_creators_deferred"
)

// Metrics contains Prometheus metrics for the refresh scheduler.
type Metrics struct {
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	computed      prometheus.Counter
	failed        prometheus.Counter
	batchFailures prometheus.Counter
	budget        prometheus.Gauge
	deferred      prometheus.Gauge
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricCycles,
			Help: "Total number of refresh cycles by status",
		}, []string{"status"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricCycleDuration,
			Help:    "Refresh cycle duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		computed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricCreatorsComputed,
			Help: "Total number of creator records recomputed",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricCreatorsFailed,
			Help: "Total number of creators whose recomputation failed",
		}),
		batchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricBatchFailures,
			Help: "Total number of batches that exhausted their retries",
		}),
		budget: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricBudget,
			Help: "Maximum creators recomputed per cycle",
		}),
		deferred: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricDeferred,
			Help: "Creators left for a later cycle by the budget",
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.cycles, m.cycleDuration, m.computed, m.failed, m.batchFailures, m.budget, m.deferred,
	}
}
