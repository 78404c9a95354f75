package relevance

import "github.com/prometheus/client_golang/prometheus"

// Metric names.
const (
	MetricGeneration      = "relevance_generation"
	MetricRecords         = "relevance_records"
	MetricDemoted         = "relevance_demoted_records"
	MetricComputeFailures = "relevance_compute_failures_total"
	MetricCheckpointFails = "relevance_checkpoint_failures_total"
)

// Metrics contains Prometheus metrics for relevance computation.
type Metrics struct {
	generation      prometheus.Gauge
	records         prometheus.Gauge
	demoted         prometheus.Gauge
	computeFailures prometheus.Counter
	checkpointFails prometheus.Counter
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricGeneration,
			Help: "Generation number of the published relevance snapshot",
		}),
		records: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricRecords,
			Help: "Number of creator records in the published snapshot",
		}),
		demoted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricDemoted,
			Help: "Number of DEMOTED creator records in the published snapshot",
		}),
		computeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricComputeFailures,
			Help: "Total number of creator records that failed to compute",
		}),
		checkpointFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricCheckpointFails,
			Help: "Total number of failed snapshot checkpoint saves",
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
	return []prometheus.Collector{m.generation, m.records, m.demoted, m.computeFailures, m.checkpointFails}
}
