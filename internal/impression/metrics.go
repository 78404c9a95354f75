package impression

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricImpressionsRecorded  = "impressions_recorded_total"
	MetricImpressionsDuplicate = "impressions_duplicate_total"
	MetricImpressionsDropped   = "impressions_dropped_total"
	MetricImpressionErrors     = "impression_record_errors_total"
	MetricImpressionQueueDepth = "impression_queue_depth"
)

// Metrics contains Prometheus metrics for impression recording.
type Metrics struct {
	recorded   prometheus.Counter
	duplicate  prometheus.Counter
	dropped    prometheus.Counter
	errors     prometheus.Counter
	queueDepth prometheus.Gauge
}

// NewMetrics creates a new Metrics instance. Call Register to expose it.
func NewMetrics() *Metrics {
	return &Metrics{
		recorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricImpressionsRecorded,
			Help: "Total number of impressions counted",
		}),
		duplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricImpressionsDuplicate,
			Help: "Total number of impressions ignored as duplicates of an already counted key",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricImpressionsDropped,
			Help: "Total number of impression intents dropped because the queue was full",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricImpressionErrors,
			Help: "Total number of impression recording errors",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricImpressionQueueDepth,
			Help: "Number of impression intents waiting to be recorded",
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

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.recorded,
		m.duplicate,
		m.dropped,
		m.errors,
		m.queueDepth,
	}
}
