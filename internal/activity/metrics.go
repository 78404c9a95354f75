package activity

import "github.com/prometheus/client_golang/prometheus"

// Metric names.
const (
	MetricViewsIngested    = "activity_views_ingested_total"
	MetricViewsDuplicate   = "activity_views_duplicate_total"
	MetricViewsDropped     = "activity_views_dropped_total"
	MetricViewIngestErrors = "activity_view_ingest_errors_total"
)

// Metrics contains Prometheus metrics for view ingestion.
type Metrics struct {
	ingested  prometheus.Counter
	duplicate prometheus.Counter
	dropped   prometheus.Counter
	errors    prometheus.Counter
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		ingested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricViewsIngested,
			Help: "Total number of content views applied to interest profiles",
		}),
		duplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricViewsDuplicate,
			Help: "Total number of content views ignored as retries",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricViewsDropped,
			Help: "Total number of content views dropped because the queue was full",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricViewIngestErrors,
			Help: "Total number of content view ingestion errors",
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
	return []prometheus.Collector{m.ingested, m.duplicate, m.dropped, m.errors}
}
