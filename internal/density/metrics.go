package density

import "github.com/prometheus/client_golang/prometheus"

// Metric names.
const (
	MetricLimitedCreators     = "density_limited_creators"
	MetricUnderServedCreators = "density_under_served_creators"
	MetricThreshold           = "density_threshold_impressions"
	MetricRebuilds            = "density_table_rebuilds_total"
)

// Metrics contains Prometheus metrics for the density controller.
type Metrics struct {
	limited     prometheus.Gauge
	underServed prometheus.Gauge
	threshold   prometheus.Gauge
	rebuilds    prometheus.Counter
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		limited: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricLimitedCreators,
			Help: "Number of creators in LIMITED rotation",
		}),
		underServed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricUnderServedCreators,
			Help: "Number of creators below the under-served impression percentile",
		}),
		threshold: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricThreshold,
			Help: "Rolling impression count above which creators are LIMITED",
		}),
		rebuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRebuilds,
			Help: "Total number of rotation table rebuilds",
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
	return []prometheus.Collector{m.limited, m.underServed, m.threshold, m.rebuilds}
}
