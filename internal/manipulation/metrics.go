package manipulation

import "github.com/prometheus/client_golang/prometheus"

// Metric names.
const (
	MetricClassifications  = "manipulation_classifications_total"
	MetricDetectorFailures = "manipulation_detector_failures_total"
	MetricCasesOpened      = "manipulation_cases_opened_total"
	MetricRetryPending     = "manipulation_retry_pending"
	MetricBreakerState     = "manipulation_circuit_breaker_state"
)

// Band labels for the classifications counter.
const (
	bandNone    = "none"
	bandFlag    = "flag"
	bandDemote  = "demote"
	bandConfirm = "confirm"
)

// Metrics contains Prometheus metrics for the detector.
type Metrics struct {
	classifications *prometheus.CounterVec
	failures        prometheus.Counter
	casesOpened     prometheus.Counter
	retryPending    prometheus.Gauge
	breakerState    prometheus.Gauge
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricClassifications,
			Help: "Total number of content classifications by confidence band",
		}, []string{"band"}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricDetectorFailures,
			Help: "Total number of classifications that failed open",
		}),
		casesOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricCasesOpened,
			Help: "Total number of moderation cases opened",
		}),
		retryPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricRetryPending,
			Help: "Number of creators awaiting a classification retry",
		}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricBreakerState,
			Help: "Detector circuit breaker state (0=closed, 1=half-open, 2=open)",
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
		m.classifications,
		m.failures,
		m.casesOpened,
		m.retryPending,
		m.breakerState,
	}
}
