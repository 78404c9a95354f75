package feed

import "github.com/prometheus/client_golang/prometheus"

// Metric names.
const (
	MetricRequests          = "feed_requests_total"
	MetricLatency           = "feed_request_duration_seconds"
	MetricStaleServed       = "feed_stale_served_total"
	MetricFairnessShortfall = "feed_fairness_shortfall_total"
	MetricGuaranteedSlots   = "feed_guaranteed_slots_filled_total"
)

// Request outcomes.
const (
	outcomeOK          = "ok"
	outcomeInvalid     = "invalid"
	outcomeUnavailable = "unavailable"
)

// Metrics contains Prometheus metrics for the feed.
type Metrics struct {
	requests          *prometheus.CounterVec
	latency           prometheus.Histogram
	staleServed       prometheus.Counter
	fairnessShortfall prometheus.Counter
	guaranteedSlots   prometheus.Counter
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRequests,
			Help: "Total number of feed requests by outcome",
		}, []string{"outcome"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricLatency,
			Help:    "Feed ranking latency in seconds",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}),
		staleServed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricStaleServed,
			Help: "Total number of feed pages served from cache under load",
		}),
		fairnessShortfall: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricFairnessShortfall,
			Help: "Total number of first pages where too few under-served creators met the relevance floor",
		}),
		guaranteedSlots: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricGuaranteedSlots,
			Help: "Total number of guaranteed slots filled with under-served creators",
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
	return []prometheus.Collector{m.requests, m.latency, m.staleServed, m.fairnessShortfall, m.guaranteedSlots}
}
