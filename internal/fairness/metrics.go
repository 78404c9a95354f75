package fairness

import "github.com/prometheus/client_golang/prometheus"

// Metric names.
const (
	MetricAudits           = "fairness_audits_total"
	MetricTopDecileShare   = "fairness_top_decile_share"
	MetricNewCreatorShare  = "fairness_new_creator_share"
	MetricSpendCorrelation = "fairness_spend_correlation"
	MetricCorrectiveAction = "fairness_corrective_actions_total"
	MetricArchiveFailures  = "fairness_archive_failures_total"
)

// Metrics contains Prometheus metrics for the fairness auditor.
type Metrics struct {
	audits           *prometheus.CounterVec
	topDecileShare   prometheus.Gauge
	newCreatorShare  prometheus.Gauge
	spendCorrelation prometheus.Gauge
	actions          *prometheus.CounterVec
	archiveFailures  prometheus.Counter
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		audits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricAudits,
			Help: "Total number of fairness audits by verdict",
		}, []string{"verdict"}),
		topDecileShare: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricTopDecileShare,
			Help: "Share of rolling impressions held by the top decile of creators",
		}),
		newCreatorShare: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricNewCreatorShare,
			Help: "Share of rolling impressions going to new creators",
		}),
		spendCorrelation: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricSpendCorrelation,
			Help: "Pearson correlation between creator spend and impressions",
		}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricCorrectiveAction,
			Help: "Total number of corrective parameter changes by kind",
		}, []string{"kind"}),
		archiveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricArchiveFailures,
			Help: "Total number of reports that failed to archive",
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
		m.audits, m.topDecileShare, m.newCreatorShare, m.spendCorrelation, m.actions, m.archiveFailures,
	}
}
