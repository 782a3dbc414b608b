package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the orchestrator's stats surface (spec §7: "the orchestrator
// surfaces only counts"). It is constructed once per process against a
// caller-supplied registry so tests don't collide with promauto's default
// global registry.
type Metrics struct {
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	notModifiedTotal    *prometheus.CounterVec
	analysisTotal       *prometheus.CounterVec
	analysisDuration    *prometheus.HistogramVec
	invariantViolations *prometheus.CounterVec

	QueueDepth          *prometheus.GaugeVec
	DomainsInBackoff    prometheus.Gauge
	domainDelay         *prometheus.GaugeVec
	domainInBackoff     *prometheus.GaugeVec
}

// NewMetrics registers all series against reg. Pass prometheus.NewRegistry()
// in tests and prometheus.DefaultRegisterer in production.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_requests_total",
			Help: "Total number of HTTP fetch attempts, labeled by source and outcome cause.",
		}, []string{"source", "cause"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_request_duration_seconds",
			Help:    "Latency of HTTP fetch attempts.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
		notModifiedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_not_modified_total",
			Help: "Total number of 304 / content-unchanged skip outcomes.",
		}, []string{"source"}),
		analysisTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_analysis_results_total",
			Help: "Total number of analysis results recorded, labeled by method and status.",
		}, []string{"method", "status"}),
		analysisDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_analysis_duration_seconds",
			Help:    "Duration of one analysis task, labeled by method.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		invariantViolations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_invariant_violations_total",
			Help: "Total number of invariant violations observed, labeled by component.",
		}, []string{"component"}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crawler_queue_depth",
			Help: "Number of pending work items, labeled by queue name.",
		}, []string{"queue"}),
		DomainsInBackoff: factory.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_domains_in_backoff",
			Help: "Number of domains currently in backoff.",
		}),
		domainDelay: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crawler_domain_delay_seconds",
			Help: "Current inter-request delay per domain.",
		}, []string{"domain"}),
		domainInBackoff: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crawler_domain_in_backoff",
			Help: "1 if the domain is currently in backoff, else 0.",
		}, []string{"domain"}),
	}
}
