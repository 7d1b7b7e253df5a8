package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. Each
// instance owns its registry so several servers can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	Requests         *prometheus.CounterVec
	Findings         *prometheus.CounterVec
	RestoreFailures  *prometheus.CounterVec
	Classifications  *prometheus.CounterVec
	CacheLookups     *prometheus.CounterVec
	RateLimited      prometheus.Counter
	BatchRecords     *prometheus.CounterVec
	MaskLatency      prometheus.Histogram
	RequestLatency   *prometheus.HistogramVec
	WebSocketClients prometheus.GaugeFunc
}

// New registers the instruments under namespace. clients reports the number
// of connected dashboard clients and may be nil.
func New(namespace string, clients func() int) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	if clients == nil {
		clients = func() int { return 0 }
	}

	return &Metrics{
		registry: reg,
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		Findings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pii_findings_total",
			Help:      "Masked PII entities by category.",
		}, []string{"category"}),
		RestoreFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restore_failures_total",
			Help:      "Rejected restore requests by reason.",
		}, []string{"reason"}),
		Classifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Classified emails by label.",
		}, []string{"label"}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "label_cache_lookups_total",
			Help:      "Label cache lookups by result.",
		}, []string{"result"}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_requests_total",
			Help:      "Requests rejected by the per-client rate limiter.",
		}),
		BatchRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_records_total",
			Help:      "Dataset records processed by the batch pipeline by outcome.",
		}, []string{"outcome"}),
		MaskLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mask_duration_seconds",
			Help:      "Time spent masking one text.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),
		RequestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		WebSocketClients: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected dashboard clients.",
		}, func() float64 { return float64(clients()) }),
	}
}

// ObserveMask records the latency of one mask operation
func (m *Metrics) ObserveMask(d time.Duration) {
	m.MaskLatency.Observe(d.Seconds())
}

// AddFindings counts masked entities per category
func (m *Metrics) AddFindings(counts map[string]int) {
	for category, n := range counts {
		m.Findings.WithLabelValues(category).Add(float64(n))
	}
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
