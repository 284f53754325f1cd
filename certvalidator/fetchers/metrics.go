package fetchers

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Kinds of fetched material.
const (
	KindCertificate = "certificate"
	KindCRL         = "crl"
	KindOCSP        = "ocsp"
)

// Result labels.
const (
	ResultSuccess     = "ok_success"
	ResultCached      = "ok_cached"
	ErrTransmit       = "err_transmit"
	ErrParse          = "err_parse"
	ErrCircuitOpenLbl = "err_circuit_open"
)

// Metrics holds the fetcher counters.
type Metrics struct {
	requests *prometheus.CounterVec
	retries  *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewMetrics creates the fetcher metrics and registers them with reg. A nil
// registerer leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sigvalidate",
			Subsystem: "fetcher",
			Name:      "requests_total",
			Help:      "Number of evidence fetches by kind and result.",
		}, []string{"kind", "result"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sigvalidate",
			Subsystem: "fetcher",
			Name:      "retries_total",
			Help:      "Number of retried evidence fetches by kind.",
		}, []string{"kind"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sigvalidate",
			Subsystem: "fetcher",
			Name:      "request_duration_seconds",
			Help:      "Duration of evidence fetches including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.retries, m.latency)
	}
	return m
}

func (m *Metrics) request(kind, result string) {
	if m != nil {
		m.requests.WithLabelValues(kind, result).Inc()
	}
}

func (m *Metrics) retry(kind string) {
	if m != nil {
		m.retries.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) observe(kind string, seconds float64) {
	if m != nil {
		m.latency.WithLabelValues(kind).Observe(seconds)
	}
}
