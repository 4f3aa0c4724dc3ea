package restapi

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the request collectors. A nil *Metrics records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewMetrics creates the REST collectors and registers them with reg when
// it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "electrumgw",
			Subsystem: "rest",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "electrumgw",
			Subsystem: "rest",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	if reg != nil {
		reg.MustRegister(m.requests, m.latency)
	}

	return m
}

func (m *Metrics) request(route string, status int, d time.Duration) {
	if m == nil {
		return
	}

	m.requests.WithLabelValues(route, statusLabel(status)).Inc()
	if d > 0 {
		m.latency.WithLabelValues(route).Observe(d.Seconds())
	}
}
