package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts dispatched calls. A nil *Metrics records nothing.
type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the dispatcher collectors and registers them with reg
// when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "electrumgw",
			Subsystem: "dispatch",
			Name:      "calls_total",
			Help:      "Backend calls by operation and result.",
		}, []string{"op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "electrumgw",
			Subsystem: "dispatch",
			Name:      "call_duration_seconds",
			Help:      "Duration of backend calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}

	if reg != nil {
		reg.MustRegister(m.calls, m.duration)
	}

	return m
}

func (m *Metrics) observe(op, result string, d time.Duration) {
	if m == nil {
		return
	}

	m.calls.WithLabelValues(op, result).Inc()
	if result != resultRejected {
		m.duration.WithLabelValues(op).Observe(d.Seconds())
	}
}
