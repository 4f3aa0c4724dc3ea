package nodepool

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "electrumgw"

// Metrics holds the prometheus collectors of the pool manager and the health
// monitor. A nil *Metrics is valid and records nothing.
type Metrics struct {
	poolSize         prometheus.Gauge
	rebuilds         *prometheus.CounterVec
	dials            *prometheus.CounterVec
	probeAverage     *prometheus.GaugeVec
	probeFailures    *prometheus.CounterVec
	selectionChanges prometheus.Counter
	staleSelections  prometheus.Counter
	evictions        prometheus.Counter
}

// NewMetrics creates the pool collectors and registers them with reg. A nil
// registerer leaves the collectors unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		poolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "pool",
			Name:      "size",
			Help:      "Number of live connections in the pool.",
		}),
		rebuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pool",
			Name:      "rebuilds_total",
			Help:      "Pool rebuild attempts by result.",
		}, []string{"result"}),
		dials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pool",
			Name:      "dials_total",
			Help:      "Connection attempts by result.",
		}, []string{"result"}),
		probeAverage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "health",
			Name:      "probe_average_seconds",
			Help:      "Average probe latency of the last cycle, " +
				"failures counted at the penalty.",
		}, []string{"node"}),
		probeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "health",
			Name:      "probe_failures_total",
			Help:      "Failed liveness probes per node.",
		}, []string{"node"}),
		selectionChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "health",
			Name:      "selection_changes_total",
			Help:      "Number of times a different node was selected.",
		}),
		staleSelections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "health",
			Name:      "stale_selections_total",
			Help:      "Ranking winners dropped because they left " +
				"the pool.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "health",
			Name:      "evictions_total",
			Help:      "Nodes evicted after repeated failed cycles.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.poolSize, m.rebuilds, m.dials, m.probeAverage,
			m.probeFailures, m.selectionChanges, m.staleSelections,
			m.evictions,
		)
	}

	return m
}

func (m *Metrics) setPoolSize(n int) {
	if m == nil {
		return
	}
	m.poolSize.Set(float64(n))
}

func (m *Metrics) rebuild(result string) {
	if m == nil {
		return
	}
	m.rebuilds.WithLabelValues(result).Inc()
}

func (m *Metrics) dial(result string) {
	if m == nil {
		return
	}
	m.dials.WithLabelValues(result).Inc()
}

func (m *Metrics) probed(sample *HealthSample) {
	if m == nil {
		return
	}

	m.probeAverage.WithLabelValues(sample.ID).Set(sample.Average.Seconds())
	if sample.Failures > 0 {
		m.probeFailures.WithLabelValues(sample.ID).Add(
			float64(sample.Failures),
		)
	}
}

func (m *Metrics) forget(id string) {
	if m == nil {
		return
	}
	m.probeAverage.DeleteLabelValues(id)
}

func (m *Metrics) selectionChanged() {
	if m == nil {
		return
	}
	m.selectionChanges.Inc()
}

func (m *Metrics) staleSelection() {
	if m == nil {
		return
	}
	m.staleSelections.Inc()
}

func (m *Metrics) evicted() {
	if m == nil {
		return
	}
	m.evictions.Inc()
}

// secondsSince is a small helper for duration logging.
func secondsSince(start, now time.Time) float64 {
	return now.Sub(start).Seconds()
}
