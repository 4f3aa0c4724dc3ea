package electrumgw

import (
	"time"

	"github.com/electrumgw/electrumgw/build"
	"github.com/electrumgw/electrumgw/nodepool"
	"github.com/prometheus/client_golang/prometheus"
)

// selectionCollector exports which node currently serves live traffic.
type selectionCollector struct {
	monitor *nodepool.HealthMonitor

	selected *prometheus.Desc
	average  *prometheus.Desc
}

func newSelectionCollector(
	monitor *nodepool.HealthMonitor) *selectionCollector {

	return &selectionCollector{
		monitor: monitor,
		selected: prometheus.NewDesc(
			"electrumgw_selected_node",
			"Set to 1 for the node currently serving requests.",
			[]string{"node"}, nil,
		),
		average: prometheus.NewDesc(
			"electrumgw_selected_node_average_seconds",
			"Average probe latency of the selected node.",
			nil, nil,
		),
	}
}

// Describe sends the descriptors of the collector to ch.
func (c *selectionCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.selected
	ch <- c.average
}

// Collect reads the current selection once and reports it.
func (c *selectionCollector) Collect(ch chan<- prometheus.Metric) {
	c.monitor.Current().WhenSome(func(sel *nodepool.Selection) {
		ch <- prometheus.MustNewConstMetric(
			c.selected, prometheus.GaugeValue, 1, sel.ID,
		)
		ch <- prometheus.MustNewConstMetric(
			c.average, prometheus.GaugeValue, sel.Average.Seconds(),
		)
	})
}

// exportPrometheusStats registers the static gateway metrics with reg.
func exportPrometheusStats(reg prometheus.Registerer,
	monitor *nodepool.HealthMonitor, chain, network string) {

	gwLog.Infof("Adding static Prometheus stats")

	// Export some static data.
	versionGauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "electrumgw_version",
			Help: "Version of the gateway running.",
		},
		[]string{"version", "commit", "chain", "network"},
	)
	versionGauge.WithLabelValues(
		build.Version(), build.Commit, chain, network,
	).Set(1)

	startTime := time.Now()
	uptime := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "electrumgw_uptime",
			Help: "Uptime of the gateway in seconds.",
		},
		func() float64 {
			return time.Since(startTime).Seconds()
		},
	)

	reg.MustRegister(
		versionGauge, uptime, newSelectionCollector(monitor),
	)
}
