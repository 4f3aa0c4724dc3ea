package gwcfg

// DefaultPrometheusListen is the address the metrics exporter listens on.
const DefaultPrometheusListen = "localhost:8989"

// Prometheus is the set of configuration data that specifies the listening
// address of the Prometheus exporter.
//
//nolint:ll
type Prometheus struct {
	// Enable indicates whether to export metrics.
	Enable bool `long:"enable" description:"Enable Prometheus exporting of node pool and request metrics."`

	// Listen is the listening address that we should use to allow the
	// main Prometheus server to scrape our metrics.
	Listen string `long:"listen" description:"The interface we should listen on for Prometheus scrapes."`
}

// DefaultPrometheus is the default configuration for the Prometheus metrics
// exporter.
func DefaultPrometheus() Prometheus {
	return Prometheus{
		Listen: DefaultPrometheusListen,
	}
}

// Enabled returns whether or not Prometheus monitoring is enabled.
func (p *Prometheus) Enabled() bool {
	return p.Enable
}
