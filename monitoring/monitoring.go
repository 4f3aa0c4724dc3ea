package monitoring

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/electrumgw/electrumgw/gwcfg"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter serves the metrics of a registry for Prometheus scrapes.
type Exporter struct {
	cfg gwcfg.Prometheus
	reg *prometheus.Registry

	started sync.Once
	stopped sync.Once

	server   *http.Server
	listener net.Listener
	wg       sync.WaitGroup
}

// NewRegistry returns a registry that already carries the process and Go
// runtime collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	return reg
}

// NewExporter returns an exporter for reg.
func NewExporter(cfg gwcfg.Prometheus, reg *prometheus.Registry) *Exporter {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		ErrorLog: promLogger{},
	}))

	return &Exporter{
		cfg: cfg,
		reg: reg,
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// ExportPrometheusMetrics launches the Prometheus exporter on the configured
// address. It is a no-op when exporting is disabled.
func (e *Exporter) ExportPrometheusMetrics() error {
	if !e.cfg.Enabled() {
		return nil
	}

	var err error
	e.started.Do(func() {
		e.listener, err = net.Listen("tcp", e.cfg.Listen)
		if err != nil {
			return
		}

		log.Infof("Prometheus exporter started on %v/metrics",
			e.listener.Addr())

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()

			err := e.server.Serve(e.listener)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("Prometheus exporter stopped: %v", err)
			}
		}()
	})

	return err
}

// Addr returns the listening address, or nil when not exporting.
func (e *Exporter) Addr() net.Addr {
	if e.listener == nil {
		return nil
	}

	return e.listener.Addr()
}

// Stop shuts the exporter down.
func (e *Exporter) Stop() error {
	var err error
	e.stopped.Do(func() {
		if e.listener == nil {
			return
		}

		ctx, cancel := context.WithTimeout(
			context.Background(), 5*time.Second,
		)
		defer cancel()

		err = e.server.Shutdown(ctx)
		e.wg.Wait()
	})

	return err
}

// promLogger forwards promhttp errors to the subsystem logger.
type promLogger struct{}

func (promLogger) Println(v ...interface{}) {
	log.Errorf("Metrics handler: %v", strings.TrimSpace(fmt.Sprintln(v...)))
}
