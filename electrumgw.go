package electrumgw

import (
	"fmt"
	"time"

	"github.com/electrumgw/electrumgw/build"
	"github.com/electrumgw/electrumgw/chainparams"
	"github.com/electrumgw/electrumgw/dispatch"
	"github.com/electrumgw/electrumgw/electrum"
	"github.com/electrumgw/electrumgw/monitoring"
	"github.com/electrumgw/electrumgw/nodepool"
	"github.com/electrumgw/electrumgw/restapi"
	"github.com/electrumgw/electrumgw/signal"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
)

// Main is the true entry point for the gateway. It assembles the node pool,
// the health monitor, the dispatcher and the servers, and blocks until the
// interceptor signals shutdown.
func Main(cfg *Config, interceptor signal.Interceptor) error {
	defer func() {
		gwLog.Info("Shutdown complete")

		if err := cfg.LogRotator.Close(); err != nil {
			gwLog.Errorf("Could not close log rotator: %v", err)
		}
	}()

	// Show version at startup.
	gwLog.Infof("Version: %s commit=%s, debuglevel=%s", build.Version(),
		build.Commit, cfg.DebugLevel)

	coin, err := chainparams.Ticker(cfg.Chain)
	if err != nil {
		return err
	}
	gwLog.Infof("Active chain: %v (network=%v)", coin, cfg.Network)

	seed, err := cfg.Electrum.SeedAddr()
	if err != nil {
		return mkErr("invalid seed: %w", err)
	}
	connCfg, err := cfg.Electrum.ConnConfig()
	if err != nil {
		return mkErr("unable to load electrum tls config: %w", err)
	}

	registry := monitoring.NewRegistry()
	poolMetrics := nodepool.NewMetrics(registry)
	clk := clock.NewDefaultClock()

	builder := nodepool.NewBuilder(&nodepool.BuilderConfig{
		Dial:               nodepool.ElectrumDialer(connCfg),
		ProbeTimeout:       cfg.Pool.ProbeTimeout,
		CallTimeout:        cfg.Electrum.RequestTimeout,
		MaxConcurrentDials: cfg.Pool.MaxConcurrentDials,
		Metrics:            poolMetrics,
	})

	manager := nodepool.NewManager(&nodepool.ManagerConfig{
		Seed:           seed,
		Builder:        builder,
		RebuildTicker:  newTicker(cfg.Pool.RebuildInterval),
		InitialBackoff: cfg.Pool.InitialBackoff,
		MaxBackoff:     cfg.Pool.MaxBackoff,
		Clock:          clk,
		Metrics:        poolMetrics,
	})

	monitor := nodepool.NewHealthMonitor(&nodepool.MonitorConfig{
		Pool:                   manager.Pool,
		Interval:               newTicker(cfg.Pool.HealthInterval),
		ProbeCount:             cfg.Pool.ProbeCount,
		ProbePenalty:           cfg.Pool.ProbePenalty,
		ProbeTimeout:           cfg.Pool.ProbeTimeout,
		EvictAfterFailedCycles: cfg.Pool.EvictAfterFailedCycles,
		Evict:                  manager.Evict,
		Clock:                  clk,
		Metrics:                poolMetrics,
	})
	manager.OnSwap(monitor.PoolSwapped)

	dispatcher := dispatch.New(&dispatch.Config{
		Selector:    monitor,
		Codec:       electrum.NewCodec(cfg.ActiveNetParams),
		CallTimeout: cfg.Electrum.RequestTimeout,
		Clock:       clk,
		Metrics:     dispatch.NewMetrics(registry),
	})

	restServer := restapi.New(&restapi.Config{
		Listen:  cfg.REST.Listen,
		Coin:    coin,
		Network: cfg.Network,
		Backend: dispatcher,
		Status: func() *nodepool.Status {
			return nodepool.NewStatus(
				manager.Pool(), monitor.Current(),
				monitor.LastSamples(),
			)
		},
		RateLimit:    cfg.REST.RateLimit,
		RateBurst:    cfg.REST.RateBurst,
		MaxBodyBytes: cfg.REST.MaxBodyBytes,
		Metrics:      restapi.NewMetrics(registry),
	})

	exportPrometheusStats(registry, monitor, cfg.Chain, cfg.Network)
	exporter := monitoring.NewExporter(cfg.Prometheus, registry)
	if err := exporter.ExportPrometheusMetrics(); err != nil {
		return mkErr("unable to start prometheus exporter: %w", err)
	}
	defer func() {
		if err := exporter.Stop(); err != nil {
			gwLog.Errorf("Unable to stop prometheus exporter: %v",
				err)
		}
	}()

	// The pool is built in the background. Requests are answered with
	// 503 until the first pool is published and ranked.
	if err := manager.Start(); err != nil {
		return mkErr("unable to start node pool: %w", err)
	}
	defer func() {
		if err := manager.Stop(); err != nil {
			gwLog.Errorf("Unable to stop node pool: %v", err)
		}
	}()

	if err := restServer.Start(); err != nil {
		return mkErr("unable to start REST server: %w", err)
	}
	defer func() {
		if err := restServer.Stop(); err != nil {
			gwLog.Errorf("Unable to stop REST server: %v", err)
		}
	}()

	// Until the first pool is published the monitor keeps no selection.
	// The first swap triggers a cycle right away.
	if err := monitor.Start(); err != nil {
		return mkErr("unable to start health monitor: %w", err)
	}
	defer func() {
		if err := monitor.Stop(); err != nil {
			gwLog.Errorf("Unable to stop health monitor: %v", err)
		}
	}()

	// Wait for shutdown signal from either a graceful server stop or from
	// the interrupt handler.
	<-interceptor.ShutdownChannel()

	return nil
}

// newTicker returns the production ticker for a periodic loop.
func newTicker(interval time.Duration) ticker.Ticker {
	return ticker.New(interval)
}

// mkErr creates an error from the format and args, and logs it.
func mkErr(format string, args ...interface{}) error {
	err := fmt.Errorf(format, args...)
	gwLog.Errorf("%v", err)

	return err
}
