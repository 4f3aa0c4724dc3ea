package nodepool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/electrumgw/electrumgw/electrum"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/ticker"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultHealthInterval is the time between two health cycles.
	DefaultHealthInterval = 5 * time.Minute

	// DefaultProbeCount is the number of probes sent to each node per
	// cycle.
	DefaultProbeCount = 3

	// DefaultProbePenalty is the latency a failed probe counts as.
	DefaultProbePenalty = time.Second

	// DefaultProbeTimeout bounds a single probe.
	DefaultProbeTimeout = 5 * time.Second
)

// HealthSample is the result of probing one node during a cycle.
type HealthSample struct {
	// ID is the node identity.
	ID string

	// Addr is the dialed address.
	Addr electrum.NodeAddr

	// Latencies holds one entry per probe. A failed probe is recorded at
	// the penalty.
	Latencies []time.Duration

	// Failures counts the failed probes.
	Failures int

	// Average is the mean of Latencies.
	Average time.Duration

	conn Conn
}

// Selection is the node currently used for live traffic. A published
// Selection is never modified.
type Selection struct {
	// ID is the node identity.
	ID string

	// Conn is the connection requests are sent on.
	Conn Conn

	// Average is the average probe latency that won the ranking.
	Average time.Duration

	// SelectedAt is when the selection was published.
	SelectedAt time.Time
}

// MonitorConfig holds the dependencies and tunables of a HealthMonitor.
type MonitorConfig struct {
	// Pool returns the latest pool snapshot.
	Pool func() *Pool

	// Interval drives the periodic cycles.
	Interval ticker.Ticker

	// ProbeCount is the number of probes per node and cycle.
	ProbeCount int

	// ProbePenalty is the latency a failed probe counts as.
	ProbePenalty time.Duration

	// ProbeTimeout bounds a single probe.
	ProbeTimeout time.Duration

	// MaxConcurrentProbes bounds how many nodes are probed at once. Zero
	// probes every node concurrently.
	MaxConcurrentProbes int

	// EvictAfterFailedCycles evicts a node whose probes all failed for
	// that many consecutive cycles. Zero disables eviction.
	EvictAfterFailedCycles int

	// Evict removes a node from the pool. Required when eviction is
	// enabled.
	Evict func(id string) bool

	// Clock measures probe latency.
	Clock clock.Clock

	// Metrics is optional.
	Metrics *Metrics
}

// HealthMonitor periodically probes every pooled connection, ranks them by
// average latency and publishes the winner as the current selection.
type HealthMonitor struct {
	started sync.Once
	stopped sync.Once

	cfg *MonitorConfig

	current atomic.Pointer[Selection]
	samples atomic.Pointer[[]HealthSample]

	// failedCycles counts consecutive fully failed cycles per node. It is
	// only touched between cycles, never across I/O.
	failedMtx    sync.Mutex
	failedCycles map[string]int

	trigger chan struct{}

	gm *fn.GoroutineManager
}

// NewHealthMonitor returns a monitor with no selection.
func NewHealthMonitor(cfg *MonitorConfig) *HealthMonitor {
	if cfg.ProbeCount <= 0 {
		cfg.ProbeCount = DefaultProbeCount
	}
	if cfg.ProbePenalty <= 0 {
		cfg.ProbePenalty = DefaultProbePenalty
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}

	return &HealthMonitor{
		cfg:          cfg,
		failedCycles: make(map[string]int),
		trigger:      make(chan struct{}, 1),
		gm:           fn.NewGoroutineManager(),
	}
}

// Start runs one cycle right away and then one per interval tick.
func (h *HealthMonitor) Start() error {
	h.started.Do(func() {
		hlthLog.Infof("Health monitor starting: %d probes per node, "+
			"penalty %v", h.cfg.ProbeCount, h.cfg.ProbePenalty)

		h.gm.Go(context.Background(), h.monitorLoop)
	})

	return nil
}

// Stop stops the monitor and waits for a running cycle to end.
func (h *HealthMonitor) Stop() error {
	h.stopped.Do(func() {
		hlthLog.Infof("Health monitor shutting down...")

		h.gm.Stop()
		h.cfg.Interval.Stop()
	})

	return nil
}

// Current returns the published selection, if any. The result is a
// consistent snapshot.
func (h *HealthMonitor) Current() fn.Option[*Selection] {
	sel := h.current.Load()
	if sel == nil {
		return fn.None[*Selection]()
	}

	return fn.Some(sel)
}

// LastSamples returns the samples of the last completed cycle.
func (h *HealthMonitor) LastSamples() []HealthSample {
	samples := h.samples.Load()
	if samples == nil {
		return nil
	}

	return *samples
}

// Trigger requests a cycle outside the interval. Requests made while one is
// pending are coalesced.
func (h *HealthMonitor) Trigger() {
	select {
	case h.trigger <- struct{}{}:
	default:
	}
}

// PoolSwapped is registered as a pool swap hook. When the selected node is
// no longer held by the new pool a cycle is triggered immediately.
func (h *HealthMonitor) PoolSwapped(p *Pool) {
	sel := h.current.Load()
	if sel != nil && p.Holds(sel.Conn) {
		return
	}

	hlthLog.Debugf("Pool changed under the current selection, " +
		"re-ranking")

	h.Trigger()
}

func (h *HealthMonitor) monitorLoop(ctx context.Context) {
	h.runCycleLogged(ctx)

	h.cfg.Interval.Resume()

	for {
		select {
		case <-h.cfg.Interval.Ticks():
			h.runCycleLogged(ctx)

		case <-h.trigger:
			h.runCycleLogged(ctx)

		case <-ctx.Done():
			return
		}
	}
}

func (h *HealthMonitor) runCycleLogged(ctx context.Context) {
	if err := h.RunCycle(ctx); err != nil && ctx.Err() == nil {
		hlthLog.Warnf("Health cycle did not publish: %v", err)
	}
}

// RunCycle probes every node of the current pool, ranks them and publishes
// the winner. An empty pool keeps the previous selection.
func (h *HealthMonitor) RunCycle(ctx context.Context) error {
	pool := h.cfg.Pool()
	if pool.Len() == 0 {
		hlthLog.Debugf("Pool is empty, keeping current selection")
		return nil
	}

	samples, err := h.probeAll(ctx, pool)
	if err != nil {
		return err
	}

	h.samples.Store(&samples)
	h.applyEvictionPolicy(samples)

	best, ok := Rank(samples)
	if !ok {
		return nil
	}

	return h.publish(best)
}

// probeAll probes the nodes concurrently. Probes of one node are
// sequential. The samples are returned in pool order.
func (h *HealthMonitor) probeAll(ctx context.Context,
	pool *Pool) ([]HealthSample, error) {

	conns := pool.Conns()
	samples := make([]HealthSample, len(conns))

	var eg errgroup.Group
	if h.cfg.MaxConcurrentProbes > 0 {
		eg.SetLimit(h.cfg.MaxConcurrentProbes)
	}
	for i, conn := range conns {
		eg.Go(func() error {
			samples[i] = h.probeNode(ctx, conn)
			return nil
		})
	}
	_ = eg.Wait()

	// A cancelled cycle would rank every node at the penalty.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	for i := range samples {
		h.cfg.Metrics.probed(&samples[i])

		hlthLog.Debugf("Node %v: average %v over %v (%d failed)",
			samples[i].ID, samples[i].Average,
			samples[i].Latencies, samples[i].Failures)
	}

	return samples, nil
}

// probeNode sends exactly ProbeCount probes to one node.
func (h *HealthMonitor) probeNode(ctx context.Context, conn Conn) HealthSample {
	sample := HealthSample{
		ID:        conn.Addr().ID(),
		Addr:      conn.Addr(),
		Latencies: make([]time.Duration, 0, h.cfg.ProbeCount),
		conn:      conn,
	}

	var total time.Duration
	for i := 0; i < h.cfg.ProbeCount; i++ {
		probeCtx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)

		start := h.cfg.Clock.Now()
		err := conn.Ping(probeCtx)
		latency := h.cfg.Clock.Now().Sub(start)

		cancel()

		if err != nil {
			hlthLog.Tracef("Probe %d of %v failed: %v", i+1,
				sample.ID, err)

			sample.Failures++
			latency = h.cfg.ProbePenalty
		}

		sample.Latencies = append(sample.Latencies, latency)
		total += latency
	}

	sample.Average = total / time.Duration(h.cfg.ProbeCount)

	return sample
}

// Rank returns the sample with the lowest average. On a tie the sample that
// comes first wins. It returns false for an empty input.
func Rank(samples []HealthSample) (HealthSample, bool) {
	if len(samples) == 0 {
		return HealthSample{}, false
	}

	best := samples[0]
	for _, sample := range samples[1:] {
		if sample.Average < best.Average {
			best = sample
		}
	}

	return best, true
}

// publish makes the winner the current selection if it is still the live
// connection for its identity.
func (h *HealthMonitor) publish(best HealthSample) error {
	latest := h.cfg.Pool()

	if best.conn == nil || !latest.Holds(best.conn) ||
		best.conn.State() != electrum.StateReady {

		h.cfg.Metrics.staleSelection()

		return fmt.Errorf("%w: %v", ErrStaleSelection, best.ID)
	}

	prev := h.current.Load()
	if prev != nil && prev.Conn == best.conn {
		// Same node, refresh the reported average only.
		h.current.Store(&Selection{
			ID:         best.ID,
			Conn:       best.conn,
			Average:    best.Average,
			SelectedAt: prev.SelectedAt,
		})

		return nil
	}

	h.current.Store(&Selection{
		ID:         best.ID,
		Conn:       best.conn,
		Average:    best.Average,
		SelectedAt: h.cfg.Clock.Now(),
	})
	h.cfg.Metrics.selectionChanged()

	prevID := "none"
	if prev != nil {
		prevID = prev.ID
	}
	hlthLog.Infof("Selected %v (average %v), previously %v", best.ID,
		best.Average, prevID)

	return nil
}

// applyEvictionPolicy tracks nodes whose probes all failed and evicts the
// ones that reached the configured number of consecutive failed cycles.
func (h *HealthMonitor) applyEvictionPolicy(samples []HealthSample) {
	limit := h.cfg.EvictAfterFailedCycles
	if limit <= 0 || h.cfg.Evict == nil {
		return
	}

	var evict []string

	h.failedMtx.Lock()
	seen := make(map[string]struct{}, len(samples))
	for _, sample := range samples {
		seen[sample.ID] = struct{}{}

		if sample.Failures < len(sample.Latencies) {
			delete(h.failedCycles, sample.ID)
			continue
		}

		h.failedCycles[sample.ID]++
		if h.failedCycles[sample.ID] >= limit {
			evict = append(evict, sample.ID)
			delete(h.failedCycles, sample.ID)
		}
	}

	// Forget nodes that left the pool.
	for id := range h.failedCycles {
		if _, ok := seen[id]; !ok {
			delete(h.failedCycles, id)
		}
	}
	h.failedMtx.Unlock()

	for _, id := range evict {
		hlthLog.Warnf("Evicting %v after %d failed cycles", id, limit)

		if h.cfg.Evict(id) {
			h.cfg.Metrics.evicted()
			h.cfg.Metrics.forget(id)
		}
	}
}
