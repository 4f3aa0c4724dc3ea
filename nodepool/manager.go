package nodepool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/electrumgw/electrumgw/electrum"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/ticker"
)

const (
	// DefaultRebuildInterval is how often the pool is rebuilt from a fresh
	// discovery pass.
	DefaultRebuildInterval = time.Hour

	// DefaultInitialBackoff is the first delay between failed initial
	// builds.
	DefaultInitialBackoff = 5 * time.Second

	// DefaultMaxBackoff caps the delay between failed initial builds.
	DefaultMaxBackoff = 5 * time.Minute
)

// ManagerConfig holds the dependencies of a Manager.
type ManagerConfig struct {
	// Seed is the node every build starts from.
	Seed electrum.NodeAddr

	// Builder produces the pools.
	Builder *Builder

	// RebuildTicker drives the periodic rebuild.
	RebuildTicker ticker.Ticker

	// InitialBackoff and MaxBackoff bound the retry delay of the initial
	// build while the seed is unreachable.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Clock is used for backoff timers.
	Clock clock.Clock

	// Metrics is optional.
	Metrics *Metrics
}

// Manager owns the published pool. Readers load it without locking and the
// rebuild loop replaces it with a single atomic swap.
type Manager struct {
	started sync.Once
	stopped sync.Once

	cfg *ManagerConfig

	pool atomic.Pointer[Pool]

	// hooks run after every pool swap. They are registered before Start.
	hooks []func(*Pool)

	ready     chan struct{}
	readyOnce sync.Once

	gm *fn.GoroutineManager
}

// NewManager creates a manager holding an empty pool.
func NewManager(cfg *ManagerConfig) *Manager {
	m := &Manager{
		cfg:   cfg,
		ready: make(chan struct{}),
		gm:    fn.NewGoroutineManager(),
	}
	m.pool.Store(NewPool())

	return m
}

// Pool returns the current pool snapshot. It is never nil.
func (m *Manager) Pool() *Pool {
	return m.pool.Load()
}

// OnSwap registers a hook that is called with the new pool after every
// successful swap. It must be called before Start.
func (m *Manager) OnSwap(hook func(*Pool)) {
	m.hooks = append(m.hooks, hook)
}

// Ready returns a channel that is closed once the first pool is published.
func (m *Manager) Ready() <-chan struct{} {
	return m.ready
}

// Start launches the initial build, retried with backoff until the seed is
// reachable, followed by the periodic rebuild loop. It does not block.
func (m *Manager) Start() error {
	m.started.Do(func() {
		log.Infof("Pool manager starting with seed %v", m.cfg.Seed)

		m.gm.Go(context.Background(), func(ctx context.Context) {
			if !m.initialBuild(ctx) {
				return
			}

			m.rebuildLoop(ctx)
		})
	})

	return nil
}

// Stop stops the loops and closes every pooled connection.
func (m *Manager) Stop() error {
	m.stopped.Do(func() {
		log.Infof("Pool manager shutting down...")

		m.gm.Stop()
		m.cfg.RebuildTicker.Stop()

		old := m.pool.Swap(NewPool())
		for _, conn := range old.Conns() {
			_ = conn.Close()
		}
		m.cfg.Metrics.setPoolSize(0)
	})

	return nil
}

// initialBuild retries the first build until it succeeds or ctx ends. It
// returns false when ctx ended first.
func (m *Manager) initialBuild(ctx context.Context) bool {
	backoff := m.cfg.InitialBackoff
	if backoff <= 0 {
		backoff = DefaultInitialBackoff
	}
	maxBackoff := m.cfg.MaxBackoff
	if maxBackoff < backoff {
		maxBackoff = backoff
	}

	for {
		err := m.Rebuild(ctx)
		if err == nil {
			return true
		}

		if ctx.Err() != nil {
			return false
		}

		log.Errorf("Initial pool build failed, retrying in %v: %v",
			backoff, err)

		select {
		case <-m.cfg.Clock.TickAfter(backoff):
		case <-ctx.Done():
			return false
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// rebuildLoop rebuilds the pool on every tick. A failed rebuild keeps the
// current pool and never stops the loop.
func (m *Manager) rebuildLoop(ctx context.Context) {
	m.cfg.RebuildTicker.Resume()

	for {
		select {
		case <-m.cfg.RebuildTicker.Ticks():
			err := m.Rebuild(ctx)
			if err != nil && ctx.Err() == nil {
				log.Errorf("Pool rebuild failed, keeping %d "+
					"existing nodes: %v", m.Pool().Len(), err)
			}

		case <-ctx.Done():
			return
		}
	}
}

// Rebuild builds a fresh pool and publishes it. On success every connection
// of the old pool that is not carried over under the same identity is
// closed. On error, or when the build produced no live connection, the
// current pool is kept.
func (m *Manager) Rebuild(ctx context.Context) error {
	start := m.cfg.Clock.Now()

	prev := m.Pool()
	next, err := m.cfg.Builder.BuildPool(ctx, m.cfg.Seed, prev)
	if err != nil {
		m.cfg.Metrics.rebuild("failed")
		return err
	}

	for {
		// A connection may have been closed by an eviction while the
		// build was running.
		var dropped []Conn
		next, dropped = next.partitionReady()
		closeConns(dropped)

		if ctx.Err() != nil || next.Len() == 0 {
			// Discard the build, keeping anything the live pool
			// still uses.
			closeUnheld(next.Conns(), m.Pool())
			m.cfg.Metrics.rebuild("discarded")

			if ctx.Err() != nil {
				return ctx.Err()
			}

			return ErrEmptyPool
		}

		if m.pool.CompareAndSwap(prev, next) {
			break
		}

		// The live pool changed since the build started. Connections
		// that left it were evicted and must not come back through
		// the reused set.
		cur := m.pool.Load()
		for _, conn := range prev.Conns() {
			if !cur.Holds(conn) && next.Holds(conn) {
				next = next.Without(conn.Addr().ID())
			}
		}
		prev = cur
	}

	closeUnheld(prev.Conns(), next)

	m.cfg.Metrics.rebuild("ok")
	m.cfg.Metrics.setPoolSize(next.Len())

	log.Infof("Published pool of %d nodes in %.2fs: %v", next.Len(),
		secondsSince(start, m.cfg.Clock.Now()), next)

	m.readyOnce.Do(func() {
		close(m.ready)
	})
	m.runHooks(next)

	return nil
}

// Evict removes one identity from the pool and closes its connection. The
// last connection of a pool is never evicted, the next rebuild replaces it
// instead.
func (m *Manager) Evict(id string) bool {
	for {
		old := m.pool.Load()

		conn, ok := old.Get(id)
		if !ok {
			return false
		}
		if old.Len() == 1 {
			log.Warnf("Not evicting %v, it is the only node left", id)
			return false
		}

		next := old.Without(id)
		if !m.pool.CompareAndSwap(old, next) {
			continue
		}

		_ = conn.Close()
		m.cfg.Metrics.setPoolSize(next.Len())

		log.Infof("Evicted %v from pool, %d nodes left", id, next.Len())

		m.runHooks(next)

		return true
	}
}

func (m *Manager) runHooks(p *Pool) {
	for _, hook := range m.hooks {
		hook(p)
	}
}

// closeUnheld closes every connection in conns that pool does not hold
// under its identity.
func closeUnheld(conns []Conn, pool *Pool) {
	for _, conn := range conns {
		if pool.Holds(conn) {
			continue
		}

		if err := conn.Close(); err != nil {
			log.Debugf("Error closing %v: %v", conn.Addr(), err)
		}
	}
}

func closeConns(conns []Conn) {
	for _, conn := range conns {
		_ = conn.Close()
	}
}
