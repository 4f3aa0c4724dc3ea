package nodepool

import (
	"context"
	"fmt"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/electrumgw/electrumgw/electrum"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultMaxConcurrentDials bounds the candidate dials of one build.
	DefaultMaxConcurrentDials = 16

	defaultBuildTimeout = 10 * time.Second
)

// BuilderConfig holds the dependencies of a Builder.
type BuilderConfig struct {
	// Dial opens a connection to a node.
	Dial DialFunc

	// ProbeTimeout bounds the ping used to decide whether a connection
	// from the previous pool can be reused.
	ProbeTimeout time.Duration

	// CallTimeout bounds the peer list query.
	CallTimeout time.Duration

	// MaxConcurrentDials bounds how many candidates are dialed at once.
	// Zero means DefaultMaxConcurrentDials.
	MaxConcurrentDials int

	// Metrics is optional.
	Metrics *Metrics
}

// Builder produces pools: it connects to the seed, discovers peers through
// it and connects to every candidate concurrently.
type Builder struct {
	cfg *BuilderConfig
}

// NewBuilder returns a new Builder.
func NewBuilder(cfg *BuilderConfig) *Builder {
	return &Builder{cfg: cfg}
}

// DiscoverPeers asks the seed for its peers. A failed query is logged and
// results in an empty list, so discovery degrades to seed only.
func (b *Builder) DiscoverPeers(ctx context.Context,
	seed Conn) []electrum.NodeAddr {

	ctx, cancel := context.WithTimeout(ctx, b.timeout(b.cfg.CallTimeout))
	defer cancel()

	peers, err := seed.Peers(ctx)
	if err != nil {
		log.Warnf("Peer discovery through %v failed, continuing with "+
			"seed only: %v", seed.Addr(), err)

		return nil
	}

	seen := make(map[string]struct{}, len(peers))
	unique := make([]electrum.NodeAddr, 0, len(peers))
	for _, peer := range peers {
		if _, ok := seen[peer.ID()]; ok {
			continue
		}
		seen[peer.ID()] = struct{}{}
		unique = append(unique, peer)
	}

	log.Debugf("Discovered %d peers through %v: %v", len(unique),
		seed.Addr(), newLogClosure(func() string {
			return spew.Sdump(unique)
		}))

	return unique
}

// BuildPool produces a new pool. Connections of prev that are still Ready and
// answer a ping are reused instead of dialed again. Only an unreachable seed
// fails the build; candidates that can not be reached are left out.
//
// The returned pool may share connections with prev. Closing the
// connections of prev that were not carried over is up to the caller.
func (b *Builder) BuildPool(ctx context.Context, seed electrum.NodeAddr,
	prev *Pool) (*Pool, error) {

	seedConn, err := b.reuseOrDial(ctx, seed, prev)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSeedUnreachable, err)
	}

	// Discovery completes before any candidate is dialed.
	peers := b.DiscoverPeers(ctx, seedConn)

	candidates := make([]electrum.NodeAddr, 0, len(peers))
	for _, peer := range peers {
		if peer.ID() == seed.ID() {
			continue
		}
		candidates = append(candidates, peer)
	}

	// Each candidate writes only its own slot, which keeps discovery
	// order in the resulting pool.
	results := make([]Conn, len(candidates))

	var eg errgroup.Group
	eg.SetLimit(b.maxDials())
	for i, addr := range candidates {
		eg.Go(func() error {
			conn, err := b.reuseOrDial(ctx, addr, prev)
			if err != nil {
				log.Debugf("Dropping candidate %v: %v", addr,
					err)

				return nil
			}
			results[i] = conn

			return nil
		})
	}

	// Candidate attempts never return an error.
	_ = eg.Wait()

	conns := make([]Conn, 0, len(candidates)+1)
	conns = append(conns, seedConn)
	for _, conn := range results {
		if conn != nil {
			conns = append(conns, conn)
		}
	}

	pool := NewPool(conns...)

	log.Infof("Built pool with %d of %d nodes reachable", pool.Len(),
		len(candidates)+1)

	return pool, nil
}

// reuseOrDial returns the connection prev holds for addr when it still
// answers, or dials a fresh one.
func (b *Builder) reuseOrDial(ctx context.Context, addr electrum.NodeAddr,
	prev *Pool) (Conn, error) {

	if old, ok := prev.Get(addr.ID()); ok &&
		old.State() == electrum.StateReady {

		pingCtx, cancel := context.WithTimeout(
			ctx, b.timeout(b.cfg.ProbeTimeout),
		)
		err := old.Ping(pingCtx)
		cancel()

		if err == nil {
			b.cfg.Metrics.dial("reused")
			return old, nil
		}

		log.Debugf("Not reusing connection to %v: %v", addr, err)
	}

	conn, err := b.cfg.Dial(ctx, addr)
	if err != nil {
		b.cfg.Metrics.dial("failed")
		return nil, err
	}
	b.cfg.Metrics.dial("ok")

	return conn, nil
}

func (b *Builder) maxDials() int {
	if b.cfg.MaxConcurrentDials > 0 {
		return b.cfg.MaxConcurrentDials
	}

	return DefaultMaxConcurrentDials
}

func (b *Builder) timeout(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}

	return defaultBuildTimeout
}
