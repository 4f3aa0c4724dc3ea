package gwcfg

import (
	"fmt"
	"time"

	"github.com/electrumgw/electrumgw/nodepool"
)

// Pool holds the tunables of the node pool and the health monitor.
//
//nolint:ll
type Pool struct {
	RebuildInterval time.Duration `long:"rebuildinterval" description:"Interval between full pool rebuilds from a fresh discovery pass."`

	HealthInterval time.Duration `long:"healthinterval" description:"Interval between health cycles. Must be shorter than rebuildinterval."`

	ProbeCount int `long:"probecount" description:"Number of liveness probes sent to each node per health cycle."`

	ProbePenalty time.Duration `long:"probepenalty" description:"Latency a failed probe counts as when ranking nodes."`

	ProbeTimeout time.Duration `long:"probetimeout" description:"Timeout for a single liveness probe."`

	MaxConcurrentDials int `long:"maxconcurrentdials" description:"Maximum number of candidate connections dialed at once during a rebuild."`

	EvictAfterFailedCycles int `long:"evictafterfailedcycles" description:"Evict a node whose probes all failed for this many consecutive health cycles. 0 disables eviction."`

	InitialBackoff time.Duration `long:"initialbackoff" description:"Delay before retrying a failed initial pool build."`

	MaxBackoff time.Duration `long:"maxbackoff" description:"Upper bound of the initial build retry delay."`
}

// DefaultPoolConfig returns a new Pool config with default values populated.
func DefaultPoolConfig() *Pool {
	return &Pool{
		RebuildInterval:    nodepool.DefaultRebuildInterval,
		HealthInterval:     nodepool.DefaultHealthInterval,
		ProbeCount:         nodepool.DefaultProbeCount,
		ProbePenalty:       nodepool.DefaultProbePenalty,
		ProbeTimeout:       nodepool.DefaultProbeTimeout,
		MaxConcurrentDials: nodepool.DefaultMaxConcurrentDials,
		InitialBackoff:     nodepool.DefaultInitialBackoff,
		MaxBackoff:         nodepool.DefaultMaxBackoff,
	}
}

// Validate checks the options for consistency.
func (p *Pool) Validate() error {
	positive := []struct {
		name  string
		value time.Duration
	}{
		{"pool.rebuildinterval", p.RebuildInterval},
		{"pool.healthinterval", p.HealthInterval},
		{"pool.probepenalty", p.ProbePenalty},
		{"pool.probetimeout", p.ProbeTimeout},
		{"pool.initialbackoff", p.InitialBackoff},
		{"pool.maxbackoff", p.MaxBackoff},
	}
	for _, opt := range positive {
		if opt.value <= 0 {
			return fmt.Errorf("%v must be positive, got %v",
				opt.name, opt.value)
		}
	}

	if p.HealthInterval >= p.RebuildInterval {
		return fmt.Errorf("pool.healthinterval (%v) must be shorter "+
			"than pool.rebuildinterval (%v)", p.HealthInterval,
			p.RebuildInterval)
	}

	if p.ProbeCount < 1 {
		return fmt.Errorf("pool.probecount must be at least 1, got %d",
			p.ProbeCount)
	}

	if p.MaxConcurrentDials < 1 {
		return fmt.Errorf("pool.maxconcurrentdials must be at least "+
			"1, got %d", p.MaxConcurrentDials)
	}

	if p.EvictAfterFailedCycles < 0 {
		return fmt.Errorf("pool.evictafterfailedcycles must not be "+
			"negative, got %d", p.EvictAfterFailedCycles)
	}

	if p.MaxBackoff < p.InitialBackoff {
		return fmt.Errorf("pool.maxbackoff (%v) must not be below "+
			"pool.initialbackoff (%v)", p.MaxBackoff,
			p.InitialBackoff)
	}

	return nil
}
