package nodepool

import (
	"strings"

	"github.com/electrumgw/electrumgw/electrum"
)

// Pool is an immutable snapshot of live connections keyed by node identity.
// Pools are replaced, never modified, so a reader holding a *Pool always sees
// a consistent set.
type Pool struct {
	// ids keeps insertion order: seed first, then discovery order.
	ids []string

	conns map[string]Conn
}

// NewPool builds a pool from conns. When two connections share an identity
// the first one wins.
func NewPool(conns ...Conn) *Pool {
	p := &Pool{
		ids:   make([]string, 0, len(conns)),
		conns: make(map[string]Conn, len(conns)),
	}
	for _, c := range conns {
		id := c.Addr().ID()
		if _, ok := p.conns[id]; ok {
			continue
		}

		p.ids = append(p.ids, id)
		p.conns[id] = c
	}

	return p
}

// Len returns the number of connections in the pool. A nil pool is empty.
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}

	return len(p.ids)
}

// Get returns the connection held for an identity.
func (p *Pool) Get(id string) (Conn, bool) {
	if p == nil {
		return nil, false
	}

	c, ok := p.conns[id]

	return c, ok
}

// Holds reports whether c is the very connection the pool keeps under its
// identity.
func (p *Pool) Holds(c Conn) bool {
	held, ok := p.Get(c.Addr().ID())

	return ok && held == c
}

// IDs returns the identities in pool order.
func (p *Pool) IDs() []string {
	if p == nil {
		return nil
	}

	ids := make([]string, len(p.ids))
	copy(ids, p.ids)

	return ids
}

// Conns returns the connections in pool order.
func (p *Pool) Conns() []Conn {
	if p == nil {
		return nil
	}

	conns := make([]Conn, 0, len(p.ids))
	for _, id := range p.ids {
		conns = append(conns, p.conns[id])
	}

	return conns
}

// Without returns a copy of the pool with id removed. The receiver is left
// untouched.
func (p *Pool) Without(id string) *Pool {
	var kept []Conn
	for _, c := range p.Conns() {
		if c.Addr().ID() == id {
			continue
		}
		kept = append(kept, c)
	}

	return NewPool(kept...)
}

// partitionReady splits the pool into a pool of Ready connections and the
// connections that are not.
func (p *Pool) partitionReady() (*Pool, []Conn) {
	var ready, dropped []Conn
	for _, c := range p.Conns() {
		if c.State() != electrum.StateReady {
			dropped = append(dropped, c)
			continue
		}
		ready = append(ready, c)
	}

	return NewPool(ready...), dropped
}

// String returns the pool members for logging.
func (p *Pool) String() string {
	return "[" + strings.Join(p.IDs(), ", ") + "]"
}
