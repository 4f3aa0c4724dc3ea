package nodepool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/electrumgw/electrumgw/electrum"
	"github.com/lightningnetwork/lnd/clock"
)

var (
	errPingFailed = errors.New("ping timed out")
	errRefused    = errors.New("connection refused")

	testTime = time.Unix(1700000000, 0)
)

// pingResult scripts the outcome of one probe.
type pingResult struct {
	latency time.Duration
	err     error
}

// fakeConn is an in-memory Conn. Each scripted ping advances the shared test
// clock by its latency, so probes must run one at a time for the measured
// latency to be exact.
type fakeConn struct {
	addr  electrum.NodeAddr
	clock *clock.TestClock

	mu       sync.Mutex
	pings    []pingResult
	pingErr  error
	peers    []electrum.NodeAddr
	peersErr error

	state     atomic.Int32
	pingCalls atomic.Int32
	closes    atomic.Int32

	// staleState keeps State reporting the old value after Close, the
	// window before a concurrent close becomes visible.
	staleState atomic.Bool
}

func newFakeConn(addr electrum.NodeAddr, c *clock.TestClock) *fakeConn {
	conn := &fakeConn{addr: addr, clock: c}
	conn.state.Store(int32(electrum.StateReady))

	return conn
}

// scriptPings queues probe results. Once the queue is drained every ping
// succeeds instantly, unless failPings was called.
func (f *fakeConn) scriptPings(results ...pingResult) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pings = append(f.pings, results...)
}

// failPings makes every unscripted ping fail.
func (f *fakeConn) failPings(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pingErr = err
}

func (f *fakeConn) setState(s electrum.ConnState) {
	f.state.Store(int32(s))
}

func (f *fakeConn) Addr() electrum.NodeAddr {
	return f.addr
}

func (f *fakeConn) State() electrum.ConnState {
	return electrum.ConnState(f.state.Load())
}

func (f *fakeConn) Ping(ctx context.Context) error {
	f.pingCalls.Add(1)

	if f.State() != electrum.StateReady {
		return &electrum.ProbeError{Addr: f.addr, Err: electrum.ErrConnClosed}
	}

	f.mu.Lock()
	res := pingResult{err: f.pingErr}
	if len(f.pings) > 0 {
		res = f.pings[0]
		f.pings = f.pings[1:]
	}
	f.mu.Unlock()

	if res.latency > 0 {
		f.clock.SetTime(f.clock.Now().Add(res.latency))
	}

	if res.err != nil {
		return &electrum.ProbeError{Addr: f.addr, Err: res.err}
	}

	return nil
}

func (f *fakeConn) Peers(ctx context.Context) ([]electrum.NodeAddr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.peersErr != nil {
		return nil, &electrum.CallError{
			Addr: f.addr, Method: electrum.MethodPeers,
			Err: f.peersErr,
		}
	}

	peers := make([]electrum.NodeAddr, len(f.peers))
	copy(peers, f.peers)

	return peers, nil
}

func (f *fakeConn) GetBalance(context.Context, string) (*electrum.Balance,
	error) {

	return &electrum.Balance{}, nil
}

func (f *fakeConn) ListUnspent(context.Context, string) ([]electrum.Unspent,
	error) {

	return nil, nil
}

func (f *fakeConn) Broadcast(context.Context, string) (string, error) {
	return "", nil
}

func (f *fakeConn) Close() error {
	f.closes.Add(1)
	if !f.staleState.Load() {
		f.setState(electrum.StateClosed)
	}

	return nil
}

func (f *fakeConn) closed() bool {
	return f.closes.Load() > 0
}

// fakeNode describes how a host behaves when dialed.
type fakeNode struct {
	reachable bool
	peers     []electrum.NodeAddr
	peersErr  error
}

// fakeNetwork hands out fakeConns for the hosts it knows about.
type fakeNetwork struct {
	clock *clock.TestClock

	mu    sync.Mutex
	nodes map[string]*fakeNode
	dials map[string]int
	conns map[string][]*fakeConn

	// onDial runs after every dial attempt, outside the lock.
	onDial func(host string)
}

func newFakeNetwork(c *clock.TestClock) *fakeNetwork {
	return &fakeNetwork{
		clock: c,
		nodes: make(map[string]*fakeNode),
		dials: make(map[string]int),
		conns: make(map[string][]*fakeConn),
	}
}

// addNode registers a host. Peers are given as hosts.
func (n *fakeNetwork) addNode(host string, reachable bool, peers ...string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	node := &fakeNode{reachable: reachable}
	for _, peer := range peers {
		node.peers = append(node.peers, testAddr(peer))
	}
	n.nodes[host] = node
}

func (n *fakeNetwork) setReachable(host string, reachable bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nodes[host].reachable = reachable
}

// setPeers changes the peers reported by host, including on connections
// that are already open.
func (n *fakeNetwork) setPeers(host string, peers ...string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	var addrs []electrum.NodeAddr
	for _, peer := range peers {
		addrs = append(addrs, testAddr(peer))
	}

	n.nodes[host].peers = addrs
	for _, conn := range n.conns[host] {
		conn.mu.Lock()
		conn.peers = addrs
		conn.mu.Unlock()
	}
}

// setPeersErr makes the peer query of host fail, including on connections
// that are already open.
func (n *fakeNetwork) setPeersErr(host string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nodes[host].peersErr = err
	for _, conn := range n.conns[host] {
		conn.mu.Lock()
		conn.peersErr = err
		conn.mu.Unlock()
	}
}

func (n *fakeNetwork) dial(_ context.Context,
	addr electrum.NodeAddr) (Conn, error) {

	conn, err := n.connect(addr)

	n.mu.Lock()
	onDial := n.onDial
	n.mu.Unlock()

	if onDial != nil {
		onDial(addr.Host)
	}

	if err != nil {
		return nil, err
	}

	return conn, nil
}

func (n *fakeNetwork) connect(addr electrum.NodeAddr) (*fakeConn, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.dials[addr.Host]++

	node, ok := n.nodes[addr.Host]
	if !ok || !node.reachable {
		return nil, &electrum.ConnectError{
			Addr: addr, Reason: "dial", Err: errRefused,
		}
	}

	conn := newFakeConn(addr, n.clock)
	conn.peers = node.peers
	conn.peersErr = node.peersErr
	n.conns[addr.Host] = append(n.conns[addr.Host], conn)

	return conn, nil
}

// setOnDial installs a callback run after every dial.
func (n *fakeNetwork) setOnDial(fn func(host string)) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.onDial = fn
}

func (n *fakeNetwork) dialCount(host string) int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.dials[host]
}

// lastConn returns the most recent connection dialed to host.
func (n *fakeNetwork) lastConn(host string) *fakeConn {
	n.mu.Lock()
	defer n.mu.Unlock()

	conns := n.conns[host]
	if len(conns) == 0 {
		return nil
	}

	return conns[len(conns)-1]
}

func testAddr(host string) electrum.NodeAddr {
	return electrum.NodeAddr{
		Host:      host,
		Port:      electrum.DefaultSSLPort,
		Transport: electrum.TransportSSL,
	}
}

// newTestBuilder returns a builder dialing through the fake network.
func newTestBuilder(n *fakeNetwork) *Builder {
	return NewBuilder(&BuilderConfig{
		Dial:               n.dial,
		ProbeTimeout:       time.Second,
		CallTimeout:        time.Second,
		MaxConcurrentDials: 4,
	})
}
