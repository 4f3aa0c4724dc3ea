package electrum

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// serverRequest is the subset of a JSON-RPC request the fake server reads.
type serverRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params []any           `json:"params"`
}

// fakeServer answers newline delimited JSON-RPC requests with canned
// results keyed by method. Methods without a result are never answered.
type fakeServer struct {
	t        *testing.T
	listener net.Listener

	mu      sync.Mutex
	results map[string]any
	errs    map[string]any
	calls   map[string]int
	conns   []net.Conn
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &fakeServer{
		t:        t,
		listener: l,
		results: map[string]any{
			MethodVersion: []string{"ElectrumX 1.16.0", "1.4"},
			MethodPing:    nil,
		},
		errs:  make(map[string]any),
		calls: make(map[string]int),
	}
	go s.serve()

	t.Cleanup(func() {
		_ = l.Close()
	})

	return s
}

func (s *fakeServer) setResult(method string, result any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results[method] = result
}

// setError makes the server answer method with an error member.
func (s *fakeServer) setError(method string, errMember any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.errs[method] = errMember
}

// dropSessions closes every accepted socket from the server side.
func (s *fakeServer) dropSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, conn := range s.conns {
		_ = conn.Close()
	}
	s.conns = nil
}

func (s *fakeServer) drop(method string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.results, method)
}

func (s *fakeServer) callCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls[method]
}

func (s *fakeServer) addr() NodeAddr {
	host, portStr, err := net.SplitHostPort(s.listener.Addr().String())
	require.NoError(s.t, err)

	port, err := strconv.Atoi(portStr)
	require.NoError(s.t, err)

	return NodeAddr{
		Host:      host,
		Port:      uint16(port),
		Transport: TransportTCP,
	}
}

func (s *fakeServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		go s.handle(conn)
	}
}

func (s *fakeServer) handle(conn net.Conn) {
	defer conn.Close()

	var writeMu sync.Mutex
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var req serverRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			return
		}

		s.mu.Lock()
		s.calls[req.Method]++
		result, ok := s.results[req.Method]
		errMember, failed := s.errs[req.Method]
		s.mu.Unlock()

		reply := map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
		}
		switch {
		case failed:
			reply["error"] = errMember

		case ok:
			reply["result"] = result

		default:
			continue
		}

		resp, err := json.Marshal(reply)
		if err != nil {
			return
		}

		writeMu.Lock()
		_, err = conn.Write(append(resp, '\n'))
		writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

func dialFake(t *testing.T, s *fakeServer) *Conn {
	t.Helper()

	conn, err := Dial(context.Background(), s.addr(), &ConnConfig{
		DialTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
	})

	return conn
}

// TestConnCalls runs every request type against a fake server.
func TestConnCalls(t *testing.T) {
	t.Parallel()

	s := newFakeServer(t)
	s.setResult(MethodPeers, []any{
		[]any{"10.0.0.1", "peer-a.example.com", []any{"v1.4", "s50002"}},
		[]any{"10.0.0.2", "peer-b.example.com", []any{"v1.4", "t50001"}},
	})
	s.setResult(MethodGetBalance, map[string]any{
		"confirmed": 150000, "unconfirmed": -2500,
	})
	s.setResult(MethodListUnspent, []map[string]any{{
		"tx_hash": "ab00000000000000000000000000000000000000" +
			"0000000000000000000000cd",
		"tx_pos": 1,
		"value":  42000,
		"height": 812345,
	}})
	s.setResult(MethodBroadcast, "f00d")

	conn := dialFake(t, s)
	require.Equal(t, StateReady, conn.State())
	require.Equal(t, s.addr(), conn.Addr())

	ctx := context.Background()
	require.NoError(t, conn.Ping(ctx))

	peers, err := conn.Peers(ctx)
	require.NoError(t, err)
	require.Len(t, peers, 1)
	require.Equal(t, NodeAddr{
		Host: "peer-b.example.com", Port: 50001,
		Transport: TransportTCP,
	}, peers[0])

	balance, err := conn.GetBalance(ctx, "deadbeef")
	require.NoError(t, err)
	require.Equal(t, &Balance{Confirmed: 150000, Unconfirmed: -2500},
		balance)

	utxos, err := conn.ListUnspent(ctx, "deadbeef")
	require.NoError(t, err)
	require.Len(t, utxos, 1)
	require.Equal(t, uint32(1), utxos[0].Position)
	require.Equal(t, int64(42000), utxos[0].Value)
	require.Equal(t, int32(812345), utxos[0].Height)

	txid, err := conn.Broadcast(ctx, "0100")
	require.NoError(t, err)
	require.Equal(t, "f00d", txid)
}

// TestConnPingFailureKeepsConn checks a probe that times out is reported as
// a ProbeError and leaves the session usable.
func TestConnPingFailureKeepsConn(t *testing.T) {
	t.Parallel()

	s := newFakeServer(t)
	conn := dialFake(t, s)

	s.drop(MethodPing)

	ctx, cancel := context.WithTimeout(
		context.Background(), 100*time.Millisecond,
	)
	defer cancel()

	err := conn.Ping(ctx)
	var probeErr *ProbeError
	require.ErrorAs(t, err, &probeErr)
	require.Equal(t, s.addr(), probeErr.Addr)
	require.Equal(t, StateReady, conn.State())

	s.setResult(MethodPing, nil)
	require.NoError(t, conn.Ping(context.Background()))
}

// TestConnClose checks Close is idempotent and fails later requests without
// touching the network.
func TestConnClose(t *testing.T) {
	t.Parallel()

	s := newFakeServer(t)
	conn := dialFake(t, s)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	require.Equal(t, StateClosed, conn.State())

	ctx := context.Background()

	err := conn.Ping(ctx)
	require.ErrorIs(t, err, ErrConnClosed)

	_, err = conn.GetBalance(ctx, "deadbeef")
	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	require.Equal(t, MethodGetBalance, callErr.Method)
	require.ErrorIs(t, err, ErrConnClosed)
	require.Zero(t, s.callCount(MethodGetBalance))
}

// TestDialFailures covers refused sockets and servers that never complete
// the handshake.
func TestDialFailures(t *testing.T) {
	t.Parallel()

	// Grab a free port and release it so nothing listens there.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	refused := l.Addr().(*net.TCPAddr)
	require.NoError(t, l.Close())

	_, err = Dial(context.Background(), NodeAddr{
		Host:      "127.0.0.1",
		Port:      uint16(refused.Port),
		Transport: TransportTCP,
	}, &ConnConfig{DialTimeout: time.Second})

	var connectErr *ConnectError
	require.ErrorAs(t, err, &connectErr)

	s := newFakeServer(t)
	s.drop(MethodVersion)

	_, err = Dial(context.Background(), s.addr(), &ConnConfig{
		DialTimeout: 200 * time.Millisecond,
	})
	require.ErrorAs(t, err, &connectErr)
	require.Equal(t, "handshake", connectErr.Reason)
}

// TestConnPeersMixedShapes runs a peer list mixing a bare host and a
// (port, host) pair through a live session.
func TestConnPeersMixedShapes(t *testing.T) {
	t.Parallel()

	s := newFakeServer(t)
	s.setResult(MethodPeers, []any{
		"a.example.com",
		[]any{50012, "b.example.com"},
	})

	conn := dialFake(t, s)

	peers, err := conn.Peers(context.Background())
	require.NoError(t, err)
	require.Equal(t, []NodeAddr{
		{Host: "a.example.com", Port: 50001, Transport: TransportTCP},
		{Host: "b.example.com", Port: 50012, Transport: TransportTCP},
	}, peers)
}

// TestConnServerError checks error replies become a CallError wrapping a
// ServerError, in both the object and the string form.
func TestConnServerError(t *testing.T) {
	t.Parallel()

	s := newFakeServer(t)
	s.setError(MethodBroadcast, map[string]any{
		"code":    1,
		"message": "the transaction was rejected by network rules",
	})
	s.setError(MethodGetBalance, "unknown scripthash")

	conn := dialFake(t, s)
	ctx := context.Background()

	_, err := conn.Broadcast(ctx, "0100")
	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	require.Equal(t, MethodBroadcast, callErr.Method)

	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	require.Equal(t, 1, serverErr.Code)
	require.Contains(t, serverErr.Message, "rejected")

	_, err = conn.GetBalance(ctx, "deadbeef")
	require.ErrorAs(t, err, &serverErr)
	require.Equal(t, "unknown scripthash", serverErr.Message)

	// The session survives error replies.
	require.Equal(t, StateReady, conn.State())
	require.NoError(t, conn.Ping(ctx))
}

// TestConnDroppedByServer checks a session closed by the server is marked
// failed, fails later requests without waiting for a timeout and releases
// its reader.
func TestConnDroppedByServer(t *testing.T) {
	t.Parallel()

	s := newFakeServer(t)
	conn := dialFake(t, s)
	require.NoError(t, conn.Ping(context.Background()))

	s.dropSessions()

	select {
	case <-conn.done:
	case <-time.After(5 * time.Second):
		t.Fatal("read loop did not notice the dropped session")
	}
	require.Equal(t, StateFailed, conn.State())

	err := conn.Ping(context.Background())
	require.ErrorIs(t, err, ErrConnLost)

	_, err = conn.GetBalance(context.Background(), "deadbeef")
	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	require.ErrorIs(t, err, ErrConnLost)

	require.NoError(t, conn.Close())
	require.Equal(t, StateClosed, conn.State())
}

// TestConnCloseStopsReader checks Close only returns once the read loop is
// gone.
func TestConnCloseStopsReader(t *testing.T) {
	t.Parallel()

	s := newFakeServer(t)
	conn := dialFake(t, s)

	require.NoError(t, conn.Close())

	select {
	case <-conn.done:
	default:
		t.Fatal("read loop still running after Close")
	}
}
