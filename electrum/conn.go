package electrum

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	goelectrum "github.com/checksum0/go-electrum/electrum"
)

const (
	// MethodVersion is the handshake request.
	MethodVersion = "server.version"

	// MethodPing is the liveness request used by probes.
	MethodPing = "server.ping"

	// MethodPeers is the peer list query used for discovery.
	MethodPeers = "server.peers.subscribe"

	// MethodGetBalance returns the balance of a scripthash.
	MethodGetBalance = "blockchain.scripthash.get_balance"

	// MethodListUnspent returns the unspent outputs of a scripthash.
	MethodListUnspent = "blockchain.scripthash.listunspent"

	// MethodBroadcast relays a raw transaction.
	MethodBroadcast = "blockchain.transaction.broadcast"

	// defaultDialTimeout bounds dial plus handshake when the config leaves
	// it unset.
	defaultDialTimeout = 10 * time.Second
)

// ConnState is the lifecycle state of a Conn.
type ConnState int32

const (
	// StateConnecting is the state while the socket and handshake are in
	// flight.
	StateConnecting ConnState = iota

	// StateReady means the session answered the handshake and accepts
	// requests.
	StateReady

	// StateFailed means the dial or handshake failed, or the server
	// dropped the session afterwards.
	StateFailed

	// StateClosed means Close has been called.
	StateClosed
)

// String returns a human readable name for the state.
func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnConfig holds the options used when dialing a server.
type ConnConfig struct {
	// DialTimeout bounds the socket dial and the version handshake.
	DialTimeout time.Duration

	// TLSSkipVerify disables certificate verification. Most public
	// Electrum servers use self-signed certificates.
	TLSSkipVerify bool

	// TLSConfig overrides the TLS config built from the fields above.
	TLSConfig *tls.Config
}

// Balance is the reply of blockchain.scripthash.get_balance, in satoshis.
type Balance struct {
	Confirmed   int64
	Unconfirmed int64
}

// Unspent is one entry of blockchain.scripthash.listunspent.
type Unspent struct {
	TxHash   string
	Position uint32
	Value    int64
	Height   int32
}

// rpcRequest is a single JSON-RPC request line.
type rpcRequest struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

// rpcResponse is a single JSON-RPC reply line. Notifications carry a method
// and no id.
type rpcResponse struct {
	ID     *uint64         `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// Conn is one persistent session to a single Electrum server. The socket and
// line framing come from the go-electrum transport, Conn matches replies to
// requests. Requests on different Conns never share a lock.
type Conn struct {
	addr NodeAddr

	transport goelectrum.Transport

	state atomic.Int32

	nextID atomic.Uint64

	// sendMtx serialises writes of whole request lines.
	sendMtx sync.Mutex

	mtx     sync.Mutex
	pending map[uint64]chan *rpcResponse
	lostErr error

	// done is closed once the read loop exited, either because the
	// server dropped the session or because Close was called.
	done chan struct{}

	closeOnce sync.Once
}

// Dial opens a session to the server at addr and performs the version
// handshake. The whole exchange is bounded by cfg.DialTimeout. Failures are
// returned as *ConnectError.
func Dial(ctx context.Context, addr NodeAddr, cfg *ConnConfig) (*Conn,
	error) {

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	transport, err := newTransport(ctx, addr, cfg)
	if err != nil {
		reason := "dial"
		if ctx.Err() != nil {
			reason = "timeout"
		}

		return nil, &ConnectError{Addr: addr, Reason: reason, Err: err}
	}

	conn := newConn(addr, transport)

	var version [2]string
	err = conn.request(ctx, MethodVersion, []any{
		goelectrum.ClientVersion, goelectrum.ProtocolVersion,
	}, &version)
	if err != nil {
		_ = conn.Close()

		return nil, &ConnectError{
			Addr: addr, Reason: "handshake", Err: err,
		}
	}

	// The session may have been dropped right after the handshake.
	if !conn.state.CompareAndSwap(
		int32(StateConnecting), int32(StateReady),
	) {

		_ = conn.Close()

		return nil, &ConnectError{
			Addr: addr, Reason: "handshake", Err: conn.lost(),
		}
	}

	log.Debugf("Connected to %v over %v (server=%s, protocol=%s)", addr,
		addr.Transport, version[0], version[1])

	return conn, nil
}

// newTransport opens the raw socket for the address transport.
func newTransport(ctx context.Context, addr NodeAddr,
	cfg *ConnConfig) (goelectrum.Transport, error) {

	if addr.Transport == TransportTCP {
		return goelectrum.NewTCPTransport(ctx, addr.String())
	}

	tlsConfig := cfg.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{
			ServerName:         addr.Host,
			InsecureSkipVerify: cfg.TLSSkipVerify, //nolint:gosec
			MinVersion:         tls.VersionTLS12,
		}
	}

	return goelectrum.NewSSLTransport(ctx, addr.String(), tlsConfig)
}

// newConn wraps an open transport and starts its read loop.
func newConn(addr NodeAddr, transport goelectrum.Transport) *Conn {
	conn := &Conn{
		addr:      addr,
		transport: transport,
		pending:   make(map[uint64]chan *rpcResponse),
		done:      make(chan struct{}),
	}
	conn.state.Store(int32(StateConnecting))

	go conn.readLoop()

	return conn
}

// readLoop hands replies to their waiting requests until the transport
// reports an error. The transport only stops once that error was received,
// so the loop must keep draining both channels until then.
func (c *Conn) readLoop() {
	defer close(c.done)

	for {
		select {
		case line := <-c.transport.Responses():
			c.handleResponse(line)

		case err := <-c.transport.Errors():
			c.mtx.Lock()
			c.lostErr = err
			c.mtx.Unlock()

			// A session that was closed on purpose stays closed.
			for _, from := range []ConnState{
				StateConnecting, StateReady,
			} {

				if c.state.CompareAndSwap(
					int32(from), int32(StateFailed),
				) {

					log.Debugf("Lost connection to %v: %v",
						c.addr, err)
				}
			}

			return
		}
	}
}

// handleResponse routes one reply line to the request waiting for it.
func (c *Conn) handleResponse(line []byte) {
	var resp rpcResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		log.Debugf("Ignoring malformed reply from %v: %v", c.addr, err)
		return
	}

	// Subscription notifications are not used.
	if resp.ID == nil {
		return
	}

	c.mtx.Lock()
	respChan, ok := c.pending[*resp.ID]
	delete(c.pending, *resp.ID)
	c.mtx.Unlock()

	if !ok {
		log.Tracef("Dropping reply %d from %v with no waiting request",
			*resp.ID, c.addr)
		return
	}

	respChan <- &resp
}

// lost returns the error that ended the session.
func (c *Conn) lost() error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.lostErr == nil || c.State() == StateClosed {
		return ErrConnClosed
	}

	return fmt.Errorf("%w: %v", ErrConnLost, c.lostErr)
}

// request sends method with params and decodes the result into result,
// which may be nil.
func (c *Conn) request(ctx context.Context, method string, params []any,
	result any) error {

	if params == nil {
		params = []any{}
	}

	id := c.nextID.Add(1)
	body, err := json.Marshal(rpcRequest{
		ID: id, Method: method, Params: params,
	})
	if err != nil {
		return err
	}

	// Register before sending so a fast reply can not be missed.
	respChan := make(chan *rpcResponse, 1)
	c.mtx.Lock()
	c.pending[id] = respChan
	c.mtx.Unlock()

	defer func() {
		c.mtx.Lock()
		delete(c.pending, id)
		c.mtx.Unlock()
	}()

	c.sendMtx.Lock()
	err = c.transport.SendMessage(append(body, '\n'))
	c.sendMtx.Unlock()
	if err != nil {
		return err
	}

	var resp *rpcResponse
	select {
	case resp = <-respChan:

	case <-c.done:
		return c.lost()

	case <-ctx.Done():
		return ctx.Err()
	}

	if serverErr := parseServerError(resp.Error); serverErr != nil {
		return serverErr
	}

	if result == nil {
		return nil
	}

	return json.Unmarshal(resp.Result, result)
}

// Addr returns the address this connection was dialed with.
func (c *Conn) Addr() NodeAddr {
	return c.addr
}

// State returns the current lifecycle state.
func (c *Conn) State() ConnState {
	return ConnState(c.state.Load())
}

// call issues a request on a ready session and wraps failures into a
// *CallError.
func (c *Conn) call(ctx context.Context, method string, params []any,
	result any) error {

	switch c.State() {
	case StateReady:

	case StateFailed:
		return &CallError{Addr: c.addr, Method: method, Err: c.lost()}

	default:
		return &CallError{
			Addr: c.addr, Method: method, Err: ErrConnClosed,
		}
	}

	if err := c.request(ctx, method, params, result); err != nil {
		return &CallError{Addr: c.addr, Method: method, Err: err}
	}

	return nil
}

// Ping sends server.ping. A failure is returned as *ProbeError and leaves
// the connection open.
func (c *Conn) Ping(ctx context.Context) error {
	err := c.call(ctx, MethodPing, nil, nil)
	if err != nil {
		var callErr *CallError
		if errors.As(err, &callErr) {
			err = callErr.Err
		}

		return &ProbeError{Addr: c.addr, Err: err}
	}

	return nil
}

// Peers asks the server for the peers it knows about and normalises the
// reply into node addresses using this connection's transport. Entries may
// be bare hosts, (port, host) pairs or (ip, host, features) triples, so the
// reply is kept as raw JSON until ParsePeers looks at each entry.
func (c *Conn) Peers(ctx context.Context) ([]NodeAddr, error) {
	var raw json.RawMessage
	if err := c.call(ctx, MethodPeers, nil, &raw); err != nil {
		return nil, err
	}

	peers, skipped := ParsePeers(raw, c.addr.Transport)
	if skipped > 0 {
		log.Debugf("Skipped %d unusable peer entries from %v", skipped,
			c.addr)
	}

	return peers, nil
}

// GetBalance returns the confirmed and unconfirmed balance of a scripthash.
func (c *Conn) GetBalance(ctx context.Context,
	scripthash string) (*Balance, error) {

	var res goelectrum.GetBalanceResult
	err := c.call(ctx, MethodGetBalance, []any{scripthash}, &res)
	if err != nil {
		return nil, err
	}

	return &Balance{
		Confirmed:   int64(res.Confirmed),
		Unconfirmed: int64(res.Unconfirmed),
	}, nil
}

// ListUnspent returns the unspent outputs paying to a scripthash.
func (c *Conn) ListUnspent(ctx context.Context,
	scripthash string) ([]Unspent, error) {

	var res []*goelectrum.ListUnspentResult
	err := c.call(ctx, MethodListUnspent, []any{scripthash}, &res)
	if err != nil {
		return nil, err
	}

	unspent := make([]Unspent, 0, len(res))
	for _, utxo := range res {
		if utxo == nil {
			continue
		}

		unspent = append(unspent, Unspent{
			TxHash:   utxo.Hash,
			Position: utxo.Position,
			Value:    int64(utxo.Value),
			Height:   int32(utxo.Height),
		})
	}

	return unspent, nil
}

// Broadcast relays a hex encoded raw transaction and returns the txid the
// server reports.
func (c *Conn) Broadcast(ctx context.Context, rawTx string) (string, error) {
	var txid string
	err := c.call(ctx, MethodBroadcast, []any{rawTx}, &txid)
	if err != nil {
		return "", err
	}

	return txid, nil
}

// Close releases the underlying session and waits for its read loop to
// exit. It is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))

		// Closing the socket makes the transport report an error,
		// which ends the read loop.
		_ = c.transport.Close()
		<-c.done

		log.Tracef("Closed connection to %v", c.addr)
	})

	return nil
}

// String returns a short description used in logs.
func (c *Conn) String() string {
	return fmt.Sprintf("%v(%v)", c.addr, c.State())
}
