package nodepool

import (
	"context"

	"github.com/electrumgw/electrumgw/electrum"
)

// Conn is the view of a protocol connection the pool works with.
// *electrum.Conn is the production implementation.
type Conn interface {
	// Addr returns the address the connection was dialed with.
	Addr() electrum.NodeAddr

	// State returns the connection lifecycle state.
	State() electrum.ConnState

	// Ping performs one liveness probe.
	Ping(ctx context.Context) error

	// Peers returns the peers the server knows about.
	Peers(ctx context.Context) ([]electrum.NodeAddr, error)

	// GetBalance returns the balance of a scripthash.
	GetBalance(ctx context.Context, scripthash string) (*electrum.Balance,
		error)

	// ListUnspent returns the unspent outputs of a scripthash.
	ListUnspent(ctx context.Context, scripthash string) ([]electrum.Unspent,
		error)

	// Broadcast relays a hex encoded transaction and returns its txid.
	Broadcast(ctx context.Context, rawTx string) (string, error)

	// Close releases the connection. It must be idempotent.
	Close() error
}

// A compile time check to ensure electrum.Conn satisfies Conn.
var _ Conn = (*electrum.Conn)(nil)

// DialFunc opens a connection to a node.
type DialFunc func(ctx context.Context, addr electrum.NodeAddr) (Conn, error)

// ElectrumDialer returns a DialFunc that opens real electrum sessions with
// the given options.
func ElectrumDialer(cfg *electrum.ConnConfig) DialFunc {
	return func(ctx context.Context, addr electrum.NodeAddr) (Conn, error) {
		conn, err := electrum.Dial(ctx, addr, cfg)
		if err != nil {
			return nil, err
		}

		return conn, nil
	}
}
