package dispatch

import (
	"context"

	"github.com/electrumgw/electrumgw/electrum"
	"github.com/electrumgw/electrumgw/nodepool"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/mock"
)

// mockConn implements nodepool.Conn.
type mockConn struct {
	mock.Mock
}

var _ nodepool.Conn = (*mockConn)(nil)

func (m *mockConn) Addr() electrum.NodeAddr {
	args := m.Called()

	return args.Get(0).(electrum.NodeAddr)
}

func (m *mockConn) State() electrum.ConnState {
	args := m.Called()

	return args.Get(0).(electrum.ConnState)
}

func (m *mockConn) Ping(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *mockConn) Peers(ctx context.Context) ([]electrum.NodeAddr, error) {
	args := m.Called(ctx)

	return args.Get(0).([]electrum.NodeAddr), args.Error(1)
}

func (m *mockConn) GetBalance(ctx context.Context,
	scripthash string) (*electrum.Balance, error) {

	args := m.Called(ctx, scripthash)

	balance, _ := args.Get(0).(*electrum.Balance)

	return balance, args.Error(1)
}

func (m *mockConn) ListUnspent(ctx context.Context,
	scripthash string) ([]electrum.Unspent, error) {

	args := m.Called(ctx, scripthash)

	unspent, _ := args.Get(0).([]electrum.Unspent)

	return unspent, args.Error(1)
}

func (m *mockConn) Broadcast(ctx context.Context, rawTx string) (string,
	error) {

	args := m.Called(ctx, rawTx)

	return args.String(0), args.Error(1)
}

func (m *mockConn) Close() error {
	args := m.Called()

	return args.Error(0)
}

// mockSelector implements Selector.
type mockSelector struct {
	mock.Mock
}

func (m *mockSelector) Current() fn.Option[*nodepool.Selection] {
	args := m.Called()

	return args.Get(0).(fn.Option[*nodepool.Selection])
}

// mockCodec implements Codec.
type mockCodec struct {
	mock.Mock
}

func (m *mockCodec) Scripthash(address string) (string, error) {
	args := m.Called(address)

	return args.String(0), args.Error(1)
}
