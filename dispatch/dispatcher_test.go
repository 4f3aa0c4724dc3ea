package dispatch

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/electrumgw/electrumgw/electrum"
	"github.com/electrumgw/electrumgw/nodepool"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testAddress    = "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"
	testScripthash = "8b01df4e368ea28f8dc0423bcf7a4923e3a12d307c875e47" +
		"a0cfbf90b5c39161"
)

var errCallFailed = errors.New("connection reset")

type harness struct {
	conn     *mockConn
	selector *mockSelector
	codec    *mockCodec
	disp     *Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		conn:     &mockConn{},
		selector: &mockSelector{},
		codec:    &mockCodec{},
	}
	h.disp = New(&Config{
		Selector:    h.selector,
		Codec:       h.codec,
		CallTimeout: time.Second,
	})

	t.Cleanup(func() {
		h.conn.AssertExpectations(t)
		h.selector.AssertExpectations(t)
		h.codec.AssertExpectations(t)
	})

	return h
}

func (h *harness) selectConn() {
	h.selector.On("Current").Return(fn.Some(&nodepool.Selection{
		ID:   "node",
		Conn: h.conn,
	})).Once()
}

func (h *harness) selectNone() {
	h.selector.On("Current").Return(
		fn.None[*nodepool.Selection](),
	).Once()
}

// testTx returns a minimal serialized transaction and its txid.
func testTx(t *testing.T) (string, string) {
	t.Helper()

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(
		wire.NewOutPoint(&chainhash.Hash{1}, 0), nil, nil,
	))
	tx.AddTxOut(wire.NewTxOut(1000, []byte{0x51}))

	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))

	return hex.EncodeToString(buf.Bytes()), tx.TxHash().String()
}

// TestBroadcast relays a valid transaction through exactly one call.
func TestBroadcast(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rawTx, txid := testTx(t)

	h.selectConn()
	h.conn.On("Broadcast", mock.Anything, rawTx).Return(txid, nil).Once()

	got, err := h.disp.Broadcast(context.Background(), " "+rawTx+"\n")
	require.NoError(t, err)
	require.Equal(t, txid, got)
}

// TestBroadcastInvalid rejects malformed payloads without touching the
// selection.
func TestBroadcastInvalid(t *testing.T) {
	t.Parallel()

	rawTx, _ := testTx(t)

	tests := []struct {
		name  string
		rawTx string
	}{
		{name: "empty", rawTx: ""},
		{name: "not hex", rawTx: "zz"},
		{name: "truncated", rawTx: rawTx[:20]},
		{name: "trailing data", rawTx: rawTx + "00"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)

			_, err := h.disp.Broadcast(context.Background(), tc.rawTx)

			var txErr *InvalidTxError
			require.ErrorAs(t, err, &txErr)
			require.NotErrorIs(t, err, ErrBackendUnavailable)
		})
	}
}

// TestNoSelection maps a missing selection to ErrBackendUnavailable.
func TestNoSelection(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rawTx, _ := testTx(t)

	h.selectNone()
	_, err := h.disp.Broadcast(context.Background(), rawTx)
	require.ErrorIs(t, err, ErrBackendUnavailable)

	h.codec.On("Scripthash", testAddress).Return(testScripthash, nil).Once()
	h.selectNone()
	_, err = h.disp.GetBalance(context.Background(), testAddress)
	require.ErrorIs(t, err, ErrBackendUnavailable)
}

// TestCallFailureIsNotRetried checks a failing call surfaces once as
// unavailable with the cause attached.
func TestCallFailureIsNotRetried(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	callErr := &electrum.CallError{
		Method: electrum.MethodGetBalance, Err: errCallFailed,
	}

	h.codec.On("Scripthash", testAddress).Return(testScripthash, nil).Once()
	h.selectConn()
	h.conn.On("GetBalance", mock.Anything, testScripthash).Return(
		nil, callErr,
	).Once()

	_, err := h.disp.GetBalance(context.Background(), testAddress)
	require.ErrorIs(t, err, ErrBackendUnavailable)
	require.ErrorIs(t, err, errCallFailed)

	var target *electrum.CallError
	require.ErrorAs(t, err, &target)

	h.conn.AssertNumberOfCalls(t, "GetBalance", 1)
}

// TestGetBalance maps the backend balance.
func TestGetBalance(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	h.codec.On("Scripthash", testAddress).Return(testScripthash, nil).Once()
	h.selectConn()
	h.conn.On("GetBalance", mock.Anything, testScripthash).Return(
		&electrum.Balance{Confirmed: 5000, Unconfirmed: -200}, nil,
	).Once()

	balance, err := h.disp.GetBalance(context.Background(), testAddress)
	require.NoError(t, err)
	require.Equal(t, &Balance{Confirmed: 5000, Unconfirmed: -200}, balance)
	require.EqualValues(t, 4800, balance.Total())
}

// TestListUnspent maps backend outputs to utxos.
func TestListUnspent(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	h.codec.On("Scripthash", testAddress).Return(testScripthash, nil).Once()
	h.selectConn()
	h.conn.On("ListUnspent", mock.Anything, testScripthash).Return(
		[]electrum.Unspent{
			{TxHash: "aa", Position: 1, Value: 10, Height: 100},
			{TxHash: "bb", Position: 0, Value: 20, Height: 0},
		}, nil,
	).Once()

	utxos, err := h.disp.ListUnspent(context.Background(), testAddress)
	require.NoError(t, err)
	require.Equal(t, []Utxo{
		{TxID: "aa", OutputIndex: 1, Value: 10, Height: 100},
		{TxID: "bb", OutputIndex: 0, Value: 20, Height: 0},
	}, utxos)

	// No outputs is an empty list, not nil.
	h.codec.On("Scripthash", testAddress).Return(testScripthash, nil).Once()
	h.selectConn()
	h.conn.On("ListUnspent", mock.Anything, testScripthash).Return(
		nil, nil,
	).Once()

	utxos, err = h.disp.ListUnspent(context.Background(), testAddress)
	require.NoError(t, err)
	require.NotNil(t, utxos)
	require.Empty(t, utxos)
}

// TestCodecErrorPassesThrough returns address errors untouched and makes no
// call.
func TestCodecErrorPassesThrough(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.disp.cfg.Codec = electrum.NewCodec(&chaincfg.MainNetParams)

	_, err := h.disp.GetBalance(context.Background(), "not-an-address")

	var codecErr *electrum.CodecError
	require.ErrorAs(t, err, &codecErr)
	require.NotErrorIs(t, err, ErrBackendUnavailable)

	_, err = h.disp.ListUnspent(context.Background(), "")
	require.ErrorAs(t, err, &codecErr)
}

// TestCallTimeout checks the call context carries the configured deadline.
func TestCallTimeout(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rawTx, txid := testTx(t)

	h.selectConn()
	h.conn.On("Broadcast", mock.Anything, rawTx).Run(func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)

		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		require.WithinDuration(t, time.Now().Add(time.Second), deadline,
			500*time.Millisecond)
	}).Return(txid, nil).Once()

	_, err := h.disp.Broadcast(context.Background(), rawTx)
	require.NoError(t, err)
}
