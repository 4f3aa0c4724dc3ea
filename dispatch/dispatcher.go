package dispatch

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
	"github.com/electrumgw/electrumgw/electrum"
	"github.com/electrumgw/electrumgw/nodepool"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// DefaultCallTimeout bounds a single backend call.
	DefaultCallTimeout = 30 * time.Second

	opBroadcast   = "broadcast"
	opGetBalance  = "get_balance"
	opListUnspent = "list_unspent"

	resultOK          = "ok"
	resultUnavailable = "unavailable"
	resultRejected    = "rejected"
)

// Selector gives access to the node currently chosen for live traffic.
type Selector interface {
	// Current returns the published selection, if any.
	Current() fn.Option[*nodepool.Selection]
}

// Codec maps addresses to the lookup key the backend indexes them by.
type Codec interface {
	// Scripthash returns the hex encoded lookup key of address.
	Scripthash(address string) (string, error)
}

// A compile time check to ensure the electrum codec can be used here.
var _ Codec = (*electrum.Codec)(nil)

// Config holds the collaborators of a Dispatcher.
type Config struct {
	// Selector yields the node to send calls to.
	Selector Selector

	// Codec turns addresses into scripthashes.
	Codec Codec

	// CallTimeout bounds every backend call.
	CallTimeout time.Duration

	// Clock times calls for the metrics. Defaults to the system clock.
	Clock clock.Clock

	// Metrics is optional.
	Metrics *Metrics
}

// Balance is the balance of an address in the smallest coin unit.
type Balance struct {
	Confirmed   int64
	Unconfirmed int64
}

// Total returns the confirmed plus the unconfirmed amount.
func (b *Balance) Total() int64 {
	return b.Confirmed + b.Unconfirmed
}

// Utxo is one unspent output of an address.
type Utxo struct {
	TxID        string
	OutputIndex uint32
	Value       int64
	Height      int32
}

// Dispatcher sends client requests to the currently selected node. It holds
// no state of its own: every operation reads the selection once, makes one
// call and never retries on another node.
type Dispatcher struct {
	cfg *Config
}

// New returns a dispatcher for the given config.
func New(cfg *Config) *Dispatcher {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	return &Dispatcher{cfg: cfg}
}

// Broadcast validates rawTxHex as a serialized transaction and relays it.
// It returns the txid reported by the node.
func (d *Dispatcher) Broadcast(ctx context.Context,
	rawTxHex string) (string, error) {

	rawTxHex = strings.TrimSpace(rawTxHex)

	tx, err := decodeTx(rawTxHex)
	if err != nil {
		d.cfg.Metrics.observe(opBroadcast, resultRejected, 0)
		return "", &InvalidTxError{Err: err}
	}

	log.Debugf("Broadcasting tx %v", tx.TxHash())

	var txid string
	err = d.call(ctx, opBroadcast, func(ctx context.Context,
		conn nodepool.Conn) error {

		var err error
		txid, err = conn.Broadcast(ctx, rawTxHex)

		return err
	})
	if err != nil {
		return "", err
	}

	if txid != tx.TxHash().String() {
		log.Warnf("Node reported txid %v for tx %v", txid, tx.TxHash())
	}

	return txid, nil
}

// GetBalance returns the confirmed and unconfirmed balance of address.
func (d *Dispatcher) GetBalance(ctx context.Context,
	address string) (*Balance, error) {

	scripthash, err := d.cfg.Codec.Scripthash(address)
	if err != nil {
		d.cfg.Metrics.observe(opGetBalance, resultRejected, 0)
		return nil, err
	}

	var balance *electrum.Balance
	err = d.call(ctx, opGetBalance, func(ctx context.Context,
		conn nodepool.Conn) error {

		var err error
		balance, err = conn.GetBalance(ctx, scripthash)

		return err
	})
	if err != nil {
		return nil, err
	}

	return &Balance{
		Confirmed:   balance.Confirmed,
		Unconfirmed: balance.Unconfirmed,
	}, nil
}

// ListUnspent returns the unspent outputs of address.
func (d *Dispatcher) ListUnspent(ctx context.Context,
	address string) ([]Utxo, error) {

	scripthash, err := d.cfg.Codec.Scripthash(address)
	if err != nil {
		d.cfg.Metrics.observe(opListUnspent, resultRejected, 0)
		return nil, err
	}

	var unspent []electrum.Unspent
	err = d.call(ctx, opListUnspent, func(ctx context.Context,
		conn nodepool.Conn) error {

		var err error
		unspent, err = conn.ListUnspent(ctx, scripthash)

		return err
	})
	if err != nil {
		return nil, err
	}

	utxos := make([]Utxo, 0, len(unspent))
	for _, u := range unspent {
		utxos = append(utxos, Utxo{
			TxID:        u.TxHash,
			OutputIndex: u.Position,
			Value:       u.Value,
			Height:      u.Height,
		})
	}

	log.Tracef("Unspent outputs of %v: %v", address,
		newLogClosure(func() string {
			return spew.Sdump(utxos)
		}))

	return utxos, nil
}

// call reads the selection once and runs f against it with the call
// timeout.
func (d *Dispatcher) call(ctx context.Context, op string,
	f func(context.Context, nodepool.Conn) error) error {

	sel, err := d.cfg.Selector.Current().UnwrapOrErr(
		errors.New("no node selected"),
	)
	if err != nil {
		d.cfg.Metrics.observe(op, resultUnavailable, 0)
		return unavailable(err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	defer cancel()

	start := d.cfg.Clock.Now()
	err = f(ctx, sel.Conn)
	elapsed := d.cfg.Clock.Now().Sub(start)

	if err != nil {
		d.cfg.Metrics.observe(op, resultUnavailable, elapsed)

		log.Debugf("%v via %v failed after %v: %v", op, sel.ID,
			elapsed, err)

		return unavailable(err)
	}

	d.cfg.Metrics.observe(op, resultOK, elapsed)

	return nil
}

// decodeTx parses a hex encoded transaction. Trailing bytes are rejected.
func decodeTx(rawTxHex string) (*wire.MsgTx, error) {
	if rawTxHex == "" {
		return nil, errors.New("empty transaction")
	}

	raw, err := hex.DecodeString(rawTxHex)
	if err != nil {
		return nil, err
	}

	tx := &wire.MsgTx{}
	r := bytes.NewReader(raw)
	if err := tx.Deserialize(r); err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, errors.New("trailing data after transaction")
	}

	return tx, nil
}

// logClosure is used to provide a closure over expensive logging operations
// so don't have to be performed when the logging level doesn't warrant it.
type logClosure func() string

// String invokes the underlying function and returns the result.
func (c logClosure) String() string {
	return c()
}

func newLogClosure(c func() string) logClosure {
	return logClosure(c)
}
