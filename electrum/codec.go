package electrum

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
)

// errWrongNetwork is wrapped in a CodecError when an address decodes but
// belongs to another network.
var errWrongNetwork = errors.New("address is for a different network")

// Codec turns user supplied addresses into Electrum lookup keys for one set
// of chain parameters. It holds no mutable state and is safe for concurrent
// use.
type Codec struct {
	params *chaincfg.Params
}

// NewCodec returns a codec for the given network.
func NewCodec(params *chaincfg.Params) *Codec {
	return &Codec{params: params}
}

// Params returns the chain parameters of the codec.
func (c *Codec) Params() *chaincfg.Params {
	return c.params
}

// AddressToLookupKey decodes address and returns the Electrum scripthash of
// its output script in wire order, that is sha256(script) reversed.
func (c *Codec) AddressToLookupKey(address string) ([]byte, error) {
	hash, err := c.scriptHash(address)
	if err != nil {
		return nil, err
	}

	// chainhash.Hash stores the digest in internal order, and String()
	// prints it reversed. Electrum keys are that reversed form.
	key := make([]byte, chainhash.HashSize)
	for i := 0; i < chainhash.HashSize; i++ {
		key[i] = hash[chainhash.HashSize-1-i]
	}

	return key, nil
}

// Scripthash returns the hex encoded lookup key for address, the form sent
// on the wire.
func (c *Codec) Scripthash(address string) (string, error) {
	hash, err := c.scriptHash(address)
	if err != nil {
		return "", err
	}

	return hash.String(), nil
}

func (c *Codec) scriptHash(address string) (*chainhash.Hash, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, &CodecError{
			Address: address, Err: errors.New("empty address"),
		}
	}

	addr, err := btcutil.DecodeAddress(address, c.params)
	if err != nil {
		return nil, &CodecError{Address: address, Err: err}
	}

	if !addr.IsForNet(c.params) {
		return nil, &CodecError{
			Address: address,
			Err: fmt.Errorf("%w: want %v", errWrongNetwork,
				c.params.Name),
		}
	}

	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, &CodecError{Address: address, Err: err}
	}

	hash := chainhash.HashH(pkScript)

	return &hash, nil
}

// ScripthashFromScript returns the Electrum scripthash for an output
// script.
func ScripthashFromScript(pkScript []byte) string {
	return chainhash.HashH(pkScript).String()
}
