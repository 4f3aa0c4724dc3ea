package chainparams

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	litecoinCfg "github.com/ltcsuite/ltcd/chaincfg"
)

// Chain names a supported coin.
type Chain string

const (
	// Bitcoin is the bitcoin chain.
	Bitcoin Chain = "bitcoin"

	// Litecoin is the litecoin chain.
	Litecoin Chain = "litecoin"

	// Garlicoin is the garlicoin chain, a litecoin derivative.
	Garlicoin Chain = "garlicoin"
)

// Network names a network of a chain.
type Network string

const (
	// MainNet is the production network.
	MainNet Network = "mainnet"

	// TestNet is the public test network.
	TestNet Network = "testnet"

	// RegTest is a local regression test network.
	RegTest Network = "regtest"

	// SimNet is the btcd simulation network.
	SimNet Network = "simnet"
)

// ErrUnsupportedNetwork is returned when a chain/network combination is not
// known.
var ErrUnsupportedNetwork = errors.New("unsupported network")

// Garlicoin network magics.
const (
	garlicoinMainNet wire.BitcoinNet = 0xdbb6c6d2
	garlicoinTestNet wire.BitcoinNet = 0xb6c6d2fd
)

type key struct {
	chain   Chain
	network Network
}

var (
	bitcoinMainNetParams = &chaincfg.MainNetParams
	bitcoinTestNetParams = &chaincfg.TestNet3Params
	bitcoinRegTestParams = &chaincfg.RegressionNetParams
	bitcoinSimNetParams  = &chaincfg.SimNetParams

	litecoinMainNetParams = newLitecoinParams(&litecoinCfg.MainNetParams)
	litecoinTestNetParams = newLitecoinParams(&litecoinCfg.TestNet4Params)

	garlicoinMainNetParams = newGarlicoinMainNetParams()
	garlicoinTestNetParams = newGarlicoinTestNetParams()

	registry = map[key]*chaincfg.Params{
		{Bitcoin, MainNet}:   bitcoinMainNetParams,
		{Bitcoin, TestNet}:   bitcoinTestNetParams,
		{Bitcoin, RegTest}:   bitcoinRegTestParams,
		{Bitcoin, SimNet}:    bitcoinSimNetParams,
		{Litecoin, MainNet}:  litecoinMainNetParams,
		{Litecoin, TestNet}:  litecoinTestNetParams,
		{Garlicoin, MainNet}: garlicoinMainNetParams,
		{Garlicoin, TestNet}: garlicoinTestNetParams,
	}

	tickers = map[Chain]string{
		Bitcoin:   "BTC",
		Litecoin:  "LTC",
		Garlicoin: "GRLC",
	}
)

// The address decoder only recognises bech32 prefixes of registered
// networks, so every non-bitcoin network is registered up front.
func init() {
	for _, params := range []*chaincfg.Params{
		litecoinMainNetParams, litecoinTestNetParams,
		garlicoinMainNetParams, garlicoinTestNetParams,
	} {
		err := chaincfg.Register(params)
		if err != nil && !errors.Is(err, chaincfg.ErrDuplicateNet) {
			panic(fmt.Sprintf("unable to register %v: %v",
				params.Name, err))
		}
	}
}

// Lookup returns the chain parameters for chain and network. Names are
// matched case-insensitively.
func Lookup(chain, network string) (*chaincfg.Params, error) {
	k := key{
		chain:   Chain(strings.ToLower(strings.TrimSpace(chain))),
		network: Network(strings.ToLower(strings.TrimSpace(network))),
	}

	params, ok := registry[k]
	if !ok {
		return nil, fmt.Errorf("%w: %v/%v", ErrUnsupportedNetwork, chain,
			network)
	}

	return params, nil
}

// Ticker returns the upper-case ticker symbol of a chain, as used in REST
// routes.
func Ticker(chain string) (string, error) {
	t, ok := tickers[Chain(strings.ToLower(chain))]
	if !ok {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedNetwork, chain)
	}

	return t, nil
}

// Networks returns the supported network names of a chain, sorted.
func Networks(chain string) []string {
	var nets []string
	for k := range registry {
		if k.chain == Chain(strings.ToLower(chain)) {
			nets = append(nets, string(k.network))
		}
	}
	sort.Strings(nets)

	return nets
}

// newLitecoinParams applies the chain configuration parameters that differ
// for litecoin to a copy of the bitcoin mainnet params, so the rest of the
// code can stay typed on btcd's chaincfg.
func newLitecoinParams(ltc *litecoinCfg.Params) *chaincfg.Params {
	params := chaincfg.MainNetParams

	params.Name = ltc.Name
	params.Net = wire.BitcoinNet(uint32(ltc.Net))
	params.DefaultPort = ltc.DefaultPort
	params.CoinbaseMaturity = ltc.CoinbaseMaturity

	var genesisHash chainhash.Hash
	copy(genesisHash[:], ltc.GenesisHash[:])
	params.GenesisHash = &genesisHash

	// Address encoding magics.
	params.PubKeyHashAddrID = ltc.PubKeyHashAddrID
	params.ScriptHashAddrID = ltc.ScriptHashAddrID
	params.PrivateKeyID = ltc.PrivateKeyID
	params.WitnessPubKeyHashAddrID = ltc.WitnessPubKeyHashAddrID
	params.WitnessScriptHashAddrID = ltc.WitnessScriptHashAddrID
	params.Bech32HRPSegwit = ltc.Bech32HRPSegwit

	copy(params.HDPrivateKeyID[:], ltc.HDPrivateKeyID[:])
	copy(params.HDPublicKeyID[:], ltc.HDPublicKeyID[:])

	params.HDCoinType = ltc.HDCoinType

	checkPoints := make([]chaincfg.Checkpoint, len(ltc.Checkpoints))
	for i := 0; i < len(ltc.Checkpoints); i++ {
		var chainHash chainhash.Hash
		copy(chainHash[:], ltc.Checkpoints[i].Hash[:])

		checkPoints[i] = chaincfg.Checkpoint{
			Height: ltc.Checkpoints[i].Height,
			Hash:   &chainHash,
		}
	}
	params.Checkpoints = checkPoints

	// Bitcoin DNS seeds do not serve this chain.
	params.DNSSeeds = nil

	return &params
}

func newGarlicoinMainNetParams() *chaincfg.Params {
	params := newLitecoinParams(&litecoinCfg.MainNetParams)

	params.Name = "garlicoin-mainnet"
	params.Net = garlicoinMainNet
	params.DefaultPort = "42069"
	params.Checkpoints = nil

	params.PubKeyHashAddrID = 0x26 // starts with G
	params.ScriptHashAddrID = 0x32 // starts with M
	params.PrivateKeyID = 0xb0
	params.Bech32HRPSegwit = "grlc"

	return params
}

func newGarlicoinTestNetParams() *chaincfg.Params {
	params := newLitecoinParams(&litecoinCfg.TestNet4Params)

	params.Name = "garlicoin-testnet"
	params.Net = garlicoinTestNet
	params.DefaultPort = "42070"
	params.Checkpoints = nil

	params.PubKeyHashAddrID = 0x6f
	params.ScriptHashAddrID = 0x3a
	params.PrivateKeyID = 0xef
	params.Bech32HRPSegwit = "tgrlc"

	return params
}
