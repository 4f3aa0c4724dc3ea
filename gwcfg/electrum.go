package gwcfg

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/electrumgw/electrumgw/electrum"
)

const (
	// DefaultElectrumDialTimeout bounds connecting to a server, including
	// the version handshake.
	DefaultElectrumDialTimeout = 10 * time.Second

	// DefaultElectrumRequestTimeout is the default timeout for requests
	// sent to an Electrum server.
	DefaultElectrumRequestTimeout = 30 * time.Second
)

// Electrum holds the options for reaching the Electrum network.
//
//nolint:ll
type Electrum struct {
	// Seed is the [ssl://|tcp://]host[:port] of the server peers are
	// discovered from.
	Seed string `long:"seed" description:"The [ssl://|tcp://]host[:port] of the Electrum server used to discover peers. A scheme overrides electrum.transport."`

	// Transport is either ssl or tcp.
	Transport string `long:"transport" description:"Transport used for every Electrum connection." choice:"ssl" choice:"tcp"`

	// TLSCertPath is a PEM bundle trusted in addition to the system pool.
	TLSCertPath string `long:"tlscertpath" description:"Path to a PEM certificate bundle to trust for Electrum servers."`

	// TLSSkipVerify skips TLS certificate verification. Electrum servers
	// commonly use self-signed certificates.
	TLSSkipVerify bool `long:"tlsskipverify" description:"Skip TLS certificate verification of Electrum servers."`

	// DialTimeout bounds connecting to a server.
	DialTimeout time.Duration `long:"dialtimeout" description:"Timeout for connecting to an Electrum server, including the handshake."`

	// RequestTimeout bounds every request sent on behalf of a client.
	RequestTimeout time.Duration `long:"requesttimeout" description:"Timeout for requests to the selected Electrum server."`
}

// DefaultElectrumConfig returns a new Electrum config with default values
// populated.
func DefaultElectrumConfig() *Electrum {
	return &Electrum{
		Transport:      string(electrum.TransportSSL),
		TLSSkipVerify:  true,
		DialTimeout:    DefaultElectrumDialTimeout,
		RequestTimeout: DefaultElectrumRequestTimeout,
	}
}

// Validate checks the options for consistency.
func (e *Electrum) Validate() error {
	if e.Seed == "" {
		return errors.New("electrum.seed must be set")
	}

	if _, err := e.SeedAddr(); err != nil {
		return fmt.Errorf("invalid electrum.seed: %w", err)
	}

	if e.DialTimeout <= 0 {
		return fmt.Errorf("electrum.dialtimeout must be positive, "+
			"got %v", e.DialTimeout)
	}
	if e.RequestTimeout <= 0 {
		return fmt.Errorf("electrum.requesttimeout must be positive, "+
			"got %v", e.RequestTimeout)
	}

	return nil
}

// SeedAddr parses the seed with the configured transport.
func (e *Electrum) SeedAddr() (electrum.NodeAddr, error) {
	transport, err := electrum.ParseTransport(e.Transport)
	if err != nil {
		return electrum.NodeAddr{}, err
	}

	return electrum.ParseNodeAddr(e.Seed, transport)
}

// ConnConfig returns the dial options for Electrum connections.
func (e *Electrum) ConnConfig() (*electrum.ConnConfig, error) {
	cfg := &electrum.ConnConfig{
		DialTimeout:   e.DialTimeout,
		TLSSkipVerify: e.TLSSkipVerify,
	}

	if e.TLSCertPath == "" {
		return cfg, nil
	}

	pem, err := os.ReadFile(e.TLSCertPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read electrum tls cert: %w",
			err)
	}

	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %v",
			e.TLSCertPath)
	}

	cfg.TLSConfig = &tls.Config{
		RootCAs:            pool,
		InsecureSkipVerify: e.TLSSkipVerify, //nolint:gosec
		MinVersion:         tls.VersionTLS12,
	}

	return cfg, nil
}
