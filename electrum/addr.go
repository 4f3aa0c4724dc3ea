package electrum

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Transport is the socket flavour used to reach an Electrum server.
type Transport string

const (
	// TransportSSL wraps the session in TLS.
	TransportSSL Transport = "ssl"

	// TransportTCP is a plain TCP session.
	TransportTCP Transport = "tcp"
)

const (
	// DefaultTCPPort is the default port that Electrum servers use for
	// TCP connections.
	DefaultTCPPort = 50001

	// DefaultSSLPort is the default port that Electrum servers use for
	// SSL/TLS connections.
	DefaultSSLPort = 50002
)

// DefaultPort returns the conventional Electrum port for the transport.
func DefaultPort(t Transport) uint16 {
	if t == TransportTCP {
		return DefaultTCPPort
	}

	return DefaultSSLPort
}

// ParseTransport maps a config string onto a Transport.
func ParseTransport(s string) (Transport, error) {
	switch Transport(strings.ToLower(strings.TrimSpace(s))) {
	case TransportSSL, "":
		return TransportSSL, nil

	case TransportTCP:
		return TransportTCP, nil

	default:
		return "", fmt.Errorf("unknown electrum transport %q", s)
	}
}

// NodeAddr identifies a single Electrum server. The port is fixed per
// deployment, so two addresses with the same host refer to the same node.
type NodeAddr struct {
	Host      string
	Port      uint16
	Transport Transport
}

// ID returns the identity key of the node, which is its lower-cased host.
func (a NodeAddr) ID() string {
	return strings.ToLower(a.Host)
}

// String returns the host:port dial string of the node.
func (a NodeAddr) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(int(a.Port)))
}

// ParseNodeAddr parses "host", "host:port" or either form prefixed with an
// "ssl://" or "tcp://" scheme. A scheme overrides t. When the port is omitted
// the default port of the transport is used.
func ParseNodeAddr(s string, t Transport) (NodeAddr, error) {
	s = strings.TrimSpace(s)
	if scheme, rest, ok := strings.Cut(s, "://"); ok {
		switch Transport(strings.ToLower(scheme)) {
		case TransportSSL, TransportTCP:
			t = Transport(strings.ToLower(scheme))
		default:
			return NodeAddr{}, fmt.Errorf("unknown scheme %q in node "+
				"address %q", scheme, s)
		}
		s = rest
	}
	if s == "" {
		return NodeAddr{}, fmt.Errorf("empty node address")
	}

	addr := NodeAddr{
		Host:      s,
		Port:      DefaultPort(t),
		Transport: t,
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		// No port present. A bare or bracketed IPv6 literal is still
		// accepted, anything else with a colon can not be dialed.
		host = strings.Trim(s, "[]")
		if strings.Contains(host, ":") && net.ParseIP(host) == nil {
			return NodeAddr{}, fmt.Errorf("invalid node address "+
				"%q: %w", s, err)
		}
		if strings.ContainsAny(host, "/ ") {
			return NodeAddr{}, fmt.Errorf("malformed host in node "+
				"address %q", s)
		}

		addr.Host = host
		return addr, nil
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return NodeAddr{}, fmt.Errorf("invalid port in node address "+
			"%q", s)
	}
	if host == "" {
		return NodeAddr{}, fmt.Errorf("missing host in node address "+
			"%q", s)
	}
	if strings.ContainsAny(host, "/ ") {
		return NodeAddr{}, fmt.Errorf("malformed host in node address "+
			"%q", s)
	}

	addr.Host = host
	addr.Port = uint16(port)

	return addr, nil
}
