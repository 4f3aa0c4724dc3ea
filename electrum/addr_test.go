package electrum

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestParseNodeAddr checks host and host:port parsing for both transports.
func TestParseNodeAddr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		input     string
		transport Transport
		expected  NodeAddr
		expectErr bool
	}{
		{
			name:      "host only ssl",
			input:     "electrum.example.com",
			transport: TransportSSL,
			expected: NodeAddr{
				Host: "electrum.example.com", Port: 50002,
				Transport: TransportSSL,
			},
		},
		{
			name:      "host only tcp",
			input:     "electrum.example.com",
			transport: TransportTCP,
			expected: NodeAddr{
				Host: "electrum.example.com", Port: 50001,
				Transport: TransportTCP,
			},
		},
		{
			name:      "host and port",
			input:     " node.example.org:51002 ",
			transport: TransportSSL,
			expected: NodeAddr{
				Host: "node.example.org", Port: 51002,
				Transport: TransportSSL,
			},
		},
		{
			name:      "ipv6 with port",
			input:     "[::1]:50002",
			transport: TransportSSL,
			expected: NodeAddr{
				Host: "::1", Port: 50002, Transport: TransportSSL,
			},
		},
		{
			name:      "ssl scheme",
			input:     "ssl://electrum.test.digital-assets.local:50002",
			transport: TransportTCP,
			expected: NodeAddr{
				Host:      "electrum.test.digital-assets.local",
				Port:      50002,
				Transport: TransportSSL,
			},
		},
		{
			name:      "tcp scheme without port",
			input:     "TCP://electrum.example.com",
			transport: TransportSSL,
			expected: NodeAddr{
				Host: "electrum.example.com", Port: 50001,
				Transport: TransportTCP,
			},
		},
		{
			name:      "bare ipv6",
			input:     "2001:db8::1",
			transport: TransportSSL,
			expected: NodeAddr{
				Host: "2001:db8::1", Port: 50002,
				Transport: TransportSSL,
			},
		},
		{
			name:      "unknown scheme",
			input:     "http://electrum.example.com:50002",
			transport: TransportSSL,
			expectErr: true,
		},
		{
			name:      "scheme only",
			input:     "ssl://",
			transport: TransportSSL,
			expectErr: true,
		},
		{
			name:      "path in address",
			input:     "electrum.example.com:50002/x",
			transport: TransportSSL,
			expectErr: true,
		},
		{
			name:      "empty",
			input:     "  ",
			transport: TransportSSL,
			expectErr: true,
		},
		{
			name:      "bad port",
			input:     "host:notaport",
			transport: TransportSSL,
			expectErr: true,
		},
		{
			name:      "zero port",
			input:     "host:0",
			transport: TransportSSL,
			expectErr: true,
		},
		{
			name:      "missing host",
			input:     ":50002",
			transport: TransportSSL,
			expectErr: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			addr, err := ParseNodeAddr(test.input, test.transport)
			if test.expectErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, test.expected, addr)
		})
	}
}

// TestNodeAddrIdentity makes sure the identity only depends on the host.
func TestNodeAddrIdentity(t *testing.T) {
	t.Parallel()

	a := NodeAddr{Host: "Node.Example.com", Port: 50002}
	b := NodeAddr{Host: "node.example.com", Port: 50001}

	require.Equal(t, a.ID(), b.ID())
	require.Equal(t, "Node.Example.com:50002", a.String())
}

// TestParseTransport checks the accepted transport spellings.
func TestParseTransport(t *testing.T) {
	t.Parallel()

	tr, err := ParseTransport("")
	require.NoError(t, err)
	require.Equal(t, TransportSSL, tr)

	tr, err = ParseTransport("TCP")
	require.NoError(t, err)
	require.Equal(t, TransportTCP, tr)

	_, err = ParseTransport("ws")
	require.Error(t, err)
}
