package restapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/electrumgw/electrumgw/dispatch"
	"github.com/electrumgw/electrumgw/electrum"
	"github.com/electrumgw/electrumgw/nodepool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testAddress = "GbUaRZnMcgvhkW2Bm1A3dsq2hVVsYH4vKT"

// mockBackend implements Backend.
type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) Broadcast(ctx context.Context, rawTx string) (string,
	error) {

	args := m.Called(ctx, rawTx)

	return args.String(0), args.Error(1)
}

func (m *mockBackend) GetBalance(ctx context.Context,
	address string) (*dispatch.Balance, error) {

	args := m.Called(ctx, address)

	balance, _ := args.Get(0).(*dispatch.Balance)

	return balance, args.Error(1)
}

func (m *mockBackend) ListUnspent(ctx context.Context,
	address string) ([]dispatch.Utxo, error) {

	args := m.Called(ctx, address)

	utxos, _ := args.Get(0).([]dispatch.Utxo)

	return utxos, args.Error(1)
}

func newTestServer(t *testing.T, modify func(*Config)) (*Server,
	*mockBackend) {

	t.Helper()

	backend := &mockBackend{}
	cfg := &Config{
		Listen:  "127.0.0.1:0",
		Coin:    "GRLC",
		Network: "mainnet",
		Backend: backend,
		Status: func() *nodepool.Status {
			return &nodepool.Status{
				Selected: "electrum.example.com",
				Nodes:    []nodepool.NodeStatus{},
			}
		},
	}
	if modify != nil {
		modify(cfg)
	}

	t.Cleanup(func() {
		backend.AssertExpectations(t)
	})

	return New(cfg), backend
}

// do runs one request against the handler and decodes the JSON body into
// out when given.
func do(t *testing.T, h http.Handler, method, target, body string,
	out any) int {

	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if out != nil {
		require.Equal(
			t, "application/json", rec.Header().Get("Content-Type"),
		)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}

	return rec.Code
}

func TestSendTx(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "raw hex", body: "0200ab\n"},
		{name: "json", body: `{"rawtx": " 0200ab "}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, backend := newTestServer(t, nil)
			backend.On("Broadcast", mock.Anything, "0200ab").Return(
				"deadbeef", nil,
			).Once()

			var resp sendTxResponse
			code := do(t, s.Handler(), http.MethodPost,
				"/api/GRLC/mainnet/tx/send", tc.body, &resp)

			require.Equal(t, http.StatusOK, code)
			require.Equal(t, "deadbeef", resp.TxID)
		})
	}
}

func TestSendTxBadBody(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, func(cfg *Config) {
		cfg.MaxBodyBytes = 16
	})

	tests := []struct {
		name string
		body string
		code int
	}{
		{name: "empty", body: "  ", code: http.StatusBadRequest},
		{name: "empty json", body: `{}`, code: http.StatusBadRequest},
		{name: "bad json", body: `{"rawtx":`, code: http.StatusBadRequest},
		{
			name: "wrong json type", body: `{"rawtx": 5}`,
			code: http.StatusBadRequest,
		},
		{
			name: "too large", body: strings.Repeat("ab", 20),
			code: http.StatusRequestEntityTooLarge,
		},
	}

	for _, tc := range tests {
		var resp errorResponse
		code := do(t, s.Handler(), http.MethodPost,
			"/api/GRLC/mainnet/tx/send", tc.body, &resp)

		require.Equal(t, tc.code, code, tc.name)
		require.NotEmpty(t, resp.Error, tc.name)
	}
}

func TestGetBalance(t *testing.T) {
	t.Parallel()

	s, backend := newTestServer(t, nil)
	backend.On("GetBalance", mock.Anything, testAddress).Return(
		&dispatch.Balance{Confirmed: 1500, Unconfirmed: 250}, nil,
	).Once()

	var resp balanceResponse
	code := do(t, s.Handler(), http.MethodGet,
		"/api/grlc/MAINNET/address/"+testAddress+"/balance", "", &resp)

	require.Equal(t, http.StatusOK, code)
	require.Equal(t, balanceResponse{
		Confirmed: 1500, Unconfirmed: 250, Balance: 1750,
	}, resp)
}

func TestListUnspent(t *testing.T) {
	t.Parallel()

	s, backend := newTestServer(t, nil)
	backend.On("ListUnspent", mock.Anything, testAddress).Return(
		[]dispatch.Utxo{{TxID: "aa", OutputIndex: 2, Value: 7}}, nil,
	).Once()
	backend.On("ListUnspent", mock.Anything, "empty").Return(
		[]dispatch.Utxo{}, nil,
	).Once()

	var resp []utxoResponse
	code := do(t, s.Handler(), http.MethodGet,
		"/api/GRLC/mainnet/address/"+testAddress+"/utxo", "", &resp)

	require.Equal(t, http.StatusOK, code)
	require.Equal(t, []utxoResponse{{TxID: "aa", Vout: 2, Value: 7}}, resp)

	code = do(t, s.Handler(), http.MethodGet,
		"/api/GRLC/mainnet/address/empty/utxo", "", &resp)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, resp)
	require.Empty(t, resp)
}

// TestErrorMapping checks every error class gets its status code and that
// backend details are not leaked.
func TestErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		code int
		msg  string
	}{
		{
			name: "codec",
			err: &electrum.CodecError{
				Address: "bad", Err: fmt.Errorf("checksum"),
			},
			code: http.StatusBadRequest,
		},
		{
			name: "unavailable",
			err: fmt.Errorf("%w: %w", dispatch.ErrBackendUnavailable,
				fmt.Errorf("dial 10.0.0.1: refused")),
			code: http.StatusServiceUnavailable,
			msg:  dispatch.ErrBackendUnavailable.Error(),
		},
		{
			name: "internal",
			err:  fmt.Errorf("boom"),
			code: http.StatusInternalServerError,
			msg:  http.StatusText(http.StatusInternalServerError),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, backend := newTestServer(t, nil)
			backend.On("GetBalance", mock.Anything, "addr").Return(
				nil, tc.err,
			).Once()

			var resp errorResponse
			code := do(t, s.Handler(), http.MethodGet,
				"/api/GRLC/mainnet/address/addr/balance", "",
				&resp)

			require.Equal(t, tc.code, code)
			if tc.msg != "" {
				require.Equal(t, tc.msg, resp.Error)
			}
		})
	}

	// Invalid transactions are client errors too.
	s, backend := newTestServer(t, nil)
	backend.On("Broadcast", mock.Anything, "00").Return(
		"", &dispatch.InvalidTxError{Err: io.ErrUnexpectedEOF},
	).Once()

	code := do(t, s.Handler(), http.MethodPost,
		"/api/GRLC/mainnet/tx/send", "00", &errorResponse{})
	require.Equal(t, http.StatusBadRequest, code)
}

func TestUnsupportedChain(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)

	for _, target := range []string{
		"/api/BTC/mainnet/address/x/balance",
		"/api/GRLC/testnet/address/x/utxo",
	} {
		var resp errorResponse
		code := do(t, s.Handler(), http.MethodGet, target, "", &resp)
		require.Equal(t, http.StatusNotFound, code, target)
		require.Equal(t, errUnsupportedChain.Error(), resp.Error)
	}

	// Wrong method on a known route.
	code := do(t, s.Handler(), http.MethodGet,
		"/api/GRLC/mainnet/tx/send", "", nil)
	require.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestStatus(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)

	var resp nodepool.Status
	code := do(t, s.Handler(), http.MethodGet, "/api/status", "", &resp)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "electrum.example.com", resp.Selected)
}

// TestRateLimit exhausts the burst and expects 429 until tokens refill.
func TestRateLimit(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	s, _ := newTestServer(t, func(cfg *Config) {
		cfg.RateLimit = 0.001
		cfg.RateBurst = 2
		cfg.Metrics = metrics
	})
	h := s.Handler()

	for i := 0; i < 2; i++ {
		code := do(t, h, http.MethodGet, "/api/status", "", nil)
		require.Equal(t, http.StatusOK, code)
	}

	var resp errorResponse
	code := do(t, h, http.MethodGet, "/api/status", "", &resp)
	require.Equal(t, http.StatusTooManyRequests, code)
	require.Equal(t, errRateLimited.Error(), resp.Error)

	require.EqualValues(t, 2, testutil.ToFloat64(
		metrics.requests.WithLabelValues("status", "200"),
	))
	require.EqualValues(t, 1, testutil.ToFloat64(
		metrics.requests.WithLabelValues("rate_limited", "429"),
	))
}

// TestStartStop serves over a real listener.
func TestStartStop(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)
	require.NoError(t, s.Start())

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%v/api/status", s.Addr()))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, resp.Body.Close())

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())

	_, err = client.Get(fmt.Sprintf("http://%v/api/status", s.Addr()))
	require.Error(t, err)
}
