package restapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/electrumgw/electrumgw/dispatch"
	"github.com/electrumgw/electrumgw/nodepool"
	"golang.org/x/time/rate"
)

const (
	// DefaultMaxBodyBytes bounds the size of a request body.
	DefaultMaxBodyBytes = 1 << 20

	// DefaultReadHeaderTimeout bounds reading the request headers.
	DefaultReadHeaderTimeout = 10 * time.Second

	// DefaultShutdownTimeout bounds the graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
)

// Backend executes client requests against the selected node.
type Backend interface {
	// Broadcast relays a hex encoded transaction.
	Broadcast(ctx context.Context, rawTxHex string) (string, error)

	// GetBalance returns the balance of an address.
	GetBalance(ctx context.Context, address string) (*dispatch.Balance,
		error)

	// ListUnspent returns the unspent outputs of an address.
	ListUnspent(ctx context.Context, address string) ([]dispatch.Utxo,
		error)
}

// A compile time check to ensure the dispatcher is a valid Backend.
var _ Backend = (*dispatch.Dispatcher)(nil)

// Config holds the dependencies and options of the REST server.
type Config struct {
	// Listen is the address to listen on.
	Listen string

	// Coin is the ticker served under /api/{coin}. Matching ignores
	// case.
	Coin string

	// Network is the network served under /api/{coin}/{network}.
	Network string

	// Backend runs the requests.
	Backend Backend

	// Status returns the current pool report for /api/status.
	Status func() *nodepool.Status

	// RateLimit is the sustained number of requests per second. Zero
	// disables limiting.
	RateLimit float64

	// RateBurst is the number of requests allowed in a burst.
	RateBurst int

	// MaxBodyBytes bounds request bodies.
	MaxBodyBytes int64

	// Metrics is optional.
	Metrics *Metrics
}

// Server is the HTTP front of the gateway.
type Server struct {
	started  int32 // To be used atomically.
	shutdown int32 // To be used atomically.

	cfg *Config

	limiter *rate.Limiter

	httpServer *http.Server
	listener   net.Listener

	wg sync.WaitGroup
}

// New returns a server that is not listening yet.
func New(cfg *Config) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	s := &Server{
		cfg: cfg,
	}

	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}

	return s
}

// Handler returns the routed and rate limited handler of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(
		"POST /api/{coin}/{network}/tx/send",
		s.instrument("tx_send", s.chainRoute(s.sendTx)),
	)
	mux.HandleFunc(
		"GET /api/{coin}/{network}/address/{address}/balance",
		s.instrument("balance", s.chainRoute(s.getBalance)),
	)
	mux.HandleFunc(
		"GET /api/{coin}/{network}/address/{address}/utxo",
		s.instrument("utxo", s.chainRoute(s.listUnspent)),
	)
	mux.HandleFunc("GET /api/status", s.instrument("status", s.status))

	return s.rateLimit(mux)
}

// Start begins listening and serving in the background.
func (s *Server) Start() error {
	if atomic.AddInt32(&s.started, 1) != 1 {
		return nil
	}

	listener, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	s.listener = listener

	log.Infof("REST server listening on %v, serving %v/%v",
		listener.Addr(), strings.ToUpper(s.cfg.Coin), s.cfg.Network)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		err := s.httpServer.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("REST server stopped: %v", err)
		}
	}()

	return nil
}

// Addr returns the address the server listens on, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Stop shuts the server down, waiting for in-flight requests for a bounded
// time.
func (s *Server) Stop() error {
	if atomic.AddInt32(&s.shutdown, 1) != 1 {
		return nil
	}

	log.Infof("REST server shutting down...")

	ctx, cancel := context.WithTimeout(
		context.Background(), DefaultShutdownTimeout,
	)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	s.wg.Wait()

	return err
}
