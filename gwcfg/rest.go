package gwcfg

import (
	"fmt"
	"net"
)

const (
	// DefaultRESTListen is the address the REST server listens on.
	DefaultRESTListen = "localhost:3000"

	// DefaultRESTRateLimit is the sustained number of requests per second.
	DefaultRESTRateLimit = 50

	// DefaultRESTRateBurst is the request burst allowed above the rate.
	DefaultRESTRateBurst = 100

	// DefaultRESTMaxBodyBytes bounds request bodies.
	DefaultRESTMaxBodyBytes = 1 << 20
)

// REST holds the options of the HTTP server.
//
//nolint:ll
type REST struct {
	Listen string `long:"listen" description:"Interface/port the REST server listens on."`

	RateLimit float64 `long:"ratelimit" description:"Sustained requests per second accepted by the REST server. 0 disables rate limiting."`

	RateBurst int `long:"rateburst" description:"Number of requests accepted in a burst above ratelimit."`

	MaxBodyBytes int64 `long:"maxbodybytes" description:"Maximum size of a request body in bytes."`
}

// DefaultRESTConfig returns a new REST config with default values populated.
func DefaultRESTConfig() *REST {
	return &REST{
		Listen:       DefaultRESTListen,
		RateLimit:    DefaultRESTRateLimit,
		RateBurst:    DefaultRESTRateBurst,
		MaxBodyBytes: DefaultRESTMaxBodyBytes,
	}
}

// Validate checks the options for consistency.
func (r *REST) Validate() error {
	if _, _, err := net.SplitHostPort(r.Listen); err != nil {
		return fmt.Errorf("invalid rest.listen %q: %w", r.Listen, err)
	}

	if r.RateLimit < 0 {
		return fmt.Errorf("rest.ratelimit must not be negative, got %v",
			r.RateLimit)
	}
	if r.RateLimit > 0 && r.RateBurst < 1 {
		return fmt.Errorf("rest.rateburst must be at least 1 when "+
			"rate limiting, got %d", r.RateBurst)
	}

	if r.MaxBodyBytes <= 0 {
		return fmt.Errorf("rest.maxbodybytes must be positive, got %d",
			r.MaxBodyBytes)
	}

	return nil
}
