package restapi

import (
	"net/http"
	"strconv"
	"time"
)

// statusRecorder remembers the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// rateLimit rejects requests once the limiter is exhausted. Requests never
// wait for a token.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			s.cfg.Metrics.request("rate_limited",
				http.StatusTooManyRequests, 0)

			w.Header().Set("Retry-After", "1")
			s.writeError(w, r, errRateLimited)

			return
		}

		next.ServeHTTP(w, r)
	})
}

// instrument records the outcome and latency of a route.
func (s *Server) instrument(route string,
	next http.HandlerFunc) http.HandlerFunc {

	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next(rec, r)

		elapsed := time.Since(start)
		s.cfg.Metrics.request(route, rec.status, elapsed)

		log.Tracef("%v %v -> %d in %v", r.Method, r.URL.Path,
			rec.status, elapsed)
	}
}

func statusLabel(status int) string {
	return strconv.Itoa(status)
}
