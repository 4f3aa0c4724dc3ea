package restapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/electrumgw/electrumgw/dispatch"
	"github.com/electrumgw/electrumgw/electrum"
)

var (
	// errUnsupportedChain is returned for a coin or network the gateway
	// is not configured for.
	errUnsupportedChain = errors.New("unsupported coin or network")

	// errRateLimited is returned when the request budget is exhausted.
	errRateLimited = errors.New("rate limit exceeded")

	// errEmptyBody is returned by tx/send without a transaction.
	errEmptyBody = errors.New("missing raw transaction")
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps an error to the HTTP status it is reported with.
func statusFor(err error) int {
	var (
		codecErr *electrum.CodecError
		txErr    *dispatch.InvalidTxError
		maxErr   *http.MaxBytesError
		syntax   *json.SyntaxError
		jsonType *json.UnmarshalTypeError
	)

	switch {
	case errors.As(err, &codecErr), errors.As(err, &txErr),
		errors.As(err, &syntax), errors.As(err, &jsonType),
		errors.Is(err, errEmptyBody):

		return http.StatusBadRequest

	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge

	case errors.Is(err, errUnsupportedChain):
		return http.StatusNotFound

	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests

	case errors.Is(err, dispatch.ErrBackendUnavailable):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// publicMessage hides the details of backend and internal failures.
func publicMessage(status int, err error) string {
	switch status {
	case http.StatusServiceUnavailable:
		return dispatch.ErrBackendUnavailable.Error()

	case http.StatusInternalServerError:
		return http.StatusText(status)

	default:
		return err.Error()
	}
}
