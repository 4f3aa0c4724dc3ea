package dispatch

import (
	"errors"
	"fmt"
)

// ErrBackendUnavailable is returned when there is no selected node or the
// call to it failed.
var ErrBackendUnavailable = errors.New("backend unavailable")

// InvalidTxError is returned by Broadcast when the payload is not a
// serialized transaction. No backend call is made.
type InvalidTxError struct {
	Err error
}

// Error returns a human readable description of the error.
func (e *InvalidTxError) Error() string {
	return fmt.Sprintf("invalid transaction: %v", e.Err)
}

// Unwrap returns the underlying decode error.
func (e *InvalidTxError) Unwrap() error {
	return e.Err
}

// unavailable wraps err so that it matches ErrBackendUnavailable and still
// exposes the cause.
func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
}
