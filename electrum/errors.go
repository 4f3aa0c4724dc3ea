package electrum

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrConnClosed is returned when a request is issued on a connection
	// that has already been closed.
	ErrConnClosed = errors.New("electrum connection closed")

	// ErrConnLost is returned when the server dropped the session. The
	// connection is failed and is replaced by the next pool rebuild.
	ErrConnLost = errors.New("electrum connection lost")
)

// ConnectError is returned when a session to a server cannot be
// established. The node is simply left out of the pool.
type ConnectError struct {
	// Addr is the server we tried to reach.
	Addr NodeAddr

	// Reason is a short label for the failing step: dial, timeout or
	// handshake.
	Reason string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ConnectError) Error() string {
	return fmt.Sprintf("unable to connect to %v (%s): %v", e.Addr,
		e.Reason, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ProbeError is returned when a liveness probe fails. It is transient: the
// connection stays open and the failure only affects ranking.
type ProbeError struct {
	Addr NodeAddr
	Err  error
}

// Error implements the error interface.
func (e *ProbeError) Error() string {
	return fmt.Sprintf("ping %v failed: %v", e.Addr, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProbeError) Unwrap() error {
	return e.Err
}

// CallError is returned when a protocol request fails at request time, due
// to a dropped transport, a timeout or an error reply.
type CallError struct {
	Addr   NodeAddr
	Method string
	Err    error
}

// Error implements the error interface.
func (e *CallError) Error() string {
	return fmt.Sprintf("%s on %v failed: %v", e.Method, e.Addr, e.Err)
}

// Unwrap returns the underlying error.
func (e *CallError) Unwrap() error {
	return e.Err
}

// CodecError is returned when an address cannot be turned into a lookup
// key. It is caused by bad input and is never retried.
type CodecError struct {
	Address string
	Err     error
}

// Error implements the error interface.
func (e *CodecError) Error() string {
	return fmt.Sprintf("invalid address %q: %v", e.Address, e.Err)
}

// Unwrap returns the underlying error.
func (e *CodecError) Unwrap() error {
	return e.Err
}

// ServerError is an error reply from the server, for example a rejected
// transaction.
type ServerError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}

// parseServerError decodes the error member of a reply. Servers send either
// a {code, message} object or a plain string. A missing or null member
// means success.
func parseServerError(raw json.RawMessage) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	var obj struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return &ServerError{Code: obj.Code, Message: obj.Message}
	}

	var msg string
	if err := json.Unmarshal(raw, &msg); err == nil {
		return &ServerError{Message: msg}
	}

	return &ServerError{Message: string(raw)}
}
