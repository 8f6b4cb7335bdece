// Package errs defines the error taxonomy shared by the transports, the
// session engine, and the cache. The root surgo package re-exports these
// so callers can match with errors.Is / errors.As without importing
// internal packages.
package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions with no useful payload.
var (
	// ErrNotConnected is returned when an operation is issued before
	// Connect succeeds. This is a programming error, not a transient one.
	ErrNotConnected = errors.New("not connected")

	// ErrTransportClosed is returned to every request that was in flight
	// when the connection dropped. The request may or may not have reached
	// the server; the caller decides whether to retry after reconnect.
	ErrTransportClosed = errors.New("transport closed")

	// ErrTimeout is returned when a request exceeds the configured
	// request timeout. The pending completion is removed; a late response
	// for the same id is dropped.
	ErrTimeout = errors.New("request timeout")
)

// ConnectionError reports a failure to establish or use the underlying
// transport: dial failures, TLS errors, malformed URLs, or non-2xx HTTP
// status codes on the stateless transport.
type ConnectionError struct {
	Msg    string
	Status int // HTTP status code when applicable, 0 otherwise
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("connection error: %s (status %d)", e.Msg, e.Status)
	}
	return "connection error: " + e.Msg
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// RPCError is a server-returned error object, surfaced verbatim.
type RPCError struct {
	Code    int64
	Message string
	Data    any
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// AuthenticationError reports an auth method whose result had the wrong
// shape (for example a non-string token). The token is never stored when
// this is returned.
type AuthenticationError struct {
	Msg string
}

func (e *AuthenticationError) Error() string { return "authentication error: " + e.Msg }

// InvalidResponseError reports an envelope that decoded but whose content
// violates the protocol contract. Treat as a server-side contract breach.
type InvalidResponseError struct {
	Msg string
}

func (e *InvalidResponseError) Error() string { return "invalid response: " + e.Msg }

// EncodingError reports user data that cannot become a wire value, or a
// decode whose shape mismatched the target type. Msg includes the field
// path where the mismatch occurred.
type EncodingError struct {
	Msg string
}

func (e *EncodingError) Error() string { return "encoding error: " + e.Msg }

// ValidationError reports an identifier, field name, or keyword that
// failed pre-send validation. The request is never sent.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return "validation error: " + e.Msg }

// InvalidRecordIDError reports a record id that failed to parse or compose.
type InvalidRecordIDError struct {
	Msg string
}

func (e *InvalidRecordIDError) Error() string { return "invalid record id: " + e.Msg }

// InvalidQueryError reports a query rejected before send.
type InvalidQueryError struct {
	Msg string
}

func (e *InvalidQueryError) Error() string { return "invalid query: " + e.Msg }

// UnsupportedOperationError reports an operation that the chosen transport
// cannot perform, such as live queries over the stateless transport.
type UnsupportedOperationError struct {
	Msg string
}

func (e *UnsupportedOperationError) Error() string { return "unsupported operation: " + e.Msg }
