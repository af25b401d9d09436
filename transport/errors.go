package transport

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Sentinel Errors
// --------------------------------------------------------------------------

var (
	// ErrClosed is returned for submissions after Close was called
	ErrClosed = errors.New("transport: client is closed")

	// ErrConnectionLost resolves every request that was in flight when its
	// connection failed. The request may or may not have taken effect on
	// the server - retrying is the caller's decision
	ErrConnectionLost = errors.New("transport: connection lost")

	// ErrUnreachable is returned once the reconnect budget of every
	// connection is exhausted
	ErrUnreachable = errors.New("transport: endpoint unreachable, reconnect budget exhausted")

	// ErrNotReady is returned for submissions while no connection is ready
	// and queueing is disabled
	ErrNotReady = errors.New("transport: no ready connection")

	// ErrTimeout is returned when the configured request timeout expires
	ErrTimeout = errors.New("transport: request timed out")

	// ErrCanceled resolves a request that was canceled by its caller
	ErrCanceled = errors.New("transport: request canceled")

	// ErrSyncReuse rejects a submission whose sync id is still occupied by
	// an older pending request; only possible after the sync counter
	// wrapped around
	ErrSyncReuse = errors.New("transport: sync id is still in flight")
)

// --------------------------------------------------------------------------
// Structured Errors
// --------------------------------------------------------------------------

// ConnectError reports a failed connection attempt to a single endpoint.
type ConnectError struct {
	Endpoint string
	Cause    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("transport: failed to connect to %s: %v", e.Endpoint, e.Cause)
}

func (e *ConnectError) Unwrap() error { return e.Cause }

// AuthError reports rejected credentials. It is terminal for the affected
// connection and is never retried automatically.
type AuthError struct {
	User  string
	Cause error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("transport: authentication failed for user %q: %v", e.User, e.Cause)
}

func (e *AuthError) Unwrap() error { return e.Cause }
