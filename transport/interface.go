package transport

import (
	"context"

	"github.com/ValentinKolb/goTNT/common"
	"github.com/ValentinKolb/goTNT/iproto"
)

// --------------------------------------------------------------------------
// Request Options
// --------------------------------------------------------------------------

// RequestOptions carries per-request settings.
type RequestOptions struct {
	// Idempotent declares that resubmitting this request after a
	// connection loss is safe. Idempotency is never inferred from the
	// request type - it is an explicit statement by the caller. The
	// transport acts on it only when the client configuration enables
	// RetryIdempotent.
	Idempotent bool
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IClientTransport is the interface for the client transport: it owns the
// connection pool, the request multiplexing and the reconnect handling.
type IClientTransport interface {
	// Connect initializes the transport with the given configuration and
	// establishes the initial connections
	Connect(config common.ClientConfig) error

	// Do submits a request and waits for its response. The context cancels
	// or times out the wait; the configured request timeout applies in
	// addition
	Do(ctx context.Context, req iproto.IRequest) (*iproto.Response, error)

	// DoAsync submits a request and returns immediately with a Future.
	// opts may be nil
	DoAsync(req iproto.IRequest, opts *RequestOptions) *Future

	// Subscribe registers a watcher for the state transitions of all
	// connections of the pool (current and future)
	Subscribe(w StateWatcher)

	// IsConnected reports whether at least one connection is ready
	IsConnected() bool

	// Close closes all connections; every pending request resolves with
	// ErrClosed or ErrConnectionLost
	Close() error
}
