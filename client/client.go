package client

import (
	"context"

	"github.com/ValentinKolb/goTNT/common"
	"github.com/ValentinKolb/goTNT/iproto"
	"github.com/ValentinKolb/goTNT/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("client")

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IClient is the typed surface of the database client.
type IClient interface {
	// Ping checks liveness of the server
	Ping(ctx context.Context) error

	// Call invokes a stored function on the server
	Call(ctx context.Context, function string, args interface{}) (*iproto.Response, error)

	// Eval executes an expression on the server
	Eval(ctx context.Context, expr string, args interface{}) (*iproto.Response, error)

	// Space resolves a space by name against the server's schema
	Space(ctx context.Context, name string) (*Space, error)

	// SpaceByID returns a space handle without schema resolution
	SpaceByID(id uint32) *Space

	// InvalidateSchema flushes the cached name -> id resolutions
	InvalidateSchema()

	// IsConnected reports whether at least one connection is ready
	IsConnected() bool

	// Close shuts the underlying transport down
	Close() error
}

// --------------------------------------------------------------------------
// Client Factory Method
// --------------------------------------------------------------------------

// New connects the given transport and returns a client on top of it. The
// client owns the transport from here on; Close closes it.
func New(config common.ClientConfig, tp transport.IClientTransport) (IClient, error) {
	if err := tp.Connect(config); err != nil {
		return nil, err
	}

	c := &client{
		config:    config,
		transport: tp,
		spaces:    xsync.NewMapOf[string, uint32](),
		indexes:   xsync.NewMapOf[string, uint32](),
	}

	// A reconnect may observe a changed schema, so cached resolutions are
	// only trusted for the session they were made in
	tp.Subscribe(func(endpoint string, from, to transport.State) {
		if to == transport.StateReady {
			c.InvalidateSchema()
		}
	})

	return c, nil
}

// --------------------------------------------------------------------------
// Client Implementation
// --------------------------------------------------------------------------

type client struct {
	config    common.ClientConfig
	transport transport.IClientTransport

	// name -> id caches, filled lazily by schema resolution
	spaces  *xsync.MapOf[string, uint32]
	indexes *xsync.MapOf[string, uint32]
}

func (c *client) Ping(ctx context.Context) error {
	_, err := c.transport.Do(ctx, iproto.NewPingRequest())
	return err
}

func (c *client) Call(ctx context.Context, function string, args interface{}) (*iproto.Response, error) {
	return c.transport.Do(ctx, iproto.NewCallRequest(function, args))
}

func (c *client) Eval(ctx context.Context, expr string, args interface{}) (*iproto.Response, error) {
	return c.transport.Do(ctx, iproto.NewEvalRequest(expr, args))
}

func (c *client) Space(ctx context.Context, name string) (*Space, error) {
	id, err := c.resolveSpace(ctx, name)
	if err != nil {
		return nil, err
	}
	return &Space{ID: id, Name: name, client: c}, nil
}

func (c *client) SpaceByID(id uint32) *Space {
	return &Space{ID: id, client: c}
}

func (c *client) InvalidateSchema() {
	c.spaces.Clear()
	c.indexes.Clear()
}

func (c *client) IsConnected() bool {
	return c.transport.IsConnected()
}

func (c *client) Close() error {
	return c.transport.Close()
}
