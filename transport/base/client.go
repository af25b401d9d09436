package base

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/goTNT/common"
	"github.com/ValentinKolb/goTNT/iproto"
	"github.com/ValentinKolb/goTNT/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("transport/base")

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// clientTransport is the connection pool: it owns the connections, routes
// submissions to a ready one and fans state transitions out to subscribers.
type clientTransport struct {
	connector IClientConnector
	config    common.ClientConfig

	connMu      sync.RWMutex
	connections []*clientConnection

	nextConnIdx atomic.Uint64

	watcherMu sync.Mutex
	watchers  []transport.StateWatcher

	// readyCh is closed and replaced on every state transition; submitters
	// queued by QueueWhileReconnecting wait on it and then re-check the pool
	readyMu sync.Mutex
	readyCh chan struct{}

	closed atomic.Bool
}

// NewBaseClientTransport creates a client transport on top of the given
// connector. Connect must be called before the transport is used.
func NewBaseClientTransport(connector IClientConnector) transport.IClientTransport {
	return &clientTransport{
		connector: connector,
		readyCh:   make(chan struct{}),
	}
}

// Connect validates the configuration and establishes the initial
// connections. A connection whose initial attempt fails with anything but an
// authentication error stays in the pool and keeps reconnecting in the
// background; rejected credentials abort the whole Connect since no
// connection could ever succeed with them.
func (t *clientTransport) Connect(config common.ClientConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}

	t.closeConnections()
	t.closed.Store(false)
	t.config = config

	perEndpoint := config.ConnectionsPerEndpoint
	if perEndpoint <= 0 {
		perEndpoint = 1
	}

	var conns []*clientConnection
	established := 0
	for _, endpoint := range config.Endpoints {
		for i := 0; i < perEndpoint; i++ {
			c := newClientConnection(t, endpoint)

			err := c.establish()
			if err != nil {
				var authErr *transport.AuthError
				if errors.As(err, &authErr) {
					for _, prev := range conns {
						prev.close()
					}
					return err
				}
				Logger.Warningf("initial connect to %s failed, retrying in the background: %v", endpoint, err)
			} else {
				established++
			}

			c.wg.Add(1)
			go c.run(err == nil)
			conns = append(conns, c)
		}
	}

	if established == 0 {
		for _, c := range conns {
			c.close()
		}
		return transport.ErrUnreachable
	}

	t.connMu.Lock()
	t.connections = conns
	t.connMu.Unlock()

	Logger.Infof("client transport (%s) connected, %d/%d connections established",
		t.connector.GetName(), established, len(conns))
	return nil
}

// Do submits the request and waits for the response. The per-request timeout
// from the configuration applies in addition to the caller's context. While
// no connection is ready and QueueWhileReconnecting is enabled, Do waits for
// the pool to recover instead of failing fast.
func (t *clientTransport) Do(ctx context.Context, req iproto.IRequest) (*iproto.Response, error) {
	if t.closed.Load() {
		return nil, transport.ErrClosed
	}

	if d := time.Duration(t.config.TimeoutSecond) * time.Second; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	conn, err := t.pickConnection()
	if err == transport.ErrNotReady && t.config.QueueWhileReconnecting {
		conn, err = t.waitReady(ctx)
	}
	if err != nil {
		return nil, mapContextErr(err)
	}

	resp, err := conn.submit(req, nil).WaitContext(ctx)
	return resp, mapContextErr(err)
}

// DoAsync submits the request and returns its future immediately. Unlike Do
// it never queues: with no ready connection the future fails fast with
// ErrNotReady, since an async caller has its own notion of waiting.
func (t *clientTransport) DoAsync(req iproto.IRequest, opts *transport.RequestOptions) *transport.Future {
	if t.closed.Load() {
		return resolvedFuture(transport.ErrClosed)
	}
	conn, err := t.pickConnection()
	if err != nil {
		return resolvedFuture(err)
	}
	return conn.submit(req, opts)
}

// Subscribe registers a watcher for the state transitions of every
// connection of the pool, current and future.
func (t *clientTransport) Subscribe(w transport.StateWatcher) {
	t.watcherMu.Lock()
	defer t.watcherMu.Unlock()
	t.watchers = append(t.watchers, w)
}

// IsConnected reports whether at least one connection is ready.
func (t *clientTransport) IsConnected() bool {
	t.connMu.RLock()
	defer t.connMu.RUnlock()
	for _, c := range t.connections {
		if c.fsm.Is(transport.StateReady) {
			return true
		}
	}
	return false
}

// Close shuts every connection down. Pending requests resolve with ErrClosed.
func (t *clientTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.closeConnections()
	Logger.Infof("client transport (%s) closed", t.connector.GetName())
	return nil
}

// closeConnections empties the pool and closes the removed connections.
func (t *clientTransport) closeConnections() {
	t.connMu.Lock()
	conns := t.connections
	t.connections = nil
	t.connMu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

// --------------------------------------------------------------------------
// Connection Selection
// --------------------------------------------------------------------------

// pickConnection selects a ready connection according to the configured
// strategy. With no ready connection it distinguishes a pool that may still
// recover (ErrNotReady) from one where every connection gave up for good
// (ErrUnreachable).
func (t *clientTransport) pickConnection() (*clientConnection, error) {
	t.connMu.RLock()
	conns := t.connections
	t.connMu.RUnlock()

	if len(conns) == 0 {
		return nil, transport.ErrClosed
	}

	ready := make([]*clientConnection, 0, len(conns))
	alive := 0
	for _, c := range conns {
		if c.dead.Load() {
			continue
		}
		alive++
		if c.fsm.Is(transport.StateReady) {
			ready = append(ready, c)
		}
	}

	if len(ready) == 0 {
		if alive == 0 {
			return nil, transport.ErrUnreachable
		}
		return nil, transport.ErrNotReady
	}

	if t.config.Selection == common.SelectLeastPending {
		best := ready[0]
		for _, c := range ready[1:] {
			if c.pendingCnt.Load() < best.pendingCnt.Load() {
				best = c
			}
		}
		return best, nil
	}

	// round-robin (the default)
	idx := t.nextConnIdx.Add(1)
	return ready[idx%uint64(len(ready))], nil
}

// waitReady blocks until a connection becomes ready or the context ends. The
// signal channel is fetched before the pool is checked so a transition
// between the check and the wait is never missed.
func (t *clientTransport) waitReady(ctx context.Context) (*clientConnection, error) {
	for {
		signal := t.readySignal()

		conn, err := t.pickConnection()
		if err == nil {
			return conn, nil
		}
		if err != transport.ErrNotReady {
			return nil, err
		}

		select {
		case <-signal:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// readySignal returns the channel closed on the next state transition.
func (t *clientTransport) readySignal() <-chan struct{} {
	t.readyMu.Lock()
	defer t.readyMu.Unlock()
	return t.readyCh
}

// onStateChange is registered on every connection's state machine: it wakes
// queued submitters and fans the transition out to the subscribers.
func (t *clientTransport) onStateChange(endpoint string, from, to transport.State) {
	if to == transport.StateReady {
		readyConnections.Add(1)
	} else if from == transport.StateReady {
		readyConnections.Add(-1)
	}

	t.readyMu.Lock()
	close(t.readyCh)
	t.readyCh = make(chan struct{})
	t.readyMu.Unlock()

	t.watcherMu.Lock()
	watchers := make([]transport.StateWatcher, len(t.watchers))
	copy(watchers, t.watchers)
	t.watcherMu.Unlock()

	for _, w := range watchers {
		w(endpoint, from, to)
	}
}

// mapContextErr translates a context deadline into the transport's timeout
// error; everything else passes through.
func mapContextErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return transport.ErrTimeout
	}
	return err
}
