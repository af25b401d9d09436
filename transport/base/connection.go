package base

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/goTNT/iproto"
	"github.com/ValentinKolb/goTNT/transport"
	"github.com/puzpuzpuz/xsync/v3"
)

const (
	defaultConnectTimeout       = 10 * time.Second
	defaultReconnectMaxAttempts = 10

	// writeQueueSize bounds the number of frames queued for the write pump.
	// A full queue suspends submitters instead of growing memory without
	// bound.
	writeQueueSize = 256
)

// errPeerClosed marks an orderly connection close by the remote side.
var errPeerClosed = errors.New("peer closed the connection")

// --------------------------------------------------------------------------
// Pending Requests
// --------------------------------------------------------------------------

// pendingRequest is one submitted request waiting for its response. The sync
// id is atomic because an idempotent resubmit after a reconnect assigns a
// fresh id while the caller still holds the original future.
type pendingRequest struct {
	sync atomic.Uint64

	req iproto.IRequest
	fut *transport.Future

	idempotent bool
	retried    bool // written only by the reconnect loop
}

// writeItem is one encoded frame handed to the write pump. The generation
// tags the session the frame was encoded for; the pump of a later session
// skips stale items since their requests already failed during teardown.
type writeItem struct {
	pr    *pendingRequest
	frame []byte
	gen   uint64
}

// --------------------------------------------------------------------------
// Client Connection
// --------------------------------------------------------------------------

// clientConnection manages one socket to one endpoint: the handshake, the
// pending request table, the read loop, the write pump and the reconnect
// loop. It is created and owned by a clientTransport.
type clientConnection struct {
	endpoint string
	parent   *clientTransport

	fsm     *transport.StateMachine
	pending *xsync.MapOf[uint64, *pendingRequest]

	nextSync   atomic.Uint64
	generation atomic.Uint64
	pendingCnt atomic.Int64

	writeCh chan writeItem

	stopCh   chan struct{}
	stopOnce sync.Once

	// dead is set once the connection gave up for good (reconnect budget
	// exhausted or credentials rejected); deadCh is closed at that point
	dead    atomic.Bool
	deadErr atomic.Value // error
	deadCh  chan struct{}

	// retryQueue holds idempotent requests rescued from a lost session; it
	// is only touched by the run goroutine
	retryQueue []*pendingRequest

	connMu   sync.Mutex
	conn     net.Conn
	reader   *bufio.Reader
	greeting *iproto.Greeting

	schemaVersion atomic.Uint64

	wg sync.WaitGroup
}

// newClientConnection creates a connection for the endpoint. It does not
// dial; the caller runs establish and starts the run loop.
func newClientConnection(parent *clientTransport, endpoint string) *clientConnection {
	c := &clientConnection{
		endpoint: endpoint,
		parent:   parent,
		fsm:      transport.NewStateMachine(endpoint),
		pending:  xsync.NewMapOf[uint64, *pendingRequest](),
		writeCh:  make(chan writeItem, writeQueueSize),
		stopCh:   make(chan struct{}),
		deadCh:   make(chan struct{}),
	}
	c.fsm.Subscribe(parent.onStateChange)
	return c
}

// --------------------------------------------------------------------------
// Session Establishment
// --------------------------------------------------------------------------

// establish dials the endpoint, reads the greeting, authenticates if
// credentials are configured and moves the connection to Ready. On any
// failure the state returns to Disconnected and the socket is closed.
func (c *clientConnection) establish() error {
	cfg := c.parent.config

	if err := c.fsm.Transition(transport.StateConnecting); err != nil {
		return err
	}

	timeout := time.Duration(cfg.ConnectTimeoutSecond) * time.Second
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	conn, err := c.parent.connector.Connect(c.endpoint, timeout)
	if err != nil {
		metricConnectErrs.Inc()
		_ = c.fsm.Transition(transport.StateDisconnected)
		return &transport.ConnectError{Endpoint: c.endpoint, Cause: err}
	}

	if err := c.parent.connector.UpgradeConnection(conn, cfg); err != nil {
		conn.Close()
		_ = c.fsm.Transition(transport.StateDisconnected)
		return &transport.ConnectError{Endpoint: c.endpoint, Cause: err}
	}

	// The whole handshake runs under the connect deadline
	_ = conn.SetDeadline(time.Now().Add(timeout))
	reader := bufio.NewReader(conn)

	banner := make([]byte, iproto.GreetingSize)
	if _, err := io.ReadFull(reader, banner); err != nil {
		conn.Close()
		_ = c.fsm.Transition(transport.StateDisconnected)
		return &transport.ConnectError{Endpoint: c.endpoint, Cause: fmt.Errorf("failed to read greeting: %v", err)}
	}
	greeting, err := iproto.ParseGreeting(banner)
	if err != nil {
		conn.Close()
		_ = c.fsm.Transition(transport.StateDisconnected)
		return &transport.ConnectError{Endpoint: c.endpoint, Cause: err}
	}

	if cfg.User != "" {
		if err := c.fsm.Transition(transport.StateAuthenticating); err != nil {
			conn.Close()
			return err
		}
		if err := c.authenticate(conn, reader, greeting.Salt); err != nil {
			conn.Close()
			_ = c.fsm.Transition(transport.StateDisconnected)
			return err
		}
	}

	_ = conn.SetDeadline(time.Time{})

	c.connMu.Lock()
	c.conn = conn
	c.reader = reader
	c.greeting = greeting
	c.connMu.Unlock()

	// A new generation invalidates frames still queued for the old session
	c.generation.Add(1)

	if err := c.fsm.Transition(transport.StateReady); err != nil {
		conn.Close()
		return err
	}

	Logger.Infof("connected to %s (%s)", c.endpoint, greeting.Version)
	return nil
}

// authenticate performs the chap-sha1 exchange in lock step on a fresh
// connection, before the read loop and write pump exist.
func (c *clientConnection) authenticate(conn net.Conn, reader *bufio.Reader, salt []byte) error {
	cfg := c.parent.config

	syncID := c.nextSync.Add(1)
	frame, err := iproto.Encode(iproto.NewAuthRequest(cfg.User, cfg.Password, salt), syncID)
	if err != nil {
		return err
	}
	if _, err := conn.Write(frame); err != nil {
		return &transport.ConnectError{Endpoint: c.endpoint, Cause: fmt.Errorf("failed to send auth request: %v", err)}
	}

	resp, err := readResponse(reader)
	if err != nil {
		return &transport.ConnectError{Endpoint: c.endpoint, Cause: fmt.Errorf("failed to read auth response: %v", err)}
	}
	if resp.Sync != syncID {
		return &transport.ConnectError{
			Endpoint: c.endpoint,
			Cause:    fmt.Errorf("auth response carries sync id %d, expected %d", resp.Sync, syncID),
		}
	}

	if err := resp.Err(); err != nil {
		var serverErr *iproto.ServerError
		if errors.As(err, &serverErr) && serverErr.IsAuthError() {
			return &transport.AuthError{User: cfg.User, Cause: err}
		}
		return &transport.ConnectError{Endpoint: c.endpoint, Cause: err}
	}
	return nil
}

// --------------------------------------------------------------------------
// Run Loop (serve / teardown / reconnect)
// --------------------------------------------------------------------------

// run drives the connection lifecycle until Close or until the connection is
// given up. established tells whether a session already exists (the initial
// connect may have failed, in which case run starts with a reconnect).
func (c *clientConnection) run(established bool) {
	defer c.wg.Done()
	defer c.failRetryQueue(transport.ErrClosed)

	for {
		if !established {
			if !c.reconnect() {
				return
			}
		}

		err := c.serve()
		c.teardown(err)

		if c.closed() {
			return
		}

		metricReconnects.Inc()
		established = false
	}
}

// reconnect re-establishes the session with capped exponential backoff. It
// returns false once the connection must not be used anymore: either Close
// was called, or the attempt budget is exhausted, or the server rejected the
// credentials (which no amount of retrying fixes).
func (c *clientConnection) reconnect() bool {
	cfg := c.parent.config

	maxAttempts := cfg.ReconnectMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultReconnectMaxAttempts
	}

	bo := newBackoff(cfg.ReconnectBaseDelayMs, cfg.ReconnectMaxDelayMs)
	attempts := 0
	for {
		select {
		case <-c.stopCh:
			return false
		case <-time.After(bo.next()):
		}

		err := c.establish()
		if err == nil {
			return true
		}

		var authErr *transport.AuthError
		if errors.As(err, &authErr) {
			c.kill(err)
			return false
		}

		attempts++
		Logger.Warningf("reconnect attempt %d/%d to %s failed: %v", attempts, maxAttempts, c.endpoint, err)
		if attempts >= maxAttempts {
			c.kill(transport.ErrUnreachable)
			return false
		}
	}
}

// serve runs one session: the write pump in its own goroutine and the read
// loop in the current one. It returns once the session is over, with the
// error that ended it.
func (c *clientConnection) serve() error {
	c.connMu.Lock()
	conn, reader := c.conn, c.reader
	c.connMu.Unlock()
	gen := c.generation.Load()

	pumpStop := make(chan struct{})
	pumpDone := make(chan struct{})
	pumpErr := make(chan error, 1)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		pumpErr <- c.writePump(conn, gen, pumpStop)
		close(pumpDone)
	}()

	// Resubmission happens with the pump already draining the queue, so any
	// number of rescued requests can be queued without stalling this loop
	c.resubmitIdempotent(gen, pumpDone)

	err := c.readLoop(reader)

	close(pumpStop)
	conn.Close()

	// A pump failure closes the socket, which surfaces in the read loop as
	// an unspecific read error; prefer the pump's own error then
	select {
	case perr := <-pumpErr:
		if perr != nil && isClosedConnError(err) {
			err = perr
		}
	default:
	}
	return err
}

// teardown cleans up after a lost (or closed) session: the state changes
// first so new submissions reject themselves, then every pending request is
// resolved exactly once. Requests explicitly marked idempotent are rescued
// for resubmission instead when the configuration allows it.
func (c *clientConnection) teardown(reason error) {
	_ = c.fsm.Transition(transport.StateDisconnected)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.reader = nil
		c.greeting = nil
	}
	c.connMu.Unlock()
	c.schemaVersion.Store(0)

	failErr := transport.ErrConnectionLost
	rescue := c.parent.config.RetryIdempotent
	if c.closed() {
		failErr = transport.ErrClosed
		rescue = false
	}

	c.pending.Range(func(syncID uint64, pr *pendingRequest) bool {
		if _, ok := c.pending.LoadAndDelete(syncID); !ok {
			return true
		}
		c.pendingCnt.Add(-1)
		inflightRequests.Add(-1)

		if rescue && pr.idempotent && !pr.retried && !pr.fut.Resolved() {
			pr.retried = true
			c.retryQueue = append(c.retryQueue, pr)
			return true
		}

		metricErrors.Inc()
		pr.fut.Resolve(nil, failErr)
		return true
	})

	if reason != nil && reason != errPeerClosed && !c.closed() {
		Logger.Warningf("connection to %s lost: %v", c.endpoint, reason)
	} else {
		Logger.Infof("connection to %s closed", c.endpoint)
	}
}

// resubmitIdempotent re-encodes the rescued requests with fresh sync ids and
// queues them on the new session. The callers' futures stay valid. It must
// only run while the session's write pump is active: the pump is the consumer
// that keeps the queue from filling up under it. A pump that dies mid-way
// (pumpDone) ends the resubmission; every request is registered in the
// pending table before it is queued, so the teardown fan-out resolves the
// leftovers.
func (c *clientConnection) resubmitIdempotent(gen uint64, pumpDone <-chan struct{}) {
	queue := c.retryQueue
	c.retryQueue = nil
	if len(queue) == 0 {
		return
	}

	for _, pr := range queue {
		if pr.fut.Resolved() {
			continue // canceled while disconnected
		}

		syncID := c.nextSync.Add(1)
		frame, err := iproto.Encode(pr.req, syncID)
		if err != nil {
			pr.fut.Resolve(nil, err)
			continue
		}
		pr.sync.Store(syncID)

		if _, loaded := c.pending.LoadOrStore(syncID, pr); loaded {
			pr.fut.Resolve(nil, transport.ErrSyncReuse)
			continue
		}
		c.pendingCnt.Add(1)
		inflightRequests.Add(1)

		select {
		case c.writeCh <- writeItem{pr: pr, frame: frame, gen: gen}:
			Logger.Infof("resubmitted idempotent %s request on %s with new sync id %d",
				pr.req.Type(), c.endpoint, syncID)
		case <-c.stopCh:
			if _, ok := c.pending.LoadAndDelete(syncID); ok {
				c.pendingCnt.Add(-1)
				inflightRequests.Add(-1)
			}
			pr.fut.Resolve(nil, transport.ErrClosed)
		case <-pumpDone:
			// The session died already; the pending entry just registered
			// is resolved by the teardown fan-out
		}
	}
}

// kill marks the connection permanently unusable and fails everything that
// still waits on it.
func (c *clientConnection) kill(err error) {
	Logger.Errorf("giving up on %s: %v", c.endpoint, err)
	c.deadErr.Store(err)
	c.dead.Store(true)
	close(c.deadCh)
	c.failRetryQueue(err)
}

// failRetryQueue resolves rescued requests that will never be resubmitted.
func (c *clientConnection) failRetryQueue(err error) {
	for _, pr := range c.retryQueue {
		metricErrors.Inc()
		pr.fut.Resolve(nil, err)
	}
	c.retryQueue = nil
}

// deadError returns the terminal error of a dead connection.
func (c *clientConnection) deadError() error {
	if err, ok := c.deadErr.Load().(error); ok {
		return err
	}
	return transport.ErrUnreachable
}

// close shuts the connection down and waits for its goroutines to finish.
func (c *clientConnection) close() {
	c.stopOnce.Do(func() {
		_ = c.fsm.Transition(transport.StateClosing)
		close(c.stopCh)
		c.connMu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.connMu.Unlock()
	})
	c.wg.Wait()
}

// closed reports whether close was called.
func (c *clientConnection) closed() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

// --------------------------------------------------------------------------
// Request Submission
// --------------------------------------------------------------------------

// submit encodes the request, registers it in the pending table and queues
// the frame for the write pump. It never blocks on the socket itself; a full
// write queue suspends the submitter until the pump catches up.
func (c *clientConnection) submit(req iproto.IRequest, opts *transport.RequestOptions) *transport.Future {
	if c.dead.Load() {
		return resolvedFuture(c.deadError())
	}

	syncID := c.nextSync.Add(1)
	frame, err := iproto.Encode(req, syncID)
	if err != nil {
		return resolvedFuture(err)
	}

	pr := &pendingRequest{req: req}
	pr.sync.Store(syncID)
	if opts != nil {
		pr.idempotent = opts.Idempotent
	}
	pr.fut = transport.NewFuture(syncID, func() {
		if _, ok := c.pending.LoadAndDelete(pr.sync.Load()); ok {
			c.pendingCnt.Add(-1)
			inflightRequests.Add(-1)
		}
	})

	if _, loaded := c.pending.LoadOrStore(syncID, pr); loaded {
		// Only possible after the sync counter wrapped around while a very
		// old request is still pending
		pr.fut.Resolve(nil, transport.ErrSyncReuse)
		return pr.fut
	}
	c.pendingCnt.Add(1)
	inflightRequests.Add(1)
	metricRequests.Inc()

	// Registered first, then the state check: teardown flips the state
	// before it fans out over the table, so one of the two sides always
	// resolves this request
	if !c.fsm.Is(transport.StateReady) {
		if _, ok := c.pending.LoadAndDelete(syncID); ok {
			c.pendingCnt.Add(-1)
			inflightRequests.Add(-1)
			pr.fut.Resolve(nil, transport.ErrNotReady)
		}
		return pr.fut
	}

	select {
	case c.writeCh <- writeItem{pr: pr, frame: frame, gen: c.generation.Load()}:
	case <-c.stopCh:
		if _, ok := c.pending.LoadAndDelete(syncID); ok {
			c.pendingCnt.Add(-1)
			inflightRequests.Add(-1)
		}
		pr.fut.Resolve(nil, transport.ErrClosed)
	case <-c.deadCh:
		if _, ok := c.pending.LoadAndDelete(syncID); ok {
			c.pendingCnt.Add(-1)
			inflightRequests.Add(-1)
		}
		pr.fut.Resolve(nil, c.deadError())
	}
	return pr.fut
}

// --------------------------------------------------------------------------
// Write Pump
// --------------------------------------------------------------------------

// writePump is the single writer of the socket. Frames are written back to
// back in submission order; a frame from an older generation or for an
// already resolved request is skipped.
func (c *clientConnection) writePump(conn net.Conn, gen uint64, stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		case <-c.stopCh:
			return nil
		case item := <-c.writeCh:
			if item.gen != gen || item.pr.fut.Resolved() {
				continue
			}

			// Partial writes keep the cursor so the frame is never
			// interleaved or half-abandoned
			for written := 0; written < len(item.frame); {
				n, err := conn.Write(item.frame[written:])
				written += n
				if err != nil {
					conn.Close()
					return fmt.Errorf("write failed: %v", err)
				}
			}
		}
	}
}

// --------------------------------------------------------------------------
// Read Loop
// --------------------------------------------------------------------------

// readLoop decodes response frames until the session ends and resolves the
// matching pending requests. A decode error is fatal for the session: the
// framing cannot be trusted anymore, so the socket is dropped and every
// in-flight request fails over to the reconnect handling.
func (c *clientConnection) readLoop(reader *bufio.Reader) error {
	for {
		resp, err := readResponse(reader)
		if err != nil {
			if err == io.EOF {
				return errPeerClosed
			}
			if isDecodeError(err) {
				Logger.Errorf("corrupt byte stream from %s, dropping connection: %v", c.endpoint, err)
			}
			return err
		}

		if resp.SchemaVersion != 0 {
			if prev := c.schemaVersion.Swap(resp.SchemaVersion); prev != 0 && prev != resp.SchemaVersion {
				Logger.Debugf("schema version on %s changed %d -> %d", c.endpoint, prev, resp.SchemaVersion)
			}
		}

		pr, ok := c.pending.LoadAndDelete(resp.Sync)
		if !ok {
			// Usually a response for a canceled request
			metricDropped.Inc()
			Logger.Debugf("dropping response with unknown sync id %d from %s", resp.Sync, c.endpoint)
			continue
		}
		c.pendingCnt.Add(-1)
		inflightRequests.Add(-1)

		if err := resp.Err(); err != nil {
			metricErrors.Inc()
			pr.fut.Resolve(resp, err)
		} else {
			pr.fut.Resolve(resp, nil)
		}
	}
}

// readResponse reads exactly one frame from the stream and decodes it. It
// returns io.EOF only for a clean close between frames; a close in the
// middle of a frame surfaces as io.ErrUnexpectedEOF.
func readResponse(reader *bufio.Reader) (*iproto.Response, error) {
	marker, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	prefixLen, err := iproto.PrefixSize(marker)
	if err != nil {
		return nil, err
	}

	prefix := make([]byte, prefixLen)
	prefix[0] = marker
	if _, err := io.ReadFull(reader, prefix[1:]); err != nil {
		return nil, err
	}

	length, _, err := iproto.ParseLength(prefix)
	if err != nil {
		return nil, err
	}
	if length > iproto.MaxFrameSize {
		return nil, &iproto.DecodingError{
			Cause: fmt.Errorf("frame declares %d payload bytes, limit is %d", length, iproto.MaxFrameSize),
		}
	}

	frame := make([]byte, prefixLen+length)
	copy(frame, prefix)
	if _, err := io.ReadFull(reader, frame[prefixLen:]); err != nil {
		return nil, err
	}

	resp, consumed, err := iproto.Decode(frame)
	if err != nil {
		return nil, err
	}
	if resp == nil || consumed != len(frame) {
		return nil, &iproto.DecodingError{Cause: fmt.Errorf("frame length mismatch")}
	}
	return resp, nil
}

// isDecodeError reports whether err marks a corrupt byte stream.
func isDecodeError(err error) bool {
	var decodeErr *iproto.DecodingError
	return errors.As(err, &decodeErr)
}

// isClosedConnError reports whether err is the unspecific error a read on a
// locally closed socket produces.
func isClosedConnError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "use of closed network connection")
}

// resolvedFuture creates a future that already failed with err.
func resolvedFuture(err error) *transport.Future {
	fut := transport.NewFuture(0, nil)
	fut.Resolve(nil, err)
	return fut
}
