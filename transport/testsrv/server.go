package testsrv

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/ValentinKolb/goTNT/iproto"
	"github.com/vmihailenco/msgpack/v5"
)

// serverVersion is the version line sent in the greeting.
const serverVersion = "goTNT-testsrv 1.0 (Binary)"

// --------------------------------------------------------------------------
// Decoded Requests
// --------------------------------------------------------------------------

// Request is one decoded request frame as seen by the server.
type Request struct {
	Type iproto.RequestType
	Sync uint64

	body map[int64]msgpack.RawMessage
}

// Field returns the raw body value stored under the given key.
func (r *Request) Field(key uint64) (msgpack.RawMessage, bool) {
	raw, ok := r.body[int64(key)]
	return raw, ok
}

// FieldInto unmarshals the body value stored under the given key into v.
func (r *Request) FieldInto(key uint64, v interface{}) error {
	raw, ok := r.body[int64(key)]
	if !ok {
		return fmt.Errorf("testsrv: request body has no key 0x%02x", key)
	}
	return msgpack.Unmarshal(raw, v)
}

// Handler scripts the server's reaction to one request. It runs in the
// goroutine of the connection; spawn a goroutine inside the handler to
// answer out of order or with a delay. Auth requests never reach the
// handler, they are validated by the server itself.
type Handler func(c *Conn, req *Request)

// --------------------------------------------------------------------------
// Server
// --------------------------------------------------------------------------

// Server is a scriptable in-process peer speaking the binary protocol.
type Server struct {
	// Users maps user names to passwords for the auth exchange. A nil map
	// accepts any credentials.
	Users map[string]string

	// SchemaVersion is stamped into every response header.
	SchemaVersion uint64

	// Handler scripts responses; nil answers every request with an empty OK.
	Handler Handler

	ln   net.Listener
	salt []byte

	mu     sync.Mutex
	conns  map[*Conn]struct{}
	closed bool

	wg sync.WaitGroup
}

// New starts a server on a random loopback port.
func New() (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		ln.Close()
		return nil, err
	}

	s := &Server{
		ln:    ln,
		salt:  salt,
		conns: make(map[*Conn]struct{}),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr returns the endpoint the server listens on ("127.0.0.1:port").
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// DropConnections closes every established connection but keeps listening,
// simulating a server restart as seen by the client.
func (s *Server) DropConnections() {
	s.mu.Lock()
	for c := range s.conns {
		c.conn.Close()
	}
	s.mu.Unlock()
}

// Close stops the listener and closes all connections.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.ln.Close()
	s.DropConnections()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}

		c := &Conn{srv: s, conn: conn}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[c] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			c.serve()
			s.mu.Lock()
			delete(s.conns, c)
			s.mu.Unlock()
		}()
	}
}

// --------------------------------------------------------------------------
// Connection
// --------------------------------------------------------------------------

// Conn is one accepted connection. Handlers use it to send responses; all
// sends are safe for concurrent use.
type Conn struct {
	srv  *Server
	conn net.Conn

	writeMu sync.Mutex
}

// Reply sends a successful response carrying data (which may be nil).
func (c *Conn) Reply(sync uint64, data interface{}) {
	frame, err := iproto.EncodeResponse(sync, iproto.ResponseCodeOK, c.srv.SchemaVersion, data, "")
	if err != nil {
		panic(fmt.Sprintf("testsrv: failed to encode response: %v", err))
	}
	c.SendRaw(frame)
}

// ReplyError sends an error response with the given server error code.
func (c *Conn) ReplyError(sync uint64, errCode uint32, msg string) {
	frame, err := iproto.EncodeResponse(sync, iproto.ErrorCode(errCode), c.srv.SchemaVersion, nil, msg)
	if err != nil {
		panic(fmt.Sprintf("testsrv: failed to encode error response: %v", err))
	}
	c.SendRaw(frame)
}

// SendRaw writes arbitrary bytes to the connection. Tests use it to inject
// malformed frames.
func (c *Conn) SendRaw(raw []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, _ = c.conn.Write(raw)
}

// Close drops the connection mid-session.
func (c *Conn) Close() {
	c.conn.Close()
}

// serve sends the greeting and then processes request frames until the
// connection ends.
func (c *Conn) serve() {
	defer c.conn.Close()

	if _, err := c.conn.Write(c.srv.greetingBanner()); err != nil {
		return
	}

	reader := bufio.NewReader(c.conn)
	for {
		req, err := readRequest(reader)
		if err != nil {
			return
		}

		if req.Type == iproto.TypeAuth {
			c.handleAuth(req)
			continue
		}

		if c.srv.Handler != nil {
			c.srv.Handler(c, req)
			continue
		}
		c.Reply(req.Sync, nil)
	}
}

// handleAuth validates the chap-sha1 exchange against the configured users.
func (c *Conn) handleAuth(req *Request) {
	if c.srv.Users == nil {
		c.Reply(req.Sync, nil)
		return
	}

	var user string
	if err := req.FieldInto(iproto.KeyUserName, &user); err != nil {
		c.ReplyError(req.Sync, iproto.ErrCodeInvalidMsgpack, "auth request carries no user name")
		return
	}

	password, ok := c.srv.Users[user]
	if !ok {
		c.ReplyError(req.Sync, iproto.ErrCodeNoSuchUser, fmt.Sprintf("user '%s' is not found", user))
		return
	}

	var tuple []string
	if err := req.FieldInto(iproto.KeyTuple, &tuple); err != nil || len(tuple) != 2 || tuple[0] != "chap-sha1" {
		c.ReplyError(req.Sync, iproto.ErrCodeInvalidMsgpack, "malformed auth tuple")
		return
	}

	expected := iproto.Scramble(c.srv.salt, password)
	if !bytes.Equal([]byte(tuple[1]), expected) {
		c.ReplyError(req.Sync, iproto.ErrCodePasswordMismatch,
			fmt.Sprintf("incorrect password supplied for user '%s'", user))
		return
	}
	c.Reply(req.Sync, nil)
}

// greetingBanner builds the fixed-size greeting: a version line and the
// base64 encoded session salt, each padded to 64 bytes.
func (s *Server) greetingBanner() []byte {
	banner := make([]byte, iproto.GreetingSize)
	for i := range banner {
		banner[i] = ' '
	}
	copy(banner, serverVersion)
	banner[63] = '\n'
	copy(banner[64:], base64.StdEncoding.EncodeToString(s.salt))
	banner[127] = '\n'
	return banner
}

// readRequest reads and decodes exactly one request frame.
func readRequest(reader *bufio.Reader) (*Request, error) {
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

	payload := make([]byte, length)
	if _, err := io.ReadFull(reader, payload); err != nil {
		return nil, err
	}

	dec := msgpack.NewDecoder(bytes.NewReader(payload))
	var header map[int64]uint64
	if err := dec.Decode(&header); err != nil {
		return nil, fmt.Errorf("testsrv: bad request header: %v", err)
	}

	req := &Request{
		Type: iproto.RequestType(header[iproto.KeyRequestType]),
		Sync: header[iproto.KeySync],
	}

	var body map[int64]msgpack.RawMessage
	if err := dec.Decode(&body); err != nil && err != io.EOF {
		return nil, fmt.Errorf("testsrv: bad request body: %v", err)
	}
	req.body = body
	return req, nil
}
