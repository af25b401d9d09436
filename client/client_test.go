package client_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/goTNT/client"
	"github.com/ValentinKolb/goTNT/common"
	"github.com/ValentinKolb/goTNT/iproto"
	"github.com/ValentinKolb/goTNT/transport/tcp"
	"github.com/ValentinKolb/goTNT/transport/testsrv"
	"github.com/vmihailenco/msgpack/v5"
)

// --------------------------------------------------------------------------
// Scripted Schema
// --------------------------------------------------------------------------

const (
	usersSpaceID   = 512
	usersNameIndex = 1
)

// schemaHandler scripts a server with one space "users" (id 512) carrying a
// secondary index "name" (id 1). It counts the schema lookups it serves.
type schemaHandler struct {
	mu      sync.Mutex
	tuples  [][]interface{}
	lookups atomic.Int64
}

func (h *schemaHandler) handle(c *testsrv.Conn, req *testsrv.Request) {
	var spaceID uint32
	_ = req.FieldInto(iproto.KeySpaceID, &spaceID)

	switch {
	case req.Type == iproto.TypeSelect && spaceID == iproto.VSpaceID:
		h.lookups.Add(1)
		var key []string
		_ = req.FieldInto(iproto.KeyKey, &key)
		if len(key) == 1 && key[0] == "users" {
			c.Reply(req.Sync, [][]interface{}{{usersSpaceID, 1, "users", "memtx"}})
		} else {
			c.Reply(req.Sync, [][]interface{}{})
		}

	case req.Type == iproto.TypeSelect && spaceID == iproto.VIndexID:
		var key []msgpack.RawMessage
		_ = req.FieldInto(iproto.KeyKey, &key)
		var name string
		if len(key) == 2 {
			_ = msgpack.Unmarshal(key[1], &name)
		}
		if name == "name" {
			c.Reply(req.Sync, [][]interface{}{{usersSpaceID, usersNameIndex, "name", "tree"}})
		} else {
			c.Reply(req.Sync, [][]interface{}{})
		}

	case req.Type == iproto.TypeInsert && spaceID == usersSpaceID:
		var tuple []interface{}
		_ = req.FieldInto(iproto.KeyTuple, &tuple)
		h.mu.Lock()
		h.tuples = append(h.tuples, tuple)
		h.mu.Unlock()
		c.Reply(req.Sync, [][]interface{}{tuple})

	case req.Type == iproto.TypeSelect && spaceID == usersSpaceID:
		h.mu.Lock()
		tuples := h.tuples
		h.mu.Unlock()
		c.Reply(req.Sync, tuples)

	case req.Type == iproto.TypeDelete && spaceID == usersSpaceID:
		c.Reply(req.Sync, [][]interface{}{})

	default:
		c.ReplyError(req.Sync, iproto.ErrCodeNoSuchSpace, "no such space")
	}
}

// newTestClient starts a scripted server and connects a client to it.
func newTestClient(t *testing.T, mutate func(*common.ClientConfig)) (client.IClient, *testsrv.Server, *schemaHandler) {
	t.Helper()

	srv, err := testsrv.New()
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(srv.Close)

	h := &schemaHandler{}
	srv.Handler = h.handle

	cfg := common.ClientConfig{
		Endpoints:            []string{srv.Addr()},
		ConnectTimeoutSecond: 5,
		ReconnectBaseDelayMs: 1,
		ReconnectMaxDelayMs:  50,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	c, err := client.New(cfg, tcp.NewTCPClientTransport())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, srv, h
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestPing(t *testing.T) {
	srv, err := testsrv.New()
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer srv.Close()

	cfg := common.ClientConfig{
		Endpoints:            []string{srv.Addr()},
		ConnectTimeoutSecond: 5,
	}
	c, err := client.New(cfg, tcp.NewTCPClientTransport())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer c.Close()

	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("ping failed: %v", err)
	}
	if !c.IsConnected() {
		t.Error("client reports not connected")
	}
}

func TestSpaceOperations(t *testing.T) {
	c, _, _ := newTestClient(t, nil)
	ctx := context.Background()

	users, err := c.Space(ctx, "users")
	if err != nil {
		t.Fatalf("failed to resolve space: %v", err)
	}
	if users.ID != usersSpaceID || users.Name != "users" {
		t.Fatalf("resolved space to (%d, %q)", users.ID, users.Name)
	}

	if _, err := users.Insert(ctx, []interface{}{1, "alice"}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if _, err := users.Insert(ctx, []interface{}{2, "bob"}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	// Select through the secondary index resolves its name first
	resp, err := users.Select(ctx, "name", iproto.IterEq, []interface{}{"alice"}, 10, 0)
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	var rows [][]interface{}
	if err := resp.DataInto(&rows); err != nil {
		t.Fatalf("failed to decode rows: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("got %d rows, expected 2", len(rows))
	}
}

func TestSpaceNotFound(t *testing.T) {
	c, _, _ := newTestClient(t, nil)

	if _, err := c.Space(context.Background(), "missing"); err == nil {
		t.Error("resolving a missing space succeeded")
	}
}

func TestSchemaCache(t *testing.T) {
	c, _, h := newTestClient(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.Space(ctx, "users"); err != nil {
			t.Fatalf("resolve %d failed: %v", i, err)
		}
	}
	if n := h.lookups.Load(); n != 1 {
		t.Errorf("server saw %d schema lookups, expected 1 (cached)", n)
	}

	c.InvalidateSchema()
	if _, err := c.Space(ctx, "users"); err != nil {
		t.Fatalf("resolve after invalidation failed: %v", err)
	}
	if n := h.lookups.Load(); n != 2 {
		t.Errorf("server saw %d schema lookups after invalidation, expected 2", n)
	}
}

func TestSchemaCacheInvalidatedOnReconnect(t *testing.T) {
	c, srv, h := newTestClient(t, nil)
	ctx := context.Background()

	if _, err := c.Space(ctx, "users"); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if n := h.lookups.Load(); n != 1 {
		t.Fatalf("server saw %d schema lookups, expected 1", n)
	}

	srv.DropConnections()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !c.IsConnected() {
		time.Sleep(5 * time.Millisecond)
	}
	if !c.IsConnected() {
		t.Fatal("client did not reconnect")
	}

	// The invalidation watcher runs during the reconnect; keep resolving
	// until the cache miss shows up as a second server side lookup
	for time.Now().Before(deadline) {
		if _, err := c.Space(ctx, "users"); err != nil {
			t.Fatalf("resolve after reconnect failed: %v", err)
		}
		if h.lookups.Load() >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n := h.lookups.Load(); n != 2 {
		t.Errorf("server saw %d schema lookups after reconnect, expected 2", n)
	}
}

func TestSkipSchema(t *testing.T) {
	c, _, _ := newTestClient(t, func(cfg *common.ClientConfig) {
		cfg.SkipSchema = true
	})
	ctx := context.Background()

	if _, err := c.Space(ctx, "users"); err == nil {
		t.Error("by-name lookup succeeded although schema resolution is disabled")
	}

	// Lookups by id keep working
	users := c.SpaceByID(usersSpaceID)
	if _, err := users.Insert(ctx, []interface{}{1, "alice"}); err != nil {
		t.Errorf("insert through a by-id handle failed: %v", err)
	}
}
