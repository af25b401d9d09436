package base_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/goTNT/common"
	"github.com/ValentinKolb/goTNT/iproto"
	"github.com/ValentinKolb/goTNT/transport"
	"github.com/ValentinKolb/goTNT/transport/tcp"
	"github.com/ValentinKolb/goTNT/transport/testsrv"
)

// --------------------------------------------------------------------------
// Test Helpers
// --------------------------------------------------------------------------

// newTestTransport connects a tcp transport to the given server with fast
// reconnect settings. mutate (optional) adjusts the config before connecting.
func newTestTransport(t *testing.T, srv *testsrv.Server, mutate func(*common.ClientConfig)) transport.IClientTransport {
	t.Helper()

	cfg := common.ClientConfig{
		Endpoints:            []string{srv.Addr()},
		ConnectTimeoutSecond: 5,
		ReconnectBaseDelayMs: 1,
		ReconnectMaxDelayMs:  50,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	tr := tcp.NewTCPClientTransport()
	if err := tr.Connect(cfg); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

// waitFor polls cond until it holds or the deadline expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// --------------------------------------------------------------------------
// Basic Request/Response
// --------------------------------------------------------------------------

func TestDoPing(t *testing.T) {
	srv, err := testsrv.New()
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer srv.Close()

	tr := newTestTransport(t, srv, nil)

	resp, err := tr.Do(context.Background(), iproto.NewPingRequest())
	if err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	if !resp.IsOK() {
		t.Errorf("ping response carries code 0x%x", resp.Code)
	}
	if !tr.IsConnected() {
		t.Error("transport reports not connected after a successful ping")
	}
}

func TestDoCallWithData(t *testing.T) {
	srv, err := testsrv.New()
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer srv.Close()

	srv.Handler = func(c *testsrv.Conn, req *testsrv.Request) {
		var fn string
		if err := req.FieldInto(iproto.KeyFunctionName, &fn); err != nil {
			c.ReplyError(req.Sync, iproto.ErrCodeInvalidMsgpack, err.Error())
			return
		}
		c.Reply(req.Sync, [][]string{{"hello", fn}})
	}

	tr := newTestTransport(t, srv, nil)

	resp, err := tr.Do(context.Background(), iproto.NewCallRequest("greet", nil))
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}

	var rows [][]string
	if err := resp.DataInto(&rows); err != nil {
		t.Fatalf("failed to decode response data: %v", err)
	}
	if len(rows) != 1 || rows[0][1] != "greet" {
		t.Errorf("unexpected response data: %v", rows)
	}
}

func TestServerErrorResolvesFuture(t *testing.T) {
	srv, err := testsrv.New()
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer srv.Close()

	srv.Handler = func(c *testsrv.Conn, req *testsrv.Request) {
		c.ReplyError(req.Sync, iproto.ErrCodeNoSuchProc, "Procedure 'nope' is not defined")
	}

	tr := newTestTransport(t, srv, nil)

	_, err = tr.Do(context.Background(), iproto.NewCallRequest("nope", nil))
	var serverErr *iproto.ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("expected a server error, got %v", err)
	}
	if serverErr.Code != iproto.ErrCodeNoSuchProc {
		t.Errorf("got error code %d, expected %d", serverErr.Code, iproto.ErrCodeNoSuchProc)
	}
	// A server error must not disturb the connection
	if _, err := tr.Do(context.Background(), iproto.NewPingRequest()); err != nil {
		t.Errorf("ping after a server error failed: %v", err)
	}
}

// --------------------------------------------------------------------------
// Authentication
// --------------------------------------------------------------------------

func TestAuthentication(t *testing.T) {
	srv, err := testsrv.New()
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer srv.Close()
	srv.Users = map[string]string{"alice": "secret"}

	tr := newTestTransport(t, srv, func(cfg *common.ClientConfig) {
		cfg.User = "alice"
		cfg.Password = "secret"
	})

	if _, err := tr.Do(context.Background(), iproto.NewPingRequest()); err != nil {
		t.Errorf("ping on an authenticated session failed: %v", err)
	}
}

func TestAuthenticationRejected(t *testing.T) {
	srv, err := testsrv.New()
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer srv.Close()
	srv.Users = map[string]string{"alice": "secret"}

	tests := []struct {
		name     string
		user     string
		password string
	}{
		{"wrong password", "alice", "wrong"},
		{"unknown user", "bob", "secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := common.ClientConfig{
				Endpoints:            []string{srv.Addr()},
				User:                 tt.user,
				Password:             tt.password,
				ConnectTimeoutSecond: 5,
				ReconnectBaseDelayMs: 1,
			}

			tr := tcp.NewTCPClientTransport()
			err := tr.Connect(cfg)
			var authErr *transport.AuthError
			if !errors.As(err, &authErr) {
				tr.Close()
				t.Fatalf("expected an auth error, got %v", err)
			}
			if authErr.User != tt.user {
				t.Errorf("auth error names user %q, expected %q", authErr.User, tt.user)
			}
		})
	}
}

// --------------------------------------------------------------------------
// Multiplexing
// --------------------------------------------------------------------------

func TestOutOfOrderResponses(t *testing.T) {
	srv, err := testsrv.New()
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer srv.Close()

	// Hold back the answer for the first request until the second arrived,
	// then answer in reverse submission order
	var mu sync.Mutex
	var held *testsrv.Request
	srv.Handler = func(c *testsrv.Conn, req *testsrv.Request) {
		var fn string
		_ = req.FieldInto(iproto.KeyFunctionName, &fn)

		mu.Lock()
		defer mu.Unlock()
		if held == nil {
			held = req
			return
		}
		first := held
		held = nil
		c.Reply(req.Sync, []string{fn})
		var firstFn string
		_ = first.FieldInto(iproto.KeyFunctionName, &firstFn)
		c.Reply(first.Sync, []string{firstFn})
	}

	tr := newTestTransport(t, srv, nil)

	futA := tr.DoAsync(iproto.NewCallRequest("a", nil), nil)
	futB := tr.DoAsync(iproto.NewCallRequest("b", nil), nil)

	respB, err := futB.Wait()
	if err != nil {
		t.Fatalf("request b failed: %v", err)
	}
	respA, err := futA.Wait()
	if err != nil {
		t.Fatalf("request a failed: %v", err)
	}

	var got []string
	if err := respA.DataInto(&got); err != nil || len(got) != 1 || got[0] != "a" {
		t.Errorf("request a received the wrong response: %v (%v)", got, err)
	}
	if err := respB.DataInto(&got); err != nil || len(got) != 1 || got[0] != "b" {
		t.Errorf("request b received the wrong response: %v (%v)", got, err)
	}
}

func TestCancelLeavesConnectionUsable(t *testing.T) {
	srv, err := testsrv.New()
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer srv.Close()

	// Never answer "hang" calls; answer everything else normally
	release := make(chan struct{})
	srv.Handler = func(c *testsrv.Conn, req *testsrv.Request) {
		var fn string
		_ = req.FieldInto(iproto.KeyFunctionName, &fn)
		if fn == "hang" {
			go func() {
				// Answer long after the caller gave up; the client must
				// silently drop the response
				<-release
				c.Reply(req.Sync, nil)
			}()
			return
		}
		c.Reply(req.Sync, nil)
	}

	tr := newTestTransport(t, srv, nil)

	fut := tr.DoAsync(iproto.NewCallRequest("hang", nil), nil)
	fut.Cancel()

	if _, err := fut.Wait(); !errors.Is(err, transport.ErrCanceled) {
		t.Errorf("canceled future resolved with %v, expected ErrCanceled", err)
	}

	// The late response for the canceled sync id must not disturb anything
	close(release)
	for i := 0; i < 3; i++ {
		if _, err := tr.Do(context.Background(), iproto.NewPingRequest()); err != nil {
			t.Fatalf("ping %d after cancel failed: %v", i, err)
		}
	}
}

func TestContextCancellation(t *testing.T) {
	srv, err := testsrv.New()
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer srv.Close()

	srv.Handler = func(c *testsrv.Conn, req *testsrv.Request) {
		// never answer
	}

	tr := newTestTransport(t, srv, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = tr.Do(ctx, iproto.NewPingRequest())
	if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, transport.ErrTimeout) {
		t.Errorf("expected a deadline error, got %v", err)
	}
}

// --------------------------------------------------------------------------
// Connection Loss and Reconnect
// --------------------------------------------------------------------------

func TestConnectionLossFailsPending(t *testing.T) {
	srv, err := testsrv.New()
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer srv.Close()

	srv.Handler = func(c *testsrv.Conn, req *testsrv.Request) {
		var fn string
		_ = req.FieldInto(iproto.KeyFunctionName, &fn)
		if fn == "die" {
			c.Close()
			return
		}
		c.Reply(req.Sync, nil)
	}

	tr := newTestTransport(t, srv, nil)

	fut := tr.DoAsync(iproto.NewCallRequest("die", nil), nil)
	if _, err := fut.Wait(); !errors.Is(err, transport.ErrConnectionLost) {
		t.Fatalf("expected ErrConnectionLost, got %v", err)
	}

	// The transport must recover on its own
	waitFor(t, 2*time.Second, tr.IsConnected, "transport did not reconnect")
	if _, err := tr.Do(context.Background(), iproto.NewPingRequest()); err != nil {
		t.Errorf("ping after reconnect failed: %v", err)
	}
}

func TestMalformedFrameDropsConnection(t *testing.T) {
	srv, err := testsrv.New()
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer srv.Close()

	srv.Handler = func(c *testsrv.Conn, req *testsrv.Request) {
		// 0xc1 is never valid MessagePack
		c.SendRaw([]byte{0xc1, 0xc1, 0xc1, 0xc1})
	}

	tr := newTestTransport(t, srv, nil)

	var mu sync.Mutex
	var transitions []transport.State
	tr.Subscribe(func(endpoint string, from, to transport.State) {
		mu.Lock()
		transitions = append(transitions, to)
		mu.Unlock()
	})

	fut := tr.DoAsync(iproto.NewPingRequest(), nil)
	if _, err := fut.Wait(); !errors.Is(err, transport.ErrConnectionLost) {
		t.Fatalf("expected ErrConnectionLost, got %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, s := range transitions {
			if s == transport.StateDisconnected {
				return true
			}
		}
		return false
	}, "connection never transitioned to disconnected")

	waitFor(t, 2*time.Second, tr.IsConnected, "transport did not recover from the corrupt stream")
}

func TestUnreachableEndpoint(t *testing.T) {
	// Reserve a port and close it again so nothing listens there
	srv, err := testsrv.New()
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	addr := srv.Addr()
	srv.Close()

	cfg := common.ClientConfig{
		Endpoints:            []string{addr},
		ConnectTimeoutSecond: 1,
		ReconnectBaseDelayMs: 1,
	}

	tr := tcp.NewTCPClientTransport()
	defer tr.Close()
	if err := tr.Connect(cfg); !errors.Is(err, transport.ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
}

func TestReconnectBudgetExhausted(t *testing.T) {
	srv, err := testsrv.New()
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}

	tr := newTestTransport(t, srv, func(cfg *common.ClientConfig) {
		cfg.ReconnectMaxAttempts = 2
	})

	// Take the server away for good
	srv.Close()

	waitFor(t, 5*time.Second, func() bool {
		fut := tr.DoAsync(iproto.NewPingRequest(), nil)
		_, err := fut.Wait()
		return errors.Is(err, transport.ErrUnreachable)
	}, "transport never reported the endpoint as unreachable")
}

func TestRetryIdempotent(t *testing.T) {
	srv, err := testsrv.New()
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer srv.Close()

	// The first "flaky" call kills the connection without an answer, the
	// resubmitted one succeeds
	var mu sync.Mutex
	calls := 0
	srv.Handler = func(c *testsrv.Conn, req *testsrv.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			c.Close()
			return
		}
		c.Reply(req.Sync, []string{"done"})
	}

	tr := newTestTransport(t, srv, func(cfg *common.ClientConfig) {
		cfg.RetryIdempotent = true
	})

	fut := tr.DoAsync(iproto.NewCallRequest("flaky", nil), &transport.RequestOptions{Idempotent: true})
	resp, err := fut.Wait()
	if err != nil {
		t.Fatalf("idempotent request was not retried: %v", err)
	}

	var got []string
	if err := resp.DataInto(&got); err != nil || len(got) != 1 || got[0] != "done" {
		t.Errorf("unexpected response data: %v (%v)", got, err)
	}

	mu.Lock()
	if calls != 2 {
		t.Errorf("server saw %d calls, expected 2", calls)
	}
	mu.Unlock()
}

func TestRetryIdempotentManyPending(t *testing.T) {
	srv, err := testsrv.New()
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer srv.Close()

	// More rescued requests than the write queue holds: the resubmission
	// must make progress while the pump drains, not fill the queue first
	const total = 300

	var mu sync.Mutex
	received := 0
	dropped := false
	srv.Handler = func(c *testsrv.Conn, req *testsrv.Request) {
		mu.Lock()
		defer mu.Unlock()
		if !dropped {
			// Hold every answer back so the requests pile up in flight
			received++
			return
		}
		c.Reply(req.Sync, nil)
	}

	tr := newTestTransport(t, srv, func(cfg *common.ClientConfig) {
		cfg.RetryIdempotent = true
	})

	futs := make([]*transport.Future, 0, total)
	for i := 0; i < total; i++ {
		futs = append(futs, tr.DoAsync(iproto.NewPingRequest(), &transport.RequestOptions{Idempotent: true}))
	}

	waitFor(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return received == total
	}, "server never saw all requests")

	mu.Lock()
	dropped = true
	mu.Unlock()
	srv.DropConnections()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i, fut := range futs {
		if _, err := fut.WaitContext(ctx); err != nil {
			t.Fatalf("resubmitted request %d failed: %v", i, err)
		}
	}
}

func TestNonIdempotentNotRetried(t *testing.T) {
	srv, err := testsrv.New()
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer srv.Close()

	srv.Handler = func(c *testsrv.Conn, req *testsrv.Request) {
		c.Close()
	}

	tr := newTestTransport(t, srv, func(cfg *common.ClientConfig) {
		cfg.RetryIdempotent = true
	})

	// Without the explicit idempotent marker the request must fail over to
	// the caller
	fut := tr.DoAsync(iproto.NewCallRequest("flaky", nil), nil)
	if _, err := fut.Wait(); !errors.Is(err, transport.ErrConnectionLost) {
		t.Errorf("expected ErrConnectionLost, got %v", err)
	}
}

func TestQueueWhileReconnecting(t *testing.T) {
	srv, err := testsrv.New()
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer srv.Close()

	tr := newTestTransport(t, srv, func(cfg *common.ClientConfig) {
		cfg.QueueWhileReconnecting = true
	})

	// The reconnect can be faster than any polling interval, so the loss is
	// observed through the state transitions rather than IsConnected
	var mu sync.Mutex
	sawDisconnect := false
	tr.Subscribe(func(endpoint string, from, to transport.State) {
		if to == transport.StateDisconnected {
			mu.Lock()
			sawDisconnect = true
			mu.Unlock()
		}
	})

	srv.DropConnections()
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return sawDisconnect
	}, "connection loss went unnoticed")

	// The submission must wait for the reconnect instead of failing fast
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := tr.Do(ctx, iproto.NewPingRequest()); err != nil {
		t.Errorf("queued request failed: %v", err)
	}
}

// --------------------------------------------------------------------------
// Shutdown
// --------------------------------------------------------------------------

func TestCloseFailsPending(t *testing.T) {
	srv, err := testsrv.New()
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer srv.Close()

	srv.Handler = func(c *testsrv.Conn, req *testsrv.Request) {
		// never answer
	}

	tr := newTestTransport(t, srv, nil)

	fut := tr.DoAsync(iproto.NewPingRequest(), nil)
	if err := tr.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if _, err := fut.Wait(); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("pending request resolved with %v, expected ErrClosed", err)
	}

	if fut := tr.DoAsync(iproto.NewPingRequest(), nil); fut != nil {
		if _, err := fut.Wait(); !errors.Is(err, transport.ErrClosed) {
			t.Errorf("submission after close resolved with %v, expected ErrClosed", err)
		}
	}
}
