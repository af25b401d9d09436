package base

import (
	"errors"
	"testing"

	"github.com/ValentinKolb/goTNT/iproto"
	"github.com/ValentinKolb/goTNT/transport"
)

func TestTeardownResetsSchemaVersion(t *testing.T) {
	parent := &clientTransport{readyCh: make(chan struct{})}
	c := newClientConnection(parent, "test:0")

	c.schemaVersion.Store(42)
	c.teardown(nil)

	if v := c.schemaVersion.Load(); v != 0 {
		t.Errorf("schema version %d survived teardown, expected 0", v)
	}
}

func TestSubmitRefusesOccupiedSyncID(t *testing.T) {
	parent := &clientTransport{readyCh: make(chan struct{})}
	c := newClientConnection(parent, "test:0")

	// Occupy the id the next submission will draw, as a wrapped-around sync
	// counter would
	occupied := c.nextSync.Load() + 1
	c.pending.Store(occupied, &pendingRequest{fut: transport.NewFuture(occupied, nil)})

	fut := c.submit(iproto.NewPingRequest(), nil)
	if _, err := fut.Wait(); !errors.Is(err, transport.ErrSyncReuse) {
		t.Errorf("got %v, expected ErrSyncReuse", err)
	}
}
