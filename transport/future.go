package transport

import (
	"context"
	"sync/atomic"

	"github.com/ValentinKolb/goTNT/iproto"
)

// --------------------------------------------------------------------------
// Future
// --------------------------------------------------------------------------

// Future is the handle for one in-flight request. It resolves exactly once,
// either with a decoded response or with a terminal error; all later
// resolution attempts are ignored. Futures are created by transport
// implementations and consumed by callers.
type Future struct {
	sync     uint64
	resolved atomic.Bool
	done     chan struct{}
	detach   func()

	resp *iproto.Response
	err  error
}

// NewFuture creates an unresolved future for the given sync id. The detach
// callback unregisters the pending request from its multiplexer table; it
// is invoked at most once, on cancellation.
func NewFuture(sync uint64, detach func()) *Future {
	return &Future{
		sync:   sync,
		done:   make(chan struct{}),
		detach: detach,
	}
}

// Sync returns the correlation id of the request.
func (f *Future) Sync() uint64 {
	return f.sync
}

// Resolve delivers the result. It returns false if the future was already
// resolved; the result fields are published before the done channel closes,
// so every waiter observes them.
func (f *Future) Resolve(resp *iproto.Response, err error) bool {
	if !f.resolved.CompareAndSwap(false, true) {
		return false
	}
	f.resp = resp
	f.err = err
	close(f.done)
	return true
}

// Cancel withdraws the request. Its entry is removed from the pending
// table without disturbing any other pending request and the connection
// stays open; a response arriving later for this sync id is dropped. Cancel
// has no effect on an already resolved future.
func (f *Future) Cancel() {
	if f.resolved.Load() {
		return
	}
	if f.detach != nil {
		f.detach()
	}
	f.Resolve(nil, ErrCanceled)
}

// Resolved reports whether the future already carries a result. Transport
// implementations use it to skip work for requests that were canceled or
// failed while queued.
func (f *Future) Resolved() bool {
	return f.resolved.Load()
}

// Done returns a channel closed once the future is resolved.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future resolves.
func (f *Future) Wait() (*iproto.Response, error) {
	<-f.done
	return f.resp, f.err
}

// WaitContext blocks until the future resolves or the context ends. A
// context cancellation cancels the request.
func (f *Future) WaitContext(ctx context.Context) (*iproto.Response, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
		f.Cancel()
		// the read loop may have resolved the future concurrently; report
		// whatever won the race
		<-f.done
		if f.err == ErrCanceled {
			return nil, ctx.Err()
		}
		return f.resp, f.err
	}
}
