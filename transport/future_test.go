package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/goTNT/iproto"
)

func TestFutureResolveOnce(t *testing.T) {
	f := NewFuture(7, nil)

	resp := &iproto.Response{Sync: 7}
	if !f.Resolve(resp, nil) {
		t.Fatal("first resolve was rejected")
	}
	if f.Resolve(nil, errors.New("too late")) {
		t.Fatal("second resolve was accepted")
	}

	got, err := f.Wait()
	if err != nil || got != resp {
		t.Errorf("wait returned (%v, %v), expected the first result", got, err)
	}
}

func TestFutureConcurrentWaiters(t *testing.T) {
	f := NewFuture(1, nil)

	var wg sync.WaitGroup
	results := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.Wait()
		}(i)
	}

	want := errors.New("boom")
	f.Resolve(nil, want)
	wg.Wait()

	for i, err := range results {
		if err != want {
			t.Errorf("waiter %d got %v", i, err)
		}
	}
}

func TestFutureCancel(t *testing.T) {
	detached := false
	f := NewFuture(1, func() { detached = true })

	f.Cancel()
	if !detached {
		t.Error("cancel did not detach the pending request")
	}
	if _, err := f.Wait(); !errors.Is(err, ErrCanceled) {
		t.Errorf("canceled future resolved with %v", err)
	}

	// Cancel after resolution must be a no-op
	f2 := NewFuture(2, func() { t.Error("detach called on a resolved future") })
	f2.Resolve(&iproto.Response{}, nil)
	f2.Cancel()
	if _, err := f2.Wait(); err != nil {
		t.Errorf("resolved future changed its result to %v", err)
	}
}

func TestFutureWaitContext(t *testing.T) {
	f := NewFuture(1, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.WaitContext(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected the context error, got %v", err)
	}
	if !f.Resolved() {
		t.Error("context cancellation left the future unresolved")
	}
}
