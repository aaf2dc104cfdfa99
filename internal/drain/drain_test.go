package drain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/driusan/p9drawbridge/internal/transport"
)

type fakeResponder struct {
	mu   sync.Mutex
	cond *sync.Cond
	q    []transport.Response
	errs []error
}

func newFakeResponder() *fakeResponder {
	f := &fakeResponder{}
	f.cond = sync.NewCond(&f.mu)
	return f
}

func (f *fakeResponder) push(r transport.Response) {
	f.mu.Lock()
	f.q = append(f.q, r)
	f.cond.Broadcast()
	f.mu.Unlock()
}

func (f *fakeResponder) pushErr(err error) {
	f.mu.Lock()
	f.errs = append(f.errs, err)
	f.cond.Broadcast()
	f.mu.Unlock()
}

func (f *fakeResponder) ReadResponse() (transport.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.q) == 0 && len(f.errs) == 0 {
		f.cond.Wait()
	}
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return transport.Response{}, err
	}
	r := f.q[0]
	f.q = f.q[1:]
	return r, nil
}

func errorResponse(text string) transport.Response {
	body := make([]byte, 2+len(text))
	body[0] = byte(len(text))
	body[1] = byte(len(text) >> 8)
	copy(body[2:], text)
	return transport.Response{Type: transport.RError, Body: body}
}

func TestNotifyThenDrain(t *testing.T) {
	fr := newFakeResponder()
	d := New(fr, zerolog.Nop())
	d.Start()
	defer d.Stop()

	d.Notify()
	fr.push(transport.Response{Type: transport.RWrite, Body: []byte{1, 0, 0, 0}})

	deadline := time.After(time.Second)
	for d.Pending() != 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for pending to drain")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestUnknownIDFlag(t *testing.T) {
	fr := newFakeResponder()
	d := New(fr, zerolog.Nop())
	d.Start()
	defer d.Stop()

	d.Notify()
	fr.push(errorResponse("unknown id 42"))

	deadline := time.After(time.Second)
	for d.Errors() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for error flag")
		case <-time.After(time.Millisecond):
		}
	}
	if !d.UnknownID {
		t.Fatalf("UnknownID flag not set")
	}
}

func TestShortWriteFlag(t *testing.T) {
	fr := newFakeResponder()
	d := New(fr, zerolog.Nop())
	d.Start()
	defer d.Stop()

	d.Notify()
	fr.push(errorResponse("short write"))

	deadline := time.After(time.Second)
	for d.Errors() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for error flag")
		case <-time.After(time.Millisecond):
		}
	}
	if !d.ShortWrite {
		t.Fatalf("ShortWrite flag not set")
	}
}

func TestWindowDeletedFlag(t *testing.T) {
	fr := newFakeResponder()
	d := New(fr, zerolog.Nop())
	d.Start()
	defer d.Stop()

	d.Notify()
	fr.push(errorResponse("window deleted"))

	deadline := time.After(time.Second)
	for d.Errors() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for error flag")
		case <-time.After(time.Millisecond):
		}
	}
	if !d.WindowDeleted {
		t.Fatalf("WindowDeleted flag not set")
	}
}

func TestThrottleContextReturnsOnCancel(t *testing.T) {
	fr := newFakeResponder()
	d := New(fr, zerolog.Nop())
	d.Start()

	// Raise the pending count above max without supplying a response yet,
	// so an ordinary Throttle(0) would block.
	d.Notify()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := d.ThrottleContext(ctx, 0); err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	// Unblock the now-background Throttle(0) call and the drain loop so
	// Stop can join cleanly.
	fr.push(transport.Response{Type: transport.RWrite, Body: []byte{1, 0, 0, 0}})
	d.Stop()
}

func TestPauseBlocksUntilQuiescent(t *testing.T) {
	fr := newFakeResponder()
	d := New(fr, zerolog.Nop())
	d.Start()
	defer d.Stop()

	d.Notify()
	paused := make(chan struct{})
	go func() {
		d.Pause()
		close(paused)
	}()

	select {
	case <-paused:
		t.Fatal("Pause returned before the outstanding response drained")
	case <-time.After(50 * time.Millisecond):
	}

	fr.push(transport.Response{Type: transport.RWrite})
	select {
	case <-paused:
	case <-time.After(time.Second):
		t.Fatal("Pause never returned after the response drained")
	}
	d.Resume()
}

// TestPauseDrainsMultipleOutstandingResponses guards against the
// deadlock where Pause is called while more than one write is still
// outstanding: the loop must keep reading responses down to pending==0
// instead of treating "paused" as an immediate idle state.
func TestPauseDrainsMultipleOutstandingResponses(t *testing.T) {
	fr := newFakeResponder()
	d := New(fr, zerolog.Nop())
	d.Start()
	defer d.Stop()

	d.Notify()
	d.Notify()
	d.Notify()

	paused := make(chan struct{})
	go func() {
		d.Pause()
		close(paused)
	}()

	// Give Pause a moment to actually enter its wait so the subsequent
	// pushes exercise draining-while-paused, not draining-before-pause.
	time.Sleep(20 * time.Millisecond)

	fr.push(transport.Response{Type: transport.RWrite})
	fr.push(transport.Response{Type: transport.RWrite})
	fr.push(transport.Response{Type: transport.RWrite})

	select {
	case <-paused:
	case <-time.After(time.Second):
		t.Fatal("Pause never returned after all outstanding responses drained")
	}
	d.Resume()
}

func TestThrottleBlocksAboveMax(t *testing.T) {
	fr := newFakeResponder()
	d := New(fr, zerolog.Nop())
	d.Start()
	defer d.Stop()

	d.Notify()
	d.Notify()
	d.Notify()

	throttled := make(chan struct{})
	go func() {
		d.Throttle(1)
		close(throttled)
	}()

	select {
	case <-throttled:
		t.Fatal("Throttle returned while pending exceeded max")
	case <-time.After(50 * time.Millisecond):
	}

	fr.push(transport.Response{Type: transport.RWrite})
	fr.push(transport.Response{Type: transport.RWrite})

	select {
	case <-throttled:
	case <-time.After(time.Second):
		t.Fatal("Throttle never returned")
	}

	// Answer the last outstanding write so the deferred Stop can join the
	// drain loop instead of waiting on a response that never arrives.
	fr.push(transport.Response{Type: transport.RWrite})
}

func TestStopDrainsRemainingPending(t *testing.T) {
	fr := newFakeResponder()
	d := New(fr, zerolog.Nop())
	d.Start()

	d.Notify()
	fr.push(transport.Response{Type: transport.RWrite})
	d.Stop()
	if d.Pending() != 0 {
		t.Fatalf("pending = %d after Stop, want 0", d.Pending())
	}
}

func TestFatalTransportErrorStopsLoop(t *testing.T) {
	fr := newFakeResponder()
	d := New(fr, zerolog.Nop())
	d.Start()

	d.Notify()
	fr.pushErr(errors.New("connection reset"))

	deadline := time.After(time.Second)
	for d.Fatal() == nil {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for fatal error")
		case <-time.After(time.Millisecond):
		}
	}
	d.Stop()
}
