// Package drain implements the asynchronous response-draining worker: a
// dedicated goroutine that reads one reply envelope per pipelined write,
// with throttling and a pause/resume protocol that gives the send thread
// a quiescent window for synchronous transport operations (window
// re-lookup, resize).
package drain

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/driusan/p9drawbridge/internal/transport"
)

// Responder is the subset of *transport.Conn the drain loop needs; tests
// substitute a fake.
type Responder interface {
	ReadResponse() (transport.Response, error)
}

// Drain runs a dedicated response-draining loop over conn. Its state
// ({running, paused}, {pending, errors}) is guarded by mu; cond wakes the
// drain loop itself, done wakes Throttle/Pause waiters, matching the
// two-condvar shape spec'd for this component.
type Drain struct {
	conn Responder
	log  zerolog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	done    *sync.Cond
	running bool
	paused  bool
	pending int
	errors  int

	// Error flags observed on the last response carrying an error
	// payload, scanned for the three substrings the remote side uses
	// ("unknown id", "short", "deleted").
	UnknownID     bool
	ShortWrite    bool
	WindowDeleted bool

	fatal error
	wg    sync.WaitGroup
}

// New creates a Drain over conn. Start must be called to begin draining.
func New(conn Responder, log zerolog.Logger) *Drain {
	d := &Drain{conn: conn, log: log}
	d.cond = sync.NewCond(&d.mu)
	d.done = sync.NewCond(&d.mu)
	return d
}

// Start launches the drain loop goroutine.
func (d *Drain) Start() {
	d.mu.Lock()
	d.running = true
	d.mu.Unlock()
	d.wg.Add(1)
	go d.loop()
}

func (d *Drain) loop() {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		// paused never gates reading on its own: Pause's caller blocks in
		// Pause() until pending reaches 0, and nothing but a response
		// read here decrements pending, so the loop must keep draining
		// while paused as long as writes are still outstanding. Idle
		// only when there is genuinely nothing to read.
		for d.running && d.pending == 0 {
			d.cond.Wait()
		}
		if !d.running {
			d.mu.Unlock()
			return
		}
		d.mu.Unlock()

		resp, err := d.conn.ReadResponse()
		if err != nil {
			d.log.Error().Err(err).Msg("drain: transport read failed, stopping")
			d.mu.Lock()
			d.fatal = err
			d.running = false
			d.cond.Broadcast()
			d.done.Broadcast()
			d.mu.Unlock()
			return
		}

		d.mu.Lock()
		d.pending--
		d.done.Broadcast()
		d.mu.Unlock()

		if resp.IsError() {
			text, terr := resp.ErrorText()
			if terr == nil {
				d.observeError(text)
			}
		}
	}
}

func (d *Drain) observeError(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errors++
	if strings.Contains(text, "unknown id") {
		d.UnknownID = true
	}
	if strings.Contains(text, "short") {
		d.ShortWrite = true
	}
	if strings.Contains(text, "deleted") {
		d.WindowDeleted = true
	}
	d.log.Warn().Str("error", text).Msg("drain: remote error response")
}

// Notify records one more outstanding pipelined write and wakes the drain
// loop.
func (d *Drain) Notify() {
	d.mu.Lock()
	d.pending++
	d.cond.Broadcast()
	d.mu.Unlock()
}

// Throttle blocks until at most max responses are outstanding.
func (d *Drain) Throttle(max int) {
	d.mu.Lock()
	for d.pending > max && d.running {
		d.done.Wait()
	}
	d.mu.Unlock()
}

// ThrottleContext behaves like Throttle but returns ctx.Err() if ctx is
// cancelled before the backlog drains below max, following the same
// handle.Wait(ctx)-style cancellation the pack's oov-downscale package
// uses around its own worker barrier.
func (d *Drain) ThrottleContext(ctx context.Context, max int) error {
	done := make(chan struct{})
	go func() {
		d.Throttle(max)
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pause requests a quiescent window: it sets paused, wakes the drain
// loop, and blocks until no response is outstanding.
func (d *Drain) Pause() {
	d.mu.Lock()
	d.paused = true
	d.cond.Broadcast()
	for d.pending != 0 && d.running {
		d.done.Wait()
	}
	d.mu.Unlock()
}

// Resume clears paused and wakes the drain loop.
func (d *Drain) Resume() {
	d.mu.Lock()
	d.paused = false
	d.cond.Broadcast()
	d.mu.Unlock()
}

// Stop clears running, wakes and joins the drain loop, then drains any
// remaining pending responses synchronously so every pipelined write is
// matched by exactly one response read before the transport is closed.
// If the loop stopped on a transport read error, nothing more is read.
func (d *Drain) Stop() {
	d.mu.Lock()
	d.running = false
	d.cond.Broadcast()
	d.mu.Unlock()
	d.wg.Wait()

	for {
		d.mu.Lock()
		n := d.pending
		fatal := d.fatal
		d.mu.Unlock()
		if n == 0 || fatal != nil {
			return
		}
		if _, err := d.conn.ReadResponse(); err != nil {
			return
		}
		d.mu.Lock()
		d.pending--
		d.mu.Unlock()
	}
}

// Pending returns the number of outstanding pipelined writes.
func (d *Drain) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Errors returns the count of error responses observed so far.
func (d *Drain) Errors() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.errors
}

// ResetFlags clears the recovered error flags after the send thread has
// acted on them.
func (d *Drain) ResetFlags() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.UnknownID = false
	d.ShortWrite = false
	d.WindowDeleted = false
}

// Fatal returns the transport error that stopped the loop, if any.
func (d *Drain) Fatal() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fatal
}
