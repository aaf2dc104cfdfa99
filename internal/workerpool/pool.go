// Package workerpool implements a fixed-size pool of worker goroutines
// that fan out compression jobs with barrier-style completion, grounded on
// the index-claiming shape of gogpu/gg's internal/parallel tile-rendering
// package: each worker repeatedly claims the next integer index via an
// atomic counter and invokes the job's function, and a single Dispatch
// call blocks until every index has been claimed and run.
package workerpool

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
)

// Job is one unit of fan-out work: Func is invoked once per index in
// [0, N), possibly by different workers and in no particular order.
type Job struct {
	Func func(workerID, index int)
	N    int
}

// Pool is a fixed-size pool of worker goroutines. The zero value is not
// usable; construct with New.
type Pool struct {
	size int

	mu       sync.Mutex
	cond     *sync.Cond
	job      *Job
	next     int32
	done     int32
	dispatch uint64 // bumped each Dispatch so idle workers can tell a new job apart

	closing bool
	closed  chan struct{}
}

// defaultSize returns max(1, min(16, onlines/2)), the worker count used
// when New is called with size <= 0.
func defaultSize() int {
	n := runtime.NumCPU() / 2
	if n > 16 {
		n = 16
	}
	if n < 1 {
		n = 1
	}
	return n
}

// New starts a pool of size workers (or the default when size <= 0).
func New(size int) *Pool {
	if size <= 0 {
		size = defaultSize()
	}
	p := &Pool{size: size, closed: make(chan struct{})}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < size; i++ {
		go p.worker(i)
	}
	return p
}

// Size returns the number of worker goroutines in the pool.
func (p *Pool) Size() int { return p.size }

func (p *Pool) worker(id int) {
	seen := uint64(0)
	for {
		p.mu.Lock()
		for p.job == nil || p.dispatch == seen {
			if p.closing {
				p.mu.Unlock()
				return
			}
			p.cond.Wait()
		}
		job := p.job
		seen = p.dispatch
		p.mu.Unlock()

		for {
			idx := int(atomic.AddInt32(&p.next, 1)) - 1
			if idx >= job.N {
				break
			}
			job.Func(id, idx)
		}

		p.mu.Lock()
		p.done++
		if p.done == int32(p.size) {
			p.cond.Broadcast()
		}
		p.mu.Unlock()
	}
}

// Dispatch blocks until job.Func has been invoked exactly once for every
// index in [0, job.N). It is not safe to call Dispatch concurrently from
// more than one goroutine.
func (p *Pool) Dispatch(job Job) {
	if job.N <= 0 {
		return
	}
	p.mu.Lock()
	p.job = &job
	p.next = 0
	p.done = 0
	p.dispatch++
	p.cond.Broadcast()
	for p.done != int32(p.size) {
		p.cond.Wait()
	}
	p.job = nil
	p.mu.Unlock()
}

// DispatchContext behaves like Dispatch but returns ctx.Err() as soon as
// ctx is cancelled, instead of blocking until every worker finishes its
// claimed indices, mirroring the pack's oov-downscale handle.Wait(ctx)
// pattern. The dispatched job keeps running to completion in the
// background either way: workers have already claimed their index range
// and Job.Func carries no cancellation check of its own, so cancellation
// only frees the caller to react early, it doesn't stop in-flight work.
func (p *Pool) DispatchContext(ctx context.Context, job Job) error {
	done := make(chan struct{})
	go func() {
		p.Dispatch(job)
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tells every worker to exit once it is idle and returns without
// waiting for them.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closing = true
	p.cond.Broadcast()
	p.mu.Unlock()
}
