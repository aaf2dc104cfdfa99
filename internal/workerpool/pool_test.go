package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestDispatchRunsEveryIndexExactlyOnce(t *testing.T) {
	p := New(4)
	defer p.Close()

	const n = 10000
	var counts [n]int32
	p.Dispatch(Job{N: n, Func: func(_, i int) {
		atomic.AddInt32(&counts[i], 1)
	}})
	for i, c := range counts {
		if c != 1 {
			t.Fatalf("index %d ran %d times, want 1", i, c)
		}
	}
}

func TestDispatchTwiceReusesWorkers(t *testing.T) {
	p := New(2)
	defer p.Close()

	var total int32
	for round := 0; round < 5; round++ {
		p.Dispatch(Job{N: 100, Func: func(_, i int) {
			atomic.AddInt32(&total, 1)
		}})
	}
	if total != 500 {
		t.Fatalf("total = %d, want 500", total)
	}
}

func TestDispatchZeroIsNoop(t *testing.T) {
	p := New(2)
	defer p.Close()
	p.Dispatch(Job{N: 0, Func: func(_, _ int) { t.Fatal("should not run") }})
}

func TestDispatchContextReturnsOnCancel(t *testing.T) {
	p := New(1)
	defer p.Close()

	release := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- p.DispatchContext(ctx, Job{N: 1, Func: func(_, _ int) {
			<-release
		}})
	}()

	cancel()
	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("DispatchContext did not return promptly after cancellation")
	}
	close(release)
}

func TestDispatchContextCompletesNormally(t *testing.T) {
	p := New(2)
	defer p.Close()

	var total int32
	err := p.DispatchContext(context.Background(), Job{N: 50, Func: func(_, _ int) {
		atomic.AddInt32(&total, 1)
	}})
	if err != nil {
		t.Fatalf("DispatchContext: %v", err)
	}
	if total != 50 {
		t.Fatalf("total = %d, want 50", total)
	}
}

func TestDefaultSizeIsPositive(t *testing.T) {
	if defaultSize() < 1 {
		t.Fatalf("defaultSize() = %d, want >= 1", defaultSize())
	}
}
