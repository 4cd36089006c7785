package workers

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsTasks(t *testing.T) {
	p := New(Config{Core: 2, Max: 4, Queue: 8})
	defer p.Close()

	var ran atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		if err := p.Submit(func() {
			defer wg.Done()
			ran.Add(1)
		}); err != nil {
			wg.Done()
			t.Fatalf("Submit %d: %v", i, err)
		}
	}
	wg.Wait()
	if got := ran.Load(); got != 20 {
		t.Errorf("ran %d tasks, want 20", got)
	}
}

func TestPoolSubmitNil(t *testing.T) {
	p := New(Config{Core: 1})
	defer p.Close()
	if err := p.Submit(nil); err == nil {
		t.Error("Submit(nil) succeeded")
	}
}

func TestPoolSaturation(t *testing.T) {
	p := New(Config{Core: 1, Max: 2, Queue: 1, KeepAlive: time.Minute})
	defer p.Close()

	block := make(chan struct{})
	defer close(block)
	wait := func() { <-block }

	// Occupy the core worker, then the transient, then fill the queue.
	// Submission order: first goes to queue then a core worker picks it up;
	// keep submitting blocked tasks until saturation.
	var err error
	saturated := false
	for i := 0; i < 10; i++ {
		err = p.Submit(wait)
		if errors.Is(err, ErrPoolSaturated) {
			saturated = true
			break
		}
		if err != nil {
			t.Fatalf("unexpected submit error: %v", err)
		}
	}
	if !saturated {
		t.Fatal("pool never saturated with all workers blocked")
	}
}

func TestPoolSpawnsTransientWorkerWhenQueueFull(t *testing.T) {
	p := New(Config{Core: 1, Max: 2, Queue: 1, KeepAlive: time.Minute})
	defer p.Close()

	block := make(chan struct{})
	// Occupy the core worker.
	if err := p.Submit(func() { <-block }); err != nil {
		t.Fatalf("submit core task: %v", err)
	}
	// Give the core worker a moment to dequeue, then fill the queue.
	time.Sleep(20 * time.Millisecond)
	if err := p.Submit(func() { <-block }); err != nil {
		t.Fatalf("submit queued task: %v", err)
	}

	// Queue is full: the next submit must run on a transient worker.
	done := make(chan struct{})
	if err := p.Submit(func() { close(done) }); err != nil {
		t.Fatalf("submit transient task: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("transient task never ran")
	}
	close(block)
}

func TestPoolSubmitAfterClose(t *testing.T) {
	p := New(Config{Core: 1})
	p.Close()
	if err := p.Submit(func() {}); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Submit after Close = %v, want ErrPoolClosed", err)
	}
}

func TestPoolCloseDrainsQueue(t *testing.T) {
	p := New(Config{Core: 1, Queue: 16})

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		if err := p.Submit(func() { ran.Add(1) }); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	p.Close()
	if got := ran.Load(); got != 10 {
		t.Errorf("%d queued tasks ran after Close, want 10", got)
	}
}

func TestPoolRecoversPanics(t *testing.T) {
	p := New(Config{Core: 1})
	defer p.Close()

	if err := p.Submit(func() { panic("task blew up") }); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// The worker must survive to run the next task.
	done := make(chan struct{})
	if err := p.Submit(func() { close(done) }); err != nil {
		t.Fatalf("Submit after panic: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive a panicking task")
	}
}
