// Package workers provides a bounded worker pool for running agent executions.
//
// The pool has a fixed core of always-on workers, a bounded queue, and a hard
// ceiling of transient workers that spin up when the queue is full. When core
// workers are busy, the queue is full, and the ceiling is reached, Submit
// fails with ErrPoolSaturated — a typed result the caller surfaces, never a
// silently dropped task. A slow or stuck execution therefore cannot starve
// new sessions, and saturation is visible instead of turning into unbounded
// goroutine growth.
package workers

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrPoolSaturated is returned by Submit when the queue is full and the pool
// is at its maximum worker count.
var ErrPoolSaturated = errors.New("worker pool saturated")

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("worker pool closed")

// Config sizes the pool.
type Config struct {
	// Core is the number of always-running workers. Default 10.
	Core int

	// Max caps the total worker count including transient ones. Default 20.
	Max int

	// Queue is the task queue capacity. Default 100.
	Queue int

	// KeepAlive is how long a transient worker idles before exiting.
	// Default 60s.
	KeepAlive time.Duration

	// Logger for pool events. Defaults to slog.Default().
	Logger *slog.Logger
}

// Pool runs submitted tasks on a bounded set of workers.
type Pool struct {
	tasks     chan func()
	keepAlive time.Duration
	max       int
	logger    *slog.Logger

	mu      sync.Mutex
	workers int
	closed  bool

	wg sync.WaitGroup
}

// New creates and starts a pool with Core workers running.
func New(cfg Config) *Pool {
	if cfg.Core <= 0 {
		cfg.Core = 10
	}
	if cfg.Max < cfg.Core {
		cfg.Max = cfg.Core * 2
	}
	if cfg.Queue <= 0 {
		cfg.Queue = 100
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	p := &Pool{
		tasks:     make(chan func(), cfg.Queue),
		keepAlive: cfg.KeepAlive,
		max:       cfg.Max,
		logger:    cfg.Logger.With("component", "worker-pool"),
	}
	p.workers = cfg.Core
	for i := 0; i < cfg.Core; i++ {
		p.wg.Add(1)
		go p.coreWorker()
	}
	return p
}

// Submit enqueues a task. When the queue is full it spawns a transient worker
// seeded with the task, up to the pool's maximum; beyond that it fails with
// ErrPoolSaturated.
func (p *Pool) Submit(task func()) error {
	if task == nil {
		return errors.New("task cannot be nil")
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	select {
	case p.tasks <- task:
		p.mu.Unlock()
		return nil
	default:
	}
	if p.workers >= p.max {
		p.mu.Unlock()
		return ErrPoolSaturated
	}
	p.workers++
	p.wg.Add(1)
	p.mu.Unlock()

	go p.transientWorker(task)
	return nil
}

// Close stops accepting tasks, lets queued tasks drain, and waits for all
// workers to exit.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) coreWorker() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(task)
	}
}

func (p *Pool) transientWorker(seed func()) {
	defer p.wg.Done()
	p.run(seed)

	idle := time.NewTimer(p.keepAlive)
	defer idle.Stop()
	for {
		select {
		case task, ok := <-p.tasks:
			if !ok {
				p.release()
				return
			}
			p.run(task)
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(p.keepAlive)
		case <-idle.C:
			p.release()
			return
		}
	}
}

func (p *Pool) release() {
	p.mu.Lock()
	p.workers--
	p.mu.Unlock()
}

func (p *Pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", "panic", r)
		}
	}()
	task()
}
