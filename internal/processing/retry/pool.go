package retry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/vietddude/collector/internal/processing/metrics"
)

// Job is one unit of retry work.
type Job func(ctx context.Context)

// Pool runs retry jobs on a fixed set of workers, separate from the
// ingestion consumers. Submit never blocks.
type Pool struct {
	jobs    chan Job
	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup
	pending sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// NewPool starts workers that drain a queue of queueSize jobs.
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 10
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		jobs:   make(chan Job, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < workers; i++ {
		p.workers.Add(1)
		go p.run()
	}
	return p
}

// Submit enqueues job. It reports false when the queue is full or the pool is stopped.
func (p *Pool) Submit(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return false
	}

	p.pending.Add(1)
	select {
	case p.jobs <- job:
		metrics.RetryQueueDepth.Set(float64(len(p.jobs)))
		return true
	default:
		p.pending.Done()
		return false
	}
}

// Wait blocks until every accepted job has finished.
func (p *Pool) Wait() {
	p.pending.Wait()
}

// Stop stops accepting jobs and lets queued ones finish. When ctx ends
// first, running jobs see their context cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

func (p *Pool) run() {
	defer p.workers.Done()
	for job := range p.jobs {
		metrics.RetryQueueDepth.Set(float64(len(p.jobs)))
		p.exec(job)
	}
}

func (p *Pool) exec(job Job) {
	defer p.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Retry job panicked", "panic", r)
		}
	}()
	job(p.ctx)
}

// Depth returns the number of queued jobs and the queue capacity.
func (p *Pool) Depth() (queued, capacity int) {
	return len(p.jobs), cap(p.jobs)
}
