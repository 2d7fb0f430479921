package service

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/thomasrockhu-codecov/cradle/pkg/errors"
)

// DefaultPoolSize is the default number of workers for the disk pools.
const DefaultPoolSize = 2

// WorkerPool bounds the number of concurrently running jobs for one class
// of resource, such as disk reads or disk writes.
type WorkerPool struct {
	name string
	sem  *semaphore.Weighted
	size int

	// mu guards closed and the pending count, so no job is admitted once
	// Close has started waiting.
	mu      sync.Mutex
	closed  bool
	pending int
	idle    chan struct{} // closed whenever pending drops to zero

	stats poolCounters
}

type poolCounters struct {
	submitted atomic.Int64
	completed atomic.Int64
	active    atomic.Int64
}

// PoolStats tracks worker pool statistics
type PoolStats struct {
	Name      string `json:"name"`
	Size      int    `json:"size"`
	Active    int64  `json:"active"`
	Submitted int64  `json:"submitted"`
	Completed int64  `json:"completed"`
}

// NewWorkerPool creates a pool that runs at most size jobs at once.
func NewWorkerPool(name string, size int) *WorkerPool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	idle := make(chan struct{})
	close(idle)
	return &WorkerPool{
		name: name,
		sem:  semaphore.NewWeighted(int64(size)),
		size: size,
		idle: idle,
	}
}

// admit counts a new job unless the pool is closed.
func (p *WorkerPool) admit() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	if p.pending == 0 {
		p.idle = make(chan struct{})
	}
	p.pending++
	return true
}

func (p *WorkerPool) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending--
	if p.pending == 0 {
		close(p.idle)
	}
}

// Submit schedules fn without waiting for a worker. It returns false once
// the pool is closed.
func (p *WorkerPool) Submit(ctx context.Context, fn func(context.Context)) bool {
	if !p.admit() {
		return false
	}
	p.stats.submitted.Add(1)
	go func() {
		defer p.finish()
		if err := p.sem.Acquire(ctx, 1); err != nil {
			p.stats.completed.Add(1)
			return
		}
		defer p.sem.Release(1)
		p.runJob(ctx, fn)
	}()
	return true
}

// Do runs fn on a worker and waits for it. The wait ends early if ctx is
// canceled before a worker is free.
func (p *WorkerPool) Do(ctx context.Context, fn func(context.Context) error) error {
	if !p.admit() {
		return errors.NewError(errors.ErrCodeShutdownInProgress, "worker pool is closed").
			WithComponent("worker_pool").
			WithDetail("pool", p.name)
	}
	defer p.finish()
	p.stats.submitted.Add(1)
	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.stats.completed.Add(1)
		return errors.Wrap(errors.ErrCodeOperationCanceled, "waiting for worker", err).
			WithComponent("worker_pool").
			WithDetail("pool", p.name)
	}
	defer p.sem.Release(1)

	var err error
	p.runJob(ctx, func(ctx context.Context) { err = fn(ctx) })
	return err
}

func (p *WorkerPool) runJob(ctx context.Context, fn func(context.Context)) {
	p.stats.active.Add(1)
	defer func() {
		p.stats.active.Add(-1)
		p.stats.completed.Add(1)
	}()
	fn(ctx)
}

// Wait blocks until every admitted job has finished or ctx is done.
func (p *WorkerPool) Wait(ctx context.Context) error {
	p.mu.Lock()
	idle := p.idle
	p.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return errors.Wrap(errors.ErrCodeOperationCanceled, "waiting for pool to drain", ctx.Err()).
			WithComponent("worker_pool").
			WithDetail("pool", p.name)
	}
}

// Close stops accepting work and waits for admitted jobs.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	p.closed = true
	idle := p.idle
	p.mu.Unlock()
	<-idle
}

// Stats returns pool statistics
func (p *WorkerPool) Stats() PoolStats {
	return PoolStats{
		Name:      p.name,
		Size:      p.size,
		Active:    p.stats.active.Load(),
		Submitted: p.stats.submitted.Load(),
		Completed: p.stats.completed.Load(),
	}
}
