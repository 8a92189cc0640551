// Package executor runs CPU-bound geometry operations on a bounded worker
// pool so the HTTP layer never executes them inline. Submission honors
// context cancellation; a running operation is pure and uncancellable.
package executor

import (
	"context"
	"log/slog"
	"sync"
)

type Interface interface {
	Submit(ctx context.Context, fn func() (any, error)) (any, error)
}

type job struct {
	fn   func() (any, error)
	done chan result
}

type result struct {
	value any
	err   error
}

type Pool struct {
	logger *slog.Logger
	jobs   chan job
	wg     sync.WaitGroup
	once   sync.Once
}

func New(workers, queue int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		logger: logger.With(slog.String("component", "executor")),
		jobs:   make(chan job, queue),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	p.logger.Debug("worker pool started", slog.Int("workers", workers), slog.Int("queue", queue))
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		v, err := j.fn()
		j.done <- result{value: v, err: err}
	}
}

// Submit enqueues fn and waits for its result. Enqueueing and waiting both
// respect ctx; once a worker picks the job up it runs to completion either
// way, the result channel is buffered so an abandoned job never blocks its
// worker.
func (p *Pool) Submit(ctx context.Context, fn func() (any, error)) (any, error) {
	j := job{fn: fn, done: make(chan result, 1)}
	select {
	case p.jobs <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-j.done:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown stops accepting jobs and waits for in-flight work to finish.
func (p *Pool) Shutdown() {
	p.once.Do(func() { close(p.jobs) })
	p.wg.Wait()
}
