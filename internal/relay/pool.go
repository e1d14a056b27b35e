package relay

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Job is run by one pool worker.
type Job func(ctx context.Context)

// WorkerPool runs at most Size jobs at a time on a fixed set of workers.
// Submit hands a job straight to an idle worker, so a full pool blocks the
// submitter.
type WorkerPool struct {
	size   int
	jobs   chan Job
	active atomic.Int64
}

func NewWorkerPool(size int) (*WorkerPool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("worker pool size must be positive, got %d", size)
	}
	return &WorkerPool{size: size, jobs: make(chan Job)}, nil
}

// Run starts the workers and blocks until ctx ends and every running job
// has returned.
func (p *WorkerPool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.size; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case job := <-p.jobs:
					p.active.Add(1)
					job(ctx)
					p.active.Add(-1)
				}
			}
		})
	}
	return g.Wait()
}

// Submit blocks until a worker accepts job or ctx ends.
func (p *WorkerPool) Submit(ctx context.Context, job Job) error {
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active is the number of jobs currently running.
func (p *WorkerPool) Active() int { return int(p.active.Load()) }

func (p *WorkerPool) Size() int { return p.size }
