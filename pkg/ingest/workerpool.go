package ingest

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Job is a unit of work submitted to the WorkerPool.
// A non-nil error stops the pool; Close reports the first one.
type Job func(ctx context.Context) error

// WorkerPool runs jobs on a fixed number of goroutines, each with its own
// bounded queue. Jobs submitted with the same key run on the same worker in
// submission order, so two writes for one dictionary id are never reordered.
type WorkerPool struct {
	queues []chan Job

	group  *errgroup.Group
	runCtx context.Context

	closeMu sync.Mutex
	closed  bool
	done    chan struct{}
	senders sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// NewWorkerPool creates a new worker pool with the specified number of workers
// and per-worker queue capacity.
func NewWorkerPool(workers, queue int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queue <= 0 {
		queue = 2
	}
	p := &WorkerPool{
		queues: make([]chan Job, workers),
		group:  &errgroup.Group{},
		runCtx: context.Background(),
		done:   make(chan struct{}),
	}
	for i := range p.queues {
		p.queues[i] = make(chan Job, queue)
	}
	return p
}

// Start begins the worker goroutines. Workers exit when their queue is closed
// by Close, when ctx is done, or when any job fails.
func (p *WorkerPool) Start(ctx context.Context) {
	p.group, p.runCtx = errgroup.WithContext(ctx)
	for _, q := range p.queues {
		p.group.Go(func() error {
			for {
				select {
				case <-p.runCtx.Done():
					return p.runCtx.Err()
				case job, ok := <-q:
					if !ok {
						return nil
					}
					if err := job(p.runCtx); err != nil {
						return err
					}
				}
			}
		})
	}
}

// Submit enqueues job on the worker that owns key. It blocks while that
// worker's queue is full, which is what keeps the producer from running
// ahead of the writers.
func (p *WorkerPool) Submit(ctx context.Context, key uint64, job Job) error {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return ErrPoolClosed
	}
	p.senders.Add(1)
	p.closeMu.Unlock()
	defer p.senders.Done()

	q := p.queues[key%uint64(len(p.queues))]
	select {
	case q <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.runCtx.Done():
		return p.runCtx.Err()
	case <-p.done:
		return ErrPoolClosed
	}
}

// Close stops accepting new jobs, lets workers drain their queues and waits
// for them. It returns the first job error, if any, and is safe to call twice.
func (p *WorkerPool) Close() error {
	p.closeOnce.Do(func() {
		p.closeMu.Lock()
		p.closed = true
		close(p.done)
		p.closeMu.Unlock()

		// No Submit can be mid-send once senders drains.
		p.senders.Wait()
		for _, q := range p.queues {
			close(q)
		}
		p.closeErr = p.group.Wait()
	})
	return p.closeErr
}

// ErrPoolClosed is returned if a Submit is attempted after Close.
var ErrPoolClosed = &PoolError{"worker pool closed"}

// PoolError provides a simple typed error for pool operations.
type PoolError struct{ msg string }

func (e *PoolError) Error() string { return e.msg }
