// Package worker runs maintenance jobs taken off the job queue. Job failures
// are logged and counted, never propagated.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/holdout/internal/adapters/mq/queue"
	"github.com/okian/holdout/pkg/logger"
	"github.com/okian/holdout/pkg/metrics"
)

const (
	defaultWorkerCount  = 2
	poolShutdownTimeout = 30 * time.Second
)

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Job
}

// deliverer is implemented by queues that track dequeues.
type deliverer interface {
	Delivered()
}

// Worker takes jobs off a queue one at a time.
type Worker struct {
	queue  Queue
	name   string
	active *atomic.Int32

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// New creates a worker reading from q.
func New(q Queue, opts ...Option) *Worker {
	o := options{name: "worker"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.Default("worker")
	}
	return &Worker{
		queue:    q,
		name:     o.name,
		active:   &atomic.Int32{},
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   o.logger.Named(o.name),
	}
}

// Run processes jobs until ctx is cancelled, Shutdown is called or the
// queue is closed and drained.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case j, ok := <-jobs:
			if !ok {
				return
			}
			if d, ok := w.queue.(deliverer); ok {
				d.Delivered()
			}
			w.process(ctx, j)
		}
	}
}

// Shutdown stops the worker after its current job.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *Worker) process(ctx context.Context, j queue.Job) {
	start := time.Now()
	metrics.UpdateWorkerActiveCount(int(w.active.Add(1)))
	defer func() {
		metrics.UpdateWorkerActiveCount(int(w.active.Add(-1)))
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	if err := w.run(ctx, j); err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", j.Name)
		w.logger.Error(ctx, "job failed",
			logger.String("job", j.Name),
			logger.String("job_id", j.ID),
			logger.Error(err),
		)
		return
	}
	w.logger.Debug(ctx, "job done",
		logger.String("job", j.Name),
		logger.Duration("queued_for", start.Sub(j.EnqueuedAt)),
		logger.Duration("took", time.Since(start)),
	)
}

func (w *Worker) run(ctx context.Context, j queue.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	if j.Run == nil {
		return fmt.Errorf("job %q has no action", j.Name)
	}
	return j.Run(ctx)
}

// Pool manages multiple workers sharing one queue.
type Pool struct {
	workers []*Worker
	queue   Queue
	logger  logger.Logger
}

// NewPool creates a pool of workerCount workers.
func NewPool(workerCount int, q Queue, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = defaultWorkerCount
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.Default("worker-pool")
	}

	active := &atomic.Int32{}
	p := &Pool{workers: make([]*Worker, workerCount), queue: q, logger: o.logger}
	for i := range p.workers {
		w := New(q, WithName("worker-"+strconv.Itoa(i)), WithLogger(o.logger))
		w.active = active
		p.workers[i] = w
	}

	metrics.UpdateWorkerCount(workerCount)
	metrics.UpdateWorkerActiveCount(0)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Shutdown closes the queue and waits for workers to drain it.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var timedOut bool
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			timedOut = true
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	if timedOut {
		return fmt.Errorf("worker pool shutdown: %w", shutdownCtx.Err())
	}
	return nil
}
