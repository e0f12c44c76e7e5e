// Package worker runs queued issue tasks on a pool of goroutines.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/AlexBiobelemo/Project-Andrew/internal/adapters/mq/queue"
	"github.com/AlexBiobelemo/Project-Andrew/pkg/logger"
	"github.com/AlexBiobelemo/Project-Andrew/pkg/metrics"
)

const (
	defaultTaskTimeout  = 10 * time.Second
	poolShutdownTimeout = 30 * time.Second
)

// Handler performs one task.
type Handler interface {
	Handle(ctx context.Context, t queue.Task) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, t queue.Task) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, t queue.Task) error { return f(ctx, t) }

// Queue defines how workers receive tasks.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Task
}

// Worker processes tasks from a queue.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or the queue drains.
	Run(ctx context.Context)

	// Shutdown stops the worker without waiting for the queue to drain.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue       Queue
	handler     Handler
	name        string
	taskTimeout time.Duration

	processed *atomic.Int64

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a worker.
func NewInMemoryWorker(q Queue, h Handler, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:       q,
		handler:     h,
		name:        "worker",
		taskTimeout: defaultTaskTimeout,
		processed:   new(atomic.Int64),
		shutdown:    make(chan struct{}),
		done:        make(chan struct{}),
		logger:      logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	tasks := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case task, ok := <-tasks:
			if !ok {
				return
			}
			if err := w.process(ctx, task); err != nil {
				w.logger.Error(ctx, "task failed",
					logger.String("kind", string(task.Kind)),
					logger.String("issue_id", task.IssueID),
					logger.Error(err),
				)
			}
		}
	}
}

// Shutdown stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.stop()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) stop() {
	select {
	case <-w.shutdown:
	default:
		close(w.shutdown)
	}
}

func (w *InMemoryWorker) process(ctx context.Context, task queue.Task) error {
	// release the coalescing mark first so updates made while this task runs
	// schedule another pass
	if acker, ok := w.queue.(interface{ Done(queue.Task) }); ok {
		acker.Done(task)
	}

	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	tctx, cancel := context.WithTimeout(ctx, w.taskTimeout)
	defer cancel()

	err := w.handle(tctx, task)
	w.processed.Add(1)
	if err != nil {
		metrics.RecordWorkerError(string(task.Kind))
		metrics.RecordErrorByComponent("worker", string(task.Kind))
		return fmt.Errorf("%s %s: %w", task.Kind, task.IssueID, err)
	}
	return nil
}

func (w *InMemoryWorker) handle(ctx context.Context, task queue.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.handler.Handle(ctx, task)
}

// Pool manages multiple workers.
type Pool struct {
	workers   []*InMemoryWorker
	queue     Queue
	processed *atomic.Int64
	logger    logger.Logger
}

// NewPool creates a pool. Options apply to every worker; names are assigned
// per worker.
func NewPool(workerCount int, q Queue, h Handler, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}
	p := &Pool{
		workers:   make([]*InMemoryWorker, workerCount),
		queue:     q,
		processed: new(atomic.Int64),
		logger:    logger.Get().Named("worker-pool"),
	}
	for i := 0; i < workerCount; i++ {
		w := NewInMemoryWorker(q, h, append(opts, WithName("worker-"+strconv.Itoa(i)))...)
		w.processed = p.processed
		p.workers[i] = w
	}
	metrics.UpdateWorkerCount(workerCount)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Processed returns the number of tasks handled so far.
func (p *Pool) Processed() int64 { return p.processed.Load() }

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Shutdown closes the queue and lets the workers drain it. Workers still busy
// when ctx (capped at 30s) ends are stopped.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	sctx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var timedOut bool
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-sctx.Done():
			timedOut = true
			p.logger.Warn(ctx, "worker drain timed out", logger.Int("worker_id", i))
			w.stop()
		}
	}
	metrics.UpdateWorkerCount(0)
	if timedOut {
		return fmt.Errorf("worker pool shutdown: %w", sctx.Err())
	}
	return nil
}
