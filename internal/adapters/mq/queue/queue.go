// Package queue carries background work for issues: priority recomputation
// and embedding backfill.
//
// Tasks are coalesced: while a task for the same kind and issue is pending a
// second Enqueue is accepted without queueing a copy. The mark is released
// when a worker picks the task up, so an update that lands mid-processing
// still schedules one more run.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/AlexBiobelemo/Project-Andrew/pkg/metrics"
)

const defaultQueueCapacity = 10_000

// Kind names the work a task asks for.
type Kind string

const (
	// KindRecompute re-scores an issue and its board entry.
	KindRecompute Kind = "recompute"
	// KindEmbed fetches a missing embedding for an issue.
	KindEmbed Kind = "embed"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool { return k == KindRecompute || k == KindEmbed }

// Task is one unit of background work.
type Task struct {
	Kind     Kind
	IssueID  string
	Enqueued time.Time
}

type taskKey struct {
	kind Kind
	id   string
}

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a task. It returns false when the queue is full or closed.
	Enqueue(ctx context.Context, t Task) bool

	// Dequeue returns the channel workers receive from. It is closed once the
	// queue is closed and drained.
	Dequeue(ctx context.Context) <-chan Task

	// Done releases the coalescing mark of a received task.
	Done(t Task)

	// Len returns the number of queued tasks.
	Len(ctx context.Context) int

	Close() error
	IsClosed() bool
}

// InMemoryQueue implements Queue with a buffered channel.
type InMemoryQueue struct {
	tasks    chan Task
	capacity int

	pending sync.Map // taskKey -> struct{}

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.tasks = make(chan Task, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	metrics.UpdateQueueUtilization(0)
	return q
}

// Enqueue adds a task, or folds it into an identical pending one.
func (q *InMemoryQueue) Enqueue(ctx context.Context, t Task) bool {
	if !t.Kind.Valid() || t.IssueID == "" {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "invalid_task")
		return false
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "closed")
		return false
	}
	if ctx.Err() != nil {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return false
	}

	key := taskKey{kind: t.Kind, id: t.IssueID}
	if _, loaded := q.pending.LoadOrStore(key, struct{}{}); loaded {
		return true
	}
	if t.Enqueued.IsZero() {
		t.Enqueued = time.Now()
	}

	select {
	case q.tasks <- t:
		metrics.RecordQueueEnqueue()
		q.observe()
		return true
	default:
		q.pending.Delete(key)
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "queue_full")
		return false
	}
}

// Dequeue returns the task channel. ctx is unused: every consumer shares one
// channel, so an abandoned receiver never holds a task.
func (q *InMemoryQueue) Dequeue(_ context.Context) <-chan Task {
	return q.tasks
}

// Done releases the coalescing mark and updates the queue gauges.
func (q *InMemoryQueue) Done(t Task) {
	q.pending.Delete(taskKey{kind: t.Kind, id: t.IssueID})
	metrics.RecordQueueDequeue()
	q.observe()
}

// Len returns the number of queued tasks.
func (q *InMemoryQueue) Len(_ context.Context) int {
	q.observe()
	return len(q.tasks)
}

func (q *InMemoryQueue) observe() {
	size := len(q.tasks)
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.capacity))
}

// Close stops accepting tasks. Queued tasks are still delivered.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	close(q.tasks)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
