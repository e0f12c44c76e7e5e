package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
	if !q.Enqueue(ctx, Task{Kind: KindRecompute, IssueID: "i1"}) {
		t.Fatal("expected enqueue to succeed")
	}
	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	task := <-q.Dequeue(ctx)
	if task.IssueID != "i1" || task.Kind != KindRecompute {
		t.Errorf("unexpected task %+v", task)
	}
	if task.Enqueued.IsZero() {
		t.Error("expected enqueue time to be stamped")
	}
	q.Done(task)
	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
}

func TestInMemoryQueue_Coalescing(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(10))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if !q.Enqueue(ctx, Task{Kind: KindRecompute, IssueID: "i1"}) {
			t.Fatal("expected coalesced enqueue to report success")
		}
	}
	if !q.Enqueue(ctx, Task{Kind: KindEmbed, IssueID: "i1"}) {
		t.Fatal("expected a different kind to queue separately")
	}
	if l := q.Len(ctx); l != 2 {
		t.Fatalf("expected 2 queued tasks, got %d", l)
	}

	first := <-q.Dequeue(ctx)
	q.Done(first)
	if !q.Enqueue(ctx, first) {
		t.Fatal("expected re-enqueue after Done")
	}
	if l := q.Len(ctx); l != 2 {
		t.Errorf("expected 2 queued tasks after re-enqueue, got %d", l)
	}
}

func TestInMemoryQueue_Rejects(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(1))
	ctx := context.Background()

	if q.Enqueue(ctx, Task{Kind: "reindex", IssueID: "i1"}) {
		t.Error("expected unknown kind to be rejected")
	}
	if q.Enqueue(ctx, Task{Kind: KindEmbed}) {
		t.Error("expected empty issue id to be rejected")
	}
	if !q.Enqueue(ctx, Task{Kind: KindEmbed, IssueID: "i1"}) {
		t.Fatal("expected enqueue to succeed")
	}
	if q.Enqueue(ctx, Task{Kind: KindEmbed, IssueID: "i2"}) {
		t.Error("expected enqueue to fail when full")
	}
	// the rejected task must not stay marked as pending
	<-q.Dequeue(ctx)
	if !q.Enqueue(ctx, Task{Kind: KindEmbed, IssueID: "i2"}) {
		t.Error("expected i2 to be accepted once there is room")
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if q.Enqueue(cctx, Task{Kind: KindRecompute, IssueID: "i3"}) {
		t.Error("expected enqueue with a cancelled context to fail")
	}
}

func TestInMemoryQueue_ConcurrentAccess(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(100))
	ctx := context.Background()
	const producers, perProducer = 10, 100

	var consumed sync.Map
	var consumers sync.WaitGroup
	for i := 0; i < 4; i++ {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			for task := range q.Dequeue(ctx) {
				consumed.Store(task.IssueID, true)
				q.Done(task)
			}
		}()
	}

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				task := Task{Kind: KindRecompute, IssueID: fmt.Sprintf("i%d-%d", p, j)}
				for !q.Enqueue(ctx, task) {
					time.Sleep(time.Millisecond)
				}
			}
		}(p)
	}
	wg.Wait()
	_ = q.Close()
	consumers.Wait()

	n := 0
	consumed.Range(func(_, _ any) bool { n++; return true })
	if n != producers*perProducer {
		t.Errorf("expected %d consumed tasks, got %d", producers*perProducer, n)
	}
}

func TestInMemoryQueue_GracefulShutdown(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(10))
	ctx := context.Background()

	q.Enqueue(ctx, Task{Kind: KindRecompute, IssueID: "i1"})
	q.Enqueue(ctx, Task{Kind: KindRecompute, IssueID: "i2"})

	if q.IsClosed() {
		t.Error("expected queue to be open initially")
	}
	if err := q.Close(); err != nil {
		t.Errorf("expected close to succeed, got error: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to be closed after Close()")
	}
	if q.Enqueue(ctx, Task{Kind: KindRecompute, IssueID: "i3"}) {
		t.Error("expected enqueue to fail after closing")
	}

	var drained []string
	for task := range q.Dequeue(ctx) {
		drained = append(drained, task.IssueID)
	}
	if len(drained) != 2 {
		t.Errorf("expected queued tasks to drain after close, got %v", drained)
	}
	if err := q.Close(); err != nil {
		t.Errorf("expected second close to succeed, got error: %v", err)
	}
}
