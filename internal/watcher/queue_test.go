package watcher

import (
	"context"
	"testing"
	"time"
)

func TestEventQueueFIFO(t *testing.T) {
	q := newEventQueue(2)
	if !q.TryEnqueue(Event{Project: "p", Path: "a"}) {
		t.Fatal("expected enqueue to succeed")
	}
	if !q.TryEnqueue(Event{Project: "p", Path: "b"}) {
		t.Fatal("expected enqueue to succeed")
	}
	if q.TryEnqueue(Event{Project: "p", Path: "c"}) {
		t.Fatal("expected enqueue to fail when full")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ev, ok := q.Dequeue(ctx)
	if !ok || ev.Path != "a" {
		t.Fatalf("expected a first, got %+v ok=%v", ev, ok)
	}
	ev, ok = q.Dequeue(ctx)
	if !ok || ev.Path != "b" {
		t.Fatalf("expected b second, got %+v ok=%v", ev, ok)
	}
}

func TestEventQueueDequeueBlocksUntilCancel(t *testing.T) {
	q := newEventQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, ok := q.Dequeue(ctx)
	if ok {
		t.Fatal("expected dequeue on empty queue to time out")
	}
}
