package queue

import (
	"testing"
	"time"

	"github.com/vthunder/pulseloop/internal/coretypes"
)

func newEvent(priority int) *coretypes.PerceptionEvent {
	return coretypes.NewPerceptionEvent(coretypes.PerceptionCursor, "test", nil, priority)
}

func TestQueue_DequeueOrdersByPriorityThenFIFO(t *testing.T) {
	q := New(0)

	low := newEvent(8)
	high := newEvent(1)
	mid1 := newEvent(4)
	mid2 := newEvent(4)

	for _, e := range []*coretypes.PerceptionEvent{low, high, mid1, mid2} {
		if !q.Enqueue(e) {
			t.Fatalf("Enqueue(%s) returned false", e.ID)
		}
	}

	got := []*coretypes.PerceptionEvent{q.Dequeue(), q.Dequeue(), q.Dequeue(), q.Dequeue()}
	want := []*coretypes.PerceptionEvent{high, mid1, mid2, low}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("pop %d = %s, want %s", i, got[i].ID, want[i].ID)
		}
	}
	if q.Dequeue() != nil {
		t.Error("expected nil from an empty queue")
	}
}

func TestQueue_EnqueueRejectsWhenFull(t *testing.T) {
	q := New(2)
	if !q.Enqueue(newEvent(5)) || !q.Enqueue(newEvent(5)) {
		t.Fatal("expected the first two enqueues to succeed")
	}
	if q.Enqueue(newEvent(5)) {
		t.Error("expected Enqueue to reject a third event over maxSize 2")
	}
}

func TestQueue_CancelDropsEntrySilently(t *testing.T) {
	q := New(0)
	cancelled := newEvent(3)
	kept := newEvent(3)
	q.Enqueue(cancelled)
	q.Enqueue(kept)

	if !q.Cancel(cancelled.ID) {
		t.Fatal("expected Cancel to find the pending entry")
	}
	if q.Cancel("unknown-id") {
		t.Error("expected Cancel to fail for an unknown id")
	}

	got := q.Dequeue()
	if got != kept {
		t.Errorf("Dequeue = %v, want the surviving kept event", got)
	}
	if q.Dequeue() != nil {
		t.Error("expected the cancelled entry to never surface")
	}
}

func TestQueue_DeferRequeuesAtOriginalPriorityAfterExpiry(t *testing.T) {
	q := New(0)
	deferred := newEvent(2)
	other := newEvent(5)
	q.Enqueue(deferred)
	q.Enqueue(other)

	if !q.Defer(deferred.ID, time.Now().Add(50*time.Millisecond)) {
		t.Fatal("expected Defer to find the pending entry")
	}

	// Still deferred: despite its higher priority (lower number), the
	// lower-priority "other" event should surface first.
	got := q.Dequeue()
	if got != other {
		t.Errorf("Dequeue = %v, want the non-deferred event while deferral is active", got)
	}

	time.Sleep(60 * time.Millisecond)

	got = q.Dequeue()
	if got != deferred {
		t.Errorf("Dequeue = %v, want the deferred event once its window has passed", got)
	}
}

func TestQueue_SizeAndStatus(t *testing.T) {
	q := New(0)
	a := newEvent(5)
	b := newEvent(5)
	q.Enqueue(a)
	q.Enqueue(b)
	q.Cancel(a.ID)

	if q.Size() != 1 {
		t.Errorf("Size() = %d, want 1 (cancelled entries excluded)", q.Size())
	}
	status := q.Status()
	if status["pending"] != 1 {
		t.Errorf("Status()[pending] = %d, want 1", status["pending"])
	}
	if status["cancelled"] != 1 {
		t.Errorf("Status()[cancelled] = %d, want 1", status["cancelled"])
	}
}
