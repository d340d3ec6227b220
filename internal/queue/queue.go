// Package queue implements the event-loop core's priority queue: ordered
// by (priority ascending, sequence ascending), cancellable, deferrable,
// and safe under a single mutex shared by many producers and one consumer.
package queue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/vthunder/pulseloop/internal/coretypes"
)

// itemStatus is the queue's own view of an entry's lifecycle, distinct
// from coretypes.PerceptionEvent.Processed (which only records "has this
// event been dispatched at all").
type itemStatus int

const (
	statusPending itemStatus = iota
	statusProcessing
	statusCancelled
	statusDeferred
)

type item struct {
	event         *coretypes.PerceptionEvent
	sequence      int64
	status        itemStatus
	deferredUntil time.Time
	index         int // heap index, maintained by container/heap
}

// heapData is a min-heap ordered by (priority, sequence).
type heapData []*item

func (h heapData) Len() int { return len(h) }
func (h heapData) Less(i, j int) bool {
	if h[i].event.Priority != h[j].event.Priority {
		return h[i].event.Priority < h[j].event.Priority
	}
	return h[i].sequence < h[j].sequence
}
func (h heapData) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *heapData) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *heapData) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// Queue is the shared priority queue. One mutex guards the heap and the
// id index, matching the "single shared mutable structure" rule in
// SPEC_FULL.md §5.
type Queue struct {
	mu       sync.Mutex
	heap     heapData
	byID     map[string]*item
	sequence int64
	maxSize  int
}

// New creates a queue with the given maximum size (0 uses the spec
// default of 10000).
func New(maxSize int) *Queue {
	if maxSize <= 0 {
		maxSize = 10000
	}
	q := &Queue{byID: make(map[string]*item), maxSize: maxSize}
	heap.Init(&q.heap)
	return q
}

// Enqueue adds an event to the queue. Returns false if the queue is full.
func (q *Queue) Enqueue(event *coretypes.PerceptionEvent) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.heap.Len() >= q.maxSize {
		return false
	}

	q.sequence++
	it := &item{event: event, sequence: q.sequence, status: statusPending}
	heap.Push(&q.heap, it)
	q.byID[event.ID] = it
	return true
}

// Dequeue pops the highest-priority pending event whose deferred-until
// (if any) has passed. Entries that are cancelled are dropped silently;
// entries still deferred are pushed back with a fresh sequence (their
// priority is unchanged, satisfying the "retains original priority"
// invariant).
func (q *Queue) Dequeue() *coretypes.PerceptionEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var requeue []*item

	for q.heap.Len() > 0 {
		it := heap.Pop(&q.heap).(*item)

		switch it.status {
		case statusCancelled:
			delete(q.byID, it.event.ID)
			continue
		case statusDeferred:
			if now.Before(it.deferredUntil) {
				requeue = append(requeue, it)
				continue
			}
			it.status = statusPending
		}

		if it.status == statusPending {
			it.status = statusProcessing
			for _, r := range requeue {
				q.sequence++
				r.sequence = q.sequence
				heap.Push(&q.heap, r)
			}
			return it.event
		}
	}

	for _, r := range requeue {
		q.sequence++
		r.sequence = q.sequence
		heap.Push(&q.heap, r)
	}
	return nil
}

// Cancel marks a pending entry as cancelled; it is dropped on next dequeue.
func (q *Queue) Cancel(eventID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.byID[eventID]
	if !ok || it.status != statusPending {
		return false
	}
	it.status = statusCancelled
	return true
}

// Defer marks a pending entry as deferred until the given time.
func (q *Queue) Defer(eventID string, until time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.byID[eventID]
	if !ok {
		return false
	}
	it.status = statusDeferred
	it.deferredUntil = until
	return true
}

// Size returns the number of pending entries.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, it := range q.heap {
		if it.status == statusPending {
			n++
		}
	}
	return n
}

// Status summarizes queue occupancy by status, keyed by a stable label.
func (q *Queue) Status() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := map[string]int{"pending": 0, "processing": 0, "cancelled": 0, "deferred": 0}
	for _, it := range q.heap {
		switch it.status {
		case statusPending:
			out["pending"]++
		case statusProcessing:
			out["processing"]++
		case statusCancelled:
			out["cancelled"]++
		case statusDeferred:
			out["deferred"]++
		}
	}
	return out
}
