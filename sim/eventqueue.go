package sim

import (
	"container/heap"
	"sync"
)

// EventQueue holds scheduled events ordered by time. Events scheduled for the
// same cycle come out in the order they were pushed.
type EventQueue interface {
	Push(evt *ScheduledEvent)
	Pop() *ScheduledEvent
	Peek() *ScheduledEvent
	Len() int
}

// EventQueueImpl is a thread-safe, heap-based EventQueue.
type EventQueueImpl struct {
	sync.Mutex
	events  eventHeap
	nextSeq uint64
}

// NewEventQueue creates an empty EventQueue.
func NewEventQueue() *EventQueueImpl {
	q := new(EventQueueImpl)
	q.events = make(eventHeap, 0)
	heap.Init(&q.events)

	return q
}

// Push adds an event to the queue.
func (q *EventQueueImpl) Push(evt *ScheduledEvent) {
	q.Lock()
	heap.Push(&q.events, queuedEvent{evt: evt, seq: q.nextSeq})
	q.nextSeq++
	q.Unlock()
}

// Pop removes and returns the earliest event.
func (q *EventQueueImpl) Pop() *ScheduledEvent {
	q.Lock()
	e := heap.Pop(&q.events).(queuedEvent)
	q.Unlock()

	return e.evt
}

// Peek returns the earliest event without removing it.
func (q *EventQueueImpl) Peek() *ScheduledEvent {
	q.Lock()
	evt := q.events[0].evt
	q.Unlock()

	return evt
}

// Len returns the number of events in the queue.
func (q *EventQueueImpl) Len() int {
	q.Lock()
	l := q.events.Len()
	q.Unlock()

	return l
}

type queuedEvent struct {
	evt *ScheduledEvent
	seq uint64
}

type eventHeap []queuedEvent

func (h eventHeap) Len() int {
	return len(h)
}

func (h eventHeap) Less(i, j int) bool {
	if h[i].evt.Time != h[j].evt.Time {
		return h[i].evt.Time < h[j].evt.Time
	}

	return h[i].seq < h[j].seq
}

func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *eventHeap) Push(x any) {
	*h = append(*h, x.(queuedEvent))
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[0 : n-1]

	return e
}
