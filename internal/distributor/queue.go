package distributor

import (
	"sync"
	"sync/atomic"

	"github.com/nerrad567/gray-logic-iot/internal/transport"
)

// initialUnboundedCapacity is the starting ring size for unbounded handles.
const initialUnboundedCapacity = 16

// queue is the per-handle buffer. It is referenced strongly only by its
// Handle; the distributor's registry holds a weak pointer.
type queue struct {
	id       string
	since    uint64
	capacity int // 0 means unbounded
	policy   OverflowPolicy

	mu     sync.Mutex
	ring   []transport.Event
	head   int
	size   int
	closed bool

	ready   chan struct{}
	done    chan struct{}
	dropped atomic.Uint64
}

func newQueue(id string, capacity int, policy OverflowPolicy, since uint64) *queue {
	ringSize := capacity
	if ringSize <= 0 {
		ringSize = initialUnboundedCapacity
	}
	return &queue{
		id:       id,
		since:    since,
		capacity: capacity,
		policy:   policy,
		ring:     make([]transport.Event, ringSize),
		ready:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// push appends ev without blocking. accepted reports whether ev was
// buffered; dropped reports whether an event (ev itself under DropNewest,
// the oldest one under DropOldest) was discarded.
func (q *queue) push(ev transport.Event) (accepted, dropped bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false, false
	}

	if q.size == len(q.ring) {
		if q.capacity <= 0 {
			q.grow()
		} else {
			dropped = true
			q.dropped.Add(1)
			if q.policy == DropNewest {
				q.mu.Unlock()
				return false, true
			}
			// DropOldest: advance head over the oldest entry.
			q.ring[q.head] = transport.Event{}
			q.head = (q.head + 1) % len(q.ring)
			q.size--
		}
	}

	q.ring[(q.head+q.size)%len(q.ring)] = ev
	q.size++
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true, dropped
}

// pop removes the oldest buffered event.
func (q *queue) pop() (ev transport.Event, ok bool, closed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return transport.Event{}, false, q.closed
	}
	ev = q.ring[q.head]
	q.ring[q.head] = transport.Event{}
	q.head = (q.head + 1) % len(q.ring)
	q.size--

	// Keep the wake-up signal armed while events remain.
	if q.size > 0 {
		select {
		case q.ready <- struct{}{}:
		default:
		}
	}
	return ev, true, q.closed
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// grow doubles the ring. Caller holds q.mu.
func (q *queue) grow() {
	next := make([]transport.Event, len(q.ring)*2)
	for i := 0; i < q.size; i++ {
		next[i] = q.ring[(q.head+i)%len(q.ring)]
	}
	q.ring = next
	q.head = 0
}
