package distributor

import (
	"context"
	"sync"

	"github.com/nerrad567/gray-logic-iot/internal/transport"
)

// Handle is one consumer's cursor over the broadcast stream.
//
// A handle is meant to be read by a single goroutine. Reading from it never
// affects the poll loop or other handles.
type Handle struct {
	q    *queue
	key  uint64
	dist *Distributor

	closeOnce sync.Once
}

// ID returns the handle's unique identifier.
func (h *Handle) ID() string {
	return h.q.id
}

// Recv blocks until an event is available, the handle is closed and
// drained, or ctx ends.
//
// Returns:
//   - the next event in broadcast order
//   - ErrHandleClosed once the handle is closed and its buffer empty
//   - ctx.Err() if ctx ends first
func (h *Handle) Recv(ctx context.Context) (transport.Event, error) {
	for {
		ev, ok, closed := h.q.pop()
		if ok {
			return ev, nil
		}
		if closed {
			return transport.Event{}, ErrHandleClosed
		}

		select {
		case <-h.q.ready:
		case <-h.q.done:
		case <-ctx.Done():
			return transport.Event{}, ctx.Err()
		}
	}
}

// TryRecv returns the next buffered event without blocking.
func (h *Handle) TryRecv() (transport.Event, bool) {
	ev, ok, _ := h.q.pop()
	return ev, ok
}

// Ready returns a channel that receives a value when events may be
// available. Use it with TryRecv to multiplex handles in a select.
func (h *Handle) Ready() <-chan struct{} {
	return h.q.ready
}

// Len returns the number of buffered events.
func (h *Handle) Len() int {
	return h.q.len()
}

// Dropped returns how many events this handle has lost to overflow.
func (h *Handle) Dropped() uint64 {
	return h.q.dropped.Load()
}

// Close deregisters the handle. Buffered events can still be drained with
// Recv or TryRecv. Close is idempotent.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		h.dist.remove(h.key)
		h.q.close()
	})
}
