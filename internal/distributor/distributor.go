package distributor

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-iot/internal/transport"
)

// Distributor broadcasts transport events to independently paced handles.
//
// Thread Safety:
//   - NewHandle, Broadcast and Stats are safe for concurrent use.
//   - Only one Run may be active at a time.
type Distributor struct {
	bufferSize   int
	policy       OverflowPolicy
	errorBackoff time.Duration
	logger       Logger
	onDrop       func(ChannelError)

	// registry maps handle keys to weak queue pointers. It is the only
	// state shared between consumers.
	registry map[uint64]weak.Pointer[queue]
	regMu    sync.RWMutex
	nextKey  uint64

	// seq orders events; a handle receives events with seq > its since.
	seq atomic.Uint64

	// scratch is reused by Broadcast to snapshot live queues. scratchMu
	// also serialises broadcasts so every handle sees events in seq order.
	scratch   []*queue
	scratchMu sync.Mutex

	running atomic.Bool

	delivered  atomic.Uint64
	dropped    atomic.Uint64
	pollErrors atomic.Uint64
}

// Stats is a snapshot of distributor counters.
type Stats struct {
	Handles    int    `json:"handles"`
	Events     uint64 `json:"events"`
	Delivered  uint64 `json:"delivered"`
	Dropped    uint64 `json:"dropped"`
	PollErrors uint64 `json:"poll_errors"`
}

// New creates a Distributor. It does not poll until Run is called.
func New(opts ...Option) *Distributor {
	d := &Distributor{
		bufferSize:   DefaultBufferSize,
		policy:       DropOldest,
		errorBackoff: DefaultErrorBackoff,
		registry:     make(map[uint64]weak.Pointer[queue]),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run polls p until ctx is cancelled or p reports a fatal connection error.
//
// Non-fatal poll errors are logged, counted and followed by a short backoff.
// Outbound events are skipped. Every inbound event is broadcast.
//
// Returns:
//   - ctx.Err() after cancellation
//   - the fatal error from p (see transport.IsFatal)
//   - ErrAlreadyRunning if another Run is active
func (d *Distributor) Run(ctx context.Context, p transport.Poller) error {
	if !d.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer d.running.Store(false)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ev, err := p.Poll(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if transport.IsFatal(err) || errors.Is(err, transport.ErrClosed) {
				d.logError("event loop stopped", "error", err)
				return err
			}
			d.pollErrors.Add(1)
			d.logWarn("poll error, continuing", "error", err)
			if !sleepContext(ctx, d.errorBackoff) {
				return ctx.Err()
			}
			continue
		}

		if !ev.IsInbound() {
			continue
		}
		d.Broadcast(ev)
	}
}

// Broadcast sequences ev and hands it to every live handle. It never blocks
// on a consumer.
func (d *Distributor) Broadcast(ev transport.Event) {
	d.scratchMu.Lock()
	defer d.scratchMu.Unlock()

	seq := d.seq.Add(1)

	live, stale := d.snapshot(d.scratch[:0])
	for _, q := range live {
		if seq <= q.since {
			continue
		}
		accepted, dropped := q.push(ev)
		if dropped {
			d.reportDrop(q)
		}
		if accepted {
			d.delivered.Add(1)
		}
	}

	clear(live)
	d.scratch = live[:0]

	if len(stale) > 0 {
		d.prune(stale)
	}
}

// NewHandle registers a new receive cursor. The handle sees events
// broadcast after this call returns.
func (d *Distributor) NewHandle() *Handle {
	id := uuid.NewString()

	d.regMu.Lock()
	d.nextKey++
	key := d.nextKey
	q := newQueue(id, d.bufferSize, d.policy, d.seq.Load())
	d.registry[key] = weak.Make(q)
	d.regMu.Unlock()

	h := &Handle{q: q, key: key, dist: d}
	runtime.AddCleanup(h, func(k uint64) { d.remove(k) }, key)
	return h
}

// Stats returns the current counters. Handles counts registrations that
// have not been pruned yet.
func (d *Distributor) Stats() Stats {
	d.regMu.RLock()
	handles := len(d.registry)
	d.regMu.RUnlock()

	return Stats{
		Handles:    handles,
		Events:     d.seq.Load(),
		Delivered:  d.delivered.Load(),
		Dropped:    d.dropped.Load(),
		PollErrors: d.pollErrors.Load(),
	}
}

// snapshot appends strong pointers to every live queue and returns the keys
// of collected ones.
func (d *Distributor) snapshot(buf []*queue) (live []*queue, stale []uint64) {
	d.regMu.RLock()
	defer d.regMu.RUnlock()

	for key, wp := range d.registry {
		if q := wp.Value(); q != nil {
			buf = append(buf, q)
		} else {
			stale = append(stale, key)
		}
	}
	return buf, stale
}

func (d *Distributor) remove(key uint64) {
	d.regMu.Lock()
	delete(d.registry, key)
	d.regMu.Unlock()
}

func (d *Distributor) prune(keys []uint64) {
	d.regMu.Lock()
	for _, key := range keys {
		if wp, ok := d.registry[key]; ok && wp.Value() == nil {
			delete(d.registry, key)
		}
	}
	d.regMu.Unlock()
}

func (d *Distributor) reportDrop(q *queue) {
	d.dropped.Add(1)
	chErr := ChannelError{HandleID: q.id, Policy: q.policy, Dropped: q.dropped.Load()}
	if d.logger != nil {
		d.logger.Debug("handle buffer full, event dropped",
			"handle", q.id,
			"policy", q.policy.String(),
			"dropped", chErr.Dropped,
		)
	}
	if d.onDrop != nil {
		d.onDrop(chErr)
	}
}

func (d *Distributor) logWarn(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Warn(msg, args...)
	}
}

func (d *Distributor) logError(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Error(msg, args...)
	}
}

// sleepContext waits for wait or ctx, reporting false if ctx ended first.
func sleepContext(ctx context.Context, wait time.Duration) bool {
	if wait <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
