package shadow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-iot/internal/distributor"
	"github.com/nerrad567/gray-logic-iot/internal/transport"
)

// Publisher is the request side the manager needs. *client.Client satisfies it.
type Publisher interface {
	Subscribe(ctx context.Context, topic string, qos transport.QoS) error
	Publish(ctx context.Context, topic string, qos transport.QoS, payload []byte) error
}

// HandleSource hands out consumer handles. *distributor.Distributor satisfies it.
type HandleSource interface {
	NewHandle() *distributor.Handle
}

// Logger is the logging interface used by the manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Handlers are invoked from the manager's dispatch goroutine. Any of them
// may be nil. They must not block for long: events queue up in the
// manager's handle (and may be dropped by its overflow policy) meanwhile.
type Handlers struct {
	GetAccepted     func(Response)
	GetRejected     func(Response)
	UpdateAccepted  func(Response)
	UpdateRejected  func(Response)
	UpdateDelta     func(Response)
	UpdateDocuments func(Response)
	DeleteAccepted  func(Response)
	DeleteRejected  func(Response)

	// OnError receives decode failures. Without it they are logged.
	OnError func(error)

	// OnTimeout is called when Config.ResponseTimeout expires for an action.
	OnTimeout func(Action)
}

func (h Handlers) lookup(a Action, o Outcome) func(Response) {
	switch {
	case a == ActionGet && o == OutcomeAccepted:
		return h.GetAccepted
	case a == ActionGet && o == OutcomeRejected:
		return h.GetRejected
	case a == ActionUpdate && o == OutcomeAccepted:
		return h.UpdateAccepted
	case a == ActionUpdate && o == OutcomeRejected:
		return h.UpdateRejected
	case a == ActionUpdate && o == OutcomeDelta:
		return h.UpdateDelta
	case a == ActionUpdate && o == OutcomeDocuments:
		return h.UpdateDocuments
	case a == ActionDelete && o == OutcomeAccepted:
		return h.DeleteAccepted
	case a == ActionDelete && o == OutcomeRejected:
		return h.DeleteRejected
	default:
		return nil
	}
}

// Config holds manager settings.
type Config struct {
	// ThingName keys the shadow. Required.
	ThingName string

	// QoS is used for subscriptions and requests. Zero is at-most-once.
	QoS transport.QoS

	// ResponseTimeout returns an awaiting action to Idle when no response
	// arrives in time. Zero waits forever.
	ResponseTimeout time.Duration
}

// request tracks one action's state. gen invalidates stale timers.
type request struct {
	state RequestState
	gen   uint64
	timer *time.Timer
}

// Manager mirrors one thing's shadow.
//
// Thread Safety:
//   - Get, Update, Delete, State, Reported and Document are safe for concurrent use.
//   - Handlers run on a single dispatch goroutine, one at a time.
type Manager struct {
	cfg      Config
	topics   Topics
	pub      Publisher
	src      HandleSource
	handlers Handlers
	logger   Logger

	mirror *mirror

	reqMu    sync.Mutex
	requests [len(actions)]request

	runMu  sync.Mutex
	handle *distributor.Handle
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Manager. It does not subscribe until Start is called.
//
// Parameters:
//   - cfg: thing name, QoS and optional response timeout
//   - pub: request side, normally a *client.Client
//   - src: handle source, normally the running *distributor.Distributor
//   - h: response handlers
//   - logger: may be nil
//
// Returns:
//   - error: ErrEmptyThingName, ErrInvalidThingName or transport.ErrInvalidQoS
func New(cfg Config, pub Publisher, src HandleSource, h Handlers, logger Logger) (*Manager, error) {
	if cfg.ThingName == "" {
		return nil, ErrEmptyThingName
	}
	if strings.ContainsAny(cfg.ThingName, "/+#\x00") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidThingName, cfg.ThingName)
	}
	if !cfg.QoS.Valid() {
		return nil, fmt.Errorf("%w: %d", transport.ErrInvalidQoS, cfg.QoS)
	}
	if cfg.ResponseTimeout < 0 {
		cfg.ResponseTimeout = 0
	}
	if logger == nil {
		logger = noopLogger{}
	}

	return &Manager{
		cfg:      cfg,
		topics:   NewTopics(cfg.ThingName),
		pub:      pub,
		src:      src,
		handlers: h,
		logger:   logger,
		mirror:   newMirror(),
	}, nil
}

// ThingName returns the shadow's key.
func (m *Manager) ThingName() string {
	return m.cfg.ThingName
}

// Topics returns the topic table.
func (m *Manager) Topics() Topics {
	return m.topics
}

// Start opens a consumer handle, subscribes to the response topics and
// begins dispatching in the background.
//
// The handle is opened before subscribing so no response to an early
// request is missed. Dispatch ends when ctx is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.handle != nil {
		return ErrAlreadyStarted
	}

	h := m.src.NewHandle()
	for _, topic := range m.topics.Subscriptions() {
		if err := m.pub.Subscribe(ctx, topic, m.cfg.QoS); err != nil {
			h.Close()
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.handle = h
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.dispatchLoop(runCtx, h, m.done)

	m.logger.Info("shadow manager started", "thing", m.cfg.ThingName)
	return nil
}

// Stop ends dispatch and releases the handle. Safe to call more than once,
// but not from a handler.
func (m *Manager) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.handle == nil {
		return
	}
	m.cancel()
	<-m.done
	m.handle.Close()
	m.handle = nil

	m.reqMu.Lock()
	for i := range m.requests {
		m.stopTimerLocked(&m.requests[i])
	}
	m.reqMu.Unlock()

	m.logger.Info("shadow manager stopped", "thing", m.cfg.ThingName)
}

// Get requests the broker's copy of the document. The payload is empty.
func (m *Manager) Get(ctx context.Context) error {
	return m.request(ctx, ActionGet, nil)
}

// Update sets state.reported.<key> to value in the local mirror and
// publishes the whole accumulated document.
//
// The mirror keeps the new value even if the publish fails; the next
// Update resends it.
func (m *Manager) Update(ctx context.Context, key string, value any) error {
	if key == "" {
		return ErrEmptyKey
	}
	raw, err := marshalValue(value)
	if err != nil {
		return err
	}

	// Mirror lock covers merge and serialisation only, not the publish.
	doc, err := m.mirror.set(key, raw)
	if err != nil {
		return err
	}
	return m.request(ctx, ActionUpdate, doc)
}

// Delete requests deletion of the broker's document. The payload is {}.
func (m *Manager) Delete(ctx context.Context) error {
	return m.request(ctx, ActionDelete, []byte("{}"))
}

// State returns the request state of a.
func (m *Manager) State(a Action) RequestState {
	if int(a) >= len(m.requests) {
		return Idle
	}
	m.reqMu.Lock()
	defer m.reqMu.Unlock()
	return m.requests[a].state
}

// Reported returns a copy of the local reported state.
func (m *Manager) Reported() map[string]any {
	return m.mirror.snapshot()
}

// Document returns the document Update would publish now.
func (m *Manager) Document() ([]byte, error) {
	return m.mirror.marshal()
}

func (m *Manager) request(ctx context.Context, a Action, payload []byte) error {
	gen := m.markAwaiting(a)

	if err := m.pub.Publish(ctx, m.topics.Request(a), m.cfg.QoS, payload); err != nil {
		m.resolve(a, gen)
		return fmt.Errorf("shadow %s: %w", a, err)
	}

	m.logger.Debug("shadow request published", "thing", m.cfg.ThingName, "action", a.String())
	return nil
}

// markAwaiting moves a to Awaiting and arms the response timer.
func (m *Manager) markAwaiting(a Action) uint64 {
	m.reqMu.Lock()
	defer m.reqMu.Unlock()

	r := &m.requests[a]
	m.stopTimerLocked(r)
	r.gen++
	r.state = Awaiting

	if m.cfg.ResponseTimeout > 0 {
		gen := r.gen
		r.timer = time.AfterFunc(m.cfg.ResponseTimeout, func() { m.expire(a, gen) })
	}
	return r.gen
}

// resolve returns a to Idle if gen is still the current request.
// gen 0 resolves whatever is outstanding.
func (m *Manager) resolve(a Action, gen uint64) {
	m.reqMu.Lock()
	defer m.reqMu.Unlock()

	r := &m.requests[a]
	if gen != 0 && r.gen != gen {
		return
	}
	m.stopTimerLocked(r)
	r.state = Idle
}

func (m *Manager) expire(a Action, gen uint64) {
	m.reqMu.Lock()
	r := &m.requests[a]
	if r.gen != gen || r.state != Awaiting {
		m.reqMu.Unlock()
		return
	}
	r.state = Idle
	r.timer = nil
	m.reqMu.Unlock()

	m.logger.Warn("shadow response timed out",
		"thing", m.cfg.ThingName,
		"action", a.String(),
		"timeout", m.cfg.ResponseTimeout,
	)
	if m.handlers.OnTimeout != nil {
		m.handlers.OnTimeout(a)
	}
}

func (m *Manager) stopTimerLocked(r *request) {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (m *Manager) dispatchLoop(ctx context.Context, h *distributor.Handle, done chan struct{}) {
	defer close(done)
	defer h.Close()
	for {
		ev, err := h.Recv(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, distributor.ErrHandleClosed) {
				m.logger.Error("shadow dispatch stopped", "error", err)
			}
			return
		}
		m.dispatch(ev)
	}
}

// dispatch routes one event. Events that are not shadow responses for this
// thing are ignored.
func (m *Manager) dispatch(ev transport.Event) {
	if ev.Kind != transport.KindPublish {
		return
	}
	a, o, ok := m.topics.Classify(ev.Topic)
	if !ok {
		return
	}

	var required string
	switch o {
	case OutcomeDelta:
		required = "state"
	case OutcomeDocuments:
		required = "current"
	case OutcomeAccepted, OutcomeRejected:
		// A response ends the request even when its body is unreadable.
		m.resolve(a, 0)
	}

	payload, err := decodeObject(ev.Payload, required)
	if err != nil {
		m.reportError(&DecodeError{Topic: ev.Topic, Err: err})
		return
	}

	handler := m.handlers.lookup(a, o)
	if handler == nil {
		m.logger.Debug("shadow response without handler", "topic", ev.Topic)
		return
	}
	handler(Response{
		Action:  a,
		Outcome: o,
		Topic:   ev.Topic,
		Payload: payload,
		Raw:     ev.Payload,
	})
}

func (m *Manager) reportError(err error) {
	if m.handlers.OnError != nil {
		m.handlers.OnError(err)
		return
	}
	m.logger.Warn("shadow event dropped", "error", err)
}
