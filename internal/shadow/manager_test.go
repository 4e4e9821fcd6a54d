package shadow

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-iot/internal/distributor"
	"github.com/nerrad567/gray-logic-iot/internal/transport"
)

type published struct {
	topic   string
	qos     transport.QoS
	payload []byte
}

// fakePublisher records requests. publishErr fails every publish.
type fakePublisher struct {
	mu           sync.Mutex
	subs         []string
	pubs         []published
	publishErr   error
	subscribeErr error
}

func (f *fakePublisher) Subscribe(_ context.Context, topic string, _ transport.QoS) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.subs = append(f.subs, topic)
	return nil
}

func (f *fakePublisher) Publish(_ context.Context, topic string, qos transport.QoS, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.pubs = append(f.pubs, published{topic: topic, qos: qos, payload: append([]byte(nil), payload...)})
	return nil
}

func (f *fakePublisher) published() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.pubs...)
}

// recorder collects handler calls per name.
type recorder struct {
	mu     sync.Mutex
	calls  map[string][]Response
	errs   []error
	notify chan string
}

func newRecorder() *recorder {
	return &recorder{calls: make(map[string][]Response), notify: make(chan string, 64)}
}

func (r *recorder) handler(name string) func(Response) {
	return func(resp Response) {
		r.mu.Lock()
		r.calls[name] = append(r.calls[name], resp)
		r.mu.Unlock()
		r.notify <- name
	}
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		GetAccepted:     r.handler("get/accepted"),
		GetRejected:     r.handler("get/rejected"),
		UpdateAccepted:  r.handler("update/accepted"),
		UpdateRejected:  r.handler("update/rejected"),
		UpdateDelta:     r.handler("update/delta"),
		UpdateDocuments: r.handler("update/documents"),
		DeleteAccepted:  r.handler("delete/accepted"),
		DeleteRejected:  r.handler("delete/rejected"),
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
			r.notify <- "error"
		},
		OnTimeout: func(a Action) { r.notify <- "timeout/" + a.String() },
	}
}

func (r *recorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls[name])
}

func (r *recorder) wait(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-r.notify:
		if got != want {
			t.Fatalf("handler %q fired, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q", want)
	}
}

func startManager(t *testing.T, cfg Config, h Handlers) (*Manager, *fakePublisher, *distributor.Distributor) {
	t.Helper()
	if cfg.ThingName == "" {
		cfg.ThingName = "Lamp1"
	}
	pub := &fakePublisher{}
	d := distributor.New()

	m, err := New(cfg, pub, d, h, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(m.Stop)
	return m, pub, d
}

func inbound(topic, payload string) transport.Event {
	return transport.NewPublish(topic, transport.AtMostOnce, false, 0, []byte(payload))
}

// ============================================================================
// Construction Tests
// ============================================================================

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{"empty thing name", Config{}, ErrEmptyThingName},
		{"slash in name", Config{ThingName: "a/b"}, ErrInvalidThingName},
		{"wildcard in name", Config{ThingName: "a+"}, ErrInvalidThingName},
		{"bad qos", Config{ThingName: "Lamp1", QoS: 3}, transport.ErrInvalidQoS},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, &fakePublisher{}, distributor.New(), Handlers{}, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("New() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestStart_SubscribesResponseTopics(t *testing.T) {
	m, pub, _ := startManager(t, Config{}, Handlers{})

	want := m.Topics().Subscriptions()
	if len(pub.subs) != len(want) {
		t.Fatalf("subscribed to %d topics, want %d", len(pub.subs), len(want))
	}
	for i := range want {
		if pub.subs[i] != want[i] {
			t.Errorf("subscription %d = %q, want %q", i, pub.subs[i], want[i])
		}
	}

	if err := m.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want %v", err, ErrAlreadyStarted)
	}
}

func TestStart_SubscribeFailureReleasesHandle(t *testing.T) {
	pub := &fakePublisher{subscribeErr: transport.ErrNotConnected}
	d := distributor.New()
	m, err := New(Config{ThingName: "Lamp1"}, pub, d, Handlers{}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := m.Start(context.Background()); !errors.Is(err, transport.ErrNotConnected) {
		t.Fatalf("Start() error = %v, want %v", err, transport.ErrNotConnected)
	}
	if got := d.Stats().Handles; got != 0 {
		t.Errorf("Stats().Handles = %d, want 0", got)
	}
}

// ============================================================================
// Request Tests
// ============================================================================

func TestUpdate_AccumulatesReportedState(t *testing.T) {
	pub := &fakePublisher{}
	m, err := New(Config{ThingName: "Lamp1"}, pub, distributor.New(), Handlers{}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	if err := m.Update(ctx, "x", 1); err != nil {
		t.Fatalf("Update(x) error = %v", err)
	}
	if err := m.Update(ctx, "y", 2); err != nil {
		t.Fatalf("Update(y) error = %v", err)
	}

	pubs := pub.published()
	if len(pubs) != 2 {
		t.Fatalf("published %d messages, want 2", len(pubs))
	}
	if pubs[0].topic != "$aws/things/Lamp1/shadow/update" {
		t.Errorf("topic = %q, want update request topic", pubs[0].topic)
	}
	if got := string(pubs[0].payload); got != `{"state":{"reported":{"x":1}}}` {
		t.Errorf("first document = %s", got)
	}
	if got := string(pubs[1].payload); got != `{"state":{"reported":{"x":1,"y":2}}}` {
		t.Errorf("second document = %s", got)
	}
	if pubs[1].qos != transport.AtMostOnce {
		t.Errorf("qos = %v, want %v", pubs[1].qos, transport.AtMostOnce)
	}
}

func TestUpdate_OverwritesKeyAndKeepsLiteralDots(t *testing.T) {
	pub := &fakePublisher{}
	m, _ := New(Config{ThingName: "Lamp1"}, pub, distributor.New(), Handlers{}, nil)
	ctx := context.Background()

	_ = m.Update(ctx, "a.b", "on")
	_ = m.Update(ctx, "a.b", map[string]any{"level": 3})

	doc, err := m.Document()
	if err != nil {
		t.Fatalf("Document() error = %v", err)
	}
	if got := string(doc); got != `{"state":{"reported":{"a.b":{"level":3}}}}` {
		t.Errorf("Document() = %s", got)
	}
}

func TestUpdate_InvalidInput(t *testing.T) {
	pub := &fakePublisher{}
	m, _ := New(Config{ThingName: "Lamp1"}, pub, distributor.New(), Handlers{}, nil)

	if err := m.Update(context.Background(), "", 1); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("Update(\"\") error = %v, want %v", err, ErrEmptyKey)
	}
	if err := m.Update(context.Background(), "ch", make(chan int)); err == nil {
		t.Error("Update(chan) error = nil, want marshal error")
	}
	if len(pub.published()) != 0 {
		t.Error("invalid update was published")
	}
	if m.State(ActionUpdate) != Idle {
		t.Errorf("State(update) = %v, want idle", m.State(ActionUpdate))
	}
}

func TestGetDelete_Payloads(t *testing.T) {
	pub := &fakePublisher{}
	m, _ := New(Config{ThingName: "Lamp1", QoS: transport.AtLeastOnce}, pub, distributor.New(), Handlers{}, nil)
	ctx := context.Background()

	if err := m.Get(ctx); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if err := m.Delete(ctx); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	pubs := pub.published()
	if pubs[0].topic != "$aws/things/Lamp1/shadow/get" || len(pubs[0].payload) != 0 {
		t.Errorf("get published %q %q, want empty payload on get topic", pubs[0].topic, pubs[0].payload)
	}
	if pubs[1].topic != "$aws/things/Lamp1/shadow/delete" || string(pubs[1].payload) != "{}" {
		t.Errorf("delete published %q %q, want {} on delete topic", pubs[1].topic, pubs[1].payload)
	}
	if pubs[0].qos != transport.AtLeastOnce {
		t.Errorf("qos = %v, want %v", pubs[0].qos, transport.AtLeastOnce)
	}
	if m.State(ActionGet) != Awaiting || m.State(ActionDelete) != Awaiting {
		t.Error("requests not awaiting after publish")
	}
	if m.State(ActionUpdate) != Idle {
		t.Error("update state changed by get/delete")
	}
}

func TestRequest_PublishFailureRollsBack(t *testing.T) {
	pub := &fakePublisher{publishErr: transport.ErrNotConnected}
	m, _ := New(Config{ThingName: "Lamp1"}, pub, distributor.New(), Handlers{}, nil)

	err := m.Get(context.Background())
	if !errors.Is(err, transport.ErrNotConnected) {
		t.Fatalf("Get() error = %v, want %v", err, transport.ErrNotConnected)
	}
	if m.State(ActionGet) != Idle {
		t.Errorf("State(get) = %v, want idle", m.State(ActionGet))
	}

	// The mirror keeps the value for the next update.
	_ = m.Update(context.Background(), "x", 1)
	if got := m.Reported()["x"]; got != float64(1) {
		t.Errorf("Reported()[x] = %v, want 1", got)
	}
}

// ============================================================================
// Dispatch Tests
// ============================================================================

func TestDispatch_GetAcceptedRoundTrip(t *testing.T) {
	rec := newRecorder()
	m, _, d := startManager(t, Config{}, rec.handlers())

	if err := m.Get(context.Background()); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	d.Broadcast(inbound(m.Topics().GetAccepted(), `{"state":{"reported":{"x":1}}}`))
	rec.wait(t, "get/accepted")

	// A later push proves nothing else was queued before it.
	d.Broadcast(inbound(m.Topics().UpdateDocuments(), `{"current":{}}`))
	rec.wait(t, "update/documents")

	if got := rec.count("get/accepted"); got != 1 {
		t.Errorf("get/accepted fired %d times, want 1", got)
	}
	if rec.count("get/rejected") != 0 || rec.count("update/delta") != 0 {
		t.Error("rejected or delta handler fired")
	}
	if m.State(ActionGet) != Idle {
		t.Errorf("State(get) = %v, want idle", m.State(ActionGet))
	}

	resp := rec.calls["get/accepted"][0]
	state, _ := resp.Payload["state"].(map[string]any)
	reported, _ := state["reported"].(map[string]any)
	if reported["x"] != float64(1) {
		t.Errorf("payload state.reported.x = %v, want 1", reported["x"])
	}
	if resp.Action != ActionGet || resp.Outcome != OutcomeAccepted {
		t.Errorf("response = %v/%v, want get/accepted", resp.Action, resp.Outcome)
	}
	if resp.Error() != nil {
		t.Errorf("accepted Response.Error() = %v, want nil", resp.Error())
	}

	// Responses never modify the mirror.
	if len(m.Reported()) != 0 {
		t.Errorf("Reported() = %v, want empty", m.Reported())
	}
}

func TestDispatch_Rejected(t *testing.T) {
	rec := newRecorder()
	m, _, d := startManager(t, Config{}, rec.handlers())

	_ = m.Update(context.Background(), "x", 1)
	d.Broadcast(inbound(m.Topics().UpdateRejected(),
		`{"code":400,"message":"Missing required node: state","clientToken":"c1","timestamp":1700000000}`))
	rec.wait(t, "update/rejected")

	if m.State(ActionUpdate) != Idle {
		t.Errorf("State(update) = %v, want idle", m.State(ActionUpdate))
	}

	var rej *RejectedError
	err := rec.calls["update/rejected"][0].Error()
	if !errors.As(err, &rej) {
		t.Fatalf("Response.Error() = %v, want *RejectedError", err)
	}
	if rej.Code != 400 || rej.ClientToken != "c1" || rej.Timestamp != 1700000000 {
		t.Errorf("RejectedError = %+v", rej)
	}
}

func TestDispatch_MalformedDeltaIsIsolated(t *testing.T) {
	rec := newRecorder()
	m, _, d := startManager(t, Config{}, rec.handlers())

	d.Broadcast(inbound(m.Topics().UpdateDelta(), "not json"))
	rec.wait(t, "error")

	d.Broadcast(inbound(m.Topics().UpdateDelta(), `{"version":3}`))
	rec.wait(t, "error")

	d.Broadcast(inbound(m.Topics().UpdateDelta(), `{"state":{"power":"on"}}`))
	rec.wait(t, "update/delta")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.errs) != 2 {
		t.Fatalf("OnError called %d times, want 2", len(rec.errs))
	}
	var de *DecodeError
	if !errors.As(rec.errs[0], &de) || de.Topic != m.Topics().UpdateDelta() {
		t.Errorf("first error = %v, want DecodeError for delta topic", rec.errs[0])
	}
	if !errors.Is(rec.errs[1], ErrMissingField) {
		t.Errorf("second error = %v, want %v", rec.errs[1], ErrMissingField)
	}
}

func TestDispatch_DocumentsRequiresCurrent(t *testing.T) {
	rec := newRecorder()
	m, _, d := startManager(t, Config{}, rec.handlers())

	d.Broadcast(inbound(m.Topics().UpdateDocuments(), `[1,2]`))
	rec.wait(t, "error")
	d.Broadcast(inbound(m.Topics().UpdateDocuments(), `{"previous":{}}`))
	rec.wait(t, "error")
	d.Broadcast(inbound(m.Topics().UpdateDocuments(), `{"current":{"state":{}}}`))
	rec.wait(t, "update/documents")
}

func TestDispatch_IgnoresUnrelatedEvents(t *testing.T) {
	rec := newRecorder()
	m, _, d := startManager(t, Config{}, rec.handlers())

	d.Broadcast(transport.NewConnected())
	d.Broadcast(inbound("$aws/things/Other/shadow/get/accepted", `{}`))
	d.Broadcast(inbound(m.Topics().GetRequest(), ``))
	d.Broadcast(inbound(m.Topics().DeleteAccepted(), `{"version":1}`))
	rec.wait(t, "delete/accepted")
}

func TestDispatch_AcceptedWhileIdle(t *testing.T) {
	rec := newRecorder()
	m, _, d := startManager(t, Config{}, rec.handlers())

	d.Broadcast(inbound(m.Topics().GetAccepted(), `{"state":{}}`))
	rec.wait(t, "get/accepted")
	if m.State(ActionGet) != Idle {
		t.Errorf("State(get) = %v, want idle", m.State(ActionGet))
	}
}

// ============================================================================
// Timeout Tests
// ============================================================================

func TestResponseTimeout_ReturnsToIdle(t *testing.T) {
	rec := newRecorder()
	m, _, _ := startManager(t, Config{ResponseTimeout: 20 * time.Millisecond}, rec.handlers())

	if err := m.Delete(context.Background()); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	rec.wait(t, "timeout/delete")

	if m.State(ActionDelete) != Idle {
		t.Errorf("State(delete) = %v, want idle", m.State(ActionDelete))
	}
}

func TestResponseTimeout_CancelledByResponse(t *testing.T) {
	rec := newRecorder()
	m, _, d := startManager(t, Config{ResponseTimeout: 50 * time.Millisecond}, rec.handlers())

	_ = m.Get(context.Background())
	d.Broadcast(inbound(m.Topics().GetAccepted(), `{}`))
	rec.wait(t, "get/accepted")

	select {
	case got := <-rec.notify:
		t.Errorf("unexpected %q after response", got)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestNoTimeout_WaitsForever(t *testing.T) {
	m, _, _ := startManager(t, Config{}, Handlers{})

	_ = m.Get(context.Background())
	time.Sleep(30 * time.Millisecond)
	if m.State(ActionGet) != Awaiting {
		t.Errorf("State(get) = %v, want awaiting", m.State(ActionGet))
	}
}

// ============================================================================
// Mirror Tests
// ============================================================================

func TestReported_IsCopy(t *testing.T) {
	m, _ := New(Config{ThingName: "Lamp1"}, &fakePublisher{}, distributor.New(), Handlers{}, nil)
	value := map[string]any{"level": 1}
	_ = m.Update(context.Background(), "dim", value)

	value["level"] = 99
	snap := m.Reported()
	snap["dim"].(map[string]any)["level"] = 42

	doc, _ := m.Document()
	var parsed struct {
		State struct {
			Reported map[string]map[string]int `json:"reported"`
		} `json:"state"`
	}
	if err := json.Unmarshal(doc, &parsed); err != nil {
		t.Fatalf("Document() not JSON: %v", err)
	}
	if got := parsed.State.Reported["dim"]["level"]; got != 1 {
		t.Errorf("mirror level = %d, want 1", got)
	}
}

func TestStop_Idempotent(t *testing.T) {
	m, _, d := startManager(t, Config{}, Handlers{})
	m.Stop()
	m.Stop()
	if got := d.Stats().Handles; got != 0 {
		t.Errorf("Stats().Handles = %d after Stop, want 0", got)
	}
}
