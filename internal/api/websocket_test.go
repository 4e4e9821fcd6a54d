package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-iot/internal/distributor"
	"github.com/nerrad567/gray-logic-iot/internal/transport"
)

// dialWS starts an httptest server for srv and connects a WebSocket client.
// It returns once the server has registered the client.
func dialWS(t *testing.T, srv *Server, query string) *websocket.Conn {
	t.Helper()

	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws" + query
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	t.Cleanup(func() { ws.Close() })

	waitUntil(t, func() bool { return srv.hub.ClientCount() == 1 })
	return ws
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// readEvent reads the next message and decodes its payload as an EventView.
func readEvent(t *testing.T, ws *websocket.Conn) (WSMessage, EventView) {
	t.Helper()

	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var raw struct {
		WSMessage
		Payload json.RawMessage `json:"payload"`
	}
	if err := ws.ReadJSON(&raw); err != nil {
		t.Fatalf("read event: %v", err)
	}
	var view EventView
	if raw.Type == WSTypeEvent {
		if err := json.Unmarshal(raw.Payload, &view); err != nil {
			t.Fatalf("decode event payload: %v", err)
		}
	}
	return raw.WSMessage, view
}

func TestWebSocket_StreamsAllEvents(t *testing.T) {
	srv, dist := testServer(t, nil)
	ws := dialWS(t, srv, "")

	dist.Broadcast(transport.NewConnected())
	dist.Broadcast(transport.NewPublish("a/b", transport.AtLeastOnce, true, 5, []byte("hi")))
	dist.Broadcast(transport.NewPublish("bin", transport.AtMostOnce, false, 0, []byte{0xff, 0xfe}))

	msg, view := readEvent(t, ws)
	if msg.Type != WSTypeEvent || msg.EventType != "connected" || view.Kind != "connected" {
		t.Errorf("first message = %+v %+v", msg, view)
	}

	_, view = readEvent(t, ws)
	if view.Topic != "a/b" || view.Payload != "hi" || view.Encoding != EncodingText ||
		view.QoS != 1 || !view.Retained || view.PacketID != 5 {
		t.Errorf("publish view = %+v", view)
	}

	_, view = readEvent(t, ws)
	if view.Encoding != EncodingBase64 || view.Payload != "//4=" {
		t.Errorf("binary view = %+v", view)
	}
}

func TestWebSocket_TopicFilter(t *testing.T) {
	srv, dist := testServer(t, nil)
	ws := dialWS(t, srv, "?topic=sensors/t1")

	dist.Broadcast(transport.NewConnected())
	dist.Broadcast(transport.NewPublish("sensors/t2", transport.AtMostOnce, false, 0, []byte("no")))
	dist.Broadcast(transport.NewPublish("sensors/+", transport.AtMostOnce, false, 0, []byte("no")))
	dist.Broadcast(transport.NewPublish("sensors/t1", transport.AtMostOnce, false, 0, []byte("yes")))

	_, view := readEvent(t, ws)
	if view.Topic != "sensors/t1" || view.Payload != "yes" {
		t.Errorf("filtered view = %+v", view)
	}
}

func TestWebSocket_SubscribeUnsubscribe(t *testing.T) {
	srv, dist := testServer(t, nil)
	ws := dialWS(t, srv, "")

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Topics: []string{"x", "y"}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	msg, _ := readEvent(t, ws)
	if msg.Type != WSTypeResponse || msg.ID != "sub-1" {
		t.Fatalf("subscribe response = %+v", msg)
	}

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeUnsubscribe,
		ID:      "unsub-1",
		Payload: WSSubscribePayload{Topics: []string{"x"}},
	}); err != nil {
		t.Fatalf("write unsubscribe: %v", err)
	}
	msg, _ = readEvent(t, ws)
	if msg.Type != WSTypeResponse || msg.ID != "unsub-1" {
		t.Fatalf("unsubscribe response = %+v", msg)
	}

	dist.Broadcast(transport.NewPublish("x", transport.AtMostOnce, false, 0, nil))
	dist.Broadcast(transport.NewPublish("z", transport.AtMostOnce, false, 0, nil))
	dist.Broadcast(transport.NewPublish("y", transport.AtMostOnce, false, 0, nil))

	_, view := readEvent(t, ws)
	if view.Topic != "y" {
		t.Errorf("view topic = %q, want y", view.Topic)
	}
}

func TestWebSocket_Messages(t *testing.T) {
	tests := []struct {
		name     string
		send     string
		wantType string
		wantID   string
	}{
		{name: "ping", send: `{"type":"ping","id":"p1"}`, wantType: WSTypePong, wantID: "p1"},
		{name: "invalid json", send: `not json`, wantType: WSTypeError},
		{name: "unknown type", send: `{"type":"bogus","id":"b1"}`, wantType: WSTypeError, wantID: "b1"},
		{name: "empty topic", send: `{"type":"subscribe","id":"s1","payload":{"topics":[""]}}`, wantType: WSTypeError, wantID: "s1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := testServer(t, nil)
			ws := dialWS(t, srv, "")

			if err := ws.WriteMessage(websocket.TextMessage, []byte(tt.send)); err != nil {
				t.Fatalf("write: %v", err)
			}
			msg, _ := readEvent(t, ws)
			if msg.Type != tt.wantType || msg.ID != tt.wantID {
				t.Errorf("response = %+v, want type %s id %q", msg, tt.wantType, tt.wantID)
			}
		})
	}
}

func TestWebSocket_InvalidTopicQuery(t *testing.T) {
	srv, _ := testServer(t, nil)
	w := serve(srv, http.MethodGet, "/api/v1/ws?topic=%00", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestWebSocket_ConfiguredPath(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) { d.WS.Path = "events/stream" })

	if w := serve(srv, http.MethodGet, "/api/v1/events/stream?topic=%00", ""); w.Code != http.StatusBadRequest {
		t.Errorf("configured path status = %d, want 400", w.Code)
	}
	if w := serve(srv, http.MethodGet, "/api/v1/ws?topic=%00", ""); w.Code != http.StatusNotFound {
		t.Errorf("default path status = %d, want 404", w.Code)
	}
}

func TestWebSocket_DisconnectReleasesHandle(t *testing.T) {
	srv, dist := testServer(t, nil)
	ws := dialWS(t, srv, "")

	if got := dist.Stats().Handles; got != 1 {
		t.Fatalf("handles = %d, want 1", got)
	}

	ws.Close()
	waitUntil(t, func() bool { return srv.hub.ClientCount() == 0 })
	waitUntil(t, func() bool { return dist.Stats().Handles == 0 })
}

func TestWebSocket_CloseDisconnectsClients(t *testing.T) {
	srv, _ := testServer(t, nil)
	ws := dialWS(t, srv, "")

	if err := srv.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if srv.hub.ClientCount() != 0 {
		t.Errorf("clients after Close = %d", srv.hub.ClientCount())
	}

	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Error("expected read error after server Close")
	}
}

func TestNewEventView_SubscribeAck(t *testing.T) {
	v := newEventView(transport.NewSubscribeAck(9, []transport.QoS{transport.AtMostOnce, transport.ExactlyOnce}))
	if v.Kind != "subscribe_ack" || v.PacketID != 9 || len(v.GrantedQoS) != 2 || v.GrantedQoS[1] != 2 {
		t.Errorf("view = %+v", v)
	}
	if v.Payload != "" || v.Encoding != "" {
		t.Errorf("ack view carries payload: %+v", v)
	}
}

var _ EventSource = (*distributor.Distributor)(nil)
