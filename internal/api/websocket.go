package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-iot/internal/distributor"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-iot/internal/transport"
)

// WebSocket constants.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256

	defaultPingInterval   = 30 * time.Second
	defaultPongTimeout    = 10 * time.Second
	defaultMaxMessageSize = 8192
)

// WSMessage represents a message sent to/from a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
// Topics are matched exactly; wildcards have no special meaning.
type WSSubscribePayload struct {
	Topics []string `json:"topics"`
}

// EventView is the JSON form of a transport event pushed to clients.
// Payloads that are valid UTF-8 are sent as text, anything else as base64.
type EventView struct {
	Kind       string `json:"kind"`
	Topic      string `json:"topic,omitempty"`
	QoS        int    `json:"qos"`
	Retained   bool   `json:"retained,omitempty"`
	PacketID   uint16 `json:"packet_id,omitempty"`
	Payload    string `json:"payload,omitempty"`
	Encoding   string `json:"encoding,omitempty"`
	GrantedQoS []int  `json:"granted_qos,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

func newEventView(ev transport.Event) EventView {
	v := EventView{
		Kind:     ev.Kind.String(),
		Topic:    ev.Topic,
		QoS:      int(ev.QoS),
		Retained: ev.Retained,
		PacketID: ev.PacketID,
		Reason:   ev.Reason,
	}
	if len(ev.Payload) > 0 {
		if utf8.Valid(ev.Payload) {
			v.Payload, v.Encoding = string(ev.Payload), EncodingText
		} else {
			v.Payload, v.Encoding = base64.StdEncoding.EncodeToString(ev.Payload), EncodingBase64
		}
	}
	for _, q := range ev.GrantedQoS {
		v.GrantedQoS = append(v.GrantedQoS, int(q))
	}
	return v
}

// Hub tracks connected WebSocket clients. Events do not pass through the
// hub: each client reads its own distributor handle.
type Hub struct {
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient represents a connected WebSocket client.
type WSClient struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	handle *distributor.Handle
	cancel context.CancelFunc

	// topics filters publish events; empty means every event.
	topics map[string]struct{}
	mu     sync.RWMutex
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until the context is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes a client from the hub.
// Only the goroutine that successfully removes the client from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		client.cancel()
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.cancel()
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// handleWebSocket upgrades the connection and streams events from a new
// distributor handle. Query: topic (optional, exact match).
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic != "" {
		if err := transport.ValidateTopic(topic); err != nil {
			writeBadRequest(w, err.Error())
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	client := &WSClient{
		hub:    s.hub,
		conn:   conn,
		send:   make(chan []byte, wsSendBufferSize),
		handle: s.events.NewHandle(),
		cancel: cancel,
		topics: make(map[string]struct{}),
	}
	if topic != "" {
		client.topics[topic] = struct{}{}
	}

	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
	go client.eventPump(ctx)
}

// wsTimings returns the ping interval and pong timeout, with defaults for
// unset values.
func wsTimings(cfg config.WebSocketConfig) (ping, pong time.Duration) {
	ping = time.Duration(cfg.PingInterval) * time.Second
	if ping <= 0 {
		ping = defaultPingInterval
	}
	pong = time.Duration(cfg.PongTimeout) * time.Second
	if pong <= 0 {
		pong = defaultPongTimeout
	}
	return ping, pong
}

// eventPump forwards matching events from the client's handle until ctx
// ends. A slow socket backs up into the handle, whose overflow policy
// decides what is dropped.
func (c *WSClient) eventPump(ctx context.Context) {
	defer c.handle.Close()

	for {
		ev, err := c.handle.Recv(ctx)
		if err != nil {
			return
		}
		if !c.matches(ev) {
			continue
		}

		data, err := json.Marshal(WSMessage{
			Type:      WSTypeEvent,
			EventType: ev.Kind.String(),
			Timestamp: ev.Received.UTC().Format(time.RFC3339Nano),
			Payload:   newEventView(ev),
		})
		if err != nil {
			c.hub.logger.Error("failed to marshal websocket event", "error", err)
			continue
		}
		if !c.sendWait(ctx, data) {
			return
		}
	}
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	maxSize := cfg.MaxMessageSize
	if maxSize <= 0 {
		maxSize = defaultMaxMessageSize
	}
	c.conn.SetReadLimit(int64(maxSize))
	pingInterval, pongWait := wsTimings(cfg)
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval, pongWait := wsTimings(cfg)
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket message.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.handleFilter(msg, true)
	case WSTypeUnsubscribe:
		c.handleFilter(msg, false)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// handleFilter adds or removes exact topic filters.
func (c *WSClient) handleFilter(msg WSMessage, add bool) {
	payloadBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		c.sendError(msg.ID, "invalid payload")
		return
	}

	var sub WSSubscribePayload
	if err := json.Unmarshal(payloadBytes, &sub); err != nil {
		c.sendError(msg.ID, "invalid "+msg.Type+" payload")
		return
	}
	for _, t := range sub.Topics {
		if err := transport.ValidateTopic(t); err != nil {
			c.sendError(msg.ID, err.Error())
			return
		}
	}

	c.mu.Lock()
	for _, t := range sub.Topics {
		if add {
			c.topics[t] = struct{}{}
		} else {
			delete(c.topics, t)
		}
	}
	c.mu.Unlock()

	key := "unsubscribed"
	if add {
		key = "subscribed"
	}
	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{key: sub.Topics})
}

// matches reports whether ev passes the client's topic filter.
func (c *WSClient) matches(ev transport.Event) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.topics) == 0 {
		return true
	}
	if ev.Kind != transport.KindPublish {
		return false
	}
	_, ok := c.topics[ev.Topic]
	return ok
}

// sendWait queues data for writing, waiting for room until ctx ends.
// It reports false once the client is gone.
func (c *WSClient) sendWait(ctx context.Context, data []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false // send channel closed by Unregister
		}
	}()

	select {
	case c.send <- data:
		return true
	case <-ctx.Done():
		return false
	}
}

// trySend attempts to send data to the client's send channel.
// It silently handles closed channels (client disconnected)
// and full buffers (slow client).
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
	}
}

// sendResponse sends a response message to the client.
func (c *WSClient) sendResponse(id, msgType string, payload any) {
	msg := WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendError sends an error message to the client.
func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
