package transport

import (
	"fmt"
	"time"
)

// QoS is the MQTT delivery guarantee level.
type QoS byte

// QoS levels.
const (
	// AtMostOnce is fire and forget (QoS 0).
	AtMostOnce QoS = 0

	// AtLeastOnce is acknowledged delivery that may duplicate (QoS 1).
	AtLeastOnce QoS = 1

	// ExactlyOnce is the four-step handshake (QoS 2).
	ExactlyOnce QoS = 2
)

// Valid reports whether q is 0, 1 or 2.
func (q QoS) Valid() bool {
	return q <= ExactlyOnce
}

// String returns the conventional name of the level.
func (q QoS) String() string {
	switch q {
	case AtMostOnce:
		return "at_most_once"
	case AtLeastOnce:
		return "at_least_once"
	case ExactlyOnce:
		return "exactly_once"
	default:
		return fmt.Sprintf("qos(%d)", byte(q))
	}
}

// ParseQoS converts a configured integer into a QoS level.
func ParseQoS(v int) (QoS, error) {
	if v < 0 || v > int(ExactlyOnce) {
		return 0, fmt.Errorf("%w: %d", ErrInvalidQoS, v)
	}
	return QoS(v), nil
}

// Kind identifies the protocol event an Event carries.
type Kind uint8

// Event kinds relevant to this layer.
const (
	KindConnected Kind = iota + 1
	KindPublish
	KindPublishAck
	KindSubscribeAck
	KindUnsubscribeAck
	KindPingRequest
	KindPingResponse
	KindDisconnect
)

var kindNames = map[Kind]string{
	KindConnected:      "connected",
	KindPublish:        "publish",
	KindPublishAck:     "publish_ack",
	KindSubscribeAck:   "subscribe_ack",
	KindUnsubscribeAck: "unsubscribe_ack",
	KindPingRequest:    "ping_request",
	KindPingResponse:   "ping_response",
	KindDisconnect:     "disconnect",
}

// String returns the lowercase name used in logs, the journal and telemetry.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Direction tells whether an event came from the broker or was generated
// for a request this client sent.
type Direction uint8

// Event directions.
const (
	Inbound Direction = iota
	Outbound
)

// String returns "inbound" or "outbound".
func (d Direction) String() string {
	if d == Outbound {
		return "outbound"
	}
	return "inbound"
}

// Event is one protocol occurrence reported by a Transport.
//
// Events are values. Payload and GrantedQoS are shared between every
// consumer that receives the event and must be treated as read-only.
type Event struct {
	Kind      Kind
	Direction Direction

	// Topic and Payload are set for KindPublish.
	Topic    string
	Payload  []byte
	QoS      QoS
	Retained bool

	// PacketID is set for acknowledgements and QoS>0 publishes.
	PacketID uint16

	// GrantedQoS lists the levels granted per filter for KindSubscribeAck.
	GrantedQoS []QoS

	// Reason carries the error text for KindDisconnect, if known.
	Reason string

	// Received is when the Transport produced the event.
	Received time.Time
}

// IsInbound reports whether the event originated at the broker.
func (e Event) IsInbound() bool {
	return e.Direction == Inbound
}

// String gives a compact description for logs. Payloads are summarised by size.
func (e Event) String() string {
	switch e.Kind {
	case KindPublish:
		return fmt.Sprintf("%s topic=%s qos=%d bytes=%d", e.Kind, e.Topic, e.QoS, len(e.Payload))
	case KindPublishAck, KindUnsubscribeAck:
		return fmt.Sprintf("%s id=%d", e.Kind, e.PacketID)
	case KindSubscribeAck:
		return fmt.Sprintf("%s id=%d granted=%v", e.Kind, e.PacketID, e.GrantedQoS)
	default:
		return e.Kind.String()
	}
}

// NewConnected returns a Connected event.
func NewConnected() Event {
	return Event{Kind: KindConnected, Received: time.Now()}
}

// NewPublish returns an inbound Publish event. The payload is copied.
func NewPublish(topic string, qos QoS, retained bool, packetID uint16, payload []byte) Event {
	return Event{
		Kind:     KindPublish,
		Topic:    topic,
		Payload:  cloneBytes(payload),
		QoS:      qos,
		Retained: retained,
		PacketID: packetID,
		Received: time.Now(),
	}
}

// NewPublishAck returns a PublishAck event for packet id.
func NewPublishAck(id uint16) Event {
	return Event{Kind: KindPublishAck, PacketID: id, Received: time.Now()}
}

// NewSubscribeAck returns a SubscribeAck event. The granted list is copied.
func NewSubscribeAck(id uint16, granted []QoS) Event {
	var g []QoS
	if granted != nil {
		g = make([]QoS, len(granted))
		copy(g, granted)
	}
	return Event{Kind: KindSubscribeAck, PacketID: id, GrantedQoS: g, Received: time.Now()}
}

// NewUnsubscribeAck returns an UnsubscribeAck event for packet id.
func NewUnsubscribeAck(id uint16) Event {
	return Event{Kind: KindUnsubscribeAck, PacketID: id, Received: time.Now()}
}

// NewPingRequest returns a PingRequest event.
func NewPingRequest() Event {
	return Event{Kind: KindPingRequest, Received: time.Now()}
}

// NewPingResponse returns a PingResponse event.
func NewPingResponse() Event {
	return Event{Kind: KindPingResponse, Received: time.Now()}
}

// NewDisconnect returns a Disconnect event. reason may be empty.
func NewDisconnect(reason string) Event {
	return Event{Kind: KindDisconnect, Reason: reason, Received: time.Now()}
}

// AsOutbound returns a copy of e marked as generated by this client.
func (e Event) AsOutbound() Event {
	e.Direction = Outbound
	return e
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
