package transport

import (
	"context"
	"fmt"
	"strings"
)

// maxTopicLength is the MQTT limit for a UTF-8 encoded topic name.
const maxTopicLength = 65535

// Poller yields inbound protocol events.
//
// Poll blocks until an event is available, the context is cancelled, or the
// connection fails. Only one goroutine may poll a Transport at a time.
type Poller interface {
	Poll(ctx context.Context) (Event, error)
}

// Requester issues requests to the broker. Implementations must be safe
// for concurrent use and may be called while another goroutine polls.
type Requester interface {
	Subscribe(ctx context.Context, topic string, qos QoS) error
	Publish(ctx context.Context, topic string, qos QoS, payload []byte) error
	Unsubscribe(ctx context.Context, topic string) error
}

// Transport is the full contract required from the MQTT engine.
type Transport interface {
	Poller
	Requester
}

// ValidateTopic checks that topic can be sent to the broker.
//
// No wildcard interpretation happens here; filters such as "a/+/b" are
// accepted verbatim and matched by the broker.
func ValidateTopic(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if len(topic) > maxTopicLength {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidTopic, len(topic), maxTopicLength)
	}
	if strings.ContainsRune(topic, 0) {
		return fmt.Errorf("%w: contains NUL", ErrInvalidTopic)
	}
	return nil
}
