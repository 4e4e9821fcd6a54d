package mqtt

import (
	"context"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-iot/internal/transport"
)

// Poll returns the next event from the broker.
//
// Queued events are returned before a pending connection error so nothing
// received before a drop is lost.
//
// Returns:
//   - a *transport.ConnectionError (fatal when auto-reconnect is disabled)
//   - transport.ErrClosed once Close has been called and the queue is empty
//   - ctx.Err() if ctx ends first
func (c *Client) Poll(ctx context.Context) (transport.Event, error) {
	select {
	case ev := <-c.inbox:
		return ev, nil
	default:
	}

	select {
	case ev := <-c.inbox:
		return ev, nil
	case err := <-c.errs:
		return transport.Event{}, err
	case <-c.closed:
		return transport.Event{}, transport.ErrClosed
	case <-ctx.Done():
		return transport.Event{}, ctx.Err()
	}
}

// handleMessage queues an inbound publish. It blocks paho's router while
// the queue is full so the broker sees backpressure instead of losing
// messages; Close releases it.
func (c *Client) handleMessage(msg pahomqtt.Message) {
	ev := transport.NewPublish(
		msg.Topic(),
		transport.QoS(msg.Qos()),
		msg.Retained(),
		msg.MessageID(),
		msg.Payload(),
	)

	select {
	case c.inbox <- ev:
	case <-c.closed:
	}
}

// deliverAck queues a protocol event without blocking. Acknowledgements are
// informational, so they are dropped when the queue is full.
func (c *Client) deliverAck(ev transport.Event) {
	select {
	case c.inbox <- ev:
	default:
		c.droppedAcks.Add(1)
	}
}

// reportError keeps the first unread connection error.
func (c *Client) reportError(err error) {
	select {
	case c.errs <- err:
	default:
	}
}
