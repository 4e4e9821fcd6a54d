package mqtt

import (
	"context"
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-iot/internal/transport"
)

// Subscribe registers a filter with the broker. Matching messages are
// returned by Poll as KindPublish events.
//
// Topics can include MQTT wildcards; matching is done by the broker.
// Subscriptions are restored automatically after a reconnect.
//
// A SubscribeAck event with the granted QoS is queued for Poll on success.
//
// Returns:
//   - error: nil on success, ErrSubscriptionRejected if the broker refused
//     the filter, or a wrapped ErrSubscribeFailed
func (c *Client) Subscribe(ctx context.Context, topic string, qos transport.QoS) error {
	if err := transport.ValidateTopic(topic); err != nil {
		return err
	}
	if !qos.Valid() {
		return transport.ErrInvalidQoS
	}
	if !c.IsConnected() {
		return transport.ErrNotConnected
	}

	token := c.client.Subscribe(topic, byte(qos), nil)
	if err := c.wait(ctx, token, ErrSubscribeFailed); err != nil {
		return err
	}

	granted := grantedQoS(token, topic)
	for _, g := range granted {
		if g == subscribeFailure {
			return fmt.Errorf("%w: %s", ErrSubscriptionRejected, topic)
		}
	}

	c.subMu.Lock()
	c.subscriptions[topic] = byte(qos)
	c.subMu.Unlock()

	c.deliverAck(transport.NewSubscribeAck(uint16(c.ackSeq.Add(1)), granted))
	return nil
}

// Unsubscribe removes a filter. An UnsubscribeAck event is queued for Poll
// on success.
func (c *Client) Unsubscribe(ctx context.Context, topic string) error {
	if err := transport.ValidateTopic(topic); err != nil {
		return err
	}
	if !c.IsConnected() {
		return transport.ErrNotConnected
	}

	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()

	token := c.client.Unsubscribe(topic)
	if err := c.wait(ctx, token, ErrUnsubscribeFailed); err != nil {
		return err
	}

	c.deliverAck(transport.NewUnsubscribeAck(uint16(c.ackSeq.Add(1))))
	return nil
}

// SubscriptionCount returns the number of tracked subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription checks if a subscription exists for the exact filter.
func (c *Client) HasSubscription(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, exists := c.subscriptions[topic]
	return exists
}

// restoreSubscriptions re-subscribes to all tracked filters after reconnect.
// It runs on paho's connect goroutine, so it does not wait for the tokens.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	filters := make(map[string]byte, len(c.subscriptions))
	for topic, qos := range c.subscriptions {
		filters[topic] = qos
	}
	c.subMu.RUnlock()

	if len(filters) > 0 {
		c.client.SubscribeMultiple(filters, nil)
	}
}

// grantedQoS extracts the SUBACK return code for topic.
func grantedQoS(token pahomqtt.Token, topic string) []transport.QoS {
	st, ok := token.(*pahomqtt.SubscribeToken)
	if !ok {
		return nil
	}
	code, ok := st.Result()[topic]
	if !ok {
		return nil
	}
	return []transport.QoS{transport.QoS(code)}
}
