package mqtt

import (
	"context"
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-iot/internal/transport"
)

// Publish sends a non-retained message and waits for the broker's
// acknowledgement (QoS 1 and 2) or for the write (QoS 0).
//
// A PublishAck event carrying the packet identifier is queued for Poll once
// a QoS 1 or 2 publish completes.
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
//
// Example:
//
//	err := client.Publish(ctx, "$aws/things/Lamp1/shadow/get", transport.AtMostOnce, nil)
func (c *Client) Publish(ctx context.Context, topic string, qos transport.QoS, payload []byte) error {
	return c.publish(ctx, topic, qos, false, payload)
}

// PublishRetained is Publish with the retain flag set.
func (c *Client) PublishRetained(ctx context.Context, topic string, qos transport.QoS, payload []byte) error {
	return c.publish(ctx, topic, qos, true, payload)
}

func (c *Client) publish(ctx context.Context, topic string, qos transport.QoS, retained bool, payload []byte) error {
	if err := transport.ValidateTopic(topic); err != nil {
		return err
	}
	if !qos.Valid() {
		return transport.ErrInvalidQoS
	}
	if c.cfg.MaxPayload > 0 && len(payload) > c.cfg.MaxPayload {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), c.cfg.MaxPayload)
	}
	if !c.IsConnected() {
		return transport.ErrNotConnected
	}

	token := c.client.Publish(topic, byte(qos), retained, payload)
	if err := c.wait(ctx, token, ErrPublishFailed); err != nil {
		return err
	}

	if qos > transport.AtMostOnce {
		if pt, ok := token.(*pahomqtt.PublishToken); ok {
			c.deliverAck(transport.NewPublishAck(pt.MessageID()))
		}
	}
	return nil
}

// wait blocks until token completes, ctx ends, or the request timeout
// elapses. Failures are wrapped in base.
func (c *Client) wait(ctx context.Context, token pahomqtt.Token, base error) error {
	timeout := secondsOr(c.cfg.RequestTimeout, defaultRequestTimeout)
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("%w: %w: %w", base, ErrTimeout, ctx.Err())
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", base, err)
	}
	return nil
}
