// Package client is the synchronous request surface over a Transport.
//
// Calls go straight to the transport's request side and return its result.
// Nothing is buffered or retried here, and the client never reads events;
// responses to requests arrive through the distributor.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/nerrad567/gray-logic-iot/internal/transport"
)

// Defaults applied by New.
const (
	// DefaultMaxPayload matches the broker's per-message limit (128 KiB).
	DefaultMaxPayload = 128 * 1024

	// DefaultQoS is the level PublishDefault uses unless WithDefaultQoS overrides it.
	DefaultQoS = transport.AtMostOnce
)

// ErrPayloadTooLarge is returned when a payload exceeds the configured limit.
var ErrPayloadTooLarge = errors.New("client: payload too large")

// Client forwards subscribe, publish and unsubscribe requests.
//
// Thread Safety: all methods are safe for concurrent use, including while
// a distributor polls the same transport.
type Client struct {
	req        transport.Requester
	inflight   *semaphore.Weighted
	defaultQoS transport.QoS
	maxPayload int
}

// Option configures a Client.
type Option func(*Client)

// WithMaxInflight bounds the number of requests outstanding at once.
// n = 1 serialises requests for transports that need a single writer.
// n <= 0 leaves requests unbounded.
func WithMaxInflight(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.inflight = semaphore.NewWeighted(int64(n))
		} else {
			c.inflight = nil
		}
	}
}

// WithDefaultQoS sets the level used by PublishDefault.
func WithDefaultQoS(q transport.QoS) Option {
	return func(c *Client) { c.defaultQoS = q }
}

// WithMaxPayload sets the largest payload Publish accepts. n <= 0 disables the check.
func WithMaxPayload(n int) Option {
	return func(c *Client) { c.maxPayload = n }
}

// New wraps req.
func New(req transport.Requester, opts ...Option) *Client {
	c := &Client{
		req:        req,
		defaultQoS: DefaultQoS,
		maxPayload: DefaultMaxPayload,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultQoS returns the level used by PublishDefault.
func (c *Client) DefaultQoS() transport.QoS {
	return c.defaultQoS
}

// Subscribe asks the broker for messages matching topic.
//
// Returns a *transport.RequestError on validation or transport failure.
func (c *Client) Subscribe(ctx context.Context, topic string, qos transport.QoS) error {
	if err := validate(topic, qos); err != nil {
		return requestError("subscribe", topic, err)
	}
	return c.do(ctx, "subscribe", topic, func() error {
		return c.req.Subscribe(ctx, topic, qos)
	})
}

// Publish sends payload to topic.
//
// Returns a *transport.RequestError on validation or transport failure.
func (c *Client) Publish(ctx context.Context, topic string, qos transport.QoS, payload []byte) error {
	if err := validate(topic, qos); err != nil {
		return requestError("publish", topic, err)
	}
	if c.maxPayload > 0 && len(payload) > c.maxPayload {
		return requestError("publish", topic,
			fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, len(payload), c.maxPayload))
	}
	return c.do(ctx, "publish", topic, func() error {
		return c.req.Publish(ctx, topic, qos, payload)
	})
}

// PublishDefault sends payload to topic at the default QoS.
func (c *Client) PublishDefault(ctx context.Context, topic string, payload []byte) error {
	return c.Publish(ctx, topic, c.defaultQoS, payload)
}

// PublishJSON marshals v and publishes the result.
func (c *Client) PublishJSON(ctx context.Context, topic string, qos transport.QoS, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return requestError("publish", topic, fmt.Errorf("marshalling payload: %w", err))
	}
	return c.Publish(ctx, topic, qos, payload)
}

// Unsubscribe removes the subscription for topic.
//
// Returns a *transport.RequestError on validation or transport failure.
func (c *Client) Unsubscribe(ctx context.Context, topic string) error {
	if err := transport.ValidateTopic(topic); err != nil {
		return requestError("unsubscribe", topic, err)
	}
	return c.do(ctx, "unsubscribe", topic, func() error {
		return c.req.Unsubscribe(ctx, topic)
	})
}

func (c *Client) do(ctx context.Context, op, topic string, call func() error) error {
	if c.inflight != nil {
		if err := c.inflight.Acquire(ctx, 1); err != nil {
			return requestError(op, topic, err)
		}
		defer c.inflight.Release(1)
	}
	if err := call(); err != nil {
		return requestError(op, topic, err)
	}
	return nil
}

func validate(topic string, qos transport.QoS) error {
	if err := transport.ValidateTopic(topic); err != nil {
		return err
	}
	if !qos.Valid() {
		return fmt.Errorf("%w: %d", transport.ErrInvalidQoS, qos)
	}
	return nil
}

// requestError wraps err unless it already is a RequestError.
func requestError(op, topic string, err error) error {
	var re *transport.RequestError
	if errors.As(err, &re) {
		return err
	}
	return &transport.RequestError{Op: op, Topic: topic, Err: err}
}
