package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-iot/internal/transport"
)

// Client is a transport.Transport backed by paho.mqtt.golang.
//
// Paho delivers messages and connection changes on its own goroutines.
// Client turns them into transport events and queues them for Poll, so a
// single distributor can own the receive side.
//
// Thread Safety:
//   - Subscribe, Publish, Unsubscribe and Close are safe for concurrent use.
//   - Poll must only be called from one goroutine at a time.
//   - Subscriptions are restored on reconnection when the session is clean.
type Client struct {
	client   pahomqtt.Client
	cfg      config.MQTTConfig
	clientID string

	inbox  chan transport.Event
	errs   chan error
	closed chan struct{}

	closeOnce sync.Once

	// subscriptions tracks filters for re-subscription on reconnect.
	subscriptions map[string]byte
	subMu         sync.RWMutex

	connected atomic.Bool
	sessions  atomic.Uint64

	// ackSeq numbers subscribe and unsubscribe acknowledgements; paho does
	// not expose their packet identifiers.
	ackSeq atomic.Uint32

	droppedAcks atomic.Uint64

	// logger for connection events (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Connect establishes a connection to the MQTT broker.
//
// It performs the following setup:
//  1. Builds connection options from config (broker URL, auth, TLS, LWT)
//  2. Generates a client ID if none is configured
//  3. Attempts the initial connection within the connect timeout
//
// Parameters:
//   - cfg: MQTT configuration from config.yaml
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: ErrTLSConfig, or ErrConnectionFailed if the broker is unreachable
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg)

	opts, err := buildClientOptions(cfg, c.clientID)
	if err != nil {
		return nil, err
	}

	// Subscribe passes a nil callback so every message lands here.
	opts.SetDefaultPublishHandler(func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.handleMessage(msg)
	})
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleConnectionLost(err)
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		if logger := c.getLogger(); logger != nil {
			logger.Info("reconnecting to MQTT broker", "client_id", c.clientID)
		}
	})

	c.client = pahomqtt.NewClient(opts)
	timeout := secondsOr(cfg.ConnectTimeout, defaultConnectTimeout)
	token := c.client.Connect()
	if !token.WaitTimeout(timeout) {
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect handler runs asynchronously and may not have executed
	// yet; mark the connection now so requests can proceed.
	c.connected.Store(true)

	return c, nil
}

func newClient(cfg config.MQTTConfig) *Client {
	clientID := cfg.Broker.ClientID
	if clientID == "" {
		clientID = "graylogic-iot-" + uuid.NewString()
	}
	size := cfg.InboxSize
	if size <= 0 {
		size = defaultInboxSize
	}
	return &Client{
		cfg:           cfg,
		clientID:      clientID,
		inbox:         make(chan transport.Event, size),
		errs:          make(chan error, 1),
		closed:        make(chan struct{}),
		subscriptions: make(map[string]byte),
	}
}

// ClientID returns the identifier presented to the broker.
func (c *Client) ClientID() string {
	return c.clientID
}

// handleConnect is called on the initial connection and on every reconnect.
func (c *Client) handleConnect() {
	c.connected.Store(true)

	// A clean session loses subscriptions on the broker side.
	if c.sessions.Add(1) > 1 && c.cfg.CleanSession {
		c.restoreSubscriptions()
	}

	c.deliverAck(transport.NewConnected())

	if logger := c.getLogger(); logger != nil {
		logger.Info("connected to MQTT broker", "client_id", c.clientID)
	}
}

// handleConnectionLost reports the drop. Without auto-reconnect the loss is
// fatal for the poll loop.
func (c *Client) handleConnectionLost(err error) {
	c.connected.Store(false)

	reason := ""
	if err != nil {
		reason = err.Error()
	}
	c.deliverAck(transport.NewDisconnect(reason))

	fatal := !c.cfg.Reconnect.Enabled
	if fatal {
		cause := ErrConnectionLost
		if err != nil {
			cause = fmt.Errorf("%w: %w", ErrConnectionLost, err)
		}
		c.reportError(&transport.ConnectionError{Op: "connection", Fatal: true, Err: cause})
	}

	if logger := c.getLogger(); logger != nil {
		logger.Warn("MQTT connection lost",
			"client_id", c.clientID,
			"error", err,
			"reconnecting", !fatal,
		)
	}
}

// Close disconnects from the broker and makes Poll return transport.ErrClosed.
// Calling Close more than once is harmless.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.client != nil {
			c.client.Disconnect(defaultDisconnectQuiesce)
		}
		c.connected.Store(false)
	})
	return nil
}

// HealthCheck verifies the MQTT connection is alive.
//
// Returns:
//   - error: nil if healthy, transport.ErrNotConnected otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return transport.ErrNotConnected
	}
	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client != nil && c.client.IsConnected()
}

// DroppedAcks returns how many acknowledgement events were discarded
// because nothing was polling.
func (c *Client) DroppedAcks() uint64 {
	return c.droppedAcks.Load()
}

// SetLogger sets a logger for connection events.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}
