// Package api provides the HTTP API and WebSocket event stream.
//
// The server follows the same lifecycle pattern as the other components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-iot/internal/distributor"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-iot/internal/journal"
	"github.com/nerrad567/gray-logic-iot/internal/shadow"
	"github.com/nerrad567/gray-logic-iot/internal/transport"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// EventSource hands out distributor handles and reports fan-out counters.
// *distributor.Distributor satisfies it.
type EventSource interface {
	NewHandle() *distributor.Handle
	Stats() distributor.Stats
}

// Publisher sends one-off publishes. *client.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, qos transport.QoS, payload []byte) error
}

// ShadowService is the subset of *shadow.Manager used by the API.
type ShadowService interface {
	ThingName() string
	State(a shadow.Action) shadow.RequestState
	Reported() map[string]any
	Document() ([]byte, error)
	Get(ctx context.Context) error
	Update(ctx context.Context, key string, value any) error
	Delete(ctx context.Context) error
}

// EventHistory serves journalled events. *journal.Journal satisfies it.
type EventHistory interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// BrokerStatus reports the MQTT connection. *mqtt.Client satisfies it.
type BrokerStatus interface {
	IsConnected() bool
	DroppedAcks() uint64
}

// Deps holds the dependencies required by the API server.
// Shadow, Journal, Publisher and Broker are optional; routes backed by a
// missing dependency answer 503.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Logger    *logging.Logger
	Events    EventSource
	Publisher Publisher
	Shadow    ShadowService
	Journal   EventHistory
	Broker    BrokerStatus
	Version   string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	events    EventSource
	publisher Publisher
	shadow    ShadowService
	journal   EventHistory
	broker    BrokerStatus
	version   string
	startTime time.Time

	// baseCtx parents every WebSocket session; Close cancels it.
	baseCtx context.Context
	cancel  context.CancelFunc

	server *http.Server
	hub    *Hub
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Logger and Events are required
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Events == nil {
		return nil, fmt.Errorf("event source is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		events:    deps.Events,
		publisher: deps.Publisher,
		shadow:    deps.Shadow,
		journal:   deps.Journal,
		broker:    deps.Broker,
		version:   deps.Version,
		startTime: time.Now(),
		baseCtx:   ctx,
		cancel:    cancel,
		hub:       NewHub(deps.Logger),
	}, nil
}

// Start begins listening for HTTP connections in a background goroutine.
// Cancelling ctx disconnects WebSocket clients; Close stops the listener.
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	// Re-parent sessions under ctx so cancelling it also ends them.
	s.cancel()
	s.baseCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(s.baseCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It disconnects WebSocket clients, then waits up to 10 seconds for
// in-flight requests to complete.
func (s *Server) Close() error {
	s.cancel()
	s.hub.closeAll()

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
