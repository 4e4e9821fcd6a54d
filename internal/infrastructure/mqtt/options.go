package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout applies when the config leaves it unset.
	defaultConnectTimeout = 10 * time.Second

	// defaultRequestTimeout bounds a request when the caller's context has no deadline.
	defaultRequestTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive applies when the config leaves it unset.
	defaultKeepAlive = 10 * time.Second

	// defaultInboxSize applies when the config leaves it unset.
	defaultInboxSize = 256

	// subscribeFailure is the SUBACK return code for a refused filter.
	subscribeFailure = 0x80

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// buildClientOptions creates paho MQTT options from Gray Logic config.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID for identification
//   - Authentication credentials (if provided)
//   - Keep-alive, clean session and connect timeout
//   - Auto-reconnect with exponential backoff (if enabled)
//   - TLS with optional CA and client certificate
//   - Last Will and Testament (if a topic is set)
//
// Returns:
//   - error: ErrTLSConfig if certificate files cannot be loaded
func buildClientOptions(cfg config.MQTTConfig, clientID string) (*pahomqtt.ClientOptions, error) {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(clientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(cfg.CleanSession)
	opts.SetConnectTimeout(secondsOr(cfg.ConnectTimeout, defaultConnectTimeout))
	opts.SetKeepAlive(secondsOr(cfg.KeepAlive, defaultKeepAlive))

	// Messages are handed to Poll in arrival order.
	opts.SetOrderMatters(true)

	opts.SetAutoReconnect(cfg.Reconnect.Enabled)
	if cfg.Reconnect.Enabled {
		opts.SetConnectRetryInterval(secondsOr(cfg.Reconnect.InitialDelay, time.Second))
		opts.SetMaxReconnectInterval(secondsOr(cfg.Reconnect.MaxDelay, time.Minute))
	}

	if cfg.Broker.TLS {
		tlsConfig, err := buildTLSConfig(cfg.TLS)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	if cfg.LastWill.Topic != "" {
		opts.SetWill(cfg.LastWill.Topic, cfg.LastWill.Payload, byte(cfg.LastWill.QoS), cfg.LastWill.Retained)
	}

	return opts, nil
}

// buildTLSConfig loads the CA bundle and client certificate named in cfg.
// With no CA file the system roots are used.
func buildTLSConfig(cfg config.MQTTTLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tlsMinVersion,
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("%w: reading CA file: %w", ErrTLSConfig, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: no certificates in %s", ErrTLSConfig, cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("%w: loading client certificate: %w", ErrTLSConfig, err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

func secondsOr(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}
