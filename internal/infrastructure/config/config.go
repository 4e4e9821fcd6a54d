package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Gray Logic IoT.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Distributor DistributorConfig `yaml:"distributor"`
	Shadow      ShadowConfig      `yaml:"shadow"`
	Database    DatabaseConfig    `yaml:"database"`
	Journal     JournalConfig     `yaml:"journal"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	API         APIConfig         `yaml:"api"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	TLS       MQTTTLSConfig       `yaml:"tls"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
	LastWill  MQTTLastWillConfig  `yaml:"last_will"`

	// KeepAlive is the ping interval in seconds.
	KeepAlive int `yaml:"keep_alive"`

	CleanSession bool `yaml:"clean_session"`

	// ConnectTimeout bounds the initial connection, in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`

	// RequestTimeout bounds each subscribe/publish/unsubscribe, in seconds.
	RequestTimeout int `yaml:"request_timeout"`

	// MaxInflight bounds concurrent requests. 0 leaves them unbounded.
	MaxInflight int `yaml:"max_inflight"`

	// MaxPayload is the largest publish payload in bytes.
	MaxPayload int `yaml:"max_payload"`

	// InboxSize is the number of events the transport buffers for Poll.
	InboxSize int `yaml:"inbox_size"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTTLSConfig holds certificate material for mutual TLS with the broker.
type MQTTTLSConfig struct {
	CAFile   string `yaml:"ca_file"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	Enabled      bool `yaml:"enabled"`
	InitialDelay int  `yaml:"initial_delay"`
	MaxDelay     int  `yaml:"max_delay"`
}

// MQTTLastWillConfig is published by the broker if the client vanishes.
// An empty topic disables it.
type MQTTLastWillConfig struct {
	Topic    string `yaml:"topic"`
	Payload  string `yaml:"payload"`
	QoS      int    `yaml:"qos"`
	Retained bool   `yaml:"retained"`
}

// DistributorConfig contains event fan-out settings.
type DistributorConfig struct {
	// BufferSize is the per-handle buffer. 0 makes handles unbounded.
	BufferSize int `yaml:"buffer_size"`

	// OverflowPolicy is "drop_oldest" or "drop_newest".
	OverflowPolicy string `yaml:"overflow_policy"`

	// ErrorBackoff is the pause after a non-fatal poll error, in milliseconds.
	ErrorBackoff int `yaml:"error_backoff_ms"`
}

// ShadowConfig contains device shadow settings.
type ShadowConfig struct {
	Enabled   bool   `yaml:"enabled"`
	ThingName string `yaml:"thing_name"`
	QoS       int    `yaml:"qos"`

	// ResponseTimeout in seconds. 0 waits for responses forever.
	ResponseTimeout int `yaml:"response_timeout"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// JournalConfig contains settings for the SQLite event journal.
type JournalConfig struct {
	Enabled bool `yaml:"enabled"`

	// Retention is how long entries are kept, in hours. 0 keeps everything.
	Retention int `yaml:"retention"`

	// PruneInterval is how often expired entries are removed, in minutes.
	PruneInterval int `yaml:"prune_interval"`

	// MaxPayload caps the stored payload bytes per entry. 0 stores none.
	MaxPayload int `yaml:"max_payload"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`

	// StatsInterval is how often distributor counters are written, in seconds.
	StatsInterval int `yaml:"stats_interval"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. .env file next to the working directory, if present
//  3. YAML file values (override defaults)
//  4. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_IOT_SECTION_KEY
// For example: GRAYLOGIC_IOT_MQTT_HOST, GRAYLOGIC_IOT_SHADOW_THING_NAME
//
// Parameters:
//   - path: Path to the YAML configuration file. Empty uses defaults only.
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if err := LoadDotEnv(".env"); err != nil {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadDotEnv loads environment variables from path. Missing files are ignored.
// Variables already set in the environment win over the file.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 8883,
				TLS:  true,
			},
			QoS: 0,
			Reconnect: MQTTReconnectConfig{
				Enabled:      true,
				InitialDelay: 1,
				MaxDelay:     60,
			},
			KeepAlive:      10,
			CleanSession:   true,
			ConnectTimeout: 10,
			RequestTimeout: 5,
			MaxInflight:    100,
			MaxPayload:     128 * 1024,
			InboxSize:      256,
		},
		Distributor: DistributorConfig{
			BufferSize:     64,
			OverflowPolicy: "drop_oldest",
			ErrorBackoff:   100,
		},
		Shadow: ShadowConfig{
			QoS: 0,
		},
		Database: DatabaseConfig{
			Path:        "./data/graylogic-iot.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Journal: JournalConfig{
			Enabled:       true,
			Retention:     168,
			PruneInterval: 60,
			MaxPayload:    4096,
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Org:           "graylogic",
			Bucket:        "iot",
			BatchSize:     100,
			FlushInterval: 10,
			StatsInterval: 30,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_IOT_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	envString("GRAYLOGIC_IOT_MQTT_HOST", &cfg.MQTT.Broker.Host)
	envInt("GRAYLOGIC_IOT_MQTT_PORT", &cfg.MQTT.Broker.Port)
	envBool("GRAYLOGIC_IOT_MQTT_TLS", &cfg.MQTT.Broker.TLS)
	envString("GRAYLOGIC_IOT_MQTT_CLIENT_ID", &cfg.MQTT.Broker.ClientID)
	envString("GRAYLOGIC_IOT_MQTT_USERNAME", &cfg.MQTT.Auth.Username)
	envString("GRAYLOGIC_IOT_MQTT_PASSWORD", &cfg.MQTT.Auth.Password)
	envString("GRAYLOGIC_IOT_MQTT_CA_FILE", &cfg.MQTT.TLS.CAFile)
	envString("GRAYLOGIC_IOT_MQTT_CERT_FILE", &cfg.MQTT.TLS.CertFile)
	envString("GRAYLOGIC_IOT_MQTT_KEY_FILE", &cfg.MQTT.TLS.KeyFile)

	// Shadow
	envString("GRAYLOGIC_IOT_SHADOW_THING_NAME", &cfg.Shadow.ThingName)
	envBool("GRAYLOGIC_IOT_SHADOW_ENABLED", &cfg.Shadow.Enabled)

	// Database
	envString("GRAYLOGIC_IOT_DATABASE_PATH", &cfg.Database.Path)

	// API
	envString("GRAYLOGIC_IOT_API_HOST", &cfg.API.Host)
	envInt("GRAYLOGIC_IOT_API_PORT", &cfg.API.Port)

	// InfluxDB
	envString("GRAYLOGIC_IOT_INFLUXDB_URL", &cfg.InfluxDB.URL)
	envString("GRAYLOGIC_IOT_INFLUXDB_TOKEN", &cfg.InfluxDB.Token)

	// Logging
	envString("GRAYLOGIC_IOT_LOG_LEVEL", &cfg.Logging.Level)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// envInt ignores values that do not parse; Validate reports the result.
func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.LastWill.QoS < 0 || c.MQTT.LastWill.QoS > 2 {
		errs = append(errs, "mqtt.last_will.qos must be 0, 1, or 2")
	}
	if c.MQTT.KeepAlive < 0 {
		errs = append(errs, "mqtt.keep_alive must not be negative")
	}
	if (c.MQTT.TLS.CertFile == "") != (c.MQTT.TLS.KeyFile == "") {
		errs = append(errs, "mqtt.tls.cert_file and mqtt.tls.key_file must be set together")
	}

	// Distributor validation
	switch strings.ToLower(c.Distributor.OverflowPolicy) {
	case "", "drop_oldest", "oldest", "drop_newest", "newest":
	default:
		errs = append(errs, "distributor.overflow_policy must be drop_oldest or drop_newest")
	}
	if c.Distributor.ErrorBackoff < 0 {
		errs = append(errs, "distributor.error_backoff_ms must not be negative")
	}

	// Shadow validation
	if c.Shadow.Enabled && c.Shadow.ThingName == "" {
		errs = append(errs, "shadow.thing_name is required when shadow is enabled")
	}
	if c.Shadow.QoS < 0 || c.Shadow.QoS > 2 {
		errs = append(errs, "shadow.qos must be 0, 1, or 2")
	}
	if c.Shadow.ResponseTimeout < 0 {
		errs = append(errs, "shadow.response_timeout must not be negative")
	}

	// Database validation
	if c.Journal.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the journal is enabled")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetErrorBackoff returns the distributor's poll error backoff as a Duration.
func (c *Config) GetErrorBackoff() time.Duration {
	return time.Duration(c.Distributor.ErrorBackoff) * time.Millisecond
}

// GetResponseTimeout returns the shadow response timeout as a Duration.
func (c *Config) GetResponseTimeout() time.Duration {
	return time.Duration(c.Shadow.ResponseTimeout) * time.Second
}
