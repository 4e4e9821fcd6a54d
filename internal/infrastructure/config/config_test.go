package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
mqtt:
  broker:
    host: "a1b2c3-ats.iot.eu-west-1.amazonaws.com"
    port: 8883
    client_id: "lamp-1"
  tls:
    ca_file: "/certs/AmazonRootCA1.pem"
    cert_file: "/certs/lamp.crt"
    key_file: "/certs/lamp.key"
  keep_alive: 20
distributor:
  buffer_size: 0
  overflow_policy: drop_newest
shadow:
  enabled: true
  thing_name: "Lamp1"
  qos: 1
  response_timeout: 5
database:
  path: "/tmp/test.db"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MQTT.Broker.Host != "a1b2c3-ats.iot.eu-west-1.amazonaws.com" {
		t.Errorf("MQTT.Broker.Host = %q", cfg.MQTT.Broker.Host)
	}
	if cfg.MQTT.TLS.KeyFile != "/certs/lamp.key" {
		t.Errorf("MQTT.TLS.KeyFile = %q, want %q", cfg.MQTT.TLS.KeyFile, "/certs/lamp.key")
	}
	if cfg.MQTT.KeepAlive != 20 {
		t.Errorf("MQTT.KeepAlive = %d, want 20", cfg.MQTT.KeepAlive)
	}
	if !cfg.MQTT.CleanSession {
		t.Error("MQTT.CleanSession = false, want default true")
	}
	if cfg.Distributor.BufferSize != 0 || cfg.Distributor.OverflowPolicy != "drop_newest" {
		t.Errorf("Distributor = %+v", cfg.Distributor)
	}
	if cfg.Shadow.ThingName != "Lamp1" || cfg.Shadow.QoS != 1 {
		t.Errorf("Shadow = %+v", cfg.Shadow)
	}
	if cfg.GetResponseTimeout() != 5*time.Second {
		t.Errorf("GetResponseTimeout() = %v, want 5s", cfg.GetResponseTimeout())
	}
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker.Port = %d, want 8883", cfg.MQTT.Broker.Port)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	configPath := writeConfig(t, `
shadow:
  enabled: true
  thing_name: ""
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	if !strings.Contains(err.Error(), "shadow.thing_name") {
		t.Errorf("Load() error = %v, want shadow.thing_name message", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"empty host", func(c *Config) { c.MQTT.Broker.Host = "" }, "mqtt.broker.host"},
		{"port out of range", func(c *Config) { c.MQTT.Broker.Port = 70000 }, "mqtt.broker.port"},
		{"bad qos", func(c *Config) { c.MQTT.QoS = 3 }, "mqtt.qos"},
		{"bad will qos", func(c *Config) { c.MQTT.LastWill.QoS = -1 }, "mqtt.last_will.qos"},
		{"cert without key", func(c *Config) { c.MQTT.TLS.CertFile = "a.crt" }, "mqtt.tls.cert_file"},
		{"unknown policy", func(c *Config) { c.Distributor.OverflowPolicy = "block" }, "distributor.overflow_policy"},
		{"shadow without thing", func(c *Config) { c.Shadow.Enabled = true }, "shadow.thing_name"},
		{"negative timeout", func(c *Config) { c.Shadow.ResponseTimeout = -1 }, "shadow.response_timeout"},
		{"journal without path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"journal disabled without path", func(c *Config) { c.Journal.Enabled = false; c.Database.Path = "" }, ""},
		{"influx without url", func(c *Config) { c.InfluxDB.Enabled = true; c.InfluxDB.URL = "" }, "influxdb.url"},
		{"api port zero", func(c *Config) { c.API.Port = 0 }, "api.port"},
		{"api disabled port zero", func(c *Config) { c.API.Enabled = false; c.API.Port = 0 }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want message containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := defaultConfig()

	if cfg.GetReadTimeout() != 30*time.Second {
		t.Errorf("GetReadTimeout() = %v, want 30s", cfg.GetReadTimeout())
	}
	if cfg.GetWriteTimeout() != 30*time.Second {
		t.Errorf("GetWriteTimeout() = %v, want 30s", cfg.GetWriteTimeout())
	}
	if cfg.GetIdleTimeout() != 60*time.Second {
		t.Errorf("GetIdleTimeout() = %v, want 60s", cfg.GetIdleTimeout())
	}
	if cfg.GetErrorBackoff() != 100*time.Millisecond {
		t.Errorf("GetErrorBackoff() = %v, want 100ms", cfg.GetErrorBackoff())
	}
	if cfg.GetResponseTimeout() != 0 {
		t.Errorf("GetResponseTimeout() = %v, want 0", cfg.GetResponseTimeout())
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("GRAYLOGIC_IOT_DATABASE_PATH", "/custom/path.db")
	t.Setenv("GRAYLOGIC_IOT_MQTT_HOST", "mqtt.example.com")
	t.Setenv("GRAYLOGIC_IOT_MQTT_PORT", "1883")
	t.Setenv("GRAYLOGIC_IOT_MQTT_TLS", "false")
	t.Setenv("GRAYLOGIC_IOT_MQTT_USERNAME", "testuser")
	t.Setenv("GRAYLOGIC_IOT_SHADOW_THING_NAME", "Lamp1")
	t.Setenv("GRAYLOGIC_IOT_API_PORT", "not-a-number")
	t.Setenv("GRAYLOGIC_IOT_INFLUXDB_TOKEN", "secret-token")

	applyEnvOverrides(cfg)

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.Broker.TLS {
		t.Error("MQTT.Broker.TLS = true, want false")
	}
	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}
	if cfg.Shadow.ThingName != "Lamp1" {
		t.Errorf("Shadow.ThingName = %q, want %q", cfg.Shadow.ThingName, "Lamp1")
	}
	if cfg.API.Port != 8090 {
		t.Errorf("API.Port = %d, want unparsable override ignored", cfg.API.Port)
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
}

func TestLoadDotEnv(t *testing.T) {
	const key = "GRAYLOGIC_IOT_DOTENV_TEST"
	t.Cleanup(func() { os.Unsetenv(key) })

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(key+"=from-file\n"), 0600); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv(key); got != "from-file" {
		t.Errorf("%s = %q, want %q", key, got, "from-file")
	}

	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("LoadDotEnv(missing) error = %v, want nil", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 8883", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.KeepAlive != 10 {
		t.Errorf("defaultConfig MQTT.KeepAlive = %d, want 10", cfg.MQTT.KeepAlive)
	}
	if cfg.Distributor.BufferSize != 64 {
		t.Errorf("defaultConfig Distributor.BufferSize = %d, want 64", cfg.Distributor.BufferSize)
	}
	if cfg.Shadow.ResponseTimeout != 0 {
		t.Errorf("defaultConfig Shadow.ResponseTimeout = %d, want 0", cfg.Shadow.ResponseTimeout)
	}
}
