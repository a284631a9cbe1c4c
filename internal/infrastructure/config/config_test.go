package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearRelayEnv unsets every variable the loader reads so the host
// environment cannot leak into a test. t.Setenv restores them afterwards.
func clearRelayEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"MQTT_HOST", "MQTT_PORT", "MQTT_USER", "MQTT_PASS", "MQTT_TOPICS",
		"MQTT_CLIENT_ID", "BOT_TOKEN", "CHAT_ID", "LOG_LEVEL", "RELAY_INFLUXDB_TOKEN",
	} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0600), "failed to write test config")
	return configPath
}

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Telegram.Token = "123456:ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghi"
	cfg.Routes = []RouteConfig{{Topic: "freezer/status", ChatID: "12345"}}
	return cfg
}

func TestLoad_ValidConfig(t *testing.T) {
	clearRelayEnv(t)

	content := `
mqtt:
  broker:
    host: "broker.local"
    port: 8883
    tls: true
  qos: 1
telegram:
  token: "123456:ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghi"
  request_timeout: 5s
routes:
  - topic: "freezer/status"
    chat_id: "12345"
  - topic: "sensors/#"
    chat_id: "@alerts"
    template: "{topic} -> {payload}"
delivery:
  max_attempts: 3
  initial_delay: 250ms
shutdown:
  grace_period: 3s
`
	cfg, err := Load(writeConfig(t, content))
	require.NoError(t, err)

	assert.Equal(t, "broker.local", cfg.MQTT.Broker.Host)
	assert.True(t, cfg.MQTT.Broker.TLS)
	require.Len(t, cfg.Routes, 2)
	assert.Equal(t, "{topic} -> {payload}", cfg.Routes[1].Template)
	assert.Equal(t, 5*time.Second, cfg.Telegram.RequestTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Delivery.InitialDelay)
	assert.Equal(t, 3*time.Second, cfg.Shutdown.GracePeriod)

	// Unset sections keep their defaults.
	assert.Equal(t, 100, cfg.Queue.Capacity)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/relay.yaml")
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	assert.Error(t, err)
}

func TestLoad_ValidationFailure(t *testing.T) {
	clearRelayEnv(t)

	content := `
telegram:
  token: "123456:ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghi"
routes: []
`
	_, err := Load(writeConfig(t, content))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "route")
}

func TestLoad_EnvironmentOnly(t *testing.T) {
	clearRelayEnv(t)
	t.Setenv("MQTT_HOST", "mqtt.example.com")
	t.Setenv("MQTT_PORT", "1884")
	t.Setenv("MQTT_TOPICS", "freezer/status, freezer/door,,")
	t.Setenv("BOT_TOKEN", "123456:ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghi")
	t.Setenv("CHAT_ID", "-1001234")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "mqtt.example.com:1884", cfg.BrokerAddress())
	assert.Equal(t, []RouteConfig{
		{Topic: "freezer/status", ChatID: "-1001234"},
		{Topic: "freezer/door", ChatID: "-1001234"},
	}, cfg.Routes)
}

func TestLoad_EnvironmentOnlyDefaultTopics(t *testing.T) {
	clearRelayEnv(t)
	t.Setenv("BOT_TOKEN", "123456:ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghi")
	t.Setenv("CHAT_ID", "12345")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []RouteConfig{
		{Topic: "freezer/status", ChatID: "12345"},
		{Topic: "freezer/temp", ChatID: "12345"},
		{Topic: "freezer/door", ChatID: "12345"},
	}, cfg.Routes)
}

func TestLoad_EnvironmentOnlyMissingToken(t *testing.T) {
	clearRelayEnv(t)
	t.Setenv("MQTT_TOPICS", "freezer/status")
	t.Setenv("CHAT_ID", "12345")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BOT_TOKEN")
}

func TestLoad_InvalidEnvironmentPort(t *testing.T) {
	clearRelayEnv(t)
	t.Setenv("MQTT_PORT", "not-a-port")

	_, err := Load("")
	assert.Error(t, err, "non-numeric MQTT_PORT")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "missing token",
			mutate:  func(c *Config) { c.Telegram.Token = "" },
			wantErr: true,
		},
		{
			name:    "no routes",
			mutate:  func(c *Config) { c.Routes = nil },
			wantErr: true,
		},
		{
			name:    "route without chat",
			mutate:  func(c *Config) { c.Routes[0].ChatID = "" },
			wantErr: true,
		},
		{
			name:    "invalid qos",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.MQTT.Broker.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "zero queue capacity",
			mutate:  func(c *Config) { c.Queue.Capacity = 0 },
			wantErr: true,
		},
		{
			name:    "zero attempts",
			mutate:  func(c *Config) { c.Delivery.MaxAttempts = 0 },
			wantErr: true,
		},
		{
			name:    "jitter out of range",
			mutate:  func(c *Config) { c.Reconnect.Jitter = 1 },
			wantErr: true,
		},
		{
			name:    "reconnect multiplier of one",
			mutate:  func(c *Config) { c.Reconnect.Multiplier = 1 },
			wantErr: true,
		},
		{
			name: "delivery multiplier below one plus jitter",
			mutate: func(c *Config) {
				c.Delivery.Multiplier = 1.1
				c.Delivery.Jitter = 0.2
			},
			wantErr: true,
		},
		{
			name: "multiplier equal to one plus jitter",
			mutate: func(c *Config) {
				c.Reconnect.Multiplier = 1.5
				c.Reconnect.Jitter = 0.5
			},
			wantErr: false,
		},
		{
			name: "max length shorter than marker",
			mutate: func(c *Config) {
				c.Translate.MaxLength = 1
				c.Translate.TruncationMarker = "..."
			},
			wantErr: true,
		},
		{
			name:    "influxdb enabled without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: true,
		},
		{
			name: "journal enabled without path",
			mutate: func(c *Config) {
				c.Journal.Enabled = true
				c.Journal.Path = ""
			},
			wantErr: true,
		},
		{
			name: "api enabled with bad port",
			mutate: func(c *Config) {
				c.API.Enabled = true
				c.API.Port = 0
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}

func TestConfig_ValidateJoinsErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Telegram.Token = ""
	cfg.Queue.Capacity = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, 1, strings.Count(err.Error(), ";"), "expected two joined errors, got %q", err)
}

func TestApplyEnvOverrides(t *testing.T) {
	clearRelayEnv(t)
	t.Setenv("MQTT_HOST", "mqtt.example.com")
	t.Setenv("MQTT_USER", "testuser")
	t.Setenv("MQTT_PASS", "testpass")
	t.Setenv("MQTT_CLIENT_ID", "relay-2")
	t.Setenv("BOT_TOKEN", "env-token")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("RELAY_INFLUXDB_TOKEN", "secret-token")

	cfg := defaultConfig()
	require.NoError(t, applyEnvOverrides(cfg))

	assert.Equal(t, "mqtt.example.com", cfg.MQTT.Broker.Host)
	assert.Equal(t, "testuser", cfg.MQTT.Auth.Username)
	assert.Equal(t, "testpass", cfg.MQTT.Auth.Password)
	assert.Equal(t, "relay-2", cfg.MQTT.Broker.ClientID)
	assert.Equal(t, "env-token", cfg.Telegram.Token)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "secret-token", cfg.InfluxDB.Token)
}

func TestApplyEnvOverrides_FileRoutesWin(t *testing.T) {
	clearRelayEnv(t)
	t.Setenv("MQTT_TOPICS", "other/topic")
	t.Setenv("CHAT_ID", "999")

	cfg := validConfig()
	require.NoError(t, applyEnvOverrides(cfg))

	require.Len(t, cfg.Routes, 1, "file routes are kept")
	assert.Equal(t, "freezer/status", cfg.Routes[0].Topic)
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	assert.Equal(t, "mqtt-telegram-relay", cfg.MQTT.Broker.ClientID)
	assert.Equal(t, 1, cfg.MQTT.QoS)
	assert.Equal(t, 30, cfg.MQTT.KeepAlive)
	assert.Equal(t, 10*time.Second, cfg.Telegram.RequestTimeout)
	assert.Empty(t, cfg.Telegram.ConnectMessage, "connect announcement disabled by default")
	assert.Equal(t, 4096, cfg.Translate.MaxLength)
	assert.Equal(t, "127.0.0.1", cfg.API.Host)
	assert.Equal(t, "info", cfg.Logging.Level)
}
