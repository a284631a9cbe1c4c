package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the relay.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Routes    []RouteConfig   `yaml:"routes"`
	Translate TranslateConfig `yaml:"translate"`
	Queue     QueueConfig     `yaml:"queue"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Shutdown  ShutdownConfig  `yaml:"shutdown"`
	Logging   LoggingConfig   `yaml:"logging"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Journal   JournalConfig   `yaml:"journal"`
	API       APIConfig       `yaml:"api"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker MQTTBrokerConfig `yaml:"broker"`
	Auth   MQTTAuthConfig   `yaml:"auth"`
	QoS    int              `yaml:"qos"`

	// KeepAlive is the MQTT keepalive interval in seconds.
	KeepAlive int `yaml:"keep_alive"`

	// ConnectTimeout bounds a single connection attempt.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	CAFile   string `yaml:"ca_file"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// TelegramConfig contains Telegram Bot API settings.
type TelegramConfig struct {
	Token string `yaml:"token"`

	// APIURL overrides the Bot API server (self-hosted telegram-bot-api).
	APIURL string `yaml:"api_url"`

	RequestTimeout      time.Duration   `yaml:"request_timeout"`
	ParseMode           string          `yaml:"parse_mode"`
	DisableNotification bool            `yaml:"disable_notification"`
	RateLimit           RateLimitConfig `yaml:"rate_limit"`

	// ConnectMessage is queued to every destination each time the bus
	// connection is (re)established. Empty disables the announcement.
	ConnectMessage string `yaml:"connect_message"`
}

// RateLimitConfig contains proactive send rate limits.
type RateLimitConfig struct {
	// PerChatInterval is the minimum spacing between sends to one chat.
	PerChatInterval time.Duration `yaml:"per_chat_interval"`

	// GlobalPerSecond caps sends across all chats. 0 disables the global limit.
	GlobalPerSecond float64 `yaml:"global_per_second"`
}

// RouteConfig maps a topic filter to a chat.
type RouteConfig struct {
	Topic    string `yaml:"topic"`
	ChatID   string `yaml:"chat_id"`
	Template string `yaml:"template"`
}

// TranslateConfig controls bus → chat text conversion.
type TranslateConfig struct {
	Encoding         string `yaml:"encoding"`
	MaxLength        int    `yaml:"max_length"`
	TruncationMarker string `yaml:"truncation_marker"`
}

// QueueConfig contains delivery buffer settings.
type QueueConfig struct {
	// Capacity is the per-destination buffer size.
	Capacity int `yaml:"capacity"`
}

// DeliveryConfig contains chat send retry settings.
type DeliveryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	Jitter       float64       `yaml:"jitter"`
}

// ReconnectConfig contains connection supervisor backoff settings.
// It applies independently to the bus and chat connections.
type ReconnectConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	Jitter       float64       `yaml:"jitter"`

	// StableAfter resets the backoff once a connection stayed up this long.
	StableAfter time.Duration `yaml:"stable_after"`
}

// ShutdownConfig contains graceful shutdown settings.
type ShutdownConfig struct {
	GracePeriod time.Duration `yaml:"grace_period"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
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
}

// JournalConfig contains the SQLite event journal settings.
type JournalConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains the status HTTP server settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// envOverrides lists the environment variables understood by the relay.
// The names match the original .env layout so existing deployments keep working.
type envOverrides struct {
	MQTTHost     string   `env:"MQTT_HOST"`
	MQTTPort     int      `env:"MQTT_PORT"`
	MQTTUser     string   `env:"MQTT_USER"`
	MQTTPass     string   `env:"MQTT_PASS"`
	MQTTTopics   []string `env:"MQTT_TOPICS" envSeparator:"," envDefault:"freezer/status,freezer/temp,freezer/door"`
	MQTTClientID string   `env:"MQTT_CLIENT_ID"`
	BotToken     string   `env:"BOT_TOKEN"`
	ChatID       string   `env:"CHAT_ID"`
	LogLevel     string   `env:"LOG_LEVEL"`
	InfluxToken  string   `env:"RELAY_INFLUXDB_TOKEN"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults), skipped when path is empty
//  3. Environment variables (override file values)
//
// Parameters:
//   - path: Path to the YAML configuration file, or "" for environment-only
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "127.0.0.1",
				Port:     1883,
				ClientID: "mqtt-telegram-relay",
			},
			QoS:            1,
			KeepAlive:      30,
			ConnectTimeout: 10 * time.Second,
		},
		Telegram: TelegramConfig{
			RequestTimeout: 10 * time.Second,
			RateLimit: RateLimitConfig{
				PerChatInterval: time.Second,
				GlobalPerSecond: 30,
			},
		},
		Translate: TranslateConfig{
			Encoding:         "utf-8",
			MaxLength:        4096,
			TruncationMarker: "…",
		},
		Queue: QueueConfig{
			Capacity: 100,
		},
		Delivery: DeliveryConfig{
			MaxAttempts:  5,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     30 * time.Second,
			Multiplier:   2,
			Jitter:       0.2,
		},
		Reconnect: ReconnectConfig{
			InitialDelay: time.Second,
			MaxDelay:     60 * time.Second,
			Multiplier:   2,
			Jitter:       0.2,
			StableAfter:  30 * time.Second,
		},
		Shutdown: ShutdownConfig{
			GracePeriod: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Journal: JournalConfig{
			Path:        "./data/relay.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Empty variables never clear a value from the file.
func applyEnvOverrides(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return err
	}

	// MQTT
	if o.MQTTHost != "" {
		cfg.MQTT.Broker.Host = o.MQTTHost
	}
	if o.MQTTPort != 0 {
		cfg.MQTT.Broker.Port = o.MQTTPort
	}
	if o.MQTTUser != "" {
		cfg.MQTT.Auth.Username = o.MQTTUser
	}
	if o.MQTTPass != "" {
		cfg.MQTT.Auth.Password = o.MQTTPass
	}
	if o.MQTTClientID != "" {
		cfg.MQTT.Broker.ClientID = o.MQTTClientID
	}

	// Telegram
	if o.BotToken != "" {
		cfg.Telegram.Token = o.BotToken
	}

	// Single-chat routing from MQTT_TOPICS x CHAT_ID, only when the file defines no routes.
	if len(cfg.Routes) == 0 && o.ChatID != "" {
		for _, topic := range o.MQTTTopics {
			topic = strings.TrimSpace(topic)
			if topic == "" {
				continue
			}
			cfg.Routes = append(cfg.Routes, RouteConfig{Topic: topic, ChatID: o.ChatID})
		}
	}

	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	if o.InfluxToken != "" {
		cfg.InfluxDB.Token = o.InfluxToken
	}

	return nil
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error { //nolint:gocognit,gocyclo // flat list of independent checks
	var errs []string

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.Broker.ClientID == "" {
		errs = append(errs, "mqtt.broker.client_id is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// Telegram validation
	if c.Telegram.Token == "" {
		errs = append(errs, "telegram.token is required (set BOT_TOKEN environment variable)")
	}
	if c.Telegram.RateLimit.PerChatInterval < 0 || c.Telegram.RateLimit.GlobalPerSecond < 0 {
		errs = append(errs, "telegram.rate_limit values must not be negative")
	}

	// Routing validation. Pattern grammar is checked when the route table is built.
	if len(c.Routes) == 0 {
		errs = append(errs, "at least one route is required (routes, or MQTT_TOPICS with CHAT_ID)")
	}
	for i, r := range c.Routes {
		if r.Topic == "" {
			errs = append(errs, fmt.Sprintf("routes[%d].topic is required", i))
		}
		if r.ChatID == "" {
			errs = append(errs, fmt.Sprintf("routes[%d].chat_id is required", i))
		}
	}

	// Pipeline validation
	if c.Translate.MaxLength <= len([]rune(c.Translate.TruncationMarker)) {
		errs = append(errs, "translate.max_length must exceed the truncation marker length")
	}
	if c.Queue.Capacity < 1 {
		errs = append(errs, "queue.capacity must be at least 1")
	}
	if c.Delivery.MaxAttempts < 1 {
		errs = append(errs, "delivery.max_attempts must be at least 1")
	}
	if c.Delivery.Jitter < 0 || c.Delivery.Jitter >= 1 {
		errs = append(errs, "delivery.jitter must be in [0, 1)")
	}
	if c.Reconnect.Jitter < 0 || c.Reconnect.Jitter >= 1 {
		errs = append(errs, "reconnect.jitter must be in [0, 1)")
	}
	// Delays only grow when each step outpaces the jitter of the one before.
	if c.Delivery.Multiplier < 1+c.Delivery.Jitter {
		errs = append(errs, "delivery.multiplier must be at least 1 + delivery.jitter")
	}
	if c.Reconnect.Multiplier < 1+c.Reconnect.Jitter {
		errs = append(errs, "reconnect.multiplier must be at least 1 + reconnect.jitter")
	}
	if c.Shutdown.GracePeriod < 0 {
		errs = append(errs, "shutdown.grace_period must not be negative")
	}

	// Optional sinks
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url, influxdb.org and influxdb.bucket are required when influxdb is enabled")
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, "journal.path is required when the journal is enabled")
	}
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// BrokerAddress returns host:port of the MQTT broker.
func (c *Config) BrokerAddress() string {
	return fmt.Sprintf("%s:%d", c.MQTT.Broker.Host, c.MQTT.Broker.Port)
}
