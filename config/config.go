package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for vsslctrl.
type Config struct {
	Connection ConnectionConfig `yaml:"connection"`
	Sync       SyncConfig       `yaml:"sync"`
	Bus        BusConfig        `yaml:"bus"`
	Logging    LoggingConfig    `yaml:"logging"`
	Mirror     MirrorConfig     `yaml:"mirror"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ConnectionConfig contains per-zone TCP connection settings.
type ConnectionConfig struct {
	// Port is the device control port. All zones of a device listen on the
	// same fixed port.
	Port int `yaml:"port"`

	// ConnectTimeout bounds a single dial attempt.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// KeepAliveInterval is how often a keepalive probe is sent. A zone that
	// produces no inbound bytes for a full interval is considered degraded.
	KeepAliveInterval time.Duration `yaml:"keepalive_interval"`

	// WriteDelay is the pause between consecutive outbound frames. The
	// amplifier drops commands when they arrive back to back.
	WriteDelay time.Duration `yaml:"write_delay"`

	// ReconnectInterval is the initial delay between reconnection attempts.
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`

	// MaxReconnectInterval caps the exponential reconnect backoff.
	MaxReconnectInterval time.Duration `yaml:"max_reconnect_interval"`

	// UnresponsiveAfter is the number of consecutive failed reconnect
	// attempts after which the zone is reported unresponsive. Reconnection
	// continues regardless; the condition is surfaced, not fatal.
	UnresponsiveAfter int `yaml:"unresponsive_after"`

	// InitialAttempts sizes the window Initialise waits for a zone's first
	// connection. A zone that misses the window is reported failed but its
	// client keeps dialing in the background.
	InitialAttempts int `yaml:"initial_attempts"`
}

// SyncConfig contains state-synchronisation settings.
type SyncConfig struct {
	// ConfirmWindow is how long a pending write waits for device feedback
	// before failing with a confirmation timeout.
	ConfirmWindow time.Duration `yaml:"confirm_window"`
}

// BusConfig contains event bus settings.
type BusConfig struct {
	// SubscriberBuffer is the default per-subscriber channel depth. Events
	// beyond a full buffer are dropped and counted, never queued unbounded.
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MirrorConfig contains MQTT property-mirror settings.
type MirrorConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Broker    string        `yaml:"broker"` // e.g. "tcp://localhost:1883"
	ClientID  string        `yaml:"client_id"`
	Username  string        `yaml:"username"`
	Password  string        `yaml:"password"`
	TopicBase string        `yaml:"topic_base"`
	QoS       int           `yaml:"qos"`
	Timeout   time.Duration `yaml:"timeout"`
}

// TelemetryConfig contains InfluxDB telemetry settings.
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
}

// Load reads configuration from a YAML file and applies environment variable
// overrides.
//
// Loading order:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with working defaults for every value.
func Default() *Config {
	return &Config{
		Connection: ConnectionConfig{
			Port:                 50002,
			ConnectTimeout:       5 * time.Second,
			KeepAliveInterval:    10 * time.Second,
			WriteDelay:           200 * time.Millisecond,
			ReconnectInterval:    5 * time.Second,
			MaxReconnectInterval: 2 * time.Minute,
			UnresponsiveAfter:    5,
			InitialAttempts:      3,
		},
		Sync: SyncConfig{
			ConfirmWindow: 5 * time.Second,
		},
		Bus: BusConfig{
			SubscriberBuffer: 64,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Mirror: MirrorConfig{
			Broker:    "tcp://localhost:1883",
			ClientID:  "vsslctrl",
			TopicBase: "vsslctrl",
			QoS:       1,
			Timeout:   5 * time.Second,
		},
		Telemetry: TelemetryConfig{
			URL:    "http://localhost:8086",
			Bucket: "vsslctrl",
		},
	}
}

// applyEnvOverrides applies environment variable overrides.
// Pattern: VSSLCTRL_SECTION_KEY.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VSSLCTRL_MIRROR_BROKER"); v != "" {
		cfg.Mirror.Broker = v
	}
	if v := os.Getenv("VSSLCTRL_MIRROR_USERNAME"); v != "" {
		cfg.Mirror.Username = v
	}
	if v := os.Getenv("VSSLCTRL_MIRROR_PASSWORD"); v != "" {
		cfg.Mirror.Password = v
	}
	if v := os.Getenv("VSSLCTRL_TELEMETRY_TOKEN"); v != "" {
		cfg.Telemetry.Token = v
	}
	if v := os.Getenv("VSSLCTRL_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Connection.Port <= 0 || c.Connection.Port > 65535 {
		errs = append(errs, "connection.port must be 1-65535")
	}
	if c.Connection.ConnectTimeout <= 0 {
		errs = append(errs, "connection.connect_timeout must be positive")
	}
	if c.Connection.KeepAliveInterval <= 0 {
		errs = append(errs, "connection.keepalive_interval must be positive")
	}
	if c.Connection.ReconnectInterval <= 0 {
		errs = append(errs, "connection.reconnect_interval must be positive")
	}
	if c.Connection.MaxReconnectInterval < c.Connection.ReconnectInterval {
		errs = append(errs, "connection.max_reconnect_interval must be >= connection.reconnect_interval")
	}
	if c.Sync.ConfirmWindow <= 0 {
		errs = append(errs, "sync.confirm_window must be positive")
	}
	if c.Bus.SubscriberBuffer <= 0 {
		errs = append(errs, "bus.subscriber_buffer must be positive")
	}
	if c.Mirror.Enabled && c.Mirror.Broker == "" {
		errs = append(errs, "mirror.broker is required when mirror is enabled")
	}
	if c.Mirror.QoS < 0 || c.Mirror.QoS > 2 {
		errs = append(errs, "mirror.qos must be 0, 1 or 2")
	}
	if c.Telemetry.Enabled {
		if c.Telemetry.URL == "" {
			errs = append(errs, "telemetry.url is required when telemetry is enabled")
		}
		if c.Telemetry.Bucket == "" {
			errs = append(errs, "telemetry.bucket is required when telemetry is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
