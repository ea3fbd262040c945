package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Stale policies for topics that disappear from a later device-list poll.
const (
	// StalePolicyKeep leaves vanished topics exactly as they were.
	StalePolicyKeep = "keep"

	// StalePolicyOffline marks vanished topics offline but keeps them in the table.
	StalePolicyOffline = "offline"
)

// Config is the root configuration structure for the Bemfa bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bemfa     BemfaConfig     `yaml:"bemfa"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Sync      SyncConfig      `yaml:"sync"`
	Hass      HassConfig      `yaml:"hass"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// BemfaConfig contains the cloud account and endpoints.
type BemfaConfig struct {
	// APIKey is the account private key. It doubles as the MQTT client ID.
	APIKey string `yaml:"api_key"`

	// APIURL is the device-list endpoint.
	APIURL string `yaml:"api_url"`

	// Timeout is the HTTP request timeout in seconds.
	Timeout int `yaml:"timeout"`

	MQTT MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig contains MQTT broker connection settings.
// Used for both the Bemfa cloud broker and the local Home Assistant broker.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	KeepAlive int                 `yaml:"keepalive"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// StatusTopic receives a retained online/offline status and is used as the
	// Last Will topic. Empty disables both.
	StatusTopic string `yaml:"status_topic"`
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// HeartbeatConfig controls the ping exchange on the cloud broker.
type HeartbeatConfig struct {
	Topic   string `yaml:"topic"`
	Payload string `yaml:"payload"`

	// SendInterval is how often a ping is published (seconds).
	SendInterval int `yaml:"send_interval"`

	// ReceiveInterval is the length of one receive window (seconds).
	// Each window without a received ping counts as one miss.
	ReceiveInterval int `yaml:"receive_interval"`

	// MaxLost is the number of missed windows tolerated before the link is
	// considered lost.
	MaxLost int `yaml:"max_lost"`

	// MarkOffline marks every device offline when the link is lost.
	MarkOffline bool `yaml:"mark_offline"`
}

// SyncConfig controls the refresh cycle.
type SyncConfig struct {
	// RefreshInterval is the device-list poll interval (seconds).
	RefreshInterval int `yaml:"refresh_interval"`

	// StalePolicy is "keep" or "offline".
	StalePolicy string `yaml:"stale_policy"`

	// QueueSize is the capacity of the coordinator event queue.
	QueueSize int `yaml:"queue_size"`
}

// HassConfig contains Home Assistant MQTT discovery settings.
type HassConfig struct {
	Enabled         bool       `yaml:"enabled"`
	DiscoveryPrefix string     `yaml:"discovery_prefix"`
	BaseTopic       string     `yaml:"base_topic"`
	MQTT            MQTTConfig `yaml:"mqtt"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
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
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// DatabaseConfig contains SQLite state history settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// Retention is how long history rows are kept (hours). 0 keeps everything.
	Retention int `yaml:"retention"`
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
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: BEMFA_SECTION_KEY
// For example: BEMFA_API_KEY, BEMFA_DATABASE_PATH
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	applyDerived(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// FromEnv builds a configuration from defaults and environment variables only.
// Used by CLI subcommands that can run without a config file.
func FromEnv() (*Config, error) {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	applyDerived(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bemfa: BemfaConfig{
			APIURL:  "https://apis.bemfa.com/va/alltopic",
			Timeout: 10,
			MQTT: MQTTConfig{
				Broker: MQTTBrokerConfig{
					Host: "bemfa.com",
					Port: 9501,
				},
				QoS:       0,
				KeepAlive: 600,
				Reconnect: MQTTReconnectConfig{
					InitialDelay: 1,
					MaxDelay:     60,
				},
			},
		},
		Heartbeat: HeartbeatConfig{
			Topic:           "hassping",
			Payload:         "ping",
			SendInterval:    30,
			ReceiveInterval: 20,
			MaxLost:         3,
			MarkOffline:     true,
		},
		Sync: SyncConfig{
			RefreshInterval: 30,
			StalePolicy:     StalePolicyOffline,
			QueueSize:       256,
		},
		Hass: HassConfig{
			DiscoveryPrefix: "homeassistant",
			BaseTopic:       "bemfa",
			MQTT: MQTTConfig{
				Broker: MQTTBrokerConfig{
					Host:     "localhost",
					Port:     1883,
					ClientID: "bemfa-bridge",
				},
				QoS:       1,
				KeepAlive: 60,
				Reconnect: MQTTReconnectConfig{
					InitialDelay: 1,
					MaxDelay:     60,
				},
				StatusTopic: "bemfa/bridge/status",
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Database: DatabaseConfig{
			Path:        "./data/bemfa.db",
			WALMode:     true,
			BusyTimeout: 5,
			Retention:   24 * 7,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: BEMFA_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Cloud account
	if v := os.Getenv("BEMFA_API_KEY"); v != "" {
		cfg.Bemfa.APIKey = v
	}
	if v := os.Getenv("BEMFA_API_URL"); v != "" {
		cfg.Bemfa.APIURL = v
	}
	if v := os.Getenv("BEMFA_MQTT_HOST"); v != "" {
		cfg.Bemfa.MQTT.Broker.Host = v
	}

	// Local Home Assistant broker
	if v := os.Getenv("BEMFA_HASS_MQTT_HOST"); v != "" {
		cfg.Hass.MQTT.Broker.Host = v
	}
	if v := os.Getenv("BEMFA_HASS_MQTT_USERNAME"); v != "" {
		cfg.Hass.MQTT.Auth.Username = v
	}
	if v := os.Getenv("BEMFA_HASS_MQTT_PASSWORD"); v != "" {
		cfg.Hass.MQTT.Auth.Password = v
	}

	// Storage
	if v := os.Getenv("BEMFA_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("BEMFA_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("BEMFA_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// applyDerived fills settings that default from other settings.
func applyDerived(cfg *Config) {
	// The cloud broker identifies the account by client ID.
	if cfg.Bemfa.MQTT.Broker.ClientID == "" {
		cfg.Bemfa.MQTT.Broker.ClientID = cfg.Bemfa.APIKey
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.Bemfa.APIKey) == "" {
		errs = append(errs, "bemfa.api_key is required (set BEMFA_API_KEY environment variable)")
	}
	if c.Bemfa.APIURL == "" {
		errs = append(errs, "bemfa.api_url is required")
	}
	if c.Bemfa.Timeout <= 0 {
		errs = append(errs, "bemfa.timeout must be positive")
	}
	errs = append(errs, validateMQTT("bemfa.mqtt", c.Bemfa.MQTT)...)

	if c.Heartbeat.Topic == "" {
		errs = append(errs, "heartbeat.topic is required")
	}
	if c.Heartbeat.SendInterval <= 0 || c.Heartbeat.ReceiveInterval <= 0 {
		errs = append(errs, "heartbeat intervals must be positive")
	}
	if c.Heartbeat.MaxLost < 1 {
		errs = append(errs, "heartbeat.max_lost must be at least 1")
	}

	if c.Sync.RefreshInterval <= 0 {
		errs = append(errs, "sync.refresh_interval must be positive")
	}
	switch c.Sync.StalePolicy {
	case StalePolicyKeep, StalePolicyOffline:
	default:
		errs = append(errs, fmt.Sprintf("sync.stale_policy must be %q or %q", StalePolicyKeep, StalePolicyOffline))
	}

	if c.Hass.Enabled {
		if c.Hass.DiscoveryPrefix == "" || c.Hass.BaseTopic == "" {
			errs = append(errs, "hass.discovery_prefix and hass.base_topic are required")
		}
		errs = append(errs, validateMQTT("hass.mqtt", c.Hass.MQTT)...)
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validateMQTT checks one MQTT section.
func validateMQTT(prefix string, m MQTTConfig) []string {
	var errs []string
	if m.Broker.Host == "" {
		errs = append(errs, prefix+".broker.host is required")
	}
	if m.Broker.Port < 1 || m.Broker.Port > 65535 {
		errs = append(errs, prefix+".broker.port must be between 1 and 65535")
	}
	if m.QoS < 0 || m.QoS > 2 {
		errs = append(errs, prefix+".qos must be 0, 1, or 2")
	}
	return errs
}

// GetRefreshInterval returns the device-list poll interval as a Duration.
func (c *Config) GetRefreshInterval() time.Duration {
	return time.Duration(c.Sync.RefreshInterval) * time.Second
}

// GetHTTPTimeout returns the cloud HTTP timeout as a Duration.
func (c *Config) GetHTTPTimeout() time.Duration {
	return time.Duration(c.Bemfa.Timeout) * time.Second
}

// GetRetention returns the state history retention as a Duration.
func (c *Config) GetRetention() time.Duration {
	return time.Duration(c.Database.Retention) * time.Hour
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

// GetSendInterval returns the heartbeat publish interval as a Duration.
func (h HeartbeatConfig) GetSendInterval() time.Duration {
	return time.Duration(h.SendInterval) * time.Second
}

// GetReceiveInterval returns the heartbeat receive window as a Duration.
func (h HeartbeatConfig) GetReceiveInterval() time.Duration {
	return time.Duration(h.ReceiveInterval) * time.Second
}
