package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeConfig writes content to a temporary config file and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	t.Setenv("BEMFA_API_KEY", "")

	configPath := writeConfig(t, `
bemfa:
  api_key: "0123456789abcdef"
sync:
  refresh_interval: 15
  stale_policy: keep
database:
  enabled: true
  path: "/tmp/test.db"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Bemfa.APIKey != "0123456789abcdef" {
		t.Errorf("Bemfa.APIKey = %q, want %q", cfg.Bemfa.APIKey, "0123456789abcdef")
	}
	if cfg.Sync.RefreshInterval != 15 {
		t.Errorf("Sync.RefreshInterval = %d, want 15", cfg.Sync.RefreshInterval)
	}
	if cfg.Sync.StalePolicy != StalePolicyKeep {
		t.Errorf("Sync.StalePolicy = %q, want %q", cfg.Sync.StalePolicy, StalePolicyKeep)
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}

	// Untouched sections keep their defaults.
	if cfg.Bemfa.MQTT.Broker.Host != "bemfa.com" || cfg.Bemfa.MQTT.Broker.Port != 9501 {
		t.Errorf("Bemfa.MQTT.Broker = %s:%d, want bemfa.com:9501",
			cfg.Bemfa.MQTT.Broker.Host, cfg.Bemfa.MQTT.Broker.Port)
	}
	if cfg.Bemfa.MQTT.KeepAlive != 600 {
		t.Errorf("Bemfa.MQTT.KeepAlive = %d, want 600", cfg.Bemfa.MQTT.KeepAlive)
	}
}

func TestLoad_ClientIDDefaultsToAPIKey(t *testing.T) {
	t.Setenv("BEMFA_API_KEY", "")

	cfg, err := Load(writeConfig(t, "bemfa:\n  api_key: key-123\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Bemfa.MQTT.Broker.ClientID != "key-123" {
		t.Errorf("ClientID = %q, want the API key", cfg.Bemfa.MQTT.Broker.ClientID)
	}

	cfg, err = Load(writeConfig(t, `
bemfa:
  api_key: key-123
  mqtt:
    broker:
      client_id: custom
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Bemfa.MQTT.Broker.ClientID != "custom" {
		t.Errorf("ClientID = %q, want %q", cfg.Bemfa.MQTT.Broker.ClientID, "custom")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_MissingAPIKey(t *testing.T) {
	t.Setenv("BEMFA_API_KEY", "")

	_, err := Load(writeConfig(t, "sync:\n  refresh_interval: 30\n"))
	if err == nil {
		t.Fatal("Load() expected validation error for missing api key, got nil")
	}
	if !strings.Contains(err.Error(), "bemfa.api_key") {
		t.Errorf("error = %v, want mention of bemfa.api_key", err)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("BEMFA_API_KEY", "env-key")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}
	if cfg.Bemfa.APIKey != "env-key" {
		t.Errorf("APIKey = %q, want %q", cfg.Bemfa.APIKey, "env-key")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Bemfa.APIKey = "key"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid config", func(*Config) {}, false},
		{"missing api key", func(c *Config) { c.Bemfa.APIKey = "  " }, true},
		{"missing api url", func(c *Config) { c.Bemfa.APIURL = "" }, true},
		{"invalid cloud QoS", func(c *Config) { c.Bemfa.MQTT.QoS = 3 }, true},
		{"invalid cloud port", func(c *Config) { c.Bemfa.MQTT.Broker.Port = 0 }, true},
		{"zero refresh interval", func(c *Config) { c.Sync.RefreshInterval = 0 }, true},
		{"unknown stale policy", func(c *Config) { c.Sync.StalePolicy = "drop" }, true},
		{"zero max lost", func(c *Config) { c.Heartbeat.MaxLost = 0 }, true},
		{"empty heartbeat topic", func(c *Config) { c.Heartbeat.Topic = "" }, true},
		{"invalid api port", func(c *Config) { c.API.Port = 70000 }, true},
		{"api port ignored when disabled", func(c *Config) { c.API.Enabled = false; c.API.Port = 0 }, false},
		{"hass broker checked when enabled", func(c *Config) { c.Hass.Enabled = true; c.Hass.MQTT.Broker.Host = "" }, true},
		{"database path checked when enabled", func(c *Config) { c.Database.Enabled = true; c.Database.Path = "" }, true},
		{"influxdb url checked when enabled", func(c *Config) { c.InfluxDB.Enabled = true }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Durations(t *testing.T) {
	cfg := defaultConfig()

	if got := cfg.GetRefreshInterval().Seconds(); got != 30 {
		t.Errorf("GetRefreshInterval() = %v, want 30", got)
	}
	if got := cfg.GetHTTPTimeout().Seconds(); got != 10 {
		t.Errorf("GetHTTPTimeout() = %v, want 10", got)
	}
	if got := cfg.Heartbeat.GetSendInterval().Seconds(); got != 30 {
		t.Errorf("GetSendInterval() = %v, want 30", got)
	}
	if got := cfg.Heartbeat.GetReceiveInterval().Seconds(); got != 20 {
		t.Errorf("GetReceiveInterval() = %v, want 20", got)
	}
	if got := cfg.GetRetention().Hours(); got != 168 {
		t.Errorf("GetRetention() = %v, want 168", got)
	}
	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("BEMFA_API_KEY", "env-key")
	t.Setenv("BEMFA_API_URL", "http://localhost:9999/alltopic")
	t.Setenv("BEMFA_MQTT_HOST", "mqtt.example.com")
	t.Setenv("BEMFA_HASS_MQTT_HOST", "ha.local")
	t.Setenv("BEMFA_HASS_MQTT_USERNAME", "testuser")
	t.Setenv("BEMFA_HASS_MQTT_PASSWORD", "testpass")
	t.Setenv("BEMFA_DATABASE_PATH", "/custom/path.db")
	t.Setenv("BEMFA_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("BEMFA_LOG_LEVEL", "debug")

	applyEnvOverrides(cfg)

	checks := []struct {
		field string
		got   string
		want  string
	}{
		{"Bemfa.APIKey", cfg.Bemfa.APIKey, "env-key"},
		{"Bemfa.APIURL", cfg.Bemfa.APIURL, "http://localhost:9999/alltopic"},
		{"Bemfa.MQTT.Broker.Host", cfg.Bemfa.MQTT.Broker.Host, "mqtt.example.com"},
		{"Hass.MQTT.Broker.Host", cfg.Hass.MQTT.Broker.Host, "ha.local"},
		{"Hass.MQTT.Auth.Username", cfg.Hass.MQTT.Auth.Username, "testuser"},
		{"Hass.MQTT.Auth.Password", cfg.Hass.MQTT.Auth.Password, "testpass"},
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Logging.Level", cfg.Logging.Level, "debug"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.field, c.got, c.want)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Heartbeat.Topic != "hassping" {
		t.Errorf("Heartbeat.Topic = %q, want hassping", cfg.Heartbeat.Topic)
	}
	if cfg.Heartbeat.MaxLost != 3 {
		t.Errorf("Heartbeat.MaxLost = %d, want 3", cfg.Heartbeat.MaxLost)
	}
	if cfg.Sync.StalePolicy != StalePolicyOffline {
		t.Errorf("Sync.StalePolicy = %q, want %q", cfg.Sync.StalePolicy, StalePolicyOffline)
	}
	if cfg.Hass.Enabled {
		t.Error("Hass should be disabled by default")
	}
	if cfg.Bemfa.MQTT.StatusTopic != "" {
		t.Error("cloud broker must not carry a status topic")
	}
}
