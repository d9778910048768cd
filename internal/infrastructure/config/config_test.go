package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
device:
  connection: "tcp://192.168.1.50:10006"
  model: "lync6"
  zone_count: 4
  poll_interval: 15
names:
  zones: '{"1":"Kitchen","2":"Patio"}'
  sources: "1=Spotify,2=TV"
mqtt:
  enabled: true
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.Connection != "tcp://192.168.1.50:10006" {
		t.Errorf("Device.Connection = %q", cfg.Device.Connection)
	}

	if cfg.Device.Model != "lync6" {
		t.Errorf("Device.Model = %q, want %q", cfg.Device.Model, "lync6")
	}

	if cfg.Device.ZoneCount != 4 {
		t.Errorf("Device.ZoneCount = %d, want 4", cfg.Device.ZoneCount)
	}

	if cfg.Names.Zones != `{"1":"Kitchen","2":"Patio"}` {
		t.Errorf("Names.Zones = %q", cfg.Names.Zones)
	}

	if cfg.MQTT.Broker.Host != "localhost" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "localhost")
	}

	// Unset values keep their defaults.
	if cfg.Device.CommandTimeout != 1000 {
		t.Errorf("Device.CommandTimeout = %d, want default 1000", cfg.Device.CommandTimeout)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
device:
  connection: ""
  model: "mca66"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for empty device.connection, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Device.Connection = "serial:///dev/ttyUSB0"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "missing connection",
			mutate:  func(c *Config) { c.Device.Connection = "" },
			wantErr: true,
		},
		{
			name:    "bad connection scheme",
			mutate:  func(c *Config) { c.Device.Connection = "udp://192.168.1.50:10006" },
			wantErr: true,
		},
		{
			name:    "unknown model",
			mutate:  func(c *Config) { c.Device.Model = "mc99" },
			wantErr: true,
		},
		{
			name:    "negative zone count",
			mutate:  func(c *Config) { c.Device.ZoneCount = -1 },
			wantErr: true,
		},
		{
			name:    "negative poll interval",
			mutate:  func(c *Config) { c.Device.PollInterval = -5 },
			wantErr: true,
		},
		{
			name: "invalid QoS with mqtt enabled",
			mutate: func(c *Config) {
				c.MQTT.Enabled = true
				c.MQTT.QoS = 3
			},
			wantErr: true,
		},
		{
			name: "invalid QoS with mqtt disabled is ignored",
			mutate: func(c *Config) {
				c.MQTT.Enabled = false
				c.MQTT.QoS = 3
			},
			wantErr: false,
		},
		{
			name: "database enabled without path",
			mutate: func(c *Config) {
				c.Database.Enabled = true
				c.Database.Path = ""
			},
			wantErr: true,
		},
		{
			name: "influxdb enabled without token",
			mutate: func(c *Config) {
				c.InfluxDB.Enabled = true
				c.InfluxDB.URL = "http://localhost:8086"
				c.InfluxDB.Token = ""
			},
			wantErr: true,
		},
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

func TestDeviceConfig_GetDurations(t *testing.T) {
	// Called through the Device field, the way the entry point wires the
	// engine config.
	cfg := &Config{
		Device: DeviceConfig{
			PollInterval:   15,
			CommandTimeout: 750,
			RetryBackoff:   100,
			ConnectTimeout: 5,
			Reconnect: ReconnectConfig{
				InitialDelay: 2,
				MaxDelay:     60,
			},
		},
	}

	if got := cfg.Device.GetPollInterval().Seconds(); got != 15 {
		t.Errorf("GetPollInterval() = %v, want 15s", got)
	}

	if got := cfg.Device.GetCommandTimeout().Milliseconds(); got != 750 {
		t.Errorf("GetCommandTimeout() = %v, want 750ms", got)
	}

	if got := cfg.Device.GetRetryBackoff().Milliseconds(); got != 100 {
		t.Errorf("GetRetryBackoff() = %v, want 100ms", got)
	}

	if got := cfg.Device.GetConnectTimeout().Seconds(); got != 5 {
		t.Errorf("GetConnectTimeout() = %v, want 5s", got)
	}

	if got := cfg.Device.GetReconnectInitialDelay().Seconds(); got != 2 {
		t.Errorf("GetReconnectInitialDelay() = %v, want 2s", got)
	}

	if got := cfg.Device.GetReconnectMaxDelay().Seconds(); got != 60 {
		t.Errorf("GetReconnectMaxDelay() = %v, want 60s", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("HTDBRIDGE_DEVICE_CONNECTION", "serial:///dev/ttyUSB1")
	t.Setenv("HTDBRIDGE_DEVICE_MODEL", "lync12")
	t.Setenv("HTDBRIDGE_DEVICE_ZONE_COUNT", "8")
	t.Setenv("HTDBRIDGE_NAMES_ZONES", "1=Kitchen")
	t.Setenv("HTDBRIDGE_MQTT_HOST", "mqtt.example.com")
	t.Setenv("HTDBRIDGE_MQTT_USERNAME", "testuser")
	t.Setenv("HTDBRIDGE_MQTT_PASSWORD", "testpass")
	t.Setenv("HTDBRIDGE_DATABASE_PATH", "/custom/path.db")
	t.Setenv("HTDBRIDGE_INFLUXDB_TOKEN", "secret-token")

	applyEnvOverrides(cfg)

	if cfg.Device.Connection != "serial:///dev/ttyUSB1" {
		t.Errorf("Device.Connection = %q", cfg.Device.Connection)
	}

	if cfg.Device.Model != "lync12" {
		t.Errorf("Device.Model = %q, want %q", cfg.Device.Model, "lync12")
	}

	if cfg.Device.ZoneCount != 8 {
		t.Errorf("Device.ZoneCount = %d, want 8", cfg.Device.ZoneCount)
	}

	if cfg.Names.Zones != "1=Kitchen" {
		t.Errorf("Names.Zones = %q, want %q", cfg.Names.Zones, "1=Kitchen")
	}

	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q", cfg.MQTT.Broker.Host)
	}

	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}

	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}

	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Device.Model != "mca66" {
		t.Errorf("defaultConfig Device.Model = %q, want %q", cfg.Device.Model, "mca66")
	}

	if cfg.Device.CommandTimeout != 1000 {
		t.Errorf("defaultConfig Device.CommandTimeout = %d, want 1000", cfg.Device.CommandTimeout)
	}

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}

	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}
}
