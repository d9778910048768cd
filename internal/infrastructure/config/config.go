package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the HTD bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Names    NamesConfig    `yaml:"names"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DeviceConfig describes the controller and how to reach it.
type DeviceConfig struct {
	// Connection is the controller connection URL:
	//   serial:///dev/ttyUSB0 (optional ?baud=38400)
	//   tcp://192.168.1.50:10006
	Connection string `yaml:"connection"`

	// Model is the controller family: mc66, mca66, lync6 or lync12.
	Model string `yaml:"model"`

	// ZoneCount limits the active zones when fewer are wired than the
	// model supports. 0 uses the model default.
	ZoneCount int `yaml:"zone_count"`

	// PollInterval is the reconciliation poll period in seconds.
	// 0 disables polling.
	PollInterval int `yaml:"poll_interval"`

	// CommandTimeout is the per-attempt acknowledgment timeout in
	// milliseconds.
	CommandTimeout int `yaml:"command_timeout"`

	// MaxRetries is the retry count after the first send attempt.
	MaxRetries int `yaml:"max_retries"`

	// RetryBackoff is the pause between attempts in milliseconds.
	RetryBackoff int `yaml:"retry_backoff"`

	// ConnectTimeout bounds the initial dial, in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig contains link reconnection settings.
type ReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"` // seconds
	MaxDelay     int `yaml:"max_delay"`     // seconds
}

// NamesConfig contains the zone and source name mappings. Each value is
// either a JSON object ({"1":"Kitchen"}) or comma-separated key=value
// pairs (1=Kitchen,2=Patio).
type NamesConfig struct {
	Zones   string `yaml:"zones"`
	Sources string `yaml:"sources"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
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
	MaxAttempts  int `yaml:"max_attempts"`
}

// DatabaseConfig contains SQLite state-history settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
	RetainDays  int    `yaml:"retain_days"`
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
// Environment variables follow the pattern: HTDBRIDGE_SECTION_KEY
// For example: HTDBRIDGE_DEVICE_CONNECTION, HTDBRIDGE_MQTT_HOST
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

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Model:          "mca66",
			PollInterval:   30,
			CommandTimeout: 1000,
			MaxRetries:     2,
			RetryBackoff:   250,
			ConnectTimeout: 10,
			Reconnect: ReconnectConfig{
				InitialDelay: 2,
				MaxDelay:     120,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "htd-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/htd-bridge.db",
			WALMode:     true,
			BusyTimeout: 5,
			RetainDays:  90,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: HTDBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Device
	if v := os.Getenv("HTDBRIDGE_DEVICE_CONNECTION"); v != "" {
		cfg.Device.Connection = v
	}
	if v := os.Getenv("HTDBRIDGE_DEVICE_MODEL"); v != "" {
		cfg.Device.Model = v
	}
	if v := os.Getenv("HTDBRIDGE_DEVICE_ZONE_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Device.ZoneCount = n
		}
	}

	// Names
	if v := os.Getenv("HTDBRIDGE_NAMES_ZONES"); v != "" {
		cfg.Names.Zones = v
	}
	if v := os.Getenv("HTDBRIDGE_NAMES_SOURCES"); v != "" {
		cfg.Names.Sources = v
	}

	// MQTT
	if v := os.Getenv("HTDBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("HTDBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HTDBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Database
	if v := os.Getenv("HTDBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("HTDBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// knownModels are the controller families the engine supports.
var knownModels = map[string]bool{
	"mc66":   true,
	"mca66":  true,
	"lync6":  true,
	"lync12": true,
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Device.Connection == "" {
		errs = append(errs, "device.connection is required (set HTDBRIDGE_DEVICE_CONNECTION)")
	} else if !strings.HasPrefix(c.Device.Connection, "serial://") &&
		!strings.HasPrefix(c.Device.Connection, "tcp://") {
		errs = append(errs, "device.connection must use the serial:// or tcp:// scheme")
	}

	if !knownModels[strings.ToLower(c.Device.Model)] {
		errs = append(errs, fmt.Sprintf("device.model %q is not supported (mc66, mca66, lync6, lync12)", c.Device.Model))
	}

	if c.Device.ZoneCount < 0 {
		errs = append(errs, "device.zone_count must not be negative")
	}
	if c.Device.PollInterval < 0 {
		errs = append(errs, "device.poll_interval must not be negative")
	}

	if c.MQTT.Enabled {
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
		}
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Token == "" {
			errs = append(errs, "influxdb.token is required when influxdb is enabled (set HTDBRIDGE_INFLUXDB_TOKEN)")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetPollInterval returns the reconciliation poll period as a Duration.
func (d DeviceConfig) GetPollInterval() time.Duration {
	return time.Duration(d.PollInterval) * time.Second
}

// GetCommandTimeout returns the per-attempt command timeout as a Duration.
func (d DeviceConfig) GetCommandTimeout() time.Duration {
	return time.Duration(d.CommandTimeout) * time.Millisecond
}

// GetRetryBackoff returns the pause between command attempts as a Duration.
func (d DeviceConfig) GetRetryBackoff() time.Duration {
	return time.Duration(d.RetryBackoff) * time.Millisecond
}

// GetConnectTimeout returns the initial dial timeout as a Duration.
func (d DeviceConfig) GetConnectTimeout() time.Duration {
	return time.Duration(d.ConnectTimeout) * time.Second
}

// GetReconnectInitialDelay returns the initial reconnection delay as a Duration.
func (d DeviceConfig) GetReconnectInitialDelay() time.Duration {
	return time.Duration(d.Reconnect.InitialDelay) * time.Second
}

// GetReconnectMaxDelay returns the reconnection backoff cap as a Duration.
func (d DeviceConfig) GetReconnectMaxDelay() time.Duration {
	return time.Duration(d.Reconnect.MaxDelay) * time.Second
}
