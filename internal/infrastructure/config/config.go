package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the MTConnect agent.
// All configuration is loaded from YAML; applyEnvOverrides lets a fixed set of
// MTCAGENT_* environment variables override selected values.
type Config struct {
	Agent    AgentConfig     `yaml:"agent"`
	Buffer   BufferConfig    `yaml:"buffer"`
	Assets   AssetConfig     `yaml:"assets"`
	HTTP     HTTPConfig      `yaml:"http"`
	MQTT     MQTTConfig      `yaml:"mqtt"`
	InfluxDB InfluxDBConfig  `yaml:"influxdb"`
	Adapters []AdapterConfig `yaml:"adapters"`
	Logging  LoggingConfig   `yaml:"logging"`
}

// AgentConfig contains agent-level settings.
type AgentConfig struct {
	// Devices is the path to the device descriptor XML file.
	Devices string `yaml:"devices"`

	// SchemaVersion pins the MTConnect schema version. Empty means the
	// highest supported version, or the descriptor's version if it declares one.
	SchemaVersion string `yaml:"schema_version"`

	// DisableAgentDevice suppresses the synthetic Agent device.
	DisableAgentDevice bool `yaml:"disable_agent_device"`

	// VersionDeviceXmlUpdates backs up the descriptor file with a timestamp
	// suffix before any update rewrites it.
	VersionDeviceXmlUpdates bool `yaml:"version_device_xml_updates"`

	// Pretty enables pretty-printed XML and JSON output.
	Pretty bool `yaml:"pretty"`

	// JsonVersion selects the JSON document layout (1 or 2).
	JsonVersion int `yaml:"json_version"`

	// RealTime requests realtime scheduling for the process.
	RealTime bool `yaml:"real_time"`
}

// BufferConfig contains circular buffer settings.
type BufferConfig struct {
	// Size is the exponent k; the buffer holds 2^k observations.
	Size int `yaml:"size"`

	// CheckpointFrequency is the number of admissions between checkpoints.
	CheckpointFrequency int `yaml:"checkpoint_frequency"`
}

// AssetConfig contains asset store settings.
type AssetConfig struct {
	// Max is the asset store capacity; the least-recently-updated asset is
	// evicted when it is exceeded.
	Max int `yaml:"max"`

	// Persist enables write-through persistence of assets to SQLite so they
	// survive a restart. Observations are never persisted.
	Persist bool `yaml:"persist"`

	// Path is the SQLite database path used when Persist is enabled.
	Path string `yaml:"path"`
}

// HTTPConfig contains REST sink settings.
type HTTPConfig struct {
	Host     string            `yaml:"host"`
	Port     int               `yaml:"port"`
	Timeouts HTTPTimeoutConfig `yaml:"timeouts"`

	// AllowPut enables asset ingestion and removal over PUT/POST/DELETE.
	AllowPut bool `yaml:"allow_put"`
}

// HTTPTimeoutConfig contains HTTP timeout settings in seconds. The write
// timeout is deliberately absent: streaming sample requests are open-ended.
type HTTPTimeoutConfig struct {
	Read int `yaml:"read"`
	Idle int `yaml:"idle"`
}

// MQTTConfig contains MQTT sink settings.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
	UserName string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      int    `yaml:"qos"`
}

// InfluxDBConfig contains the optional observation recorder settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// AdapterConfig describes one SHDR adapter connection.
type AdapterConfig struct {
	// Host and Port locate the adapter's SHDR socket.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Device is the default device uuid or name for observations that do not
	// carry a device prefix. Empty selects the agent's default device.
	Device string `yaml:"device"`

	// AutoAvailable marks the named device AVAILABLE on connect and
	// UNAVAILABLE on disconnect.
	AutoAvailable bool `yaml:"auto_available"`

	// Heartbeat is the PING interval in seconds. 0 disables heartbeats.
	Heartbeat int `yaml:"heartbeat"`

	// ReconnectInterval is the delay in seconds between reconnect attempts.
	ReconnectInterval int `yaml:"reconnect_interval"`

	// FilterDuplicates suppresses duplicate values for this adapter's
	// data items at buffer admission.
	FilterDuplicates bool `yaml:"filter_duplicates"`

	// Url switches the source to polling an upstream agent instead of an
	// SHDR socket. The stream is parsed as MTConnect XML documents.
	Url string `yaml:"url"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable
// overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MTCAGENT_SECTION_KEY
// For example: MTCAGENT_HTTP_PORT, MTCAGENT_MQTT_HOST
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

// Default returns a Config with the documented defaults.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Devices:     "devices.xml",
			JsonVersion: 2,
		},
		Buffer: BufferConfig{
			Size:                17,
			CheckpointFrequency: 1000,
		},
		Assets: AssetConfig{
			Max:  1024,
			Path: "./data/assets.db",
		},
		HTTP: HTTPConfig{
			Host: "0.0.0.0",
			Port: 5000,
			Timeouts: HTTPTimeoutConfig{
				Read: 30,
				Idle: 60,
			},
		},
		MQTT: MQTTConfig{
			Host:     "localhost",
			Port:     1883,
			ClientID: "mtcagent",
			QoS:      0,
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
// Environment variables follow the pattern: MTCAGENT_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MTCAGENT_AGENT_DEVICES"); v != "" {
		cfg.Agent.Devices = v
	}
	if v := os.Getenv("MTCAGENT_AGENT_SCHEMA_VERSION"); v != "" {
		cfg.Agent.SchemaVersion = v
	}
	if v := os.Getenv("MTCAGENT_HTTP_HOST"); v != "" {
		cfg.HTTP.Host = v
	}
	if v := os.Getenv("MTCAGENT_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.Port = port
		}
	}
	if v := os.Getenv("MTCAGENT_MQTT_HOST"); v != "" {
		cfg.MQTT.Host = v
	}
	if v := os.Getenv("MTCAGENT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.UserName = v
	}
	if v := os.Getenv("MTCAGENT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("MTCAGENT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Agent.Devices == "" {
		errs = append(errs, "agent.devices is required")
	}
	if c.Agent.JsonVersion != 1 && c.Agent.JsonVersion != 2 {
		errs = append(errs, "agent.json_version must be 1 or 2")
	}
	if c.Buffer.Size < 8 || c.Buffer.Size > 28 {
		errs = append(errs, "buffer.size must be between 8 and 28")
	}
	if c.Buffer.CheckpointFrequency < 1 {
		errs = append(errs, "buffer.checkpoint_frequency must be positive")
	}
	if c.Assets.Max < 1 {
		errs = append(errs, "assets.max must be positive")
	}
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		errs = append(errs, "http.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}
	for i, a := range c.Adapters {
		if a.Url == "" && (a.Host == "" || a.Port < 1 || a.Port > 65535) {
			errs = append(errs, fmt.Sprintf("adapters[%d]: host and port are required", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the HTTP read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.HTTP.Timeouts.Read) * time.Second
}

// GetIdleTimeout returns the HTTP idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.HTTP.Timeouts.Idle) * time.Second
}

// HeartbeatInterval returns the adapter PING interval as a Duration.
func (a *AdapterConfig) HeartbeatInterval() time.Duration {
	return time.Duration(a.Heartbeat) * time.Second
}

// ReconnectDelay returns the adapter reconnect delay as a Duration, with a
// one-second floor.
func (a *AdapterConfig) ReconnectDelay() time.Duration {
	if a.ReconnectInterval < 1 {
		return time.Second
	}
	return time.Duration(a.ReconnectInterval) * time.Second
}
