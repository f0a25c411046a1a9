package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/gray-logic-iotagent/internal/entity"
	"github.com/nerrad567/gray-logic-iotagent/internal/fault"
)

// Config is the root configuration structure of the IoT agent.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Broker BrokerConfig `yaml:"broker"`
	Server ServerConfig `yaml:"server"`

	// ProviderURL is the address the Broker uses to reach this agent's
	// context-provider server.
	ProviderURL string `yaml:"provider_url"`

	DeviceRegistrationDuration string        `yaml:"device_registration_duration"`
	SubscriptionTTL            time.Duration `yaml:"subscription_ttl"`

	DefaultType string `yaml:"default_type"`
	Service     string `yaml:"service"`
	Subservice  string `yaml:"subservice"`
	Timestamp   bool   `yaml:"timestamp"`

	// Types holds the static type configurations keyed by entity type.
	Types map[string]entity.TypeConfiguration `yaml:"types"`

	Authentication AuthenticationConfig `yaml:"authentication"`
	DeviceRegistry DeviceRegistryConfig `yaml:"device_registry"`
	Database       DatabaseConfig       `yaml:"database"`
	MQTT           MQTTConfig           `yaml:"mqtt"`
	CommandBus     CommandBusConfig     `yaml:"command_bus"`
	InfluxDB       InfluxDBConfig       `yaml:"influxdb"`
	Logging        LoggingConfig        `yaml:"logging"`
}

// BrokerConfig locates the context Broker.
type BrokerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	NGSIVersion string `yaml:"ngsi_version"`
	Timeout     int    `yaml:"timeout"` // seconds
}

// ServerConfig contains the context-provider HTTP server settings.
type ServerConfig struct {
	Host             string              `yaml:"host"`
	Port             int                 `yaml:"port"`
	NotificationPath string              `yaml:"notification_path"`
	MaxBodyBytes     int64               `yaml:"max_body_bytes"`
	Timeouts         ServerTimeoutConfig `yaml:"timeouts"`
}

// ServerTimeoutConfig contains HTTP timeout settings in seconds.
type ServerTimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// AuthenticationConfig enables the security gate and locates the token service.
type AuthenticationConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Domain   string `yaml:"domain"`
	TokenTTL int    `yaml:"token_ttl"` // seconds
}

// DeviceRegistryConfig selects the registry backend.
type DeviceRegistryConfig struct {
	// Type is "memory" or "sqlite".
	Type string `yaml:"type"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
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

// CommandBusConfig enables delivery of commands over MQTT.
type CommandBusConfig struct {
	Enabled bool `yaml:"enabled"`
}

// InfluxDBConfig contains InfluxDB connection settings for update history.
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
// Environment variables follow the pattern: IOTA_SECTION_KEY
// For example: IOTA_CB_HOST, IOTA_PROVIDER_URL
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
		Broker: BrokerConfig{
			Host:        "localhost",
			Port:        1026,
			NGSIVersion: "v2",
			Timeout:     10,
		},
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             4041,
			NotificationPath: "/notify",
			MaxBodyBytes:     1 << 20,
			Timeouts: ServerTimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		DeviceRegistrationDuration: "P1M",
		SubscriptionTTL:            720 * time.Hour,
		Subservice:                 "/",
		Authentication: AuthenticationConfig{
			Port:     5000,
			Domain:   "admin_domain",
			TokenTTL: 3600,
		},
		DeviceRegistry: DeviceRegistryConfig{
			Type: "memory",
		},
		Database: DatabaseConfig{
			Path:        "./data/iotagent.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "iotagent",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
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
// Environment variables follow the pattern: IOTA_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Broker
	if v := os.Getenv("IOTA_CB_HOST"); v != "" {
		cfg.Broker.Host = v
	}
	if v, ok := envInt("IOTA_CB_PORT"); ok {
		cfg.Broker.Port = v
	}
	if v := os.Getenv("IOTA_CB_NGSI_VERSION"); v != "" {
		cfg.Broker.NGSIVersion = v
	}

	// Northbound
	if v := os.Getenv("IOTA_PROVIDER_URL"); v != "" {
		cfg.ProviderURL = v
	}
	if v, ok := envInt("IOTA_NORTH_PORT"); ok {
		cfg.Server.Port = v
	}
	if v := os.Getenv("IOTA_REGISTRY_TYPE"); v != "" {
		cfg.DeviceRegistry.Type = v
	}
	if v := os.Getenv("IOTA_DEFAULT_RESOURCE_TYPE"); v != "" {
		cfg.DefaultType = v
	}
	if v := os.Getenv("IOTA_SERVICE"); v != "" {
		cfg.Service = v
	}
	if v := os.Getenv("IOTA_SUBSERVICE"); v != "" {
		cfg.Subservice = v
	}
	if v, ok := envBool("IOTA_TIMESTAMP"); ok {
		cfg.Timestamp = v
	}

	// Authentication
	if v, ok := envBool("IOTA_AUTH_ENABLED"); ok {
		cfg.Authentication.Enabled = v
	}
	if v := os.Getenv("IOTA_AUTH_HOST"); v != "" {
		cfg.Authentication.Host = v
	}
	if v := os.Getenv("IOTA_AUTH_USER"); v != "" {
		cfg.Authentication.User = v
	}
	if v := os.Getenv("IOTA_AUTH_PASSWORD"); v != "" {
		cfg.Authentication.Password = v
	}

	// Database
	if v := os.Getenv("IOTA_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("IOTA_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("IOTA_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("IOTA_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("IOTA_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("IOTA_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func envInt(key string) (int, bool) {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return 0, false
	}
	return v, true
}

func envBool(key string) (bool, bool) {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return false, false
	}
	return v, true
}

// Validate checks the configuration for errors.
//
// Missing mandatory parameters are reported as a fault.MissingConfigParams
// error before any other check runs.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var missing []string
	if c.ProviderURL == "" {
		missing = append(missing, "provider_url")
	}
	if len(c.Types) == 0 {
		missing = append(missing, "types")
	}
	if c.Broker.Host == "" {
		missing = append(missing, "broker.host")
	}
	if len(missing) > 0 {
		return fault.MissingConfigParams(missing)
	}

	var errs []string

	if _, err := c.NGSIVersion(); err != nil {
		errs = append(errs, "broker.ngsi_version must be v1 or v2")
	}
	if c.Broker.Port < 1 || c.Broker.Port > 65535 {
		errs = append(errs, "broker.port must be between 1 and 65535")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if !strings.HasPrefix(c.Server.NotificationPath, "/") {
		errs = append(errs, "server.notification_path must start with /")
	}

	switch c.DeviceRegistry.Type {
	case "memory":
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite registry")
		}
	default:
		errs = append(errs, "device_registry.type must be memory or sqlite")
	}

	if c.Authentication.Enabled && (c.Authentication.Host == "" || c.Authentication.User == "") {
		errs = append(errs, "authentication.host and authentication.user are required when authentication is enabled")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// NGSIVersion returns the wire protocol selected by broker.ngsi_version.
func (c *Config) NGSIVersion() (entity.Shape, error) {
	return entity.ParseShape(c.Broker.NGSIVersion)
}

// BrokerURL returns the base URL of the Broker.
func (c *Config) BrokerURL() string {
	host := c.Broker.Host
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	return fmt.Sprintf("%s:%d", host, c.Broker.Port)
}

// AuthURL returns the base URL of the token service.
func (c *Config) AuthURL() string {
	host := c.Authentication.Host
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	return fmt.Sprintf("%s:%d", host, c.Authentication.Port)
}

// GetBrokerTimeout returns the Broker request timeout as a Duration.
func (c *Config) GetBrokerTimeout() time.Duration {
	return time.Duration(c.Broker.Timeout) * time.Second
}

// GetTokenTTL returns the fallback lifetime of cached tokens.
func (c *Config) GetTokenTTL() time.Duration {
	return time.Duration(c.Authentication.TokenTTL) * time.Second
}

// GetReadTimeout returns the server read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.Server.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the server write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.Server.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the server idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.Server.Timeouts.Idle) * time.Second
}
