package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the SAS Trend Tool.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
	Database   DatabaseConfig   `yaml:"database"`
	Controller ControllerConfig `yaml:"controller"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Trend      TrendConfig      `yaml:"trend"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Emulator   EmulatorConfig   `yaml:"emulator"`
}

// ServerConfig contains HTTP API server settings.
type ServerConfig struct {
	Host     string              `yaml:"host"`
	Port     int                 `yaml:"port"`
	TLS      TLSConfig           `yaml:"tls"`
	Timeouts ServerTimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig          `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ServerTimeoutConfig contains HTTP timeout settings in seconds.
type ServerTimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// AuthConfig contains authentication settings. Users are declared statically
// here rather than in the database: a trend tool ships to site engineers as a
// single binary plus a config file, and two or three accounts cover a site.
type AuthConfig struct {
	JWTSecret      string       `yaml:"jwt_secret"`
	AccessTokenTTL int          `yaml:"access_token_ttl"` // minutes
	Users          []UserConfig `yaml:"users"`
}

// UserConfig declares one API user.
type UserConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"` // PHC-format Argon2id string
	Role         string `yaml:"role"`          // "viewer" or "operator"
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// ControllerConfig selects and parameterises the controller transport.
type ControllerConfig struct {
	// Driver selects the transport implementation. "emulator" is the only
	// built-in driver; wire drivers register themselves at build time.
	Driver      string         `yaml:"driver"`
	CallTimeout int            `yaml:"call_timeout"` // seconds, per transport call
	Endpoint    EndpointConfig `yaml:"endpoint"`
}

// EndpointConfig is the default controller endpoint offered to operators.
type EndpointConfig struct {
	Address string `yaml:"address"`
	Slot    int    `yaml:"slot"`
	Family  string `yaml:"family"` // "directory" or "flat_address"
}

// DiscoveryConfig bounds the data-file scan.
type DiscoveryConfig struct {
	MaxFileNumber int `yaml:"max_file_number"`
	SizeCeiling   int `yaml:"size_ceiling"`
	ChunkSize     int `yaml:"chunk_size"`
}

// TrendConfig bounds trend sessions.
type TrendConfig struct {
	MaxCapacity        int     `yaml:"max_capacity"`
	DefaultRateSeconds float64 `yaml:"default_rate_seconds"`
	MinRateSeconds     float64 `yaml:"min_rate_seconds"`
	MaxRateSeconds     float64 `yaml:"max_rate_seconds"`
	JoinTimeout        int     `yaml:"join_timeout"` // seconds
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig locates the broker and names this client to it.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig carries optional broker credentials. Empty username
// means anonymous access.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig configures the optional time-series mirror. BatchSize
// and FlushInterval (seconds) tune the client-side write batcher.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// EmulatorConfig seeds the built-in controller emulator.
type EmulatorConfig struct {
	Files []EmulatorFileConfig `yaml:"files"`
	Tags  []EmulatorTagConfig  `yaml:"tags"`
}

// EmulatorFileConfig seeds one data file in the emulated flat address space.
type EmulatorFileConfig struct {
	Type     string `yaml:"type"` // single-letter file type, e.g. "N"
	Number   int    `yaml:"number"`
	Elements int    `yaml:"elements"`
}

// EmulatorTagConfig seeds one tag in the emulated directory.
type EmulatorTagConfig struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"` // controller data type name, e.g. "REAL"
	IsStruct bool   `yaml:"is_struct"`
}

// Load reads the YAML file at path over the built-in defaults, applies
// SASTREND_* environment overrides on top, and validates the result.
// Later layers win: defaults, then file, then environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaultConfig()
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
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: ServerTimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Auth: AuthConfig{
			AccessTokenTTL: 15,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Database: DatabaseConfig{
			Path:        "./data/sastrend.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Controller: ControllerConfig{
			Driver:      "emulator",
			CallTimeout: 5,
			Endpoint: EndpointConfig{
				Address: "emu://plc-1",
				Family:  "flat_address",
			},
		},
		Discovery: DiscoveryConfig{
			MaxFileNumber: 256,
			SizeCeiling:   256,
			ChunkSize:     10,
		},
		Trend: TrendConfig{
			MaxCapacity:        100000,
			DefaultRateSeconds: 1.0,
			MinRateSeconds:     0.1,
			MaxRateSeconds:     60.0,
			JoinTimeout:        3,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "sastrend",
			},
			QoS:         1,
			TopicPrefix: "sastrend",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Emulator: EmulatorConfig{
			Files: []EmulatorFileConfig{
				{Type: "N", Number: 7, Elements: 32},
				{Type: "F", Number: 8, Elements: 16},
				{Type: "B", Number: 3, Elements: 8},
				{Type: "T", Number: 4, Elements: 4},
			},
			Tags: []EmulatorTagConfig{
				{Name: "Pump_1_Speed", Type: "REAL"},
				{Name: "Pump_1_Run", Type: "BOOL"},
				{Name: "Tank_Level", Type: "DINT"},
				{Name: "Mix_Timer", Type: "TIMER", IsStruct: true},
			},
		},
	}
}

// envOverride replaces *dst when the named environment variable is set.
func envOverride(dst *string, name string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

// applyEnvOverrides layers SASTREND_* environment variables over the
// loaded file. The set is deliberately small: connection points and
// credentials, the values a site would rather keep out of the file.
func applyEnvOverrides(cfg *Config) {
	envOverride(&cfg.Server.Host, "SASTREND_SERVER_HOST")
	envOverride(&cfg.Database.Path, "SASTREND_DATABASE_PATH")
	envOverride(&cfg.Controller.Endpoint.Address, "SASTREND_CONTROLLER_ADDRESS")
	envOverride(&cfg.MQTT.Broker.Host, "SASTREND_MQTT_HOST")
	envOverride(&cfg.MQTT.Auth.Username, "SASTREND_MQTT_USERNAME")
	envOverride(&cfg.MQTT.Auth.Password, "SASTREND_MQTT_PASSWORD")
	envOverride(&cfg.InfluxDB.Token, "SASTREND_INFLUXDB_TOKEN")
	envOverride(&cfg.Auth.JWTSecret, "SASTREND_JWT_SECRET")
}

// Validate collects every problem in the configuration into one error
// rather than stopping at the first, so a site engineer fixes the file
// in one pass.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	// The tool drives live industrial controllers; a forged token would let
	// an attacker start polling hardware, so weak secrets are rejected outright.
	const minJWTSecretLength = 32
	if c.Auth.JWTSecret == "" {
		errs = append(errs, "auth.jwt_secret is required (set SASTREND_JWT_SECRET environment variable)")
	} else if len(c.Auth.JWTSecret) < minJWTSecretLength {
		errs = append(errs, "auth.jwt_secret must be at least 32 characters for adequate security")
	}
	for i, u := range c.Auth.Users {
		if u.Username == "" {
			errs = append(errs, fmt.Sprintf("auth.users[%d].username is required", i))
		}
		if u.PasswordHash == "" {
			errs = append(errs, fmt.Sprintf("auth.users[%d].password_hash is required", i))
		}
		if u.Role != "viewer" && u.Role != "operator" {
			errs = append(errs, fmt.Sprintf("auth.users[%d].role must be \"viewer\" or \"operator\"", i))
		}
	}

	// Database
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// Controller
	if c.Controller.Driver == "" {
		errs = append(errs, "controller.driver is required")
	}
	if c.Controller.CallTimeout < 1 {
		errs = append(errs, "controller.call_timeout must be at least 1 second")
	}
	switch c.Controller.Endpoint.Family {
	case "", "directory", "flat_address":
	default:
		errs = append(errs, "controller.endpoint.family must be \"directory\" or \"flat_address\"")
	}

	// Discovery
	if c.Discovery.MaxFileNumber < 1 || c.Discovery.MaxFileNumber > 256 {
		errs = append(errs, "discovery.max_file_number must be between 1 and 256")
	}
	if c.Discovery.SizeCeiling < 1 {
		errs = append(errs, "discovery.size_ceiling must be at least 1")
	}
	if c.Discovery.ChunkSize < 1 {
		errs = append(errs, "discovery.chunk_size must be at least 1")
	}

	// Trend
	if c.Trend.MaxCapacity < 0 {
		errs = append(errs, "trend.max_capacity must not be negative")
	}
	if c.Trend.MinRateSeconds <= 0 {
		errs = append(errs, "trend.min_rate_seconds must be greater than zero")
	}
	if c.Trend.MaxRateSeconds < c.Trend.MinRateSeconds {
		errs = append(errs, "trend.max_rate_seconds must not be below trend.min_rate_seconds")
	}
	if c.Trend.DefaultRateSeconds < c.Trend.MinRateSeconds || c.Trend.DefaultRateSeconds > c.Trend.MaxRateSeconds {
		errs = append(errs, "trend.default_rate_seconds must fall within the configured rate bounds")
	}

	// MQTT
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
	}

	// InfluxDB
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
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

// GetCallTimeout returns the per-call controller transport timeout as a Duration.
func (c *Config) GetCallTimeout() time.Duration {
	return time.Duration(c.Controller.CallTimeout) * time.Second
}

// GetAccessTokenTTL returns the JWT access token lifetime as a Duration.
func (c *Config) GetAccessTokenTTL() time.Duration {
	return time.Duration(c.Auth.AccessTokenTTL) * time.Minute
}

// DefaultSampleRate returns the default trend sample interval as a Duration.
func (c *Config) DefaultSampleRate() time.Duration {
	return time.Duration(c.Trend.DefaultRateSeconds * float64(time.Second))
}

// MinSampleRate returns the shortest permitted trend sample interval.
func (c *Config) MinSampleRate() time.Duration {
	return time.Duration(c.Trend.MinRateSeconds * float64(time.Second))
}

// MaxSampleRate returns the longest permitted trend sample interval.
func (c *Config) MaxSampleRate() time.Duration {
	return time.Duration(c.Trend.MaxRateSeconds * float64(time.Second))
}

// GetJoinTimeout returns how long session stop waits for the sampling
// goroutine to exit before abandoning it.
func (c *Config) GetJoinTimeout() time.Duration {
	return time.Duration(c.Trend.JoinTimeout) * time.Second
}
