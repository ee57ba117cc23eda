// Package config provides Viper-based configuration loading for the chat server.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment variable overrides, e.g. STRANGERS_WEBSOCKET_PORT.
const EnvPrefix = "STRANGERS"

// ServerConfig holds top-level server settings.
type ServerConfig struct {
	// Name identifies this instance in logs.
	Name string `mapstructure:"name"`
}

// WebSocketConfig holds the HTTP and websocket frontend settings.
type WebSocketConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// Path is the route upgraded to a websocket.
	Path string `mapstructure:"path"`
	// AllowedOrigins lists browser origins permitted to connect. Empty allows same-host origins only.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// MaxMessageBytes caps the size of one inbound frame.
	MaxMessageBytes int64 `mapstructure:"max_message_bytes"`
	// SendBuffer is the per-connection outbound queue length.
	SendBuffer   int           `mapstructure:"send_buffer"`
	PongWait     time.Duration `mapstructure:"pong_wait"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (w WebSocketConfig) Addr() string {
	return net.JoinHostPort(w.Host, strconv.Itoa(w.Port))
}

// TelnetConfig holds Telnet frontend settings.
type TelnetConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	// LoginTimeout disconnects a client that idles this long before logging
	// in. Logged-in clients never time out. Zero disables it.
	LoginTimeout time.Duration `mapstructure:"login_timeout"`
	// KeepAlive is the TCP keepalive period used to detect dead peers.
	// Zero disables keepalive probes.
	KeepAlive    time.Duration `mapstructure:"keepalive"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the "host:port" listen address.
func (t TelnetConfig) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// RateLimitConfig bounds how many inbound events one connection may send.
type RateLimitConfig struct {
	EventsPerSecond float64 `mapstructure:"events_per_second"`
	Burst           int     `mapstructure:"burst"`
}

// MatchmakingConfig holds pairing behavior and client input limits.
type MatchmakingConfig struct {
	// AutoRequeue puts a partner left behind by a disconnect straight back in the queue.
	AutoRequeue   bool   `mapstructure:"auto_requeue"`
	MinAge        int    `mapstructure:"min_age"`
	MaxAge        int    `mapstructure:"max_age"`
	MaxNameLength int    `mapstructure:"max_name_length"`
	MaxTextLength int    `mapstructure:"max_text_length"`
	MaxAudioBytes int    `mapstructure:"max_audio_bytes"`
	RegionsDir    string `mapstructure:"regions_dir"`
}

// DatabaseConfig holds PostgreSQL settings for the session log.
type DatabaseConfig struct {
	// Enabled turns the session log on. The server runs without a database otherwise.
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// HealthConfig holds the gRPC health endpoint settings.
type HealthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	GRPCHost string `mapstructure:"grpc_host"`
	GRPCPort int    `mapstructure:"grpc_port"`
}

// Addr returns the "host:port" gRPC listen address.
func (h HealthConfig) Addr() string {
	return net.JoinHostPort(h.GRPCHost, strconv.Itoa(h.GRPCPort))
}

// Config is the top-level application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	WebSocket   WebSocketConfig   `mapstructure:"websocket"`
	Telnet      TelnetConfig      `mapstructure:"telnet"`
	RateLimit   RateLimitConfig   `mapstructure:"ratelimit"`
	Matchmaking MatchmakingConfig `mapstructure:"matchmaking"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Health      HealthConfig      `mapstructure:"health"`
}

// Validate checks all configuration invariants. Sections that are disabled
// are not validated.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	if c.Server.Name == "" {
		collect(errors.New("server.name must not be empty"))
	}
	collect(validateWebSocket(c.WebSocket))
	if c.Telnet.Enabled {
		collect(validateTelnet(c.Telnet))
	}
	collect(validateRateLimit(c.RateLimit))
	collect(validateMatchmaking(c.Matchmaking))
	if c.Database.Enabled {
		collect(validateDatabase(c.Database))
	}
	collect(validateLogging(c.Logging))
	if c.Health.Enabled {
		collect(validatePort("health.grpc_port", c.Health.GRPCPort))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func joinErrs(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.New(strings.Join(errs, "; "))
}

func validatePort(field string, port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("%s must be 0-65535, got %d", field, port)
	}
	return nil
}

func validateWebSocket(w WebSocketConfig) error {
	var errs []string
	if err := validatePort("websocket.port", w.Port); err != nil {
		errs = append(errs, err.Error())
	}
	if !strings.HasPrefix(w.Path, "/") {
		errs = append(errs, fmt.Sprintf("websocket.path must start with /, got %q", w.Path))
	}
	if w.MaxMessageBytes < 1 {
		errs = append(errs, fmt.Sprintf("websocket.max_message_bytes must be >= 1, got %d", w.MaxMessageBytes))
	}
	if w.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("websocket.send_buffer must be >= 1, got %d", w.SendBuffer))
	}
	if w.PongWait <= 0 {
		errs = append(errs, "websocket.pong_wait must be positive")
	}
	if w.PingInterval <= 0 || w.PingInterval >= w.PongWait {
		errs = append(errs, "websocket.ping_interval must be positive and shorter than websocket.pong_wait")
	}
	if w.WriteTimeout <= 0 {
		errs = append(errs, "websocket.write_timeout must be positive")
	}
	return joinErrs(errs)
}

func validateTelnet(t TelnetConfig) error {
	var errs []string
	if err := validatePort("telnet.port", t.Port); err != nil {
		errs = append(errs, err.Error())
	}
	if t.LoginTimeout < 0 {
		errs = append(errs, "telnet.login_timeout must not be negative")
	}
	if t.KeepAlive < 0 {
		errs = append(errs, "telnet.keepalive must not be negative")
	}
	if t.WriteTimeout < 0 {
		errs = append(errs, "telnet.write_timeout must not be negative")
	}
	return joinErrs(errs)
}

func validateRateLimit(r RateLimitConfig) error {
	var errs []string
	if r.EventsPerSecond <= 0 {
		errs = append(errs, fmt.Sprintf("ratelimit.events_per_second must be positive, got %g", r.EventsPerSecond))
	}
	if r.Burst < 1 {
		errs = append(errs, fmt.Sprintf("ratelimit.burst must be >= 1, got %d", r.Burst))
	}
	return joinErrs(errs)
}

func validateMatchmaking(m MatchmakingConfig) error {
	var errs []string
	if m.MinAge < 0 {
		errs = append(errs, fmt.Sprintf("matchmaking.min_age must be >= 0, got %d", m.MinAge))
	}
	if m.MaxAge < m.MinAge {
		errs = append(errs, "matchmaking.max_age must not be below matchmaking.min_age")
	}
	if m.MaxNameLength < 1 {
		errs = append(errs, fmt.Sprintf("matchmaking.max_name_length must be >= 1, got %d", m.MaxNameLength))
	}
	if m.MaxTextLength < 1 {
		errs = append(errs, fmt.Sprintf("matchmaking.max_text_length must be >= 1, got %d", m.MaxTextLength))
	}
	if m.MaxAudioBytes < 0 {
		errs = append(errs, fmt.Sprintf("matchmaking.max_audio_bytes must be >= 0, got %d", m.MaxAudioBytes))
	}
	return joinErrs(errs)
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 || d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must be between 0 and database.max_conns")
	}
	return joinErrs(errs)
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment
// variable overrides, and validates the result. An empty path loads
// defaults and environment only.
//
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}
	return LoadFromViper(v)
}

// NewViper returns a Viper instance with defaults and environment overrides
// applied but no config file read.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "strangers")

	v.SetDefault("websocket.host", "0.0.0.0")
	v.SetDefault("websocket.port", 5000)
	v.SetDefault("websocket.path", "/ws")
	v.SetDefault("websocket.allowed_origins", []string{})
	v.SetDefault("websocket.max_message_bytes", 1<<20)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.ping_interval", "54s")
	v.SetDefault("websocket.write_timeout", "10s")

	v.SetDefault("telnet.enabled", false)
	v.SetDefault("telnet.host", "0.0.0.0")
	v.SetDefault("telnet.port", 4000)
	v.SetDefault("telnet.login_timeout", "5m")
	v.SetDefault("telnet.keepalive", "30s")
	v.SetDefault("telnet.write_timeout", "30s")

	v.SetDefault("ratelimit.events_per_second", 10)
	v.SetDefault("ratelimit.burst", 20)

	v.SetDefault("matchmaking.auto_requeue", true)
	v.SetDefault("matchmaking.min_age", 13)
	v.SetDefault("matchmaking.max_age", 120)
	v.SetDefault("matchmaking.max_name_length", 32)
	v.SetDefault("matchmaking.max_text_length", 2000)
	v.SetDefault("matchmaking.max_audio_bytes", 512*1024)
	v.SetDefault("matchmaking.regions_dir", "content/regions")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "strangers")
	v.SetDefault("database.password", "strangers")
	v.SetDefault("database.name", "strangers")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("health.enabled", false)
	v.SetDefault("health.grpc_host", "127.0.0.1")
	v.SetDefault("health.grpc_port", 50051)
}
