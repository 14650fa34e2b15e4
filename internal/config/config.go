// Package config loads server and client configuration with viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// TransportTCP carries frames over a raw TCP stream.
	TransportTCP = "tcp"
	// TransportWebSocket carries one frame per binary WebSocket message.
	TransportWebSocket = "websocket"

	defaultWebSocketPath   = "/chat"
	defaultMetricsAddress  = ":9090"
	defaultDialTimeout     = 10 * time.Second
	defaultInitialCapacity = 10
	defaultBurst           = 20
	maxPort                = 65535

	serverEnvPrefix = "CHAT_SERVER"
	clientEnvPrefix = "CHAT_CLIENT"
)

var (
	ErrInvalidPort      = errors.New("port must be between 0 and 65535")
	ErrInvalidTransport = errors.New("transport must be tcp or websocket")
	ErrInvalidCapacity  = errors.New("registry initial capacity must be positive")
	ErrInvalidLimits    = errors.New("rate limit values must not be negative")
	ErrInvalidTimeout   = errors.New("dial timeout must be positive")
	ErrMissingMetrics   = errors.New("metrics address is required when metrics are enabled")
)

// ServerConfig is the chat-server configuration.
type ServerConfig struct {
	Server   ListenConfig   `mapstructure:"server"`
	Registry RegistryConfig `mapstructure:"registry"`
	Limits   LimitsConfig   `mapstructure:"limits"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ListenConfig describes the listening endpoint. Port 0 picks an ephemeral port.
type ListenConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	Transport     string `mapstructure:"transport"`
	WebSocketPath string `mapstructure:"websocket_path"`
}

// Address returns host:port.
func (c ListenConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type RegistryConfig struct {
	InitialCapacity int `mapstructure:"initial_capacity"`
}

// LimitsConfig configures per-connection flood control. A zero
// FramesPerSecond disables it.
type LimitsConfig struct {
	FramesPerSecond float64 `mapstructure:"frames_per_second"`
	Burst           int     `mapstructure:"burst"`
}

// Enabled reports whether flood control is on.
func (c LimitsConfig) Enabled() bool {
	return c.FramesPerSecond > 0
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ClientConfig is the chat-client configuration.
type ClientConfig struct {
	Client  DialConfig    `mapstructure:"client"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type DialConfig struct {
	Transport     string        `mapstructure:"transport"`
	WebSocketPath string        `mapstructure:"websocket_path"`
	DialTimeout   time.Duration `mapstructure:"dial_timeout"`
}

// LoadServer reads server configuration from an optional file and the
// CHAT_SERVER_* environment.
func LoadServer(configPath string) (*ServerConfig, error) {
	v := newViper(serverEnvPrefix)
	setServerDefaults(v)

	if err := readFile(v, configPath); err != nil {
		return nil, err
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadClient reads client configuration from an optional file and the
// CHAT_CLIENT_* environment.
func LoadClient(configPath string) (*ClientConfig, error) {
	v := newViper(clientEnvPrefix)
	setClientDefaults(v)

	if err := readFile(v, configPath); err != nil {
		return nil, err
	}

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func newViper(prefix string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

func readFile(v *viper.Viper, configPath string) error {
	if configPath == "" {
		return nil
	}

	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

func setServerDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 0)
	v.SetDefault("server.transport", TransportTCP)
	v.SetDefault("server.websocket_path", defaultWebSocketPath)
	v.SetDefault("registry.initial_capacity", defaultInitialCapacity)
	v.SetDefault("limits.frames_per_second", 0)
	v.SetDefault("limits.burst", defaultBurst)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.address", defaultMetricsAddress)
	setLoggingDefaults(v)
}

func setClientDefaults(v *viper.Viper) {
	v.SetDefault("client.transport", TransportTCP)
	v.SetDefault("client.websocket_path", defaultWebSocketPath)
	v.SetDefault("client.dial_timeout", defaultDialTimeout)
	setLoggingDefaults(v)
	// the client shares stderr with an interactive terminal
	v.SetDefault("logging.level", "warn")
}

func setLoggingDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > maxPort {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Server.Port)
	}

	if err := validateTransport(c.Server.Transport); err != nil {
		return err
	}

	if c.Registry.InitialCapacity <= 0 {
		return ErrInvalidCapacity
	}

	if c.Limits.FramesPerSecond < 0 || c.Limits.Burst < 0 {
		return ErrInvalidLimits
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return ErrMissingMetrics
	}

	return nil
}

// Validate checks the client configuration.
func (c *ClientConfig) Validate() error {
	if err := validateTransport(c.Client.Transport); err != nil {
		return err
	}

	if c.Client.DialTimeout <= 0 {
		return ErrInvalidTimeout
	}

	return nil
}

func validateTransport(transport string) error {
	switch transport {
	case TransportTCP, TransportWebSocket:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTransport, transport)
	}
}
