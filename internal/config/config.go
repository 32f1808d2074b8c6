package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	App        AppConfig                `mapstructure:"app"`
	Server     ServerConfig             `mapstructure:"server"`
	Logger     LoggerConfig             `mapstructure:"logger"`
	Connection ConnectionConfig         `mapstructure:"connection"`
	Projection ProjectionConfig         `mapstructure:"projection"`
	Calendar   CalendarConfig           `mapstructure:"calendar"`
	Storage    StorageConfig            `mapstructure:"storage"`
	Networks   map[string]NetworkConfig `mapstructure:"networks"`
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `mapstructure:"port"`
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

// ConnectionConfig holds settings of the connection manager.
type ConnectionConfig struct {
	ActivationTimeout  time.Duration `mapstructure:"activation_timeout"`
	DialTimeout        time.Duration `mapstructure:"dial_timeout"`
	ReconnectThrottle  time.Duration `mapstructure:"reconnect_throttle"`
	ReconnectDelay     time.Duration `mapstructure:"reconnect_delay"`
	HeartbeatInterval  time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTolerance time.Duration `mapstructure:"heartbeat_tolerance"`
}

// ProjectionConfig holds settings of the event projection engine.
type ProjectionConfig struct {
	DefaultBlockTime time.Duration `mapstructure:"default_block_time"`
	QueryTimeout     time.Duration `mapstructure:"query_timeout"`
}

// CalendarConfig holds settings of the event index.
type CalendarConfig struct {
	Timezone string `mapstructure:"timezone"`
}

// StorageConfig selects the settings store.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

// NetworkConfig describes a network and, recursively, its parachains.
type NetworkConfig struct {
	Name          string                   `mapstructure:"name" yaml:"name"`
	Color         string                   `mapstructure:"color" yaml:"color,omitempty"`
	Homepage      string                   `mapstructure:"homepage" yaml:"homepage,omitempty"`
	RPCURLs       []string                 `mapstructure:"rpc_urls" yaml:"rpc_urls"`
	GatewayURL    string                   `mapstructure:"gateway_url" yaml:"gateway_url,omitempty"`
	ParaID        int                      `mapstructure:"para_id" yaml:"para_id,omitempty"`
	DefaultActive bool                     `mapstructure:"default_active" yaml:"default_active,omitempty"`
	Parachains    map[string]NetworkConfig `mapstructure:"parachains" yaml:"parachains,omitempty"`
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("app.name", "chain-calendar")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "json")
	v.SetDefault("connection.activation_timeout", "30s")
	v.SetDefault("connection.dial_timeout", "10s")
	v.SetDefault("connection.reconnect_throttle", "5s")
	v.SetDefault("connection.reconnect_delay", "1s")
	v.SetDefault("connection.heartbeat_interval", "2s")
	v.SetDefault("connection.heartbeat_tolerance", "50ms")
	v.SetDefault("projection.default_block_time", "6s")
	v.SetDefault("projection.query_timeout", "15s")
	v.SetDefault("calendar.timezone", "Local")
	v.SetDefault("storage.driver", "badger")
	v.SetDefault("storage.path", "data/settings")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		fmt.Printf("Warning: Config file not found in %s or '.', using defaults/env vars\n", configPath)
	}

	v.SetEnvPrefix("CHAIN_CALENDAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func (c ConnectionConfig) GetActivationTimeout() time.Duration {
	return orDefault(c.ActivationTimeout, 30*time.Second)
}

func (c ConnectionConfig) GetDialTimeout() time.Duration {
	return orDefault(c.DialTimeout, 10*time.Second)
}

func (c ConnectionConfig) GetReconnectThrottle() time.Duration {
	return orDefault(c.ReconnectThrottle, 5*time.Second)
}

func (c ConnectionConfig) GetReconnectDelay() time.Duration {
	return c.ReconnectDelay
}

func (c ConnectionConfig) GetHeartbeatInterval() time.Duration {
	return c.HeartbeatInterval
}

func (c ConnectionConfig) GetHeartbeatTolerance() time.Duration {
	return orDefault(c.HeartbeatTolerance, 50*time.Millisecond)
}

func (c ProjectionConfig) GetDefaultBlockTime() time.Duration {
	return orDefault(c.DefaultBlockTime, 6*time.Second)
}

func (c ProjectionConfig) GetQueryTimeout() time.Duration {
	return orDefault(c.QueryTimeout, 15*time.Second)
}

// GetLocation resolves the configured time zone, falling back to local time.
func (c CalendarConfig) GetLocation() *time.Location {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
