package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FeedConfig is the root configuration for a meterfeed instance.
type FeedConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Backend  BackendConfig  `yaml:"backend"`
	Channel  ChannelConfig  `yaml:"channel"`
	Stream   StreamConfig   `yaml:"stream"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// InstanceConfig identifies this feed client.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// BackendConfig holds telemetry backend endpoints.
type BackendConfig struct {
	RestURL string        `yaml:"rest_url"` // Catalogue REST base URL
	WSURL   string        `yaml:"ws_url"`   // Telemetry websocket URL
	Token   string        `yaml:"token"`    // Bearer token from the auth collaborator
	Timeout time.Duration `yaml:"timeout"`  // REST request timeout
}

// ChannelConfig holds Connection Manager settings.
type ChannelConfig struct {
	PingInterval         time.Duration `yaml:"ping_interval"`
	PongTimeout          time.Duration `yaml:"pong_timeout"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	MessageBuffer        int           `yaml:"message_buffer"`
}

// StreamConfig holds Stream Reducer settings.
type StreamConfig struct {
	SeriesCap int `yaml:"series_cap"`
}

// MetricsConfig holds the health/metrics HTTP server settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// Load reads a YAML config file, expands ${VAR} references against the
// environment, fills unset fields with defaults, and validates the result.
// There is no partially-loaded state: a config either comes back usable or
// not at all.
func Load(path string) (*FeedConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg FeedConfig
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// Default returns the built-in configuration used when no file is given.
func Default() *FeedConfig {
	cfg := &FeedConfig{}
	cfg.applyDefaults()
	return cfg
}
