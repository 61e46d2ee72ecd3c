package config

import (
	"time"

	"github.com/google/uuid"
)

// Default values for optional configuration fields. The heartbeat, backoff,
// and series-cap values are the protocol's fixed operating points.
const (
	DefaultRestURL              = "http://localhost:8000"
	DefaultWSURL                = "ws://localhost:8000/ws/telemetry"
	DefaultAPITimeout           = 30 * time.Second
	DefaultPingInterval         = 25 * time.Second
	DefaultPongTimeout          = 10 * time.Second
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 30 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultMessageBuffer        = 1000
	DefaultSeriesCap            = 450
	DefaultMetricsPort          = 9090
	DefaultMetricsPath          = "/metrics"
)

func (c *FeedConfig) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = uuid.NewString()
	}

	// Backend defaults
	if c.Backend.RestURL == "" {
		c.Backend.RestURL = DefaultRestURL
	}
	if c.Backend.WSURL == "" {
		c.Backend.WSURL = DefaultWSURL
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = DefaultAPITimeout
	}

	// Channel defaults
	if c.Channel.PingInterval == 0 {
		c.Channel.PingInterval = DefaultPingInterval
	}
	if c.Channel.PongTimeout == 0 {
		c.Channel.PongTimeout = DefaultPongTimeout
	}
	if c.Channel.ReconnectBaseDelay == 0 {
		c.Channel.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Channel.ReconnectMaxDelay == 0 {
		c.Channel.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Channel.MaxReconnectAttempts == 0 {
		c.Channel.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Channel.MessageBuffer == 0 {
		c.Channel.MessageBuffer = DefaultMessageBuffer
	}

	// Stream defaults
	if c.Stream.SeriesCap == 0 {
		c.Stream.SeriesCap = DefaultSeriesCap
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}
