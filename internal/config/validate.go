package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *FeedConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Backend.RestURL == "" {
		return errors.New("backend.rest_url is required")
	}
	if c.Backend.WSURL == "" {
		return errors.New("backend.ws_url is required")
	}
	if !strings.HasPrefix(c.Backend.WSURL, "ws://") && !strings.HasPrefix(c.Backend.WSURL, "wss://") {
		return fmt.Errorf("backend.ws_url must be a ws:// or wss:// URL, got %q", c.Backend.WSURL)
	}

	if c.Channel.PingInterval <= 0 {
		return errors.New("channel.ping_interval must be > 0")
	}
	if c.Channel.PongTimeout <= 0 {
		return errors.New("channel.pong_timeout must be > 0")
	}
	if c.Channel.PongTimeout >= c.Channel.PingInterval {
		return fmt.Errorf("channel.pong_timeout (%v) must be shorter than ping_interval (%v)",
			c.Channel.PongTimeout, c.Channel.PingInterval)
	}
	if c.Channel.ReconnectBaseDelay <= 0 {
		return errors.New("channel.reconnect_base_delay must be > 0")
	}
	if c.Channel.ReconnectMaxDelay < c.Channel.ReconnectBaseDelay {
		return fmt.Errorf("channel.reconnect_max_delay (%v) cannot be below reconnect_base_delay (%v)",
			c.Channel.ReconnectMaxDelay, c.Channel.ReconnectBaseDelay)
	}
	if c.Channel.MaxReconnectAttempts < 1 {
		return errors.New("channel.max_reconnect_attempts must be >= 1")
	}
	if c.Channel.MessageBuffer < 1 {
		return errors.New("channel.message_buffer must be >= 1")
	}

	if c.Stream.SeriesCap < 1 {
		return errors.New("stream.series_cap must be >= 1")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}
