package connection

import (
	"errors"
	"log/slog"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrPongTimeout     = errors.New("pong timeout (channel stale)")
	ErrTransportClosed = errors.New("transport closed")
	ErrAlreadyClosed   = errors.New("already closed")
)

// State is the channel lifecycle state.
type State string

const (
	StateClosed     State = "closed"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosing    State = "closing"
)

// Inbound message types pushed by the backend.
const (
	MsgFullUpdate        = "full_update"
	MsgInitialTimeseries = "initial_timeseries"
	MsgPong              = "pong"
)

// Outbound control message types.
const (
	MsgRequestUpdate     = "request_update"
	MsgRequestTimeseries = "request_timeseries"
	MsgPing              = "ping"
)

// Frame wraps raw transport bytes with a receive timestamp.
type Frame struct {
	Data       []byte    // Raw message bytes from the websocket
	ReceivedAt time.Time // Local timestamp when the read returned
}

// InboundMessage is a decoded-envelope application message from the
// Connection Manager to the Stream Reducer. Pongs never appear here.
type InboundMessage struct {
	Type       string    // Message kind ("full_update", "initial_timeseries")
	Data       []byte    // Full raw payload for the Reducer to parse
	ReceivedAt time.Time // Local timestamp when the transport received it
}

// Outbound is a control message from client to server.
type Outbound struct {
	Type      string `json:"type"`
	Device    string `json:"device,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"` // Epoch ms (ping only)
}

// RequestUpdate asks for an immediate full update outside the push cadence.
func RequestUpdate() Outbound {
	return Outbound{Type: MsgRequestUpdate}
}

// RequestTimeseries asks for seed history for one device.
func RequestTimeseries(device string) Outbound {
	return Outbound{Type: MsgRequestTimeseries, Device: device}
}

// envelope is used for fast message-kind extraction.
type envelope struct {
	Type string `json:"type"`
}

// pongWire is the wire format of a heartbeat response.
type pongWire struct {
	Type       string `json:"type"`
	Timestamp  int64  `json:"timestamp"`   // Echo of the ping's epoch ms
	ServerTime string `json:"server_time"` // Backend wall-clock, informational
}

// EventKind identifies a connectivity event.
type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
	EventError        EventKind = "error"
	EventExhausted    EventKind = "exhausted"
)

// Event is a connectivity notification for consumers (status UIs, metrics).
// Raw transport errors never cross this boundary except as EventError.
type Event struct {
	Kind    EventKind
	Attempt int           // Reconnect attempt number (disconnected/exhausted)
	Wait    time.Duration // Delay before the scheduled attempt (disconnected)
	Err     error         // Cause (error events only)
}

// ClientConfig configures a websocket transport.
type ClientConfig struct {
	URL              string        // Backend websocket URL
	Token            string        // Bearer token (supplied by the auth collaborator, may be empty)
	HandshakeTimeout time.Duration // Dial handshake deadline
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Frame channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1000,
	}
}

// Dialer creates the transport for one connection attempt.
// Production uses NewClient; tests inject a fake.
type Dialer func(cfg ClientConfig, logger *slog.Logger) Client

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	URL   string // Backend websocket URL
	Token string // Bearer token, may be empty

	PingInterval time.Duration // Heartbeat ping cadence while open
	PongTimeout  time.Duration // Max wait for a pong before force-closing

	ReconnectBaseDelay   time.Duration // Backoff base
	ReconnectMaxDelay    time.Duration // Backoff cap
	MaxReconnectAttempts int           // Retry budget before terminal exhaustion

	HandshakeTimeout  time.Duration // Transport dial deadline
	WriteTimeout      time.Duration // Transport write deadline
	MessageBufferSize int           // Buffer for the Reducer-facing channel
	EventBufferSize   int           // Buffer for the events channel

	Dialer Dialer // nil = real websocket transport
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		PingInterval:         25 * time.Second,
		PongTimeout:          10 * time.Second,
		ReconnectBaseDelay:   1 * time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		MaxReconnectAttempts: 10,
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         5 * time.Second,
		MessageBufferSize:    1000,
		EventBufferSize:      32,
	}
}

// ManagerStats provides counters for health reporting.
type ManagerStats struct {
	State             State
	Attempts          int       // Current reconnect attempt counter
	LastOpenedAt      time.Time // Zero if the channel never opened
	Dials             int64     // Connection attempts made
	MessagesForwarded int64     // Application messages handed to the Reducer
	PongsReceived     int64     // Heartbeat responses intercepted
	ParseErrors       int64     // Malformed frames dropped
}
