package connection

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Manager owns the telemetry channel: it dials the transport, runs the
// application-level heartbeat while open, reconnects with bounded
// exponential backoff, and forwards inbound application messages to the
// Stream Reducer. At most one live transport exists at any time.
type Manager interface {
	// Start opens the channel. No-op while Connecting or Open.
	Start(ctx context.Context) error

	// Stop tears the channel down: cancels every pending timer, closes the
	// transport, and waits for goroutines. Idempotent.
	Stop(ctx context.Context) error

	// Reset cancels the current attempt (or scheduled retry), zeroes the
	// attempt counter, and dials fresh. This is the manual-retry path after
	// the reconnect budget is exhausted.
	Reset()

	// Send writes an outbound control message. Fails when not Open.
	Send(msg Outbound) error

	// Messages returns the application message stream for the Reducer.
	Messages() <-chan InboundMessage

	// Events returns connectivity notifications for consumers.
	Events() <-chan Event

	// State returns the current lifecycle state.
	State() State

	// IsConnected reports whether the channel is Open.
	IsConnected() bool

	// Attempts returns the current reconnect attempt counter.
	Attempts() int

	// Stats returns counters for health reporting.
	Stats() ManagerStats
}

// manager implements the Manager interface.
type manager struct {
	cfg    ManagerConfig
	logger *slog.Logger
	dial   Dialer

	// Output channels
	messages chan InboundMessage
	events   chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	state        State
	attempt      int
	lastOpenedAt time.Time
	client       Client
	connDone     chan struct{} // closed when the current transport is abandoned
	gen          uint64        // bumped whenever timers/loops of the old transport go stale
	stopped      bool

	// Heartbeat and reconnect timers. All nil while Closed.
	pingTimer      *time.Timer
	pongTimer      *time.Timer
	reconnectTimer *time.Timer
	pingSentAt     time.Time // zero when no ping is outstanding

	// Counters
	dials     int64
	forwarded int64
	pongs     int64
	parseErrs int64
}

// NewManager creates a new Connection Manager. Zero config fields fall back
// to DefaultManagerConfig values.
func NewManager(cfg ManagerConfig, logger *slog.Logger) Manager {
	if logger == nil {
		logger = slog.Default()
	}

	def := DefaultManagerConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = def.PongTimeout
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.MessageBufferSize <= 0 {
		cfg.MessageBufferSize = def.MessageBufferSize
	}
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = def.EventBufferSize
	}

	dial := cfg.Dialer
	if dial == nil {
		dial = NewClient
	}

	return &manager{
		cfg:      cfg,
		logger:   logger,
		dial:     dial,
		messages: make(chan InboundMessage, cfg.MessageBufferSize),
		events:   make(chan Event, cfg.EventBufferSize),
		state:    StateClosed,
	}
}

// Start opens the channel. Duplicate calls while Connecting or Open are
// refused so two near-simultaneous starts cannot race a second transport.
func (m *manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return ErrAlreadyClosed
	}
	if m.state == StateConnecting || m.state == StateOpen {
		m.logger.Debug("start ignored, channel already active", "state", m.state)
		return nil
	}

	if m.ctx == nil {
		m.ctx, m.cancel = context.WithCancel(ctx)
	}

	// A start during a scheduled backoff wins over the timer.
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}

	m.beginConnectLocked()

	m.logger.Info("connection manager started", "url", m.cfg.URL)
	return nil
}

// Stop tears everything down. Idempotent.
func (m *manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	m.gen++
	m.stopTimersLocked()
	if m.connDone != nil {
		close(m.connDone)
		m.connDone = nil
	}
	if m.client != nil {
		m.state = StateClosing
		m.client.Close()
		m.client = nil
	}
	m.state = StateClosed
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	// Wait for read and dial goroutines with a deadline.
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout, goroutines still draining")
	}

	m.logger.Info("connection manager stopped")
	return nil
}

// Reset cancels the current attempt, zeroes the attempt counter, and dials
// fresh. Only valid between Start and Stop.
func (m *manager) Reset() {
	m.mu.Lock()
	if m.stopped || m.ctx == nil {
		m.mu.Unlock()
		return
	}
	m.gen++
	m.stopTimersLocked()
	if m.connDone != nil {
		close(m.connDone)
		m.connDone = nil
	}
	if m.client != nil {
		m.client.Close()
		m.client = nil
	}
	m.state = StateClosed
	m.attempt = 0
	m.beginConnectLocked()
	m.mu.Unlock()

	m.logger.Info("manual reset, restarting channel")
}

// Send writes an outbound control message if the channel is Open.
func (m *manager) Send(msg Outbound) error {
	m.mu.Lock()
	if m.state != StateOpen || m.client == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	client := m.client
	m.mu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return client.Send(data)
}

// Messages returns the Reducer-facing message channel.
func (m *manager) Messages() <-chan InboundMessage {
	return m.messages
}

// Events returns the connectivity event channel.
func (m *manager) Events() <-chan Event {
	return m.events
}

// State returns the current lifecycle state.
func (m *manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the channel is Open.
func (m *manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateOpen
}

// Attempts returns the current reconnect attempt counter.
func (m *manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// Stats returns current counters.
func (m *manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ManagerStats{
		State:             m.state,
		Attempts:          m.attempt,
		LastOpenedAt:      m.lastOpenedAt,
		Dials:             m.dials,
		MessagesForwarded: m.forwarded,
		PongsReceived:     m.pongs,
		ParseErrors:       m.parseErrs,
	}
}

// beginConnectLocked transitions to Connecting and dials asynchronously.
// Caller holds m.mu.
func (m *manager) beginConnectLocked() {
	m.state = StateConnecting
	m.dials++
	m.wg.Add(1)
	go m.dialTransport(m.gen)
}

// dialTransport performs one connection attempt for the given generation.
func (m *manager) dialTransport(gen uint64) {
	defer m.wg.Done()

	ccfg := ClientConfig{
		URL:              m.cfg.URL,
		Token:            m.cfg.Token,
		HandshakeTimeout: m.cfg.HandshakeTimeout,
		WriteTimeout:     m.cfg.WriteTimeout,
		BufferSize:       m.cfg.MessageBufferSize,
	}
	client := m.dial(ccfg, m.logger)

	if err := client.Connect(m.ctx); err != nil {
		m.logger.Warn("connect failed", "url", m.cfg.URL, "error", err)
		m.transportDown(gen, err)
		return
	}

	m.mu.Lock()
	if gen != m.gen || m.state != StateConnecting {
		// A stop or reset won the race; discard this transport.
		m.mu.Unlock()
		client.Close()
		return
	}
	m.client = client
	m.connDone = make(chan struct{})
	m.state = StateOpen
	m.attempt = 0
	m.lastOpenedAt = time.Now()
	m.armPingLocked(gen)
	m.emitLocked(Event{Kind: EventConnected})

	done := m.connDone
	m.wg.Add(1)
	go m.readLoop(client, gen, done)
	m.mu.Unlock()

	m.logger.Info("channel open", "url", m.cfg.URL)
}

// readLoop consumes transport frames until the transport dies or is
// abandoned by a stop/reset.
func (m *manager) readLoop(client Client, gen uint64, done <-chan struct{}) {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-done:
			return
		case err := <-client.Errors():
			m.transportDown(gen, err)
			return
		case frame, ok := <-client.Frames():
			if !ok {
				m.transportDown(gen, ErrTransportClosed)
				return
			}
			m.dispatch(gen, frame)
		}
	}
}

// dispatch decodes the message envelope, intercepts pongs, and forwards
// application messages. Malformed frames are logged and dropped; they never
// affect connection state.
func (m *manager) dispatch(gen uint64, frame Frame) {
	var env envelope
	if err := json.Unmarshal(frame.Data, &env); err != nil || env.Type == "" {
		m.mu.Lock()
		m.parseErrs++
		m.mu.Unlock()
		m.logger.Warn("dropping malformed frame", "error", err, "len", len(frame.Data))
		return
	}

	if env.Type == MsgPong {
		m.handlePong(gen, frame.Data)
		return
	}

	msg := InboundMessage{
		Type:       env.Type,
		Data:       frame.Data,
		ReceivedAt: frame.ReceivedAt,
	}

	// Shed rather than block: a stalled consumer must not back up the
	// read loop and starve the heartbeat.
	select {
	case m.messages <- msg:
		m.mu.Lock()
		m.forwarded++
		m.mu.Unlock()
	default:
		m.logger.Warn("message buffer full, dropping", "type", env.Type)
	}
}

// handlePong clears the outstanding ping. Pongs are never forwarded.
func (m *manager) handlePong(gen uint64, data []byte) {
	var pong pongWire
	if err := json.Unmarshal(data, &pong); err != nil {
		m.logger.Debug("unparseable pong", "error", err)
	}

	m.mu.Lock()
	if gen == m.gen {
		if m.pongTimer != nil {
			m.pongTimer.Stop()
			m.pongTimer = nil
		}
		m.pingSentAt = time.Time{}
		m.pongs++
	}
	m.mu.Unlock()

	m.logger.Debug("pong received", "server_time", pong.ServerTime)
}

// armPingLocked schedules the next heartbeat ping. Caller holds m.mu.
func (m *manager) armPingLocked(gen uint64) {
	m.pingTimer = time.AfterFunc(m.cfg.PingInterval, func() {
		m.sendPing(gen)
	})
}

// sendPing emits one heartbeat ping and arms the pong deadline. At most one
// ping is outstanding; if the previous one is still pending we only re-arm.
func (m *manager) sendPing(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateOpen {
		m.mu.Unlock()
		return
	}
	if !m.pingSentAt.IsZero() {
		// Previous ping unanswered; the pong timer will handle it.
		m.armPingLocked(gen)
		m.mu.Unlock()
		return
	}

	now := time.Now()
	m.pingSentAt = now
	m.pongTimer = time.AfterFunc(m.cfg.PongTimeout, func() {
		m.pongExpired(gen)
	})
	m.armPingLocked(gen)
	client := m.client
	m.mu.Unlock()

	data, err := json.Marshal(Outbound{Type: MsgPing, Timestamp: now.UnixMilli()})
	if err == nil {
		err = client.Send(data)
	}
	if err != nil {
		// The transport will surface its own close shortly.
		m.logger.Warn("ping send failed", "error", err)
	}
}

// pongExpired force-closes the transport after a missed pong, re-entering
// the standard close-then-reconnect path.
func (m *manager) pongExpired(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateOpen || m.pingSentAt.IsZero() {
		m.mu.Unlock()
		return
	}
	sentAt := m.pingSentAt
	m.mu.Unlock()

	m.logger.Warn("pong timeout, forcing close",
		"ping_sent_at", sentAt,
		"timeout", m.cfg.PongTimeout,
	)
	m.transportDown(gen, ErrPongTimeout)
}

// transportDown handles a transport failure or force-close: it stops the
// heartbeat, closes the transport, and either schedules a reconnect or
// reports exhaustion. Stale generations are ignored so a close can only be
// processed once per transport.
func (m *manager) transportDown(gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.gen || m.stopped {
		m.mu.Unlock()
		return
	}

	m.state = StateClosing
	m.gen++
	next := m.gen
	m.stopTimersLocked()
	if m.connDone != nil {
		close(m.connDone)
		m.connDone = nil
	}
	if m.client != nil {
		m.client.Close()
		m.client = nil
	}
	m.state = StateClosed

	if cause != nil {
		m.emitLocked(Event{Kind: EventError, Err: cause})
	}

	if m.attempt < m.cfg.MaxReconnectAttempts {
		wait := Backoff(m.attempt, m.cfg.ReconnectBaseDelay, m.cfg.ReconnectMaxDelay)
		m.attempt++
		attempt := m.attempt
		m.reconnectTimer = time.AfterFunc(wait, func() {
			m.redial(next)
		})
		m.emitLocked(Event{Kind: EventDisconnected, Attempt: attempt, Wait: wait})
		m.mu.Unlock()

		m.logger.Warn("channel down, reconnect scheduled",
			"attempt", attempt,
			"max_attempts", m.cfg.MaxReconnectAttempts,
			"wait", wait,
			"error", cause,
		)
		return
	}

	m.emitLocked(Event{Kind: EventExhausted, Attempt: m.attempt})
	m.mu.Unlock()

	m.logger.Error("reconnect attempts exhausted, manual reset required",
		"attempts", m.cfg.MaxReconnectAttempts,
		"error", cause,
	)
}

// redial fires when a scheduled backoff elapses.
func (m *manager) redial(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.stopped || m.state != StateClosed {
		return
	}
	m.reconnectTimer = nil
	m.beginConnectLocked()
}

// stopTimersLocked cancels every pending timer. Caller holds m.mu.
func (m *manager) stopTimersLocked() {
	if m.pingTimer != nil {
		m.pingTimer.Stop()
		m.pingTimer = nil
	}
	if m.pongTimer != nil {
		m.pongTimer.Stop()
		m.pongTimer = nil
	}
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.pingSentAt = time.Time{}
}

// emitLocked delivers an event without blocking. Caller holds m.mu.
func (m *manager) emitLocked(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.logger.Warn("event buffer full, dropping event", "kind", ev.Kind)
	}
}
