package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/yanun0323/logs"
)

const (
	// DefaultEndpoint is used when no endpoint is configured.
	DefaultEndpoint = "ws://localhost:8000/ws"
	// DefaultMaxAttempts caps automatic reconnects.
	DefaultMaxAttempts = 5
	// DefaultHeartbeatInterval is the liveness probe period.
	DefaultHeartbeatInterval = 30 * time.Second
	// DefaultDialTimeout bounds connection establishment.
	DefaultDialTimeout = 10 * time.Second
)

// Option defines the manager runtime configuration.
type Option struct {
	// Endpoint is the server address. Optional; default DefaultEndpoint.
	Endpoint string
	// MaxAttempts caps automatic reconnect attempts. Optional; default 5.
	MaxAttempts int
	// Backoff defines reconnect delays. Optional; default DefaultBackoff when all fields are zero.
	Backoff Backoff
	// HeartbeatInterval is the ping period while open. Optional; default 30s, <0 disables.
	HeartbeatInterval time.Duration
	// DialTimeout bounds connection establishment. Optional; default 10s.
	DialTimeout time.Duration
	// Dialer establishes new transports. Optional; default gorilla dialer.
	Dialer Dialer
}

func (opt *Option) init() {
	if opt.Endpoint == "" {
		opt.Endpoint = DefaultEndpoint
	}
	if opt.MaxAttempts <= 0 {
		opt.MaxAttempts = DefaultMaxAttempts
	}
	if opt.Backoff.Base == 0 && opt.Backoff.MaxExponent == 0 {
		opt.Backoff = DefaultBackoff()
	}
	if opt.HeartbeatInterval == 0 {
		opt.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opt.DialTimeout <= 0 {
		opt.DialTimeout = DefaultDialTimeout
	}
	if opt.Dialer == nil {
		opt.Dialer = NewDialer(opt.DialTimeout)
	}
}

// heartbeat is the owned handle for the periodic liveness probe.
type heartbeat struct {
	ticker *time.Ticker
	done   chan struct{}
}

// Manager owns one logical connection to a server endpoint: it reconnects
// with exponential backoff on loss, queues outbound messages while
// disconnected, and fans typed events out to subscribers.
//
// All state transitions run under one mutex, so each handler is atomic
// with respect to the others. Emissions happen outside the lock, which
// keeps subscriber callbacks free to call back into the manager.
type Manager struct {
	opt     Option
	emitter *emitter
	pending *pendingQueue

	mu        sync.Mutex
	state     State
	conn      Transport
	gen       uint64
	attempts  int
	reconnect *time.Timer
	heartbeat *heartbeat
}

// New builds a manager. The manager is idle until Connect is called;
// sends issued before that are queued and never trigger a dial.
func New(option ...Option) *Manager {
	var opt Option
	if len(option) != 0 {
		opt = option[0]
	}
	opt.init()

	return &Manager{
		opt:     opt,
		emitter: newEmitter(),
		pending: newPendingQueue(),
	}
}

// State reports the current lifecycle state.
func (m *Manager) State() State {
	if m == nil {
		return StateIdle
	}
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()
	return state
}

// Pending reports the number of queued outbound messages.
func (m *Manager) Pending() int {
	if m == nil {
		return 0
	}
	return m.pending.len()
}

// Connect starts a connection attempt. Calling it while open or while a
// dial is in flight is a no-op. An explicit call resets the reconnect
// attempt counter, so it recovers a manager that exhausted its retries.
func (m *Manager) Connect() {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.state == StateOpen || m.state == StateConnecting {
		m.mu.Unlock()
		logs.Infof("realtime: connect ignored, state %s", m.state)
		return
	}
	m.attempts = 0
	m.stopReconnectLocked()
	m.dialLocked()
	m.mu.Unlock()
}

// Disconnect tears the connection down and suppresses any automatic
// reconnect, including one triggered by a late-arriving closure event.
// It clears the outbound queue and is safe to call from any state.
func (m *Manager) Disconnect() {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.state == StateIdle {
		m.mu.Unlock()
		return
	}
	m.gen++ // supersede in-flight dials, read loops and timers
	m.stopReconnectLocked()
	m.stopHeartbeatLocked()
	m.attempts = m.opt.MaxAttempts
	m.pending.clear()
	conn := m.conn
	m.conn = nil
	wasOpen := m.state == StateOpen
	m.state = StateIdle
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close(CloseNormal, "client disconnect")
	}
	if wasOpen {
		m.emitDisconnected(CloseNormal, "client disconnect")
	}
}

// Send delivers an event to the server when open, and queues it otherwise.
// Sending is always accepted; delivery is best-effort and may be deferred
// until a reconnect succeeds.
func (m *Manager) Send(event string, data any) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.state != StateOpen || m.conn == nil {
		m.pending.push(event, data)
		m.mu.Unlock()
		return
	}
	if !m.writeLocked(event, data) {
		m.pending.push(event, data)
	}
	m.mu.Unlock()
}

// Subscribe registers fn for the named event and returns its cancel token.
func (m *Manager) Subscribe(event string, fn func(Message)) *Subscription {
	if m == nil || fn == nil {
		return nil
	}
	return m.emitter.subscribe(event, fn)
}

// Unsubscribe removes every subscriber registered for the named event.
// Removing a single subscriber goes through Subscription.Cancel.
func (m *Manager) Unsubscribe(event string) {
	if m == nil {
		return
	}
	m.emitter.removeAll(event)
}

func (m *Manager) dialLocked() {
	m.state = StateConnecting
	m.gen++
	go m.dial(m.gen)
}

func (m *Manager) dial(gen uint64) {
	conn, err := m.opt.Dialer.Dial(context.Background(), m.opt.Endpoint)

	m.mu.Lock()
	if gen != m.gen || m.state != StateConnecting {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close(CloseNormal, "superseded")
		}
		return
	}
	if err != nil {
		logs.Errorf("realtime: dial %s failed: %v", m.opt.Endpoint, err)
		m.closedLocked(CloseAbnormal, err.Error())
		return
	}

	m.conn = conn
	m.state = StateOpen
	m.attempts = 0
	m.startHeartbeatLocked()
	m.drainLocked()
	go m.readLoop(conn, gen)
	m.mu.Unlock()

	m.emitter.emit(EventConnected, localMessage(EventConnected, ConnectedData{Timestamp: time.Now()}))
}

func (m *Manager) readLoop(conn Transport, gen uint64) {
	for {
		payload, err := conn.ReadMessage()
		if err != nil {
			code, reason := closeStatus(err)
			m.mu.Lock()
			if gen != m.gen || m.state != StateOpen {
				m.mu.Unlock()
				return
			}
			m.closedLocked(code, reason)
			return
		}
		m.dispatch(payload)
	}
}

// dispatch parses an inbound frame and re-emits it under its type name.
// Malformed frames are dropped with a diagnostic; the heartbeat
// acknowledgment is consumed and never forwarded.
func (m *Manager) dispatch(payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		logs.Errorf("realtime: drop malformed frame: %v", err)
		return
	}
	if env.Type == "" {
		logs.Errorf("realtime: drop frame without type")
		return
	}
	if env.Type == EventPong {
		return
	}
	at := env.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	m.emitter.emit(env.Type, Message{Type: env.Type, Data: env.Data, At: at})
}

// closedLocked transitions to Closed, schedules a reconnect when attempts
// remain, releases the lock, and emits the disconnected event.
func (m *Manager) closedLocked(code CloseCode, reason string) {
	m.stopHeartbeatLocked()
	if m.conn != nil {
		_ = m.conn.Close(CloseNormal, "session end")
		m.conn = nil
	}
	m.state = StateClosed

	if m.attempts < m.opt.MaxAttempts {
		m.attempts++
		delay := m.opt.Backoff.Next(m.attempts)
		m.scheduleReconnectLocked(delay)
		logs.Infof("realtime: reconnect %d/%d in %s", m.attempts, m.opt.MaxAttempts, delay)
	} else {
		logs.Errorf("realtime: reconnect attempts exhausted (%d)", m.opt.MaxAttempts)
	}
	m.mu.Unlock()

	m.emitDisconnected(code, reason)
}

func (m *Manager) scheduleReconnectLocked(delay time.Duration) {
	m.stopReconnectLocked()
	gen := m.gen
	m.reconnect = time.AfterFunc(delay, func() {
		m.mu.Lock()
		if gen != m.gen || m.state != StateClosed {
			m.mu.Unlock()
			return
		}
		m.reconnect = nil
		m.dialLocked()
		m.mu.Unlock()
	})
}

func (m *Manager) stopReconnectLocked() {
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
}

func (m *Manager) startHeartbeatLocked() {
	m.stopHeartbeatLocked()
	if m.opt.HeartbeatInterval <= 0 {
		return
	}
	hb := &heartbeat{
		ticker: time.NewTicker(m.opt.HeartbeatInterval),
		done:   make(chan struct{}),
	}
	m.heartbeat = hb
	go func() {
		for {
			select {
			case <-hb.done:
				return
			case <-hb.ticker.C:
				m.Send(EventPing, PingData{Timestamp: time.Now()})
			}
		}
	}()
}

func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeat != nil {
		m.heartbeat.ticker.Stop()
		close(m.heartbeat.done)
		m.heartbeat = nil
	}
}

// writeLocked is the single write path shared by live sends and queue
// draining. It reports false when the transport rejected the write; an
// unencodable payload is dropped with a diagnostic and counts as consumed.
func (m *Manager) writeLocked(event string, data any) bool {
	payload, err := encodeEnvelope(event, data, time.Now())
	if err != nil {
		logs.Errorf("realtime: drop unencodable %q payload: %v", event, err)
		return true
	}
	if err := m.conn.WriteMessage(payload); err != nil {
		logs.Errorf("realtime: write %q failed: %v", event, err)
		return false
	}
	return true
}

// drainLocked flushes queued messages in FIFO order. It runs before the
// connected event is emitted, so sends issued by connected-subscribers
// land after the backlog. A message that fails again is re-queued at the
// head and draining stops.
func (m *Manager) drainLocked() {
	queued := m.pending.takeAll()
	for i, msg := range queued {
		if !m.writeLocked(msg.event, msg.data) {
			m.pending.requeue(queued[i:])
			return
		}
	}
}

func (m *Manager) emitDisconnected(code CloseCode, reason string) {
	m.emitter.emit(EventDisconnected, localMessage(EventDisconnected, DisconnectedData{
		Code:      code,
		Reason:    reason,
		Timestamp: time.Now(),
	}))
}

func localMessage(eventType string, data any) Message {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = nil
	}
	return Message{Type: eventType, Data: raw, At: time.Now()}
}
