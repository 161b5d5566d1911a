package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"
)

var errConnRefused = errors.New("connection refused")

type fakeTransport struct {
	mu       sync.Mutex
	wrote    [][]byte
	writeErr error
	closed   bool

	inbound chan []byte
	failure chan error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan []byte, 16),
		failure: make(chan error, 1),
	}
}

func (t *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case payload := <-t.inbound:
		return payload, nil
	case err := <-t.failure:
		return nil, err
	}
}

func (t *fakeTransport) WriteMessage(payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writeErr != nil {
		return t.writeErr
	}
	t.wrote = append(t.wrote, append([]byte(nil), payload...))
	return nil
}

func (t *fakeTransport) Close(code CloseCode, reason string) error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) inject(tb testing.TB, eventType string, data any) {
	tb.Helper()
	payload, err := encodeEnvelope(eventType, data, time.Now())
	require.NoError(tb, err)
	t.inbound <- payload
}

func (t *fakeTransport) fail(err error) {
	t.failure <- err
}

func (t *fakeTransport) writeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.wrote)
}

func (t *fakeTransport) writtenTypes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	types := make([]string, 0, len(t.wrote))
	for _, payload := range t.wrote {
		var env envelope
		if json.Unmarshal(payload, &env) == nil {
			types = append(types, env.Type)
		}
	}
	return types
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type fakeDialer struct {
	mu       sync.Mutex
	conns    []*fakeTransport
	failures int
	dials    int
}

func (d *fakeDialer) Dial(ctx context.Context, endpoint string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failures > 0 {
		d.failures--
		return nil, errConnRefused
	}
	conn := newFakeTransport()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) setFailures(n int) {
	d.mu.Lock()
	d.failures = n
	d.mu.Unlock()
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func newTestManager(opt Option, dialer *fakeDialer) *Manager {
	opt.Dialer = dialer
	if opt.HeartbeatInterval == 0 {
		opt.HeartbeatInterval = -1
	}
	if opt.Backoff.Base == 0 {
		opt.Backoff = Backoff{Base: time.Millisecond, MaxExponent: 2}
	}
	return New(opt)
}

func waitOpen(t *testing.T, m *Manager) {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.State() == StateOpen
	}, time.Second, time.Millisecond)
}

func TestQueuedSendsFlushInOrder(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(Option{}, dialer)

	m.Send(EventChatMessage, ChatTextData{Text: "first"})
	m.Send(EventExecuteCommand, map[string]string{"command": "ls"})
	m.Send(EventChatMessage, ChatTextData{Text: "second"})
	assert.Equal(t, 3, m.Pending())
	assert.Equal(t, 0, dialer.dialCount(), "queued sends must not auto-dial")

	m.Connect()
	waitOpen(t, m)
	defer m.Disconnect()

	conn := dialer.last()
	require.Eventually(t, func() bool { return conn.writeCount() == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{EventChatMessage, EventExecuteCommand, EventChatMessage}, conn.writtenTypes())
	assert.Equal(t, 0, m.Pending())
}

func TestConnectWhileOpenIsNoop(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(Option{}, dialer)

	connected := make(chan Message, 4)
	m.Subscribe(EventConnected, func(msg Message) { connected <- msg })

	m.Connect()
	waitOpen(t, m)
	defer m.Disconnect()
	<-connected

	m.Connect()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, dialer.dialCount())
	assert.Empty(t, connected, "no duplicate connected event")
}

func TestBackoffDelays(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, MaxExponent: 3}
	assert.Equal(t, 100*time.Millisecond, b.Next(1))
	assert.Equal(t, 200*time.Millisecond, b.Next(2))
	assert.Equal(t, 400*time.Millisecond, b.Next(3))
	assert.Equal(t, 800*time.Millisecond, b.Next(4))
	assert.Equal(t, 800*time.Millisecond, b.Next(5), "exponent capped")
	assert.Equal(t, 100*time.Millisecond, b.Next(0), "attempt floors at 1")
}

func TestReconnectScheduledNoEarlierThanBackoff(t *testing.T) {
	dialer := &fakeDialer{}
	dialer.setFailures(1)
	m := newTestManager(Option{MaxAttempts: 2, Backoff: Backoff{Base: 60 * time.Millisecond, MaxExponent: 2}}, dialer)
	defer m.Disconnect()

	start := time.Now()
	m.Connect()
	require.Eventually(t, func() bool { return dialer.dialCount() == 2 }, time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	waitOpen(t, m)
}

func TestRetriesExhaustedThenExplicitConnectRecovers(t *testing.T) {
	dialer := &fakeDialer{}
	dialer.setFailures(100)
	m := newTestManager(Option{MaxAttempts: 2}, dialer)

	disconnected := make(chan Message, 8)
	m.Subscribe(EventDisconnected, func(msg Message) { disconnected <- msg })

	m.Connect()
	// initial dial plus exactly two automatic retries
	require.Eventually(t, func() bool { return dialer.dialCount() == 3 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 3, dialer.dialCount(), "no retries after attempts exhausted")
	assert.Equal(t, StateClosed, m.State())

	require.Eventually(t, func() bool { return len(disconnected) == 3 }, time.Second, time.Millisecond)

	dialer.setFailures(0)
	m.Connect()
	waitOpen(t, m)
	m.Disconnect()
}

func TestDisconnectThenConnectSingleTransport(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(Option{}, dialer)

	var disconnected []Message
	var mu sync.Mutex
	m.Subscribe(EventDisconnected, func(msg Message) {
		mu.Lock()
		disconnected = append(disconnected, msg)
		mu.Unlock()
	})

	m.Connect()
	waitOpen(t, m)
	first := dialer.last()

	m.Disconnect()
	assert.Equal(t, StateIdle, m.State())
	assert.True(t, first.isClosed())

	m.Connect()
	waitOpen(t, m)
	defer m.Disconnect()

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	require.Len(t, disconnected, 1, "exactly one disconnected for the explicit close")
	mu.Unlock()

	var data DisconnectedData
	require.NoError(t, disconnected[0].Decode(&data))
	assert.Equal(t, CloseNormal, data.Code)
	assert.NotSame(t, first, dialer.last())
}

func TestDisconnectClearsQueueAndIsIdempotent(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(Option{}, dialer)

	m.Send(EventChatMessage, ChatTextData{Text: "never sent"})
	assert.Equal(t, 1, m.Pending())

	m.Disconnect() // idle, is a no-op
	assert.Equal(t, 1, m.Pending())

	m.Connect()
	waitOpen(t, m)
	m.Send(EventChatMessage, ChatTextData{Text: "x"})
	dialer.last().mu.Lock()
	dialer.last().writeErr = errConnRefused
	dialer.last().mu.Unlock()
	m.Send(EventChatMessage, ChatTextData{Text: "queued on write failure"})
	assert.Equal(t, 1, m.Pending())

	m.Disconnect()
	assert.Equal(t, 0, m.Pending())
	m.Disconnect() // already idle
	assert.Equal(t, StateIdle, m.State())
}

func TestWriteFailureQueuesLikeDisconnected(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(Option{}, dialer)
	m.Connect()
	waitOpen(t, m)
	defer m.Disconnect()

	conn := dialer.last()
	conn.mu.Lock()
	conn.writeErr = errConnRefused
	conn.mu.Unlock()

	m.Send(EventChatMessage, ChatTextData{Text: "hi"})
	assert.Equal(t, 1, m.Pending())
}

func TestSubscriberPanicIsolated(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(Option{}, dialer)
	m.Connect()
	waitOpen(t, m)
	defer m.Disconnect()

	got := make(chan string, 4)
	m.Subscribe(EventChatStream, func(Message) { panic("boom") })
	m.Subscribe(EventChatStream, func(msg Message) { got <- msg.Type })
	m.Subscribe(EventTaskUpdate, func(msg Message) { got <- msg.Type })

	conn := dialer.last()
	conn.inject(t, EventChatStream, ChatTextData{Text: "hi"})
	assert.Equal(t, EventChatStream, <-got)

	conn.inject(t, EventTaskUpdate, TaskUpdateData{TaskID: "t1", Status: "done"})
	assert.Equal(t, EventTaskUpdate, <-got)
}

func TestHeartbeatOnlyWhileOpen(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(Option{HeartbeatInterval: 15 * time.Millisecond, MaxAttempts: 1}, dialer)
	m.Connect()
	waitOpen(t, m)

	conn := dialer.last()
	require.Eventually(t, func() bool {
		for _, eventType := range conn.writtenTypes() {
			if eventType == EventPing {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)

	m.Disconnect()
	count := conn.writeCount()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, count, conn.writeCount(), "no pings after leaving open")
}

func TestRoundTripDispatch(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(Option{}, dialer)
	m.Connect()
	waitOpen(t, m)
	defer m.Disconnect()

	got := make(chan Message, 2)
	m.Subscribe(EventChatStream, func(msg Message) { got <- msg })

	dialer.last().inject(t, EventChatStream, map[string]string{"text": "hi"})

	msg := <-got
	assert.Equal(t, KindChatStream, msg.Kind())
	var data ChatTextData
	require.NoError(t, msg.Decode(&data))
	assert.Equal(t, "hi", data.Text)

	select {
	case extra := <-got:
		t.Fatalf("subscriber invoked twice: %+v", extra)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestPongSwallowedAndUnknownForwarded(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(Option{}, dialer)
	m.Connect()
	waitOpen(t, m)
	defer m.Disconnect()

	got := make(chan string, 4)
	m.Subscribe(EventPong, func(msg Message) { got <- msg.Type })
	m.Subscribe("vendor_extension", func(msg Message) { got <- msg.Type })

	conn := dialer.last()
	conn.inject(t, EventPong, PingData{Timestamp: time.Now()})
	conn.inject(t, "vendor_extension", map[string]int{"n": 1})

	assert.Equal(t, "vendor_extension", <-got, "pong must be consumed internally")
	assert.Empty(t, got)
}

func TestMalformedFrameDropped(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(Option{}, dialer)
	m.Connect()
	waitOpen(t, m)
	defer m.Disconnect()

	got := make(chan Message, 2)
	m.Subscribe(EventChatResponse, func(msg Message) { got <- msg })

	conn := dialer.last()
	conn.inbound <- []byte("{not json")
	conn.inbound <- []byte(`{"data":{"text":"no type"}}`)
	conn.inject(t, EventChatResponse, ChatTextData{Text: "still alive"})

	msg := <-got
	var data ChatTextData
	require.NoError(t, msg.Decode(&data))
	assert.Equal(t, "still alive", data.Text)
	assert.Equal(t, StateOpen, m.State(), "malformed frames must not affect connection state")
}

func TestTransportDropTriggersReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(Option{}, dialer)

	events := make(chan string, 8)
	m.Subscribe(EventConnected, func(Message) { events <- EventConnected })
	m.Subscribe(EventDisconnected, func(Message) { events <- EventDisconnected })

	m.Connect()
	waitOpen(t, m)
	assert.Equal(t, EventConnected, <-events)

	m.Send(EventChatMessage, ChatTextData{Text: "before drop"})
	dialer.last().fail(errConnRefused)

	assert.Equal(t, EventDisconnected, <-events)
	assert.Equal(t, EventConnected, <-events)
	waitOpen(t, m)
	defer m.Disconnect()
	assert.Equal(t, 2, dialer.dialCount())
}
