package realtime

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is a minimal interface for an established full-duplex channel.
// ReadMessage blocks until a data frame arrives or the channel dies.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(payload []byte) error
	Close(code CloseCode, reason string) error
}

// Dialer creates new transports.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Transport, error)
}

type wsDialer struct {
	timeout time.Duration
}

// NewDialer returns a gorilla-backed dialer with the given establish timeout.
func NewDialer(timeout time.Duration) Dialer {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	return &wsDialer{timeout: timeout}
}

func (d *wsDialer) Dial(ctx context.Context, endpoint string) (Transport, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	for {
		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		return data, nil
	}
}

func (t *wsTransport) WriteMessage(payload []byte) error {
	return t.conn.WriteMessage(websocket.TextMessage, payload)
}

func (t *wsTransport) Close(code CloseCode, reason string) error {
	deadline := time.Now().Add(time.Second)
	_ = t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(int(code), reason),
		deadline,
	)
	return t.conn.Close()
}

// closeStatus extracts a close code and reason from a read error.
// Transports without close-frame semantics report an abnormal closure.
func closeStatus(err error) (CloseCode, string) {
	if err == nil {
		return CloseNormal, ""
	}
	if ce, ok := err.(*websocket.CloseError); ok {
		return CloseCode(ce.Code), ce.Text
	}
	return CloseAbnormal, err.Error()
}
