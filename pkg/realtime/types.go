package realtime

import "time"

// State is the lifecycle state of a Manager connection.
type State uint8

const (
	// StateIdle means no connection exists and none is pending.
	StateIdle State = iota
	// StateConnecting means a dial is in flight.
	StateConnecting
	// StateOpen means the transport is established and writable.
	StateOpen
	// StateClosed means the transport dropped; a reconnect may be pending.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CloseCode is a WebSocket close code.
type CloseCode int

const (
	// CloseNormal indicates a clean closure.
	CloseNormal CloseCode = 1000
	// CloseGoingAway indicates the peer is going away.
	CloseGoingAway CloseCode = 1001
	// CloseAbnormal indicates the transport dropped without a close frame.
	CloseAbnormal CloseCode = 1006
)

// Event names produced by senders through the manager.
const (
	EventExecuteCommand = "execute_command"
	EventChatMessage    = "chat_message"
	EventUploadFile     = "upload_file"
	EventJoinSession    = "join_session"
	EventLeaveSession   = "leave_session"
	EventToolCall       = "tool_call"
	EventPing           = "ping"
)

// Event names recognized on the inbound side. Any other inbound type is
// forwarded to subscribers under its own name.
const (
	EventConnected       = "connected"
	EventDisconnected    = "disconnected"
	EventChatResponse    = "chat_response"
	EventChatStream      = "chat_stream"
	EventCommandOutput   = "command_output"
	EventCommandComplete = "command_complete"
	EventFileUploaded    = "file_uploaded"
	EventFileChange      = "file_change"
	EventTaskUpdate      = "task_update"
	EventToolResponse    = "tool_response"
	EventError           = "error"
	EventEcho            = "echo"
	EventPong            = "pong"
)

// Kind is the closed enumeration over recognized message types.
// Unrecognized type strings map to KindUnknown and are still forwarded.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindConnected
	KindDisconnected
	KindChatResponse
	KindChatStream
	KindCommandOutput
	KindCommandComplete
	KindFileUploaded
	KindFileChange
	KindTaskUpdate
	KindToolCall
	KindToolResponse
	KindError
	KindEcho
	KindPing
	KindPong
)

var kindByType = map[string]Kind{
	EventConnected:       KindConnected,
	EventDisconnected:    KindDisconnected,
	EventChatResponse:    KindChatResponse,
	EventChatStream:      KindChatStream,
	EventCommandOutput:   KindCommandOutput,
	EventCommandComplete: KindCommandComplete,
	EventFileUploaded:    KindFileUploaded,
	EventFileChange:      KindFileChange,
	EventTaskUpdate:      KindTaskUpdate,
	EventToolCall:        KindToolCall,
	EventToolResponse:    KindToolResponse,
	EventError:           KindError,
	EventEcho:            KindEcho,
	EventPing:            KindPing,
	EventPong:            KindPong,
}

// KindOf maps a wire type string to its Kind.
func KindOf(eventType string) Kind {
	if kind, ok := kindByType[eventType]; ok {
		return kind
	}
	return KindUnknown
}

// Backoff computes reconnect delays as base * 2^min(attempt-1, MaxExponent).
type Backoff struct {
	// Base is the delay before the first reconnect attempt.
	Base time.Duration
	// MaxExponent caps the doubling so the delay stops growing.
	MaxExponent int
}

// DefaultBackoff provides conservative reconnect defaults.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:        time.Second,
		MaxExponent: 5,
	}
}

// Next returns the delay for the given attempt (1-based).
func (b Backoff) Next(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	exp := attempt - 1
	if b.MaxExponent >= 0 && exp > b.MaxExponent {
		exp = b.MaxExponent
	}
	return base << exp
}
