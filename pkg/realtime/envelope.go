package realtime

import (
	"encoding/json"
	"time"

	"github.com/yanun0323/errors"
)

// envelope is the wire frame exchanged with the server in both directions.
type envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

func encodeEnvelope(eventType string, data any, at time.Time) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, errors.Wrapf(err, "marshal %q payload", eventType)
		}
		raw = encoded
	}
	return json.Marshal(envelope{Type: eventType, Data: raw, Timestamp: at})
}

// Message is an inbound frame delivered to subscribers.
type Message struct {
	// Type is the wire type string, also the event name it was emitted under.
	Type string
	// Data is the raw payload; use Decode or the typed accessors.
	Data json.RawMessage
	// At is the envelope timestamp, or the local receive time when absent.
	At time.Time
}

// Kind classifies the message type, with KindUnknown for passthrough types.
func (m Message) Kind() Kind {
	return KindOf(m.Type)
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return errors.Errorf("message %q has no payload", m.Type)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return errors.Wrapf(err, "decode %q payload", m.Type)
	}
	return nil
}

// ConnectedData is the payload of a connected event. ConnectionID is set
// only on the server greeting, not on the locally emitted transition event.
type ConnectedData struct {
	ConnectionID string    `json:"connectionId,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// DisconnectedData is the payload of a locally emitted disconnected event.
type DisconnectedData struct {
	Code      CloseCode `json:"code"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatTextData is the payload of chat_response and chat_stream events.
type ChatTextData struct {
	Text string `json:"text"`
	Done bool   `json:"done,omitempty"`
}

// CommandOutputData is the payload of a command_output event.
type CommandOutputData struct {
	Output string `json:"output"`
	Stream string `json:"stream,omitempty"`
}

// CommandCompleteData is the payload of a command_complete event.
type CommandCompleteData struct {
	ExitCode int `json:"exitCode"`
}

// FileEventData is the payload of file_uploaded and file_change events.
type FileEventData struct {
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// TaskUpdateData is the payload of a task_update event.
type TaskUpdateData struct {
	TaskID string `json:"taskId"`
	Status string `json:"status"`
	Title  string `json:"title,omitempty"`
}

// ToolCallData is the payload of a tool_call event.
type ToolCallData struct {
	Tool   string `json:"tool"`
	Engine string `json:"engine,omitempty"`
	Query  string `json:"query,omitempty"`
}

// ToolResponseData is the payload of a tool_response event.
type ToolResponseData struct {
	Tool    string          `json:"tool"`
	Results json.RawMessage `json:"results,omitempty"`
}

// ErrorData is the payload of an error event.
type ErrorData struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// PingData is the payload of heartbeat ping frames.
type PingData struct {
	Timestamp time.Time `json:"timestamp"`
}
