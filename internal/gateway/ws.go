package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"main/internal/search"
	"main/internal/store"
	"main/pkg/realtime"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/yanun0323/logs"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type wireFrame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// session is one connected realtime client. Writes are serialized
// through the send channel; the read loop is the only reader.
type session struct {
	gateway *Gateway
	conn    *websocket.Conn
	id      string
	send    chan wireFrame
	done    chan struct{}
}

func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logs.Errorf("gateway: upgrade failed: %v", err)
		return
	}

	s := &session{
		gateway: g,
		conn:    conn,
		id:      "conn_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		send:    make(chan wireFrame, 32),
		done:    make(chan struct{}),
	}
	logs.Infof("gateway: client connected, id: %s", s.id)

	go s.writeLoop()
	s.push(realtime.EventConnected, realtime.ConnectedData{ConnectionID: s.id, Timestamp: time.Now().UTC()})
	s.readLoop(r.Context())
}

func (s *session) push(eventType string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		logs.Errorf("gateway: encode %q payload: %v", eventType, err)
		return
	}
	select {
	case s.send <- wireFrame{Type: eventType, Data: raw, Timestamp: time.Now().UTC()}:
	case <-s.done:
	}
}

func (s *session) writeLoop() {
	defer s.conn.Close()
	for {
		select {
		case frame := <-s.send:
			if err := s.conn.WriteJSON(frame); err != nil {
				logs.Errorf("gateway: write to %s failed: %v", s.id, err)
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *session) readLoop(ctx context.Context) {
	defer close(s.done)
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			logs.Infof("gateway: client disconnected, id: %s", s.id)
			return
		}

		var frame wireFrame
		if err := json.Unmarshal(payload, &frame); err != nil || frame.Type == "" {
			logs.Errorf("gateway: drop malformed frame from %s", s.id)
			continue
		}
		s.dispatch(ctx, frame)
	}
}

func (s *session) dispatch(ctx context.Context, frame wireFrame) {
	switch frame.Type {
	case realtime.EventPing:
		s.push(realtime.EventPong, realtime.PingData{Timestamp: time.Now().UTC()})
	case realtime.EventToolCall:
		s.handleToolCall(ctx, frame.Data)
	case realtime.EventChatMessage:
		s.handleChatMessage(ctx, frame.Data)
	case realtime.EventExecuteCommand:
		s.handleExecuteCommand(frame.Data)
	default:
		// Unknown types echo back so clients can observe their own traffic.
		s.push(realtime.EventEcho, frame)
	}
}

func (s *session) handleToolCall(ctx context.Context, data json.RawMessage) {
	var call realtime.ToolCallData
	if err := json.Unmarshal(data, &call); err != nil {
		s.pushError("invalid tool_call payload")
		return
	}
	if call.Tool != "search" {
		s.pushError("unsupported tool: " + call.Tool)
		return
	}
	engine, err := search.ParseEngine(call.Engine)
	if err != nil {
		s.pushError("unsupported search engine: " + call.Engine)
		return
	}
	results, err := s.gateway.opt.Search.Search(ctx, engine, call.Query)
	if err != nil {
		logs.Errorf("gateway: tool search failed: %v", err)
		s.pushError(err.Error())
		return
	}
	raw, err := json.Marshal(results)
	if err != nil {
		s.pushError("encode search results")
		return
	}
	s.push(realtime.EventToolResponse, realtime.ToolResponseData{
		Tool:    call.Tool,
		Results: raw,
	})
}

func (s *session) handleChatMessage(ctx context.Context, data json.RawMessage) {
	var msg struct {
		Text           string `json:"text"`
		ConversationID string `json:"conversationId"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		s.pushError("invalid chat_message payload")
		return
	}
	if msg.ConversationID != "" {
		if _, err := s.gateway.opt.Conversations.Append(ctx, msg.ConversationID, store.RoleUser, msg.Text); err != nil {
			logs.Errorf("gateway: record chat message: %v", err)
		}
	}

	var full strings.Builder
	for _, chunk := range chatReplyChunks(msg.Text) {
		full.WriteString(chunk)
		s.push(realtime.EventChatStream, realtime.ChatTextData{Text: chunk})
		if s.gateway.opt.StreamChunkDelay > 0 {
			time.Sleep(s.gateway.opt.StreamChunkDelay)
		}
	}
	s.push(realtime.EventChatResponse, realtime.ChatTextData{Text: full.String(), Done: true})

	if msg.ConversationID != "" {
		if _, err := s.gateway.opt.Conversations.Append(ctx, msg.ConversationID, store.RoleAssistant, full.String()); err != nil {
			logs.Errorf("gateway: record chat reply: %v", err)
		}
	}
}

func (s *session) handleExecuteCommand(data json.RawMessage) {
	var cmd struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(data, &cmd); err != nil || strings.TrimSpace(cmd.Command) == "" {
		s.pushError("invalid execute_command payload")
		return
	}
	result := runCommand(cmd.Command)
	s.push(realtime.EventCommandOutput, realtime.CommandOutputData{Output: result["output"].(string)})
	s.push(realtime.EventCommandComplete, realtime.CommandCompleteData{ExitCode: result["exitCode"].(int)})
}

func (s *session) pushError(message string) {
	s.push(realtime.EventError, realtime.ErrorData{Message: message})
}
