// Package gateway is the chat backend endpoint: REST routes for search,
// conversations, files and commands, plus the realtime WebSocket.
package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"main/internal/search"
	"main/internal/store"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Option wires the gateway's collaborators.
type Option struct {
	// Search serves tool_call and /search requests. Required.
	Search *search.Client
	// Conversations backs the conversation CRUD routes. Required.
	Conversations *store.Conversations
	// Files records uploads. Required.
	Files *store.Files
	// StreamChunkDelay paces simulated chat streaming. Optional; default 0.
	StreamChunkDelay time.Duration
}

// Gateway serves the chat backend API.
type Gateway struct {
	opt Option
}

// New builds a gateway.
func New(opt Option) (*Gateway, error) {
	if opt.Search == nil || opt.Conversations == nil || opt.Files == nil {
		return nil, errors.New("gateway: missing collaborator")
	}
	return &Gateway{opt: opt}, nil
}

// Handler returns the HTTP routes.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /search", g.handleSearch)
	mux.HandleFunc("GET /conversations", g.handleListConversations)
	mux.HandleFunc("POST /conversations", g.handleCreateConversation)
	mux.HandleFunc("GET /conversations/{id}", g.handleGetConversation)
	mux.HandleFunc("PATCH /conversations/{id}", g.handleRenameConversation)
	mux.HandleFunc("DELETE /conversations/{id}", g.handleDeleteConversation)
	mux.HandleFunc("POST /files", g.handleUpload)
	mux.HandleFunc("POST /commands", g.handleCommand)
	mux.HandleFunc("POST /chat/stream", g.handleChatStream)
	mux.HandleFunc("GET /ws", g.handleWS)
	return mux
}

type searchRequest struct {
	Query  string `json:"query"`
	Engine string `json:"engine"`
}

func (g *Gateway) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	engine, err := search.ParseEngine(req.Engine)
	if err != nil {
		httpError(w, http.StatusBadRequest, "unsupported search engine")
		return
	}
	results, err := g.opt.Search.Search(r.Context(), engine, req.Query)
	if err != nil {
		logs.Errorf("gateway: search failed: %v", err)
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.opt.Conversations.List())
}

func (g *Gateway) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
		Model string `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	conv, err := g.opt.Conversations.Create(r.Context(), body.Title, body.Model)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := g.opt.Conversations.Get(r.PathValue("id"))
	if err != nil {
		httpError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (g *Gateway) handleRenameConversation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := g.opt.Conversations.Rename(r.Context(), r.PathValue("id"), body.Title); err != nil {
		httpError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (g *Gateway) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := g.opt.Conversations.Delete(r.Context(), r.PathValue("id")); err != nil {
		httpError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (g *Gateway) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		httpError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	size, err := countBytes(file)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	record, err := g.opt.Files.Add(r.Context(), header.Filename, "", size)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (g *Gateway) handleCommand(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Command string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Command) == "" {
		httpError(w, http.StatusBadRequest, "missing command")
		return
	}
	result := runCommand(body.Command)
	writeJSON(w, http.StatusOK, result)
}

type chatStreamRequest struct {
	Prompt string `json:"prompt"`
}

// handleChatStream is the development stand-in for the AI proxy: it
// streams the canned reply word by word as line-delimited JSON.
func (g *Gateway) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")
	encoder := json.NewEncoder(w)
	for _, word := range chatReplyChunks(req.Prompt) {
		_ = encoder.Encode(map[string]any{"text": word})
		if flusher != nil {
			flusher.Flush()
		}
		if g.opt.StreamChunkDelay > 0 {
			time.Sleep(g.opt.StreamChunkDelay)
		}
	}
	_ = encoder.Encode(map[string]any{"text": "", "done": true})
}

func chatReplyChunks(prompt string) []string {
	reply := "You said: " + strings.TrimSpace(prompt)
	words := strings.Fields(reply)
	chunks := make([]string, 0, len(words))
	for i, word := range words {
		if i > 0 {
			word = " " + word
		}
		chunks = append(chunks, word)
	}
	return chunks
}

// runCommand simulates command execution; the sandboxed runner lives
// outside this repository.
func runCommand(command string) map[string]any {
	return map[string]any{
		"output":   "executed: " + command,
		"exitCode": 0,
	}
}

func countBytes(r io.Reader) (int64, error) {
	n, err := io.Copy(io.Discard, r)
	if err != nil {
		return 0, errors.Wrap(err, "read upload")
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logs.Errorf("gateway: write response: %v", err)
	}
}

func httpError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
