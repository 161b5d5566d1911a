package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// ChatRequest is the prompt forwarded to the AI proxy.
type ChatRequest struct {
	ConversationID string `json:"conversationId,omitempty"`
	Model          string `json:"model,omitempty"`
	Prompt         string `json:"prompt"`
}

// ChatChunk is one piece of a streamed response.
type ChatChunk struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// ChunkFunc receives streamed chunks in arrival order.
type ChunkFunc func(ChatChunk)

// StreamChat posts the request to the AI proxy and delivers the
// line-delimited JSON chunks until one is marked done or the stream
// ends. Malformed lines are skipped with a diagnostic.
func (c *Client) StreamChat(ctx context.Context, req ChatRequest, onChunk ChunkFunc) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limit")
	}

	encoded, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "encode chat request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opt.BaseURL+"/chat/stream", bytes.NewReader(encoded))
	if err != nil {
		return errors.Wrap(err, "build chat request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	// the streaming call must outlive the default request timeout
	httpc := &http.Client{Transport: c.opt.HTTPClient.Transport}
	resp, err := httpc.Do(httpReq)
	if err != nil {
		return errors.Wrap(err, "chat stream")
	}
	defer resp.Body.Close()
	if err := statusError(resp); err != nil {
		return err
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ChatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			logs.Errorf("api: skip malformed chat chunk: %v", err)
			continue
		}
		onChunk(chunk)
		if chunk.Done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return errors.Wrap(err, "read chat stream")
	}
	return nil
}
