// Package api is the REST client for the chat backend: conversation CRUD,
// file upload, command execution and the chunked-text AI proxy call.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"main/internal/store"

	"github.com/yanun0323/errors"
	"golang.org/x/time/rate"
)

var (
	// ErrNotFound is returned when the backend reports 404.
	ErrNotFound = errors.New("api: not found")
	// ErrBadRequest is returned when the backend rejects the request.
	ErrBadRequest = errors.New("api: bad request")
)

// DefaultBaseURL is used when no base URL is configured.
const DefaultBaseURL = "http://localhost:8000"

// Option defines the client runtime configuration.
type Option struct {
	// BaseURL is the backend address. Optional; default DefaultBaseURL.
	BaseURL string
	// Timeout bounds non-streaming requests. Optional; default 30s.
	Timeout time.Duration
	// RequestsPerSecond throttles outgoing calls. Optional; default 10.
	RequestsPerSecond float64
	// HTTPClient overrides the transport. Optional.
	HTTPClient *http.Client
}

func (opt *Option) init() {
	if opt.BaseURL == "" {
		opt.BaseURL = DefaultBaseURL
	}
	if opt.Timeout <= 0 {
		opt.Timeout = 30 * time.Second
	}
	if opt.RequestsPerSecond <= 0 {
		opt.RequestsPerSecond = 10
	}
	if opt.HTTPClient == nil {
		opt.HTTPClient = &http.Client{Timeout: opt.Timeout}
	}
}

// Client talks to the chat backend over REST.
type Client struct {
	opt     Option
	limiter *rate.Limiter
}

// New builds a client.
func New(option ...Option) *Client {
	var opt Option
	if len(option) != 0 {
		opt = option[0]
	}
	opt.init()
	return &Client{
		opt:     opt,
		limiter: rate.NewLimiter(rate.Limit(opt.RequestsPerSecond), int(opt.RequestsPerSecond)+1),
	}
}

// ListConversations fetches all conversations.
func (c *Client) ListConversations(ctx context.Context) ([]store.Conversation, error) {
	var out []store.Conversation
	if err := c.doJSON(ctx, http.MethodGet, "/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateConversation starts a new conversation on the backend.
func (c *Client) CreateConversation(ctx context.Context, title, model string) (store.Conversation, error) {
	body := map[string]string{"title": title, "model": model}
	var out store.Conversation
	if err := c.doJSON(ctx, http.MethodPost, "/conversations", body, &out); err != nil {
		return store.Conversation{}, err
	}
	return out, nil
}

// GetConversation fetches one conversation with its messages.
func (c *Client) GetConversation(ctx context.Context, id string) (store.Conversation, error) {
	var out store.Conversation
	if err := c.doJSON(ctx, http.MethodGet, "/conversations/"+id, nil, &out); err != nil {
		return store.Conversation{}, err
	}
	return out, nil
}

// RenameConversation updates the conversation title.
func (c *Client) RenameConversation(ctx context.Context, id, title string) error {
	return c.doJSON(ctx, http.MethodPatch, "/conversations/"+id, map[string]string{"title": title}, nil)
}

// DeleteConversation removes a conversation.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/conversations/"+id, nil, nil)
}

// CommandResult is the outcome of a command execution.
type CommandResult struct {
	Output   string `json:"output"`
	ExitCode int    `json:"exitCode"`
}

// ExecuteCommand runs a command on the backend.
func (c *Client) ExecuteCommand(ctx context.Context, command string) (CommandResult, error) {
	var out CommandResult
	if err := c.doJSON(ctx, http.MethodPost, "/commands", map[string]string{"command": command}, &out); err != nil {
		return CommandResult{}, err
	}
	return out, nil
}

// ProgressFunc reports upload progress as bytes sent out of total.
type ProgressFunc func(sent, total int64)

// UploadFile streams a file to the backend, reporting progress as the
// body is consumed.
func (c *Client) UploadFile(ctx context.Context, name string, content io.Reader, size int64, progress ProgressFunc) (store.FileRecord, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return store.FileRecord{}, errors.Wrap(err, "rate limit")
	}

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		part, err := form.CreateFormFile("file", name)
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		src := content
		if progress != nil {
			src = &progressReader{r: content, total: size, fn: progress}
		}
		if _, err := io.Copy(part, src); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		_ = pw.CloseWithError(form.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opt.BaseURL+"/files", pr)
	if err != nil {
		return store.FileRecord{}, errors.Wrap(err, "build upload request")
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.opt.HTTPClient.Do(req)
	if err != nil {
		return store.FileRecord{}, errors.Wrap(err, "upload")
	}
	defer resp.Body.Close()
	if err := statusError(resp); err != nil {
		return store.FileRecord{}, err
	}

	var record store.FileRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return store.FileRecord{}, errors.Wrap(err, "decode upload response")
	}
	return record, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limit")
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "encode %s %s body", method, path)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.opt.BaseURL+path, reader)
	if err != nil {
		return errors.Wrapf(err, "build %s %s", method, path)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.opt.HTTPClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()
	if err := statusError(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s %s response", method, path)
	}
	return nil
}

func statusError(resp *http.Response) error {
	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Wrapf(ErrBadRequest, "status %d: %s", resp.StatusCode, string(detail))
	default:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Errorf("api: status %d: %s", resp.StatusCode, string(detail))
	}
}

type progressReader struct {
	r     io.Reader
	sent  int64
	total int64
	fn    ProgressFunc
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.sent += int64(n)
		p.fn(p.sent, p.total)
	}
	return n, err
}
