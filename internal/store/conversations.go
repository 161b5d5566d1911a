// Package store holds the client-side application state: conversations,
// settings, tasks and uploaded files. Containers mutate in memory and
// write through to the key-value store on every change.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"main/pkg/kv"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
)

var (
	// ErrConversationNotFound is returned for an unknown conversation id.
	ErrConversationNotFound = errors.New("store: conversation not found")
	// ErrNoStreamingMessage is returned when a stream chunk arrives with no
	// assistant message open.
	ErrNoStreamingMessage = errors.New("store: no streaming message")
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

const nsConversations = "conversations"

// ChatMessage is one message inside a conversation.
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	Streaming bool      `json:"streaming,omitempty"`
}

// Conversation is a persisted chat thread.
type Conversation struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Model     string        `json:"model,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
	Messages  []ChatMessage `json:"messages"`
}

// Conversations is the conversation state container.
type Conversations struct {
	store kv.Store

	mu    sync.Mutex
	items map[string]*Conversation
}

// NewConversations loads existing conversations from the store.
func NewConversations(ctx context.Context, store kv.Store) (*Conversations, error) {
	c := &Conversations{
		store: store,
		items: make(map[string]*Conversation),
	}
	keys, err := store.Keys(ctx, nsConversations)
	if err != nil {
		return nil, errors.Wrap(err, "list conversations")
	}
	for _, key := range keys {
		var conv Conversation
		if err := kv.GetJSON(ctx, store, nsConversations, key, &conv); err != nil {
			return nil, errors.Wrapf(err, "load conversation %s", key)
		}
		c.items[conv.ID] = &conv
	}
	return c, nil
}

// Create starts a new conversation and persists it.
func (c *Conversations) Create(ctx context.Context, title, model string) (Conversation, error) {
	now := time.Now()
	conv := &Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		Model:     model,
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[conv.ID] = conv
	if err := c.persistLocked(ctx, conv); err != nil {
		delete(c.items, conv.ID)
		return Conversation{}, err
	}
	return *conv, nil
}

// Get returns a copy of the conversation.
func (c *Conversations) Get(id string) (Conversation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.items[id]
	if !ok {
		return Conversation{}, ErrConversationNotFound
	}
	return cloneConversation(conv), nil
}

// List returns all conversations, most recently updated first.
func (c *Conversations) List() []Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := make([]Conversation, 0, len(c.items))
	for _, conv := range c.items {
		list = append(list, cloneConversation(conv))
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
	return list
}

// Rename updates the conversation title.
func (c *Conversations) Rename(ctx context.Context, id, title string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.items[id]
	if !ok {
		return ErrConversationNotFound
	}
	conv.Title = title
	conv.UpdatedAt = time.Now()
	return c.persistLocked(ctx, conv)
}

// Delete removes the conversation from memory and the store.
func (c *Conversations) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[id]; !ok {
		return ErrConversationNotFound
	}
	delete(c.items, id)
	if err := c.store.Remove(ctx, nsConversations, id); err != nil {
		return errors.Wrapf(err, "remove conversation %s", id)
	}
	return nil
}

// Append adds a message to the conversation.
func (c *Conversations) Append(ctx context.Context, id, role, content string) (ChatMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.items[id]
	if !ok {
		return ChatMessage{}, ErrConversationNotFound
	}
	msg := ChatMessage{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = msg.CreatedAt
	if err := c.persistLocked(ctx, conv); err != nil {
		conv.Messages = conv.Messages[:len(conv.Messages)-1]
		return ChatMessage{}, err
	}
	return msg, nil
}

// AppendStreamChunk appends text to the open assistant message, creating
// one when the chunk is the first of a response.
func (c *Conversations) AppendStreamChunk(ctx context.Context, id, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.items[id]
	if !ok {
		return ErrConversationNotFound
	}
	if n := len(conv.Messages); n > 0 && conv.Messages[n-1].Streaming {
		conv.Messages[n-1].Content += text
	} else {
		conv.Messages = append(conv.Messages, ChatMessage{
			ID:        uuid.NewString(),
			Role:      RoleAssistant,
			Content:   text,
			CreatedAt: time.Now(),
			Streaming: true,
		})
	}
	conv.UpdatedAt = time.Now()
	return c.persistLocked(ctx, conv)
}

// FinishStream marks the open assistant message as complete.
func (c *Conversations) FinishStream(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.items[id]
	if !ok {
		return ErrConversationNotFound
	}
	n := len(conv.Messages)
	if n == 0 || !conv.Messages[n-1].Streaming {
		return ErrNoStreamingMessage
	}
	conv.Messages[n-1].Streaming = false
	conv.UpdatedAt = time.Now()
	return c.persistLocked(ctx, conv)
}

func (c *Conversations) persistLocked(ctx context.Context, conv *Conversation) error {
	if err := kv.SetJSON(ctx, c.store, nsConversations, conv.ID, conv); err != nil {
		return errors.Wrapf(err, "persist conversation %s", conv.ID)
	}
	return nil
}

func cloneConversation(conv *Conversation) Conversation {
	out := *conv
	out.Messages = append([]ChatMessage(nil), conv.Messages...)
	return out
}
