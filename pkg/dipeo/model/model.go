// Package model defines the provider-neutral chat completion interface
// used by agent-addressing nodes, plus a deterministic mock for tests.
package model

import (
	"context"
	"fmt"
	"sync"
)

// Role identifies the author of a chat message.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request captures the normalized model input produced by agent nodes.
type Request struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int64     `json:"max_tokens,omitempty"`
}

// Usage captures token usage statistics for a response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a completed generation.
type Response struct {
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason"` // "stop", "length", etc.
	Usage        *Usage `json:"usage,omitempty"`
}

// Info contains metadata about a client implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "anthropic", "openai", "mock", etc.
}

// Client is the minimal interface agent nodes need to drive generation.
// Implementations must be safe for concurrent use.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)

	// Info returns information about the client implementation.
	Info() Info
}

// Mock is a lightweight in-memory Client useful for tests and examples.
// It replies with a canned response for a known last-user-message, or a
// deterministic echo otherwise, and records every request it sees.
type Mock struct {
	mu        sync.Mutex
	info      Info
	responses map[string]string
	requests  []Request
}

// NewMock constructs a Mock client.
func NewMock(name string) *Mock {
	return &Mock{
		info:      Info{Name: name, Provider: "mock"},
		responses: make(map[string]string),
	}
}

// AddResponse registers a canned completion for a last user message.
func (m *Mock) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// Complete implements Client.
func (m *Mock) Complete(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	var lastUser string
	for _, msg := range req.Messages {
		if msg.Role == RoleUser {
			lastUser = msg.Content
		}
	}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	text, ok := m.responses[lastUser]
	m.mu.Unlock()

	if !ok {
		text = fmt.Sprintf("mock reply to: %s", lastUser)
	}
	return Response{Text: text, FinishReason: "stop"}, nil
}

// Info implements Client.
func (m *Mock) Info() Info { return m.info }

// Requests returns a copy of every request seen so far.
func (m *Mock) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}
