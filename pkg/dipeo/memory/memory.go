// Package memory provides per-agent conversation memory that persists
// independently of diagram control flow.
//
// An Agent is an addressable identity with exactly one Conversation — an
// ordered, append-only message log. The log accumulates messages from
// every node invocation that addresses the agent, across every run in
// the process lifetime. "Forget" is an explicit, destructive reset of
// the log before the requesting call; filtered views are advisory and
// never mutate the log.
package memory

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sorryhyun/DiPeO-sub003/pkg/dipeo/registry"
)

// Mode controls how much prior history a node invocation reads.
type Mode string

const (
	// ModeFull reads the whole prior history and appends afterwards.
	ModeFull Mode = "full"

	// ModeForget clears the agent's history before this call.
	// The reset is destructive and scoped to the whole conversation,
	// not a per-node view.
	ModeForget Mode = "forget"

	// ModeIsolated reads none of the prior history but still appends
	// this invocation's messages afterwards.
	ModeIsolated Mode = "isolated"
)

// ParseMode maps a property value to a Mode, defaulting to ModeFull.
func ParseMode(s string) Mode {
	switch Mode(s) {
	case ModeForget:
		return ModeForget
	case ModeIsolated:
		return ModeIsolated
	default:
		return ModeFull
	}
}

// Message is one entry in a conversation.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	NodeID    string    `json:"node_id,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage builds a message with a fresh id and timestamp.
func NewMessage(role, content, nodeID, runID string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		NodeID:    nodeID,
		RunID:     runID,
		CreatedAt: time.Now().UTC(),
	}
}

// Config carries the model configuration an agent was created with.
type Config struct {
	Model        string
	SystemPrompt string
}

// Conversation is an ordered, append-only message log.
// It only grows or is explicitly reset; ordering is never silently lost.
// Conversation is not safe for unguarded concurrent use — access it
// through Agent.Session, which serializes per agent.
type Conversation struct {
	messages []Message
}

// Append adds messages to the end of the log.
func (c *Conversation) Append(msgs ...Message) {
	c.messages = append(c.messages, msgs...)
}

// Messages returns a copy of the full log in order.
func (c *Conversation) Messages() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of messages.
func (c *Conversation) Len() int { return len(c.messages) }

// Reset clears the log. This is the only way history shrinks.
func (c *Conversation) Reset() { c.messages = nil }

// View returns a filtered copy of the log without mutating it.
// Criteria is a case-insensitive substring matched against role and
// content; empty criteria matches everything. When max > 0 only the
// most recent max matches are returned. Selection is advisory.
func (c *Conversation) View(criteria string, max int) []Message {
	criteria = strings.ToLower(criteria)
	matched := make([]Message, 0, len(c.messages))
	for _, m := range c.messages {
		if criteria == "" ||
			strings.Contains(strings.ToLower(m.Role), criteria) ||
			strings.Contains(strings.ToLower(m.Content), criteria) {
			matched = append(matched, m)
		}
	}
	if max > 0 && len(matched) > max {
		matched = matched[len(matched)-max:]
	}
	return matched
}

// Agent is an addressable identity owning one conversation.
// It outlives any single diagram run.
type Agent struct {
	id     string
	config Config

	// mu is the per-agent serialization point: the engine guarantee
	// that two concurrently running nodes never address the same agent
	// simultaneously is this mutex. A second Session call queues behind
	// the first, so message order matches real invocation order.
	mu   sync.Mutex
	conv Conversation
}

// ID returns the agent identifier.
func (a *Agent) ID() string { return a.id }

// Config returns the configuration the agent was created with.
func (a *Agent) Config() Config { return a.config }

// Session runs fn with exclusive access to the agent's conversation.
// The lock is held for the whole of fn, including any model calls made
// inside it; that is what keeps conversation ordering equal to real
// invocation order rather than an interleaving.
func (a *Agent) Session(fn func(c *Conversation)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(&a.conv)
}

// History returns a copy of the conversation under the agent lock.
func (a *Agent) History() []Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conv.Messages()
}

// Len returns the conversation length under the agent lock.
func (a *Agent) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conv.Len()
}

// Manager caches agents for the process (or an explicitly scoped
// session). Agents are created lazily on first address.
type Manager struct {
	agents *registry.Registry[string, *Agent]
}

// NewManager creates an empty agent cache.
func NewManager() *Manager {
	return &Manager{agents: registry.New[string, *Agent]()}
}

// GetOrCreateAgent returns the agent with the given id, creating it with
// cfg on first address. Idempotent: later calls return the cached agent
// and ignore cfg.
func (m *Manager) GetOrCreateAgent(id string, cfg Config) *Agent {
	return m.agents.GetOrCreate(id, func() *Agent {
		return &Agent{id: id, config: cfg}
	})
}

// Agent returns the cached agent with the given id, if any.
func (m *Manager) Agent(id string) (*Agent, bool) {
	return m.agents.Get(id)
}

// AgentIDs returns the ids of all cached agents. The order is not guaranteed.
func (m *Manager) AgentIDs() []string {
	return m.agents.Keys()
}

// Len returns the number of cached agents.
func (m *Manager) Len() int {
	return m.agents.Len()
}

// Remove drops an agent and its conversation from the cache.
func (m *Manager) Remove(id string) {
	m.agents.Delete(id)
}
