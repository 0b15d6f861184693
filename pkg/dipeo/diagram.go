package dipeo

import (
	"time"

	"github.com/sorryhyun/DiPeO-sub003/pkg/dipeo/config"
)

// ContentType classifies the value carried by a connection.
// A connection always declares one of the three content types;
// the zero value is rejected at compile time.
type ContentType string

const (
	// ContentRawText delivers the text representation of the source envelope.
	ContentRawText ContentType = "raw_text"

	// ContentObject delivers the structured body of the source envelope.
	ContentObject ContentType = "object"

	// ContentConversation delivers conversation history for agent-addressing nodes.
	ContentConversation ContentType = "conversation_state"
)

// Valid reports whether ct is one of the three declared content types.
func (ct ContentType) Valid() bool {
	switch ct {
	case ContentRawText, ContentObject, ContentConversation:
		return true
	}
	return false
}

// DefaultHandle is the handle name used when a node side does not name one.
const DefaultHandle = "default"

// Handle describes a named input slot on a node.
type Handle struct {
	Name     string `yaml:"name" json:"name"`
	Required bool   `yaml:"required,omitempty" json:"required,omitempty"`
}

// RetryPolicy re-invokes a transiently failing handler before the node
// surfaces FAILED.
type RetryPolicy struct {
	MaxAttempts    int           `yaml:"max_attempts" json:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff,omitempty" json:"initial_backoff,omitempty"`
	MaxBackoff     time.Duration `yaml:"max_backoff,omitempty" json:"max_backoff,omitempty"`
	BackoffFactor  float64       `yaml:"backoff_factor,omitempty" json:"backoff_factor,omitempty"`
}

// Node is a diagram node. Immutable after compilation.
//
// MaxIteration bounds how many times the node may run within a single
// execution; it defaults to 1 and only matters for nodes re-armed by
// loop-back connections. Critical nodes abort the whole run on failure
// instead of only blocking their downstream.
type Node struct {
	ID           string
	Type         string
	Props        config.Config
	Inputs       []Handle
	Outputs      []string
	MaxIteration int
	Timeout      time.Duration
	Retry        *RetryPolicy
	Critical     bool
	AgentID      string
}

// Endpoint identifies one side of a connection as (node, handle).
type Endpoint struct {
	Node   string
	Handle string
}

// Connection is a directed data edge between two node handles.
// Branch carries the branch label for condition-node outputs and is
// empty everywhere else.
type Connection struct {
	From    Endpoint
	To      Endpoint
	Content ContentType
	Branch  string
}

// AgentSpec names an addressable agent identity referenced by nodes.
// The agent's conversation lives in memory.Manager, not in the diagram.
type AgentSpec struct {
	ID           string
	Model        string
	SystemPrompt string
}

// DiagramModel is an immutable, compiled diagram.
// It is created by Compiler.Compile and is safe to share across
// concurrent Execute calls.
type DiagramModel struct {
	name        string
	nodes       map[string]Node
	order       []string
	connections []Connection
	agents      map[string]AgentSpec
	agentOrder  []string

	// Pre-computed for scheduling
	incoming map[string][]int // node id -> connection indexes
	outgoing map[string][]int
	layers   map[string]int // topological layer hint; loop-backs close cycles
	cyclic   map[int]bool   // connection index -> participates in a cycle
	loopback map[int]bool   // connection index -> back edge of a cycle
}

// Name returns the diagram name.
func (d *DiagramModel) Name() string { return d.name }

// Node returns the node with the given id.
func (d *DiagramModel) Node(id string) (Node, bool) {
	n, ok := d.nodes[id]
	return n, ok
}

// NodeIDs returns all node ids in insertion order.
func (d *DiagramModel) NodeIDs() []string {
	ids := make([]string, len(d.order))
	copy(ids, d.order)
	return ids
}

// Connections returns a copy of all connections.
func (d *DiagramModel) Connections() []Connection {
	cs := make([]Connection, len(d.connections))
	copy(cs, d.connections)
	return cs
}

// Incoming returns the connections targeting the given node.
func (d *DiagramModel) Incoming(id string) []Connection {
	idxs := d.incoming[id]
	cs := make([]Connection, 0, len(idxs))
	for _, i := range idxs {
		cs = append(cs, d.connections[i])
	}
	return cs
}

// Outgoing returns the connections originating at the given node.
func (d *DiagramModel) Outgoing(id string) []Connection {
	idxs := d.outgoing[id]
	cs := make([]Connection, 0, len(idxs))
	for _, i := range idxs {
		cs = append(cs, d.connections[i])
	}
	return cs
}

// Agent returns the agent spec with the given id.
func (d *DiagramModel) Agent(id string) (AgentSpec, bool) {
	a, ok := d.agents[id]
	return a, ok
}

// AgentIDs returns all agent ids in insertion order.
func (d *DiagramModel) AgentIDs() []string {
	ids := make([]string, len(d.agentOrder))
	copy(ids, d.agentOrder)
	return ids
}

// Layer returns the topological layer hint for a node. Layers are the
// shortest distance from an entry node; a cycle places its back edge
// from a higher layer to a lower (or equal) one.
func (d *DiagramModel) Layer(id string) int { return d.layers[id] }

// IsLoopBack reports whether the connection at index i is the back edge
// of a cycle, i.e. the edge that re-arms its target for a new iteration.
func (d *DiagramModel) IsLoopBack(i int) bool { return d.loopback[i] }

// InCycle reports whether the connection at index i participates in a
// cycle at all (its target can reach its source).
func (d *DiagramModel) InCycle(i int) bool { return d.cyclic[i] }
