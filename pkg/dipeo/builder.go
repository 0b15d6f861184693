package dipeo

import (
	"fmt"
	"strings"
	"sync"
)

// Diagram is a mutable builder for diagram definitions.
// Use NewDiagram to create one, then chain AddNode, Connect, and
// AddAgent calls to define the workflow.
//
// Diagram is NOT thread-safe during building. Construct it from a single
// goroutine, then call Compiler.Compile to create an immutable
// DiagramModel that can be safely shared.
//
// Example:
//
//	d := dipeo.NewDiagram("summarize").
//	    AddNode(dipeo.Node{ID: "start", Type: "start"}).
//	    AddNode(dipeo.Node{ID: "ask", Type: "person", AgentID: "assistant"}).
//	    Connect(dipeo.Conn("start", "ask", dipeo.ContentRawText))
type Diagram struct {
	mu          sync.RWMutex
	name        string
	nodes       []Node
	seen        map[string]bool
	connections []Connection
	agents      []AgentSpec
}

// NewDiagram creates a new diagram builder with the given name.
func NewDiagram(name string) *Diagram {
	return &Diagram{
		name: name,
		seen: make(map[string]bool),
	}
}

// AddNode adds a node to the diagram.
// Returns the diagram for method chaining.
//
// Panics if:
//   - the id is empty or contains whitespace
//   - the id already exists in the diagram
//
// Everything else (type tags, handles, content types) is validated at
// Compile time so nodes and connections can be added in any order.
func (d *Diagram) AddNode(n Node) *Diagram {
	if n.ID == "" {
		panic("dipeo: node ID cannot be empty")
	}
	if strings.ContainsAny(n.ID, " \t\n\r") {
		panic("dipeo: node ID cannot contain whitespace")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.seen[n.ID] {
		panic(fmt.Sprintf("dipeo: duplicate node ID: %s", n.ID))
	}
	d.seen[n.ID] = true
	d.nodes = append(d.nodes, n)
	return d
}

// Connect adds a connection between two node handles.
// Returns the diagram for method chaining.
// Endpoint and handle validation happens at Compile time.
func (d *Diagram) Connect(c Connection) *Diagram {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.connections = append(d.connections, c)
	return d
}

// AddAgent declares an addressable agent identity.
// Returns the diagram for method chaining.
func (d *Diagram) AddAgent(a AgentSpec) *Diagram {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.agents = append(d.agents, a)
	return d
}

// Conn builds a default-handle connection between two nodes.
// Use ConnH when a specific handle is needed.
func Conn(from, to string, ct ContentType) Connection {
	return Connection{
		From:    Endpoint{Node: from, Handle: DefaultHandle},
		To:      Endpoint{Node: to, Handle: DefaultHandle},
		Content: ct,
	}
}

// ConnH builds a connection between two named handles.
func ConnH(fromNode, fromHandle, toNode, toHandle string, ct ContentType) Connection {
	return Connection{
		From:    Endpoint{Node: fromNode, Handle: fromHandle},
		To:      Endpoint{Node: toNode, Handle: toHandle},
		Content: ct,
	}
}

// BranchConn builds a branch-labeled connection out of a condition node.
func BranchConn(from, branch, to string, ct ContentType) Connection {
	return Connection{
		From:    Endpoint{Node: from, Handle: DefaultHandle},
		To:      Endpoint{Node: to, Handle: DefaultHandle},
		Content: ct,
		Branch:  branch,
	}
}
