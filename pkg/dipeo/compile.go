package dipeo

import (
	"fmt"
	"log/slog"
)

// Compiler validates and lowers a diagram definition into an immutable
// DiagramModel. It needs the handler registry to check node type tags
// and apply each type's default handle contract.
type Compiler struct {
	handlers *HandlerRegistry
	logger   *slog.Logger
}

// NewCompiler creates a compiler bound to a handler registry.
func NewCompiler(handlers *HandlerRegistry) *Compiler {
	if handlers == nil {
		panic("dipeo: compiler needs a handler registry")
	}
	return &Compiler{handlers: handlers, logger: slog.Default()}
}

// Compile validates the diagram and produces a DiagramModel.
// All diagnostics are collected into a single *CompilationError rather
// than stopping at the first.
//
// Validation checks:
//  1. Every node type tag has a registered handler definition
//  2. Handles are unique per node; connection endpoints exist and
//     reference declared handles
//  3. Every content type is one of {raw_text, object, conversation_state}
//  4. Branch labels appear exactly on branching-type outputs
//  5. Every required input handle has at least one incoming connection
//  6. Node agent references resolve to declared agents
//
// Cycles are permitted and expected: Compile computes a topological
// layer hint and classifies edges that close cycles as loop-backs, but
// does not bake a fixed order.
func (c *Compiler) Compile(d *Diagram) (*DiagramModel, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var errs []error

	nodes := make(map[string]Node, len(d.nodes))
	order := make([]string, 0, len(d.nodes))

	for _, n := range d.nodes {
		def, known := c.handlers.Definition(n.Type)
		if !known {
			errs = append(errs, fmt.Errorf("%w: node %s has type %q", ErrUnknownNodeType, n.ID, n.Type))
		}

		// Apply the type's default handle contract when the node
		// declares none of its own.
		if len(n.Inputs) == 0 {
			n.Inputs = append([]Handle(nil), def.Inputs...)
		}
		if len(n.Outputs) == 0 {
			n.Outputs = append([]string(nil), def.Outputs...)
		}
		if n.MaxIteration <= 0 {
			n.MaxIteration = 1
		}

		seen := make(map[string]bool, len(n.Inputs))
		for _, h := range n.Inputs {
			if seen[h.Name] {
				errs = append(errs, fmt.Errorf("%w: node %s input %q", ErrDuplicateHandle, n.ID, h.Name))
			}
			seen[h.Name] = true
		}
		seenOut := make(map[string]bool, len(n.Outputs))
		for _, h := range n.Outputs {
			if seenOut[h] {
				errs = append(errs, fmt.Errorf("%w: node %s output %q", ErrDuplicateHandle, n.ID, h))
			}
			seenOut[h] = true
		}

		nodes[n.ID] = n
		order = append(order, n.ID)
	}

	agents := make(map[string]AgentSpec, len(d.agents))
	agentOrder := make([]string, 0, len(d.agents))
	for _, a := range d.agents {
		if a.ID == "" {
			errs = append(errs, fmt.Errorf("%w: agent with empty id", ErrUnknownAgent))
			continue
		}
		agents[a.ID] = a
		agentOrder = append(agentOrder, a.ID)
	}

	for _, n := range nodes {
		if n.AgentID != "" {
			if _, ok := agents[n.AgentID]; !ok {
				errs = append(errs, fmt.Errorf("%w: node %s addresses %q", ErrUnknownAgent, n.ID, n.AgentID))
			}
		}
	}

	incoming := make(map[string][]int)
	outgoing := make(map[string][]int)

	for i, conn := range d.connections {
		ok := true

		src, srcExists := nodes[conn.From.Node]
		if !srcExists {
			errs = append(errs, fmt.Errorf("%w: connection source %q", ErrNodeNotFound, conn.From.Node))
			ok = false
		}
		dst, dstExists := nodes[conn.To.Node]
		if !dstExists {
			errs = append(errs, fmt.Errorf("%w: connection target %q", ErrNodeNotFound, conn.To.Node))
			ok = false
		}

		if !conn.Content.Valid() {
			errs = append(errs, fmt.Errorf("%w: %s.%s -> %s.%s has %q",
				ErrInvalidContentType, conn.From.Node, conn.From.Handle,
				conn.To.Node, conn.To.Handle, conn.Content))
		}

		if srcExists && !hasOutput(src, conn.From.Handle) {
			errs = append(errs, fmt.Errorf("%w: %s has no output %q", ErrDanglingHandle, src.ID, conn.From.Handle))
			ok = false
		}
		if dstExists && !hasInput(dst, conn.To.Handle) {
			errs = append(errs, fmt.Errorf("%w: %s has no input %q", ErrDanglingHandle, dst.ID, conn.To.Handle))
			ok = false
		}

		if srcExists {
			def, _ := c.handlers.Definition(src.Type)
			if def.Branching && conn.Branch == "" {
				errs = append(errs, fmt.Errorf("%w: %s -> %s needs a label on a %s output",
					ErrBranchLabel, src.ID, conn.To.Node, src.Type))
			}
			if !def.Branching && conn.Branch != "" {
				errs = append(errs, fmt.Errorf("%w: %s is not a branching node but labels %s -> %s",
					ErrBranchLabel, src.ID, src.ID, conn.To.Node))
			}
		}

		if ok {
			outgoing[conn.From.Node] = append(outgoing[conn.From.Node], i)
			incoming[conn.To.Node] = append(incoming[conn.To.Node], i)
		}
	}

	// Required inputs need at least one incoming connection.
	for _, id := range order {
		n := nodes[id]
		for _, h := range n.Inputs {
			if !h.Required {
				continue
			}
			found := false
			for _, ci := range incoming[id] {
				if d.connections[ci].To.Handle == h.Name {
					found = true
					break
				}
			}
			if !found {
				errs = append(errs, fmt.Errorf("%w: node %s input %q", ErrMissingInput, id, h.Name))
			}
		}
	}

	if len(errs) > 0 {
		return nil, &CompilationError{Diagram: d.name, Errs: errs}
	}

	connections := make([]Connection, len(d.connections))
	copy(connections, d.connections)

	model := &DiagramModel{
		name:        d.name,
		nodes:       nodes,
		order:       order,
		connections: connections,
		agents:      agents,
		agentOrder:  agentOrder,
		incoming:    incoming,
		outgoing:    outgoing,
	}
	model.layers, model.cyclic, model.loopback = computeLayers(order, connections, incoming, outgoing)

	c.warnUnreachable(model)

	return model, nil
}

func hasOutput(n Node, handle string) bool {
	for _, h := range n.Outputs {
		if h == handle {
			return true
		}
	}
	return false
}

func hasInput(n Node, handle string) bool {
	for _, h := range n.Inputs {
		if h.Name == handle {
			return true
		}
	}
	return false
}

// computeLayers assigns each node its shortest distance from an entry
// node (a node with no incoming connections). The layers are a
// scheduling heuristic only, never a baked order.
//
// A connection participates in a cycle when its target can reach its
// source; of those, the ones pointing at an equal or shallower layer
// are the back edges (loop-backs) that re-arm their target.
func computeLayers(order []string, conns []Connection, incoming, outgoing map[string][]int) (layers map[string]int, cyclic, loopback map[int]bool) {
	layers = make(map[string]int, len(order))

	var queue []string
	for _, id := range order {
		if len(incoming[id]) == 0 {
			layers[id] = 0
			queue = append(queue, id)
		}
	}
	// A fully cyclic diagram has no entry; seed from the first node so
	// layers stay defined.
	if len(queue) == 0 && len(order) > 0 {
		layers[order[0]] = 0
		queue = append(queue, order[0])
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, ci := range outgoing[current] {
			target := conns[ci].To.Node
			if _, visited := layers[target]; !visited {
				layers[target] = layers[current] + 1
				queue = append(queue, target)
			}
		}
	}

	// Nodes unreachable from any entry still get a layer.
	for _, id := range order {
		if _, ok := layers[id]; !ok {
			layers[id] = 0
		}
	}

	// Per-node forward reachability for cycle classification.
	reach := make(map[string]map[string]bool, len(order))
	for _, id := range order {
		seen := map[string]bool{}
		q := []string{id}
		for len(q) > 0 {
			cur := q[0]
			q = q[1:]
			for _, ci := range outgoing[cur] {
				t := conns[ci].To.Node
				if !seen[t] {
					seen[t] = true
					q = append(q, t)
				}
			}
		}
		reach[id] = seen
	}

	cyclic = make(map[int]bool)
	loopback = make(map[int]bool)
	for i, conn := range conns {
		if reach[conn.To.Node][conn.From.Node] {
			cyclic[i] = true
			if layers[conn.To.Node] <= layers[conn.From.Node] {
				loopback[i] = true
			}
		}
	}
	return layers, cyclic, loopback
}

// warnUnreachable logs nodes with no path from an entry node.
// Unreachable nodes do not fail compilation; they end a run SKIPPED.
func (c *Compiler) warnUnreachable(m *DiagramModel) {
	reachable := make(map[string]bool)
	var queue []string
	for _, id := range m.order {
		if len(m.incoming[id]) == 0 {
			reachable[id] = true
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, ci := range m.outgoing[current] {
			target := m.connections[ci].To.Node
			if !reachable[target] {
				reachable[target] = true
				queue = append(queue, target)
			}
		}
	}
	for _, id := range m.order {
		if !reachable[id] {
			c.logger.Warn("node is unreachable from any entry node", "node_id", id, "diagram", m.name)
		}
	}
}
