package dipeo

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sorryhyun/DiPeO-sub003/pkg/dipeo/config"
)

// yamlDiagram is the on-disk form of a diagram definition.
type yamlDiagram struct {
	Name        string           `yaml:"name"`
	Agents      []yamlAgent      `yaml:"agents,omitempty"`
	Nodes       []yamlNode       `yaml:"nodes"`
	Connections []yamlConnection `yaml:"connections,omitempty"`
}

type yamlAgent struct {
	ID           string `yaml:"id"`
	Model        string `yaml:"model,omitempty"`
	SystemPrompt string `yaml:"system_prompt,omitempty"`
}

type yamlNode struct {
	ID           string           `yaml:"id"`
	Type         string           `yaml:"type"`
	Props        map[string]any   `yaml:"props,omitempty"`
	Inputs       []Handle         `yaml:"inputs,omitempty"`
	Outputs      []string         `yaml:"outputs,omitempty"`
	MaxIteration int              `yaml:"max_iteration,omitempty"`
	Timeout      string           `yaml:"timeout,omitempty"`
	Retry        *yamlRetryPolicy `yaml:"retry,omitempty"`
	Critical     bool             `yaml:"critical,omitempty"`
	Agent        string           `yaml:"agent,omitempty"`
}

type yamlRetryPolicy struct {
	MaxAttempts    int     `yaml:"max_attempts"`
	InitialBackoff string  `yaml:"initial_backoff,omitempty"`
	MaxBackoff     string  `yaml:"max_backoff,omitempty"`
	BackoffFactor  float64 `yaml:"backoff_factor,omitempty"`
}

type yamlConnection struct {
	From       string `yaml:"from"`
	FromHandle string `yaml:"from_handle,omitempty"`
	To         string `yaml:"to"`
	ToHandle   string `yaml:"to_handle,omitempty"`
	Content    string `yaml:"content"`
	Branch     string `yaml:"branch,omitempty"`
}

// Parse reads a YAML diagram definition into a builder. The result
// still needs Compiler.Compile; Parse only reports structural problems
// (bad YAML, unparseable durations), never semantic ones.
func Parse(data []byte) (*Diagram, error) {
	var doc yamlDiagram
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse diagram: %w", err)
	}
	if doc.Name == "" {
		return nil, fmt.Errorf("parse diagram: missing name")
	}

	d := NewDiagram(doc.Name)

	for _, a := range doc.Agents {
		d.AddAgent(AgentSpec{ID: a.ID, Model: a.Model, SystemPrompt: a.SystemPrompt})
	}

	for _, yn := range doc.Nodes {
		n := Node{
			ID:           yn.ID,
			Type:         yn.Type,
			Props:        config.New(yn.Props),
			Inputs:       yn.Inputs,
			Outputs:      yn.Outputs,
			MaxIteration: yn.MaxIteration,
			Critical:     yn.Critical,
			AgentID:      yn.Agent,
		}
		if yn.Timeout != "" {
			t, err := time.ParseDuration(yn.Timeout)
			if err != nil {
				return nil, fmt.Errorf("parse diagram: node %s timeout: %w", yn.ID, err)
			}
			n.Timeout = t
		}
		if yn.Retry != nil {
			rp, err := parseRetry(yn.ID, yn.Retry)
			if err != nil {
				return nil, err
			}
			n.Retry = rp
		}
		d.AddNode(n)
	}

	for _, yc := range doc.Connections {
		conn := Connection{
			From:    Endpoint{Node: yc.From, Handle: orDefault(yc.FromHandle)},
			To:      Endpoint{Node: yc.To, Handle: orDefault(yc.ToHandle)},
			Content: ContentType(yc.Content),
			Branch:  yc.Branch,
		}
		d.Connect(conn)
	}

	return d, nil
}

func parseRetry(nodeID string, yr *yamlRetryPolicy) (*RetryPolicy, error) {
	rp := &RetryPolicy{MaxAttempts: yr.MaxAttempts, BackoffFactor: yr.BackoffFactor}
	var err error
	if yr.InitialBackoff != "" {
		if rp.InitialBackoff, err = time.ParseDuration(yr.InitialBackoff); err != nil {
			return nil, fmt.Errorf("parse diagram: node %s initial_backoff: %w", nodeID, err)
		}
	}
	if yr.MaxBackoff != "" {
		if rp.MaxBackoff, err = time.ParseDuration(yr.MaxBackoff); err != nil {
			return nil, fmt.Errorf("parse diagram: node %s max_backoff: %w", nodeID, err)
		}
	}
	return rp, nil
}

func orDefault(handle string) string {
	if handle == "" {
		return DefaultHandle
	}
	return handle
}

// Marshal writes a compiled diagram back to YAML. Handles, content
// types, branch labels, and agent declarations all survive the round
// trip: Parse(Marshal(model)) compiles to an equivalent model.
//
// Marshal serializes the compiled form, so type-default handles applied
// at compile time appear explicitly in the output.
func Marshal(d *DiagramModel) ([]byte, error) {
	if d == nil {
		return nil, ErrNilDiagram
	}

	doc := yamlDiagram{Name: d.name}

	for _, id := range d.agentOrder {
		a := d.agents[id]
		doc.Agents = append(doc.Agents, yamlAgent{
			ID: a.ID, Model: a.Model, SystemPrompt: a.SystemPrompt,
		})
	}

	for _, id := range d.order {
		n := d.nodes[id]
		yn := yamlNode{
			ID:       n.ID,
			Type:     n.Type,
			Inputs:   n.Inputs,
			Outputs:  n.Outputs,
			Critical: n.Critical,
			Agent:    n.AgentID,
		}
		if raw := n.Props.Raw(); len(raw) > 0 {
			yn.Props = raw
		}
		// MaxIteration 1 is the compile-time default; keep the output
		// free of it.
		if n.MaxIteration > 1 {
			yn.MaxIteration = n.MaxIteration
		}
		if n.Timeout > 0 {
			yn.Timeout = n.Timeout.String()
		}
		if n.Retry != nil {
			yr := &yamlRetryPolicy{
				MaxAttempts:   n.Retry.MaxAttempts,
				BackoffFactor: n.Retry.BackoffFactor,
			}
			if n.Retry.InitialBackoff > 0 {
				yr.InitialBackoff = n.Retry.InitialBackoff.String()
			}
			if n.Retry.MaxBackoff > 0 {
				yr.MaxBackoff = n.Retry.MaxBackoff.String()
			}
			yn.Retry = yr
		}
		doc.Nodes = append(doc.Nodes, yn)
	}

	for _, c := range d.connections {
		yc := yamlConnection{
			From:    c.From.Node,
			To:      c.To.Node,
			Content: string(c.Content),
			Branch:  c.Branch,
		}
		if c.From.Handle != DefaultHandle {
			yc.FromHandle = c.From.Handle
		}
		if c.To.Handle != DefaultHandle {
			yc.ToHandle = c.To.Handle
		}
		doc.Connections = append(doc.Connections, yc)
	}

	return yaml.Marshal(doc)
}
