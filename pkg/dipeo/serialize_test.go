package dipeo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParse_Document tests parsing a YAML diagram definition.
func TestParse_Document(t *testing.T) {
	src := []byte(`
name: review
agents:
  - id: reviewer
    model: test-model
    system_prompt: You review code.
nodes:
  - id: start
    type: source
    props:
      value: 0
  - id: n
    type: counter
    max_iteration: 5
    timeout: 2s
    retry:
      max_attempts: 3
      initial_backoff: 100ms
      backoff_factor: 2
  - id: g
    type: gate
    props:
      limit: 3
  - id: done
    type: echo
    critical: true
connections:
  - from: start
    to: n
    to_handle: seed
    content: object
  - from: n
    to: g
    content: object
  - from: g
    to: n
    to_handle: loop
    content: object
    branch: "false"
  - from: g
    to: done
    content: raw_text
    branch: "true"
`)

	d, err := Parse(src)
	require.NoError(t, err)

	reg := testRegistry(&tracker{})
	model, err := NewCompiler(reg).Compile(d)
	require.NoError(t, err)

	assert.Equal(t, "review", model.Name())
	assert.Equal(t, []string{"start", "n", "g", "done"}, model.NodeIDs())

	n, _ := model.Node("n")
	assert.Equal(t, 5, n.MaxIteration)
	assert.Equal(t, 2*time.Second, n.Timeout)
	require.NotNil(t, n.Retry)
	assert.Equal(t, 3, n.Retry.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, n.Retry.InitialBackoff)
	assert.Equal(t, 2.0, n.Retry.BackoffFactor)

	done, _ := model.Node("done")
	assert.True(t, done.Critical)

	agent, ok := model.Agent("reviewer")
	require.True(t, ok)
	assert.Equal(t, "test-model", agent.Model)

	conns := model.Connections()
	require.Len(t, conns, 4)
	assert.Equal(t, "seed", conns[0].To.Handle)
	assert.Equal(t, ContentObject, conns[0].Content)
	assert.Equal(t, "false", conns[2].Branch)
	assert.Equal(t, ContentRawText, conns[3].Content)
}

// TestParse_Invalid tests structural parse failures.
func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"malformed yaml", "nodes: ["},
		{"missing name", "nodes:\n  - id: a\n    type: source"},
		{"bad timeout", "name: x\nnodes:\n  - id: a\n    type: source\n    timeout: soon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src))
			assert.Error(t, err)
		})
	}
}

// TestMarshal_RoundTrip tests that Parse(Marshal(model)) compiles to an
// equivalent model: nodes, handles, content types, branch labels, and
// agents all survive.
func TestMarshal_RoundTrip(t *testing.T) {
	reg := testRegistry(&tracker{})

	original := mustCompile(reg, NewDiagram("trip").
		AddAgent(AgentSpec{ID: "helper", Model: "m1", SystemPrompt: "sys"}).
		AddNode(Node{ID: "src", Type: "source", Props: props(map[string]any{"value": 0})}).
		AddNode(Node{ID: "n", Type: "counter", MaxIteration: 4, Timeout: time.Second,
			Retry: &RetryPolicy{MaxAttempts: 2, InitialBackoff: 50 * time.Millisecond}}).
		AddNode(Node{ID: "g", Type: "gate", MaxIteration: 4, Props: props(map[string]any{"limit": 3})}).
		AddNode(Node{ID: "end", Type: "echo", Critical: true}).
		Connect(ConnH("src", DefaultHandle, "n", "seed", ContentObject)).
		Connect(Conn("n", "g", ContentObject)).
		Connect(Connection{
			From:    Endpoint{Node: "g", Handle: DefaultHandle},
			To:      Endpoint{Node: "n", Handle: "loop"},
			Content: ContentObject,
			Branch:  "false",
		}).
		Connect(BranchConn("g", "true", "end", ContentRawText)))

	data, err := Marshal(original)
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)

	restored, err := NewCompiler(reg).Compile(parsed)
	require.NoError(t, err)

	assert.Equal(t, original.Name(), restored.Name())
	assert.Equal(t, original.NodeIDs(), restored.NodeIDs())
	assert.Equal(t, original.Connections(), restored.Connections())
	assert.Equal(t, original.AgentIDs(), restored.AgentIDs())

	for _, id := range original.NodeIDs() {
		want, _ := original.Node(id)
		got, _ := restored.Node(id)
		assert.Equal(t, want.Type, got.Type, id)
		assert.Equal(t, want.Inputs, got.Inputs, id)
		assert.Equal(t, want.Outputs, got.Outputs, id)
		assert.Equal(t, want.MaxIteration, got.MaxIteration, id)
		assert.Equal(t, want.Timeout, got.Timeout, id)
		assert.Equal(t, want.Retry, got.Retry, id)
		assert.Equal(t, want.Critical, got.Critical, id)
	}

	agent, ok := restored.Agent("helper")
	require.True(t, ok)
	assert.Equal(t, "m1", agent.Model)
	assert.Equal(t, "sys", agent.SystemPrompt)
}

// TestMarshal_Nil tests marshaling a nil model.
func TestMarshal_Nil(t *testing.T) {
	_, err := Marshal(nil)
	assert.ErrorIs(t, err, ErrNilDiagram)
}
