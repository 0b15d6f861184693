package dipeo

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorryhyun/DiPeO-sub003/pkg/dipeo/event"
	"github.com/sorryhyun/DiPeO-sub003/pkg/dipeo/state"
)

// TestEngine_EventLifecycle tests the progress records a run emits.
func TestEngine_EventLifecycle(t *testing.T) {
	tr := &tracker{}
	reg := testRegistry(tr)

	model := mustCompile(reg, NewDiagram("events").
		AddNode(Node{ID: "src", Type: "source", Props: props(map[string]any{"value": 5})}).
		AddNode(Node{ID: "g", Type: "gate", Props: props(map[string]any{"limit": 1})}).
		AddNode(Node{ID: "yes", Type: "echo"}).
		AddNode(Node{ID: "no", Type: "echo"}).
		Connect(Conn("src", "g", ContentObject)).
		Connect(BranchConn("g", "true", "yes", ContentRawText)).
		Connect(BranchConn("g", "false", "no", ContentRawText)))

	bus := event.NewBus()
	collector := event.NewCollector()
	bus.Subscribe(collector)

	engine, err := NewEngine(reg, WithEventBus(bus))
	require.NoError(t, err)

	result, err := engine.Execute(context.Background(), model, WithRunID("run-1"))
	require.NoError(t, err)
	require.True(t, result.Succeeded())

	records := collector.Records()
	require.NotEmpty(t, records)
	assert.Equal(t, event.KindRunStarted, records[0].Kind)
	assert.Equal(t, event.KindRunCompleted, records[len(records)-1].Kind)

	assert.Len(t, collector.OfKind(event.KindNodeStarted), 3)
	assert.Len(t, collector.OfKind(event.KindNodeCompleted), 3)

	skips := collector.OfKind(event.KindNodeSkipped)
	require.Len(t, skips, 1)
	assert.Equal(t, "no", skips[0].NodeID)

	for _, r := range records {
		assert.Equal(t, "run-1", r.RunID)
		assert.Equal(t, "events", r.Diagram)
	}
}

// TestEngine_EventFiltering tests kind-filtered subscriptions.
func TestEngine_EventFiltering(t *testing.T) {
	tr := &tracker{}
	reg := testRegistry(tr)

	model := mustCompile(reg, NewDiagram("filter").
		AddNode(Node{ID: "src", Type: "source", Props: props(map[string]any{"value": "x"})}).
		AddNode(Node{ID: "bad", Type: "fail"}).
		Connect(Conn("src", "bad", ContentRawText)))

	bus := event.NewBus()
	var failures int32
	bus.Subscribe(event.SinkFunc(func(event.Record) {
		atomic.AddInt32(&failures, 1)
	}), event.KindNodeFailed)

	engine, err := NewEngine(reg, WithEventBus(bus))
	require.NoError(t, err)

	_, err = engine.Execute(context.Background(), model)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&failures))
}

// TestEngine_StatePersistence tests that outputs and the run summary land
// in the attached store.
func TestEngine_StatePersistence(t *testing.T) {
	tr := &tracker{}
	reg := testRegistry(tr)

	model := mustCompile(reg, NewDiagram("persist").
		AddNode(Node{ID: "a", Type: "source", Props: props(map[string]any{"value": "hi"})}).
		AddNode(Node{ID: "b", Type: "echo"}).
		Connect(Conn("a", "b", ContentRawText)))

	store := state.NewMemoryStore()
	engine, err := NewEngine(reg, WithStateStore(store, false))
	require.NoError(t, err)

	result, err := engine.Execute(context.Background(), model, WithRunID("run-9"))
	require.NoError(t, err)
	require.True(t, result.Succeeded())

	infos, err := store.ListOutputs("run-9")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "a", infos[0].NodeID, "save order follows dispatch order")
	assert.Equal(t, "b", infos[1].NodeID)

	data, err := store.LoadOutput("run-9", "b", 1)
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "hi>b", env.Body)

	summary, err := store.LoadRun("run-9")
	require.NoError(t, err)
	var saved ExecutionResult
	require.NoError(t, json.Unmarshal(summary, &saved))
	assert.Equal(t, "run-9", saved.RunID)
	assert.Equal(t, 2, saved.Steps)
}

// TestEngine_PreExecuteVeto tests that a non-nil PreExecute envelope
// short-circuits Execute entirely.
func TestEngine_PreExecuteVeto(t *testing.T) {
	tr := &tracker{}
	reg := testRegistry(tr)

	executed := false
	reg.Register("vetoed", Definition{
		New: func(*ServiceRegistry) (Handler, error) {
			return &vetoHandler{executed: &executed}, nil
		},
		Inputs:  []Handle{{Name: DefaultHandle}},
		Outputs: []string{DefaultHandle},
	})

	model := mustCompile(reg, NewDiagram("veto").
		AddNode(Node{ID: "src", Type: "source", Props: props(map[string]any{"value": "x"})}).
		AddNode(Node{ID: "v", Type: "vetoed"}).
		Connect(Conn("src", "v", ContentRawText)))

	engine, err := NewEngine(reg)
	require.NoError(t, err)

	result, err := engine.Execute(context.Background(), model)

	require.NoError(t, err)
	assert.False(t, executed, "Execute must not run after a veto")
	assert.Equal(t, "cached", result.Output("v").Body)
	assert.Equal(t, StatusCompleted, result.Status("v"))
}

type vetoHandler struct {
	executed *bool
}

func (h *vetoHandler) PreExecute(_ context.Context, req *Request) (*Envelope, error) {
	return NewEnvelope(req.Node.ID, "cached"), nil
}

func (h *vetoHandler) Execute(_ context.Context, req *Request) (*Envelope, error) {
	*h.executed = true
	return NewEnvelope(req.Node.ID, "computed"), nil
}

func (h *vetoHandler) PostExecute(context.Context, *Envelope, *Request) {}

// TestEngine_MaxConcurrentBound tests that wave parallelism never exceeds
// the configured bound.
func TestEngine_MaxConcurrentBound(t *testing.T) {
	var mu sync.Mutex
	inFlight, peak := 0, 0

	reg := NewHandlerRegistry()
	reg.Register("probe", Definition{
		New: func(*ServiceRegistry) (Handler, error) {
			return HandlerFunc(func(_ context.Context, req *Request) (*Envelope, error) {
				mu.Lock()
				inFlight++
				if inFlight > peak {
					peak = inFlight
				}
				mu.Unlock()
				defer func() {
					mu.Lock()
					inFlight--
					mu.Unlock()
				}()
				return NewEnvelope(req.Node.ID, nil), nil
			}), nil
		},
		Outputs: []string{DefaultHandle},
	})

	// Eight independent entry nodes form a single wide wave.
	d := NewDiagram("wide")
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		d.AddNode(Node{ID: id, Type: "probe"})
	}
	model := mustCompile(reg, d)

	engine, err := NewEngine(reg, WithMaxConcurrent(2))
	require.NoError(t, err)

	result, err := engine.Execute(context.Background(), model)

	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.LessOrEqual(t, peak, 2)
}

// TestEngine_PostExecutePanicIsolated tests that a panicking PostExecute
// never alters the recorded envelope.
func TestEngine_PostExecutePanicIsolated(t *testing.T) {
	reg := NewHandlerRegistry()
	reg.Register("posty", Definition{
		New: func(*ServiceRegistry) (Handler, error) {
			return &panickyPostHandler{}, nil
		},
		Outputs: []string{DefaultHandle},
	})

	model := mustCompile(reg, NewDiagram("post").
		AddNode(Node{ID: "p", Type: "posty"}))

	engine, err := NewEngine(reg)
	require.NoError(t, err)

	result, err := engine.Execute(context.Background(), model)

	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status("p"))
	assert.Equal(t, "ok", result.Output("p").Body)
}

type panickyPostHandler struct {
	BaseHandler
}

func (h *panickyPostHandler) Execute(_ context.Context, req *Request) (*Envelope, error) {
	return NewEnvelope(req.Node.ID, "ok"), nil
}

func (h *panickyPostHandler) PostExecute(context.Context, *Envelope, *Request) {
	panic("side effect gone wrong")
}
