package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorryhyun/DiPeO-sub003/pkg/dipeo"
	"github.com/sorryhyun/DiPeO-sub003/pkg/dipeo/config"
	"github.com/sorryhyun/DiPeO-sub003/pkg/dipeo/state"
)

// props builds a node property bag from a map.
func props(m map[string]any) config.Config {
	return config.New(m)
}

// testRequest builds a minimal handler request.
func testRequest(nodeType string, p map[string]any, inputs map[string]*dipeo.Envelope) *dipeo.Request {
	return &dipeo.Request{
		Node:      dipeo.Node{ID: "n1", Type: nodeType, Props: props(p)},
		Iteration: 1,
		Inputs:    inputs,
		RunID:     "test-run",
		Logger:    slog.Default(),
	}
}

// TestRegister_AllBuiltins tests that Register wires every built-in type.
func TestRegister_AllBuiltins(t *testing.T) {
	reg := Register(dipeo.NewHandlerRegistry())

	for _, typ := range []string{TypeStart, TypeEndpoint, TypeCondition, TypePerson, TypeTemplate, TypeAPI, TypeSubDiagram} {
		assert.True(t, reg.Has(typ), typ)
	}

	cond, _ := reg.Definition(TypeCondition)
	assert.True(t, cond.Branching)

	ep, _ := reg.Definition(TypeEndpoint)
	require.Len(t, ep.Inputs, 1)
	assert.True(t, ep.Inputs[0].Required)
}

// TestStart_Value tests the "value" property, templated for strings.
func TestStart_Value(t *testing.T) {
	h, err := newStart(dipeo.NewServiceRegistry())
	require.NoError(t, err)

	req := testRequest(TypeStart, map[string]any{"value": "hello {{who}}"}, nil)
	req.Vars = map[string]any{"who": "world"}

	env, err := h.Execute(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, "hello world", env.Body)
}

// TestStart_NoValue tests that run variables become the body.
func TestStart_NoValue(t *testing.T) {
	h, err := newStart(dipeo.NewServiceRegistry())
	require.NoError(t, err)

	req := testRequest(TypeStart, nil, nil)
	req.Vars = map[string]any{"k": 1}

	env, err := h.Execute(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": 1}, env.Body)
}

// TestCondition_Branches tests expression evaluation and branch tagging.
func TestCondition_Branches(t *testing.T) {
	h, err := newCondition(dipeo.NewServiceRegistry())
	require.NoError(t, err)

	tests := []struct {
		expr   string
		score  int
		branch string
	}{
		{"score >= 5", 7, BranchTrue},
		{"score >= 5", 3, BranchFalse},
		{"score == 3 or score == 4", 3, BranchTrue},
	}
	for _, tt := range tests {
		req := testRequest(TypeCondition, map[string]any{"expression": tt.expr}, map[string]*dipeo.Envelope{
			dipeo.DefaultHandle: dipeo.NewEnvelope("src", map[string]any{"score": tt.score}),
		})

		env, err := h.Execute(context.Background(), req)

		require.NoError(t, err, tt.expr)
		assert.Equal(t, tt.branch, env.Branch, "%s with score %d", tt.expr, tt.score)
	}
}

// TestCondition_MissingExpression tests the PreExecute validation.
func TestCondition_MissingExpression(t *testing.T) {
	h, err := newCondition(dipeo.NewServiceRegistry())
	require.NoError(t, err)

	_, err = h.PreExecute(context.Background(), testRequest(TypeCondition, nil, nil))

	require.Error(t, err)
	var ve *dipeo.ValidationError
	assert.ErrorAs(t, err, &ve)
}

// TestTemplate_Render tests interpolation and missing-variable policies.
func TestTemplate_Render(t *testing.T) {
	h, err := newTemplate(dipeo.NewServiceRegistry())
	require.NoError(t, err)

	inputs := map[string]*dipeo.Envelope{
		dipeo.DefaultHandle: dipeo.NewEnvelope("src", map[string]any{"name": "ada"}),
	}

	env, err := h.Execute(context.Background(), testRequest(TypeTemplate, map[string]any{
		"template": "hi {{name}}, missing={{ghost}}",
	}, inputs))
	require.NoError(t, err)
	assert.Equal(t, "hi ada, missing={{ghost}}", env.Body, "keep is the default")

	env, err = h.Execute(context.Background(), testRequest(TypeTemplate, map[string]any{
		"template": "hi {{name}}, missing={{ghost}}",
		"missing":  "empty",
	}, inputs))
	require.NoError(t, err)
	assert.Equal(t, "hi ada, missing=", env.Body)

	_, err = h.Execute(context.Background(), testRequest(TypeTemplate, map[string]any{
		"template": "{{ghost}}",
		"missing":  "error",
	}, inputs))
	assert.Error(t, err)
}

// TestAPI_JSONResponse tests a GET whose JSON body becomes structured output.
func TestAPI_JSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "tok", r.Header.Get("X-Auth"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "n": 3})
	}))
	defer srv.Close()

	h, err := newAPI(dipeo.NewServiceRegistry())
	require.NoError(t, err)

	req := testRequest(TypeAPI, map[string]any{
		"url":     srv.URL + "/items/{{id}}",
		"headers": map[string]any{"X-Auth": "tok"},
	}, nil)
	req.Vars = map[string]any{"id": 7}

	env, err := h.Execute(context.Background(), req)

	require.NoError(t, err)
	body, ok := env.Body.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, float64(3), body["n"])
}

// TestAPI_PostTemplatedBody tests method, body templating, and the
// implied json content type.
func TestAPI_PostTemplatedBody(t *testing.T) {
	var got struct {
		Name string `json:"name"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("created"))
	}))
	defer srv.Close()

	h, err := newAPI(dipeo.NewServiceRegistry())
	require.NoError(t, err)

	req := testRequest(TypeAPI, map[string]any{
		"url":    srv.URL,
		"method": "post",
		"body":   `{"name": "{{name}}"}`,
	}, map[string]*dipeo.Envelope{
		dipeo.DefaultHandle: dipeo.NewEnvelope("src", map[string]any{"name": "ada"}),
	})

	env, err := h.Execute(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, "ada", got.Name)
	assert.Equal(t, "created", env.Body)
}

// TestAPI_ErrorStatus tests that 4xx/5xx responses fail the node.
func TestAPI_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	h, err := newAPI(dipeo.NewServiceRegistry())
	require.NoError(t, err)

	_, err = h.Execute(context.Background(), testRequest(TypeAPI, map[string]any{"url": srv.URL}, nil))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

// TestAPI_MissingURL tests the PreExecute validation.
func TestAPI_MissingURL(t *testing.T) {
	h, err := newAPI(dipeo.NewServiceRegistry())
	require.NoError(t, err)

	_, err = h.PreExecute(context.Background(), testRequest(TypeAPI, nil, nil))

	var ve *dipeo.ValidationError
	assert.ErrorAs(t, err, &ve)
}

// TestEndpoint_PassthroughAndPersist tests the terminal node's behavior.
func TestEndpoint_PassthroughAndPersist(t *testing.T) {
	store := state.NewMemoryStore()
	services := dipeo.NewServiceRegistry().Provide(ServiceStateStore, store)

	h, err := newEndpoint(services)
	require.NoError(t, err)

	in := dipeo.NewEnvelope("up", "final answer",
		dipeo.WithRepresentation(dipeo.RepText, "final answer"))
	req := testRequest(TypeEndpoint, nil, map[string]*dipeo.Envelope{dipeo.DefaultHandle: in})

	env, err := h.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "final answer", env.Body)
	assert.Equal(t, "final answer", env.Representations[dipeo.RepText])

	h.PostExecute(context.Background(), env, req)

	data, err := store.LoadOutput("test-run", "n1", 1)
	require.NoError(t, err)
	var saved dipeo.Envelope
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.Equal(t, "final answer", saved.Body)
}

// TestEndpoint_NoStore tests the endpoint works without persistence.
func TestEndpoint_NoStore(t *testing.T) {
	h, err := newEndpoint(dipeo.NewServiceRegistry())
	require.NoError(t, err)

	req := testRequest(TypeEndpoint, nil, map[string]*dipeo.Envelope{
		dipeo.DefaultHandle: dipeo.NewEnvelope("up", 42),
	})

	env, err := h.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 42, env.Body)

	assert.NotPanics(t, func() {
		h.PostExecute(context.Background(), env, req)
	})
}
