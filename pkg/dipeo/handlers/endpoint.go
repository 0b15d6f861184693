package handlers

import (
	"context"
	"encoding/json"

	"github.com/sorryhyun/DiPeO-sub003/pkg/dipeo"
	"github.com/sorryhyun/DiPeO-sub003/pkg/dipeo/state"
)

// endpointHandler terminates a path. It passes its input through
// unchanged and, when a state store is registered, persists the final
// envelope in PostExecute under the "endpoint" status so run results
// stay queryable after the process exits.
type endpointHandler struct {
	store state.Store // nil when no store is registered
}

func newEndpoint(services *dipeo.ServiceRegistry) (dipeo.Handler, error) {
	h := &endpointHandler{}
	if services.Has(ServiceStateStore) {
		store, err := dipeo.Resolve[state.Store](services, ServiceStateStore)
		if err != nil {
			return nil, err
		}
		h.store = store
	}
	return h, nil
}

func (h *endpointHandler) PreExecute(context.Context, *dipeo.Request) (*dipeo.Envelope, error) {
	return nil, nil
}

func (h *endpointHandler) Execute(_ context.Context, req *dipeo.Request) (*dipeo.Envelope, error) {
	in := req.FirstInput()
	if in == nil {
		return dipeo.NewEnvelope(req.Node.ID, nil), nil
	}
	out := dipeo.NewEnvelope(req.Node.ID, in.Body)
	for name, rep := range in.Representations {
		dipeo.WithRepresentation(name, rep)(out)
	}
	return out, nil
}

func (h *endpointHandler) PostExecute(_ context.Context, env *dipeo.Envelope, req *dipeo.Request) {
	if h.store == nil || env == nil {
		return
	}
	data, err := json.Marshal(env)
	if err == nil {
		err = h.store.SaveOutput(req.RunID, req.Node.ID, req.Iteration, "endpoint", data)
	}
	if err != nil {
		req.Logger.Warn("endpoint persistence failed",
			"node_id", req.Node.ID, "error", err.Error())
	}
}
