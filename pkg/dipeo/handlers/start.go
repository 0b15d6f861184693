package handlers

import (
	"context"

	"github.com/sorryhyun/DiPeO-sub003/pkg/dipeo"
	"github.com/sorryhyun/DiPeO-sub003/pkg/dipeo/template"
)

// startHandler seeds a run. Its output body is the node's "value"
// property (templated against run variables), or the full run variable
// map when no value is declared.
type startHandler struct {
	dipeo.BaseHandler
}

func newStart(*dipeo.ServiceRegistry) (dipeo.Handler, error) {
	return &startHandler{}, nil
}

func (h *startHandler) Execute(_ context.Context, req *dipeo.Request) (*dipeo.Envelope, error) {
	if req.Node.Props.Has("value") {
		value := req.Node.Props.Any("value", nil)
		if s, ok := value.(string); ok {
			expanded := template.Expand(s, req.Vars)
			return dipeo.NewEnvelope(req.Node.ID, expanded,
				dipeo.WithRepresentation(dipeo.RepText, expanded)), nil
		}
		return dipeo.NewEnvelope(req.Node.ID, value), nil
	}

	vars := make(map[string]any, len(req.Vars))
	for k, v := range req.Vars {
		vars[k] = v
	}
	return dipeo.NewEnvelope(req.Node.ID, vars), nil
}
