package handlers

import (
	"context"
	"fmt"

	"github.com/sorryhyun/DiPeO-sub003/pkg/dipeo"
	"github.com/sorryhyun/DiPeO-sub003/pkg/dipeo/template"
)

// templateHandler renders the node's "template" property against the
// merged input variables.
//
// The "missing" property picks the policy for unknown placeholders:
// "keep" (default), "empty", or "error".
type templateHandler struct {
	dipeo.BaseHandler
}

func newTemplate(*dipeo.ServiceRegistry) (dipeo.Handler, error) {
	return &templateHandler{}, nil
}

func (h *templateHandler) Execute(_ context.Context, req *dipeo.Request) (*dipeo.Envelope, error) {
	tmpl := req.Node.Props.String("template", "")

	action := template.MissingKeep
	switch req.Node.Props.String("missing", "keep") {
	case "empty":
		action = template.MissingEmpty
	case "error":
		action = template.MissingError
	}

	expander := template.NewExpander(template.WithMissingAction(action))
	rendered, err := expander.Expand(tmpl, req.InputVars())
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	return dipeo.NewEnvelope(req.Node.ID, rendered,
		dipeo.WithRepresentation(dipeo.RepText, rendered)), nil
}
