package handlers

import (
	"context"
	"fmt"

	"github.com/sorryhyun/DiPeO-sub003/pkg/dipeo"
	"github.com/sorryhyun/DiPeO-sub003/pkg/dipeo/expr"
)

// Branch labels produced by condition nodes.
const (
	BranchTrue  = "true"
	BranchFalse = "false"
)

// conditionHandler evaluates the node's "expression" property against
// the merged input variables and tags its envelope with the resulting
// branch label. Outgoing connections whose label does not match are not
// taken.
type conditionHandler struct {
	dipeo.BaseHandler
	eval *expr.Evaluator
}

func newCondition(*dipeo.ServiceRegistry) (dipeo.Handler, error) {
	return &conditionHandler{eval: expr.New()}, nil
}

func (h *conditionHandler) PreExecute(_ context.Context, req *dipeo.Request) (*dipeo.Envelope, error) {
	if !req.Node.Props.Has("expression") {
		return nil, &dipeo.ValidationError{
			NodeID: req.Node.ID,
			Err:    fmt.Errorf("condition node needs an %q property", "expression"),
		}
	}
	return nil, nil
}

func (h *conditionHandler) Execute(_ context.Context, req *dipeo.Request) (*dipeo.Envelope, error) {
	expression := req.Node.Props.String("expression", "")
	result, err := h.eval.Evaluate(expression, req.InputVars())
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", expression, err)
	}

	branch := BranchFalse
	if result {
		branch = BranchTrue
	}
	return dipeo.NewEnvelope(req.Node.ID, result,
		dipeo.WithBranch(branch),
		dipeo.WithRepresentation(dipeo.RepText, branch)), nil
}
