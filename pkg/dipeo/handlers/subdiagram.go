package handlers

import (
	"context"
	"fmt"
	"sync"

	"github.com/sorryhyun/DiPeO-sub003/pkg/dipeo"
	"github.com/sorryhyun/DiPeO-sub003/pkg/dipeo/memory"
)

// subDiagramHandler runs another compiled diagram as a single node.
// The nested diagram is looked up in the service registry under
// "diagram:<name>", so compositions are wired explicitly at startup.
//
// The nested run inherits the parent's services and agent memory, so a
// person node inside the child continues the same conversation as one
// outside it. Setting "isolated" gives the child a fresh memory manager
// instead.
//
// Properties:
//
//	diagram       name of the registered nested diagram; required
//	isolated      bool; fresh agent memory for the nested run
//	batch         bool; fan the first input's array out to one nested
//	              run per element
//	max_parallel  batch concurrency bound, default 4
type subDiagramHandler struct {
	dipeo.BaseHandler
}

func newSubDiagram(*dipeo.ServiceRegistry) (dipeo.Handler, error) {
	return &subDiagramHandler{}, nil
}

func (h *subDiagramHandler) PreExecute(_ context.Context, req *dipeo.Request) (*dipeo.Envelope, error) {
	name := req.Node.Props.String("diagram", "")
	if name == "" {
		return nil, &dipeo.ValidationError{
			NodeID: req.Node.ID,
			Err:    fmt.Errorf("sub_diagram node needs a %q property", "diagram"),
		}
	}
	if !req.Services.Has(DiagramPrefix + name) {
		return nil, &dipeo.ValidationError{
			NodeID: req.Node.ID,
			Err:    fmt.Errorf("no diagram registered under %q", DiagramPrefix+name),
		}
	}
	return nil, nil
}

func (h *subDiagramHandler) Execute(ctx context.Context, req *dipeo.Request) (*dipeo.Envelope, error) {
	name := req.Node.Props.String("diagram", "")
	nested, err := dipeo.Resolve[*dipeo.DiagramModel](req.Services, DiagramPrefix+name)
	if err != nil {
		return nil, err
	}

	engineOpts := []dipeo.EngineOption{
		dipeo.WithServices(req.Services),
		dipeo.WithLogger(req.Logger),
	}
	if req.Node.Props.Bool("isolated", false) {
		engineOpts = append(engineOpts, dipeo.WithMemory(memory.NewManager()))
	} else {
		engineOpts = append(engineOpts, dipeo.WithMemory(req.Memory))
	}

	engine, err := dipeo.NewEngine(req.Handlers, engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("build nested engine for %q: %w", name, err)
	}

	if req.Node.Props.Bool("batch", false) {
		return h.executeBatch(ctx, engine, nested, req)
	}

	vars := req.InputVars()
	result, err := engine.Execute(ctx, nested,
		dipeo.WithRunID(fmt.Sprintf("%s/%s", req.RunID, req.Node.ID)),
		dipeo.WithVars(vars))
	if err != nil {
		return nil, fmt.Errorf("nested diagram %q: %w", name, err)
	}
	if !result.Succeeded() {
		return nil, fmt.Errorf("nested diagram %q failed: nodes %v", name, result.Failed())
	}

	body := nestedOutput(nested, result)
	return dipeo.NewEnvelope(req.Node.ID, body), nil
}

// executeBatch fans the first input's array out to one nested run per
// element. Runs execute in parallel up to max_parallel; outputs come
// back in input order, and any sub-run failure fails the whole node.
func (h *subDiagramHandler) executeBatch(ctx context.Context, engine *dipeo.Engine, nested *dipeo.DiagramModel, req *dipeo.Request) (*dipeo.Envelope, error) {
	in := req.FirstInput()
	items, ok := in.Object().([]any)
	if !ok {
		return nil, fmt.Errorf("batch sub_diagram needs an array input, got %T", in.Object())
	}

	parallel := req.Node.Props.Int("max_parallel", 4)
	if parallel < 1 {
		parallel = 1
	}

	outputs := make([]any, len(items))
	errs := make([]error, len(items))
	sem := make(chan struct{}, parallel)
	var wg sync.WaitGroup

	for i, item := range items {
		wg.Add(1)
		go func(i int, item any) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			vars := make(map[string]any, len(req.Vars)+2)
			for k, v := range req.Vars {
				vars[k] = v
			}
			vars["item"] = item
			vars["index"] = i

			result, err := engine.Execute(ctx, nested,
				dipeo.WithRunID(fmt.Sprintf("%s/%s[%d]", req.RunID, req.Node.ID, i)),
				dipeo.WithVars(vars))
			if err != nil {
				errs[i] = err
				return
			}
			if !result.Succeeded() {
				errs[i] = fmt.Errorf("nodes %v failed", result.Failed())
				return
			}
			outputs[i] = nestedOutput(nested, result)
		}(i, item)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("batch element %d: %w", i, err)
		}
	}
	return dipeo.NewEnvelope(req.Node.ID, outputs), nil
}

// nestedOutput picks what a sub_diagram node emits: the sole endpoint
// node's output when the nested diagram has exactly one, otherwise a
// map of every sink node's output keyed by node id.
func nestedOutput(d *dipeo.DiagramModel, result *dipeo.ExecutionResult) any {
	var endpoints []string
	var sinks []string
	for _, id := range d.NodeIDs() {
		node, _ := d.Node(id)
		if node.Type == TypeEndpoint {
			endpoints = append(endpoints, id)
		}
		if len(d.Outgoing(id)) == 0 {
			sinks = append(sinks, id)
		}
	}

	if len(endpoints) == 1 {
		return result.Output(endpoints[0]).Object()
	}

	out := make(map[string]any, len(sinks))
	for _, id := range sinks {
		if env := result.Output(id); env != nil {
			out[id] = env.Object()
		}
	}
	return out
}
