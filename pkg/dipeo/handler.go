package dipeo

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/sorryhyun/DiPeO-sub003/pkg/dipeo/memory"
	"github.com/sorryhyun/DiPeO-sub003/pkg/dipeo/registry"
)

// Request carries everything a handler needs for one node invocation.
// It is the explicit execution context threaded through every call;
// there is no ambient "current execution" state anywhere.
//
// Requests are built fresh per (node, iteration) and must not be retained
// past PostExecute.
type Request struct {
	Node      Node
	Iteration int
	Inputs    map[string]*Envelope // keyed by input handle
	Vars      map[string]any

	Diagram  *DiagramModel
	Services *ServiceRegistry
	Memory   *memory.Manager
	Handlers *HandlerRegistry

	RunID   string
	TraceID string
	Logger  *slog.Logger
}

// Input returns the envelope delivered on the given handle, or nil.
func (r *Request) Input(handle string) *Envelope {
	return r.Inputs[handle]
}

// FirstInput returns the default-handle envelope if present, otherwise
// the envelope on the lexically first populated handle. Single-input
// handlers use this instead of caring about handle names.
func (r *Request) FirstInput() *Envelope {
	if env, ok := r.Inputs[DefaultHandle]; ok {
		return env
	}
	handles := make([]string, 0, len(r.Inputs))
	for h := range r.Inputs {
		handles = append(handles, h)
	}
	sort.Strings(handles)
	for _, h := range handles {
		if env := r.Inputs[h]; env != nil {
			return env
		}
	}
	return nil
}

// InputText returns the text form of the envelope on the given handle.
func (r *Request) InputText(handle string) string {
	return r.Inputs[handle].Text()
}

// InputVars merges run variables with the object forms of all inputs,
// inputs winning on key collision. Handles become variable names.
func (r *Request) InputVars() map[string]any {
	vars := make(map[string]any, len(r.Vars)+len(r.Inputs))
	for k, v := range r.Vars {
		vars[k] = v
	}
	for handle, env := range r.Inputs {
		if env == nil {
			continue
		}
		vars[handle] = env.Object()
		if m, ok := env.Object().(map[string]any); ok && handle == DefaultHandle {
			for k, v := range m {
				vars[k] = v
			}
		}
	}
	return vars
}

// Handler is the uniform polymorphic contract every node type implements.
//
// PreExecute may veto the invocation by returning a non-nil envelope
// (usually an error envelope), which short-circuits Execute. Execute is
// the mandatory business logic. PostExecute runs for its side effects
// only; its outcome never alters the recorded envelope.
//
// Handlers must tolerate concurrent invocation across distinct node
// instances: no shared mutable state beyond what ServiceRegistry-resolved
// services themselves guarantee.
type Handler interface {
	PreExecute(ctx context.Context, req *Request) (*Envelope, error)
	Execute(ctx context.Context, req *Request) (*Envelope, error)
	PostExecute(ctx context.Context, env *Envelope, req *Request)
}

// BaseHandler provides no-op PreExecute and PostExecute so handlers only
// implement the hooks they need.
type BaseHandler struct{}

// PreExecute returns (nil, nil): never short-circuits.
func (BaseHandler) PreExecute(context.Context, *Request) (*Envelope, error) { return nil, nil }

// PostExecute does nothing.
func (BaseHandler) PostExecute(context.Context, *Envelope, *Request) {}

// HandlerFunc adapts a plain function to the Handler interface with
// no-op pre and post hooks. Useful for tests and simple node types.
type HandlerFunc func(ctx context.Context, req *Request) (*Envelope, error)

// PreExecute implements Handler.
func (f HandlerFunc) PreExecute(context.Context, *Request) (*Envelope, error) { return nil, nil }

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, req *Request) (*Envelope, error) {
	return f(ctx, req)
}

// PostExecute implements Handler.
func (f HandlerFunc) PostExecute(context.Context, *Envelope, *Request) {}

// Factory instantiates a handler with dependencies resolved from the
// service registry. Factories run once per engine per node type.
type Factory func(services *ServiceRegistry) (Handler, error)

// Definition describes a node type: how to build its handler and the
// handle contract nodes of this type default to.
type Definition struct {
	// New builds the handler. Required.
	New Factory

	// Inputs and Outputs are the default handles applied to nodes of
	// this type that declare none of their own.
	Inputs  []Handle
	Outputs []string

	// Branching marks node types whose outgoing connections carry
	// branch labels (condition nodes).
	Branching bool
}

// HandlerRegistry maps node type tags to handler definitions.
// It is populated explicitly at startup via Register — a builder, not
// runtime type discovery. Compilation fails on type tags that were
// never registered.
type HandlerRegistry struct {
	reg *registry.Registry[string, Definition]
}

// NewHandlerRegistry creates an empty handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{reg: registry.New[string, Definition]()}
}

// Register adds a node type definition.
// Returns the registry for method chaining.
//
// Panics if the type tag is empty, already registered, or the factory
// is nil — all programmer errors at wiring time.
func (r *HandlerRegistry) Register(nodeType string, def Definition) *HandlerRegistry {
	if nodeType == "" {
		panic("dipeo: node type cannot be empty")
	}
	if def.New == nil {
		panic(fmt.Sprintf("dipeo: node type %q has nil factory", nodeType))
	}
	if r.reg.Has(nodeType) {
		panic(fmt.Sprintf("dipeo: duplicate node type: %s", nodeType))
	}
	r.reg.Register(nodeType, def)
	return r
}

// Definition returns the definition for a node type tag.
func (r *HandlerRegistry) Definition(nodeType string) (Definition, bool) {
	return r.reg.Get(nodeType)
}

// Has reports whether the node type tag is registered.
func (r *HandlerRegistry) Has(nodeType string) bool {
	return r.reg.Has(nodeType)
}

// Types returns all registered node type tags. The order is not guaranteed.
func (r *HandlerRegistry) Types() []string {
	return r.reg.Keys()
}
