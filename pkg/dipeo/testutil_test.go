package dipeo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sorryhyun/DiPeO-sub003/pkg/dipeo/config"
)

// Test node types used across tests.

// tracker records node invocation order across goroutines.
type tracker struct {
	mu   sync.Mutex
	seen []string
}

func (t *tracker) add(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen = append(t.seen, id)
}

func (t *tracker) order() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.seen))
	copy(out, t.seen)
	return out
}

// intBody extracts an integer from an envelope body.
func intBody(env *Envelope) int {
	switch v := env.Body.(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// props builds a node property bag from a map.
func props(m map[string]any) config.Config {
	return config.New(m)
}

// testRegistry registers the node types the execution tests use:
//
//	source   emits its "value" property; no inputs
//	echo     appends its id to the input's text trail
//	counter  adds one to the "loop" input if present, else the "seed" input
//	gate     branching passthrough; branch "true" once the value reaches "limit"
//	fail     errors with its "message" property, succeeding after
//	         "succeed_after" attempts when set
//	sleep    blocks for "ms" milliseconds, then echoes
//	boom     panics
func testRegistry(tr *tracker) *HandlerRegistry {
	reg := NewHandlerRegistry()

	reg.Register("source", Definition{
		New: func(*ServiceRegistry) (Handler, error) {
			return HandlerFunc(func(_ context.Context, req *Request) (*Envelope, error) {
				tr.add(req.Node.ID)
				return NewEnvelope(req.Node.ID, req.Node.Props.Any("value", nil)), nil
			}), nil
		},
		Outputs: []string{DefaultHandle},
	})

	reg.Register("echo", Definition{
		New: func(*ServiceRegistry) (Handler, error) {
			return HandlerFunc(func(_ context.Context, req *Request) (*Envelope, error) {
				tr.add(req.Node.ID)
				body := req.FirstInput().Text() + ">" + req.Node.ID
				return NewEnvelope(req.Node.ID, body), nil
			}), nil
		},
		Inputs:  []Handle{{Name: DefaultHandle}},
		Outputs: []string{DefaultHandle},
	})

	reg.Register("counter", Definition{
		New: func(*ServiceRegistry) (Handler, error) {
			return HandlerFunc(func(_ context.Context, req *Request) (*Envelope, error) {
				tr.add(req.Node.ID)
				in := req.Input("loop")
				if in == nil {
					in = req.Input("seed")
				}
				return NewEnvelope(req.Node.ID, intBody(in)+1), nil
			}), nil
		},
		Inputs:  []Handle{{Name: "seed"}, {Name: "loop"}},
		Outputs: []string{DefaultHandle},
	})

	reg.Register("gate", Definition{
		New: func(*ServiceRegistry) (Handler, error) {
			return HandlerFunc(func(_ context.Context, req *Request) (*Envelope, error) {
				tr.add(req.Node.ID)
				v := intBody(req.FirstInput())
				branch := "false"
				if v >= req.Node.Props.Int("limit", 1) {
					branch = "true"
				}
				return NewEnvelope(req.Node.ID, v, WithBranch(branch)), nil
			}), nil
		},
		Inputs:    []Handle{{Name: DefaultHandle, Required: true}},
		Outputs:   []string{DefaultHandle},
		Branching: true,
	})

	reg.Register("fail", Definition{
		New: func(*ServiceRegistry) (Handler, error) {
			var mu sync.Mutex
			attempts := make(map[string]int)
			return HandlerFunc(func(_ context.Context, req *Request) (*Envelope, error) {
				tr.add(req.Node.ID)
				mu.Lock()
				attempts[req.Node.ID]++
				n := attempts[req.Node.ID]
				mu.Unlock()
				if after := req.Node.Props.Int("succeed_after", 0); after > 0 && n > after {
					return NewEnvelope(req.Node.ID, "recovered"), nil
				}
				return nil, fmt.Errorf("%s", req.Node.Props.String("message", "boom"))
			}), nil
		},
		Inputs:  []Handle{{Name: DefaultHandle}},
		Outputs: []string{DefaultHandle},
	})

	reg.Register("sleep", Definition{
		New: func(*ServiceRegistry) (Handler, error) {
			return HandlerFunc(func(ctx context.Context, req *Request) (*Envelope, error) {
				tr.add(req.Node.ID)
				d := time.Duration(req.Node.Props.Int("ms", 50)) * time.Millisecond
				select {
				case <-time.After(d):
					return NewEnvelope(req.Node.ID, "slept"), nil
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}), nil
		},
		Inputs:  []Handle{{Name: DefaultHandle}},
		Outputs: []string{DefaultHandle},
	})

	reg.Register("boom", Definition{
		New: func(*ServiceRegistry) (Handler, error) {
			return HandlerFunc(func(context.Context, *Request) (*Envelope, error) {
				panic("kaboom")
			}), nil
		},
		Inputs:  []Handle{{Name: DefaultHandle}},
		Outputs: []string{DefaultHandle},
	})

	return reg
}

// mustCompile compiles a diagram against the given registry, panicking
// on diagnostics. Test diagrams are statically valid.
func mustCompile(reg *HandlerRegistry, d *Diagram) *DiagramModel {
	model, err := NewCompiler(reg).Compile(d)
	if err != nil {
		panic(err)
	}
	return model
}
