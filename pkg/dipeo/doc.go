// Package dipeo executes diagrams: workflows declared as typed nodes
// joined by data connections, compiled into an immutable model and run
// by a wave-scheduling engine.
//
// A diagram is built programmatically with Diagram (or parsed from
// YAML with Parse), validated and lowered by Compiler.Compile, and
// executed by Engine.Execute. Cycles are first-class: loop-back
// connections re-arm their targets up to each node's MaxIteration, and
// a global dispatch ceiling stops runaway loops.
//
// Node behavior lives in handlers implementing the three-phase Handler
// contract (PreExecute, Execute, PostExecute), registered per type tag
// in a HandlerRegistry. Handlers exchange Envelope values carrying a
// body, alternate representations, provenance, and branch labels.
// Condition nodes tag their envelopes with a branch; connections whose
// label does not match are not taken, and nodes left without any taken
// input settle SKIPPED.
//
// Agent conversations live in memory.Manager, keyed by agent identity
// rather than by node, so multiple nodes addressing the same agent
// share one conversation whose order matches real invocation order.
//
// Minimal use:
//
//	reg := handlers.Register(dipeo.NewHandlerRegistry())
//	model, err := dipeo.NewCompiler(reg).Compile(
//	    dipeo.NewDiagram("greet").
//	        AddNode(dipeo.Node{ID: "start", Type: "start"}).
//	        AddNode(dipeo.Node{ID: "end", Type: "endpoint"}).
//	        Connect(dipeo.Conn("start", "end", dipeo.ContentRawText)))
//	if err != nil { ... }
//
//	engine, err := dipeo.NewEngine(reg)
//	if err != nil { ... }
//	result, err := engine.Execute(ctx, model, dipeo.WithVar("name", "Ada"))
package dipeo
