package dipeo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sorryhyun/DiPeO-sub003/pkg/dipeo/event"
	"github.com/sorryhyun/DiPeO-sub003/pkg/dipeo/memory"
	"github.com/sorryhyun/DiPeO-sub003/pkg/dipeo/observability"
	"github.com/sorryhyun/DiPeO-sub003/pkg/dipeo/retry"
)

// Engine executes compiled diagrams. It owns one handler instance per
// registered node type, a service registry, and an agent memory manager
// that persists across runs. An Engine is safe for concurrent Execute
// calls on distinct runs.
type Engine struct {
	handlers  *HandlerRegistry
	instances map[string]Handler
	cfg       engineConfig
}

// NewEngine creates an engine over a handler registry. Handler factories
// run once here, resolving their dependencies from the service registry.
func NewEngine(handlers *HandlerRegistry, opts ...EngineOption) (*Engine, error) {
	if handlers == nil {
		panic("dipeo: engine needs a handler registry")
	}

	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.services == nil {
		cfg.services = NewServiceRegistry()
	}
	if cfg.memory == nil {
		cfg.memory = memory.NewManager()
	}

	instances := make(map[string]Handler)
	for _, t := range handlers.Types() {
		def, _ := handlers.Definition(t)
		h, err := def.New(cfg.services)
		if err != nil {
			return nil, fmt.Errorf("instantiate handler for type %q: %w", t, err)
		}
		instances[t] = h
	}

	return &Engine{handlers: handlers, instances: instances, cfg: cfg}, nil
}

// Memory returns the engine's agent memory manager.
func (e *Engine) Memory() *memory.Manager { return e.cfg.memory }

// Services returns the engine's service registry.
func (e *Engine) Services() *ServiceRegistry { return e.cfg.services }

// dispatch is one node start handed to a worker.
type dispatch struct {
	id        string
	iteration int
	inputs    map[string]*Envelope
}

// outcome is what a worker brings back.
type outcome struct {
	id        string
	iteration int
	env       *Envelope
	failed    bool
}

// Execute runs a compiled diagram to completion.
//
// Node failures never fail Execute: they settle the node FAILED, block
// its downstream, and land in the ExecutionResult. Execute itself
// returns an error only for a nil diagram, a tripped dispatch ceiling
// (RunawayLoopError), run timeout, or caller cancellation — and in the
// latter two cases the partial result is returned alongside the error.
func (e *Engine) Execute(ctx context.Context, d *DiagramModel, opts ...RunOption) (*ExecutionResult, error) {
	if d == nil {
		return nil, ErrNilDiagram
	}

	rc := runConfig{timeout: e.cfg.runTimeout, maxSteps: e.cfg.maxSteps}
	for _, opt := range opts {
		opt(&rc)
	}
	if rc.runID == "" {
		rc.runID = uuid.New().String()
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if rc.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, rc.timeout)
		defer cancel()
	}

	start := time.Now()
	traceID := uuid.New().String()

	observability.LogRunStart(e.cfg.logger, rc.runID, d.Name())
	e.emit(event.New(event.KindRunStarted, rc.runID, d.Name()))

	execCtx := runCtx
	var runErr error
	if e.cfg.tracingEnabled {
		spanCtx, span := e.cfg.spans.StartRunSpan(runCtx, d.Name(), rc.runID)
		execCtx = spanCtx
		defer func() {
			e.cfg.spans.EndSpanWithError(span, runErr)
		}()
	}

	sched := newScheduler(d)
	steps := 0
	aborted := false
	abortReason := ""
	emittedFinal := make(map[string]bool)

	for {
		if err := runCtx.Err(); err != nil {
			break
		}

		wave := sched.ready()
		if len(wave) == 0 {
			break
		}

		if steps+len(wave) > rc.maxSteps {
			runErr = &RunawayLoopError{
				Steps:     steps + len(wave),
				Limit:     rc.maxSteps,
				LastNodes: sched.armed(),
			}
			observability.LogRunError(e.cfg.logger, rc.runID, runErr, float64(time.Since(start).Milliseconds()))
			e.emit(event.New(event.KindRunFailed, rc.runID, d.Name(), event.WithError(runErr)))
			e.cfg.metrics.RecordRun(execCtx, d.Name(), false, time.Since(start))
			return nil, runErr
		}
		steps += len(wave)
		e.cfg.metrics.RecordDispatchWave(execCtx, len(wave))

		// Open all records before any worker runs; the scheduler is not
		// concurrent-safe and workers never touch it.
		dispatches := make([]dispatch, len(wave))
		for i, id := range wave {
			it, inputs := sched.start(id)
			dispatches[i] = dispatch{id: id, iteration: it, inputs: inputs}
		}

		outcomes := e.runWave(execCtx, d, dispatches, rc, traceID)

		for _, o := range outcomes {
			node, _ := d.Node(o.id)
			def, _ := e.handlers.Definition(node.Type)

			if o.failed {
				sched.fail(o.id, o.env)
				e.emit(event.New(event.KindNodeFailed, rc.runID, d.Name(),
					event.WithNode(o.id, o.iteration), event.WithError(o.env.Err())))
				e.persistOutput(rc, o, string(StatusFailed), &aborted, &abortReason)
				if node.Critical && !aborted {
					aborted = true
					abortReason = fmt.Sprintf("critical node %s failed: %s", o.id, o.env.ErrorText)
				}
				continue
			}

			sched.complete(o.id, o.env, def.Branching)
			e.emit(event.New(event.KindNodeCompleted, rc.runID, d.Name(),
				event.WithNode(o.id, o.iteration), event.WithSummary(o.env.Summary())))
			e.persistOutput(rc, o, string(StatusCompleted), &aborted, &abortReason)
		}

		e.emitSettled(sched, rc.runID, d.Name(), emittedFinal)

		if aborted {
			break
		}
	}

	sched.settleRemaining()
	e.emitSettled(sched, rc.runID, d.Name(), emittedFinal)

	result := e.buildResult(d, sched, rc.runID, start, steps, aborted, abortReason)
	e.persistRun(rc.runID, result)

	duration := time.Since(start)
	switch {
	case runCtx.Err() != nil && ctx.Err() == nil:
		// The run-scoped deadline fired, not the caller's context.
		runErr = &TimeoutError{Scope: "run", Limit: rc.timeout}
	case ctx.Err() != nil:
		runErr = ctx.Err()
	}

	success := runErr == nil && result.Succeeded()
	e.cfg.metrics.RecordRun(execCtx, d.Name(), success, duration)
	if runErr != nil {
		observability.LogRunError(e.cfg.logger, rc.runID, runErr, float64(duration.Milliseconds()))
		e.emit(event.New(event.KindRunFailed, rc.runID, d.Name(), event.WithError(runErr)))
		return result, runErr
	}

	observability.LogRunComplete(e.cfg.logger, rc.runID, float64(duration.Milliseconds()), steps)
	if result.Succeeded() {
		e.emit(event.New(event.KindRunCompleted, rc.runID, d.Name()))
	} else {
		e.emit(event.New(event.KindRunFailed, rc.runID, d.Name(),
			event.WithSummary(abortReason)))
	}
	return result, nil
}

// runWave executes one wave of dispatches on a bounded worker pool and
// waits for all of them (barrier semantics).
func (e *Engine) runWave(ctx context.Context, d *DiagramModel, dispatches []dispatch, rc runConfig, traceID string) []outcome {
	outcomes := make([]outcome, len(dispatches))
	sem := make(chan struct{}, e.cfg.maxConcurrent)
	var wg sync.WaitGroup

	for i, disp := range dispatches {
		wg.Add(1)
		go func(i int, disp dispatch) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			env, failed := e.invokeNode(ctx, d, disp, rc, traceID)
			outcomes[i] = outcome{id: disp.id, iteration: disp.iteration, env: env, failed: failed}
		}(i, disp)
	}
	wg.Wait()
	return outcomes
}

// invokeNode drives one node iteration through the full handler
// pipeline: PreExecute, Execute under retry and timeout, PostExecute.
// It never returns a nil envelope.
func (e *Engine) invokeNode(ctx context.Context, d *DiagramModel, disp dispatch, rc runConfig, traceID string) (*Envelope, bool) {
	node, _ := d.Node(disp.id)
	handler := e.instances[node.Type]
	logger := observability.EnrichLogger(e.cfg.logger, rc.runID, disp.id, disp.iteration)

	req := &Request{
		Node:      node,
		Iteration: disp.iteration,
		Inputs:    disp.inputs,
		Vars:      rc.vars,
		Diagram:   d,
		Services:  e.cfg.services,
		Memory:    e.cfg.memory,
		Handlers:  e.handlers,
		RunID:     rc.runID,
		TraceID:   traceID,
		Logger:    logger,
	}

	observability.LogNodeStart(e.cfg.logger, disp.id, disp.iteration)
	e.emit(event.New(event.KindNodeStarted, rc.runID, d.Name(), event.WithNode(disp.id, disp.iteration)))

	nodeCtx := ctx
	var span = noSpan
	if e.cfg.tracingEnabled {
		sc, s := e.cfg.spans.StartNodeSpan(ctx, disp.id, disp.iteration)
		nodeCtx = sc
		span = func(err error) { e.cfg.spans.EndSpanWithError(s, err) }
	}

	nodeStart := time.Now()
	env, failed := e.runPipeline(nodeCtx, handler, req)
	nodeDuration := time.Since(nodeStart)

	// Stamp provenance the handler did not set itself.
	if env.ProducedBy == "" {
		env.ProducedBy = disp.id
	}
	env.Iteration = disp.iteration
	if env.TraceID == "" {
		env.TraceID = traceID
	}

	e.cfg.metrics.RecordNodeExecution(nodeCtx, disp.id, node.Type, nodeDuration, env.Err())
	span(env.Err())

	if failed {
		observability.LogNodeError(e.cfg.logger, disp.id, disp.iteration, env.Err())
	} else {
		observability.LogNodeComplete(e.cfg.logger, disp.id, disp.iteration, float64(nodeDuration.Milliseconds()))
	}
	return env, failed
}

var noSpan = func(error) {}

// runPipeline is the pre/execute/post sequence with panic recovery and
// error-to-envelope classification.
func (e *Engine) runPipeline(ctx context.Context, handler Handler, req *Request) (*Envelope, bool) {
	node := req.Node

	pre, err := e.safePre(ctx, handler, req)
	if err != nil {
		return e.classify(node, req.Iteration, err), true
	}
	if pre != nil {
		// A non-nil PreExecute envelope short-circuits Execute entirely.
		e.safePost(ctx, handler, pre, req)
		return pre, pre.IsError
	}

	cfg := retry.None
	if node.Retry != nil && node.Retry.MaxAttempts > 1 {
		cfg = retry.Config{
			MaxAttempts:    node.Retry.MaxAttempts,
			InitialBackoff: node.Retry.InitialBackoff,
			MaxBackoff:     node.Retry.MaxBackoff,
			BackoffFactor:  node.Retry.BackoffFactor,
			Jitter:         retry.Default.Jitter,
			RetryableFunc:  retryable,
		}
	}

	timeout := node.Timeout
	if timeout <= 0 {
		timeout = e.cfg.nodeTimeout
	}

	res := retry.Do(ctx, cfg, func(ctx context.Context) (*Envelope, error) {
		attemptCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		env, err := e.safeExec(attemptCtx, handler, req)
		if err != nil {
			// Attach timeout scope while the attempt deadline is the
			// plausible cause.
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return nil, &TimeoutError{Scope: "node", NodeID: node.ID, Limit: timeout}
			}
			return nil, err
		}
		if env == nil {
			return nil, fmt.Errorf("handler for type %q returned a nil envelope", node.Type)
		}
		return env, nil
	})

	if res.Err != nil {
		env := e.classify(node, req.Iteration, res.Err)
		e.safePost(ctx, handler, env, req)
		return env, true
	}

	env := res.Value
	e.safePost(ctx, handler, env, req)
	return env, env.IsError
}

// retryable keeps retries away from cancellation, timeouts, and panics.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return false
	}
	var pe *PanicError
	if errors.As(err, &pe) {
		return false
	}
	return true
}

// classify maps a pipeline error to an error envelope of the right kind.
func (e *Engine) classify(node Node, iteration int, err error) *Envelope {
	var kind ErrorKind
	var pe *PanicError
	var te *TimeoutError
	var ve *ValidationError
	switch {
	case errors.As(err, &pe):
		kind = ErrKindPanic
	case errors.As(err, &te):
		kind = ErrKindTimeout
	case errors.Is(err, context.DeadlineExceeded):
		kind = ErrKindTimeout
	case errors.Is(err, context.Canceled):
		kind = ErrKindCancelled
		err = &CancelledError{NodeID: node.ID, Cause: err}
	case errors.As(err, &ve):
		kind = ErrKindValidation
	default:
		kind = ErrKindExecution
		err = &HandlerExecutionError{NodeID: node.ID, Iteration: iteration, Err: err}
	}
	return ErrorEnvelope(node.ID, kind, err)
}

// safePre runs PreExecute with panic recovery.
func (e *Engine) safePre(ctx context.Context, handler Handler, req *Request) (env *Envelope, err error) {
	defer func() {
		if r := recover(); r != nil {
			env = nil
			err = &PanicError{NodeID: req.Node.ID, Value: r, Stack: string(debug.Stack())}
		}
	}()
	return handler.PreExecute(ctx, req)
}

// safeExec runs Execute with panic recovery.
func (e *Engine) safeExec(ctx context.Context, handler Handler, req *Request) (env *Envelope, err error) {
	defer func() {
		if r := recover(); r != nil {
			env = nil
			err = &PanicError{NodeID: req.Node.ID, Value: r, Stack: string(debug.Stack())}
		}
	}()
	return handler.Execute(ctx, req)
}

// safePost runs PostExecute for its side effects only. A panicking or
// misbehaving PostExecute never alters the recorded envelope.
func (e *Engine) safePost(ctx context.Context, handler Handler, env *Envelope, req *Request) {
	defer func() {
		if r := recover(); r != nil {
			req.Logger.Error("post-execute hook panicked",
				"node_id", req.Node.ID, "panic", fmt.Sprintf("%v", r))
		}
	}()
	handler.PostExecute(ctx, env, req)
}

// emit publishes a record when a bus is attached.
func (e *Engine) emit(r event.Record) {
	if e.cfg.events != nil {
		e.cfg.events.Emit(r)
	}
}

// emitSettled publishes skip and max-iteration events for nodes that
// settled since the last call.
func (e *Engine) emitSettled(sched *scheduler, runID, diagram string, emitted map[string]bool) {
	for id, st := range sched.final {
		if emitted[id] {
			continue
		}
		switch st {
		case StatusSkipped:
			emitted[id] = true
			observability.LogNodeSkipped(e.cfg.logger, id, skipReason(sched, id))
			e.emit(event.New(event.KindNodeSkipped, runID, diagram, event.WithNode(id, 0)))
		case StatusMaxIter:
			emitted[id] = true
			e.emit(event.New(event.KindNodeMaxIter, runID, diagram,
				event.WithNode(id, sched.iterations[id])))
		default:
			emitted[id] = true
		}
	}
}

func skipReason(sched *scheduler, id string) string {
	if sched.blocked[id] {
		return "upstream failure"
	}
	return "branch not taken"
}

// persistOutput writes one node outcome to the state store, if any.
func (e *Engine) persistOutput(rc runConfig, o outcome, status string, aborted *bool, abortReason *string) {
	if e.cfg.store == nil {
		return
	}
	data, err := json.Marshal(o.env)
	if err == nil {
		err = e.cfg.store.SaveOutput(rc.runID, o.id, o.iteration, status, data)
	}
	if err != nil {
		if e.cfg.storeFatal && !*aborted {
			*aborted = true
			*abortReason = fmt.Sprintf("state store write for node %s failed: %v", o.id, err)
		}
		observability.LogStateError(e.cfg.logger, o.id, "save_output", err)
	}
}

// persistRun writes the run summary to the state store, if any.
func (e *Engine) persistRun(runID string, result *ExecutionResult) {
	if e.cfg.store == nil {
		return
	}
	data, err := json.Marshal(result)
	if err == nil {
		err = e.cfg.store.SaveRun(runID, data)
	}
	if err != nil {
		observability.LogStateError(e.cfg.logger, "", "save_run", err)
	}
}

// buildResult assembles the ExecutionResult from scheduler state.
func (e *Engine) buildResult(d *DiagramModel, sched *scheduler, runID string, start time.Time, steps int, aborted bool, abortReason string) *ExecutionResult {
	finished := time.Now().UTC()

	results := make([]NodeResult, 0, len(sched.recordOrder))
	for _, key := range sched.recordOrder {
		rec := sched.records[key]
		node, _ := d.Node(key.NodeID)
		results = append(results, NodeResult{
			NodeID:    key.NodeID,
			Type:      node.Type,
			Iteration: key.Iteration,
			Status:    rec.status,
			Envelope:  rec.envelope,
			Started:   rec.started,
			Finished:  rec.finished,
			Duration:  rec.finished.Sub(rec.started),
		})
	}

	statuses := make(map[string]Status, len(d.order))
	outputs := make(map[string]*Envelope)
	for _, id := range d.order {
		statuses[id] = sched.finalStatus(id)
		if env := sched.latest[id]; env != nil {
			outputs[id] = env
		}
	}

	return &ExecutionResult{
		RunID:       runID,
		Diagram:     d.Name(),
		StartedAt:   start.UTC(),
		FinishedAt:  finished,
		Duration:    finished.Sub(start.UTC()),
		Steps:       steps,
		Results:     results,
		Statuses:    statuses,
		Outputs:     outputs,
		Aborted:     aborted,
		AbortReason: abortReason,
	}
}
