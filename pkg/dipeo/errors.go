package dipeo

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for diagram compilation.
var (
	// ErrUnknownNodeType indicates a node declares a type tag with no
	// registered handler definition.
	ErrUnknownNodeType = errors.New("unknown node type")

	// ErrNodeNotFound indicates a connection endpoint references a
	// non-existent node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrDanglingHandle indicates a connection endpoint references a
	// handle the node does not declare.
	ErrDanglingHandle = errors.New("handle not declared on node")

	// ErrDuplicateHandle indicates a node declares the same handle twice.
	ErrDuplicateHandle = errors.New("duplicate handle")

	// ErrInvalidContentType indicates a connection content type outside
	// {raw_text, object, conversation_state}. An empty content type is
	// invalid, never a default.
	ErrInvalidContentType = errors.New("invalid connection content type")

	// ErrMissingInput indicates a required input handle with zero
	// incoming connections.
	ErrMissingInput = errors.New("required input has no incoming connection")

	// ErrUnknownAgent indicates a node addresses an agent id the diagram
	// does not declare.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrBranchLabel indicates a branch label on a connection whose
	// source node type does not produce branch decisions, or a missing
	// label where one is required.
	ErrBranchLabel = errors.New("invalid branch label")
)

// Sentinel errors for execution.
var (
	// ErrRunawayLoop indicates the global step ceiling was exceeded.
	ErrRunawayLoop = errors.New("global iteration ceiling exceeded")

	// ErrNilDiagram indicates Execute was called with a nil diagram.
	ErrNilDiagram = errors.New("diagram cannot be nil")
)

// CompilationError aggregates everything wrong with a diagram source.
// Compile reports all diagnostics at once rather than stopping at the first.
type CompilationError struct {
	Diagram string
	Errs    []error
}

// Error implements the error interface.
func (e *CompilationError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("compile %s: %s", e.Diagram, strings.Join(msgs, "; "))
}

// Unwrap returns the joined diagnostics for errors.Is/As support.
func (e *CompilationError) Unwrap() error {
	return errors.Join(e.Errs...)
}

// ValidationError indicates a handler rejected its input contract
// before execution.
type ValidationError struct {
	NodeID string
	Err    error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("node %s: input validation: %v", e.NodeID, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ValidationError) Unwrap() error { return e.Err }

// HandlerExecutionError wraps an error raised inside a handler's Execute.
type HandlerExecutionError struct {
	NodeID    string
	Iteration int
	Err       error
}

// Error implements the error interface.
func (e *HandlerExecutionError) Error() string {
	return fmt.Sprintf("node %s (iteration %d): %v", e.NodeID, e.Iteration, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *HandlerExecutionError) Unwrap() error { return e.Err }

// TimeoutError indicates a node- or run-scoped deadline was exceeded.
type TimeoutError struct {
	// Scope is "node" or "run".
	Scope  string
	NodeID string
	Limit  time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	if e.Scope == "run" {
		return fmt.Sprintf("run timed out after %s", e.Limit)
	}
	return fmt.Sprintf("node %s timed out after %s", e.NodeID, e.Limit)
}

// CancelledError indicates an in-flight node observed the cancellation token.
type CancelledError struct {
	NodeID string
	Cause  error
}

// Error implements the error interface.
func (e *CancelledError) Error() string {
	return fmt.Sprintf("node %s cancelled: %v", e.NodeID, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CancelledError) Unwrap() error { return e.Cause }

// RunawayLoopError is the fatal abort raised when total dispatches exceed
// the configured global ceiling. It is distinct from a single node
// reaching its own max_iteration, which is a normal terminal state.
type RunawayLoopError struct {
	Steps int
	Limit int
	// LastNodes are the node ids still armed when the ceiling tripped.
	LastNodes []string
}

// Error implements the error interface.
func (e *RunawayLoopError) Error() string {
	return fmt.Sprintf("runaway loop: %d dispatches exceeded ceiling %d (armed: %s)",
		e.Steps, e.Limit, strings.Join(e.LastNodes, ", "))
}

// Unwrap returns ErrRunawayLoop for errors.Is support.
func (e *RunawayLoopError) Unwrap() error { return ErrRunawayLoop }

// PanicError captures a panic escaping a handler, including the stack
// trace for debugging.
type PanicError struct {
	NodeID string
	Value  any
	Stack  string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("node %s panicked: %v", e.NodeID, e.Value)
}
