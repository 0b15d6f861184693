// Package event provides execution progress events for diagram runs.
//
// The engine emits a Record for every lifecycle transition: run start
// and end, node start, completion, failure, skip, and iteration
// exhaustion. Sinks receive records synchronously in emission order;
// the Bus fans records out to multiple sinks.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies a lifecycle transition.
type Kind string

const (
	KindRunStarted    Kind = "run.started"
	KindRunCompleted  Kind = "run.completed"
	KindRunFailed     Kind = "run.failed"
	KindNodeStarted   Kind = "node.started"
	KindNodeCompleted Kind = "node.completed"
	KindNodeFailed    Kind = "node.failed"
	KindNodeSkipped   Kind = "node.skipped"
	KindNodeMaxIter   Kind = "node.max_iteration"
)

// Record is one immutable progress event.
type Record struct {
	ID        string         `json:"id"`
	Kind      Kind           `json:"kind"`
	RunID     string         `json:"run_id"`
	Diagram   string         `json:"diagram,omitempty"`
	NodeID    string         `json:"node_id,omitempty"`
	Iteration int            `json:"iteration,omitempty"`
	Summary   string         `json:"summary,omitempty"`
	Error     string         `json:"error,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// RecordOption configures record creation.
type RecordOption func(*Record)

// WithNode tags the record with a node id and iteration.
func WithNode(nodeID string, iteration int) RecordOption {
	return func(r *Record) {
		r.NodeID = nodeID
		r.Iteration = iteration
	}
}

// WithSummary attaches a short human-readable summary.
func WithSummary(s string) RecordOption {
	return func(r *Record) { r.Summary = s }
}

// WithError attaches an error message.
func WithError(err error) RecordOption {
	return func(r *Record) {
		if err != nil {
			r.Error = err.Error()
		}
	}
}

// WithField attaches an arbitrary key/value pair.
func WithField(key string, value any) RecordOption {
	return func(r *Record) {
		if r.Fields == nil {
			r.Fields = make(map[string]any)
		}
		r.Fields[key] = value
	}
}

// New creates a record for the given run and kind.
func New(kind Kind, runID, diagram string, opts ...RecordOption) Record {
	r := Record{
		ID:        uuid.New().String(),
		Kind:      kind,
		RunID:     runID,
		Diagram:   diagram,
		Timestamp: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}
