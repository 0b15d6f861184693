package dipeo

import (
	"time"
)

// NodeResult is the outcome of one (node, iteration) entry.
type NodeResult struct {
	NodeID    string        `json:"node_id"`
	Type      string        `json:"type"`
	Iteration int           `json:"iteration"`
	Status    Status        `json:"status"`
	Envelope  *Envelope     `json:"envelope,omitempty"`
	Started   time.Time     `json:"started"`
	Finished  time.Time     `json:"finished"`
	Duration  time.Duration `json:"duration"`
}

// ExecutionResult is the complete outcome of one diagram run. Node
// failures, skips, and iteration exhaustion all land here; Execute
// itself only errors on invalid input, a tripped dispatch ceiling, or
// context cancellation.
type ExecutionResult struct {
	RunID   string `json:"run_id"`
	Diagram string `json:"diagram"`

	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`

	// Steps is the total number of node dispatches.
	Steps int `json:"steps"`

	// Results holds every (node, iteration) entry in dispatch order.
	Results []NodeResult `json:"results"`

	// Statuses maps each node to its settled status.
	Statuses map[string]Status `json:"statuses"`

	// Outputs maps each node that produced output to its last envelope.
	Outputs map[string]*Envelope `json:"outputs,omitempty"`

	// Aborted is set when a critical node failed and the run stopped
	// dispatching early. AbortReason carries the failure.
	Aborted     bool   `json:"aborted,omitempty"`
	AbortReason string `json:"abort_reason,omitempty"`
}

// Succeeded reports whether no node failed and the run was not aborted.
func (r *ExecutionResult) Succeeded() bool {
	if r.Aborted {
		return false
	}
	for _, st := range r.Statuses {
		if st == StatusFailed {
			return false
		}
	}
	return true
}

// Status returns the settled status for a node.
func (r *ExecutionResult) Status(nodeID string) Status {
	return r.Statuses[nodeID]
}

// Output returns the last envelope a node produced, or nil.
func (r *ExecutionResult) Output(nodeID string) *Envelope {
	return r.Outputs[nodeID]
}

// Failed returns the ids of nodes that settled FAILED.
func (r *ExecutionResult) Failed() []string {
	var ids []string
	for _, nr := range r.Results {
		if nr.Status == StatusFailed {
			ids = append(ids, nr.NodeID)
		}
	}
	return ids
}

// Iterations returns how many times a node ran.
func (r *ExecutionResult) Iterations(nodeID string) int {
	n := 0
	for _, nr := range r.Results {
		if nr.NodeID == nodeID && (nr.Status == StatusCompleted || nr.Status == StatusFailed) {
			n++
		}
	}
	return n
}

// History returns every entry for a node in iteration order.
func (r *ExecutionResult) History(nodeID string) []NodeResult {
	var out []NodeResult
	for _, nr := range r.Results {
		if nr.NodeID == nodeID {
			out = append(out, nr)
		}
	}
	return out
}
