// Package state provides persistent storage of execution traces: node
// outputs per iteration and run summaries. Attaching a store to the
// engine is optional; runs work fully in memory without one.
package state

import (
	"errors"
	"time"
)

// Store persists execution traces.
// Implementations must be safe for concurrent use.
type Store interface {
	// SaveOutput stores a node's output envelope for one iteration.
	// Overwrites if an entry for (runID, nodeID, iteration) exists.
	SaveOutput(runID, nodeID string, iteration int, status string, data []byte) error

	// LoadOutput retrieves a node's output for one iteration.
	// Returns ErrNotFound if no entry exists.
	LoadOutput(runID, nodeID string, iteration int) ([]byte, error)

	// ListOutputs returns metadata for all outputs of a run, ordered by
	// save sequence. Returns an empty slice (not an error) for an
	// unknown run.
	ListOutputs(runID string) ([]OutputInfo, error)

	// SaveRun stores a run summary.
	// Overwrites any previous summary for the run.
	SaveRun(runID string, data []byte) error

	// LoadRun retrieves a run summary.
	// Returns ErrNotFound if the run was never saved.
	LoadRun(runID string) ([]byte, error)

	// DeleteRun removes all entries for a run.
	// Returns nil if the run has no entries.
	DeleteRun(runID string) error

	// Close releases any resources (connections, files).
	Close() error
}

// OutputInfo provides metadata without loading the envelope.
type OutputInfo struct {
	RunID     string
	NodeID    string
	Iteration int
	Status    string
	Sequence  int
	Timestamp time.Time
	Size      int64
}

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates the requested entry doesn't exist.
	ErrNotFound = errors.New("state entry not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("state store closed")
)
