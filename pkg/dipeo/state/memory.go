package state

import (
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory state store for testing.
// Data is lost when the process exits.
type MemoryStore struct {
	mu      sync.RWMutex
	outputs map[string]map[outputKey]storedOutput // runID -> (nodeID, iteration) -> output
	runs    map[string][]byte
	closed  bool
}

type outputKey struct {
	nodeID    string
	iteration int
}

type storedOutput struct {
	data      []byte
	status    string
	sequence  int
	timestamp time.Time
}

// NewMemoryStore creates a new in-memory state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		outputs: make(map[string]map[outputKey]storedOutput),
		runs:    make(map[string][]byte),
	}
}

// SaveOutput implements Store.
func (m *MemoryStore) SaveOutput(runID, nodeID string, iteration int, status string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	if m.outputs[runID] == nil {
		m.outputs[runID] = make(map[outputKey]storedOutput)
	}

	seq := 1
	for _, o := range m.outputs[runID] {
		if o.sequence >= seq {
			seq = o.sequence + 1
		}
	}

	// Copy to avoid retaining the caller's slice.
	stored := make([]byte, len(data))
	copy(stored, data)

	m.outputs[runID][outputKey{nodeID, iteration}] = storedOutput{
		data:      stored,
		status:    status,
		sequence:  seq,
		timestamp: time.Now().UTC(),
	}
	return nil
}

// LoadOutput implements Store.
func (m *MemoryStore) LoadOutput(runID, nodeID string, iteration int) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	run, ok := m.outputs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	o, ok := run[outputKey{nodeID, iteration}]
	if !ok {
		return nil, ErrNotFound
	}

	result := make([]byte, len(o.data))
	copy(result, o.data)
	return result, nil
}

// ListOutputs implements Store.
func (m *MemoryStore) ListOutputs(runID string) ([]OutputInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	run, ok := m.outputs[runID]
	if !ok {
		return nil, nil
	}

	infos := make([]OutputInfo, 0, len(run))
	for key, o := range run {
		infos = append(infos, OutputInfo{
			RunID:     runID,
			NodeID:    key.nodeID,
			Iteration: key.iteration,
			Status:    o.status,
			Sequence:  o.sequence,
			Timestamp: o.timestamp,
			Size:      int64(len(o.data)),
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Sequence < infos[j].Sequence
	})
	return infos, nil
}

// SaveRun implements Store.
func (m *MemoryStore) SaveRun(runID string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	stored := make([]byte, len(data))
	copy(stored, data)
	m.runs[runID] = stored
	return nil
}

// LoadRun implements Store.
func (m *MemoryStore) LoadRun(runID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	data, ok := m.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	result := make([]byte, len(data))
	copy(result, data)
	return result, nil
}

// DeleteRun implements Store.
func (m *MemoryStore) DeleteRun(runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	delete(m.outputs, runID)
	delete(m.runs, runID)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.outputs = nil
	m.runs = nil
	return nil
}

// Len returns the total number of stored outputs across all runs.
// Useful for testing.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, run := range m.outputs {
		count += len(run)
	}
	return count
}
