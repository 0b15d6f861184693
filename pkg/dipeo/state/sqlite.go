package state

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists execution traces to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore creates a new SQLite state store.
// The path should be a file path (e.g., "./runs.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS node_outputs (
			run_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			iteration INTEGER NOT NULL,
			status TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			timestamp TEXT NOT NULL,
			data BLOB NOT NULL,
			PRIMARY KEY (run_id, node_id, iteration)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create node_outputs table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_node_outputs_run_id
		ON node_outputs(run_id)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			timestamp TEXT NOT NULL,
			data BLOB NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create runs table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// SaveOutput implements Store.
func (s *SQLiteStore) SaveOutput(runID, nodeID string, iteration int, status string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`
		INSERT INTO node_outputs (run_id, node_id, iteration, status, sequence, timestamp, data)
		VALUES (
			?, ?, ?, ?,
			COALESCE((SELECT MAX(sequence) FROM node_outputs WHERE run_id = ?), 0) + 1,
			?, ?
		)
		ON CONFLICT(run_id, node_id, iteration) DO UPDATE SET
			status = excluded.status,
			sequence = (SELECT MAX(sequence) FROM node_outputs WHERE run_id = excluded.run_id) + 1,
			timestamp = excluded.timestamp,
			data = excluded.data
	`, runID, nodeID, iteration, status, runID, time.Now().UTC().Format(time.RFC3339Nano), data)

	if err != nil {
		return fmt.Errorf("save output: %w", err)
	}
	return nil
}

// LoadOutput implements Store.
func (s *SQLiteStore) LoadOutput(runID, nodeID string, iteration int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var data []byte
	err := s.db.QueryRow(`
		SELECT data FROM node_outputs
		WHERE run_id = ? AND node_id = ? AND iteration = ?
	`, runID, nodeID, iteration).Scan(&data)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load output: %w", err)
	}
	return data, nil
}

// ListOutputs implements Store.
func (s *SQLiteStore) ListOutputs(runID string) ([]OutputInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT node_id, iteration, status, sequence, timestamp, LENGTH(data)
		FROM node_outputs
		WHERE run_id = ?
		ORDER BY sequence
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list outputs: %w", err)
	}
	defer rows.Close()

	var infos []OutputInfo
	for rows.Next() {
		var info OutputInfo
		var timestamp string
		if err := rows.Scan(&info.NodeID, &info.Iteration, &info.Status, &info.Sequence, &timestamp, &info.Size); err != nil {
			return nil, fmt.Errorf("scan output info: %w", err)
		}
		info.RunID = runID
		info.Timestamp, _ = time.Parse(time.RFC3339Nano, timestamp)
		infos = append(infos, info)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outputs: %w", err)
	}
	return infos, nil
}

// SaveRun implements Store.
func (s *SQLiteStore) SaveRun(runID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`
		INSERT INTO runs (run_id, timestamp, data)
		VALUES (?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			timestamp = excluded.timestamp,
			data = excluded.data
	`, runID, time.Now().UTC().Format(time.RFC3339Nano), data)

	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// LoadRun implements Store.
func (s *SQLiteStore) LoadRun(runID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var data []byte
	err := s.db.QueryRow(`
		SELECT data FROM runs WHERE run_id = ?
	`, runID).Scan(&data)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	return data, nil
}

// DeleteRun implements Store.
func (s *SQLiteStore) DeleteRun(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.Exec(`DELETE FROM node_outputs WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("delete run outputs: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM runs WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
