package blobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrConsumed is returned when a checkpoint has already been resumed.
var ErrConsumed = errors.New("blobstore: checkpoint already consumed")

// CheckpointStore persists suspended-turn snapshots. A checkpoint is
// written once and consumed exactly once.
type CheckpointStore interface {
	// Save stores a checkpoint payload under id.
	Save(ctx context.Context, id string, payload []byte) error

	// Take returns the payload for id and marks it consumed. A second Take
	// for the same id returns ErrConsumed; an unknown id returns
	// ErrNotFound.
	Take(ctx context.Context, id string) ([]byte, error)

	Close() error
}

// SQLiteCheckpoints is a CheckpointStore backed by a SQLite database.
type SQLiteCheckpoints struct {
	db *sql.DB
}

const checkpointSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	id         TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	created_at TEXT NOT NULL,
	consumed   INTEGER NOT NULL DEFAULT 0
);`

// NewSQLiteCheckpoints opens (creating if necessary) a checkpoint
// database at path.
func NewSQLiteCheckpoints(path string) (*SQLiteCheckpoints, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("blobstore: open checkpoint db: %w", err)
	}
	if _, err := db.Exec(checkpointSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("blobstore: init checkpoint schema: %w", err)
	}
	return &SQLiteCheckpoints{db: db}, nil
}

func (s *SQLiteCheckpoints) Save(ctx context.Context, id string, payload []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO checkpoints (id, payload, created_at, consumed) VALUES (?, ?, ?, 0)`,
		id, payload, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("blobstore: save checkpoint %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteCheckpoints) Take(ctx context.Context, id string) ([]byte, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var payload []byte
	var consumed int
	err = tx.QueryRowContext(ctx,
		`SELECT payload, consumed FROM checkpoints WHERE id = ?`, id).Scan(&payload, &consumed)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if consumed != 0 {
		return nil, ErrConsumed
	}
	if _, err := tx.ExecContext(ctx, `UPDATE checkpoints SET consumed = 1 WHERE id = ?`, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return payload, nil
}

func (s *SQLiteCheckpoints) Close() error { return s.db.Close() }

// MemoryCheckpoints is an in-memory CheckpointStore for tests and
// single-process embedding.
type MemoryCheckpoints struct {
	mu       sync.Mutex
	payloads map[string][]byte
	consumed map[string]bool
}

// NewMemoryCheckpoints creates an empty in-memory checkpoint store.
func NewMemoryCheckpoints() *MemoryCheckpoints {
	return &MemoryCheckpoints{
		payloads: make(map[string][]byte),
		consumed: make(map[string]bool),
	}
}

func (s *MemoryCheckpoints) Save(ctx context.Context, id string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(payload))
	copy(buf, payload)
	s.payloads[id] = buf
	s.consumed[id] = false
	return nil
}

func (s *MemoryCheckpoints) Take(ctx context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.payloads[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.consumed[id] {
		return nil, ErrConsumed
	}
	s.consumed[id] = true
	return payload, nil
}

func (s *MemoryCheckpoints) Close() error { return nil }
