// Package sqlitestore is the default TaskStore: one JSON blob per task row
// in a local sqlite database, guarded across processes by a file lock on
// the database path (the same single-instance discipline the teacher
// codebase uses for its own process lock, generalized from "one surge
// process" to "one writer of this database file").
package sqlitestore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/flowdl/flowdl"
	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// Store is a sqlite-backed TaskStore.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	lock *flock.Flock
}

// Open creates or reuses the sqlite database at path, taking an exclusive
// cross-process lock on path+".lock" for the lifetime of the Store. An
// empty path opens an in-memory database with no cross-process lock.
func Open(path string) (*Store, error) {
	dsn := path
	var fl *flock.Flock
	if path == "" {
		dsn = "file::memory:?cache=shared"
	} else {
		fl = flock.New(path + ".lock")
		locked, err := fl.TryLock()
		if err != nil {
			return nil, fmt.Errorf("sqlitestore: acquire lock: %w", err)
		}
		if !locked {
			return nil, fmt.Errorf("sqlitestore: database %s is already open by another process", path)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		if fl != nil {
			fl.Unlock()
		}
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite has no internal connection pooling story; serialize here

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		if fl != nil {
			fl.Unlock()
		}
		return nil, fmt.Errorf("sqlitestore: migrate: %w", err)
	}

	return &Store{db: db, lock: fl}, nil
}

func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("sqlitestore: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlitestore: commit: %w", err)
	}
	return nil
}

// Save upserts record by its ID. Unknown fields in a previously-stored
// blob are simply overwritten; forward-compatible reads are handled in
// Load by relying on encoding/json's default ignore-unknown-fields and
// zero-value-for-missing-fields behavior.
func (s *Store) Save(record flowdl.TaskRecord) error {
	if record.ID == "" {
		return fmt.Errorf("sqlitestore: record has no ID")
	}
	record.UpdatedAt = time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = record.UpdatedAt
	}
	blob, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal record %s: %w", record.ID, err)
	}

	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO tasks (id, record, state, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				record=excluded.record,
				state=excluded.state,
				updated_at=excluded.updated_at
		`, record.ID, string(blob), record.State.String(), record.CreatedAt.Unix(), record.UpdatedAt.Unix())
		if err != nil {
			return fmt.Errorf("sqlitestore: upsert %s: %w", record.ID, err)
		}
		return nil
	})
}

func (s *Store) Load(taskID string) (*flowdl.TaskRecord, error) {
	s.mu.Lock()
	row := s.db.QueryRow(`SELECT record FROM tasks WHERE id = ?`, taskID)
	var blob string
	err := row.Scan(&blob)
	s.mu.Unlock()
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: load %s: %w", taskID, err)
	}
	var record flowdl.TaskRecord
	if err := json.Unmarshal([]byte(blob), &record); err != nil {
		return nil, fmt.Errorf("sqlitestore: corrupt record %s: %w", taskID, err)
	}
	return &record, nil
}

func (s *Store) List() ([]flowdl.TaskRecord, error) {
	s.mu.Lock()
	rows, err := s.db.Query(`SELECT record FROM tasks ORDER BY created_at ASC`)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list: %w", err)
	}
	defer rows.Close()

	var out []flowdl.TaskRecord
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan: %w", err)
		}
		var record flowdl.TaskRecord
		if err := json.Unmarshal([]byte(blob), &record); err != nil {
			continue // skip rows corrupted by out-of-band tampering
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *Store) Remove(taskID string) error {
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM tasks WHERE id = ?`, taskID)
		if err != nil {
			return fmt.Errorf("sqlitestore: remove %s: %w", taskID, err)
		}
		return nil
	})
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.Close()
	if s.lock != nil {
		if uerr := s.lock.Unlock(); uerr != nil && err == nil {
			err = uerr
		}
	}
	return err
}
