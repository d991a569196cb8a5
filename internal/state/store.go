// Package state persists build state between runs: the content
// fingerprint of each file dependency and the action-list signature of
// every task at its last successful build. Timestamps alone cannot see a
// touched-but-unchanged file or an edited command line; this store can.
package state

import (
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed build-state manifest.
type Store struct{ db *sql.DB }

//go:embed migrations/*.sql
var migrationFS embed.FS

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema, err := migrationFS.ReadFile("migrations/0001_init.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// TaskState returns the recorded action signature and per-dependency
// fingerprints for a task. ok is false when the task has never been
// recorded.
func (s *Store) TaskState(name string) (string, map[string]string, bool, error) {
	var sig string
	err := s.db.QueryRow(`SELECT action_sig FROM task_state WHERE task = ?`, name).Scan(&sig)
	if err == sql.ErrNoRows {
		return "", nil, false, nil
	}
	if err != nil {
		return "", nil, false, err
	}

	rows, err := s.db.Query(`SELECT path, sha256 FROM dep_fingerprints WHERE task = ?`, name)
	if err != nil {
		return "", nil, false, err
	}
	defer rows.Close()

	deps := make(map[string]string)
	for rows.Next() {
		var path, sum string
		if err := rows.Scan(&path, &sum); err != nil {
			return "", nil, false, err
		}
		deps[path] = sum
	}
	return sig, deps, true, rows.Err()
}

// RecordTask replaces the stored state for a task after a successful
// build.
func (s *Store) RecordTask(name, actionSig string, deps map[string]string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO task_state (task, action_sig, built_at) VALUES (?, ?, ?)
		 ON CONFLICT(task) DO UPDATE SET action_sig = excluded.action_sig, built_at = excluded.built_at`,
		name, actionSig, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM dep_fingerprints WHERE task = ?`, name); err != nil {
		return err
	}
	for path, sum := range deps {
		if sum == "" {
			continue
		}
		if _, err := tx.Exec(
			`INSERT INTO dep_fingerprints (task, path, sha256) VALUES (?, ?, ?)`,
			name, path, sum,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Forget drops the stored state for a task, e.g. after its targets were
// cleaned.
func (s *Store) Forget(name string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM task_state WHERE task = ?`, name); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM dep_fingerprints WHERE task = ?`, name); err != nil {
		return err
	}
	return tx.Commit()
}
