// Package store persists the session list (one row per started task) in
// SQLite. Persistence failures are non-fatal to a conversation: callers log
// them and carry on.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// colorCycle is the palette size; sessions cycle through indices 0..3.
const colorCycle = 4

// Session is one recorded conversation entry.
type Session struct {
	ID         string
	Title      string
	Date       string // YYYY-MM-DD
	ColorIndex int
}

// PersistenceError wraps a local storage failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("session store %s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

// Store is the durable session list.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	date        TEXT NOT NULL,
	color_index INTEGER NOT NULL,
	created_at  INTEGER NOT NULL
);
`

// Open opens (creating if needed) the session database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, &PersistenceError{Op: "open", Err: err}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, &PersistenceError{Op: "migrate", Err: err}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// AddSession records a new session titled after the user's query. Adding an
// id that already exists is a no-op. The color index cycles with the number
// of stored sessions.
func (s *Store) AddSession(ctx context.Context, id, title string) error {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&count); err != nil {
		return &PersistenceError{Op: "add", Err: err}
	}
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (id, title, date, color_index, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, title, now.Format("2006-01-02"), count%colorCycle, now.UnixNano(),
	)
	if err != nil {
		return &PersistenceError{Op: "add", Err: err}
	}
	return nil
}

// Sessions returns all sessions, newest first.
func (s *Store) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, date, color_index FROM sessions ORDER BY date DESC, created_at DESC`)
	if err != nil {
		return nil, &PersistenceError{Op: "list", Err: err}
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Title, &sess.Date, &sess.ColorIndex); err != nil {
			return nil, &PersistenceError{Op: "list", Err: err}
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "list", Err: errors.Wrap(err, "iterate rows")}
	}
	return out, nil
}

// GetSession returns one session by id, or nil when absent.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, date, color_index FROM sessions WHERE id = ?`, id).
		Scan(&sess.ID, &sess.Title, &sess.Date, &sess.ColorIndex)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get", Err: err}
	}
	return &sess, nil
}

// DeleteSession removes one session; deleting an unknown id is a no-op.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return &PersistenceError{Op: "delete", Err: err}
	}
	return nil
}

// ClearAll removes every session.
func (s *Store) ClearAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
		return &PersistenceError{Op: "clear", Err: err}
	}
	return nil
}
