package store

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS recordings (
	name     TEXT PRIMARY KEY,
	events   TEXT NOT NULL,
	saved_at INTEGER NOT NULL
)`

// SQLite stores recordings as rows of a single table.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	ctx := context.Background()
	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		schema,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite %s: %w", path, err)
		}
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Scan() ([]Entry, error) {
	rows, err := s.db.QueryContext(context.Background(), "SELECT name, events FROM recordings ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var e Entry
		var data string
		if err := rows.Scan(&e.Name, &data); err != nil {
			e.Err = err
		}
		e.Data = []byte(data)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLite) Put(name string, data []byte) error {
	_, err := s.db.ExecContext(context.Background(),
		`INSERT INTO recordings (name, events, saved_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET events = excluded.events, saved_at = excluded.saved_at`,
		name, string(data), time.Now().Unix())
	return err
}

func (s *SQLite) Remove(name string) error {
	res, err := s.db.ExecContext(context.Background(), "DELETE FROM recordings WHERE name = ?", name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("recording %q: %w", name, fs.ErrNotExist)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
