package storage

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Entry is one persisted document, keyed by its primary key.
type Entry struct {
	Key string
	Doc []byte
}

// Backend is the durable segment behind one shard. Put and Delete must be
// durable before they return; PutBatch commits the whole batch or none of it.
// LoadAll returns entries in arrival order so shard scans stay stable across
// restarts.
type Backend interface {
	Put(key string, doc []byte) error
	PutBatch(entries []Entry) error
	Delete(key string) error
	LoadAll() ([]Entry, error)
	Truncate() error
	Close() error
}

const (
	KindSQLite   = "sqlite"
	KindSnapshot = "snapshot"
)

// Open creates the configured backend kind for one shard segment under
// dataDir.
func Open(kind, dataDir string, shardID int) (Backend, error) {
	switch kind {
	case KindSQLite:
		return NewSQLiteBackend(filepath.Join(dataDir, fmt.Sprintf("shard_%03d.db", shardID)))
	case KindSnapshot:
		return NewSnapshotBackend(filepath.Join(dataDir, fmt.Sprintf("shard_%03d.json", shardID)))
	default:
		return nil, fmt.Errorf("storage: unknown backend kind %q", kind)
	}
}

type SQLiteBackend struct {
	db *sql.DB
	mu sync.Mutex
}

func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	query := `
	CREATE TABLE IF NOT EXISTS documents (
		key TEXT PRIMARY KEY,
		doc BLOB
	);`
	if _, err := db.Exec(query); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = NORMAL;
	`); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteBackend{db: db}, nil
}

func (s *SQLiteBackend) Put(key string, doc []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("INSERT OR REPLACE INTO documents (key, doc) VALUES (?, ?)", key, doc)
	return err
}

func (s *SQLiteBackend) PutBatch(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare("INSERT OR REPLACE INTO documents (key, doc) VALUES (?, ?)")
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.Exec(e.Key, e.Doc); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteBackend) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("DELETE FROM documents WHERE key = ?", key)
	return err
}

// LoadAll orders by rowid: INSERT OR REPLACE re-inserts the row, so the
// result is arrival order of each key's last write.
func (s *SQLiteBackend) LoadAll() ([]Entry, error) {
	rows, err := s.db.Query("SELECT key, doc FROM documents ORDER BY rowid ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Doc); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteBackend) Truncate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("DELETE FROM documents")
	return err
}

func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}

// NullBackend keeps nothing. It stands in for a segment that could not be
// opened, letting the shard run degraded instead of taking the process down.
type NullBackend struct{}

func (NullBackend) Put(string, []byte) error  { return nil }
func (NullBackend) PutBatch([]Entry) error    { return nil }
func (NullBackend) Delete(string) error       { return nil }
func (NullBackend) LoadAll() ([]Entry, error) { return nil, nil }
func (NullBackend) Truncate() error           { return nil }
func (NullBackend) Close() error              { return nil }
