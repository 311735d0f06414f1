package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLStore persists document snapshots as JSON blobs in a single table,
// using the pure-Go modernc.org/sqlite driver (no cgo). Modeled on the
// teacher pack's SQLite auth store (MaxIOFS-MaxIOFS/internal/auth/sqlite.go).
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore opens (creating if necessary) a SQLite database at path
// and ensures its schema exists.
func NewSQLStore(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("persistence: open sqlite: %w", err)
	}
	const schema = `CREATE TABLE IF NOT EXISTS documents (
		name TEXT PRIMARY KEY,
		snapshot TEXT NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("persistence: create schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Open(ctx context.Context, name string) (Provider, error) {
	synced := make(chan struct{})
	p := &sqlProvider{store: s, name: name, synced: synced}

	var data string
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM documents WHERE name = ?`, name).Scan(&data)
	close(synced)
	if err != nil {
		if err == sql.ErrNoRows {
			return p, nil
		}
		return nil, fmt.Errorf("persistence: sqlite select %s: %w", name, err)
	}
	var snapshot map[string]interface{}
	if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
		return nil, fmt.Errorf("persistence: decode %s: %w", name, err)
	}
	p.snapshot = snapshot
	return p, nil
}

func (s *SQLStore) Delete(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE name = ?`, name); err != nil {
		return fmt.Errorf("persistence: sqlite delete %s: %w", name, err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("persistence: close sqlite: %w", err)
	}
	return nil
}

type sqlProvider struct {
	store    *SQLStore
	name     string
	snapshot map[string]interface{}
	synced   chan struct{}
}

func (p *sqlProvider) WhenSynced() <-chan struct{} { return p.synced }

func (p *sqlProvider) Snapshot() map[string]interface{} { return p.snapshot }

func (p *sqlProvider) Save(ctx context.Context, snapshot map[string]interface{}) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("persistence: encode %s: %w", p.name, err)
	}
	_, err = p.store.db.ExecContext(ctx,
		`INSERT INTO documents (name, snapshot) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET snapshot = excluded.snapshot`,
		p.name, string(data))
	if err != nil {
		return fmt.Errorf("persistence: sqlite upsert %s: %w", p.name, err)
	}
	p.snapshot = snapshot
	return nil
}

func (p *sqlProvider) Close() error { return nil }
