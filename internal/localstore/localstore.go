// Package localstore keeps a full copy of a workspace graph on the local
// machine when the durable store cannot be reached.
package localstore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS fallback_graphs (
    workspace_id  TEXT PRIMARY KEY,
    payload       BLOB NOT NULL,
    saved_at_ns   INTEGER NOT NULL
);
`

// Entry is one locally kept graph.
type Entry struct {
	WorkspaceID string
	Payload     []byte
	SavedAt     time.Time
}

// Store is a synchronous key-value store keyed by workspace id.
type Store interface {
	Put(workspaceID string, payload []byte) error
	Get(workspaceID string) (Entry, bool, error)
	Delete(workspaceID string) error
}

// SQLite keeps entries in a single-file database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create local store directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply local store schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLite) Put(workspaceID string, payload []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO fallback_graphs (workspace_id, payload, saved_at_ns) VALUES (?, ?, ?)
		ON CONFLICT(workspace_id) DO UPDATE SET payload = excluded.payload, saved_at_ns = excluded.saved_at_ns`,
		workspaceID, payload, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("put local graph: %w", err)
	}
	return nil
}

func (s *SQLite) Get(workspaceID string) (Entry, bool, error) {
	var e Entry
	var ns int64
	err := s.db.QueryRow(`SELECT workspace_id, payload, saved_at_ns FROM fallback_graphs WHERE workspace_id = ?`, workspaceID).
		Scan(&e.WorkspaceID, &e.Payload, &ns)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("get local graph: %w", err)
	}
	e.SavedAt = time.Unix(0, ns)
	return e, true, nil
}

func (s *SQLite) Delete(workspaceID string) error {
	if _, err := s.db.Exec(`DELETE FROM fallback_graphs WHERE workspace_id = ?`, workspaceID); err != nil {
		return fmt.Errorf("delete local graph: %w", err)
	}
	return nil
}

// Memory is a process-local Store.
type Memory struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemory() *Memory {
	return &Memory{entries: map[string]Entry{}}
}

func (m *Memory) Put(workspaceID string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[workspaceID] = Entry{WorkspaceID: workspaceID, Payload: append([]byte(nil), payload...), SavedAt: time.Now()}
	return nil
}

func (m *Memory) Get(workspaceID string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[workspaceID]
	return e, ok, nil
}

func (m *Memory) Delete(workspaceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, workspaceID)
	return nil
}
