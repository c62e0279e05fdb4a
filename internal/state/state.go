// Package state provides the durable key-value store for sync watermarks.
//
// Fetch cursors and linked-item watermarks must survive process restarts, so
// they are kept in a local SQLite database (WAL mode for concurrent readers).
// Two logical namespaces exist, one per item kind:
//
//	issues - per (sheet, repo) cursor for primary item fetches
//	pulls  - per (sheet, repo) watermark for closed linked-item scans
//
// Each entry is a (timestamp, identity) pair: the update time of the most
// recent item seen, plus that item's identity so the exact boundary item can
// be recognized and skipped on the next pass.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Namespaces for cursor entries.
const (
	NamespaceIssues = "issues"
	NamespacePulls  = "pulls"
)

// Cursor is one persisted watermark entry.
type Cursor struct {
	UpdatedAt time.Time
	Identity  string
}

// Store wraps the SQLite connection holding tracker state.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates or opens the state database at the specified path.
//
// The parent directory is created if needed. The caller MUST call Close()
// when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping state database: %w", err)
	}

	st := &Store{conn: conn, path: path}

	// WAL mode allows readers during the per-repository commit writes.
	if _, err := st.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := st.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return st, nil
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close state database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the schema if it doesn't exist. Idempotent.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS cursors (
		namespace  TEXT NOT NULL,
		sheet      TEXT NOT NULL,
		repo       TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		identity   TEXT NOT NULL,
		PRIMARY KEY (namespace, sheet, repo)
	);
	`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// GetCursor returns the persisted cursor for (namespace, sheet, repo).
// The second return value is false when no cursor has ever been recorded.
func (s *Store) GetCursor(namespace, sheet, repo string) (Cursor, bool, error) {
	var updatedAt, identity string
	err := s.conn.QueryRow(
		`SELECT updated_at, identity FROM cursors WHERE namespace = ? AND sheet = ? AND repo = ?`,
		namespace, sheet, repo,
	).Scan(&updatedAt, &identity)
	if err == sql.ErrNoRows {
		return Cursor{}, false, nil
	}
	if err != nil {
		return Cursor{}, false, fmt.Errorf("failed to read cursor: %w", err)
	}

	ts, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return Cursor{}, false, fmt.Errorf("failed to parse cursor timestamp %q: %w", updatedAt, err)
	}

	return Cursor{UpdatedAt: ts, Identity: identity}, true, nil
}

// PutCursor upserts the cursor for (namespace, sheet, repo).
func (s *Store) PutCursor(namespace, sheet, repo string, c Cursor) error {
	_, err := s.conn.Exec(
		`INSERT INTO cursors (namespace, sheet, repo, updated_at, identity)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (namespace, sheet, repo) DO UPDATE SET
			updated_at = excluded.updated_at,
			identity   = excluded.identity`,
		namespace, sheet, repo, c.UpdatedAt.UTC().Format(time.RFC3339Nano), c.Identity,
	)
	if err != nil {
		return fmt.Errorf("failed to write cursor: %w", err)
	}
	return nil
}

// ListCursors returns every cursor in a namespace, keyed by "sheet/repo".
// Used by the CLI state inspector.
func (s *Store) ListCursors(namespace string) (map[string]Cursor, error) {
	rows, err := s.conn.Query(
		`SELECT sheet, repo, updated_at, identity FROM cursors WHERE namespace = ? ORDER BY sheet, repo`,
		namespace,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list cursors: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Cursor)
	for rows.Next() {
		var sheet, repo, updatedAt, identity string
		if err := rows.Scan(&sheet, &repo, &updatedAt, &identity); err != nil {
			return nil, fmt.Errorf("failed to scan cursor row: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse cursor timestamp %q: %w", updatedAt, err)
		}
		out[sheet+"/"+repo] = Cursor{UpdatedAt: ts, Identity: identity}
	}
	return out, rows.Err()
}

// DeleteCursor removes a cursor entry. Deleting an absent key is not an
// error; the next pass simply starts from a full fetch again.
func (s *Store) DeleteCursor(namespace, sheet, repo string) error {
	_, err := s.conn.Exec(
		`DELETE FROM cursors WHERE namespace = ? AND sheet = ? AND repo = ?`,
		namespace, sheet, repo,
	)
	if err != nil {
		return fmt.Errorf("failed to delete cursor: %w", err)
	}
	return nil
}
