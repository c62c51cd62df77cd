package crawler

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Archive is a SQLite record of every listing page fetched and every
// document URL downloaded, shared across crawl runs and tasks. It
// exists so discovery stays idempotent even when state files are
// rebuilt.
type Archive struct {
	conn *sql.DB
	path string
}

type archiveMigration struct {
	Version     int
	Description string
	SQL         string
}

var archiveMigrations = []archiveMigration{
	{
		Version:     1,
		Description: "initial pages and documents tables",
		SQL: `
CREATE TABLE IF NOT EXISTS pages (
	url        TEXT NOT NULL,
	fetched_at TEXT NOT NULL,
	bytes      INTEGER NOT NULL,
	content    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pages_url ON pages(url);

CREATE TABLE IF NOT EXISTS documents (
	url           TEXT PRIMARY KEY,
	entry_id      TEXT NOT NULL,
	local_path    TEXT NOT NULL,
	downloaded_at TEXT NOT NULL
);
`,
	},
}

// OpenArchive creates or opens the archive database at path, enabling
// WAL mode and applying any pending schema migrations.
func OpenArchive(path string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", path, err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	if err := migrateArchive(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate archive schema: %w", err)
	}
	return &Archive{conn: conn, path: path}, nil
}

// migrateArchive brings the schema up to the latest version, tracked
// via PRAGMA user_version.
func migrateArchive(conn *sql.DB) error {
	var current int
	if err := conn.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	for _, m := range archiveMigrations {
		if m.Version <= current {
			continue
		}
		if _, err := conn.Exec(m.SQL); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
		// user_version cannot be parameterized.
		if _, err := conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
			return fmt.Errorf("failed to set schema version %d: %w", m.Version, err)
		}
	}
	return nil
}

// Close closes the database.
func (a *Archive) Close() error {
	return a.conn.Close()
}

// Path returns the database file path.
func (a *Archive) Path() string {
	return a.path
}

// RecordPage appends a fetched listing page snapshot.
func (a *Archive) RecordPage(url, content string) error {
	_, err := a.conn.Exec(
		"INSERT INTO pages (url, fetched_at, bytes, content) VALUES (?, ?, ?, ?)",
		url, time.Now().UTC().Format(time.RFC3339), len(content), content,
	)
	return err
}

// PageCount reports how many snapshots exist for a URL, or all
// snapshots when url is empty.
func (a *Archive) PageCount(url string) (int, error) {
	var count int
	var err error
	if url == "" {
		err = a.conn.QueryRow("SELECT COUNT(*) FROM pages").Scan(&count)
	} else {
		err = a.conn.QueryRow("SELECT COUNT(*) FROM pages WHERE url = ?", url).Scan(&count)
	}
	return count, err
}

// RecordDocument marks a document URL as downloaded. Re-recording an
// URL overwrites the previous row.
func (a *Archive) RecordDocument(url, entryID, localPath string) error {
	_, err := a.conn.Exec(
		`INSERT OR REPLACE INTO documents (url, entry_id, local_path, downloaded_at)
		VALUES (?, ?, ?, ?)`,
		url, entryID, localPath, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// DocumentSeen reports whether a document URL was recorded in any run.
func (a *Archive) DocumentSeen(url string) bool {
	var count int
	if err := a.conn.QueryRow("SELECT COUNT(*) FROM documents WHERE url = ?", url).Scan(&count); err != nil {
		return false
	}
	return count > 0
}
