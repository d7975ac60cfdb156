// Package ledger persists the per-page synchronization state: the last
// version and chunk count written to the vector index for each page. It is
// the only durable state the engine owns; losing it forces a full re-sync
// but never corrupts the index, because chunk ids are deterministic and
// upserts overwrite.
package ledger

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Entry records the last successfully synced state of one page.
type Entry struct {
	PageID     string
	SpaceKey   string
	Version    int
	ChunkCount int
	Title      string
	URL        string
	SyncedAt   time.Time
}

// ErrNotFound is returned when a page has no ledger entry.
var ErrNotFound = fmt.Errorf("ledger entry not found")

// Store wraps the SQLite ledger database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the ledger database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "wikidex.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't
// been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// Get returns the ledger entry for a page, or ErrNotFound.
func (s *Store) Get(pageID string) (Entry, error) {
	var e Entry
	var syncedAt string
	err := s.db.QueryRow(`
		SELECT page_id, space_key, version, chunk_count, title, url, synced_at
		FROM sync_ledger WHERE page_id = ?`, pageID,
	).Scan(&e.PageID, &e.SpaceKey, &e.Version, &e.ChunkCount, &e.Title, &e.URL, &syncedAt)
	if err == sql.ErrNoRows {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	t, err := time.Parse(time.RFC3339, syncedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing synced_at for page %s: %w", e.PageID, err)
	}
	e.SyncedAt = t
	return e, nil
}

// List returns all ledger entries for a space, ordered by page id.
func (s *Store) List(spaceKey string) ([]Entry, error) {
	rows, err := s.db.Query(`
		SELECT page_id, space_key, version, chunk_count, title, url, synced_at
		FROM sync_ledger WHERE space_key = ? ORDER BY page_id`, spaceKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var syncedAt string
		if err := rows.Scan(&e.PageID, &e.SpaceKey, &e.Version, &e.ChunkCount, &e.Title, &e.URL, &syncedAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, syncedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing synced_at for page %s: %w", e.PageID, err)
		}
		e.SyncedAt = t
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Put inserts or replaces a page's ledger entry. Called only after the
// page's index writes have succeeded, so ledger state never runs ahead of
// the index.
func (s *Store) Put(e Entry) error {
	_, err := s.db.Exec(`
		INSERT INTO sync_ledger (page_id, space_key, version, chunk_count, title, url, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(page_id) DO UPDATE SET
			space_key = excluded.space_key,
			version = excluded.version,
			chunk_count = excluded.chunk_count,
			title = excluded.title,
			url = excluded.url,
			synced_at = excluded.synced_at`,
		e.PageID, e.SpaceKey, e.Version, e.ChunkCount, e.Title, e.URL,
		e.SyncedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// Delete removes a page's ledger entry. Deleting a missing entry is a no-op.
func (s *Store) Delete(pageID string) error {
	_, err := s.db.Exec("DELETE FROM sync_ledger WHERE page_id = ?", pageID)
	return err
}

// CountPages returns the number of ledger entries for a space.
func (s *Store) CountPages(spaceKey string) (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM sync_ledger WHERE space_key = ?", spaceKey).Scan(&n)
	return n, err
}

// AppliedMigrations returns the applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}
