package remote

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// RevCacheName is the cache filename inside the sync root. Keeping the
// cache in the root means relocating the root carries it along.
const RevCacheName = ".maestral.db"

// RevCache persists the last-seen revision of every synced path.
// Folders are recorded with the pseudo revision "folder".
type RevCache struct {
	db   *sql.DB
	path string
}

// FolderRev marks a directory entry in the cache.
const FolderRev = "folder"

// OpenRevCache opens (or creates) the revision cache for a sync root.
func OpenRevCache(root string) (*RevCache, error) {
	path := filepath.Join(root, RevCacheName)
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open rev cache: %w", err)
	}

	cache := &RevCache{db: db, path: path}
	if err := cache.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate rev cache: %w", err)
	}
	return cache, nil
}

func (c *RevCache) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS revs (
		path TEXT PRIMARY KEY,
		rev TEXT NOT NULL,
		hash TEXT NOT NULL DEFAULT '',
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := c.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (c *RevCache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Path returns the cache file location.
func (c *RevCache) Path() string { return c.path }

// Rev returns the stored revision for a lower-cased remote path, ""
// when the path is untracked.
func (c *RevCache) Rev(path string) (string, error) {
	var rev string
	err := c.db.QueryRow(`SELECT rev FROM revs WHERE path = ?`, normalizeKey(path)).Scan(&rev)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query rev: %w", err)
	}
	return rev, nil
}

// SetRev records the revision for a path. An empty rev deletes the
// entry.
func (c *RevCache) SetRev(path, rev string) error {
	key := normalizeKey(path)
	if rev == "" {
		_, err := c.db.Exec(`DELETE FROM revs WHERE path = ?`, key)
		if err != nil {
			return fmt.Errorf("delete rev: %w", err)
		}
		return nil
	}
	_, err := c.db.Exec(
		`INSERT INTO revs (path, rev, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET rev = excluded.rev, updated_at = excluded.updated_at`,
		key, rev, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert rev: %w", err)
	}
	return nil
}

// SetFileState records the revision and content hash of a file in one
// write. The hash lets the engine tell its own downloads apart from
// real local edits.
func (c *RevCache) SetFileState(path, rev, hash string) error {
	_, err := c.db.Exec(
		`INSERT INTO revs (path, rev, hash, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET rev = excluded.rev, hash = excluded.hash, updated_at = excluded.updated_at`,
		normalizeKey(path), rev, hash, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert file state: %w", err)
	}
	return nil
}

// Hash returns the stored content hash for a path, "" when unknown.
func (c *RevCache) Hash(path string) (string, error) {
	var hash string
	err := c.db.QueryRow(`SELECT hash FROM revs WHERE path = ?`, normalizeKey(path)).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query hash: %w", err)
	}
	return hash, nil
}

// ClearTree removes the entry for path and everything below it, so a
// future inclusion re-downloads the subtree cleanly.
func (c *RevCache) ClearTree(path string) error {
	key := normalizeKey(path)
	_, err := c.db.Exec(
		`DELETE FROM revs WHERE path = ? OR path LIKE ? ESCAPE '\'`,
		key, likePrefix(key)+"/%",
	)
	if err != nil {
		return fmt.Errorf("clear rev tree: %w", err)
	}
	return nil
}

// Count returns the number of tracked file paths (folders excluded).
func (c *RevCache) Count() (int64, error) {
	var n int64
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM revs WHERE rev != ?`, FolderRev).Scan(&n); err != nil {
		return 0, fmt.Errorf("count revs: %w", err)
	}
	return n, nil
}

func normalizeKey(path string) string {
	path = strings.ToLower(strings.TrimSpace(path))
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}

// likePrefix escapes LIKE wildcards in a literal prefix.
func likePrefix(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}
