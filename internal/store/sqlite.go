package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"pier/pkg/logging"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS scoped_kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL
) WITHOUT ROWID;
`

// SQLiteStore is the durable ScopedStore. A single SQLite file backs all
// scoped records (OAuth states and provider tokens) so expiry and revocation
// survive process restarts.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the SQLite-backed store at path and applies
// the schema. The parent directory is created with owner-only permissions
// since the store holds credentials.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0700); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Get implements ScopedStore.
func (s *SQLiteStore) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM scoped_kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, true, nil
}

// Set implements ScopedStore.
func (s *SQLiteStore) Set(key string, value []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO scoped_kv (key, value, updated_at) VALUES (?, ?, unixepoch())
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Remove implements ScopedStore.
func (s *SQLiteStore) Remove(key string) error {
	if _, err := s.db.Exec(`DELETE FROM scoped_kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}

// Keys implements ScopedStore.
func (s *SQLiteStore) Keys(prefix string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT key FROM scoped_kv WHERE key GLOB ? ORDER BY key`,
		globEscape(prefix)+"*",
	)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Close implements ScopedStore.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// globEscape escapes GLOB metacharacters in a literal prefix.
func globEscape(s string) string {
	replacer := strings.NewReplacer("*", "[*]", "?", "[?]", "[", "[[]")
	return replacer.Replace(s)
}

// Open returns the durable store at path, falling back to an in-memory store
// when the file cannot be opened (read-only filesystem, locked database,
// privacy-restricted environment). The fallback is logged once; callers see
// identical semantics except that records do not survive a restart.
func Open(path string) ScopedStore {
	s, err := OpenSQLite(path)
	if err != nil {
		logging.Warn("Store", "Persistent storage unavailable (%v), using in-memory store", err)
		return NewMemoryStore()
	}
	logging.Debug("Store", "Opened scoped store at %s", path)
	return s
}
