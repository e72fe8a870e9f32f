// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package cache persists per-source search responses in SQLite so repeated
// queries inside the TTL window do not spend a source's request quota.
package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/scholar-gateway/pkg/types"
)

const defaultTTL = 15 * time.Minute

// Store is a read-through response cache keyed by source and query digest.
// A nil *Store is valid: every lookup misses and every write is a no-op,
// so callers need no "is caching on" branches.
type Store struct {
	db  *sql.DB
	ttl time.Duration
}

// Open creates or opens the cache database at cfg.Path. An empty path
// disables caching and returns a nil store.
func Open(cfg types.CacheConfig) (*Store, error) {
	if cfg.Path == "" {
		return nil, nil
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS responses (
		key        TEXT PRIMARY KEY,
		source     TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		payload    BLOB NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache schema: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{db: db, ttl: ttl}, nil
}

// Get returns the cached results for (source, query) when a fresh entry
// exists.
func (s *Store) Get(source string, query types.Query) ([]types.SearchResult, bool) {
	if s == nil {
		return nil, false
	}

	var createdAt int64
	var payload []byte
	row := s.db.QueryRow(`SELECT created_at, payload FROM responses WHERE key = ?`, cacheKey(source, query))
	if err := row.Scan(&createdAt, &payload); err != nil {
		// sql.ErrNoRows and corrupt rows are both just misses.
		return nil, false
	}

	if time.Since(time.Unix(createdAt, 0)) >= s.ttl {
		return nil, false
	}

	var results []types.SearchResult
	if err := json.Unmarshal(payload, &results); err != nil {
		return nil, false
	}
	return results, true
}

// Put stores the results for (source, query) and sweeps expired rows.
func (s *Store) Put(source string, query types.Query, results []types.SearchResult) error {
	if s == nil {
		return nil
	}

	payload, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("encoding cache payload: %w", err)
	}

	now := time.Now()
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO responses (key, source, created_at, payload) VALUES (?, ?, ?, ?)`,
		cacheKey(source, query), source, now.Unix(), payload,
	)
	if err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}

	_, err = s.db.Exec(`DELETE FROM responses WHERE created_at < ?`, now.Add(-s.ttl).Unix())
	if err != nil {
		return fmt.Errorf("sweeping expired cache entries: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// cacheKey digests the source name and the query's canonical JSON form.
func cacheKey(source string, query types.Query) string {
	data, _ := json.Marshal(query)
	sum := sha256.Sum256(append([]byte(source+"\x00"), data...))
	return fmt.Sprintf("%x", sum)
}
