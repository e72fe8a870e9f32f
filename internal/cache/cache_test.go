// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/scholar-gateway/pkg/types"
)

func testStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	s, err := Open(types.CacheConfig{
		Path: filepath.Join(t.TempDir(), "cache.db"),
		TTL:  ttl,
	})
	require.NoError(t, err)
	require.NotNil(t, s)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenEmptyPathDisablesCache(t *testing.T) {
	s, err := Open(types.CacheConfig{})
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestNilStoreIsSafe(t *testing.T) {
	var s *Store
	_, ok := s.Get("arxiv", types.Query{FreeText: "transformers"})
	assert.False(t, ok)
	assert.NoError(t, s.Put("arxiv", types.Query{}, nil))
	assert.NoError(t, s.Close())
}

func TestPutGetRoundTrip(t *testing.T) {
	s := testStore(t, time.Minute)

	query := types.Query{FreeText: "attention", Keywords: []string{"nlp"}}
	results := []types.SearchResult{
		{Identifier: "2301.07041", Title: "Paper A", Source: "arxiv"},
		{Identifier: "2301.99999", Title: "Paper B", Source: "arxiv"},
	}

	require.NoError(t, s.Put("arxiv", query, results))

	got, ok := s.Get("arxiv", query)
	require.True(t, ok)
	assert.Equal(t, results, got)
}

func TestGetMissesOtherSourceAndQuery(t *testing.T) {
	s := testStore(t, time.Minute)

	query := types.Query{FreeText: "attention"}
	require.NoError(t, s.Put("arxiv", query, []types.SearchResult{{Identifier: "x"}}))

	_, ok := s.Get("dblp", query)
	assert.False(t, ok, "cache entries are per source")

	_, ok = s.Get("arxiv", types.Query{FreeText: "diffusion"})
	assert.False(t, ok, "cache entries are per query")
}

func TestExpiredEntryMisses(t *testing.T) {
	s := testStore(t, time.Second)

	query := types.Query{FreeText: "attention"}
	require.NoError(t, s.Put("arxiv", query, []types.SearchResult{{Identifier: "x"}}))

	// Backdate the entry past the TTL instead of sleeping.
	_, err := s.db.Exec(`UPDATE responses SET created_at = created_at - 10`)
	require.NoError(t, err)

	_, ok := s.Get("arxiv", query)
	assert.False(t, ok)
}
