// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package source implements the per-source academic-search connectors and
// the fan-out that queries them behind one interface. Each connector maps
// its source's wire format into the shared record type and routes every
// remote call through the resilience layer: rate-limit admission, mirror
// selection, and retry across endpoints.
package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"

	"github.com/pdiddy/scholar-gateway/internal/cache"
	"github.com/pdiddy/scholar-gateway/internal/fetch"
	"github.com/pdiddy/scholar-gateway/pkg/types"
)

// Source searches a single academic API. Each connector (arXiv, DBLP,
// Semantic Scholar, Crossref, OpenAlex) implements this interface.
type Source interface {
	Name() string
	Search(ctx context.Context, query types.Query, cfg types.SearchConfig) ([]types.SearchResult, error)
}

// SourceResults holds one connector's results.
type SourceResults struct {
	Source  string               `json:"source" yaml:"source"`
	Results []types.SearchResult `json:"results" yaml:"results"`
}

// Output holds the per-source results and failures of one fan-out. The
// gateway returns partial results: a failing source appears in Errors and
// the rest of the output stands.
type Output struct {
	Sources []SourceResults
	Errors  []string
}

// TotalResults counts results across all sources.
func (o Output) TotalResults() int {
	n := 0
	for _, s := range o.Sources {
		n += len(s.Results)
	}
	return n
}

// SearchAll fans the query out to every source concurrently and collects
// per-source results in source-name order. Results pass through a
// read-through cache when store is non-nil, so repeated queries inside the
// TTL spend no quota. Failures are reported per source, never merged away;
// whether to continue on partial results is the caller's decision.
func SearchAll(ctx context.Context, query types.Query, sources []Source, cfg types.SearchConfig, store *cache.Store, w io.Writer) (Output, error) {
	if query.IsEmpty() {
		return Output{}, fmt.Errorf("query is empty: provide a research question or structured parameters")
	}
	if len(sources) == 0 {
		return Output{}, fmt.Errorf("no sources configured")
	}

	type sourceOutcome struct {
		name    string
		results []types.SearchResult
		err     error
	}

	ch := make(chan sourceOutcome, len(sources))
	var wg sync.WaitGroup

	for _, s := range sources {
		wg.Add(1)
		go func(s Source) {
			defer wg.Done()

			if cached, ok := store.Get(s.Name(), query); ok {
				ch <- sourceOutcome{name: s.Name(), results: cached}
				return
			}

			results, err := s.Search(ctx, query, cfg)
			if err == nil {
				if cacheErr := store.Put(s.Name(), query, results); cacheErr != nil {
					fmt.Fprintf(w, "warning: caching %s results failed: %v\n", s.Name(), cacheErr)
				}
			}
			ch <- sourceOutcome{name: s.Name(), results: results, err: err}
		}(s)
	}

	go func() {
		wg.Wait()
		close(ch)
	}()

	var out Output
	for oc := range ch {
		if oc.err != nil {
			msg := fmt.Sprintf("%s: %v", oc.name, oc.err)
			out.Errors = append(out.Errors, msg)
			fmt.Fprintf(w, "warning: source %s failed: %v\n", oc.name, oc.err)
			continue
		}
		out.Sources = append(out.Sources, SourceResults{Source: oc.name, Results: oc.results})
	}

	sort.Slice(out.Sources, func(i, j int) bool {
		return out.Sources[i].Source < out.Sources[j].Source
	})
	sort.Strings(out.Errors)

	return out, nil
}

// classifyStatus maps a non-200 response status into the gateway's error
// taxonomy: 429 is a quota rejection the connector surfaces as-is, 401/403
// is fatal for the call, anything else rotates endpoints.
func classifyStatus(source, endpoint string, status int) error {
	switch status {
	case http.StatusTooManyRequests:
		return &fetch.QuotaError{Source: source, Err: fmt.Errorf("HTTP %d", status)}
	case http.StatusUnauthorized, http.StatusForbidden:
		return &fetch.AuthError{Source: source, StatusCode: status}
	default:
		return &fetch.TransientError{Endpoint: endpoint, Err: fmt.Errorf("HTTP %d", status)}
	}
}
