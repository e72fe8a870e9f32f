// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/pdiddy/scholar-gateway/internal/fetch"
	"github.com/pdiddy/scholar-gateway/pkg/types"
)

// openAlexAPIBase is the OpenAlex Works search endpoint. Declared as a
// var so tests can substitute an httptest server.
var openAlexAPIBase = "https://api.openalex.org/works"

// OpenAlex queries the OpenAlex Works API. Identified requests (mailto
// parameter) land in the polite pool with better latency guarantees.
type OpenAlex struct {
	Client *http.Client
	Orch   *fetch.Orchestrator
	Email  string
}

// Name returns the connector identifier.
func (s *OpenAlex) Name() string { return "openalex" }

// Search queries the OpenAlex API and returns results in source order.
func (s *OpenAlex) Search(ctx context.Context, query types.Query, cfg types.SearchConfig) ([]types.SearchResult, error) {
	searchText := buildOpenAlexQuery(query)
	if searchText == "" {
		return nil, fmt.Errorf("empty OpenAlex query")
	}

	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 20
	}
	if maxResults > 200 {
		maxResults = 200
	}

	params := url.Values{
		"search":   {searchText},
		"per_page": {fmt.Sprintf("%d", maxResults)},
		"page":     {"1"},
	}

	var filters []string
	if !query.DateFrom.IsZero() {
		filters = append(filters, "from_publication_date:"+query.DateFrom.Format("2006-01-02"))
	}
	if !query.DateTo.IsZero() {
		filters = append(filters, "to_publication_date:"+query.DateTo.Format("2006-01-02"))
	}
	if len(filters) > 0 {
		params.Set("filter", strings.Join(filters, ","))
	}

	if s.Email != "" {
		params.Set("mailto", s.Email)
	}

	return fetch.Do(ctx, s.Orch, func(ctx context.Context, _ string) ([]types.SearchResult, error) {
		reqURL := openAlexAPIBase + "?" + params.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("User-Agent", cfg.UserAgent)

		resp, err := s.Client.Do(req)
		if err != nil {
			return nil, &fetch.TransientError{Err: fmt.Errorf("OpenAlex API request: %w", err)}
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, classifyStatus(s.Name(), "", resp.StatusCode)
		}

		var oar openAlexResponse
		if err := json.NewDecoder(resp.Body).Decode(&oar); err != nil {
			return nil, &fetch.TransientError{Err: fmt.Errorf("parsing OpenAlex response: %w", err)}
		}
		return openAlexResults(oar), nil
	})
}

func openAlexResults(oar openAlexResponse) []types.SearchResult {
	var results []types.SearchResult
	for _, work := range oar.Results {
		r := types.SearchResult{
			Title:    work.Title,
			Abstract: reconstructAbstract(work.AbstractInvertedIndex),
			Source:   "openalex",
		}

		for _, authorship := range work.Authorships {
			if authorship.Author.DisplayName != "" {
				r.Authors = append(r.Authors, authorship.Author.DisplayName)
			}
		}

		if work.PublicationDate != "" {
			if t, parseErr := time.Parse("2006-01-02", work.PublicationDate); parseErr == nil {
				r.Date = t
			}
		} else if work.PublicationYear > 0 {
			r.Date = time.Date(work.PublicationYear, 1, 1, 0, 0, 0, 0, time.UTC)
		}

		// Prefer the bare DOI as identifier since OpenAlex is DOI-centric.
		if work.DOI != "" {
			r.Identifier = strings.TrimPrefix(work.DOI, "https://doi.org/")
			r.URL = work.DOI
		} else {
			r.Identifier = work.ID
			r.URL = work.ID
		}

		results = append(results, r)
	}
	return results
}

// buildOpenAlexQuery combines query fields into a search string.
func buildOpenAlexQuery(q types.Query) string {
	var parts []string
	if q.FreeText != "" {
		parts = append(parts, q.FreeText)
	}
	if q.Author != "" {
		parts = append(parts, q.Author)
	}
	parts = append(parts, q.Keywords...)
	return strings.Join(parts, " ")
}

// reconstructAbstract converts OpenAlex's abstract_inverted_index back to
// plain text. The inverted index maps each word to the positions where it
// appears.
func reconstructAbstract(invertedIndex map[string][]int) string {
	if len(invertedIndex) == 0 {
		return ""
	}

	type posWord struct {
		pos  int
		word string
	}
	var pairs []posWord
	for word, positions := range invertedIndex {
		for _, pos := range positions {
			pairs = append(pairs, posWord{pos: pos, word: word})
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].pos < pairs[j].pos
	})

	words := make([]string, len(pairs))
	for i, p := range pairs {
		words[i] = p.word
	}
	return strings.Join(words, " ")
}

// OpenAlex API JSON structures.
type openAlexResponse struct {
	Results []openAlexWork `json:"results"`
}

type openAlexWork struct {
	ID                    string             `json:"id"`
	Title                 string             `json:"title"`
	DOI                   string             `json:"doi"`
	PublicationDate       string             `json:"publication_date"`
	PublicationYear       int                `json:"publication_year"`
	Authorships           []openAlexAuthship `json:"authorships"`
	AbstractInvertedIndex map[string][]int   `json:"abstract_inverted_index"`
}

type openAlexAuthship struct {
	Author openAlexAuthor `json:"author"`
}

type openAlexAuthor struct {
	DisplayName string `json:"display_name"`
}
