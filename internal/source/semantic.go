// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pdiddy/scholar-gateway/internal/fetch"
	"github.com/pdiddy/scholar-gateway/internal/httputil"
	"github.com/pdiddy/scholar-gateway/pkg/types"
)

// semanticAPIBase is the Semantic Scholar paper search endpoint. Declared
// as a var so tests can substitute an httptest server.
var semanticAPIBase = "https://api.semanticscholar.org/graph/v1/paper/search"

const semanticFields = "title,abstract,authors,externalIds,year,publicationDate,venue,url"

// SemanticScholar queries the Semantic Scholar Graph API. The unkeyed
// tier is shared and aggressively throttled, so calls go through the
// limiter and 429s are retried with backoff before surfacing as a quota
// rejection.
type SemanticScholar struct {
	Client *http.Client
	Orch   *fetch.Orchestrator
	APIKey string
}

// Name returns the connector identifier.
func (s *SemanticScholar) Name() string { return "semantic_scholar" }

// Search queries the Semantic Scholar API and returns results in source order.
func (s *SemanticScholar) Search(ctx context.Context, query types.Query, cfg types.SearchConfig) ([]types.SearchResult, error) {
	q := buildSemanticQuery(query)
	if q == "" {
		return nil, fmt.Errorf("empty Semantic Scholar query")
	}

	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 20
	}

	params := url.Values{
		"query":  {q},
		"limit":  {fmt.Sprintf("%d", maxResults)},
		"fields": {semanticFields},
	}

	// Date filtering via year range.
	if !query.DateFrom.IsZero() || !query.DateTo.IsZero() {
		if yearRange := buildYearRange(query.DateFrom, query.DateTo); yearRange != "" {
			params.Set("year", yearRange)
		}
	}

	return fetch.Do(ctx, s.Orch, func(ctx context.Context, _ string) ([]types.SearchResult, error) {
		reqURL := semanticAPIBase + "?" + params.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("User-Agent", cfg.UserAgent)
		if s.APIKey != "" {
			req.Header.Set("x-api-key", s.APIKey)
		}

		resp, err := httputil.DoWithRetry(ctx, s.Client, req, 0)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, classifyStatus(s.Name(), "", resp.StatusCode)
		}

		var sr semanticResponse
		if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
			return nil, &fetch.TransientError{Err: fmt.Errorf("parsing Semantic Scholar response: %w", err)}
		}
		return semanticResults(sr), nil
	})
}

func semanticResults(sr semanticResponse) []types.SearchResult {
	var results []types.SearchResult
	for _, paper := range sr.Data {
		r := types.SearchResult{
			Title:    paper.Title,
			Abstract: paper.Abstract,
			Venue:    paper.Venue,
			Source:   "semantic_scholar",
			URL:      paper.URL,
		}

		for _, a := range paper.Authors {
			r.Authors = append(r.Authors, a.Name)
		}

		if paper.PublicationDate != "" {
			if t, parseErr := time.Parse("2006-01-02", paper.PublicationDate); parseErr == nil {
				r.Date = t
			}
		} else if paper.Year > 0 {
			r.Date = time.Date(paper.Year, 1, 1, 0, 0, 0, 0, time.UTC)
		}

		// Prefer the arXiv ID, then the DOI, then the source-native key.
		switch {
		case paper.ExternalIDs.ArXiv != "":
			r.Identifier = paper.ExternalIDs.ArXiv
		case paper.ExternalIDs.DOI != "":
			r.Identifier = paper.ExternalIDs.DOI
		default:
			r.Identifier = paper.PaperID
		}

		results = append(results, r)
	}
	return results
}

// buildSemanticQuery combines query fields into a search string.
func buildSemanticQuery(q types.Query) string {
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

// buildYearRange returns a Semantic Scholar year filter string (e.g. "2020-2023").
func buildYearRange(from, to time.Time) string {
	switch {
	case !from.IsZero() && !to.IsZero():
		return fmt.Sprintf("%d-%d", from.Year(), to.Year())
	case !from.IsZero():
		return fmt.Sprintf("%d-", from.Year())
	case !to.IsZero():
		return fmt.Sprintf("-%d", to.Year())
	default:
		return ""
	}
}

// Semantic Scholar API JSON structures.
type semanticResponse struct {
	Total  int             `json:"total"`
	Offset int             `json:"offset"`
	Data   []semanticPaper `json:"data"`
}

type semanticPaper struct {
	PaperID         string              `json:"paperId"`
	Title           string              `json:"title"`
	Abstract        string              `json:"abstract"`
	Venue           string              `json:"venue"`
	URL             string              `json:"url"`
	Year            int                 `json:"year"`
	PublicationDate string              `json:"publicationDate"`
	Authors         []semanticAuthor    `json:"authors"`
	ExternalIDs     semanticExternalIDs `json:"externalIds"`
}

type semanticAuthor struct {
	AuthorID string `json:"authorId"`
	Name     string `json:"name"`
}

type semanticExternalIDs struct {
	DOI      string `json:"DOI"`
	ArXiv    string `json:"ArXiv"`
	CorpusID int    `json:"CorpusId"`
}
