// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pdiddy/scholar-gateway/internal/fetch"
	"github.com/pdiddy/scholar-gateway/pkg/types"
)

// crossrefAPIBase is the Crossref works search endpoint. Declared as a
// var so tests can substitute an httptest server.
var crossrefAPIBase = "https://api.crossref.org/works"

// Crossref queries the Crossref works API. Crossref has no fixed rate
// contract but asks politely-identified clients (mailto parameter) to
// stay around one request per second, which the limiter enforces.
type Crossref struct {
	Client *http.Client
	Orch   *fetch.Orchestrator
	Email  string
}

// Name returns the connector identifier.
func (s *Crossref) Name() string { return "crossref" }

// Search queries the Crossref API and returns results in source order.
func (s *Crossref) Search(ctx context.Context, query types.Query, cfg types.SearchConfig) ([]types.SearchResult, error) {
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 20
	}

	params := url.Values{
		"rows": {strconv.Itoa(maxResults)},
	}
	if q := strings.TrimSpace(strings.Join(append([]string{query.FreeText}, query.Keywords...), " ")); q != "" {
		params.Set("query", q)
	}
	if query.Author != "" {
		params.Set("query.author", query.Author)
	}

	var filters []string
	if !query.DateFrom.IsZero() {
		filters = append(filters, "from-pub-date:"+query.DateFrom.Format("2006-01-02"))
	}
	if !query.DateTo.IsZero() {
		filters = append(filters, "until-pub-date:"+query.DateTo.Format("2006-01-02"))
	}
	if len(filters) > 0 {
		params.Set("filter", strings.Join(filters, ","))
	}

	if s.Email != "" {
		params.Set("mailto", s.Email)
	}

	if params.Get("query") == "" && params.Get("query.author") == "" {
		return nil, fmt.Errorf("empty Crossref query")
	}

	return fetch.Do(ctx, s.Orch, func(ctx context.Context, _ string) ([]types.SearchResult, error) {
		reqURL := crossrefAPIBase + "?" + params.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("User-Agent", cfg.UserAgent)

		resp, err := s.Client.Do(req)
		if err != nil {
			return nil, &fetch.TransientError{Err: fmt.Errorf("Crossref API request: %w", err)}
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, classifyStatus(s.Name(), "", resp.StatusCode)
		}

		var cr crossrefResponse
		if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
			return nil, &fetch.TransientError{Err: fmt.Errorf("parsing Crossref response: %w", err)}
		}
		return crossrefResults(cr), nil
	})
}

func crossrefResults(cr crossrefResponse) []types.SearchResult {
	var results []types.SearchResult
	for _, work := range cr.Message.Items {
		r := types.SearchResult{
			Identifier: work.DOI,
			Source:     "crossref",
			URL:        work.URL,
		}
		if len(work.Title) > 0 {
			r.Title = work.Title[0]
		}
		if len(work.ContainerTitle) > 0 {
			r.Venue = work.ContainerTitle[0]
		}

		for _, a := range work.Author {
			if name := strings.TrimSpace(a.Given + " " + a.Family); name != "" {
				r.Authors = append(r.Authors, name)
			}
		}

		if parts := work.Published.DateParts; len(parts) > 0 && len(parts[0]) > 0 {
			year, month, day := parts[0][0], 1, 1
			if len(parts[0]) > 1 {
				month = parts[0][1]
			}
			if len(parts[0]) > 2 {
				day = parts[0][2]
			}
			r.Date = time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		}

		results = append(results, r)
	}
	return results
}

// Crossref API JSON structures.
type crossrefResponse struct {
	Message crossrefMessage `json:"message"`
}

type crossrefMessage struct {
	Items []crossrefWork `json:"items"`
}

type crossrefWork struct {
	DOI            string           `json:"DOI"`
	URL            string           `json:"URL"`
	Title          []string         `json:"title"`
	ContainerTitle []string         `json:"container-title"`
	Author         []crossrefAuthor `json:"author"`
	Published      crossrefDate     `json:"published"`
}

type crossrefAuthor struct {
	Given  string `json:"given"`
	Family string `json:"family"`
}

type crossrefDate struct {
	DateParts [][]int `json:"date-parts"`
}
