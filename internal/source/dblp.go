// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package source

import (
	"bytes"
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

// DBLPMirrors is the default mirror set: the primary site plus the
// university mirrors that serve the same bibliography.
var DBLPMirrors = []string{
	"https://dblp.org",
	"https://dblp.uni-trier.de",
	"https://dblp.dagstuhl.de",
}

// DBLPProbePath is a minimal query used to check a mirror's health.
const DBLPProbePath = "/search/publ/api?q=test&format=json&h=1"

// DBLPValidate checks a probe body for the API's result envelope, so a
// mirror behind a captive portal or serving a placeholder page is not
// mistaken for healthy.
func DBLPValidate(body []byte) bool {
	return bytes.Contains(body, []byte(`"result"`))
}

// DBLP queries the DBLP publication search API across its mirrors. Each
// call goes through the orchestrator: the healthiest mirror is selected
// and failures rotate to the next one.
type DBLP struct {
	Client *http.Client
	Orch   *fetch.Orchestrator
}

// Name returns the connector identifier.
func (s *DBLP) Name() string { return "dblp" }

// Search queries the selected DBLP mirror and returns results in source order.
func (s *DBLP) Search(ctx context.Context, query types.Query, cfg types.SearchConfig) ([]types.SearchResult, error) {
	q := buildDBLPQuery(query)
	if q == "" {
		return nil, fmt.Errorf("empty DBLP query")
	}

	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 20
	}

	return fetch.Do(ctx, s.Orch, func(ctx context.Context, endpoint string) ([]types.SearchResult, error) {
		params := url.Values{
			"q":      {q},
			"format": {"json"},
			"h":      {strconv.Itoa(maxResults)},
		}
		reqURL := endpoint + "/search/publ/api?" + params.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("User-Agent", cfg.UserAgent)

		resp, err := s.Client.Do(req)
		if err != nil {
			return nil, &fetch.TransientError{Endpoint: endpoint, Err: fmt.Errorf("DBLP API request: %w", err)}
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, classifyStatus(s.Name(), endpoint, resp.StatusCode)
		}

		var dr dblpResponse
		if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
			return nil, &fetch.TransientError{Endpoint: endpoint, Err: fmt.Errorf("parsing DBLP response: %w", err)}
		}
		return dblpResults(dr), nil
	})
}

func dblpResults(dr dblpResponse) []types.SearchResult {
	var results []types.SearchResult
	for _, hit := range dr.Result.Hits.Hit {
		info := hit.Info

		r := types.SearchResult{
			Identifier: info.Key,
			Title:      info.Title,
			Venue:      info.Venue,
			Source:     "dblp",
			URL:        info.URL,
		}
		if info.DOI != "" {
			r.Identifier = info.DOI
		}

		for _, a := range info.Authors.Author {
			if a.Text != "" {
				r.Authors = append(r.Authors, a.Text)
			}
		}

		if year, err := strconv.Atoi(info.Year); err == nil {
			r.Date = time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
		}

		results = append(results, r)
	}
	return results
}

// buildDBLPQuery combines query fields into a search string.
func buildDBLPQuery(q types.Query) string {
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

// DBLP API JSON structures.
type dblpResponse struct {
	Result dblpResult `json:"result"`
}

type dblpResult struct {
	Hits dblpHits `json:"hits"`
}

type dblpHits struct {
	Hit []dblpHit `json:"hit"`
}

type dblpHit struct {
	Info dblpInfo `json:"info"`
}

type dblpInfo struct {
	Title   string      `json:"title"`
	Venue   string      `json:"venue"`
	Year    string      `json:"year"`
	Key     string      `json:"key"`
	DOI     string      `json:"doi"`
	URL     string      `json:"url"`
	Authors dblpAuthors `json:"authors"`
}

type dblpAuthor struct {
	Text string `json:"text"`
}

// dblpAuthors handles DBLP's habit of encoding a single author as an
// object and multiple authors as an array.
type dblpAuthors struct {
	Author []dblpAuthor
}

func (a *dblpAuthors) UnmarshalJSON(data []byte) error {
	var multi struct {
		Author []dblpAuthor `json:"author"`
	}
	if err := json.Unmarshal(data, &multi); err == nil {
		a.Author = multi.Author
		return nil
	}

	var single struct {
		Author dblpAuthor `json:"author"`
	}
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	a.Author = []dblpAuthor{single.Author}
	return nil
}
