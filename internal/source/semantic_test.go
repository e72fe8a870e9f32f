// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pdiddy/scholar-gateway/internal/fetch"
	"github.com/pdiddy/scholar-gateway/pkg/types"
)

// --- Query building ---

func TestBuildSemanticQueryCombinations(t *testing.T) {
	tests := []struct {
		name  string
		query types.Query
		want  string
	}{
		{"free text only", types.Query{FreeText: "transformer models"}, "transformer models"},
		{"author only", types.Query{Author: "Vaswani"}, "Vaswani"},
		{"keywords only", types.Query{Keywords: []string{"attention", "nlp"}}, "attention nlp"},
		{"all fields", types.Query{FreeText: "attention", Author: "Vaswani", Keywords: []string{"transformers", "nlp"}}, "attention Vaswani transformers nlp"},
		{"empty query", types.Query{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildSemanticQuery(tt.query); got != tt.want {
				t.Errorf("buildSemanticQuery() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildYearRange(t *testing.T) {
	y2020 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	y2023 := time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		from, to time.Time
		want     string
	}{
		{"both", y2020, y2023, "2020-2023"},
		{"from only", y2020, time.Time{}, "2020-"},
		{"to only", time.Time{}, y2023, "-2023"},
		{"neither", time.Time{}, time.Time{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildYearRange(tt.from, tt.to); got != tt.want {
				t.Errorf("buildYearRange() = %q, want %q", got, tt.want)
			}
		})
	}
}

// --- Request construction (URL params, headers) ---

func TestSemanticSearchRequestParams(t *testing.T) {
	var capturedReq *http.Request
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedReq = r
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"total":0,"offset":0,"data":[]}`)
	}))
	defer ts.Close()

	old := semanticAPIBase
	semanticAPIBase = ts.URL
	defer func() { semanticAPIBase = old }()

	cfg := testCfg()
	cfg.MaxResults = 15

	s := &SemanticScholar{Client: ts.Client(), Orch: &fetch.Orchestrator{Source: "semantic_scholar"}}
	_, err := s.Search(context.Background(), types.Query{
		FreeText: "attention",
		DateFrom: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		DateTo:   time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC),
	}, cfg)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	q := capturedReq.URL.Query()
	if got := q.Get("query"); got != "attention" {
		t.Errorf("query param = %q, want %q", got, "attention")
	}
	if got := q.Get("limit"); got != "15" {
		t.Errorf("limit param = %q, want %q", got, "15")
	}
	fields := q.Get("fields")
	for _, f := range []string{"title", "abstract", "authors", "externalIds", "year", "publicationDate", "venue"} {
		if !strings.Contains(fields, f) {
			t.Errorf("fields param %q missing %q", fields, f)
		}
	}
	if got := q.Get("year"); got != "2020-2023" {
		t.Errorf("year param = %q, want %q", got, "2020-2023")
	}
}

func TestSemanticSearchAPIKeyHeader(t *testing.T) {
	tests := []struct {
		name    string
		apiKey  string
		wantKey string
	}{
		{"with API key", "test-key-123", "test-key-123"},
		{"without API key", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var capturedReq *http.Request
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				capturedReq = r
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprint(w, `{"total":0,"offset":0,"data":[]}`)
			}))
			defer ts.Close()

			old := semanticAPIBase
			semanticAPIBase = ts.URL
			defer func() { semanticAPIBase = old }()

			s := &SemanticScholar{Client: ts.Client(), Orch: &fetch.Orchestrator{Source: "semantic_scholar"}, APIKey: tt.apiKey}
			if _, err := s.Search(context.Background(), types.Query{FreeText: "attention"}, testCfg()); err != nil {
				t.Fatalf("Search: %v", err)
			}
			if got := capturedReq.Header.Get("x-api-key"); got != tt.wantKey {
				t.Errorf("x-api-key = %q, want %q", got, tt.wantKey)
			}
		})
	}
}

// --- Response parsing ---

func TestSemanticSearchIdentifierPreference(t *testing.T) {
	body := `{"total":3,"offset":0,"data":[
		{"paperId":"p1","title":"Has arXiv","externalIds":{"ArXiv":"2301.07041","DOI":"10.1/x"}},
		{"paperId":"p2","title":"Has DOI","externalIds":{"DOI":"10.1/y"}},
		{"paperId":"p3","title":"Native only","externalIds":{}}
	]}`
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
	defer ts.Close()

	old := semanticAPIBase
	semanticAPIBase = ts.URL
	defer func() { semanticAPIBase = old }()

	s := &SemanticScholar{Client: ts.Client(), Orch: &fetch.Orchestrator{Source: "semantic_scholar"}}
	results, err := s.Search(context.Background(), types.Query{FreeText: "attention"}, testCfg())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}

	want := []string{"2301.07041", "10.1/y", "p3"}
	for i, w := range want {
		if results[i].Identifier != w {
			t.Errorf("results[%d].Identifier = %q, want %q", i, results[i].Identifier, w)
		}
	}
}

func TestSemanticSearchDateFallsBackToYear(t *testing.T) {
	body := `{"total":2,"offset":0,"data":[
		{"paperId":"p1","title":"Dated","year":2017,"publicationDate":"2017-06-12"},
		{"paperId":"p2","title":"Year only","year":2019}
	]}`
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
	defer ts.Close()

	old := semanticAPIBase
	semanticAPIBase = ts.URL
	defer func() { semanticAPIBase = old }()

	s := &SemanticScholar{Client: ts.Client(), Orch: &fetch.Orchestrator{Source: "semantic_scholar"}}
	results, err := s.Search(context.Background(), types.Query{FreeText: "attention"}, testCfg())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if got := results[0].Date; got.Month() != time.June || got.Day() != 12 {
		t.Errorf("results[0].Date = %v, want full publication date", got)
	}
	if got := results[1].Date; got.Year() != 2019 || got.Month() != time.January {
		t.Errorf("results[1].Date = %v, want January 2019", got)
	}
}
