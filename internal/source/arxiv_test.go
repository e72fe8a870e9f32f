// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pdiddy/scholar-gateway/internal/fetch"
	"github.com/pdiddy/scholar-gateway/pkg/types"
)

const arxivFeedFixture = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/2301.07041v2</id>
    <title>Attention Is All You Need, Revisited</title>
    <summary>  We revisit the transformer architecture.  </summary>
    <published>2023-01-17T12:00:00Z</published>
    <author><name>A. Author</name></author>
    <author><name>B. Author</name></author>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/2302.00001v1</id>
    <title>Second Paper</title>
    <summary>Another abstract.</summary>
    <published>2023-02-01T00:00:00Z</published>
    <author><name>C. Author</name></author>
  </entry>
</feed>`

func TestBuildArxivQueryCombinations(t *testing.T) {
	tests := []struct {
		name  string
		query types.Query
		want  string
	}{
		{"free text only", types.Query{FreeText: "transformer models"}, "all:transformer+models"},
		{"author only", types.Query{Author: "Vaswani"}, "au:Vaswani"},
		{"keywords only", types.Query{Keywords: []string{"attention", "nlp"}}, "all:attention+AND+all:nlp"},
		{"free text and author", types.Query{FreeText: "attention", Author: "Vaswani"}, "all:attention+AND+au:Vaswani"},
		{"all fields", types.Query{FreeText: "attention", Author: "Ashish Vaswani", Keywords: []string{"nlp"}}, "all:attention+AND+au:Ashish+Vaswani+AND+all:nlp"},
		{"empty query", types.Query{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildArxivQuery(tt.query); got != tt.want {
				t.Errorf("buildArxivQuery() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractArxivID(t *testing.T) {
	tests := []struct {
		idURL string
		want  string
	}{
		{"http://arxiv.org/abs/2301.07041v1", "2301.07041"},
		{"http://arxiv.org/abs/2301.07041v12", "2301.07041"},
		{"http://arxiv.org/abs/2301.07041", "2301.07041"},
		{"not a url", ""},
	}
	for _, tt := range tests {
		if got := extractArxivID(tt.idURL); got != tt.want {
			t.Errorf("extractArxivID(%q) = %q, want %q", tt.idURL, got, tt.want)
		}
	}
}

func TestArxivSearchParsesFeed(t *testing.T) {
	var capturedReq *http.Request
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedReq = r
		w.Header().Set("Content-Type", "application/atom+xml")
		fmt.Fprint(w, arxivFeedFixture)
	}))
	defer ts.Close()

	old := arxivAPIBase
	arxivAPIBase = ts.URL
	defer func() { arxivAPIBase = old }()

	s := &Arxiv{Client: ts.Client(), Orch: &fetch.Orchestrator{Source: "arxiv"}}
	results, err := s.Search(context.Background(), types.Query{FreeText: "attention"}, testCfg())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}

	first := results[0]
	if first.Identifier != "2301.07041" {
		t.Errorf("Identifier = %q, want %q", first.Identifier, "2301.07041")
	}
	if first.Title != "Attention Is All You Need, Revisited" {
		t.Errorf("Title = %q", first.Title)
	}
	if first.Abstract != "We revisit the transformer architecture." {
		t.Errorf("Abstract not trimmed: %q", first.Abstract)
	}
	if len(first.Authors) != 2 || first.Authors[0] != "A. Author" {
		t.Errorf("Authors = %v", first.Authors)
	}
	if first.URL != "https://arxiv.org/abs/2301.07041" {
		t.Errorf("URL = %q", first.URL)
	}
	if first.Source != "arxiv" || first.Venue != "arXiv" {
		t.Errorf("Source/Venue = %q/%q", first.Source, first.Venue)
	}
	if first.Date.Year() != 2023 {
		t.Errorf("Date = %v, want 2023", first.Date)
	}

	q := capturedReq.URL.Query()
	if got := q.Get("search_query"); got != "all:attention" {
		t.Errorf("search_query = %q, want %q", got, "all:attention")
	}
	if got := q.Get("max_results"); got != "20" {
		t.Errorf("max_results = %q, want %q", got, "20")
	}
	if got := capturedReq.Header.Get("User-Agent"); got != "test/0.1" {
		t.Errorf("User-Agent = %q, want %q", got, "test/0.1")
	}
}

func TestArxivSearchQuotaError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	old := arxivAPIBase
	arxivAPIBase = ts.URL
	defer func() { arxivAPIBase = old }()

	s := &Arxiv{Client: ts.Client(), Orch: &fetch.Orchestrator{Source: "arxiv"}}
	_, err := s.Search(context.Background(), types.Query{FreeText: "attention"}, testCfg())

	var quotaErr *fetch.QuotaError
	if !errors.As(err, &quotaErr) {
		t.Fatalf("err = %v (%T), want *fetch.QuotaError", err, err)
	}
}

func TestArxivSearchEmptyQuery(t *testing.T) {
	s := &Arxiv{Client: http.DefaultClient, Orch: &fetch.Orchestrator{Source: "arxiv"}}
	if _, err := s.Search(context.Background(), types.Query{}, testCfg()); err == nil {
		t.Fatal("expected error for empty query")
	}
}
