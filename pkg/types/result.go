// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the scholar-gateway:
// the query and result records exchanged with per-source connectors, and
// the configuration structs consumed at startup.
package types

import "time"

// Query holds the structured search parameters passed to every connector.
type Query struct {
	FreeText string
	Author   string
	Keywords []string
	DateFrom time.Time
	DateTo   time.Time
}

// IsEmpty reports whether the query contains no searchable terms.
func (q Query) IsEmpty() bool {
	return q.FreeText == "" && q.Author == "" && len(q.Keywords) == 0
}

// SearchResult is the unified paper record a connector maps a source
// response into. Results are returned per source, in source order; the
// gateway performs no cross-source ranking or deduplication.
type SearchResult struct {
	// Identifier is the canonical ID from the source (arXiv ID, DOI, or
	// source-native key).
	Identifier string `json:"identifier" yaml:"identifier"`

	// Title is the paper title as returned by the source.
	Title string `json:"title" yaml:"title"`

	// Authors lists the paper authors in source order.
	Authors []string `json:"authors" yaml:"authors"`

	// Abstract is the paper abstract or summary, when the source provides one.
	Abstract string `json:"abstract,omitempty" yaml:"abstract,omitempty"`

	// Date is the publication or preprint date.
	Date time.Time `json:"date" yaml:"date"`

	// Venue is the journal, conference, or repository name, when known.
	Venue string `json:"venue,omitempty" yaml:"venue,omitempty"`

	// Source identifies the connector that produced this record
	// (e.g. "arxiv", "dblp", "semantic_scholar").
	Source string `json:"source" yaml:"source"`

	// URL points at the source's landing page for the paper.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`
}
