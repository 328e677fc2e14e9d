// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the value types shared by the knowledge pipeline:
// ingested documents and chunks, retrieval candidates, the filtered
// selection and the final answer envelope.
package datatypes

import (
	"encoding/json"
	"math"
)

// Source defaults applied when chunk metadata is incomplete.
const (
	DefaultSourceTitle = "Unknown Source"
	DefaultSourceURL   = "#"
	DefaultSourceType  = "reference"
)

// Content types recorded on ingested documents.
const (
	ContentTypeHTML = "html"
	ContentTypePDF  = "pdf"
)

// =============================================================================
// Ingestion Types
// =============================================================================

// Document is one ingested page or file. Documents are immutable; ingesting
// the same ID again replaces the stored chunks.
type Document struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	SourceURL   string `json:"source_url"`
	Title       string `json:"title"`
	ContentType string `json:"type"`
	Region      string `json:"region"`
}

// Metadata travels with every chunk into the vector index and back out on
// retrieval.
type Metadata struct {
	SourceURL   string `json:"source_url"`
	Title       string `json:"title"`
	Type        string `json:"type"`
	Region      string `json:"region"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
}

// Chunk is a window of a Document's normalised text.
type Chunk struct {
	ID         string   `json:"id"`
	DocumentID string   `json:"document_id"`
	Text       string   `json:"text"`
	Metadata   Metadata `json:"metadata"`
}

// =============================================================================
// Retrieval Types
// =============================================================================

// RetrievalCandidate is one scored passage returned by similarity search.
// Lower distance means more similar. A nil Distance means the backend did not
// report one.
type RetrievalCandidate struct {
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
	Distance *float64 `json:"distance,omitempty"`
}

// HasDistance reports whether the candidate carries a usable distance.
func (c RetrievalCandidate) HasDistance() bool {
	return c.Distance != nil && !math.IsNaN(*c.Distance)
}

// SelectionSet is the output of the relevance filter: the passages that
// contributed to Context, in the order they appear in it.
type SelectionSet struct {
	Candidates []RetrievalCandidate `json:"candidates"`
	Context    string               `json:"context"`
}

// Empty reports whether no passage survived filtering.
func (s SelectionSet) Empty() bool {
	return len(s.Candidates) == 0
}

// Sources returns one Source per distinct URL in selection order.
func (s SelectionSet) Sources() []Source {
	sources := make([]Source, 0, len(s.Candidates))
	seen := make(map[string]struct{}, len(s.Candidates))
	for _, c := range s.Candidates {
		src := SourceFromMetadata(c.Metadata)
		if _, dup := seen[src.URL]; dup {
			continue
		}
		seen[src.URL] = struct{}{}
		sources = append(sources, src)
	}
	return sources
}

// =============================================================================
// Answer Types
// =============================================================================

// Source is a citation shown alongside an answer.
type Source struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Type  string `json:"type"`
}

// SourceFromMetadata builds a Source, filling missing fields with defaults.
func SourceFromMetadata(m Metadata) Source {
	src := Source{Title: m.Title, URL: m.SourceURL, Type: m.Type}
	if src.Title == "" {
		src.Title = DefaultSourceTitle
	}
	if src.URL == "" {
		src.URL = DefaultSourceURL
	}
	if src.Type == "" {
		src.Type = DefaultSourceType
	}
	return src
}

// QueryRequest is the inbound question. Region is informational only.
type QueryRequest struct {
	Query  string `json:"query" binding:"required"`
	Region string `json:"region"`
}

// Answer is the response envelope. Outcome and Err are for callers inside
// the process and are not serialised.
type Answer struct {
	Text    string   `json:"answer"`
	Sources []Source `json:"sources"`
	Outcome string   `json:"-"`
	Err     error    `json:"-"`
}

// MarshalJSON always emits sources as an array.
func (a Answer) MarshalJSON() ([]byte, error) {
	sources := a.Sources
	if sources == nil {
		sources = []Source{}
	}
	return json.Marshal(struct {
		Text    string   `json:"answer"`
		Sources []Source `json:"sources"`
	}{Text: a.Text, Sources: sources})
}
