// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vectorstore is the similarity search adapter over the chunk index.
//
// Two implementations exist: WeaviateStore for deployments and MemoryStore
// for tests and single-process use. Both embed the query with the same
// Embedder that was used at ingestion time, and both report cosine distance
// so the relevance threshold means the same thing against either backend.
package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/cybersafe/services/knowledge/datatypes"
)

// QueryEmbedder embeds a search query.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Record is one chunk ready for indexing.
type Record struct {
	ID       string
	Text     string
	Metadata datatypes.Metadata
	Vector   []float32
}

// Searcher returns the k nearest passages to query.
//
// An empty result is not an error. Transport, embedding and backend faults
// are returned as errors; the caller decides how to present them.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]datatypes.RetrievalCandidate, error)
}

// Indexer stores records keyed by Record.ID. Upserting an existing ID
// replaces its text, metadata and vector.
type Indexer interface {
	Upsert(ctx context.Context, records []Record) error
}

// Store is a full backend.
type Store interface {
	Searcher
	Indexer
	// Ready reports whether the backend can serve queries.
	Ready(ctx context.Context) error
}

// QueryError carries errors reported inside an otherwise successful
// backend response.
type QueryError struct {
	Backend  string
	Messages []string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s query failed: %s", e.Backend, strings.Join(e.Messages, "; "))
}

func validateRecords(records []Record) error {
	for i, r := range records {
		if r.ID == "" {
			return fmt.Errorf("vectorstore: record %d has no ID", i)
		}
		if len(r.Vector) == 0 {
			return fmt.Errorf("vectorstore: record %q has no vector", r.ID)
		}
	}
	return nil
}
