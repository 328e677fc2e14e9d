// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/AleutianAI/cybersafe/services/knowledge/datatypes"
)

// MemoryStore is an in-process Store using exhaustive cosine search.
//
// # Thread Safety
//
// Safe for concurrent use. Searches take a read lock; upserts take the
// write lock.
type MemoryStore struct {
	embedder QueryEmbedder

	mu      sync.RWMutex
	records map[string]Record
	order   []string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(embedder QueryEmbedder) *MemoryStore {
	return &MemoryStore{
		embedder: embedder,
		records:  make(map[string]Record),
	}
}

// Upsert implements Indexer.
func (s *MemoryStore) Upsert(_ context.Context, records []Record) error {
	if err := validateRecords(records); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		if _, exists := s.records[r.ID]; !exists {
			s.order = append(s.order, r.ID)
		}
		r.Vector = slices.Clone(r.Vector)
		s.records[r.ID] = r
	}
	return nil
}

// Search implements Searcher. Ties keep insertion order.
func (s *MemoryStore) Search(ctx context.Context, query string, k int) ([]datatypes.RetrievalCandidate, error) {
	if k <= 0 {
		return nil, nil
	}
	if s.embedder == nil {
		return nil, errors.New("memory store: no embedder configured")
	}
	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memory store: embed query: %w", err)
	}

	s.mu.RLock()
	type scored struct {
		rec  Record
		dist float64
	}
	hits := make([]scored, 0, len(s.order))
	for _, id := range s.order {
		rec := s.records[id]
		d, ok := cosineDistance(vec, rec.Vector)
		if !ok {
			continue
		}
		hits = append(hits, scored{rec: rec, dist: d})
	}
	s.mu.RUnlock()

	slices.SortStableFunc(hits, func(a, b scored) int {
		switch {
		case a.dist < b.dist:
			return -1
		case a.dist > b.dist:
			return 1
		default:
			return 0
		}
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	out := make([]datatypes.RetrievalCandidate, len(hits))
	for i, h := range hits {
		d := h.dist
		out[i] = datatypes.RetrievalCandidate{Text: h.rec.Text, Metadata: h.rec.Metadata, Distance: &d}
	}
	return out, nil
}

// Ready implements Store.
func (s *MemoryStore) Ready(context.Context) error { return nil }

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// cosineDistance returns 1 - cos(a, b). Mismatched dimensions and zero
// vectors have no defined distance.
func cosineDistance(a, b []float32) (float64, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb)), true
}

var _ Store = (*MemoryStore)(nil)
