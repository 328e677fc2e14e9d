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
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/cybersafe/services/knowledge/datatypes"
	"github.com/weaviate/weaviate/entities/models"
)

// parseGraphQLResponse converts Weaviate's dynamic response into T by a
// JSON round trip. T must carry json tags matching the requested fields.
func parseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}
	return &out, nil
}

// knowledgeQueryResponse is keyed by class name because the class is
// configurable.
type knowledgeQueryResponse struct {
	Get map[string][]knowledgeResult `json:"Get"`
}

type knowledgeResult struct {
	Content     string `json:"content"`
	SourceURL   string `json:"source_url"`
	Title       string `json:"title"`
	DocType     string `json:"doc_type"`
	Region      string `json:"region"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
	Additional  struct {
		ID       string   `json:"id"`
		Distance *float64 `json:"distance"`
	} `json:"_additional"`
}

// candidatesFromResponse turns a nearVector response into candidates in the
// order Weaviate returned them.
func candidatesFromResponse(resp *models.GraphQLResponse, class string) ([]datatypes.RetrievalCandidate, error) {
	if resp != nil && len(resp.Errors) > 0 {
		qe := &QueryError{Backend: "weaviate"}
		for _, e := range resp.Errors {
			if e != nil {
				qe.Messages = append(qe.Messages, e.Message)
			}
		}
		return nil, qe
	}
	parsed, err := parseGraphQLResponse[knowledgeQueryResponse](resp)
	if err != nil {
		return nil, err
	}
	results := parsed.Get[class]
	out := make([]datatypes.RetrievalCandidate, 0, len(results))
	for _, r := range results {
		out = append(out, datatypes.RetrievalCandidate{
			Text: r.Content,
			Metadata: datatypes.Metadata{
				SourceURL:   r.SourceURL,
				Title:       r.Title,
				Type:        r.DocType,
				Region:      r.Region,
				ChunkIndex:  r.ChunkIndex,
				TotalChunks: r.TotalChunks,
			},
			Distance: r.Additional.Distance,
		})
	}
	return out, nil
}
