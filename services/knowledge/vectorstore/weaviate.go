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
	"log/slog"

	"github.com/AleutianAI/cybersafe/services/knowledge/datatypes"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("cybersafe.knowledge.vectorstore")

// DefaultClass is the Weaviate class holding knowledge chunks.
const DefaultClass = "CyberKnowledge"

// WeaviateStore implements Store on a Weaviate class with caller-supplied
// vectors.
//
// # Thread Safety
//
// Safe for concurrent use; the Weaviate client is.
type WeaviateStore struct {
	client   *weaviate.Client
	embedder QueryEmbedder
	class    string
}

// NewWeaviateStore wraps an existing client. An empty class uses
// DefaultClass.
func NewWeaviateStore(client *weaviate.Client, embedder QueryEmbedder, class string) *WeaviateStore {
	if class == "" {
		class = DefaultClass
	}
	return &WeaviateStore{client: client, embedder: embedder, class: class}
}

// KnowledgeSchema returns the class definition for knowledge chunks.
func KnowledgeSchema(class string) *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       class,
		Description: "A chunk of scraped cybersecurity guidance with its source.",
		Vectorizer:  "none",
		VectorIndexConfig: map[string]interface{}{
			"distance": "cosine",
		},
		Properties: []*models.Property{
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The chunk text.",
				Tokenization: "word",
			},
			{
				Name:            "record_id",
				DataType:        []string{"text"},
				Description:     "Caller-assigned chunk ID.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "source_url",
				DataType:        []string{"text"},
				Description:     "Page or file the chunk came from.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:        "title",
				DataType:    []string{"text"},
				Description: "Display title of the source.",
			},
			{
				Name:            "doc_type",
				DataType:        []string{"text"},
				Description:     "html or pdf.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "region",
				DataType:        []string{"text"},
				Description:     "Region tag recorded at ingestion.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:     "chunk_index",
				DataType: []string{"int"},
			},
			{
				Name:     "total_chunks",
				DataType: []string{"int"},
			},
		},
	}
}

// EnsureSchema creates the class when it does not exist yet.
func (s *WeaviateStore) EnsureSchema(ctx context.Context) error {
	exists, err := s.client.Schema().ClassExistenceChecker().WithClassName(s.class).Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate: check class %s: %w", s.class, err)
	}
	if exists {
		slog.Info("Schema already exists", "class", s.class)
		return nil
	}
	slog.Info("Schema not found, creating it", "class", s.class)
	if err := s.client.Schema().ClassCreator().WithClass(KnowledgeSchema(s.class)).Do(ctx); err != nil {
		return fmt.Errorf("weaviate: create class %s: %w", s.class, err)
	}
	return nil
}

// Search implements Searcher.
func (s *WeaviateStore) Search(ctx context.Context, query string, k int) ([]datatypes.RetrievalCandidate, error) {
	ctx, span := tracer.Start(ctx, "WeaviateStore.Search")
	defer span.End()
	span.SetAttributes(attribute.String("weaviate.class", s.class), attribute.Int("search.k", k))

	if k <= 0 {
		return nil, nil
	}
	if s.embedder == nil {
		return nil, errors.New("weaviate: no embedder configured")
	}
	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embed failed")
		return nil, fmt.Errorf("weaviate: embed query: %w", err)
	}

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source_url"},
		{Name: "title"},
		{Name: "doc_type"},
		{Name: "region"},
		{Name: "chunk_index"},
		{Name: "total_chunks"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "distance"},
		}},
	}
	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	resp, err := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}

	candidates, err := candidatesFromResponse(resp, s.class)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("search.results", len(candidates)))
	return candidates, nil
}

// Upsert implements Indexer as one batch request. Object IDs are derived
// from record IDs, so a second upsert of the same ID overwrites.
func (s *WeaviateStore) Upsert(ctx context.Context, records []Record) error {
	ctx, span := tracer.Start(ctx, "WeaviateStore.Upsert")
	defer span.End()
	span.SetAttributes(attribute.Int("batch.size", len(records)))

	if len(records) == 0 {
		return nil
	}
	if err := validateRecords(records); err != nil {
		return err
	}
	objects := make([]*models.Object, len(records))
	for i, r := range records {
		objects[i] = objectFor(s.class, r)
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch failed")
		return fmt.Errorf("failed to save objects to Weaviate: %w", err)
	}

	var failures []string
	for _, item := range resp {
		if item.Result != nil && item.Result.Errors != nil {
			for _, e := range item.Result.Errors.Error {
				if e != nil {
					failures = append(failures, e.Message)
				}
			}
		}
	}
	if len(failures) > 0 {
		slog.Warn("Errors encountered during Weaviate batch import",
			"class", s.class, "failed_items", len(failures), "batch_size", len(records))
		return &QueryError{Backend: "weaviate batch", Messages: failures}
	}
	return nil
}

// Ready implements Store.
func (s *WeaviateStore) Ready(ctx context.Context) error {
	ready, err := s.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate: readiness check: %w", err)
	}
	if !ready {
		return errors.New("weaviate: not ready")
	}
	return nil
}

// ObjectID maps a caller record ID to a stable Weaviate UUID.
func ObjectID(class, recordID string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(class+"/"+recordID)).String())
}

func objectFor(class string, r Record) *models.Object {
	return &models.Object{
		Class:  class,
		ID:     ObjectID(class, r.ID),
		Vector: models.C11yVector(r.Vector),
		Properties: map[string]interface{}{
			"content":      r.Text,
			"record_id":    r.ID,
			"source_url":   r.Metadata.SourceURL,
			"title":        r.Metadata.Title,
			"doc_type":     r.Metadata.Type,
			"region":       r.Metadata.Region,
			"chunk_index":  r.Metadata.ChunkIndex,
			"total_chunks": r.Metadata.TotalChunks,
		},
	}
}

var _ Store = (*WeaviateStore)(nil)
