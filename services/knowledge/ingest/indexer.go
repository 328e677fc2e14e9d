// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/AleutianAI/cybersafe/services/knowledge/chunking"
	"github.com/AleutianAI/cybersafe/services/knowledge/datatypes"
	"github.com/AleutianAI/cybersafe/services/knowledge/observability"
	"github.com/AleutianAI/cybersafe/services/knowledge/vectorstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("cybersafe.knowledge.ingest")

// DocumentEmbedder embeds passages for indexing.
type DocumentEmbedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// =============================================================================
// Configuration
// =============================================================================

// Config controls batching and embedding throughput.
type Config struct {
	// UpsertBatchSize is the number of records per index write.
	UpsertBatchSize int `yaml:"upsert_batch_size" validate:"min=0"`

	// EmbedBatchSize is the number of texts per embedding call.
	EmbedBatchSize int `yaml:"embed_batch_size" validate:"min=0"`

	// Concurrency bounds in-flight embedding calls.
	Concurrency int `yaml:"concurrency" validate:"min=0"`

	// RequestsPerSecond caps embedding calls. Zero means unlimited.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"min=0"`
}

// DefaultConfig returns batch sizes that suit a local Weaviate and Ollama.
func DefaultConfig() Config {
	return Config{
		UpsertBatchSize:   100,
		EmbedBatchSize:    32,
		Concurrency:       4,
		RequestsPerSecond: 0,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.UpsertBatchSize <= 0 {
		c.UpsertBatchSize = d.UpsertBatchSize
	}
	if c.EmbedBatchSize <= 0 {
		c.EmbedBatchSize = d.EmbedBatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	return c
}

// =============================================================================
// Indexer
// =============================================================================

// Report summarises one Index call.
type Report struct {
	Documents int `json:"documents"`
	Chunks    int `json:"chunks"`
	Indexed   int `json:"indexed"`
	Failed    int `json:"failed"`
}

// Indexer chunks documents, embeds the chunks and writes them to a
// vectorstore.Indexer.
//
// # Thread Safety
//
// Safe for concurrent use; the rate limit is shared across calls.
type Indexer struct {
	cfg      Config
	chunker  *chunking.Chunker
	embedder DocumentEmbedder
	store    vectorstore.Indexer
	limiter  *rate.Limiter
	metrics  *observability.Metrics
}

// NewIndexer wires an Indexer. A nil chunker uses chunking.Default().
func NewIndexer(cfg Config, chunker *chunking.Chunker, embedder DocumentEmbedder, store vectorstore.Indexer, metrics *observability.Metrics) (*Indexer, error) {
	if embedder == nil {
		return nil, errors.New("ingest: embedder is required")
	}
	if store == nil {
		return nil, errors.New("ingest: store is required")
	}
	if chunker == nil {
		chunker = chunking.Default()
	}
	cfg = cfg.withDefaults()

	limit := rate.Inf
	burst := cfg.Concurrency
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = int(math.Max(1, math.Ceil(cfg.RequestsPerSecond)))
	}
	return &Indexer{
		cfg:      cfg,
		chunker:  chunker,
		embedder: embedder,
		store:    store,
		limiter:  rate.NewLimiter(limit, burst),
		metrics:  metrics,
	}, nil
}

// Index chunks, embeds and upserts docs.
//
// # Description
//
// Records are written in batches of UpsertBatchSize. Within a batch,
// embedding calls of EmbedBatchSize texts run concurrently up to
// Concurrency, each waiting on the rate limiter. The first failing batch
// stops ingestion; batches written before it stay indexed.
//
// # Outputs
//
//   - Report: Counts of documents, chunks, and records indexed or failed.
//   - error: The first embedding or write failure, or ctx.Err().
func (ix *Indexer) Index(ctx context.Context, docs []datatypes.Document) (Report, error) {
	ctx, span := tracer.Start(ctx, "Indexer.Index")
	defer span.End()
	start := time.Now()

	records := ix.records(docs)
	report := Report{Documents: len(docs), Chunks: len(records)}
	span.SetAttributes(
		attribute.Int("ingest.documents", report.Documents),
		attribute.Int("ingest.chunks", report.Chunks),
	)

	for lo := 0; lo < len(records); lo += ix.cfg.UpsertBatchSize {
		hi := min(lo+ix.cfg.UpsertBatchSize, len(records))
		batch := records[lo:hi]
		if err := ix.writeBatch(ctx, batch); err != nil {
			report.Failed = len(records) - report.Indexed
			ix.metrics.RecordIngested("indexed", report.Indexed)
			ix.metrics.RecordIngested("failed", report.Failed)
			span.RecordError(err)
			span.SetStatus(codes.Error, "batch failed")
			slog.Error("Ingestion stopped", "error", err, "indexed", report.Indexed, "failed", report.Failed)
			return report, fmt.Errorf("ingest batch at record %d: %w", lo, err)
		}
		report.Indexed += len(batch)
		slog.Debug("Batch indexed", "records", len(batch), "total", report.Indexed)
	}

	ix.metrics.RecordIngested("indexed", report.Indexed)
	slog.Info("Ingestion complete",
		"documents", report.Documents,
		"chunks", report.Chunks,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return report, nil
}

func (ix *Indexer) records(docs []datatypes.Document) []vectorstore.Record {
	var records []vectorstore.Record
	for _, doc := range docs {
		chunks := ix.chunker.ChunkDocument(doc)
		if len(chunks) == 0 {
			slog.Debug("Document produced no chunks", "doc_id", doc.ID)
		}
		for _, c := range chunks {
			records = append(records, vectorstore.Record{ID: c.ID, Text: c.Text, Metadata: c.Metadata})
		}
	}
	return records
}

// writeBatch embeds batch in place and upserts it.
func (ix *Indexer) writeBatch(ctx context.Context, batch []vectorstore.Record) error {
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(ix.cfg.Concurrency)

	for lo := 0; lo < len(batch); lo += ix.cfg.EmbedBatchSize {
		part := batch[lo:min(lo+ix.cfg.EmbedBatchSize, len(batch))]
		g.Go(func() error {
			if err := ix.limiter.Wait(gCtx); err != nil {
				return err
			}
			texts := make([]string, len(part))
			for i, r := range part {
				texts[i] = r.Text
			}
			vectors, err := ix.embedder.EmbedDocuments(gCtx, texts)
			if err != nil {
				return fmt.Errorf("embed: %w", err)
			}
			if len(vectors) != len(part) {
				return fmt.Errorf("embed: got %d vectors for %d texts", len(vectors), len(part))
			}
			for i := range part {
				part[i].Vector = vectors[i]
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ix.store.Upsert(ctx, batch)
}
