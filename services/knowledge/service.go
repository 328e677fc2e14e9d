// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package knowledge assembles the CyberSafe knowledge service: vector
// store, embedding and generation backends, the query pipeline, ingestion
// and the HTTP API.
//
// # Usage
//
//	cfg, _ := config.Load("cybersafe.yaml")
//	svc, err := knowledge.New(ctx, cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close(context.Background())
//	svc.Run(ctx)
//
// Tests and embedders can inject backends through Options instead of
// letting New build them from configuration.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/AleutianAI/cybersafe/services/knowledge/chunking"
	"github.com/AleutianAI/cybersafe/services/knowledge/config"
	"github.com/AleutianAI/cybersafe/services/knowledge/datatypes"
	"github.com/AleutianAI/cybersafe/services/knowledge/grounding"
	"github.com/AleutianAI/cybersafe/services/knowledge/httpapi"
	"github.com/AleutianAI/cybersafe/services/knowledge/ingest"
	"github.com/AleutianAI/cybersafe/services/knowledge/observability"
	"github.com/AleutianAI/cybersafe/services/knowledge/pipeline"
	"github.com/AleutianAI/cybersafe/services/knowledge/vectorstore"
	"github.com/AleutianAI/cybersafe/services/llm"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/auth"
)

// Options inject pre-built collaborators. Nil fields are built from
// configuration.
type Options struct {
	Store     vectorstore.Store
	Generator llm.Generator
	Embedder  llm.Embedder
	Registry  *prometheus.Registry
	// SkipTracing leaves the global tracer provider untouched.
	SkipTracing bool
}

// Service owns every long-lived component.
//
// # Thread Safety
//
// Methods are safe for concurrent use after New returns.
type Service struct {
	cfg           config.Config
	store         vectorstore.Store
	generator     llm.Generator
	embedder      llm.Embedder
	generatorName string
	registry      *prometheus.Registry
	metrics       *observability.Metrics
	pipeline      *pipeline.Pipeline
	router        *gin.Engine
	tracerCleanup func(context.Context)

	articlesOnce sync.Once
	articles     []ingest.ScrapedItem
}

// New builds the service from cfg.
//
// # Description
//
// Backend construction failures are logged and leave that backend unset,
// so the pipeline answers with the NO_ENGINE advisory instead of refusing
// to start. Only invalid grounding configuration is fatal.
//
// # Outputs
//
//   - *Service: Ready service. Call Close when done.
//   - error: Non-nil when the vocabulary, prompt or pipeline cannot be built.
func New(ctx context.Context, cfg config.Config, opts *Options) (*Service, error) {
	if opts == nil {
		opts = &Options{}
	}
	s := &Service{cfg: cfg, registry: opts.Registry}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	s.metrics = observability.NewMetrics(s.registry)

	if !opts.SkipTracing {
		cleanup, err := initTracer(ctx, cfg.Tracing)
		if err != nil {
			slog.Warn("Tracing disabled", "error", err)
		}
		s.tracerCleanup = cleanup
	}

	s.embedder = opts.Embedder
	s.generator = opts.Generator
	s.generatorName = cfg.Generator.Backend
	if s.generator == nil || s.embedder == nil {
		s.initLLM()
	}

	s.store = opts.Store
	if s.store == nil {
		if err := s.initStore(ctx); err != nil {
			slog.Warn("Vector store unavailable, queries will report it", "error", err)
		}
	}

	vocab, err := loadVocabulary(cfg.Grounding.VocabularyFile)
	if err != nil {
		s.Close(ctx)
		return nil, err
	}
	prompt, err := grounding.NewPromptBuilder(cfg.PromptConfig())
	if err != nil {
		s.Close(ctx)
		return nil, fmt.Errorf("failed to build prompt: %w", err)
	}
	guard, err := grounding.NewGuard(prompt.Fallback(), vocab.Terms())
	if err != nil {
		s.Close(ctx)
		return nil, fmt.Errorf("failed to build guard: %w", err)
	}

	deps := pipeline.Deps{Prompt: prompt, Guard: guard, Metrics: s.metrics}
	if s.store != nil {
		deps.Searcher = s.store
	}
	if s.generator != nil {
		deps.Generator = s.generator
	}
	s.pipeline, err = pipeline.New(cfg.PipelineConfig(vocab.Greetings), deps)
	if err != nil {
		s.Close(ctx)
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}

	s.router = httpapi.NewRouter(cfg.Tracing.ServiceName, httpapi.Deps{
		Engine:   s.pipeline,
		Health:   s,
		Articles: s.Articles,
		Gatherer: s.registry,
	})
	return s, nil
}

func loadVocabulary(path string) (grounding.Vocabulary, error) {
	if path == "" {
		vocab, err := grounding.DefaultVocabulary()
		if err != nil {
			return grounding.Vocabulary{}, fmt.Errorf("failed to load the embedded vocabulary: %w", err)
		}
		return vocab, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return grounding.Vocabulary{}, fmt.Errorf("failed to read the vocabulary file: %w", err)
	}
	vocab, err := grounding.ParseVocabulary(raw)
	if err != nil {
		return grounding.Vocabulary{}, fmt.Errorf("failed to parse the vocabulary file %s: %w", path, err)
	}
	return vocab, nil
}

// initLLM fills whichever of generator and embedder was not injected.
// Embeddings always come from the configured embedding model, even when
// generation is disabled.
func (s *Service) initLLM() {
	gen := s.cfg.Generator
	emb := s.cfg.Embedding

	switch gen.Backend {
	case config.GeneratorOpenAI:
		client, err := llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:         gen.APIKey,
			BaseURL:        gen.BaseURL,
			Model:          gen.Model,
			EmbeddingModel: emb.Model,
			SystemPrompt:   gen.SystemPrompt,
			Params:         gen.Params,
		})
		if err != nil {
			slog.Warn("OpenAI backend unavailable", "error", err)
			return
		}
		s.setLLM(client, client)
	case config.GeneratorOllama, config.GeneratorNone:
		baseURL := emb.BaseURL
		if baseURL == "" {
			baseURL = gen.BaseURL
		}
		model := gen.Model
		if gen.Backend == config.GeneratorNone {
			model = emb.Model
		}
		client, err := llm.NewOllamaClient(llm.OllamaConfig{
			BaseURL:            baseURL,
			Model:              model,
			EmbeddingModel:     emb.Model,
			SystemPrompt:       gen.SystemPrompt,
			Params:             gen.Params,
			EmbeddingBatchSize: emb.BatchSize,
			HTTPTimeout:        gen.Timeout,
		})
		if err != nil {
			slog.Warn("Ollama backend unavailable", "error", err)
			return
		}
		if gen.Backend == config.GeneratorNone {
			s.setLLM(nil, client)
			return
		}
		s.setLLM(client, client)
	default:
		slog.Warn("Unknown generator backend", "backend", gen.Backend)
	}
}

func (s *Service) setLLM(gen llm.Generator, emb llm.Embedder) {
	if s.generator == nil && gen != nil {
		s.generator = gen
	}
	if s.embedder == nil && emb != nil {
		s.embedder = emb
	}
}

func (s *Service) initStore(ctx context.Context) error {
	vs := s.cfg.VectorStore
	switch vs.Backend {
	case config.StoreMemory:
		if s.embedder == nil {
			return errors.New("memory store needs an embedder")
		}
		s.store = vectorstore.NewMemoryStore(s.embedder)
		slog.Info("Using the in-memory vector store")
		return nil
	case config.StoreWeaviate:
		if s.embedder == nil {
			return errors.New("weaviate store needs an embedder")
		}
		clientConf := weaviate.Config{Host: vs.Host, Scheme: vs.Scheme}
		if vs.APIKey != "" {
			clientConf.AuthConfig = auth.ApiKey{Value: vs.APIKey}
		}
		client, err := weaviate.NewClient(clientConf)
		if err != nil {
			return fmt.Errorf("failed to create Weaviate client: %w", err)
		}
		store := vectorstore.NewWeaviateStore(client, s.embedder, vs.Class)
		schemaCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := store.EnsureSchema(schemaCtx); err != nil {
			slog.Warn("Could not ensure the Weaviate schema", "error", err)
		}
		s.store = store
		slog.Info("Weaviate client initialized", "host", vs.Host, "class", vs.Class)
		return nil
	default:
		return fmt.Errorf("unknown vector store backend %q", vs.Backend)
	}
}

// Pipeline returns the query pipeline.
func (s *Service) Pipeline() *pipeline.Pipeline { return s.pipeline }

// Router returns the HTTP handler.
func (s *Service) Router() *gin.Engine { return s.router }

// Metrics returns the service metrics.
func (s *Service) Metrics() *observability.Metrics { return s.metrics }

// Health implements httpapi.HealthReporter.
func (s *Service) Health(ctx context.Context) httpapi.Health {
	h := httpapi.Health{VectorStore: "not_configured", Generator: "not_configured"}
	storeOK := false
	if s.store != nil {
		if err := s.store.Ready(ctx); err != nil {
			slog.Warn("Vector store readiness probe failed", "error", err)
			h.VectorStore = "unavailable"
		} else {
			h.VectorStore = "ok"
			storeOK = true
		}
	}
	if s.generator != nil {
		h.Generator = s.generatorName
	}
	h.RAGAvailable = s.store != nil && s.generator != nil
	h.Status = "degraded"
	if h.RAGAvailable && storeOK {
		h.Status = "healthy"
	}
	return h
}

// Articles returns previews from the configured scraped JSON file. The file
// is read once; a missing file yields no articles.
func (s *Service) Articles(limit int) []ingest.Article {
	s.articlesOnce.Do(func() {
		path := s.cfg.Data.JSONPath
		if path == "" {
			return
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("Article feed unavailable", "path", path, "error", err)
			return
		}
		items, err := ingest.ParseItems(raw)
		if err != nil {
			slog.Warn("Article feed unreadable", "path", path, "error", err)
			return
		}
		s.articles = items
	})
	return ingest.Articles(s.articles, limit)
}

// Ingest loads the configured scraped JSON file and text directory into the
// vector store. Empty paths fall back to the data section of the config.
func (s *Service) Ingest(ctx context.Context, jsonPath, textDir string) (ingest.Report, error) {
	if s.store == nil || s.embedder == nil {
		return ingest.Report{}, errors.New("ingest needs a vector store and an embedder")
	}
	if jsonPath == "" {
		jsonPath = s.cfg.Data.JSONPath
	}
	if textDir == "" {
		textDir = s.cfg.Data.TextDir
	}

	var docs []datatypes.Document
	if jsonPath != "" {
		loaded, err := ingest.LoadJSON(jsonPath, s.cfg.Data.Region)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return ingest.Report{}, err
		}
		if err != nil {
			slog.Warn("JSON data file not found", "path", jsonPath)
		}
		docs = append(docs, loaded...)
	}
	if textDir != "" {
		if _, err := os.Stat(textDir); err == nil {
			loaded, err := ingest.LoadTextDir(textDir, s.cfg.Data.Region)
			if err != nil {
				slog.Warn("Some text documents were skipped", "error", err)
			}
			docs = append(docs, loaded...)
		} else {
			slog.Info("No text document directory found", "dir", textDir)
		}
	}

	chunker, err := chunking.NewChunker(s.cfg.Chunking.Size, s.cfg.Chunking.Overlap, s.cfg.Chunking.MinChars)
	if err != nil {
		return ingest.Report{}, err
	}
	indexer, err := ingest.NewIndexer(s.cfg.Ingest, chunker, s.embedder, s.store, s.metrics)
	if err != nil {
		return ingest.Report{}, err
	}
	return indexer.Index(ctx, docs)
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Service) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.Server.ReadHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting CyberSafe server", "addr", s.cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	slog.Info("Shutting down CyberSafe server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close flushes traces. It is safe to call more than once.
func (s *Service) Close(ctx context.Context) {
	if s.tracerCleanup != nil {
		s.tracerCleanup(ctx)
		s.tracerCleanup = nil
	}
}
