// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the knowledge service configuration.
//
// # Precedence
//
//  1. Default() values
//  2. The YAML file passed to Load, if any
//  3. CYBERSAFE_* environment variables
//
// The merged result is validated before it is returned.
package config

import (
	"time"

	"github.com/AleutianAI/cybersafe/services/knowledge/grounding"
	"github.com/AleutianAI/cybersafe/services/knowledge/ingest"
	"github.com/AleutianAI/cybersafe/services/knowledge/pipeline"
	"github.com/AleutianAI/cybersafe/services/knowledge/retrieval"
	"github.com/AleutianAI/cybersafe/services/llm"
)

// Backend names.
const (
	GeneratorOllama = "ollama"
	GeneratorOpenAI = "openai"
	GeneratorNone   = "none"

	StoreWeaviate = "weaviate"
	StoreMemory   = "memory"
)

// Config is the root of the service configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Grounding   GroundingConfig   `yaml:"grounding"`
	Generator   GeneratorConfig   `yaml:"generator"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Chunking    ChunkingConfig    `yaml:"chunking"`
	Ingest      ingest.Config     `yaml:"ingest"`
	Data        DataConfig        `yaml:"data"`
	Logging     LoggingConfig     `yaml:"logging"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

type ServerConfig struct {
	Addr              string        `yaml:"addr" validate:"required"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" validate:"gt=0"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// RetrievalConfig holds the relevance filter thresholds.
type RetrievalConfig struct {
	TopK          int           `yaml:"top_k" validate:"gt=0"`
	MaxDistance   float64       `yaml:"max_distance" validate:"gt=0"`
	MaxSelected   int           `yaml:"max_selected" validate:"gt=0"`
	MaxChars      int           `yaml:"max_chars" validate:"gt=0"`
	SearchTimeout time.Duration `yaml:"search_timeout" validate:"gt=0"`
}

// GroundingConfig holds the prompt wording and router vocabulary.
type GroundingConfig struct {
	MinQueryTokens  int    `yaml:"min_query_tokens" validate:"min=0"`
	Persona         string `yaml:"persona" validate:"required"`
	Dialect         string `yaml:"dialect" validate:"required"`
	ReportingAdvice string `yaml:"reporting_advice"`
	Fallback        string `yaml:"fallback" validate:"required"`
	// VocabularyFile replaces the embedded greetings and disallowed terms.
	VocabularyFile string            `yaml:"vocabulary_file"`
	Messages       pipeline.Messages `yaml:"messages"`
}

// GeneratorConfig selects and tunes the text generation backend.
type GeneratorConfig struct {
	Backend string `yaml:"backend" validate:"oneof=ollama openai none"`
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
	Model   string `yaml:"model" validate:"required_unless=Backend none"`
	// APIKey is only read from the environment.
	APIKey       string               `yaml:"-"`
	SystemPrompt string               `yaml:"system_prompt"`
	Timeout      time.Duration        `yaml:"timeout" validate:"gt=0"`
	Params       llm.GenerationParams `yaml:"params"`
}

type EmbeddingConfig struct {
	Model     string `yaml:"model" validate:"required"`
	BaseURL   string `yaml:"base_url" validate:"omitempty,url"`
	BatchSize int    `yaml:"batch_size" validate:"min=0"`
}

type VectorStoreConfig struct {
	Backend string `yaml:"backend" validate:"oneof=weaviate memory"`
	Scheme  string `yaml:"scheme" validate:"omitempty,oneof=http https"`
	Host    string `yaml:"host" validate:"required_if=Backend weaviate"`
	Class   string `yaml:"class" validate:"required"`
	// APIKey is only read from the environment.
	APIKey string `yaml:"-"`
}

type ChunkingConfig struct {
	Size     int `yaml:"size" validate:"gt=0"`
	Overlap  int `yaml:"overlap" validate:"min=0,ltfield=Size"`
	MinChars int `yaml:"min_chars" validate:"min=0"`
}

// DataConfig points at scraped content used by ingest and the article feed.
type DataConfig struct {
	JSONPath string `yaml:"json_path"`
	TextDir  string `yaml:"text_dir"`
	Region   string `yaml:"region" validate:"required"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	// Format is "json", "text" or "auto" (JSON unless stderr is a terminal).
	Format string `yaml:"format" validate:"oneof=auto json text"`
	Dir    string `yaml:"dir"`
}

type TracingConfig struct {
	// Endpoint is an OTLP/gRPC collector address. Empty disables export.
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	Stdout      bool   `yaml:"stdout"`
	ServiceName string `yaml:"service_name" validate:"required"`
}

// Default returns the local development configuration: Ollama for
// generation and embeddings, Weaviate on localhost.
func Default() Config {
	defaults := pipeline.DefaultConfig()
	return Config{
		Server: ServerConfig{
			Addr:              ":8001",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Retrieval: RetrievalConfig{
			TopK:          defaults.TopK,
			MaxDistance:   defaults.Limits.MaxDistance,
			MaxSelected:   defaults.Limits.MaxSelected,
			MaxChars:      defaults.Limits.MaxChars,
			SearchTimeout: defaults.SearchTimeout,
		},
		Grounding: GroundingConfig{
			MinQueryTokens:  defaults.MinQueryTokens,
			Persona:         grounding.DefaultPersona,
			Dialect:         grounding.DefaultDialect,
			ReportingAdvice: grounding.DefaultReportingAdvice,
			Fallback:        grounding.FallbackSentence,
		},
		Generator: GeneratorConfig{
			Backend: GeneratorOllama,
			BaseURL: "http://localhost:11434",
			Model:   "llama3.2",
			Timeout: defaults.GenerationTimeout,
			Params: llm.GenerationParams{
				Temperature: llm.Float32(0),
				MaxTokens:   llm.Int(300),
			},
		},
		Embedding: EmbeddingConfig{
			Model:     "nomic-embed-text",
			BatchSize: 32,
		},
		VectorStore: VectorStoreConfig{
			Backend: StoreWeaviate,
			Scheme:  "http",
			Host:    "localhost:8080",
			Class:   "CyberKnowledge",
		},
		Chunking: ChunkingConfig{Size: 500, Overlap: 50, MinChars: 100},
		Ingest:   ingest.DefaultConfig(),
		Data: DataConfig{
			JSONPath: "data/cyber_chatbot_UK1.json",
			TextDir:  "data/pdfs",
			Region:   "UK",
		},
		Logging: LoggingConfig{Level: "info", Format: "auto"},
		Tracing: TracingConfig{ServiceName: "cybersafe", Insecure: true},
	}
}

// PipelineConfig converts the retrieval and grounding sections.
func (c Config) PipelineConfig(greetings []string) pipeline.Config {
	return pipeline.Config{
		TopK: c.Retrieval.TopK,
		Limits: retrieval.Limits{
			MaxDistance: c.Retrieval.MaxDistance,
			MaxSelected: c.Retrieval.MaxSelected,
			MaxChars:    c.Retrieval.MaxChars,
		},
		SearchTimeout:     c.Retrieval.SearchTimeout,
		GenerationTimeout: c.Generator.Timeout,
		MinQueryTokens:    c.Grounding.MinQueryTokens,
		Greetings:         greetings,
		Messages:          c.Grounding.Messages,
	}
}

// PromptConfig converts the grounding section.
func (c Config) PromptConfig() grounding.PromptConfig {
	return grounding.PromptConfig{
		Persona:         c.Grounding.Persona,
		Dialect:         c.Grounding.Dialect,
		ReportingAdvice: c.Grounding.ReportingAdvice,
		Fallback:        c.Grounding.Fallback,
	}
}
