// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm contains the text-generation and embedding backends used by the
// knowledge pipeline.
//
// Two backends are provided: an OpenAI-compatible client built on go-openai
// and an Ollama client built on langchaingo. Both implement Generator and
// Embedder. Streaming is exposed as a pull-based iterator so the caller
// controls how many fragments are consumed; breaking out of the range loop
// releases the underlying connection.
package llm

import (
	"context"
	"errors"
	"iter"
)

// ErrEmptyCompletion is returned when a backend answers without any content.
var ErrEmptyCompletion = errors.New("llm: backend returned no completion")

// GenerationParams are the sampling options applied to every request made by
// a client. Nil pointers leave the backend default in place.
type GenerationParams struct {
	Temperature *float32 `json:"temperature" yaml:"temperature"`
	TopP        *float32 `json:"top_p" yaml:"top_p"`
	MaxTokens   *int     `json:"max_tokens" yaml:"max_tokens"`
	Stop        []string `json:"stop" yaml:"stop"`
}

// Generator turns a fully built prompt into answer text.
//
// # Description
//
// Generate blocks until the complete answer is available. GenerateStream
// returns a lazy, finite, single-use sequence of text fragments; the
// concatenation of all fragments equals what Generate would have returned
// for the same backend state. A non-nil error in the sequence is terminal:
// no further fragments follow it.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateStream(ctx context.Context, prompt string) iter.Seq2[string, error]
}

// Embedder maps text to dense vectors. Query and document embeddings must
// come from the same model so their distances are comparable.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Float32 returns a pointer to v. Convenience for building GenerationParams.
func Float32(v float32) *float32 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
