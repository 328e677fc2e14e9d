// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var ollamaTracer = otel.Tracer("cybersafe.llm.ollama")

// OllamaConfig configures an OllamaClient.
type OllamaConfig struct {
	BaseURL        string
	Model          string
	EmbeddingModel string
	SystemPrompt   string
	Params         GenerationParams
	// EmbeddingBatchSize bounds how many texts go into one embedding call.
	EmbeddingBatchSize int
	// HTTPTimeout applies to each HTTP request made to the server.
	HTTPTimeout time.Duration
}

// OllamaClient implements Generator and Embedder against a local Ollama
// server through langchaingo.
type OllamaClient struct {
	llm          *ollama.LLM
	embedder     *embeddings.EmbedderImpl
	model        string
	systemPrompt string
	params       GenerationParams
}

// NewOllamaClient builds the generation model and, when configured, a
// separate embedding model on the same server.
//
// # Description
//
// Construction does not contact the server. A server that is not running is
// reported by the first Generate or Embed call.
//
// # Inputs
//
//   - cfg: BaseURL and Model are required. EmbeddingModel defaults to Model.
//
// # Outputs
//
//   - *OllamaClient: Ready client.
//   - error: Non-nil when required fields are missing or langchaingo rejects
//     the options.
func NewOllamaClient(cfg OllamaConfig) (*OllamaClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("ollama: base URL not set")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("ollama: model not set")
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	httpClient := &http.Client{Timeout: timeout}

	gen, err := ollama.New(
		ollama.WithServerURL(baseURL),
		ollama.WithModel(cfg.Model),
		ollama.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("ollama: create generation model: %w", err)
	}

	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = cfg.Model
	}
	embedLLM, err := ollama.New(
		ollama.WithServerURL(baseURL),
		ollama.WithModel(embeddingModel),
		ollama.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("ollama: create embedding model: %w", err)
	}
	batchSize := cfg.EmbeddingBatchSize
	if batchSize <= 0 {
		batchSize = 32
	}
	embedder, err := embeddings.NewEmbedder(embedLLM, embeddings.WithBatchSize(batchSize))
	if err != nil {
		return nil, fmt.Errorf("ollama: create embedder: %w", err)
	}

	slog.Info("Initializing Ollama client", "base_url", baseURL, "model", cfg.Model,
		"embedding_model", embeddingModel)
	return &OllamaClient{
		llm:          gen,
		embedder:     embedder,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		params:       cfg.Params,
	}, nil
}

// Generate implements Generator.
func (o *OllamaClient) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, span := ollamaTracer.Start(ctx, "OllamaClient.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model), attribute.Int("llm.prompt_chars", len(prompt)))

	resp, err := o.llm.GenerateContent(ctx, o.messages(prompt), o.callOptions()...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate failed")
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		span.SetStatus(codes.Error, "no choices")
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Content, nil
}

// GenerateStream implements Generator.
//
// # Description
//
// langchaingo delivers fragments through a callback. The callback runs on a
// helper goroutine and hands each fragment over an unbuffered channel, so
// the server is only read as fast as the consumer pulls. When the consumer
// stops early the request context is cancelled, the callback returns the
// cancellation error and the helper goroutine exits.
//
// # Thread Safety
//
// Each returned sequence is single-use. Distinct sequences are independent.
func (o *OllamaClient) GenerateStream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, span := ollamaTracer.Start(ctx, "OllamaClient.GenerateStream")
		defer span.End()
		span.SetAttributes(attribute.String("llm.model", o.model))

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		fragments := make(chan string)
		done := make(chan error, 1)
		go func() {
			defer close(fragments)
			onChunk := func(ctx context.Context, chunk []byte) error {
				select {
				case fragments <- string(chunk):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			opts := append(o.callOptions(), llms.WithStreamingFunc(onChunk))
			_, err := o.llm.GenerateContent(ctx, o.messages(prompt), opts...)
			done <- err
		}()

		count := 0
		for fragment := range fragments {
			if fragment == "" {
				continue
			}
			count++
			if !yield(fragment, nil) {
				span.SetAttributes(attribute.Bool("llm.abandoned", true), attribute.Int("llm.fragments", count))
				cancel()
				for range fragments {
				}
				return
			}
		}
		span.SetAttributes(attribute.Int("llm.fragments", count))
		if err := <-done; err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "stream failed")
			yield("", fmt.Errorf("ollama stream: %w", err))
		}
	}
}

// EmbedQuery implements Embedder.
func (o *OllamaClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	ctx, span := ollamaTracer.Start(ctx, "OllamaClient.EmbedQuery")
	defer span.End()

	vec, err := o.embedder.EmbedQuery(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embed query failed")
		return nil, fmt.Errorf("ollama embed query: %w", err)
	}
	return vec, nil
}

// EmbedDocuments implements Embedder.
func (o *OllamaClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, span := ollamaTracer.Start(ctx, "OllamaClient.EmbedDocuments")
	defer span.End()
	span.SetAttributes(attribute.Int("llm.inputs", len(texts)))

	vecs, err := o.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embed documents failed")
		return nil, fmt.Errorf("ollama embed documents: %w", err)
	}
	return vecs, nil
}

func (o *OllamaClient) messages(prompt string) []llms.MessageContent {
	var msgs []llms.MessageContent
	if o.systemPrompt != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, o.systemPrompt))
	}
	return append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, prompt))
}

func (o *OllamaClient) callOptions() []llms.CallOption {
	var opts []llms.CallOption
	if o.params.Temperature != nil {
		opts = append(opts, llms.WithTemperature(float64(*o.params.Temperature)))
	}
	if o.params.TopP != nil {
		opts = append(opts, llms.WithTopP(float64(*o.params.TopP)))
	}
	if o.params.MaxTokens != nil {
		opts = append(opts, llms.WithMaxTokens(*o.params.MaxTokens))
	}
	if len(o.params.Stop) > 0 {
		opts = append(opts, llms.WithStopWords(o.params.Stop))
	}
	return opts
}

var (
	_ Generator = (*OllamaClient)(nil)
	_ Embedder  = (*OllamaClient)(nil)
)
