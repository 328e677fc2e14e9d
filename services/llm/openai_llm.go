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
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"math"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var openaiTracer = otel.Tracer("cybersafe.llm.openai")

const openaiSecretPath = "/run/secrets/openai_api_key"

// OpenAIConfig configures an OpenAIClient. BaseURL may point at any
// OpenAI-compatible server (vLLM, LM Studio, llama.cpp server).
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	SystemPrompt   string
	Params         GenerationParams
}

// OpenAIClient implements Generator and Embedder against the chat completions
// and embeddings endpoints.
type OpenAIClient struct {
	client         *openai.Client
	model          string
	embeddingModel string
	systemPrompt   string
	params         GenerationParams
}

// NewOpenAIClient creates a client from cfg.
//
// # Description
//
// When cfg.APIKey is empty the key is read from OPENAI_API_KEY and then from
// the container secret file. Local OpenAI-compatible servers usually ignore
// the key, so a missing key is only an error when BaseURL is unset.
//
// # Outputs
//
//   - *OpenAIClient: Ready client.
//   - error: Non-nil when no key is available for the hosted API.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		if raw, err := os.ReadFile(openaiSecretPath); err == nil {
			apiKey = strings.TrimSpace(string(raw))
			slog.Info("Read the OpenAI API key from container secrets")
		}
	}
	if apiKey == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("openai: no API key configured and no base URL override")
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OpenAI model not set, defaulting", "model", model)
	}
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = string(openai.SmallEmbedding3)
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}

	slog.Info("Initializing OpenAI client", "model", model, "embedding_model", embeddingModel,
		"custom_base_url", cfg.BaseURL != "")
	return &OpenAIClient{
		client:         openai.NewClientWithConfig(clientCfg),
		model:          model,
		embeddingModel: embeddingModel,
		systemPrompt:   cfg.SystemPrompt,
		params:         cfg.Params,
	}, nil
}

// Generate implements Generator.
func (o *OpenAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, span := openaiTracer.Start(ctx, "OpenAIClient.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model), attribute.Int("llm.prompt_chars", len(prompt)))

	resp, err := o.client.CreateChatCompletion(ctx, o.chatRequest(prompt, false))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chat completion failed")
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		span.SetStatus(codes.Error, "no choices")
		return "", ErrEmptyCompletion
	}
	slog.Debug("Received response from OpenAI", "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

// GenerateStream implements Generator. The HTTP stream is opened on the first
// pull and closed when the sequence ends or the consumer stops ranging.
func (o *OpenAIClient) GenerateStream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, span := openaiTracer.Start(ctx, "OpenAIClient.GenerateStream")
		defer span.End()
		span.SetAttributes(attribute.String("llm.model", o.model))

		stream, err := o.client.CreateChatCompletionStream(ctx, o.chatRequest(prompt, true))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "open stream failed")
			yield("", fmt.Errorf("openai open stream: %w", err))
			return
		}
		defer stream.Close()

		fragments := 0
		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				span.SetAttributes(attribute.Int("llm.fragments", fragments))
				return
			}
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "stream receive failed")
				yield("", fmt.Errorf("openai stream: %w", err))
				return
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			fragments++
			if !yield(chunk.Choices[0].Delta.Content, nil) {
				span.SetAttributes(attribute.Bool("llm.abandoned", true))
				return
			}
		}
	}
}

// EmbedQuery implements Embedder.
func (o *OpenAIClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := o.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedDocuments implements Embedder. Output order matches input order.
func (o *OpenAIClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, span := openaiTracer.Start(ctx, "OpenAIClient.EmbedDocuments")
	defer span.End()
	span.SetAttributes(attribute.Int("llm.inputs", len(texts)))

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(o.embeddingModel),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("openai embeddings: index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func (o *OpenAIClient) chatRequest(prompt string, stream bool) openai.ChatCompletionRequest {
	var messages []openai.ChatCompletionMessage
	if o.systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: o.systemPrompt})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   stream,
	}
	if o.params.Temperature != nil {
		req.Temperature = *o.params.Temperature
		// The request field is omitempty, so an explicit zero would be dropped.
		if req.Temperature == 0 {
			req.Temperature = math.SmallestNonzeroFloat32
		}
	}
	if o.params.TopP != nil {
		req.TopP = *o.params.TopP
	}
	if o.params.MaxTokens != nil {
		req.MaxTokens = *o.params.MaxTokens
	}
	if len(o.params.Stop) > 0 {
		req.Stop = o.params.Stop
	}
	return req
}

var (
	_ Generator = (*OpenAIClient)(nil)
	_ Embedder  = (*OpenAIClient)(nil)
)
