// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AleutianAI/cybersafe/services/knowledge/grounding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cybersafe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 6, cfg.Retrieval.TopK)
	assert.Equal(t, 1.0, cfg.Retrieval.MaxDistance)
	assert.Equal(t, 4, cfg.Retrieval.MaxSelected)
	assert.Equal(t, 2000, cfg.Retrieval.MaxChars)
	assert.Equal(t, 10*time.Second, cfg.Retrieval.SearchTimeout)
	assert.Equal(t, 60*time.Second, cfg.Generator.Timeout)
	assert.Equal(t, 1, cfg.Grounding.MinQueryTokens)
	assert.Equal(t, grounding.FallbackSentence, cfg.Grounding.Fallback)
	assert.Equal(t, 100, cfg.Ingest.UpsertBatchSize)
}

func TestLoad_NoFile(t *testing.T) {
	t.Parallel()
	cfg, err := load("", envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_YAMLOverDefaults(t *testing.T) {
	t.Parallel()
	path := writeFile(t, `
retrieval:
  top_k: 8
  max_distance: 0.7
  search_timeout: 3s
generator:
  backend: openai
  base_url: http://localhost:4000/v1
  model: gpt-4o-mini
  params:
    temperature: 0.2
vector_store:
  backend: memory
grounding:
  messages:
    welcome: Hi from config
`)
	cfg, err := load(path, envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Retrieval.TopK)
	assert.Equal(t, 0.7, cfg.Retrieval.MaxDistance)
	assert.Equal(t, 3*time.Second, cfg.Retrieval.SearchTimeout)
	assert.Equal(t, 4, cfg.Retrieval.MaxSelected, "unset keys keep defaults")
	assert.Equal(t, GeneratorOpenAI, cfg.Generator.Backend)
	require.NotNil(t, cfg.Generator.Params.Temperature)
	assert.InDelta(t, 0.2, *cfg.Generator.Params.Temperature, 1e-6)
	assert.Equal(t, StoreMemory, cfg.VectorStore.Backend)
	assert.Equal(t, "Hi from config", cfg.Grounding.Messages.Welcome)

	pc := cfg.PipelineConfig([]string{"hello"})
	assert.Equal(t, 8, pc.TopK)
	assert.Equal(t, 0.7, pc.Limits.MaxDistance)
	assert.Equal(t, []string{"hello"}, pc.Greetings)
	assert.Equal(t, "Hi from config", pc.Messages.Welcome)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "retrieval:\n  top_k: 8\n")
	cfg, err := load(path, envMap(map[string]string{
		"CYBERSAFE_RETRIEVAL_TOP_K":        "10",
		"CYBERSAFE_RETRIEVAL_MAX_DISTANCE": " 0.5 ",
		"CYBERSAFE_GENERATOR_TIMEOUT":      "90s",
		"CYBERSAFE_GENERATOR_BACKEND":      "openai",
		"CYBERSAFE_OPENAI_API_KEY":         "sk-test",
		"CYBERSAFE_TRACING_STDOUT":         "true",
		"CYBERSAFE_WEAVIATE_HOST":          "weaviate:8080",
	}))
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Retrieval.TopK)
	assert.Equal(t, 0.5, cfg.Retrieval.MaxDistance)
	assert.Equal(t, 90*time.Second, cfg.Generator.Timeout)
	assert.Equal(t, "sk-test", cfg.Generator.APIKey)
	assert.True(t, cfg.Tracing.Stdout)
	assert.Equal(t, "weaviate:8080", cfg.VectorStore.Host)
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
	}{
		{name: "bad env int", env: map[string]string{"CYBERSAFE_RETRIEVAL_TOP_K": "six"}, wantErr: "CYBERSAFE_RETRIEVAL_TOP_K"},
		{name: "bad env duration", env: map[string]string{"CYBERSAFE_GENERATOR_TIMEOUT": "soon"}, wantErr: "CYBERSAFE_GENERATOR_TIMEOUT"},
		{name: "malformed yaml", yaml: "retrieval: [", wantErr: "parse"},
		{name: "unknown backend", yaml: "generator:\n  backend: tgi\n", wantErr: "Backend"},
		{name: "zero max chars", yaml: "retrieval:\n  max_chars: 0\n", wantErr: "MaxChars"},
		{name: "overlap not below size", yaml: "chunking:\n  size: 50\n  overlap: 50\n", wantErr: "Overlap"},
		{name: "openai without key", yaml: "generator:\n  backend: openai\n  base_url: \"\"\n", wantErr: "CYBERSAFE_OPENAI_API_KEY"},
		{name: "max selected above top k", yaml: "retrieval:\n  top_k: 2\n", wantErr: "max_selected"},
		{name: "weaviate without host", yaml: "vector_store:\n  host: \"\"\n", wantErr: "Host"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := ""
			if tt.yaml != "" {
				path = writeFile(t, tt.yaml)
			}
			_, err := load(path, envMap(tt.env))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := load(filepath.Join(t.TempDir(), "nope.yaml"), envMap(nil))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate_JoinsAllViolations(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Retrieval.TopK = 0
	cfg.Retrieval.MaxChars = -1
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	for _, field := range []string{"TopK", "MaxChars", "Level"} {
		assert.Contains(t, err.Error(), field)
	}
}

func TestEnvNames(t *testing.T) {
	t.Parallel()
	names := EnvNames()
	assert.Contains(t, names, "CYBERSAFE_WEAVIATE_HOST")
	assert.Contains(t, names, "CYBERSAFE_RETRIEVAL_MAX_DISTANCE")
	for _, n := range names {
		assert.Regexp(t, `^CYBERSAFE_[A-Z_]+$`, n)
	}
}

func TestPromptConfig(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Grounding.Dialect = "Maltese English"
	pc := cfg.PromptConfig()
	assert.Equal(t, "Maltese English", pc.Dialect)
	assert.Equal(t, grounding.FallbackSentence, pc.Fallback)

	_, err := grounding.NewPromptBuilder(pc)
	assert.NoError(t, err)
}
