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
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CYBERSAFE_"

var configValidate = validator.New(validator.WithRequiredStructEnabled())

// Load builds the configuration from defaults, the optional YAML file at
// path and the process environment.
//
// # Inputs
//
//   - path: YAML file. Empty skips the file; a missing file is an error.
//
// # Outputs
//
//   - Config: Validated configuration.
//   - error: Read, parse, override or validation failure.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read the config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse the config file %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks struct tags and cross-field rules. All violations are
// returned together.
func (c Config) Validate() error {
	var errs []error
	if err := configValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("config: %w", err)
		}
		for _, fe := range verrs {
			errs = append(errs, fmt.Errorf("config: %s fails %q (value %v)", fe.Namespace(), tagWithParam(fe), fe.Value()))
		}
	}
	if c.Generator.Backend == GeneratorOpenAI && c.Generator.APIKey == "" && c.Generator.BaseURL == "" {
		errs = append(errs, errors.New("config: generator.backend openai needs CYBERSAFE_OPENAI_API_KEY or generator.base_url"))
	}
	if c.Retrieval.MaxSelected > c.Retrieval.TopK {
		errs = append(errs, fmt.Errorf("config: retrieval.max_selected (%d) exceeds retrieval.top_k (%d)",
			c.Retrieval.MaxSelected, c.Retrieval.TopK))
	}
	return errors.Join(errs...)
}

func tagWithParam(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

// envBinding maps one variable (without prefix) onto a field.
type envBinding struct {
	name  string
	apply func(cfg *Config, raw string) error
}

func stringVar(dst func(*Config) *string) func(*Config, string) error {
	return func(cfg *Config, raw string) error {
		*dst(cfg) = raw
		return nil
	}
}

func intVar(dst func(*Config) *int) func(*Config, string) error {
	return func(cfg *Config, raw string) error {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		*dst(cfg) = v
		return nil
	}
}

func floatVar(dst func(*Config) *float64) func(*Config, string) error {
	return func(cfg *Config, raw string) error {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		*dst(cfg) = v
		return nil
	}
}

func durationVar(dst func(*Config) *time.Duration) func(*Config, string) error {
	return func(cfg *Config, raw string) error {
		v, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		*dst(cfg) = v
		return nil
	}
}

func boolVar(dst func(*Config) *bool) func(*Config, string) error {
	return func(cfg *Config, raw string) error {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		*dst(cfg) = v
		return nil
	}
}

var envBindings = []envBinding{
	{"SERVER_ADDR", stringVar(func(c *Config) *string { return &c.Server.Addr })},
	{"RETRIEVAL_TOP_K", intVar(func(c *Config) *int { return &c.Retrieval.TopK })},
	{"RETRIEVAL_MAX_DISTANCE", floatVar(func(c *Config) *float64 { return &c.Retrieval.MaxDistance })},
	{"RETRIEVAL_MAX_SELECTED", intVar(func(c *Config) *int { return &c.Retrieval.MaxSelected })},
	{"RETRIEVAL_MAX_CHARS", intVar(func(c *Config) *int { return &c.Retrieval.MaxChars })},
	{"RETRIEVAL_SEARCH_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.Retrieval.SearchTimeout })},
	{"GROUNDING_MIN_QUERY_TOKENS", intVar(func(c *Config) *int { return &c.Grounding.MinQueryTokens })},
	{"GENERATOR_BACKEND", stringVar(func(c *Config) *string { return &c.Generator.Backend })},
	{"GENERATOR_BASE_URL", stringVar(func(c *Config) *string { return &c.Generator.BaseURL })},
	{"GENERATOR_MODEL", stringVar(func(c *Config) *string { return &c.Generator.Model })},
	{"GENERATOR_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.Generator.Timeout })},
	{"OPENAI_API_KEY", stringVar(func(c *Config) *string { return &c.Generator.APIKey })},
	{"EMBEDDING_MODEL", stringVar(func(c *Config) *string { return &c.Embedding.Model })},
	{"EMBEDDING_BASE_URL", stringVar(func(c *Config) *string { return &c.Embedding.BaseURL })},
	{"VECTOR_STORE_BACKEND", stringVar(func(c *Config) *string { return &c.VectorStore.Backend })},
	{"WEAVIATE_SCHEME", stringVar(func(c *Config) *string { return &c.VectorStore.Scheme })},
	{"WEAVIATE_HOST", stringVar(func(c *Config) *string { return &c.VectorStore.Host })},
	{"WEAVIATE_CLASS", stringVar(func(c *Config) *string { return &c.VectorStore.Class })},
	{"WEAVIATE_API_KEY", stringVar(func(c *Config) *string { return &c.VectorStore.APIKey })},
	{"DATA_JSON_PATH", stringVar(func(c *Config) *string { return &c.Data.JSONPath })},
	{"DATA_REGION", stringVar(func(c *Config) *string { return &c.Data.Region })},
	{"LOG_LEVEL", stringVar(func(c *Config) *string { return &c.Logging.Level })},
	{"LOG_FORMAT", stringVar(func(c *Config) *string { return &c.Logging.Format })},
	{"LOG_DIR", stringVar(func(c *Config) *string { return &c.Logging.Dir })},
	{"TRACING_ENDPOINT", stringVar(func(c *Config) *string { return &c.Tracing.Endpoint })},
	{"TRACING_STDOUT", boolVar(func(c *Config) *bool { return &c.Tracing.Stdout })},
}

// EnvNames lists every recognised environment variable.
func EnvNames() []string {
	names := make([]string, len(envBindings))
	for i, b := range envBindings {
		names[i] = EnvPrefix + b.name
	}
	return names
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	for _, b := range envBindings {
		raw, ok := lookup(EnvPrefix + b.name)
		if !ok {
			continue
		}
		raw = strings.TrimSpace(raw)
		if err := b.apply(cfg, raw); err != nil {
			errs = append(errs, fmt.Errorf("config: %s%s=%q: %w", EnvPrefix, b.name, raw, err))
		}
	}
	return errors.Join(errs...)
}
