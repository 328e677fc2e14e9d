// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline routes a question through retrieval, filtering, grounded
// generation and the hallucination guard.
//
// # State Machine
//
//	GREETING_SHORTCUT ─► RETRIEVE ─► FILTER ─► PROMPT ─► GENERATE ─► GUARD ─► FINALIZE
//	       │                │           │                    │
//	       ▼                ▼           ▼                    ▼
//	    welcome          DB_ERROR  NO_CANDIDATES      GENERATION_ERROR
//
// NO_ENGINE short-circuits before RETRIEVE when a backend is missing. Every
// path ends in a well-formed datatypes.Answer; no fault escapes as an error.
//
// # Streaming
//
// Stream runs the same stages up to PROMPT, then forwards generation
// fragments as they arrive. The guard needs the whole answer, so it does not
// run on the streaming path and streamed answers carry no sources.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/AleutianAI/cybersafe/services/knowledge/datatypes"
	"github.com/AleutianAI/cybersafe/services/knowledge/grounding"
	"github.com/AleutianAI/cybersafe/services/knowledge/observability"
	"github.com/AleutianAI/cybersafe/services/knowledge/retrieval"
	"github.com/AleutianAI/cybersafe/services/knowledge/vectorstore"
	"github.com/AleutianAI/cybersafe/services/llm"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("cybersafe.knowledge.pipeline")

// =============================================================================
// Configuration
// =============================================================================

// Config holds the read-only pipeline settings.
type Config struct {
	// TopK is how many candidates are requested from search.
	TopK int

	// Limits bound the relevance filter.
	Limits retrieval.Limits

	// SearchTimeout bounds one similarity search call.
	SearchTimeout time.Duration

	// GenerationTimeout bounds one generation call. For Stream it bounds
	// the whole stream.
	GenerationTimeout time.Duration

	// MinQueryTokens routes queries with fewer words to the welcome message.
	MinQueryTokens int

	// Greetings is the fixed greeting vocabulary.
	Greetings []string

	// Messages are the user-facing strings for non-answer outcomes.
	Messages Messages
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		TopK:              6,
		Limits:            retrieval.Limits{MaxDistance: 1.0, MaxSelected: 4, MaxChars: 2000},
		SearchTimeout:     10 * time.Second,
		GenerationTimeout: 60 * time.Second,
		MinQueryTokens:    1,
		Messages:          DefaultMessages(),
	}
}

// Deps are the collaborators injected into the pipeline. Searcher and
// Generator may be nil, in which case queries end in NO_ENGINE.
type Deps struct {
	Searcher  vectorstore.Searcher
	Generator llm.Generator
	Prompt    *grounding.PromptBuilder
	Guard     *grounding.Guard
	Metrics   *observability.Metrics
	Logger    *slog.Logger
}

// =============================================================================
// Pipeline
// =============================================================================

// Pipeline answers questions from the knowledge base.
//
// # Thread Safety
//
// Pipeline holds no per-request state and is safe for concurrent use.
type Pipeline struct {
	cfg       Config
	msgs      Messages
	greetings greetingMatcher
	searcher  vectorstore.Searcher
	generator llm.Generator
	prompt    *grounding.PromptBuilder
	guard     *grounding.Guard
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// New validates cfg and wires the pipeline.
//
// # Inputs
//
//   - cfg: Settings. Non-positive TopK or timeouts fall back to
//     DefaultConfig values with a warning.
//   - deps: Prompt and Guard are required. Metrics and Logger are optional.
//
// # Outputs
//
//   - *Pipeline: Ready pipeline.
//   - error: Non-nil when a required dependency is missing or the filter
//     limits are unusable.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Prompt == nil {
		return nil, errors.New("pipeline: prompt builder is required")
	}
	if deps.Guard == nil {
		return nil, errors.New("pipeline: guard is required")
	}
	cfg = applyConfigDefaults(cfg)
	if err := cfg.Limits.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:       cfg,
		msgs:      cfg.Messages.withDefaults(),
		greetings: newGreetingMatcher(cfg.Greetings, cfg.MinQueryTokens),
		searcher:  deps.Searcher,
		generator: deps.Generator,
		prompt:    deps.Prompt,
		guard:     deps.Guard,
		metrics:   deps.Metrics,
		logger:    logger,
	}, nil
}

func applyConfigDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.TopK <= 0 {
		slog.Warn("Invalid TopK config, using default", "provided", cfg.TopK, "default", defaults.TopK)
		cfg.TopK = defaults.TopK
	}
	if cfg.SearchTimeout <= 0 {
		slog.Warn("Invalid SearchTimeout config, using default",
			"provided", cfg.SearchTimeout, "default", defaults.SearchTimeout)
		cfg.SearchTimeout = defaults.SearchTimeout
	}
	if cfg.GenerationTimeout <= 0 {
		slog.Warn("Invalid GenerationTimeout config, using default",
			"provided", cfg.GenerationTimeout, "default", defaults.GenerationTimeout)
		cfg.GenerationTimeout = defaults.GenerationTimeout
	}
	if cfg.MinQueryTokens < 0 {
		cfg.MinQueryTokens = 0
	}
	return cfg
}

// Fallback returns the insufficient-information sentence.
func (p *Pipeline) Fallback() string {
	return p.prompt.Fallback()
}

// Ready reports which backends are configured.
func (p *Pipeline) Ready() (searcher, generator bool) {
	return p.searcher != nil, p.generator != nil
}

// preparation is the result of the stages shared by both entry points.
type preparation struct {
	selection datatypes.SelectionSet
	prompt    string
}

// Answer runs the full blocking pipeline.
//
// # Description
//
// The returned Answer always has Text set. Sources is empty unless the
// outcome is OutcomeAnswered, in which case it lists one Source per distinct
// URL among the passages that formed the context, in first-seen order.
//
// # Inputs
//
//   - ctx: Parent context. Stage timeouts are derived from it.
//   - req: The question. Region is logged only.
//
// # Outputs
//
//   - datatypes.Answer: Outcome names the terminal state; Err carries the
//     underlying fault for error outcomes.
//
// # Examples
//
//	ans := p.Answer(ctx, datatypes.QueryRequest{Query: "How do I spot a phishing email?"})
//	fmt.Println(ans.Text, ans.Sources)
func (p *Pipeline) Answer(ctx context.Context, req datatypes.QueryRequest) datatypes.Answer {
	start := time.Now()
	queryID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "Pipeline.Answer", trace.WithAttributes(
		attribute.String("query.id", queryID),
		attribute.Int("query.chars", len(req.Query)),
		attribute.String("query.region", req.Region),
	))
	defer span.End()
	logger := p.logger.With("query_id", queryID)

	ans := p.answer(ctx, req, logger)

	span.SetAttributes(
		attribute.String("query.outcome", ans.Outcome),
		attribute.Int("response.sources_count", len(ans.Sources)),
	)
	if ans.Err != nil {
		span.RecordError(ans.Err)
		span.SetStatus(codes.Error, ans.Outcome)
	}
	elapsed := time.Since(start)
	p.metrics.RecordQuery(observability.ModeBlocking, ans.Outcome, elapsed)
	logger.Info("Query answered",
		"outcome", ans.Outcome,
		"sources", len(ans.Sources),
		"duration_ms", elapsed.Milliseconds(),
	)
	return ans
}

func (p *Pipeline) answer(ctx context.Context, req datatypes.QueryRequest, logger *slog.Logger) datatypes.Answer {
	prep, early := p.prepare(ctx, req, logger)
	if early != nil {
		return *early
	}

	genStart := time.Now()
	genCtx, cancel := context.WithTimeout(ctx, p.cfg.GenerationTimeout)
	raw, err := p.generator.Generate(genCtx, prep.prompt)
	cancel()
	p.metrics.ObserveStage(observability.StageGenerate, time.Since(genStart))
	if err != nil {
		logger.Error("Generation failed", "error", err)
		return datatypes.Answer{
			Text:    p.msgs.GenerationError,
			Sources: []datatypes.Source{},
			Outcome: OutcomeGenerationError,
			Err:     fmt.Errorf("generate: %w", err),
		}
	}

	text := strings.TrimSpace(raw)
	if text == "" {
		logger.Warn("Generator returned an empty answer, using fallback")
		text = p.Fallback()
	}

	guardStart := time.Now()
	verdict := p.guard.Check(text, prep.selection.Context)
	p.metrics.ObserveStage(observability.StageGuard, time.Since(guardStart))
	if verdict.Overridden {
		p.metrics.RecordGuardOverride(verdict.Terms)
		logger.Warn("Answer replaced by guard", "terms", verdict.Terms)
		return datatypes.Answer{Text: verdict.Answer, Sources: []datatypes.Source{}, Outcome: OutcomeGuarded}
	}

	return p.finalize(text, prep.selection)
}

// finalize attaches sources unless the answer is the fallback sentence.
func (p *Pipeline) finalize(text string, selection datatypes.SelectionSet) datatypes.Answer {
	if text == p.Fallback() {
		return datatypes.Answer{Text: text, Sources: []datatypes.Source{}, Outcome: OutcomeFallback}
	}
	return datatypes.Answer{Text: text, Sources: selection.Sources(), Outcome: OutcomeAnswered}
}

// prepare runs GREETING_SHORTCUT through PROMPT. A non-nil Answer is an
// early exit.
func (p *Pipeline) prepare(ctx context.Context, req datatypes.QueryRequest, logger *slog.Logger) (preparation, *datatypes.Answer) {
	logger.Info("Processing query", "query_chars", len(req.Query), "region", req.Region)

	if p.greetings.matches(req.Query) {
		return preparation{}, &datatypes.Answer{Text: p.msgs.Welcome, Sources: []datatypes.Source{}, Outcome: OutcomeGreeting}
	}
	if p.generator == nil {
		logger.Warn("No generation backend configured")
		return preparation{}, &datatypes.Answer{
			Text: p.msgs.NoEngine, Sources: []datatypes.Source{}, Outcome: OutcomeNoEngine, Err: ErrNoGenerator,
		}
	}
	if p.searcher == nil {
		logger.Warn("No search backend configured")
		return preparation{}, &datatypes.Answer{
			Text: p.msgs.NoKnowledgeBase, Sources: []datatypes.Source{}, Outcome: OutcomeNoEngine, Err: ErrNoSearcher,
		}
	}

	candidates, err := p.retrieve(ctx, req.Query)
	if err != nil {
		logger.Error("Knowledge base search failed", "error", err)
		return preparation{}, &datatypes.Answer{
			Text: p.msgs.DBError, Sources: []datatypes.Source{}, Outcome: OutcomeDBError, Err: err,
		}
	}

	filterStart := time.Now()
	selection := retrieval.Filter(candidates, p.cfg.Limits)
	p.metrics.ObserveStage(observability.StageFilter, time.Since(filterStart))
	p.metrics.RecordSelection(len(candidates), len(selection.Candidates), len([]rune(selection.Context)))
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int("retrieval.candidates", len(candidates)),
		attribute.Int("retrieval.selected", len(selection.Candidates)),
	)
	if selection.Empty() {
		logger.Info("No candidate passed the relevance filter", "candidates", len(candidates))
		return preparation{}, &datatypes.Answer{Text: p.Fallback(), Sources: []datatypes.Source{}, Outcome: OutcomeNoCandidates}
	}

	prompt, err := p.prompt.Build(selection.Context, req.Query)
	if err != nil {
		logger.Error("Prompt rendering failed", "error", err)
		return preparation{}, &datatypes.Answer{
			Text: p.msgs.GenerationError, Sources: []datatypes.Source{}, Outcome: OutcomeGenerationError, Err: err,
		}
	}
	return preparation{selection: selection, prompt: prompt}, nil
}

func (p *Pipeline) retrieve(ctx context.Context, query string) ([]datatypes.RetrievalCandidate, error) {
	start := time.Now()
	searchCtx, cancel := context.WithTimeout(ctx, p.cfg.SearchTimeout)
	defer cancel()
	candidates, err := p.searcher.Search(searchCtx, query, p.cfg.TopK)
	p.metrics.ObserveStage(observability.StageRetrieve, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return candidates, nil
}

// Stream runs the pipeline and yields the answer text as it is generated.
//
// # Description
//
// Nothing runs until the first pull. Early exits (greeting, missing
// backend, search failure, no relevant passage) yield their single message.
// A generation fault before any fragment yields the generation advisory; a
// fault after fragments were delivered ends the sequence. When the consumer
// stops ranging, the generation context is cancelled and the backend
// connection is released before the sequence function returns. Leading and
// trailing whitespace of the whole answer is dropped, as in Answer.
//
// # Outputs
//
//   - iter.Seq[string]: Single-use, finite sequence of text fragments.
//
// # Limitations
//
//   - The hallucination guard is not applied.
//   - Sources are not delivered on this path.
func (p *Pipeline) Stream(ctx context.Context, req datatypes.QueryRequest) iter.Seq[string] {
	return func(yield func(string) bool) {
		start := time.Now()
		queryID := uuid.NewString()
		ctx, span := tracer.Start(ctx, "Pipeline.Stream", trace.WithAttributes(
			attribute.String("query.id", queryID),
			attribute.Int("query.chars", len(req.Query)),
		))
		defer span.End()
		logger := p.logger.With("query_id", queryID, "mode", "stream")

		outcome, err := p.stream(ctx, req, logger, yield)

		span.SetAttributes(attribute.String("query.outcome", outcome))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		elapsed := time.Since(start)
		p.metrics.RecordQuery(observability.ModeStream, outcome, elapsed)
		logger.Info("Stream finished", "outcome", outcome, "duration_ms", elapsed.Milliseconds())
	}
}

func (p *Pipeline) stream(ctx context.Context, req datatypes.QueryRequest, logger *slog.Logger, yield func(string) bool) (string, error) {
	prep, early := p.prepare(ctx, req, logger)
	if early != nil {
		yield(early.Text)
		return early.Outcome, early.Err
	}

	genCtx, cancel := context.WithTimeout(ctx, p.cfg.GenerationTimeout)
	defer cancel()

	genStart := time.Now()
	defer func() { p.metrics.ObserveStage(observability.StageGenerate, time.Since(genStart)) }()

	// Trailing whitespace is held back until more text follows, so the
	// joined stream equals the trimmed blocking answer.
	emitted := 0
	var pending string
	for fragment, err := range p.generator.GenerateStream(genCtx, prep.prompt) {
		if err != nil {
			logger.Error("Streaming generation failed", "error", err, "fragments", emitted)
			if emitted == 0 {
				yield(p.msgs.GenerationError)
			}
			return OutcomeGenerationError, err
		}
		if emitted == 0 {
			fragment = strings.TrimLeftFunc(fragment, unicode.IsSpace)
		}
		body := strings.TrimRightFunc(fragment, unicode.IsSpace)
		if body == "" {
			pending += fragment
			continue
		}
		emitted++
		p.metrics.RecordFragment()
		if !yield(pending + body) {
			return OutcomeAbandoned, nil
		}
		pending = fragment[len(body):]
	}
	if emitted == 0 {
		yield(p.Fallback())
		return OutcomeFallback, nil
	}
	return OutcomeAnswered, nil
}
