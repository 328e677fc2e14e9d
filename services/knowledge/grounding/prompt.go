// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package grounding builds the prompt that confines generation to retrieved
// context and checks generated answers for unsupported organisation names.
//
// The fallback sentence is the contract between the two halves: the prompt
// tells the model to reply with it verbatim when the context is not enough,
// the guard substitutes it when an answer fails the check, and the router
// recognises it to suppress citations.
package grounding

import (
	"errors"
	"fmt"
	"strings"
	"text/template"
)

// Defaults for the fixed parts of the prompt.
const (
	DefaultPersona         = "CyberSafe AI, a UK cybersecurity assistant"
	DefaultDialect         = "British English"
	DefaultReportingAdvice = "When the question involves fraud or cybercrime that has happened, recommend reporting it to Action Fraud."

	// FallbackSentence is sent whenever the knowledge base cannot support an
	// answer. It must be reproduced byte for byte.
	FallbackSentence = "I don't have enough information in my knowledge base to answer that. For official UK guidance, please visit ncsc.gov.uk."
)

const promptTemplate = `You are {{.Persona}}.

Answer the question using ONLY the information in the context below.

Rules:
- Do not add facts, statistics, phone numbers, email addresses, websites or organisation names that are not in the context.
- Write in {{.Dialect}}.
{{- if .ReportingAdvice}}
- {{.ReportingAdvice}}
{{- end}}
- If the context does not contain enough information to answer, reply with exactly the following sentence and nothing else:
{{.Fallback}}

Context:
{{.Context}}

Question: {{.Question}}

Answer:`

// PromptConfig holds the fixed, per-deployment parts of the prompt.
type PromptConfig struct {
	Persona         string
	Dialect         string
	ReportingAdvice string
	Fallback        string
}

// DefaultPromptConfig returns the UK deployment defaults.
func DefaultPromptConfig() PromptConfig {
	return PromptConfig{
		Persona:         DefaultPersona,
		Dialect:         DefaultDialect,
		ReportingAdvice: DefaultReportingAdvice,
		Fallback:        FallbackSentence,
	}
}

type promptData struct {
	PromptConfig
	Context  string
	Question string
}

// PromptBuilder renders the grounding prompt. The only per-request inputs
// are the context and the question.
//
// # Thread Safety
//
// PromptBuilder is immutable after construction and safe for concurrent use.
type PromptBuilder struct {
	cfg  PromptConfig
	tmpl *template.Template
}

// NewPromptBuilder parses the template once. Empty persona or dialect fall
// back to the defaults; an empty fallback sentence is an error because the
// guard and router depend on it.
func NewPromptBuilder(cfg PromptConfig) (*PromptBuilder, error) {
	if strings.TrimSpace(cfg.Fallback) == "" {
		return nil, errors.New("grounding: fallback sentence must not be empty")
	}
	if cfg.Persona == "" {
		cfg.Persona = DefaultPersona
	}
	if cfg.Dialect == "" {
		cfg.Dialect = DefaultDialect
	}
	tmpl, err := template.New("grounding").Option("missingkey=error").Parse(promptTemplate)
	if err != nil {
		return nil, fmt.Errorf("grounding: parse prompt template: %w", err)
	}
	return &PromptBuilder{cfg: cfg, tmpl: tmpl}, nil
}

// Fallback returns the configured fallback sentence.
func (b *PromptBuilder) Fallback() string {
	return b.cfg.Fallback
}

// Build renders the prompt for one request.
//
// # Inputs
//
//   - context: The assembled SelectionSet context. Inserted verbatim.
//   - question: The user query. Inserted verbatim.
//
// # Outputs
//
//   - string: The prompt.
//   - error: Only on template execution failure.
func (b *PromptBuilder) Build(context, question string) (string, error) {
	var sb strings.Builder
	err := b.tmpl.Execute(&sb, promptData{
		PromptConfig: b.cfg,
		Context:      context,
		Question:     question,
	})
	if err != nil {
		return "", fmt.Errorf("grounding: render prompt: %w", err)
	}
	return sb.String(), nil
}
