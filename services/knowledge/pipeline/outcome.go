// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import "errors"

// Terminal outcomes of a query. They label metrics and spans and are set on
// datatypes.Answer.Outcome.
const (
	OutcomeGreeting        = "greeting"
	OutcomeAnswered        = "answered"
	OutcomeGuarded         = "guarded"
	OutcomeFallback        = "fallback"
	OutcomeNoEngine        = "no_engine"
	OutcomeNoCandidates    = "no_candidates"
	OutcomeDBError         = "db_error"
	OutcomeGenerationError = "generation_error"
	// OutcomeAbandoned is only produced by Stream when the consumer stops
	// pulling before the answer is complete.
	OutcomeAbandoned = "abandoned"
)

var (
	// ErrNoGenerator is carried by answers produced while no generation
	// backend is configured.
	ErrNoGenerator = errors.New("pipeline: generation backend not configured")

	// ErrNoSearcher is carried by answers produced while no search backend
	// is configured.
	ErrNoSearcher = errors.New("pipeline: search backend not configured")
)

// Messages are the fixed user-facing strings for non-answer outcomes.
type Messages struct {
	Welcome         string `yaml:"welcome"`
	NoEngine        string `yaml:"no_engine"`
	NoKnowledgeBase string `yaml:"no_knowledge_base"`
	DBError         string `yaml:"db_error"`
	GenerationError string `yaml:"generation_error"`
}

// DefaultMessages returns the UK deployment wording.
func DefaultMessages() Messages {
	return Messages{
		Welcome: "Hello! I'm CyberSafe AI, your UK cybersecurity assistant. " +
			"Ask me about phishing, scams, ransomware, staying safe online or how to report cybercrime.",
		NoEngine:        "The local AI engine is not running. Please ensure Ollama is started.",
		NoKnowledgeBase: "The knowledge base is not available. Please ensure the vector database is running and has been populated.",
		DBError:         "Sorry, I couldn't search the knowledge base just now. Please try again in a moment.",
		GenerationError: "Sorry, I couldn't generate an answer just now. Please try again in a moment.",
	}
}

// withDefaults fills empty fields from DefaultMessages.
func (m Messages) withDefaults() Messages {
	d := DefaultMessages()
	if m.Welcome == "" {
		m.Welcome = d.Welcome
	}
	if m.NoEngine == "" {
		m.NoEngine = d.NoEngine
	}
	if m.NoKnowledgeBase == "" {
		m.NoKnowledgeBase = d.NoKnowledgeBase
	}
	if m.DBError == "" {
		m.DBError = d.DBError
	}
	if m.GenerationError == "" {
		m.GenerationError = d.GenerationError
	}
	return m
}
