// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package grounding

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Prompt Builder
// =============================================================================

func TestPromptBuilder_Build(t *testing.T) {
	t.Parallel()
	b, err := NewPromptBuilder(DefaultPromptConfig())
	require.NoError(t, err)

	ctx := "Phishing emails impersonate banks.\n\nForward suspicious emails to report@phishing.gov.uk."
	prompt, err := b.Build(ctx, "What should I do with a phishing email?")
	require.NoError(t, err)

	assert.Contains(t, prompt, "You are CyberSafe AI, a UK cybersecurity assistant.")
	assert.Contains(t, prompt, "ONLY the information in the context")
	assert.Contains(t, prompt, "British English")
	assert.Contains(t, prompt, "Action Fraud")
	assert.Contains(t, prompt, "Context:\n"+ctx+"\n")
	assert.Contains(t, prompt, "Question: What should I do with a phishing email?")
	assert.Contains(t, prompt, FallbackSentence, "fallback sentence must appear verbatim")
	assert.True(t, strings.HasSuffix(prompt, "Answer:"))
}

func TestPromptBuilder_InsertsSlotsVerbatim(t *testing.T) {
	t.Parallel()
	b, err := NewPromptBuilder(DefaultPromptConfig())
	require.NoError(t, err)

	// Template syntax inside user input must not be interpreted.
	prompt, err := b.Build("{{.Persona}} <b>&</b>", "{{.Fallback}}?")
	require.NoError(t, err)
	assert.Contains(t, prompt, "Context:\n{{.Persona}} <b>&</b>\n")
	assert.Contains(t, prompt, "Question: {{.Fallback}}?")
}

func TestPromptBuilder_CustomConfig(t *testing.T) {
	t.Parallel()
	b, err := NewPromptBuilder(PromptConfig{
		Persona:  "a Maltese cyber helper",
		Dialect:  "plain English",
		Fallback: "No idea.",
	})
	require.NoError(t, err)
	prompt, err := b.Build("ctx", "q")
	require.NoError(t, err)
	assert.Contains(t, prompt, "You are a Maltese cyber helper.")
	assert.Contains(t, prompt, "plain English")
	assert.NotContains(t, prompt, "Action Fraud")
	assert.Equal(t, "No idea.", b.Fallback())
}

func TestNewPromptBuilder_RequiresFallback(t *testing.T) {
	t.Parallel()
	_, err := NewPromptBuilder(PromptConfig{Fallback: "  "})
	assert.Error(t, err)
}

// =============================================================================
// Guard
// =============================================================================

func newTestGuard(t *testing.T) *Guard {
	t.Helper()
	vocab, err := DefaultVocabulary()
	require.NoError(t, err)
	g, err := NewGuard(FallbackSentence, vocab.Terms())
	require.NoError(t, err)
	return g
}

func TestGuard_Check(t *testing.T) {
	t.Parallel()
	g := newTestGuard(t)

	tests := []struct {
		name      string
		answer    string
		context   string
		overrides bool
		terms     []string
	}{
		{
			name:      "unsupported agency is overridden",
			answer:    "You should report this to Interpol.",
			context:   "Report fraud to Action Fraud.",
			overrides: true,
			terms:     []string{"Interpol"},
		},
		{
			name:    "answer lifted from context passes",
			answer:  "the FBI run joint operations",
			context: "The NCA and the FBI run joint operations.",
		},
		{
			name:    "lifted answer ignores case and outer space",
			answer:  "  THE NCA AND THE FBI RUN JOINT OPERATIONS.\n",
			context: "The NCA and the FBI run joint operations.",
		},
		{
			name:      "term mentioned in an unrelated sentence",
			answer:    "You should report this phishing email directly to the FBI cyber division.",
			context:   "Phishing emails sometimes impersonate the FBI. Report them to report@phishing.gov.uk.",
			overrides: true,
			terms:     []string{"FBI"},
		},
		{
			name:      "context naming the same agency is not enough",
			answer:    "The FBI works with UK police on this.",
			context:   "The NCA and the FBI run joint operations.",
			overrides: true,
			terms:     []string{"FBI"},
		},
		{
			name:      "case insensitive",
			answer:    "contact the fbi",
			context:   "nothing relevant",
			overrides: true,
			terms:     []string{"FBI"},
		},
		{
			name:    "no substring false positive",
			answer:  "The official social media account is verified.",
			context: "unrelated",
		},
		{
			name:      "multiple terms reported in order",
			answer:    "Europol and Interpol both help.",
			context:   "",
			overrides: true,
			terms:     []string{"Interpol", "Europol"},
		},
		{
			name:      "multi-word term with odd spacing",
			answer:    "Tell the Secret\n Service.",
			context:   "",
			overrides: true,
			terms:     []string{"Secret Service"},
		},
		{
			name:    "clean answer",
			answer:  "Report it to Action Fraud on 0300 123 2040.",
			context: "Report it to Action Fraud on 0300 123 2040.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := g.Check(tt.answer, tt.context)
			assert.Equal(t, tt.overrides, v.Overridden)
			if tt.overrides {
				assert.Equal(t, FallbackSentence, v.Answer)
				assert.Equal(t, tt.terms, v.Terms)
			} else {
				assert.Equal(t, tt.answer, v.Answer)
				assert.Empty(t, v.Terms)
			}
		})
	}
}

func TestGuard_EmptyTermListPassesEverything(t *testing.T) {
	t.Parallel()
	g, err := NewGuard("fallback", nil)
	require.NoError(t, err)
	v := g.Check("Interpol", "")
	assert.False(t, v.Overridden)
}

func TestNewGuard_RequiresFallback(t *testing.T) {
	t.Parallel()
	_, err := NewGuard("", []string{"FBI"})
	assert.Error(t, err)
}

// =============================================================================
// Vocabulary
// =============================================================================

func TestDefaultVocabulary(t *testing.T) {
	t.Parallel()
	v, err := DefaultVocabulary()
	require.NoError(t, err)
	assert.Contains(t, v.Greetings, "hello")
	assert.Contains(t, v.Greetings, "good morning")
	assert.Contains(t, v.Terms(), "Interpol")
	for _, g := range v.Greetings {
		assert.Equal(t, strings.ToLower(g), g, "greetings are stored normalised")
	}
}

func TestParseVocabulary_Errors(t *testing.T) {
	t.Parallel()
	_, err := ParseVocabulary([]byte("greetings: [\"\"]"))
	assert.Error(t, err)
	_, err = ParseVocabulary([]byte("disallowed_terms:\n  - term: \" \""))
	assert.Error(t, err)
	_, err = ParseVocabulary([]byte("greetings: {not: a list}"))
	assert.Error(t, err)
}
