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
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Verdict is the result of one guard check.
type Verdict struct {
	// Answer is what should be returned: the input answer, or the fallback
	// sentence when Overridden.
	Answer string

	// Overridden is true when the answer was replaced.
	Overridden bool

	// Terms lists the unsupported terms found, in configuration order.
	Terms []string
}

type compiledTerm struct {
	name string
	re   *regexp.Regexp
}

// Guard replaces answers that name a disallowed organisation without being
// lifted from the context.
//
// # Description
//
// Term detection is case-insensitive and anchored on word boundaries, so
// "CIA" does not fire inside "official". An answer naming a term is kept
// only when the whole answer, trimmed, appears in the context as a
// case-insensitive substring. The context merely mentioning the term
// elsewhere is not enough. Paraphrase is not analysed, so a correct answer
// may be overridden; an invented referral is not let through.
//
// # Thread Safety
//
// Guard is immutable after construction and safe for concurrent use.
type Guard struct {
	fallback string
	terms    []compiledTerm
}

// NewGuard compiles the term list.
func NewGuard(fallback string, terms []string) (*Guard, error) {
	if strings.TrimSpace(fallback) == "" {
		return nil, errors.New("grounding: guard needs a fallback sentence")
	}
	g := &Guard{fallback: fallback}
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		re, err := regexp.Compile(termPattern(term))
		if err != nil {
			return nil, fmt.Errorf("grounding: compile term %q: %w", term, err)
		}
		g.terms = append(g.terms, compiledTerm{name: term, re: re})
	}
	return g, nil
}

// Check inspects answer against context.
//
// # Inputs
//
//   - answer: Generated text.
//   - context: The exact context that was sent to the generator.
//
// # Outputs
//
//   - Verdict: Overridden with Answer set to the fallback sentence when
//     answer names any term and is not a substring of context.
func (g *Guard) Check(answer, context string) Verdict {
	var named []string
	for _, t := range g.terms {
		if t.re.MatchString(answer) {
			named = append(named, t.name)
		}
	}
	if len(named) == 0 || supportedBy(answer, context) {
		return Verdict{Answer: answer}
	}
	return Verdict{Answer: g.fallback, Overridden: true, Terms: named}
}

// supportedBy reports whether the trimmed answer occurs verbatim in
// context, ignoring case.
func supportedBy(answer, context string) bool {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return true
	}
	return strings.Contains(strings.ToLower(context), strings.ToLower(answer))
}

// termPattern builds a case-insensitive pattern for term with word
// boundaries on the sides that start or end in a word character.
func termPattern(term string) string {
	var b strings.Builder
	b.WriteString("(?i)")
	first, _ := utf8.DecodeRuneInString(term)
	last, _ := utf8.DecodeLastRuneInString(term)
	if isWordRune(first) {
		b.WriteString(`\b`)
	}
	// Internal whitespace in multi-word terms may vary in the answer.
	parts := strings.Fields(term)
	for i, p := range parts {
		if i > 0 {
			b.WriteString(`\s+`)
		}
		b.WriteString(regexp.QuoteMeta(p))
	}
	if isWordRune(last) {
		b.WriteString(`\b`)
	}
	return b.String()
}

func isWordRune(r rune) bool {
	return r == '_' || (r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r)))
}
